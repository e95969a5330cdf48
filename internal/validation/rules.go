package validation

import (
	"context"
	"fmt"

	"dealguard/internal/config"
	"dealguard/internal/domain"
	"dealguard/internal/query"
)

// QuoteDependencyRule denies while any quote references the target.
type QuoteDependencyRule struct {
	Message string
}

func (QuoteDependencyRule) Name() string { return config.RuleQuoteDependency }

func (r QuoteDependencyRule) Evaluate(ctx context.Context, store RecordStore, target domain.EntityReference) (*Denial, error) {
	quotes, err := store.Query(ctx, query.Where(domain.EntityQuote, "opportunity_id", target.ID).Limit(1))
	if err != nil {
		return nil, err
	}
	if len(quotes) == 0 {
		return nil, nil
	}
	return &Denial{Class: HasDependentChildren, Message: r.Message}, nil
}

// WonStatusRule denies when the target's status equals WonStatus.
type WonStatusRule struct {
	WonStatus string
	Message   string
}

func (WonStatusRule) Name() string { return config.RuleWonStatus }

func (r WonStatusRule) Evaluate(ctx context.Context, store RecordStore, target domain.EntityReference) (*Denial, error) {
	rows, err := store.Query(ctx, query.Where(target.LogicalName, "id", target.ID).Select("status").Limit(1))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || rows[0].String("status") != r.WonStatus {
		return nil, nil
	}
	return &Denial{Class: InvalidStateForDeletion, Message: r.Message}, nil
}

// ActiveContractRule denies when the target's parent account has a contract
// in one of ActiveStates. Targets without an account always pass.
type ActiveContractRule struct {
	ActiveStates []string
	Message      string
}

func (ActiveContractRule) Name() string { return config.RuleActiveContract }

func (r ActiveContractRule) Evaluate(ctx context.Context, store RecordStore, target domain.EntityReference) (*Denial, error) {
	rows, err := store.Query(ctx, query.Where(target.LogicalName, "id", target.ID).Select("account_id").Limit(1))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	accountID := rows[0].String("account_id")
	if accountID == "" {
		return nil, nil
	}
	states := make([]any, 0, len(r.ActiveStates))
	for _, st := range r.ActiveStates {
		states = append(states, st)
	}
	contracts, err := store.Query(ctx, query.Where(domain.EntityContract, "account_id", accountID).
		And("state", query.In, states...).
		Limit(1))
	if err != nil {
		return nil, err
	}
	if len(contracts) == 0 {
		return nil, nil
	}
	return &Denial{Class: BlockedByRelatedActiveRecord, Message: r.Message}, nil
}

// RulesFromConfig builds the enabled rules in configured order.
func RulesFromConfig(cfg config.RulesConfig) ([]Rule, error) {
	rules := make([]Rule, 0, len(cfg.Enabled))
	for _, name := range cfg.Enabled {
		switch name {
		case config.RuleQuoteDependency:
			rules = append(rules, QuoteDependencyRule{Message: cfg.Message(name)})
		case config.RuleWonStatus:
			rules = append(rules, WonStatusRule{WonStatus: cfg.WonStatus, Message: cfg.Message(name)})
		case config.RuleActiveContract:
			rules = append(rules, ActiveContractRule{ActiveStates: cfg.ActiveContractStates, Message: cfg.Message(name)})
		default:
			return nil, fmt.Errorf("unknown rule %s", name)
		}
	}
	return rules, nil
}

// FromConfig builds a Service for the configured entity.
func FromConfig(cfg config.RulesConfig, store RecordStore) (Service, error) {
	rules, err := RulesFromConfig(cfg)
	if err != nil {
		return Service{}, err
	}
	return NewService(cfg.Entity, store, rules...), nil
}
