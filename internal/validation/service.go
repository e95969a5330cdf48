// Package validation decides whether a record may be deleted. Rules run in
// registration order against a read-only record store and the first denial
// wins. The package never writes to the store.
package validation

import (
	"context"
	"fmt"

	"dealguard/internal/domain"
	"dealguard/internal/query"
)

// ReasonClass names the family a denial belongs to.
type ReasonClass string

const (
	HasDependentChildren         ReasonClass = "HasDependentChildren"
	InvalidStateForDeletion      ReasonClass = "InvalidStateForDeletion"
	BlockedByRelatedActiveRecord ReasonClass = "BlockedByRelatedActiveRecord"
)

// RecordStore is the read capability rules are given.
type RecordStore interface {
	Query(ctx context.Context, expr query.Expression) ([]domain.Entity, error)
}

// Rule is a named, side-effect-free check. A nil Denial means the rule is
// satisfied.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, store RecordStore, target domain.EntityReference) (*Denial, error)
}

type Denial struct {
	Class   ReasonClass
	Message string
}

// Result is the outcome of one validation. Reason and Class are set iff
// Allowed is false.
type Result struct {
	Allowed bool        `json:"allowed"`
	Reason  string      `json:"reason,omitempty"`
	Class   ReasonClass `json:"reason_class,omitempty"`
	Rule    string      `json:"rule,omitempty"`
}

func allowed() Result {
	return Result{Allowed: true}
}

// InfrastructureError reports that a rule could not reach a decision.
type InfrastructureError struct {
	Rule string
	Err  error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("rule %s: record store query failed: %v", e.Rule, e.Err)
}

func (e *InfrastructureError) Unwrap() error { return e.Err }

// Service evaluates the registered rules for records of one entity type.
type Service struct {
	Entity string
	Store  RecordStore
	rules  []Rule
}

// NewService constructs a service for entity backed by store.
func NewService(entity string, store RecordStore, rules ...Rule) Service {
	return Service{Entity: entity, Store: store, rules: append([]Rule(nil), rules...)}
}

// Register returns a copy of the service with rule appended to the chain.
func (s Service) Register(rule Rule) Service {
	rules := make([]Rule, 0, len(s.rules)+1)
	rules = append(rules, s.rules...)
	s.rules = append(rules, rule)
	return s
}

// Rules returns the rule names in evaluation order.
func (s Service) Rules() []string {
	names := make([]string, 0, len(s.rules))
	for _, r := range s.rules {
		names = append(names, r.Name())
	}
	return names
}

// Validate runs the rule chain for targetID. The caller is responsible for
// only passing ids of the service's entity type. A store failure is returned
// as *InfrastructureError and never reported as a denial.
func (s Service) Validate(ctx context.Context, targetID string) (Result, error) {
	target := domain.EntityReference{LogicalName: s.Entity, ID: targetID}
	for _, rule := range s.rules {
		denial, err := rule.Evaluate(ctx, s.Store, target)
		if err != nil {
			return Result{}, &InfrastructureError{Rule: rule.Name(), Err: err}
		}
		if denial != nil {
			return Result{
				Allowed: false,
				Reason:  denial.Message,
				Class:   denial.Class,
				Rule:    rule.Name(),
			}, nil
		}
	}
	return allowed(), nil
}
