package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"dealguard/internal/domain"
	"dealguard/internal/events"
	"dealguard/internal/pipeline"
	"dealguard/internal/repo"
	"dealguard/internal/validation"
)

type OpportunityCreateOptions struct {
	ID        string
	Name      string
	AccountID string
	Status    string
	ActorID   string
}

func (e Engine) CreateOpportunity(ctx context.Context, opts OpportunityCreateOptions) (domain.Opportunity, error) {
	if opts.Name == "" {
		return domain.Opportunity{}, errors.New("name is required")
	}
	if opts.Status == "" {
		opts.Status = domain.OpportunityOpen
	}
	if err := ensureOpportunityStatus(opts.Status); err != nil {
		return domain.Opportunity{}, err
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	} else if _, err := uuid.Parse(id); err != nil {
		return domain.Opportunity{}, fmt.Errorf("invalid opportunity id %q", id)
	}
	now := e.timestamp()
	o := domain.Opportunity{ID: id, Name: opts.Name, Status: opts.Status, CreatedAt: now, UpdatedAt: now}
	if opts.AccountID != "" {
		if _, err := e.Repo.GetAccount(ctx, opts.AccountID); err != nil {
			return domain.Opportunity{}, fmt.Errorf("account %s: %w", opts.AccountID, err)
		}
		acct := opts.AccountID
		o.AccountID = &acct
	}
	ev := e.event(pipeline.Create, opportunityEntity(o), opts.ActorID)
	if err := e.Pipeline.RunStages(ctx, ev, preStages...); err != nil {
		return domain.Opportunity{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Opportunity{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertOpportunity(ctx, tx, o); err != nil {
		return domain.Opportunity{}, fmt.Errorf("insert opportunity: %w", err)
	}
	if err := e.writer().Append(ctx, tx, events.OpportunityCreated, domain.EntityOpportunity, o.ID, opts.ActorID, events.EventPayload{
		"name":       o.Name,
		"status":     o.Status,
		"account_id": o.AccountID,
	}); err != nil {
		return domain.Opportunity{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Opportunity{}, err
	}
	return o, e.Pipeline.RunStages(ctx, ev, pipeline.PostOperation)
}

// OpportunityUpdateOptions carries the fields to change; nil leaves a field
// as is and an empty AccountID clears the account.
type OpportunityUpdateOptions struct {
	ID        string
	Name      *string
	AccountID *string
	Status    *string
	ActorID   string
}

func (e Engine) UpdateOpportunity(ctx context.Context, opts OpportunityUpdateOptions) (domain.Opportunity, error) {
	o, err := e.Repo.GetOpportunity(ctx, opts.ID)
	if err != nil {
		return o, err
	}
	original := o
	if opts.Name != nil {
		if *opts.Name == "" {
			return o, errors.New("name is required")
		}
		o.Name = *opts.Name
	}
	if opts.Status != nil {
		if err := ensureOpportunityStatus(*opts.Status); err != nil {
			return o, err
		}
		o.Status = *opts.Status
	}
	if opts.AccountID != nil {
		if *opts.AccountID == "" {
			o.AccountID = nil
		} else {
			if _, err := e.Repo.GetAccount(ctx, *opts.AccountID); err != nil {
				return o, fmt.Errorf("account %s: %w", *opts.AccountID, err)
			}
			acct := *opts.AccountID
			o.AccountID = &acct
		}
	}
	o.UpdatedAt = e.timestamp()
	ev := e.event(pipeline.Update, opportunityEntity(o), opts.ActorID)
	if err := e.Pipeline.RunStages(ctx, ev, preStages...); err != nil {
		return original, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return original, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateOpportunity(ctx, tx, o); err != nil {
		return original, err
	}
	if err := e.writer().Append(ctx, tx, events.OpportunityUpdated, domain.EntityOpportunity, o.ID, opts.ActorID, events.EventPayload{
		"from_status": original.Status,
		"to_status":   o.Status,
		"account_id":  o.AccountID,
	}); err != nil {
		return original, err
	}
	if err := tx.Commit(); err != nil {
		return original, err
	}
	return o, e.Pipeline.RunStages(ctx, ev, pipeline.PostOperation)
}

// DeleteOpportunity removes the opportunity unless a pre-stage plugin aborts.
// A blocked attempt is recorded in the event log and the abort is returned.
func (e Engine) DeleteOpportunity(ctx context.Context, id, actorID string) error {
	if _, err := e.Repo.GetOpportunity(ctx, id); err != nil {
		return err
	}
	ev := e.event(pipeline.Delete, domain.EntityReference{LogicalName: domain.EntityOpportunity, ID: id}, actorID)
	if err := e.Pipeline.RunStages(ctx, ev, preStages...); err != nil {
		var abort *pipeline.AbortError
		if errors.As(err, &abort) {
			payload := events.EventPayload{"reason": abort.Message, "reason_class": abort.Class}
			if cause := abort.Unwrap(); cause != nil {
				payload["cause"] = cause.Error()
			}
			if logErr := e.writer().Append(ctx, nil, events.OpportunityDeleteBlock, domain.EntityOpportunity, id, actorID, payload); logErr != nil {
				return errors.Join(err, logErr)
			}
		}
		return err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	o, err := e.Repo.GetOpportunityTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteOpportunity(ctx, tx, id); err != nil {
		return err
	}
	if err := e.writer().Append(ctx, tx, events.OpportunityDeleted, domain.EntityOpportunity, id, actorID, events.EventPayload{
		"name":   o.Name,
		"status": o.Status,
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return e.Pipeline.RunStages(ctx, ev, pipeline.PostOperation)
}

// ValidateOpportunityDeletion reports whether id could be deleted right now
// without deleting it.
func (e Engine) ValidateOpportunityDeletion(ctx context.Context, id string) (validation.Result, error) {
	if _, err := e.Repo.GetOpportunity(ctx, id); err != nil {
		return validation.Result{}, err
	}
	return e.Validator.Validate(ctx, id)
}

func (e Engine) ListOpportunities(ctx context.Context, f repo.OpportunityFilters) ([]domain.Opportunity, error) {
	return e.Repo.ListOpportunities(ctx, f)
}

func (e Engine) event(msg pipeline.Message, target any, actorID string) pipeline.Event {
	entity := ""
	switch t := target.(type) {
	case domain.Entity:
		entity = t.LogicalName
	case domain.EntityReference:
		entity = t.LogicalName
	}
	return pipeline.Event{
		Message:           msg,
		PrimaryEntityName: entity,
		InputParameters:   map[string]any{pipeline.TargetParameter: target},
		InitiatingUserID:  actorID,
		CorrelationID:     uuid.NewString(),
	}
}

func opportunityEntity(o domain.Opportunity) domain.Entity {
	var account any
	if o.AccountID != nil {
		account = *o.AccountID
	}
	return domain.Entity{
		LogicalName: domain.EntityOpportunity,
		ID:          o.ID,
		Attributes: map[string]any{
			"name":       o.Name,
			"status":     o.Status,
			"account_id": account,
		},
	}
}

func ensureOpportunityStatus(status string) error {
	switch status {
	case domain.OpportunityOpen, domain.OpportunityWon, domain.OpportunityLost:
		return nil
	}
	return fmt.Errorf("invalid opportunity status %q", status)
}
