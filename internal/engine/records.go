package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"dealguard/internal/domain"
	"dealguard/internal/events"
)

func (e Engine) CreateAccount(ctx context.Context, id, name, actorID string) (domain.Account, error) {
	if name == "" {
		return domain.Account{}, errors.New("name is required")
	}
	if id == "" {
		id = uuid.NewString()
	} else if _, err := uuid.Parse(id); err != nil {
		return domain.Account{}, fmt.Errorf("invalid account id %q", id)
	}
	a := domain.Account{ID: id, Name: name, CreatedAt: e.timestamp()}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Account{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAccount(ctx, tx, a); err != nil {
		return domain.Account{}, fmt.Errorf("insert account: %w", err)
	}
	if err := e.writer().Append(ctx, tx, events.AccountCreated, domain.EntityAccount, a.ID, actorID, events.EventPayload{"name": a.Name}); err != nil {
		return domain.Account{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Account{}, err
	}
	return a, nil
}

type QuoteCreateOptions struct {
	ID            string
	Name          string
	OpportunityID string
	Status        string
	ActorID       string
}

func (e Engine) CreateQuote(ctx context.Context, opts QuoteCreateOptions) (domain.Quote, error) {
	if opts.Name == "" {
		return domain.Quote{}, errors.New("name is required")
	}
	if opts.OpportunityID == "" {
		return domain.Quote{}, errors.New("opportunity is required")
	}
	if _, err := e.Repo.GetOpportunity(ctx, opts.OpportunityID); err != nil {
		return domain.Quote{}, fmt.Errorf("opportunity %s: %w", opts.OpportunityID, err)
	}
	if opts.Status == "" {
		opts.Status = "draft"
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	q := domain.Quote{ID: id, Name: opts.Name, OpportunityID: opts.OpportunityID, Status: opts.Status, CreatedAt: e.timestamp()}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Quote{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertQuote(ctx, tx, q); err != nil {
		return domain.Quote{}, fmt.Errorf("insert quote: %w", err)
	}
	if err := e.writer().Append(ctx, tx, events.QuoteCreated, domain.EntityQuote, q.ID, opts.ActorID, events.EventPayload{
		"opportunity_id": q.OpportunityID,
	}); err != nil {
		return domain.Quote{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Quote{}, err
	}
	return q, nil
}

func (e Engine) DeleteQuote(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteQuote(ctx, tx, id); err != nil {
		return err
	}
	if err := e.writer().Append(ctx, tx, events.QuoteDeleted, domain.EntityQuote, id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

type ContractCreateOptions struct {
	ID        string
	Name      string
	AccountID string
	State     string
	ActorID   string
}

func (e Engine) CreateContract(ctx context.Context, opts ContractCreateOptions) (domain.Contract, error) {
	if opts.Name == "" {
		return domain.Contract{}, errors.New("name is required")
	}
	if opts.AccountID == "" {
		return domain.Contract{}, errors.New("account is required")
	}
	if _, err := e.Repo.GetAccount(ctx, opts.AccountID); err != nil {
		return domain.Contract{}, fmt.Errorf("account %s: %w", opts.AccountID, err)
	}
	if opts.State == "" {
		opts.State = domain.ContractDraft
	}
	if err := ensureContractState(opts.State); err != nil {
		return domain.Contract{}, err
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	c := domain.Contract{ID: id, Name: opts.Name, AccountID: opts.AccountID, State: opts.State, CreatedAt: e.timestamp()}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Contract{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertContract(ctx, tx, c); err != nil {
		return domain.Contract{}, fmt.Errorf("insert contract: %w", err)
	}
	if err := e.writer().Append(ctx, tx, events.ContractCreated, domain.EntityContract, c.ID, opts.ActorID, events.EventPayload{
		"account_id": c.AccountID,
		"state":      c.State,
	}); err != nil {
		return domain.Contract{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Contract{}, err
	}
	return c, nil
}

func (e Engine) SetContractState(ctx context.Context, id, state, actorID string) error {
	if err := ensureContractState(state); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.SetContractState(ctx, tx, id, state); err != nil {
		return err
	}
	if err := e.writer().Append(ctx, tx, events.ContractStateChanged, domain.EntityContract, id, actorID, events.EventPayload{"state": state}); err != nil {
		return err
	}
	return tx.Commit()
}

func ensureContractState(state string) error {
	switch state {
	case domain.ContractDraft, domain.ContractInvoiced, domain.ContractActive,
		domain.ContractOnHold, domain.ContractCanceled, domain.ContractExpired:
		return nil
	}
	return fmt.Errorf("invalid contract state %q", state)
}
