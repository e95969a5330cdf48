package server

import (
	"encoding/json"

	"dealguard/internal/domain"
	"dealguard/internal/validation"
)

// Request payloads

type CreateAccountRequest struct {
	ID   string `json:"id,omitempty" format:"uuid"`
	Name string `json:"name"`
}

type CreateOpportunityRequest struct {
	ID        string `json:"id,omitempty" format:"uuid"`
	Name      string `json:"name"`
	AccountID string `json:"account_id,omitempty"`
	Status    string `json:"status,omitempty" enum:"open,won,lost"`
}

type UpdateOpportunityRequest struct {
	Name      *string `json:"name,omitempty"`
	AccountID *string `json:"account_id,omitempty" doc:"Empty string clears the account"`
	Status    *string `json:"status,omitempty" enum:"open,won,lost"`
}

type CreateQuoteRequest struct {
	ID            string `json:"id,omitempty"`
	Name          string `json:"name"`
	OpportunityID string `json:"opportunity_id"`
	Status        string `json:"status,omitempty"`
}

type CreateContractRequest struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	AccountID string `json:"account_id"`
	State     string `json:"state,omitempty" enum:"draft,invoiced,active,on_hold,canceled,expired"`
}

type SetContractStateRequest struct {
	State string `json:"state" enum:"draft,invoiced,active,on_hold,canceled,expired"`
}

type DevLoginRequest struct {
	ActorID    string `json:"actor_id"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

// Responses

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Source  string `json:"source"`
}

type ValidationResponse struct {
	OpportunityID string `json:"opportunity_id"`
	Allowed       bool   `json:"allowed"`
	Reason        string `json:"reason,omitempty"`
	ReasonClass   string `json:"reason_class,omitempty"`
	Rule          string `json:"rule,omitempty"`
}

type RulesResponse struct {
	Entity string   `json:"entity"`
	Rules  []string `json:"rules"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type QueryResponse struct {
	Items []domain.Entity `json:"items"`
}

type paginatedOpportunities struct {
	Items      []domain.Opportunity `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func validationResponse(id string, res validation.Result) ValidationResponse {
	return ValidationResponse{
		OpportunityID: id,
		Allowed:       res.Allowed,
		Reason:        res.Reason,
		ReasonClass:   string(res.Class),
		Rule:          res.Rule,
	}
}

func eventResponse(evt domain.Event) EventResponse {
	payload := map[string]any{}
	if evt.Payload != "" {
		if err := json.Unmarshal([]byte(evt.Payload), &payload); err != nil {
			payload = map[string]any{"raw": evt.Payload}
		}
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
