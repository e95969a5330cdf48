package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"dealguard/internal/db"
)

// Event types appended by the engine.
const (
	AccountCreated         = "account.created"
	OpportunityCreated     = "opportunity.created"
	OpportunityUpdated     = "opportunity.updated"
	OpportunityDeleted     = "opportunity.deleted"
	OpportunityDeleteBlock = "opportunity.delete.blocked"
	QuoteCreated           = "quote.created"
	QuoteDeleted           = "quote.deleted"
	ContractCreated        = "contract.created"
	ContractStateChanged   = "contract.state.changed"
)

type Writer struct {
	DB      *sql.DB
	Dialect db.Dialect
	Now     func() time.Time
}

type EventPayload map[string]any

// Append writes an event inside tx; with a nil tx it writes directly.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	query := w.Dialect.Rebind(`INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`)
	args := []any{ts, evtType, entityKind, nullable(entityID), actorID, string(data)}
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, args...)
	} else {
		_, err = w.DB.ExecContext(ctx, query, args...)
	}
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
