// Package remote reads records from another dealguard server, so the
// deletion rules can be evaluated against a store this process does not own.
package remote

import (
	"context"
	"fmt"

	"dealguard/internal/domain"
	"dealguard/internal/query"
	dealguardsdk "dealguard/sdk/go"
)

// Store implements validation.RecordStore over POST /records/query.
type Store struct {
	Client *dealguardsdk.Client
}

func New(client *dealguardsdk.Client) Store {
	return Store{Client: client}
}

func (s Store) Query(ctx context.Context, expr query.Expression) ([]domain.Entity, error) {
	if err := expr.Validate(); err != nil {
		return nil, err
	}
	if s.Client == nil {
		return nil, fmt.Errorf("remote store: client not configured")
	}
	q := dealguardsdk.Query{
		Entity:  expr.Entity,
		Columns: expr.Columns,
		Top:     expr.Top,
	}
	for _, c := range expr.Conditions {
		q.Conditions = append(q.Conditions, dealguardsdk.Condition{
			Attribute: c.Attribute,
			Operator:  string(c.Operator),
			Values:    c.Values,
		})
	}
	records, err := s.Client.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("remote store: %w", err)
	}
	out := make([]domain.Entity, 0, len(records))
	for _, rec := range records {
		out = append(out, domain.Entity{
			LogicalName: rec.LogicalName,
			ID:          rec.ID,
			Attributes:  rec.Attributes,
		})
	}
	return out, nil
}
