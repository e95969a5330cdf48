package repo

import (
	"context"
	"database/sql"

	"dealguard/internal/domain"
	"dealguard/internal/query"
)

// Query runs a filtered read and returns the matching rows as entities.
// Only the requested columns are populated; SQL NULL maps to a nil attribute.
func (r Repo) Query(ctx context.Context, expr query.Expression) ([]domain.Entity, error) {
	stmt, err := query.Build(expr)
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, r.q(stmt.SQL), stmt.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Entity
	for rows.Next() {
		vals := make([]sql.NullString, len(stmt.Columns))
		dest := make([]any, len(vals))
		for i := range vals {
			dest[i] = &vals[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		ent := domain.Entity{LogicalName: expr.Entity, ID: vals[0].String}
		if len(stmt.Columns) > 1 {
			ent.Attributes = make(map[string]any, len(stmt.Columns)-1)
			for i, col := range stmt.Columns[1:] {
				if v := vals[i+1]; v.Valid {
					ent.Attributes[col] = v.String
				} else {
					ent.Attributes[col] = nil
				}
			}
		}
		res = append(res, ent)
	}
	return res, rows.Err()
}
