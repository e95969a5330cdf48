package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"dealguard/internal/db"
	"dealguard/internal/domain"
)

type Repo struct {
	DB      *sql.DB
	Dialect db.Dialect
}

var ErrNotFound = errors.New("not found")

func (r Repo) q(query string) string {
	return r.Dialect.Rebind(query)
}

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r Repo) InsertAccount(ctx context.Context, ex Execer, a domain.Account) error {
	_, err := ex.ExecContext(ctx, r.q(`INSERT INTO accounts(id,name,created_at) VALUES (?,?,?)`), a.ID, a.Name, a.CreatedAt)
	return err
}

func (r Repo) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	var a domain.Account
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT id,name,created_at FROM accounts WHERE id=?`), id).Scan(&a.ID, &a.Name, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,created_at FROM accounts ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Account
	for rows.Next() {
		var a domain.Account
		if err := rows.Scan(&a.ID, &a.Name, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) InsertOpportunity(ctx context.Context, ex Execer, o domain.Opportunity) error {
	_, err := ex.ExecContext(ctx, r.q(`INSERT INTO opportunities(id,name,account_id,status,created_at,updated_at) VALUES (?,?,?,?,?,?)`),
		o.ID, o.Name, nullableStringPtr(o.AccountID), o.Status, o.CreatedAt, o.UpdatedAt)
	return err
}

func (r Repo) UpdateOpportunity(ctx context.Context, ex Execer, o domain.Opportunity) error {
	res, err := ex.ExecContext(ctx, r.q(`UPDATE opportunities SET name=?, account_id=?, status=?, updated_at=? WHERE id=?`),
		o.Name, nullableStringPtr(o.AccountID), o.Status, o.UpdatedAt, o.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteOpportunity(ctx context.Context, ex Execer, id string) error {
	res, err := ex.ExecContext(ctx, r.q(`DELETE FROM opportunities WHERE id=?`), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetOpportunity(ctx context.Context, id string) (domain.Opportunity, error) {
	return scanOpportunity(r.DB.QueryRowContext(ctx, r.q(`SELECT id,name,account_id,status,created_at,updated_at FROM opportunities WHERE id=?`), id))
}

func (r Repo) GetOpportunityTx(ctx context.Context, tx *sql.Tx, id string) (domain.Opportunity, error) {
	return scanOpportunity(tx.QueryRowContext(ctx, r.q(`SELECT id,name,account_id,status,created_at,updated_at FROM opportunities WHERE id=?`), id))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOpportunity(row rowScanner) (domain.Opportunity, error) {
	var o domain.Opportunity
	var accountID sql.NullString
	err := row.Scan(&o.ID, &o.Name, &accountID, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	if err != nil {
		return o, err
	}
	if accountID.Valid {
		o.AccountID = &accountID.String
	}
	return o, nil
}

type OpportunityFilters struct {
	AccountID       string
	Status          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListOpportunities(ctx context.Context, f OpportunityFilters) ([]domain.Opportunity, error) {
	var clauses []string
	var args []any
	if f.AccountID != "" {
		clauses = append(clauses, "account_id=?")
		args = append(args, f.AccountID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,name,account_id,status,created_at,updated_at FROM opportunities ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Opportunity
	for rows.Next() {
		o, err := scanOpportunity(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func (r Repo) InsertQuote(ctx context.Context, ex Execer, q domain.Quote) error {
	_, err := ex.ExecContext(ctx, r.q(`INSERT INTO quotes(id,name,opportunity_id,status,created_at) VALUES (?,?,?,?,?)`),
		q.ID, q.Name, q.OpportunityID, q.Status, q.CreatedAt)
	return err
}

func (r Repo) ListQuotes(ctx context.Context, opportunityID string) ([]domain.Quote, error) {
	query := `SELECT id,name,opportunity_id,status,created_at FROM quotes`
	var args []any
	if opportunityID != "" {
		query += ` WHERE opportunity_id=?`
		args = append(args, opportunityID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Quote
	for rows.Next() {
		var q domain.Quote
		if err := rows.Scan(&q.ID, &q.Name, &q.OpportunityID, &q.Status, &q.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, q)
	}
	return res, rows.Err()
}

func (r Repo) DeleteQuote(ctx context.Context, ex Execer, id string) error {
	res, err := ex.ExecContext(ctx, r.q(`DELETE FROM quotes WHERE id=?`), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertContract(ctx context.Context, ex Execer, c domain.Contract) error {
	_, err := ex.ExecContext(ctx, r.q(`INSERT INTO contracts(id,name,account_id,state,created_at) VALUES (?,?,?,?,?)`),
		c.ID, c.Name, c.AccountID, c.State, c.CreatedAt)
	return err
}

func (r Repo) ListContracts(ctx context.Context, accountID string) ([]domain.Contract, error) {
	query := `SELECT id,name,account_id,state,created_at FROM contracts`
	var args []any
	if accountID != "" {
		query += ` WHERE account_id=?`
		args = append(args, accountID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Contract
	for rows.Next() {
		var c domain.Contract
		if err := rows.Scan(&c.ID, &c.Name, &c.AccountID, &c.State, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) SetContractState(ctx context.Context, ex Execer, id, state string) error {
	res, err := ex.ExecContext(ctx, r.q(`UPDATE contracts SET state=? WHERE id=?`), state, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
