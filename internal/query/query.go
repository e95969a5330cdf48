// Package query describes filtered reads against the record store and
// renders them to SQL. Every expression must carry at least one condition:
// reading a whole collection to answer a question about one record is never
// a valid way to ask it.
package query

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"dealguard/internal/domain"
)

type Operator string

const (
	Equal    Operator = "eq"
	NotEqual Operator = "ne"
	In       Operator = "in"
	Null     Operator = "null"
	NotNull  Operator = "not-null"
)

// ErrUnfiltered is returned for expressions without any condition.
var ErrUnfiltered = errors.New("query has no conditions; filtered queries only")

type Condition struct {
	Attribute string   `json:"attribute"`
	Operator  Operator `json:"operator" enum:"eq,ne,in,null,not-null"`
	Values    []any    `json:"values,omitempty"`
}

type Expression struct {
	Entity     string      `json:"entity"`
	Columns    []string    `json:"columns,omitempty"`
	Conditions []Condition `json:"conditions"`
	Top        int         `json:"top,omitempty"`
}

// Where starts an expression on entity filtered by attribute = value.
func Where(entity, attribute string, value any) Expression {
	return Expression{
		Entity:     entity,
		Conditions: []Condition{{Attribute: attribute, Operator: Equal, Values: []any{value}}},
	}
}

// And appends a condition.
func (e Expression) And(attribute string, op Operator, values ...any) Expression {
	conds := make([]Condition, 0, len(e.Conditions)+1)
	conds = append(conds, e.Conditions...)
	e.Conditions = append(conds, Condition{Attribute: attribute, Operator: op, Values: values})
	return e
}

// Select sets the returned columns.
func (e Expression) Select(columns ...string) Expression {
	e.Columns = columns
	return e
}

// Limit caps the number of returned rows.
func (e Expression) Limit(n int) Expression {
	e.Top = n
	return e
}

type table struct {
	name    string
	columns map[string]bool
}

var schema = map[string]table{
	domain.EntityAccount: {
		name:    "accounts",
		columns: set("id", "name", "created_at"),
	},
	domain.EntityOpportunity: {
		name:    "opportunities",
		columns: set("id", "name", "account_id", "status", "created_at", "updated_at"),
	},
	domain.EntityQuote: {
		name:    "quotes",
		columns: set("id", "name", "opportunity_id", "status", "created_at"),
	},
	domain.EntityContract: {
		name:    "contracts",
		columns: set("id", "name", "account_id", "state", "created_at"),
	},
}

func set(cols ...string) map[string]bool {
	m := make(map[string]bool, len(cols))
	for _, c := range cols {
		m[c] = true
	}
	return m
}

// Entities lists the queryable logical names.
func Entities() []string {
	names := make([]string, 0, len(schema))
	for name := range schema {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks the expression against the schema.
func (e Expression) Validate() error {
	t, ok := schema[e.Entity]
	if !ok {
		return fmt.Errorf("invalid entity %q", e.Entity)
	}
	if len(e.Conditions) == 0 {
		return ErrUnfiltered
	}
	for _, col := range e.Columns {
		if !t.columns[col] {
			return fmt.Errorf("invalid column %s.%s", e.Entity, col)
		}
	}
	for _, c := range e.Conditions {
		if !t.columns[c.Attribute] {
			return fmt.Errorf("invalid condition attribute %s.%s", e.Entity, c.Attribute)
		}
		switch c.Operator {
		case Equal, NotEqual:
			if len(c.Values) != 1 {
				return fmt.Errorf("invalid condition on %s: %s takes exactly one value", c.Attribute, c.Operator)
			}
		case In:
			if len(c.Values) == 0 {
				return fmt.Errorf("invalid condition on %s: in requires values", c.Attribute)
			}
		case Null, NotNull:
			if len(c.Values) != 0 {
				return fmt.Errorf("invalid condition on %s: %s takes no values", c.Attribute, c.Operator)
			}
		default:
			return fmt.Errorf("invalid operator %q", c.Operator)
		}
	}
	if e.Top < 0 {
		return fmt.Errorf("invalid top %d", e.Top)
	}
	return nil
}

// Statement is a rendered expression. Columns lists the selected columns in
// scan order; id is always first.
type Statement struct {
	SQL     string
	Args    []any
	Columns []string
}

// Build renders the expression with ? placeholders.
func Build(e Expression) (Statement, error) {
	if err := e.Validate(); err != nil {
		return Statement{}, err
	}
	t := schema[e.Entity]
	cols := []string{"id"}
	for _, c := range e.Columns {
		if c != "id" {
			cols = append(cols, c)
		}
	}
	var (
		clauses []string
		args    []any
	)
	for _, c := range e.Conditions {
		switch c.Operator {
		case Equal:
			clauses = append(clauses, c.Attribute+"=?")
			args = append(args, c.Values[0])
		case NotEqual:
			clauses = append(clauses, c.Attribute+"<>?")
			args = append(args, c.Values[0])
		case In:
			marks := strings.TrimSuffix(strings.Repeat("?,", len(c.Values)), ",")
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", c.Attribute, marks))
			args = append(args, c.Values...)
		case Null:
			clauses = append(clauses, c.Attribute+" IS NULL")
		case NotNull:
			clauses = append(clauses, c.Attribute+" IS NOT NULL")
		}
	}
	sqlText := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY id",
		strings.Join(cols, ","), t.name, strings.Join(clauses, " AND "))
	if e.Top > 0 {
		sqlText += " LIMIT ?"
		args = append(args, e.Top)
	}
	return Statement{SQL: sqlText, Args: args, Columns: cols}, nil
}
