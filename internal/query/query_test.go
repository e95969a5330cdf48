package query

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealguard/internal/domain"
)

func TestBuildFilteredQuery(t *testing.T) {
	expr := Where(domain.EntityContract, "account_id", "a-1").
		And("state", In, "active", "on_hold").
		Select("state").
		Limit(1)
	stmt, err := Build(expr)
	require.NoError(t, err)
	assert.Equal(t, "SELECT id,state FROM contracts WHERE account_id=? AND state IN (?,?) ORDER BY id LIMIT ?", stmt.SQL)
	assert.Equal(t, []any{"a-1", "active", "on_hold", 1}, stmt.Args)
	assert.Equal(t, []string{"id", "state"}, stmt.Columns)
}

func TestBuildNullOperators(t *testing.T) {
	stmt, err := Build(Expression{
		Entity: domain.EntityOpportunity,
		Conditions: []Condition{
			{Attribute: "account_id", Operator: NotNull},
			{Attribute: "status", Operator: NotEqual, Values: []any{"lost"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM opportunities WHERE account_id IS NOT NULL AND status<>? ORDER BY id", stmt.SQL)
	assert.Equal(t, []any{"lost"}, stmt.Args)
}

func TestUnfilteredQueryRejected(t *testing.T) {
	_, err := Build(Expression{Entity: domain.EntityQuote})
	assert.True(t, errors.Is(err, ErrUnfiltered))
}

func TestValidateRejectsUnknownNames(t *testing.T) {
	cases := []Expression{
		Where("invoice", "id", "x"),
		Where(domain.EntityQuote, "secret", "x"),
		Where(domain.EntityQuote, "id", "x").Select("password"),
		{Entity: domain.EntityQuote, Conditions: []Condition{{Attribute: "id", Operator: "like", Values: []any{"x"}}}},
		{Entity: domain.EntityQuote, Conditions: []Condition{{Attribute: "id", Operator: Equal}}},
		{Entity: domain.EntityQuote, Conditions: []Condition{{Attribute: "id", Operator: In}}},
		{Entity: domain.EntityQuote, Conditions: []Condition{{Attribute: "id", Operator: Null, Values: []any{1}}}},
		Where(domain.EntityQuote, "id", "x").Limit(-1),
	}
	for _, expr := range cases {
		assert.Error(t, expr.Validate(), "%+v", expr)
	}
}

func TestAndDoesNotAliasConditions(t *testing.T) {
	base := Where(domain.EntityQuote, "opportunity_id", "o-1")
	a := base.And("status", Equal, "draft")
	b := base.And("status", Equal, "closed")
	assert.Len(t, base.Conditions, 1)
	assert.Equal(t, "draft", a.Conditions[1].Values[0])
	assert.Equal(t, "closed", b.Conditions[1].Values[0])
}

func TestEntities(t *testing.T) {
	assert.Equal(t, []string{"account", "contract", "opportunity", "quote"}, Entities())
}
