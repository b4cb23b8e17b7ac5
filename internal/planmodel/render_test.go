package planmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderProducesDollarPlaceholders(t *testing.T) {
	p := &Plan{
		From:        "orders",
		SelectItems: []Expr{ColumnRef{Table: "orders", Column: "id"}},
		Filters: BinaryExpr{
			Op:    OpGt,
			Left:  ColumnRef{Table: "orders", Column: "total"},
			Right: Literal{Kind: "float", Value: 100.0},
		},
		Limit: 10,
	}

	sql, args, err := Render(p, Capabilities{PlaceholderFormat: "dollar", SupportsLimitOffset: true})
	require.NoError(t, err)
	assert.Contains(t, sql, "$1")
	assert.Contains(t, sql, "LIMIT 10")
	assert.Equal(t, []any{100.0}, args)
}

func TestRenderFallsBackToFetchFirstWithoutLimitOffset(t *testing.T) {
	p := &Plan{From: "orders", Limit: 5}

	sql, _, err := Render(p, Capabilities{PlaceholderFormat: "question", SupportsLimitOffset: false})
	require.NoError(t, err)
	assert.Contains(t, sql, "FETCH FIRST 5 ROWS ONLY")
}

func TestRenderJoinsAndGroupBy(t *testing.T) {
	p := &Plan{
		From: "orders",
		Joins: []Join{
			{
				Type:  JoinLeft,
				Table: "customers",
				On: BinaryExpr{
					Op:    OpEq,
					Left:  ColumnRef{Table: "orders", Column: "customer_id"},
					Right: ColumnRef{Table: "customers", Column: "id"},
				},
			},
		},
		GroupBy: []Expr{ColumnRef{Table: "customers", Column: "id"}},
	}

	sql, _, err := Render(p, Capabilities{PlaceholderFormat: "question"})
	require.NoError(t, err)
	assert.Contains(t, sql, "LEFT JOIN customers")
	assert.Contains(t, sql, "GROUP BY customers.id")
}

func TestRenderRejectsUnsupportedExprType(t *testing.T) {
	p := &Plan{From: "orders", Filters: unsupportedExpr{}}

	_, _, err := Render(p, Capabilities{})
	assert.Error(t, err)
}

type unsupportedExpr struct{}

func (unsupportedExpr) isExpr() {}
