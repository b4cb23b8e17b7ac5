package resultplan

import (
	"testing"

	"github.com/lerianstudio/nl2sql/internal/planmodel"
	"github.com/stretchr/testify/assert"
)

func TestLeafBuildsSourceOp(t *testing.T) {
	op := Leaf("sq1")
	assert.Equal(t, "sq1", op.Source)
	assert.Nil(t, op.Input)
}

func TestProjectWrapsInput(t *testing.T) {
	leaf := Leaf("sq1")
	cols := []planmodel.Expr{planmodel.ColumnRef{Column: "total"}}
	op := Project(leaf, cols...)

	assert.Equal(t, OpProject, op.Kind)
	assert.Same(t, leaf, op.Input)
	assert.Equal(t, cols, op.Columns)
}

func TestAggregateCarriesGroupByAndAggregates(t *testing.T) {
	leaf := Leaf("sq1")
	groupBy := []planmodel.Expr{planmodel.ColumnRef{Column: "customer_id"}}
	aggs := []planmodel.Expr{planmodel.FuncCall{Name: "SUM"}}

	op := Aggregate(leaf, groupBy, aggs)

	assert.Equal(t, OpAggregate, op.Kind)
	assert.Equal(t, groupBy, op.GroupBy)
	assert.Equal(t, aggs, op.Aggregates)
}

func TestOrderLimitCarriesLimit(t *testing.T) {
	leaf := Leaf("sq1")
	op := OrderLimit(leaf, []planmodel.OrderItem{{Expr: planmodel.ColumnRef{Column: "total"}, Descending: true}}, 10)

	assert.Equal(t, OpOrderLimit, op.Kind)
	assert.Equal(t, 10, op.Limit)
	assert.True(t, op.OrderBy[0].Descending)
}

func TestUnionKeepsFirstAsInputAndRestAsOthers(t *testing.T) {
	a, b, c := Leaf("a"), Leaf("b"), Leaf("c")
	op := Union(a, b, c)

	assert.Same(t, a, op.Input)
	assert.Equal(t, []*Op{b, c}, op.Others)
}

func TestJoinCarriesBothSidesAndCondition(t *testing.T) {
	left, right := Leaf("left"), Leaf("right")
	on := planmodel.BinaryExpr{Op: planmodel.OpEq}

	op := Join(left, right, planmodel.JoinInner, on)

	assert.Same(t, left, op.Input)
	assert.Same(t, right, op.Right)
	assert.Equal(t, planmodel.JoinInner, op.JoinType)
	assert.Equal(t, on, op.On)
}
