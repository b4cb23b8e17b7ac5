package aggregator

import (
	"testing"

	"github.com/lerianstudio/nl2sql/internal/pipeline"
	"github.com/lerianstudio/nl2sql/internal/pipelineerr"
	"github.com/lerianstudio/nl2sql/internal/planmodel"
	"github.com/lerianstudio/nl2sql/internal/policy"
	"github.com/lerianstudio/nl2sql/internal/resultplan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ordersState() pipeline.State {
	s := pipeline.NewState("trace-1", "tenant-1", "total per customer", policy.UserContext{TenantID: "tenant-1", Role: "analyst"})
	s.Execution["sq1"] = pipeline.ExecutionResult{
		Columns: []string{"customer_id", "total"},
		Rows: [][]any{
			{1, 10.0},
			{1, 5.0},
			{2, 7.0},
		},
	}

	return s
}

func TestEvaluateMissingSourceIsFatal(t *testing.T) {
	plan := &resultplan.Plan{Root: resultplan.Leaf("missing")}

	_, err := Evaluate(plan, ordersState())
	require.Error(t, err)

	pe, ok := pipelineerr.As(err)
	require.True(t, ok)
	assert.Equal(t, pipelineerr.CodeExecutionFailed, pe.Code)
}

func TestEvaluateNilPlanIsFatal(t *testing.T) {
	_, err := Evaluate(&resultplan.Plan{}, ordersState())
	require.Error(t, err)
}

func TestEvaluateProjectPassesThroughRows(t *testing.T) {
	plan := &resultplan.Plan{Root: resultplan.Project(resultplan.Leaf("sq1"))}

	result, err := Evaluate(plan, ordersState())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"customer_id", "total"}, result.Columns)
	assert.Len(t, result.Rows, 3)
}

func TestEvaluateFilterKeepsMatchingRows(t *testing.T) {
	leaf := resultplan.Leaf("sq1")
	filtered := resultplan.Filter(leaf, planmodel.BinaryExpr{
		Op:    planmodel.OpGt,
		Left:  planmodel.ColumnRef{Column: "total"},
		Right: planmodel.Literal{Kind: "float", Value: 6.0},
	})

	plan := &resultplan.Plan{Root: filtered}

	result, err := Evaluate(plan, ordersState())
	require.NoError(t, err)
	assert.Len(t, result.Rows, 2)
}

func TestEvaluateAggregateSumsByGroup(t *testing.T) {
	leaf := resultplan.Leaf("sq1")
	agg := resultplan.Aggregate(leaf,
		[]planmodel.Expr{planmodel.ColumnRef{Column: "customer_id"}},
		[]planmodel.Expr{planmodel.FuncCall{Name: "SUM", Args: []planmodel.Expr{planmodel.ColumnRef{Column: "total"}}}},
	)

	plan := &resultplan.Plan{Root: agg}

	result, err := Evaluate(plan, ordersState())
	require.NoError(t, err)
	assert.Len(t, result.Rows, 2)

	totals := map[any]any{}
	for _, row := range result.Rows {
		totals[row[0]] = row[1]
	}

	assert.Equal(t, 15.0, totals[1])
	assert.Equal(t, 7.0, totals[2])
}

func TestEvaluateOrderLimitSortsDescendingAndCaps(t *testing.T) {
	leaf := resultplan.Leaf("sq1")
	ordered := resultplan.OrderLimit(leaf, []planmodel.OrderItem{
		{Expr: planmodel.ColumnRef{Column: "total"}, Descending: true},
	}, 1)

	plan := &resultplan.Plan{Root: ordered}

	result, err := Evaluate(plan, ordersState())
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, 10.0, result.Rows[0][1])
}

func TestEvaluateUnionCombinesRows(t *testing.T) {
	state := ordersState()
	state.Execution["sq2"] = pipeline.ExecutionResult{
		Columns: []string{"customer_id", "total"},
		Rows:    [][]any{{3, 20.0}},
	}

	plan := &resultplan.Plan{Root: resultplan.Union(resultplan.Leaf("sq1"), resultplan.Leaf("sq2"))}

	result, err := Evaluate(plan, state)
	require.NoError(t, err)
	assert.Len(t, result.Rows, 4)
}

func TestEvaluateRejectsUnknownOperator(t *testing.T) {
	plan := &resultplan.Plan{Root: &resultplan.Op{Kind: "BOGUS", Input: resultplan.Leaf("sq1")}}

	_, err := Evaluate(plan, ordersState())
	require.Error(t, err)
}
