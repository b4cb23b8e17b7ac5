package stage

import (
	"context"
	"fmt"

	"github.com/lerianstudio/nl2sql/internal/pipeline"
	"github.com/lerianstudio/nl2sql/internal/pipelineerr"
	"github.com/lerianstudio/nl2sql/internal/resultplan"
)

// ResultPlanNode builds the global ResultPlan once fan-out has settled every
// frozen SubQuery, per spec.md §3's ResultPlan invariant. It must run after
// runFanOut rather than inside the per-SubQuery Agent: sqlagent.Agent scopes
// each Planner invocation to a single-element SubQueries slice, so a Planner
// can only ever emit a single-leaf ResultPlan and never see enough of the
// request to union across datasources.
type ResultPlanNode struct{}

// NewResultPlanNode builds the reduce-stage ResultPlan builder.
func NewResultPlanNode() *ResultPlanNode {
	return &ResultPlanNode{}
}

func (r *ResultPlanNode) Name() string { return "result_planner" }

func (r *ResultPlanNode) Run(_ context.Context, state pipeline.State) (pipeline.Delta, error) {
	if len(state.SubQueries) == 0 {
		return pipeline.Delta{}, pipelineerr.New(pipelineerr.CodeLogicalValidationFailed,
			"result planner invoked with no frozen sub-queries").WithNode(r.Name(), "")
	}

	// Only SubQueries that actually produced an execution result contribute a
	// leaf — a SubQuery the Agent failed (recorded on state.Errors, not
	// aborting its siblings per spec.md §4.10) is simply excluded from the
	// aggregation rather than making the whole request fatal.
	leaves := make([]*resultplan.Op, 0, len(state.SubQueries))
	for _, sq := range state.SubQueries {
		if _, ok := state.Execution[sq.ID]; !ok {
			continue
		}

		leaves = append(leaves, resultplan.Leaf(sq.ID))
	}

	if len(leaves) == 0 {
		return pipeline.Delta{}, pipelineerr.New(pipelineerr.CodeExecutionFailed,
			"no sub-query produced an execution result to aggregate").WithNode(r.Name(), "")
	}

	return pipeline.Delta{
		ResultPlan: buildResultPlan(leaves),
		NewEvents: []pipeline.ReasoningEvent{
			event(r.Name(), fmt.Sprintf("built result plan over %d sub-query leaves", len(leaves))),
		},
	}, nil
}

// buildResultPlan wraps every SubQuery leaf in a Union (a no-op pass-through
// when there is exactly one) so the Aggregator always has a single rooted
// ResultPlan to evaluate regardless of fan-out width.
func buildResultPlan(leaves []*resultplan.Op) *resultplan.Plan {
	if len(leaves) == 1 {
		return &resultplan.Plan{Root: leaves[0]}
	}

	root := resultplan.Union(leaves[0], leaves[1:]...)

	return &resultplan.Plan{Root: root}
}
