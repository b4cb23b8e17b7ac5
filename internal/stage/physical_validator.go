package stage

import (
	"context"

	"github.com/lerianstudio/nl2sql/internal/pipeline"
	"github.com/lerianstudio/nl2sql/internal/pipelineerr"
	"github.com/lerianstudio/nl2sql/internal/sandbox"
)

// PhysicalValidatorNode asks the Sandbox to dry-run the generated SQL draft,
// per spec.md §4.9. A dry-run failure is DRY_RUN_FAILED and goes through the
// Refiner loop like any other retryable error, up to the SQL Agent's retry
// attempt limit; it is not capped at a single retry.
type PhysicalValidatorNode struct {
	sandbox *sandbox.Manager
}

// NewPhysicalValidatorNode builds the PhysicalValidator stage.
func NewPhysicalValidatorNode(sb *sandbox.Manager) *PhysicalValidatorNode {
	return &PhysicalValidatorNode{sandbox: sb}
}

func (v *PhysicalValidatorNode) Name() string { return "physical_validator" }

func (v *PhysicalValidatorNode) Run(ctx context.Context, state pipeline.State) (pipeline.Delta, error) {
	if state.Plan == nil {
		return pipeline.Delta{}, pipelineerr.New(pipelineerr.CodeDryRunFailed,
			"physical validator invoked with no plan").WithNode(v.Name(), "")
	}

	subQueryID := subQueryIDForDatasource(state, state.Plan.Datasource)

	sql, ok := state.SQLDraft[subQueryID]
	if !ok {
		return pipeline.Delta{}, pipelineerr.New(pipelineerr.CodeDryRunFailed,
			"no SQL draft to dry-run for "+subQueryID).WithNode(v.Name(), subQueryID)
	}

	if err := v.sandbox.DryRun(ctx, state.Plan.Datasource, sql, nil); err != nil {
		return pipeline.Delta{}, pipelineerr.Wrap(pipelineerr.CodeDryRunFailed,
			"dry-run failed for "+subQueryID, err).WithNode(v.Name(), subQueryID)
	}

	return pipeline.Delta{
		NewEvents: []pipeline.ReasoningEvent{event(v.Name(), "dry-run passed for "+subQueryID)},
	}, nil
}
