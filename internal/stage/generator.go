package stage

import (
	"context"

	"github.com/lerianstudio/nl2sql/internal/adapter"
	"github.com/lerianstudio/nl2sql/internal/pipeline"
	"github.com/lerianstudio/nl2sql/internal/pipelineerr"
	"github.com/lerianstudio/nl2sql/internal/planmodel"
)

// GeneratorNode traverses the PlanModel and emits dialect-specific SQL
// using the target adapter's Capabilities, per spec.md §4.9. It never
// executes anything — it only produces a SQL draft string, which the
// PhysicalValidator dry-runs and the Executor later runs for real.
type GeneratorNode struct {
	adapters *adapter.Registry
}

// NewGeneratorNode builds the Generator stage over the given adapter
// registry.
func NewGeneratorNode(adapters *adapter.Registry) *GeneratorNode {
	return &GeneratorNode{adapters: adapters}
}

func (g *GeneratorNode) Name() string { return "generator" }

func (g *GeneratorNode) Run(_ context.Context, state pipeline.State) (pipeline.Delta, error) {
	if state.Plan == nil {
		return pipeline.Delta{}, pipelineerr.New(pipelineerr.CodeMissingSQL,
			"generator invoked with no plan").WithNode(g.Name(), "")
	}

	a, ok := g.adapters.Get(state.Plan.Datasource)
	if !ok {
		return pipeline.Delta{}, pipelineerr.New(pipelineerr.CodeAdapterUnavailable,
			"no adapter registered for datasource "+state.Plan.Datasource).WithNode(g.Name(), "")
	}

	caps := a.Capabilities()

	sql, _, err := planmodel.Render(state.Plan, planmodel.Capabilities{
		PlaceholderFormat:   caps.PlaceholderFormat,
		SupportsLimitOffset: caps.SupportsLimitOffset,
	})
	if err != nil {
		return pipeline.Delta{}, pipelineerr.Wrap(pipelineerr.CodeMissingSQL,
			"failed to render SQL from plan", err).WithNode(g.Name(), "")
	}

	subQueryID := subQueryIDForDatasource(state, state.Plan.Datasource)

	return pipeline.Delta{
		SQLDraft:  map[string]string{subQueryID: sql},
		NewEvents: []pipeline.ReasoningEvent{event(g.Name(), "generated SQL draft for "+subQueryID)},
	}, nil
}

// subQueryIDForDatasource finds the SubQuery bound to datasource, matching
// it back up since Plan itself carries no SubQuery ID.
func subQueryIDForDatasource(state pipeline.State, datasource string) string {
	for _, sq := range state.SubQueries {
		if sq.Datasource == datasource {
			return sq.ID
		}
	}

	return datasource
}
