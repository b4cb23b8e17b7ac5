package stage

import (
	"context"
	"fmt"

	"github.com/lerianstudio/nl2sql/internal/aggregator"
	"github.com/lerianstudio/nl2sql/internal/pipeline"
)

// AggregatorNode executes the ResultPlan deterministically over sub_results,
// per spec.md §4.9's hard rule: no LLM call. It delegates the actual
// evaluation to package aggregator, which structurally cannot import
// llmgateway.
type AggregatorNode struct{}

// NewAggregatorNode builds the Aggregator stage.
func NewAggregatorNode() *AggregatorNode {
	return &AggregatorNode{}
}

func (a *AggregatorNode) Name() string { return "aggregator" }

func (a *AggregatorNode) Run(_ context.Context, state pipeline.State) (pipeline.Delta, error) {
	result, err := aggregator.Evaluate(state.ResultPlan, state)
	if err != nil {
		return pipeline.Delta{}, wrapNodeErr(err, a.Name())
	}

	return pipeline.Delta{
		Execution:   map[string]pipeline.ExecutionResult{"final": result},
		FinalAnswer: fmt.Sprintf("%d rows across %d columns", len(result.Rows), len(result.Columns)),
		NewEvents:   []pipeline.ReasoningEvent{event(a.Name(), "aggregated final result deterministically")},
	}, nil
}
