package stage

import (
	"context"
	"fmt"

	"github.com/lerianstudio/nl2sql/internal/llmgateway"
	"github.com/lerianstudio/nl2sql/internal/pipeline"
	"github.com/lerianstudio/nl2sql/internal/pipelineerr"
	"github.com/lerianstudio/nl2sql/internal/redact"
)

// RefinerNode composes feedback from the last error and the failing
// plan/SQL, sanitized so raw DB error text never reaches the LLM, and feeds
// it back to the Planner for the next SQL Agent attempt, per spec.md §4.9.
// It only increments retry_count and records feedback — the SQL Agent state
// machine (package sqlagent) decides whether to loop back to Planner.
type RefinerNode struct {
	llm *llmgateway.Gateway
}

// NewRefinerNode builds the Refiner stage over llm.
func NewRefinerNode(llm *llmgateway.Gateway) *RefinerNode {
	return &RefinerNode{llm: llm}
}

func (r *RefinerNode) Name() string { return "refiner" }

const refinerSystemPrompt = `You are the refiner stage of a natural-language-to-SQL pipeline. ` +
	`Given the prior plan and the sanitized error it produced, respond with one concise sentence of ` +
	`feedback the planner should apply on its next attempt. Do not repeat raw database error text.`

func (r *RefinerNode) Run(ctx context.Context, state pipeline.State) (pipeline.Delta, error) {
	if len(state.Errors) == 0 {
		return pipeline.Delta{}, pipelineerr.New(pipelineerr.CodeLogicalValidationFailed,
			"refiner invoked with no prior error to refine from").WithNode(r.Name(), "")
	}

	last := state.Errors[len(state.Errors)-1]
	failingSubQuery := last.SubQuery
	sanitized := redact.ErrorMessage(last.Error())

	resp, err := r.llm.Invoke(ctx, llmgateway.Request{
		SystemPrompt: refinerSystemPrompt,
		UserPrompt:   fmt.Sprintf("sub-query: %s\nerror code: %s\nsanitized error: %s", failingSubQuery, last.Code, sanitized),
	})
	if err != nil {
		return pipeline.Delta{}, err
	}

	return pipeline.Delta{
		IncrementRetry: failingSubQuery,
		NewWarnings:    []string{fmt.Sprintf("refiner feedback for %s: %s", failingSubQuery, resp.Text)},
		NewEvents:      []pipeline.ReasoningEvent{event(r.Name(), "composed refiner feedback for "+failingSubQuery)},
	}, nil
}
