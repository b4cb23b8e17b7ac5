// Package sqlagent implements the per-SubQuery state machine spec.md §4.10
// names: Planner → LogicalValidator → Generator → PhysicalValidator →
// Executor, with a Refiner-mediated backward edge to Planner on any
// retryable error. Fatal errors (SECURITY_VIOLATION, INTENT_REJECTED, ...)
// skip the Refiner and fail the SubQuery immediately.
package sqlagent

import (
	"context"

	"github.com/lerianstudio/nl2sql/internal/pipeline"
	"github.com/lerianstudio/nl2sql/internal/pipelineerr"
	"github.com/lerianstudio/nl2sql/internal/resilience"
	"github.com/lerianstudio/nl2sql/internal/stage"
)

// Agent runs one SubQuery through the full loop, with exponential+jitter
// backoff between Refining attempts per spec.md §4.10.
type Agent struct {
	planner           stage.Node
	logicalValidator  stage.Node
	generator         stage.Node
	physicalValidator stage.Node
	executor          stage.Node
	refiner           stage.Node
	retry             resilience.RetryConfig
}

// NewAgent builds an Agent wiring every stage the subgraph needs.
func NewAgent(
	planner, logicalValidator, generator, physicalValidator, executor, refiner stage.Node,
	retry resilience.RetryConfig,
) *Agent {
	return &Agent{
		planner:           planner,
		logicalValidator:  logicalValidator,
		generator:         generator,
		physicalValidator: physicalValidator,
		executor:          executor,
		refiner:           refiner,
		retry:             retry,
	}
}

// Run drives sq through the state machine against a view of base scoped to
// just this SubQuery. It returns the ordered sequence of Deltas produced —
// including every Refiner feedback round — for the runtime to apply via
// pipeline.Merge in order, preserving the single-writer discipline. The
// returned error is nil on success; otherwise it is the terminal
// *pipelineerr.Error, either the fatal error that skipped retries or the
// last error seen after sql_agent_max_retries attempts were exhausted.
func (a *Agent) Run(ctx context.Context, base pipeline.State, sq pipeline.SubQuery) ([]pipeline.Delta, error) {
	state := scopedState(base, sq)

	var deltas []pipeline.Delta

	runErr := resilience.Do(ctx, a.retry, func(ctx context.Context, attempt int) error {
		for _, step := range []stage.Node{a.planner, a.logicalValidator, a.generator, a.physicalValidator, a.executor} {
			delta, err := step.Run(ctx, state)
			if err != nil {
				return a.handleStepError(ctx, &state, &deltas, err, sq.ID)
			}

			state = pipeline.Merge(state, delta)
			deltas = append(deltas, delta)
		}

		return nil
	})

	return deltas, runErr
}

// handleStepError records the failing step's error onto state — tagged with
// subQueryID so a terminal failure is traceable to the SubQuery it belongs
// to, per spec.md §4.10 — and, unless the error is fatal, runs the Refiner
// to compose feedback for the next Planning attempt before returning the
// original error for resilience.Do's retry decision.
func (a *Agent) handleStepError(ctx context.Context, state *pipeline.State, deltas *[]pipeline.Delta, err error, subQueryID string) error {
	pe, ok := pipelineerr.As(err)
	if !ok {
		return err
	}

	pe = pe.WithNode(pe.NodeID, subQueryID)

	errDelta := pipeline.Delta{NewErrors: []*pipelineerr.Error{pe}}
	*state = pipeline.Merge(*state, errDelta)
	*deltas = append(*deltas, errDelta)

	if !pe.Retryable() {
		return pe
	}

	refineDelta, rerr := a.refiner.Run(ctx, *state)
	if rerr != nil {
		return rerr
	}

	*state = pipeline.Merge(*state, refineDelta)
	*deltas = append(*deltas, refineDelta)

	return pe
}

// scopedState builds the per-SubQuery working state an Agent mutates across
// attempts: the shared request context (trace/tenant/user/relevant tables)
// carried over from base, but a SubQueries slice of exactly one, and fresh
// per-attempt maps so a Planner retry never sees a prior attempt's stale
// SQLDraft or Execution entries for a different SubQuery.
func scopedState(base pipeline.State, sq pipeline.SubQuery) pipeline.State {
	s := base
	s.SubQueries = []pipeline.SubQuery{sq}
	s.Plan = nil
	s.SQLDraft = make(map[string]string)
	s.Execution = make(map[string]pipeline.ExecutionResult)
	s.SubResults = make(map[string]pipeline.ResultArtifactRef)
	s.Errors = append([]*pipelineerr.Error(nil), base.Errors...)
	s.Warnings = append([]string(nil), base.Warnings...)
	s.Reasoning = append([]pipeline.ReasoningEvent(nil), base.Reasoning...)
	s.RetryCount = copyRetryCount(base.RetryCount)

	return s
}

func copyRetryCount(base map[string]int) map[string]int {
	out := make(map[string]int, len(base))
	for k, v := range base {
		out[k] = v
	}

	return out
}
