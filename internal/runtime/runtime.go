// Package runtime builds the pipeline graph spec.md §4.11 names: a linear
// ingress prefix (Semantic, IntentValidator, SchemaRetriever, Decomposer),
// a map stage fanning out one SQL Agent instance per SubQuery respecting
// depends_on layers, and a single Aggregator reduce stage. Grounded on
// golang.org/x/sync/errgroup's WithContext fan-out/cancel-on-first-error
// pattern (the same shape the pack's standalone executor.go example uses for
// parallel pre-execution queries) for concurrent layer execution, composed
// with a context.WithTimeout global deadline per spec.md's "every request
// returns within global_timeout_sec + ε" invariant.
package runtime

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lerianstudio/nl2sql/internal/pipeline"
	"github.com/lerianstudio/nl2sql/internal/pipelineerr"
	"github.com/lerianstudio/nl2sql/internal/sqlagent"
	"github.com/lerianstudio/nl2sql/internal/stage"
)

// Engine wires the ingress prefix, the per-SubQuery Agent, and the two
// reduce stages (ResultPlanner then Aggregator) into one runnable graph.
type Engine struct {
	ingress       []stage.Node
	agent         *sqlagent.Agent
	resultPlanner stage.Node
	aggregator    stage.Node
	globalTimeout time.Duration
}

// New builds an Engine. ingress runs in order before decomposition freezes
// SubQueries; agent runs once per frozen SubQuery, fanned out by
// TopologicalLayers; resultPlanner runs once every SubQuery has settled and
// sees the whole frozen set, unlike the per-SubQuery Agent it ran inside of
// previously; aggregator then evaluates the ResultPlan it produced.
// globalTimeout is the hard deadline spec.md §4.11 requires regardless of
// per-node progress; zero means no additional deadline beyond ctx's own.
func New(ingress []stage.Node, agent *sqlagent.Agent, resultPlanner, aggregator stage.Node, globalTimeout time.Duration) *Engine {
	return &Engine{ingress: ingress, agent: agent, resultPlanner: resultPlanner, aggregator: aggregator, globalTimeout: globalTimeout}
}

// Run drives base through the whole graph and returns the final State.
// On global deadline expiry it returns the partial State accumulated so far
// (errors and any completed sub_results intact, per spec.md §4.11) alongside
// a PIPELINE_TIMEOUT error; the caller decides how to report a partial
// answer.
func (e *Engine) Run(ctx context.Context, base pipeline.State) (pipeline.State, error) {
	if e.globalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.globalTimeout)
		defer cancel()
	}

	state := base

	for _, node := range e.ingress {
		traced := stage.NewTraced(node)

		delta, err := traced.Run(ctx, state)
		if err != nil {
			state = pipeline.Merge(state, pipeline.Delta{NewErrors: []*pipelineerr.Error{asPipelineError(err, node.Name())}})

			return state, timeoutAware(ctx, err)
		}

		state = pipeline.Merge(state, delta)
	}

	state, err := e.runFanOut(ctx, state)
	if err != nil {
		return state, timeoutAware(ctx, err)
	}

	rpTraced := stage.NewTraced(e.resultPlanner)

	rpDelta, err := rpTraced.Run(ctx, state)
	if err != nil {
		state = pipeline.Merge(state, pipeline.Delta{NewErrors: []*pipelineerr.Error{asPipelineError(err, e.resultPlanner.Name())}})

		return state, timeoutAware(ctx, err)
	}

	state = pipeline.Merge(state, rpDelta)

	traced := stage.NewTraced(e.aggregator)

	delta, err := traced.Run(ctx, state)
	if err != nil {
		state = pipeline.Merge(state, pipeline.Delta{NewErrors: []*pipelineerr.Error{asPipelineError(err, e.aggregator.Name())}})

		return state, timeoutAware(ctx, err)
	}

	return pipeline.Merge(state, delta), nil
}

// runFanOut drives every frozen SubQuery through the SQL Agent, one
// topological layer at a time: every SubQuery in a layer runs concurrently,
// and a layer only starts once every SubQuery it depends on has settled. A
// SubQuery's own failure (fatal or retry-exhausted) is recorded on State and
// does not abort sibling SubQueries in the same layer — only context
// cancellation (global deadline or explicit cancel) stops the fan-out early.
func (e *Engine) runFanOut(ctx context.Context, state pipeline.State) (pipeline.State, error) {
	graph := pipeline.NewSubQueryGraph(state.SubQueries)

	layers, err := graph.TopologicalLayers()
	if err != nil {
		return state, err
	}

	for _, layer := range layers {
		sort.Strings(layer)

		results := make([]pipelineDeltas, len(layer))

		g, gctx := errgroup.WithContext(ctx)

		for i, id := range layer {
			i, id := i, id

			sq, ok := graph.Get(id)
			if !ok {
				continue
			}

			g.Go(func() error {
				deltas, runErr := e.agent.Run(gctx, state, sq)
				results[i] = pipelineDeltas{deltas: deltas, err: runErr}

				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return state, err
		}

		for _, r := range results {
			for _, d := range r.deltas {
				state = pipeline.Merge(state, d)
			}
		}
	}

	return state, nil
}

// pipelineDeltas captures one SubQuery's Agent.Run outcome so results from
// concurrent goroutines can be merged back into state in deterministic
// (sorted-by-SubQuery-ID) order after the layer's errgroup.Wait returns.
type pipelineDeltas struct {
	deltas []pipeline.Delta
	err    error
}

// asPipelineError normalizes any error into a *pipelineerr.Error tagged with
// nodeID, so ingress/reduce failures land in State.Errors the same shape a
// stage.Node failure would.
func asPipelineError(err error, nodeID string) *pipelineerr.Error {
	if pe, ok := pipelineerr.As(err); ok {
		return pe.WithNode(nodeID, pe.SubQuery)
	}

	return pipelineerr.Wrap(pipelineerr.CodeSandboxCrash, fmt.Sprintf("node %s failed", nodeID), err).WithNode(nodeID, "")
}

// timeoutAware reclassifies err as PIPELINE_TIMEOUT when ctx's deadline is
// what actually ended the run, so the caller can distinguish a hung
// downstream call from a genuine node failure.
func timeoutAware(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return pipelineerr.Wrap(pipelineerr.CodePipelineTimeout, "global deadline exceeded", ctx.Err())
	}

	return err
}
