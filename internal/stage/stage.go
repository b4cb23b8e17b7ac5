// Package stage holds one Node implementation per pipeline stage named in
// spec.md §4.9 (Semantic, IntentValidator, SchemaRetriever, Decomposer,
// Planner, LogicalValidator, Generator, PhysicalValidator, Executor,
// Refiner, Aggregator), each a pure function of (context, pipeline.State)
// returning a pipeline.Delta instead of mutating State — the message-passing
// rearchitecture SPEC_FULL.md §9 calls for.
package stage

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/lerianstudio/nl2sql/internal/pipeline"
	"github.com/lerianstudio/nl2sql/internal/pipelineerr"
	"github.com/lerianstudio/nl2sql/internal/telemetry"
)

// Node is one stage in the pipeline graph. Implementations must not mutate
// the State they receive; every change is expressed as the returned Delta.
type Node interface {
	Name() string
	Run(ctx context.Context, state pipeline.State) (pipeline.Delta, error)
}

// Traced wraps a Node with a start/end span, a duration record and panic
// recovery that converts a panic into a SANDBOX_CRASH PipelineError instead
// of taking down the runtime — the same span-pair-plus-HandleSpanError
// pattern the teacher's asset.postgresql.go applies around every repository
// call, generalized from a single DB call to an arbitrary stage.
type Traced struct {
	Node Node
}

// NewTraced wraps n so every Run call is traced and panic-safe.
func NewTraced(n Node) *Traced {
	return &Traced{Node: n}
}

func (t *Traced) Name() string {
	return t.Node.Name()
}

func (t *Traced) Run(ctx context.Context, state pipeline.State) (delta pipeline.Delta, err error) {
	tracer := telemetry.TracerFromContext(ctx)
	logger := telemetry.LoggerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "stage."+t.Node.Name())
	defer span.End()

	span.SetAttributes(attribute.String("trace_id", state.TraceID), attribute.String("tenant_id", state.TenantID))

	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			perr := pipelineerr.New(pipelineerr.CodeSandboxCrash,
				fmt.Sprintf("stage %s panicked: %v", t.Node.Name(), r)).WithNode(t.Node.Name(), "")
			span.RecordError(perr)
			span.SetStatus(codes.Error, perr.Error())
			logger.Errorf("stage %s panicked after %s: %v", t.Node.Name(), time.Since(start), r)
			err = perr
		}
	}()

	delta, err = t.Node.Run(ctx, state)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warnf("stage %s failed after %s: %v", t.Node.Name(), time.Since(start), err)

		return delta, err
	}

	span.SetStatus(codes.Ok, "")
	logger.Debugf("stage %s completed in %s", t.Node.Name(), time.Since(start))

	return delta, nil
}

// event builds a ReasoningEvent for stageName, timestamped now.
func event(stageName, message string) pipeline.ReasoningEvent {
	return pipeline.ReasoningEvent{Stage: stageName, Message: message, Timestamp: time.Now()}
}
