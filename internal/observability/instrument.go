package observability

import (
	"context"
	"time"

	"github.com/lerianstudio/nl2sql/internal/llmgateway"
	"github.com/lerianstudio/nl2sql/internal/pipeline"
)

// stageNode is the narrow subset of stage.Node this package depends on,
// avoided as a direct import so observability never needs to know about
// the stage package's Traced/panic-recovery wrapping — it only measures.
type stageNode interface {
	Name() string
	Run(ctx context.Context, state pipeline.State) (pipeline.Delta, error)
}

// InstrumentedNode wraps a stage.Node, recording its wall-clock duration
// through a Meter on every call, independent of whatever tracing/panic
// wrapper (e.g. stage.Traced) also wraps the same node.
type InstrumentedNode struct {
	node  stageNode
	meter *Meter
}

// Instrument wraps node so every Run records node.duration.
func Instrument(node stageNode, meter *Meter) *InstrumentedNode {
	return &InstrumentedNode{node: node, meter: meter}
}

func (n *InstrumentedNode) Name() string { return n.node.Name() }

func (n *InstrumentedNode) Run(ctx context.Context, state pipeline.State) (pipeline.Delta, error) {
	start := time.Now()
	delta, err := n.node.Run(ctx, state)
	n.meter.RecordNodeDuration(ctx, n.node.Name(), time.Since(start).Seconds())

	return delta, err
}

// MeteringAgent wraps an llmgateway.Agent, recording token usage through a
// Meter and appending a sanitized AuditEvent to sink on every Invoke call —
// the integration point spec.md §4.12 describes ("every LLM interaction is
// appended to the audit trail") that the Agent/Gateway seam itself stays
// agnostic of.
type MeteringAgent struct {
	inner llmgateway.Agent
	meter *Meter
	sink  AuditSink
}

// NewMeteringAgent wraps inner so every Invoke call is metered and audited.
func NewMeteringAgent(inner llmgateway.Agent, meter *Meter, sink AuditSink) *MeteringAgent {
	return &MeteringAgent{inner: inner, meter: meter, sink: sink}
}

func (a *MeteringAgent) Name() string { return a.inner.Name() }

func (a *MeteringAgent) Invoke(ctx context.Context, req llmgateway.Request) (llmgateway.Response, error) {
	resp, err := a.inner.Invoke(ctx, req)

	responseText := resp.Text
	if err != nil {
		responseText = err.Error()
	}

	_ = a.sink.Write(ctx, AuditEvent{
		Timestamp:         time.Now(),
		Node:              "llmgateway",
		PromptSanitized:   req.UserPrompt,
		ResponseSanitized: responseText,
		Model:             a.inner.Name(),
		InputTokens:       resp.InputTokens,
		OutputTokens:      resp.OutputTokens,
	})

	a.meter.RecordTokenUsage(ctx, a.inner.Name(), "input", int64(resp.InputTokens))
	a.meter.RecordTokenUsage(ctx, a.inner.Name(), "output", int64(resp.OutputTokens))

	return resp, err
}
