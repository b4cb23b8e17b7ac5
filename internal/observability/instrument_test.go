package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lerianstudio/nl2sql/internal/llmgateway"
	"github.com/lerianstudio/nl2sql/internal/pipeline"
)

type stubNode struct {
	name  string
	delta pipeline.Delta
	err   error
}

func (n stubNode) Name() string { return n.name }
func (n stubNode) Run(context.Context, pipeline.State) (pipeline.Delta, error) {
	return n.delta, n.err
}

func TestInstrumentedNodeRecordsDurationAndPassesThroughResult(t *testing.T) {
	m, err := NewMeter()
	require.NoError(t, err)

	inner := stubNode{name: "planner", delta: pipeline.Delta{NewWarnings: []string{"hi"}}}
	node := Instrument(inner, m)

	assert.Equal(t, "planner", node.Name())

	delta, err := node.Run(context.Background(), pipeline.State{})
	require.NoError(t, err)
	assert.Equal(t, []string{"hi"}, delta.NewWarnings)
}

func TestInstrumentedNodePassesThroughError(t *testing.T) {
	m, err := NewMeter()
	require.NoError(t, err)

	wantErr := errors.New("boom")
	node := Instrument(stubNode{name: "executor", err: wantErr}, m)

	_, err = node.Run(context.Background(), pipeline.State{})
	assert.Equal(t, wantErr, err)
}

type recordingAgent struct {
	resp llmgateway.Response
	err  error
}

func (a *recordingAgent) Name() string { return "static" }
func (a *recordingAgent) Invoke(context.Context, llmgateway.Request) (llmgateway.Response, error) {
	return a.resp, a.err
}

func TestMeteringAgentWritesAuditEventAndRecordsTokens(t *testing.T) {
	m, err := NewMeter()
	require.NoError(t, err)

	sink := &recordingAuditSink{}
	agent := NewMeteringAgent(&recordingAgent{resp: llmgateway.Response{Text: "SELECT 1", InputTokens: 10, OutputTokens: 4}}, m, sink)

	resp, err := agent.Invoke(context.Background(), llmgateway.Request{UserPrompt: "plan it"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", resp.Text)

	require.Len(t, sink.events, 1)
	assert.Equal(t, "llmgateway", sink.events[0].Node)
	assert.Equal(t, "static", sink.events[0].Model)
	assert.Equal(t, 10, sink.events[0].InputTokens)
}

func TestMeteringAgentAuditsFailedInvocations(t *testing.T) {
	m, err := NewMeter()
	require.NoError(t, err)

	sink := &recordingAuditSink{}
	wantErr := errors.New("provider 500")
	agent := NewMeteringAgent(&recordingAgent{err: wantErr}, m, sink)

	_, err = agent.Invoke(context.Background(), llmgateway.Request{UserPrompt: "plan it"})
	assert.Equal(t, wantErr, err)
	require.Len(t, sink.events, 1)
	assert.Contains(t, sink.events[0].ResponseSanitized, "provider 500")
}

type recordingAuditSink struct {
	events []AuditEvent
}

func (s *recordingAuditSink) Write(_ context.Context, ev AuditEvent) error {
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingAuditSink) Close() error { return nil }
