package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/lerianstudio/nl2sql/internal/resilience"
)

// Meter wraps the three instruments spec.md §4.12 names: a node-duration
// histogram, a token-usage counter, and breaker-event counters. Grounded on
// the teacher's mopentelemetry bootstrap pattern (a small struct of
// pre-created instruments built once from the global MeterProvider, passed
// by reference rather than re-looked-up per call).
type Meter struct {
	nodeDuration  metric.Float64Histogram
	tokenUsage    metric.Int64Counter
	breakerEvents metric.Int64Counter
}

// NewMeter creates every instrument against otel's global MeterProvider
// (installed by telemetry.Init, or the otel no-op default when telemetry is
// disabled).
func NewMeter() (*Meter, error) {
	m := otel.Meter("nl2sql")

	nodeDuration, err := m.Float64Histogram("node.duration",
		metric.WithDescription("wall-clock duration of one pipeline stage invocation"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create node.duration histogram: %w", err)
	}

	tokenUsage, err := m.Int64Counter("token.usage",
		metric.WithDescription("LLM tokens consumed, by direction"))
	if err != nil {
		return nil, fmt.Errorf("create token.usage counter: %w", err)
	}

	breakerEvents, err := m.Int64Counter("breaker.events",
		metric.WithDescription("circuit breaker state transitions, by domain and event"))
	if err != nil {
		return nil, fmt.Errorf("create breaker.events counter: %w", err)
	}

	return &Meter{nodeDuration: nodeDuration, tokenUsage: tokenUsage, breakerEvents: breakerEvents}, nil
}

// RecordNodeDuration records one stage invocation's wall-clock duration.
func (m *Meter) RecordNodeDuration(ctx context.Context, node string, seconds float64) {
	m.nodeDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("node", node)))
}

// RecordTokenUsage records tokens consumed by one LLM call, split by
// direction ("input" or "output") so prompt and completion costs can be
// distinguished downstream.
func (m *Meter) RecordTokenUsage(ctx context.Context, agent, direction string, tokens int64) {
	if tokens <= 0 {
		return
	}

	m.tokenUsage.Add(ctx, tokens,
		metric.WithAttributes(attribute.String("agent", agent), attribute.String("direction", direction)))
}

// RecordBreakerEvent records one circuit breaker state transition (e.g.
// "open", "close", "half_open") for domain (e.g. "llm", "vector",
// "adapter").
func (m *Meter) RecordBreakerEvent(ctx context.Context, domain, event string) {
	m.breakerEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("domain", domain), attribute.String("event", event)))
}

// RegisterBreakerStateGauge publishes a breaker.state gauge per domain,
// sampled on every collection cycle rather than pushed on transition —
// resilience.Breaker.State()/Counts() already expose the current snapshot,
// per the "used by observability to publish a breaker.state gauge per
// domain" comment on Breaker.State. 0=closed, 1=half-open, 2=open, matching
// gobreaker's own State ordering.
func (m *Meter) RegisterBreakerStateGauge(breakers map[resilience.Domain]*resilience.Breaker) error {
	meter := otel.Meter("nl2sql")

	gauge, err := meter.Int64ObservableGauge("breaker.state",
		metric.WithDescription("circuit breaker state per domain: 0=closed, 1=half-open, 2=open"))
	if err != nil {
		return fmt.Errorf("create breaker.state gauge: %w", err)
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for domain, b := range breakers {
			if b == nil {
				continue
			}

			o.ObserveInt64(gauge, int64(b.State()), metric.WithAttributes(attribute.String("domain", string(domain))))
		}

		return nil
	}, gauge)
	if err != nil {
		return fmt.Errorf("register breaker.state callback: %w", err)
	}

	return nil
}
