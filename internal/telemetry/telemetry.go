package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/lerianstudio/nl2sql/internal/logging"
)

// Config configures the telemetry providers. Exporter carries the
// OBSERVABILITY_EXPORTER setting: "otlp" and "console" both install SDK
// tracer/meter providers with no exporter attached, so spans and metrics are
// not sent anywhere, and OTLPEndpoint is not read.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Exporter       string // "none" | "console" | "otlp"
	OTLPEndpoint   string
}

// Telemetry owns the process-wide tracer and meter providers, mirroring the
// Telemetry struct the ledger bootstrap builds once at startup.
type Telemetry struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	shutdown       []func(context.Context) error
}

// Init builds the tracer/meter providers per cfg.Exporter and installs them
// as the process-wide otel providers.
func Init(ctx context.Context, cfg Config, logger logging.Logger) (*Telemetry, error) {
	res, err := sdkresource.New(ctx,
		sdkresource.WithAttributes(),
	)
	if err != nil {
		return nil, fmt.Errorf("build telemetry resource: %w", err)
	}

	t := &Telemetry{}

	switch cfg.Exporter {
	case "otlp", "console":
		tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
		t.TracerProvider = tp
		t.MeterProvider = mp
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
		t.shutdown = append(t.shutdown, tp.Shutdown, mp.Shutdown)
	default:
		// "none": providers stay nil, callers fall back to otel's no-op
		// global providers.
		logger.Info("telemetry exporter disabled")
	}

	return t, nil
}

// Shutdown flushes and closes every provider Init started.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	for _, fn := range t.shutdown {
		if err := fn(ctx); err != nil {
			return err
		}
	}

	return nil
}
