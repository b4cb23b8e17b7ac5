// Package telemetry carries the per-request observability context (trace id,
// tenant id, role, logger, tracer) through a single context.Context key, the
// same way the ledger component's CustomContextKeyValue avoids colliding
// separate context keys for logger and tracer.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/lerianstudio/nl2sql/internal/logging"
)

type requestContextKey struct{}

var ctxKey = requestContextKey{}

// RequestContext is the bundle of values every stage needs without having to
// thread them individually through function signatures.
type RequestContext struct {
	TraceID  string
	TenantID string
	Role     string
	Logger   logging.Logger
	Tracer   trace.Tracer
}

// WithRequestContext installs (or replaces) the request context.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, ctxKey, rc)
}

func fromContext(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(ctxKey).(*RequestContext)
	return rc
}

// TraceID returns the request trace id, or "" if none was installed.
func TraceID(ctx context.Context) string {
	if rc := fromContext(ctx); rc != nil {
		return rc.TraceID
	}

	return ""
}

// TenantID returns the request tenant id, or "" if none was installed.
func TenantID(ctx context.Context) string {
	if rc := fromContext(ctx); rc != nil {
		return rc.TenantID
	}

	return ""
}

// LoggerFromContext returns the logger installed with WithRequestContext, as
// given (no trace_id/tenant_id fields are added), falling back to a no-op
// logger.
func LoggerFromContext(ctx context.Context) logging.Logger {
	rc := fromContext(ctx)
	if rc == nil || rc.Logger == nil {
		return logging.NoneLogger{}
	}

	return rc.Logger
}

// TracerFromContext returns the request-scoped tracer, falling back to the
// global otel tracer named "nl2sql".
//
//nolint:ireturn
func TracerFromContext(ctx context.Context) trace.Tracer {
	if rc := fromContext(ctx); rc != nil && rc.Tracer != nil {
		return rc.Tracer
	}

	return otel.Tracer("nl2sql")
}
