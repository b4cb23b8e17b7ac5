package resilience

import (
	"context"
	"time"
)

// WithNodeTimeout bounds a single stage node's execution to d, independent of
// (and always at or before) the pipeline's own global deadline — mirrors how
// the sandbox's per-task context.WithTimeout nests inside the request-level
// deadline without ever extending it.
func WithNodeTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, d)
}

// WithPipelineDeadline installs the request-wide deadline named by spec.md's
// global timeout. Every node-level timeout created via WithNodeTimeout against
// a descendant of this context is clamped to whichever deadline is sooner.
func WithPipelineDeadline(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}

// DeadlineExceeded reports whether ctx's error is specifically a deadline
// expiry rather than an explicit Cancel call, so callers can distinguish
// PIPELINE_TIMEOUT from a caller-initiated abort.
func DeadlineExceeded(ctx context.Context) bool {
	return ctx.Err() == context.DeadlineExceeded
}
