package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/lerianstudio/nl2sql/internal/pipelineerr"
)

// RetryConfig bounds the SQL Agent's Refining loop and any other bounded
// retry in the pipeline: a fixed attempt ceiling with exponential backoff and
// full jitter, the shape spec.md's "bounded retries with exponential backoff
// and jitter" names directly.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}

	if c.BaseDelay <= 0 {
		c.BaseDelay = 200 * time.Millisecond
	}

	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Second
	}

	return c
}

// Retryable is satisfied by any error that can report whether a retry should
// be attempted, matching pipelineerr.Error's Retryable method without
// importing that concrete type here.
type Retryable interface {
	Retryable() bool
}

// Do runs fn up to cfg.MaxAttempts times, sleeping a jittered exponential
// backoff between attempts. It stops early when ctx is canceled, or when fn's
// error implements Retryable and reports false — matching the SQL Agent
// state machine's non-retryable error codes (SECURITY_VIOLATION,
// INTENT_REJECTED, ...).
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context, attempt int) error) error {
	cfg = cfg.withDefaults()

	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return pipelineerr.Wrap(pipelineerr.CodePipelineTimeout, "retry loop canceled", err)
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}

		if r, ok := lastErr.(Retryable); ok && !r.Retryable() {
			return lastErr
		}

		if attempt == cfg.MaxAttempts-1 {
			break
		}

		delay := backoff(cfg, attempt)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return pipelineerr.Wrap(pipelineerr.CodePipelineTimeout, "retry loop canceled", ctx.Err())
		case <-timer.C:
		}
	}

	return lastErr
}

// backoff computes base*2^attempt capped at MaxDelay, then applies full
// jitter (a uniform draw in [0, cap)) so concurrent retriers do not
// synchronize on the same wall-clock instant.
func backoff(cfg RetryConfig, attempt int) time.Duration {
	capped := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt))
	if capped > float64(cfg.MaxDelay) {
		capped = float64(cfg.MaxDelay)
	}

	if capped <= 0 {
		return 0
	}

	return time.Duration(rand.Int63n(int64(capped)))
}
