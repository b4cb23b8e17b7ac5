package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lerianstudio/nl2sql/internal/pipelineerr"
	"github.com/lerianstudio/nl2sql/internal/resilience"
)

func TestDoSucceedsOnFirstAttempt(t *testing.T) {
	calls := 0
	err := resilience.Do(context.Background(), resilience.RetryConfig{}, func(ctx context.Context, attempt int) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesUpToMaxAttempts(t *testing.T) {
	calls := 0
	cfg := resilience.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

	err := resilience.Do(context.Background(), cfg, func(ctx context.Context, attempt int) error {
		calls++
		return pipelineerr.New(pipelineerr.CodeExecutionFailed, "transient")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	calls := 0
	cfg := resilience.RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond}

	err := resilience.Do(context.Background(), cfg, func(ctx context.Context, attempt int) error {
		calls++
		return pipelineerr.New(pipelineerr.CodeSecurityViolation, "blocked")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoStopsWhenContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := resilience.Do(ctx, resilience.RetryConfig{}, func(ctx context.Context, attempt int) error {
		t.Fatal("fn should not be called with an already-canceled context")
		return nil
	})

	require.Error(t, err)

	var pe *pipelineerr.Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, pipelineerr.CodePipelineTimeout, pe.Code)
}
