package sandbox_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lerianstudio/nl2sql/internal/logging"
	"github.com/lerianstudio/nl2sql/internal/pipelineerr"
	"github.com/lerianstudio/nl2sql/internal/sandbox"
)

func TestPoolRunReturnsResult(t *testing.T) {
	p := sandbox.NewPool("test", 2, time.Second, logging.NoneLogger{})

	result, err := p.Run(context.Background(), func(ctx context.Context) (any, error) {
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestPoolRecoversFromPanic(t *testing.T) {
	p := sandbox.NewPool("test", 1, time.Second, logging.NoneLogger{})

	_, err := p.Run(context.Background(), func(ctx context.Context) (any, error) {
		panic("boom")
	})

	require.Error(t, err)

	pe, ok := pipelineerr.As(err)
	require.True(t, ok)
	assert.Equal(t, pipelineerr.CodeSandboxCrash, pe.Code)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := sandbox.NewPool("test", 2, 0, logging.NoneLogger{})

	var inFlight, maxSeen int32
	release := make(chan struct{})

	run := func() {
		_, _ = p.Run(context.Background(), func(ctx context.Context) (any, error) {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				old := atomic.LoadInt32(&maxSeen)
				if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
					break
				}
			}

			<-release
			atomic.AddInt32(&inFlight, -1)

			return nil, nil
		})
	}

	for i := 0; i < 5; i++ {
		go run()
	}

	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, int(atomic.LoadInt32(&maxSeen)), 2)
	close(release)
}

func TestPoolRunCanceledWhileWaitingForSlot(t *testing.T) {
	p := sandbox.NewPool("test", 1, 0, logging.NoneLogger{})
	release := make(chan struct{})

	go func() {
		_, _ = p.Run(context.Background(), func(ctx context.Context) (any, error) {
			<-release
			return nil, nil
		})
	}()

	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx, func(ctx context.Context) (any, error) {
		t.Fatal("should not run: no free slot and context already canceled")
		return nil, nil
	})

	require.Error(t, err)
	close(release)
}
