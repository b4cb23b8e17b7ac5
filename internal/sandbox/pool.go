// Package sandbox runs adapter execution and vector-index work through two
// bounded-concurrency worker pools, isolating a panicking task from the rest
// of the pipeline the way a forked OS process would in a non-Go runtime —
// the idiomatic Go analogue spec.md's "sandboxed execution" names, built
// from goroutines + a semaphore + recover() rather than real process
// isolation.
package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/lerianstudio/nl2sql/internal/logging"
	"github.com/lerianstudio/nl2sql/internal/pipelineerr"
)

// Task is a unit of sandboxed work. It receives a context already bounded by
// the pool's per-task timeout.
type Task func(ctx context.Context) (any, error)

// Pool runs Tasks with bounded concurrency (a buffered channel used as a
// semaphore) and a fixed per-task timeout. A panicking Task is recovered and
// turned into a CodeSandboxCrash pipelineerr.Error instead of taking down the
// owning goroutine's caller.
type Pool struct {
	name    string
	sem     chan struct{}
	timeout time.Duration
	logger  logging.Logger
}

// NewPool builds a Pool with the given size (max concurrent tasks) and
// per-task timeout.
func NewPool(name string, size int, timeout time.Duration, logger logging.Logger) *Pool {
	if size <= 0 {
		size = 1
	}

	return &Pool{
		name:    name,
		sem:     make(chan struct{}, size),
		timeout: timeout,
		logger:  logger,
	}
}

// Run executes task, blocking until a pool slot is free or ctx is canceled.
// The task itself is bounded by the pool's timeout, nested inside (and
// clamped to) ctx's own deadline.
func (p *Pool) Run(ctx context.Context, task Task) (result any, err error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, pipelineerr.Wrap(pipelineerr.CodePipelineTimeout,
			p.name+" pool: context canceled while waiting for a slot", ctx.Err())
	}

	defer func() { <-p.sem }()

	taskCtx := ctx
	var cancel context.CancelFunc

	if p.timeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	return p.runGuarded(taskCtx, task)
}

// runGuarded invokes task in the current goroutine with panic recovery, the
// crash-isolation boundary every sandboxed task runs inside.
func (p *Pool) runGuarded(ctx context.Context, task Task) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorf("sandbox %s: task panicked: %v", p.name, r)
			err = pipelineerr.New(pipelineerr.CodeSandboxCrash, fmt.Sprintf("task panicked: %v", r))
			result = nil
		}
	}()

	return task(ctx)
}

// InUse reports how many of the pool's slots are currently occupied.
func (p *Pool) InUse() int {
	return len(p.sem)
}

// Capacity reports the pool's configured concurrency ceiling.
func (p *Pool) Capacity() int {
	return cap(p.sem)
}
