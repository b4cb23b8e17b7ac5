package sandbox

import (
	"context"
	"time"

	"github.com/lerianstudio/nl2sql/internal/adapter"
	"github.com/lerianstudio/nl2sql/internal/logging"
	"github.com/lerianstudio/nl2sql/internal/pipelineerr"
)

// Manager owns the two sandboxed worker pools spec.md names: one for
// adapter query execution, one for vector-index indexing work. It holds the
// adapter.Registry and looks the datasource's adapter up on every call, so
// each call reuses the connection that registered adapter already owns
// rather than dialing per call.
type Manager struct {
	execPool  *Pool
	indexPool *Pool
	adapters  *adapter.Registry
}

// Config sizes the two pools and their per-task timeouts.
type Config struct {
	ExecPoolSize    int
	ExecTimeout     time.Duration
	IndexPoolSize   int
	IndexTimeout    time.Duration
}

// NewManager builds a Manager backed by adapters, sized per cfg.
func NewManager(cfg Config, adapters *adapter.Registry, logger logging.Logger) *Manager {
	return &Manager{
		execPool:  NewPool("exec", cfg.ExecPoolSize, cfg.ExecTimeout, logger),
		indexPool: NewPool("index", cfg.IndexPoolSize, cfg.IndexTimeout, logger),
		adapters:  adapters,
	}
}

// ExecuteResult is the outcome of a sandboxed adapter execution.
type ExecuteResult struct {
	Rows []adapter.Row
}

// Execute runs query against the named datasource's adapter inside the exec
// pool, bounding both its concurrency and its wall-clock time.
func (m *Manager) Execute(ctx context.Context, datasource, query string, args []any) (ExecuteResult, error) {
	a, ok := m.adapters.Get(datasource)
	if !ok {
		return ExecuteResult{}, adapterUnavailable(datasource)
	}

	result, err := m.execPool.Run(ctx, func(ctx context.Context) (any, error) {
		rows, err := a.Execute(ctx, query, args)
		return ExecuteResult{Rows: rows}, err
	})
	if err != nil {
		return ExecuteResult{}, err
	}

	return result.(ExecuteResult), nil
}

// DryRun validates query against datasource inside the exec pool without
// running it.
func (m *Manager) DryRun(ctx context.Context, datasource, query string, args []any) error {
	a, ok := m.adapters.Get(datasource)
	if !ok {
		return adapterUnavailable(datasource)
	}

	_, err := m.execPool.Run(ctx, func(ctx context.Context) (any, error) {
		return nil, a.DryRun(ctx, query, args)
	})

	return err
}

// RunIndexTask runs an arbitrary vector-indexing task (embedding + upsert)
// inside the index pool, isolated from the exec pool's concurrency budget so
// a burst of re-indexing never starves query execution.
func (m *Manager) RunIndexTask(ctx context.Context, task Task) (any, error) {
	return m.indexPool.Run(ctx, task)
}

func adapterUnavailable(datasource string) error {
	return pipelineerr.New(pipelineerr.CodeAdapterUnavailable, "no adapter registered for datasource "+datasource)
}
