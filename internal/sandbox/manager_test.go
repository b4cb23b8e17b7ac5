package sandbox_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lerianstudio/nl2sql/internal/adapter"
	"github.com/lerianstudio/nl2sql/internal/logging"
	"github.com/lerianstudio/nl2sql/internal/pipelineerr"
	"github.com/lerianstudio/nl2sql/internal/sandbox"
)

type fakeAdapter struct {
	name    string
	rows    []adapter.Row
	execErr error
	dryErr  error
}

func (f *fakeAdapter) Name() string                          { return f.name }
func (f *fakeAdapter) Capabilities() adapter.Capabilities     { return adapter.Capabilities{} }
func (f *fakeAdapter) DryRun(ctx context.Context, q string, a []any) error { return f.dryErr }
func (f *fakeAdapter) Execute(ctx context.Context, q string, a []any) ([]adapter.Row, error) {
	return f.rows, f.execErr
}
func (f *fakeAdapter) Ping(ctx context.Context) error { return nil }
func (f *fakeAdapter) Close() error                   { return nil }

func newManager(a adapter.Adapter) *sandbox.Manager {
	reg := adapter.NewRegistry()
	reg.Register(a)

	return sandbox.NewManager(sandbox.Config{
		ExecPoolSize:  2,
		ExecTimeout:   time.Second,
		IndexPoolSize: 1,
		IndexTimeout:  time.Second,
	}, reg, logging.NoneLogger{})
}

func TestManagerExecuteReturnsRows(t *testing.T) {
	fa := &fakeAdapter{name: "sales_db", rows: []adapter.Row{{"id": 1}}}
	mgr := newManager(fa)

	result, err := mgr.Execute(context.Background(), "sales_db", "SELECT 1", nil)
	require.NoError(t, err)
	assert.Equal(t, fa.rows, result.Rows)
}

func TestManagerExecuteUnknownDatasource(t *testing.T) {
	mgr := newManager(&fakeAdapter{name: "sales_db"})

	_, err := mgr.Execute(context.Background(), "missing", "SELECT 1", nil)
	require.Error(t, err)

	pe, ok := pipelineerr.As(err)
	require.True(t, ok)
	assert.Equal(t, pipelineerr.CodeAdapterUnavailable, pe.Code)
}

func TestManagerDryRunPropagatesAdapterError(t *testing.T) {
	fa := &fakeAdapter{name: "sales_db", dryErr: errors.New("syntax error")}
	mgr := newManager(fa)

	err := mgr.DryRun(context.Background(), "sales_db", "SELEC 1", nil)
	require.Error(t, err)
}

func TestManagerRunIndexTaskIsolatedFromExecPool(t *testing.T) {
	mgr := newManager(&fakeAdapter{name: "sales_db"})

	result, err := mgr.RunIndexTask(context.Background(), func(ctx context.Context) (any, error) {
		return "indexed", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "indexed", result)
}
