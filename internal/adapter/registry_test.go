package adapter_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lerianstudio/nl2sql/internal/adapter"
)

type fakeAdapter struct {
	name   string
	closed bool
}

func (f *fakeAdapter) Name() string { return f.name }
func (f *fakeAdapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{Dialect: adapter.DialectPostgres}
}
func (f *fakeAdapter) DryRun(ctx context.Context, query string, args []any) error { return nil }
func (f *fakeAdapter) Execute(ctx context.Context, query string, args []any) ([]adapter.Row, error) {
	return nil, nil
}
func (f *fakeAdapter) Ping(ctx context.Context) error { return nil }
func (f *fakeAdapter) Close() error                   { f.closed = true; return nil }

func TestRegistryRegisterGetList(t *testing.T) {
	r := adapter.NewRegistry()
	a := &fakeAdapter{name: "sales_db"}
	r.Register(a)

	got, ok := r.Get("sales_db")
	require.True(t, ok)
	assert.Equal(t, a, got)
	assert.Equal(t, []string{"sales_db"}, r.List())
}

func TestRegistryGetMissing(t *testing.T) {
	r := adapter.NewRegistry()
	_, ok := r.Get("missing")
	assert.False(t, ok)
}

func TestRegistryRemoveClosesAdapter(t *testing.T) {
	r := adapter.NewRegistry()
	a := &fakeAdapter{name: "sales_db"}
	r.Register(a)

	require.NoError(t, r.Remove("sales_db"))
	assert.True(t, a.closed)

	_, ok := r.Get("sales_db")
	assert.False(t, ok)
}
