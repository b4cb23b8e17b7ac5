package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lerianstudio/nl2sql/internal/schema"
)

// memoryStore is an in-process Store fake, standing in for RedisStore in
// tests since the pack provides no in-memory redis client.
type memoryStore struct {
	mu     sync.Mutex
	values map[string]string
	locks  map[string]bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: make(map[string]string), locks: make(map[string]bool)}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}

	return v, nil
}

func (m *memoryStore) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value

	return nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.locks[key] {
		return false, nil
	}

	m.locks[key] = true

	return true, nil
}

func (m *memoryStore) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	delete(m.locks, key)

	return nil
}

func (m *memoryStore) Close() error { return nil }

func ordersTables() []schema.Table {
	return []schema.Table{{
		Name: "orders",
		Columns: []schema.Column{
			{Name: "id", Type: schema.TypeInteger, PrimaryKey: true},
			{Name: "total", Type: schema.TypeFloat},
		},
	}}
}

func TestSchemaCacheComputesOnMissAndCachesResult(t *testing.T) {
	store := newMemoryStore()
	c := NewSchemaCache(store, time.Minute, time.Minute, nil)

	var computeCalls int32
	compute := func(context.Context) (schema.Snapshot, error) {
		atomic.AddInt32(&computeCalls, 1)
		return schema.NewSnapshot("orders_db", ordersTables()), nil
	}

	snap, err := c.GetOrCompute(context.Background(), "orders_db", compute)
	require.NoError(t, err)
	assert.Equal(t, "orders_db", snap.Datasource)
	assert.EqualValues(t, 1, atomic.LoadInt32(&computeCalls))

	snap2, err := c.GetOrCompute(context.Background(), "orders_db", compute)
	require.NoError(t, err)
	assert.Equal(t, snap.Fingerprint, snap2.Fingerprint)
	assert.EqualValues(t, 1, atomic.LoadInt32(&computeCalls), "second call must hit the cache, not recompute")
}

func TestSchemaCacheInvalidateForcesRecompute(t *testing.T) {
	store := newMemoryStore()
	c := NewSchemaCache(store, time.Minute, time.Minute, nil)

	var computeCalls int32
	compute := func(context.Context) (schema.Snapshot, error) {
		atomic.AddInt32(&computeCalls, 1)
		return schema.NewSnapshot("orders_db", ordersTables()), nil
	}

	_, err := c.GetOrCompute(context.Background(), "orders_db", compute)
	require.NoError(t, err)

	require.NoError(t, c.Invalidate(context.Background(), "orders_db"))

	_, err = c.GetOrCompute(context.Background(), "orders_db", compute)
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&computeCalls))
}

func TestSchemaCacheLoserWaitsForWinnerInsteadOfRecomputing(t *testing.T) {
	store := newMemoryStore()
	// Simulate the lock already held by a peer that will populate the cache shortly.
	_, err := store.SetNX(context.Background(), lockKey("orders_db"), time.Minute)
	require.NoError(t, err)

	c := NewSchemaCache(store, time.Minute, time.Minute, nil)

	go func() {
		time.Sleep(50 * time.Millisecond)
		snap := schema.NewSnapshot("orders_db", ordersTables())
		c.put(context.Background(), snap)
	}()

	var computeCalls int32
	compute := func(context.Context) (schema.Snapshot, error) {
		atomic.AddInt32(&computeCalls, 1)
		return schema.NewSnapshot("orders_db", ordersTables()), nil
	}

	snap, err := c.GetOrCompute(context.Background(), "orders_db", compute)
	require.NoError(t, err)
	assert.Equal(t, "orders_db", snap.Datasource)
	assert.EqualValues(t, 0, atomic.LoadInt32(&computeCalls), "loser must not recompute once the winner populates the cache")
}

func TestNoneCacheAlwaysMissesAndNeverErrors(t *testing.T) {
	var c NoneCache

	_, err := c.Get(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := c.SetNX(context.Background(), "lock", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.Set(context.Background(), "x", "y", time.Second))
	require.NoError(t, c.Del(context.Background(), "x"))
	require.NoError(t, c.Close())
}
