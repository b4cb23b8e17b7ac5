// Package cache implements spec.md's schema cache (SPEC_FULL.md §4.13): a
// Redis-backed cache-aside layer in front of internal/schema's snapshot
// lookups, grounded on the teacher's common/mredis.RedisConnection
// singleton-connect wrapper and the ledger's
// query.GetAccountRedisOrDatabase cache-aside/SetNX-lock pattern.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lerianstudio/nl2sql/internal/logging"
)

// ErrNotFound is returned by Get when key is absent, mirroring the
// teacher's errors.Is(err, redis.Nil) miss check without leaking the
// go-redis sentinel through the interface boundary.
var ErrNotFound = errors.New("cache: key not found")

// Store is the narrow contract internal/schema and internal/engine depend
// on, matching the teacher's redis.RedisRepository interface split between
// domain contract and concrete client.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX acquires an advisory lock, mirroring the teacher's "lock:<key>"
	// convention for serializing concurrent re-index/recompute races.
	SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	Close() error
}

// RedisStore is the default Store, backed by a single *redis.Client
// connection, matching common/mredis.RedisConnection's Connect-once-reuse
// lifecycle.
type RedisStore struct {
	client *redis.Client
	logger logging.Logger
}

// NewRedisStore connects to addr and pings it once before returning, matching
// the teacher's RedisConnection.Connect fail-fast behavior. A redis:// URL is
// parsed with redis.ParseURL; any value ParseURL rejects (such as host:port)
// is used as a plain address.
func NewRedisStore(ctx context.Context, addr string, logger logging.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = logging.NoneLogger{}
	}

	opts, err := redis.ParseURL(addr)
	if err != nil {
		opts = &redis.Options{Addr: addr}
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Errorf("redis ping failed: %s", err)
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	logger.Info("connected to redis schema cache")

	return &RedisStore{client: client, logger: logger}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}

	if err != nil {
		return "", fmt.Errorf("cache get %s: %w", key, err)
	}

	return val, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}

	return nil
}

func (s *RedisStore) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, "locked", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cache setnx %s: %w", key, err)
	}

	return ok, nil
}

func (s *RedisStore) Del(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache del %s: %w", key, err)
	}

	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// NoneCache discards every write and reports every read as a miss. Used
// when RedisAddr is unset, matching observability.NoneSink's pattern for
// optional infrastructure that degrades to a no-op rather than an error.
type NoneCache struct{}

func (NoneCache) Get(context.Context, string) (string, error) { return "", ErrNotFound }
func (NoneCache) Set(context.Context, string, string, time.Duration) error { return nil }
func (NoneCache) SetNX(context.Context, string, time.Duration) (bool, error) { return true, nil }
func (NoneCache) Del(context.Context, string) error { return nil }
func (NoneCache) Close() error                      { return nil }
