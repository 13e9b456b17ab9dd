package configcache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/steveyegge/foundry/internal/codec"
	"github.com/steveyegge/foundry/internal/types"
)

const (
	defaultRedisNamespace = "foundry"
	defaultRedisRetention = 7 * 24 * time.Hour
)

// putScript writes the snapshot only when its version exceeds the stored
// one. Returns -1 on success, otherwise the current version. Invalidation
// keeps the version field, so a lagging writer cannot resurrect an older
// snapshot after an invalidate.
var putScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
  return tonumber(cur)
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'data', ARGV[2], 'invalidated', '0')
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return -1
`)

// RedisOption configures a RedisTier.
type RedisOption func(*RedisTier)

// WithRedisNamespace sets the key prefix.
func WithRedisNamespace(ns string) RedisOption {
	return func(r *RedisTier) {
		if ns != "" {
			r.namespace = ns
		}
	}
}

// WithRedisRetention sets how long an untouched key survives in Redis.
// Freshness is governed by the snapshot TTL, not by this.
func WithRedisRetention(d time.Duration) RedisOption {
	return func(r *RedisTier) {
		if d > 0 {
			r.retention = d
		}
	}
}

// RedisTier is the shared distributed tier. Each key is a hash with
// version, data (deterministic CBOR), and invalidated fields.
type RedisTier struct {
	client    redis.UniversalClient
	namespace string
	retention time.Duration
	closed    atomic.Bool
}

// NewRedisTier connects to redisURL (e.g. "redis://localhost:6379/0").
func NewRedisTier(ctx context.Context, redisURL string, opts ...RedisOption) (*RedisTier, error) {
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisTierFromClient(client, opts...), nil
}

// NewRedisTierFromClient wraps an existing client. Close closes it.
func NewRedisTierFromClient(client redis.UniversalClient, opts ...RedisOption) *RedisTier {
	r := &RedisTier{
		client:    client,
		namespace: defaultRedisNamespace,
		retention: defaultRedisRetention,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisTier) key(k types.SnapshotKey) string {
	return r.namespace + ":snapshot:" + k.Organization + "/" + k.Project
}

func (r *RedisTier) Name() string { return TierDistributed }

func (r *RedisTier) Get(ctx context.Context, key types.SnapshotKey) (Entry, error) {
	if r.closed.Load() {
		return Entry{}, fmt.Errorf("redis tier is closed")
	}
	vals, err := r.client.HMGet(ctx, r.key(key), "data", "invalidated").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, ErrMiss
		}
		return Entry{}, fmt.Errorf("redis get %s: %w", key, err)
	}
	data, ok := vals[0].(string)
	if !ok || data == "" {
		return Entry{}, ErrMiss
	}
	snap, err := codec.DecodeSnapshot([]byte(data))
	if err != nil {
		return Entry{}, fmt.Errorf("redis get %s: %w", key, err)
	}
	invalidated, _ := vals[1].(string)
	return Entry{Snapshot: snap, Invalidated: invalidated == "1"}, nil
}

func (r *RedisTier) Put(ctx context.Context, s *types.Snapshot) error {
	if r.closed.Load() {
		return fmt.Errorf("redis tier is closed")
	}
	data, err := codec.EncodeSnapshot(s)
	if err != nil {
		return err
	}
	res, err := putScript.Run(ctx, r.client, []string{r.key(s.Key())},
		strconv.FormatInt(s.Version, 10), data, r.retention.Milliseconds(),
	).Int64()
	if err != nil {
		return fmt.Errorf("redis put %s: %w", s.Key(), err)
	}
	if res >= 0 {
		return &types.StaleWriteError{Key: s.Key(), Current: res, Attempted: s.Version}
	}
	return nil
}

func (r *RedisTier) Invalidate(ctx context.Context, key types.SnapshotKey) error {
	if r.closed.Load() {
		return fmt.Errorf("redis tier is closed")
	}
	k := r.key(key)
	// HSET on a missing key would create a hash without data; only flag
	// keys that exist.
	n, err := r.client.Exists(ctx, k).Result()
	if err != nil {
		return fmt.Errorf("redis invalidate %s: %w", key, err)
	}
	if n == 0 {
		return nil
	}
	if err := r.client.HSet(ctx, k, "invalidated", "1").Err(); err != nil {
		return fmt.Errorf("redis invalidate %s: %w", key, err)
	}
	return nil
}

// Ping checks connectivity.
func (r *RedisTier) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (r *RedisTier) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return r.client.Close()
}
