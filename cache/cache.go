/*
Package cache provides a two-tier snapshot cache.

PURPOSE:
  Summarizing a cycle is cheap, but the stats endpoint is polled by every
  open form. The cache keeps recent snapshots keyed by account and cycle
  (see cashback.CacheKey) so repeated reads skip the ledger scan.

TIERS:
  Local: TinyLFU in-process cache, always on unless LocalSize is 0.
  Redis: Optional shared tier so several server replicas agree.

  Values are JSON encoded in both tiers, matching the API payloads.

INVALIDATION:
  Writers call cashback.Service.Invalidate after posting or editing a
  transaction. Entries also expire after TTL, which bounds staleness for
  writes that bypass the service.

SEE ALSO:
  - cashback/service.go: The SnapshotCache interface
*/
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/warp/cashback-engine/cashback"
)

const (
	// DefaultLocalSize is the number of snapshots kept in process.
	DefaultLocalSize = 10000
	// DefaultTTL bounds how stale a cached snapshot can be.
	DefaultTTL = 5 * time.Minute
)

// Options configures a SnapshotCache.
type Options struct {
	// Redis is the shared tier. Nil means local only.
	Redis *redis.Client
	// LocalSize is the TinyLFU capacity. Zero disables the local tier.
	LocalSize int
	// LocalTTL is how long entries live in process.
	LocalTTL time.Duration
	// TTL is how long entries live in Redis.
	TTL time.Duration

	Logger logrus.FieldLogger
}

// SnapshotCache implements cashback.SnapshotCache.
type SnapshotCache struct {
	cache  *cache.Cache
	ttl    time.Duration
	logger logrus.FieldLogger
}

var _ cashback.SnapshotCache = (*SnapshotCache)(nil)

// New creates a SnapshotCache. At least one tier must be enabled.
func New(opts Options) (*SnapshotCache, error) {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.LocalTTL <= 0 {
		opts.LocalTTL = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	co := &cache.Options{
		Marshal:   json.Marshal,
		Unmarshal: json.Unmarshal,
	}
	if opts.Redis != nil {
		co.Redis = opts.Redis
	}
	if opts.LocalSize > 0 {
		co.LocalCache = cache.NewTinyLFU(opts.LocalSize, opts.LocalTTL)
	}
	if co.Redis == nil && co.LocalCache == nil {
		return nil, errors.New("snapshot cache needs a redis client or a local size")
	}

	return &SnapshotCache{cache: cache.New(co), ttl: opts.TTL, logger: opts.Logger}, nil
}

// NewLocal creates an in-process cache with default sizing.
func NewLocal() *SnapshotCache {
	c, _ := New(Options{LocalSize: DefaultLocalSize})
	return c
}

// GetSnapshot returns the cached snapshot. Any failure counts as a miss.
func (c *SnapshotCache) GetSnapshot(ctx context.Context, key string) (*cashback.Snapshot, bool) {
	var snap cashback.Snapshot
	err := c.cache.Get(ctx, key, &snap)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.WithError(err).WithField("key", key).Warn("snapshot cache read failed")
		}
		return nil, false
	}
	return &snap, true
}

// SetSnapshot stores a snapshot for the configured TTL.
func (c *SnapshotCache) SetSnapshot(ctx context.Context, key string, snap cashback.Snapshot) error {
	return errors.Wrap(c.cache.Set(&cache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: snap,
		TTL:   c.ttl,
	}), "failed to cache snapshot")
}

// Delete removes a snapshot from both tiers.
func (c *SnapshotCache) Delete(ctx context.Context, key string) error {
	err := c.cache.Delete(ctx, key)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil
	}
	return errors.Wrap(err, "failed to delete cached snapshot")
}
