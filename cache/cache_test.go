package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/cashback-engine/cache"
	"github.com/warp/cashback-engine/cashback"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func sampleSnapshot() cashback.Snapshot {
	limit := decimal.NewFromInt(150000)
	return cashback.Snapshot{
		AccountID:    "card-1",
		Cycle:        cashback.Cycle{Start: time.Date(2024, time.May, 15, 0, 0, 0, 0, time.UTC), End: time.Date(2024, time.June, 15, 0, 0, 0, 0, time.UTC), Label: "2024-06-S15", Type: cashback.CycleStatementCycle},
		CurrentSpend: decimal.NewFromInt(2000000),
		EarnedSoFar:  decimal.NewFromInt(150000),
		MaxCashback:  &limit,
		ActiveRules:  []cashback.RuleProgress{},
	}
}

func TestSnapshotCache_LocalOnly(t *testing.T) {
	c := cache.NewLocal()
	ctx := context.Background()

	_, ok := c.GetSnapshot(ctx, "k")
	assert.False(t, ok)

	require.NoError(t, c.SetSnapshot(ctx, "k", sampleSnapshot()))
	got, ok := c.GetSnapshot(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "2024-06-S15", got.Cycle.Label)
	assert.True(t, decimal.NewFromInt(150000).Equal(got.EarnedSoFar))
	require.NotNil(t, got.MaxCashback)

	require.NoError(t, c.Delete(ctx, "k"))
	_, ok = c.GetSnapshot(ctx, "k")
	assert.False(t, ok)
}

func TestSnapshotCache_RedisTierIsShared(t *testing.T) {
	// GIVEN: Two replicas sharing one Redis
	// WHEN: One replica caches a snapshot
	// THEN: The other reads it, and a delete from either clears it

	_, client := newRedis(t)
	ctx := context.Background()
	a, err := cache.New(cache.Options{Redis: client})
	require.NoError(t, err)
	b, err := cache.New(cache.Options{Redis: client})
	require.NoError(t, err)

	require.NoError(t, a.SetSnapshot(ctx, "cashback:snapshot:card-1", sampleSnapshot()))

	got, ok := b.GetSnapshot(ctx, "cashback:snapshot:card-1")
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(2000000).Equal(got.CurrentSpend))

	require.NoError(t, b.Delete(ctx, "cashback:snapshot:card-1"))
	_, ok = a.GetSnapshot(ctx, "cashback:snapshot:card-1")
	assert.False(t, ok)
}

func TestSnapshotCache_RedisTTL(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()
	c, err := cache.New(cache.Options{Redis: client, TTL: time.Minute})
	require.NoError(t, err)

	require.NoError(t, c.SetSnapshot(ctx, "k", sampleSnapshot()))
	assert.True(t, mr.Exists("k"))

	mr.FastForward(2 * time.Minute)
	_, ok := c.GetSnapshot(ctx, "k")
	assert.False(t, ok)
}

func TestSnapshotCache_RedisDownIsAMiss(t *testing.T) {
	mr, client := newRedis(t)
	c, err := cache.New(cache.Options{Redis: client})
	require.NoError(t, err)
	mr.Close()

	_, ok := c.GetSnapshot(context.Background(), "k")
	assert.False(t, ok)
	assert.Error(t, c.SetSnapshot(context.Background(), "k", sampleSnapshot()))
}

func TestNew_RequiresATier(t *testing.T) {
	_, err := cache.New(cache.Options{})
	assert.Error(t, err)
}
