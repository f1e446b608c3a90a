package usercache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/vidbot/internal/domain"
	redisclient "github.com/Proton-105/vidbot/pkg/redis"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	kv := redisclient.NewMetricsClient(&redisclient.Client{Client: rdb})
	return NewCache(kv, time.Minute), mr
}

func TestCacheRoundTrip(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	got, err := cache.Get(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, got)

	reset := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, cache.Set(ctx, &domain.Account{ID: 42, Plan: domain.PlanPremium, QuotaUsed: 3, PeriodResetAt: reset}))
	assert.True(t, mr.Exists("account:42"))
	assert.Equal(t, time.Minute, mr.TTL("account:42"))

	got, err = cache.Get(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.PlanPremium, got.Plan)
	assert.Equal(t, 3, got.QuotaUsed)
	assert.True(t, reset.Equal(got.PeriodResetAt))

	require.NoError(t, cache.Invalidate(ctx, 42))
	assert.False(t, mr.Exists("account:42"))
}

func TestCacheCorruptEntry(t *testing.T) {
	cache, mr := newTestCache(t)
	require.NoError(t, mr.Set("account:7", "{not json"))

	_, err := cache.Get(context.Background(), 7)
	assert.Error(t, err)
}

func TestNilCacheIsNoop(t *testing.T) {
	var cache *Cache
	ctx := context.Background()

	got, err := cache.Get(ctx, 1)
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, cache.Set(ctx, &domain.Account{ID: 1}))
	assert.NoError(t, cache.Invalidate(ctx, 1))
}
