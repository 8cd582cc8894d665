package data

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testQuotation struct {
	ID     uint64 `json:"id"`
	Symbol string `json:"symbol"`
	Price  int64  `json:"price"`
}

func setupTestCache(t *testing.T) (CacheClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewCacheClient(rdb), mr
}

func TestCache_SetGet(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	ctx := context.Background()

	in := testQuotation{ID: 42, Symbol: "EURUSD", Price: 108350}
	key := BuildCacheKey(CacheKeyQuotation, "42")
	require.NoError(t, cache.Set(ctx, key, in, TTLQuotation))

	var out testQuotation
	require.NoError(t, cache.Get(ctx, key, &out))
	assert.Equal(t, in, out)
}

func TestCache_GetMissing(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()

	var out testQuotation
	err := cache.Get(context.Background(), "quotation:missing", &out)
	assert.ErrorIs(t, err, ErrCacheNotFound)
}

func TestCache_SetAppliesTTL(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	ctx := context.Background()

	key := BuildCacheKey(CacheKeyStatus, "snapshot")
	require.NoError(t, cache.Set(ctx, key, map[string]bool{"healthy": true}, TTLStatus))

	mr.FastForward(TTLStatus + time.Second)

	var out map[string]bool
	assert.ErrorIs(t, cache.Get(ctx, key, &out), ErrCacheNotFound)
}

func TestCache_Delete(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	ctx := context.Background()

	key := BuildCacheKey(CacheKeyQuotation, "7")
	require.NoError(t, cache.Set(ctx, key, testQuotation{ID: 7}, TTLQuotation))
	require.NoError(t, cache.Delete(ctx, key))

	var out testQuotation
	assert.ErrorIs(t, cache.Get(ctx, key, &out), ErrCacheNotFound)
}

func TestCache_NilClient(t *testing.T) {
	cache := NewCacheClient(nil)
	ctx := context.Background()

	var out testQuotation
	assert.ErrorIs(t, cache.Get(ctx, "k", &out), ErrCacheNotFound)
	assert.Error(t, cache.Set(ctx, "k", out, time.Minute))
	assert.NoError(t, cache.Delete(ctx, "k"))
}

func TestBuildCacheKey(t *testing.T) {
	assert.Equal(t, "quotation:123", BuildCacheKey(CacheKeyQuotation, "123"))
	assert.Equal(t, "status:snapshot", BuildCacheKey(CacheKeyStatus, "snapshot"))
	assert.Equal(t, "status", BuildCacheKey(CacheKeyStatus))
}
