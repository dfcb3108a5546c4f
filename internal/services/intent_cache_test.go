package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisIntentCache(t *testing.T, ttl time.Duration) (*RedisIntentCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cache, err := NewRedisIntentCache(client, ttl, "")
	require.NoError(t, err)
	return cache, mr
}

func TestRedisIntentCachePutAndGet(t *testing.T) {
	cache, mr := setupRedisIntentCache(t, 10*time.Minute)
	ctx := context.Background()
	created := time.Date(2024, 10, 10, 12, 0, 0, 0, time.UTC)

	intent := CachedIntent{
		CartID:       "cart-1",
		Fingerprint:  "fp",
		Amount:       6300,
		Currency:     "usd",
		IntentID:     "pi_123",
		ClientSecret: "pi_123_secret",
		Provider:     "stripe",
		CreatedAt:    created,
	}
	require.NoError(t, cache.Put(ctx, intent))

	assert.True(t, mr.Exists("checkout:intent:cart-1"))
	assert.Equal(t, 10*time.Minute, mr.TTL("checkout:intent:cart-1"))

	got, ok, err := cache.Get(ctx, "cart-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, intent.IntentID, got.IntentID)
	assert.Equal(t, int64(6300), got.Amount)
	assert.True(t, created.Equal(got.CreatedAt))
}

func TestRedisIntentCacheMissAndExpiry(t *testing.T) {
	cache, mr := setupRedisIntentCache(t, time.Minute)
	ctx := context.Background()

	_, ok, err := cache.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Put(ctx, CachedIntent{CartID: "cart-1", IntentID: "pi_1"}))
	mr.FastForward(2 * time.Minute)

	_, ok, err = cache.Get(ctx, "cart-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisIntentCacheDeleteAndInvalidJSON(t *testing.T) {
	cache, mr := setupRedisIntentCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, CachedIntent{CartID: "cart-1", IntentID: "pi_1"}))
	require.NoError(t, cache.Delete(ctx, "cart-1"))
	assert.False(t, mr.Exists("checkout:intent:cart-1"))

	require.NoError(t, mr.Set("checkout:intent:cart-2", "{not json"))
	_, _, err := cache.Get(ctx, "cart-2")
	assert.Error(t, err)
}

func TestRedisIntentCacheRequiresCartID(t *testing.T) {
	cache, _ := setupRedisIntentCache(t, time.Minute)
	assert.Error(t, cache.Put(context.Background(), CachedIntent{IntentID: "pi_1"}))
}

func TestRedisIntentCacheUnavailable(t *testing.T) {
	cache, mr := setupRedisIntentCache(t, time.Minute)
	mr.Close()

	_, _, err := cache.Get(context.Background(), "cart-1")
	assert.Error(t, err)
	assert.Error(t, cache.Ping(context.Background()))
}

func TestMemoryIntentCacheExpiresEntries(t *testing.T) {
	now := time.Date(2024, 10, 10, 12, 0, 0, 0, time.UTC)
	cache := NewMemoryIntentCache(5*time.Minute, func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, CachedIntent{CartID: " cart-1 ", IntentID: "pi_1"}))

	got, ok, err := cache.Get(ctx, "cart-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "pi_1", got.IntentID)

	now = now.Add(5 * time.Minute)
	_, ok, err = cache.Get(ctx, "cart-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryIntentCacheReplaceAndDelete(t *testing.T) {
	cache := NewMemoryIntentCache(0, nil)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, CachedIntent{CartID: "cart-1", IntentID: "pi_1"}))
	require.NoError(t, cache.Put(ctx, CachedIntent{CartID: "cart-1", IntentID: "pi_2"}))

	got, ok, err := cache.Get(ctx, "cart-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "pi_2", got.IntentID)

	require.NoError(t, cache.Delete(ctx, "cart-1"))
	_, ok, _ = cache.Get(ctx, "cart-1")
	assert.False(t, ok)
}
