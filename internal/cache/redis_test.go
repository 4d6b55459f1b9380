package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DukeRupert/proofsheet/internal/domain"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCache(client, time.Minute), mr
}

func testPolicy() *domain.PricingPolicy {
	return &domain.PricingPolicy{
		SessionID:     "wedding-42",
		Mode:          domain.PricingModeFreemium,
		FreeCount:     3,
		PricePerAsset: 499,
		Currency:      "USD",
		BulkTiers:     json.RawMessage(`[{"min":10,"price":399}]`),
	}
}

func TestRedisCache_SetGet(t *testing.T) {
	c, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, testPolicy()))
	assert.True(t, mr.Exists(cacheKey("wedding-42")))

	ttl := mr.TTL(cacheKey("wedding-42"))
	assert.GreaterOrEqual(t, ttl, time.Minute)
	assert.Less(t, ttl, 2*time.Minute)

	got, err := c.Get(ctx, "wedding-42")
	require.NoError(t, err)
	assert.Equal(t, domain.PricingModeFreemium, got.Mode)
	assert.Equal(t, 3, got.FreeCount)
	assert.Equal(t, int64(499), got.PricePerAsset)
	assert.JSONEq(t, `[{"min":10,"price":399}]`, string(got.BulkTiers))
}

func TestRedisCache_Miss(t *testing.T) {
	c, _ := setupTestRedis(t)

	got, err := c.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Nil(t, got)
}

func TestRedisCache_InvalidJSON(t *testing.T) {
	c, mr := setupTestRedis(t)
	require.NoError(t, mr.Set(cacheKey("bad"), "{not json"))

	_, err := c.Get(context.Background(), "bad")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
}

func TestRedisCache_SetKeepsNewerEntry(t *testing.T) {
	c, _ := setupTestRedis(t)
	ctx := context.Background()
	now := time.Now().UTC()

	newer := testPolicy()
	newer.Mode = domain.PricingModeFixed
	newer.UpdatedAt = now
	require.NoError(t, c.Set(ctx, newer))

	older := testPolicy()
	older.UpdatedAt = now.Add(-time.Second)
	require.NoError(t, c.Set(ctx, older))

	got, err := c.Get(ctx, "wedding-42")
	require.NoError(t, err)
	assert.Equal(t, domain.PricingModeFixed, got.Mode)

	latest := testPolicy()
	latest.UpdatedAt = now.Add(time.Second)
	require.NoError(t, c.Set(ctx, latest))

	got, err = c.Get(ctx, "wedding-42")
	require.NoError(t, err)
	assert.Equal(t, domain.PricingModeFreemium, got.Mode)
}

func TestRedisCache_SetReplacesUnreadableEntry(t *testing.T) {
	c, mr := setupTestRedis(t)
	require.NoError(t, mr.Set(cacheKey("wedding-42"), "{not json"))

	require.NoError(t, c.Set(context.Background(), testPolicy()))

	got, err := c.Get(context.Background(), "wedding-42")
	require.NoError(t, err)
	assert.Equal(t, int64(499), got.PricePerAsset)
}

func TestRedisCache_Delete(t *testing.T) {
	c, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, testPolicy()))
	require.NoError(t, c.Delete(ctx, "wedding-42"))
	assert.False(t, mr.Exists(cacheKey("wedding-42")))

	require.NoError(t, c.Delete(ctx, "never-set"))
}

func TestRedisCache_Expires(t *testing.T) {
	c, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, testPolicy()))
	mr.FastForward(3 * time.Minute)

	_, err := c.Get(ctx, "wedding-42")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisCache_ServerDown(t *testing.T) {
	c, mr := setupTestRedis(t)
	mr.Close()

	_, err := c.Get(context.Background(), "wedding-42")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
}

func TestNopCache(t *testing.T) {
	var c PolicyCache = NopCache{}
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, testPolicy()))
	_, err := c.Get(ctx, "wedding-42")
	assert.ErrorIs(t, err, ErrCacheMiss)
}
