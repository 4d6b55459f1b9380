package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DukeRupert/proofsheet/internal/cache"
	"github.com/DukeRupert/proofsheet/internal/domain"
	"github.com/DukeRupert/proofsheet/internal/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyService_PutAndGet(t *testing.T) {
	svc := NewPolicyService(store.NewMemoryStore(), cache.NopCache{}, testLogger())
	ctx := context.Background()

	saved, err := svc.Put(ctx, domain.PricingPolicy{
		SessionID:     " wedding-42 ",
		Mode:          "Freemium",
		FreeCount:     2,
		PricePerAsset: 499,
		Currency:      "usd",
	})
	require.NoError(t, err)
	assert.Equal(t, "wedding-42", saved.SessionID)
	assert.Equal(t, "USD", saved.Currency)

	got, err := svc.Get(ctx, "wedding-42")
	require.NoError(t, err)
	assert.Equal(t, domain.PricingModeFreemium, got.Mode)
	assert.Equal(t, 2, got.FreeCount)
}

func TestPolicyService_GetMissing(t *testing.T) {
	svc := NewPolicyService(store.NewMemoryStore(), cache.NopCache{}, testLogger())

	_, err := svc.Get(context.Background(), "nope")
	assert.True(t, errors.Is(err, domain.ErrPolicyNotFound))
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))

	_, err = svc.Get(context.Background(), "")
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestPolicyService_InvalidPolicyNotStored(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewPolicyService(st, cache.NopCache{}, testLogger())
	ctx := context.Background()

	_, err := svc.Put(ctx, domain.PricingPolicy{SessionID: "s1", Mode: domain.PricingModeFreemium, FreeCount: -1, PricePerAsset: 100, Currency: "USD"})
	require.Error(t, err)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))

	var ve *domain.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Fields, "free_count")

	_, err = st.GetPolicy(ctx, "s1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPolicyService_CacheReadThroughAndInvalidation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	st := store.NewMemoryStore()
	svc := NewPolicyService(st, cache.NewRedisCache(client, time.Minute), testLogger())
	ctx := context.Background()

	_, err := st.PutPolicy(ctx, &domain.PricingPolicy{SessionID: "s1", Mode: domain.PricingModeFixed, PricePerAsset: 999, Currency: "USD"})
	require.NoError(t, err)

	got, err := svc.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(999), got.PricePerAsset)
	assert.True(t, mr.Exists("pricing:policy:s1"), "policy cached after first read")

	_, err = svc.Put(ctx, domain.PricingPolicy{SessionID: "s1", Mode: domain.PricingModeFixed, PricePerAsset: 1299, Currency: "USD"})
	require.NoError(t, err)
	cached, err := mr.Get("pricing:policy:s1")
	require.NoError(t, err)
	assert.Contains(t, cached, `"price_per_asset":1299`, "put writes the new policy through")

	got, err = svc.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1299), got.PricePerAsset)
}

// heldCache pauses the first cache write of a free-mode policy until release
// is closed, to let a Put land while a read is between store and cache.
type heldCache struct {
	cache.PolicyCache
	once    sync.Once
	held    chan struct{}
	release chan struct{}
}

func (c *heldCache) Set(ctx context.Context, p *domain.PricingPolicy) error {
	if p.Mode == domain.PricingModeFree {
		c.once.Do(func() {
			close(c.held)
			<-c.release
		})
	}
	return c.PolicyCache.Set(ctx, p)
}

func TestPolicyService_SlowReadDoesNotRecacheReplacedPolicy(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	held := &heldCache{
		PolicyCache: cache.NewRedisCache(client, time.Minute),
		held:        make(chan struct{}),
		release:     make(chan struct{}),
	}
	st := store.NewMemoryStore()
	svc := NewPolicyService(st, held, testLogger())
	ctx := context.Background()

	old, err := st.PutPolicy(ctx, &domain.PricingPolicy{SessionID: "s1", Mode: domain.PricingModeFree, Currency: "USD"})
	require.NoError(t, err)

	done := make(chan *domain.PricingPolicy)
	go func() {
		p, err := svc.Get(ctx, "s1")
		assert.NoError(t, err)
		done <- p
	}()
	<-held.held

	saved, err := svc.Put(ctx, domain.PricingPolicy{SessionID: "s1", Mode: domain.PricingModeFixed, PricePerAsset: 999, Currency: "USD"})
	require.NoError(t, err)
	require.True(t, saved.UpdatedAt.After(old.UpdatedAt))

	close(held.release)
	first := <-done
	require.NotNil(t, first)
	assert.Equal(t, domain.PricingModeFree, first.Mode, "the read started before the update")

	got, err := svc.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.PricingModeFixed, got.Mode)
	assert.Equal(t, int64(999), got.PricePerAsset)
}

func TestPolicyService_CacheOutageFallsBackToStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	st := store.NewMemoryStore()
	svc := NewPolicyService(st, cache.NewRedisCache(client, time.Minute), testLogger())
	ctx := context.Background()

	_, err := svc.Put(ctx, domain.PricingPolicy{SessionID: "s1", Mode: domain.PricingModeFree, Currency: "EUR"})
	require.NoError(t, err)

	got, err := svc.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.PricingModeFree, got.Mode)
}

func TestPolicyService_ConcurrentGetsReturnIndependentCopies(t *testing.T) {
	svc := NewPolicyService(store.NewMemoryStore(), cache.NopCache{}, testLogger())
	ctx := context.Background()
	_, err := svc.Put(ctx, domain.PricingPolicy{SessionID: "s1", Mode: domain.PricingModeFreemium, FreeCount: 2, PricePerAsset: 499, Currency: "USD"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := svc.Get(ctx, "s1")
			if assert.NoError(t, err) {
				p.FreeCount = 100
			}
		}()
	}
	wg.Wait()

	p, err := svc.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, p.FreeCount)
}
