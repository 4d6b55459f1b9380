package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DukeRupert/proofsheet/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Policy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.GetPolicy(ctx, "s1")
	assert.True(t, errors.Is(err, ErrNotFound))

	created, err := s.PutPolicy(ctx, &domain.PricingPolicy{SessionID: "s1", Mode: domain.PricingModeFreemium, FreeCount: 2, PricePerAsset: 499, Currency: "USD"})
	require.NoError(t, err)
	assert.False(t, created.CreatedAt.IsZero())

	updated, err := s.PutPolicy(ctx, &domain.PricingPolicy{SessionID: "s1", Mode: domain.PricingModeFixed, PricePerAsset: 999, Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)

	got, err := s.GetPolicy(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.PricingModeFixed, got.Mode)
	assert.Equal(t, int64(999), got.PricePerAsset)
}

func TestMemoryStore_KnownAssets(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.PutAsset(ctx, &domain.Asset{SessionID: "s1", AssetID: "a", StorageKey: "s1/a.jpg"})
	require.NoError(t, err)
	_, err = s.PutAsset(ctx, &domain.Asset{SessionID: "s2", AssetID: "b", StorageKey: "s2/b.jpg"})
	require.NoError(t, err)

	known, err := s.KnownAssets(ctx, "s1", []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"a": true}, known)

	asset, err := s.GetAsset(ctx, "s1", "a")
	require.NoError(t, err)
	assert.Equal(t, "s1/a.jpg", asset.StorageKey)
}

func TestMemoryStore_RecordGrantIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	g := domain.DownloadGrant{SessionID: "s1", ClientKey: "k1", AssetID: "a"}
	inserted, err := s.RecordGrant(ctx, g)
	require.NoError(t, err)
	assert.True(t, inserted)

	g.Paid = true
	inserted, err = s.RecordGrant(ctx, g)
	require.NoError(t, err)
	assert.False(t, inserted)

	grants, err := s.ListGrants(ctx, "s1", "k1")
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.False(t, grants[0].Paid, "first grant wins")
	assert.False(t, grants[0].FirstGrantedAt.IsZero())

	other, err := s.ListGrants(ctx, "s1", "k2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestMemoryStore_CheckoutLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()

	c := &domain.Checkout{
		ID:        uuid.New(),
		SessionID: "s1",
		ClientKey: "k1",
		Cart:      domain.Cart{SessionID: "s1", Currency: "USD", Items: []domain.LineItem{{AssetID: "a", UnitPrice: 499}}, Subtotal: 499, Total: 499},
		Status:    domain.CheckoutStatusPending,
		CreatedAt: now.Add(-time.Hour),
	}
	require.NoError(t, s.CreateCheckout(ctx, c))
	require.NoError(t, s.SetPaymentRef(ctx, c.ID, "cs_test_1"))

	got, err := s.GetCheckoutByPaymentRef(ctx, "cs_test_1")
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, []string{"a"}, got.Cart.AssetIDs())

	got.Cart.Items[0].AssetID = "mutated"
	again, err := s.GetCheckout(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", again.Cart.Items[0].AssetID)

	n, err := s.ExpirePending(ctx, now.Add(-30*time.Minute), now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	expired, err := s.GetCheckout(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutStatusExpired, expired.Status)
	require.NotNil(t, expired.CompletedAt)

	_, err = s.GetCheckout(ctx, uuid.New())
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryStore_SupersedePending(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()

	mine := &domain.Checkout{ID: uuid.New(), SessionID: "s1", ClientKey: "k1", Status: domain.CheckoutStatusPending, PaymentRef: "cs_mine", CreatedAt: now}
	theirs := &domain.Checkout{ID: uuid.New(), SessionID: "s1", ClientKey: "k2", Status: domain.CheckoutStatusPending, CreatedAt: now}
	require.NoError(t, s.CreateCheckout(ctx, mine))
	require.NoError(t, s.CreateCheckout(ctx, theirs))

	superseded, err := s.SupersedePending(ctx, "s1", "k1", now)
	require.NoError(t, err)
	require.Len(t, superseded, 1)
	assert.Equal(t, mine.ID, superseded[0].ID)
	assert.Equal(t, "cs_mine", superseded[0].PaymentRef)
	assert.Equal(t, domain.CheckoutStatusSuperseded, superseded[0].Status)

	got, _ := s.GetCheckout(ctx, theirs.ID)
	assert.Equal(t, domain.CheckoutStatusPending, got.Status)
}

func TestMemoryStore_WithClientLockSerializes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var (
		wg      sync.WaitGroup
		active  int
		maxSeen int
		mu      sync.Mutex
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithClientLock(ctx, "s1", "k1", func(Store) error {
				mu.Lock()
				active++
				if active > maxSeen {
					maxSeen = active
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestMemoryStore_WithClientLockHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := NewMemoryStore().WithClientLock(ctx, "s1", "k1", func(Store) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestMemoryStore_RefundBookkeeping(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()

	c := &domain.Checkout{ID: uuid.New(), SessionID: "s1", ClientKey: "k1", Status: domain.CheckoutStatusPending, CreatedAt: now}
	require.NoError(t, s.CreateCheckout(ctx, c))

	c.Status = domain.CheckoutStatusPaid
	c.CompletedAt = &now
	c.RefundDue = 999
	require.NoError(t, s.UpdateCheckoutStatus(ctx, c))

	got, err := s.GetCheckout(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.RefundPending())

	first := now.Add(time.Minute)
	require.NoError(t, s.MarkRefunded(ctx, c.ID, first))
	require.NoError(t, s.MarkRefunded(ctx, c.ID, first.Add(time.Hour)))

	got, err = s.GetCheckout(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, got.RefundPending())
	assert.Equal(t, first, *got.RefundedAt)

	assert.ErrorIs(t, s.MarkRefunded(ctx, uuid.New(), now), ErrNotFound)
}
