package domain

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPricingPolicy_Validate(t *testing.T) {
	tests := []struct {
		name      string
		policy    PricingPolicy
		wantField string
	}{
		{"valid free", PricingPolicy{SessionID: "s", Mode: PricingModeFree, Currency: "USD"}, ""},
		{"free ignores price", PricingPolicy{SessionID: "s", Mode: PricingModeFree, PricePerAsset: 500, Currency: "USD"}, ""},
		{"valid freemium", PricingPolicy{SessionID: "s", Mode: PricingModeFreemium, FreeCount: 3, PricePerAsset: 499, Currency: "EUR"}, ""},
		{"valid fixed", PricingPolicy{SessionID: "s", Mode: PricingModeFixed, PricePerAsset: 999, Currency: "GBP"}, ""},
		{"missing session", PricingPolicy{Mode: PricingModeFree, Currency: "USD"}, "session_id"},
		{"unknown mode", PricingPolicy{SessionID: "s", Mode: "tiered", Currency: "USD"}, "mode"},
		{"negative free count", PricingPolicy{SessionID: "s", Mode: PricingModeFreemium, FreeCount: -1, PricePerAsset: 1, Currency: "USD"}, "free_count"},
		{"negative price", PricingPolicy{SessionID: "s", Mode: PricingModeFree, PricePerAsset: -1, Currency: "USD"}, "price_per_asset"},
		{"price at ceiling", PricingPolicy{SessionID: "s", Mode: PricingModeFixed, PricePerAsset: MaxAmount, Currency: "USD"}, ""},
		{"price above ceiling", PricingPolicy{SessionID: "s", Mode: PricingModeFixed, PricePerAsset: math.MaxInt64/2 + 1, Currency: "USD"}, "price_per_asset"},
		{"free count beyond int32", PricingPolicy{SessionID: "s", Mode: PricingModeFreemium, FreeCount: 1<<32 + 1, PricePerAsset: 1, Currency: "USD"}, "free_count"},
		{"fixed with free count", PricingPolicy{SessionID: "s", Mode: PricingModeFixed, FreeCount: 2, PricePerAsset: 999, Currency: "USD"}, "free_count"},
		{"fixed without price", PricingPolicy{SessionID: "s", Mode: PricingModeFixed, Currency: "USD"}, "price_per_asset"},
		{"bad currency", PricingPolicy{SessionID: "s", Mode: PricingModeFree, Currency: "DOLLARS"}, "currency"},
		{"bad bulk tiers", PricingPolicy{SessionID: "s", Mode: PricingModeFree, Currency: "USD", BulkTiers: json.RawMessage(`{`)}, "bulk_tiers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
			assert.Contains(t, ve.Fields, tt.wantField)
		})
	}
}

func TestPricingPolicy_Normalize(t *testing.T) {
	p := PricingPolicy{SessionID: " s1 ", Mode: " FreeMium", Currency: "usd "}
	p.Normalize()
	assert.Equal(t, "s1", p.SessionID)
	assert.Equal(t, PricingModeFreemium, p.Mode)
	assert.Equal(t, "USD", p.Currency)
}

func TestCheckout_TransitionTo(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		from    CheckoutStatus
		to      CheckoutStatus
		wantErr bool
	}{
		{"pending to paid", CheckoutStatusPending, CheckoutStatusPaid, false},
		{"pending to failed", CheckoutStatusPending, CheckoutStatusFailed, false},
		{"pending to expired", CheckoutStatusPending, CheckoutStatusExpired, false},
		{"pending to superseded", CheckoutStatusPending, CheckoutStatusSuperseded, false},
		{"expired to paid", CheckoutStatusExpired, CheckoutStatusPaid, false},
		{"pending to pending", CheckoutStatusPending, CheckoutStatusPending, true},
		{"paid to failed", CheckoutStatusPaid, CheckoutStatusFailed, true},
		{"failed to expired", CheckoutStatusFailed, CheckoutStatusExpired, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Checkout{Status: tt.from}
			err := c.TransitionTo(tt.to, now)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, tt.from, c.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, c.Status)
			assert.True(t, c.Status.IsTerminal())
			require.NotNil(t, c.CompletedAt)
		})
	}
	assert.False(t, CheckoutStatusPending.IsTerminal())
}

func TestCheckout_PaidGrants(t *testing.T) {
	c := &Checkout{
		ID:        uuid.New(),
		SessionID: "s1",
		ClientKey: "k",
		Cart:      Cart{Items: []LineItem{{AssetID: "a", UnitPrice: 1}, {AssetID: "b", UnitPrice: 1}}},
	}
	grants := c.PaidGrants(time.Now())
	require.Len(t, grants, 2)
	for _, g := range grants {
		assert.True(t, g.Paid)
		assert.Equal(t, c.ID, *g.CheckoutID)
		assert.Equal(t, "s1", g.SessionID)
	}
}

func TestErrors_Sentinels(t *testing.T) {
	err := PolicyNotFound("policy.get", "s1")
	assert.True(t, errors.Is(err, ErrPolicyNotFound))
	assert.Equal(t, ENOTFOUND, ErrorCode(err))
	assert.Equal(t, "policy.get", ErrorOp(err))

	internal := Internal(errors.New("db down"), "x", "boom")
	assert.Equal(t, "An internal error occurred. Please try again later.", ErrorMessage(internal))
}

func TestCheckout_HeldElsewhere(t *testing.T) {
	c := &Checkout{
		ID:   uuid.New(),
		Cart: Cart{Items: []LineItem{{AssetID: "a", UnitPrice: 500}, {AssetID: "b", UnitPrice: 500}, {AssetID: "c", UnitPrice: 500}}},
	}
	other := uuid.New()
	own := c.ID

	held := c.HeldElsewhere([]DownloadGrant{
		{AssetID: "a", Paid: true, CheckoutID: &other},
		{AssetID: "b", Paid: true, CheckoutID: &own},
		{AssetID: "c"},
		{AssetID: "z", Paid: true, CheckoutID: &other},
	})
	assert.Equal(t, []string{"a", "c"}, held)
}

func TestCheckout_RefundFor(t *testing.T) {
	c := &Checkout{Cart: Cart{
		Items:      []LineItem{{AssetID: "a", UnitPrice: 999}, {AssetID: "b", UnitPrice: 999}, {AssetID: "c", UnitPrice: 999}},
		Subtotal:   2997,
		TaxRateBPS: 825,
		Tax:        247,
		Total:      3244,
	}}

	assert.Equal(t, int64(0), c.RefundFor(nil))
	assert.Equal(t, int64(999+82), c.RefundFor([]string{"a"}))
	assert.Equal(t, int64(3244), c.RefundFor([]string{"c", "b", "a"}))

	c.RefundDue = 1081
	assert.True(t, c.RefundPending())
	now := time.Now()
	c.RefundedAt = &now
	assert.False(t, c.RefundPending())
}
