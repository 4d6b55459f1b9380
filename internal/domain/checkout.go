package domain

import (
	"time"

	"github.com/google/uuid"
)

// CheckoutStatus tracks a cart's hand-off to the payment gateway.
type CheckoutStatus string

const (
	CheckoutStatusPending    CheckoutStatus = "pending"
	CheckoutStatusPaid       CheckoutStatus = "paid"
	CheckoutStatusFailed     CheckoutStatus = "failed"
	CheckoutStatusExpired    CheckoutStatus = "expired"
	CheckoutStatusSuperseded CheckoutStatus = "superseded"
)

// IsTerminal reports whether the checkout can no longer change on its own.
func (s CheckoutStatus) IsTerminal() bool {
	return s != CheckoutStatusPending
}

// CanTransitionTo checks if a checkout in status s can move to target.
//
// Valid transitions:
// - pending -> paid, failed, expired, superseded
// - failed, expired, superseded -> paid (the gateway confirmed a late payment)
//
// Paid is final.
func (s CheckoutStatus) CanTransitionTo(target CheckoutStatus) bool {
	switch s {
	case CheckoutStatusPending:
		return target != CheckoutStatusPending
	case CheckoutStatusFailed, CheckoutStatusExpired, CheckoutStatusSuperseded:
		return target == CheckoutStatusPaid
	}
	return false
}

// Checkout is a persisted cart awaiting or past payment.
type Checkout struct {
	ID          uuid.UUID
	SessionID   string
	ClientKey   string
	Cart        Cart
	Status      CheckoutStatus
	PaymentRef  string
	CreatedAt   time.Time
	CompletedAt *time.Time

	// RefundDue is the amount owed back for items the client already held
	// when this checkout was paid. RefundedAt is set once it was returned.
	RefundDue  int64
	RefundedAt *time.Time
}

// RefundPending reports whether money is owed back and not yet returned.
func (c *Checkout) RefundPending() bool {
	return c.RefundDue > 0 && c.RefundedAt == nil
}

// HeldElsewhere returns the line items the client already holds through a
// grant that did not come from this checkout.
func (c *Checkout) HeldElsewhere(grants []DownloadGrant) []string {
	owner := make(map[string]*uuid.UUID, len(grants))
	for _, g := range grants {
		owner[g.AssetID] = g.CheckoutID
	}

	var held []string
	for _, item := range c.Cart.Items {
		by, ok := owner[item.AssetID]
		if ok && (by == nil || *by != c.ID) {
			held = append(held, item.AssetID)
		}
	}
	return held
}

// RefundFor returns what to give back for the listed items: their prices
// plus their share of tax, never more than the cart total.
func (c *Checkout) RefundFor(assetIDs []string) int64 {
	want := make(map[string]bool, len(assetIDs))
	for _, id := range assetIDs {
		want[id] = true
	}

	var subtotal int64
	matched := 0
	for _, item := range c.Cart.Items {
		if want[item.AssetID] {
			subtotal += item.UnitPrice
			matched++
		}
	}
	switch {
	case matched == 0:
		return 0
	case matched == len(c.Cart.Items):
		return c.Cart.Total
	}

	tax := TaxAmount(subtotal, c.Cart.TaxRateBPS)
	if tax > c.Cart.Tax {
		tax = c.Cart.Tax
	}
	return min(subtotal+tax, c.Cart.Total)
}

// TransitionTo moves the checkout to target, stamping CompletedAt on the
// first terminal transition.
func (c *Checkout) TransitionTo(target CheckoutStatus, at time.Time) error {
	if !c.Status.CanTransitionTo(target) {
		return Errorf(ECONFLICT, "checkout.transition", "cannot transition checkout from %s to %s", c.Status, target)
	}
	c.Status = target
	if c.CompletedAt == nil || target == CheckoutStatusPaid {
		c.CompletedAt = &at
	}
	return nil
}

// PaidGrants returns one paid grant per line item, stamped with at.
func (c *Checkout) PaidGrants(at time.Time) []DownloadGrant {
	id := c.ID
	grants := make([]DownloadGrant, len(c.Cart.Items))
	for i, item := range c.Cart.Items {
		grants[i] = DownloadGrant{
			SessionID:      c.SessionID,
			ClientKey:      c.ClientKey,
			AssetID:        item.AssetID,
			Paid:           true,
			CheckoutID:     &id,
			FirstGrantedAt: at,
		}
	}
	return grants
}

// Asset is a downloadable photo registered for a session. The storage key is
// resolved to a URL by the file storage collaborator.
type Asset struct {
	SessionID  string
	AssetID    string
	StorageKey string
	Filename   string
	CreatedAt  time.Time
}
