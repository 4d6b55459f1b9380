// Package billing hands carts to the payment gateway and verifies the
// gateway's webhook callbacks.
package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/DukeRupert/proofsheet/internal/domain"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
)

// ErrWebhooksDisabled is returned by gateways that cannot verify webhooks.
var ErrWebhooksDisabled = errors.New("payment webhooks are not configured")

// Gateway defines the payment operations the checkout flow depends on.
type Gateway interface {
	// CreateCheckoutSession opens a hosted payment page for a cart.
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)

	// ExpireCheckoutSession closes an open payment page so it can no longer
	// be paid.
	ExpireCheckoutSession(ctx context.Context, ref string) error

	// RefundCheckoutSession returns part or all of a completed payment.
	RefundCheckoutSession(ctx context.Context, req RefundRequest) error

	// VerifyWebhookSignature verifies the webhook signature and returns the event.
	VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error)
}

// CheckoutRequest describes a cart to be paid.
type CheckoutRequest struct {
	CheckoutID uuid.UUID
	Cart       domain.Cart
	SuccessURL string
	CancelURL  string

	// ExpiresAt closes the payment page early. Zero uses the gateway default.
	ExpiresAt time.Time
}

// RefundRequest identifies a paid checkout and the amount to hand back.
type RefundRequest struct {
	PaymentRef string
	CheckoutID uuid.UUID
	Amount     int64
}

// CheckoutSession is the gateway's handle for a payment attempt. ID is the
// payment reference echoed back in webhooks.
type CheckoutSession struct {
	ID  string
	URL string
}

// NoopGateway accepts every cart without taking payment. It is used in
// development when no Stripe key is configured; checkouts stay pending
// until they expire.
type NoopGateway struct {
	BaseURL string
}

func (g NoopGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &CheckoutSession{
		ID: "noop_" + req.CheckoutID.String(),
		URL: fmt.Sprintf("%s/galleries/%s/checkout/%s",
			strings.TrimSuffix(g.BaseURL, "/"), req.Cart.SessionID, req.CheckoutID),
	}, nil
}

func (g NoopGateway) ExpireCheckoutSession(ctx context.Context, ref string) error {
	return ctx.Err()
}

func (g NoopGateway) RefundCheckoutSession(ctx context.Context, req RefundRequest) error {
	return ctx.Err()
}

func (g NoopGateway) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	return stripe.Event{}, ErrWebhooksDisabled
}
