package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/refund"
	"github.com/stripe/stripe-go/v79/webhook"
)

// Stripe only accepts checkout expirations in this window.
const (
	minSessionExpiry = 30 * time.Minute
	maxSessionExpiry = 24 * time.Hour
)

// stripeGateway is the Stripe implementation of Gateway.
type stripeGateway struct {
	webhookSecret string
	now           func() time.Time
}

// NewStripeGateway creates a Stripe payment gateway.
//
// The secretKey is used to authenticate Stripe API calls.
// The webhookSecret is used to verify incoming webhook signatures.
func NewStripeGateway(secretKey, webhookSecret string) Gateway {
	stripe.Key = secretKey

	return &stripeGateway{
		webhookSecret: webhookSecret,
		now:           time.Now,
	}
}

func (g *stripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	params := g.checkoutSessionParams(req)
	params.Context = ctx

	sess, err := checkoutsession.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create checkout session: %w", err)
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

func (g *stripeGateway) ExpireCheckoutSession(ctx context.Context, ref string) error {
	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx

	if _, err := checkoutsession.Expire(ref, params); err != nil {
		return fmt.Errorf("stripe expire checkout session %s: %w", ref, err)
	}
	return nil
}

// RefundCheckoutSession refunds against the session's payment intent. The
// idempotency key is derived from the checkout so retried webhooks cannot
// refund twice.
func (g *stripeGateway) RefundCheckoutSession(ctx context.Context, req RefundRequest) error {
	getParams := &stripe.CheckoutSessionParams{}
	getParams.Context = ctx

	sess, err := checkoutsession.Get(req.PaymentRef, getParams)
	if err != nil {
		return fmt.Errorf("stripe get checkout session %s: %w", req.PaymentRef, err)
	}
	if sess.PaymentIntent == nil || sess.PaymentIntent.ID == "" {
		return fmt.Errorf("stripe checkout session %s has no payment intent", req.PaymentRef)
	}

	if _, err := refund.New(refundParams(ctx, sess.PaymentIntent.ID, req)); err != nil {
		return fmt.Errorf("stripe refund checkout %s: %w", req.CheckoutID, err)
	}
	return nil
}

func refundParams(ctx context.Context, paymentIntentID string, req RefundRequest) *stripe.RefundParams {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentIntentID),
		Amount:        stripe.Int64(req.Amount),
		Reason:        stripe.String(string(stripe.RefundReasonDuplicate)),
	}
	params.Context = ctx
	params.AddMetadata("checkout_id", req.CheckoutID.String())
	params.SetIdempotencyKey("refund-" + req.CheckoutID.String())
	return params
}

func (g *stripeGateway) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, g.webhookSecret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("stripe webhook signature verification failed: %w", err)
	}
	return event, nil
}

// checkoutSessionParams builds a payment-mode session with one line item per
// asset and, when tax is charged on top, a separate tax line.
func (g *stripeGateway) checkoutSessionParams(req CheckoutRequest) *stripe.CheckoutSessionParams {
	cart := req.Cart
	currency := strings.ToLower(cart.Currency)

	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(cart.Items)+1)
	for _, item := range cart.Items {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(item.UnitPrice),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name:     stripe.String("Photo download " + item.AssetID),
					Metadata: map[string]string{"asset_id": item.AssetID},
				},
			},
		})
	}
	if cart.Tax > 0 {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(cart.Tax),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Tax"),
				},
			},
		})
	}

	metadata := map[string]string{
		"checkout_id": req.CheckoutID.String(),
		"session_id":  cart.SessionID,
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems:         lineItems,
		ClientReferenceID: stripe.String(req.CheckoutID.String()),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		Metadata:          metadata,
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
	}

	if !req.ExpiresAt.IsZero() {
		ttl := req.ExpiresAt.Sub(g.now())
		if ttl >= minSessionExpiry && ttl <= maxSessionExpiry {
			params.ExpiresAt = stripe.Int64(req.ExpiresAt.Unix())
		}
	}

	return params
}
