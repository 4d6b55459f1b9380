package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/DukeRupert/proofsheet/internal/billing"
	"github.com/DukeRupert/proofsheet/internal/domain"
	"github.com/DukeRupert/proofsheet/internal/service"
	"github.com/stripe/stripe-go/v79"
)

const maxWebhookBody = 65536

// WebhookHandler applies payment outcomes reported by Stripe.
//
// Route:
//   - POST /webhooks/stripe -> HandleStripeWebhook
//
// This route is PUBLIC. Authentication is via the Stripe webhook signature.
type WebhookHandler struct {
	gateway   billing.Gateway
	checkouts service.CheckoutService
	logger    *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(gateway billing.Gateway, checkouts service.CheckoutService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		gateway:   gateway,
		checkouts: checkouts,
		logger:    logger,
	}
}

// RegisterRoutes registers webhook routes on the provided mux.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/stripe", h.HandleStripeWebhook)
}

// HandleStripeWebhook processes incoming Stripe webhook events.
//
// Responds 500 only when the event could not be applied, so Stripe retries
// it. Events for unknown checkouts are acknowledged.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	event, err := h.gateway.VerifyWebhookSignature(body, r.Header.Get("Stripe-Signature"))
	if errors.Is(err, billing.ErrWebhooksDisabled) {
		h.logger.Warn("stripe webhook received but payments are not configured")
		w.WriteHeader(http.StatusOK)
		return
	}
	if err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	h.logger.Info("stripe webhook received", "type", event.Type, "id", event.ID)

	// Finish applying the event even if Stripe hangs up.
	ctx := context.WithoutCancel(r.Context())

	switch event.Type {
	case "checkout.session.completed":
		err = h.handleCheckoutCompleted(ctx, event)
	case "checkout.session.async_payment_succeeded":
		err = h.withSession(event, func(s *stripe.CheckoutSession) error {
			_, err := h.checkouts.Complete(ctx, paymentRef(s))
			return err
		})
	case "checkout.session.async_payment_failed":
		err = h.withSession(event, func(s *stripe.CheckoutSession) error {
			_, err := h.checkouts.Fail(ctx, paymentRef(s), "async payment failed")
			return err
		})
	case "checkout.session.expired":
		err = h.withSession(event, func(s *stripe.CheckoutSession) error {
			_, err := h.checkouts.Fail(ctx, paymentRef(s), "payment page expired")
			return err
		})
	default:
		h.logger.Debug("unhandled webhook event type", "type", event.Type)
	}

	switch code := domain.ErrorCode(err); {
	case err == nil:
	case code == domain.ENOTFOUND:
		h.logger.Warn("webhook for unknown checkout", "type", event.Type, "id", event.ID, "error", err)
	case code == domain.EINVALID:
		h.logger.Warn("webhook could not be applied", "type", event.Type, "id", event.ID, "error", err)
	default:
		h.logger.Error("failed to process webhook", "type", event.Type, "id", event.ID, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	return h.withSession(event, func(s *stripe.CheckoutSession) error {
		switch s.PaymentStatus {
		case stripe.CheckoutSessionPaymentStatusPaid, stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
			_, err := h.checkouts.Complete(ctx, paymentRef(s))
			return err
		default:
			// Delayed payment methods report the outcome in a later event.
			h.logger.Info("checkout completed awaiting payment",
				"payment_ref", s.ID,
				"payment_status", s.PaymentStatus,
			)
			return nil
		}
	})
}

func (h *WebhookHandler) withSession(event stripe.Event, fn func(*stripe.CheckoutSession) error) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return domain.Wrap(err, domain.EINVALID, "webhook.parse", "malformed checkout session")
	}
	return fn(&session)
}

// paymentRef identifies the checkout a session event refers to. The checkout
// ID travels as client_reference_id and, for older sessions, in metadata.
func paymentRef(s *stripe.CheckoutSession) service.PaymentRef {
	id := s.ClientReferenceID
	if id == "" {
		id = s.Metadata["checkout_id"]
	}
	return service.PaymentRef{Ref: s.ID, CheckoutID: id}
}
