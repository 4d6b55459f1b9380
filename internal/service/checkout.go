package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/DukeRupert/proofsheet/internal/billing"
	"github.com/DukeRupert/proofsheet/internal/domain"
	"github.com/DukeRupert/proofsheet/internal/metrics"
	"github.com/DukeRupert/proofsheet/internal/store"
	"github.com/google/uuid"
)

// CheckoutService assembles carts and tracks them through payment.
type CheckoutService interface {
	// Start prices the requested assets and opens a payment session for the
	// ones that require payment. Free assets are granted immediately. When
	// nothing requires payment the result lists the free assets and the
	// error is an empty_cart error wrapping domain.ErrEmptyCart.
	Start(ctx context.Context, req StartCheckoutRequest) (*CheckoutResult, error)

	// Complete marks the checkout for a confirmed payment as paid and grants
	// every item, atomically. Items the client already held through another
	// checkout or a free grant are refunded. Completing a paid checkout is a
	// no-op apart from retrying an outstanding refund.
	Complete(ctx context.Context, ref PaymentRef) (*domain.Checkout, error)

	// Fail marks a pending checkout as failed. No grants are made.
	Fail(ctx context.Context, ref PaymentRef, reason string) (*domain.Checkout, error)

	// Get returns a checkout owned by the client.
	Get(ctx context.Context, sessionID, clientKey string, id uuid.UUID) (*domain.Checkout, error)

	// ExpireStale expires pending checkouts older than the checkout TTL.
	ExpireStale(ctx context.Context) (int64, error)
}

// StartCheckoutRequest contains the parameters for starting a checkout.
type StartCheckoutRequest struct {
	SessionID  string
	ClientKey  string
	AssetIDs   []string
	SuccessURL string
	CancelURL  string
}

// PaymentRef identifies the checkout a gateway event is about. Ref is the
// gateway's session reference; CheckoutID is our own ID echoed back by the
// gateway and is used when Ref has not been recorded yet.
type PaymentRef struct {
	Ref        string
	CheckoutID string
}

// CheckoutResult is returned by Start. Checkout and PaymentURL are empty
// when the cart had nothing to charge.
type CheckoutResult struct {
	Checkout   *domain.Checkout
	FreeAssets []string
	PaymentURL string
}

type checkoutService struct {
	store    store.Store
	policies PolicyService
	gateway  billing.Gateway
	tax      TaxRateSource
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewCheckoutService creates a new CheckoutService. Pending checkouts older
// than ttl are considered abandoned.
func NewCheckoutService(st store.Store, policies PolicyService, gateway billing.Gateway, tax TaxRateSource, ttl time.Duration, logger *slog.Logger) CheckoutService {
	return &checkoutService{
		store:    st,
		policies: policies,
		gateway:  gateway,
		tax:      tax,
		ttl:      ttl,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *checkoutService) Start(ctx context.Context, req StartCheckoutRequest) (*CheckoutResult, error) {
	const op = "checkout.start"

	if req.SessionID == "" || req.ClientKey == "" {
		return nil, domain.Invalid(op, "session and client are required")
	}

	policy, err := s.policies.Get(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(req.AssetIDs))
	for _, id := range req.AssetIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}

	known, err := s.store.KnownAssets(ctx, req.SessionID, ids)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load assets")
	}
	for _, id := range ids {
		if !known[id] {
			return nil, domain.Invalid(op, fmt.Sprintf("asset %q is not part of this gallery", id))
		}
	}

	taxRate, err := s.tax.RateBPS(ctx, policy)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to resolve tax rate")
	}

	var (
		checkout   *domain.Checkout
		free       []string
		cartErr    error
		newGrants  int
		superseded []domain.Checkout
	)
	err = s.store.WithClientLock(ctx, req.SessionID, req.ClientKey, func(tx store.Store) error {
		grants, err := tx.ListGrants(ctx, req.SessionID, req.ClientKey)
		if err != nil {
			return err
		}

		var cart *domain.Cart
		cart, free, cartErr = domain.BuildCart(policy, req.ClientKey, domain.GrantSetFrom(grants), ids, taxRate)
		if cartErr != nil && !errors.Is(cartErr, domain.ErrEmptyCart) {
			return nil
		}

		now := s.now()
		for _, id := range free {
			inserted, err := tx.RecordGrant(ctx, domain.DownloadGrant{
				SessionID:      req.SessionID,
				ClientKey:      req.ClientKey,
				AssetID:        id,
				FirstGrantedAt: now,
			})
			if err != nil {
				return err
			}
			if inserted {
				newGrants++
			}
		}
		if cart == nil {
			return nil
		}

		superseded, err = tx.SupersedePending(ctx, req.SessionID, req.ClientKey, now)
		if err != nil {
			return err
		}

		checkout = &domain.Checkout{
			ID:        uuid.New(),
			SessionID: req.SessionID,
			ClientKey: req.ClientKey,
			Cart:      *cart,
			Status:    domain.CheckoutStatusPending,
			CreatedAt: now,
		}
		return tx.CreateCheckout(ctx, checkout)
	})
	if err != nil {
		return nil, domain.Internal(err, op, "failed to assemble checkout")
	}

	for i := 0; i < newGrants; i++ {
		metrics.GrantRecorded(false)
	}
	metrics.CheckoutsTransitioned(string(domain.CheckoutStatusSuperseded), int64(len(superseded)))
	for _, old := range superseded {
		s.expireSession(ctx, &old)
	}

	if cartErr != nil {
		if errors.Is(cartErr, domain.ErrEmptyCart) {
			return &CheckoutResult{FreeAssets: free}, domain.EmptyCart(op)
		}
		return nil, cartErr
	}

	sess, err := s.gateway.CreateCheckoutSession(ctx, billing.CheckoutRequest{
		CheckoutID: checkout.ID,
		Cart:       checkout.Cart,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
		ExpiresAt:  checkout.CreatedAt.Add(s.ttl),
	})
	if err != nil {
		s.abandon(ctx, checkout)
		return nil, domain.Internal(err, op, "failed to start payment")
	}

	if err := s.store.SetPaymentRef(ctx, checkout.ID, sess.ID); err != nil {
		s.expireSession(ctx, &domain.Checkout{ID: checkout.ID, PaymentRef: sess.ID})
		return nil, domain.Internal(err, op, "failed to save payment reference")
	}
	checkout.PaymentRef = sess.ID

	// A newer Start may have superseded this checkout before its reference
	// was saved, in which case that Start could not expire the session.
	if current, err := s.store.GetCheckout(ctx, checkout.ID); err == nil && current.Status != domain.CheckoutStatusPending {
		current.PaymentRef = sess.ID
		s.expireSession(ctx, current)
		return nil, domain.Errorf(domain.ECONFLICT, op, "checkout was replaced by a newer checkout")
	}

	metrics.CheckoutStatus(string(domain.CheckoutStatusPending))
	s.logger.Info("checkout started",
		"checkout_id", checkout.ID,
		"session_id", checkout.SessionID,
		"items", len(checkout.Cart.Items),
		"total", checkout.Cart.Total,
		"currency", checkout.Cart.Currency,
		"free_assets", len(free),
	)

	return &CheckoutResult{
		Checkout:   checkout,
		FreeAssets: free,
		PaymentURL: sess.URL,
	}, nil
}

// expireSession closes the payment page of a checkout that can no longer
// complete normally. Failures are logged; Complete refunds anything that
// is paid regardless.
func (s *checkoutService) expireSession(ctx context.Context, c *domain.Checkout) {
	if c.PaymentRef == "" {
		return
	}
	if err := s.gateway.ExpireCheckoutSession(ctx, c.PaymentRef); err != nil {
		s.logger.Warn("failed to expire payment session",
			"checkout_id", c.ID,
			"payment_ref", c.PaymentRef,
			"error", err,
		)
		return
	}
	s.logger.Debug("payment session expired", "checkout_id", c.ID, "payment_ref", c.PaymentRef)
}

// abandon marks a checkout failed when the gateway could not open it.
func (s *checkoutService) abandon(ctx context.Context, checkout *domain.Checkout) {
	if err := checkout.TransitionTo(domain.CheckoutStatusFailed, s.now()); err != nil {
		return
	}
	if err := s.store.UpdateCheckoutStatus(ctx, checkout); err != nil {
		s.logger.Error("failed to mark checkout failed",
			"checkout_id", checkout.ID,
			"error", err,
		)
		return
	}
	metrics.CheckoutStatus(string(domain.CheckoutStatusFailed))
}

func (s *checkoutService) Complete(ctx context.Context, ref PaymentRef) (*domain.Checkout, error) {
	const op = "checkout.complete"

	found, err := s.byPaymentRef(ctx, op, ref)
	if err != nil {
		return nil, err
	}

	var (
		checkout    *domain.Checkout
		alreadyPaid bool
		previous    domain.CheckoutStatus
		newGrants   int
		held        []string
	)
	err = s.store.WithClientLock(ctx, found.SessionID, found.ClientKey, func(tx store.Store) error {
		c, err := tx.GetCheckout(ctx, found.ID)
		if err != nil {
			return err
		}
		checkout = c
		previous = c.Status

		if c.Status == domain.CheckoutStatusPaid {
			alreadyPaid = true
			return nil
		}

		grants, err := tx.ListGrants(ctx, c.SessionID, c.ClientKey)
		if err != nil {
			return err
		}
		held = c.HeldElsewhere(grants)

		now := s.now()
		if err := c.TransitionTo(domain.CheckoutStatusPaid, now); err != nil {
			return err
		}
		c.RefundDue = c.RefundFor(held)
		if err := tx.UpdateCheckoutStatus(ctx, c); err != nil {
			return err
		}
		for _, g := range c.PaidGrants(now) {
			inserted, err := tx.RecordGrant(ctx, g)
			if err != nil {
				return err
			}
			if inserted {
				newGrants++
			}
		}
		return nil
	})
	if err != nil {
		var de *domain.Error
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, domain.Internal(err, op, "failed to complete checkout")
	}

	if alreadyPaid {
		s.logger.Debug("checkout already paid", "checkout_id", checkout.ID)
		if err := s.settleRefund(ctx, op, checkout); err != nil {
			return nil, err
		}
		return checkout, nil
	}

	if previous != domain.CheckoutStatusPending {
		s.logger.Warn("payment confirmed for closed checkout; granting anyway",
			"checkout_id", checkout.ID,
			"previous_status", previous,
		)
	}

	metrics.CheckoutStatus(string(domain.CheckoutStatusPaid))
	metrics.CheckoutPaid(checkout.Cart.Currency, checkout.Cart.Total)
	for i := 0; i < newGrants; i++ {
		metrics.GrantRecorded(true)
	}

	s.logger.Info("checkout paid",
		"checkout_id", checkout.ID,
		"session_id", checkout.SessionID,
		"items", len(checkout.Cart.Items),
		"total", checkout.Cart.Total,
		"currency", checkout.Cart.Currency,
	)

	if len(held) > 0 {
		s.logger.Warn("paid checkout overlaps existing grants",
			"checkout_id", checkout.ID,
			"session_id", checkout.SessionID,
			"assets", held,
			"refund_due", checkout.RefundDue,
		)
	}
	if err := s.settleRefund(ctx, op, checkout); err != nil {
		return nil, err
	}

	return checkout, nil
}

// settleRefund issues the refund recorded on a paid checkout, once. An error
// leaves the refund outstanding so the next confirmation retries it.
func (s *checkoutService) settleRefund(ctx context.Context, op string, c *domain.Checkout) error {
	if !c.RefundPending() {
		return nil
	}

	err := s.gateway.RefundCheckoutSession(ctx, billing.RefundRequest{
		PaymentRef: c.PaymentRef,
		CheckoutID: c.ID,
		Amount:     c.RefundDue,
	})
	if err != nil {
		s.logger.Error("failed to refund checkout",
			"checkout_id", c.ID,
			"refund_due", c.RefundDue,
			"error", err,
		)
		return domain.Internal(err, op, "failed to refund duplicate items")
	}

	at := s.now()
	if err := s.store.MarkRefunded(ctx, c.ID, at); err != nil {
		return domain.Internal(err, op, "failed to record refund")
	}
	c.RefundedAt = &at

	metrics.CheckoutRefunded(c.Cart.Currency, c.RefundDue)
	s.logger.Info("checkout refunded",
		"checkout_id", c.ID,
		"amount", c.RefundDue,
		"currency", c.Cart.Currency,
	)
	return nil
}

func (s *checkoutService) Fail(ctx context.Context, ref PaymentRef, reason string) (*domain.Checkout, error) {
	const op = "checkout.fail"

	found, err := s.byPaymentRef(ctx, op, ref)
	if err != nil {
		return nil, err
	}

	var (
		checkout *domain.Checkout
		changed  bool
	)
	err = s.store.WithClientLock(ctx, found.SessionID, found.ClientKey, func(tx store.Store) error {
		c, err := tx.GetCheckout(ctx, found.ID)
		if err != nil {
			return err
		}
		checkout = c

		if c.Status.IsTerminal() {
			return nil
		}
		if err := c.TransitionTo(domain.CheckoutStatusFailed, s.now()); err != nil {
			return err
		}
		changed = true
		return tx.UpdateCheckoutStatus(ctx, c)
	})
	if err != nil {
		return nil, domain.Internal(err, op, "failed to update checkout")
	}

	if changed {
		metrics.CheckoutStatus(string(domain.CheckoutStatusFailed))
		s.logger.Info("checkout failed",
			"checkout_id", checkout.ID,
			"session_id", checkout.SessionID,
			"reason", reason,
		)
	}

	return checkout, nil
}

func (s *checkoutService) Get(ctx context.Context, sessionID, clientKey string, id uuid.UUID) (*domain.Checkout, error) {
	const op = "checkout.get"

	c, err := s.store.GetCheckout(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.NotFound(op, "checkout", id.String())
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load checkout")
	}

	// Other clients' checkouts are reported as missing.
	if c.SessionID != sessionID || c.ClientKey != clientKey {
		return nil, domain.NotFound(op, "checkout", id.String())
	}
	return c, nil
}

func (s *checkoutService) ExpireStale(ctx context.Context) (int64, error) {
	const op = "checkout.expire_stale"

	now := s.now()
	n, err := s.store.ExpirePending(ctx, now.Add(-s.ttl), now)
	if err != nil {
		return 0, domain.Internal(err, op, "failed to expire checkouts")
	}

	metrics.CheckoutsTransitioned(string(domain.CheckoutStatusExpired), n)
	if n > 0 {
		s.logger.Info("expired abandoned checkouts", "count", n, "ttl", s.ttl)
	}
	return n, nil
}

// byPaymentRef finds the checkout for a gateway event. It falls back to the
// echoed checkout ID when the event arrives before Start saved the gateway
// reference, and records the reference in that case.
func (s *checkoutService) byPaymentRef(ctx context.Context, op string, ref PaymentRef) (*domain.Checkout, error) {
	if ref.Ref == "" {
		return nil, domain.Invalid(op, "payment reference is required")
	}

	c, err := s.store.GetCheckoutByPaymentRef(ctx, ref.Ref)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, domain.Internal(err, op, "failed to load checkout")
	}

	id, parseErr := uuid.Parse(ref.CheckoutID)
	if parseErr != nil {
		return nil, domain.NotFound(op, "checkout", ref.Ref)
	}
	c, err = s.store.GetCheckout(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.NotFound(op, "checkout", ref.Ref)
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load checkout")
	}

	switch c.PaymentRef {
	case ref.Ref:
	case "":
		if err := s.store.SetPaymentRef(ctx, c.ID, ref.Ref); err != nil {
			return nil, domain.Internal(err, op, "failed to save payment reference")
		}
		c.PaymentRef = ref.Ref
	default:
		// The ID belongs to a checkout paid through a different session.
		return nil, domain.NotFound(op, "checkout", ref.Ref)
	}
	return c, nil
}
