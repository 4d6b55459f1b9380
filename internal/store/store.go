// Package store persists pricing policies, the asset catalog, the download
// ledger, and checkouts.
//
// Two implementations are provided:
// - PostgresStore: the durable store used in production
// - MemoryStore: a process-local store for development and tests
package store

import (
	"context"
	"errors"
	"time"

	"github.com/DukeRupert/proofsheet/internal/domain"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the persistence operations the services depend on.
type Store interface {
	// GetPolicy returns the pricing policy for a session, or ErrNotFound.
	GetPolicy(ctx context.Context, sessionID string) (*domain.PricingPolicy, error)

	// PutPolicy creates or replaces a session's pricing policy.
	PutPolicy(ctx context.Context, policy *domain.PricingPolicy) (*domain.PricingPolicy, error)

	// GetAsset returns a registered asset, or ErrNotFound.
	GetAsset(ctx context.Context, sessionID, assetID string) (*domain.Asset, error)

	// PutAsset registers or updates an asset in the session catalog.
	PutAsset(ctx context.Context, asset *domain.Asset) (*domain.Asset, error)

	// KnownAssets returns the subset of assetIDs registered for the session.
	KnownAssets(ctx context.Context, sessionID string, assetIDs []string) (map[string]bool, error)

	// ListGrants returns every grant held by a client in a session.
	ListGrants(ctx context.Context, sessionID, clientKey string) ([]domain.DownloadGrant, error)

	// RecordGrant inserts a grant. Inserting an existing (session, client,
	// asset) triple is a successful no-op and reports inserted=false.
	RecordGrant(ctx context.Context, grant domain.DownloadGrant) (inserted bool, err error)

	// CreateCheckout persists a pending checkout with its line items.
	CreateCheckout(ctx context.Context, checkout *domain.Checkout) error

	// GetCheckout returns a checkout with its cart, or ErrNotFound.
	GetCheckout(ctx context.Context, id uuid.UUID) (*domain.Checkout, error)

	// GetCheckoutByPaymentRef looks a checkout up by gateway reference.
	GetCheckoutByPaymentRef(ctx context.Context, paymentRef string) (*domain.Checkout, error)

	// SetPaymentRef stores the gateway reference for a checkout.
	SetPaymentRef(ctx context.Context, id uuid.UUID, paymentRef string) error

	// UpdateCheckoutStatus persists checkout.Status, checkout.CompletedAt and
	// checkout.RefundDue.
	UpdateCheckoutStatus(ctx context.Context, checkout *domain.Checkout) error

	// MarkRefunded records that a checkout's refund was returned. Marking an
	// already refunded checkout keeps the first timestamp.
	MarkRefunded(ctx context.Context, id uuid.UUID, at time.Time) error

	// SupersedePending marks a client's pending checkouts superseded and
	// returns them without their line items.
	SupersedePending(ctx context.Context, sessionID, clientKey string, at time.Time) ([]domain.Checkout, error)

	// ExpirePending marks pending checkouts created before cutoff expired.
	ExpirePending(ctx context.Context, cutoff, at time.Time) (int64, error)

	// WithClientLock runs fn with exclusive access to one client's ledger in
	// one session. fn receives a Store bound to the same unit of work; in
	// Postgres that is a transaction that commits only if fn returns nil.
	WithClientLock(ctx context.Context, sessionID, clientKey string, fn func(Store) error) error
}
