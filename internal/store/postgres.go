package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/DukeRupert/proofsheet/internal/domain"
	"github.com/DukeRupert/proofsheet/internal/repository"
	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// PostgresStore implements Store on top of the repository query layer.
type PostgresStore struct {
	db      *sql.DB
	queries *repository.Queries
	inTx    bool
}

// NewPostgresStore creates a PostgresStore using db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:      db,
		queries: repository.New(db),
	}
}

func (s *PostgresStore) GetPolicy(ctx context.Context, sessionID string) (*domain.PricingPolicy, error) {
	row, err := s.queries.GetPricingPolicy(ctx, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pricing policy: %w", err)
	}
	return policyFromRow(row), nil
}

func (s *PostgresStore) PutPolicy(ctx context.Context, policy *domain.PricingPolicy) (*domain.PricingPolicy, error) {
	if policy.FreeCount < 0 || policy.FreeCount > math.MaxInt32 {
		return nil, fmt.Errorf("free count %d out of range", policy.FreeCount)
	}
	row, err := s.queries.UpsertPricingPolicy(ctx, repository.UpsertPricingPolicyParams{
		SessionID:     policy.SessionID,
		Mode:          string(policy.Mode),
		FreeCount:     int32(policy.FreeCount),
		PricePerAsset: policy.PricePerAsset,
		Currency:      policy.Currency,
		TaxIncluded:   policy.TaxIncluded,
		BulkTiers:     pqtype.NullRawMessage{RawMessage: policy.BulkTiers, Valid: len(policy.BulkTiers) > 0},
	})
	if err != nil {
		return nil, fmt.Errorf("upsert pricing policy: %w", err)
	}
	return policyFromRow(row), nil
}

func (s *PostgresStore) GetAsset(ctx context.Context, sessionID, assetID string) (*domain.Asset, error) {
	row, err := s.queries.GetAsset(ctx, repository.GetAssetParams{SessionID: sessionID, AssetID: assetID})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get asset: %w", err)
	}
	return assetFromRow(row), nil
}

func (s *PostgresStore) PutAsset(ctx context.Context, asset *domain.Asset) (*domain.Asset, error) {
	row, err := s.queries.UpsertAsset(ctx, repository.UpsertAssetParams{
		SessionID:  asset.SessionID,
		AssetID:    asset.AssetID,
		StorageKey: asset.StorageKey,
		Filename:   asset.Filename,
	})
	if err != nil {
		return nil, fmt.Errorf("upsert asset: %w", err)
	}
	return assetFromRow(row), nil
}

func (s *PostgresStore) KnownAssets(ctx context.Context, sessionID string, assetIDs []string) (map[string]bool, error) {
	ids, err := s.queries.ListKnownAssetIDs(ctx, repository.ListKnownAssetIDsParams{
		SessionID: sessionID,
		AssetIDs:  assetIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("list known assets: %w", err)
	}
	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}
	return known, nil
}

func (s *PostgresStore) ListGrants(ctx context.Context, sessionID, clientKey string) ([]domain.DownloadGrant, error) {
	rows, err := s.queries.ListDownloadGrants(ctx, repository.ListDownloadGrantsParams{
		SessionID: sessionID,
		ClientKey: clientKey,
	})
	if err != nil {
		return nil, fmt.Errorf("list download grants: %w", err)
	}
	grants := make([]domain.DownloadGrant, len(rows))
	for i, row := range rows {
		grants[i] = domain.DownloadGrant{
			SessionID:      row.SessionID,
			ClientKey:      row.ClientKey,
			AssetID:        row.AssetID,
			Paid:           row.Paid,
			FirstGrantedAt: row.FirstGrantedAt,
		}
		if row.CheckoutID.Valid {
			id := row.CheckoutID.UUID
			grants[i].CheckoutID = &id
		}
	}
	return grants, nil
}

func (s *PostgresStore) RecordGrant(ctx context.Context, grant domain.DownloadGrant) (bool, error) {
	params := repository.InsertDownloadGrantParams{
		SessionID:      grant.SessionID,
		ClientKey:      grant.ClientKey,
		AssetID:        grant.AssetID,
		Paid:           grant.Paid,
		FirstGrantedAt: grant.FirstGrantedAt,
	}
	if grant.CheckoutID != nil {
		params.CheckoutID = uuid.NullUUID{UUID: *grant.CheckoutID, Valid: true}
	}
	if params.FirstGrantedAt.IsZero() {
		params.FirstGrantedAt = time.Now().UTC()
	}

	n, err := s.queries.InsertDownloadGrant(ctx, params)
	if err != nil {
		return false, fmt.Errorf("insert download grant: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) CreateCheckout(ctx context.Context, checkout *domain.Checkout) error {
	return s.inTransaction(ctx, func(q *repository.Queries) error {
		_, err := q.CreateCheckout(ctx, repository.CreateCheckoutParams{
			ID:         checkout.ID,
			SessionID:  checkout.SessionID,
			ClientKey:  checkout.ClientKey,
			Status:     string(checkout.Status),
			Currency:   checkout.Cart.Currency,
			Subtotal:   checkout.Cart.Subtotal,
			Tax:        checkout.Cart.Tax,
			Total:      checkout.Cart.Total,
			TaxRateBps: checkout.Cart.TaxRateBPS,
			CreatedAt:  checkout.CreatedAt,
		})
		if err != nil {
			return fmt.Errorf("create checkout: %w", err)
		}
		for i, item := range checkout.Cart.Items {
			if err := q.CreateCheckoutItem(ctx, repository.CreateCheckoutItemParams{
				CheckoutID: checkout.ID,
				Position:   int32(i),
				AssetID:    item.AssetID,
				UnitPrice:  item.UnitPrice,
			}); err != nil {
				return fmt.Errorf("create checkout item: %w", err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) GetCheckout(ctx context.Context, id uuid.UUID) (*domain.Checkout, error) {
	row, err := s.queries.GetCheckout(ctx, id)
	return s.loadCheckout(ctx, row, err)
}

func (s *PostgresStore) GetCheckoutByPaymentRef(ctx context.Context, paymentRef string) (*domain.Checkout, error) {
	row, err := s.queries.GetCheckoutByPaymentRef(ctx, paymentRef)
	return s.loadCheckout(ctx, row, err)
}

func (s *PostgresStore) SetPaymentRef(ctx context.Context, id uuid.UUID, paymentRef string) error {
	if err := s.queries.SetCheckoutPaymentRef(ctx, id, paymentRef); err != nil {
		return fmt.Errorf("set checkout payment ref: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateCheckoutStatus(ctx context.Context, checkout *domain.Checkout) error {
	params := repository.UpdateCheckoutStatusParams{
		ID:        checkout.ID,
		Status:    string(checkout.Status),
		RefundDue: checkout.RefundDue,
	}
	if checkout.CompletedAt != nil {
		params.CompletedAt = sql.NullTime{Time: *checkout.CompletedAt, Valid: true}
	}
	if err := s.queries.UpdateCheckoutStatus(ctx, params); err != nil {
		return fmt.Errorf("update checkout status: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkRefunded(ctx context.Context, id uuid.UUID, at time.Time) error {
	if err := s.queries.MarkCheckoutRefunded(ctx, id, at); err != nil {
		return fmt.Errorf("mark checkout refunded: %w", err)
	}
	return nil
}

func (s *PostgresStore) SupersedePending(ctx context.Context, sessionID, clientKey string, at time.Time) ([]domain.Checkout, error) {
	rows, err := s.queries.SupersedePendingCheckouts(ctx, repository.SupersedePendingCheckoutsParams{
		SessionID:   sessionID,
		ClientKey:   clientKey,
		CompletedAt: at,
	})
	if err != nil {
		return nil, fmt.Errorf("supersede pending checkouts: %w", err)
	}
	checkouts := make([]domain.Checkout, len(rows))
	for i, row := range rows {
		checkouts[i] = *checkoutFromRow(row)
	}
	return checkouts, nil
}

func (s *PostgresStore) ExpirePending(ctx context.Context, cutoff, at time.Time) (int64, error) {
	n, err := s.queries.ExpirePendingCheckouts(ctx, cutoff, at)
	if err != nil {
		return 0, fmt.Errorf("expire pending checkouts: %w", err)
	}
	return n, nil
}

// WithClientLock runs fn in a transaction holding a Postgres advisory lock
// on the (session, client) pair. Nested calls reuse the open transaction.
func (s *PostgresStore) WithClientLock(ctx context.Context, sessionID, clientKey string, fn func(Store) error) error {
	if s.inTx {
		if err := s.queries.LockClient(ctx, repository.LockClientParams{SessionID: sessionID, ClientKey: clientKey}); err != nil {
			return fmt.Errorf("lock client: %w", err)
		}
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	txStore := &PostgresStore{db: s.db, queries: s.queries.WithTx(tx), inTx: true}
	if err := txStore.queries.LockClient(ctx, repository.LockClientParams{SessionID: sessionID, ClientKey: clientKey}); err != nil {
		return fmt.Errorf("lock client: %w", err)
	}

	if err := fn(txStore); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// inTransaction runs fn in its own transaction unless the store is already
// bound to one.
func (s *PostgresStore) inTransaction(ctx context.Context, fn func(*repository.Queries) error) error {
	if s.inTx {
		return fn(s.queries)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(s.queries.WithTx(tx)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) loadCheckout(ctx context.Context, row repository.Checkout, err error) (*domain.Checkout, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get checkout: %w", err)
	}

	items, err := s.queries.ListCheckoutItems(ctx, row.ID)
	if err != nil {
		return nil, fmt.Errorf("list checkout items: %w", err)
	}

	checkout := checkoutFromRow(row)
	checkout.Cart.Items = make([]domain.LineItem, len(items))
	for i, item := range items {
		checkout.Cart.Items[i] = domain.LineItem{AssetID: item.AssetID, UnitPrice: item.UnitPrice}
	}
	return checkout, nil
}

// checkoutFromRow maps a checkout row without its line items.
func checkoutFromRow(row repository.Checkout) *domain.Checkout {
	checkout := &domain.Checkout{
		ID:         row.ID,
		SessionID:  row.SessionID,
		ClientKey:  row.ClientKey,
		Status:     domain.CheckoutStatus(row.Status),
		PaymentRef: row.PaymentRef.String,
		CreatedAt:  row.CreatedAt,
		RefundDue:  row.RefundDue,
		Cart: domain.Cart{
			SessionID:  row.SessionID,
			ClientKey:  row.ClientKey,
			Currency:   row.Currency,
			Subtotal:   row.Subtotal,
			Tax:        row.Tax,
			Total:      row.Total,
			TaxRateBPS: row.TaxRateBps,
		},
	}
	if row.CompletedAt.Valid {
		t := row.CompletedAt.Time
		checkout.CompletedAt = &t
	}
	if row.RefundedAt.Valid {
		t := row.RefundedAt.Time
		checkout.RefundedAt = &t
	}
	return checkout
}

func policyFromRow(row repository.PricingPolicy) *domain.PricingPolicy {
	p := &domain.PricingPolicy{
		SessionID:     row.SessionID,
		Mode:          domain.PricingMode(row.Mode),
		FreeCount:     int(row.FreeCount),
		PricePerAsset: row.PricePerAsset,
		Currency:      row.Currency,
		TaxIncluded:   row.TaxIncluded,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
	if row.BulkTiers.Valid {
		p.BulkTiers = json.RawMessage(row.BulkTiers.RawMessage)
	}
	return p
}

func assetFromRow(row repository.Asset) *domain.Asset {
	return &domain.Asset{
		SessionID:  row.SessionID,
		AssetID:    row.AssetID,
		StorageKey: row.StorageKey,
		Filename:   row.Filename,
		CreatedAt:  row.CreatedAt,
	}
}
