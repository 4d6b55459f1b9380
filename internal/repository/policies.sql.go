package repository

import (
	"context"

	"github.com/sqlc-dev/pqtype"
)

const getPricingPolicy = `-- name: GetPricingPolicy :one
SELECT session_id, mode, free_count, price_per_asset, currency, tax_included, bulk_tiers, created_at, updated_at
FROM pricing_policies
WHERE session_id = $1
`

func (q *Queries) GetPricingPolicy(ctx context.Context, sessionID string) (PricingPolicy, error) {
	row := q.db.QueryRowContext(ctx, getPricingPolicy, sessionID)
	var i PricingPolicy
	err := row.Scan(
		&i.SessionID,
		&i.Mode,
		&i.FreeCount,
		&i.PricePerAsset,
		&i.Currency,
		&i.TaxIncluded,
		&i.BulkTiers,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const upsertPricingPolicy = `-- name: UpsertPricingPolicy :one
INSERT INTO pricing_policies (session_id, mode, free_count, price_per_asset, currency, tax_included, bulk_tiers)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (session_id) DO UPDATE SET
    mode = EXCLUDED.mode,
    free_count = EXCLUDED.free_count,
    price_per_asset = EXCLUDED.price_per_asset,
    currency = EXCLUDED.currency,
    tax_included = EXCLUDED.tax_included,
    bulk_tiers = EXCLUDED.bulk_tiers,
    updated_at = NOW()
RETURNING session_id, mode, free_count, price_per_asset, currency, tax_included, bulk_tiers, created_at, updated_at
`

type UpsertPricingPolicyParams struct {
	SessionID     string
	Mode          string
	FreeCount     int32
	PricePerAsset int64
	Currency      string
	TaxIncluded   bool
	BulkTiers     pqtype.NullRawMessage
}

func (q *Queries) UpsertPricingPolicy(ctx context.Context, arg UpsertPricingPolicyParams) (PricingPolicy, error) {
	row := q.db.QueryRowContext(ctx, upsertPricingPolicy,
		arg.SessionID,
		arg.Mode,
		arg.FreeCount,
		arg.PricePerAsset,
		arg.Currency,
		arg.TaxIncluded,
		arg.BulkTiers,
	)
	var i PricingPolicy
	err := row.Scan(
		&i.SessionID,
		&i.Mode,
		&i.FreeCount,
		&i.PricePerAsset,
		&i.Currency,
		&i.TaxIncluded,
		&i.BulkTiers,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}
