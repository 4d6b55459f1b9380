package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

const checkoutColumns = `id, session_id, client_key, status, currency, subtotal, tax, total, tax_rate_bps, payment_ref, created_at, completed_at, refund_due, refunded_at`

func scanCheckout(row interface{ Scan(...interface{}) error }) (Checkout, error) {
	var i Checkout
	err := row.Scan(
		&i.ID,
		&i.SessionID,
		&i.ClientKey,
		&i.Status,
		&i.Currency,
		&i.Subtotal,
		&i.Tax,
		&i.Total,
		&i.TaxRateBps,
		&i.PaymentRef,
		&i.CreatedAt,
		&i.CompletedAt,
		&i.RefundDue,
		&i.RefundedAt,
	)
	return i, err
}

const createCheckout = `-- name: CreateCheckout :one
INSERT INTO checkouts (id, session_id, client_key, status, currency, subtotal, tax, total, tax_rate_bps, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING ` + checkoutColumns

type CreateCheckoutParams struct {
	ID         uuid.UUID
	SessionID  string
	ClientKey  string
	Status     string
	Currency   string
	Subtotal   int64
	Tax        int64
	Total      int64
	TaxRateBps int64
	CreatedAt  time.Time
}

func (q *Queries) CreateCheckout(ctx context.Context, arg CreateCheckoutParams) (Checkout, error) {
	row := q.db.QueryRowContext(ctx, createCheckout,
		arg.ID,
		arg.SessionID,
		arg.ClientKey,
		arg.Status,
		arg.Currency,
		arg.Subtotal,
		arg.Tax,
		arg.Total,
		arg.TaxRateBps,
		arg.CreatedAt,
	)
	return scanCheckout(row)
}

const createCheckoutItem = `-- name: CreateCheckoutItem :exec
INSERT INTO checkout_items (checkout_id, position, asset_id, unit_price)
VALUES ($1, $2, $3, $4)
`

type CreateCheckoutItemParams struct {
	CheckoutID uuid.UUID
	Position   int32
	AssetID    string
	UnitPrice  int64
}

func (q *Queries) CreateCheckoutItem(ctx context.Context, arg CreateCheckoutItemParams) error {
	_, err := q.db.ExecContext(ctx, createCheckoutItem,
		arg.CheckoutID,
		arg.Position,
		arg.AssetID,
		arg.UnitPrice,
	)
	return err
}

const getCheckout = `-- name: GetCheckout :one
SELECT ` + checkoutColumns + `
FROM checkouts
WHERE id = $1
`

func (q *Queries) GetCheckout(ctx context.Context, id uuid.UUID) (Checkout, error) {
	return scanCheckout(q.db.QueryRowContext(ctx, getCheckout, id))
}

const getCheckoutByPaymentRef = `-- name: GetCheckoutByPaymentRef :one
SELECT ` + checkoutColumns + `
FROM checkouts
WHERE payment_ref = $1
`

func (q *Queries) GetCheckoutByPaymentRef(ctx context.Context, paymentRef string) (Checkout, error) {
	return scanCheckout(q.db.QueryRowContext(ctx, getCheckoutByPaymentRef, paymentRef))
}

const listCheckoutItems = `-- name: ListCheckoutItems :many
SELECT checkout_id, position, asset_id, unit_price
FROM checkout_items
WHERE checkout_id = $1
ORDER BY position
`

func (q *Queries) ListCheckoutItems(ctx context.Context, checkoutID uuid.UUID) ([]CheckoutItem, error) {
	rows, err := q.db.QueryContext(ctx, listCheckoutItems, checkoutID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CheckoutItem
	for rows.Next() {
		var i CheckoutItem
		if err := rows.Scan(
			&i.CheckoutID,
			&i.Position,
			&i.AssetID,
			&i.UnitPrice,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const setCheckoutPaymentRef = `-- name: SetCheckoutPaymentRef :exec
UPDATE checkouts SET payment_ref = $2 WHERE id = $1
`

func (q *Queries) SetCheckoutPaymentRef(ctx context.Context, id uuid.UUID, paymentRef string) error {
	_, err := q.db.ExecContext(ctx, setCheckoutPaymentRef, id, paymentRef)
	return err
}

const updateCheckoutStatus = `-- name: UpdateCheckoutStatus :exec
UPDATE checkouts SET status = $2, completed_at = $3, refund_due = $4 WHERE id = $1
`

type UpdateCheckoutStatusParams struct {
	ID          uuid.UUID
	Status      string
	CompletedAt sql.NullTime
	RefundDue   int64
}

func (q *Queries) UpdateCheckoutStatus(ctx context.Context, arg UpdateCheckoutStatusParams) error {
	_, err := q.db.ExecContext(ctx, updateCheckoutStatus, arg.ID, arg.Status, arg.CompletedAt, arg.RefundDue)
	return err
}

const markCheckoutRefunded = `-- name: MarkCheckoutRefunded :exec
UPDATE checkouts SET refunded_at = $2 WHERE id = $1 AND refunded_at IS NULL
`

func (q *Queries) MarkCheckoutRefunded(ctx context.Context, id uuid.UUID, refundedAt time.Time) error {
	_, err := q.db.ExecContext(ctx, markCheckoutRefunded, id, refundedAt)
	return err
}

const supersedePendingCheckouts = `-- name: SupersedePendingCheckouts :many
UPDATE checkouts SET status = 'superseded', completed_at = $3
WHERE session_id = $1 AND client_key = $2 AND status = 'pending'
RETURNING ` + checkoutColumns + `
`

type SupersedePendingCheckoutsParams struct {
	SessionID   string
	ClientKey   string
	CompletedAt time.Time
}

func (q *Queries) SupersedePendingCheckouts(ctx context.Context, arg SupersedePendingCheckoutsParams) ([]Checkout, error) {
	rows, err := q.db.QueryContext(ctx, supersedePendingCheckouts, arg.SessionID, arg.ClientKey, arg.CompletedAt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Checkout
	for rows.Next() {
		i, err := scanCheckout(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const expirePendingCheckouts = `-- name: ExpirePendingCheckouts :execrows
UPDATE checkouts SET status = 'expired', completed_at = $2
WHERE status = 'pending' AND created_at < $1
`

func (q *Queries) ExpirePendingCheckouts(ctx context.Context, createdBefore, completedAt time.Time) (int64, error) {
	result, err := q.db.ExecContext(ctx, expirePendingCheckouts, createdBefore, completedAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
