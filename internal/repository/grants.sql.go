package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const lockClient = `-- name: LockClient :exec
SELECT pg_advisory_xact_lock(hashtextextended($1::text || '/' || $2::text, 0))
`

type LockClientParams struct {
	SessionID string
	ClientKey string
}

// LockClient serializes ledger work for one (session, client) until the
// surrounding transaction ends.
func (q *Queries) LockClient(ctx context.Context, arg LockClientParams) error {
	_, err := q.db.ExecContext(ctx, lockClient, arg.SessionID, arg.ClientKey)
	return err
}

const insertDownloadGrant = `-- name: InsertDownloadGrant :execrows
INSERT INTO download_grants (session_id, client_key, asset_id, paid, checkout_id, first_granted_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (session_id, client_key, asset_id) DO NOTHING
`

type InsertDownloadGrantParams struct {
	SessionID      string
	ClientKey      string
	AssetID        string
	Paid           bool
	CheckoutID     uuid.NullUUID
	FirstGrantedAt time.Time
}

func (q *Queries) InsertDownloadGrant(ctx context.Context, arg InsertDownloadGrantParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, insertDownloadGrant,
		arg.SessionID,
		arg.ClientKey,
		arg.AssetID,
		arg.Paid,
		arg.CheckoutID,
		arg.FirstGrantedAt,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const listDownloadGrants = `-- name: ListDownloadGrants :many
SELECT session_id, client_key, asset_id, paid, checkout_id, first_granted_at
FROM download_grants
WHERE session_id = $1 AND client_key = $2
ORDER BY first_granted_at, asset_id
`

type ListDownloadGrantsParams struct {
	SessionID string
	ClientKey string
}

func (q *Queries) ListDownloadGrants(ctx context.Context, arg ListDownloadGrantsParams) ([]DownloadGrant, error) {
	rows, err := q.db.QueryContext(ctx, listDownloadGrants, arg.SessionID, arg.ClientKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []DownloadGrant
	for rows.Next() {
		var i DownloadGrant
		if err := rows.Scan(
			&i.SessionID,
			&i.ClientKey,
			&i.AssetID,
			&i.Paid,
			&i.CheckoutID,
			&i.FirstGrantedAt,
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
