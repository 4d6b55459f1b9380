package repository

import (
	"context"

	"github.com/lib/pq"
)

const getAsset = `-- name: GetAsset :one
SELECT session_id, asset_id, storage_key, filename, created_at
FROM assets
WHERE session_id = $1 AND asset_id = $2
`

type GetAssetParams struct {
	SessionID string
	AssetID   string
}

func (q *Queries) GetAsset(ctx context.Context, arg GetAssetParams) (Asset, error) {
	row := q.db.QueryRowContext(ctx, getAsset, arg.SessionID, arg.AssetID)
	var i Asset
	err := row.Scan(
		&i.SessionID,
		&i.AssetID,
		&i.StorageKey,
		&i.Filename,
		&i.CreatedAt,
	)
	return i, err
}

const upsertAsset = `-- name: UpsertAsset :one
INSERT INTO assets (session_id, asset_id, storage_key, filename)
VALUES ($1, $2, $3, $4)
ON CONFLICT (session_id, asset_id) DO UPDATE SET
    storage_key = EXCLUDED.storage_key,
    filename = EXCLUDED.filename
RETURNING session_id, asset_id, storage_key, filename, created_at
`

type UpsertAssetParams struct {
	SessionID  string
	AssetID    string
	StorageKey string
	Filename   string
}

func (q *Queries) UpsertAsset(ctx context.Context, arg UpsertAssetParams) (Asset, error) {
	row := q.db.QueryRowContext(ctx, upsertAsset,
		arg.SessionID,
		arg.AssetID,
		arg.StorageKey,
		arg.Filename,
	)
	var i Asset
	err := row.Scan(
		&i.SessionID,
		&i.AssetID,
		&i.StorageKey,
		&i.Filename,
		&i.CreatedAt,
	)
	return i, err
}

const listKnownAssetIDs = `-- name: ListKnownAssetIDs :many
SELECT asset_id
FROM assets
WHERE session_id = $1 AND asset_id = ANY($2::text[])
`

type ListKnownAssetIDsParams struct {
	SessionID string
	AssetIDs  []string
}

func (q *Queries) ListKnownAssetIDs(ctx context.Context, arg ListKnownAssetIDsParams) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listKnownAssetIDs, arg.SessionID, pq.Array(arg.AssetIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var assetID string
		if err := rows.Scan(&assetID); err != nil {
			return nil, err
		}
		items = append(items, assetID)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
