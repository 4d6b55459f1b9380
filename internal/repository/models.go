package repository

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

type PricingPolicy struct {
	SessionID     string
	Mode          string
	FreeCount     int32
	PricePerAsset int64
	Currency      string
	TaxIncluded   bool
	BulkTiers     pqtype.NullRawMessage
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Asset struct {
	SessionID  string
	AssetID    string
	StorageKey string
	Filename   string
	CreatedAt  time.Time
}

type DownloadGrant struct {
	SessionID      string
	ClientKey      string
	AssetID        string
	Paid           bool
	CheckoutID     uuid.NullUUID
	FirstGrantedAt time.Time
}

type Checkout struct {
	ID          uuid.UUID
	SessionID   string
	ClientKey   string
	Status      string
	Currency    string
	Subtotal    int64
	Tax         int64
	Total       int64
	TaxRateBps  int64
	PaymentRef  sql.NullString
	CreatedAt   time.Time
	CompletedAt sql.NullTime
	RefundDue   int64
	RefundedAt  sql.NullTime
}

type CheckoutItem struct {
	CheckoutID uuid.UUID
	Position   int32
	AssetID    string
	UnitPrice  int64
}
