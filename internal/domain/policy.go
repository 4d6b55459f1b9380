// Package domain contains core business types and interfaces.
//
// This file defines the per-session pricing policy that governs downloads.
package domain

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"golang.org/x/text/currency"
)

// MaxAmount is the largest amount, in minor units, that a unit price or a
// cart total may carry. It matches the gateway's per-charge ceiling.
const MaxAmount int64 = 99_999_999

// PricingMode is the download pricing model configured for a session.
type PricingMode string

const (
	PricingModeFree     PricingMode = "free"
	PricingModeFreemium PricingMode = "freemium"
	PricingModeFixed    PricingMode = "fixed"
)

// Valid reports whether m is a known pricing mode.
func (m PricingMode) Valid() bool {
	switch m {
	case PricingModeFree, PricingModeFreemium, PricingModeFixed:
		return true
	}
	return false
}

// Chargeable reports whether the mode can ever produce a paid download.
func (m PricingMode) Chargeable() bool {
	return m == PricingModeFreemium || m == PricingModeFixed
}

// PricingPolicy is the photographer-configured pricing rule set for a
// session's downloads. Prices are in minor currency units.
type PricingPolicy struct {
	SessionID     string      `json:"session_id"`
	Mode          PricingMode `json:"mode"`
	FreeCount     int         `json:"free_count"`
	PricePerAsset int64       `json:"price_per_asset"`
	Currency      string      `json:"currency"`
	TaxIncluded   bool        `json:"tax_included"`

	// BulkTiers is persisted verbatim and never evaluated.
	BulkTiers json.RawMessage `json:"bulk_tiers,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Normalize trims identifiers and upper-cases the currency code.
func (p *PricingPolicy) Normalize() {
	p.SessionID = strings.TrimSpace(p.SessionID)
	p.Mode = PricingMode(strings.ToLower(strings.TrimSpace(string(p.Mode))))
	p.Currency = strings.ToUpper(strings.TrimSpace(p.Currency))
}

// Validate checks the policy invariants. Policies that fail are never stored.
func (p *PricingPolicy) Validate() error {
	const op = "policy.validate"

	if p.SessionID == "" {
		return NewValidationError(op, "session_id", "Session ID is required")
	}
	if !p.Mode.Valid() {
		return NewValidationError(op, "mode", "Mode must be one of free, freemium, fixed")
	}
	if p.FreeCount < 0 {
		return NewValidationError(op, "free_count", "Free count cannot be negative")
	}
	if p.FreeCount > math.MaxInt32 {
		return NewValidationError(op, "free_count", "Free count is too large")
	}
	if p.PricePerAsset < 0 {
		return NewValidationError(op, "price_per_asset", "Price cannot be negative")
	}
	if p.PricePerAsset > MaxAmount {
		return NewValidationError(op, "price_per_asset", "Price exceeds the maximum of 99999999")
	}
	if p.Mode == PricingModeFixed && p.FreeCount != 0 {
		return NewValidationError(op, "free_count", "Fixed pricing does not allow free downloads")
	}
	if p.Mode.Chargeable() && p.PricePerAsset == 0 {
		return NewValidationError(op, "price_per_asset", "Price is required for paid downloads")
	}
	if _, err := currency.ParseISO(p.Currency); err != nil {
		return NewValidationError(op, "currency", "Currency must be an ISO 4217 code")
	}
	if len(p.BulkTiers) > 0 && !json.Valid(p.BulkTiers) {
		return NewValidationError(op, "bulk_tiers", "Bulk tiers must be valid JSON")
	}
	return nil
}

// EffectiveFreeCount returns the free allowance the evaluator applies:
// unlimited (-1) for free sessions and zero for fixed sessions.
func (p *PricingPolicy) EffectiveFreeCount() int {
	switch p.Mode {
	case PricingModeFree:
		return -1
	case PricingModeFixed:
		return 0
	}
	return p.FreeCount
}
