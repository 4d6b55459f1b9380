package service

import (
	"context"

	"github.com/DukeRupert/proofsheet/internal/domain"
)

// TaxRateSource supplies the tax rate, in basis points, applied to a
// session's carts. The rate is ignored when the policy price includes tax.
type TaxRateSource interface {
	RateBPS(ctx context.Context, policy *domain.PricingPolicy) (int64, error)
}

// FlatTaxRate applies one configured rate to every session.
type FlatTaxRate int64

func (r FlatTaxRate) RateBPS(ctx context.Context, policy *domain.PricingPolicy) (int64, error) {
	return int64(r), nil
}
