package domain

import (
	"strings"
)

const maxTaxRateBPS = 10000

// LineItem is one chargeable asset in a cart.
type LineItem struct {
	AssetID   string `json:"asset_id"`
	UnitPrice int64  `json:"unit_price"`
}

// Cart is a priced set of assets awaiting payment. Amounts are in minor
// currency units and always derivable from Items, the policy, and the rate.
type Cart struct {
	SessionID  string     `json:"session_id"`
	ClientKey  string     `json:"-"`
	Currency   string     `json:"currency"`
	Items      []LineItem `json:"items"`
	Subtotal   int64      `json:"subtotal"`
	Tax        int64      `json:"tax"`
	Total      int64      `json:"total"`
	TaxRateBPS int64      `json:"tax_rate_bps"`
}

// AssetIDs returns the asset IDs of the line items in order.
func (c *Cart) AssetIDs() []string {
	ids := make([]string, len(c.Items))
	for i, item := range c.Items {
		ids[i] = item.AssetID
	}
	return ids
}

// BuildCart prices the assets that require payment.
//
// Asset IDs are de-duplicated preserving first occurrence. Assets that resolve
// to a free grant or re-download are returned in free and are not charged.
// Returns ErrEmptyCart (with the free list) when nothing is chargeable and an
// invalid error when any asset is denied. taxRateBPS is ignored when the
// policy price already includes tax.
func BuildCart(policy *PricingPolicy, clientKey string, grants GrantSet, assetIDs []string, taxRateBPS int64) (*Cart, []string, error) {
	const op = "cart.build"

	if policy == nil {
		return nil, nil, Invalid(op, "pricing policy is required")
	}
	if taxRateBPS < 0 || taxRateBPS > maxTaxRateBPS {
		return nil, nil, Invalid(op, "tax rate must be between 0 and 10000 basis points")
	}

	ids := dedupe(assetIDs)
	if len(ids) == 0 {
		return nil, nil, Invalid(op, "at least one asset is required")
	}

	decisions := DecideBatch(policy, grants, ids)

	cart := &Cart{
		SessionID: policy.SessionID,
		ClientKey: clientKey,
		Currency:  policy.Currency,
	}
	var free []string
	for i, d := range decisions {
		switch d {
		case DecisionAllowFree, DecisionAllowRedownload:
			free = append(free, ids[i])
		case DecisionRequiresPayment:
			cart.Items = append(cart.Items, LineItem{AssetID: ids[i], UnitPrice: policy.PricePerAsset})
		default:
			return nil, nil, Invalid(op, "asset "+ids[i]+" cannot be downloaded")
		}
	}

	if len(cart.Items) == 0 {
		return nil, free, EmptyCart(op)
	}

	n := int64(len(cart.Items))
	if policy.PricePerAsset > 0 && n > MaxAmount/policy.PricePerAsset {
		return nil, nil, Invalid(op, "cart total exceeds the maximum charge")
	}
	cart.Subtotal = n * policy.PricePerAsset
	if !policy.TaxIncluded {
		cart.TaxRateBPS = taxRateBPS
		cart.Tax = TaxAmount(cart.Subtotal, taxRateBPS)
	}
	cart.Total = cart.Subtotal + cart.Tax
	if cart.Total > MaxAmount {
		return nil, nil, Invalid(op, "cart total exceeds the maximum charge")
	}

	return cart, free, nil
}

// TaxAmount applies a basis-point rate to amount, rounding half up. Rates
// above 100% are clamped.
func TaxAmount(amount, rateBPS int64) int64 {
	if amount <= 0 || rateBPS <= 0 {
		return 0
	}
	if rateBPS > maxTaxRateBPS {
		rateBPS = maxTaxRateBPS
	}
	// Split amount so the product cannot overflow.
	whole, rem := amount/10000, amount%10000
	return whole*rateBPS + (rem*rateBPS+5000)/10000
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
