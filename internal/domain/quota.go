package domain

import (
	"encoding/json"
	"fmt"
)

// Decision is the outcome of evaluating a download request against a policy.
type Decision int

const (
	DecisionDeny Decision = iota
	DecisionAllowFree
	DecisionAllowRedownload
	DecisionRequiresPayment
)

var decisionNames = map[Decision]string{
	DecisionDeny:            "deny",
	DecisionAllowFree:       "allow_free",
	DecisionAllowRedownload: "allow_redownload",
	DecisionRequiresPayment: "requires_payment",
}

func (d Decision) String() string {
	if name, ok := decisionNames[d]; ok {
		return name
	}
	return fmt.Sprintf("decision(%d)", int(d))
}

// MarshalJSON encodes the decision by name.
func (d Decision) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// IsGranted reports whether the download may proceed without payment.
func (d Decision) IsGranted() bool {
	return d == DecisionAllowFree || d == DecisionAllowRedownload
}

// Decide evaluates one download request.
//
// An existing grant always wins: re-downloads are free whatever the current
// policy says. Otherwise free sessions allow, fixed sessions require payment,
// and freemium sessions allow until the client holds FreeCount distinct grants.
// Deny is reserved for malformed input.
func Decide(policy *PricingPolicy, grants GrantSet, assetID string) Decision {
	if policy == nil || assetID == "" {
		return DecisionDeny
	}
	if grants.Has(assetID) {
		return DecisionAllowRedownload
	}

	switch policy.Mode {
	case PricingModeFree:
		return DecisionAllowFree
	case PricingModeFixed:
		return DecisionRequiresPayment
	case PricingModeFreemium:
		if grants.Len() < policy.FreeCount {
			return DecisionAllowFree
		}
		return DecisionRequiresPayment
	}
	return DecisionDeny
}

// DecideBatch evaluates assetIDs in order as if each ALLOW_FREE were granted
// before the next is considered, so a batch never exceeds the free allowance.
// Duplicate IDs within the batch resolve to ALLOW_REDOWNLOAD after the first.
// The input set is not modified.
func DecideBatch(policy *PricingPolicy, grants GrantSet, assetIDs []string) []Decision {
	working := grants.Clone()
	out := make([]Decision, len(assetIDs))
	for i, id := range assetIDs {
		d := Decide(policy, working, id)
		if d == DecisionAllowFree {
			working.Add(id)
		}
		out[i] = d
	}
	return out
}

// FreeRemaining returns how many more free downloads the client has, or -1
// when downloads are unlimited.
func FreeRemaining(policy *PricingPolicy, grants GrantSet) int {
	limit := policy.EffectiveFreeCount()
	if limit < 0 {
		return -1
	}
	remaining := limit - grants.Len()
	if remaining < 0 {
		return 0
	}
	return remaining
}
