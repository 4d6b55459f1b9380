package metrics

// DecisionMade counts one evaluated download request.
func DecisionMade(decision string) {
	DownloadDecisions.WithLabelValues(decision).Inc()
}

// GrantRecorded counts a newly inserted grant. Idempotent re-inserts are
// not counted.
func GrantRecorded(paid bool) {
	kind := "free"
	if paid {
		kind = "paid"
	}
	GrantsRecorded.WithLabelValues(kind).Inc()
}

// CheckoutStatus counts a checkout entering status.
func CheckoutStatus(status string) {
	Checkouts.WithLabelValues(status).Inc()
}

// CheckoutsTransitioned counts n checkouts entering status in bulk.
func CheckoutsTransitioned(status string, n int64) {
	if n > 0 {
		Checkouts.WithLabelValues(status).Add(float64(n))
	}
}

// CheckoutPaid records the value of a paid checkout.
func CheckoutPaid(currency string, total int64) {
	CheckoutRevenueMinor.WithLabelValues(currency).Add(float64(total))
}

// CheckoutRefunded records a refund issued for a paid checkout.
func CheckoutRefunded(currency string, amount int64) {
	CheckoutRefundsMinor.WithLabelValues(currency).Add(float64(amount))
}

// PolicyCacheResult counts a policy cache lookup.
func PolicyCacheResult(result string) {
	PolicyCache.WithLabelValues(result).Inc()
}
