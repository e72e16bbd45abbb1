package billing

import "time"

// RateCard converts call durations into charge amounts.
type RateCard struct {
	// PerMinute is the price of one call minute in minor currency units.
	PerMinute int64

	// Currency is the ISO 4217 code, informational only; the ledger itself is
	// currency-agnostic.
	Currency string
}

// ChargeFor returns the charge for a call of the given duration. Partial
// minutes are billed as full minutes; a zero or negative duration costs
// nothing.
func (r RateCard) ChargeFor(d time.Duration) int64 {
	if d <= 0 || r.PerMinute <= 0 {
		return 0
	}
	minutes := int64(d / time.Minute)
	if d%time.Minute != 0 {
		minutes++
	}
	return minutes * r.PerMinute
}
