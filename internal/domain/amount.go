package domain

import "math"

// Amounts are unsigned base units of an asset (wei-style integers). All
// balance arithmetic goes through the checked helpers below so an overflow
// surfaces as an integrity error instead of wrapping silently.

// AddAmount returns a+b or ErrOverflow when the sum does not fit in uint64.
func AddAmount(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// SubAmount returns a-b or ErrInsufficientBalance when b exceeds a. Balances
// can never go negative; the caller decides whether that is a validation
// failure or an eligibility skip.
func SubAmount(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrInsufficientBalance
	}
	return a - b, nil
}

// BpsOf returns amount*bps/10000 without overflowing intermediate math.
func BpsOf(amount uint64, bps uint32) uint64 {
	hi := amount / 10_000
	lo := amount % 10_000
	return hi*uint64(bps) + lo*uint64(bps)/10_000
}
