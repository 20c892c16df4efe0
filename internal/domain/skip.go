package domain

// SkipReason is the stable code attached to an eligibility skip. Skips
// terminate a single execution attempt cleanly; they are outcomes, not
// errors, and never abort sibling attempts in a batch.
type SkipReason string

const (
	SkipNone              SkipReason = ""
	SkipNotFound          SkipReason = "NotFound"
	SkipCanceled          SkipReason = "Canceled"
	SkipNotDue            SkipReason = "NotDue"
	SkipPaused            SkipReason = "Paused"
	SkipCircuitBreaker    SkipReason = "CircuitBreaker"
	SkipInsufficientFunds SkipReason = "InsufficientFunds"
	SkipOracleStale       SkipReason = "OracleStale"
	SkipTwapUnavailable   SkipReason = "TwapUnavailable"
	SkipPriceDeviation    SkipReason = "PriceDeviation"
	SkipDepeg             SkipReason = "Depeg"
	SkipPriceBound        SkipReason = "PriceBound"
	SkipGasCap            SkipReason = "GasCap"
	SkipRouteFailed       SkipReason = "RouteFailed"
)

// CheckResult is the tagged verdict of one guard in the eligibility pipeline.
type CheckResult struct {
	OK     bool
	Reason SkipReason
}

// Pass is the passing verdict.
func Pass() CheckResult {
	return CheckResult{OK: true}
}

// Skip is a failing verdict carrying the skip reason.
func Skip(reason SkipReason) CheckResult {
	return CheckResult{OK: false, Reason: reason}
}
