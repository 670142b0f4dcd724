package pricing

import "errors"

// Validation errors. Rejected before any computation.
var (
	// ErrInvalidFeeRate is returned when a fee rate is outside [0, 10000) bps.
	ErrInvalidFeeRate = errors.New("invalid fee rate")

	// ErrInvalidAmount is returned for negative or fractional smallest-unit amounts.
	ErrInvalidAmount = errors.New("invalid amount")
)

// Invariant-guard errors. Expected market outcomes, not system failures.
var (
	// ErrSlippageExceeded is returned when price impact is above the caller's ceiling.
	ErrSlippageExceeded = errors.New("slippage exceeded")

	// ErrInsufficientLiquidity is returned when a trade would drain the pool
	// or an input is non-positive.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")

	// ErrZeroLiquidity is returned when both liquidity inputs are zero.
	ErrZeroLiquidity = errors.New("zero liquidity")

	// ErrDegenerateRatio is returned when minted or burned amounts round to zero.
	ErrDegenerateRatio = errors.New("degenerate ratio")
)

// IsRejection reports whether err is an invariant-guard rejection
// that should be presented to the end user rather than logged as a failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrSlippageExceeded) ||
		errors.Is(err, ErrInsufficientLiquidity) ||
		errors.Is(err, ErrZeroLiquidity) ||
		errors.Is(err, ErrDegenerateRatio)
}

// Reason returns a short, stable label for err, suitable for metric labels.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSlippageExceeded):
		return "slippage_exceeded"
	case errors.Is(err, ErrInsufficientLiquidity):
		return "insufficient_liquidity"
	case errors.Is(err, ErrZeroLiquidity):
		return "zero_liquidity"
	case errors.Is(err, ErrDegenerateRatio):
		return "degenerate_ratio"
	case errors.Is(err, ErrInvalidFeeRate):
		return "invalid_fee_rate"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	default:
		return "other"
	}
}
