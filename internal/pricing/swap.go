// Package pricing implements the constant-product and bonding-curve math.
// All functions are pure: identical inputs always produce identical outputs.
//
// Amounts are integer smallest units carried in decimal.Decimal. Every
// division truncates toward zero via QuoRem, so results never depend on
// decimal.DivisionPrecision.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// BpsDenominator is the number of basis points in 100%.
const BpsDenominator = 10000

// ImpactPrecision is the number of decimal places kept in price impact percentages.
const ImpactPrecision = 4

var hundred = decimal.NewFromInt(100)

// SwapQuote is the result of QuoteSwap.
type SwapQuote struct {
	AmountIn         decimal.Decimal // gross input
	AmountInAfterFee decimal.Decimal // input that moves the curve
	AmountOut        decimal.Decimal // truncated toward zero
	Fee              decimal.Decimal // charged on the input side
	NewReserveIn     decimal.Decimal // reserveIn + amountIn (fee stays in the pool)
	NewReserveOut    decimal.Decimal // reserveOut - amountOut
	PriceImpactPct   decimal.Decimal // truncated toward zero at ImpactPrecision places
}

// ValidateFeeRate checks that feeRateBps is in [0, 10000).
func ValidateFeeRate(feeRateBps int) error {
	if feeRateBps < 0 || feeRateBps >= BpsDenominator {
		return fmt.Errorf("%w: %d bps", ErrInvalidFeeRate, feeRateBps)
	}
	return nil
}

// QuoteSwap prices a swap of amountIn against the (reserveIn, reserveOut) curve.
//
// Formulas:
//   - fee = amountIn * feeRateBps / 10000
//   - amountInAfterFee = amountIn - fee
//   - amountOut = floor(reserveOut * amountInAfterFee / (reserveIn + amountInAfterFee))
//   - priceImpactPct = (1 - (reserveIn/reserveOut) / (amountIn/amountOut)) * 100
//
// maxPriceImpactPct is optional; when Valid, |priceImpactPct| above it fails
// with ErrSlippageExceeded.
func QuoteSwap(
	reserveIn, reserveOut, amountIn decimal.Decimal,
	feeRateBps int,
	maxPriceImpactPct decimal.NullDecimal,
) (*SwapQuote, error) {
	if err := ValidateFeeRate(feeRateBps); err != nil {
		return nil, err
	}
	if maxPriceImpactPct.Valid && maxPriceImpactPct.Decimal.IsNegative() {
		return nil, fmt.Errorf("%w: negative max price impact %s", ErrInvalidAmount, maxPriceImpactPct.Decimal)
	}
	if !reserveIn.IsPositive() || !reserveOut.IsPositive() {
		return nil, fmt.Errorf("%w: reserves must be positive", ErrInsufficientLiquidity)
	}
	if !amountIn.IsPositive() {
		return nil, fmt.Errorf("%w: amount in must be positive", ErrInsufficientLiquidity)
	}
	if !amountIn.IsInteger() {
		return nil, fmt.Errorf("%w: amount in %s is not a whole smallest unit", ErrInvalidAmount, amountIn)
	}

	fee := amountIn.Mul(decimal.NewFromInt(int64(feeRateBps))).Shift(-4)
	afterFee := amountIn.Sub(fee)

	amountOut, _ := afterFee.Mul(reserveOut).QuoRem(reserveIn.Add(afterFee), 0)
	if amountOut.GreaterThanOrEqual(reserveOut) {
		return nil, fmt.Errorf("%w: output %s would drain reserve %s", ErrInsufficientLiquidity, amountOut, reserveOut)
	}
	if !amountOut.IsPositive() {
		return nil, fmt.Errorf("%w: output rounds to zero", ErrInsufficientLiquidity)
	}

	impact := priceImpact(reserveIn, reserveOut, amountIn, amountOut)
	if maxPriceImpactPct.Valid && impact.Abs().GreaterThan(maxPriceImpactPct.Decimal) {
		return nil, fmt.Errorf("%w: impact %s%% above limit %s%%", ErrSlippageExceeded, impact, maxPriceImpactPct.Decimal)
	}

	return &SwapQuote{
		AmountIn:         amountIn,
		AmountInAfterFee: afterFee,
		AmountOut:        amountOut,
		Fee:              fee,
		NewReserveIn:     reserveIn.Add(amountIn),
		NewReserveOut:    reserveOut.Sub(amountOut),
		PriceImpactPct:   impact,
	}, nil
}

// priceImpact returns the relative deviation of the realized price from the
// marginal price, in percent, truncated toward zero.
//
// (1 - marginal/realized) * 100 == (amountIn*reserveOut - amountOut*reserveIn) * 100 / (amountIn*reserveOut)
func priceImpact(reserveIn, reserveOut, amountIn, amountOut decimal.Decimal) decimal.Decimal {
	expected := amountIn.Mul(reserveOut)
	shortfall := expected.Sub(amountOut.Mul(reserveIn))
	impact, _ := shortfall.Mul(hundred).QuoRem(expected, ImpactPrecision)
	return impact
}
