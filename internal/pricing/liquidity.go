package pricing

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// LiquidityQuote is the result of QuoteLiquidityAdd.
type LiquidityQuote struct {
	MintedShares  decimal.Decimal
	BaseAccepted  decimal.Decimal // may be less than requested after ratio trimming
	QuoteAccepted decimal.Decimal // may be less than requested after ratio trimming
}

// RemovalQuote is the result of QuoteLiquidityRemove.
type RemovalQuote struct {
	SharesBurned decimal.Decimal
	BaseOut      decimal.Decimal
	QuoteOut     decimal.Decimal
}

// QuoteLiquidityAdd computes the shares minted for a contribution.
//
// Bootstrap (lpSupply == 0): mintedShares = floor(sqrt(baseIn * quoteIn)) and both
// inputs are accepted as-is, fixing the initial price.
//
// Otherwise the side in excess of baseReserve/quoteReserve is trimmed, and
// mintedShares = min(lpSupply*baseAccepted/baseReserve, lpSupply*quoteAccepted/quoteReserve),
// both truncated.
func QuoteLiquidityAdd(baseReserve, quoteReserve, lpSupply, baseIn, quoteIn decimal.Decimal) (*LiquidityQuote, error) {
	if err := requireWholeNonNegative("base in", baseIn); err != nil {
		return nil, err
	}
	if err := requireWholeNonNegative("quote in", quoteIn); err != nil {
		return nil, err
	}
	if baseIn.IsZero() && quoteIn.IsZero() {
		return nil, ErrZeroLiquidity
	}

	if lpSupply.IsZero() {
		minted := isqrt(baseIn.Mul(quoteIn))
		if !minted.IsPositive() {
			return nil, fmt.Errorf("%w: bootstrap requires both sides", ErrDegenerateRatio)
		}
		return &LiquidityQuote{
			MintedShares:  minted,
			BaseAccepted:  baseIn,
			QuoteAccepted: quoteIn,
		}, nil
	}

	if !baseReserve.IsPositive() || !quoteReserve.IsPositive() {
		return nil, fmt.Errorf("%w: reserves must be positive", ErrInsufficientLiquidity)
	}

	baseAccepted, quoteAccepted := baseIn, quoteIn
	quoteOptimal, _ := baseIn.Mul(quoteReserve).QuoRem(baseReserve, 0)
	if quoteOptimal.LessThanOrEqual(quoteIn) {
		quoteAccepted = quoteOptimal
	} else {
		baseAccepted, _ = quoteIn.Mul(baseReserve).QuoRem(quoteReserve, 0)
	}

	byBase, _ := lpSupply.Mul(baseAccepted).QuoRem(baseReserve, 0)
	byQuote, _ := lpSupply.Mul(quoteAccepted).QuoRem(quoteReserve, 0)
	minted := decimal.Min(byBase, byQuote)
	if !minted.IsPositive() {
		return nil, fmt.Errorf("%w: contribution too small for pool ratio", ErrDegenerateRatio)
	}

	return &LiquidityQuote{
		MintedShares:  minted,
		BaseAccepted:  baseAccepted,
		QuoteAccepted: quoteAccepted,
	}, nil
}

// QuoteLiquidityRemove computes the payout for burning shares:
// baseOut = floor(baseReserve * shares / lpSupply), likewise for quote.
//
// Burning the entire supply is rejected, since reserves must stay positive.
func QuoteLiquidityRemove(baseReserve, quoteReserve, lpSupply, shares decimal.Decimal) (*RemovalQuote, error) {
	if err := requireWholeNonNegative("shares", shares); err != nil {
		return nil, err
	}
	if !shares.IsPositive() {
		return nil, fmt.Errorf("%w: shares must be positive", ErrInvalidAmount)
	}
	if shares.GreaterThanOrEqual(lpSupply) {
		return nil, fmt.Errorf("%w: burning %s of %s shares would drain the pool", ErrInsufficientLiquidity, shares, lpSupply)
	}

	baseOut, _ := baseReserve.Mul(shares).QuoRem(lpSupply, 0)
	quoteOut, _ := quoteReserve.Mul(shares).QuoRem(lpSupply, 0)
	if baseOut.IsZero() || quoteOut.IsZero() {
		return nil, fmt.Errorf("%w: payout rounds to zero", ErrDegenerateRatio)
	}
	if baseOut.GreaterThanOrEqual(baseReserve) || quoteOut.GreaterThanOrEqual(quoteReserve) {
		return nil, fmt.Errorf("%w: payout would drain the pool", ErrInsufficientLiquidity)
	}

	return &RemovalQuote{
		SharesBurned: shares,
		BaseOut:      baseOut,
		QuoteOut:     quoteOut,
	}, nil
}

func requireWholeNonNegative(name string, d decimal.Decimal) error {
	if d.IsNegative() {
		return fmt.Errorf("%w: %s is negative", ErrInvalidAmount, name)
	}
	if !d.IsInteger() {
		return fmt.Errorf("%w: %s %s is not a whole smallest unit", ErrInvalidAmount, name, d)
	}
	return nil
}

// isqrt returns floor(sqrt(d)) for a non-negative integer d.
func isqrt(d decimal.Decimal) decimal.Decimal {
	if !d.IsPositive() {
		return decimal.Zero
	}
	root := new(big.Int).Sqrt(d.BigInt())
	return decimal.NewFromBigInt(root, 0)
}
