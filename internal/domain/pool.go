package domain

import "github.com/shopspring/decimal"

// Pool represents one base/quote trading venue for a single token.
// Reserves and LP supply are integer amounts in smallest units.
type Pool struct {
	PoolID       string          // opaque unique identifier
	BaseReserve  decimal.Decimal // settlement currency reserve
	QuoteReserve decimal.Decimal // token reserve
	LPSupply     decimal.Decimal // total LP shares outstanding
	FeeRateBps   int             // input-side fee in basis points, fixed at creation
	FeesAccrued  FeeTotals       // cumulative fees split by side
	PriceHistory []PricePoint    // bounded, oldest first
	TradeCount   int64           // number of executed swaps
	CreatedAt    int64           // Unix timestamp in milliseconds
	UpdatedAt    int64           // Unix timestamp in milliseconds
}

// FeeTotals holds cumulative fees, denominated in the side they were charged on.
type FeeTotals struct {
	Base  decimal.Decimal
	Quote decimal.Decimal
}

// PricePoint is one price sample taken immediately after a trade.
type PricePoint struct {
	TimestampMs int64           `json:"ts"`
	Price       decimal.Decimal `json:"price"` // base per quote
}

// SpotPrice returns baseReserve/quoteReserve.
func (p *Pool) SpotPrice() decimal.Decimal {
	if p.QuoteReserve.IsZero() {
		return decimal.Zero
	}
	return p.BaseReserve.Div(p.QuoteReserve)
}

// K returns the constant-product value baseReserve*quoteReserve.
func (p *Pool) K() decimal.Decimal {
	return p.BaseReserve.Mul(p.QuoteReserve)
}

// Clone returns a deep copy safe to hand out of the ledger.
func (p *Pool) Clone() *Pool {
	cp := *p
	cp.PriceHistory = make([]PricePoint, len(p.PriceHistory))
	copy(cp.PriceHistory, p.PriceHistory)
	return &cp
}
