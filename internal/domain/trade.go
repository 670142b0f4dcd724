package domain

import "github.com/shopspring/decimal"

// Side is the direction of a swap.
type Side string

// Swap side constants.
//   - buy:  base in, quote out
//   - sell: quote in, base out
const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// String returns the string representation of Side.
func (s Side) String() string {
	return string(s)
}

// IsValid checks if the side is a valid value.
func (s Side) IsValid() bool {
	return s == SideBuy || s == SideSell
}

// Trade is an immutable record of one executed swap.
type Trade struct {
	TradeID        string          // deterministic hash of (pool_id, seq)
	PoolID         string          // pool the swap executed against
	Seq            int64           // 1-based sequence within the pool
	Side           Side            // buy | sell
	AmountIn       decimal.Decimal // gross input including fee
	AmountOut      decimal.Decimal // output paid to the trader
	FeePaid        decimal.Decimal // fee, denominated in the input side
	PriceAfter     decimal.Decimal // base/quote immediately after the trade
	PriceImpactPct decimal.Decimal // positive means worse than marginal price
	Timestamp      int64           // Unix timestamp in milliseconds
	TraderID       string          // opaque trader or provider identifier
}

// BaseVolume returns the base-side size of the trade.
func (t *Trade) BaseVolume() decimal.Decimal {
	if t.Side == SideBuy {
		return t.AmountIn
	}
	return t.AmountOut
}
