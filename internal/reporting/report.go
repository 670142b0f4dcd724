package reporting

import (
	"time"

	"github.com/shopspring/decimal"

	"token-dex-lab/internal/domain"
)

// Report summarizes every pool in a ledger and its recent candles.
type Report struct {
	// Metadata
	GeneratedAt time.Time
	Timeframe   domain.Timeframe

	// Pool summaries, sorted by pool_id
	Pools []PoolSummary

	// Recent candles per pool_id
	Candles map[string][]domain.Candle

	// Invariant failures found while generating
	IntegrityErrors []string
}

// PoolSummary is one row of the pools table.
type PoolSummary struct {
	PoolID       string
	BaseReserve  decimal.Decimal
	QuoteReserve decimal.Decimal
	SpotPrice    decimal.Decimal
	LPSupply     decimal.Decimal
	Providers    int
	FeeRateBps   int
	FeesBase     decimal.Decimal
	FeesQuote    decimal.Decimal
	TradeCount   int64
	BaseVolume   decimal.Decimal // sum over returned candles
}
