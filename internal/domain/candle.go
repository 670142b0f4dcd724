package domain

import "github.com/shopspring/decimal"

// Candle is a derived OHLCV view over trades in one time bucket.
// Never stored as ground truth.
type Candle struct {
	TimeBucketStart int64 // Unix seconds, aligned to the timeframe
	Open            decimal.Decimal
	High            decimal.Decimal
	Low             decimal.Decimal
	Close           decimal.Decimal
	Volume          decimal.Decimal // sum of base-side amounts
	TradeCount      int
}

// Timeframe is a candle width.
type Timeframe string

// Supported candle timeframes.
const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

var timeframeSeconds = map[Timeframe]int64{
	Timeframe1m:  60,
	Timeframe5m:  300,
	Timeframe15m: 900,
	Timeframe1h:  3600,
	Timeframe4h:  14400,
	Timeframe1d:  86400,
}

// Timeframes lists all supported timeframes, narrowest first.
func Timeframes() []Timeframe {
	return []Timeframe{Timeframe1m, Timeframe5m, Timeframe15m, Timeframe1h, Timeframe4h, Timeframe1d}
}

// Seconds returns the bucket width in seconds, or 0 if the timeframe is unknown.
func (tf Timeframe) Seconds() int64 {
	return timeframeSeconds[tf]
}

// IsValid checks if the timeframe is one of the supported values.
func (tf Timeframe) IsValid() bool {
	_, ok := timeframeSeconds[tf]
	return ok
}

// String returns the string representation of Timeframe.
func (tf Timeframe) String() string {
	return string(tf)
}
