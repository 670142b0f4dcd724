// Package candles derives OHLCV candles from a pool's trade log.
//
// Candles are recomputed from trades on every call and never stored, so the
// output cannot drift from the ledger.
package candles

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"token-dex-lab/internal/domain"
)

// GapFill selects how buckets with no trades between two non-empty buckets are handled.
type GapFill string

const (
	// GapFillRepeatClose synthesizes flat candles at the previous close with zero volume.
	GapFillRepeatClose GapFill = "repeat_close"
	// GapFillOmit leaves empty buckets out of the sequence.
	GapFillOmit GapFill = "omit"
)

var (
	// ErrUnknownTimeframe is returned for a timeframe outside 1m, 5m, 15m, 1h, 4h, 1d.
	ErrUnknownTimeframe = errors.New("unknown timeframe")

	// ErrInvalidLimit is returned for a non-positive candle limit.
	ErrInvalidLimit = errors.New("invalid limit")

	// ErrInvalidGapFill is returned for an unrecognized gap-fill policy.
	ErrInvalidGapFill = errors.New("invalid gap fill policy")
)

// Options configures Aggregate.
type Options struct {
	GapFill GapFill // defaults to GapFillRepeatClose
	Limit   int     // keep only the most recent Limit candles; 0 keeps all
}

// Aggregate buckets trades into candles of width tf, ascending by TimeBucketStart.
// Trades are expected to belong to a single pool. Input order does not matter;
// within a bucket, open/close follow (timestamp, seq) order.
//
// Bucket alignment: floor(timestamp_ms / 1000) - (seconds mod tf_seconds)
// Aggregation per bucket:
//   - open/close = first/last trade's price_after
//   - high/low = max/min price_after
//   - volume = SUM(base-side amount)
//   - trade_count = COUNT(*)
//
// With a positive Limit, flat candles are only synthesized inside the
// returned window, so the work is bounded by len(trades)+Limit.
func Aggregate(trades []*domain.Trade, tf domain.Timeframe, opts Options) ([]domain.Candle, error) {
	step := tf.Seconds()
	if step <= 0 {
		return nil, ErrUnknownTimeframe
	}
	fill := opts.GapFill
	if fill == "" {
		fill = GapFillRepeatClose
	}
	if fill != GapFillRepeatClose && fill != GapFillOmit {
		return nil, ErrInvalidGapFill
	}
	if opts.Limit < 0 {
		return nil, ErrInvalidLimit
	}

	if len(trades) == 0 {
		return []domain.Candle{}, nil
	}

	ordered := trades
	if !sort.SliceIsSorted(trades, func(i, j int) bool { return tradeBefore(trades[i], trades[j]) }) {
		ordered = make([]*domain.Trade, len(trades))
		copy(ordered, trades)
		sort.SliceStable(ordered, func(i, j int) bool { return tradeBefore(ordered[i], ordered[j]) })
	}

	traded := bucketTrades(ordered, step)
	if fill == GapFillOmit {
		return Last(traded, opts.Limit), nil
	}

	first := traded[0].TimeBucketStart
	last := traded[len(traded)-1].TimeBucketStart
	floor := first
	if opts.Limit > 0 && int64(opts.Limit-1) < (last-first)/step {
		floor = last - int64(opts.Limit-1)*step
	}

	result := make([]domain.Candle, 0, len(traded))
	for i, c := range traded {
		if c.TimeBucketStart < floor {
			continue
		}
		if i > 0 {
			prevClose := traded[i-1].Close
			b := traded[i-1].TimeBucketStart + step
			if b < floor {
				b = floor
			}
			for ; b < c.TimeBucketStart; b += step {
				result = append(result, flatCandle(b, prevClose))
			}
		}
		result = append(result, c)
	}

	return Last(result, opts.Limit), nil
}

// bucketTrades folds ordered trades into one candle per non-empty bucket.
func bucketTrades(ordered []*domain.Trade, step int64) []domain.Candle {
	result := make([]domain.Candle, 0, 16)
	for _, t := range ordered {
		bucket := BucketStart(t.Timestamp, step)
		price := t.PriceAfter

		if n := len(result); n > 0 && result[n-1].TimeBucketStart == bucket {
			c := &result[n-1]
			c.High = decimal.Max(c.High, price)
			c.Low = decimal.Min(c.Low, price)
			c.Close = price
			c.Volume = c.Volume.Add(t.BaseVolume())
			c.TradeCount++
			continue
		}

		result = append(result, domain.Candle{
			TimeBucketStart: bucket,
			Open:            price,
			High:            price,
			Low:             price,
			Close:           price,
			Volume:          t.BaseVolume(),
			TradeCount:      1,
		})
	}
	return result
}

// BucketStart floors a millisecond timestamp to a bucket boundary in seconds.
func BucketStart(timestampMs, stepSeconds int64) int64 {
	sec := floorDiv(timestampMs, 1000)
	return sec - floorMod(sec, stepSeconds)
}

// Last returns the most recent n candles, or all when fewer exist.
func Last(candles []domain.Candle, n int) []domain.Candle {
	if n <= 0 || len(candles) <= n {
		return candles
	}
	return candles[len(candles)-n:]
}

func flatCandle(bucket int64, price decimal.Decimal) domain.Candle {
	return domain.Candle{
		TimeBucketStart: bucket,
		Open:            price,
		High:            price,
		Low:             price,
		Close:           price,
		Volume:          decimal.Zero,
	}
}

func tradeBefore(a, b *domain.Trade) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	return a.Seq < b.Seq
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int64) int64 {
	return a - floorDiv(a, b)*b
}
