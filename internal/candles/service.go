package candles

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"token-dex-lab/internal/domain"
	"token-dex-lab/internal/ledger"
	"token-dex-lab/internal/logger"
	"token-dex-lab/internal/observability"
	"token-dex-lab/internal/storage"
)

// DefaultMaxLimit caps the number of candles returned when ServiceOptions.MaxLimit is not set.
const DefaultMaxLimit = 1000

// PoolLookup resolves a pool by ID. Satisfied by *ledger.Ledger; unknown IDs
// must yield an error wrapping ledger.ErrPoolNotFound.
type PoolLookup interface {
	GetPool(poolID string) (*domain.Pool, error)
}

// ServiceOptions contains configuration for creating a Service.
type ServiceOptions struct {
	GapFill  GapFill
	MaxLimit int // requested limits above this are clamped
	Logger   *zap.Logger
}

// Window restricts candles to buckets within [From, To], in Unix seconds.
// Zero bounds are open.
type Window struct {
	From int64
	To   int64
}

// Service serves candles for pools by reading the trade log.
type Service struct {
	pools    PoolLookup
	trades   storage.TradeStore
	gapFill  GapFill
	maxLimit int
	logger   *zap.Logger
}

// NewService creates a candle service.
func NewService(pools PoolLookup, trades storage.TradeStore, opts ServiceOptions) *Service {
	maxLimit := opts.MaxLimit
	if maxLimit <= 0 {
		maxLimit = DefaultMaxLimit
	}
	gapFill := opts.GapFill
	if gapFill == "" {
		gapFill = GapFillRepeatClose
	}
	return &Service{
		pools:    pools,
		trades:   trades,
		gapFill:  gapFill,
		maxLimit: maxLimit,
		logger:   logger.OrNop(opts.Logger).Named("candles"),
	}
}

// GetCandles returns up to limit of the most recent candles for a pool.
// A pool with no trades yields an empty slice.
func (s *Service) GetCandles(ctx context.Context, poolID string, tf domain.Timeframe, limit int) ([]domain.Candle, error) {
	return s.GetCandlesInWindow(ctx, poolID, tf, limit, Window{})
}

// GetCandlesInWindow is GetCandles restricted to trades inside w.
func (s *Service) GetCandlesInWindow(
	ctx context.Context,
	poolID string,
	tf domain.Timeframe,
	limit int,
	w Window,
) ([]domain.Candle, error) {
	start := time.Now()
	defer func() { observability.RecordLatency("get_candles", time.Since(start).Seconds()) }()

	candles, err := s.getCandles(ctx, poolID, tf, limit, w)
	status := "success"
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrPoolNotFound):
		status = "not_found"
	case errors.Is(err, ErrUnknownTimeframe), errors.Is(err, ErrInvalidLimit):
		status = "invalid"
	default:
		status = "error"
		s.logger.Error("get candles failed",
			zap.String("pool_id", poolID),
			zap.String("timeframe", tf.String()),
			zap.Error(err),
		)
	}
	observability.RecordCandleRequest(tf.String(), status, len(candles))
	return candles, err
}

func (s *Service) getCandles(
	ctx context.Context,
	poolID string,
	tf domain.Timeframe,
	limit int,
	w Window,
) ([]domain.Candle, error) {
	if !tf.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimeframe, tf)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}
	if _, err := s.pools.GetPool(poolID); err != nil {
		return nil, err
	}

	var (
		trades []*domain.Trade
		err    error
	)
	if w.From == 0 && w.To == 0 {
		trades, err = s.trades.GetByPoolID(ctx, poolID)
	} else {
		startMs, endMs := w.bounds(tf.Seconds())
		trades, err = s.trades.GetByTimeRange(ctx, poolID, startMs, endMs)
	}
	if err != nil {
		observability.RecordStoreError("trade", "read")
		return nil, fmt.Errorf("read trades %s: %w", poolID, err)
	}

	return Aggregate(trades, tf, Options{GapFill: s.gapFill, Limit: limit})
}

// bounds converts the window to an inclusive millisecond range covering
// every bucket that starts within [From, To].
func (w Window) bounds(step int64) (int64, int64) {
	startMs := int64(0)
	if w.From > 0 {
		startMs = (w.From - floorMod(w.From, step)) * 1000
	}
	endMs := int64(math.MaxInt64)
	if w.To > 0 {
		endMs = (w.To-floorMod(w.To, step)+step)*1000 - 1
	}
	return startMs, endMs
}
