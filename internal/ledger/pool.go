package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"token-dex-lab/internal/domain"
	"token-dex-lab/internal/idhash"
	"token-dex-lab/internal/observability"
	"token-dex-lab/internal/pricing"
)

// Quote is a priced but unexecuted swap.
type Quote struct {
	PoolID         string
	Side           domain.Side
	AmountIn       decimal.Decimal
	AmountOut      decimal.Decimal
	FeePaid        decimal.Decimal
	PriceImpactPct decimal.Decimal
	PriceAfter     decimal.Decimal // base/quote the pool would show after execution
}

// GetQuote prices a swap without mutating the pool or recording a trade.
// Uses exactly the same math as Swap.
func (l *Ledger) GetQuote(
	_ context.Context,
	poolID string,
	side domain.Side,
	amountIn decimal.Decimal,
	maxPriceImpactPct decimal.NullDecimal,
) (*Quote, error) {
	start := time.Now()
	defer func() { observability.RecordLatency("get_quote", time.Since(start).Seconds()) }()

	book, err := l.book(poolID)
	if err != nil {
		return nil, err
	}

	book.mu.RLock()
	q, err := quoteLocked(&book.pool, side, amountIn, maxPriceImpactPct)
	book.mu.RUnlock()
	if err != nil {
		l.logRejection("get_quote", poolID, side, amountIn, err)
		return nil, err
	}

	observability.RecordQuote(side.String())
	return q.toQuote(poolID, side), nil
}

// Swap executes a trade against a pool. On success the pool's reserves, fees
// and price history are replaced in one step and a Trade is appended to the
// trade log. On any failure the pool is left exactly as it was and no Trade
// is recorded.
func (l *Ledger) Swap(
	ctx context.Context,
	poolID string,
	side domain.Side,
	amountIn decimal.Decimal,
	maxPriceImpactPct decimal.NullDecimal,
	traderID string,
) (*domain.Trade, error) {
	start := time.Now()
	defer func() { observability.RecordLatency("swap", time.Since(start).Seconds()) }()

	if traderID == "" {
		return nil, ErrInvalidProvider
	}
	book, err := l.book(poolID)
	if err != nil {
		return nil, err
	}

	book.mu.Lock()
	defer book.mu.Unlock()

	q, err := quoteLocked(&book.pool, side, amountIn, maxPriceImpactPct)
	if err != nil {
		l.logRejection("swap", poolID, side, amountIn, err)
		return nil, err
	}

	now := l.clock().UnixMilli()
	seq := book.pool.TradeCount + 1
	trade := &domain.Trade{
		TradeID:        idhash.ComputeTradeID(poolID, seq),
		PoolID:         poolID,
		Seq:            seq,
		Side:           side,
		AmountIn:       q.AmountIn,
		AmountOut:      q.AmountOut,
		FeePaid:        q.Fee,
		PriceAfter:     q.priceAfter(),
		PriceImpactPct: q.PriceImpactPct,
		Timestamp:      now,
		TraderID:       traderID,
	}

	// Record first: if the log rejects the trade, the pool stays untouched.
	if err := l.trades.Insert(ctx, trade); err != nil {
		observability.RecordStoreError("trade", "insert")
		l.logger.Error("append trade failed",
			zap.String("pool_id", poolID),
			zap.String("trade_id", trade.TradeID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("append trade: %w", err)
	}

	l.applySwapLocked(book, q, trade)

	observability.RecordSwap(side.String(), trade.BaseVolume().InexactFloat64(), baseFee(trade).InexactFloat64())
	publishPoolState(&book.pool)
	l.logger.Debug("swap executed",
		zap.String("pool_id", poolID),
		zap.String("trade_id", trade.TradeID),
		zap.String("side", side.String()),
		zap.Stringer("amount_in", trade.AmountIn),
		zap.Stringer("amount_out", trade.AmountOut),
		zap.Stringer("impact_pct", trade.PriceImpactPct),
	)

	cp := *trade
	return &cp, nil
}

// applySwapLocked replaces reserves, accrues fees and samples the price.
// Caller must hold book.mu for writing.
func (l *Ledger) applySwapLocked(book *poolBook, q *sideQuote, trade *domain.Trade) {
	p := &book.pool
	if q.side == domain.SideBuy {
		p.BaseReserve, p.QuoteReserve = q.NewReserveIn, q.NewReserveOut
		p.FeesAccrued.Base = p.FeesAccrued.Base.Add(q.Fee)
	} else {
		p.QuoteReserve, p.BaseReserve = q.NewReserveIn, q.NewReserveOut
		p.FeesAccrued.Quote = p.FeesAccrued.Quote.Add(q.Fee)
	}
	p.TradeCount = trade.Seq
	p.UpdatedAt = trade.Timestamp
	l.appendPriceLocked(p, domain.PricePoint{TimestampMs: trade.Timestamp, Price: trade.PriceAfter})
}

// appendPriceLocked appends a sample, evicting the oldest beyond the cap.
func (l *Ledger) appendPriceLocked(p *domain.Pool, pt domain.PricePoint) {
	h := p.PriceHistory
	if len(h) >= l.historyCap {
		drop := len(h) - l.historyCap + 1
		copy(h, h[drop:])
		h = h[:len(h)-drop]
	}
	p.PriceHistory = append(h, pt)
}

// sideQuote is a pricing.SwapQuote oriented to a pool side.
type sideQuote struct {
	*pricing.SwapQuote
	side domain.Side
}

// priceAfter returns newBase/newQuote.
func (q *sideQuote) priceAfter() decimal.Decimal {
	if q.side == domain.SideBuy {
		return q.NewReserveIn.Div(q.NewReserveOut)
	}
	return q.NewReserveOut.Div(q.NewReserveIn)
}

func (q *sideQuote) toQuote(poolID string, side domain.Side) *Quote {
	return &Quote{
		PoolID:         poolID,
		Side:           side,
		AmountIn:       q.AmountIn,
		AmountOut:      q.AmountOut,
		FeePaid:        q.Fee,
		PriceImpactPct: q.PriceImpactPct,
		PriceAfter:     q.priceAfter(),
	}
}

// quoteLocked maps a side onto (reserveIn, reserveOut) and prices the swap.
// Caller must hold book.mu.
func quoteLocked(p *domain.Pool, side domain.Side, amountIn decimal.Decimal, maxImpact decimal.NullDecimal) (*sideQuote, error) {
	var reserveIn, reserveOut decimal.Decimal
	switch side {
	case domain.SideBuy:
		reserveIn, reserveOut = p.BaseReserve, p.QuoteReserve
	case domain.SideSell:
		reserveIn, reserveOut = p.QuoteReserve, p.BaseReserve
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidSide, side)
	}

	q, err := pricing.QuoteSwap(reserveIn, reserveOut, amountIn, p.FeeRateBps, maxImpact)
	if err != nil {
		return nil, err
	}
	return &sideQuote{SwapQuote: q, side: side}, nil
}

func (l *Ledger) logRejection(op, poolID string, side domain.Side, amountIn decimal.Decimal, err error) {
	observability.RecordRejection(op, pricing.Reason(err))
	fields := []zap.Field{
		zap.String("pool_id", poolID),
		zap.String("side", side.String()),
		zap.Stringer("amount_in", amountIn),
		zap.Error(err),
	}
	if pricing.IsRejection(err) {
		l.logger.Debug(op+" rejected", fields...)
		return
	}
	l.logger.Warn(op+" invalid", fields...)
}

func baseFee(t *domain.Trade) decimal.Decimal {
	if t.Side == domain.SideBuy {
		return t.FeePaid
	}
	return decimal.Zero
}
