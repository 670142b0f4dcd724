package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"token-dex-lab/internal/domain"
	"token-dex-lab/internal/observability"
	"token-dex-lab/internal/pricing"
)

// AddResult reports what an AddLiquidity call actually took from the provider.
// Callers return BaseRefund/QuoteRefund, the ratio-trimmed remainder, to the provider.
type AddResult struct {
	MintedShares  decimal.Decimal
	BaseAccepted  decimal.Decimal
	QuoteAccepted decimal.Decimal
	BaseRefund    decimal.Decimal
	QuoteRefund   decimal.Decimal
	Position      domain.LPPosition // position after the add
}

// RemoveResult reports the payout of a RemoveLiquidity call.
type RemoveResult struct {
	SharesBurned    decimal.Decimal
	BaseOut         decimal.Decimal
	QuoteOut        decimal.Decimal
	RemainingShares decimal.Decimal // zero when the position was closed
}

// AddLiquidity contributes baseIn/quoteIn to a pool at its current ratio and
// mints LP shares to providerID. All-or-nothing.
func (l *Ledger) AddLiquidity(
	_ context.Context,
	poolID, providerID string,
	baseIn, quoteIn decimal.Decimal,
) (*AddResult, error) {
	start := time.Now()
	defer func() { observability.RecordLatency("add_liquidity", time.Since(start).Seconds()) }()

	if providerID == "" {
		return nil, ErrInvalidProvider
	}
	book, err := l.book(poolID)
	if err != nil {
		return nil, err
	}

	book.mu.Lock()
	defer book.mu.Unlock()

	p := &book.pool
	q, err := pricing.QuoteLiquidityAdd(p.BaseReserve, p.QuoteReserve, p.LPSupply, baseIn, quoteIn)
	if err != nil {
		l.logLiquidityFailure("add", poolID, providerID, err)
		return nil, err
	}

	now := l.clock().UnixMilli()
	p.BaseReserve = p.BaseReserve.Add(q.BaseAccepted)
	p.QuoteReserve = p.QuoteReserve.Add(q.QuoteAccepted)
	p.LPSupply = p.LPSupply.Add(q.MintedShares)
	p.UpdatedAt = now

	pos, ok := book.positions[providerID]
	if !ok {
		pos = &domain.LPPosition{
			PoolID:           poolID,
			ProviderID:       providerID,
			LPShares:         decimal.Zero,
			BaseContributed:  decimal.Zero,
			QuoteContributed: decimal.Zero,
			CreatedAt:        now,
		}
		book.positions[providerID] = pos
	}
	pos.LPShares = pos.LPShares.Add(q.MintedShares)
	pos.BaseContributed = pos.BaseContributed.Add(q.BaseAccepted)
	pos.QuoteContributed = pos.QuoteContributed.Add(q.QuoteAccepted)
	pos.UpdatedAt = now

	observability.RecordLiquidityOp("add", "success")
	publishPoolState(p)
	l.logger.Debug("liquidity added",
		zap.String("pool_id", poolID),
		zap.String("provider_id", providerID),
		zap.Stringer("minted", q.MintedShares),
		zap.Stringer("base_accepted", q.BaseAccepted),
		zap.Stringer("quote_accepted", q.QuoteAccepted),
	)

	return &AddResult{
		MintedShares:  q.MintedShares,
		BaseAccepted:  q.BaseAccepted,
		QuoteAccepted: q.QuoteAccepted,
		BaseRefund:    baseIn.Sub(q.BaseAccepted),
		QuoteRefund:   quoteIn.Sub(q.QuoteAccepted),
		Position:      *pos,
	}, nil
}

// RemoveLiquidity burns shares from providerID's position and pays out the
// proportional share of both reserves. Price-neutral up to truncation.
// The position is deleted when its shares reach zero. All-or-nothing.
func (l *Ledger) RemoveLiquidity(
	_ context.Context,
	poolID, providerID string,
	shares decimal.Decimal,
) (*RemoveResult, error) {
	start := time.Now()
	defer func() { observability.RecordLatency("remove_liquidity", time.Since(start).Seconds()) }()

	book, err := l.book(poolID)
	if err != nil {
		return nil, err
	}

	book.mu.Lock()
	defer book.mu.Unlock()

	held := decimal.Zero
	pos, ok := book.positions[providerID]
	if ok {
		held = pos.LPShares
	}
	if shares.GreaterThan(held) {
		err := fmt.Errorf("%w: requested %s, held %s", ErrInsufficientShares, shares, held)
		l.logLiquidityFailure("remove", poolID, providerID, err)
		return nil, err
	}

	p := &book.pool
	q, err := pricing.QuoteLiquidityRemove(p.BaseReserve, p.QuoteReserve, p.LPSupply, shares)
	if err != nil {
		l.logLiquidityFailure("remove", poolID, providerID, err)
		return nil, err
	}

	now := l.clock().UnixMilli()
	p.BaseReserve = p.BaseReserve.Sub(q.BaseOut)
	p.QuoteReserve = p.QuoteReserve.Sub(q.QuoteOut)
	p.LPSupply = p.LPSupply.Sub(q.SharesBurned)
	p.UpdatedAt = now

	pos.LPShares = pos.LPShares.Sub(q.SharesBurned)
	pos.UpdatedAt = now
	remaining := pos.LPShares
	if remaining.IsZero() {
		delete(book.positions, providerID)
	}

	observability.RecordLiquidityOp("remove", "success")
	publishPoolState(p)
	l.logger.Debug("liquidity removed",
		zap.String("pool_id", poolID),
		zap.String("provider_id", providerID),
		zap.Stringer("burned", q.SharesBurned),
		zap.Stringer("base_out", q.BaseOut),
		zap.Stringer("quote_out", q.QuoteOut),
	)

	return &RemoveResult{
		SharesBurned:    q.SharesBurned,
		BaseOut:         q.BaseOut,
		QuoteOut:        q.QuoteOut,
		RemainingShares: remaining,
	}, nil
}

// GetPosition returns a copy of providerID's position in a pool.
func (l *Ledger) GetPosition(poolID, providerID string) (*domain.LPPosition, error) {
	book, err := l.book(poolID)
	if err != nil {
		return nil, err
	}

	book.mu.RLock()
	defer book.mu.RUnlock()

	pos, ok := book.positions[providerID]
	if !ok {
		return nil, fmt.Errorf("%w: pool %s provider %s", ErrPositionNotFound, poolID, providerID)
	}
	cp := *pos
	return &cp, nil
}

// ListPositions returns copies of all positions in a pool, ordered by provider_id.
func (l *Ledger) ListPositions(poolID string) ([]*domain.LPPosition, error) {
	book, err := l.book(poolID)
	if err != nil {
		return nil, err
	}

	book.mu.RLock()
	defer book.mu.RUnlock()
	return book.positionsSorted(), nil
}

func (l *Ledger) logLiquidityFailure(op, poolID, providerID string, err error) {
	status := "rejected"
	if !pricing.IsRejection(err) && !isShareShortfall(err) {
		status = "invalid"
	}
	observability.RecordLiquidityOp(op, status)
	l.logger.Debug("liquidity "+op+" "+status,
		zap.String("pool_id", poolID),
		zap.String("provider_id", providerID),
		zap.Error(err),
	)
}
