// Package ledger owns pool reserves and LP positions.
//
// Each pool is an independently lockable unit: swaps and liquidity changes
// take the pool's write lock for one read-modify-write step, quotes take the
// read lock. Operations on different pools share no state beyond the pool
// registry, which is only locked long enough to resolve a pool ID.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"token-dex-lab/internal/domain"
	"token-dex-lab/internal/idhash"
	"token-dex-lab/internal/logger"
	"token-dex-lab/internal/observability"
	"token-dex-lab/internal/pricing"
	"token-dex-lab/internal/storage"
)

// DefaultPriceHistoryCap is used when Options.PriceHistoryCap is not positive.
const DefaultPriceHistoryCap = 1024

// Clock returns the current time. Injected for deterministic tests and simulation.
type Clock func() time.Time

// Options contains configuration for creating a Ledger.
type Options struct {
	TradeStore      storage.TradeStore    // required: append-only trade log
	SnapshotStore   storage.SnapshotStore // optional: Snapshot/Restore target
	PriceHistoryCap int                   // max price samples kept per pool
	Clock           Clock                 // defaults to time.Now
	Logger          *zap.Logger           // defaults to no-op
}

// Ledger is the pool and liquidity ledger for every pool it has created or restored.
type Ledger struct {
	mu    sync.RWMutex
	pools map[string]*poolBook
	nonce uint64

	trades     storage.TradeStore
	snapshots  storage.SnapshotStore
	historyCap int
	clock      Clock
	logger     *zap.Logger
}

// poolBook is one pool's mutable state and the lock that serializes it.
type poolBook struct {
	mu        sync.RWMutex
	pool      domain.Pool
	positions map[string]*domain.LPPosition // keyed by provider_id
}

// New creates a ledger.
func New(opts Options) *Ledger {
	historyCap := opts.PriceHistoryCap
	if historyCap <= 0 {
		historyCap = DefaultPriceHistoryCap
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Ledger{
		pools:      make(map[string]*poolBook),
		trades:     opts.TradeStore,
		snapshots:  opts.SnapshotStore,
		historyCap: historyCap,
		clock:      clock,
		logger:     logger.OrNop(opts.Logger).Named("ledger"),
	}
}

// CreatePool creates a pool seeded with baseAmount/quoteAmount and an initial
// LP position for providerID. Minted shares follow the bootstrap branch:
// sqrt(baseAmount * quoteAmount).
func (l *Ledger) CreatePool(
	_ context.Context,
	providerID string,
	baseAmount, quoteAmount decimal.Decimal,
	feeRateBps int,
) (*domain.Pool, *domain.LPPosition, error) {
	if err := pricing.ValidateFeeRate(feeRateBps); err != nil {
		return nil, nil, err
	}
	if providerID == "" {
		return nil, nil, ErrInvalidProvider
	}
	if !baseAmount.IsPositive() || !quoteAmount.IsPositive() ||
		!baseAmount.IsInteger() || !quoteAmount.IsInteger() {
		return nil, nil, fmt.Errorf("%w: base=%s quote=%s", ErrInvalidInitialReserves, baseAmount, quoteAmount)
	}

	q, err := pricing.QuoteLiquidityAdd(decimal.Zero, decimal.Zero, decimal.Zero, baseAmount, quoteAmount)
	if err != nil {
		return nil, nil, err
	}

	now := l.clock().UnixMilli()

	l.mu.Lock()
	l.nonce++
	poolID := idhash.ComputePoolID(providerID, now, l.nonce)
	book := &poolBook{
		pool: domain.Pool{
			PoolID:       poolID,
			BaseReserve:  q.BaseAccepted,
			QuoteReserve: q.QuoteAccepted,
			LPSupply:     q.MintedShares,
			FeeRateBps:   feeRateBps,
			FeesAccrued:  domain.FeeTotals{Base: decimal.Zero, Quote: decimal.Zero},
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		positions: map[string]*domain.LPPosition{
			providerID: {
				PoolID:           poolID,
				ProviderID:       providerID,
				LPShares:         q.MintedShares,
				BaseContributed:  q.BaseAccepted,
				QuoteContributed: q.QuoteAccepted,
				CreatedAt:        now,
				UpdatedAt:        now,
			},
		},
	}
	// Copies are taken before the book is published; afterwards only book.mu guards it.
	created := book.pool.Clone()
	pos := *book.positions[providerID]
	l.pools[poolID] = book
	l.mu.Unlock()

	observability.RecordPoolCreated()
	publishPoolState(created)
	l.logger.Info("pool created",
		zap.String("pool_id", poolID),
		zap.String("provider_id", providerID),
		zap.Stringer("base", baseAmount),
		zap.Stringer("quote", quoteAmount),
		zap.Int("fee_bps", feeRateBps),
		zap.Stringer("lp_supply", q.MintedShares),
	)

	return created, &pos, nil
}

// GetPool returns a snapshot copy of a pool.
func (l *Ledger) GetPool(poolID string) (*domain.Pool, error) {
	book, err := l.book(poolID)
	if err != nil {
		return nil, err
	}

	book.mu.RLock()
	defer book.mu.RUnlock()
	return book.pool.Clone(), nil
}

// PoolExists reports whether poolID is known to the ledger.
func (l *Ledger) PoolExists(poolID string) bool {
	_, err := l.book(poolID)
	return err == nil
}

// ListPools returns all pool IDs, sorted ASC.
func (l *Ledger) ListPools() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := make([]string, 0, len(l.pools))
	for id := range l.pools {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot writes the pool and its positions to the snapshot store.
func (l *Ledger) Snapshot(ctx context.Context, poolID string) error {
	if l.snapshots == nil {
		return ErrNoSnapshotStore
	}
	book, err := l.book(poolID)
	if err != nil {
		return err
	}

	book.mu.RLock()
	pool := book.pool.Clone()
	positions := book.positionsSorted()
	book.mu.RUnlock()

	if err := l.snapshots.SavePool(ctx, pool, positions); err != nil {
		observability.RecordStoreError("snapshot", "save_pool")
		l.logger.Error("snapshot failed", zap.String("pool_id", poolID), zap.Error(err))
		return fmt.Errorf("save snapshot %s: %w", poolID, err)
	}
	return nil
}

// SnapshotAll snapshots every pool, stopping at the first error.
func (l *Ledger) SnapshotAll(ctx context.Context) error {
	for _, id := range l.ListPools() {
		if err := l.Snapshot(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Restore loads a pool and its positions from the snapshot store.
// The snapshot must satisfy sum(position shares) == lpSupply. Trades logged
// after the snapshot was taken are replayed onto its reserves, so the next
// swap continues the pool's sequence.
func (l *Ledger) Restore(ctx context.Context, poolID string) (*domain.Pool, error) {
	if l.snapshots == nil {
		return nil, ErrNoSnapshotStore
	}

	pool, err := l.snapshots.GetPool(ctx, poolID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", poolID, err)
	}
	positions, err := l.snapshots.GetPositions(ctx, poolID)
	if err != nil {
		return nil, fmt.Errorf("load positions %s: %w", poolID, err)
	}

	book := &poolBook{pool: *pool.Clone(), positions: make(map[string]*domain.LPPosition, len(positions))}
	total := decimal.Zero
	for _, pos := range positions {
		cp := *pos
		book.positions[pos.ProviderID] = &cp
		total = total.Add(pos.LPShares)
	}
	if !total.Equal(pool.LPSupply) {
		return nil, fmt.Errorf("%w: positions sum to %s, lp supply is %s", ErrCorruptSnapshot, total, pool.LPSupply)
	}
	if !pool.BaseReserve.IsPositive() || !pool.QuoteReserve.IsPositive() || !pool.LPSupply.IsPositive() {
		return nil, fmt.Errorf("%w: non-positive reserves or supply", ErrCorruptSnapshot)
	}
	if len(book.pool.PriceHistory) > l.historyCap {
		book.pool.PriceHistory = book.pool.PriceHistory[len(book.pool.PriceHistory)-l.historyCap:]
	}

	trades, err := l.trades.GetByPoolID(ctx, poolID)
	if err != nil {
		return nil, fmt.Errorf("load trades %s: %w", poolID, err)
	}
	replayed, err := l.replayTrades(&book.pool, trades)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.pools[poolID]; exists {
		return nil, ErrPoolExists
	}
	l.pools[poolID] = book

	l.logger.Info("pool restored",
		zap.String("pool_id", poolID),
		zap.Int("positions", len(positions)),
		zap.Int("replayed_trades", replayed),
		zap.Int64("trade_count", book.pool.TradeCount),
	)
	return book.pool.Clone(), nil
}

// replayTrades applies logged swaps with seq > p.TradeCount, in seq order.
// Sequence gaps or a replay that would empty a reserve mean the snapshot and
// the log disagree, and fail with ErrCorruptSnapshot.
func (l *Ledger) replayTrades(p *domain.Pool, trades []*domain.Trade) (int, error) {
	var tail []*domain.Trade
	for _, t := range trades {
		if t.Seq > p.TradeCount {
			tail = append(tail, t)
		}
	}
	sort.Slice(tail, func(i, j int) bool { return tail[i].Seq < tail[j].Seq })

	for _, t := range tail {
		if t.Seq != p.TradeCount+1 {
			return 0, fmt.Errorf("%w: trade log jumps from seq %d to %d", ErrCorruptSnapshot, p.TradeCount, t.Seq)
		}
		switch t.Side {
		case domain.SideBuy:
			p.BaseReserve = p.BaseReserve.Add(t.AmountIn)
			p.QuoteReserve = p.QuoteReserve.Sub(t.AmountOut)
			p.FeesAccrued.Base = p.FeesAccrued.Base.Add(t.FeePaid)
		case domain.SideSell:
			p.QuoteReserve = p.QuoteReserve.Add(t.AmountIn)
			p.BaseReserve = p.BaseReserve.Sub(t.AmountOut)
			p.FeesAccrued.Quote = p.FeesAccrued.Quote.Add(t.FeePaid)
		default:
			return 0, fmt.Errorf("%w: trade %s has side %q", ErrCorruptSnapshot, t.TradeID, t.Side)
		}
		if !p.BaseReserve.IsPositive() || !p.QuoteReserve.IsPositive() {
			return 0, fmt.Errorf("%w: replaying trade %s empties a reserve", ErrCorruptSnapshot, t.TradeID)
		}
		if !p.SpotPrice().Equal(t.PriceAfter) {
			// A liquidity change between the snapshot and this trade is not in the log.
			l.logger.Warn("replayed price differs from logged price",
				zap.String("pool_id", p.PoolID),
				zap.Int64("seq", t.Seq),
				zap.Stringer("replayed", p.SpotPrice()),
				zap.Stringer("logged", t.PriceAfter),
			)
		}
		p.TradeCount = t.Seq
		p.UpdatedAt = t.Timestamp
		l.appendPriceLocked(p, domain.PricePoint{TimestampMs: t.Timestamp, Price: t.PriceAfter})
	}
	return len(tail), nil
}

func (l *Ledger) book(poolID string) (*poolBook, error) {
	l.mu.RLock()
	book, ok := l.pools[poolID]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, poolID)
	}
	return book, nil
}

// positionsSorted returns copies of all positions ordered by provider_id.
// Caller must hold book.mu.
func (b *poolBook) positionsSorted() []*domain.LPPosition {
	result := make([]*domain.LPPosition, 0, len(b.positions))
	for _, pos := range b.positions {
		cp := *pos
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ProviderID < result[j].ProviderID })
	return result
}

func publishPoolState(p *domain.Pool) {
	observability.UpdatePoolState(
		p.PoolID,
		p.BaseReserve.InexactFloat64(),
		p.QuoteReserve.InexactFloat64(),
		p.SpotPrice().InexactFloat64(),
	)
}
