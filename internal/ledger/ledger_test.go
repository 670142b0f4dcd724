package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-dex-lab/internal/domain"
	"token-dex-lab/internal/pricing"
	"token-dex-lab/internal/storage"
	"token-dex-lab/internal/storage/memory"
)

func d(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s %v", want, got, msgAndArgs)
}

func noLimit() decimal.NullDecimal {
	return decimal.NullDecimal{}
}

func limit(pct string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: decimal.RequireFromString(pct), Valid: true}
}

// stepClock advances one second per call.
func stepClock(start time.Time) Clock {
	var n int64
	return func() time.Time {
		i := atomic.AddInt64(&n, 1)
		return start.Add(time.Duration(i-1) * time.Second)
	}
}

func newTestLedger(t *testing.T) (*Ledger, *memory.TradeStore) {
	t.Helper()
	trades := memory.NewTradeStore()
	l := New(Options{
		TradeStore:    trades,
		SnapshotStore: memory.NewSnapshotStore(),
		Clock:         stepClock(time.Unix(1_700_000_000, 0)),
	})
	return l, trades
}

func createPool(t *testing.T, l *Ledger, base, quote int64, fee int) *domain.Pool {
	t.Helper()
	p, _, err := l.CreatePool(context.Background(), "lp-0", d(base), d(quote), fee)
	require.NoError(t, err)
	return p
}

// sumShares asserts the sum of all positions equals the pool's LP supply.
func sumShares(t *testing.T, l *Ledger, poolID string) {
	t.Helper()
	positions, err := l.ListPositions(poolID)
	require.NoError(t, err)
	pool, err := l.GetPool(poolID)
	require.NoError(t, err)

	total := decimal.Zero
	for _, p := range positions {
		total = total.Add(p.LPShares)
	}
	assert.True(t, total.Equal(pool.LPSupply), "positions %s != lp supply %s", total, pool.LPSupply)
}

type failingTradeStore struct {
	storage.TradeStore
	err error
}

func (s *failingTradeStore) Insert(context.Context, *domain.Trade) error {
	return s.err
}

func TestCreatePool_Bootstrap(t *testing.T) {
	l, _ := newTestLedger(t)

	pool, pos, err := l.CreatePool(context.Background(), "alice", d(100), d(400), 30)
	require.NoError(t, err)

	assert.NotEmpty(t, pool.PoolID)
	assertDec(t, "100", pool.BaseReserve)
	assertDec(t, "400", pool.QuoteReserve)
	assertDec(t, "200", pool.LPSupply)
	assertDec(t, "200", pos.LPShares)
	assert.Equal(t, "alice", pos.ProviderID)
	assert.Equal(t, 30, pool.FeeRateBps)
	assertDec(t, "0.25", pool.SpotPrice())
	assert.True(t, l.PoolExists(pool.PoolID))
}

func TestCreatePool_Invalid(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, _, err := l.CreatePool(ctx, "alice", d(0), d(100), 30)
	assert.ErrorIs(t, err, ErrInvalidInitialReserves)

	_, _, err = l.CreatePool(ctx, "alice", d(100), decimal.RequireFromString("1.5"), 30)
	assert.ErrorIs(t, err, ErrInvalidInitialReserves)

	_, _, err = l.CreatePool(ctx, "alice", d(100), d(100), 10000)
	assert.ErrorIs(t, err, pricing.ErrInvalidFeeRate)

	_, _, err = l.CreatePool(ctx, "", d(100), d(100), 30)
	assert.ErrorIs(t, err, ErrInvalidProvider)

	assert.Empty(t, l.ListPools())
}

func TestCreatePool_UniqueIDs(t *testing.T) {
	l := New(Options{
		TradeStore: memory.NewTradeStore(),
		Clock:      func() time.Time { return time.Unix(1_700_000_000, 0) },
	})

	seen := make(map[string]struct{})
	for i := 0; i < 20; i++ {
		p := createPool(t, l, 1000, 1000, 30)
		_, dup := seen[p.PoolID]
		assert.False(t, dup, "duplicate pool id %s", p.PoolID)
		seen[p.PoolID] = struct{}{}
	}
	assert.Len(t, l.ListPools(), 20)
}

func TestCreatePool_ReturnsDetachedCopies(t *testing.T) {
	l, _ := newTestLedger(t)

	pool, pos, err := l.CreatePool(context.Background(), "alice", d(100), d(400), 30)
	require.NoError(t, err)
	pool.BaseReserve = d(1)
	pos.LPShares = d(1)

	stored, err := l.GetPool(pool.PoolID)
	require.NoError(t, err)
	assertDec(t, "100", stored.BaseReserve)
	storedPos, err := l.GetPosition(pool.PoolID, "alice")
	require.NoError(t, err)
	assertDec(t, "200", storedPos.LPShares)
}

func TestCreatePool_ConcurrentWithReaders(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				_, _, err := l.CreatePool(ctx, "lp-0", d(1000), d(1000), 30)
				assert.NoError(t, err)
			}
		}()
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				for _, id := range l.ListPools() {
					_, err := l.AddLiquidity(ctx, id, "bob", d(10), d(10))
					assert.NoError(t, err)
					_, err = l.GetPool(id)
					assert.NoError(t, err)
				}
			}
		}()
	}
	wg.Wait()

	assert.Len(t, l.ListPools(), 80)
	for _, id := range l.ListPools() {
		sumShares(t, l, id)
	}
}

func TestPoolNotFound(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.GetPool("missing")
	assert.ErrorIs(t, err, ErrPoolNotFound)

	_, err = l.GetQuote(ctx, "missing", domain.SideBuy, d(10), noLimit())
	assert.ErrorIs(t, err, ErrPoolNotFound)

	_, err = l.Swap(ctx, "missing", domain.SideBuy, d(10), noLimit(), "trader")
	assert.ErrorIs(t, err, ErrPoolNotFound)

	_, err = l.AddLiquidity(ctx, "missing", "bob", d(10), d(10))
	assert.ErrorIs(t, err, ErrPoolNotFound)

	_, err = l.RemoveLiquidity(ctx, "missing", "bob", d(1))
	assert.ErrorIs(t, err, ErrPoolNotFound)

	assert.False(t, l.PoolExists("missing"))
}

func TestSwap_SlippageRejectionIsNoOp(t *testing.T) {
	l, trades := newTestLedger(t)
	ctx := context.Background()
	pool := createPool(t, l, 1000, 1000, 0)

	q, err := l.GetQuote(ctx, pool.PoolID, domain.SideBuy, d(500), noLimit())
	require.NoError(t, err)
	assertDec(t, "333", q.AmountOut)
	assertDec(t, "33.4", q.PriceImpactPct)

	_, err = l.Swap(ctx, pool.PoolID, domain.SideBuy, d(500), limit("5"), "trader")
	assert.ErrorIs(t, err, pricing.ErrSlippageExceeded)

	after, err := l.GetPool(pool.PoolID)
	require.NoError(t, err)
	assertDec(t, "1000", after.BaseReserve)
	assertDec(t, "1000", after.QuoteReserve)
	assert.Equal(t, int64(0), after.TradeCount)
	assert.Empty(t, after.PriceHistory)
	assert.Equal(t, 0, trades.Count(pool.PoolID))
}

func TestSwap_BuyAndSell(t *testing.T) {
	l, trades := newTestLedger(t)
	ctx := context.Background()
	pool := createPool(t, l, 1000, 1000, 0)

	buy, err := l.Swap(ctx, pool.PoolID, domain.SideBuy, d(500), noLimit(), "trader")
	require.NoError(t, err)
	assert.Equal(t, domain.SideBuy, buy.Side)
	assertDec(t, "333", buy.AmountOut)
	assert.Equal(t, int64(1), buy.Seq)
	assert.NotEmpty(t, buy.TradeID)
	assert.Equal(t, "trader", buy.TraderID)
	assert.True(t, decimal.NewFromInt(1500).Div(d(667)).Equal(buy.PriceAfter))

	after, err := l.GetPool(pool.PoolID)
	require.NoError(t, err)
	assertDec(t, "1500", after.BaseReserve)
	assertDec(t, "667", after.QuoteReserve)

	// Sell quote back: quote reserve is reserveIn.
	sell, err := l.Swap(ctx, pool.PoolID, domain.SideSell, d(333), noLimit(), "trader")
	require.NoError(t, err)
	assert.Equal(t, int64(2), sell.Seq)

	after, err = l.GetPool(pool.PoolID)
	require.NoError(t, err)
	assertDec(t, "1000", after.QuoteReserve)
	assert.True(t, after.BaseReserve.Add(sell.AmountOut).Equal(d(1500)))
	assert.Equal(t, int64(2), after.TradeCount)
	require.Len(t, after.PriceHistory, 2)
	assert.True(t, sell.PriceAfter.Equal(after.PriceHistory[1].Price))

	logged, err := trades.GetByPoolID(ctx, pool.PoolID)
	require.NoError(t, err)
	require.Len(t, logged, 2)
	assert.Equal(t, buy.TradeID, logged[0].TradeID)
	assert.Equal(t, sell.TradeID, logged[1].TradeID)
}

func TestSwap_FeesAccrueBySide(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	pool := createPool(t, l, 100000, 100000, 30)

	_, err := l.Swap(ctx, pool.PoolID, domain.SideBuy, d(1000), noLimit(), "t")
	require.NoError(t, err)
	_, err = l.Swap(ctx, pool.PoolID, domain.SideSell, d(2000), noLimit(), "t")
	require.NoError(t, err)

	after, err := l.GetPool(pool.PoolID)
	require.NoError(t, err)
	assertDec(t, "3", after.FeesAccrued.Base)
	assertDec(t, "6", after.FeesAccrued.Quote)
}

func TestSwap_InvalidInput(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	pool := createPool(t, l, 1000, 1000, 30)

	_, err := l.Swap(ctx, pool.PoolID, domain.Side("hold"), d(10), noLimit(), "t")
	assert.ErrorIs(t, err, ErrInvalidSide)

	_, err = l.Swap(ctx, pool.PoolID, domain.SideBuy, d(10), noLimit(), "")
	assert.ErrorIs(t, err, ErrInvalidProvider)

	_, err = l.Swap(ctx, pool.PoolID, domain.SideBuy, d(0), noLimit(), "t")
	assert.ErrorIs(t, err, pricing.ErrInsufficientLiquidity)
}

func TestQuoteSwapEquivalence(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	pool := createPool(t, l, 1_000_000, 2_000_000, 25)

	amounts := []int64{5000, 123, 77777, 1, 40000}
	for i, amt := range amounts {
		side := domain.SideBuy
		if i%2 == 1 {
			side = domain.SideSell
		}

		q, qerr := l.GetQuote(ctx, pool.PoolID, side, d(amt), noLimit())
		tr, serr := l.Swap(ctx, pool.PoolID, side, d(amt), noLimit(), "t")
		if qerr != nil {
			require.Error(t, serr, "amount %d", amt)
			assert.Equal(t, pricing.Reason(qerr), pricing.Reason(serr), "amount %d", amt)
			assert.Equal(t, qerr.Error(), serr.Error(), "amount %d", amt)
			continue
		}
		require.NoError(t, serr)
		assert.True(t, q.AmountOut.Equal(tr.AmountOut), "amountOut %d", amt)
		assert.True(t, q.PriceImpactPct.Equal(tr.PriceImpactPct), "impact %d", amt)
		assert.True(t, q.FeePaid.Equal(tr.FeePaid), "fee %d", amt)
		assert.True(t, q.PriceAfter.Equal(tr.PriceAfter), "priceAfter %d", amt)
	}
}

func TestSwap_ProductNonDecreasing(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	pool := createPool(t, l, 500_000, 800_000, 30)

	prevK := pool.K()
	for i := 0; i < 200; i++ {
		side := domain.SideBuy
		if i%3 == 0 {
			side = domain.SideSell
		}
		_, err := l.Swap(ctx, pool.PoolID, side, d(int64(100+i*37)), noLimit(), "t")
		require.NoError(t, err)

		p, err := l.GetPool(pool.PoolID)
		require.NoError(t, err)
		assert.True(t, p.K().GreaterThanOrEqual(prevK), "k decreased at step %d", i)
		prevK = p.K()
	}
}

func TestSwap_PriceHistoryCap(t *testing.T) {
	l := New(Options{
		TradeStore:      memory.NewTradeStore(),
		PriceHistoryCap: 3,
		Clock:           stepClock(time.Unix(1_700_000_000, 0)),
	})
	ctx := context.Background()
	pool := createPool(t, l, 1_000_000, 1_000_000, 30)

	var last *domain.Trade
	for i := 0; i < 5; i++ {
		tr, err := l.Swap(ctx, pool.PoolID, domain.SideBuy, d(1000), noLimit(), "t")
		require.NoError(t, err)
		last = tr
	}

	p, err := l.GetPool(pool.PoolID)
	require.NoError(t, err)
	require.Len(t, p.PriceHistory, 3)
	assert.Equal(t, last.Timestamp, p.PriceHistory[2].TimestampMs)
	assert.True(t, last.PriceAfter.Equal(p.PriceHistory[2].Price))
	assert.Less(t, p.PriceHistory[0].TimestampMs, p.PriceHistory[1].TimestampMs)
	assert.Equal(t, int64(5), p.TradeCount)
}

func TestSwap_TradeStoreFailureLeavesPoolUnchanged(t *testing.T) {
	storeErr := errors.New("disk full")
	l := New(Options{
		TradeStore: &failingTradeStore{TradeStore: memory.NewTradeStore(), err: storeErr},
	})
	ctx := context.Background()
	pool := createPool(t, l, 1000, 1000, 30)

	_, err := l.Swap(ctx, pool.PoolID, domain.SideBuy, d(100), noLimit(), "t")
	assert.ErrorIs(t, err, storeErr)

	after, err := l.GetPool(pool.PoolID)
	require.NoError(t, err)
	assert.True(t, after.BaseReserve.Equal(pool.BaseReserve))
	assert.True(t, after.QuoteReserve.Equal(pool.QuoteReserve))
	assert.Equal(t, int64(0), after.TradeCount)
	assert.Empty(t, after.PriceHistory)
}

func TestSwap_ConcurrentSamePool(t *testing.T) {
	l, trades := newTestLedger(t)
	ctx := context.Background()
	pool := createPool(t, l, 1_000_000_000, 1_000_000_000, 30)

	const workers, perWorker = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			side := domain.SideBuy
			if w%2 == 1 {
				side = domain.SideSell
			}
			for i := 0; i < perWorker; i++ {
				_, err := l.Swap(ctx, pool.PoolID, side, d(1000), noLimit(), "t")
				assert.NoError(t, err)
			}
		}(w)
	}

	// Readers run alongside writers and must never see a torn pool.
	var rg sync.WaitGroup
	rg.Add(1)
	go func() {
		defer rg.Done()
		for i := 0; i < 100; i++ {
			p, err := l.GetPool(pool.PoolID)
			if !assert.NoError(t, err) {
				return
			}
			assert.True(t, p.K().GreaterThanOrEqual(pool.K()))
		}
	}()
	wg.Wait()
	rg.Wait()

	after, err := l.GetPool(pool.PoolID)
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker), after.TradeCount)

	logged, err := trades.GetByPoolID(ctx, pool.PoolID)
	require.NoError(t, err)
	require.Len(t, logged, workers*perWorker)
	seqs := make(map[int64]struct{}, len(logged))
	for _, tr := range logged {
		seqs[tr.Seq] = struct{}{}
	}
	assert.Len(t, seqs, workers*perWorker)
}

func TestSwap_ConcurrentDifferentPools(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	const pools = 4
	ids := make([]string, pools)
	for i := range ids {
		ids[i] = createPool(t, l, 1_000_000, 1_000_000, 30).PoolID
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				_, err := l.Swap(ctx, id, domain.SideBuy, d(100), noLimit(), "t")
				assert.NoError(t, err)
			}
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		p, err := l.GetPool(id)
		require.NoError(t, err)
		assert.Equal(t, int64(25), p.TradeCount)
	}
}

func TestSnapshotRestore(t *testing.T) {
	snapshots := memory.NewSnapshotStore()
	ctx := context.Background()

	src := New(Options{TradeStore: memory.NewTradeStore(), SnapshotStore: snapshots})
	pool := createPool(t, src, 1000, 4000, 30)
	_, err := src.AddLiquidity(ctx, pool.PoolID, "bob", d(100), d(400))
	require.NoError(t, err)
	_, err = src.Swap(ctx, pool.PoolID, domain.SideBuy, d(50), noLimit(), "t")
	require.NoError(t, err)
	require.NoError(t, src.SnapshotAll(ctx))

	want, err := src.GetPool(pool.PoolID)
	require.NoError(t, err)

	dst := New(Options{TradeStore: memory.NewTradeStore(), SnapshotStore: snapshots})
	got, err := dst.Restore(ctx, pool.PoolID)
	require.NoError(t, err)
	assert.True(t, want.BaseReserve.Equal(got.BaseReserve))
	assert.True(t, want.QuoteReserve.Equal(got.QuoteReserve))
	assert.True(t, want.LPSupply.Equal(got.LPSupply))
	assert.Equal(t, want.TradeCount, got.TradeCount)
	sumShares(t, dst, pool.PoolID)

	_, err = dst.Restore(ctx, pool.PoolID)
	assert.ErrorIs(t, err, ErrPoolExists)

	_, err = dst.Restore(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSnapshot_NoStore(t *testing.T) {
	l := New(Options{TradeStore: memory.NewTradeStore()})
	pool := createPool(t, l, 1000, 1000, 30)

	assert.ErrorIs(t, l.Snapshot(context.Background(), pool.PoolID), ErrNoSnapshotStore)
	_, err := l.Restore(context.Background(), pool.PoolID)
	assert.ErrorIs(t, err, ErrNoSnapshotStore)
}

func TestRestore_CorruptSnapshot(t *testing.T) {
	snapshots := memory.NewSnapshotStore()
	ctx := context.Background()

	p := &domain.Pool{
		PoolID:       "pool-x",
		BaseReserve:  d(1000),
		QuoteReserve: d(1000),
		LPSupply:     d(1000),
		FeeRateBps:   30,
	}
	positions := []*domain.LPPosition{{PoolID: "pool-x", ProviderID: "alice", LPShares: d(999)}}
	require.NoError(t, snapshots.SavePool(ctx, p, positions))

	l := New(Options{TradeStore: memory.NewTradeStore(), SnapshotStore: snapshots})
	_, err := l.Restore(ctx, "pool-x")
	assert.ErrorIs(t, err, ErrCorruptSnapshot)
	assert.False(t, l.PoolExists("pool-x"))
}

func TestRestore_ReplaysTradesAfterSnapshot(t *testing.T) {
	trades := memory.NewTradeStore()
	snapshots := memory.NewSnapshotStore()
	ctx := context.Background()

	src := New(Options{TradeStore: trades, SnapshotStore: snapshots, Clock: stepClock(time.Unix(1_700_000_000, 0))})
	pool := createPool(t, src, 1_000_000, 2_000_000, 30)
	_, err := src.Swap(ctx, pool.PoolID, domain.SideBuy, d(5000), noLimit(), "t")
	require.NoError(t, err)
	require.NoError(t, src.SnapshotAll(ctx))

	// Logged but not yet snapshotted.
	_, err = src.Swap(ctx, pool.PoolID, domain.SideSell, d(7000), noLimit(), "t")
	require.NoError(t, err)
	_, err = src.Swap(ctx, pool.PoolID, domain.SideBuy, d(300), noLimit(), "t")
	require.NoError(t, err)

	want, err := src.GetPool(pool.PoolID)
	require.NoError(t, err)

	dst := New(Options{TradeStore: trades, SnapshotStore: snapshots, Clock: stepClock(time.Unix(1_700_001_000, 0))})
	got, err := dst.Restore(ctx, pool.PoolID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.TradeCount)
	assertDec(t, want.BaseReserve.String(), got.BaseReserve)
	assertDec(t, want.QuoteReserve.String(), got.QuoteReserve)
	assertDec(t, want.FeesAccrued.Base.String(), got.FeesAccrued.Base)
	assertDec(t, want.FeesAccrued.Quote.String(), got.FeesAccrued.Quote)
	assertDec(t, want.SpotPrice().String(), got.PriceHistory[len(got.PriceHistory)-1].Price)

	for i := 0; i < 5; i++ {
		tr, err := dst.Swap(ctx, pool.PoolID, domain.SideBuy, d(100), noLimit(), "t")
		require.NoError(t, err, "swap %d after restore", i)
		assert.Equal(t, int64(4+i), tr.Seq)
	}

	logged, err := trades.GetByPoolID(ctx, pool.PoolID)
	require.NoError(t, err)
	require.Len(t, logged, 8)
	ids := make(map[string]struct{}, len(logged))
	for _, tr := range logged {
		ids[tr.TradeID] = struct{}{}
	}
	assert.Len(t, ids, 8)
}

func TestRestore_TradeLogGap(t *testing.T) {
	trades := memory.NewTradeStore()
	snapshots := memory.NewSnapshotStore()
	ctx := context.Background()

	src := New(Options{TradeStore: trades, SnapshotStore: snapshots})
	pool := createPool(t, src, 1000, 1000, 30)
	require.NoError(t, src.SnapshotAll(ctx))

	require.NoError(t, trades.Insert(ctx, &domain.Trade{
		TradeID:    "orphan",
		PoolID:     pool.PoolID,
		Seq:        2,
		Side:       domain.SideBuy,
		AmountIn:   d(10),
		AmountOut:  d(9),
		FeePaid:    decimal.Zero,
		PriceAfter: decimal.RequireFromString("1.02"),
		Timestamp:  1_700_000_000_000,
	}))

	dst := New(Options{TradeStore: trades, SnapshotStore: snapshots})
	_, err := dst.Restore(ctx, pool.PoolID)
	assert.ErrorIs(t, err, ErrCorruptSnapshot)
	assert.False(t, dst.PoolExists(pool.PoolID))
}
