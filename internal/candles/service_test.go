package candles

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-dex-lab/internal/domain"
	"token-dex-lab/internal/ledger"
	"token-dex-lab/internal/storage"
	"token-dex-lab/internal/storage/memory"
)

type poolSet map[string]bool

func (p poolSet) GetPool(id string) (*domain.Pool, error) {
	if !p[id] {
		return nil, fmt.Errorf("%w: %s", ledger.ErrPoolNotFound, id)
	}
	return &domain.Pool{PoolID: id}, nil
}

type brokenTradeStore struct {
	storage.TradeStore
}

func (brokenTradeStore) GetByPoolID(context.Context, string) ([]*domain.Trade, error) {
	return nil, errors.New("connection reset")
}

func seedTrades(t *testing.T, store *memory.TradeStore, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		// one trade every 90s
		require.NoError(t, store.Insert(context.Background(), trade(int64(i), base+int64(i-1)*90, "100", 1)))
	}
}

func TestService_GetCandles(t *testing.T) {
	store := memory.NewTradeStore()
	seedTrades(t, store, 10)
	svc := NewService(poolSet{"pool-1": true}, store, ServiceOptions{})

	all, err := svc.GetCandles(context.Background(), "pool-1", domain.Timeframe1m, 1000)
	require.NoError(t, err)
	// 10 trades over 810s -> buckets base .. base+780
	require.Len(t, all, 14)

	last3, err := svc.GetCandles(context.Background(), "pool-1", domain.Timeframe1m, 3)
	require.NoError(t, err)
	require.Len(t, last3, 3)
	assert.Equal(t, all[len(all)-3:], last3)
}

func TestService_GetCandlesSparseHistory(t *testing.T) {
	store := memory.NewTradeStore()
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, trade(1, base, "100", 1)))
	require.NoError(t, store.Insert(ctx, trade(2, base+2*365*24*3600, "110", 1)))
	svc := NewService(poolSet{"pool-1": true}, store, ServiceOptions{})

	candles, err := svc.GetCandles(ctx, "pool-1", domain.Timeframe1m, 5)
	require.NoError(t, err)
	require.Len(t, candles, 5)
	assert.True(t, decimal.RequireFromString("100").Equal(candles[0].Close))
	assert.True(t, decimal.RequireFromString("110").Equal(candles[4].Close))
	assert.Equal(t, int64(2*365*24*3600), candles[4].TimeBucketStart-base)
}

func TestService_EmptyPool(t *testing.T) {
	svc := NewService(poolSet{"pool-1": true}, memory.NewTradeStore(), ServiceOptions{})

	candles, err := svc.GetCandles(context.Background(), "pool-1", domain.Timeframe1h, 10)
	require.NoError(t, err)
	assert.Empty(t, candles)
}

func TestService_Errors(t *testing.T) {
	svc := NewService(poolSet{"pool-1": true}, memory.NewTradeStore(), ServiceOptions{})
	ctx := context.Background()

	_, err := svc.GetCandles(ctx, "missing", domain.Timeframe1m, 10)
	assert.ErrorIs(t, err, ledger.ErrPoolNotFound)

	_, err = svc.GetCandles(ctx, "pool-1", domain.Timeframe("3m"), 10)
	assert.ErrorIs(t, err, ErrUnknownTimeframe)

	_, err = svc.GetCandles(ctx, "pool-1", domain.Timeframe1m, 0)
	assert.ErrorIs(t, err, ErrInvalidLimit)

	broken := NewService(poolSet{"pool-1": true}, brokenTradeStore{}, ServiceOptions{})
	_, err = broken.GetCandles(ctx, "pool-1", domain.Timeframe1m, 10)
	assert.Error(t, err)
}

func TestService_ClampsLimit(t *testing.T) {
	store := memory.NewTradeStore()
	seedTrades(t, store, 10)
	svc := NewService(poolSet{"pool-1": true}, store, ServiceOptions{MaxLimit: 5})

	candles, err := svc.GetCandles(context.Background(), "pool-1", domain.Timeframe1m, 100)
	require.NoError(t, err)
	assert.Len(t, candles, 5)
}

func TestService_Window(t *testing.T) {
	store := memory.NewTradeStore()
	seedTrades(t, store, 10)
	svc := NewService(poolSet{"pool-1": true}, store, ServiceOptions{GapFill: GapFillOmit})

	// Buckets starting in [base+180, base+360]: trades at +180, +270, +360 and +450 is excluded.
	candles, err := svc.GetCandlesInWindow(context.Background(), "pool-1", domain.Timeframe1m, 100,
		Window{From: base + 180, To: base + 360})
	require.NoError(t, err)
	require.Len(t, candles, 3)
	assert.Equal(t, base+180, candles[0].TimeBucketStart)
	assert.Equal(t, base+360, candles[2].TimeBucketStart)
}
