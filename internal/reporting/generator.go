package reporting

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"token-dex-lab/internal/domain"
)

// PoolSource lists pools and their positions. Satisfied by *ledger.Ledger.
type PoolSource interface {
	ListPools() []string
	GetPool(poolID string) (*domain.Pool, error)
	ListPositions(poolID string) ([]*domain.LPPosition, error)
}

// CandleSource serves candles. Satisfied by *candles.Service.
type CandleSource interface {
	GetCandles(ctx context.Context, poolID string, tf domain.Timeframe, limit int) ([]domain.Candle, error)
}

// Generator produces reports from live ledger state.
type Generator struct {
	pools   PoolSource
	candles CandleSource
	now     func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
func NewGenerator(pools PoolSource, candles CandleSource) *Generator {
	return &Generator{
		pools:   pools,
		candles: candles,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate builds a report with up to limit candles of timeframe tf per pool.
func (g *Generator) Generate(ctx context.Context, tf domain.Timeframe, limit int) (*Report, error) {
	r := &Report{
		GeneratedAt: g.now(),
		Timeframe:   tf,
		Candles:     make(map[string][]domain.Candle),
	}

	for _, id := range g.pools.ListPools() {
		pool, err := g.pools.GetPool(id)
		if err != nil {
			return nil, err
		}
		positions, err := g.pools.ListPositions(id)
		if err != nil {
			return nil, err
		}
		candles, err := g.candles.GetCandles(ctx, id, tf, limit)
		if err != nil {
			return nil, fmt.Errorf("candles for %s: %w", id, err)
		}

		shares := decimal.Zero
		for _, pos := range positions {
			shares = shares.Add(pos.LPShares)
		}
		if !shares.Equal(pool.LPSupply) {
			r.IntegrityErrors = append(r.IntegrityErrors,
				fmt.Sprintf("%s: positions sum to %s, lp supply is %s", id, shares, pool.LPSupply))
		}

		volume := decimal.Zero
		for _, c := range candles {
			volume = volume.Add(c.Volume)
		}

		r.Pools = append(r.Pools, PoolSummary{
			PoolID:       id,
			BaseReserve:  pool.BaseReserve,
			QuoteReserve: pool.QuoteReserve,
			SpotPrice:    pool.SpotPrice(),
			LPSupply:     pool.LPSupply,
			Providers:    len(positions),
			FeeRateBps:   pool.FeeRateBps,
			FeesBase:     pool.FeesAccrued.Base,
			FeesQuote:    pool.FeesAccrued.Quote,
			TradeCount:   pool.TradeCount,
			BaseVolume:   volume,
		})
		r.Candles[id] = candles
	}

	return r, nil
}
