// Package simulation drives synthetic, seeded order flow through the ledger
// so that pools accumulate trades and candles without external traders.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"token-dex-lab/internal/domain"
	"token-dex-lab/internal/ledger"
	"token-dex-lab/internal/logger"
	"token-dex-lab/internal/observability"
	"token-dex-lab/internal/pricing"
)

// Market is the subset of the ledger the runner trades against.
type Market interface {
	CreatePool(ctx context.Context, providerID string, baseAmount, quoteAmount decimal.Decimal, feeRateBps int) (*domain.Pool, *domain.LPPosition, error)
	GetPool(poolID string) (*domain.Pool, error)
	Swap(ctx context.Context, poolID string, side domain.Side, amountIn decimal.Decimal, maxPriceImpactPct decimal.NullDecimal, traderID string) (*domain.Trade, error)
	AddLiquidity(ctx context.Context, poolID, providerID string, baseIn, quoteIn decimal.Decimal) (*ledger.AddResult, error)
	RemoveLiquidity(ctx context.Context, poolID, providerID string, shares decimal.Decimal) (*ledger.RemoveResult, error)
	ListPositions(poolID string) ([]*domain.LPPosition, error)
}

// Options contains configuration for creating a Runner.
type Options struct {
	Seed            int64
	Pools           int
	Traders         int
	SwapsPerTick    int
	MaxTradePct     float64 // max swap size as a percent of reserveIn
	MaxImpactPct    float64 // 0 disables the slippage limit
	LiquidityChance float64 // probability of one liquidity op per tick
	InitialBase     int64
	InitialQuote    int64
	FeeBps          int
	Logger          *zap.Logger
}

// StepResult counts what one tick did.
type StepResult struct {
	Swaps      int
	Rejections int
	Adds       int
	Removes    int
	Violations int
}

// Add accumulates another step's counts.
func (s *StepResult) Add(o StepResult) {
	s.Swaps += o.Swaps
	s.Rejections += o.Rejections
	s.Adds += o.Adds
	s.Removes += o.Removes
	s.Violations += o.Violations
}

// Runner executes synthetic order flow. Not safe for concurrent use.
type Runner struct {
	market    Market
	opts      Options
	rng       *rand.Rand
	pools     []string
	traders   []string
	providers []string
	logger    *zap.Logger
}

// NewRunner creates a simulation runner. Identical options produce identical
// order flow against an identically seeded ledger.
func NewRunner(market Market, opts Options) *Runner {
	if opts.Traders <= 0 {
		opts.Traders = 1
	}
	if opts.SwapsPerTick <= 0 {
		opts.SwapsPerTick = 1
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	r := &Runner{
		market: market,
		opts:   opts,
		rng:    rng,
		logger: logger.OrNop(opts.Logger).Named("simulation"),
	}
	r.traders = r.newIdentities("trader", opts.Traders)
	r.providers = r.newIdentities("lp", max(2, opts.Traders/4))
	return r
}

// newIdentities derives UUIDs from the seeded RNG so runs are reproducible.
func (r *Runner) newIdentities(prefix string, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		id, err := uuid.NewRandomFromReader(r.rng)
		if err != nil {
			id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s-%d-%d", prefix, r.opts.Seed, i)))
		}
		ids[i] = prefix + "-" + id.String()
	}
	return ids
}

// Setup creates the configured number of pools and returns their IDs.
func (r *Runner) Setup(ctx context.Context) ([]string, error) {
	for i := 0; i < r.opts.Pools; i++ {
		provider := r.providers[i%len(r.providers)]
		p, _, err := r.market.CreatePool(ctx, provider,
			decimal.NewFromInt(r.opts.InitialBase), decimal.NewFromInt(r.opts.InitialQuote), r.opts.FeeBps)
		if err != nil {
			return nil, fmt.Errorf("create pool %d: %w", i, err)
		}
		r.pools = append(r.pools, p.PoolID)
	}
	r.logger.Info("simulation pools created", zap.Int("pools", len(r.pools)))
	return append([]string(nil), r.pools...), nil
}

// AttachPools adds existing pools, e.g. restored from snapshots, to the trading set.
func (r *Runner) AttachPools(ids []string) {
	r.pools = append(r.pools, ids...)
}

// Pools returns the IDs of pools the runner trades on.
func (r *Runner) Pools() []string {
	return append([]string(nil), r.pools...)
}

// Step runs one tick: SwapsPerTick swaps on random pools and, with
// LiquidityChance, one liquidity add or remove.
func (r *Runner) Step(ctx context.Context) (StepResult, error) {
	var res StepResult
	if len(r.pools) == 0 {
		return res, nil
	}
	observability.RecordSimulationTick()

	for i := 0; i < r.opts.SwapsPerTick; i++ {
		if err := r.randomSwap(ctx, &res); err != nil {
			return res, err
		}
	}

	if r.rng.Float64() < r.opts.LiquidityChance {
		if err := r.randomLiquidity(ctx, &res); err != nil {
			return res, err
		}
	}
	return res, nil
}

// Run calls Step every interval until ctx is cancelled.
func (r *Runner) Run(ctx context.Context, interval time.Duration) (StepResult, error) {
	var total StepResult
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("simulation stopped",
				zap.Int("swaps", total.Swaps),
				zap.Int("rejections", total.Rejections),
				zap.Int("violations", total.Violations),
			)
			return total, nil
		case <-ticker.C:
			res, err := r.Step(ctx)
			total.Add(res)
			if err != nil {
				return total, err
			}
		}
	}
}

func (r *Runner) randomSwap(ctx context.Context, res *StepResult) error {
	poolID := r.pools[r.rng.Intn(len(r.pools))]
	before, err := r.market.GetPool(poolID)
	if err != nil {
		return err
	}

	side := domain.SideBuy
	reserveIn := before.BaseReserve
	if r.rng.Intn(2) == 1 {
		side = domain.SideSell
		reserveIn = before.QuoteReserve
	}

	frac := decimal.NewFromFloat(r.rng.Float64() * r.opts.MaxTradePct / 100)
	amount := reserveIn.Mul(frac).Floor()
	if !amount.IsPositive() {
		amount = decimal.NewFromInt(1)
	}

	var maxImpact decimal.NullDecimal
	if r.opts.MaxImpactPct > 0 {
		maxImpact = decimal.NewNullDecimal(decimal.NewFromFloat(r.opts.MaxImpactPct))
	}

	trader := r.traders[r.rng.Intn(len(r.traders))]
	_, err = r.market.Swap(ctx, poolID, side, amount, maxImpact, trader)
	if err != nil {
		if pricing.IsRejection(err) {
			res.Rejections++
			return nil
		}
		return fmt.Errorf("swap %s: %w", poolID, err)
	}
	res.Swaps++

	after, err := r.market.GetPool(poolID)
	if err != nil {
		return err
	}
	if err := CheckSwapInvariant(before, after); err != nil {
		r.violation(poolID, err, res)
	}
	return nil
}

func (r *Runner) randomLiquidity(ctx context.Context, res *StepResult) error {
	poolID := r.pools[r.rng.Intn(len(r.pools))]
	pool, err := r.market.GetPool(poolID)
	if err != nil {
		return err
	}

	if r.rng.Intn(2) == 0 {
		provider := r.providers[r.rng.Intn(len(r.providers))]
		// 0.1%..1% of reserves, quote skewed up to 10% so the trim path runs.
		frac := decimal.NewFromFloat(0.001 + r.rng.Float64()*0.009)
		skew := decimal.NewFromFloat(1 + r.rng.Float64()*0.1)
		baseIn := pool.BaseReserve.Mul(frac).Floor()
		quoteIn := pool.QuoteReserve.Mul(frac).Mul(skew).Floor()

		if _, err := r.market.AddLiquidity(ctx, poolID, provider, baseIn, quoteIn); err != nil {
			if pricing.IsRejection(err) {
				res.Rejections++
				return nil
			}
			return fmt.Errorf("add liquidity %s: %w", poolID, err)
		}
		res.Adds++
	} else {
		positions, err := r.market.ListPositions(poolID)
		if err != nil {
			return err
		}
		if len(positions) < 2 {
			return nil
		}
		pos := positions[r.rng.Intn(len(positions))]
		shares := pos.LPShares.Div(decimal.NewFromInt(2)).Floor()
		if !shares.IsPositive() {
			return nil
		}

		if _, err := r.market.RemoveLiquidity(ctx, poolID, pos.ProviderID, shares); err != nil {
			if pricing.IsRejection(err) || errors.Is(err, ledger.ErrInsufficientShares) {
				res.Rejections++
				return nil
			}
			return fmt.Errorf("remove liquidity %s: %w", poolID, err)
		}
		res.Removes++
	}

	positions, err := r.market.ListPositions(poolID)
	if err != nil {
		return err
	}
	after, err := r.market.GetPool(poolID)
	if err != nil {
		return err
	}
	if err := CheckShareInvariant(after, positions); err != nil {
		r.violation(poolID, err, res)
	}
	return nil
}

func (r *Runner) violation(poolID string, err error, res *StepResult) {
	res.Violations++
	observability.RecordInvariantViolation()
	r.logger.Error("invariant violated", zap.String("pool_id", poolID), zap.Error(err))
}
