package reporting

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"token-dex-lab/internal/candles"
	"token-dex-lab/internal/domain"
	"token-dex-lab/internal/ledger"
	"token-dex-lab/internal/storage/memory"
)

func setupTestLedger(t *testing.T) (*ledger.Ledger, *candles.Service, string) {
	ctx := context.Background()

	ts := time.Unix(1_700_000_040, 0)
	clock := func() time.Time {
		ts = ts.Add(20 * time.Second)
		return ts
	}

	trades := memory.NewTradeStore()
	l := ledger.New(ledger.Options{TradeStore: trades, Clock: clock})

	pool, _, err := l.CreatePool(ctx, "alice", decimal.NewFromInt(100_000), decimal.NewFromInt(400_000), 30)
	if err != nil {
		t.Fatalf("CreatePool failed: %v", err)
	}
	if _, err := l.AddLiquidity(ctx, pool.PoolID, "bob", decimal.NewFromInt(1000), decimal.NewFromInt(4000)); err != nil {
		t.Fatalf("AddLiquidity failed: %v", err)
	}
	for i := 0; i < 6; i++ {
		side := domain.SideBuy
		if i%2 == 1 {
			side = domain.SideSell
		}
		if _, err := l.Swap(ctx, pool.PoolID, side, decimal.NewFromInt(500), decimal.NullDecimal{}, "trader"); err != nil {
			t.Fatalf("Swap failed: %v", err)
		}
	}

	svc := candles.NewService(l, trades, candles.ServiceOptions{})
	return l, svc, pool.PoolID
}

func TestGenerator_Generate(t *testing.T) {
	l, svc, poolID := setupTestLedger(t)
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	r, err := NewGenerator(l, svc).WithClock(func() time.Time { return fixed }).
		Generate(context.Background(), domain.Timeframe1m, 100)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if !r.GeneratedAt.Equal(fixed) {
		t.Errorf("GeneratedAt = %v, want %v", r.GeneratedAt, fixed)
	}
	if len(r.Pools) != 1 {
		t.Fatalf("expected 1 pool, got %d", len(r.Pools))
	}

	p := r.Pools[0]
	if p.PoolID != poolID {
		t.Errorf("PoolID = %s, want %s", p.PoolID, poolID)
	}
	if p.Providers != 2 {
		t.Errorf("Providers = %d, want 2", p.Providers)
	}
	if p.TradeCount != 6 {
		t.Errorf("TradeCount = %d, want 6", p.TradeCount)
	}
	if !p.BaseVolume.IsPositive() {
		t.Errorf("BaseVolume = %s, want > 0", p.BaseVolume)
	}
	if len(r.Candles[poolID]) == 0 {
		t.Error("expected candles for pool")
	}
	if len(r.IntegrityErrors) != 0 {
		t.Errorf("unexpected integrity errors: %v", r.IntegrityErrors)
	}

	total := 0
	for _, c := range r.Candles[poolID] {
		total += c.TradeCount
	}
	if total != 6 {
		t.Errorf("candle trade count = %d, want 6", total)
	}
}

func TestRenderMarkdown(t *testing.T) {
	l, svc, poolID := setupTestLedger(t)

	r, err := NewGenerator(l, svc).Generate(context.Background(), domain.Timeframe1m, 100)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	md := RenderMarkdown(r)
	for _, want := range []string{"# Pool Report", "## Pools", poolID, "## Candles: " + poolID, "| Bucket |"} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
	if strings.Contains(md, "Integrity Errors") {
		t.Error("markdown should not list integrity errors")
	}
}

func TestRenderMarkdown_Empty(t *testing.T) {
	md := RenderMarkdown(&Report{GeneratedAt: time.Unix(0, 0), Timeframe: domain.Timeframe1h})
	if !strings.Contains(md, "No pools.") {
		t.Errorf("expected empty pools marker, got:\n%s", md)
	}
}

func TestRenderCandlesCSV(t *testing.T) {
	cs := []domain.Candle{
		{
			TimeBucketStart: 1_700_000_040,
			Open:            decimal.NewFromInt(100),
			High:            decimal.NewFromInt(105),
			Low:             decimal.NewFromInt(98),
			Close:           decimal.NewFromInt(98),
			Volume:          decimal.NewFromInt(4),
			TradeCount:      3,
		},
	}

	out := RenderCandlesCSV("pool-1", cs)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header + 1 row, got %d lines", len(lines))
	}
	if lines[0] != "pool_id,time_bucket_start,open,high,low,close,volume,trade_count" {
		t.Errorf("unexpected header: %s", lines[0])
	}
	if lines[1] != "pool-1,1700000040,100,105,98,98,4,3" {
		t.Errorf("unexpected row: %s", lines[1])
	}
}

func TestRenderPoolsCSV(t *testing.T) {
	out := RenderPoolsCSV([]PoolSummary{{
		PoolID:       "pool-1",
		BaseReserve:  decimal.NewFromInt(100),
		QuoteReserve: decimal.NewFromInt(400),
		SpotPrice:    decimal.RequireFromString("0.25"),
		LPSupply:     decimal.NewFromInt(200),
		Providers:    1,
		FeeRateBps:   30,
		FeesBase:     decimal.Zero,
		FeesQuote:    decimal.Zero,
		BaseVolume:   decimal.Zero,
	}})

	if !strings.Contains(out, "pool-1,100,400,0.25000000,200,1,30,0,0,0,0") {
		t.Errorf("unexpected csv:\n%s", out)
	}
}
