// Package main runs a deterministic offline simulation on a virtual clock and
// prints the resulting pool report.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"token-dex-lab/internal/candles"
	"token-dex-lab/internal/config"
	"token-dex-lab/internal/domain"
	"token-dex-lab/internal/ledger"
	"token-dex-lab/internal/logger"
	"token-dex-lab/internal/reporting"
	"token-dex-lab/internal/simulation"
	"token-dex-lab/internal/storage/memory"
)

// epoch is the virtual start time, fixed so that reruns produce byte-identical output.
var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func main() {
	// Parse flags
	configPath := flag.String("config", os.Getenv("DEX_CONFIG"), "Path to YAML config file")
	steps := flag.Int("steps", 1440, "Number of simulation ticks to run")
	tick := flag.Duration("tick", time.Minute, "Virtual time between ticks")
	seed := flag.Int64("seed", 0, "Override simulation seed (0 keeps config value)")
	timeframe := flag.String("timeframe", "1h", "Candle timeframe for the report")
	limit := flag.Int("limit", 24, "Max candles per pool in the report")
	format := flag.String("format", "markdown", "Output format: markdown or csv")
	outputDir := flag.String("output-dir", "", "Write output files here instead of stdout")
	flag.Parse()

	if *format != "markdown" && *format != "csv" {
		fmt.Fprintf(os.Stderr, "Error: unknown format %q\n", *format)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *seed != 0 {
		cfg.Simulation.Seed = *seed
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	report, err := simulate(context.Background(), cfg, *steps, *tick, domain.Timeframe(*timeframe), *limit, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error running simulation: %v\n", err)
		os.Exit(1)
	}

	outputs := render(report, *format)
	if *outputDir == "" {
		for _, name := range sortedKeys(outputs) {
			fmt.Print(outputs[name])
		}
		return
	}

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output dir: %v\n", err)
		os.Exit(1)
	}
	for _, name := range sortedKeys(outputs) {
		path := filepath.Join(*outputDir, name)
		if err := os.WriteFile(path, []byte(outputs[name]), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", path, err)
			os.Exit(1)
		}
		fmt.Printf("  - %s\n", path)
	}
}

// simulate runs steps ticks against an in-memory ledger and builds the report.
func simulate(
	ctx context.Context,
	cfg *config.Config,
	steps int,
	tick time.Duration,
	tf domain.Timeframe,
	limit int,
	log *zap.Logger,
) (*reporting.Report, error) {
	clock := simulation.NewVirtualClock(epoch)
	trades := memory.NewTradeStore()

	l := ledger.New(ledger.Options{
		TradeStore:      trades,
		SnapshotStore:   memory.NewSnapshotStore(),
		PriceHistoryCap: cfg.Ledger.PriceHistoryCap,
		Clock:           clock.Now,
		Logger:          log,
	})
	svc := candles.NewService(l, trades, candles.ServiceOptions{
		GapFill:  candles.GapFill(cfg.Candles.GapFill),
		MaxLimit: cfg.Candles.MaxLimit,
		Logger:   log,
	})

	sim := cfg.Simulation
	runner := simulation.NewRunner(l, simulation.Options{
		Seed:            sim.Seed,
		Pools:           sim.Pools,
		Traders:         sim.Traders,
		SwapsPerTick:    sim.SwapsPerTick,
		MaxTradePct:     sim.MaxTradePct,
		MaxImpactPct:    sim.MaxImpactPct,
		LiquidityChance: sim.LiquidityChance,
		InitialBase:     sim.InitialBase,
		InitialQuote:    sim.InitialQuote,
		FeeBps:          cfg.Ledger.DefaultFeeBps,
		Logger:          log,
	})
	if _, err := runner.Setup(ctx); err != nil {
		return nil, err
	}

	var total simulation.StepResult
	for i := 0; i < steps; i++ {
		clock.Advance(tick)
		res, err := runner.Step(ctx)
		total.Add(res)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}
	log.Info("simulation complete",
		zap.Int("steps", steps),
		zap.Int("swaps", total.Swaps),
		zap.Int("rejections", total.Rejections),
		zap.Int("adds", total.Adds),
		zap.Int("removes", total.Removes),
		zap.Int("violations", total.Violations),
	)
	if total.Violations > 0 {
		return nil, errors.New("invariant violations detected, see log")
	}

	return reporting.NewGenerator(l, svc).WithClock(clock.Now).Generate(ctx, tf, limit)
}

// render returns output file names mapped to their content.
func render(r *reporting.Report, format string) map[string]string {
	if format == "markdown" {
		return map[string]string{"REPORT.md": reporting.RenderMarkdown(r)}
	}

	out := map[string]string{"pools.csv": reporting.RenderPoolsCSV(r.Pools)}
	for poolID, cs := range r.Candles {
		out[fmt.Sprintf("candles_%s_%s.csv", poolID, r.Timeframe)] = reporting.RenderCandlesCSV(poolID, cs)
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
