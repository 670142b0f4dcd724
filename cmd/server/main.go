// Package main runs the DEX core as a long-lived process:
// - Ledger (pools, liquidity) over the configured trade log backend
// - Simulation (continuous): synthetic order flow so candles stay live
// - Snapshots (scheduled): pool and position state to the snapshot store
// - HTTP: /health, /metrics, /status, /candles, /report
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"token-dex-lab/internal/candles"
	"token-dex-lab/internal/config"
	"token-dex-lab/internal/domain"
	"token-dex-lab/internal/ledger"
	"token-dex-lab/internal/logger"
	"token-dex-lab/internal/observability"
	"token-dex-lab/internal/reporting"
	"token-dex-lab/internal/simulation"
	"token-dex-lab/internal/storage"
	chstore "token-dex-lab/internal/storage/clickhouse"
	"token-dex-lab/internal/storage/memory"
	"token-dex-lab/internal/storage/migrations"
	pgstore "token-dex-lab/internal/storage/postgres"
)

// Server holds all components of the service.
type Server struct {
	cfg     *config.Config
	ledger  *ledger.Ledger
	candles *candles.Service
	runner  *simulation.Runner
	stores  *stores
	logger  *zap.Logger

	// State
	mu           sync.Mutex
	started      time.Time
	lastSnapshot time.Time
	snapshots    int
	sim          simulation.StepResult
}

// stores holds the storage implementations selected by config.
type stores struct {
	trades    storage.TradeStore
	snapshots storage.SnapshotStore
}

func main() {
	configPath := flag.String("config", os.Getenv("DEX_CONFIG"), "Path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, cleanup, err := createStores(ctx, cfg.Storage, log)
	if err != nil {
		log.Fatal("create stores", zap.Error(err))
	}
	defer cleanup()

	l := ledger.New(ledger.Options{
		TradeStore:      st.trades,
		SnapshotStore:   st.snapshots,
		PriceHistoryCap: cfg.Ledger.PriceHistoryCap,
		Logger:          log,
	})

	server := &Server{
		cfg:    cfg,
		ledger: l,
		candles: candles.NewService(l, st.trades, candles.ServiceOptions{
			GapFill:  candles.GapFill(cfg.Candles.GapFill),
			MaxLimit: cfg.Candles.MaxLimit,
			Logger:   log,
		}),
		stores:  st,
		logger:  log,
		started: time.Now(),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()

		select {
		case sig := <-sigCh:
			log.Warn("received second signal, forcing exit", zap.String("signal", sig.String()))
			os.Exit(1)
		case <-time.After(cfg.Server.ShutdownTimeout):
			log.Error("graceful shutdown timed out, forcing exit")
			os.Exit(1)
		}
	}()

	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("server error", zap.Error(err))
	}
	log.Info("shutdown complete")
}

// createStores builds the trade log and snapshot store for the configured backend.
func createStores(ctx context.Context, cfg config.StorageConfig, log *zap.Logger) (*stores, func(), error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		log.Info("using postgres storage")
		return &stores{
			trades:    pgstore.NewTradeStore(pool),
			snapshots: pgstore.NewSnapshotStore(pool),
		}, pool.Close, nil

	case config.BackendClickhouse:
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
		if err != nil {
			return nil, nil, err
		}
		st := &stores{trades: chstore.NewTradeStore(conn), snapshots: memory.NewSnapshotStore()}
		cleanup := func() { conn.Close() }

		// Snapshots need row-level upserts, so they go to Postgres when available.
		if cfg.PostgresDSN != "" {
			pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
			if err != nil {
				conn.Close()
				return nil, nil, err
			}
			if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
				pool.Close()
				conn.Close()
				return nil, nil, err
			}
			st.snapshots = pgstore.NewSnapshotStore(pool)
			cleanup = func() {
				conn.Close()
				pool.Close()
			}
		}
		log.Info("using clickhouse storage", zap.Bool("postgres_snapshots", cfg.PostgresDSN != ""))
		return st, cleanup, nil

	default:
		log.Info("using in-memory storage")
		return &stores{
			trades:    memory.NewTradeStore(),
			snapshots: memory.NewSnapshotStore(),
		}, func() {}, nil
	}
}

// Run restores pools, then runs HTTP, simulation and snapshots until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	restored, err := s.restorePools(ctx)
	if err != nil {
		return err
	}

	simCfg := s.cfg.Simulation
	if simCfg.Enabled {
		s.runner = simulation.NewRunner(s.ledger, simulation.Options{
			Seed:            simCfg.Seed,
			Pools:           simCfg.Pools,
			Traders:         simCfg.Traders,
			SwapsPerTick:    simCfg.SwapsPerTick,
			MaxTradePct:     simCfg.MaxTradePct,
			MaxImpactPct:    simCfg.MaxImpactPct,
			LiquidityChance: simCfg.LiquidityChance,
			InitialBase:     simCfg.InitialBase,
			InitialQuote:    simCfg.InitialQuote,
			FeeBps:          s.cfg.Ledger.DefaultFeeBps,
			Logger:          s.logger,
		})
		if len(restored) > 0 {
			s.runner.AttachPools(restored)
		} else if _, err := s.runner.Setup(ctx); err != nil {
			return err
		}
	}

	httpServer := &http.Server{Addr: s.cfg.Server.MetricsAddr, Handler: s.routes()}
	errCh := make(chan error, 3)

	go func() {
		s.logger.Info("starting http server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if s.runner != nil {
		go func() {
			total, err := s.runSimulation(ctx)
			s.logger.Info("simulation finished", zap.Int("swaps", total.Swaps))
			if err != nil {
				errCh <- fmt.Errorf("simulation: %w", err)
			}
		}()
	}

	if s.cfg.Server.SnapshotEvery > 0 {
		go s.runSnapshots(ctx)
	}

	select {
	case <-ctx.Done():
	case err = <-errCh:
		s.logger.Error("component failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if serr := httpServer.Shutdown(shutdownCtx); serr != nil {
		s.logger.Warn("http shutdown", zap.Error(serr))
	}
	if serr := s.ledger.SnapshotAll(shutdownCtx); serr != nil {
		s.logger.Error("final snapshot failed", zap.Error(serr))
	}
	return err
}

// restorePools loads every snapshotted pool into the ledger.
func (s *Server) restorePools(ctx context.Context) ([]string, error) {
	ids, err := s.stores.snapshots.ListPoolIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	for _, id := range ids {
		if _, err := s.ledger.Restore(ctx, id); err != nil {
			return nil, err
		}
	}
	if len(ids) > 0 {
		s.logger.Info("restored pools", zap.Int("pools", len(ids)))
	}
	return ids, nil
}

// runSimulation steps the runner on the configured tick and keeps running totals.
func (s *Server) runSimulation(ctx context.Context) (simulation.StepResult, error) {
	ticker := time.NewTicker(s.cfg.Simulation.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			defer s.mu.Unlock()
			return s.sim, nil
		case <-ticker.C:
			res, err := s.runner.Step(ctx)
			s.mu.Lock()
			s.sim.Add(res)
			total := s.sim
			s.mu.Unlock()
			if err != nil {
				return total, err
			}
		}
	}
}

// runSnapshots writes all pools to the snapshot store on a fixed interval.
func (s *Server) runSnapshots(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Server.SnapshotEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.ledger.SnapshotAll(ctx); err != nil {
				s.logger.Error("snapshot failed", zap.Error(err))
				continue
			}
			s.mu.Lock()
			s.lastSnapshot = time.Now()
			s.snapshots++
			s.mu.Unlock()
		}
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheus metrics
	mux.Handle("/metrics", observability.Handler())

	// Status endpoint
	mux.HandleFunc("/status", s.handleStatus)

	// Candles as CSV: /candles?pool=<id>&timeframe=1m&limit=100
	mux.HandleFunc("/candles", s.handleCandles)

	// Markdown report across all pools: /report?timeframe=1h&limit=24
	mux.HandleFunc("/report", s.handleReport)

	return mux
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status       string    `json:"status"`
	Uptime       string    `json:"uptime"`
	Pools        []string  `json:"pools"`
	LastSnapshot time.Time `json:"last_snapshot,omitempty"`
	Snapshots    int       `json:"snapshots"`
	Swaps        int       `json:"swaps"`
	Rejections   int       `json:"rejections"`
	Violations   int       `json:"violations"`
}

// handleStatus returns server status as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	resp := StatusResponse{
		Status:       "running",
		Uptime:       time.Since(s.started).String(),
		Pools:        s.ledger.ListPools(),
		LastSnapshot: s.lastSnapshot,
		Snapshots:    s.snapshots,
		Swaps:        s.sim.Swaps,
		Rejections:   s.sim.Rejections,
		Violations:   s.sim.Violations,
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleCandles renders one pool's candles as CSV.
func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	poolID := r.URL.Query().Get("pool")
	tf, limit, ok := parseCandleQuery(w, r, domain.Timeframe1m, s.cfg.Candles.MaxLimit)
	if !ok {
		return
	}

	cs, err := s.candles.GetCandles(r.Context(), poolID, tf, limit)
	if err != nil {
		writeCandleError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Write([]byte(reporting.RenderCandlesCSV(poolID, cs)))
}

// handleReport renders pool state and recent candles as markdown.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	tf, limit, ok := parseCandleQuery(w, r, domain.Timeframe1h, 24)
	if !ok {
		return
	}

	report, err := reporting.NewGenerator(s.ledger, s.candles).Generate(r.Context(), tf, limit)
	if err != nil {
		writeCandleError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/markdown")
	w.Write([]byte(reporting.RenderMarkdown(report)))
}

// parseCandleQuery reads timeframe and limit query parameters.
func parseCandleQuery(w http.ResponseWriter, r *http.Request, defTF domain.Timeframe, defLimit int) (domain.Timeframe, int, bool) {
	q := r.URL.Query()
	tf := defTF
	if raw := q.Get("timeframe"); raw != "" {
		tf = domain.Timeframe(raw)
	}
	limit := defLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return "", 0, false
		}
		limit = n
	}
	return tf, limit, true
}

func writeCandleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrPoolNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, candles.ErrUnknownTimeframe), errors.Is(err, candles.ErrInvalidLimit):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
