// Package config loads application configuration from YAML and environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. DEX_LEDGER_PRICE_HISTORY_CAP.
const EnvPrefix = "DEX"

// Storage backends.
const (
	BackendMemory     = "memory"
	BackendPostgres   = "postgres"
	BackendClickhouse = "clickhouse"
)

// Gap-fill policies for candle series.
const (
	GapFillRepeatClose = "repeat_close"
	GapFillOmit        = "omit"
)

// Config is the root application configuration.
type Config struct {
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Candles    CandlesConfig    `mapstructure:"candles"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Server     ServerConfig     `mapstructure:"server"`
	Simulation SimulationConfig `mapstructure:"simulation"`
	Log        LogConfig        `mapstructure:"log"`
}

// LedgerConfig configures the pool and liquidity ledgers.
type LedgerConfig struct {
	PriceHistoryCap int `mapstructure:"price_history_cap" validate:"gt=0"`
	DefaultFeeBps   int `mapstructure:"default_fee_bps" validate:"gte=0,lt=10000"`
}

// CandlesConfig configures the candle aggregator.
type CandlesConfig struct {
	GapFill  string `mapstructure:"gap_fill" validate:"oneof=repeat_close omit"`
	MaxLimit int    `mapstructure:"max_limit" validate:"gt=0"`
}

// StorageConfig selects the trade log and snapshot backend.
type StorageConfig struct {
	Backend       string `mapstructure:"backend" validate:"oneof=memory postgres clickhouse"`
	PostgresDSN   string `mapstructure:"postgres_dsn" validate:"required_if=Backend postgres"`
	ClickhouseDSN string `mapstructure:"clickhouse_dsn" validate:"required_if=Backend clickhouse"`
}

// ServerConfig configures the HTTP surface of cmd/server.
type ServerConfig struct {
	MetricsAddr     string        `mapstructure:"metrics_addr" validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	SnapshotEvery   time.Duration `mapstructure:"snapshot_every" validate:"gte=0"`
}

// SimulationConfig configures the synthetic order-flow driver.
type SimulationConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Seed            int64         `mapstructure:"seed"`
	Pools           int           `mapstructure:"pools" validate:"gte=0,lte=64"`
	Traders         int           `mapstructure:"traders" validate:"gt=0"`
	SwapsPerTick    int           `mapstructure:"swaps_per_tick" validate:"gt=0"`
	TickInterval    time.Duration `mapstructure:"tick_interval" validate:"gt=0"`
	MaxTradePct     float64       `mapstructure:"max_trade_pct" validate:"gt=0,lte=50"`
	MaxImpactPct    float64       `mapstructure:"max_impact_pct" validate:"gte=0"`
	LiquidityChance float64       `mapstructure:"liquidity_chance" validate:"gte=0,lte=1"`
	InitialBase     int64         `mapstructure:"initial_base" validate:"gt=0"`
	InitialQuote    int64         `mapstructure:"initial_quote" validate:"gt=0"`
}

// LogConfig defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format      string `mapstructure:"format" validate:"oneof=json console"`
	OutputFile  string `mapstructure:"output_file"` // optional rotated file
	Environment string `mapstructure:"environment" validate:"oneof=dev prod"`
}

// Default returns the configuration used when no file or env overrides are present.
func Default() Config {
	return Config{
		Ledger: LedgerConfig{
			PriceHistoryCap: 1024,
			DefaultFeeBps:   30,
		},
		Candles: CandlesConfig{
			GapFill:  GapFillRepeatClose,
			MaxLimit: 1000,
		},
		Storage: StorageConfig{
			Backend: BackendMemory,
		},
		Server: ServerConfig{
			MetricsAddr:     ":9090",
			ShutdownTimeout: 30 * time.Second,
			SnapshotEvery:   time.Minute,
		},
		Simulation: SimulationConfig{
			Enabled:         true,
			Seed:            1,
			Pools:           2,
			Traders:         16,
			SwapsPerTick:    4,
			TickInterval:    time.Second,
			MaxTradePct:     2,
			MaxImpactPct:    5,
			LiquidityChance: 0.05,
			InitialBase:     1_000_000_000,
			InitialQuote:    50_000_000_000,
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Environment: "dev",
		},
	}
}

// Load reads configuration from path (optional) and DEX_* environment variables,
// on top of Default(), and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct-level constraints.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("ledger.price_history_cap", d.Ledger.PriceHistoryCap)
	v.SetDefault("ledger.default_fee_bps", d.Ledger.DefaultFeeBps)

	v.SetDefault("candles.gap_fill", d.Candles.GapFill)
	v.SetDefault("candles.max_limit", d.Candles.MaxLimit)

	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.postgres_dsn", d.Storage.PostgresDSN)
	v.SetDefault("storage.clickhouse_dsn", d.Storage.ClickhouseDSN)

	v.SetDefault("server.metrics_addr", d.Server.MetricsAddr)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.snapshot_every", d.Server.SnapshotEvery)

	v.SetDefault("simulation.enabled", d.Simulation.Enabled)
	v.SetDefault("simulation.seed", d.Simulation.Seed)
	v.SetDefault("simulation.pools", d.Simulation.Pools)
	v.SetDefault("simulation.traders", d.Simulation.Traders)
	v.SetDefault("simulation.swaps_per_tick", d.Simulation.SwapsPerTick)
	v.SetDefault("simulation.tick_interval", d.Simulation.TickInterval)
	v.SetDefault("simulation.max_trade_pct", d.Simulation.MaxTradePct)
	v.SetDefault("simulation.max_impact_pct", d.Simulation.MaxImpactPct)
	v.SetDefault("simulation.liquidity_chance", d.Simulation.LiquidityChance)
	v.SetDefault("simulation.initial_base", d.Simulation.InitialBase)
	v.SetDefault("simulation.initial_quote", d.Simulation.InitialQuote)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.output_file", d.Log.OutputFile)
	v.SetDefault("log.environment", d.Log.Environment)
}
