// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Pool ledger metrics
	PoolsCreated    prometheus.Counter
	SwapsExecuted   *prometheus.CounterVec
	SwapRejections  *prometheus.CounterVec
	QuotesServed    *prometheus.CounterVec
	SwapVolumeBase  prometheus.Counter
	FeesAccruedBase prometheus.Counter

	// Liquidity ledger metrics
	LiquidityOps *prometheus.CounterVec

	// Pool state gauges
	BaseReserve  *prometheus.GaugeVec
	QuoteReserve *prometheus.GaugeVec
	SpotPrice    *prometheus.GaugeVec

	// Candle metrics
	CandleRequests *prometheus.CounterVec
	CandlesServed  prometheus.Histogram

	// Latency metrics
	OperationLatency *prometheus.HistogramVec

	// Storage metrics
	StoreErrors *prometheus.CounterVec

	// Simulation metrics
	SimulationTicks     prometheus.Counter
	InvariantViolations prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "token_dex_lab"
	}

	return &Metrics{
		PoolsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "pools_created_total",
			Help:      "Total number of pools created",
		}),
		SwapsExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "swaps_executed_total",
			Help:      "Total number of executed swaps by side",
		}, []string{"side"}),
		SwapRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "swap_rejections_total",
			Help:      "Total number of rejected swaps and quotes by reason",
		}, []string{"op", "reason"}),
		QuotesServed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "quotes_served_total",
			Help:      "Total number of successful quotes by side",
		}, []string{"side"}),
		SwapVolumeBase: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "swap_volume_base_total",
			Help:      "Total base-side volume of executed swaps (smallest units)",
		}),
		FeesAccruedBase: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "fees_accrued_base_total",
			Help:      "Total base-denominated fees accrued (smallest units)",
		}),

		LiquidityOps: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "liquidity",
			Name:      "operations_total",
			Help:      "Total liquidity operations by type and outcome",
		}, []string{"op", "status"}),

		BaseReserve: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "base_reserve",
			Help:      "Current base reserve per pool",
		}, []string{"pool"}),
		QuoteReserve: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "quote_reserve",
			Help:      "Current quote reserve per pool",
		}, []string{"pool"}),
		SpotPrice: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "spot_price",
			Help:      "Current base/quote spot price per pool",
		}, []string{"pool"}),

		CandleRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "candles",
			Name:      "requests_total",
			Help:      "Total candle requests by timeframe and outcome",
		}, []string{"timeframe", "status"}),
		CandlesServed: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "candles",
			Name:      "candles_per_request",
			Help:      "Number of candles returned per request",
			Buckets:   []float64{0, 1, 10, 50, 100, 250, 500, 1000},
		}),

		OperationLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "core",
			Name:      "operation_duration_seconds",
			Help:      "Duration of core operations",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1},
		}, []string{"op"}),

		StoreErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "errors_total",
			Help:      "Total storage errors by store and operation",
		}, []string{"store", "op"}),

		SimulationTicks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "ticks_total",
			Help:      "Total simulation ticks executed",
		}),
		InvariantViolations: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "invariant_violations_total",
			Help:      "Total invariant check failures observed by the simulation driver",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordPoolCreated increments the pools created counter.
func RecordPoolCreated() {
	DefaultMetrics.PoolsCreated.Inc()
}

// RecordSwap records an executed swap.
func RecordSwap(side string, baseVolume, baseFee float64) {
	DefaultMetrics.SwapsExecuted.WithLabelValues(side).Inc()
	DefaultMetrics.SwapVolumeBase.Add(baseVolume)
	if baseFee > 0 {
		DefaultMetrics.FeesAccruedBase.Add(baseFee)
	}
}

// RecordQuote records a successful quote.
func RecordQuote(side string) {
	DefaultMetrics.QuotesServed.WithLabelValues(side).Inc()
}

// RecordRejection records a rejected quote or swap.
func RecordRejection(op, reason string) {
	DefaultMetrics.SwapRejections.WithLabelValues(op, reason).Inc()
}

// RecordLiquidityOp records a liquidity add/remove outcome.
func RecordLiquidityOp(op, status string) {
	DefaultMetrics.LiquidityOps.WithLabelValues(op, status).Inc()
}

// UpdatePoolState updates the per-pool reserve and price gauges.
func UpdatePoolState(poolID string, base, quote, price float64) {
	DefaultMetrics.BaseReserve.WithLabelValues(poolID).Set(base)
	DefaultMetrics.QuoteReserve.WithLabelValues(poolID).Set(quote)
	DefaultMetrics.SpotPrice.WithLabelValues(poolID).Set(price)
}

// RecordCandleRequest records a candle request and the number of candles returned.
func RecordCandleRequest(timeframe, status string, count int) {
	DefaultMetrics.CandleRequests.WithLabelValues(timeframe, status).Inc()
	if status == "success" {
		DefaultMetrics.CandlesServed.Observe(float64(count))
	}
}

// RecordLatency records a core operation duration.
func RecordLatency(op string, seconds float64) {
	DefaultMetrics.OperationLatency.WithLabelValues(op).Observe(seconds)
}

// RecordStoreError records a storage error.
func RecordStoreError(store, op string) {
	DefaultMetrics.StoreErrors.WithLabelValues(store, op).Inc()
}

// RecordSimulationTick records one simulation step.
func RecordSimulationTick() {
	DefaultMetrics.SimulationTicks.Inc()
}

// RecordInvariantViolation records a failed invariant check.
func RecordInvariantViolation() {
	DefaultMetrics.InvariantViolations.Inc()
}
