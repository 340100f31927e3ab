// Package metrics provides Prometheus metrics for the trading engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Engine metrics
	Ticks          prometheus.Counter
	TickDuration   prometheus.Histogram
	TickPanics     *prometheus.CounterVec
	Decisions      *prometheus.CounterVec
	OpenPositions  prometheus.Gauge
	Deployed       prometheus.Gauge
	Available      prometheus.Gauge
	Bankroll       prometheus.Gauge
	ArbPool        prometheus.Gauge
	BreakerTripped prometheus.Gauge
	BreakerTrips   *prometheus.CounterVec

	// Ladder metrics
	LadderWindows *prometheus.CounterVec
	LadderPnL     prometheus.Gauge

	// Execution metrics
	Trades        *prometheus.CounterVec
	OrderFailures *prometheus.CounterVec
	RealizedPnL   *prometheus.CounterVec

	// Venue metrics
	VenueCalls   *prometheus.CounterVec
	VenueLatency *prometheus.HistogramVec
	ActiveMarket *prometheus.GaugeVec

	// Feed metrics
	FeedTicks *prometheus.CounterVec
	FeedAge   *prometheus.GaugeVec

	// Event fan-out metrics
	EventsPublished prometheus.Counter
	EventsDropped   prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "updownbot"
	}

	return &Metrics{
		Ticks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "ticks_total",
			Help:      "Total number of trading ticks run",
		}),
		TickDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "tick_duration_seconds",
			Help:      "Trading tick duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
		TickPanics: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "asset_panics_total",
			Help:      "Recovered panics while evaluating an asset",
		}, []string{"asset"}),
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "decisions_total",
			Help:      "Strategy decisions by asset, strategy and action",
		}, []string{"asset", "strategy", "action"}),
		OpenPositions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "open_positions",
			Help:      "Number of open directional positions",
		}),
		Deployed: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "capital",
			Name:      "deployed_usd",
			Help:      "Capital deployed in positions and ladders",
		}),
		Available: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "capital",
			Name:      "available_usd",
			Help:      "Capital available under the exposure cap",
		}),
		Bankroll: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "capital",
			Name:      "bankroll_usd",
			Help:      "Starting bankroll plus realized P&L",
		}),
		ArbPool: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "capital",
			Name:      "arb_pool_usd",
			Help:      "Unreserved arbitrage pool",
		}),
		BreakerTripped: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "breaker_tripped",
			Help:      "1 while the circuit breaker is tripped",
		}),
		BreakerTrips: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "breaker_trips_total",
			Help:      "Circuit breaker trips by kind",
		}, []string{"kind"}),

		LadderWindows: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ladder",
			Name:      "windows_total",
			Help:      "Resolved ladder windows by how many sides filled",
		}, []string{"filled"}),
		LadderPnL: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ladder",
			Name:      "pnl_usd",
			Help:      "Cumulative simulated ladder P&L",
		}),

		Trades: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "trades_total",
			Help:      "Ledger records written by action, strategy and mode",
		}, []string{"action", "strategy", "mode"}),
		OrderFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "order_failures_total",
			Help:      "Orders refused or failed by reason",
		}, []string{"reason"}),
		RealizedPnL: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "realized_pnl_usd_total",
			Help:      "Absolute realized P&L split by sign",
		}, []string{"sign"}),

		VenueCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "venue",
			Name:      "calls_total",
			Help:      "Venue calls by operation and result",
		}, []string{"op", "result"}),
		VenueLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "venue",
			Name:      "call_latency_seconds",
			Help:      "Venue call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		ActiveMarket: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "active_market",
			Help:      "1 when the asset has an active window",
		}, []string{"asset"}),

		FeedTicks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "ticks_total",
			Help:      "Reference price ticks received",
		}, []string{"asset"}),
		FeedAge: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "age_seconds",
			Help:      "Seconds since the last reference price tick",
		}, []string{"asset"}),

		EventsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Events published to the fan-out bus",
		}),
		EventsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events dropped for slow subscribers",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordTick records one trading tick.
func RecordTick(seconds float64) {
	DefaultMetrics.Ticks.Inc()
	DefaultMetrics.TickDuration.Observe(seconds)
}

// RecordPanic records a recovered per-asset panic.
func RecordPanic(asset string) {
	DefaultMetrics.TickPanics.WithLabelValues(asset).Inc()
}

// RecordDecision counts a strategy decision.
func RecordDecision(asset, strategy, action string) {
	DefaultMetrics.Decisions.WithLabelValues(asset, strategy, action).Inc()
}

// UpdateCapital sets the capital gauges.
func UpdateCapital(bankroll, deployed, available, arbPool float64, openPositions int) {
	DefaultMetrics.Bankroll.Set(bankroll)
	DefaultMetrics.Deployed.Set(deployed)
	DefaultMetrics.Available.Set(available)
	DefaultMetrics.ArbPool.Set(arbPool)
	DefaultMetrics.OpenPositions.Set(float64(openPositions))
}

// UpdateBreaker sets the breaker gauge.
func UpdateBreaker(tripped bool) {
	v := 0.0
	if tripped {
		v = 1
	}
	DefaultMetrics.BreakerTripped.Set(v)
}

// RecordBreakerTrip counts a breaker trip.
func RecordBreakerTrip(kind string) {
	DefaultMetrics.BreakerTrips.WithLabelValues(kind).Inc()
}

// RecordTrade counts a ledger record and its realized P&L.
func RecordTrade(action, strategy string, paper bool, pnl *float64) {
	mode := "live"
	if paper {
		mode = "paper"
	}
	DefaultMetrics.Trades.WithLabelValues(action, strategy, mode).Inc()
	if pnl == nil {
		return
	}
	if *pnl >= 0 {
		DefaultMetrics.RealizedPnL.WithLabelValues("profit").Add(*pnl)
	} else {
		DefaultMetrics.RealizedPnL.WithLabelValues("loss").Add(-*pnl)
	}
}

// RecordOrderFailure counts a refused or failed order.
func RecordOrderFailure(reason string) {
	DefaultMetrics.OrderFailures.WithLabelValues(reason).Inc()
}

// RecordVenueCall records a venue call.
func RecordVenueCall(op string, seconds float64, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	DefaultMetrics.VenueCalls.WithLabelValues(op, result).Inc()
	DefaultMetrics.VenueLatency.WithLabelValues(op).Observe(seconds)
}

// UpdateActiveMarket marks whether asset has an active window.
func UpdateActiveMarket(asset string, active bool) {
	v := 0.0
	if active {
		v = 1
	}
	DefaultMetrics.ActiveMarket.WithLabelValues(asset).Set(v)
}

// RecordFeedTick counts a reference price tick.
func RecordFeedTick(asset string) {
	DefaultMetrics.FeedTicks.WithLabelValues(asset).Inc()
}

// UpdateFeedAge sets the staleness gauge of an asset.
func UpdateFeedAge(asset string, seconds float64) {
	DefaultMetrics.FeedAge.WithLabelValues(asset).Set(seconds)
}

// RecordEvent counts a published event and whether any subscriber dropped it.
func RecordEvent(dropped int) {
	DefaultMetrics.EventsPublished.Inc()
	if dropped > 0 {
		DefaultMetrics.EventsDropped.Add(float64(dropped))
	}
}

// RecordLadderWindow records a resolved ladder window. filled is
// "both", "one" or "neither".
func RecordLadderWindow(filled string, totalPnL float64) {
	DefaultMetrics.LadderWindows.WithLabelValues(filled).Inc()
	DefaultMetrics.LadderPnL.Set(totalPnL)
}
