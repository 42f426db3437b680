// Package metrics exposes Prometheus instrumentation for the trading loop.
//
// Metric definitions live here; Recorder wraps them with typed methods so the
// rest of the codebase never touches prometheus types directly. Everything is
// registered in init() and served by Server at /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// --- Control loop ---

	CyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_cycles_total",
			Help: "Trading loop cycles completed.",
		},
	)

	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bot_cycle_duration_seconds",
			Help:    "Wall-clock duration of a full trading cycle.",
			Buckets: prometheus.DefBuckets,
		},
	)

	HeartbeatTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_heartbeat_timestamp_seconds",
			Help: "Unix timestamp of the last completed cycle.",
		},
	)

	// --- Entries ---

	EntriesSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_entries_submitted_total",
			Help: "Entry orders accepted by the broker together with their protective exit.",
		},
	)

	// EntryBlocks counts cycles where entries were blocked wholesale; reasons
	// are market_closed, after_open_delay, holiday_window, daily_cap,
	// weekly_cap, no_slots.
	EntryBlocks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_entry_blocks_total",
			Help: "Cycles where the entry phase was blocked, by reason.",
		},
		[]string{"reason"},
	)

	// CandidateSkips counts individual candidates passed over; reasons are
	// low_confidence, held, open_order, zero_qty, submit_failed.
	CandidateSkips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_candidate_skips_total",
			Help: "Candidates skipped during the entry phase, by reason.",
		},
		[]string{"reason"},
	)

	EntriesToday = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_entries_today",
			Help: "Entries journaled so far in the current UTC day.",
		},
	)

	EntriesThisWeek = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_entries_this_week",
			Help: "Entries journaled so far in the current ISO week.",
		},
	)

	// --- Exits and orders ---

	ExitsAttached = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_exits_attached_total",
			Help: "Protective exit orders attached to uncovered positions, by order type.",
		},
		[]string{"type"},
	)

	OrderUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_order_updates_total",
			Help: "Terminal order status transitions observed, by status.",
		},
		[]string{"status"},
	)

	OrderLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bot_order_latency_seconds",
			Help:    "Latency of order submissions to the broker.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// --- Account ---

	EquityCurrent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_equity",
			Help: "Account equity from the latest snapshot.",
		},
	)

	PositionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_open_positions",
			Help: "Open positions in the latest snapshot.",
		},
	)

	OrdersOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_open_orders",
			Help: "Open orders in the latest snapshot.",
		},
	)

	AttachedExits = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_attached_exits",
			Help: "Positions currently tracked as covered by a protective exit.",
		},
	)

	// --- Errors ---

	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_errors_total",
			Help: "Errors encountered, by subsystem.",
		},
		[]string{"type"},
	)

	// --- Build ---

	BuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_build_info",
			Help: "Build information; value is always 1.",
		},
		[]string{"version", "commit", "build_date"},
	)
)

// SetBuildInfo publishes build information as a constant gauge.
func SetBuildInfo(version, commit, buildDate string) {
	BuildInfo.WithLabelValues(version, commit, buildDate).Set(1)
}

func init() {
	prometheus.MustRegister(
		CyclesTotal,
		CycleDuration,
		HeartbeatTimestamp,
		EntriesSubmitted,
		EntryBlocks,
		CandidateSkips,
		EntriesToday,
		EntriesThisWeek,
		ExitsAttached,
		OrderUpdates,
		OrderLatency,
		EquityCurrent,
		PositionsOpen,
		OrdersOpen,
		AttachedExits,
		ErrorsTotal,
		BuildInfo,
	)
}
