package metrics

import (
	"time"

	"github.com/shopspring/decimal"
)

// Recorder provides methods for recording metrics.
type Recorder struct{}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordCycle records a completed trading cycle.
func (r *Recorder) RecordCycle(duration time.Duration) {
	CyclesTotal.Inc()
	CycleDuration.Observe(duration.Seconds())
}

// RecordHeartbeat records a heartbeat.
func (r *Recorder) RecordHeartbeat() {
	HeartbeatTimestamp.Set(float64(time.Now().Unix()))
}

// RecordEntrySubmitted records a fully accepted entry (buy plus exit leg).
func (r *Recorder) RecordEntrySubmitted() {
	EntriesSubmitted.Inc()
}

// RecordEntryBlocked records a cycle whose entry phase was blocked.
func (r *Recorder) RecordEntryBlocked(reason string) {
	EntryBlocks.WithLabelValues(reason).Inc()
}

// RecordCandidateSkipped records a candidate passed over during entries.
func (r *Recorder) RecordCandidateSkipped(reason string) {
	CandidateSkips.WithLabelValues(reason).Inc()
}

// RecordEntryCounts records journal-derived entry counts for the current
// UTC day and ISO week.
func (r *Recorder) RecordEntryCounts(day, week int) {
	EntriesToday.Set(float64(day))
	EntriesThisWeek.Set(float64(week))
}

// RecordExitAttached records a protective exit accepted by the broker.
func (r *Recorder) RecordExitAttached(orderType string) {
	ExitsAttached.WithLabelValues(orderType).Inc()
}

// RecordOrderUpdate records a terminal order status transition.
func (r *Recorder) RecordOrderUpdate(status string) {
	OrderUpdates.WithLabelValues(status).Inc()
}

// RecordOrderLatency records order submission latency.
func (r *Recorder) RecordOrderLatency(duration time.Duration) {
	OrderLatency.Observe(duration.Seconds())
}

// RecordAccount records the per-cycle account snapshot.
func (r *Recorder) RecordAccount(equity decimal.Decimal, positions, openOrders int) {
	EquityCurrent.Set(equity.InexactFloat64())
	PositionsOpen.Set(float64(positions))
	OrdersOpen.Set(float64(openOrders))
}

// RecordAttachedExits records how many positions are tracked as covered.
func (r *Recorder) RecordAttachedExits(n int) {
	AttachedExits.Set(float64(n))
}

// RecordError records an error.
func (r *Recorder) RecordError(errorType string) {
	ErrorsTotal.WithLabelValues(errorType).Inc()
}

// Timer is a helper for measuring latency.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the elapsed duration.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// ObserveOrder observes the elapsed time as order latency.
func (t *Timer) ObserveOrder() {
	OrderLatency.Observe(t.Elapsed().Seconds())
}

// ObserveCycle observes the elapsed time as cycle duration.
func (t *Timer) ObserveCycle() {
	CycleDuration.Observe(t.Elapsed().Seconds())
}
