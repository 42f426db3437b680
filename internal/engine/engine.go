// Package engine runs the unattended trading control loop.
//
// One goroutine repeats the cycle on the poll interval: read candidates,
// evaluate trade caps from the journal, snapshot the account, reconcile
// order statuses, attach missing protective exits, then submit entries if
// the guardrails permit. Exits are attached every cycle regardless of
// whether entries are blocked. No cycle failure stops the loop; the next
// tick retries naturally.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/caspercaimeo-alt/CaimeoV1/internal/alerting"
	"github.com/caspercaimeo-alt/CaimeoV1/internal/broker"
	"github.com/caspercaimeo-alt/CaimeoV1/internal/candidates"
	"github.com/caspercaimeo-alt/CaimeoV1/internal/guardrails"
	"github.com/caspercaimeo-alt/CaimeoV1/internal/journal"
	"github.com/caspercaimeo-alt/CaimeoV1/internal/metrics"
	"github.com/caspercaimeo-alt/CaimeoV1/internal/orders"
	"github.com/caspercaimeo-alt/CaimeoV1/internal/types"
)

// State is the engine lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config holds engine loop settings.
type Config struct {
	PollInterval     time.Duration
	MaxPositions     int
	MinConfidence    types.Grade
	MaxTradesPerDay  int
	MaxTradesPerWeek int
	MinutesAfterOpen int
	AllowAfterHours  bool
	ExitPolicy       orders.ExitPolicy
	Guard            guardrails.GuardConfig
	TightenTrailPct  decimal.Decimal
}

// DefaultConfig returns the default engine config.
func DefaultConfig() Config {
	return Config{
		PollInterval:     5 * time.Second,
		MaxPositions:     3,
		MinConfidence:    types.GradeB,
		MaxTradesPerDay:  3,
		MaxTradesPerWeek: 5,
		MinutesAfterOpen: 30,
		ExitPolicy: orders.ExitPolicy{
			Mode:                 types.ExitModeTrailing,
			TrailPercent:         decimal.NewFromFloat(1.5),
			StopLimitPercent:     decimal.NewFromFloat(2.0),
			StopLimitSlippagePct: decimal.NewFromFloat(0.5),
		},
		Guard: guardrails.GuardConfig{
			Enabled:          true,
			SkipEntryMinutes: 90,
			TightenMinutes:   240,
			LongCloseHours:   20,
		},
		TightenTrailPct: decimal.NewFromFloat(1.0),
	}
}

// Snapshot is a point-in-time copy of engine state for status readers.
type Snapshot struct {
	State         State
	StartedAt     time.Time
	Uptime        time.Duration
	Cycles        uint64
	CapDay        int
	CapWeek       int
	Equity        decimal.Decimal
	Positions     int
	OpenOrders    int
	AttachedExits int
	Market        string
	LastError     string
	LastCycleAt   time.Time
}

// Engine coordinates the trading cycle over its collaborators.
type Engine struct {
	cfg     Config
	logger  *slog.Logger
	gw      broker.Gateway
	source  candidates.Source
	jrnl    *journal.Journal
	manager *orders.Manager
	alerter alerting.Alerter
	rec     *metrics.Recorder

	mu         sync.RWMutex
	state      State
	startedAt  time.Time
	cycles     uint64
	capDay     int
	capWeek    int
	equity     decimal.Decimal
	positions  int
	openOrders int
	market     string
	lastErr    string
	lastCycle  time.Time

	// Loop-goroutine-only transition trackers; not covered by mu.
	prevBlock string
	prevGuard guardrails.GuardState
	clockDown bool

	done chan struct{}
	wg   sync.WaitGroup
	now  func() time.Time
}

// NewEngine creates a trading engine.
func NewEngine(
	cfg Config,
	gw broker.Gateway,
	source candidates.Source,
	jrnl *journal.Journal,
	manager *orders.Manager,
	alerter alerting.Alerter,
	rec *metrics.Recorder,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if rec == nil {
		rec = metrics.NewRecorder()
	}

	return &Engine{
		cfg:     cfg,
		logger:  logger.With("component", "engine"),
		gw:      gw,
		source:  source,
		jrnl:    jrnl,
		manager: manager,
		alerter: alerter,
		rec:     rec,
		now:     time.Now,
	}
}

// Start probes broker credentials and launches the control loop. The auth
// probe is the only fatal failure; everything after is retried per cycle.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateRunning || e.state == StateStopping {
		e.mu.Unlock()
		return types.ErrAlreadyRunning
	}
	e.mu.Unlock()

	acct, err := e.gw.GetAccount(ctx)
	if err != nil {
		e.alert(ctx, alerting.SeverityCritical, "broker auth probe failed", "err", err.Error())
		return fmt.Errorf("broker auth probe: %w", err)
	}

	e.mu.Lock()
	if e.state == StateRunning {
		e.mu.Unlock()
		return types.ErrAlreadyRunning
	}
	e.state = StateRunning
	e.startedAt = e.now()
	e.equity = acct.Equity
	e.done = make(chan struct{})
	e.mu.Unlock()

	e.logger.Info("engine started",
		"equity", acct.Equity.StringFixed(2),
		"poll_interval", e.cfg.PollInterval,
		"max_positions", e.cfg.MaxPositions,
	)
	e.alert(ctx, alerting.SeverityInfo, "bot started",
		"equity", acct.Equity.StringFixed(2))

	e.wg.Add(1)
	go e.loop(ctx)

	return nil
}

// loop runs the first cycle immediately, then one per tick until stopped.
func (e *Engine) loop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	e.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("loop stopped: context canceled")
			e.setState(StateStopped)
			return
		case <-e.done:
			e.logger.Info("loop stopped: shutdown requested")
			return
		case <-ticker.C:
			e.runCycle(ctx)
		}
	}
}

// runCycle executes one pass of the control cycle. Failures short-circuit
// the dependent phases and are retried next tick; a panic in any phase is
// contained here so the loop survives.
func (e *Engine) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("cycle panic recovered", "panic", r)
			e.rec.RecordError("panic")
			e.setLastError(fmt.Sprintf("panic: %v", r))
		}
	}()

	timer := metrics.NewTimer()
	defer func() {
		e.rec.RecordCycle(timer.Elapsed())
		e.rec.RecordHeartbeat()
	}()

	now := e.now()
	e.mu.Lock()
	e.cycles++
	e.lastCycle = now
	e.mu.Unlock()

	cands := e.loadCandidates(ctx)
	day, week, capsOK := e.readCaps(now)

	snap, open, closed, ok := e.readAccount(ctx)
	if !ok {
		return
	}

	e.manager.Reconcile(ctx, open, closed)

	guard, marketOK, marketReason, marketStatus := e.readClock(ctx, now)

	policy := e.cfg.ExitPolicy
	if guard.TightenExits {
		policy = policy.Tightened(e.cfg.TightenTrailPct)
	}

	// Exits attach every cycle, blocked entries or not.
	if _, err := e.manager.AttachMissingExits(ctx, snap, policy); err != nil {
		return
	}

	capDecision := guardrails.EvaluateCaps(
		guardrails.Caps{Day: day, Week: week},
		e.cfg.MaxTradesPerDay, e.cfg.MaxTradesPerWeek,
	)

	var blockReason, blockLabel string
	switch {
	case !capsOK:
		blockReason, blockLabel = "trade journal unreadable", "journal"
	case !capDecision.Allowed:
		blockReason, blockLabel = capDecision.Reason, "cap"
	case !marketOK:
		blockReason, blockLabel = marketReason, "market"
	case guard.SkipEntries:
		blockReason, blockLabel = "holiday guard: "+guard.Reason, "holiday"
	}

	if blockReason != "" {
		e.rec.RecordEntryBlocked(blockLabel)
		if blockReason != e.prevBlock {
			e.logger.Info("entries blocked", "reason", blockReason)
			if blockLabel == "cap" {
				e.alert(ctx, alerting.SeverityInfo, "trade cap reached", "reason", blockReason)
			}
		}
		e.prevBlock = blockReason
	} else {
		if e.prevBlock != "" {
			e.logger.Info("entries unblocked")
		}
		e.prevBlock = ""
		e.submitEntries(ctx, snap, cands, policy)
	}

	e.mu.Lock()
	e.equity = snap.Equity
	e.positions = len(snap.Positions)
	e.openOrders = len(snap.OpenOrders)
	e.market = marketStatus
	e.mu.Unlock()
}

// loadCandidates re-reads the candidate file. A read failure is an empty
// list; exits still need the rest of the cycle.
func (e *Engine) loadCandidates(ctx context.Context) []types.Candidate {
	cands, err := e.source.Load(ctx)
	if err != nil {
		e.logger.Warn("candidate load failed", "err", err)
		e.rec.RecordError("candidates")
		e.setLastError(err.Error())
		return nil
	}
	return cands
}

// readCaps reconstructs the entry counters from the journal. When the
// journal cannot be read the counters are unknown, so entries stay blocked
// for the cycle rather than risk breaching a cap.
func (e *Engine) readCaps(now time.Time) (day, week int, ok bool) {
	day, week, err := e.jrnl.EntryCounts(now)
	if err != nil {
		e.logger.Warn("journal read failed, blocking entries this cycle", "err", err)
		e.rec.RecordError("journal")
		e.setLastError(err.Error())
		return 0, 0, false
	}

	e.rec.RecordEntryCounts(day, week)
	e.mu.Lock()
	e.capDay, e.capWeek = day, week
	e.mu.Unlock()
	return day, week, true
}

// readAccount snapshots equity, positions, and both order lists. Any
// failure abandons the cycle: without a coherent snapshot neither exits nor
// entries are safe to compute.
func (e *Engine) readAccount(ctx context.Context) (snap orders.Snapshot, open, closed []broker.Order, ok bool) {
	acct, err := e.gw.GetAccount(ctx)
	if err != nil {
		e.brokerReadFailed("account", err)
		return snap, nil, nil, false
	}
	positions, err := e.gw.ListPositions(ctx)
	if err != nil {
		e.brokerReadFailed("positions", err)
		return snap, nil, nil, false
	}
	open, err = e.gw.ListOrders(ctx, broker.OrderFilterOpen)
	if err != nil {
		e.brokerReadFailed("open orders", err)
		return snap, nil, nil, false
	}
	closed, err = e.gw.ListOrders(ctx, broker.OrderFilterClosed)
	if err != nil {
		e.brokerReadFailed("closed orders", err)
		return snap, nil, nil, false
	}

	snap = orders.Snapshot{
		Equity:     acct.Equity,
		Positions:  positions,
		OpenOrders: open,
	}
	e.rec.RecordAccount(acct.Equity, len(positions), len(open))
	return snap, open, closed, true
}

func (e *Engine) brokerReadFailed(what string, err error) {
	e.logger.Warn("broker snapshot failed, skipping cycle", "read", what, "err", err)
	e.rec.RecordError("broker")
	e.setLastError(err.Error())
}

// readClock fetches the market clock and derives the timing guards. A clock
// failure fails open: no timing guard blocks entries, the caps and slot
// limits still apply.
func (e *Engine) readClock(ctx context.Context, now time.Time) (guard guardrails.GuardState, marketOK bool, marketReason, marketStatus string) {
	clock, err := e.gw.GetClock(ctx)
	if err != nil {
		e.logger.Warn("market clock unavailable, proceeding without timing guards", "err", err)
		e.rec.RecordError("clock")
		if !e.clockDown {
			e.alert(ctx, alerting.SeverityWarning, "market clock unavailable", "err", err.Error())
		}
		e.clockDown = true
		return guardrails.GuardState{}, true, "", "unknown"
	}
	if e.clockDown {
		e.logger.Info("market clock recovered")
		e.clockDown = false
	}

	guard = guardrails.HolidayGuard(*clock, now, e.cfg.Guard)
	if guard != e.prevGuard {
		if guard.SkipEntries || guard.TightenExits {
			e.logger.Info("holiday guard active",
				"reason", guard.Reason,
				"skip_entries", guard.SkipEntries,
				"tighten_exits", guard.TightenExits,
			)
			e.alert(ctx, alerting.SeverityInfo, "holiday guard active", "reason", guard.Reason)
		} else {
			e.logger.Info("holiday guard cleared")
		}
		e.prevGuard = guard
	}

	marketOK, marketReason = guardrails.MarketReady(*clock, now, e.cfg.MinutesAfterOpen, e.cfg.AllowAfterHours)
	marketStatus = "closed"
	if clock.IsOpen {
		marketStatus = "open"
	}
	return guard, marketOK, marketReason, marketStatus
}

// submitEntries filters candidates by the confidence floor and hands the
// survivors to the manager for as many free slots as the book allows.
func (e *Engine) submitEntries(ctx context.Context, snap orders.Snapshot, cands []types.Candidate, policy orders.ExitPolicy) {
	slots := snap.FreeSlots(e.cfg.MaxPositions)
	if slots <= 0 || len(cands) == 0 {
		return
	}

	eligible := make([]types.Candidate, 0, len(cands))
	for _, c := range cands {
		if !guardrails.ConfidenceAllowed(c.Confidence, e.cfg.MinConfidence) {
			e.rec.RecordCandidateSkipped("low_confidence")
			e.logger.Debug("candidate below confidence floor",
				"symbol", c.Symbol,
				"grade", c.Confidence.String(),
				"min", e.cfg.MinConfidence.String(),
			)
			continue
		}
		eligible = append(eligible, c)
	}

	if len(eligible) == 0 {
		return
	}
	if _, err := e.manager.SubmitEntries(ctx, snap, eligible, slots, policy); err != nil {
		e.logger.Warn("entry phase interrupted", "err", err)
	}
}

// Stop shuts the loop down and waits for the current cycle to finish.
// Stopping an engine that is not running is a no-op.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return nil
	}
	e.state = StateStopping
	done := e.done
	e.mu.Unlock()

	e.logger.Info("stopping engine")
	close(done)
	e.wg.Wait()

	e.setState(StateStopped)
	e.alert(ctx, alerting.SeverityInfo, "bot stopped")
	e.logger.Info("engine stopped")
	return nil
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Status returns a copy of the engine's observable state.
func (e *Engine) Status() Snapshot {
	attached := e.manager.AttachedCount()

	e.mu.RLock()
	defer e.mu.RUnlock()

	snap := Snapshot{
		State:         e.state,
		StartedAt:     e.startedAt,
		Cycles:        e.cycles,
		CapDay:        e.capDay,
		CapWeek:       e.capWeek,
		Equity:        e.equity,
		Positions:     e.positions,
		OpenOrders:    e.openOrders,
		AttachedExits: attached,
		Market:        e.market,
		LastError:     e.lastErr,
		LastCycleAt:   e.lastCycle,
	}
	if !e.startedAt.IsZero() && e.state == StateRunning {
		snap.Uptime = e.now().Sub(e.startedAt)
	}
	return snap
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) setLastError(msg string) {
	e.mu.Lock()
	e.lastErr = msg
	e.mu.Unlock()
}

func (e *Engine) alert(ctx context.Context, sev alerting.Severity, msg string, fields ...any) {
	if e.alerter == nil {
		return
	}
	if err := e.alerter.Alert(ctx, sev, msg, fields...); err != nil {
		e.logger.Warn("alert failed", "err", err)
	}
}
