package orders

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/caspercaimeo-alt/CaimeoV1/internal/alerting"
	"github.com/caspercaimeo-alt/CaimeoV1/internal/broker"
	"github.com/caspercaimeo-alt/CaimeoV1/internal/journal"
	"github.com/caspercaimeo-alt/CaimeoV1/internal/metrics"
	"github.com/caspercaimeo-alt/CaimeoV1/internal/risk"
	"github.com/caspercaimeo-alt/CaimeoV1/internal/types"
)

// EventSink receives durable trade events. The engine wires this to the
// journal (authoritative) with a best-effort mirror into the history store.
type EventSink interface {
	Append(ev journal.Event) error
}

// Snapshot is the per-cycle view of the account the manager works against.
type Snapshot struct {
	Equity     decimal.Decimal
	Positions  []broker.Position
	OpenOrders []broker.Order
}

// PositionSymbols returns the set of currently held symbols.
func (s Snapshot) PositionSymbols() map[string]struct{} {
	set := make(map[string]struct{}, len(s.Positions))
	for _, p := range s.Positions {
		set[p.Symbol] = struct{}{}
	}
	return set
}

// OpenOrderSymbols returns the set of symbols with at least one open order.
func (s Snapshot) OpenOrderSymbols() map[string]struct{} {
	set := make(map[string]struct{}, len(s.OpenOrders))
	for _, o := range s.OpenOrders {
		set[o.Symbol] = struct{}{}
	}
	return set
}

// FreeSlots returns how many new entries fit under maxPositions, counting
// open orders as claimed slots so in-flight entries are not doubled up.
func (s Snapshot) FreeSlots(maxPositions int) int {
	free := maxPositions - (len(s.Positions) + len(s.OpenOrders))
	if free < 0 {
		return 0
	}
	return free
}

// ManagerConfig holds the sizing and pricing knobs for the manager.
type ManagerConfig struct {
	MaxPositions     int
	Sizer            risk.Sizer
	EntrySlippagePct decimal.Decimal
}

// Manager submits entries with protective exits, covers uncovered positions,
// and tracks order-status transitions. It is driven by the engine's single
// loop goroutine; the mutex exists for Status() readers.
type Manager struct {
	cfg     ManagerConfig
	gw      broker.Gateway
	events  EventSink
	alerter alerting.Alerter
	rec     *metrics.Recorder
	logger  *slog.Logger

	mu       sync.Mutex
	attached map[string]struct{}
	statuses map[string]types.OrderStatus

	now func() time.Time
}

// NewManager creates an order lifecycle manager.
func NewManager(
	cfg ManagerConfig,
	gw broker.Gateway,
	events EventSink,
	alerter alerting.Alerter,
	rec *metrics.Recorder,
	logger *slog.Logger,
) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if rec == nil {
		rec = metrics.NewRecorder()
	}

	return &Manager{
		cfg:      cfg,
		gw:       gw,
		events:   events,
		alerter:  alerter,
		rec:      rec,
		logger:   logger.With("component", "orders"),
		attached: make(map[string]struct{}),
		statuses: make(map[string]types.OrderStatus),
		now:      time.Now,
	}
}

// AttachedCount returns how many positions are tracked as covered.
func (m *Manager) AttachedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.attached)
}

// AttachedSymbols returns the covered symbols in sorted order.
func (m *Manager) AttachedSymbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	syms := make([]string, 0, len(m.attached))
	for s := range m.attached {
		syms = append(syms, s)
	}
	sort.Strings(syms)
	return syms
}

// AttachMissingExits submits one protective exit for every position that has
// neither an open order nor an attached-set entry. Rejections leave the
// symbol un-attached so the next cycle retries. Returns the number of exits
// accepted this pass.
func (m *Manager) AttachMissingExits(ctx context.Context, snap Snapshot, policy ExitPolicy) (int, error) {
	held := snap.PositionSymbols()
	openOrders := snap.OpenOrderSymbols()

	m.pruneAttached(held)

	attached := 0
	for _, pos := range snap.Positions {
		if err := ctx.Err(); err != nil {
			return attached, err
		}
		if _, ok := openOrders[pos.Symbol]; ok {
			continue
		}
		if m.isAttached(pos.Symbol) {
			continue
		}

		qty := pos.Qty.Abs().IntPart()
		if qty <= 0 {
			m.logger.Debug("skipping sub-share position", "symbol", pos.Symbol, "qty", pos.Qty)
			continue
		}

		side := types.SideSell
		if pos.Qty.Sign() < 0 {
			side = types.SideBuy
		}

		req, err := policy.ExitRequest(pos.Symbol, qty, side, exitReference(pos))
		if err != nil {
			m.logger.Warn("cannot price protective exit", "symbol", pos.Symbol, "err", err)
			continue
		}
		req.ClientOrderID = m.clientOrderID()

		order, err := m.submit(ctx, req)
		if err != nil {
			m.logger.Error("protective exit rejected", "symbol", pos.Symbol, "err", err)
			m.rec.RecordError("broker")
			m.alert(ctx, alerting.SeverityWarning, "protective exit rejected",
				"symbol", pos.Symbol, "qty", qty, "err", err.Error())
			continue
		}

		m.markAttached(pos.Symbol)
		m.rec.RecordExitAttached(string(req.Type))
		m.journalExit(ctx, pos.Symbol, side, qty, req, order)
		m.logger.Info("protective exit attached",
			"symbol", pos.Symbol,
			"type", req.Type,
			"qty", qty,
			"order_id", order.ID,
		)
		attached++
	}

	m.rec.RecordAttachedExits(m.AttachedCount())
	return attached, nil
}

// SubmitEntries walks candidates in order and opens up to slots new
// positions, each as a limit buy immediately followed by its protective
// exit. An entry is journaled only when both legs are accepted. Returns the
// number of fully accepted entries.
func (m *Manager) SubmitEntries(ctx context.Context, snap Snapshot, cands []types.Candidate, slots int, policy ExitPolicy) (int, error) {
	if slots <= 0 || len(cands) == 0 {
		return 0, nil
	}

	held := snap.PositionSymbols()
	openOrders := snap.OpenOrderSymbols()

	submitted := 0
	for _, c := range cands {
		if slots <= 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return submitted, err
		}

		if _, ok := held[c.Symbol]; ok {
			m.rec.RecordCandidateSkipped("held")
			m.logger.Debug("skipping held symbol", "symbol", c.Symbol)
			continue
		}
		if _, ok := openOrders[c.Symbol]; ok {
			m.rec.RecordCandidateSkipped("open_order")
			m.logger.Debug("skipping symbol with open order", "symbol", c.Symbol)
			continue
		}

		qty := m.cfg.Sizer.Shares(c.Price, snap.Equity)
		if qty <= 0 {
			m.rec.RecordCandidateSkipped("zero_qty")
			m.logger.Info("position size rounds to zero",
				"symbol", c.Symbol, "price", c.Price, "equity", snap.Equity)
			continue
		}

		buyLive, accepted := m.submitEntry(ctx, c, qty, policy)
		if accepted {
			submitted++
		}
		// A live buy claims the slot even when the exit leg failed, and
		// blocks a second attempt at the same symbol within this cycle.
		if buyLive {
			openOrders[c.Symbol] = struct{}{}
			slots--
		}
	}

	return submitted, nil
}

// submitEntry places the buy and its exit leg. buyLive reports whether the
// buy was accepted; accepted reports whether both legs were.
func (m *Manager) submitEntry(ctx context.Context, c types.Candidate, qty int64, policy ExitPolicy) (buyLive, accepted bool) {
	limitPrice := EntryLimitPrice(c.Price, m.cfg.EntrySlippagePct)

	buy := broker.OrderRequest{
		Symbol:        c.Symbol,
		Side:          types.SideBuy,
		Type:          types.OrderTypeLimit,
		Qty:           qty,
		TimeInForce:   types.TIFDay,
		LimitPrice:    limitPrice,
		ClientOrderID: m.clientOrderID(),
	}

	buyOrder, err := m.submit(ctx, buy)
	if err != nil {
		m.rec.RecordCandidateSkipped("submit_failed")
		m.rec.RecordError("broker")
		m.logger.Error("entry order rejected", "symbol", c.Symbol, "err", err)
		m.alert(ctx, alerting.SeverityWarning, "entry order rejected",
			"symbol", c.Symbol, "qty", qty, "limit", limitPrice.String(), "err", err.Error())
		return false, false
	}

	exitReq, err := policy.ExitRequest(c.Symbol, qty, types.SideSell, c.Price)
	if err == nil {
		exitReq.ClientOrderID = m.clientOrderID()
		_, err = m.submit(ctx, exitReq)
	}
	if err != nil {
		// The buy may still be live without protection; the exits phase
		// covers it next cycle once it becomes a position.
		m.rec.RecordError("broker")
		m.logger.Error("exit leg rejected after entry accepted",
			"symbol", c.Symbol, "buy_order_id", buyOrder.ID, "err", err)
		m.alert(ctx, alerting.SeverityHigh, "entry submitted without protective exit",
			"symbol", c.Symbol, "qty", qty, "buy_order_id", buyOrder.ID, "err", err.Error())
		return true, false
	}

	ev := journal.Event{
		Event:      journal.EventEntrySubmitted,
		Symbol:     c.Symbol,
		Side:       string(types.SideBuy),
		Qty:        qty,
		Price:      journal.Dec(c.Price),
		LimitPrice: journal.Dec(limitPrice),
		Strategy:   c.Strategy,
		OrderID:    buyOrder.ID,
	}
	if err := m.events.Append(ev); err != nil {
		// The order is live either way; a gap here under-counts the caps.
		m.rec.RecordError("journal")
		m.logger.Error("journal append failed", "symbol", c.Symbol, "err", err)
		m.alert(ctx, alerting.SeverityHigh, "trade journal write failed",
			"symbol", c.Symbol, "err", err.Error())
	}

	m.rec.RecordEntrySubmitted()
	m.logger.Info("entry submitted",
		"symbol", c.Symbol,
		"qty", qty,
		"limit", limitPrice.String(),
		"confidence", c.Confidence.String(),
		"strategy", c.Strategy,
	)
	m.alert(ctx, alerting.SeverityInfo, "entry submitted",
		"symbol", c.Symbol, "qty", qty, "limit", limitPrice.String())
	return true, true
}

// Reconcile refreshes the order-status cache from both broker lists and
// emits an order_update event for every transition from a previously cached
// different status to a terminal one. Orders first seen already terminal
// stay silent, so a restart does not replay history. Returns the number of
// updates emitted.
func (m *Manager) Reconcile(ctx context.Context, open, closed []broker.Order) int {
	m.mu.Lock()
	for _, o := range open {
		if o.ID == "" {
			continue
		}
		m.statuses[o.ID] = o.Status
	}

	var updates []broker.Order
	for _, o := range closed {
		if o.ID == "" {
			continue
		}
		prev, seen := m.statuses[o.ID]
		m.statuses[o.ID] = o.Status
		if seen && prev != o.Status && o.Status.IsTerminal() {
			updates = append(updates, o)
		}
	}
	m.mu.Unlock()

	for _, o := range updates {
		m.emitOrderUpdate(ctx, o)
	}
	return len(updates)
}

func (m *Manager) emitOrderUpdate(ctx context.Context, o broker.Order) {
	ev := journal.Event{
		Event:   journal.EventOrderUpdate,
		Symbol:  o.Symbol,
		Side:    string(o.Side),
		OrderID: o.ID,
		Status:  string(o.Status),
	}
	if o.FilledQty.IsPositive() {
		ev.FilledQty = journal.Dec(o.FilledQty)
	}
	if o.FilledAvgPrice.IsPositive() {
		ev.FilledAvgPrice = journal.Dec(o.FilledAvgPrice)
	}

	if err := m.events.Append(ev); err != nil {
		m.rec.RecordError("journal")
		m.logger.Error("journal append failed", "order_id", o.ID, "err", err)
	}

	m.rec.RecordOrderUpdate(string(o.Status))
	m.logger.Info("order reached terminal status",
		"symbol", o.Symbol,
		"order_id", o.ID,
		"status", o.Status,
		"filled_qty", o.FilledQty,
	)

	sev := alerting.SeverityInfo
	if o.Status == types.OrderStatusRejected {
		sev = alerting.SeverityWarning
	}
	m.alert(ctx, sev, fmt.Sprintf("order %s", o.Status),
		"symbol", o.Symbol, "order_id", o.ID, "filled_qty", o.FilledQty.String())
}

// submit validates, times, and forwards one order to the gateway.
func (m *Manager) submit(ctx context.Context, req broker.OrderRequest) (*broker.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	timer := metrics.NewTimer()
	order, err := m.gw.SubmitOrder(ctx, req)
	m.rec.RecordOrderLatency(timer.Elapsed())
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (m *Manager) journalExit(ctx context.Context, symbol string, side types.Side, qty int64, req broker.OrderRequest, order *broker.Order) {
	ev := journal.Event{
		Event:   journal.EventExitAttached,
		Symbol:  symbol,
		Side:    string(side),
		Qty:     qty,
		OrderID: order.ID,
	}
	switch req.Type {
	case types.OrderTypeTrailingStop:
		ev.TrailPercent = journal.Dec(req.TrailPercent)
	case types.OrderTypeStopLimit:
		ev.StopPrice = journal.Dec(req.StopPrice)
		ev.LimitPrice = journal.Dec(req.LimitPrice)
	}

	if err := m.events.Append(ev); err != nil {
		m.rec.RecordError("journal")
		m.logger.Error("journal append failed", "symbol", symbol, "err", err)
		m.alert(ctx, alerting.SeverityHigh, "trade journal write failed",
			"symbol", symbol, "err", err.Error())
	}
}

func (m *Manager) pruneAttached(held map[string]struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sym := range m.attached {
		if _, ok := held[sym]; !ok {
			delete(m.attached, sym)
		}
	}
}

func (m *Manager) isAttached(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.attached[symbol]
	return ok
}

func (m *Manager) markAttached(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attached[symbol] = struct{}{}
}

func (m *Manager) alert(ctx context.Context, sev alerting.Severity, msg string, fields ...any) {
	if m.alerter == nil {
		return
	}
	if err := m.alerter.Alert(ctx, sev, msg, fields...); err != nil {
		m.logger.Warn("alert failed", "err", err)
	}
}

// clientOrderID generates a unique, sortable client order ID.
func (m *Manager) clientOrderID() string {
	return fmt.Sprintf("%s-%s", m.now().Format("20060102-150405"), uuid.New().String()[:8])
}

func exitReference(pos broker.Position) decimal.Decimal {
	if pos.CurrentPrice.IsPositive() {
		return pos.CurrentPrice
	}
	return pos.AvgEntryPrice
}
