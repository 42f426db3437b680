// Package paper provides a simulated in-memory broker for paper trading
// and tests. Fills are deterministic: limit buys fill instantly at the
// limit price when configured, everything else rests until filled through
// the test surface.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/caspercaimeo-alt/CaimeoV1/internal/broker"
	"github.com/caspercaimeo-alt/CaimeoV1/internal/types"
)

// Config holds paper trading configuration.
type Config struct {
	InitialEquity decimal.Decimal

	// InstantEntryFills fills day limit buys at the limit price on submit.
	// Protective exits always rest.
	InstantEntryFills bool
}

// DefaultConfig returns default paper trading config.
func DefaultConfig() Config {
	return Config{
		InitialEquity:     decimal.NewFromInt(100000),
		InstantEntryFills: true,
	}
}

// Broker implements broker.Gateway against in-memory state.
type Broker struct {
	cfg    Config
	logger *slog.Logger

	mu            sync.RWMutex
	cash          decimal.Decimal
	positions     map[string]*broker.Position
	orders        map[string]*broker.Order
	orderSeq      []string
	usedClientIDs map[string]bool
	prices        map[string]decimal.Decimal
	clock         broker.Clock
	failAll       error
	failSymbol    map[string]error

	nextOrderID atomic.Int64
	now         func() time.Time
}

// NewBroker creates a new paper broker. The clock starts mid-session so a
// fresh broker is tradeable without further setup.
func NewBroker(cfg Config, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.InitialEquity.LessThanOrEqual(decimal.Zero) {
		cfg.InitialEquity = DefaultConfig().InitialEquity
	}

	b := &Broker{
		cfg:           cfg,
		logger:        logger.With("component", "paper"),
		cash:          cfg.InitialEquity,
		positions:     make(map[string]*broker.Position),
		orders:        make(map[string]*broker.Order),
		usedClientIDs: make(map[string]bool),
		prices:        make(map[string]decimal.Decimal),
		failSymbol:    make(map[string]error),
		now:           time.Now,
	}

	now := b.now()
	b.clock = broker.Clock{
		Timestamp: now,
		IsOpen:    true,
		LastOpen:  now.Add(-time.Hour),
		NextOpen:  now.Add(18 * time.Hour),
		NextClose: now.Add(5 * time.Hour),
	}

	return b
}

// GetAccount returns the simulated account snapshot.
func (b *Broker) GetAccount(ctx context.Context) (*broker.Account, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	equity := b.equityLocked()
	return &broker.Account{
		ID:             "PAPER",
		Status:         "ACTIVE",
		Currency:       "USD",
		Equity:         equity,
		Cash:           b.cash,
		BuyingPower:    b.cash,
		PortfolioValue: equity,
	}, nil
}

// equityLocked is cash plus the market value of every position. A set price
// takes precedence over the entry price.
func (b *Broker) equityLocked() decimal.Decimal {
	equity := b.cash
	for _, pos := range b.positions {
		equity = equity.Add(pos.Qty.Mul(b.markLocked(pos)))
	}
	return equity
}

func (b *Broker) markLocked(pos *broker.Position) decimal.Decimal {
	if px, ok := b.prices[pos.Symbol]; ok {
		return px
	}
	if pos.CurrentPrice.IsPositive() {
		return pos.CurrentPrice
	}
	return pos.AvgEntryPrice
}

// ListPositions returns all positions with marks refreshed.
func (b *Broker) ListPositions(ctx context.Context) ([]broker.Position, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	positions := make([]broker.Position, 0, len(b.positions))
	for _, pos := range b.positions {
		p := *pos
		p.CurrentPrice = b.markLocked(pos)
		p.MarketValue = p.Qty.Mul(p.CurrentPrice)
		p.UnrealizedPL = p.Qty.Mul(p.CurrentPrice.Sub(p.AvgEntryPrice))
		positions = append(positions, p)
	}
	return positions, nil
}

// ListOrders returns orders matching the filter in submission order.
func (b *Broker) ListOrders(ctx context.Context, filter broker.OrderFilter) ([]broker.Order, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var orders []broker.Order
	for _, id := range b.orderSeq {
		o := b.orders[id]
		switch filter {
		case broker.OrderFilterOpen:
			if o.Status.IsTerminal() {
				continue
			}
		case broker.OrderFilterClosed:
			if !o.Status.IsTerminal() {
				continue
			}
		}
		orders = append(orders, *o)
	}
	return orders, nil
}

// GetClock returns the simulated market clock.
func (b *Broker) GetClock(ctx context.Context) (*broker.Clock, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	clock := b.clock
	return &clock, nil
}

// SubmitOrder records the order. Day limit buys fill instantly when
// configured; everything else rests as accepted.
func (b *Broker) SubmitOrder(ctx context.Context, req broker.OrderRequest) (*broker.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failAll != nil {
		return nil, b.failAll
	}
	if err, ok := b.failSymbol[req.Symbol]; ok {
		return nil, err
	}

	// Venues reject a reused client order ID rather than replaying it.
	if req.ClientOrderID != "" {
		if b.usedClientIDs[req.ClientOrderID] {
			return nil, fmt.Errorf("%w: duplicate client order id %s", types.ErrOrderRejected, req.ClientOrderID)
		}
		b.usedClientIDs[req.ClientOrderID] = true
	}

	order := &broker.Order{
		ID:            fmt.Sprintf("PAPER-%d", b.nextOrderID.Add(1)),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Status:        types.OrderStatusAccepted,
		Qty:           decimal.NewFromInt(req.Qty),
		LimitPrice:    req.LimitPrice,
		StopPrice:     req.StopPrice,
		TrailPercent:  req.TrailPercent,
		TimeInForce:   req.TimeInForce,
		CreatedAt:     b.now(),
	}

	b.orders[order.ID] = order
	b.orderSeq = append(b.orderSeq, order.ID)

	b.logger.Info("paper order placed",
		"order_id", order.ID,
		"symbol", req.Symbol,
		"side", req.Side,
		"type", req.Type,
		"qty", req.Qty,
	)

	if b.cfg.InstantEntryFills && req.Side == types.SideBuy && req.Type == types.OrderTypeLimit {
		b.fillLocked(order, req.LimitPrice)
	}

	result := *order
	return &result, nil
}

// fillLocked fills an order at the given price and applies it to the book.
func (b *Broker) fillLocked(order *broker.Order, price decimal.Decimal) {
	order.Status = types.OrderStatusFilled
	order.FilledQty = order.Qty
	order.FilledAvgPrice = price
	order.FilledAt = b.now()

	qty := order.Qty
	if order.Side == types.SideSell {
		qty = qty.Neg()
	}
	b.applyFillLocked(order.Symbol, qty, price)

	b.logger.Info("paper order filled",
		"order_id", order.ID,
		"symbol", order.Symbol,
		"side", order.Side,
		"qty", order.FilledQty,
		"price", price,
	)
}

// applyFillLocked moves cash and updates the position for a signed fill.
func (b *Broker) applyFillLocked(symbol string, qty, price decimal.Decimal) {
	b.cash = b.cash.Sub(qty.Mul(price))

	pos, exists := b.positions[symbol]
	if !exists {
		b.positions[symbol] = &broker.Position{
			Symbol:        symbol,
			Qty:           qty,
			AvgEntryPrice: price,
			CurrentPrice:  price,
		}
		return
	}

	newQty := pos.Qty.Add(qty)
	switch {
	case newQty.IsZero():
		delete(b.positions, symbol)
		return
	case pos.Qty.Sign() == qty.Sign():
		// Adding to the position: average in the new lot.
		totalCost := pos.AvgEntryPrice.Mul(pos.Qty).Add(price.Mul(qty))
		pos.AvgEntryPrice = totalCost.Div(newQty)
	case pos.Qty.Sign() != newQty.Sign():
		// Flipped through zero: the remainder starts at the fill price.
		pos.AvgEntryPrice = price
	}
	pos.Qty = newQty
	pos.CurrentPrice = price
}

// Fill fills a resting order at the given price. Terminal orders error.
func (b *Broker) Fill(orderID string, price decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	order, ok := b.orders[orderID]
	if !ok {
		return fmt.Errorf("order not found: %s", orderID)
	}
	if order.Status.IsTerminal() {
		return fmt.Errorf("order %s already %s", orderID, order.Status)
	}

	b.fillLocked(order, price)
	return nil
}

// Cancel cancels a resting order.
func (b *Broker) Cancel(orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	order, ok := b.orders[orderID]
	if !ok {
		return fmt.Errorf("order not found: %s", orderID)
	}
	if !order.Status.IsTerminal() {
		order.Status = types.OrderStatusCanceled
	}
	return nil
}

// SetClock overrides the simulated market clock.
func (b *Broker) SetClock(clock broker.Clock) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clock = clock
}

// SetPrice sets the mark used for position valuation.
func (b *Broker) SetPrice(symbol string, price decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prices[symbol] = price
}

// SeedPosition installs a position directly, bypassing fills.
func (b *Broker) SeedPosition(pos broker.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := pos
	b.positions[pos.Symbol] = &p
}

// FailSymbol makes submissions for a symbol return err until cleared
// with nil.
func (b *Broker) FailSymbol(symbol string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.failSymbol, symbol)
		return
	}
	b.failSymbol[symbol] = err
}

// FailAll makes every submission return err until cleared with nil.
func (b *Broker) FailAll(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failAll = err
}

// Reset clears all state back to the initial equity.
func (b *Broker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cash = b.cfg.InitialEquity
	b.positions = make(map[string]*broker.Position)
	b.orders = make(map[string]*broker.Order)
	b.orderSeq = nil
	b.usedClientIDs = make(map[string]bool)
	b.prices = make(map[string]decimal.Decimal)
	b.failSymbol = make(map[string]error)
	b.failAll = nil
}

// Ensure Broker implements broker.Gateway.
var _ broker.Gateway = (*Broker)(nil)
