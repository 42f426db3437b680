// Package history archives trade lifecycle events to SQLite for reporting.
// The NDJSON journal stays the authority for trade caps; this store is a
// best-effort queryable mirror and never feeds trading decisions.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"github.com/caspercaimeo-alt/CaimeoV1/internal/journal"
	"github.com/caspercaimeo-alt/CaimeoV1/internal/types"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Store persists trade events and fills.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the history database at path and runs migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &Store{db: db}

	if err := store.Migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

// Migrate runs database migrations.
func (s *Store) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS trade_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts DATETIME NOT NULL,
			event TEXT NOT NULL,
			symbol TEXT,
			side TEXT,
			qty INTEGER,
			price TEXT,
			limit_price TEXT,
			stop_price TEXT,
			trail_percent TEXT,
			strategy TEXT,
			order_id TEXT,
			status TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_events_ts ON trade_events(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_events_symbol ON trade_events(symbol)`,

		`CREATE TABLE IF NOT EXISTS fills (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts DATETIME NOT NULL,
			order_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			qty TEXT NOT NULL,
			price TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fills_symbol_ts ON fills(symbol, ts)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// EventRecord is one archived trade event. Absent prices are zero.
type EventRecord struct {
	ID           int64
	TS           time.Time
	Event        string
	Symbol       string
	Side         string
	Qty          int64
	Price        decimal.Decimal
	LimitPrice   decimal.Decimal
	StopPrice    decimal.Decimal
	TrailPercent decimal.Decimal
	Strategy     string
	OrderID      string
	Status       string
}

// Fill is one recorded execution.
type Fill struct {
	ID      int64
	TS      time.Time
	OrderID string
	Symbol  string
	Side    string
	Qty     decimal.Decimal
	Price   decimal.Decimal
}

// Trade is a closed round trip reconstructed from fills.
type Trade struct {
	Symbol     string
	Qty        decimal.Decimal
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	EntryTime  time.Time
	ExitTime   time.Time
	PL         decimal.Decimal
}

// Append archives a journal event, and derives a fill row from filled order
// updates. It satisfies the event sink used by the order manager.
func (s *Store) Append(ev journal.Event) error {
	ctx := context.Background()
	if err := s.RecordEvent(ctx, ev); err != nil {
		return err
	}

	if ev.Event == journal.EventOrderUpdate &&
		ev.Status == string(types.OrderStatusFilled) &&
		ev.FilledQty != nil && ev.FilledAvgPrice != nil {
		ts, ok := ev.Time()
		if !ok {
			ts = time.Now()
		}
		return s.RecordFill(ctx, Fill{
			TS:      ts,
			OrderID: ev.OrderID,
			Symbol:  ev.Symbol,
			Side:    ev.Side,
			Qty:     *ev.FilledQty,
			Price:   *ev.FilledAvgPrice,
		})
	}
	return nil
}

// RecordEvent inserts one trade event.
func (s *Store) RecordEvent(ctx context.Context, ev journal.Event) error {
	ts, ok := ev.Time()
	if !ok {
		ts = time.Now()
	}

	query := `INSERT INTO trade_events
		(ts, event, symbol, side, qty, price, limit_price, stop_price, trail_percent, strategy, order_id, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		ts.UTC(),
		string(ev.Event),
		ev.Symbol,
		ev.Side,
		ev.Qty,
		decText(ev.Price),
		decText(ev.LimitPrice),
		decText(ev.StopPrice),
		decText(ev.TrailPercent),
		ev.Strategy,
		ev.OrderID,
		ev.Status,
	)
	if err != nil {
		return fmt.Errorf("insert trade event: %w", err)
	}
	return nil
}

// RecordFill inserts one fill.
func (s *Store) RecordFill(ctx context.Context, f Fill) error {
	query := `INSERT INTO fills (ts, order_id, symbol, side, qty, price)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		f.TS.UTC(),
		f.OrderID,
		f.Symbol,
		f.Side,
		f.Qty.String(),
		f.Price.String(),
	)
	if err != nil {
		return fmt.Errorf("insert fill: %w", err)
	}
	return nil
}

// RecentEvents returns the newest events, most recent first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]EventRecord, error) {
	query := `SELECT id, ts, event, symbol, side, qty, price, limit_price, stop_price, trail_percent, strategy, order_id, status
		FROM trade_events ORDER BY ts DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []EventRecord
	for rows.Next() {
		var e EventRecord
		var price, limitPrice, stopPrice, trailPercent sql.NullString
		var symbol, side, strategy, orderID, status sql.NullString

		if err := rows.Scan(&e.ID, &e.TS, &e.Event, &symbol, &side, &e.Qty,
			&price, &limitPrice, &stopPrice, &trailPercent, &strategy, &orderID, &status); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		e.Symbol = symbol.String
		e.Side = side.String
		e.Strategy = strategy.String
		e.OrderID = orderID.String
		e.Status = status.String
		e.Price = parseDec(price)
		e.LimitPrice = parseDec(limitPrice)
		e.StopPrice = parseDec(stopPrice)
		e.TrailPercent = parseDec(trailPercent)

		events = append(events, e)
	}

	return events, rows.Err()
}

// EventsBySymbol returns the newest events for a symbol, most recent first.
func (s *Store) EventsBySymbol(ctx context.Context, symbol string, limit int) ([]EventRecord, error) {
	query := `SELECT id, ts, event, symbol, side, qty, price, limit_price, stop_price, trail_percent, strategy, order_id, status
		FROM trade_events WHERE symbol = ? ORDER BY ts DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query events by symbol: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []EventRecord
	for rows.Next() {
		var e EventRecord
		var price, limitPrice, stopPrice, trailPercent sql.NullString
		var sym, side, strategy, orderID, status sql.NullString

		if err := rows.Scan(&e.ID, &e.TS, &e.Event, &sym, &side, &e.Qty,
			&price, &limitPrice, &stopPrice, &trailPercent, &strategy, &orderID, &status); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		e.Symbol = sym.String
		e.Side = side.String
		e.Strategy = strategy.String
		e.OrderID = orderID.String
		e.Status = status.String
		e.Price = parseDec(price)
		e.LimitPrice = parseDec(limitPrice)
		e.StopPrice = parseDec(stopPrice)
		e.TrailPercent = parseDec(trailPercent)

		events = append(events, e)
	}

	return events, rows.Err()
}

// ClosedTrades pairs buy fills with later sell fills per symbol, oldest lots
// first, and returns the newest round trips first. Sells with no prior buy
// on record are skipped.
func (s *Store) ClosedTrades(ctx context.Context, limit int) ([]Trade, error) {
	query := `SELECT ts, symbol, side, qty, price FROM fills ORDER BY ts, id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query fills: %w", err)
	}
	defer func() { _ = rows.Close() }()

	type lot struct {
		qty   decimal.Decimal
		price decimal.Decimal
		ts    time.Time
	}
	open := make(map[string][]lot)
	var trades []Trade

	for rows.Next() {
		var ts time.Time
		var symbol, side, qtyStr, priceStr string
		if err := rows.Scan(&ts, &symbol, &side, &qtyStr, &priceStr); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		qty, err := decimal.NewFromString(qtyStr)
		if err != nil {
			continue
		}
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			continue
		}

		if side == string(types.SideBuy) {
			open[symbol] = append(open[symbol], lot{qty: qty, price: price, ts: ts})
			continue
		}

		remaining := qty
		lots := open[symbol]
		for remaining.IsPositive() && len(lots) > 0 {
			l := &lots[0]
			matched := decimal.Min(l.qty, remaining)

			trades = append(trades, Trade{
				Symbol:     symbol,
				Qty:        matched,
				EntryPrice: l.price,
				ExitPrice:  price,
				EntryTime:  l.ts,
				ExitTime:   ts,
				PL:         price.Sub(l.price).Mul(matched),
			})

			l.qty = l.qty.Sub(matched)
			remaining = remaining.Sub(matched)
			if l.qty.IsZero() {
				lots = lots[1:]
			}
		}
		open[symbol] = lots
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest first.
	for i, j := 0, len(trades)-1; i < j; i, j = i+1, j-1 {
		trades[i], trades[j] = trades[j], trades[i]
	}
	if limit > 0 && len(trades) > limit {
		trades = trades[:limit]
	}
	return trades, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// decText stores an optional decimal as TEXT, NULL when absent.
func decText(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func parseDec(ns sql.NullString) decimal.Decimal {
	if !ns.Valid {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(ns.String)
	if err != nil {
		return decimal.Zero
	}
	return d
}
