// Package journal persists trade lifecycle events as newline-delimited JSON.
// The journal is append-only and is the only authoritative state for
// trade-frequency caps: day and week counters are always reconstructed from
// it, never from memory.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// EventType identifies a trade lifecycle event.
type EventType string

const (
	EventEntrySubmitted EventType = "entry_submitted"
	EventExitAttached   EventType = "exit_attached"
	EventOrderUpdate    EventType = "order_update"
)

// naiveLayout accepts timestamps written without a zone; they are read as
// local time, matching how earlier log generations wrote them.
const naiveLayout = "2006-01-02T15:04:05"

// Event is one journal line. Optional price fields are pointers so absent
// values stay off the wire.
type Event struct {
	TS             string           `json:"ts"`
	Event          EventType        `json:"event"`
	Symbol         string           `json:"symbol,omitempty"`
	Side           string           `json:"side,omitempty"`
	Qty            int64            `json:"qty,omitempty"`
	Price          *decimal.Decimal `json:"price,omitempty"`
	LimitPrice     *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice      *decimal.Decimal `json:"stop_price,omitempty"`
	TrailPercent   *decimal.Decimal `json:"trail_percent,omitempty"`
	FilledQty      *decimal.Decimal `json:"filled_qty,omitempty"`
	FilledAvgPrice *decimal.Decimal `json:"filled_avg_price,omitempty"`
	Strategy       string           `json:"strategy,omitempty"`
	OrderID        string           `json:"order_id,omitempty"`
	Status         string           `json:"status,omitempty"`
}

// Time parses the event timestamp. Naive stamps are interpreted as local
// time so they stay convertible to UTC for counter accounting.
func (e Event) Time() (time.Time, bool) {
	return parseTS(e.TS)
}

// Dec returns a pointer to d, for filling optional event fields.
func Dec(d decimal.Decimal) *decimal.Decimal {
	return &d
}

// Journal appends events to an NDJSON file. Each record is written as a
// single line in one write call, so concurrent writers never interleave
// inside a line. Safe for concurrent use.
type Journal struct {
	path string

	mu  sync.Mutex
	now func() time.Time
}

// New creates a journal writing to path, creating parent directories.
func New(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	return &Journal{
		path: path,
		now:  time.Now,
	}, nil
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// Append writes one event. The timestamp is stamped at append time unless
// the event already carries one.
func (j *Journal) Append(ev Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if ev.TS == "" {
		ev.TS = j.now().Format(time.RFC3339)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// EntryCounts scans the journal and returns how many entry_submitted events
// fall in now's UTC calendar day and in now's UTC ISO week. A missing file
// counts as zero; malformed lines and unparseable timestamps are skipped.
func (j *Journal) EntryCounts(now time.Time) (day, week int, err error) {
	f, err := os.Open(j.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("open journal: %w", err)
	}
	defer func() { _ = f.Close() }()

	nowUTC := now.UTC()
	yearNow, weekNow := nowUTC.ISOWeek()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev struct {
			TS    string    `json:"ts"`
			Event EventType `json:"event"`
		}
		if json.Unmarshal(line, &ev) != nil {
			continue
		}
		if ev.Event != EventEntrySubmitted {
			continue
		}
		ts, ok := parseTS(ev.TS)
		if !ok {
			continue
		}
		ts = ts.UTC()
		if y, w := ts.ISOWeek(); y == yearNow && w == weekNow {
			week++
		}
		if sameDay(ts, nowUTC) {
			day++
		}
	}
	if err := sc.Err(); err != nil {
		return day, week, fmt.Errorf("scan journal: %w", err)
	}
	return day, week, nil
}

func parseTS(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.ParseInLocation(naiveLayout, s, time.Local); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
