package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := New(filepath.Join(t.TempDir(), "trade_events.ndjson"))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return j
}

// TestJournal_AppendAndCount tests basic entry counting.
func TestJournal_AppendAndCount(t *testing.T) {
	j := newTestJournal(t)
	now := time.Date(2025, 6, 11, 15, 30, 0, 0, time.UTC) // Wednesday
	ts := now.Format(time.RFC3339)

	events := []Event{
		{TS: ts, Event: EventEntrySubmitted, Symbol: "AAPL", Qty: 10, Price: Dec(decimal.RequireFromString("180.50"))},
		{TS: ts, Event: EventEntrySubmitted, Symbol: "MSFT", Qty: 5},
		{TS: ts, Event: EventExitAttached, Symbol: "AAPL", Qty: 10},
		{TS: ts, Event: EventOrderUpdate, Symbol: "AAPL", OrderID: "abc", Status: "filled"},
		{TS: ts, Event: EventEntrySubmitted, Symbol: "NVDA", Qty: 2},
	}
	for _, ev := range events {
		if err := j.Append(ev); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}

	day, week, err := j.EntryCounts(now)
	if err != nil {
		t.Fatalf("EntryCounts() error: %v", err)
	}
	if day != 3 || week != 3 {
		t.Errorf("EntryCounts() = (%d, %d), want (3, 3)", day, week)
	}
}

// TestJournal_CountsSurviveRestart tests that a fresh journal instance over
// the same file reproduces the counters exactly.
func TestJournal_CountsSurviveRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trade_events.ndjson")
	now := time.Date(2025, 6, 11, 15, 30, 0, 0, time.UTC)

	j1, err := New(path)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	for i := 0; i < 4; i++ {
		ev := Event{TS: now.Format(time.RFC3339), Event: EventEntrySubmitted, Symbol: fmt.Sprintf("SYM%d", i)}
		if err := j1.Append(ev); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}
	day1, week1, err := j1.EntryCounts(now)
	if err != nil {
		t.Fatalf("EntryCounts() error: %v", err)
	}

	j2, err := New(path)
	if err != nil {
		t.Fatalf("New() after restart error: %v", err)
	}
	day2, week2, err := j2.EntryCounts(now)
	if err != nil {
		t.Fatalf("EntryCounts() after restart error: %v", err)
	}

	if day1 != day2 || week1 != week2 {
		t.Errorf("counts diverged across restart: (%d, %d) vs (%d, %d)", day1, week1, day2, week2)
	}
	if day2 != 4 || week2 != 4 {
		t.Errorf("counts after restart = (%d, %d), want (4, 4)", day2, week2)
	}
}

// TestJournal_SkipsMalformedLines tests tolerance of corrupt journal lines.
func TestJournal_SkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trade_events.ndjson")
	now := time.Date(2025, 6, 11, 15, 30, 0, 0, time.UTC)
	ts := now.Format(time.RFC3339)

	lines := []string{
		`{"ts":"` + ts + `","event":"entry_submitted","symbol":"AAPL"}`,
		`{"ts":"` + ts + `","event":"entry_submitted"`, // truncated
		`not json at all`,
		``,
		`{"ts":"garbage","event":"entry_submitted","symbol":"MSFT"}`, // bad timestamp
		`{"ts":"` + ts + `","event":"entry_submitted","symbol":"NVDA"}`,
	}
	if err := os.WriteFile(path, []byte(joinLines(lines)), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	j, err := New(path)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	day, week, err := j.EntryCounts(now)
	if err != nil {
		t.Fatalf("EntryCounts() error: %v", err)
	}
	if day != 2 || week != 2 {
		t.Errorf("EntryCounts() = (%d, %d), want (2, 2)", day, week)
	}
}

// TestJournal_NaiveTimestamps tests that zone-less stamps from older log
// generations still count.
func TestJournal_NaiveTimestamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trade_events.ndjson")

	naive := time.Date(2025, 6, 11, 10, 0, 0, 0, time.Local)
	line := `{"ts":"` + naive.Format(naiveLayout) + `","event":"entry_submitted","symbol":"AAPL"}` + "\n"
	if err := os.WriteFile(path, []byte(line), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	j, err := New(path)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	day, week, err := j.EntryCounts(naive)
	if err != nil {
		t.Fatalf("EntryCounts() error: %v", err)
	}
	if day != 1 || week != 1 {
		t.Errorf("EntryCounts() = (%d, %d), want (1, 1)", day, week)
	}
}

// TestJournal_ISOWeekBoundaries tests week accounting across a year change,
// where the ISO week disagrees with the calendar year.
func TestJournal_ISOWeekBoundaries(t *testing.T) {
	j := newTestJournal(t)
	now := time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC) // Thursday, ISO 2025-W01

	events := []struct {
		ts     time.Time
		symbol string
	}{
		{time.Date(2024, 12, 31, 10, 0, 0, 0, time.UTC), "IN_WEEK"},   // Tuesday, ISO 2025-W01
		{time.Date(2024, 12, 29, 10, 0, 0, 0, time.UTC), "PREV_WEEK"}, // Sunday, ISO 2024-W52
		{time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC), "SAME_DAY"},
	}
	for _, ev := range events {
		e := Event{TS: ev.ts.Format(time.RFC3339), Event: EventEntrySubmitted, Symbol: ev.symbol}
		if err := j.Append(e); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}

	day, week, err := j.EntryCounts(now)
	if err != nil {
		t.Fatalf("EntryCounts() error: %v", err)
	}
	if day != 1 {
		t.Errorf("day count = %d, want 1", day)
	}
	if week != 2 {
		t.Errorf("week count = %d, want 2", week)
	}
}

// TestJournal_MissingFile tests that a missing journal counts as empty.
func TestJournal_MissingFile(t *testing.T) {
	j, err := New(filepath.Join(t.TempDir(), "never_written.ndjson"))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	day, week, err := j.EntryCounts(time.Now())
	if err != nil {
		t.Fatalf("EntryCounts() error: %v", err)
	}
	if day != 0 || week != 0 {
		t.Errorf("EntryCounts() = (%d, %d), want (0, 0)", day, week)
	}
}

// TestJournal_ConcurrentAppends tests that parallel writers never corrupt a
// line.
func TestJournal_ConcurrentAppends(t *testing.T) {
	j := newTestJournal(t)

	const writers = 10
	const perWriter = 20

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				ev := Event{Event: EventEntrySubmitted, Symbol: fmt.Sprintf("W%dI%d", w, i)}
				if err := j.Append(ev); err != nil {
					t.Errorf("Append() error: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	f, err := os.Open(j.Path())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer func() { _ = f.Close() }()

	var lines int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("line %d corrupt: %v", lines+1, err)
		}
		if ev.TS == "" {
			t.Fatalf("line %d missing timestamp", lines+1)
		}
		lines++
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan journal: %v", err)
	}
	if lines != writers*perWriter {
		t.Errorf("journal has %d lines, want %d", lines, writers*perWriter)
	}
}

func joinLines(lines []string) string {
	out := ""
	for _, l := range lines {
		out += l + "\n"
	}
	return out
}
