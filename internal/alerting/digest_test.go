package alerting

import (
	"context"
	"strings"
	"testing"
	"time"
)

func newTestDigest(next Alerter, interval time.Duration, maxBody int) (*DigestAlerter, *time.Time) {
	d := NewDigestAlerter(next, interval, maxBody, nil)
	now := time.Date(2025, 6, 11, 15, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }
	d.lastFlush = now
	return d, &now
}

func TestDigest_BuffersUntilInterval(t *testing.T) {
	mock := NewMockAlerter()
	d, now := newTestDigest(mock, time.Minute, 0)
	ctx := context.Background()

	if err := d.Alert(ctx, SeverityInfo, "first", "symbol", "AAPL"); err != nil {
		t.Fatalf("Alert() error = %v", err)
	}
	if err := d.Alert(ctx, SeverityWarning, "second"); err != nil {
		t.Fatalf("Alert() error = %v", err)
	}

	if mock.Count() != 0 {
		t.Errorf("delivered %d alerts before interval, want 0", mock.Count())
	}
	if d.Pending() != 2 {
		t.Errorf("Pending() = %d, want 2", d.Pending())
	}

	// Past the interval, the next alert carries the batch out.
	*now = now.Add(2 * time.Minute)
	if err := d.Alert(ctx, SeverityInfo, "third"); err != nil {
		t.Fatalf("Alert() error = %v", err)
	}

	if mock.Count() != 1 {
		t.Fatalf("delivered %d alerts, want 1", mock.Count())
	}
	last := mock.LastAlert()
	if !strings.Contains(last.Message, "3 alert(s)") {
		t.Errorf("digest message = %q, want 3 alert(s)", last.Message)
	}
	// Batch severity is the highest buffered severity.
	if last.Severity != SeverityWarning {
		t.Errorf("digest severity = %v, want SeverityWarning", last.Severity)
	}
	if d.Pending() != 0 {
		t.Errorf("Pending() = %d after flush, want 0", d.Pending())
	}
}

func TestDigest_UrgentBypassesBuffer(t *testing.T) {
	mock := NewMockAlerter()
	d, _ := newTestDigest(mock, time.Hour, 0)
	ctx := context.Background()

	if err := d.Alert(ctx, SeverityInfo, "routine"); err != nil {
		t.Fatalf("Alert() error = %v", err)
	}
	if err := d.Alert(ctx, SeverityHigh, "unprotected entry"); err != nil {
		t.Fatalf("Alert() error = %v", err)
	}

	// The urgent alert flushes the pending batch first, then goes through.
	alerts := mock.Alerts()
	if len(alerts) != 2 {
		t.Fatalf("delivered %d alerts, want 2", len(alerts))
	}
	if !strings.Contains(alerts[0].Message, "1 alert(s)") {
		t.Errorf("first delivery = %q, want the batched digest", alerts[0].Message)
	}
	if alerts[1].Message != "unprotected entry" || alerts[1].Severity != SeverityHigh {
		t.Errorf("second delivery = %+v, want the urgent alert", alerts[1])
	}
}

func TestDigest_FlushEmptyIsQuiet(t *testing.T) {
	mock := NewMockAlerter()
	d, _ := newTestDigest(mock, time.Minute, 0)

	if err := d.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if mock.Count() != 0 {
		t.Errorf("delivered %d alerts from empty flush, want 0", mock.Count())
	}
}

func TestDigest_FlushOnShutdown(t *testing.T) {
	mock := NewMockAlerter()
	d, _ := newTestDigest(mock, time.Hour, 0)
	ctx := context.Background()

	_ = d.Alert(ctx, SeverityInfo, "one")
	_ = d.Alert(ctx, SeverityInfo, "two")

	if err := d.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if mock.Count() != 1 {
		t.Fatalf("delivered %d alerts, want 1", mock.Count())
	}
	if !strings.Contains(mock.LastAlert().Message, "2 alert(s)") {
		t.Errorf("digest message = %q, want 2 alert(s)", mock.LastAlert().Message)
	}
}

func TestDigest_BodyCapDropsOldest(t *testing.T) {
	mock := NewMockAlerter()
	d, now := newTestDigest(mock, time.Minute, 120)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_ = d.Alert(ctx, SeverityInfo, strings.Repeat("x", 30))
	}
	*now = now.Add(2 * time.Minute)
	if err := d.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	last := mock.LastAlert()
	if last == nil {
		t.Fatal("no digest delivered")
	}
	var body string
	for i := 0; i < len(last.Fields)-1; i += 2 {
		if last.Fields[i] == "body" {
			body = last.Fields[i+1].(string)
		}
	}
	if body == "" {
		t.Fatal("digest has no body field")
	}
	if !strings.Contains(body, "earlier lines dropped") {
		t.Errorf("body missing drop marker: %q", body)
	}
	// The newest lines survive; the count still reports everything.
	if !strings.Contains(last.Message, "10 alert(s)") {
		t.Errorf("digest message = %q, want 10 alert(s)", last.Message)
	}
}

func TestDigest_LineFormat(t *testing.T) {
	mock := NewMockAlerter()
	d, now := newTestDigest(mock, time.Minute, 0)
	ctx := context.Background()

	_ = d.Alert(ctx, SeverityWarning, "entry order rejected", "symbol", "AAPL", "qty", 100)
	*now = now.Add(2 * time.Minute)
	_ = d.Flush(ctx)

	last := mock.LastAlert()
	var body string
	for i := 0; i < len(last.Fields)-1; i += 2 {
		if last.Fields[i] == "body" {
			body = last.Fields[i+1].(string)
		}
	}

	if !strings.Contains(body, "[WARNING] entry order rejected") {
		t.Errorf("body = %q, missing severity and message", body)
	}
	if !strings.Contains(body, "symbol: AAPL") || !strings.Contains(body, "qty: 100") {
		t.Errorf("body = %q, missing fields", body)
	}
}
