package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func testStatus() Status {
	return Status{
		State:         "running",
		Market:        "open",
		Uptime:        90 * time.Second,
		Cycles:        42,
		Equity:        decimal.NewFromInt(20000),
		Positions:     2,
		OpenOrders:    4,
		AttachedExits: 2,
		CapDay:        1,
		MaxPerDay:     3,
		CapWeek:       2,
		MaxPerWeek:    5,
		LastCycleAt:   time.Date(2025, 6, 2, 15, 4, 5, 0, time.UTC),
	}
}

// TestStatusUI_Render tests the frame contents and the in-place redraw.
func TestStatusUI_Render(t *testing.T) {
	var buf bytes.Buffer
	ui := NewStatusUI(&buf)

	ui.Render(testStatus())
	out := buf.String()

	for _, want := range []string{
		"running",
		"market open",
		"up 1m30s",
		"$20000.00",
		"positions 2",
		"open orders 4",
		"exits attached 2",
		"day \033[32m1/3",
		"week \033[32m2/5",
		"#42 at 15:04:05",
		"none",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("frame missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\033[5A") {
		t.Error("first frame must not move the cursor up")
	}

	// The second frame overwrites the first.
	buf.Reset()
	ui.Render(testStatus())
	if !strings.HasPrefix(buf.String(), "\033[5A") {
		t.Errorf("second frame does not rewind the cursor:\n%q", buf.String())
	}
}

// TestStatusUI_Render_CapReached tests that an exhausted cap turns red.
func TestStatusUI_Render_CapReached(t *testing.T) {
	var buf bytes.Buffer
	ui := NewStatusUI(&buf)

	s := testStatus()
	s.CapDay = 3
	ui.Render(s)

	if !strings.Contains(buf.String(), "day \033[31m3/3") {
		t.Errorf("cap at limit not highlighted:\n%s", buf.String())
	}
}

// TestStatusUI_Render_UncappedAndError tests the disabled-cap and error forms.
func TestStatusUI_Render_UncappedAndError(t *testing.T) {
	var buf bytes.Buffer
	ui := NewStatusUI(&buf)

	s := testStatus()
	s.MaxPerDay = 0
	s.LastError = "broker snapshot failed"
	ui.Render(s)

	out := buf.String()
	if !strings.Contains(out, "uncapped") {
		t.Errorf("disabled cap not rendered:\n%s", out)
	}
	if !strings.Contains(out, "broker snapshot failed") {
		t.Errorf("last error not rendered:\n%s", out)
	}
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{45 * time.Second, "45s"},
		{90 * time.Second, "1m30s"},
		{61 * time.Minute, "1h01m"},
		{26*time.Hour + 5*time.Minute, "26h05m"},
	}
	for _, tt := range tests {
		if got := formatUptime(tt.d); got != tt.want {
			t.Errorf("formatUptime(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
