// Package ui renders a live status panel for the running bot. The panel
// redraws in place so a long session does not scroll the terminal.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/term"
)

// ANSI escape codes
const (
	ClearLine  = "\033[2K"
	MoveUp     = "\033[%dA"
	HideCursor = "\033[?25l"
	ShowCursor = "\033[?25h"

	ColorReset  = "\033[0m"
	ColorGreen  = "\033[32m"
	ColorRed    = "\033[31m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
	ColorDim    = "\033[2m"
	ColorBold   = "\033[1m"
)

// Status is one frame of display data.
type Status struct {
	State         string
	Market        string
	Uptime        time.Duration
	Cycles        uint64
	Equity        decimal.Decimal
	Positions     int
	OpenOrders    int
	AttachedExits int

	CapDay     int
	MaxPerDay  int
	CapWeek    int
	MaxPerWeek int

	LastCycleAt time.Time
	LastError   string
}

// StatusUI draws Status frames to a terminal, overwriting the previous
// frame each render.
type StatusUI struct {
	out          io.Writer
	width        int
	linesPrinted int
}

// NewStatusUI creates a status panel writing to out. A nil out means stdout.
func NewStatusUI(out io.Writer) *StatusUI {
	if out == nil {
		out = os.Stdout
	}
	width, _ := getTerminalSize()
	return &StatusUI{out: out, width: width}
}

// Start hides the cursor for the redraw loop.
func (ui *StatusUI) Start() {
	fmt.Fprint(ui.out, HideCursor)
	fmt.Fprintln(ui.out)
}

// Stop restores the cursor.
func (ui *StatusUI) Stop() {
	fmt.Fprint(ui.out, ShowCursor)
	fmt.Fprintln(ui.out)
}

// Render draws one frame over the previous one.
func (ui *StatusUI) Render(s Status) {
	if ui.linesPrinted > 0 {
		fmt.Fprintf(ui.out, MoveUp, ui.linesPrinted)
	}

	lines := []string{
		ui.headerLine(s),
		ui.ruleLine(),
		ui.bookLine(s),
		ui.capsLine(s),
		ui.tailLine(s),
	}
	for _, line := range lines {
		fmt.Fprint(ui.out, ClearLine)
		fmt.Fprintln(ui.out, line)
	}
	ui.linesPrinted = len(lines)
}

func (ui *StatusUI) headerLine(s Status) string {
	market := s.Market
	if market == "" {
		market = "unknown"
	}
	return fmt.Sprintf("%s●%s %s%-8s%s │ market %-7s │ up %s",
		stateColor(s.State), ColorReset,
		ColorBold, s.State, ColorReset,
		market, formatUptime(s.Uptime))
}

func (ui *StatusUI) ruleLine() string {
	n := ui.width - 1
	if n < 20 {
		n = 20
	}
	if n > 72 {
		n = 72
	}
	return ColorDim + strings.Repeat("─", n) + ColorReset
}

func (ui *StatusUI) bookLine(s Status) string {
	return fmt.Sprintf("%sequity%s $%s │ positions %d │ open orders %d │ exits attached %d",
		ColorBold, ColorReset, s.Equity.StringFixed(2),
		s.Positions, s.OpenOrders, s.AttachedExits)
}

func (ui *StatusUI) capsLine(s Status) string {
	return fmt.Sprintf("%scaps%s   %s │ %s",
		ColorBold, ColorReset,
		capCell("day", s.CapDay, s.MaxPerDay),
		capCell("week", s.CapWeek, s.MaxPerWeek))
}

func (ui *StatusUI) tailLine(s Status) string {
	at := "-"
	if !s.LastCycleAt.IsZero() {
		at = s.LastCycleAt.Format("15:04:05")
	}
	errPart := ColorDim + "none" + ColorReset
	if s.LastError != "" {
		errPart = ColorRed + s.LastError + ColorReset
	}
	return fmt.Sprintf("%scycle%s  #%d at %s │ last error: %s",
		ColorBold, ColorReset, s.Cycles, at, errPart)
}

// capCell renders one cap counter, red once the cap is used up.
func capCell(label string, used, max int) string {
	if max <= 0 {
		return fmt.Sprintf("%s %d %s(uncapped)%s", label, used, ColorDim, ColorReset)
	}
	color := ColorGreen
	if used >= max {
		color = ColorRed
	}
	return fmt.Sprintf("%s %s%d/%d%s", label, color, used, max, ColorReset)
}

func stateColor(state string) string {
	switch state {
	case "running":
		return ColorGreen
	case "stopping":
		return ColorYellow
	case "stopped":
		return ColorRed
	default:
		return ColorDim
	}
}

// formatUptime renders a duration in the largest two units.
func formatUptime(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%02dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm%02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// getTerminalSize returns terminal dimensions
func getTerminalSize() (width, height int) {
	width, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80, 24 // Default
	}
	return width, height
}
