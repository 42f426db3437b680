package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	defaultDigestInterval = 15 * time.Minute
	defaultDigestMaxBody  = 4000
)

// DigestAlerter batches routine alerts into one message per interval so a
// chatty trading day does not flood the downstream channel. Lines buffer
// until the interval since the last flush has passed, then the next alert
// (or an explicit Flush) delivers the whole batch. High and critical alerts
// bypass the buffer and go straight through.
type DigestAlerter struct {
	next     Alerter
	interval time.Duration
	maxBody  int
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	lines     []string
	maxSev    Severity
	lastFlush time.Time
}

// NewDigestAlerter wraps next with interval batching. A zero interval or
// body cap falls back to defaults.
func NewDigestAlerter(next Alerter, interval time.Duration, maxBody int, logger *slog.Logger) *DigestAlerter {
	if interval <= 0 {
		interval = defaultDigestInterval
	}
	if maxBody <= 0 {
		maxBody = defaultDigestMaxBody
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &DigestAlerter{
		next:     next,
		interval: interval,
		maxBody:  maxBody,
		logger:   logger.With("component", "alerting"),
		now:      time.Now,
	}
	d.lastFlush = d.now()
	return d
}

// Name returns the name of the alerter.
func (d *DigestAlerter) Name() string {
	return "digest"
}

// Alert buffers the alert, or passes it through immediately for high and
// critical severities. A buffered alert triggers delivery of the whole
// batch once the interval has elapsed.
func (d *DigestAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	if severity >= SeverityHigh {
		// Urgent alerts skip the batch but carry it along so ordering
		// of what the operator sees stays roughly chronological.
		if err := d.Flush(ctx); err != nil {
			d.logger.Warn("digest flush failed", "err", err)
		}
		return d.next.Alert(ctx, severity, message, fields...)
	}

	d.mu.Lock()
	d.lines = append(d.lines, d.formatLine(severity, message, fields...))
	if severity > d.maxSev {
		d.maxSev = severity
	}
	due := d.now().Sub(d.lastFlush) >= d.interval
	d.mu.Unlock()

	if due {
		return d.Flush(ctx)
	}
	return nil
}

// Flush delivers any buffered lines as a single digest message.
func (d *DigestAlerter) Flush(ctx context.Context) error {
	d.mu.Lock()
	if len(d.lines) == 0 {
		d.lastFlush = d.now()
		d.mu.Unlock()
		return nil
	}
	lines := d.lines
	sev := d.maxSev
	d.lines = nil
	d.maxSev = SeverityInfo
	d.lastFlush = d.now()
	d.mu.Unlock()

	// Drop oldest lines until the body fits; the newest matter most.
	total := len(lines)
	body := strings.Join(lines, "\n")
	for len(body) > d.maxBody && len(lines) > 1 {
		lines = lines[1:]
		body = strings.Join(lines, "\n")
	}
	if dropped := total - len(lines); dropped > 0 {
		body = fmt.Sprintf("(%d earlier lines dropped)\n%s", dropped, body)
	}

	msg := fmt.Sprintf("digest: %d alert(s)", total)
	return d.next.Alert(ctx, sev, msg, "body", body)
}

// Pending returns how many lines are waiting for the next flush.
func (d *DigestAlerter) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.lines)
}

func (d *DigestAlerter) formatLine(severity Severity, message string, fields ...any) string {
	line := fmt.Sprintf("%s [%s] %s", d.now().Format("15:04:05"), severity, message)
	if details := FormatFields(fields...); details != "" {
		line += " | " + strings.ReplaceAll(details, "\n", " ")
	}
	return line
}
