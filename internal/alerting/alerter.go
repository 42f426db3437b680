// Package alerting provides notification capabilities for the trading bot.
package alerting

import (
	"context"
	"fmt"
)

// Severity represents the alert severity level.
type Severity int

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = iota
	// SeverityWarning is for warning messages.
	SeverityWarning
	// SeverityHigh is for high priority alerts.
	SeverityHigh
	// SeverityCritical is for critical alerts requiring immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Emoji returns an emoji for the severity level.
func (s Severity) Emoji() string {
	switch s {
	case SeverityInfo:
		return "ℹ️"
	case SeverityWarning:
		return "⚠️"
	case SeverityHigh:
		return "🔴"
	case SeverityCritical:
		return "🚨"
	default:
		return "❓"
	}
}

// Alerter defines the interface for sending alerts.
type Alerter interface {
	// Alert sends an alert with the given severity and message.
	Alert(ctx context.Context, severity Severity, message string, fields ...any) error
	// Name returns the name of the alerter.
	Name() string
}

// Field represents a key-value pair for structured alert data.
type Field struct {
	Key   string
	Value any
}

// FormatFields converts variadic fields to a formatted string.
func FormatFields(fields ...any) string {
	if len(fields) == 0 {
		return ""
	}

	result := ""
	for i := 0; i < len(fields)-1; i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		value := fields[i+1]
		if result != "" {
			result += "\n"
		}
		result += fmt.Sprintf("• %s: %v", key, value)
	}
	return result
}

// AlertEvent represents a pre-defined alert event type.
type AlertEvent string

const (
	// EventEntrySubmitted is sent when an entry and its exit leg are accepted.
	EventEntrySubmitted AlertEvent = "entry_submitted"
	// EventExitAttached is sent when a protective exit covers a position.
	EventExitAttached AlertEvent = "exit_attached"
	// EventUnprotectedEntry is sent when a buy is live but its exit leg failed.
	EventUnprotectedEntry AlertEvent = "unprotected_entry"
	// EventOrderFilled is sent when an order is filled.
	EventOrderFilled AlertEvent = "order_filled"
	// EventOrderRejected is sent when an order is rejected.
	EventOrderRejected AlertEvent = "order_rejected"
	// EventTradeCapReached is sent when a daily or weekly entry cap blocks trading.
	EventTradeCapReached AlertEvent = "trade_cap_reached"
	// EventHolidayGuard is sent when the holiday guard changes behavior.
	EventHolidayGuard AlertEvent = "holiday_guard"
	// EventJournalWriteFailed is sent when a trade event cannot be persisted.
	EventJournalWriteFailed AlertEvent = "journal_write_failed"
	// EventClockUnavailable is sent when the market clock cannot be read.
	EventClockUnavailable AlertEvent = "clock_unavailable"
	// EventAuthFailed is sent when broker credentials are refused.
	EventAuthFailed AlertEvent = "auth_failed"
	// EventBotStarted is sent when the bot starts.
	EventBotStarted AlertEvent = "bot_started"
	// EventBotStopped is sent when the bot stops.
	EventBotStopped AlertEvent = "bot_stopped"
)

// EventSeverity returns the default severity for an event.
func EventSeverity(event AlertEvent) Severity {
	switch event {
	case EventAuthFailed:
		return SeverityCritical
	case EventUnprotectedEntry, EventJournalWriteFailed:
		return SeverityHigh
	case EventOrderRejected, EventClockUnavailable:
		return SeverityWarning
	case EventEntrySubmitted, EventExitAttached, EventOrderFilled:
		return SeverityInfo
	case EventTradeCapReached, EventHolidayGuard, EventBotStarted, EventBotStopped:
		return SeverityInfo
	default:
		return SeverityInfo
	}
}
