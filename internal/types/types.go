// Package types defines shared types used across the trading system.
package types

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Grade is a candidate confidence grade. GradeA is the strongest; a lower
// value passes a stricter minimum.
type Grade int

const (
	GradeUnknown Grade = iota
	GradeA
	GradeB
	GradeC
	GradeD
	GradeF
)

func (g Grade) String() string {
	switch g {
	case GradeA:
		return "A"
	case GradeB:
		return "B"
	case GradeC:
		return "C"
	case GradeD:
		return "D"
	case GradeF:
		return "F"
	default:
		return "UNKNOWN"
	}
}

// ParseGrade parses a letter grade, tolerating case and surrounding space.
// Anything that is not a single A-F letter maps to GradeUnknown.
func ParseGrade(s string) Grade {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A":
		return GradeA
	case "B":
		return GradeB
	case "C":
		return GradeC
	case "D":
		return GradeD
	case "F":
		return GradeF
	default:
		return GradeUnknown
	}
}

// GradeFromScore maps a continuous confidence score onto the letter scale:
// >= 0.75 is A, >= 0.55 is B, >= 0.35 is C, everything below is F.
func GradeFromScore(score float64) Grade {
	switch {
	case score >= 0.75:
		return GradeA
	case score >= 0.55:
		return GradeB
	case score >= 0.35:
		return GradeC
	default:
		return GradeF
	}
}

// Side represents the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the opposite side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType represents the broker order type.
type OrderType string

const (
	OrderTypeMarket       OrderType = "market"
	OrderTypeLimit        OrderType = "limit"
	OrderTypeTrailingStop OrderType = "trailing_stop"
	OrderTypeStopLimit    OrderType = "stop_limit"
)

// TimeInForce represents how long an order stays working.
type TimeInForce string

const (
	TIFDay TimeInForce = "day"
	TIFGTC TimeInForce = "gtc"
)

// OrderStatus is the broker-reported order state. Values mirror the wire
// format so cached statuses compare directly against listings.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusAccepted        OrderStatus = "accepted"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusExpired         OrderStatus = "expired"
	OrderStatusStopped         OrderStatus = "stopped"
)

// IsTerminal returns true if the order can no longer change state.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected,
		OrderStatusExpired, OrderStatusStopped:
		return true
	default:
		return false
	}
}

// ExitMode selects how protective exits are priced.
type ExitMode string

const (
	ExitModeTrailing  ExitMode = "trailing"
	ExitModeStopLimit ExitMode = "stop_limit"
)

// ParseExitMode parses an exit mode string.
func ParseExitMode(s string) (ExitMode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trailing", "trailing_stop", "trail":
		return ExitModeTrailing, true
	case "stop_limit", "stop-limit", "stoplimit":
		return ExitModeStopLimit, true
	default:
		return "", false
	}
}

// Candidate is a symbol proposed for entry by the external discovery
// process. Candidates are ephemeral: re-read every cycle, never persisted.
type Candidate struct {
	Symbol     string
	Price      decimal.Decimal
	Confidence Grade
	Score      float64
	Strategy   string
}
