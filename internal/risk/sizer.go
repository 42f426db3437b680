// Package risk computes position sizes from account equity and per-trade
// risk limits.
package risk

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Shares determines how many whole shares to buy so that a stop-loss hit
// loses at most riskPct of equity.
//
// Formula:
//
//	perShareRisk = price * stopLossPct/100
//	allowedRisk  = equity * riskPct/100
//	shares       = floor(allowedRisk / perShareRisk)
//
// Returns 0 when the floor is below one share, or when price, equity, or
// perShareRisk is not positive.
func Shares(price, equity, riskPct, stopLossPct decimal.Decimal) int64 {
	if price.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	if equity.LessThanOrEqual(decimal.Zero) {
		return 0
	}

	perShareRisk := price.Mul(stopLossPct).Div(hundred)
	if perShareRisk.LessThanOrEqual(decimal.Zero) {
		return 0
	}

	allowedRisk := equity.Mul(riskPct).Div(hundred)
	shares := allowedRisk.Div(perShareRisk).Floor().IntPart()
	if shares < 1 {
		return 0
	}
	return shares
}

// Sizer binds the risk parameters fixed for a session.
type Sizer struct {
	RiskPct     decimal.Decimal
	StopLossPct decimal.Decimal
}

// NewSizer creates a sizer with the given per-trade risk and stop-loss
// percentages (1 means 1%).
func NewSizer(riskPct, stopLossPct decimal.Decimal) Sizer {
	return Sizer{RiskPct: riskPct, StopLossPct: stopLossPct}
}

// Shares sizes a position at the given price against current equity.
func (s Sizer) Shares(price, equity decimal.Decimal) int64 {
	return Shares(price, equity, s.RiskPct, s.StopLossPct)
}
