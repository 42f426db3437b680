// Package orders owns order construction and lifecycle bookkeeping: entry
// submission with protective exit legs, covering uncovered positions, and
// the order-status cache that turns broker polls into durable journal events.
package orders

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/caspercaimeo-alt/CaimeoV1/internal/broker"
	"github.com/caspercaimeo-alt/CaimeoV1/internal/types"
)

var hundred = decimal.NewFromInt(100)

// ExitPolicy describes how protective exits are priced. The zero value is
// not usable; construct with the mode and the percents for that mode.
type ExitPolicy struct {
	Mode                 types.ExitMode
	TrailPercent         decimal.Decimal
	StopLimitPercent     decimal.Decimal
	StopLimitSlippagePct decimal.Decimal
}

// Tightened returns a copy of the policy with the active mode's distance
// replaced by pct. Used when the holiday guard wants exits closer to price.
func (p ExitPolicy) Tightened(pct decimal.Decimal) ExitPolicy {
	switch p.Mode {
	case types.ExitModeStopLimit:
		p.StopLimitPercent = pct
	default:
		p.TrailPercent = pct
	}
	return p
}

// ExitRequest builds the protective exit order for a position of qty shares.
// side is the closing side: sell for longs, buy to cover shorts. Stop-limit
// pricing needs a positive reference price; trailing stops do not.
func (p ExitPolicy) ExitRequest(symbol string, qty int64, side types.Side, ref decimal.Decimal) (broker.OrderRequest, error) {
	req := broker.OrderRequest{
		Symbol:      symbol,
		Side:        side,
		Qty:         qty,
		TimeInForce: types.TIFGTC,
	}

	switch p.Mode {
	case types.ExitModeStopLimit:
		if ref.LessThanOrEqual(decimal.Zero) {
			return broker.OrderRequest{}, fmt.Errorf("%w: %s", types.ErrNoReferencePrice, symbol)
		}
		stop, limit := stopLimitPrices(ref, p.StopLimitPercent, p.StopLimitSlippagePct, side)
		req.Type = types.OrderTypeStopLimit
		req.StopPrice = stop
		req.LimitPrice = limit
	default:
		req.Type = types.OrderTypeTrailingStop
		req.TrailPercent = p.TrailPercent
	}

	return req, nil
}

// stopLimitPrices derives the stop and limit prices from the reference. For
// a sell exit the stop sits below the reference; for a buy-to-cover exit it
// sits above, so the stop is always on the loss side of the position. The
// limit is computed from the rounded stop, then rounded itself.
func stopLimitPrices(ref, stopPct, slipPct decimal.Decimal, side types.Side) (stop, limit decimal.Decimal) {
	stopFrac := stopPct.Div(hundred)
	slipFrac := slipPct.Div(hundred)

	if side == types.SideBuy {
		stop = ref.Mul(decimal.NewFromInt(1).Add(stopFrac)).Round(2)
		limit = stop.Mul(decimal.NewFromInt(1).Add(slipFrac)).Round(2)
		return stop, limit
	}

	stop = ref.Mul(decimal.NewFromInt(1).Sub(stopFrac)).Round(2)
	limit = stop.Mul(decimal.NewFromInt(1).Sub(slipFrac)).Round(2)
	return stop, limit
}

// EntryLimitPrice buffers the reference price by slippagePct so marketable
// limit buys still fill on small upticks, rounded to the cent.
func EntryLimitPrice(price, slippagePct decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(1).Add(slippagePct.Div(hundred))).Round(2)
}
