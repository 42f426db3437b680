// Package broker defines the capability interface the trading loop uses to
// talk to the venue. Implementations live in subpackages (alpaca, paper).
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/caspercaimeo-alt/CaimeoV1/internal/types"
)

// OrderFilter selects which orders a listing returns.
type OrderFilter string

const (
	OrderFilterOpen   OrderFilter = "open"
	OrderFilterClosed OrderFilter = "closed"
	OrderFilterAll    OrderFilter = "all"
)

// Gateway is the minimal broker surface the control loop depends on. All
// calls are synchronous; implementations carry their own per-call timeouts.
type Gateway interface {
	// Account information
	GetAccount(ctx context.Context) (*Account, error)

	// Positions and orders
	ListPositions(ctx context.Context) ([]Position, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error)

	// Market clock
	GetClock(ctx context.Context) (*Clock, error)

	// Order submission
	SubmitOrder(ctx context.Context, req OrderRequest) (*Order, error)
}

// Account contains the account snapshot used for sizing and reporting.
type Account struct {
	ID             string
	Status         string
	Currency       string
	Equity         decimal.Decimal
	Cash           decimal.Decimal
	BuyingPower    decimal.Decimal
	PortfolioValue decimal.Decimal
}

// Position is a broker-held position. Qty is signed: negative for shorts.
type Position struct {
	Symbol        string
	Qty           decimal.Decimal
	AvgEntryPrice decimal.Decimal
	CurrentPrice  decimal.Decimal
	MarketValue   decimal.Decimal
	UnrealizedPL  decimal.Decimal
}

// Order is a broker order as reported by a listing or a submission.
type Order struct {
	ID             string
	ClientOrderID  string
	Symbol         string
	Side           types.Side
	Type           types.OrderType
	Status         types.OrderStatus
	Qty            decimal.Decimal
	FilledQty      decimal.Decimal
	FilledAvgPrice decimal.Decimal
	LimitPrice     decimal.Decimal
	StopPrice      decimal.Decimal
	TrailPercent   decimal.Decimal
	TimeInForce    types.TimeInForce
	CreatedAt      time.Time
	FilledAt       time.Time
}

// Clock is the venue session clock. LastOpen may be zero when the venue does
// not report it; callers fall back to NextOpen.
type Clock struct {
	Timestamp time.Time
	IsOpen    bool
	NextOpen  time.Time
	NextClose time.Time
	LastOpen  time.Time
}

// OrderRequest describes an order to submit. Zero decimal fields are treated
// as unset and omitted from the wire request.
type OrderRequest struct {
	Symbol        string
	Side          types.Side
	Type          types.OrderType
	Qty           int64
	TimeInForce   types.TimeInForce
	LimitPrice    decimal.Decimal
	StopPrice     decimal.Decimal
	TrailPercent  decimal.Decimal
	ClientOrderID string
}

// Validate checks the request for fields every venue requires.
func (r OrderRequest) Validate() error {
	if r.Symbol == "" {
		return types.ErrInvalidSymbol
	}
	if r.Qty <= 0 {
		return fmt.Errorf("%w: %d", types.ErrInvalidOrderSize, r.Qty)
	}
	if r.Type == types.OrderTypeLimit && r.LimitPrice.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: limit order without limit price", types.ErrInvalidPrice)
	}
	if r.Type == types.OrderTypeTrailingStop && r.TrailPercent.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: trailing stop without trail percent", types.ErrInvalidPrice)
	}
	if r.Type == types.OrderTypeStopLimit && (r.StopPrice.LessThanOrEqual(decimal.Zero) || r.LimitPrice.LessThanOrEqual(decimal.Zero)) {
		return fmt.Errorf("%w: stop limit without stop and limit prices", types.ErrInvalidPrice)
	}
	return nil
}

// APIError is a venue-level rejection carrying the HTTP status and the
// venue's own error code and message.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("broker api error: status %d code %d: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("broker api error: status %d: %s", e.StatusCode, e.Message)
}
