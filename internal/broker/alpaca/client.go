package alpaca

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/caspercaimeo-alt/CaimeoV1/internal/broker"
	"github.com/caspercaimeo-alt/CaimeoV1/internal/types"
)

// Client implements broker.Gateway against the Alpaca v2 REST API.
type Client struct {
	cfg    Config
	logger *slog.Logger

	httpc   *http.Client
	limiter *rate.Limiter

	// Session-open cache for GetClock. Alpaca's clock endpoint has no
	// "session opened at" field; the calendar endpoint fills it in.
	calMu   sync.Mutex
	calDate string
	calOpen time.Time

	tz *time.Location
}

// NewClient creates a new Alpaca client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = PaperBaseURL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	rps := cfg.MaxRequestsPerSecond
	if rps <= 0 {
		rps = 3
	}

	c := &Client{
		cfg:     cfg,
		logger:  logger.With("component", "alpaca"),
		httpc:   &http.Client{Timeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}

	tz, err := time.LoadLocation("America/New_York")
	if err != nil {
		c.logger.Warn("exchange timezone unavailable, session opens disabled", "err", err)
	} else {
		c.tz = tz
	}

	return c
}

// Wire payloads. Alpaca serializes numbers as strings; decimal handles both.

type accountPayload struct {
	ID             string          `json:"id"`
	Status         string          `json:"status"`
	Currency       string          `json:"currency"`
	Equity         decimal.Decimal `json:"equity"`
	Cash           decimal.Decimal `json:"cash"`
	BuyingPower    decimal.Decimal `json:"buying_power"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
}

type positionPayload struct {
	Symbol        string          `json:"symbol"`
	Qty           decimal.Decimal `json:"qty"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPL  decimal.Decimal `json:"unrealized_pl"`
}

type orderPayload struct {
	ID             string           `json:"id"`
	ClientOrderID  string           `json:"client_order_id"`
	Symbol         string           `json:"symbol"`
	Side           string           `json:"side"`
	Type           string           `json:"type"`
	Status         string           `json:"status"`
	Qty            decimal.Decimal  `json:"qty"`
	FilledQty      decimal.Decimal  `json:"filled_qty"`
	FilledAvgPrice *decimal.Decimal `json:"filled_avg_price"`
	LimitPrice     *decimal.Decimal `json:"limit_price"`
	StopPrice      *decimal.Decimal `json:"stop_price"`
	TrailPercent   *decimal.Decimal `json:"trail_percent"`
	TimeInForce    string           `json:"time_in_force"`
	CreatedAt      time.Time        `json:"created_at"`
	FilledAt       *time.Time       `json:"filled_at"`
}

type clockPayload struct {
	Timestamp time.Time `json:"timestamp"`
	IsOpen    bool      `json:"is_open"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
}

type calendarDayPayload struct {
	Date  string `json:"date"`
	Open  string `json:"open"`
	Close string `json:"close"`
}

type orderRequestPayload struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	LimitPrice    string `json:"limit_price,omitempty"`
	StopPrice     string `json:"stop_price,omitempty"`
	TrailPercent  string `json:"trail_percent,omitempty"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

type errorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GetAccount fetches the account snapshot.
func (c *Client) GetAccount(ctx context.Context) (*broker.Account, error) {
	var p accountPayload
	if err := c.do(ctx, http.MethodGet, "/v2/account", nil, &p); err != nil {
		return nil, err
	}

	return &broker.Account{
		ID:             p.ID,
		Status:         p.Status,
		Currency:       p.Currency,
		Equity:         p.Equity,
		Cash:           p.Cash,
		BuyingPower:    p.BuyingPower,
		PortfolioValue: p.PortfolioValue,
	}, nil
}

// ListPositions fetches all open positions.
func (c *Client) ListPositions(ctx context.Context) ([]broker.Position, error) {
	var payload []positionPayload
	if err := c.do(ctx, http.MethodGet, "/v2/positions", nil, &payload); err != nil {
		return nil, err
	}

	positions := make([]broker.Position, 0, len(payload))
	for _, p := range payload {
		positions = append(positions, broker.Position{
			Symbol:        p.Symbol,
			Qty:           p.Qty,
			AvgEntryPrice: p.AvgEntryPrice,
			CurrentPrice:  p.CurrentPrice,
			MarketValue:   p.MarketValue,
			UnrealizedPL:  p.UnrealizedPL,
		})
	}
	return positions, nil
}

// ListOrders fetches orders matching the filter, newest first.
func (c *Client) ListOrders(ctx context.Context, filter broker.OrderFilter) ([]broker.Order, error) {
	q := url.Values{}
	q.Set("status", string(filter))
	q.Set("limit", "500")
	q.Set("direction", "desc")

	var payload []orderPayload
	if err := c.do(ctx, http.MethodGet, "/v2/orders?"+q.Encode(), nil, &payload); err != nil {
		return nil, err
	}

	orders := make([]broker.Order, 0, len(payload))
	for _, p := range payload {
		orders = append(orders, toOrder(p))
	}
	return orders, nil
}

// GetClock fetches the market clock. When the session is open, the day's
// opening time is resolved through the calendar endpoint so callers can
// measure time since the open; a calendar failure degrades to a zero
// LastOpen rather than an error.
func (c *Client) GetClock(ctx context.Context) (*broker.Clock, error) {
	var p clockPayload
	if err := c.do(ctx, http.MethodGet, "/v2/clock", nil, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrClockUnavailable, err)
	}

	clock := &broker.Clock{
		Timestamp: p.Timestamp,
		IsOpen:    p.IsOpen,
		NextOpen:  p.NextOpen,
		NextClose: p.NextClose,
	}

	if p.IsOpen && c.tz != nil {
		open, err := c.sessionOpen(ctx, p.Timestamp)
		if err != nil {
			c.logger.Warn("calendar lookup failed", "err", err)
		} else {
			clock.LastOpen = open
		}
	}

	return clock, nil
}

// sessionOpen returns the opening time of the trading day containing ts,
// cached per exchange-local date.
func (c *Client) sessionOpen(ctx context.Context, ts time.Time) (time.Time, error) {
	date := ts.In(c.tz).Format("2006-01-02")

	c.calMu.Lock()
	if c.calDate == date {
		open := c.calOpen
		c.calMu.Unlock()
		return open, nil
	}
	c.calMu.Unlock()

	q := url.Values{}
	q.Set("start", date)
	q.Set("end", date)

	var days []calendarDayPayload
	if err := c.do(ctx, http.MethodGet, "/v2/calendar?"+q.Encode(), nil, &days); err != nil {
		return time.Time{}, err
	}
	if len(days) == 0 {
		return time.Time{}, fmt.Errorf("no session on %s", date)
	}

	open, err := time.ParseInLocation("2006-01-02 15:04", days[0].Date+" "+days[0].Open, c.tz)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse session open: %w", err)
	}

	c.calMu.Lock()
	c.calDate = date
	c.calOpen = open
	c.calMu.Unlock()

	return open, nil
}

// SubmitOrder posts one order.
func (c *Client) SubmitOrder(ctx context.Context, req broker.OrderRequest) (*broker.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	body := orderRequestPayload{
		Symbol:        req.Symbol,
		Qty:           strconv.FormatInt(req.Qty, 10),
		Side:          string(req.Side),
		Type:          string(req.Type),
		TimeInForce:   string(req.TimeInForce),
		ClientOrderID: req.ClientOrderID,
	}
	if req.LimitPrice.IsPositive() {
		body.LimitPrice = req.LimitPrice.String()
	}
	if req.StopPrice.IsPositive() {
		body.StopPrice = req.StopPrice.String()
	}
	if req.TrailPercent.IsPositive() {
		body.TrailPercent = req.TrailPercent.String()
	}

	var p orderPayload
	if err := c.do(ctx, http.MethodPost, "/v2/orders", body, &p); err != nil {
		return nil, err
	}

	order := toOrder(p)
	c.logger.Info("order submitted",
		"symbol", order.Symbol,
		"side", order.Side,
		"type", order.Type,
		"qty", req.Qty,
		"order_id", order.ID,
		"status", order.Status,
	)
	return &order, nil
}

// do performs one rate-limited, authenticated request and decodes the
// response into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("APCA-API-KEY-ID", c.cfg.APIKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.cfg.APISecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.apiError(resp.StatusCode, data)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// apiError maps an error response onto the shared sentinel errors where the
// status is meaningful, carrying the venue message along.
func (c *Client) apiError(status int, body []byte) error {
	var p errorPayload
	_ = json.Unmarshal(body, &p)
	if p.Message == "" {
		p.Message = string(body)
	}

	apiErr := &broker.APIError{StatusCode: status, Code: p.Code, Message: p.Message}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %v", types.ErrAuthFailed, apiErr)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %v", types.ErrRateLimited, apiErr)
	case status == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %v", types.ErrOrderRejected, apiErr)
	default:
		return apiErr
	}
}

func toOrder(p orderPayload) broker.Order {
	o := broker.Order{
		ID:            p.ID,
		ClientOrderID: p.ClientOrderID,
		Symbol:        p.Symbol,
		Side:          types.Side(p.Side),
		Type:          types.OrderType(p.Type),
		Status:        types.OrderStatus(p.Status),
		Qty:           p.Qty,
		FilledQty:     p.FilledQty,
		TimeInForce:   types.TimeInForce(p.TimeInForce),
		CreatedAt:     p.CreatedAt,
	}
	if p.FilledAvgPrice != nil {
		o.FilledAvgPrice = *p.FilledAvgPrice
	}
	if p.LimitPrice != nil {
		o.LimitPrice = *p.LimitPrice
	}
	if p.StopPrice != nil {
		o.StopPrice = *p.StopPrice
	}
	if p.TrailPercent != nil {
		o.TrailPercent = *p.TrailPercent
	}
	if p.FilledAt != nil {
		o.FilledAt = *p.FilledAt
	}
	return o
}

// Ensure Client implements broker.Gateway.
var _ broker.Gateway = (*Client)(nil)
