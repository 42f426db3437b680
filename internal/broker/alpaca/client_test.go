package alpaca

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/caspercaimeo-alt/CaimeoV1/internal/broker"
	"github.com/caspercaimeo-alt/CaimeoV1/internal/types"
)

// newTestClient points a client at an httptest server with the rate limiter
// opened up so tests never wait.
func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := DefaultConfig()
	cfg.APIKey = "test-key"
	cfg.APISecret = "test-secret"
	cfg.BaseURL = server.URL
	cfg.MaxRequestsPerSecond = 1000

	return NewClient(cfg, nil), server
}

// TestNewClient tests client constructor defaults.
func TestNewClient(t *testing.T) {
	client := NewClient(Config{APIKey: "k", APISecret: "s"}, nil)

	if client == nil {
		t.Fatal("expected client to be created")
	}

	if client.cfg.BaseURL != PaperBaseURL {
		t.Errorf("expected paper base URL default, got %s", client.cfg.BaseURL)
	}

	if client.httpc.Timeout != 10*time.Second {
		t.Errorf("expected 10s request timeout default, got %v", client.httpc.Timeout)
	}

	if client.limiter == nil {
		t.Error("expected rate limiter to be configured")
	}
}

// TestDefaultConfig tests default configuration.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.BaseURL != PaperBaseURL {
		t.Errorf("expected paper base URL, got %s", cfg.BaseURL)
	}

	if cfg.RequestTimeout != 10*time.Second {
		t.Errorf("expected 10s timeout, got %v", cfg.RequestTimeout)
	}

	if cfg.MaxRequestsPerSecond != 3 {
		t.Errorf("expected rate limit 3, got %d", cfg.MaxRequestsPerSecond)
	}
}

// TestLiveConfig tests live configuration.
func TestLiveConfig(t *testing.T) {
	cfg := LiveConfig()

	if cfg.BaseURL != LiveBaseURL {
		t.Errorf("expected live base URL, got %s", cfg.BaseURL)
	}
}

// TestConfig_Validate tests config validation.
func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing credentials")
	}

	cfg.APIKey = "k"
	cfg.APISecret = "s"
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}

	cfg.BaseURL = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing base URL")
	}
}

// TestClient_GetAccount tests the account endpoint and auth headers.
func TestClient_GetAccount(t *testing.T) {
	var gotKey, gotSecret string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/account" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotKey = r.Header.Get("APCA-API-KEY-ID")
		gotSecret = r.Header.Get("APCA-API-SECRET-KEY")
		w.Write([]byte(`{
			"id": "acct-1",
			"status": "ACTIVE",
			"currency": "USD",
			"equity": "25000.50",
			"cash": "12000.25",
			"buying_power": "50001.00",
			"portfolio_value": "25000.50"
		}`))
	})

	client, _ := newTestClient(t, handler)

	account, err := client.GetAccount(context.Background())
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}

	if gotKey != "test-key" || gotSecret != "test-secret" {
		t.Errorf("auth headers not sent: key=%q secret=%q", gotKey, gotSecret)
	}

	if account.ID != "acct-1" {
		t.Errorf("expected account acct-1, got %s", account.ID)
	}

	if !account.Equity.Equal(decimal.RequireFromString("25000.50")) {
		t.Errorf("expected equity 25000.50, got %s", account.Equity)
	}

	if account.Status != "ACTIVE" {
		t.Errorf("expected ACTIVE status, got %s", account.Status)
	}
}

// TestClient_ListPositions tests position decoding including short quantities.
func TestClient_ListPositions(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/positions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`[
			{"symbol":"AAPL","qty":"100","avg_entry_price":"150.00","current_price":"155.25","market_value":"15525.00","unrealized_pl":"525.00"},
			{"symbol":"TSLA","qty":"-50","avg_entry_price":"200.00","current_price":"195.00","market_value":"-9750.00","unrealized_pl":"250.00"}
		]`))
	})

	client, _ := newTestClient(t, handler)

	positions, err := client.ListPositions(context.Background())
	if err != nil {
		t.Fatalf("ListPositions failed: %v", err)
	}

	if len(positions) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(positions))
	}

	if positions[0].Symbol != "AAPL" || !positions[0].Qty.Equal(decimal.NewFromInt(100)) {
		t.Errorf("unexpected first position: %+v", positions[0])
	}

	if positions[1].Qty.Sign() >= 0 {
		t.Errorf("expected signed short qty, got %s", positions[1].Qty)
	}
}

// TestClient_ListOrders tests the order listing query and nullable fields.
func TestClient_ListOrders(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("status") != "open" {
			t.Errorf("expected status=open, got %s", q.Get("status"))
		}
		if q.Get("limit") != "500" {
			t.Errorf("expected limit=500, got %s", q.Get("limit"))
		}
		w.Write([]byte(`[
			{
				"id": "ord-1",
				"client_order_id": "20250611-150000-abcd1234",
				"symbol": "AAPL",
				"side": "buy",
				"type": "limit",
				"status": "accepted",
				"qty": "100",
				"filled_qty": "0",
				"filled_avg_price": null,
				"limit_price": "50.15",
				"stop_price": null,
				"trail_percent": null,
				"time_in_force": "day",
				"created_at": "2025-06-11T15:00:00Z",
				"filled_at": null
			}
		]`))
	})

	client, _ := newTestClient(t, handler)

	orders, err := client.ListOrders(context.Background(), broker.OrderFilterOpen)
	if err != nil {
		t.Fatalf("ListOrders failed: %v", err)
	}

	if len(orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(orders))
	}

	o := orders[0]
	if o.ID != "ord-1" {
		t.Errorf("expected order ord-1, got %s", o.ID)
	}
	if o.Side != types.SideBuy || o.Type != types.OrderTypeLimit {
		t.Errorf("unexpected side/type: %s/%s", o.Side, o.Type)
	}
	if o.Status != types.OrderStatusAccepted {
		t.Errorf("expected accepted status, got %s", o.Status)
	}
	if !o.LimitPrice.Equal(decimal.RequireFromString("50.15")) {
		t.Errorf("expected limit 50.15, got %s", o.LimitPrice)
	}
	if !o.StopPrice.IsZero() || !o.FilledAvgPrice.IsZero() {
		t.Error("expected null prices to decode as zero")
	}
	if !o.FilledAt.IsZero() {
		t.Errorf("expected zero filled_at, got %v", o.FilledAt)
	}
}

// TestClient_GetClock_Closed tests that a closed market skips the calendar.
func TestClient_GetClock_Closed(t *testing.T) {
	calendarCalls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/clock":
			w.Write([]byte(`{
				"timestamp": "2025-06-11T21:00:00Z",
				"is_open": false,
				"next_open": "2025-06-12T13:30:00Z",
				"next_close": "2025-06-12T20:00:00Z"
			}`))
		case "/v2/calendar":
			calendarCalls++
			w.Write([]byte(`[]`))
		}
	})

	client, _ := newTestClient(t, handler)

	clock, err := client.GetClock(context.Background())
	if err != nil {
		t.Fatalf("GetClock failed: %v", err)
	}

	if clock.IsOpen {
		t.Error("expected closed market")
	}
	if !clock.LastOpen.IsZero() {
		t.Errorf("expected zero LastOpen for closed market, got %v", clock.LastOpen)
	}
	if calendarCalls != 0 {
		t.Errorf("expected no calendar calls, got %d", calendarCalls)
	}
	if clock.NextOpen.IsZero() {
		t.Error("expected next open to be set")
	}
}

// TestClient_GetClock_Open tests session-open resolution and its cache.
func TestClient_GetClock_Open(t *testing.T) {
	tz, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("exchange timezone unavailable")
	}

	calendarCalls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/clock":
			w.Write([]byte(`{
				"timestamp": "2025-06-11T14:45:00Z",
				"is_open": true,
				"next_open": "2025-06-12T13:30:00Z",
				"next_close": "2025-06-11T20:00:00Z"
			}`))
		case "/v2/calendar":
			calendarCalls++
			if got := r.URL.Query().Get("start"); got != "2025-06-11" {
				t.Errorf("expected start=2025-06-11, got %s", got)
			}
			w.Write([]byte(`[{"date":"2025-06-11","open":"09:30","close":"16:00"}]`))
		}
	})

	client, _ := newTestClient(t, handler)

	clock, err := client.GetClock(context.Background())
	if err != nil {
		t.Fatalf("GetClock failed: %v", err)
	}

	want := time.Date(2025, 6, 11, 9, 30, 0, 0, tz)
	if !clock.LastOpen.Equal(want) {
		t.Errorf("expected session open %v, got %v", want, clock.LastOpen)
	}

	// Second call within the same session hits the cache.
	if _, err := client.GetClock(context.Background()); err != nil {
		t.Fatalf("second GetClock failed: %v", err)
	}
	if calendarCalls != 1 {
		t.Errorf("expected 1 calendar call, got %d", calendarCalls)
	}
}

// TestClient_GetClock_CalendarFailure tests that a calendar error degrades to
// a zero LastOpen instead of failing the clock query.
func TestClient_GetClock_CalendarFailure(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/clock":
			w.Write([]byte(`{
				"timestamp": "2025-06-11T14:45:00Z",
				"is_open": true,
				"next_open": "2025-06-12T13:30:00Z",
				"next_close": "2025-06-11T20:00:00Z"
			}`))
		case "/v2/calendar":
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"code":500,"message":"calendar unavailable"}`))
		}
	})

	client, _ := newTestClient(t, handler)

	clock, err := client.GetClock(context.Background())
	if err != nil {
		t.Fatalf("GetClock failed: %v", err)
	}

	if !clock.IsOpen {
		t.Error("expected open market")
	}
	if !clock.LastOpen.IsZero() {
		t.Errorf("expected zero LastOpen on calendar failure, got %v", clock.LastOpen)
	}
}

// TestClient_GetClock_Unavailable tests the clock sentinel on transport errors.
func TestClient_GetClock_Unavailable(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	client, _ := newTestClient(t, handler)

	_, err := client.GetClock(context.Background())
	if !errors.Is(err, types.ErrClockUnavailable) {
		t.Errorf("expected ErrClockUnavailable, got %v", err)
	}
}

// TestClient_SubmitOrder tests the order POST body and response decoding.
func TestClient_SubmitOrder(t *testing.T) {
	var got orderRequestPayload
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v2/orders" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected json content type, got %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.Write([]byte(`{
			"id": "ord-42",
			"client_order_id": "cid-1",
			"symbol": "AAPL",
			"side": "buy",
			"type": "limit",
			"status": "accepted",
			"qty": "100",
			"filled_qty": "0",
			"limit_price": "50.15",
			"time_in_force": "day",
			"created_at": "2025-06-11T15:00:00Z"
		}`))
	})

	client, _ := newTestClient(t, handler)

	order, err := client.SubmitOrder(context.Background(), broker.OrderRequest{
		Symbol:        "AAPL",
		Side:          types.SideBuy,
		Type:          types.OrderTypeLimit,
		Qty:           100,
		TimeInForce:   types.TIFDay,
		LimitPrice:    decimal.RequireFromString("50.15"),
		ClientOrderID: "cid-1",
	})
	if err != nil {
		t.Fatalf("SubmitOrder failed: %v", err)
	}

	if got.Qty != "100" {
		t.Errorf("expected qty \"100\" on the wire, got %q", got.Qty)
	}
	if got.LimitPrice != "50.15" {
		t.Errorf("expected limit_price \"50.15\", got %q", got.LimitPrice)
	}
	if got.StopPrice != "" || got.TrailPercent != "" {
		t.Error("expected unset prices to be omitted")
	}
	if got.ClientOrderID != "cid-1" {
		t.Errorf("expected client order id cid-1, got %q", got.ClientOrderID)
	}

	if order.ID != "ord-42" {
		t.Errorf("expected order ord-42, got %s", order.ID)
	}
	if order.Status != types.OrderStatusAccepted {
		t.Errorf("expected accepted, got %s", order.Status)
	}
}

// TestClient_SubmitOrder_TrailingStop tests trailing stop wire fields.
func TestClient_SubmitOrder_TrailingStop(t *testing.T) {
	var got orderRequestPayload
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.Write([]byte(`{"id":"ord-43","symbol":"AAPL","side":"sell","type":"trailing_stop","status":"accepted","qty":"100","filled_qty":"0","time_in_force":"gtc","created_at":"2025-06-11T15:00:00Z"}`))
	})

	client, _ := newTestClient(t, handler)

	_, err := client.SubmitOrder(context.Background(), broker.OrderRequest{
		Symbol:       "AAPL",
		Side:         types.SideSell,
		Type:         types.OrderTypeTrailingStop,
		Qty:          100,
		TimeInForce:  types.TIFGTC,
		TrailPercent: decimal.RequireFromString("1.5"),
	})
	if err != nil {
		t.Fatalf("SubmitOrder failed: %v", err)
	}

	if got.TrailPercent != "1.5" {
		t.Errorf("expected trail_percent \"1.5\", got %q", got.TrailPercent)
	}
	if got.LimitPrice != "" {
		t.Errorf("expected no limit_price, got %q", got.LimitPrice)
	}
	if got.TimeInForce != "gtc" {
		t.Errorf("expected gtc, got %q", got.TimeInForce)
	}
}

// TestClient_SubmitOrder_InvalidRequest tests local validation before the wire.
func TestClient_SubmitOrder_InvalidRequest(t *testing.T) {
	requests := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	})

	client, _ := newTestClient(t, handler)

	_, err := client.SubmitOrder(context.Background(), broker.OrderRequest{
		Symbol: "AAPL",
		Side:   types.SideBuy,
		Type:   types.OrderTypeLimit,
		Qty:    0,
	})
	if !errors.Is(err, types.ErrInvalidOrderSize) {
		t.Errorf("expected ErrInvalidOrderSize, got %v", err)
	}
	if requests != 0 {
		t.Errorf("expected no requests for invalid order, got %d", requests)
	}
}

// TestClient_ErrorMapping tests sentinel mapping for venue error statuses.
func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, types.ErrAuthFailed},
		{"forbidden", http.StatusForbidden, types.ErrAuthFailed},
		{"rate limited", http.StatusTooManyRequests, types.ErrRateLimited},
		{"rejected", http.StatusUnprocessableEntity, types.ErrOrderRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"code":40010001,"message":"request not allowed"}`))
			})

			client, _ := newTestClient(t, handler)

			_, err := client.GetAccount(context.Background())
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

// TestClient_APIError tests that unmapped statuses surface the venue error.
func TestClient_APIError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"code":50010000,"message":"internal server error"}`))
	})

	client, _ := newTestClient(t, handler)

	_, err := client.GetAccount(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}

	var apiErr *broker.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", apiErr.StatusCode)
	}
	if apiErr.Code != 50010000 {
		t.Errorf("expected venue code 50010000, got %d", apiErr.Code)
	}
}

// TestClient_RateLimiter tests the limiter allows the configured burst.
func TestClient_RateLimiter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.APIKey = "k"
	cfg.APISecret = "s"
	cfg.MaxRequestsPerSecond = 3
	client := NewClient(cfg, nil)

	for i := 0; i < 3; i++ {
		if !client.limiter.Allow() {
			t.Errorf("expected limiter to allow request %d", i)
		}
	}

	if client.limiter.Allow() {
		t.Error("expected limiter to deny request after burst")
	}
}

// TestClient_ContextCanceled tests cancellation before the request is sent.
func TestClient_ContextCanceled(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	client, _ := newTestClient(t, handler)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.GetAccount(ctx)
	if err == nil {
		t.Error("expected error for canceled context")
	}
}
