package types

import "errors"

// Sentinel errors for the trading system.
var (
	// Engine state errors
	ErrAlreadyRunning = errors.New("engine already running")
	ErrNotRunning     = errors.New("engine not running")

	// Broker errors
	ErrAuthFailed       = errors.New("broker authentication failed")
	ErrOrderRejected    = errors.New("order rejected by broker")
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrClockUnavailable = errors.New("market clock unavailable")

	// Sizing and order validation errors
	ErrInvalidPrice       = errors.New("invalid price value")
	ErrInsufficientEquity = errors.New("insufficient equity for position size")
	ErrInvalidOrderSize   = errors.New("invalid order size")
	ErrNoReferencePrice   = errors.New("no reference price for exit order")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrInvalidSymbol = errors.New("invalid symbol")
)
