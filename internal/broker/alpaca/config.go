// Package alpaca provides Alpaca Markets connectivity over its REST API.
package alpaca

import (
	"fmt"
	"time"
)

// Well-known API endpoints.
const (
	PaperBaseURL = "https://paper-api.alpaca.markets"
	LiveBaseURL  = "https://api.alpaca.markets"
)

// Config holds Alpaca connection configuration.
type Config struct {
	// Credentials
	APIKey    string
	APISecret string

	// Endpoint; defaults to the paper API
	BaseURL string

	// Timeouts
	RequestTimeout time.Duration

	// Rate limiting
	MaxRequestsPerSecond int
}

// DefaultConfig returns default Alpaca configuration (paper endpoint).
func DefaultConfig() Config {
	return Config{
		BaseURL:              PaperBaseURL,
		RequestTimeout:       10 * time.Second,
		MaxRequestsPerSecond: 3, // free tier allows 200 req/min
	}
}

// LiveConfig returns configuration for live trading.
func LiveConfig() Config {
	cfg := DefaultConfig()
	cfg.BaseURL = LiveBaseURL
	return cfg
}

// Validate checks required settings.
func (c Config) Validate() error {
	if c.APIKey == "" || c.APISecret == "" {
		return fmt.Errorf("alpaca: api key and secret are required")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("alpaca: base url is required")
	}
	return nil
}
