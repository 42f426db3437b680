// Package config handles configuration loading and validation.
//
// Configuration layers, lowest to highest precedence: built-in defaults,
// an optional YAML file, then environment variables. File contents run
// through os.ExpandEnv before parsing so ${VAR} references resolve.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/caspercaimeo-alt/CaimeoV1/internal/broker/alpaca"
	"github.com/caspercaimeo-alt/CaimeoV1/internal/engine"
	"github.com/caspercaimeo-alt/CaimeoV1/internal/guardrails"
	"github.com/caspercaimeo-alt/CaimeoV1/internal/orders"
	"github.com/caspercaimeo-alt/CaimeoV1/internal/risk"
	"github.com/caspercaimeo-alt/CaimeoV1/internal/types"
)

// Config represents the full application configuration.
type Config struct {
	Trading  TradingConfig  `yaml:"trading"`
	Exits    ExitsConfig    `yaml:"exits"`
	Market   MarketConfig   `yaml:"market"`
	Holiday  HolidayConfig  `yaml:"holiday"`
	Broker   BrokerConfig   `yaml:"broker"`
	Paths    PathsConfig    `yaml:"paths"`
	Alerting AlertingConfig `yaml:"alerting"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// TradingConfig controls the entry pipeline.
type TradingConfig struct {
	PollSec          int     `yaml:"poll_sec"`
	MaxPositions     int     `yaml:"max_positions"`
	MinConfidence    string  `yaml:"min_confidence"`
	RiskPct          float64 `yaml:"risk_pct"`
	StopLossPct      float64 `yaml:"stop_loss_pct"`
	EntrySlippagePct float64 `yaml:"entry_slippage_pct"`
	MaxTradesPerDay  int     `yaml:"max_trades_per_day"`
	MaxTradesPerWeek int     `yaml:"max_trades_per_week"`
}

// ExitsConfig controls protective exit orders.
type ExitsConfig struct {
	Mode                 string  `yaml:"mode"` // trailing_stop | stop_limit
	TrailPct             float64 `yaml:"trail_pct"`
	StopLimitPct         float64 `yaml:"stop_limit_pct"`
	StopLimitSlippagePct float64 `yaml:"stop_limit_slippage_pct"`
}

// MarketConfig controls session readiness checks.
type MarketConfig struct {
	MinutesAfterOpen int  `yaml:"minutes_after_open"`
	AllowAfterHours  bool `yaml:"allow_after_hours"`
}

// HolidayConfig controls behavior around exchange holidays and early closes.
type HolidayConfig struct {
	Enabled         bool    `yaml:"enabled"`
	SkipEntryMin    int     `yaml:"skip_entry_min"`
	TightenMin      int     `yaml:"tighten_min"`
	TightenTrailPct float64 `yaml:"tighten_trail_pct"`
	LongCloseHours  int     `yaml:"long_close_hours"`
}

// BrokerConfig selects and authenticates the execution venue.
type BrokerConfig struct {
	Paper     bool   `yaml:"paper"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
}

// PathsConfig locates on-disk inputs and outputs.
type PathsConfig struct {
	Candidates string `yaml:"candidates"`
	Journal    string `yaml:"journal"`
	History    string `yaml:"history"`
}

// AlertingConfig controls operator notifications.
type AlertingConfig struct {
	Console           bool   `yaml:"console"`
	WebhookURL        string `yaml:"webhook_url"`
	WebhookToken      string `yaml:"webhook_token"`
	DigestIntervalMin int    `yaml:"digest_interval_min"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // json | text
}

// Default returns the configuration used when no file or environment
// overrides are present. Every key has a working value; only live broker
// credentials must come from outside.
func Default() *Config {
	return &Config{
		Trading: TradingConfig{
			PollSec:          5,
			MaxPositions:     3,
			MinConfidence:    "B",
			RiskPct:          1.0,
			StopLossPct:      2.0,
			EntrySlippagePct: 0.3,
			MaxTradesPerDay:  3,
			MaxTradesPerWeek: 5,
		},
		Exits: ExitsConfig{
			Mode:                 "trailing_stop",
			TrailPct:             1.5,
			StopLimitPct:         2.0,
			StopLimitSlippagePct: 0.5,
		},
		Market: MarketConfig{
			MinutesAfterOpen: 30,
			AllowAfterHours:  false,
		},
		Holiday: HolidayConfig{
			Enabled:         true,
			SkipEntryMin:    90,
			TightenMin:      240,
			TightenTrailPct: 1.0,
			LongCloseHours:  20,
		},
		Broker: BrokerConfig{
			Paper:   true,
			BaseURL: alpaca.PaperBaseURL,
		},
		Paths: PathsConfig{
			Candidates: "data/discovered.json",
			Journal:    "data/trade_events.ndjson",
			History:    "data/history.db",
		},
		Alerting: AlertingConfig{
			Console:           true,
			DigestIntervalMin: 15,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  ":9090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from a YAML file, applies environment overrides,
// and validates the result. An empty path skips the file layer entirely.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromBytes parses configuration from raw YAML on top of the defaults.
// Environment overrides apply the same way they do for Load.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := Default()

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays process environment variables onto the config. Env vars
// win over file values so deployments can tune a shared file per host.
func (c *Config) applyEnv() {
	envInt("TRADE_POLL_SEC", &c.Trading.PollSec)
	envInt("MAX_POSITIONS", &c.Trading.MaxPositions)
	envString("MIN_CONFIDENCE", &c.Trading.MinConfidence)
	envFloat("RISK_PCT", &c.Trading.RiskPct)
	envFloat("STOP_LOSS_PCT", &c.Trading.StopLossPct)
	envFloat("ENTRY_SLIPPAGE_PCT", &c.Trading.EntrySlippagePct)
	envInt("MAX_TRADES_PER_DAY", &c.Trading.MaxTradesPerDay)
	envInt("MAX_TRADES_PER_WEEK", &c.Trading.MaxTradesPerWeek)

	envString("EXIT_ORDER_TYPE", &c.Exits.Mode)
	envFloat("TRAIL_PCT", &c.Exits.TrailPct)
	envFloat("STOP_LIMIT_PCT", &c.Exits.StopLimitPct)
	envFloat("STOP_LIMIT_SLIPPAGE_PCT", &c.Exits.StopLimitSlippagePct)

	envInt("MINUTES_AFTER_OPEN", &c.Market.MinutesAfterOpen)
	envBool("ALLOW_AFTER_HOURS", &c.Market.AllowAfterHours)

	envBool("HOLIDAY_GUARD", &c.Holiday.Enabled)
	envInt("HOLIDAY_SKIP_ENTRY_MIN", &c.Holiday.SkipEntryMin)
	envInt("HOLIDAY_TIGHTEN_MIN", &c.Holiday.TightenMin)
	envFloat("HOLIDAY_TIGHTEN_TRAIL_PCT", &c.Holiday.TightenTrailPct)
	envInt("HOLIDAY_LONG_CLOSE_HOURS", &c.Holiday.LongCloseHours)

	envBool("PAPER_TRADING", &c.Broker.Paper)
	envString("APCA_API_KEY_ID", &c.Broker.APIKey)
	envString("APCA_API_SECRET_KEY", &c.Broker.APISecret)
	envString("APCA_API_BASE_URL", &c.Broker.BaseURL)

	envString("CANDIDATE_FILE", &c.Paths.Candidates)
	envString("JOURNAL_FILE", &c.Paths.Journal)
	envString("HISTORY_DB", &c.Paths.History)

	envString("ALERT_WEBHOOK_URL", &c.Alerting.WebhookURL)
	envString("ALERT_WEBHOOK_TOKEN", &c.Alerting.WebhookToken)
	envInt("ALERT_DIGEST_INTERVAL_MIN", &c.Alerting.DigestIntervalMin)

	envBool("METRICS_ENABLED", &c.Metrics.Enabled)
	envString("METRICS_LISTEN", &c.Metrics.Listen)

	envString("LOG_LEVEL", &c.Logging.Level)
	envString("LOG_FORMAT", &c.Logging.Format)
}

// Validate checks the configuration for errors. All problems are collected
// so the operator can fix a bad file in one pass.
func (c *Config) Validate() error {
	var errs []string

	if c.Trading.PollSec < 1 {
		errs = append(errs, "trading.poll_sec must be at least 1")
	}
	if c.Trading.MaxPositions < 1 {
		errs = append(errs, "trading.max_positions must be at least 1")
	}
	if types.ParseGrade(c.Trading.MinConfidence) == types.GradeUnknown {
		errs = append(errs, fmt.Sprintf("trading.min_confidence %q is not a grade", c.Trading.MinConfidence))
	}
	if c.Trading.RiskPct <= 0 || c.Trading.RiskPct > 10 {
		errs = append(errs, "trading.risk_pct must be between 0 and 10")
	}
	if c.Trading.StopLossPct <= 0 || c.Trading.StopLossPct > 50 {
		errs = append(errs, "trading.stop_loss_pct must be between 0 and 50")
	}
	if c.Trading.EntrySlippagePct < 0 || c.Trading.EntrySlippagePct > 5 {
		errs = append(errs, "trading.entry_slippage_pct must be between 0 and 5")
	}

	if _, ok := types.ParseExitMode(c.Exits.Mode); !ok {
		errs = append(errs, fmt.Sprintf("exits.mode %q is not a known exit mode", c.Exits.Mode))
	}
	if c.Exits.TrailPct <= 0 || c.Exits.TrailPct > 50 {
		errs = append(errs, "exits.trail_pct must be between 0 and 50")
	}
	if c.Exits.StopLimitPct <= 0 || c.Exits.StopLimitPct > 50 {
		errs = append(errs, "exits.stop_limit_pct must be between 0 and 50")
	}
	if c.Exits.StopLimitSlippagePct < 0 || c.Exits.StopLimitSlippagePct > 5 {
		errs = append(errs, "exits.stop_limit_slippage_pct must be between 0 and 5")
	}

	if c.Market.MinutesAfterOpen < 0 {
		errs = append(errs, "market.minutes_after_open must not be negative")
	}

	if c.Holiday.Enabled {
		if c.Holiday.SkipEntryMin < 0 {
			errs = append(errs, "holiday.skip_entry_min must not be negative")
		}
		if c.Holiday.TightenMin < 0 {
			errs = append(errs, "holiday.tighten_min must not be negative")
		}
		if c.Holiday.TightenTrailPct <= 0 || c.Holiday.TightenTrailPct > 50 {
			errs = append(errs, "holiday.tighten_trail_pct must be between 0 and 50")
		}
		if c.Holiday.LongCloseHours < 0 {
			errs = append(errs, "holiday.long_close_hours must not be negative")
		}
	}

	if !c.Broker.Paper {
		if c.Broker.APIKey == "" {
			errs = append(errs, "broker.api_key is required for live trading")
		}
		if c.Broker.APISecret == "" {
			errs = append(errs, "broker.api_secret is required for live trading")
		}
	}

	if c.Paths.Candidates == "" {
		errs = append(errs, "paths.candidates is required")
	}
	if c.Paths.Journal == "" {
		errs = append(errs, "paths.journal is required")
	}
	if c.Paths.History == "" {
		errs = append(errs, "paths.history is required")
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, "metrics.listen is required when metrics are enabled")
	}

	if c.Alerting.DigestIntervalMin < 1 {
		errs = append(errs, "alerting.digest_interval_min must be at least 1")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("logging.format %q is not one of json, text", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

// PollInterval returns the cycle period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Trading.PollSec) * time.Second
}

// DigestInterval returns the alert digest flush period.
func (c *Config) DigestInterval() time.Duration {
	return time.Duration(c.Alerting.DigestIntervalMin) * time.Minute
}

// MinGrade returns the parsed confidence floor. Call after Validate.
func (c *Config) MinGrade() types.Grade {
	if g := types.ParseGrade(c.Trading.MinConfidence); g != types.GradeUnknown {
		return g
	}
	return types.GradeB
}

// ToSizer converts trading settings to a position sizer.
func (c *Config) ToSizer() risk.Sizer {
	return risk.NewSizer(
		decimal.NewFromFloat(c.Trading.RiskPct),
		decimal.NewFromFloat(c.Trading.StopLossPct),
	)
}

// ToExitPolicy converts exit settings to an order-manager exit policy.
// Call after Validate; an unparsable mode falls back to trailing stops.
func (c *Config) ToExitPolicy() orders.ExitPolicy {
	mode, ok := types.ParseExitMode(c.Exits.Mode)
	if !ok {
		mode = types.ExitModeTrailing
	}
	return orders.ExitPolicy{
		Mode:                 mode,
		TrailPercent:         decimal.NewFromFloat(c.Exits.TrailPct),
		StopLimitPercent:     decimal.NewFromFloat(c.Exits.StopLimitPct),
		StopLimitSlippagePct: decimal.NewFromFloat(c.Exits.StopLimitSlippagePct),
	}
}

// ToManagerConfig converts trading settings to the order-manager config.
func (c *Config) ToManagerConfig() orders.ManagerConfig {
	return orders.ManagerConfig{
		MaxPositions:     c.Trading.MaxPositions,
		Sizer:            c.ToSizer(),
		EntrySlippagePct: decimal.NewFromFloat(c.Trading.EntrySlippagePct),
	}
}

// ToGuardConfig converts holiday settings to the guardrails form.
func (c *Config) ToGuardConfig() guardrails.GuardConfig {
	return guardrails.GuardConfig{
		Enabled:          c.Holiday.Enabled,
		SkipEntryMinutes: c.Holiday.SkipEntryMin,
		TightenMinutes:   c.Holiday.TightenMin,
		LongCloseHours:   c.Holiday.LongCloseHours,
	}
}

// ToEngineConfig converts trading and market settings to the engine config.
func (c *Config) ToEngineConfig() engine.Config {
	return engine.Config{
		PollInterval:     c.PollInterval(),
		MaxPositions:     c.Trading.MaxPositions,
		MinConfidence:    c.MinGrade(),
		MaxTradesPerDay:  c.Trading.MaxTradesPerDay,
		MaxTradesPerWeek: c.Trading.MaxTradesPerWeek,
		MinutesAfterOpen: c.Market.MinutesAfterOpen,
		AllowAfterHours:  c.Market.AllowAfterHours,
		ExitPolicy:       c.ToExitPolicy(),
		Guard:            c.ToGuardConfig(),
		TightenTrailPct:  c.TightenTrailPercent(),
	}
}

// TightenTrailPercent returns the holiday-tightened trail distance.
func (c *Config) TightenTrailPercent() decimal.Decimal {
	return decimal.NewFromFloat(c.Holiday.TightenTrailPct)
}

// ToBrokerConfig converts broker settings to an Alpaca client config.
func (c *Config) ToBrokerConfig() alpaca.Config {
	bc := alpaca.DefaultConfig()
	bc.APIKey = c.Broker.APIKey
	bc.APISecret = c.Broker.APISecret
	if c.Broker.BaseURL != "" {
		bc.BaseURL = c.Broker.BaseURL
	}
	return bc
}

// LogLevel returns the slog level for the configured level name.
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
