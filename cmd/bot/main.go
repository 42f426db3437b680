// Package main is the entry point for the trading bot.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/caspercaimeo-alt/CaimeoV1/internal/alerting"
	"github.com/caspercaimeo-alt/CaimeoV1/internal/broker"
	"github.com/caspercaimeo-alt/CaimeoV1/internal/broker/alpaca"
	"github.com/caspercaimeo-alt/CaimeoV1/internal/broker/paper"
	"github.com/caspercaimeo-alt/CaimeoV1/internal/candidates"
	"github.com/caspercaimeo-alt/CaimeoV1/internal/config"
	"github.com/caspercaimeo-alt/CaimeoV1/internal/engine"
	"github.com/caspercaimeo-alt/CaimeoV1/internal/history"
	"github.com/caspercaimeo-alt/CaimeoV1/internal/journal"
	"github.com/caspercaimeo-alt/CaimeoV1/internal/metrics"
	"github.com/caspercaimeo-alt/CaimeoV1/internal/orders"
	"github.com/caspercaimeo-alt/CaimeoV1/internal/ui"
)

// Version information (set by build flags).
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		cmdVersion()
	case "help", "-h", "--help":
		printUsage()
	case "run":
		cmdRun(os.Args[2:])
	case "validate":
		cmdValidate(os.Args[2:])
	case "history":
		cmdHistory(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`CaimeoV1 - Unattended Swing Trading Bot

Usage:
  caimeo <command> [options]

Commands:
  run        Start the trading loop (paper or live)
  validate   Validate configuration file
  history    Show archived trade events and round trips
  version    Show version information
  help       Show this help message

Examples:
  caimeo run --config config.yaml
  caimeo run --config config.yaml --paper=false
  caimeo run --config config.yaml --ui
  caimeo validate --config config.yaml
  caimeo history --limit 50
  caimeo history --trades

Use "caimeo <command> --help" for more information about a command.`)
}

func cmdVersion() {
	fmt.Printf("caimeo version %s\n", Version)
	fmt.Printf("  Build time: %s\n", BuildTime)
	fmt.Printf("  Git commit: %s\n", GitCommit)
}

// loadConfig overlays a .env file, if present, before reading the config so
// credential variables resolve the same way in every command.
func loadConfig(path string) (*config.Config, error) {
	_ = godotenv.Load()
	return config.Load(path)
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel()}
	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func cmdValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	mode := "live"
	if cfg.Broker.Paper {
		mode = "paper"
	}

	fmt.Println("Configuration is valid!")
	fmt.Printf("  Mode:            %s\n", mode)
	fmt.Printf("  Poll interval:   %s\n", cfg.PollInterval())
	fmt.Printf("  Max positions:   %d\n", cfg.Trading.MaxPositions)
	fmt.Printf("  Min confidence:  %s\n", cfg.MinGrade())
	fmt.Printf("  Risk per trade:  %.1f%% (stop %.1f%%)\n", cfg.Trading.RiskPct, cfg.Trading.StopLossPct)
	fmt.Printf("  Exit mode:       %s\n", cfg.Exits.Mode)
	fmt.Printf("  Trade caps:      %s/day, %s/week\n",
		capLimit(cfg.Trading.MaxTradesPerDay), capLimit(cfg.Trading.MaxTradesPerWeek))
	fmt.Printf("  Candidates:      %s\n", cfg.Paths.Candidates)
	fmt.Printf("  Journal:         %s\n", cfg.Paths.Journal)
}

func capLimit(n int) string {
	if n <= 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d", n)
}

func cmdHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	limit := fs.Int("limit", 20, "Maximum rows to show")
	symbol := fs.String("symbol", "", "Filter events by symbol")
	trades := fs.Bool("trades", false, "Show closed round trips instead of raw events")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	store, err := history.Open(cfg.Paths.History)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot open history database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	if *trades {
		printTrades(ctx, store, *limit)
		return
	}
	printEvents(ctx, store, *symbol, *limit)
}

func printEvents(ctx context.Context, store *history.Store, symbol string, limit int) {
	var events []history.EventRecord
	var err error
	if symbol != "" {
		events, err = store.EventsBySymbol(ctx, symbol, limit)
	} else {
		events, err = store.RecentEvents(ctx, limit)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
		os.Exit(1)
	}
	if len(events) == 0 {
		fmt.Println("No events recorded.")
		return
	}

	fmt.Printf("%-20s %-16s %-6s %-4s %6s %10s %-10s\n",
		"TIME", "EVENT", "SYMBOL", "SIDE", "QTY", "PRICE", "STATUS")
	for _, e := range events {
		price := e.Price
		if price.IsZero() {
			price = e.LimitPrice
		}
		fmt.Printf("%-20s %-16s %-6s %-4s %6d %10s %-10s\n",
			e.TS.Local().Format("2006-01-02 15:04:05"),
			e.Event, e.Symbol, e.Side, e.Qty, price.StringFixed(2), e.Status)
	}
}

func printTrades(ctx context.Context, store *history.Store, limit int) {
	rows, err := store.ClosedTrades(ctx, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
		os.Exit(1)
	}
	if len(rows) == 0 {
		fmt.Println("No closed trades recorded.")
		return
	}

	fmt.Printf("%-6s %8s %10s %10s %-20s %12s\n",
		"SYMBOL", "QTY", "ENTRY", "EXIT", "CLOSED", "P/L")
	for _, tr := range rows {
		fmt.Printf("%-6s %8s %10s %10s %-20s %12s\n",
			tr.Symbol, tr.Qty.String(),
			tr.EntryPrice.StringFixed(2), tr.ExitPrice.StringFixed(2),
			tr.ExitTime.Local().Format("2006-01-02 15:04:05"),
			tr.PL.StringFixed(2))
	}
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	paperFlag := fs.Bool("paper", true, "Trade against the simulated broker")
	uiFlag := fs.Bool("ui", false, "Render a live status panel")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	// The flag only overrides the config when given explicitly.
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "paper" {
			cfg.Broker.Paper = *paperFlag
		}
	})
	if !cfg.Broker.Paper && (cfg.Broker.APIKey == "" || cfg.Broker.APISecret == "") {
		fmt.Fprintln(os.Stderr, "live trading requires APCA_API_KEY_ID and APCA_API_SECRET_KEY")
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger, *uiFlag); err != nil {
		slog.Error("bot exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, withUI bool) error {
	metrics.SetBuildInfo(Version, GitCommit, BuildTime)

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var gw broker.Gateway
	mode := "live"
	if cfg.Broker.Paper {
		mode = "paper"
		gw = paper.NewBroker(paper.DefaultConfig(), logger)
	} else {
		gw = alpaca.NewClient(cfg.ToBrokerConfig(), logger)
	}

	logger.Info("bot starting",
		"version", Version,
		"mode", mode,
		"poll_interval", cfg.PollInterval(),
		"max_positions", cfg.Trading.MaxPositions,
		"min_confidence", cfg.MinGrade().String(),
	)

	jrnl, err := journal.New(cfg.Paths.Journal)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}

	// The journal is authoritative; the history archive is a best-effort
	// mirror and must never stop the bot.
	var sink orders.EventSink = jrnl
	var hist *history.Store
	if cfg.Paths.History != "" {
		hist, err = history.Open(cfg.Paths.History)
		if err != nil {
			logger.Warn("history archive unavailable, continuing without it", "err", err)
			hist = nil
		} else {
			sink = engine.NewFanout(jrnl, logger, hist)
		}
	}

	alerter, digest := buildAlerter(cfg, logger)
	rec := metrics.NewRecorder()

	manager := orders.NewManager(cfg.ToManagerConfig(), gw, sink, alerter, rec, logger)
	source := candidates.NewFileSource(cfg.Paths.Candidates, logger)
	eng := engine.NewEngine(cfg.ToEngineConfig(), gw, source, jrnl, manager, alerter, rec, logger)

	var metricsSrv *metrics.Server
	if cfg.Metrics.Enabled {
		srvCfg := metrics.DefaultServerConfig()
		srvCfg.Addr = cfg.Metrics.Listen
		metricsSrv = metrics.NewServer(srvCfg, logger)
		metricsSrv.RegisterHealthCheck("engine", func() metrics.Check {
			if eng.State() == engine.StateRunning {
				return metrics.Healthy("")
			}
			return metrics.Unhealthy("engine " + eng.State().String())
		})
		if err := metricsSrv.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
	}

	if err := eng.Start(ctx); err != nil {
		closeQuietly(logger, metricsSrv, hist)
		return fmt.Errorf("start engine: %w", err)
	}

	if withUI {
		panel := ui.NewStatusUI(nil)
		panel.Start()
		defer panel.Stop()
		go renderLoop(ctx, panel, eng, cfg)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	steps := []struct {
		name string
		fn   func() error
	}{
		{"stop engine", func() error { return eng.Stop(shutdownCtx) }},
		{"flush alerts", func() error {
			if digest == nil {
				return nil
			}
			return digest.Flush(shutdownCtx)
		}},
		{"stop metrics server", func() error {
			if metricsSrv == nil {
				return nil
			}
			return metricsSrv.Shutdown(shutdownCtx)
		}},
		{"close history archive", func() error {
			if hist == nil {
				return nil
			}
			return hist.Close()
		}},
	}

	for _, step := range steps {
		select {
		case <-shutdownCtx.Done():
			return fmt.Errorf("shutdown timeout during: %s", step.name)
		default:
			logger.Debug("shutdown step", "step", step.name)
			if err := step.fn(); err != nil {
				logger.Warn("shutdown step failed", "step", step.name, "err", err)
			}
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// buildAlerter assembles the alert chain: console when enabled, plus a
// digest-batched webhook when configured. With nothing configured alerts
// still land on the console.
func buildAlerter(cfg *config.Config, logger *slog.Logger) (alerting.Alerter, *alerting.DigestAlerter) {
	var parts []alerting.Alerter
	if cfg.Alerting.Console {
		parts = append(parts, alerting.NewConsoleAlerter(logger))
	}

	var digest *alerting.DigestAlerter
	if cfg.Alerting.WebhookURL != "" {
		hook := alerting.NewWebhookAlerter(alerting.WebhookConfig{
			URL:       cfg.Alerting.WebhookURL,
			AuthToken: cfg.Alerting.WebhookToken,
		})
		digest = alerting.NewDigestAlerter(hook, cfg.DigestInterval(), 0, logger)
		parts = append(parts, digest)
	}

	if len(parts) == 0 {
		parts = append(parts, alerting.NewConsoleAlerter(logger))
	}
	if len(parts) == 1 {
		return parts[0], digest
	}
	return alerting.NewMultiAlerter(logger, parts...), digest
}

// renderLoop feeds the status panel once a second until shutdown.
func renderLoop(ctx context.Context, panel *ui.StatusUI, eng *engine.Engine, cfg *config.Config) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			panel.Render(toUIStatus(eng.Status(), cfg))
		}
	}
}

func toUIStatus(snap engine.Snapshot, cfg *config.Config) ui.Status {
	return ui.Status{
		State:         snap.State.String(),
		Market:        snap.Market,
		Uptime:        snap.Uptime,
		Cycles:        snap.Cycles,
		Equity:        snap.Equity,
		Positions:     snap.Positions,
		OpenOrders:    snap.OpenOrders,
		AttachedExits: snap.AttachedExits,
		CapDay:        snap.CapDay,
		MaxPerDay:     cfg.Trading.MaxTradesPerDay,
		CapWeek:       snap.CapWeek,
		MaxPerWeek:    cfg.Trading.MaxTradesPerWeek,
		LastCycleAt:   snap.LastCycleAt,
		LastError:     snap.LastError,
	}
}

func closeQuietly(logger *slog.Logger, srv *metrics.Server, hist *history.Store) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown failed", "err", err)
		}
	}
	if hist != nil {
		if err := hist.Close(); err != nil {
			logger.Warn("history close failed", "err", err)
		}
	}
}
