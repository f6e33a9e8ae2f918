// Kalshi Market Maker — an automated two-sided market-making bot for Kalshi
// binary prediction markets.
//
// Architecture:
//
//	main.go              — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	engine/engine.go     — orchestrator: control loop ticks, fill poller, graceful shutdown
//	quoter/quoter.go     — two-sided quoting: bid/ask around mid with inventory skew
//	ledger/ledger.go     — positions from fills: net contracts, avg entry, realized PnL
//	ledger/poller.go     — polls the fills endpoint above a watermark, feeds the ledger
//	risk/gate.go         — position and exposure caps; risk-reducing orders always pass
//	orders/manager.go    — place/cancel/batch-cancel with eventual-consistency retries
//	exchange/client.go   — REST client for the Kalshi trade API
//	exchange/auth.go     — RSA-PSS request signing
//	api/                 — web dashboard: snapshot endpoint + WebSocket event stream
//	demo/demo.go         — interactive order-lifecycle check against the live exchange
//
// How it makes money:
//
//	The bot captures the bid-ask spread on binary YES/NO markets. It posts a
//	bid below the midpoint and an ask above it; when both sides fill, it earns
//	the spread. If inventory accumulates on one side, both quotes shift to
//	attract offsetting fills.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"kalshi-mm/internal/api"
	"kalshi-mm/internal/config"
	"kalshi-mm/internal/demo"
	"kalshi-mm/internal/engine"
	"kalshi-mm/internal/exchange"
	"kalshi-mm/internal/orders"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfgPath := flag.String("config", "configs/config.yaml", "path to config file")
	demoMode := flag.Bool("demo", false, "run the order-lifecycle demo: -demo <safe_bid> <safe_ask>")
	nonstop := flag.Bool("nonstop", false, "run demo steps without pausing for Enter")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", *cfgPath)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		return 1
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	if *demoMode {
		return runDemo(cfg, logger, flag.Args(), *nonstop)
	}
	return runBot(cfg, logger)
}

// runBot starts the trading loop and blocks until a signal, MaxRuntime, or a
// startup failure.
func runBot(cfg *config.Config, logger *slog.Logger) int {
	eng, err := engine.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		return 1
	}

	var apiServer *api.Server
	if cfg.Dashboard.Enabled {
		apiServer = api.NewServer(cfg.Dashboard, eng, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("dashboard server failed", "error", err)
			}
		}()
		logger.Info("dashboard started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		return 1
	}

	logger.Info("kalshi market maker started",
		"ticker", cfg.Market.Ticker,
		"spread_width", cfg.Strategy.SpreadWidth,
		"quote_size", cfg.Strategy.QuoteSize,
		"max_position", cfg.Risk.MaxPositionSize,
		"max_exposure", cfg.Risk.MaxTotalExposure,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-eng.Done():
		logger.Info("control loop finished")
	}

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop dashboard", "error", err)
		}
	}

	eng.Stop()
	return 0
}

// runDemo parses the two price arguments and runs the order-lifecycle check.
func runDemo(cfg *config.Config, logger *slog.Logger, args []string, nonstop bool) int {
	if len(args) != 2 {
		logger.Error("demo mode needs two arguments: <safe_bid> <safe_ask>")
		return 1
	}
	safeBid, err := strconv.Atoi(args[0])
	if err != nil {
		logger.Error("invalid safe_bid", "arg", args[0])
		return 1
	}
	safeAsk, err := strconv.Atoi(args[1])
	if err != nil {
		logger.Error("invalid safe_ask", "arg", args[1])
		return 1
	}

	auth, err := exchange.NewAuth(cfg.API.KeyID, cfg.API.PrivateKeyPEM)
	if err != nil {
		logger.Error("auth setup failed", "error", err)
		return 1
	}
	client := exchange.NewClient(cfg.API.BaseURL, auth, logger)
	mgr := orders.NewManager(client, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d := demo.New(client, mgr, cfg.Market.Ticker, os.Stdin, logger)
	if err := d.Run(ctx, safeBid, safeAsk, nonstop); err != nil {
		logger.Error("demo failed", "error", err)
		return 1
	}
	logger.Info("demo complete")
	return 0
}

func parseLogLevel(level string) slog.Level {
	switch level {
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
