// Command arbd runs the cross-venue prediction-market arbitrage daemon.
//
// Architecture:
//
//	main.go       — entry point: loads config, wires every subsystem, waits for SIGINT/SIGTERM
//	streams.go    — per-venue book subscription, resubscribing as the registry's active pairs change
//	admission.go  — Signal → Risk → Execution glue: EdgeComputed events become admitted intents
//	provider.go   — composes registry/signal/execution/store/risk into the observability surface
//	internal/registry  — ingests pairs and fee packs from the external matcher
//	internal/market    — local per-market order book mirror fed by venue WebSocket streams
//	internal/signal    — recomputes cross-venue edge for an active pair whenever either of its books changes, with a periodic tick as backstop
//	internal/risk      — hard admission predicates (pairs cap, venue/contract caps, drawdown stops)
//	internal/execution — the hedged two-leg state machine and its no-legging unwind path
//	internal/exchange  — venue adapters: CLOB-style REST+WS and on-chain EIP-712-signed
//	internal/store     — crash-safe position snapshots and the append-only trade ledger
//	internal/api       — observability HTTP/WS surface and operator control endpoints
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"arbd/internal/api"
	"arbd/internal/bus"
	"arbd/internal/config"
	"arbd/internal/exchange"
	"arbd/internal/execution"
	"arbd/internal/market"
	"arbd/internal/registry"
	"arbd/internal/risk"
	signalengine "arbd/internal/signal"
	"arbd/internal/store"
	"arbd/pkg/types"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("ARBD_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := bus.New(cfg.Observability.BusQueueDepth, logger)

	var reg *registry.Registry
	if cfg.Registry.MatcherBaseURL != "" {
		reg = registry.NewPolling(cfg.Registry.AcceptScore, cfg.Registry.MatcherBaseURL, cfg.Registry.PollInterval, logger)
		go func() {
			if err := reg.Run(ctx); err != nil && err != context.Canceled {
				logger.Error("registry polling stopped", "error", err)
			}
		}()
	} else {
		reg = registry.New(cfg.Registry.AcceptScore, logger)
	}

	cache := market.NewCache(cfg.Signal.BarDuration, cfg.Signal.BarDuration*time.Duration(cfg.Signal.XCorrWindowBars+cfg.Signal.XCorrMaxLagBars))

	adapters, err := buildAdapters(*cfg, logger)
	if err != nil {
		logger.Error("failed to build venue adapters", "error", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}

	positions := execution.NewPositions()
	if saved, err := st.LoadAllPositions(); err != nil {
		logger.Error("failed to load positions", "error", err)
	} else {
		positions.Seed(saved)
	}

	riskCtrl := risk.NewController(cfg.Risk, cfg.Signal.MinNetEdgeCents, cfg.Execution.HedgeTimeout, positions, logger)

	execEngine, err := execution.New(adapters, positions, riskCtrl, eventBus, st, cache, cfg.Execution, logger)
	if err != nil {
		logger.Error("failed to build execution engine", "error", err)
		os.Exit(1)
	}
	execEngine.Start(ctx)

	sigEngine := signalengine.New(reg, cache, eventBus, cfg.Signal.BarDuration, cfg.Signal.FreshnessBudget,
		decimal.NewFromFloat(cfg.Signal.IntendedQty), cfg.Signal.XCorrWindowBars, cfg.Signal.XCorrMaxLagBars, logger)
	go func() {
		if err := sigEngine.Run(ctx); err != nil && err != context.Canceled {
			logger.Error("signal engine stopped", "error", err)
		}
	}()

	streamer := newBookStreamer(reg, cache, adapters, sigEngine.NotifyBook, logger)
	go streamer.run(ctx)

	go runAdmissionLoop(ctx, eventBus, reg, cache, riskCtrl, execEngine, cfg.Signal.FreshnessBudget, logger)

	var apiServer *api.Server
	if cfg.Observability.Enabled {
		provider := &snapshotProvider{registry: reg, signal: sigEngine, positions: positions, store: st, risk: riskCtrl, logger: logger}
		apiServer = api.NewServer(cfg.Observability, provider, *cfg, eventBus, riskCtrl, reg, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("observability server failed", "error", err)
			}
		}()
		logger.Info("observability server started", "url", fmt.Sprintf("http://localhost:%d", cfg.Observability.Port))
	}

	logger.Info("arbd started",
		"pairs_max", cfg.Risk.PairsMax,
		"venue_a", cfg.VenueA.Kind,
		"venue_b", cfg.VenueB.Kind,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop observability server", "error", err)
		}
	}

	cancel()
	execEngine.Stop()

	for _, adapter := range adapters {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := adapter.CancelAll(shutdownCtx); err != nil {
			logger.Error("cancel-all on shutdown failed", "venue", adapter.Venue(), "error", err)
		}
		shutdownCancel()
	}
}

// buildAdapters constructs one VenueAdapter per configured venue, keyed
// by the venue identity each one reports — not by which of cfg.VenueA /
// cfg.VenueB it came from, since pairs reference markets by Venue and
// the rest of the system never needs to know which config slot built it.
func buildAdapters(cfg config.Config, logger *slog.Logger) (map[types.Venue]exchange.VenueAdapter, error) {
	adapters := make(map[types.Venue]exchange.VenueAdapter, 2)
	for venue, vc := range map[types.Venue]config.VenueConfig{types.VenueA: cfg.VenueA, types.VenueB: cfg.VenueB} {
		adapter, err := buildAdapter(venue, vc, cfg.DryRun, logger)
		if err != nil {
			return nil, fmt.Errorf("build %s adapter: %w", venue, err)
		}
		adapters[venue] = adapter
	}
	return adapters, nil
}

func buildAdapter(venue types.Venue, vc config.VenueConfig, dryRun bool, logger *slog.Logger) (exchange.VenueAdapter, error) {
	switch vc.Kind {
	case "onchain":
		return exchange.NewOnchainAdapter(venue, vc, dryRun, logger)
	default:
		return exchange.NewCLOBAdapter(venue, vc, dryRun, logger), nil
	}
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
