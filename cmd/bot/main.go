// hl-copytrader mirrors a target Hyperliquid account's positions and
// orders onto a follower account.
//
// Architecture:
//
//	main.go                — entry point: loads config, wires every component, waits for SIGINT/SIGTERM
//	exchange/client.go     — REST client for Hyperliquid's info/exchange endpoints
//	exchange/auth.go       — EIP-712 signing of every exchange action
//	exchange/ws.go         — userEvents WebSocket subscription with auto-reconnect
//	exchange/ratelimit.go  — token-bucket rate limiting in front of the exchange endpoint
//	differ/differ.go       — turns target snapshots + stream frames into canonical events
//	sizer/sizer.go         — pure decision function: event + context -> intended action or skip
//	executor/executor.go   — per-symbol serial dispatch of intended actions onto the follower account
//	risk/manager.go        — account-equity auto-pause
//	store/store.go         — crash-safe resume checkpoint
//	api/server.go          — status/command HTTP + WebSocket surface
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"hl-copytrader/internal/api"
	"hl-copytrader/internal/config"
	"hl-copytrader/internal/differ"
	"hl-copytrader/internal/exchange"
	"hl-copytrader/internal/executor"
	"hl-copytrader/internal/risk"
	"hl-copytrader/internal/sizer"
	"hl-copytrader/internal/store"
	"hl-copytrader/pkg/types"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
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

	if cfg.Leverage.Policy == "legacy" {
		logger.Warn("LEVERAGE_POLICY=legacy selected: using the legacy target x LEVERAGE_ADJUSTMENT_RATIO leverage policy")
	}

	// A dry run never signs, so SIMULATED_TRADING may run without a key.
	var auth *exchange.Auth
	if cfg.Hyperliquid.FollowerPrivateKey != "" || !cfg.Simulated.Enabled {
		auth, err = exchange.NewAuth(*cfg)
		if err != nil {
			logger.Error("failed to set up signing key", "error", err)
			os.Exit(1)
		}
		if !strings.EqualFold(auth.Address().Hex(), cfg.Hyperliquid.FollowerAddress) && !cfg.Simulated.Enabled {
			logger.Warn("signing key does not match FOLLOWER_WALLET_ADDRESS",
				"derived", auth.Address().Hex(), "configured", cfg.Hyperliquid.FollowerAddress)
		}
	}

	client := exchange.NewClient(*cfg, auth, logger)

	st, err := store.Open(cfg.Store.CheckpointDir)
	if err != nil {
		logger.Error("failed to open checkpoint store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	riskMgr := risk.NewManager(cfg.CopyRules, logger)
	sz := sizer.New(cfg.Sizing, cfg.Leverage, cfg.CopyRules)

	events := make(chan types.Event, 256)
	df := differ.New(cfg.Hyperliquid.TargetAddress, client, cfg.BlockedSet(), events, logger)

	notifyCh := make(chan api.NotificationEvent, 256)
	sink := &notificationSink{ch: notifyCh, logger: logger}

	exec := executor.New(*cfg, client, sz, riskMgr, df, st, sink, logger)

	var apiServer *api.Server
	if cfg.Dashboard.Enabled {
		apiServer = api.NewServer(cfg.Dashboard, exec, riskMgr, exec, notifyCh, *cfg, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		riskMgr.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		relayPauseSignals(ctx, riskMgr, notifyCh)
	}()

	if err := bootstrap(ctx, cfg, client, df); err != nil {
		logger.Error("bootstrap failed", "error", err)
		cancel()
		os.Exit(1)
	}
	if err := exec.Bootstrap(ctx); err != nil {
		logger.Error("executor bootstrap failed", "error", err)
		cancel()
		os.Exit(1)
	}

	stream := exchange.NewStreamSubscriber(cfg.Hyperliquid.WSURL, cfg.Hyperliquid.TargetAddress, df.RefreshSnapshot, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := stream.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("stream subscriber stopped", "error", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-stream.Frames():
				if !ok {
					return
				}
				df.HandleFrame(frame)
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		exec.Run(ctx, events)
	}()

	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := apiServer.Start(); err != nil {
				logger.Error("status surface failed", "error", err)
			}
		}()
		logger.Info("status surface started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	logger.Info("hl-copytrader started",
		"target", cfg.Hyperliquid.TargetAddress,
		"follower", cfg.Hyperliquid.FollowerAddress,
		"sizing_mode", cfg.Sizing.Mode,
		"simulated", cfg.Simulated.Enabled,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-exec.StopCh():
		logger.Info("stop requested (status surface or auth error)")
	}

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop status surface", "error", err)
		}
	}

	cancel()
	stream.Close()
	wg.Wait()
	close(notifyCh)
}

// bootstrap installs the target's starting snapshot into the Differ. When
// a half of the copy rules is disabled, that half is seeded silently so no
// synthetic events fire for state that predates the bot; otherwise the
// Differ starts empty and RefreshSnapshot naturally synthesizes Opened/
// OrderPlaced events for everything already on the books.
func bootstrap(ctx context.Context, cfg *config.Config, client *exchange.Client, df *differ.Differ) error {
	if cfg.CopyRules.CopyOpenPositions && cfg.CopyRules.CopyExistingOrders {
		return df.RefreshSnapshot(ctx)
	}

	snap, err := client.Snapshot(ctx, cfg.Hyperliquid.TargetAddress)
	if err != nil {
		return fmt.Errorf("fetch target snapshot: %w", err)
	}

	seed := types.AccountSnapshot{
		Balance:   snap.Balance,
		Equity:    snap.Equity,
		Timestamp: snap.Timestamp,
		Positions: make(map[string]types.Position),
		Orders:    make(map[int64]types.Order),
	}
	if !cfg.CopyRules.CopyOpenPositions {
		seed.Positions = snap.Positions
	}
	if !cfg.CopyRules.CopyExistingOrders {
		seed.Orders = snap.Orders
	}
	df.Seed(seed)

	if cfg.CopyRules.CopyOpenPositions || cfg.CopyRules.CopyExistingOrders {
		return df.RefreshSnapshot(ctx)
	}
	return nil
}

// relayPauseSignals mirrors risk manager pause/resume transitions onto the
// status surface's notification feed.
func relayPauseSignals(ctx context.Context, riskMgr *risk.Manager, notifyCh chan<- api.NotificationEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-riskMgr.PauseCh():
			select {
			case notifyCh <- api.NewPauseEvent(sig.Paused, sig.Reason):
			default:
			}
		}
	}
}

// notificationSink adapts executor.Sink onto the status surface's
// notification channel.
type notificationSink struct {
	ch     chan<- api.NotificationEvent
	logger *slog.Logger
}

func (s *notificationSink) NotifyAction(action types.IntendedAction, outcome string, orderID int64, err error) {
	select {
	case s.ch <- api.NewActionEvent(action, outcome, orderID, err):
	default:
		s.logger.Warn("notification channel full, dropping action event", "symbol", action.Symbol)
	}
}

func (s *notificationSink) NotifySkip(skip types.Skip) {
	select {
	case s.ch <- api.NewSkipEvent(skip):
	default:
		s.logger.Warn("notification channel full, dropping skip event", "symbol", skip.Symbol)
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
