package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"stratvault/internal/engine"
	"stratvault/internal/gateway"
	"stratvault/internal/keeper"
	"stratvault/internal/ledger"
	"stratvault/internal/notify"
	"stratvault/internal/pricefeed"
	"stratvault/internal/server"
	"stratvault/internal/server/handler"
	"stratvault/internal/server/ws"
)

// core bundles the orchestrator and its collaborators. Every mode builds the
// same core; modes differ only in which run loops they start around it.
type core struct {
	engine   *engine.Engine
	ledger   *ledger.Ledger
	swapGw   *gateway.SwapGateway
	bridgeGw *gateway.BridgeGateway
	registry *pricefeed.Registry
	owner    common.Address
}

// buildCore constructs the ledger, gateways, price registry, and orchestrator
// from the wired dependencies, then applies the configured operating
// parameters (slippage tolerance, staleness threshold, price feeds).
func (a *App) buildCore(ctx context.Context, deps *Dependencies) (*core, error) {
	owner := a.cfg.OwnerAddress(deps.Custody)

	ldg := ledger.New(
		deps.TradeStore, deps.DCAPlanStore, deps.Tokens,
		deps.LockManager, deps.SignalBus, deps.AuditStore,
		deps.Custody, a.logger,
	)

	swapGw := gateway.NewSwapGateway(
		deps.Swaps, deps.Tokens, deps.SignalBus, deps.AuditStore,
		deps.Custody, owner, a.logger,
	)
	if bps := a.cfg.Engine.SlippageBps; bps > 0 && bps != swapGw.SlippageTolerance() {
		if err := swapGw.SetSlippageTolerance(ctx, owner, bps); err != nil {
			return nil, fmt.Errorf("build core: set slippage tolerance: %w", err)
		}
	}

	bridgeGw := gateway.NewBridgeGateway(
		deps.Bridge, deps.Tokens, deps.ChainConfigStore, deps.EngineStateStore,
		deps.SignalBus, deps.AuditStore, deps.Custody, owner, a.logger,
	)

	reg := pricefeed.NewRegistry(deps.PriceFeedStore, deps.PriceSource, deps.PriceCache, owner, a.logger)
	staleness := time.Duration(a.cfg.Engine.StalenessSeconds) * time.Second
	if err := reg.SetStalenessThreshold(ctx, owner, staleness); err != nil {
		return nil, fmt.Errorf("build core: set staleness threshold: %w", err)
	}
	for _, feed := range a.cfg.EVM.Feeds {
		if err := reg.SetPriceFeed(ctx, owner, feed.Symbol, common.HexToAddress(feed.Source), feed.Decimals); err != nil {
			return nil, fmt.Errorf("build core: register feed %s: %w", feed.Symbol, err)
		}
	}

	eng := engine.New(
		deps.EngineStateStore, reg, deps.LockManager,
		deps.Custody, owner, a.cfg.TokenSymbols(), a.logger,
	)
	if err := eng.InitializeModules(swapGw, bridgeGw, ldg); err != nil {
		return nil, fmt.Errorf("build core: initialize modules: %w", err)
	}

	a.logger.InfoContext(ctx, "core initialized",
		slog.String("custody", deps.Custody.Hex()),
		slog.String("owner", owner.Hex()),
		slog.Int("feeds", len(a.cfg.EVM.Feeds)),
	)

	return &core{
		engine:   eng,
		ledger:   ldg,
		swapGw:   swapGw,
		bridgeGw: bridgeGw,
		registry: reg,
		owner:    owner,
	}, nil
}

// FullMode runs the keeper sweep loop and the HTTP API together.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	c, err := a.buildCore(ctx, deps)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	a.startKeeper(ctx, g, c)
	a.startAlerts(ctx, g, deps)
	a.startArchiveLoop(ctx, g, deps)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, c)
	}

	return g.Wait()
}

// KeeperMode runs trigger evaluation and settlement only; no HTTP API. Used
// for redundant keeper instances pointed at the same store.
func (a *App) KeeperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting keeper mode")

	c, err := a.buildCore(ctx, deps)
	if err != nil {
		return fmt.Errorf("keeper mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	a.startKeeper(ctx, g, c)
	a.startAlerts(ctx, g, deps)
	a.startArchiveLoop(ctx, g, deps)

	return g.Wait()
}

// ServerMode runs the HTTP API only. Order creation and cancellation work;
// settlement is left to keeper instances running elsewhere.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	c, err := a.buildCore(ctx, deps)
	if err != nil {
		return fmt.Errorf("server mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	a.startAlerts(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps, c)

	return g.Wait()
}

// startKeeper adds the sweep loop to the errgroup.
func (a *App) startKeeper(ctx context.Context, g *errgroup.Group, c *core) {
	k := keeper.New(c.engine, c.ledger, a.cfg.Keeper.Interval.Duration, a.logger)
	g.Go(func() error {
		return k.Run(ctx)
	})
}

// startAlerts forwards bus events to the configured notification channels.
// A no-op when no Telegram or Discord sender is configured.
func (a *App) startAlerts(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Notifier == nil || !deps.Notifier.HasSenders() {
		return
	}
	alerts := notify.NewAlerts(deps.Notifier, deps.SignalBus, a.logger)
	g.Go(func() error {
		return alerts.Run(ctx)
	})
}

// startArchiveLoop exports terminal trades, inactive plans, and old audit
// entries to object storage once a day. A no-op when archival is not wired.
func (a *App) startArchiveLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	retention := a.cfg.S3.ArchiveRetentionDays
	if retention <= 0 {
		return
	}

	runOnce := func() {
		cutoff := time.Now().UTC().AddDate(0, 0, -retention)
		trades, err := deps.Archiver.ArchiveTrades(ctx, cutoff)
		if err != nil {
			a.logger.WarnContext(ctx, "archive: trades export failed", slog.String("error", err.Error()))
		}
		plans, err := deps.Archiver.ArchiveDCAPlans(ctx, cutoff)
		if err != nil {
			a.logger.WarnContext(ctx, "archive: dca plans export failed", slog.String("error", err.Error()))
		}
		entries, err := deps.Archiver.ArchiveAuditLog(ctx, cutoff)
		if err != nil {
			a.logger.WarnContext(ctx, "archive: audit export failed", slog.String("error", err.Error()))
		}
		if trades+plans+entries > 0 {
			a.logger.InfoContext(ctx, "archive: export complete",
				slog.Int64("trades", trades),
				slog.Int64("dca_plans", plans),
				slog.Int64("audit_entries", entries),
				slog.Time("cutoff", cutoff),
			)
		}
	}

	g.Go(func() error {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		runOnce()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				runOnce()
			}
		}
	})
}

// startHTTPServer registers all handlers, attaches the WebSocket hub, and
// adds the serving plus graceful-shutdown goroutines to the errgroup.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core) {
	hub := ws.NewHub(deps.SignalBus, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.logger),
		Trades: handler.NewTradeHandler(c.engine, c.ledger, a.logger),
		DCA:    handler.NewDCAHandler(c.engine, c.ledger, a.logger),
		Swap:   handler.NewSwapHandler(c.engine, a.logger),
		Bridge: handler.NewBridgeHandler(c.engine, c.bridgeGw, a.logger),
		Prices: handler.NewPriceHandler(c.registry, a.logger),
		Admin:  handler.NewAdminHandler(c.engine, c.swapGw, c.bridgeGw, c.registry, c.owner, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening", slog.Int("port", a.cfg.Server.Port))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
