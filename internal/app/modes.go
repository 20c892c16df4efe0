package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/cadencefi/dcad/internal/breaker"
	"github.com/cadencefi/dcad/internal/crypto"
	"github.com/cadencefi/dcad/internal/domain"
	"github.com/cadencefi/dcad/internal/engine"
	"github.com/cadencefi/dcad/internal/feed"
	"github.com/cadencefi/dcad/internal/fees"
	"github.com/cadencefi/dcad/internal/keeper"
	"github.com/cadencefi/dcad/internal/ledger"
	"github.com/cadencefi/dcad/internal/notify"
	"github.com/cadencefi/dcad/internal/oracle"
	"github.com/cadencefi/dcad/internal/router"
	"github.com/cadencefi/dcad/internal/server"
	"github.com/cadencefi/dcad/internal/server/handler"
	"github.com/cadencefi/dcad/internal/server/ws"
	"github.com/cadencefi/dcad/internal/venue"
)

// core holds the assembled domain subsystems for one process. Nil members
// mean the subsystem is disabled for the active mode.
type core struct {
	ledger   *ledger.Ledger
	engine   *engine.Engine
	keeper   *keeper.Keeper
	ingester *feed.Ingester
	hub      *ws.Hub
	server   *server.Server
}

// KeeperMode runs the scheduled-execution loop without the API surface.
func (a *App) KeeperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting keeper mode")
	return a.runCore(ctx, deps, false, true)
}

// ServeMode runs the HTTP and WebSocket API without the keeper loop.
// Executions still happen when callers invoke the execute endpoint.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")
	return a.runCore(ctx, deps, true, false)
}

// FullMode runs every enabled subsystem in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	return a.runCore(ctx, deps, a.cfg.Server.Enabled, a.cfg.Keeper.Enabled)
}

// runCore builds the domain subsystems and blocks until the context is
// cancelled or a subsystem fails.
func (a *App) runCore(ctx context.Context, deps *Dependencies, withServer, withKeeper bool) error {
	c, err := a.buildCore(ctx, deps, withServer, withKeeper)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	if c.hub != nil {
		g.Go(func() error {
			return c.hub.Run(ctx)
		})
	}

	if c.ingester != nil {
		g.Go(func() error {
			return c.ingester.Run(ctx)
		})
	}

	if c.keeper != nil {
		g.Go(func() error {
			return c.keeper.Run(ctx)
		})
	}

	if c.server != nil {
		g.Go(func() error {
			return c.server.Start()
		})
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return c.server.Shutdown(shutCtx)
		})
	}

	if deps.Archiver != nil {
		retention := a.cfg.S3.Retention.Duration
		g.Go(func() error {
			a.runArchiveLoop(ctx, deps, retention)
			return nil
		})
	}

	return g.Wait()
}

// buildCore assembles the ledger, engine, and surrounding subsystems.
func (a *App) buildCore(ctx context.Context, deps *Dependencies, withServer, withKeeper bool) (*core, error) {
	c := &core{}

	// Persisted admin updates take precedence over the file config.
	protoCfg := a.cfg.ProtocolConfig()
	if stored, err := deps.Configs.LoadProtocol(ctx); err == nil {
		protoCfg = stored
	} else if !errors.Is(err, domain.ErrNotFound) {
		a.logger.WarnContext(ctx, "stored protocol config unavailable, using file config",
			slog.String("error", err.Error()))
	}
	feeCfg := a.cfg.FeeConfig()
	if stored, err := deps.Configs.LoadFees(ctx); err == nil {
		feeCfg = stored
	}
	brkCfg := a.cfg.BreakerConfig()
	if stored, err := deps.Configs.LoadBreaker(ctx); err == nil {
		brkCfg = stored
	}

	// Telemetry fanout. Order matters only for readability of the logs.
	sinks := []domain.EventSink{
		domain.NewLogSink(a.logger),
		domain.NewStoreSink(deps.Events, a.logger),
	}
	if withServer {
		c.hub = ws.NewHub(a.cfg.Mode, a.logger)
		sinks = append(sinks, c.hub)
	}
	sinks = append(sinks, notify.NewSink(deps.Notifier))
	if deps.Signer != nil {
		sinks = append(sinks, crypto.NewAttestor(deps.Signer, a.logger))
	}
	fanout := domain.NewFanoutSink(sinks...)

	// Ledger, rebuilt from the durable mirror.
	certs := ledger.NewMemoryRegistry()
	led := ledger.New(protoCfg, certs, deps.Positions, fanout, a.logger)
	certs.SetTransferListener(led.OnCertificateTransfer)

	records, err := deps.Positions.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: load positions: %w", err)
	}
	if err := led.Restore(records); err != nil {
		return nil, fmt.Errorf("app: restore ledger: %w", err)
	}
	a.logger.InfoContext(ctx, "ledger restored",
		slog.Int("positions", len(records)),
	)
	c.ledger = led

	// Oracle and price feeds.
	agg := oracle.New(protoCfg.MaxOracleStaleness, fanout, a.logger)
	pushFeeds := make(map[string]*oracle.PushFeed)
	for _, fc := range a.cfg.Oracle.Feeds {
		switch fc.Kind {
		case "push":
			pf := oracle.NewPushFeed(fc.Name)
			pushFeeds[fc.Asset] = pf
			agg.AddFeed(ctx, fc.Asset, pf)
		default:
			agg.AddFeed(ctx, fc.Asset, oracle.NewCacheFeed(deps.PriceCache, fc.Asset, fc.Name))
		}
	}

	brk := breaker.New(brkCfg, fanout, a.logger)
	calc := fees.New(feeCfg, fanout)

	// Venue adapters behind the router cascade.
	adapters := make(map[domain.Venue]domain.RouteAdapter)
	if u := a.cfg.Venues.Auction; u.URL != "" {
		adapters[domain.VenueAuction] = venue.NewAuctionAdapter(u.URL, u.APIKey)
	}
	if u := a.cfg.Venues.AMM; u.URL != "" {
		adapters[domain.VenueAMM] = venue.NewAMMAdapter(u.URL, u.APIKey)
	}
	if u := a.cfg.Venues.Aggregator; u.URL != "" {
		adapters[domain.VenueAggregator] = venue.NewAggregatorAdapter(u.URL, u.APIKey)
	}
	routerCfg := a.cfg.RouterConfig()
	if stored, err := deps.Configs.LoadRouter(ctx); err == nil {
		routerCfg = stored
	}
	sel := router.New(routerCfg, adapters, a.logger)

	var treasury domain.TreasurySink
	if u := a.cfg.Venues.Treasury; u.URL != "" {
		treasury = venue.NewTreasuryClient(u.URL, u.APIKey)
	}
	var gas domain.GasOracle
	if a.cfg.Venues.EthRPCURL != "" {
		gasOracle, err := venue.NewEthGasOracle(ctx, a.cfg.Venues.EthRPCURL)
		if err != nil {
			return nil, fmt.Errorf("app: gas oracle: %w", err)
		}
		a.closers = append(a.closers, gasOracle.Close)
		gas = gasOracle
	}

	eng := engine.New(led, agg, sel, calc, brk, treasury, gas, fanout, a.logger)
	c.engine = eng

	// Websocket price ingester feeds the oracle ring and the breaker's
	// movement window.
	if a.cfg.Feed.Enabled && a.cfg.Feed.WsURL != "" {
		ing := feed.NewIngester(a.cfg.Feed.WsURL, a.cfg.Feed.Pairs, agg, deps.PriceCache, brk, a.logger)
		for asset, pf := range pushFeeds {
			ing.RegisterPushFeed(asset, pf)
		}
		c.ingester = ing
	}

	if withKeeper {
		identity := common.HexToAddress(a.cfg.Keeper.Identity)
		if identity == (common.Address{}) && deps.Signer != nil {
			identity = deps.Signer.Address()
		}
		c.keeper = keeper.New(keeper.Config{
			Identity: identity,
			Interval: a.cfg.Keeper.Interval.Duration,
			LockKey:  a.cfg.Keeper.LockKey,
			LockTTL:  a.cfg.Keeper.LockTTL.Duration,
		}, led, eng, deps.Locks, a.logger)
	}

	if withServer {
		c.server = a.buildServer(deps, c, led, certs, eng, agg, sel, calc, brk)
	}

	return c, nil
}

// buildServer assembles the HTTP handler set and the server around it.
func (a *App) buildServer(
	deps *Dependencies,
	c *core,
	led *ledger.Ledger,
	certs *ledger.MemoryRegistry,
	eng *engine.Engine,
	agg *oracle.Aggregator,
	sel *router.Selector,
	calc *fees.Calculator,
	brk *breaker.Breaker,
) *server.Server {
	checks := map[string]handler.HealthCheckFunc{
		"postgres": func(ctx context.Context) error { return deps.PG.Pool().Ping(ctx) },
		"redis":    deps.Redis.Ping,
	}
	if deps.Blob != nil {
		checks["s3"] = deps.Blob.Health
	}

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(checks, a.logger),
		Positions: handler.NewPositionHandler(led, certs, a.logger),
		Execute:   handler.NewExecuteHandler(eng, led, a.logger),
		Events:    handler.NewEventsHandler(deps.Events, a.logger),
		Prices:    handler.NewPricesHandler(agg, a.logger),
		Admin:     handler.NewAdminHandler(led, calc, brk, sel, deps.Configs, a.logger),
	}

	tokens := make(map[string]common.Address, len(a.cfg.Server.Tokens))
	for token, addr := range a.cfg.Server.Tokens {
		tokens[token] = common.HexToAddress(addr)
	}

	return server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		Tokens:      tokens,
		RateLimiter: deps.RateLimiter,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, c.hub, a.logger)
}

// runArchiveLoop pages telemetry older than the retention window into object
// storage once a day. The first pass runs shortly after startup so restarts
// do not postpone overdue archives.
func (a *App) runArchiveLoop(ctx context.Context, deps *Dependencies, retention time.Duration) {
	const interval = 24 * time.Hour

	runOnce := func() {
		cutoff := time.Now().UTC().Add(-retention)
		n, err := deps.Archiver.ArchiveEvents(ctx, cutoff)
		if err != nil {
			a.logger.ErrorContext(ctx, "event archive failed",
				slog.String("error", err.Error()),
			)
			return
		}
		if n > 0 {
			a.logger.InfoContext(ctx, "events archived",
				slog.Int64("count", n),
				slog.Time("cutoff", cutoff),
			)
		}
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(time.Minute):
		runOnce()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce()
		}
	}
}
