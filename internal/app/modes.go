package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/updownbot/internal/crypto"
	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/engine"
	"github.com/alanyoungcy/updownbot/internal/events"
	"github.com/alanyoungcy/updownbot/internal/executor"
	"github.com/alanyoungcy/updownbot/internal/feed"
	"github.com/alanyoungcy/updownbot/internal/ladder"
	"github.com/alanyoungcy/updownbot/internal/metrics"
	"github.com/alanyoungcy/updownbot/internal/platform/polymarket"
	"github.com/alanyoungcy/updownbot/internal/retry"
	"github.com/alanyoungcy/updownbot/internal/scanner"
	"github.com/alanyoungcy/updownbot/internal/server"
	"github.com/alanyoungcy/updownbot/internal/server/handler"
	"github.com/alanyoungcy/updownbot/internal/server/ws"
	"github.com/alanyoungcy/updownbot/internal/settings"
	"github.com/alanyoungcy/updownbot/internal/strategy"
)

// instanceLockKey guards the single-engine assumption across processes.
const instanceLockKey = "engine"

// runtime is the set of live components shared by trade and monitor mode.
type runtime struct {
	bus      *events.Bus
	book     *feed.Book
	stream   *feed.Stream
	settings *settings.Cache
	engine   *engine.Engine
}

// TradeMode runs the engine with trading enabled, the price feed, and the
// HTTP surface with operator commands.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode", slog.String("component", "app"))

	rt, err := a.buildRuntime(ctx, deps, a.cfg.Engine.AutoStart)
	if err != nil {
		return err
	}
	defer rt.bus.Close()

	g, ctx := errgroup.WithContext(ctx)

	if deps.LockManager != nil {
		lock, err := deps.LockManager.Acquire(ctx, instanceLockKey, a.cfg.Redis.LockTTL.Duration)
		if err != nil {
			return fmt.Errorf("app: acquire instance lock: %w", err)
		}
		defer lock.Release()
		g.Go(func() error { return a.holdLock(ctx, lock) })
	}

	a.startRuntime(ctx, g, deps, rt)
	if deps.Notifier.Enabled() {
		g.Go(func() error { return deps.Notifier.Run(ctx, rt.bus) })
	}
	a.startArchive(ctx, g, deps)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, rt.bus, rt.engine, rt.engine, rt.settings, engineSnapshot(rt.engine))
	}

	return g.Wait()
}

// MonitorMode scans markets and streams prices without trading. The engine
// runs stopped, so only the scanner and broadcast timers fire, and no
// operator commands are exposed.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode", slog.String("component", "app"))

	rt, err := a.buildRuntime(ctx, deps, false)
	if err != nil {
		return err
	}
	defer rt.bus.Close()

	g, ctx := errgroup.WithContext(ctx)
	a.startRuntime(ctx, g, deps, rt)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, rt.bus, rt.engine, nil, rt.settings, engineSnapshot(rt.engine))
	}
	return g.Wait()
}

// ServerMode serves the ledger and settings over HTTP. With Redis configured
// it mirrors the state relayed by a trading process on another host.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode", slog.String("component", "app"))

	bus := events.NewBus(a.logger)
	defer bus.Close()
	cache := settings.NewCache(deps.Settings, a.cfg.Settings, a.cfg.Engine.SettingsTTL.Duration, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	var state handler.StateSource = idleState{paper: a.cfg.Settings.PaperTrading}
	snapshot := func() (domain.EngineSnapshot, bool) { return domain.EngineSnapshot{}, false }
	if deps.SignalBus != nil {
		follower := events.NewFollower(bus, deps.SignalBus, a.logger)
		g.Go(func() error { return follower.Run(ctx) })
		state = follower
		snapshot = follower.Latest
	}

	a.startArchive(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps, bus, state, nil, cache, snapshot)
	return g.Wait()
}

// buildRuntime constructs the venue gateway, feed, scanner, executor, ladder
// and engine.
func (a *App) buildRuntime(ctx context.Context, deps *Dependencies, autoStart bool) (*runtime, error) {
	cfg := a.cfg
	callTimeout := cfg.Engine.CallTimeout.Duration

	venue, err := a.buildVenue(ctx, deps)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus(a.logger)
	cache := settings.NewCache(deps.Settings, cfg.Settings, cfg.Engine.SettingsTTL.Duration, a.logger)

	book := feed.NewBook(cfg.Feed.Window.Duration)
	stream := feed.NewStream(feed.StreamConfig{
		WSURL:   cfg.Feed.WSURL,
		RESTURL: cfg.Feed.RESTURL,
		Assets:  feedAssets(cfg.Settings),
		Quote:   cfg.Feed.Quote,
	}, book, a.logger)
	stream.OnTick(func(asset string, _ float64) { metrics.RecordFeedTick(asset) })

	scan := scanner.New(venue, scanner.Config{
		CallTimeout: callTimeout,
		Retry: retry.Policy{
			MaxAttempts: cfg.Engine.RetryAttempts,
			BaseDelay:   cfg.Engine.RetryBaseDelay.Duration,
			MaxDelay:    8 * cfg.Engine.RetryBaseDelay.Duration,
		},
	}, a.logger)

	exec := executor.New(venue, deps.Ledger, a.logger,
		executor.WithEventSink(bus),
		executor.WithDedupTTL(cfg.Engine.DedupTTL.Duration),
		executor.WithCallTimeout(callTimeout),
	)

	arb := ladder.New(venue, exec, cfg.Settings.ArbPoolCeiling, a.logger,
		ladder.WithResolver(scan),
		ladder.WithEventSink(bus),
		ladder.WithCallTimeout(callTimeout),
	)

	engineDeps := engine.Deps{
		Scanner:    scan,
		Quotes:     book,
		Settings:   cache,
		Trader:     exec,
		Ledger:     deps.Ledger,
		Ladder:     arb,
		Strategies: strategy.DefaultRegistry(),
		Sink:       bus,
	}
	if deps.Recorder != nil {
		engineDeps.Recorder = deps.Recorder
	}
	eng := engine.New(engineDeps, engine.Config{
		TickInterval:      cfg.Engine.TickInterval.Duration,
		StructureInterval: cfg.Engine.StructureInterval.Duration,
		ScanInterval:      cfg.Engine.ScanInterval.Duration,
		BroadcastInterval: cfg.Engine.BroadcastInterval.Duration,
		CallTimeout:       callTimeout,
		AutoStart:         autoStart,
	}, a.logger)

	return &runtime{bus: bus, book: book, stream: stream, settings: cache, engine: eng}, nil
}

// buildVenue creates the Polymarket gateway. A signing key is loaded when one
// is configured; without it only paper trading is possible.
func (a *App) buildVenue(ctx context.Context, deps *Dependencies) (*polymarket.Gateway, error) {
	cfg := a.cfg.Polymarket
	timeout := cfg.Timeout.Duration
	log := a.logger.With(slog.String("component", "app"))

	gamma := polymarket.NewGammaClient(cfg.GammaHost, timeout)
	opts := polymarket.ClobOptions{
		Funder:        a.cfg.Wallet.SafeAddress,
		SignatureType: cfg.SignatureType,
		Timeout:       timeout,
	}

	w := a.cfg.Wallet
	if w.PrivateKey != "" || w.EncryptedKeyPath != "" {
		key, err := crypto.LoadKey(w.PrivateKey, w.EncryptedKeyPath, w.KeyPassword)
		if err != nil {
			return nil, fmt.Errorf("app: load wallet key: %w", err)
		}
		signer, err := crypto.NewSigner(key, int64(cfg.ChainID), cfg.ExchangeAddress)
		if err != nil {
			return nil, fmt.Errorf("app: create signer: %w", err)
		}
		opts.Signer = signer
	}

	clob := polymarket.NewClobClient(cfg.ClobHost, opts)
	if opts.Signer != nil {
		dctx, cancel := context.WithTimeout(ctx, timeout)
		err := clob.DeriveAPIKey(dctx)
		cancel()
		switch {
		case err == nil:
			log.Info("clob api credentials derived", slog.String("address", opts.Signer.Address()))
		case a.cfg.Settings.PaperTrading:
			log.Warn("clob api key derivation failed, live orders disabled", slog.String("error", err.Error()))
		default:
			return nil, fmt.Errorf("app: derive clob api key: %w", err)
		}
	}

	var gwOpts []polymarket.GatewayOption
	if deps.RateLimiter != nil && cfg.RateLimit > 0 {
		gwOpts = append(gwOpts, polymarket.WithRateLimit(deps.RateLimiter, cfg.RateLimit, cfg.RateWindow.Duration))
	}
	return polymarket.NewGateway(gamma, clob, gwOpts...), nil
}

// startRuntime launches the engine, the feed and the Redis mirrors.
func (a *App) startRuntime(ctx context.Context, g *errgroup.Group, deps *Dependencies, rt *runtime) {
	g.Go(func() error { return rt.stream.Run(ctx) })
	g.Go(func() error { return rt.engine.Run(ctx) })

	if deps.PriceCache != nil {
		relay := feed.NewRelay(rt.book, deps.PriceCache, a.logger)
		g.Go(func() error { return relay.Run(ctx, a.cfg.Feed.CacheInterval.Duration) })
	}
	if deps.SignalBus != nil {
		relay := events.NewRelay(rt.bus, deps.SignalBus, a.logger)
		g.Go(func() error { return relay.Run(ctx) })
	}
}

func (a *App) startArchive(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	g.Go(func() error { return deps.Archiver.Run(ctx, a.cfg.Archive.Interval.Duration) })
}

// startHTTPServer builds the handlers and serves them until ctx ends. ctrl is
// nil when this process cannot accept engine commands.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	bus *events.Bus,
	state handler.StateSource,
	ctrl handler.Controller,
	store handler.SettingsStore,
	snapshot ws.SnapshotFunc,
) {
	hub := ws.NewHub(bus, snapshot, a.logger)
	g.Go(func() error { return hub.Run(ctx) })

	h := server.Handlers{
		Health:   handler.NewHealthHandler(a.cfg.Mode, a.startedAt),
		Engine:   handler.NewEngineHandler(state, ctrl, a.logger),
		Settings: handler.NewSettingsHandler(store, a.logger),
		Trades:   handler.NewTradesHandler(deps.Ledger, a.logger),
		Hub:      hub,
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
	}, h, deps.RateLimiter, a.logger)
	g.Go(func() error { return srv.Run(ctx) })
}

// holdLock refreshes the instance lock until ctx ends. Losing the lock stops
// the process so two engines never trade at once.
func (a *App) holdLock(ctx context.Context, lock domain.Lock) error {
	ttl := a.cfg.Redis.LockTTL.Duration
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			rctx, cancel := context.WithTimeout(ctx, ttl/3)
			err := lock.Refresh(rctx, ttl)
			cancel()
			if errors.Is(err, domain.ErrLockHeld) {
				return fmt.Errorf("app: instance lock lost: %w", err)
			}
			if err != nil {
				a.logger.Warn("instance lock refresh failed",
					slog.String("component", "app"),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func engineSnapshot(e *engine.Engine) ws.SnapshotFunc {
	return func() (domain.EngineSnapshot, bool) { return e.Snapshot(), true }
}

// feedAssets is every asset either the strategies or the ladder may trade.
func feedAssets(s domain.Settings) []string {
	out := slices.Clone(s.EnabledAssets)
	for _, a := range s.ArbEnabledAssets {
		if !slices.Contains(out, a) {
			out = append(out, a)
		}
	}
	return out
}

// idleState answers /api/state when no engine state is available.
type idleState struct{ paper bool }

func (s idleState) Snapshot() domain.EngineSnapshot {
	return domain.EngineSnapshot{Paper: s.paper, UpdatedAt: time.Now().UTC()}
}
