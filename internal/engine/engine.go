// Package engine is the orchestrator. One goroutine owns all trading state:
// positions, capital, the circuit breaker and the ladder engine. Callers
// interact through commands and read an atomically published snapshot.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/executor"
	"github.com/alanyoungcy/updownbot/internal/ladder"
	"github.com/alanyoungcy/updownbot/internal/strategy"
)

// ErrStopped is returned by commands sent after Run has returned.
var ErrStopped = errors.New("engine: not running")

// Scanner is the market discovery the engine reads from.
type Scanner interface {
	Scan(ctx context.Context, assets []string) error
	RefreshOutcomes(ctx context.Context, assets []string) error
	ActiveMarkets(now time.Time) map[string]domain.MarketState
	ResolveOutcome(ctx context.Context, info domain.WindowInfo) (domain.Outcome, error)
	MarkOutcome(w domain.Window, outcome domain.Outcome)
}

// Trader executes decisions and writes the ledger.
type Trader interface {
	ExecuteBuy(ctx context.Context, req executor.BuyRequest) (domain.TradeRecord, error)
	ExecuteSell(ctx context.Context, req executor.SellRequest) (domain.TradeRecord, error)
	RecordResolution(ctx context.Context, pos *domain.Position, outcome domain.Outcome) (domain.TradeRecord, error)
	Cleanup()
}

// SettingsProvider serves the TTL-cached runtime settings.
type SettingsProvider interface {
	Get(ctx context.Context) domain.Settings
	Invalidate()
}

// Deps are the collaborators of an Engine. Sink and Recorder are optional.
type Deps struct {
	Scanner    Scanner
	Quotes     domain.QuoteSource
	Settings   SettingsProvider
	Trader     Trader
	Ledger     domain.TradeLedger
	Ladder     *ladder.Engine
	Strategies *strategy.Registry
	Sink       domain.EventSink
	Recorder   domain.SnapshotRecorder
}

// Config holds the timer periods.
type Config struct {
	TickInterval      time.Duration
	StructureInterval time.Duration
	ScanInterval      time.Duration
	BroadcastInterval time.Duration
	CallTimeout       time.Duration
	// AutoStart starts trading as soon as Run is called.
	AutoStart bool
}

// DefaultConfig returns 3s/30s/5s/2s timers and a 10s call timeout.
func DefaultConfig() Config {
	return Config{
		TickInterval:      3 * time.Second,
		StructureInterval: 30 * time.Second,
		ScanInterval:      5 * time.Second,
		BroadcastInterval: 2 * time.Second,
		CallTimeout:       10 * time.Second,
		AutoStart:         true,
	}
}

type tracked struct {
	pos         *domain.Position
	info        domain.WindowInfo
	lastAttempt time.Time
}

type logState struct {
	key string
	at  time.Time
}

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdStop
	cmdResetBreaker
)

func (k cmdKind) String() string {
	switch k {
	case cmdStart:
		return "start"
	case cmdStop:
		return "stop"
	case cmdResetBreaker:
		return "reset_breaker"
	}
	return "unknown"
}

type command struct {
	kind  cmdKind
	reply chan error
}

// Engine is the trading orchestrator.
type Engine struct {
	scanner    Scanner
	quotes     domain.QuoteSource
	settings   SettingsProvider
	trader     Trader
	ledger     domain.TradeLedger
	ladder     *ladder.Engine
	strategies *strategy.Registry
	sink       domain.EventSink
	recorder   domain.SnapshotRecorder
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time

	cmds    chan command
	done    chan struct{}
	running atomic.Bool
	snap    atomic.Pointer[domain.EngineSnapshot]

	// Owned by the loop goroutine.
	current   domain.Settings
	markets   map[string]domain.MarketState
	positions map[string]*tracked
	settling  map[string]*tracked
	breaker   domain.CircuitBreakerState
	base      breakerBase
	realized  float64
	lastLog   map[string]logState
	ticks     int64
}

// New creates an Engine. Call Run to start its timers.
func New(deps Deps, cfg Config, logger *slog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.StructureInterval <= 0 {
		cfg.StructureInterval = def.StructureInterval
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = def.ScanInterval
	}
	if cfg.BroadcastInterval <= 0 {
		cfg.BroadcastInterval = def.BroadcastInterval
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	sink := deps.Sink
	if sink == nil {
		sink = discard{}
	}
	strategies := deps.Strategies
	if strategies == nil {
		strategies = strategy.DefaultRegistry()
	}

	e := &Engine{
		scanner:    deps.Scanner,
		quotes:     deps.Quotes,
		settings:   deps.Settings,
		trader:     deps.Trader,
		ledger:     deps.Ledger,
		ladder:     deps.Ladder,
		strategies: strategies,
		sink:       sink,
		recorder:   deps.Recorder,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "engine")),
		now:        time.Now,
		cmds:       make(chan command),
		done:       make(chan struct{}),
		markets:    make(map[string]domain.MarketState),
		positions:  make(map[string]*tracked),
		settling:   make(map[string]*tracked),
		lastLog:    make(map[string]logState),
	}
	e.snap.Store(&domain.EngineSnapshot{Prices: map[string]float64{}})
	return e
}

// Run drives the engine until ctx is cancelled. The trading tick and
// command handling run on the calling goroutine; scanner, structure and
// broadcast timers run alongside it.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)

	e.current = e.settings.Get(ctx)
	if err := e.scanner.Scan(ctx, trackedAssets(e.current)); err != nil {
		e.logger.Warn("initial scan incomplete", slog.String("error", err.Error()))
	}
	if e.cfg.AutoStart {
		e.running.Store(true)
	}
	e.publishSnapshot(ctx, e.now())
	e.logger.Info("engine started",
		slog.Bool("trading", e.running.Load()),
		slog.Bool("paper", e.current.PaperTrading),
		slog.Duration("tick", e.cfg.TickInterval),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { e.every(gctx, e.cfg.ScanInterval, e.scan); return nil })
	g.Go(func() error { e.every(gctx, e.cfg.StructureInterval, e.refreshStructure); return nil })
	g.Go(func() error { e.every(gctx, e.cfg.BroadcastInterval, e.broadcast); return nil })
	g.Go(func() error { e.loop(gctx); return nil })
	err := g.Wait()

	e.shutdown()
	return err
}

func (e *Engine) loop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-e.cmds:
			cmd.reply <- e.handle(ctx, cmd.kind)
		case <-ticker.C:
			if e.running.Load() {
				e.tick(ctx)
			}
		}
	}
}

func (e *Engine) every(ctx context.Context, d time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (e *Engine) scan(ctx context.Context) {
	s := e.settings.Get(ctx)
	if err := e.scanner.Scan(ctx, trackedAssets(s)); err != nil {
		e.logger.Warn("scan incomplete", slog.String("error", err.Error()))
	}
}

// refreshStructure reloads the outcome history and the settings. It is
// halted together with the trading tick.
func (e *Engine) refreshStructure(ctx context.Context) {
	if !e.running.Load() {
		return
	}
	e.settings.Invalidate()
	s := e.settings.Get(ctx)
	if err := e.scanner.RefreshOutcomes(ctx, trackedAssets(s)); err != nil {
		e.logger.Warn("outcome refresh incomplete", slog.String("error", err.Error()))
	}
	e.trader.Cleanup()
}

// broadcast publishes the last snapshot with live markets and prices. It
// never touches loop-owned state.
func (e *Engine) broadcast(ctx context.Context) {
	now := e.now()
	snap := *e.snap.Load()
	live := e.scanner.ActiveMarkets(now)
	snap.Markets = sortedMarkets(live)
	snap.Prices = make(map[string]float64, len(live))
	for asset := range live {
		if p, ok := e.quotes.CurrentPrice(asset); ok {
			snap.Prices[asset] = p
		}
	}
	e.sink.Publish(domain.Event{Kind: domain.EventState, Time: now.UTC(), Payload: snap})

	if e.recorder != nil && len(snap.Markets) > 0 {
		cctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()
		if err := e.recorder.RecordMarkets(cctx, now, snap.Markets, snap.Prices); err != nil {
			e.logger.Debug("snapshot record failed", slog.String("error", err.Error()))
		}
	}
}

func (e *Engine) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.CallTimeout)
	defer cancel()
	for _, res := range e.ladder.Flush(ctx) {
		e.adoptSettling(res)
	}
	e.logger.Info("engine stopped",
		slog.Int("open_positions", len(e.positions)),
		slog.Int("settling", len(e.settling)),
		slog.Int64("ticks", e.ticks),
	)
}

// Snapshot returns the latest published state.
func (e *Engine) Snapshot() domain.EngineSnapshot {
	return *e.snap.Load()
}

// Running reports whether the trading tick is enabled.
func (e *Engine) Running() bool { return e.running.Load() }

// Start enables the trading tick and structure refresh.
func (e *Engine) Start(ctx context.Context) error { return e.send(ctx, cmdStart) }

// Stop halts the trading tick and structure refresh. Scanning and
// broadcasting continue.
func (e *Engine) Stop(ctx context.Context) error { return e.send(ctx, cmdStop) }

// ResetBreaker clears a tripped circuit breaker.
func (e *Engine) ResetBreaker(ctx context.Context) error { return e.send(ctx, cmdResetBreaker) }

func (e *Engine) send(ctx context.Context, kind cmdKind) error {
	cmd := command{kind: kind, reply: make(chan error, 1)}
	select {
	case e.cmds <- cmd:
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return fmt.Errorf("engine: %s: %w", kind, ctx.Err())
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return fmt.Errorf("engine: %s: %w", kind, ctx.Err())
	}
}

func (e *Engine) handle(ctx context.Context, kind cmdKind) error {
	now := e.now()
	switch kind {
	case cmdStart:
		e.running.Store(true)
		e.logger.Info("trading started")
	case cmdStop:
		e.running.Store(false)
		e.logger.Info("trading stopped")
	case cmdResetBreaker:
		e.resetBreaker(ctx, now)
	}
	e.publishSnapshot(ctx, now)
	return nil
}

// publishSnapshot stores a copy of the loop-owned state for readers.
func (e *Engine) publishSnapshot(ctx context.Context, now time.Time) {
	capital := e.capital()
	snap := &domain.EngineSnapshot{
		Running:   e.running.Load(),
		Paper:     e.current.PaperTrading,
		Markets:   sortedMarkets(e.markets),
		Positions: sortedPositions(e.positions),
		Settling:  sortedPositions(e.settling),
		Capital:   capital,
		Breaker:   e.breaker,
		Arb:       e.ladder.States(),
		ArbStats:  e.ladder.Stats(),
		Prices:    make(map[string]float64),
		Ticks:     e.ticks,
		UpdatedAt: now.UTC(),
	}
	if e.breaker.ResumeAt != nil {
		at := *e.breaker.ResumeAt
		snap.Breaker.ResumeAt = &at
	}
	for _, asset := range trackedAssets(e.current) {
		if p, ok := e.quotes.CurrentPrice(asset); ok {
			snap.Prices[asset] = p
		}
	}
	e.snap.Store(snap)
	recordCapital(capital, len(e.positions)+len(e.settling))
}

func trackedAssets(s domain.Settings) []string {
	out := slices.Clone(s.EnabledAssets)
	for _, a := range s.ArbEnabledAssets {
		if !slices.Contains(out, a) {
			out = append(out, a)
		}
	}
	return out
}

func sortedMarkets(m map[string]domain.MarketState) []domain.MarketState {
	out := make([]domain.MarketState, 0, len(m))
	for _, ms := range m {
		out = append(out, ms)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset() < out[j].Asset() })
	return out
}

func sortedPositions(m map[string]*tracked) []domain.Position {
	out := make([]domain.Position, 0, len(m))
	for _, t := range m {
		out = append(out, *t.pos)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Window.Asset != out[j].Window.Asset {
			return out[i].Window.Asset < out[j].Window.Asset
		}
		if !out[i].Window.Start.Equal(out[j].Window.Start) {
			return out[i].Window.Start.Before(out[j].Window.Start)
		}
		return out[i].Side < out[j].Side
	})
	return out
}

type discard struct{}

func (discard) Publish(domain.Event) {}
