package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime/debug"
	"slices"
	"sort"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/executor"
	"github.com/alanyoungcy/updownbot/internal/ladder"
	"github.com/alanyoungcy/updownbot/internal/metrics"
	"github.com/alanyoungcy/updownbot/internal/strategy"
)

// tick runs one trading pass: breaker, per-asset decisions, ladder,
// resolution sweep and marks.
func (e *Engine) tick(ctx context.Context) {
	started := e.now()
	now := started
	s := e.settings.Get(ctx)
	e.current = s
	e.markets = e.scanner.ActiveMarkets(now)
	e.refreshRealized(ctx, s.PaperTrading)

	e.checkBreaker(ctx, s, now)
	tripped := e.breaker.Tripped

	for _, asset := range s.EnabledAssets {
		m, ok := e.markets[asset]
		if !ok {
			continue
		}
		e.guard(asset, func() { e.evaluate(ctx, s, m, tripped, now) })
		if ctx.Err() != nil {
			return
		}
	}

	e.tickLadder(ctx, s, tripped, now)
	e.sweep(ctx, s, now)
	e.mark()

	e.ticks++
	e.publishSnapshot(ctx, now)
	metrics.RecordTick(e.now().Sub(started).Seconds())
}

// guard recovers a panic from one asset so the rest of the tick runs.
func (e *Engine) guard(asset string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordPanic(asset)
			e.logger.Error("asset evaluation panicked",
				slog.String("asset", asset),
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	fn()
}

func (e *Engine) evaluate(ctx context.Context, s domain.Settings, m domain.MarketState, tripped bool, now time.Time) {
	asset := m.Asset()
	t := e.positions[m.Info.Key()]
	var pos *domain.Position
	if t != nil {
		pos = t.pos
	}
	if pos == nil {
		if tripped {
			e.logDecision(s, asset, domain.Wait("circuit breaker tripped").Because(domain.ReasonBreaker), now)
			return
		}
		if len(e.positions) >= s.MaxPositions {
			e.logDecision(s, asset, domain.Wait(fmt.Sprintf("max positions reached (%d)", s.MaxPositions)).Because(domain.ReasonMaxPositions), now)
			return
		}
	}

	kind := s.StrategyFor(asset)
	if pos != nil && pos.Strategy != "" {
		kind = pos.Strategy
	}
	ev, err := e.strategies.Get(kind)
	if err != nil {
		e.logDecision(s, asset, domain.Wait(err.Error()).Because(domain.ReasonNoStrategy), now)
		return
	}
	in := e.inputs(s, asset, m, now)
	d := ev.Evaluate(s, m, pos, in)
	metrics.RecordDecision(asset, string(kind), string(d.Action))

	switch d.Action {
	case domain.DecisionBuy:
		if tripped {
			e.logDecision(s, asset, domain.Hold("circuit breaker tripped").Because(domain.ReasonBreaker), now)
			return
		}
		e.buy(ctx, s, m, t, kind, d, in)
	case domain.DecisionSell:
		if t == nil {
			return
		}
		e.sell(ctx, s, m, t, d, in)
	default:
		e.logDecision(s, asset, d, now)
	}
}

func (e *Engine) inputs(s domain.Settings, asset string, m domain.MarketState, now time.Time) strategy.Inputs {
	in := strategy.Inputs{
		Now:      now,
		FeedAge:  e.quotes.LastUpdateAge(asset),
		Momentum: e.quotes.Momentum(asset, time.Duration(s.MomentumLookbackSeconds*float64(time.Second))),
	}
	if p, ok := e.quotes.CurrentPrice(asset); ok {
		in.Reference = p
	}
	if p, ok := e.quotes.WindowOpenPrice(asset, m.Info.Start); ok {
		in.Open = p
	}
	return in
}

// buy sizes the order as min(buy amount, per-window remaining, available)
// and opens or extends the position.
func (e *Engine) buy(ctx context.Context, s domain.Settings, m domain.MarketState, t *tracked, kind domain.StrategyKind, d domain.Decision, in strategy.Inputs) {
	asset := m.Asset()
	var held float64
	if t != nil {
		held = t.pos.CostBasis
	}
	if t != nil && d.Side != t.pos.Side {
		e.logDecision(s, asset, domain.Hold(fmt.Sprintf("holding %s, not buying %s", t.pos.Side, d.Side)).Because(domain.ReasonSideLocked), in.Now)
		return
	}
	if held >= s.MaxPerWindow {
		e.logDecision(s, asset, domain.Hold(fmt.Sprintf("position at per-window cap %.2f", s.MaxPerWindow)).Because(domain.ReasonWindowCap), in.Now)
		return
	}

	amount := s.BuyAmount
	if d.Amount > 0 {
		amount = d.Amount
	}
	available := e.capital().Available
	amount = math.Min(amount, math.Min(s.MaxPerWindow-held, available))
	if amount <= 0.01 {
		e.logger.Debug("buy skipped, no capital",
			slog.String("asset", asset),
			slog.Float64("available", available),
		)
		return
	}

	price := d.Price
	if price <= 0 {
		price = m.PriceOf(d.Side)
	}
	rec, err := e.trader.ExecuteBuy(ctx, executor.BuyRequest{
		Market:    m,
		Side:      d.Side,
		Price:     price,
		Amount:    amount,
		Strategy:  kind,
		Paper:     s.PaperTrading,
		Slippage:  s.PaperSlippage,
		Reference: in.Reference,
	})
	if err != nil {
		e.orderFailed(asset, "buy", err)
		return
	}

	if t == nil {
		e.positions[m.Info.Key()] = &tracked{pos: domain.NewPosition(m.Info, rec), info: m.Info}
	} else if err := t.pos.ApplyBuy(rec); err != nil {
		e.logger.Error("buy recorded against mismatched position",
			slog.String("window", m.Info.ID()),
			slog.String("error", err.Error()),
		)
		return
	}
	e.logger.Info("bought",
		slog.String("window", m.Info.ID()),
		slog.String("side", string(rec.Side)),
		slog.Float64("price", rec.Price),
		slog.Float64("amount", rec.Amount),
		slog.String("reason", d.Reason),
	)
}

// sell closes the whole position. A partial live fill leaves the rest open.
func (e *Engine) sell(ctx context.Context, s domain.Settings, m domain.MarketState, t *tracked, d domain.Decision, in strategy.Inputs) {
	price := d.Price
	if price <= 0 {
		price = m.PriceOf(t.pos.Side)
	}
	rec, err := e.trader.ExecuteSell(ctx, executor.SellRequest{
		Position:  t.pos,
		Price:     price,
		Paper:     t.pos.Paper,
		Slippage:  s.PaperSlippage,
		Reference: in.Reference,
	})
	if err != nil {
		e.orderFailed(m.Asset(), "sell", err)
		return
	}
	if t.pos.ApplySell(rec) {
		delete(e.positions, m.Info.Key())
	}
	pnl, _ := rec.Realized()
	e.logger.Info("sold",
		slog.String("window", m.Info.ID()),
		slog.String("side", string(rec.Side)),
		slog.Float64("price", rec.Price),
		slog.Float64("pnl", pnl),
		slog.String("reason", d.Reason),
	)
	e.realized += pnl
	e.evaluateBreaker(ctx, s, in.Now)
}

func (e *Engine) orderFailed(asset, op string, err error) {
	e.logger.Warn("order failed",
		slog.String("asset", asset),
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	if errors.Is(err, domain.ErrDuplicateOrder) {
		return
	}
	e.alert("warn", fmt.Sprintf("%s %s failed: %v", asset, op, err))
}

// tickLadder advances the ladder for every arbitrage asset and every asset
// with a window still in flight. While the breaker is tripped no new window
// is entered.
func (e *Engine) tickLadder(ctx context.Context, s domain.Settings, tripped bool, now time.Time) {
	ls := s
	if tripped {
		ls.ArbEnabledAssets = nil
	}
	assets := slices.Clone(s.ArbEnabledAssets)
	for _, st := range e.ladder.States() {
		if !slices.Contains(assets, st.Info.Asset) {
			assets = append(assets, st.Info.Asset)
		}
	}
	for _, asset := range assets {
		e.guard(asset, func() {
			var mp *domain.MarketState
			if m, ok := e.markets[asset]; ok {
				mp = &m
			}
			res := e.ladder.Tick(ctx, ls, asset, mp, e.capital().Available, now)
			e.adoptSettling(res)
			for _, rec := range res.Records {
				if pnl, ok := rec.Realized(); ok {
					e.realized += pnl
				}
			}
		})
	}
}

// adoptSettling takes over live ladder sides for the resolution sweep.
func (e *Engine) adoptSettling(res ladder.Result) {
	if res.Resolved == nil {
		return
	}
	for _, p := range res.Settling {
		key := p.Window.Key() + ":" + string(p.Side)
		e.settling[key] = &tracked{pos: p, info: res.Resolved.Info}
	}
}

// sweep resolves positions whose window has ended. Lookups are throttled
// per position.
func (e *Engine) sweep(ctx context.Context, s domain.Settings, now time.Time) {
	retry := time.Duration(s.ResolutionRetrySeconds * float64(time.Second))
	realized := false
	for _, set := range []map[string]*tracked{e.positions, e.settling} {
		keys := make([]string, 0, len(set))
		for k := range set {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			t := set[k]
			if !e.due(t, now) {
				continue
			}
			if !t.lastAttempt.IsZero() && now.Sub(t.lastAttempt) < retry {
				continue
			}
			t.lastAttempt = now
			if e.resolve(ctx, t) {
				delete(set, k)
				realized = true
			}
		}
	}
	if realized {
		e.evaluateBreaker(ctx, s, now)
	}
}

// due reports whether the position's window has expired or the scanner has
// moved the asset to a later window.
func (e *Engine) due(t *tracked, now time.Time) bool {
	if t.info.Expired(now) {
		return true
	}
	m, ok := e.markets[t.info.Asset]
	return ok && m.Info.Start.After(t.info.Start)
}

func (e *Engine) resolve(ctx context.Context, t *tracked) bool {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	outcome, err := e.scanner.ResolveOutcome(cctx, t.info)
	cancel()
	if err != nil {
		e.logger.Debug("resolution lookup failed",
			slog.String("window", t.info.ID()),
			slog.String("error", err.Error()),
		)
		return false
	}
	if !outcome.Resolved() {
		return false
	}

	rec, err := e.trader.RecordResolution(ctx, t.pos, outcome)
	if err != nil {
		e.logger.Error("resolution record failed",
			slog.String("window", t.info.ID()),
			slog.String("error", err.Error()),
		)
		return false
	}
	e.scanner.MarkOutcome(t.info.Window, outcome)
	pnl, _ := rec.Realized()
	e.realized += pnl
	e.logger.Info("position resolved",
		slog.String("window", t.info.ID()),
		slog.String("side", string(t.pos.Side)),
		slog.String("outcome", string(outcome)),
		slog.Float64("pnl", pnl),
	)
	return true
}

// mark revalues open positions at the latest quotes.
func (e *Engine) mark() {
	for _, set := range []map[string]*tracked{e.positions, e.settling} {
		for _, t := range set {
			m, ok := e.markets[t.info.Asset]
			if !ok || !m.Info.Start.Equal(t.info.Start) {
				continue
			}
			t.pos.Mark(m.PriceOf(t.pos.Side))
		}
	}
}

// capital derives the capital state from positions and the ladder pool.
func (e *Engine) capital() domain.CapitalState {
	var cost float64
	for _, set := range []map[string]*tracked{e.positions, e.settling} {
		for _, t := range set {
			cost += t.pos.CostBasis
		}
	}
	c := domain.NewCapitalState(e.current.Bankroll+e.realized, cost, e.ladder.AtRisk(), e.current.MaxTotalExposure)
	c.ArbPool = e.ladder.Pool()
	c.ArbPoolCeiling = e.ladder.Ceiling()
	return c
}

func (e *Engine) refreshRealized(ctx context.Context, paper bool) {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	v, err := e.ledger.CumulativePnL(cctx, paper)
	if err != nil {
		e.logger.Warn("cumulative pnl unavailable", slog.String("error", err.Error()))
		return
	}
	e.realized = v
}

// logDecision logs a non-trading decision only when its reason code changes
// or the idle period has passed.
func (e *Engine) logDecision(s domain.Settings, asset string, d domain.Decision, now time.Time) {
	idle := time.Duration(s.LogIdleSeconds * float64(time.Second))
	last, ok := e.lastLog[asset]
	if ok && last.key == d.LogKey() && now.Sub(last.at) < idle {
		return
	}
	e.lastLog[asset] = logState{key: d.LogKey(), at: now}
	e.logger.Info("decision",
		slog.String("asset", asset),
		slog.String("action", string(d.Action)),
		slog.String("code", string(d.Code)),
		slog.String("reason", d.Reason),
	)
	e.sink.Publish(domain.Event{
		Kind:    domain.EventLog,
		Time:    now.UTC(),
		Level:   "info",
		Message: fmt.Sprintf("%s %s: %s", asset, d.Action, d.Reason),
	})
}

func (e *Engine) alert(level, msg string) {
	e.sink.Publish(domain.Event{
		Kind:    domain.EventAlert,
		Time:    e.now().UTC(),
		Level:   level,
		Message: msg,
	})
}

func recordCapital(c domain.CapitalState, open int) {
	metrics.UpdateCapital(c.Bankroll, c.Deployed, c.Available, c.ArbPool, open)
}
