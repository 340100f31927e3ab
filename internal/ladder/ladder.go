// Package ladder runs the delta-neutral arbitrage sub-engine. For each
// enabled asset it rests a ladder of limit buys on both outcomes of the
// current window, tracks fills, cancels what is left shortly before close
// and recycles a bounded capital pool across windows.
//
// An Engine is owned by the orchestrator goroutine and is not safe for
// concurrent use.
package ladder

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/executor"
	"github.com/alanyoungcy/updownbot/internal/metrics"
)

const (
	// partialBand is how close a quote must be to a paper limit for a
	// partial fill.
	partialBand = 0.02
	// partialFraction of the target fills when the quote is within the band.
	partialFraction = 0.30
	priceEpsilon    = 1e-9
)

// Recorder writes ladder fills and simulated settlements to the ledger.
type Recorder interface {
	RecordFill(ctx context.Context, req executor.FillRequest) (domain.TradeRecord, error)
	RecordResolution(ctx context.Context, pos *domain.Position, outcome domain.Outcome) (domain.TradeRecord, error)
}

// Resolver looks up the outcome of a window. It returns OutcomePending when
// nothing is known yet.
type Resolver interface {
	ResolveOutcome(ctx context.Context, info domain.WindowInfo) (domain.Outcome, error)
}

// Result is what one asset's tick produced.
type Result struct {
	// Resolved is the window state that was closed out this tick, if any.
	Resolved *domain.ArbWindowState
	// Settling are live filled sides handed to the orchestrator, which
	// settles them like any other position once the venue resolves.
	Settling []*domain.Position
	Records  []domain.TradeRecord
}

// Engine holds one ArbWindowState per asset and the shared capital pool.
type Engine struct {
	venue       domain.Venue
	rec         Recorder
	resolver    Resolver
	sink        domain.EventSink
	coin        func() float64
	callTimeout time.Duration
	logger      *slog.Logger

	pool     float64
	ceiling  float64
	states   map[string]*domain.ArbWindowState
	resolved map[string]string
	stats    domain.ArbStats
}

// Option customises an Engine.
type Option func(*Engine)

// WithResolver makes paper windows settle on the observed outcome when one
// is known.
func WithResolver(r Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithEventSink publishes an alert per resolved window.
func WithEventSink(sink domain.EventSink) Option {
	return func(e *Engine) { e.sink = sink }
}

// WithCoin replaces the uniform source used when a paper outcome is unknown.
func WithCoin(fn func() float64) Option {
	return func(e *Engine) { e.coin = fn }
}

// WithCallTimeout bounds every venue call.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) { e.callTimeout = d }
}

// New creates an Engine whose pool starts full at ceiling. venue may be nil
// when only paper windows are traded.
func New(venue domain.Venue, rec Recorder, ceiling float64, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		venue:       venue,
		rec:         rec,
		coin:        rand.Float64,
		callTimeout: 10 * time.Second,
		logger:      logger.With(slog.String("component", "ladder")),
		pool:        math.Max(0, ceiling),
		ceiling:     math.Max(0, ceiling),
		states:      make(map[string]*domain.ArbWindowState),
		resolved:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Pool is the unreserved capital.
func (e *Engine) Pool() float64 { return e.pool }

// Ceiling is the pool's upper bound.
func (e *Engine) Ceiling() float64 { return e.ceiling }

// AtRisk is the capital reserved by windows that are not yet resolved.
func (e *Engine) AtRisk() float64 {
	var total float64
	for _, st := range e.states {
		if st.Status != domain.ArbResolved {
			total += st.Reserved
		}
	}
	return total
}

// Stats returns the run tallies.
func (e *Engine) Stats() domain.ArbStats { return e.stats }

// States returns copies of the in-flight windows ordered by asset.
func (e *Engine) States() []domain.ArbWindowState {
	out := make([]domain.ArbWindowState, 0, len(e.states))
	for _, st := range e.states {
		out = append(out, cloneState(st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Info.Asset < out[j].Info.Asset })
	return out
}

// State returns a copy of the in-flight window of asset.
func (e *Engine) State(asset string) (domain.ArbWindowState, bool) {
	st, ok := e.states[strings.ToLower(asset)]
	if !ok {
		return domain.ArbWindowState{}, false
	}
	return cloneState(st), true
}

// SetCeiling moves the pool ceiling. The pool shifts by the same amount and
// stays within [0, ceiling].
func (e *Engine) SetCeiling(ceiling float64) {
	ceiling = math.Max(0, ceiling)
	if ceiling == e.ceiling {
		return
	}
	e.pool = clamp(e.pool+ceiling-e.ceiling, 0, ceiling)
	e.ceiling = ceiling
}

// Tick advances the window state of asset. market is nil when the scanner
// has no active window for it; available is the orchestrator's free capital
// under the exposure cap.
func (e *Engine) Tick(ctx context.Context, s domain.Settings, asset string, market *domain.MarketState, available float64, now time.Time) Result {
	asset = strings.ToLower(asset)
	e.SetCeiling(s.ArbPoolCeiling)

	var res Result
	st := e.states[asset]
	if st != nil {
		rotated := market != nil && market.Info.ID() != st.WindowID
		if rotated || st.Info.Expired(now) {
			if st.Status == domain.ArbActive {
				if !st.Paper {
					e.refresh(ctx, st, e.openOrders(st))
				}
				e.cancel(ctx, st)
			}
			res = e.resolve(ctx, st)
			delete(e.states, asset)
			e.resolved[asset] = st.WindowID
			st = nil
		}
	}
	if market == nil {
		return res
	}

	if st == nil {
		if !s.ArbEnabled(asset) || e.resolved[asset] == market.Info.ID() {
			return res
		}
		st = e.enter(ctx, s, *market, available, now)
		if st == nil {
			return res
		}
		e.states[asset] = st
	}

	if st.Status == domain.ArbActive {
		e.poll(ctx, st, *market)
		if market.Remaining(now) <= s.CancelBeforeEndSeconds {
			e.cancel(ctx, st)
		}
	}
	return res
}

// Flush resolves every in-flight window, e.g. on shutdown.
func (e *Engine) Flush(ctx context.Context) []Result {
	assets := make([]string, 0, len(e.states))
	for a := range e.states {
		assets = append(assets, a)
	}
	sort.Strings(assets)
	out := make([]Result, 0, len(assets))
	for _, a := range assets {
		st := e.states[a]
		if st.Status == domain.ArbActive {
			e.cancel(ctx, st)
		}
		out = append(out, e.resolve(ctx, st))
		delete(e.states, a)
		e.resolved[a] = st.WindowID
	}
	return out
}

// enter opens a new window and reserves its allocation. It returns nil when
// the window cannot be entered.
func (e *Engine) enter(ctx context.Context, s domain.Settings, m domain.MarketState, available float64, now time.Time) *domain.ArbWindowState {
	upBudget, downBudget := s.ArbBudgets()
	reserve := math.Max(s.ArbWindowAllocation, upBudget+downBudget)
	if reserve <= 0 || e.pool+priceEpsilon < reserve || available+priceEpsilon < reserve {
		return nil
	}
	if m.Remaining(now) <= s.CancelBeforeEndSeconds {
		return nil
	}
	if !s.PaperTrading && e.venue == nil {
		e.logger.Warn("live ladder without venue", slog.String("window", m.Info.ID()))
		return nil
	}

	st := &domain.ArbWindowState{
		WindowID: m.Info.ID(),
		Info:     m.Info,
		Up:       domain.SideFills{Side: domain.SideUp, TokenID: m.Info.UpTokenID},
		Down:     domain.SideFills{Side: domain.SideDown, TokenID: m.Info.DownTokenID},
		Status:   domain.ArbActive,
		Paper:    s.PaperTrading,
		Outcome:  domain.OutcomePending,
		OpenedAt: now.UTC(),
	}
	st.Up.Orders = buildOrders(upBudget, s.LadderLevels)
	st.Down.Orders = buildOrders(downBudget, s.LadderLevels)
	if len(st.Up.Orders)+len(st.Down.Orders) == 0 {
		return nil
	}

	if st.Paper {
		for _, side := range []*domain.SideFills{&st.Up, &st.Down} {
			for i := range side.Orders {
				side.Orders[i].OrderID = "paper-" + uuid.NewString()
				side.Orders[i].Status = domain.LadderPlaced
			}
		}
	} else if e.placeLive(ctx, st) == 0 {
		e.logger.Warn("no ladder order accepted", slog.String("window", st.WindowID))
		return nil
	}

	st.Reserved = reserve
	e.pool -= reserve
	st.Recompute()
	e.logger.Info("ladder opened",
		slog.String("window", st.WindowID),
		slog.Bool("paper", st.Paper),
		slog.Float64("reserved", reserve),
		slog.Float64("pool", e.pool),
		slog.Int("orders", len(st.Up.Orders)+len(st.Down.Orders)),
	)
	return st
}

// buildOrders returns one pending order per level. Target shares are
// budget×allocation/price rounded to 4 decimals.
func buildOrders(budget float64, levels []domain.LadderLevel) []domain.LadderOrder {
	if budget <= 0 {
		return nil
	}
	orders := make([]domain.LadderOrder, 0, len(levels))
	for _, l := range levels {
		if l.Price <= 0 || l.Price >= 1 || l.Allocation <= 0 {
			continue
		}
		target := roundShares(budget * l.Allocation / l.Price)
		if target <= 0 {
			continue
		}
		orders = append(orders, domain.LadderOrder{
			Price:      l.Price,
			TargetSize: target,
			Status:     domain.LadderPending,
		})
	}
	return orders
}

// placeLive submits every order in parallel and returns how many the venue
// accepted. Rejected orders are marked cancelled.
func (e *Engine) placeLive(ctx context.Context, st *domain.ArbWindowState) int {
	var g errgroup.Group
	for _, side := range []*domain.SideFills{&st.Up, &st.Down} {
		for i := range side.Orders {
			o := &side.Orders[i]
			token := side.TokenID
			g.Go(func() error {
				cctx, cancel := context.WithTimeout(ctx, e.callTimeout)
				defer cancel()
				res, err := e.venue.PlaceBuy(cctx, domain.OrderRequest{
					TokenID: token,
					Price:   o.Price,
					Size:    o.TargetSize,
					Type:    domain.OrderGTC,
				})
				if err == nil && !res.Success {
					err = fmt.Errorf("%w: %s", domain.ErrVenueRejected, res.Error)
				}
				if err != nil {
					o.Status = domain.LadderCancelled
					metrics.RecordOrderFailure("ladder_place")
					e.logger.Warn("ladder order failed",
						slog.String("window", st.WindowID),
						slog.Float64("price", o.Price),
						slog.String("error", err.Error()),
					)
					return nil
				}
				o.OrderID = res.OrderID
				o.Status = domain.LadderPlaced
				if res.FilledSize > 0 {
					applyFilled(o, res.FilledSize)
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	placed := 0
	for _, side := range []*domain.SideFills{&st.Up, &st.Down} {
		for _, o := range side.Orders {
			if o.OrderID != "" {
				placed++
			}
		}
	}
	return placed
}

// poll refreshes fills of the non-terminal orders.
func (e *Engine) poll(ctx context.Context, st *domain.ArbWindowState, m domain.MarketState) {
	if st.Paper {
		for _, side := range []*domain.SideFills{&st.Up, &st.Down} {
			simulateFills(side, m.PriceOf(side.Side))
		}
		st.Recompute()
		return
	}

	e.refresh(ctx, st, e.openOrders(st))
}

// openOrders returns the live orders that can still fill.
func (e *Engine) openOrders(st *domain.ArbWindowState) []*domain.LadderOrder {
	var out []*domain.LadderOrder
	for _, side := range []*domain.SideFills{&st.Up, &st.Down} {
		for i := range side.Orders {
			o := &side.Orders[i]
			if !o.Status.Terminal() && o.OrderID != "" {
				out = append(out, o)
			}
		}
	}
	return out
}

// refresh pulls the venue state of orders in parallel and applies fills.
func (e *Engine) refresh(ctx context.Context, st *domain.ArbWindowState, orders []*domain.LadderOrder) {
	if len(orders) == 0 || e.venue == nil {
		return
	}
	var g errgroup.Group
	for _, o := range orders {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, e.callTimeout)
			defer cancel()
			state, err := e.venue.OrderStatus(cctx, o.OrderID)
			if err != nil {
				e.logger.Debug("ladder status failed",
					slog.String("order_id", o.OrderID),
					slog.String("error", err.Error()),
				)
				return nil
			}
			applyState(o, state)
			return nil
		})
	}
	_ = g.Wait()
	st.Recompute()
}

// simulateFills fills paper orders against the current quote: fully once the
// quote is at or below the limit, 30% once when it is within two cents.
func simulateFills(side *domain.SideFills, price float64) {
	if price <= 0 || price >= 1 {
		return
	}
	for i := range side.Orders {
		o := &side.Orders[i]
		if o.Status.Terminal() {
			continue
		}
		switch {
		case price <= o.Price+priceEpsilon:
			o.FilledSize = o.TargetSize
			o.Status = domain.LadderFilled
		case o.FilledSize == 0 && price-o.Price <= partialBand+priceEpsilon:
			o.FilledSize = roundShares(o.TargetSize * partialFraction)
			o.Status = domain.LadderPartial
		}
	}
}

func applyState(o *domain.LadderOrder, s domain.OrderState) {
	if s.SizeFilled > o.FilledSize {
		applyFilled(o, s.SizeFilled)
	}
	switch strings.ToLower(s.Status) {
	case "matched", "filled":
		o.FilledSize = o.TargetSize
		o.Status = domain.LadderFilled
	case "canceled", "cancelled", "expired":
		o.Status = domain.LadderCancelled
	}
}

func applyFilled(o *domain.LadderOrder, filled float64) {
	o.FilledSize = math.Min(filled, o.TargetSize)
	if o.FilledSize >= o.TargetSize-priceEpsilon {
		o.Status = domain.LadderFilled
	} else if o.FilledSize > 0 {
		o.Status = domain.LadderPartial
	}
}

// cancel pulls every non-terminal order and moves the window to cancelling.
// Live orders are checked once more after the cancel so fills that raced it
// are still counted.
func (e *Engine) cancel(ctx context.Context, st *domain.ArbWindowState) {
	var (
		ids    []string
		pulled []*domain.LadderOrder
	)
	for _, side := range []*domain.SideFills{&st.Up, &st.Down} {
		for i := range side.Orders {
			o := &side.Orders[i]
			if o.Status.Terminal() {
				continue
			}
			if !st.Paper && o.OrderID != "" {
				ids = append(ids, o.OrderID)
				pulled = append(pulled, o)
			}
			o.Status = domain.LadderCancelled
		}
	}
	if len(ids) > 0 {
		cctx, cancel := context.WithTimeout(ctx, e.callTimeout)
		err := e.venue.Cancel(cctx, ids)
		cancel()
		if err != nil {
			e.logger.Warn("ladder cancel failed",
				slog.String("window", st.WindowID),
				slog.Int("orders", len(ids)),
				slog.String("error", err.Error()),
			)
		}
		e.refresh(ctx, st, pulled)
		for _, o := range pulled {
			if o.Status != domain.LadderFilled {
				o.Status = domain.LadderCancelled
			}
		}
	}
	st.Status = domain.ArbCancelling
	st.Recompute()
	e.logger.Info("ladder cancelling",
		slog.String("window", st.WindowID),
		slog.Float64("up_shares", st.Up.TotalShares),
		slog.Float64("down_shares", st.Down.TotalShares),
		slog.Float64("combined_cost", st.CombinedCost),
	)
}

// resolve closes out st and returns its capital to the pool.
func (e *Engine) resolve(ctx context.Context, st *domain.ArbWindowState) Result {
	st.Recompute()
	res := Result{Resolved: st}
	e.stats.WindowsPlayed++

	if !st.HasFills() {
		e.refill(st.Reserved)
		e.stats.NeitherFilled++
		st.Status = domain.ArbResolved
		e.finish(st, "neither", 0)
		return res
	}

	filled := "one"
	if st.Up.TotalShares > 0 && st.Down.TotalShares > 0 {
		e.stats.BothFilled++
		filled = "both"
	} else {
		e.stats.OneFilled++
	}

	for _, side := range []*domain.SideFills{&st.Up, &st.Down} {
		for _, o := range side.Orders {
			if o.FilledSize <= 0 {
				continue
			}
			rec, err := e.rec.RecordFill(ctx, executor.FillRequest{
				Info:     st.Info,
				Side:     side.Side,
				Price:    o.Price,
				Shares:   o.FilledSize,
				OrderID:  o.OrderID,
				Strategy: domain.StrategyArbitrage,
				Paper:    st.Paper,
				Maker:    true,
			})
			if err != nil {
				e.logger.Error("ladder fill record failed",
					slog.String("window", st.WindowID),
					slog.String("order_id", o.OrderID),
					slog.String("error", err.Error()),
				)
				continue
			}
			res.Records = append(res.Records, rec)
		}
	}

	var pnl float64
	if st.Paper {
		st.Outcome = e.paperOutcome(ctx, st)
		var payout float64
		for _, side := range []*domain.SideFills{&st.Up, &st.Down} {
			if side.TotalShares <= 0 {
				continue
			}
			pos := sidePosition(st, side)
			p := pos.Payout(st.Outcome)
			payout += p
			pnl += p - pos.CostBasis
			rec, err := e.rec.RecordResolution(ctx, pos, st.Outcome)
			if err != nil {
				e.logger.Error("ladder resolution record failed",
					slog.String("window", st.WindowID),
					slog.String("side", string(side.Side)),
					slog.String("error", err.Error()),
				)
				continue
			}
			res.Records = append(res.Records, rec)
		}
		e.refill(payout + st.Reserved - st.FilledCost())
	} else {
		e.refill(st.Reserved)
		for _, side := range []*domain.SideFills{&st.Up, &st.Down} {
			if side.TotalShares > 0 {
				res.Settling = append(res.Settling, sidePosition(st, side))
			}
		}
	}

	e.stats.TotalPnL += pnl
	st.Status = domain.ArbResolved
	e.finish(st, filled, pnl)
	return res
}

func (e *Engine) finish(st *domain.ArbWindowState, filled string, pnl float64) {
	if e.stats.WindowsPlayed > 0 {
		e.stats.AvgPnL = e.stats.TotalPnL / float64(e.stats.WindowsPlayed)
	}
	metrics.RecordLadderWindow(filled, e.stats.TotalPnL)
	e.logger.Info("ladder resolved",
		slog.String("window", st.WindowID),
		slog.String("filled", filled),
		slog.String("outcome", string(st.Outcome)),
		slog.Float64("combined_cost", st.CombinedCost),
		slog.Float64("pnl", pnl),
		slog.Float64("pool", e.pool),
	)
	if e.sink != nil && filled != "neither" {
		e.sink.Publish(domain.Event{
			Kind:    domain.EventAlert,
			Time:    time.Now().UTC(),
			Level:   "info",
			Message: fmt.Sprintf("ladder %s resolved: %s filled, combined %.4f, pnl %.2f", st.WindowID, filled, st.CombinedCost, pnl),
			Payload: cloneState(st),
		})
	}
}

// paperOutcome prefers an observed outcome and falls back to a fair coin.
func (e *Engine) paperOutcome(ctx context.Context, st *domain.ArbWindowState) domain.Outcome {
	if e.resolver != nil {
		cctx, cancel := context.WithTimeout(ctx, e.callTimeout)
		out, err := e.resolver.ResolveOutcome(cctx, st.Info)
		cancel()
		if err == nil && out.Resolved() {
			return out
		}
	}
	if e.coin() < 0.5 {
		return domain.OutcomeUp
	}
	return domain.OutcomeDown
}

func (e *Engine) refill(amount float64) {
	e.pool = clamp(e.pool+amount, 0, e.ceiling)
}

func sidePosition(st *domain.ArbWindowState, side *domain.SideFills) *domain.Position {
	return &domain.Position{
		Window:      st.Info.Window,
		ConditionID: st.Info.ConditionID,
		TokenID:     side.TokenID,
		Side:        side.Side,
		Shares:      side.TotalShares,
		CostBasis:   side.TotalCost,
		AvgEntry:    side.AvgPrice,
		MarkPrice:   side.AvgPrice,
		EntryTime:   st.OpenedAt,
		Strategy:    domain.StrategyArbitrage,
		Paper:       st.Paper,
		Buys:        len(side.Orders),
	}
}

func cloneState(st *domain.ArbWindowState) domain.ArbWindowState {
	c := *st
	c.Up.Orders = append([]domain.LadderOrder(nil), st.Up.Orders...)
	c.Down.Orders = append([]domain.LadderOrder(nil), st.Down.Orders...)
	return c
}

func roundShares(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
