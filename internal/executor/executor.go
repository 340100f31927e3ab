// Package executor turns engine decisions into venue orders or simulated
// fills and writes the resulting immutable ledger records.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/metrics"
)

const (
	minPrice = 0.01
	maxPrice = 0.99
)

// BuyRequest describes a dollar-sized buy of one outcome.
type BuyRequest struct {
	Market    domain.MarketState
	Side      domain.Side
	Price     float64
	Amount    float64
	Strategy  domain.StrategyKind
	Paper     bool
	Slippage  float64
	Reference float64
}

// SellRequest closes a position at price.
type SellRequest struct {
	Position  *domain.Position
	Price     float64
	Paper     bool
	Slippage  float64
	Reference float64
}

// FillRequest records a fill obtained elsewhere, e.g. a ladder order.
type FillRequest struct {
	Info     domain.WindowInfo
	Side     domain.Side
	Price    float64
	Shares   float64
	OrderID  string
	Strategy domain.StrategyKind
	Paper    bool
	// Maker fills rested on the book and pay no taker fee.
	Maker bool
}

// Executor places orders and writes trade records.
type Executor struct {
	venue       domain.Venue
	ledger      domain.TradeLedger
	sink        domain.EventSink
	dedup       *Dedup
	callTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// Option customises an Executor.
type Option func(*Executor)

// WithEventSink publishes every written record as a trade event.
func WithEventSink(sink domain.EventSink) Option {
	return func(e *Executor) { e.sink = sink }
}

// WithDedupTTL sets how long an (asset, window, side, action) submission
// blocks an identical one.
func WithDedupTTL(ttl time.Duration) Option {
	return func(e *Executor) { e.dedup = NewDedup(ttl) }
}

// WithCallTimeout bounds every venue call.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Executor) { e.callTimeout = d }
}

// WithClock replaces the record timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// New creates an Executor. venue may be nil when only paper trading is used.
func New(venue domain.Venue, ledger domain.TradeLedger, logger *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		venue:       venue,
		ledger:      ledger,
		dedup:       NewDedup(2 * time.Second),
		callTimeout: 10 * time.Second,
		logger:      logger.With(slog.String("component", "executor")),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.dedup.now = e.now
	return e
}

// Cleanup drops expired dedup entries.
func (e *Executor) Cleanup() { e.dedup.Cleanup() }

// ExecuteBuy buys Amount dollars of Side. Paper buys are filled analytically
// at Price plus slippage; live buys are submitted as fill-and-kill orders and
// recorded at the venue's actual fill. A failed live order writes nothing.
func (e *Executor) ExecuteBuy(ctx context.Context, req BuyRequest) (domain.TradeRecord, error) {
	if !req.Side.Valid() {
		return domain.TradeRecord{}, fmt.Errorf("executor: buy: invalid side %q", req.Side)
	}
	if req.Amount <= 0 || req.Price <= 0 || req.Price >= 1 {
		return domain.TradeRecord{}, fmt.Errorf("executor: buy: invalid amount %.4f or price %.4f", req.Amount, req.Price)
	}
	info := req.Market.Info
	key := dedupKey(info.Window, req.Side, domain.ActionBuy)
	if e.dedup.IsDuplicate(key) {
		metrics.RecordOrderFailure("duplicate")
		return domain.TradeRecord{}, fmt.Errorf("executor: buy %s: %w", key, domain.ErrDuplicateOrder)
	}

	limit := math.Min(req.Price*(1+req.Slippage), maxPrice)
	rec := domain.TradeRecord{
		Timestamp:      e.now().UTC(),
		Asset:          info.Asset,
		WindowStart:    info.Start,
		WindowEnd:      info.End(),
		Side:           req.Side,
		Action:         domain.ActionBuy,
		Strategy:       req.Strategy,
		Paper:          req.Paper,
		ReferencePrice: req.Reference,
	}

	if req.Paper {
		shares, cost := SharesForAmount(req.Amount, limit)
		if shares <= 0 {
			e.dedup.Release(key)
			return domain.TradeRecord{}, fmt.Errorf("executor: buy: amount %.4f too small", req.Amount)
		}
		rec.Price = limit
		rec.Shares = shares
		rec.Amount = cost
		rec.Fee = Fee(shares, limit)
		rec.OrderID = "paper-" + uuid.NewString()
	} else {
		shares, _ := SharesForAmount(req.Amount, limit)
		res, err := e.place(ctx, domain.OrderRequest{
			TokenID: info.TokenFor(req.Side),
			Price:   limit,
			Size:    shares,
			Type:    domain.OrderFAK,
		}, true)
		if err != nil {
			e.dedup.Release(key)
			return domain.TradeRecord{}, fmt.Errorf("executor: buy %s: %w", key, err)
		}
		rec.Price = res.FilledPrice
		rec.Shares = res.FilledSize
		rec.Fee = Fee(res.FilledSize, res.FilledPrice)
		rec.Amount = round6(res.FilledSize*res.FilledPrice + rec.Fee)
		rec.OrderID = res.OrderID
	}
	rec.Slippage = round6(rec.Price - req.Price)

	return e.write(ctx, rec)
}

// ExecuteSell closes the whole position. Live sells may fill partially; the
// record then covers the filled shares and its P&L the matching share of the
// cost basis.
func (e *Executor) ExecuteSell(ctx context.Context, req SellRequest) (domain.TradeRecord, error) {
	pos := req.Position
	if pos == nil || pos.Shares <= 0 {
		return domain.TradeRecord{}, fmt.Errorf("executor: sell: no open position")
	}
	if req.Price <= 0 || req.Price >= 1 {
		return domain.TradeRecord{}, fmt.Errorf("executor: sell: invalid price %.4f", req.Price)
	}
	key := dedupKey(pos.Window, pos.Side, domain.ActionSell)
	if e.dedup.IsDuplicate(key) {
		metrics.RecordOrderFailure("duplicate")
		return domain.TradeRecord{}, fmt.Errorf("executor: sell %s: %w", key, domain.ErrDuplicateOrder)
	}

	limit := math.Max(req.Price*(1-req.Slippage), minPrice)
	rec := domain.TradeRecord{
		Timestamp:      e.now().UTC(),
		Asset:          pos.Asset(),
		WindowStart:    pos.Window.Start,
		WindowEnd:      pos.Window.End(),
		Side:           pos.Side,
		Action:         domain.ActionSell,
		Strategy:       pos.Strategy,
		Paper:          req.Paper,
		ReferencePrice: req.Reference,
	}

	if req.Paper {
		rec.Price = limit
		rec.Shares = pos.Shares
		rec.OrderID = "paper-" + uuid.NewString()
	} else {
		res, err := e.place(ctx, domain.OrderRequest{
			TokenID: pos.TokenID,
			Price:   limit,
			Size:    pos.Shares,
			Type:    domain.OrderFAK,
		}, false)
		if err != nil {
			e.dedup.Release(key)
			return domain.TradeRecord{}, fmt.Errorf("executor: sell %s: %w", key, err)
		}
		rec.Price = res.FilledPrice
		rec.Shares = math.Min(res.FilledSize, pos.Shares)
		rec.OrderID = res.OrderID
	}
	rec.Fee = Fee(rec.Shares, rec.Price)
	rec.Amount = Proceeds(rec.Shares, rec.Price)
	rec.Slippage = round6(req.Price - rec.Price)
	basis := pos.CostBasis * rec.Shares / pos.Shares
	pnl := round6(rec.Amount - basis)
	rec.PnL = &pnl

	return e.write(ctx, rec)
}

// RecordResolution writes the settlement of a position: payout is one dollar
// per share when the held side won, else zero.
func (e *Executor) RecordResolution(ctx context.Context, pos *domain.Position, outcome domain.Outcome) (domain.TradeRecord, error) {
	if pos == nil {
		return domain.TradeRecord{}, fmt.Errorf("executor: resolution: no position")
	}
	if !outcome.Resolved() {
		return domain.TradeRecord{}, fmt.Errorf("executor: resolution %s: outcome %s", pos.Window.ID(), outcome)
	}
	payout := pos.Payout(outcome)
	pnl := round6(payout - pos.CostBasis)
	price := 0.0
	if payout > 0 {
		price = 1
	}
	rec := domain.TradeRecord{
		Timestamp:   e.now().UTC(),
		Asset:       pos.Asset(),
		WindowStart: pos.Window.Start,
		WindowEnd:   pos.Window.End(),
		Side:        pos.Side,
		Action:      domain.ActionResolution,
		Price:       price,
		Amount:      round6(payout),
		Shares:      pos.Shares,
		PnL:         &pnl,
		Paper:       pos.Paper,
		Strategy:    pos.Strategy,
	}
	return e.write(ctx, rec)
}

// RecordFill writes a buy record for shares filled outside ExecuteBuy.
func (e *Executor) RecordFill(ctx context.Context, req FillRequest) (domain.TradeRecord, error) {
	if req.Shares <= 0 {
		return domain.TradeRecord{}, fmt.Errorf("executor: fill: no shares")
	}
	fee := 0.0
	if !req.Maker {
		fee = Fee(req.Shares, req.Price)
	}
	rec := domain.TradeRecord{
		Timestamp:   e.now().UTC(),
		Asset:       req.Info.Asset,
		WindowStart: req.Info.Start,
		WindowEnd:   req.Info.End(),
		Side:        req.Side,
		Action:      domain.ActionBuy,
		Price:       req.Price,
		Amount:      round6(req.Shares*req.Price + fee),
		Shares:      req.Shares,
		Paper:       req.Paper,
		OrderID:     req.OrderID,
		Strategy:    req.Strategy,
		Fee:         fee,
	}
	return e.write(ctx, rec)
}

func (e *Executor) place(ctx context.Context, req domain.OrderRequest, buy bool) (domain.OrderResult, error) {
	if e.venue == nil {
		return domain.OrderResult{}, fmt.Errorf("live order without venue: %w", domain.ErrUnauthorized)
	}
	if req.Size <= 0 {
		return domain.OrderResult{}, fmt.Errorf("order size %.4f: %w", req.Size, domain.ErrVenueRejected)
	}
	cctx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	op := "place_sell"
	if buy {
		op = "place_buy"
	}
	start := time.Now()
	var (
		res domain.OrderResult
		err error
	)
	if buy {
		res, err = e.venue.PlaceBuy(cctx, req)
	} else {
		res, err = e.venue.PlaceSell(cctx, req)
	}
	metrics.RecordVenueCall(op, time.Since(start).Seconds(), err)
	if err != nil {
		metrics.RecordOrderFailure("error")
		return domain.OrderResult{}, err
	}
	if !res.Success || res.FilledSize <= 0 {
		metrics.RecordOrderFailure("rejected")
		reason := res.Error
		if reason == "" {
			reason = "no fill"
		}
		return domain.OrderResult{}, fmt.Errorf("%w: %s", domain.ErrVenueRejected, reason)
	}
	return res, nil
}

func (e *Executor) write(ctx context.Context, rec domain.TradeRecord) (domain.TradeRecord, error) {
	stored, err := e.ledger.InsertTrade(ctx, rec)
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("executor: write %s %s: %w", rec.Action, rec.Window().ID(), err)
	}
	metrics.RecordTrade(string(stored.Action), string(stored.Strategy), stored.Paper, stored.PnL)

	attrs := []any{
		slog.String("asset", stored.Asset),
		slog.String("window", stored.Window().ID()),
		slog.String("action", string(stored.Action)),
		slog.String("side", string(stored.Side)),
		slog.Float64("price", stored.Price),
		slog.Float64("shares", stored.Shares),
		slog.Float64("amount", stored.Amount),
		slog.Bool("paper", stored.Paper),
	}
	if pnl, ok := stored.Realized(); ok {
		attrs = append(attrs, slog.Float64("pnl", pnl))
	}
	e.logger.Info("trade recorded", attrs...)

	if e.sink != nil {
		e.sink.Publish(domain.Event{Kind: domain.EventTrade, Time: stored.Timestamp, Payload: stored})
	}
	return stored, nil
}

func dedupKey(w domain.Window, side domain.Side, action domain.TradeAction) string {
	return fmt.Sprintf("%s:%s:%s", w.ID(), side, action)
}
