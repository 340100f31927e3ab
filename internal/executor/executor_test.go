package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/store/memory"
)

type stubVenue struct {
	domain.Venue
	result domain.OrderResult
	err    error
	orders []domain.OrderRequest
}

func (v *stubVenue) PlaceBuy(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	v.orders = append(v.orders, req)
	return v.result, v.err
}

func (v *stubVenue) PlaceSell(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	v.orders = append(v.orders, req)
	return v.result, v.err
}

type captureSink struct{ events []domain.Event }

func (c *captureSink) Publish(ev domain.Event) { c.events = append(c.events, ev) }

var start = time.Unix(1700000100, 0).UTC()

func testMarket() domain.MarketState {
	return domain.MarketState{
		Info: domain.WindowInfo{
			Window:      domain.Window{Asset: "btc", Start: start},
			UpTokenID:   "tok-up",
			DownTokenID: "tok-down",
			Active:      true,
		},
		UpPrice:   0.5,
		DownPrice: 0.5,
	}
}

func newTestExecutor(v domain.Venue, ledger domain.TradeLedger, opts ...Option) *Executor {
	e := New(v, ledger, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
	e.now = func() time.Time { return start.Add(5 * time.Minute) }
	return e
}

func TestFeeScenarioC(t *testing.T) {
	assert.InDelta(t, 0.15625, Fee(10, 0.5), 1e-9)
	assert.InDelta(t, 0, Fee(10, 0.99), 3e-4)
	assert.Less(t, Fee(10, 0.99), Fee(10, 0.9))
	assert.Zero(t, Fee(10, 1))
}

func TestSharesForAmountStaysUnderBudget(t *testing.T) {
	shares, cost := SharesForAmount(5, 0.5)
	assert.LessOrEqual(t, cost, 5.0)
	assert.InDelta(t, 5, cost, 0.001)
	assert.InDelta(t, 5/(0.5+0.015625), shares, 0.0001)

	shares, cost = SharesForAmount(0, 0.5)
	assert.Zero(t, shares)
	assert.Zero(t, cost)
}

func TestPaperBuy(t *testing.T) {
	ledger := memory.NewTradeStore()
	sink := &captureSink{}
	e := newTestExecutor(nil, ledger, WithEventSink(sink))

	rec, err := e.ExecuteBuy(context.Background(), BuyRequest{
		Market: testMarket(), Side: domain.SideUp, Price: 0.5, Amount: 5,
		Strategy: domain.StrategyValue, Paper: true, Slippage: 0.01, Reference: 100100,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionBuy, rec.Action)
	assert.InDelta(t, 0.505, rec.Price, 1e-9)
	assert.InDelta(t, 0.005, rec.Slippage, 1e-9)
	assert.LessOrEqual(t, rec.Amount, 5.0)
	assert.InDelta(t, Fee(rec.Shares, rec.Price), rec.Fee, 1e-9)
	assert.Nil(t, rec.PnL)
	assert.True(t, rec.Paper)
	assert.Equal(t, start.Add(domain.WindowDuration), rec.WindowEnd)
	require.Len(t, sink.events, 1)
	assert.Equal(t, domain.EventTrade, sink.events[0].Kind)

	_, err = e.ExecuteBuy(context.Background(), BuyRequest{
		Market: testMarket(), Side: domain.SideUp, Price: 0.5, Amount: 5, Paper: true,
	})
	assert.ErrorIs(t, err, domain.ErrDuplicateOrder)
}

func TestLiveBuyUsesActualFill(t *testing.T) {
	ledger := memory.NewTradeStore()
	v := &stubVenue{result: domain.OrderResult{Success: true, OrderID: "0xabc", FilledPrice: 0.48, FilledSize: 9}}
	e := newTestExecutor(v, ledger)

	rec, err := e.ExecuteBuy(context.Background(), BuyRequest{
		Market: testMarket(), Side: domain.SideDown, Price: 0.5, Amount: 5, Strategy: domain.StrategyScalp,
	})
	require.NoError(t, err)
	require.Len(t, v.orders, 1)
	assert.Equal(t, "tok-down", v.orders[0].TokenID)
	assert.Equal(t, domain.OrderFAK, v.orders[0].Type)

	assert.Equal(t, 0.48, rec.Price)
	assert.Equal(t, 9.0, rec.Shares)
	assert.Equal(t, "0xabc", rec.OrderID)
	assert.InDelta(t, 9*0.48+Fee(9, 0.48), rec.Amount, 1e-6)
	assert.InDelta(t, -0.02, rec.Slippage, 1e-9)
}

func TestLiveFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewTradeStore()
	v := &stubVenue{err: errors.New("connection reset")}
	e := newTestExecutor(v, ledger)

	req := BuyRequest{Market: testMarket(), Side: domain.SideUp, Price: 0.5, Amount: 5}
	_, err := e.ExecuteBuy(ctx, req)
	require.Error(t, err)

	v.err = nil
	v.result = domain.OrderResult{Success: false, Error: "not enough balance"}
	_, err = e.ExecuteBuy(ctx, req)
	assert.ErrorIs(t, err, domain.ErrVenueRejected, "failed submissions release the dedup key")

	trades, err := ledger.ListTrades(ctx, domain.TradeFilter{})
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestPaperSellRealizesPnL(t *testing.T) {
	ledger := memory.NewTradeStore()
	e := newTestExecutor(nil, ledger)
	pos := &domain.Position{
		Window: domain.Window{Asset: "btc", Start: start}, Side: domain.SideUp,
		Shares: 10, CostBasis: 5, AvgEntry: 0.5, Strategy: domain.StrategyScalp,
	}

	rec, err := e.ExecuteSell(context.Background(), SellRequest{Position: pos, Price: 0.6, Paper: true})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionSell, rec.Action)
	pnl, ok := rec.Realized()
	require.True(t, ok)
	assert.InDelta(t, Proceeds(10, 0.6)-5, pnl, 1e-6)
	assert.Equal(t, domain.StrategyScalp, rec.Strategy)
}

func TestLivePartialSell(t *testing.T) {
	ledger := memory.NewTradeStore()
	v := &stubVenue{result: domain.OrderResult{Success: true, OrderID: "s1", FilledPrice: 0.7, FilledSize: 4}}
	e := newTestExecutor(v, ledger)
	pos := &domain.Position{Window: domain.Window{Asset: "eth", Start: start}, Side: domain.SideDown, TokenID: "tok", Shares: 10, CostBasis: 5}

	rec, err := e.ExecuteSell(context.Background(), SellRequest{Position: pos, Price: 0.7})
	require.NoError(t, err)
	assert.Equal(t, 4.0, rec.Shares)
	pnl, _ := rec.Realized()
	assert.InDelta(t, Proceeds(4, 0.7)-2, pnl, 1e-6)
}

func TestRecordResolution(t *testing.T) {
	ledger := memory.NewTradeStore()
	e := newTestExecutor(nil, ledger)
	pos := &domain.Position{Window: domain.Window{Asset: "btc", Start: start}, Side: domain.SideUp, Shares: 10, CostBasis: 5.2, Paper: true}

	won, err := e.RecordResolution(context.Background(), pos, domain.OutcomeUp)
	require.NoError(t, err)
	pnl, _ := won.Realized()
	assert.InDelta(t, 4.8, pnl, 1e-9)
	assert.Equal(t, domain.ActionResolution, won.Action)

	lost, err := e.RecordResolution(context.Background(), pos, domain.OutcomeDown)
	require.NoError(t, err)
	pnl, _ = lost.Realized()
	assert.InDelta(t, -5.2, pnl, 1e-9)

	_, err = e.RecordResolution(context.Background(), pos, domain.OutcomePending)
	assert.Error(t, err)
}

func TestRecordFill(t *testing.T) {
	ledger := memory.NewTradeStore()
	e := newTestExecutor(nil, ledger)
	rec, err := e.RecordFill(context.Background(), FillRequest{
		Info: testMarket().Info, Side: domain.SideDown, Price: 0.46, Shares: 4,
		OrderID: "paper-1", Strategy: domain.StrategyArbitrage, Paper: true,
	})
	require.NoError(t, err)
	assert.InDelta(t, 4*0.46+Fee(4, 0.46), rec.Amount, 1e-6)
	assert.Equal(t, domain.StrategyArbitrage, rec.Strategy)
}

func TestDedup(t *testing.T) {
	d := NewDedup(time.Second)
	now := time.Unix(0, 0)
	d.now = func() time.Time { return now }

	assert.False(t, d.IsDuplicate("k"))
	assert.True(t, d.IsDuplicate("k"))
	d.Release("k")
	assert.False(t, d.IsDuplicate("k"))

	now = now.Add(2 * time.Second)
	assert.False(t, d.IsDuplicate("k"))
	now = now.Add(2 * time.Second)
	d.Cleanup()
	assert.Empty(t, d.seen)
}
