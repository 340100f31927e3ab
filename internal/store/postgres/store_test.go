package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

func setupTestDB(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("updown"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	client, err := New(ctx, ClientConfig{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	require.NoError(t, client.RunMigrations(ctx))
	// Second run is a no-op.
	require.NoError(t, client.RunMigrations(ctx))
	return client
}

func ptr[T any](v T) *T { return &v }

func TestTradeStore(t *testing.T) {
	client := setupTestDB(t)
	ctx := context.Background()
	s := NewTradeStore(client.Pool())

	day := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	win := day.Truncate(15 * time.Minute)
	recs := []domain.TradeRecord{
		{Timestamp: day.Add(-24 * time.Hour), Asset: "btc", Side: domain.SideUp, Action: domain.ActionResolution, PnL: ptr(5.0), Paper: true},
		{Timestamp: day, Asset: "btc", Side: domain.SideUp, Action: domain.ActionBuy, Amount: 5, Price: 0.5, Shares: 10, Paper: true, Strategy: domain.StrategyValue},
		{Timestamp: day.Add(time.Minute), Asset: "btc", Side: domain.SideUp, Action: domain.ActionResolution, PnL: ptr(-2.0), Paper: true},
		{Timestamp: day.Add(2 * time.Minute), Asset: "eth", Side: domain.SideDown, Action: domain.ActionSell, PnL: ptr(-1.5), Paper: true},
		{Timestamp: day.Add(3 * time.Minute), Asset: "eth", Side: domain.SideDown, Action: domain.ActionResolution, PnL: ptr(10.0), Paper: false},
	}
	for _, r := range recs {
		r.WindowStart, r.WindowEnd = win, win.Add(15*time.Minute)
		stored, err := s.InsertTrade(ctx, r)
		require.NoError(t, err)
		assert.NotZero(t, stored.ID)
	}

	total, err := s.CumulativePnL(ctx, true)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, total, 1e-9)

	daily, err := s.DailyPnL(ctx, day, true)
	require.NoError(t, err)
	assert.InDelta(t, -3.5, daily, 1e-9)

	losses, err := s.DailyLossCount(ctx, day, true)
	require.NoError(t, err)
	assert.Equal(t, 2, losses)

	streak, err := s.Streak(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, -2, streak)

	streak, err = s.Streak(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, streak)

	list, err := s.ListTrades(ctx, domain.TradeFilter{Paper: ptr(true), Asset: "btc", Limit: 2})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, domain.ActionResolution, list[0].Action)
	assert.Equal(t, domain.ActionBuy, list[1].Action)
	assert.Equal(t, domain.StrategyValue, list[1].Strategy)
	assert.Nil(t, list[1].PnL)
	assert.True(t, list[1].WindowStart.Equal(win))

	until := day.Add(time.Minute)
	list, err = s.ListTrades(ctx, domain.TradeFilter{Since: &day, Until: &until})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.ActionBuy, list[0].Action)
}

func TestSettingsStore(t *testing.T) {
	client := setupTestDB(t)
	ctx := context.Background()
	s := NewSettingsStore(client.Pool())

	_, err := s.LoadSettings(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.SaveSettings(ctx, []byte(`{"buy_amount":5}`)))
	require.NoError(t, s.SaveSettings(ctx, []byte(`{"buy_amount":7}`)))

	raw, err := s.LoadSettings(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"buy_amount":7}`, string(raw))
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/updown?sslmode=disable",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Database: "updown"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}

func TestTradeStoreSkipsArbitrageLosses(t *testing.T) {
	client := setupTestDB(t)
	ctx := context.Background()
	s := NewTradeStore(client.Pool())

	day := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	recs := []domain.TradeRecord{
		{Timestamp: day, Asset: "btc", Side: domain.SideUp, Action: domain.ActionResolution, PnL: ptr(-1.0), Paper: true, Strategy: domain.StrategyValue},
		{Timestamp: day.Add(time.Minute), Asset: "btc", Side: domain.SideUp, Action: domain.ActionResolution, PnL: ptr(2.5), Paper: true, Strategy: domain.StrategyArbitrage},
		{Timestamp: day.Add(time.Minute), Asset: "btc", Side: domain.SideDown, Action: domain.ActionResolution, PnL: ptr(-2.0), Paper: true, Strategy: domain.StrategyArbitrage},
	}
	for _, r := range recs {
		_, err := s.InsertTrade(ctx, r)
		require.NoError(t, err)
	}

	losses, err := s.DailyLossCount(ctx, day, true)
	require.NoError(t, err)
	assert.Equal(t, 1, losses)

	streak, err := s.Streak(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, -1, streak)
}
