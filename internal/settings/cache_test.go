package settings

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

type countingSource struct {
	*memory.SettingsStore
	loads int
	err   error
}

func (c *countingSource) LoadSettings(ctx context.Context) ([]byte, error) {
	c.loads++
	if c.err != nil {
		return nil, c.err
	}
	return c.SettingsStore.LoadSettings(ctx)
}

func newTestCache(src domain.SettingsSource, seed domain.Settings) (*Cache, *time.Time) {
	now := time.Unix(1700000000, 0)
	c := NewCache(src, seed, 30*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.now = func() time.Time { return now }
	return c, &now
}

func TestCacheServesWithinTTL(t *testing.T) {
	src := &countingSource{SettingsStore: memory.NewSettingsStore([]byte(`{"buy_amount":7}`))}
	c, now := newTestCache(src, domain.DefaultSettings())
	ctx := context.Background()

	assert.Equal(t, 7.0, c.Get(ctx).BuyAmount)
	assert.Equal(t, 7.0, c.Get(ctx).BuyAmount)
	assert.Equal(t, 1, src.loads)

	*now = now.Add(31 * time.Second)
	c.Get(ctx)
	assert.Equal(t, 2, src.loads)
}

func TestCacheSeedAndFallbacks(t *testing.T) {
	seed := domain.DefaultSettings()
	seed.BuyAmount = 3
	src := &countingSource{SettingsStore: memory.NewSettingsStore(nil)}
	c, now := newTestCache(src, seed)
	ctx := context.Background()

	assert.Equal(t, 3.0, c.Get(ctx).BuyAmount, "missing document serves the seed")

	require.NoError(t, src.SaveSettings(ctx, []byte(`{not json`)))
	c.Invalidate()
	assert.Equal(t, domain.DefaultSettings().BuyAmount, c.Get(ctx).BuyAmount, "garbage falls back to defaults")

	require.NoError(t, src.SaveSettings(ctx, []byte(`{"max_positions":2}`)))
	c.Invalidate()
	got := c.Get(ctx)
	assert.Equal(t, 2, got.MaxPositions)
	assert.Equal(t, 3.0, got.BuyAmount, "omitted fields keep seed values")

	src.err = errors.New("db down")
	*now = now.Add(time.Minute)
	assert.Equal(t, 2, c.Get(ctx).MaxPositions, "source failure keeps last known")
}

func TestCacheUpdateInvalidates(t *testing.T) {
	src := &countingSource{SettingsStore: memory.NewSettingsStore(nil)}
	c, _ := newTestCache(src, domain.DefaultSettings())
	ctx := context.Background()

	s := c.Get(ctx)
	s.BuyAmount = 9
	s.EnabledAssets = []string{"BTC"}
	_, err := c.Update(ctx, s)
	require.NoError(t, err)

	got := c.Get(ctx)
	assert.Equal(t, 9.0, got.BuyAmount)
	assert.Equal(t, []string{"btc"}, got.EnabledAssets)

	got, err = c.Patch(ctx, []byte(`{"paper_trading":false}`))
	require.NoError(t, err)
	assert.False(t, got.PaperTrading)
	assert.Equal(t, 9.0, got.BuyAmount)

	_, err = c.Patch(ctx, []byte(`nope`))
	assert.Error(t, err)
}

func TestCacheRejectsUnsafeValues(t *testing.T) {
	src := &countingSource{SettingsStore: memory.NewSettingsStore(nil)}
	c, _ := newTestCache(src, domain.DefaultSettings())
	ctx := context.Background()

	_, err := c.Patch(ctx, []byte(`{"min_entry_price":1.5,"max_positions":0}`))
	require.ErrorIs(t, err, domain.ErrInvalidSettings)
	assert.Contains(t, err.Error(), "min_entry_price")
	assert.Contains(t, err.Error(), "max_positions")

	_, err = c.Patch(ctx, []byte(`{"ladder_levels":[{"price":1.2,"allocation":1}]}`))
	require.ErrorIs(t, err, domain.ErrInvalidSettings)

	_, err = src.SettingsStore.LoadSettings(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound, "rejected patches are not persisted")
	assert.Equal(t, domain.DefaultSettings().MaxPositions, c.Get(ctx).MaxPositions)
}

func TestCacheReturnsCopies(t *testing.T) {
	c, _ := newTestCache(memory.NewSettingsStore(nil), domain.DefaultSettings())
	s := c.Get(context.Background())
	s.EnabledAssets[0] = "doge"
	s.AssetStrategies["btc"] = domain.StrategyScalp
	again := c.Get(context.Background())
	assert.NotEqual(t, "doge", again.EnabledAssets[0])
	assert.Equal(t, domain.StrategyValue, again.AssetStrategies["btc"])
}
