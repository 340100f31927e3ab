package app

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updownbot/internal/config"
	"github.com/alanyoungcy/updownbot/internal/domain"
)

type fakeLock struct {
	refreshes atomic.Int32
	lostAfter int32
}

func (l *fakeLock) Refresh(context.Context, time.Duration) error {
	if l.refreshes.Add(1) > l.lostAfter {
		return domain.ErrLockHeld
	}
	return nil
}

func (l *fakeLock) Release() {}

func testApp(t *testing.T) *App {
	t.Helper()
	cfg := config.Defaults()
	return New(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHoldLockStopsWhenLost(t *testing.T) {
	a := testApp(t)
	a.cfg.Redis.LockTTL.Duration = 30 * time.Millisecond
	lock := &fakeLock{lostAfter: 2}

	err := a.holdLock(context.Background(), lock)
	require.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Equal(t, int32(3), lock.refreshes.Load())
}

func TestHoldLockReturnsOnCancel(t *testing.T) {
	a := testApp(t)
	a.cfg.Redis.LockTTL.Duration = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, a.holdLock(ctx, &fakeLock{lostAfter: 100}), context.Canceled)
}

func TestFeedAssetsUnion(t *testing.T) {
	s := domain.Settings{
		EnabledAssets:    []string{"btc", "eth"},
		ArbEnabledAssets: []string{"eth", "sol"},
	}
	assert.Equal(t, []string{"btc", "eth", "sol"}, feedAssets(s))
	assert.Equal(t, []string{"btc", "eth"}, s.EnabledAssets)
}

func TestWireInMemory(t *testing.T) {
	cfg := config.Defaults()
	deps, cleanup, err := Wire(context.Background(), &cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, deps.Ledger)
	assert.NotNil(t, deps.Settings)
	assert.Nil(t, deps.SignalBus)
	assert.Nil(t, deps.Recorder)
	assert.Nil(t, deps.Archiver)
	assert.False(t, deps.Notifier.Enabled())
}

func TestIdleState(t *testing.T) {
	snap := idleState{paper: true}.Snapshot()
	assert.True(t, snap.Paper)
	assert.False(t, snap.Running)
}
