package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookCapturesWindowOpen(t *testing.T) {
	b := NewBook(20 * time.Minute)
	start := time.Unix(1700000100, 0).UTC()

	b.Track("BTC", 100000, start.Add(2*time.Second))
	b.Track("btc", 100100, start.Add(5*time.Minute))

	open, ok := b.WindowOpenPrice("btc", start)
	require.True(t, ok)
	assert.Equal(t, 100000.0, open)

	cur, ok := b.CurrentPrice("btc")
	require.True(t, ok)
	assert.Equal(t, 100100.0, cur)
}

func TestBookMidWindowJoinHasNoOpen(t *testing.T) {
	b := NewBook(20 * time.Minute)
	start := time.Unix(1700000100, 0).UTC()

	b.Track("eth", 2000, start.Add(7*time.Minute))
	_, ok := b.WindowOpenPrice("eth", start)
	assert.False(t, ok)

	// Crossing into the next window captures its open.
	next := start.Add(15 * time.Minute)
	b.Track("eth", 2010, next.Add(90*time.Second))
	open, ok := b.WindowOpenPrice("eth", next)
	require.True(t, ok)
	assert.Equal(t, 2010.0, open)

	b.SetWindowOpen("eth", start, 1990)
	open, ok = b.WindowOpenPrice("eth", start)
	require.True(t, ok)
	assert.Equal(t, 1990.0, open)
}

func TestBookMomentum(t *testing.T) {
	b := NewBook(20 * time.Minute)
	t0 := time.Unix(1700000100, 0).UTC()

	assert.Zero(t, b.Momentum("sol", time.Minute))

	b.Track("sol", 100, t0)
	b.Track("sol", 101, t0.Add(30*time.Second))
	b.Track("sol", 102, t0.Add(60*time.Second))

	assert.InDelta(t, 2.0, b.Momentum("sol", time.Minute), 1e-9)
	assert.InDelta(t, 100*(102.0-101.0)/101.0, b.Momentum("sol", 30*time.Second), 1e-9)
}

func TestBookLastUpdateAge(t *testing.T) {
	b := NewBook(time.Minute)
	now := time.Unix(1700000500, 0)
	b.now = func() time.Time { return now }

	assert.Greater(t, b.LastUpdateAge("xrp"), 24*time.Hour)

	b.Track("xrp", 0.5, now)
	now = now.Add(4 * time.Second)
	assert.Equal(t, 4*time.Second, b.LastUpdateAge("xrp"))
}

func TestBookTrimAndPrune(t *testing.T) {
	b := NewBook(time.Minute)
	t0 := time.Unix(1700000100, 0).UTC()
	for i := range 20 {
		b.Track("btc", float64(100+i), t0.Add(time.Duration(i)*15*time.Minute))
	}
	assert.Len(t, b.history["btc"], 1)
	assert.LessOrEqual(t, len(b.opens["btc"]), openHistory)

	_, ok := b.WindowOpenPrice("btc", t0)
	assert.False(t, ok, "oldest window open should be pruned")
	_, ok = b.WindowOpenPrice("btc", t0.Add(19*15*time.Minute))
	assert.True(t, ok)

	b.Track("btc", -1, t0)
	assert.Len(t, b.history["btc"], 1)
}
