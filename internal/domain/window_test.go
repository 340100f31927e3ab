package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowAt_AlignsTo900Seconds(t *testing.T) {
	ts := time.Unix(1_700_000_123, 0)
	w := WindowAt("BTC", ts)

	assert.Equal(t, "btc", w.Asset)
	assert.Equal(t, int64(0), w.Start.Unix()%WindowSeconds)
	assert.True(t, !ts.Before(w.Start) && ts.Before(w.End()))
	assert.Equal(t, WindowDuration, w.End().Sub(w.Start))
	assert.Equal(t, w.Start.Add(-WindowDuration), w.Previous().Start)
}

func TestWindow_Expired(t *testing.T) {
	w := WindowAt("eth", time.Unix(1_700_000_100, 0))
	assert.False(t, w.Expired(w.Start.Add(899*time.Second)))
	assert.True(t, w.Expired(w.End()))
}

func TestMarketState_RemainingIsComputedFromClock(t *testing.T) {
	w := WindowAt("btc", time.Unix(1_700_000_100, 0))
	m := MarketState{Info: WindowInfo{Window: w}, SecondsRemaining: 900}

	assert.InDelta(t, 600, m.Remaining(w.Start.Add(300*time.Second)), 1e-9)
	assert.InDelta(t, 0, m.Remaining(w.End().Add(time.Minute)), 1e-9)
	assert.InDelta(t, 100, m.WithRemaining(w.End().Add(-100*time.Second)).SecondsRemaining, 1e-9)
}

func TestMarketState_LeadingSide(t *testing.T) {
	assert.Equal(t, SideUp, MarketState{UpPrice: 0.6, DownPrice: 0.4}.LeadingSide())
	assert.Equal(t, SideDown, MarketState{UpPrice: 0.3, DownPrice: 0.7}.LeadingSide())
}

func TestQuote_Valid(t *testing.T) {
	assert.True(t, Quote{Up: 0.5, Down: 0.5}.Valid())
	assert.False(t, Quote{Up: 0, Down: 0.5}.Valid())
	assert.False(t, Quote{Up: 1.2, Down: 0.5}.Valid())
}
