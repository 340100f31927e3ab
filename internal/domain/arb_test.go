package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArbWindowState_RecomputeBothSides(t *testing.T) {
	a := &ArbWindowState{
		Up: SideFills{Orders: []LadderOrder{
			{Price: 0.48, FilledSize: 4},
			{Price: 0.46, FilledSize: 2},
		}},
		Down: SideFills{Orders: []LadderOrder{
			{Price: 0.47, FilledSize: 5},
		}},
	}
	a.Recompute()

	upAvg := (0.48*4 + 0.46*2) / 6
	assert.InDelta(t, upAvg, a.Up.AvgPrice, 1e-9)
	assert.InDelta(t, 0.47, a.Down.AvgPrice, 1e-9)
	assert.InDelta(t, a.Up.AvgPrice+a.Down.AvgPrice, a.CombinedCost, 1e-12)
	assert.InDelta(t, math.Min(6, 5)*(1-a.CombinedCost), a.GuaranteedPnL, 1e-12)
	assert.InDelta(t, 0.48*4+0.46*2+0.47*5, a.FilledCost(), 1e-9)
}

func TestArbWindowState_OneSidedHasNoGuaranteedPnL(t *testing.T) {
	a := &ArbWindowState{Up: SideFills{Orders: []LadderOrder{{Price: 0.45, FilledSize: 3}}}}
	a.Recompute()
	assert.Equal(t, 0.0, a.GuaranteedPnL)
	assert.True(t, a.HasFills())
}

func TestCapitalState_AvailableNeverNegative(t *testing.T) {
	c := NewCapitalState(100, 40, 20, 50)
	assert.Equal(t, 60.0, c.Deployed)
	assert.Equal(t, 0.0, c.Available)

	c = NewCapitalState(100, 10, 10, 50)
	assert.Equal(t, 30.0, c.Available)
}
