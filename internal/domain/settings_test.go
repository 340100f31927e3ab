package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSettings_MergesOverDefaults(t *testing.T) {
	s, err := DecodeSettings([]byte(`{"buy_amount": 3, "enabled_assets": ["BTC"]}`))
	require.NoError(t, err)
	assert.Equal(t, 3.0, s.BuyAmount)
	assert.Equal(t, []string{"btc"}, s.EnabledAssets)
	assert.Equal(t, DefaultSettings().MaxTotalExposure, s.MaxTotalExposure)
}

func TestDecodeSettings_GarbageFallsBackToDefaults(t *testing.T) {
	s, err := DecodeSettings([]byte(`{not json`))
	require.Error(t, err)
	assert.Equal(t, DefaultSettings().BuyAmount, s.BuyAmount)
}

func TestSettings_NormalizeRejectsUnsafeValues(t *testing.T) {
	s := DefaultSettings()
	s.MinEntryPrice = 1.5
	s.MaxSecondsRemaining = 10
	s.LadderLevels = []LadderLevel{{Price: 1.2, Allocation: 1}}
	s.Normalize()

	d := DefaultSettings()
	assert.Equal(t, d.MinEntryPrice, s.MinEntryPrice)
	assert.Equal(t, d.MaxSecondsRemaining, s.MaxSecondsRemaining)
	assert.Equal(t, d.LadderLevels, s.LadderLevels)
}

func TestSettings_ArbBudgets(t *testing.T) {
	s := DefaultSettings()
	s.ArbWindowAllocation = 10
	up, down := s.ArbBudgets()
	assert.Equal(t, 5.0, up)
	assert.Equal(t, 5.0, down)

	s.ArbUpBudget, s.ArbDownBudget = 6, 4
	up, down = s.ArbBudgets()
	assert.Equal(t, 6.0, up)
	assert.Equal(t, 4.0, down)
}

func TestSettings_StrategyFor(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, StrategyScalp, s.StrategyFor("SOL"))
	assert.Equal(t, StrategyValue, s.StrategyFor("doge"))
}
