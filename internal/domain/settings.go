package domain

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Settings is the flat runtime configuration read by the engine every tick.
// It is persisted as one JSON document and cached with a short TTL.
type Settings struct {
	PaperTrading    bool                    `json:"paper_trading" toml:"paper_trading"`
	EnabledAssets   []string                `json:"enabled_assets" toml:"enabled_assets"`
	AssetStrategies map[string]StrategyKind `json:"asset_strategies" toml:"asset_strategies"`
	DefaultStrategy StrategyKind            `json:"default_strategy" toml:"default_strategy"`

	MinSecondsRemaining float64 `json:"min_seconds_remaining" toml:"min_seconds_remaining"`
	MaxSecondsRemaining float64 `json:"max_seconds_remaining" toml:"max_seconds_remaining"`
	MinEntryPrice       float64 `json:"min_entry_price" toml:"min_entry_price"`
	MaxEntryPrice       float64 `json:"max_entry_price" toml:"max_entry_price"`
	QuoteStaleSeconds   float64 `json:"quote_stale_seconds" toml:"quote_stale_seconds"`

	BuyAmount        float64 `json:"buy_amount" toml:"buy_amount"`
	MaxPerWindow     float64 `json:"max_per_window" toml:"max_per_window"`
	MaxTotalExposure float64 `json:"max_total_exposure" toml:"max_total_exposure"`
	MaxPositions     int     `json:"max_positions" toml:"max_positions"`
	Bankroll         float64 `json:"bankroll" toml:"bankroll"`
	PaperSlippage    float64 `json:"paper_slippage" toml:"paper_slippage"`

	AccumAmount          float64 `json:"accum_amount" toml:"accum_amount"`
	AccumIntervalSeconds float64 `json:"accum_interval_seconds" toml:"accum_interval_seconds"`
	AccumMinPrice        float64 `json:"accum_min_price" toml:"accum_min_price"`
	AccumMaxPrice        float64 `json:"accum_max_price" toml:"accum_max_price"`

	MinGap                  float64 `json:"min_gap" toml:"min_gap"`
	MaxGap                  float64 `json:"max_gap" toml:"max_gap"`
	VolatilityPct           float64 `json:"volatility_pct" toml:"volatility_pct"`
	MomentumWeight          float64 `json:"momentum_weight" toml:"momentum_weight"`
	MomentumLookbackSeconds float64 `json:"momentum_lookback_seconds" toml:"momentum_lookback_seconds"`

	ValueProfitTarget  float64 `json:"value_profit_target" toml:"value_profit_target"`
	ValueExitBeforeEnd float64 `json:"value_exit_before_end" toml:"value_exit_before_end"`
	ScalpProfitTarget  float64 `json:"scalp_profit_target" toml:"scalp_profit_target"`
	ScalpExitBeforeEnd float64 `json:"scalp_exit_before_end" toml:"scalp_exit_before_end"`
	HoldWindowSeconds  float64 `json:"hold_window_seconds" toml:"hold_window_seconds"`
	HoldMinPrice       float64 `json:"hold_min_price" toml:"hold_min_price"`

	DailyLossLimit       float64 `json:"daily_loss_limit" toml:"daily_loss_limit"`
	ConsecutiveLossLimit int     `json:"consecutive_loss_limit" toml:"consecutive_loss_limit"`
	DailyLossCountLimit  int     `json:"daily_loss_count_limit" toml:"daily_loss_count_limit"`
	BreakerCooldownHours float64 `json:"breaker_cooldown_hours" toml:"breaker_cooldown_hours"`

	ArbEnabledAssets       []string      `json:"arb_enabled_assets" toml:"arb_enabled_assets"`
	ArbWindowAllocation    float64       `json:"arb_window_allocation" toml:"arb_window_allocation"`
	ArbPoolCeiling         float64       `json:"arb_pool_ceiling" toml:"arb_pool_ceiling"`
	ArbUpBudget            float64       `json:"arb_up_budget" toml:"arb_up_budget"`
	ArbDownBudget          float64       `json:"arb_down_budget" toml:"arb_down_budget"`
	LadderLevels           []LadderLevel `json:"ladder_levels" toml:"ladder_levels"`
	CancelBeforeEndSeconds float64       `json:"cancel_before_end_seconds" toml:"cancel_before_end_seconds"`

	ResolutionRetrySeconds float64 `json:"resolution_retry_seconds" toml:"resolution_retry_seconds"`
	LogIdleSeconds         float64 `json:"log_idle_seconds" toml:"log_idle_seconds"`
}

// DefaultSettings returns conservative paper-trading settings.
func DefaultSettings() Settings {
	return Settings{
		PaperTrading:  true,
		EnabledAssets: []string{"btc", "eth", "sol", "xrp"},
		AssetStrategies: map[string]StrategyKind{
			"btc": StrategyValue,
			"eth": StrategyValue,
			"sol": StrategyScalp,
			"xrp": StrategyAccumulation,
		},
		DefaultStrategy: StrategyValue,

		MinSecondsRemaining: 60,
		MaxSecondsRemaining: 780,
		MinEntryPrice:       0.35,
		MaxEntryPrice:       0.85,
		QuoteStaleSeconds:   10,

		BuyAmount:        5,
		MaxPerWindow:     8,
		MaxTotalExposure: 50,
		MaxPositions:     4,
		Bankroll:         100,
		PaperSlippage:    0.005,

		AccumAmount:          2,
		AccumIntervalSeconds: 60,
		AccumMinPrice:        0.55,
		AccumMaxPrice:        0.85,

		MinGap:                  0.05,
		MaxGap:                  0.35,
		VolatilityPct:           0.15,
		MomentumWeight:          0.5,
		MomentumLookbackSeconds: 60,

		ValueProfitTarget:  0,
		ValueExitBeforeEnd: 0,
		ScalpProfitTarget:  0.08,
		ScalpExitBeforeEnd: 90,
		HoldWindowSeconds:  45,
		HoldMinPrice:       0.85,

		DailyLossLimit:       25,
		ConsecutiveLossLimit: 3,
		DailyLossCountLimit:  0,
		BreakerCooldownHours: 4,

		ArbEnabledAssets:    []string{"btc"},
		ArbWindowAllocation: 10,
		ArbPoolCeiling:      40,
		LadderLevels: []LadderLevel{
			{Price: 0.48, Allocation: 0.40},
			{Price: 0.46, Allocation: 0.35},
			{Price: 0.44, Allocation: 0.25},
		},
		CancelBeforeEndSeconds: 60,

		ResolutionRetrySeconds: 15,
		LogIdleSeconds:         60,
	}
}

// DecodeSettings parses a persisted settings document over the defaults.
// Fields missing from raw keep their default value.
func DecodeSettings(raw []byte) (Settings, error) {
	s := DefaultSettings()
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return DefaultSettings(), fmt.Errorf("domain: decode settings: %w", err)
	}
	s.Normalize()
	return s, nil
}

// StrategyFor returns the strategy configured for asset.
func (s Settings) StrategyFor(asset string) StrategyKind {
	if k, ok := s.AssetStrategies[strings.ToLower(asset)]; ok && k != "" {
		return k
	}
	if s.DefaultStrategy != "" {
		return s.DefaultStrategy
	}
	return StrategyValue
}

// ArbEnabled reports whether the ladder engine trades asset.
func (s Settings) ArbEnabled(asset string) bool {
	return slices.Contains(s.ArbEnabledAssets, strings.ToLower(asset))
}

// ArbBudgets returns the per-side budgets for one window. Explicit budgets
// win; otherwise the allocation is split evenly.
func (s Settings) ArbBudgets() (up, down float64) {
	if s.ArbUpBudget > 0 && s.ArbDownBudget > 0 {
		return s.ArbUpBudget, s.ArbDownBudget
	}
	half := s.ArbWindowAllocation / 2
	return half, half
}

// Validate reports every value Normalize would replace. The error wraps
// ErrInvalidSettings.
func (s Settings) Validate() error {
	var problems []string
	if s.MinEntryPrice <= 0 || s.MinEntryPrice >= 1 {
		problems = append(problems, "min_entry_price must be in (0, 1)")
	}
	if s.MaxEntryPrice <= s.MinEntryPrice || s.MaxEntryPrice >= 1 {
		problems = append(problems, "max_entry_price must be in (min_entry_price, 1)")
	}
	if s.MaxSecondsRemaining <= s.MinSecondsRemaining || s.MaxSecondsRemaining > WindowSeconds {
		problems = append(problems, fmt.Sprintf("max_seconds_remaining must be in (min_seconds_remaining, %d]", WindowSeconds))
	}
	if s.VolatilityPct <= 0 {
		problems = append(problems, "volatility_pct must be > 0")
	}
	if s.MaxGap <= s.MinGap {
		problems = append(problems, "max_gap must exceed min_gap")
	}
	if s.MaxPositions < 1 {
		problems = append(problems, "max_positions must be >= 1")
	}
	if s.BreakerCooldownHours <= 0 {
		problems = append(problems, "breaker_cooldown_hours must be > 0")
	}
	if s.ArbPoolCeiling < s.ArbWindowAllocation {
		problems = append(problems, "arb_pool_ceiling must be >= arb_window_allocation")
	}
	for i, l := range s.LadderLevels {
		if l.Price <= 0 || l.Price >= 1 || l.Allocation <= 0 {
			problems = append(problems, fmt.Sprintf("ladder_levels[%d] needs a price in (0, 1) and a positive allocation", i))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidSettings, strings.Join(problems, "; "))
}

// Normalize replaces values that cannot be traded safely with defaults.
func (s *Settings) Normalize() {
	d := DefaultSettings()
	for i, a := range s.EnabledAssets {
		s.EnabledAssets[i] = strings.ToLower(strings.TrimSpace(a))
	}
	for i, a := range s.ArbEnabledAssets {
		s.ArbEnabledAssets[i] = strings.ToLower(strings.TrimSpace(a))
	}
	if s.MinEntryPrice <= 0 || s.MinEntryPrice >= 1 {
		s.MinEntryPrice = d.MinEntryPrice
	}
	if s.MaxEntryPrice <= s.MinEntryPrice || s.MaxEntryPrice >= 1 {
		s.MaxEntryPrice = d.MaxEntryPrice
	}
	if s.MaxSecondsRemaining <= s.MinSecondsRemaining || s.MaxSecondsRemaining > WindowSeconds {
		s.MinSecondsRemaining, s.MaxSecondsRemaining = d.MinSecondsRemaining, d.MaxSecondsRemaining
	}
	if s.VolatilityPct <= 0 {
		s.VolatilityPct = d.VolatilityPct
	}
	if s.MaxGap <= s.MinGap {
		s.MinGap, s.MaxGap = d.MinGap, d.MaxGap
	}
	if s.MaxPositions < 1 {
		s.MaxPositions = d.MaxPositions
	}
	if s.BreakerCooldownHours <= 0 {
		s.BreakerCooldownHours = d.BreakerCooldownHours
	}
	if s.ArbPoolCeiling < s.ArbWindowAllocation {
		s.ArbPoolCeiling = s.ArbWindowAllocation
	}
	valid := s.LadderLevels[:0]
	for _, l := range s.LadderLevels {
		if l.Price > 0 && l.Price < 1 && l.Allocation > 0 {
			valid = append(valid, l)
		}
	}
	s.LadderLevels = valid
	if len(s.LadderLevels) == 0 {
		s.LadderLevels = d.LadderLevels
	}
}
