package domain

import "time"

// BreakerKind says how a tripped breaker clears.
type BreakerKind string

const (
	// BreakerDailyLoss clears itself once ResumeAt passes.
	BreakerDailyLoss BreakerKind = "daily_loss"
	// BreakerLossCount needs an operator reset.
	BreakerLossCount BreakerKind = "loss_count"
)

// CircuitBreakerState is the per-process risk gate.
type CircuitBreakerState struct {
	Tripped   bool        `json:"tripped"`
	Kind      BreakerKind `json:"kind,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	TrippedAt time.Time   `json:"tripped_at,omitzero"`
	ResumeAt  *time.Time  `json:"resume_at,omitempty"`
	DailyPnL  float64     `json:"daily_pnl"`
	LossCount int         `json:"loss_count"`
	Streak    int         `json:"streak"`
}
