package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/metrics"
)

// breakerBase holds the ledger readings acknowledged by the last resume or
// reset, so the same losses do not trip the breaker again.
type breakerBase struct {
	day       time.Time
	dailyPnL  float64
	lossCount int
	losses    int
}

type riskReading struct {
	daily     float64
	lossCount int
	streak    int
}

// checkBreaker auto-resumes an expired daily-loss trip, then re-evaluates.
func (e *Engine) checkBreaker(ctx context.Context, s domain.Settings, now time.Time) {
	b := e.breaker
	if b.Tripped && b.Kind == domain.BreakerDailyLoss && b.ResumeAt != nil && !now.Before(*b.ResumeAt) {
		r, err := e.readRisk(ctx, s.PaperTrading, now)
		if err != nil {
			e.logger.Warn("breaker resume deferred", slog.String("error", err.Error()))
			return
		}
		e.base.day = utcDay(now)
		e.base.dailyPnL = r.daily
		e.breaker = domain.CircuitBreakerState{}
		metrics.UpdateBreaker(false)
		e.logger.Info("circuit breaker resumed", slog.String("after", b.Reason))
		e.alert("info", "circuit breaker resumed after cooldown")
	}
	e.evaluateBreaker(ctx, s, now)
}

// evaluateBreaker trips the breaker when a loss limit is breached.
func (e *Engine) evaluateBreaker(ctx context.Context, s domain.Settings, now time.Time) {
	if e.breaker.Tripped {
		return
	}
	r, err := e.readRisk(ctx, s.PaperTrading, now)
	if err != nil {
		e.logger.Warn("breaker check skipped", slog.String("error", err.Error()))
		return
	}

	today := utcDay(now)
	if !e.base.day.Equal(today) {
		e.base.day, e.base.dailyPnL, e.base.lossCount = today, 0, 0
	}
	if r.streak >= 0 {
		e.base.losses = 0
	}
	daily := r.daily - e.base.dailyPnL
	lossCount := r.lossCount - e.base.lossCount
	losses := max(0, -r.streak) - e.base.losses

	switch {
	case s.DailyLossLimit > 0 && daily < -s.DailyLossLimit:
		resume := now.Add(time.Duration(s.BreakerCooldownHours * float64(time.Hour))).UTC()
		e.trip(domain.BreakerDailyLoss,
			fmt.Sprintf("daily loss %.2f exceeds limit %.2f", -daily, s.DailyLossLimit), &resume, r, now)
	case s.ConsecutiveLossLimit > 0 && losses >= s.ConsecutiveLossLimit:
		e.trip(domain.BreakerLossCount,
			fmt.Sprintf("%d consecutive losses (limit %d)", losses, s.ConsecutiveLossLimit), nil, r, now)
	case s.DailyLossCountLimit > 0 && lossCount >= s.DailyLossCountLimit:
		e.trip(domain.BreakerLossCount,
			fmt.Sprintf("%d losses today (limit %d)", lossCount, s.DailyLossCountLimit), nil, r, now)
	}
}

func (e *Engine) trip(kind domain.BreakerKind, reason string, resumeAt *time.Time, r riskReading, now time.Time) {
	e.breaker = domain.CircuitBreakerState{
		Tripped:   true,
		Kind:      kind,
		Reason:    reason,
		TrippedAt: now.UTC(),
		ResumeAt:  resumeAt,
		DailyPnL:  r.daily,
		LossCount: r.lossCount,
		Streak:    r.streak,
	}
	metrics.UpdateBreaker(true)
	metrics.RecordBreakerTrip(string(kind))
	attrs := []any{
		slog.String("kind", string(kind)),
		slog.String("reason", reason),
	}
	if resumeAt != nil {
		attrs = append(attrs, slog.Time("resume_at", *resumeAt))
	}
	e.logger.Warn("circuit breaker tripped", attrs...)
	e.alert("warn", "circuit breaker tripped: "+reason)
}

// resetBreaker clears the breaker and acknowledges the losses that tripped it.
func (e *Engine) resetBreaker(ctx context.Context, now time.Time) {
	was := e.breaker
	e.breaker = domain.CircuitBreakerState{}
	metrics.UpdateBreaker(false)

	r, err := e.readRisk(ctx, e.current.PaperTrading, now)
	if err != nil {
		e.logger.Warn("breaker reset without ledger baseline", slog.String("error", err.Error()))
	} else {
		e.base = breakerBase{
			day:       utcDay(now),
			dailyPnL:  r.daily,
			lossCount: r.lossCount,
			losses:    max(0, -r.streak),
		}
	}
	if was.Tripped {
		e.logger.Info("circuit breaker reset", slog.String("reason", was.Reason))
		e.alert("info", "circuit breaker reset by operator")
	}
}

func (e *Engine) readRisk(ctx context.Context, paper bool, now time.Time) (riskReading, error) {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	var r riskReading
	var err error
	if r.daily, err = e.ledger.DailyPnL(cctx, now, paper); err != nil {
		return r, fmt.Errorf("engine: daily pnl: %w", err)
	}
	if r.lossCount, err = e.ledger.DailyLossCount(cctx, now, paper); err != nil {
		return r, fmt.Errorf("engine: daily loss count: %w", err)
	}
	if r.streak, err = e.ledger.Streak(cctx, paper); err != nil {
		return r, fmt.Errorf("engine: streak: %w", err)
	}
	return r, nil
}

func utcDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
