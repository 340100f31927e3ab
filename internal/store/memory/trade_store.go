// Package memory provides in-process implementations of the ledger and
// settings contracts for paper runs without a database, and for tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// TradeStore is an in-memory implementation of domain.TradeLedger.
type TradeStore struct {
	mu     sync.RWMutex
	trades []domain.TradeRecord
	nextID int64
}

var _ domain.TradeLedger = (*TradeStore)(nil)

// NewTradeStore creates an empty in-memory ledger.
func NewTradeStore() *TradeStore {
	return &TradeStore{nextID: 1}
}

// InsertTrade appends rec and assigns it an id.
func (s *TradeStore) InsertTrade(_ context.Context, rec domain.TradeRecord) (domain.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.ID = s.nextID
	s.nextID++
	if rec.PnL != nil {
		pnl := *rec.PnL
		rec.PnL = &pnl
	}
	s.trades = append(s.trades, rec)
	return rec, nil
}

// CumulativePnL sums all realized P&L of one mode.
func (s *TradeStore) CumulativePnL(_ context.Context, paper bool) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total float64
	for _, t := range s.trades {
		if pnl, ok := t.Realized(); ok && t.Paper == paper {
			total += pnl
		}
	}
	return total, nil
}

// DailyPnL sums realized P&L recorded on day's UTC date.
func (s *TradeStore) DailyPnL(_ context.Context, day time.Time, paper bool) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total float64
	for _, t := range s.trades {
		if pnl, ok := t.Realized(); ok && t.Paper == paper && sameDay(t.Timestamp, day) {
			total += pnl
		}
	}
	return total, nil
}

// DailyLossCount counts losing directional records on day's UTC date.
func (s *TradeStore) DailyLossCount(_ context.Context, day time.Time, paper bool) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, t := range s.trades {
		if pnl, ok := t.Realized(); ok && t.Paper == paper && pnl < 0 && sameDay(t.Timestamp, day) && !isArb(t) {
			n++
		}
	}
	return n, nil
}

// Streak counts consecutive wins (positive) or losses (negative) back from
// the latest realized record. A break-even record ends the streak.
func (s *TradeStore) Streak(_ context.Context, paper bool) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pnls []float64
	for _, t := range s.newestFirst() {
		if pnl, ok := t.Realized(); ok && t.Paper == paper && !isArb(t) {
			pnls = append(pnls, pnl)
		}
	}
	return StreakOf(pnls), nil
}

// ListTrades returns matching records, newest first.
func (s *TradeStore) ListTrades(_ context.Context, f domain.TradeFilter) ([]domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.TradeRecord
	for _, t := range s.newestFirst() {
		if !matches(t, f) {
			continue
		}
		out = append(out, t)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

// newestFirst returns a copy of the trades sorted by timestamp then id,
// descending. The caller must hold s.mu.
func (s *TradeStore) newestFirst() []domain.TradeRecord {
	out := make([]domain.TradeRecord, len(s.trades))
	copy(out, s.trades)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func isArb(t domain.TradeRecord) bool { return t.Strategy == domain.StrategyArbitrage }

// StreakOf computes the streak of P&Ls ordered newest first.
func StreakOf(newestFirst []float64) int {
	if len(newestFirst) == 0 || newestFirst[0] == 0 {
		return 0
	}
	win := newestFirst[0] > 0
	n := 0
	for _, p := range newestFirst {
		if p == 0 || (p > 0) != win {
			break
		}
		n++
	}
	if !win {
		n = -n
	}
	return n
}

func matches(t domain.TradeRecord, f domain.TradeFilter) bool {
	switch {
	case f.Asset != "" && t.Asset != f.Asset:
		return false
	case f.Strategy != "" && t.Strategy != f.Strategy:
		return false
	case f.Action != "" && t.Action != f.Action:
		return false
	case f.Paper != nil && t.Paper != *f.Paper:
		return false
	case f.Since != nil && t.Timestamp.Before(*f.Since):
		return false
	case f.Until != nil && !t.Timestamp.Before(*f.Until):
		return false
	}
	return true
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
