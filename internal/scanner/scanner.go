// Package scanner discovers the active 15-minute window of every asset and
// keeps a rolling cache of recent window outcomes.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/metrics"
	"github.com/alanyoungcy/updownbot/internal/retry"
)

const (
	// HistoryDepth is the number of past windows cached per asset.
	HistoryDepth = 10
	// ConvergenceThreshold is the token price treated as a settled outcome
	// when the venue has not published one yet.
	ConvergenceThreshold = 0.9
)

// OutcomeEntry is one cached past window.
type OutcomeEntry struct {
	Window    domain.Window      `json:"window"`
	Info      *domain.WindowInfo `json:"info,omitempty"`
	Outcome   domain.Outcome     `json:"outcome"`
	CheckedAt time.Time          `json:"checked_at"`
}

// Config tunes the scanner.
type Config struct {
	// CallTimeout bounds every individual venue call.
	CallTimeout time.Duration
	Retry       retry.Policy
}

// Scanner polls the venue for active windows.
type Scanner struct {
	venue  domain.Venue
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	markets  map[string]domain.MarketState
	outcomes map[string][]OutcomeEntry
}

// New creates a Scanner.
func New(venue domain.Venue, cfg Config, logger *slog.Logger) *Scanner {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.Default()
	}
	s := &Scanner{
		venue:    venue,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "scanner")),
		now:      time.Now,
		markets:  make(map[string]domain.MarketState),
		outcomes: make(map[string][]OutcomeEntry),
	}
	s.cfg.Retry.OnRetry = func(attempt int, delay time.Duration, err error) {
		s.logger.Debug("venue call retry",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
	}
	return s
}

// Scan refreshes the active market of every asset concurrently. A failing
// asset keeps its last known state and does not affect the others; the
// joined errors are returned for logging.
func (s *Scanner) Scan(ctx context.Context, assets []string) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, asset := range assets {
		asset := strings.ToLower(asset)
		g.Go(func() error {
			if err := s.scanAsset(gctx, asset); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", asset, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (s *Scanner) scanAsset(ctx context.Context, asset string) error {
	now := s.now()
	current := domain.WindowAt(asset, now)

	for _, w := range []domain.Window{current, current.Previous()} {
		info, err := s.findWindow(ctx, w)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if !info.Open(now) {
			continue
		}
		q, err := s.quote(ctx, info)
		if err != nil {
			return err
		}
		if !q.Valid() {
			continue
		}

		state := domain.MarketState{
			Info:      info,
			UpPrice:   q.Up,
			DownPrice: q.Down,
			QuotedAt:  q.At,
		}
		if state.QuotedAt.IsZero() {
			state.QuotedAt = now
		}
		s.mu.Lock()
		prev, had := s.markets[asset]
		s.markets[asset] = state.WithRemaining(now)
		s.mu.Unlock()

		if !had || prev.Info.ID() != info.ID() {
			s.logger.Info("active window",
				slog.String("asset", asset),
				slog.String("window", info.ID()),
				slog.String("slug", info.Slug),
			)
		}
		metrics.UpdateActiveMarket(asset, true)
		return nil
	}

	s.mu.Lock()
	delete(s.markets, asset)
	s.mu.Unlock()
	metrics.UpdateActiveMarket(asset, false)
	return nil
}

// ActiveMarkets returns the active markets keyed by asset with
// SecondsRemaining recomputed at now. Expired windows are omitted.
func (s *Scanner) ActiveMarkets(now time.Time) map[string]domain.MarketState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.MarketState, len(s.markets))
	for asset, m := range s.markets {
		if m.Info.Expired(now) {
			continue
		}
		out[asset] = m.WithRemaining(now)
	}
	return out
}

// Market returns the active market of one asset.
func (s *Scanner) Market(asset string, now time.Time) (domain.MarketState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[strings.ToLower(asset)]
	if !ok || m.Info.Expired(now) {
		return domain.MarketState{}, false
	}
	return m.WithRemaining(now), true
}

// RefreshOutcomes fills the outcome cache with the last HistoryDepth windows
// of every asset and retries the ones still pending.
func (s *Scanner) RefreshOutcomes(ctx context.Context, assets []string) error {
	var errs []error
	now := s.now()
	for _, asset := range assets {
		asset = strings.ToLower(asset)
		if err := s.refreshAsset(ctx, asset, now); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", asset, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Scanner) refreshAsset(ctx context.Context, asset string, now time.Time) error {
	w := domain.WindowAt(asset, now)
	candidates := make([]domain.Window, 0, HistoryDepth)
	for range HistoryDepth {
		w = w.Previous()
		candidates = append(candidates, w)
	}

	s.mu.RLock()
	known := make(map[int64]OutcomeEntry, len(s.outcomes[asset]))
	for _, e := range s.outcomes[asset] {
		known[e.Window.Start.Unix()] = e
	}
	s.mu.RUnlock()

	var lastErr error
	entries := make([]OutcomeEntry, 0, HistoryDepth)
	for _, cw := range candidates {
		e, ok := known[cw.Start.Unix()]
		if !ok {
			e = OutcomeEntry{Window: cw, Outcome: domain.OutcomePending}
		}
		if !e.Outcome.Resolved() {
			if ctx.Err() != nil {
				entries = append(entries, e)
				continue
			}
			outcome, info, err := s.resolve(ctx, cw, e.Info)
			e.CheckedAt = now
			if info != nil {
				e.Info = info
			}
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				lastErr = err
			} else {
				e.Outcome = outcome
			}
		}
		entries = append(entries, e)
	}

	s.mu.Lock()
	// Outcomes marked while we were working win over pending results.
	for i, e := range entries {
		if cur, ok := s.lookupLocked(asset, e.Window.Start); ok && cur.Resolved() && !e.Outcome.Resolved() {
			entries[i].Outcome = cur
		}
	}
	s.outcomes[asset] = entries
	s.mu.Unlock()
	return lastErr
}

// Outcome returns the cached outcome of a window.
func (s *Scanner) Outcome(asset string, start time.Time) (domain.Outcome, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookupLocked(strings.ToLower(asset), start)
}

func (s *Scanner) lookupLocked(asset string, start time.Time) (domain.Outcome, bool) {
	for _, e := range s.outcomes[asset] {
		if e.Window.Start.Equal(start) {
			return e.Outcome, true
		}
	}
	return domain.OutcomePending, false
}

// History returns a copy of the cached outcomes of asset, newest first.
func (s *Scanner) History(asset string) []OutcomeEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.outcomes[strings.ToLower(asset)])
}

// MarkOutcome records an outcome learned elsewhere, e.g. from the resolution
// sweep.
func (s *Scanner) MarkOutcome(w domain.Window, outcome domain.Outcome) {
	if !outcome.Resolved() {
		return
	}
	asset := strings.ToLower(w.Asset)
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.outcomes[asset]
	for i := range entries {
		if entries[i].Window.Start.Equal(w.Start) {
			entries[i].Outcome = outcome
			entries[i].CheckedAt = s.now()
			return
		}
	}
	entries = append(entries, OutcomeEntry{Window: domain.Window{Asset: asset, Start: w.Start}, Outcome: outcome, CheckedAt: s.now()})
	sort.Slice(entries, func(i, j int) bool { return entries[i].Window.Start.After(entries[j].Window.Start) })
	if len(entries) > HistoryDepth {
		entries = entries[:HistoryDepth]
	}
	s.outcomes[asset] = entries
}

// ResolveOutcome determines the outcome of an arbitrary window, first from
// the venue's official settlement and then from token price convergence once
// the window has ended. A resolved outcome is cached.
func (s *Scanner) ResolveOutcome(ctx context.Context, info domain.WindowInfo) (domain.Outcome, error) {
	var known *domain.WindowInfo
	if info.UpTokenID != "" {
		known = &info
	}
	outcome, _, err := s.resolve(ctx, info.Window, known)
	if err != nil {
		return domain.OutcomePending, err
	}
	s.MarkOutcome(info.Window, outcome)
	return outcome, nil
}

func (s *Scanner) resolve(ctx context.Context, w domain.Window, known *domain.WindowInfo) (domain.Outcome, *domain.WindowInfo, error) {
	info := known
	if info == nil {
		found, err := s.findWindow(ctx, w)
		if err != nil {
			return domain.OutcomePending, nil, err
		}
		info = &found
	}

	outcome, err := s.officialResolution(ctx, *info)
	if err != nil {
		return domain.OutcomePending, info, err
	}
	if outcome.Resolved() || !info.Expired(s.now()) {
		return outcome, info, nil
	}

	q, err := s.quote(ctx, *info)
	if err != nil {
		// The book is often gone after settlement; not an error worth retrying.
		return domain.OutcomePending, info, nil
	}
	switch {
	case q.Up >= ConvergenceThreshold && q.Up > q.Down:
		return domain.OutcomeUp, info, nil
	case q.Down >= ConvergenceThreshold && q.Down > q.Up:
		return domain.OutcomeDown, info, nil
	}
	return domain.OutcomePending, info, nil
}

func (s *Scanner) findWindow(ctx context.Context, w domain.Window) (domain.WindowInfo, error) {
	return call(ctx, s, "find_window", func(ctx context.Context) (domain.WindowInfo, error) {
		return s.venue.FindWindow(ctx, w.Asset, w.Start)
	})
}

func (s *Scanner) quote(ctx context.Context, info domain.WindowInfo) (domain.Quote, error) {
	return call(ctx, s, "quote", func(ctx context.Context) (domain.Quote, error) {
		return s.venue.Quote(ctx, info)
	})
}

func (s *Scanner) officialResolution(ctx context.Context, info domain.WindowInfo) (domain.Outcome, error) {
	return call(ctx, s, "resolution", func(ctx context.Context) (domain.Outcome, error) {
		return s.venue.OfficialResolution(ctx, info)
	})
}

// call runs one venue operation with the per-call timeout and retry policy.
func call[T any](ctx context.Context, s *Scanner, op string, fn func(context.Context) (T, error)) (T, error) {
	return retry.Value(ctx, s.cfg.Retry, func(ctx context.Context) (T, error) {
		cctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
		defer cancel()
		start := time.Now()
		v, err := fn(cctx)
		metrics.RecordVenueCall(op, time.Since(start).Seconds(), err)
		return v, err
	})
}
