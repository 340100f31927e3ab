package feed

import (
	"math"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// PricePoint records a single price observation at a point in time.
type PricePoint struct {
	Price float64
	Time  time.Time
}

const (
	// openHistory bounds how many window-open prices are kept per asset.
	openHistory = 8
	// openGrace is how late the first tick of a window may arrive and still
	// count as its open when the previous window was not observed.
	openGrace = 30 * time.Second
)

// Book keeps a sliding window of reference prices per asset and captures the
// first price seen in every 900-second window. A window joined mid-way has no
// open price until SetWindowOpen supplies one. It implements
// domain.QuoteSource.
type Book struct {
	mu         sync.RWMutex
	history    map[string][]PricePoint
	opens      map[string]map[int64]float64
	lastUpdate map[string]time.Time
	windowSize time.Duration
	now        func() time.Time
}

var _ domain.QuoteSource = (*Book)(nil)

// NewBook creates a Book that keeps windowSize of history per asset. Points
// older than the window are discarded on every Track call.
func NewBook(windowSize time.Duration) *Book {
	if windowSize <= 0 {
		windowSize = 20 * time.Minute
	}
	return &Book{
		history:    make(map[string][]PricePoint),
		opens:      make(map[string]map[int64]float64),
		lastUpdate: make(map[string]time.Time),
		windowSize: windowSize,
		now:        time.Now,
	}
}

// Track records a new price observation for the given asset and trims points
// that have fallen outside the sliding window.
func (b *Book) Track(asset string, price float64, ts time.Time) {
	if price <= 0 {
		return
	}
	asset = strings.ToLower(asset)

	b.mu.Lock()
	defer b.mu.Unlock()

	pts := b.history[asset]
	// Out-of-order ticks only refresh staleness.
	if n := len(pts); n > 0 && ts.Before(pts[n-1].Time) {
		b.lastUpdate[asset] = b.now()
		return
	}
	crossed := len(pts) > 0 && domain.WindowStartFor(pts[len(pts)-1].Time).Before(domain.WindowStartFor(ts))
	b.history[asset] = append(pts, PricePoint{Price: price, Time: ts})
	b.lastUpdate[asset] = b.now()
	if crossed || ts.Sub(domain.WindowStartFor(ts)) <= openGrace {
		b.captureOpen(asset, price, ts)
	}
	b.trim(asset, ts)
}

// SetWindowOpen records an explicit window-open price, e.g. one recovered
// from a kline after a restart.
func (b *Book) SetWindowOpen(asset string, windowStart time.Time, price float64) {
	asset = strings.ToLower(asset)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.opens[asset] == nil {
		b.opens[asset] = make(map[int64]float64)
	}
	b.opens[asset][windowStart.Unix()] = price
	b.pruneOpens(asset)
}

// CurrentPrice returns the latest observed price.
func (b *Book) CurrentPrice(asset string) (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	pts := b.history[strings.ToLower(asset)]
	if len(pts) == 0 {
		return 0, false
	}
	return pts[len(pts)-1].Price, true
}

// WindowOpenPrice returns the first price observed in the window starting at
// windowStart.
func (b *Book) WindowOpenPrice(asset string, windowStart time.Time) (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.opens[strings.ToLower(asset)][windowStart.Unix()]
	return p, ok
}

// LastUpdateAge returns the time since the asset last ticked, or the maximum
// duration when it never has.
func (b *Book) LastUpdateAge(asset string) time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	last, ok := b.lastUpdate[strings.ToLower(asset)]
	if !ok {
		return time.Duration(math.MaxInt64)
	}
	return b.now().Sub(last)
}

// Momentum returns the percentage change between the last price at or before
// lookback ago and the latest price. Zero when history is too short.
func (b *Book) Momentum(asset string, lookback time.Duration) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	pts := b.history[strings.ToLower(asset)]
	if len(pts) < 2 || lookback <= 0 {
		return 0
	}
	latest := pts[len(pts)-1]
	cutoff := latest.Time.Add(-lookback)

	var base *PricePoint
	for i := len(pts) - 2; i >= 0; i-- {
		if !pts[i].Time.After(cutoff) {
			base = &pts[i]
			break
		}
	}
	if base == nil {
		base = &pts[0]
	}
	if base.Price == 0 {
		return 0
	}
	return (latest.Price - base.Price) / base.Price * 100
}

// Volatility returns the population standard deviation of the prices in the
// sliding window relative to their mean, in percent.
func (b *Book) Volatility(asset string) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	pts := b.history[strings.ToLower(asset)]
	if len(pts) < 2 {
		return 0
	}
	var sum float64
	for _, p := range pts {
		sum += p.Price
	}
	mean := sum / float64(len(pts))

	var variance float64
	for _, p := range pts {
		d := p.Price - mean
		variance += d * d
	}
	variance /= float64(len(pts))
	return math.Sqrt(variance) / mean * 100
}

// Prices returns the latest price per asset.
func (b *Book) Prices() map[string]float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]float64, len(b.history))
	for asset, pts := range b.history {
		if len(pts) > 0 {
			out[asset] = pts[len(pts)-1].Price
		}
	}
	return out
}

// captureOpen stores price as the open of ts's window if none is known yet.
// The caller must hold b.mu.
func (b *Book) captureOpen(asset string, price float64, ts time.Time) {
	start := domain.WindowStartFor(ts).Unix()
	if b.opens[asset] == nil {
		b.opens[asset] = make(map[int64]float64)
	}
	if _, ok := b.opens[asset][start]; ok {
		return
	}
	b.opens[asset][start] = price
	b.pruneOpens(asset)
}

// pruneOpens keeps the newest openHistory entries. The caller must hold b.mu.
func (b *Book) pruneOpens(asset string) {
	m := b.opens[asset]
	for len(m) > openHistory {
		oldest := int64(math.MaxInt64)
		for k := range m {
			oldest = min(oldest, k)
		}
		delete(m, oldest)
	}
}

// trim removes all points older than windowSize relative to the reference
// time. The caller must hold b.mu.
func (b *Book) trim(asset string, now time.Time) {
	cutoff := now.Add(-b.windowSize)
	pts := b.history[asset]

	i := 0
	for i < len(pts)-1 && pts[i].Time.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.history[asset] = pts[i:]
	}
}
