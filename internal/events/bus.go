// Package events fans engine events out to subscribers. Publishing never
// blocks: a subscriber whose buffer is full misses the event.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/metrics"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

type subscriber struct {
	ch      chan domain.Event
	kinds   map[domain.EventKind]bool // nil means all kinds
	dropped atomic.Int64
}

// Bus is an in-process event fan-out. It implements domain.EventSink.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
	closed bool
	logger *slog.Logger
}

var _ domain.EventSink = (*Bus)(nil)

// NewBus creates an empty Bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[int]*subscriber),
		logger: logger.With(slog.String("component", "events")),
	}
}

// Subscribe registers a subscriber with the given buffer size, optionally
// restricted to some kinds. The returned cancel func closes the channel.
func (b *Bus) Subscribe(buffer int, kinds ...domain.EventKind) (<-chan domain.Event, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	s := &subscriber{ch: make(chan domain.Event, buffer)}
	if len(kinds) > 0 {
		s.kinds = make(map[domain.EventKind]bool, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = true
		}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.ch)
		return s.ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(s.ch)
			}
		})
	}
}

// Publish delivers ev to every interested subscriber without blocking.
func (b *Bus) Publish(ev domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	dropped := 0
	for _, s := range b.subs {
		if s.kinds != nil && !s.kinds[ev.Kind] {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			// Slow subscriber: drop rather than stall the engine.
			if s.dropped.Add(1)%100 == 1 {
				b.logger.Warn("dropping events for slow subscriber",
					slog.String("kind", string(ev.Kind)),
					slog.Int64("dropped", s.dropped.Load()),
				)
			}
			dropped++
		}
	}
	metrics.RecordEvent(dropped)
}

// Subscribers returns the number of live subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		close(s.ch)
		delete(b.subs, id)
	}
}
