package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Channel names used on the shared signal bus.
const (
	ChannelEvents = "events"
	StreamTrades  = "trades"
)

// Relay forwards bus events to a cross-process SignalBus. Trade events are
// also appended to a durable stream.
type Relay struct {
	bus    *Bus
	signal domain.SignalBus
	logger *slog.Logger
}

// NewRelay creates a Relay.
func NewRelay(bus *Bus, signal domain.SignalBus, logger *slog.Logger) *Relay {
	return &Relay{
		bus:    bus,
		signal: signal,
		logger: logger.With(slog.String("component", "event_relay")),
	}
}

// Run forwards events until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ch, cancel := r.bus.Subscribe(256, domain.EventTrade, domain.EventAlert, domain.EventState)
	defer cancel()

	r.logger.Info("event relay started")
	defer r.logger.Info("event relay stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			r.forward(ctx, ev)
		}
	}
}

func (r *Relay) forward(ctx context.Context, ev domain.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		r.logger.Debug("event relay marshal failed", slog.String("error", err.Error()))
		return
	}
	if err := r.signal.Publish(ctx, ChannelEvents, data); err != nil {
		r.logger.Debug("event relay publish failed",
			slog.String("kind", string(ev.Kind)),
			slog.String("error", err.Error()),
		)
	}
	if ev.Kind != domain.EventTrade {
		return
	}
	if err := r.signal.StreamAppend(ctx, StreamTrades, data); err != nil {
		r.logger.Warn("trade stream append failed", slog.String("error", err.Error()))
	}
}

// Follower mirrors events relayed by another process onto a local Bus and
// keeps the last engine snapshot it saw.
type Follower struct {
	bus    *Bus
	signal domain.SignalBus
	logger *slog.Logger

	last atomic.Pointer[domain.EngineSnapshot]
}

// NewFollower creates a Follower.
func NewFollower(bus *Bus, signal domain.SignalBus, logger *slog.Logger) *Follower {
	return &Follower{
		bus:    bus,
		signal: signal,
		logger: logger.With(slog.String("component", "event_follower")),
	}
}

// Snapshot returns the most recent relayed engine snapshot.
func (f *Follower) Snapshot() domain.EngineSnapshot {
	if s := f.last.Load(); s != nil {
		return *s
	}
	return domain.EngineSnapshot{}
}

// Latest is Snapshot plus whether any snapshot has arrived yet.
func (f *Follower) Latest() (domain.EngineSnapshot, bool) {
	s := f.last.Load()
	if s == nil {
		return domain.EngineSnapshot{}, false
	}
	return *s, true
}

// Run consumes the relay channel until ctx is cancelled.
func (f *Follower) Run(ctx context.Context) error {
	ch, err := f.signal.Subscribe(ctx, ChannelEvents)
	if err != nil {
		return fmt.Errorf("events: follow %s: %w", ChannelEvents, err)
	}
	f.logger.Info("event follower started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			ev, err := Decode(data)
			if err != nil {
				f.logger.Debug("event follower decode failed", slog.String("error", err.Error()))
				continue
			}
			if snap, ok := ev.Payload.(domain.EngineSnapshot); ok {
				f.last.Store(&snap)
			}
			f.bus.Publish(ev)
		}
	}
}

// Decode parses a relayed event. State payloads come back as an
// EngineSnapshot; other payloads stay generic.
func Decode(data []byte) (domain.Event, error) {
	var raw struct {
		domain.Event
		Payload json.RawMessage `json:"payload,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.Event{}, fmt.Errorf("events: decode: %w", err)
	}
	ev := raw.Event
	if len(raw.Payload) == 0 {
		return ev, nil
	}
	if ev.Kind == domain.EventState {
		var snap domain.EngineSnapshot
		if err := json.Unmarshal(raw.Payload, &snap); err != nil {
			return domain.Event{}, fmt.Errorf("events: decode snapshot: %w", err)
		}
		ev.Payload = snap
		return ev, nil
	}
	var payload any
	if err := json.Unmarshal(raw.Payload, &payload); err != nil {
		return domain.Event{}, fmt.Errorf("events: decode payload: %w", err)
	}
	ev.Payload = payload
	return ev, nil
}
