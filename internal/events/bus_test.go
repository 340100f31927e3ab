package events

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

func newTestBus() *Bus {
	return NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestBusDeliversToAllSubscribers(t *testing.T) {
	b := newTestBus()
	a, cancelA := b.Subscribe(4)
	defer cancelA()
	c, cancelC := b.Subscribe(4, domain.EventTrade)
	defer cancelC()

	b.Publish(domain.Event{Kind: domain.EventState})
	b.Publish(domain.Event{Kind: domain.EventTrade, Message: "buy"})

	assert.Equal(t, domain.EventState, (<-a).Kind)
	assert.Equal(t, domain.EventTrade, (<-a).Kind)
	got := <-c
	assert.Equal(t, "buy", got.Message)
	assert.Empty(t, c)
}

func TestBusDropsForSlowSubscriber(t *testing.T) {
	b := newTestBus()
	slow, cancelSlow := b.Subscribe(1)
	defer cancelSlow()
	fast, cancelFast := b.Subscribe(10)
	defer cancelFast()

	done := make(chan struct{})
	go func() {
		for i := range 5 {
			b.Publish(domain.Event{Kind: domain.EventLog, Message: string(rune('a' + i))})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	assert.Len(t, slow, 1)
	assert.Equal(t, "a", (<-slow).Message)
	assert.Len(t, fast, 5)
}

func TestBusCancelAndClose(t *testing.T) {
	b := newTestBus()
	ch, cancel := b.Subscribe(1)
	require.Equal(t, 1, b.Subscribers())
	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Zero(t, b.Subscribers())

	ch2, _ := b.Subscribe(1)
	b.Close()
	_, ok = <-ch2
	assert.False(t, ok)
	b.Publish(domain.Event{Kind: domain.EventLog})

	ch3, _ := b.Subscribe(1)
	_, ok = <-ch3
	assert.False(t, ok, "subscribing after close yields a closed channel")
}

type recordingSignal struct {
	mu        sync.Mutex
	published map[string]int
	streamed  map[string]int
}

func (r *recordingSignal) Publish(_ context.Context, channel string, _ []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published[channel]++
	return nil
}

func (r *recordingSignal) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, nil
}

func (r *recordingSignal) StreamAppend(_ context.Context, stream string, _ []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streamed[stream]++
	return nil
}

func (r *recordingSignal) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.published[ChannelEvents], r.streamed[StreamTrades]
}

func TestRelayForwardsEvents(t *testing.T) {
	b := newTestBus()
	sig := &recordingSignal{published: map[string]int{}, streamed: map[string]int{}}
	r := NewRelay(b, sig, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()
	require.Eventually(t, func() bool { return b.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	b.Publish(domain.Event{Kind: domain.EventTrade})
	b.Publish(domain.Event{Kind: domain.EventLog})
	b.Publish(domain.Event{Kind: domain.EventAlert})

	require.Eventually(t, func() bool {
		p, s := sig.counts()
		return p == 2 && s == 1
	}, time.Second, 5*time.Millisecond)
}

type chanSignal struct {
	recordingSignal
	ch chan []byte
}

func (c *chanSignal) Subscribe(context.Context, string) (<-chan []byte, error) {
	return c.ch, nil
}

func TestDecodeRestoresSnapshot(t *testing.T) {
	data, err := json.Marshal(domain.Event{
		Kind:    domain.EventState,
		Payload: domain.EngineSnapshot{Running: true, Ticks: 7},
	})
	require.NoError(t, err)

	ev, err := Decode(data)
	require.NoError(t, err)
	snap, ok := ev.Payload.(domain.EngineSnapshot)
	require.True(t, ok)
	assert.True(t, snap.Running)
	assert.Equal(t, int64(7), snap.Ticks)

	ev, err = Decode([]byte(`{"kind":"alert","level":"warn","message":"x","payload":{"a":1}}`))
	require.NoError(t, err)
	assert.Equal(t, "warn", ev.Level)
	assert.Equal(t, map[string]any{"a": 1.0}, ev.Payload)

	_, err = Decode([]byte(`{`))
	assert.Error(t, err)
}

func TestFollowerMirrorsRelayedEvents(t *testing.T) {
	b := newTestBus()
	sig := &chanSignal{ch: make(chan []byte, 4)}
	f := NewFollower(b, sig, slog.New(slog.NewTextHandler(io.Discard, nil)))

	local, cancelLocal := b.Subscribe(4)
	defer cancelLocal()

	_, ok := f.Latest()
	assert.False(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.Run(ctx) }()

	state, _ := json.Marshal(domain.Event{Kind: domain.EventState, Payload: domain.EngineSnapshot{Paper: true, Ticks: 3}})
	sig.ch <- []byte("not json")
	sig.ch <- state

	select {
	case ev := <-local:
		assert.Equal(t, domain.EventState, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("relayed event not mirrored")
	}
	snap, ok := f.Latest()
	require.True(t, ok)
	assert.Equal(t, int64(3), snap.Ticks)
	assert.True(t, f.Snapshot().Paper)
}
