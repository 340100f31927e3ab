package domain

import "time"

// EventKind classifies outbound engine events.
type EventKind string

const (
	EventState EventKind = "state"
	EventTrade EventKind = "trade"
	EventLog   EventKind = "log"
	EventAlert EventKind = "alert"
)

// Event is pushed to subscribers on a best-effort basis.
type Event struct {
	Kind    EventKind `json:"kind"`
	Time    time.Time `json:"time"`
	Level   string    `json:"level,omitempty"`
	Message string    `json:"message,omitempty"`
	Payload any       `json:"payload,omitempty"`
}

// EventSink accepts events without blocking the caller.
type EventSink interface {
	Publish(ev Event)
}

// EngineSnapshot is the read-only view of the engine published after every
// tick and command.
type EngineSnapshot struct {
	Running   bool                `json:"running"`
	Paper     bool                `json:"paper"`
	Markets   []MarketState       `json:"markets"`
	Positions []Position          `json:"positions"`
	Settling  []Position          `json:"settling"`
	Capital   CapitalState        `json:"capital"`
	Breaker   CircuitBreakerState `json:"breaker"`
	Arb       []ArbWindowState    `json:"arb"`
	ArbStats  ArbStats            `json:"arb_stats"`
	Prices    map[string]float64  `json:"prices"`
	Ticks     int64               `json:"ticks"`
	UpdatedAt time.Time           `json:"updated_at"`
}
