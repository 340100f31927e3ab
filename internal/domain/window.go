package domain

import (
	"fmt"
	"strings"
	"time"
)

// WindowSeconds is the length of one up/down market window.
const WindowSeconds = 900

// WindowDuration is WindowSeconds as a time.Duration.
const WindowDuration = WindowSeconds * time.Second

// Side is one of the two outcomes of a window.
type Side string

const (
	SideUp   Side = "up"
	SideDown Side = "down"
)

// Opposite returns the other outcome.
func (s Side) Opposite() Side {
	if s == SideUp {
		return SideDown
	}
	return SideUp
}

// Valid reports whether s is a known side.
func (s Side) Valid() bool { return s == SideUp || s == SideDown }

// Outcome is the resolved result of a window.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeUp      Outcome = "up"
	OutcomeDown    Outcome = "down"
)

// Resolved reports whether the outcome is terminal.
func (o Outcome) Resolved() bool { return o == OutcomeUp || o == OutcomeDown }

// Winner returns the winning side. ok is false while pending.
func (o Outcome) Winner() (Side, bool) {
	switch o {
	case OutcomeUp:
		return SideUp, true
	case OutcomeDown:
		return SideDown, true
	}
	return "", false
}

// OutcomeFor maps a winning side to its outcome.
func OutcomeFor(s Side) Outcome {
	if s == SideUp {
		return OutcomeUp
	}
	return OutcomeDown
}

// Window identifies one 15-minute market instance for an asset.
type Window struct {
	Asset string    `json:"asset"`
	Start time.Time `json:"start"`
}

// WindowStartFor returns the aligned window start containing t.
func WindowStartFor(t time.Time) time.Time {
	sec := t.Unix()
	return time.Unix(sec-sec%WindowSeconds, 0).UTC()
}

// WindowAt returns the window for asset containing t.
func WindowAt(asset string, t time.Time) Window {
	return Window{Asset: strings.ToLower(asset), Start: WindowStartFor(t)}
}

// End returns Start + 900s.
func (w Window) End() time.Time { return w.Start.Add(WindowDuration) }

// Previous returns the window immediately before w.
func (w Window) Previous() Window {
	return Window{Asset: w.Asset, Start: w.Start.Add(-WindowDuration)}
}

// Expired reports whether the window has closed at now.
func (w Window) Expired(now time.Time) bool { return !now.Before(w.End()) }

// ID is a stable identifier such as "btc-1700000100".
func (w Window) ID() string { return fmt.Sprintf("%s-%d", w.Asset, w.Start.Unix()) }

// Key is an alias for ID used as a map key.
func (w Window) Key() string { return w.ID() }
