package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrRateLimited         = errors.New("rate limited")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrVenueRejected       = errors.New("venue rejected order")
	ErrDuplicateOrder      = errors.New("duplicate order")
	ErrInsufficientCapital = errors.New("insufficient capital")
	ErrSideMismatch        = errors.New("position side mismatch")
	ErrNoMarket            = errors.New("no active market")
	ErrLockHeld            = errors.New("lock already held")
	ErrStaleQuote          = errors.New("stale quote")
	ErrInvalidSettings     = errors.New("invalid settings")
)

// StatusError carries the HTTP status of a failed venue call so callers can
// tell client errors from server errors.
type StatusError struct {
	Code int
	Body string
	Err  error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("HTTP %d: %v: %s", e.Code, e.Err, e.Body)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}

func (e *StatusError) Unwrap() error { return e.Err }
