package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/engine"
)

const commandTimeout = 5 * time.Second

// StateSource exposes the latest engine view.
type StateSource interface {
	Snapshot() domain.EngineSnapshot
}

// Controller accepts operator commands. It is nil when no engine runs in
// this process.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	ResetBreaker(ctx context.Context) error
}

// EngineHandler serves state and engine commands.
type EngineHandler struct {
	state  StateSource
	ctrl   Controller
	logger *slog.Logger
}

// NewEngineHandler creates an EngineHandler. ctrl may be nil.
func NewEngineHandler(state StateSource, ctrl Controller, logger *slog.Logger) *EngineHandler {
	return &EngineHandler{state: state, ctrl: ctrl, logger: logger.With(slog.String("handler", "engine"))}
}

// State returns the latest snapshot.
// GET /api/state
func (h *EngineHandler) State(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.state.Snapshot())
}

// Start resumes trading.
// POST /api/engine/start
func (h *EngineHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "start", func(c Controller, ctx context.Context) error { return c.Start(ctx) })
}

// Stop pauses trading.
// POST /api/engine/stop
func (h *EngineHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "stop", func(c Controller, ctx context.Context) error { return c.Stop(ctx) })
}

// ResetBreaker clears a tripped circuit breaker.
// POST /api/breaker/reset
func (h *EngineHandler) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "reset_breaker", func(c Controller, ctx context.Context) error { return c.ResetBreaker(ctx) })
}

func (h *EngineHandler) command(w http.ResponseWriter, r *http.Request, name string, fn func(Controller, context.Context) error) {
	if h.ctrl == nil {
		writeError(w, http.StatusServiceUnavailable, "engine not running in this mode")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	if err := fn(h.ctrl, ctx); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		} else if errors.Is(err, engine.ErrStopped) {
			status = http.StatusServiceUnavailable
		}
		h.logger.Warn("engine command failed", slog.String("command", name), slog.String("error", err.Error()))
		writeError(w, status, err.Error())
		return
	}
	h.logger.Info("engine command applied", slog.String("command", name))
	writeJSON(w, http.StatusOK, h.state.Snapshot())
}
