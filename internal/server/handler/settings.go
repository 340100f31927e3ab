package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// SettingsStore reads and patches the runtime settings.
type SettingsStore interface {
	Get(ctx context.Context) domain.Settings
	Patch(ctx context.Context, patch []byte) (domain.Settings, error)
}

// SettingsHandler serves the settings document.
type SettingsHandler struct {
	store  SettingsStore
	logger *slog.Logger
}

// NewSettingsHandler creates a SettingsHandler.
func NewSettingsHandler(store SettingsStore, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{store: store, logger: logger.With(slog.String("handler", "settings"))}
}

// Get returns the effective settings.
// GET /api/settings
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Get(r.Context()))
}

// Update merges the request body over the current settings. Fields the body
// omits are left unchanged.
// PUT /api/settings
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	s, err := h.store.Patch(r.Context(), body)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSettings) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("settings update failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}
	writeJSON(w, http.StatusOK, s)
}
