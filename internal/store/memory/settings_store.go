package memory

import (
	"context"
	"sync"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// SettingsStore keeps the settings document in memory.
type SettingsStore struct {
	mu  sync.RWMutex
	raw []byte
}

var _ domain.SettingsSource = (*SettingsStore)(nil)

// NewSettingsStore creates a store seeded with raw, which may be nil.
func NewSettingsStore(raw []byte) *SettingsStore {
	return &SettingsStore{raw: append([]byte(nil), raw...)}
}

// LoadSettings returns the stored document or domain.ErrNotFound.
func (s *SettingsStore) LoadSettings(_ context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.raw) == 0 {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), s.raw...), nil
}

// SaveSettings replaces the stored document.
func (s *SettingsStore) SaveSettings(_ context.Context, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw = append([]byte(nil), raw...)
	return nil
}
