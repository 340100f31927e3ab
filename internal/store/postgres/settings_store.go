package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// SettingsStore keeps the single settings document as JSONB.
type SettingsStore struct {
	pool *pgxpool.Pool
}

var _ domain.SettingsSource = (*SettingsStore)(nil)

// NewSettingsStore creates a SettingsStore backed by the given pool.
func NewSettingsStore(pool *pgxpool.Pool) *SettingsStore {
	return &SettingsStore{pool: pool}
}

// LoadSettings returns the stored document or domain.ErrNotFound.
func (s *SettingsStore) LoadSettings(ctx context.Context) ([]byte, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM settings WHERE id = 1`).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: load settings: %w", err)
	}
	return raw, nil
}

// SaveSettings upserts the document.
func (s *SettingsStore) SaveSettings(ctx context.Context, raw []byte) error {
	const query = `
		INSERT INTO settings (id, doc, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET
			doc        = EXCLUDED.doc,
			updated_at = NOW()`
	if _, err := s.pool.Exec(ctx, query, raw); err != nil {
		return fmt.Errorf("postgres: save settings: %w", err)
	}
	return nil
}
