// Package settings serves the runtime Settings through a short TTL cache
// over a persistent SettingsSource.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// DefaultTTL is how long a loaded settings document is served from memory.
const DefaultTTL = 30 * time.Second

// Cache reads settings through a TTL cache. Unparseable or missing documents
// fall back to the seed settings; a failing source keeps the last good copy.
type Cache struct {
	src    domain.SettingsSource
	seed   domain.Settings
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	cached   domain.Settings
	loadedAt time.Time
	valid    bool
}

// NewCache creates a Cache. seed is served when the source holds nothing.
func NewCache(src domain.SettingsSource, seed domain.Settings, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	seed.Normalize()
	return &Cache{
		src:    src,
		seed:   seed,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "settings")),
		now:    time.Now,
	}
}

// Get returns the current settings, reloading when the TTL has passed.
func (c *Cache) Get(ctx context.Context) domain.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.valid && c.now().Sub(c.loadedAt) < c.ttl {
		return clone(c.cached)
	}
	s, err := c.load(ctx)
	if err != nil {
		c.logger.Warn("settings load failed, serving last known",
			slog.String("error", err.Error()),
		)
		if !c.valid {
			s = clone(c.seed)
		} else {
			s = c.cached
		}
	}
	c.cached = s
	c.loadedAt = c.now()
	c.valid = true
	return clone(s)
}

func (c *Cache) load(ctx context.Context) (domain.Settings, error) {
	raw, err := c.src.LoadSettings(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return clone(c.seed), nil
	}
	if err != nil {
		return domain.Settings{}, err
	}
	s, err := c.decode(raw)
	if err != nil {
		c.logger.Warn("settings document invalid, using defaults",
			slog.String("error", err.Error()),
		)
		return domain.DefaultSettings(), nil
	}
	return s, nil
}

// decode overlays raw on the seed so fields the document omits keep the
// configured seed values.
func (c *Cache) decode(raw []byte) (domain.Settings, error) {
	s := clone(c.seed)
	if len(raw) == 0 {
		return s, nil
	}
	if _, err := domain.DecodeSettings(raw); err != nil {
		return domain.Settings{}, err
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return domain.Settings{}, err
	}
	s.Normalize()
	return s, nil
}

// Update validates and persists s and invalidates the cache. Values that
// cannot be traded safely are rejected with ErrInvalidSettings.
func (c *Cache) Update(ctx context.Context, s domain.Settings) (domain.Settings, error) {
	if err := s.Validate(); err != nil {
		return domain.Settings{}, fmt.Errorf("settings: %w", err)
	}
	s.Normalize()
	raw, err := json.Marshal(s)
	if err != nil {
		return domain.Settings{}, fmt.Errorf("settings: marshal: %w", err)
	}
	if err := c.src.SaveSettings(ctx, raw); err != nil {
		return domain.Settings{}, fmt.Errorf("settings: save: %w", err)
	}
	c.Invalidate()
	c.logger.Info("settings updated", slog.Bool("paper", s.PaperTrading))
	return s, nil
}

// Patch applies a partial JSON document on top of the current settings and
// persists the result.
func (c *Cache) Patch(ctx context.Context, patch []byte) (domain.Settings, error) {
	cur := c.Get(ctx)
	if err := json.Unmarshal(patch, &cur); err != nil {
		return domain.Settings{}, fmt.Errorf("settings: decode patch: %w: %v", domain.ErrInvalidSettings, err)
	}
	return c.Update(ctx, cur)
}

// Invalidate forces the next Get to reload.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valid = false
}

func clone(s domain.Settings) domain.Settings {
	out := s
	out.EnabledAssets = append([]string(nil), s.EnabledAssets...)
	out.ArbEnabledAssets = append([]string(nil), s.ArbEnabledAssets...)
	out.LadderLevels = append([]domain.LadderLevel(nil), s.LadderLevels...)
	if s.AssetStrategies != nil {
		out.AssetStrategies = make(map[string]domain.StrategyKind, len(s.AssetStrategies))
		for k, v := range s.AssetStrategies {
			out.AssetStrategies[k] = v
		}
	}
	return out
}
