package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Relay copies the latest reference prices from a Book into a shared
// PriceCache so other processes (monitor mode, dashboards) can read them.
type Relay struct {
	book   *Book
	cache  domain.PriceCache
	logger *slog.Logger
}

// NewRelay creates a Relay.
func NewRelay(book *Book, cache domain.PriceCache, logger *slog.Logger) *Relay {
	return &Relay{
		book:   book,
		cache:  cache,
		logger: logger.With(slog.String("component", "price_relay")),
	}
}

// Run publishes prices every interval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("price relay started", slog.Duration("interval", interval))
	defer r.logger.Info("price relay stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Publish(ctx)
		}
	}
}

// Publish writes one round of prices.
func (r *Relay) Publish(ctx context.Context) {
	now := time.Now()
	for asset, price := range r.book.Prices() {
		if err := r.cache.SetPrice(ctx, asset, price, now); err != nil {
			r.logger.Debug("price relay write failed",
				slog.String("asset", asset),
				slog.String("error", err.Error()),
			)
		}
	}
}
