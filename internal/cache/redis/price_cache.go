package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// marketTTL keeps a market entry a little past its 15 minute window.
const marketTTL = 20 * time.Minute

// PriceCache implements domain.PriceCache. Prices live in a hash per asset
// with fields "price" and "ts" (Unix nanoseconds); markets are JSON strings.
type PriceCache struct {
	rdb *redis.Client
}

var _ domain.PriceCache = (*PriceCache)(nil)

// NewPriceCache creates a PriceCache backed by c.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(asset string) string  { return keyPrefix + "price:" + asset }
func marketKey(asset string) string { return keyPrefix + "market:" + asset }

// SetPrice stores the latest reference price for asset.
func (pc *PriceCache) SetPrice(ctx context.Context, asset string, price float64, ts time.Time) error {
	if err := pc.rdb.HSet(ctx, priceKey(asset), encodePrice(price, ts)).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", asset, err)
	}
	return nil
}

// GetPrice returns the latest price for asset or domain.ErrNotFound.
func (pc *PriceCache) GetPrice(ctx context.Context, asset string) (float64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(asset)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", asset, err)
	}
	price, ts, err := decodePrice(vals)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", asset, err)
	}
	return price, ts, nil
}

// SetMarket stores the asset's current market view.
func (pc *PriceCache) SetMarket(ctx context.Context, m domain.MarketState) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("redis: encode market %s: %w", m.Asset(), err)
	}
	if err := pc.rdb.Set(ctx, marketKey(m.Asset()), raw, marketTTL).Err(); err != nil {
		return fmt.Errorf("redis: set market %s: %w", m.Asset(), err)
	}
	return nil
}

// GetMarket returns the cached market view or domain.ErrNotFound.
func (pc *PriceCache) GetMarket(ctx context.Context, asset string) (domain.MarketState, error) {
	var m domain.MarketState
	raw, err := pc.rdb.Get(ctx, marketKey(asset)).Bytes()
	if err == redis.Nil {
		return m, domain.ErrNotFound
	}
	if err != nil {
		return m, fmt.Errorf("redis: get market %s: %w", asset, err)
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("redis: decode market %s: %w", asset, err)
	}
	return m, nil
}

func encodePrice(price float64, ts time.Time) map[string]any {
	return map[string]any{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
}

func decodePrice(vals map[string]string) (float64, time.Time, error) {
	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("parse price: %w", err)
	}
	nanos, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("parse ts: %w", err)
	}
	return price, time.Unix(0, nanos).UTC(), nil
}
