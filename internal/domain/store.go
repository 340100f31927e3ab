package domain

import (
	"context"
	"time"
)

// OrderType is the venue time-in-force.
type OrderType string

const (
	// OrderGTC rests on the book until filled or cancelled.
	OrderGTC OrderType = "GTC"
	// OrderFAK fills what it can immediately and cancels the rest.
	OrderFAK OrderType = "FAK"
)

// OrderRequest is a single limit order against an outcome token.
// Size is in shares.
type OrderRequest struct {
	TokenID string
	Price   float64
	Size    float64
	Type    OrderType
}

// OrderResult is the venue's answer to a placement. FilledPrice and
// FilledSize are what actually executed, which may differ from the request.
type OrderResult struct {
	Success     bool
	OrderID     string
	FilledPrice float64
	FilledSize  float64
	Error       string
}

// OrderState is a status lookup result.
type OrderState struct {
	SizeFilled float64
	Status     string // "live", "matched", "cancelled", ...
}

// Venue is the trading venue: window discovery, quotes, orders, settlement.
type Venue interface {
	// FindWindow returns the window for asset starting at start, or
	// ErrNotFound when the venue has no such market.
	FindWindow(ctx context.Context, asset string, start time.Time) (WindowInfo, error)
	Quote(ctx context.Context, w WindowInfo) (Quote, error)
	PlaceBuy(ctx context.Context, req OrderRequest) (OrderResult, error)
	PlaceSell(ctx context.Context, req OrderRequest) (OrderResult, error)
	Cancel(ctx context.Context, orderIDs []string) error
	OrderStatus(ctx context.Context, orderID string) (OrderState, error)
	// OfficialResolution returns OutcomePending until the venue settles.
	OfficialResolution(ctx context.Context, w WindowInfo) (Outcome, error)
}

// QuoteSource supplies underlying reference prices.
type QuoteSource interface {
	CurrentPrice(asset string) (float64, bool)
	WindowOpenPrice(asset string, windowStart time.Time) (float64, bool)
	LastUpdateAge(asset string) time.Duration
	// Momentum is the % change over lookback, zero when unknown.
	Momentum(asset string, lookback time.Duration) float64
}

// TradeLedger is the durable append-only trade log plus the aggregates the
// engine needs for capital and circuit-breaker decisions.
type TradeLedger interface {
	InsertTrade(ctx context.Context, rec TradeRecord) (TradeRecord, error)
	CumulativePnL(ctx context.Context, paper bool) (float64, error)
	DailyPnL(ctx context.Context, day time.Time, paper bool) (float64, error)
	// DailyLossCount and Streak skip arbitrage records: a hedged window
	// always realizes one losing side, which says nothing about the window.
	DailyLossCount(ctx context.Context, day time.Time, paper bool) (int, error)
	// Streak is positive for consecutive wins and negative for consecutive
	// losses, counted back from the latest realized trade.
	Streak(ctx context.Context, paper bool) (int, error)
	ListTrades(ctx context.Context, f TradeFilter) ([]TradeRecord, error)
}

// SettingsSource persists the settings document.
type SettingsSource interface {
	LoadSettings(ctx context.Context) ([]byte, error)
	SaveSettings(ctx context.Context, raw []byte) error
}

// SnapshotRecorder stores periodic market snapshots for analysis.
type SnapshotRecorder interface {
	RecordMarkets(ctx context.Context, at time.Time, markets []MarketState, prices map[string]float64) error
}

// PriceCache publishes the latest reference prices and quotes.
type PriceCache interface {
	SetPrice(ctx context.Context, asset string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, asset string) (float64, time.Time, error)
	SetMarket(ctx context.Context, m MarketState) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// Lock is a held lock that must be refreshed before its TTL elapses.
type Lock interface {
	Refresh(ctx context.Context, ttl time.Duration) error
	Release()
}

// SignalBus relays events between processes.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// BlobWriter uploads objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}
