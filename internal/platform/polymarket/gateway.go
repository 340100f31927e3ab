package polymarket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Gateway combines the Gamma and CLOB clients into a domain.Venue.
type Gateway struct {
	gamma   *GammaClient
	clob    *ClobClient
	limiter domain.RateLimiter
	limit   int
	window  time.Duration
	now     func() time.Time
}

var _ domain.Venue = (*Gateway)(nil)

// GatewayOption customises a Gateway.
type GatewayOption func(*Gateway)

// WithRateLimit throttles every venue call through limiter, allowing limit
// calls per window across all instances sharing the limiter.
func WithRateLimit(limiter domain.RateLimiter, limit int, window time.Duration) GatewayOption {
	return func(g *Gateway) {
		g.limiter = limiter
		g.limit = limit
		g.window = window
	}
}

// NewGateway returns a Venue backed by the given clients.
func NewGateway(gamma *GammaClient, clob *ClobClient, opts ...GatewayOption) *Gateway {
	g := &Gateway{gamma: gamma, clob: clob, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) throttle(ctx context.Context, key string) error {
	if g.limiter == nil || g.limit <= 0 {
		return nil
	}
	return g.limiter.Wait(ctx, "polymarket:"+key, g.limit, g.window)
}

// FindWindow implements domain.Venue.
func (g *Gateway) FindWindow(ctx context.Context, asset string, start time.Time) (domain.WindowInfo, error) {
	if err := g.throttle(ctx, "gamma"); err != nil {
		return domain.WindowInfo{}, err
	}
	return g.gamma.FindWindow(ctx, asset, start)
}

// Quote returns the midpoints of both outcome tokens.
func (g *Gateway) Quote(ctx context.Context, w domain.WindowInfo) (domain.Quote, error) {
	if w.UpTokenID == "" || w.DownTokenID == "" {
		return domain.Quote{}, fmt.Errorf("polymarket: quote %s: %w", w.ID(), domain.ErrNoMarket)
	}
	if err := g.throttle(ctx, "clob"); err != nil {
		return domain.Quote{}, err
	}
	up, err := g.clob.Midpoint(ctx, w.UpTokenID)
	if err != nil {
		return domain.Quote{}, err
	}
	down, err := g.clob.Midpoint(ctx, w.DownTokenID)
	if err != nil {
		return domain.Quote{}, err
	}
	return domain.Quote{Up: up, Down: down, At: g.now()}, nil
}

// PlaceBuy implements domain.Venue.
func (g *Gateway) PlaceBuy(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	return g.place(ctx, req, true)
}

// PlaceSell implements domain.Venue.
func (g *Gateway) PlaceSell(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	return g.place(ctx, req, false)
}

func (g *Gateway) place(ctx context.Context, req domain.OrderRequest, buy bool) (domain.OrderResult, error) {
	if err := g.throttle(ctx, "clob"); err != nil {
		return domain.OrderResult{}, err
	}
	res, err := g.clob.PostOrder(ctx, req, buy)
	if err != nil {
		var se *domain.StatusError
		if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 && se.Err == nil {
			// The CLOB answers rejected orders with 400 and a JSON body.
			return domain.OrderResult{Success: false, Error: se.Body}, nil
		}
		return domain.OrderResult{}, err
	}
	return res, nil
}

// Cancel implements domain.Venue.
func (g *Gateway) Cancel(ctx context.Context, orderIDs []string) error {
	if err := g.throttle(ctx, "clob"); err != nil {
		return err
	}
	return g.clob.CancelOrders(ctx, orderIDs)
}

// OrderStatus implements domain.Venue.
func (g *Gateway) OrderStatus(ctx context.Context, orderID string) (domain.OrderState, error) {
	if err := g.throttle(ctx, "clob"); err != nil {
		return domain.OrderState{}, err
	}
	return g.clob.GetOrder(ctx, orderID)
}

// OfficialResolution implements domain.Venue.
func (g *Gateway) OfficialResolution(ctx context.Context, w domain.WindowInfo) (domain.Outcome, error) {
	if err := g.throttle(ctx, "gamma"); err != nil {
		return domain.OutcomePending, err
	}
	return g.gamma.Resolution(ctx, w)
}
