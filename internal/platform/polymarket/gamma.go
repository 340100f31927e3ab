package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// GammaClient is the REST client for the Polymarket Gamma API, which
// provides market discovery and settlement state.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string, timeout time.Duration) *GammaClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GammaClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SlugFor returns the market slug of the 15-minute up/down window for asset
// starting at start, e.g. "btc-updown-15m-1700000100".
func SlugFor(asset string, start time.Time) string {
	return fmt.Sprintf("%s-updown-15m-%d", strings.ToLower(asset), start.Unix())
}

// GetMarketBySlug returns a single market looked up by its URL slug.
func (g *GammaClient) GetMarketBySlug(ctx context.Context, slug string) (APIMarket, error) {
	params := url.Values{}
	params.Set("slug", slug)

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return APIMarket{}, fmt.Errorf("polymarket/gamma: get market by slug %s: %w", slug, err)
	}

	var markets []APIMarket
	if err := json.Unmarshal(body, &markets); err != nil {
		return APIMarket{}, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
	}
	if len(markets) == 0 {
		return APIMarket{}, fmt.Errorf("polymarket/gamma: %w: slug=%s", domain.ErrNotFound, slug)
	}
	return markets[0], nil
}

// FindWindow looks up the window for asset starting at start.
func (g *GammaClient) FindWindow(ctx context.Context, asset string, start time.Time) (domain.WindowInfo, error) {
	w := domain.Window{Asset: strings.ToLower(asset), Start: start.UTC()}
	m, err := g.GetMarketBySlug(ctx, SlugFor(asset, start))
	if err != nil {
		return domain.WindowInfo{}, err
	}
	return m.ToWindowInfo(w), nil
}

// Resolution returns the official settlement of a window, OutcomePending
// while the market is still open or unsettled.
func (g *GammaClient) Resolution(ctx context.Context, w domain.WindowInfo) (domain.Outcome, error) {
	slug := w.Slug
	if slug == "" {
		slug = SlugFor(w.Asset, w.Start)
	}
	m, err := g.GetMarketBySlug(ctx, slug)
	if err != nil {
		return domain.OutcomePending, err
	}
	return m.SettledOutcome(), nil
}

// doGet sends an unauthenticated GET request to the Gamma API.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	return body, nil
}
