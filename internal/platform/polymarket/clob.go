package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/updownbot/internal/crypto"
	"github.com/alanyoungcy/updownbot/internal/domain"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// ClobClient is the REST client for the Polymarket CLOB. Quotes are public;
// order calls need a signer and derived API credentials.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	creds      *crypto.APICreds
	funder     string
	sigType    int
	now        func() time.Time
}

// ClobOptions configures order signing. A nil Signer leaves the client in
// quote-only mode.
type ClobOptions struct {
	Signer        *crypto.Signer
	Creds         *crypto.APICreds
	Funder        string
	SignatureType int
	Timeout       time.Duration
}

// NewClobClient creates a new CLOB REST client.
//
// baseURL is the CLOB API root, e.g. "https://clob.polymarket.com".
func NewClobClient(baseURL string, opts ClobOptions) *ClobClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ClobClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		signer:     opts.Signer,
		creds:      opts.Creds,
		funder:     opts.Funder,
		sigType:    opts.SignatureType,
		now:        time.Now,
	}
}

// CanTrade reports whether the client is able to sign and submit orders.
func (c *ClobClient) CanTrade() bool { return c.signer != nil && c.creds != nil }

// Midpoint returns the book midpoint of a token.
func (c *ClobClient) Midpoint(ctx context.Context, tokenID string) (float64, error) {
	params := url.Values{}
	params.Set("token_id", tokenID)
	body, err := c.do(ctx, http.MethodGet, "/midpoint?"+params.Encode(), nil, false)
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: midpoint %s: %w", tokenID, err)
	}
	var mid midpointResponse
	if err := json.Unmarshal(body, &mid); err != nil {
		return 0, fmt.Errorf("polymarket/clob: decode midpoint: %w", err)
	}
	return parseFloat(mid.Mid), nil
}

// PostOrder signs and submits a limit order.
func (c *ClobClient) PostOrder(ctx context.Context, req domain.OrderRequest, buy bool) (domain.OrderResult, error) {
	if !c.CanTrade() {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: post order: %w: no signer configured", domain.ErrUnauthorized)
	}
	order, err := c.buildOrder(req, buy)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: build order: %w", err)
	}
	orderType := req.Type
	if orderType == "" {
		orderType = domain.OrderGTC
	}
	body := map[string]any{
		"order":     order,
		"owner":     c.creds.Key,
		"orderType": string(orderType),
	}

	respBody, err := c.do(ctx, http.MethodPost, "/order", body, true)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}
	var apiResult APIOrderResult
	if err := json.Unmarshal(respBody, &apiResult); err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}
	return apiResult.ToDomainResult(buy, req), nil
}

// CancelOrders cancels the given orders in one call.
func (c *ClobClient) CancelOrders(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if !c.CanTrade() {
		return fmt.Errorf("polymarket/clob: cancel: %w", domain.ErrUnauthorized)
	}
	if _, err := c.do(ctx, http.MethodDelete, "/orders", ids, true); err != nil {
		return fmt.Errorf("polymarket/clob: cancel %d orders: %w", len(ids), err)
	}
	return nil
}

// GetOrder retrieves a single order by ID.
func (c *ClobClient) GetOrder(ctx context.Context, id string) (domain.OrderState, error) {
	if !c.CanTrade() {
		return domain.OrderState{}, fmt.Errorf("polymarket/clob: get order: %w", domain.ErrUnauthorized)
	}
	respBody, err := c.do(ctx, http.MethodGet, "/data/order/"+url.PathEscape(id), nil, true)
	if err != nil {
		return domain.OrderState{}, fmt.Errorf("polymarket/clob: get order %s: %w", id, err)
	}
	var o APIOrder
	if err := json.Unmarshal(respBody, &o); err != nil {
		return domain.OrderState{}, fmt.Errorf("polymarket/clob: decode order: %w", err)
	}
	return o.ToDomainState(), nil
}

// DeriveAPIKey performs the L1 auth flow and stores the returned
// credentials on the client.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) error {
	if c.signer == nil {
		return errors.New("polymarket/clob: derive api key: no signer")
	}
	ts := strconv.FormatInt(c.now().Unix(), 10)
	sig, err := c.signer.SignAuth(ts, 0)
	if err != nil {
		return fmt.Errorf("polymarket/clob: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", c.signer.Address())
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", ts)
	req.Header.Set("POLY_NONCE", "0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("polymarket/clob: auth request: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: read auth response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return fmt.Errorf("polymarket/clob: derive api key: %w", err)
	}

	var creds crypto.APICreds
	if err := json.Unmarshal(respBody, &creds); err != nil {
		return fmt.Errorf("polymarket/clob: decode auth response: %w", err)
	}
	c.creds = &creds
	return nil
}

// buildOrder converts a price/size request into a signed order. Amounts use
// six decimals of USDC and shares.
func (c *ClobClient) buildOrder(req domain.OrderRequest, buy bool) (crypto.SignedOrder, error) {
	if req.Price <= 0 || req.Price >= 1 || req.Size <= 0 {
		return crypto.SignedOrder{}, fmt.Errorf("invalid price %.4f or size %.4f", req.Price, req.Size)
	}
	shares := toUnits(req.Size)
	usdc := toUnits(req.Size * req.Price)

	maker := c.funder
	if maker == "" {
		maker = c.signer.Address()
	}
	o := crypto.SignedOrder{
		Salt:          strconv.FormatInt(c.now().UnixNano()&math.MaxInt32, 10),
		Maker:         maker,
		Signer:        c.signer.Address(),
		Taker:         zeroAddress,
		TokenID:       req.TokenID,
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		SignatureType: c.sigType,
	}
	if buy {
		o.Side = crypto.OrderSideBuy
		o.MakerAmount, o.TakerAmount = usdc, shares
	} else {
		o.Side = crypto.OrderSideSell
		o.MakerAmount, o.TakerAmount = shares, usdc
	}
	if err := c.signer.SignOrder(&o); err != nil {
		return crypto.SignedOrder{}, err
	}
	return o, nil
}

func toUnits(v float64) string {
	return strconv.FormatInt(int64(math.Round(v*1e6)), 10)
}

// do builds, optionally signs (HMAC), sends, and reads a request.
func (c *ClobClient) do(ctx context.Context, method, path string, body any, auth bool) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(raw)
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth && c.creds != nil && c.signer != nil {
		c.creds.Apply(req.Header, c.signer.Address(), method, path, bodyStr, c.now())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to a StatusError wrapping the
// matching domain sentinel.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	se := &domain.StatusError{Code: statusCode, Body: string(body)}
	switch statusCode {
	case http.StatusNotFound:
		se.Err = domain.ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		se.Err = domain.ErrUnauthorized
	case http.StatusTooManyRequests:
		se.Err = domain.ErrRateLimited
	}
	return se
}
