package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

const (
	// pongWait is the time allowed to read the next message from the peer.
	pongWait = 60 * time.Second

	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// tradeMsg is a combined-stream trade event.
type tradeMsg struct {
	Stream string `json:"stream"`
	Data   struct {
		Event     string `json:"e"`
		Symbol    string `json:"s"`
		Price     string `json:"p"`
		TradeTime int64  `json:"T"`
	} `json:"data"`
}

// StreamConfig configures a Binance trade stream.
type StreamConfig struct {
	WSURL   string // e.g. "wss://stream.binance.com:9443"
	RESTURL string // e.g. "https://api.binance.com"; empty disables open backfill
	Assets  []string
	Quote   string // quote currency suffix, default "usdt"
}

// Stream subscribes to the Binance trade stream for a set of assets and feeds
// every trade into a Book. It reconnects with backoff until ctx ends.
type Stream struct {
	cfg    StreamConfig
	book   *Book
	http   *http.Client
	onTick func(asset string, price float64)
	logger *slog.Logger
}

// NewStream creates a Stream feeding book.
func NewStream(cfg StreamConfig, book *Book, logger *slog.Logger) *Stream {
	if cfg.Quote == "" {
		cfg.Quote = "usdt"
	}
	return &Stream{
		cfg:    cfg,
		book:   book,
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: logger.With(slog.String("component", "binance_stream")),
	}
}

// OnTick registers a callback invoked after every tracked trade.
func (s *Stream) OnTick(fn func(asset string, price float64)) { s.onTick = fn }

// StreamURL returns the combined-stream URL for the configured assets.
func (s *Stream) StreamURL() string {
	names := make([]string, 0, len(s.cfg.Assets))
	for _, a := range s.cfg.Assets {
		names = append(names, s.symbol(a)+"@trade")
	}
	return strings.TrimRight(s.cfg.WSURL, "/") + "/stream?streams=" + strings.Join(names, "/")
}

func (s *Stream) symbol(asset string) string {
	return strings.ToLower(asset) + s.cfg.Quote
}

// Run connects and reads trades until ctx is cancelled.
func (s *Stream) Run(ctx context.Context) error {
	if len(s.cfg.Assets) == 0 {
		s.logger.Info("no assets to stream, exiting")
		return nil
	}
	s.backfillOpens(ctx)

	delay := reconnectDelay
	for {
		start := time.Now()
		err := s.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(start) > maxReconnectDelay {
			delay = reconnectDelay
		}
		s.logger.Warn("binance stream disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
		s.backfillOpens(ctx)
	}
}

func (s *Stream) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.StreamURL(), nil)
	if err != nil {
		return fmt.Errorf("feed: dial: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	s.logger.Info("binance stream connected", slog.Int("assets", len(s.cfg.Assets)))
	for {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", err)
		}
		if err := s.handleMessage(data); err != nil {
			s.logger.Debug("binance message skipped",
				slog.String("error", err.Error()),
				slog.Int("payload_len", len(data)),
			)
		}
	}
}

func (s *Stream) handleMessage(data []byte) error {
	var msg tradeMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	if msg.Data.Event != "trade" {
		return nil
	}
	sym := strings.ToLower(msg.Data.Symbol)
	asset, ok := strings.CutSuffix(sym, s.cfg.Quote)
	if !ok {
		return fmt.Errorf("unexpected symbol %q", msg.Data.Symbol)
	}
	price, err := strconv.ParseFloat(msg.Data.Price, 64)
	if err != nil {
		return fmt.Errorf("parse price: %w", err)
	}
	ts := time.UnixMilli(msg.Data.TradeTime)
	if msg.Data.TradeTime == 0 {
		ts = time.Now()
	}
	s.book.Track(asset, price, ts)
	if s.onTick != nil {
		s.onTick(asset, price)
	}
	return nil
}

// backfillOpens loads the open of the current 15-minute kline for assets
// whose window open was not observed live.
func (s *Stream) backfillOpens(ctx context.Context) {
	if s.cfg.RESTURL == "" {
		return
	}
	start := domain.WindowStartFor(time.Now())
	for _, asset := range s.cfg.Assets {
		if _, ok := s.book.WindowOpenPrice(asset, start); ok {
			continue
		}
		open, err := s.fetchKlineOpen(ctx, asset, start)
		if err != nil {
			s.logger.Warn("window open backfill failed",
				slog.String("asset", asset),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.book.SetWindowOpen(asset, start, open)
	}
}

func (s *Stream) fetchKlineOpen(ctx context.Context, asset string, start time.Time) (float64, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(s.symbol(asset)))
	params.Set("interval", "15m")
	params.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	params.Set("limit", "1")

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet,
		strings.TrimRight(s.cfg.RESTURL, "/")+"/api/v3/klines?"+params.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("feed: create kline request: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("feed: kline request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("feed: read kline: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, &domain.StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	// Each kline is [openTime, "open", "high", "low", "close", ...].
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return 0, fmt.Errorf("feed: decode kline: %w", err)
	}
	if len(rows) == 0 || len(rows[0]) < 2 {
		return 0, fmt.Errorf("feed: kline %s: %w", asset, domain.ErrNotFound)
	}
	var openTime int64
	if err := json.Unmarshal(rows[0][0], &openTime); err != nil || openTime != start.UnixMilli() {
		return 0, fmt.Errorf("feed: kline %s: %w", asset, domain.ErrNotFound)
	}
	var raw string
	if err := json.Unmarshal(rows[0][1], &raw); err != nil {
		return 0, fmt.Errorf("feed: decode kline open: %w", err)
	}
	return strconv.ParseFloat(raw, 64)
}
