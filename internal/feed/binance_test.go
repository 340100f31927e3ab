package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStreamURL(t *testing.T) {
	s := NewStream(StreamConfig{WSURL: "wss://stream.binance.com:9443/", Assets: []string{"BTC", "eth"}}, NewBook(0), discardLogger())
	assert.Equal(t, "wss://stream.binance.com:9443/stream?streams=btcusdt@trade/ethusdt@trade", s.StreamURL())
}

func TestStreamHandleMessage(t *testing.T) {
	book := NewBook(0)
	s := NewStream(StreamConfig{Assets: []string{"btc"}}, book, discardLogger())
	var ticks int
	s.OnTick(func(string, float64) { ticks++ })

	require.NoError(t, s.handleMessage([]byte(`{"stream":"btcusdt@trade","data":{"e":"trade","s":"BTCUSDT","p":"100123.50","T":1700000105000}}`)))
	p, ok := book.CurrentPrice("btc")
	require.True(t, ok)
	assert.Equal(t, 100123.5, p)
	assert.Equal(t, 1, ticks)

	assert.Error(t, s.handleMessage([]byte(`{"data":{"e":"trade","s":"BTCEUR","p":"1"}}`)))
	assert.Error(t, s.handleMessage([]byte(`not json`)))
	assert.NoError(t, s.handleMessage([]byte(`{"data":{"e":"aggTrade"}}`)))
}

func TestStreamRunReadsTrades(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		msg := fmt.Sprintf(`{"stream":"btcusdt@trade","data":{"e":"trade","s":"BTCUSDT","p":"64000","T":%d}}`, time.Now().UnixMilli())
		_ = conn.WriteMessage(websocket.TextMessage, []byte(msg))
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	book := NewBook(0)
	s := NewStream(StreamConfig{WSURL: "ws" + strings.TrimPrefix(srv.URL, "http"), Assets: []string{"btc"}}, book, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := book.CurrentPrice("btc")
		return ok
	}, 2*time.Second, 20*time.Millisecond)
}

func TestFetchKlineOpen(t *testing.T) {
	start := domain.WindowStartFor(time.Now())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		assert.Equal(t, "ETHUSDT", r.URL.Query().Get("symbol"))
		fmt.Fprintf(w, `[[%d,"2501.25","2510.00","2490.00","2505.00","100"]]`, start.UnixMilli())
	}))
	defer srv.Close()

	book := NewBook(0)
	s := NewStream(StreamConfig{RESTURL: srv.URL, Assets: []string{"eth"}}, book, discardLogger())
	s.backfillOpens(context.Background())

	open, ok := book.WindowOpenPrice("eth", start)
	require.True(t, ok)
	assert.Equal(t, 2501.25, open)
}
