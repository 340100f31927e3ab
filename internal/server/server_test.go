package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/server/handler"
	"github.com/alanyoungcy/updownbot/internal/settings"
	"github.com/alanyoungcy/updownbot/internal/store/memory"
)

type fakeEngine struct {
	mu      sync.Mutex
	running bool
	resets  int
}

func (f *fakeEngine) Snapshot() domain.EngineSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.EngineSnapshot{Running: f.running, Paper: true}
}

func (f *fakeEngine) Start(context.Context) error { f.set(true); return nil }
func (f *fakeEngine) Stop(context.Context) error  { f.set(false); return nil }

func (f *fakeEngine) ResetBreaker(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return nil
}

func (f *fakeEngine) set(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = v
}

type fixture struct {
	handler http.Handler
	engine  *fakeEngine
	ledger  *memory.TradeStore
}

func newFixture(t *testing.T, withEngine bool) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := &fakeEngine{}
	ledger := memory.NewTradeStore()
	cache := settings.NewCache(memory.NewSettingsStore(nil), domain.DefaultSettings(), time.Minute, logger)

	var ctrl handler.Controller
	if withEngine {
		ctrl = eng
	}
	h := Handlers{
		Health:   handler.NewHealthHandler("trade", time.Now()),
		Engine:   handler.NewEngineHandler(eng, ctrl, logger),
		Settings: handler.NewSettingsHandler(cache, logger),
		Trades:   handler.NewTradesHandler(ledger, logger),
	}
	return &fixture{
		handler: Routes(Config{APIKey: "secret"}, h, nil, logger),
		engine:  eng,
		ledger:  ledger,
	}
}

func (f *fixture) do(method, path, body string, authed bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if authed {
		req.Header.Set("Authorization", "Bearer secret")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndState(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(http.MethodGet, "/healthz", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = f.do(http.MethodGet, "/api/state", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	var snap domain.EngineSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.True(t, snap.Paper)
}

func TestCommandsRequireAuth(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(http.MethodPost, "/api/engine/start", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, f.engine.Snapshot().Running)

	rec = f.do(http.MethodPost, "/api/engine/start", "", true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.engine.Snapshot().Running)

	rec = f.do(http.MethodPost, "/api/breaker/reset", "", true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.engine.resets)

	rec = f.do(http.MethodPost, "/api/engine/stop", "", true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.engine.Snapshot().Running)
}

func TestCommandsWithoutEngine(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(http.MethodPost, "/api/engine/start", "", true)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSettingsPatch(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(http.MethodPut, "/api/settings", `{"buy_amount": 7.5}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(http.MethodGet, "/api/settings", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	var s domain.Settings
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	assert.InDelta(t, 7.5, s.BuyAmount, 1e-9)
	assert.Equal(t, domain.DefaultSettings().MaxPerWindow, s.MaxPerWindow)

	rec = f.do(http.MethodPut, "/api/settings", `{"buy_amount": "lots"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPut, "/api/settings", ``, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPut, "/api/settings", `{"max_entry_price": 1.2}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "max_entry_price")
}

func TestTradesQuery(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	base := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	for i, asset := range []string{"btc", "eth", "btc"} {
		_, err := f.ledger.InsertTrade(ctx, domain.TradeRecord{
			Timestamp: base.Add(time.Duration(i) * time.Minute), Asset: asset, Action: domain.ActionBuy, Paper: true,
		})
		require.NoError(t, err)
	}

	rec := f.do(http.MethodGet, "/api/trades?asset=btc&paper=true&limit=1", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Trades []domain.TradeRecord `json:"trades"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Trades, 1)
	assert.True(t, body.Trades[0].Timestamp.Equal(base.Add(2*time.Minute)))

	rec = f.do(http.MethodGet, "/api/trades?since=yesterday", "", false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/api/trades?asset=sol", "", false)
	assert.JSONEq(t, `{"trades":[]}`, rec.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, true)
	req := httptest.NewRequest(http.MethodOptions, "/api/settings", nil)
	req.Header.Set("Origin", "http://dash.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://dash.local", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
