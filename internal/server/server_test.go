package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradecore/internal/control"
	"github.com/alanyoungcy/tradecore/internal/domain"
	"github.com/alanyoungcy/tradecore/internal/ledger"
	"github.com/alanyoungcy/tradecore/internal/metrics"
	"github.com/alanyoungcy/tradecore/internal/server/handler"
	"github.com/alanyoungcy/tradecore/internal/server/ws"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type memStore struct {
	got    domain.ListOpts
	events []domain.JournalEvent
}

func (s *memStore) List(_ context.Context, opts domain.ListOpts) ([]domain.JournalEvent, error) {
	s.got = opts
	return s.events, nil
}

type fixture struct {
	srv   *Server
	ctl   *control.Controller
	store *memStore
	hub   *ws.Hub
}

func newFixture(t *testing.T, cfg Config, checks map[string]handler.Check) *fixture {
	t.Helper()
	ctl := control.New(domain.ModeActive, domain.RiskLimits{MaxPositionSize: 5}, nil, testLogger)
	t.Cleanup(ctl.Close)
	book := ledger.New(ledger.NewPortfolio(1_000), nil, testLogger)
	store := &memStore{}
	hub := ws.NewHub("trade", testLogger)

	handlers := Handlers{
		Health: handler.NewHealthHandler(checks, testLogger),
		Status: handler.NewStatusHandler("trade", handler.StatusSources{
			Control:   ctl,
			Portfolio: book,
			Pending:   func() int { return 2 },
			Markets:   []domain.MarketKey{{Venue: "alpha", Symbol: "BTC-USD"}},
		}),
		Control: handler.NewControlHandler(ctl, testLogger),
		Journal: handler.NewJournalHandler(store, testLogger),
	}
	return &fixture{srv: New(cfg, handlers, hub, testLogger), ctl: ctl, store: store, hub: hub}
}

func (f *fixture) do(method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthSkipsAuthAndReportsBackends(t *testing.T) {
	f := newFixture(t, Config{APIKey: "secret"}, map[string]handler.Check{
		"redis": func(context.Context) error { return nil },
		"s3":    func(context.Context) error { return errors.New("unreachable") },
	})

	rec := f.do(http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Status   string            `json:"status"`
		Backends map[string]string `json:"backends"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "ok", body.Backends["redis"])
	assert.Equal(t, "unreachable", body.Backends["s3"])
}

func TestAuthRequiredElsewhere(t *testing.T) {
	f := newFixture(t, Config{APIKey: "secret"}, nil)

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/status", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/status", "", map[string]string{"X-API-Key": "wrong"}).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/status", "", map[string]string{"Authorization": "Bearer secret"}).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/status", "", map[string]string{"X-API-Key": "secret"}).Code)
}

func TestStatus(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	rec := f.do(http.MethodGet, "/api/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "trade", body["mode"])
	assert.Equal(t, "active", body["trading_mode"])
	assert.Equal(t, []any{"alpha:BTC-USD"}, body["markets"])
	assert.EqualValues(t, 2, body["pending_signals"])
	assert.NotContains(t, body, "orders_in_flight")
	portfolio, ok := body["portfolio"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1_000, portfolio["cash"])
	assert.Positive(t, testutil.CollectAndCount(metrics.APIRequests))
}

func TestControlAppliesCommands(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	rec := f.do(http.MethodPost, "/api/control", `{"mode":"close_only","limits":{"max_position_size":3}}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.ModeCloseOnly, f.ctl.Mode())
	assert.Equal(t, 3.0, f.ctl.Limits().MaxPositionSize)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/control", `{"mode":"turbo"}`, nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/control", `{}`, nil).Code)
	assert.Equal(t, domain.ModeCloseOnly, f.ctl.Mode())

	rec = f.do(http.MethodGet, "/api/control", "", nil)
	assert.JSONEq(t, `{"trading_mode":"close_only","limits":{"max_position_size":3,"max_daily_loss":0,"max_open_positions":0,"max_order_value":0}}`, rec.Body.String())
}

func TestJournalQuery(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	f.store.events = []domain.JournalEvent{{ID: "e1", Kind: domain.JournalFill}}

	rec := f.do(http.MethodGet, "/api/journal?kind=fill&limit=900&since=2026-01-02T00:00:00Z", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "fill", f.store.got.Kind)
	assert.Equal(t, 500, f.store.got.Limit)
	require.NotNil(t, f.store.got.Since)
	assert.Equal(t, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), f.store.got.Since.UTC())
	assert.Nil(t, f.store.got.Until)
	assert.Contains(t, rec.Body.String(), `"id":"e1"`)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/journal?since=yesterday", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/journal?limit=-1", "", nil).Code)
}

func TestRateLimitPerClient(t *testing.T) {
	f := newFixture(t, Config{RequestsPerSecond: 0.001, Burst: 2}, nil)
	from := func(ip string) int {
		return f.do(http.MethodGet, "/api/status", "", map[string]string{"X-Forwarded-For": ip}).Code
	}
	assert.Equal(t, http.StatusOK, from("10.0.0.1"))
	assert.Equal(t, http.StatusOK, from("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, from("10.0.0.1"))
	assert.Equal(t, http.StatusOK, from("10.0.0.2"))
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, Config{APIKey: "secret", CORSOrigins: []string{"https://ops.example"}}, nil)
	rec := f.do(http.MethodOptions, "/api/control", "", map[string]string{"Origin": "https://ops.example"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://ops.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = f.do(http.MethodOptions, "/api/control", "", map[string]string{"Origin": "https://evil.example"})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHubStreamsJournalEvents(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go func() { _ = f.hub.Run(ctx) }()

	httpSrv := httptest.NewServer(f.srv.Handler())
	defer httpSrv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(httpSrv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var hello map[string]any
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "hello", hello["type"])

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "subscribe", "kinds": []string{"anomaly"}}))
	require.Eventually(t, func() bool { return f.hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	// Give the subscription a moment to land before publishing.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, f.hub.Write(ctx, []domain.JournalEvent{
		{ID: "skip", Kind: domain.JournalFill},
		{ID: "keep", Kind: domain.JournalAnomaly},
	}))

	var msg struct {
		Type  string              `json:"type"`
		Event domain.JournalEvent `json:"event"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "journal", msg.Type)
	assert.Equal(t, "keep", msg.Event.ID)
}
