package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradecore/internal/config"
	"github.com/alanyoungcy/tradecore/internal/domain"
	"github.com/alanyoungcy/tradecore/internal/journal"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type memSink struct {
	mu     sync.Mutex
	events []domain.JournalEvent
}

func (s *memSink) Name() string { return "mem" }

func (s *memSink) Write(_ context.Context, events []domain.JournalEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *memSink) count(kind domain.JournalKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// tickServer serves one websocket connection that sends ticks and then
// waits for the client to go away.
func tickServer(t *testing.T, ticks string) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		_ = c.WriteMessage(websocket.TextMessage, []byte(ticks))
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testConfig(feedURL string) *config.Config {
	cfg := config.Defaults()
	cfg.Redis.Enabled = false
	cfg.Control.Enabled = false
	cfg.Metrics.Enabled = false
	cfg.Journal.Log = false
	cfg.Dispatch.SlippageBps = 0
	cfg.Dispatch.OrdersPerSecond = 0
	cfg.Engine.Detectors = []string{"arbitrage"}
	cfg.Venues = []config.VenueConfig{{Name: "alpha"}, {Name: "beta"}}
	cfg.Symbols = []string{"BTC-USD"}
	cfg.Feed.Source = "websocket"
	cfg.Feed.URL = feedURL
	return &cfg
}

const crossedTicks = `[
	{"venue":"alpha","symbol":"BTC-USD","bid":99,"ask":100,"sequence":1},
	{"venue":"beta","symbol":"BTC-USD","bid":101.5,"ask":102,"sequence":1}
]`

func run(t *testing.T, mode func(context.Context, *Dependencies) error, deps *Dependencies) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- mode(ctx, deps) }()
	return cancel, done
}

func waitStopped(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("mode did not stop")
	}
}

func TestTradeModeBooksArbitrage(t *testing.T) {
	cfg := testConfig(tickServer(t, crossedTicks))
	a := New(cfg, testLogger)
	sink := &memSink{}
	deps := &Dependencies{Journal: journal.NewRecorder(journal.Config{FlushInterval: 5 * time.Millisecond}, testLogger, sink)}

	cancel, done := run(t, a.TradeMode, deps)
	require.Eventually(t, func() bool {
		return sink.count(domain.JournalBatch) == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	waitStopped(t, done)
	assert.Equal(t, 1, sink.count(domain.JournalSignal))
	assert.Equal(t, 2, sink.count(domain.JournalOrderDispatched))
	assert.Equal(t, 2, sink.count(domain.JournalFill))
}

func TestMonitorModeOnlyJournalsSignals(t *testing.T) {
	cfg := testConfig(tickServer(t, crossedTicks))
	cfg.Mode = "monitor"
	a := New(cfg, testLogger)
	sink := &memSink{}
	deps := &Dependencies{Journal: journal.NewRecorder(journal.Config{FlushInterval: 5 * time.Millisecond}, testLogger, sink)}

	cancel, done := run(t, a.MonitorMode, deps)
	require.Eventually(t, func() bool {
		return sink.count(domain.JournalSignal) == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	waitStopped(t, done)
	assert.Zero(t, sink.count(domain.JournalOrderDispatched))
	assert.Zero(t, sink.count(domain.JournalBatch))
}

func TestBuildExecutionRequiresRedisForExternal(t *testing.T) {
	cfg := testConfig("ws://unused")
	cfg.Engine.Execution = "external"
	a := New(cfg, testLogger)

	_, _, _, err := a.buildExecution(&Dependencies{})
	require.Error(t, err)

	cfg.Engine.Execution = "paper"
	placer, fills, venue, err := a.buildExecution(&Dependencies{})
	require.NoError(t, err)
	assert.NotNil(t, placer)
	assert.NotNil(t, fills)
	assert.Nil(t, venue)
}

func TestBuildDetectorsRejectsUnknown(t *testing.T) {
	cfg := testConfig("ws://unused")
	cfg.Engine.Detectors = []string{"breakout", "momentum"}
	_, err := New(cfg, testLogger).buildDetectors()
	require.Error(t, err)
}

func TestJournalSinksFollowConfig(t *testing.T) {
	cfg := testConfig("ws://unused")
	cfg.Journal.Log = true
	sinks := journalSinks(cfg, &Dependencies{}, testLogger)
	require.Len(t, sinks, 1)
	assert.Equal(t, "log", sinks[0].Name())

	cfg.Journal.Log = false
	assert.Empty(t, journalSinks(cfg, &Dependencies{}, testLogger))
}
