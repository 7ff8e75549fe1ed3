package journal

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradecore/internal/domain"
	"github.com/alanyoungcy/tradecore/internal/metrics"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type memSink struct {
	mu     sync.Mutex
	events []domain.JournalEvent
	writes int
	err    error
}

func (s *memSink) Name() string { return "mem" }

func (s *memSink) Write(_ context.Context, events []domain.JournalEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	s.events = append(s.events, events...)
	return s.err
}

func (s *memSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestRecorderDeliversToEverySink(t *testing.T) {
	a, b := &memSink{}, &memSink{err: errors.New("sink down")}
	r := NewRecorder(Config{BatchSize: 2, FlushInterval: 10 * time.Millisecond}, testLogger, a, b)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	r.Append(domain.JournalEvent{Kind: domain.JournalFill, Symbol: "BTC-USD"})
	r.Append(domain.JournalEvent{Kind: domain.JournalBatch})
	r.Append(domain.JournalEvent{Kind: domain.JournalAnomaly})

	require.Eventually(t, func() bool { return a.len() == 3 && b.len() == 3 }, time.Second, 5*time.Millisecond)
	assert.NotEmpty(t, a.events[0].ID, "ids are assigned")
	assert.False(t, a.events[0].At.IsZero())
	assert.Equal(t, domain.JournalAnomaly, a.events[2].Kind)

	cancel()
	require.NoError(t, <-done)
}

func TestRecorderDrainsOnShutdown(t *testing.T) {
	s := &memSink{}
	r := NewRecorder(Config{BatchSize: 100, FlushInterval: time.Hour}, testLogger, s)
	for range 5 {
		r.Append(domain.JournalEvent{Kind: domain.JournalSignal})
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.NoError(t, r.Run(ctx))
	assert.Equal(t, 5, s.len())
}

func TestRecorderDropsWhenFull(t *testing.T) {
	r := NewRecorder(Config{Buffer: 2}, testLogger)
	before := testutil.ToFloat64(metrics.JournalDropped)

	for range 5 {
		r.Append(domain.JournalEvent{Kind: domain.JournalSignal})
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.JournalDropped)-before)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)), slog.LevelInfo)

	require.NoError(t, s.Write(t.Context(), []domain.JournalEvent{{
		ID: "e1", Kind: domain.JournalRiskRejected, Symbol: "ETH-USD",
		Detail: map[string]any{"reason": "size_exceeded"},
	}}))
	out := buf.String()
	assert.Contains(t, out, `"kind":"risk_rejected"`)
	assert.Contains(t, out, `"symbol":"ETH-USD"`)
	assert.Contains(t, out, `"reason":"size_exceeded"`)
}
