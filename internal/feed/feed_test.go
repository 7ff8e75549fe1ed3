package feed

import (
	"context"
	"errors"
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

	"github.com/alanyoungcy/tradecore/internal/domain"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type recordingRouter struct {
	mu    sync.Mutex
	ticks []domain.Tick
}

func (r *recordingRouter) Route(_ context.Context, t domain.Tick) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks = append(r.ticks, t)
	return true
}

func (r *recordingRouter) sequences() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint64, 0, len(r.ticks))
	for _, t := range r.ticks {
		out = append(out, t.Sequence)
	}
	return out
}

func TestDecodeTicks(t *testing.T) {
	ticks, err := DecodeTicks([]byte(` {"venue":"alpha","symbol":"BTC-USD","bid":100,"ask":101,"sequence":7}`))
	require.NoError(t, err)
	require.Len(t, ticks, 1)
	assert.Equal(t, domain.MarketKey{Venue: "alpha", Symbol: "BTC-USD"}, ticks[0].Key())
	assert.Equal(t, uint64(7), ticks[0].Sequence)

	ticks, err = DecodeTicks([]byte(`[{"sequence":1},{"sequence":2}]`))
	require.NoError(t, err)
	assert.Len(t, ticks, 2)

	for _, bad := range []string{"", "   ", "{", `[{"sequence":"x"}]`} {
		_, err := DecodeTicks([]byte(bad))
		assert.ErrorIs(t, err, domain.ErrInvalidTick, bad)
	}
}

type scriptedReader struct {
	mu      sync.Mutex
	batches [][]domain.StreamMessage
	lastIDs []string
	fail    bool
}

func (r *scriptedReader) StreamRead(ctx context.Context, _ string, lastID string, _ int, block time.Duration) ([]domain.StreamMessage, error) {
	r.mu.Lock()
	r.lastIDs = append(r.lastIDs, lastID)
	if r.fail {
		r.fail = false
		r.mu.Unlock()
		return nil, errors.New("connection reset")
	}
	if len(r.batches) > 0 {
		b := r.batches[0]
		r.batches = r.batches[1:]
		r.mu.Unlock()
		return b, nil
	}
	r.mu.Unlock()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(block):
		return nil, nil
	}
}

func (r *scriptedReader) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lastIDs...)
}

func TestStreamFeedRoutesAndAdvances(t *testing.T) {
	reader := &scriptedReader{
		fail: true,
		batches: [][]domain.StreamMessage{
			{
				{ID: "1-0", Payload: []byte(`{"venue":"alpha","symbol":"BTC-USD","sequence":1}`)},
				{ID: "2-0", Payload: []byte(`garbage`)},
			},
			{{ID: "3-0", Payload: []byte(`[{"sequence":2},{"sequence":3}]`)}},
		},
	}
	router := &recordingRouter{}
	f := NewStreamFeed(reader, router, StreamConfig{Block: 5 * time.Millisecond}, testLogger)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	require.Eventually(t, func() bool { return len(router.sequences()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []uint64{1, 2, 3}, router.sequences())
	require.Eventually(t, func() bool { return len(reader.ids()) >= 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"$", "$", "2-0", "3-0"}, reader.ids()[:4])

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestWSFeedReconnects(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var (
		mu    sync.Mutex
		conns int
		subs  []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		_, sub, err := c.ReadMessage()
		if err != nil {
			return
		}
		mu.Lock()
		conns++
		n := conns
		subs = append(subs, string(sub))
		mu.Unlock()

		seq := "1"
		if n > 1 {
			seq = "2"
		}
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"venue":"alpha","symbol":"ETH-USD","sequence":`+seq+`}`))
		if n == 1 {
			return // drop the first connection
		}
		_, _, _ = c.ReadMessage()
	}))
	defer srv.Close()

	router := &recordingRouter{}
	f := NewWSFeed(WSConfig{
		URL:            "ws" + strings.TrimPrefix(srv.URL, "http"),
		Subscribe:      []byte(`{"type":"subscribe"}`),
		ReconnectDelay: 10 * time.Millisecond,
	}, router, testLogger)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	require.Eventually(t, func() bool { return len(router.sequences()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []uint64{1, 2}, router.sequences())
	mu.Lock()
	assert.Equal(t, []string{`{"type":"subscribe"}`, `{"type":"subscribe"}`}, subs)
	mu.Unlock()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not stop")
	}
}
