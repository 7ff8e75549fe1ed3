package redis

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// newTestClient connects to TRADECORE_TEST_REDIS_ADDR or skips.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("TRADECORE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TRADECORE_TEST_REDIS_ADDR not set")
	}
	c, err := New(t.Context(), ClientConfig{Addr: addr, DB: 15})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Underlying().FlushDB(t.Context()).Err()
		_ = c.Close()
	})
	return c
}

func TestIntegrationStreamRoundTrip(t *testing.T) {
	c := newTestClient(t)
	bus := NewSignalBus(c, 100)

	require.NoError(t, bus.StreamAppend(t.Context(), "ticks", []byte(`{"a":1}`)))
	require.NoError(t, bus.StreamAppendBatch(t.Context(), "ticks", [][]byte{[]byte(`{"a":2}`), []byte(`{"a":3}`)}))

	msgs, err := bus.StreamRead(t.Context(), "ticks", "0", 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.JSONEq(t, `{"a":3}`, string(msgs[2].Payload))

	msgs, err = bus.StreamRead(t.Context(), "ticks", msgs[2].ID, 10, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestIntegrationLockIsExclusive(t *testing.T) {
	c := newTestClient(t)
	lm := NewLockManager(c)

	unlock, err := lm.Acquire(t.Context(), "engine", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(t.Context(), "engine", time.Minute)
	require.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()
	unlock2, err := lm.Acquire(t.Context(), "engine", time.Minute)
	require.NoError(t, err)
	unlock2()
}

func TestIntegrationPriceCache(t *testing.T) {
	c := newTestClient(t)
	pc := NewPriceCache(c, time.Minute)
	ts := time.Now().UTC()

	require.NoError(t, pc.SetPrice(t.Context(), "alpha:BTC-USD", 42010, ts))
	price, got, err := pc.GetPrice(t.Context(), "alpha:BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, 42010.0, price)
	assert.True(t, ts.Equal(got))

	_, _, err = pc.GetPrice(t.Context(), "alpha:none")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestIntegrationPublishSubscribe(t *testing.T) {
	c := newTestClient(t)
	bus := NewSignalBus(c, 0)

	ch, err := bus.Subscribe(t.Context(), "control")
	require.NoError(t, err)
	require.NoError(t, bus.Publish(t.Context(), "control", []byte(`{"mode":"paused"}`)))

	select {
	case msg := <-ch:
		assert.JSONEq(t, `{"mode":"paused"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no message")
	}
}
