package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// memBus is an in-process stand-in for the stream half of SignalBus.
type memBus struct {
	mu      sync.Mutex
	streams map[string][]domain.StreamMessage
	seq     int
	wake    chan struct{}
}

func newMemBus() *memBus {
	return &memBus{streams: make(map[string][]domain.StreamMessage), wake: make(chan struct{}, 1)}
}

func (b *memBus) Publish(context.Context, string, []byte) error { return nil }

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *memBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	b.seq++
	id := fmt.Sprintf("%020d-0", b.seq)
	b.streams[stream] = append(b.streams[stream], domain.StreamMessage{ID: id, Payload: payload})
	b.mu.Unlock()
	select {
	case b.wake <- struct{}{}:
	default:
	}
	return nil
}

// StreamRead treats "$" as the start of the stream; tests append after the
// reader has started.
func (b *memBus) StreamRead(ctx context.Context, stream, lastID string, count int, block time.Duration) ([]domain.StreamMessage, error) {
	for {
		b.mu.Lock()
		var out []domain.StreamMessage
		for _, m := range b.streams[stream] {
			if lastID == "$" || m.ID > lastID {
				out = append(out, m)
			}
			if len(out) == count {
				break
			}
		}
		b.mu.Unlock()
		if len(out) > 0 {
			return out, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.wake:
		case <-time.After(block):
			return nil, nil
		}
	}
}

func TestOrderGatewayPlaceAppendsTicket(t *testing.T) {
	bus := newMemBus()
	g := NewOrderGateway(bus, GatewayConfig{}, testLogger)

	ticket := domain.OrderTicket{ID: "t1", GroupID: "g1", Symbol: "BTC-USD", Venue: "alpha", Side: domain.OrderSideBuy, Quantity: 0.5, Price: 42020}
	require.NoError(t, g.Place(t.Context(), ticket))

	msgs := bus.streams[OrdersStream]
	require.Len(t, msgs, 1)
	var got domain.OrderTicket
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &got))
	assert.Equal(t, ticket, got)
}

func TestOrderGatewayDeliversFills(t *testing.T) {
	bus := newMemBus()
	g := NewOrderGateway(bus, GatewayConfig{Block: 10 * time.Millisecond}, testLogger)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	require.NoError(t, bus.StreamAppend(ctx, FillsStream, []byte(`not json`)))
	require.NoError(t, bus.StreamAppend(ctx, FillsStream, []byte(`{"ticket_id":"t1","fill_id":"f1","status":"filled","price":42020,"quantity":0.5}`)))

	select {
	case r := <-g.Fills():
		assert.Equal(t, "t1", r.TicketID)
		assert.Equal(t, domain.FillStatusFilled, r.Status)
		assert.Equal(t, 0.5, r.Quantity)
		assert.False(t, r.At.IsZero(), "missing timestamps are stamped on receipt")
	case <-time.After(time.Second):
		t.Fatal("no fill delivered")
	}

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	_, open := <-g.Fills()
	assert.False(t, open)
}

func TestDecodeFillRejectsMissingTicket(t *testing.T) {
	_, err := decodeFill([]byte(`{"status":"filled"}`))
	require.ErrorIs(t, err, domain.ErrInvalidFill)
}

func TestPriceRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 2, 9, 30, 0, 123, time.UTC)
	enc := encodePrice(101.25, ts)
	vals := map[string]string{"price": enc["price"].(string), "ts": enc["ts"].(string)}

	price, got, err := decodePrice(vals)
	require.NoError(t, err)
	assert.Equal(t, 101.25, price)
	assert.True(t, ts.Equal(got))

	_, _, err = decodePrice(map[string]string{})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLockKey(t *testing.T) {
	assert.Equal(t, "lock:tradecore:engine-1", LockKey("engine-1"))
}
