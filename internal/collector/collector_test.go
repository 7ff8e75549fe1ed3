package collector

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradecore/internal/broadcast"
	"github.com/alanyoungcy/tradecore/internal/domain"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var btcAlpha = domain.MarketKey{Venue: "alpha", Symbol: "BTC-USD"}

func tick(seq uint64, bid, ask float64) domain.Tick {
	return domain.Tick{
		Venue:     "alpha",
		Symbol:    "BTC-USD",
		Bid:       bid,
		Ask:       ask,
		LastTrade: bid,
		Volume:    1,
		Sequence:  seq,
		Timestamp: time.Unix(1700000000, 0).Add(time.Duration(seq) * time.Millisecond),
	}
}

func newCollector() (*Collector, *broadcast.Slot[domain.MarketSnapshot]) {
	slot := broadcast.New(domain.MarketSnapshot{}, domain.MarketSnapshot.Equal)
	return New(btcAlpha, slot, 5, testLogger), slot
}

func TestHandleDropsStaleSequences(t *testing.T) {
	c, slot := newCollector()

	_, ok := c.Handle(tick(2, 100, 101))
	require.True(t, ok)
	_, ok = c.Handle(tick(2, 200, 201))
	assert.False(t, ok, "equal sequence is dropped")
	_, ok = c.Handle(tick(1, 300, 301))
	assert.False(t, ok, "older sequence is dropped")
	_, ok = c.Handle(tick(3, 102, 103))
	require.True(t, ok)

	assert.Equal(t, uint64(3), slot.ReadLatest().Sequence)
	assert.Equal(t, 102.0, slot.ReadLatest().Bid)
	assert.Equal(t, uint64(3), c.LastSequence())
}

func TestHandleDropsWrongKeyAndInvalid(t *testing.T) {
	c, slot := newCollector()

	other := tick(1, 100, 101)
	other.Venue = "beta"
	_, ok := c.Handle(other)
	assert.False(t, ok)

	bad := tick(1, -1, 101)
	_, ok = c.Handle(bad)
	assert.False(t, ok)

	badLevel := tick(1, 100, 101)
	badLevel.Levels = []domain.LevelUpdate{
		{Side: domain.BookSideBid, Price: 100, Quantity: 1},
		{Side: domain.BookSideAsk, Price: 0, Quantity: 1},
	}
	_, ok = c.Handle(badLevel)
	assert.False(t, ok)

	assert.True(t, slot.ReadLatest().IsZero())
	assert.Equal(t, 0, c.book.Len(domain.BookSideBid), "invalid tick leaves the book untouched")
}

func TestHandleCarriesDepth(t *testing.T) {
	c, _ := newCollector()

	tk := tick(1, 0, 0)
	tk.Levels = []domain.LevelUpdate{
		{Side: domain.BookSideBid, Price: 100, Quantity: 2},
		{Side: domain.BookSideBid, Price: 99, Quantity: 5},
		{Side: domain.BookSideAsk, Price: 101, Quantity: 3},
	}
	snap, ok := c.Handle(tk)
	require.True(t, ok)
	assert.Equal(t, 100.0, snap.Bid, "top of book falls back to depth")
	assert.Equal(t, 101.0, snap.Ask)
	assert.Len(t, snap.Bids, 2)
	assert.Len(t, snap.Asks, 1)

	next := tick(2, 0, 0)
	next.Levels = []domain.LevelUpdate{{Side: domain.BookSideBid, Price: 100, Quantity: 0}}
	snap2, ok := c.Handle(next)
	require.True(t, ok)
	assert.Equal(t, 99.0, snap2.Bid)
	assert.Len(t, snap.Bids, 2, "earlier snapshot is not mutated")
}

func TestRunStopsOnUpstreamClose(t *testing.T) {
	c, slot := newCollector()
	rx := slot.Subscribe()

	ticks := make(chan domain.Tick, 4)
	ticks <- tick(1, 100, 101)
	ticks <- tick(2, 100.5, 101.5)
	close(ticks)

	require.NoError(t, c.Run(t.Context(), ticks))

	snap, err := rx.WaitForChange(t.Context())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), snap.Sequence)
	assert.False(t, slot.Closed(), "upstream close leaves the slot open")
}

func TestRunHonoursCancellation(t *testing.T) {
	c, _ := newCollector()
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	err := c.Run(ctx, make(chan domain.Tick))
	require.ErrorIs(t, err, context.Canceled)
}

func TestSetRejectsDuplicateWriter(t *testing.T) {
	s := NewSet(5, 8, testLogger)
	_, err := s.Add(btcAlpha)
	require.NoError(t, err)
	_, err = s.Add(btcAlpha)
	require.ErrorIs(t, err, domain.ErrDuplicateCollector)
}

func TestSetRoutesAndTerminates(t *testing.T) {
	s := NewSet(5, 8, testLogger)
	beta := domain.MarketKey{Venue: "beta", Symbol: "BTC-USD"}
	alphaSlot, err := s.Add(btcAlpha)
	require.NoError(t, err)
	betaSlot, err := s.Add(beta)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	var runErr error
	go func() {
		defer wg.Done()
		runErr = s.Run(context.Background())
	}()

	assert.True(t, s.Route(t.Context(), tick(1, 100, 101)))
	bt := tick(1, 200, 201)
	bt.Venue = "beta"
	assert.True(t, s.Route(t.Context(), bt))
	unknown := tick(1, 1, 2)
	unknown.Symbol = "DOGE-USD"
	assert.False(t, s.Route(t.Context(), unknown))

	s.CloseInputs()
	wg.Wait()
	require.NoError(t, runErr)
	assert.False(t, s.Route(t.Context(), tick(2, 1, 2)))

	assert.Equal(t, 100.0, alphaSlot.ReadLatest().Bid)
	assert.Equal(t, 200.0, betaSlot.ReadLatest().Bid)
	assert.Equal(t, []domain.MarketKey{btcAlpha, beta}, s.Keys())
}

type memPriceCache struct {
	mu     sync.Mutex
	prices map[string]float64
}

func (m *memPriceCache) SetPrice(_ context.Context, key string, price float64, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[key] = price
	return nil
}

func (m *memPriceCache) GetPrice(_ context.Context, key string) (float64, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prices[key]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p, time.Time{}, nil
}

func TestMirrorWritesMid(t *testing.T) {
	s := NewSet(0, 8, testLogger)
	slot, err := s.Add(btcAlpha)
	require.NoError(t, err)

	cache := &memPriceCache{prices: map[string]float64{}}
	m := NewMirror(s.Slots(), cache, testLogger)

	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()

	// Give the mirror time to subscribe before publishing.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, slot.Publish(domain.MarketSnapshot{
		Symbol: "BTC-USD", Venue: "alpha", Bid: 100, Ask: 102, Sequence: 1,
	}))

	require.Eventually(t, func() bool {
		p, _, err := cache.GetPrice(context.Background(), btcAlpha.String())
		return err == nil && p == 101
	}, time.Second, 5*time.Millisecond)

	s.CloseSlots()
	require.NoError(t, <-done)
}
