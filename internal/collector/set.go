package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradecore/internal/broadcast"
	"github.com/alanyoungcy/tradecore/internal/domain"
	"github.com/alanyoungcy/tradecore/internal/metrics"
)

type entry struct {
	collector *Collector
	input     chan domain.Tick
}

// Set owns every collector and its input channel. It guarantees exactly one
// collector, and so one writer, per market slot.
type Set struct {
	depth   int
	buffer  int
	logger  *slog.Logger
	mu      sync.RWMutex
	entries map[domain.MarketKey]*entry
	slots   map[domain.MarketKey]*broadcast.Slot[domain.MarketSnapshot]
	closed  bool
}

// NewSet creates an empty set. depth is copied into each collector; buffer
// sizes each collector's input channel.
func NewSet(depth, buffer int, logger *slog.Logger) *Set {
	if buffer <= 0 {
		buffer = 64
	}
	return &Set{
		depth:   depth,
		buffer:  buffer,
		logger:  logger,
		entries: make(map[domain.MarketKey]*entry),
		slots:   make(map[domain.MarketKey]*broadcast.Slot[domain.MarketSnapshot]),
	}
}

// Add registers a collector for key and returns its slot.
func (s *Set) Add(key domain.MarketKey) (*broadcast.Slot[domain.MarketSnapshot], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; ok {
		return nil, fmt.Errorf("collector: %w: %s", domain.ErrDuplicateCollector, key)
	}
	slot := broadcast.New(domain.MarketSnapshot{}, domain.MarketSnapshot.Equal)
	s.entries[key] = &entry{
		collector: New(key, slot, s.depth, s.logger),
		input:     make(chan domain.Tick, s.buffer),
	}
	s.slots[key] = slot
	return slot, nil
}

// Slot returns the slot for key.
func (s *Set) Slot(key domain.MarketKey) (*broadcast.Slot[domain.MarketSnapshot], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slot, ok := s.slots[key]
	return slot, ok
}

// Slots returns a copy of every registered slot.
func (s *Set) Slots() map[domain.MarketKey]*broadcast.Slot[domain.MarketSnapshot] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.MarketKey]*broadcast.Slot[domain.MarketSnapshot], len(s.slots))
	for k, v := range s.slots {
		out[k] = v
	}
	return out
}

// Keys returns the registered keys sorted by venue then symbol.
func (s *Set) Keys() []domain.MarketKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]domain.MarketKey, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Venue != keys[j].Venue {
			return keys[i].Venue < keys[j].Venue
		}
		return keys[i].Symbol < keys[j].Symbol
	})
	return keys
}

// Route hands a tick to its collector. Ticks for unknown keys are dropped and
// reported false. It blocks while the collector's buffer is full.
func (s *Set) Route(ctx context.Context, t domain.Tick) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	e, ok := s.entries[t.Key()]
	if !ok {
		metrics.TicksDropped.WithLabelValues(t.Venue, t.Symbol, "unknown_market").Inc()
		return false
	}
	select {
	case e.input <- t:
		return true
	case <-ctx.Done():
		return false
	}
}

// CloseInputs closes every input channel. Collectors drain what is buffered
// and then return. Routing after this is a no-op.
func (s *Set) CloseInputs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, e := range s.entries {
		close(e.input)
	}
}

// CloseSlots permanently closes every slot, releasing all waiting readers.
func (s *Set) CloseSlots() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, slot := range s.slots {
		slot.Close()
	}
}

// Run starts every collector and waits for them. A collector returning on
// its own does not stop the others.
func (s *Set) Run(ctx context.Context) error {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		g.Go(func() error {
			return e.collector.Run(ctx, e.input)
		})
	}
	s.logger.InfoContext(ctx, "collectors running", slog.Int("count", len(entries)))
	return g.Wait()
}
