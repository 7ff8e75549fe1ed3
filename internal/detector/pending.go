package detector

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tradecore/internal/domain"
	"github.com/alanyoungcy/tradecore/internal/metrics"
)

// Pending is the per-symbol signal mailbox between detectors and the risk
// gate. At most one signal waits per symbol; a newer one supersedes it. A
// symbol whose previous signal is still being executed is held back until
// Clear is called for it.
type Pending struct {
	mu       sync.Mutex
	queued   map[string]domain.Signal
	order    []string
	inflight map[string]string
	wake     chan struct{}
	journal  domain.JournalHook
}

// NewPending creates an empty mailbox. journal may be nil.
func NewPending(journal domain.JournalHook) *Pending {
	if journal == nil {
		journal = domain.NopJournal
	}
	return &Pending{
		queued:   make(map[string]domain.Signal),
		inflight: make(map[string]string),
		wake:     make(chan struct{}, 1),
		journal:  journal,
	}
}

// Submit queues sig, replacing any signal already waiting for its symbol.
func (p *Pending) Submit(sig domain.Signal) {
	p.mu.Lock()
	prev, had := p.queued[sig.Symbol]
	p.queued[sig.Symbol] = sig
	if !had {
		p.order = append(p.order, sig.Symbol)
	}
	p.mu.Unlock()

	metrics.SignalsEmitted.WithLabelValues(sig.Source, sig.Symbol).Inc()
	p.journal.Append(domain.JournalEvent{
		ID:     uuid.NewString(),
		Kind:   domain.JournalSignal,
		Symbol: sig.Symbol,
		At:     time.Now().UTC(),
		Detail: map[string]any{
			"signal_id": sig.ID,
			"source":    sig.Source,
			"direction": string(sig.Direction),
			"size":      sig.SuggestedSize,
			"price":     sig.ReferencePrice,
			"reason":    sig.Reason,
		},
	})
	if had {
		metrics.SignalsSuperseded.WithLabelValues(sig.Symbol).Inc()
		p.journal.Append(domain.JournalEvent{
			ID:     uuid.NewString(),
			Kind:   domain.JournalSignalSuperseded,
			Symbol: sig.Symbol,
			At:     time.Now().UTC(),
			Detail: map[string]any{"signal_id": prev.ID, "superseded_by": sig.ID},
		})
	}
	p.notify()
}

// Next removes and returns the oldest waiting signal whose symbol has no
// order in flight, and marks that symbol in flight. It blocks until one is
// available or ctx is done.
func (p *Pending) Next(ctx context.Context) (domain.Signal, error) {
	for {
		if sig, ok := p.take(); ok {
			return sig, nil
		}
		select {
		case <-ctx.Done():
			return domain.Signal{}, ctx.Err()
		case <-p.wake:
		}
	}
}

func (p *Pending) take() (domain.Signal, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, sym := range p.order {
		if _, busy := p.inflight[sym]; busy {
			continue
		}
		sig := p.queued[sym]
		delete(p.queued, sym)
		p.order = append(p.order[:i:i], p.order[i+1:]...)
		p.inflight[sym] = sig.ID
		return sig, true
	}
	return domain.Signal{}, false
}

// Clear releases the in-flight marker for symbol.
func (p *Pending) Clear(symbol string) {
	p.mu.Lock()
	_, had := p.inflight[symbol]
	delete(p.inflight, symbol)
	p.mu.Unlock()
	if had {
		p.notify()
	}
}

// InFlight reports whether symbol has an order being executed.
func (p *Pending) InFlight(symbol string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inflight[symbol]
	return ok
}

// Len is the number of waiting signals.
func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queued)
}

func (p *Pending) notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}
