// Package detector evaluates market snapshots and emits candidate signals.
// Every detector shares one contract: given the current snapshot, the prior
// one and the latest sibling venues, return at most one signal.
package detector

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// Observation is everything a detector may look at for one evaluation.
type Observation struct {
	Current  domain.MarketSnapshot
	Prior    domain.MarketSnapshot
	HasPrior bool
	// Venues holds the latest snapshot of Current.Symbol on every venue,
	// Current included.
	Venues []domain.MarketSnapshot
	Now    time.Time
}

// Depth returns the book levels carried on the current snapshot.
func (o Observation) Depth(side domain.BookSide) []domain.PriceLevel {
	if side == domain.BookSideBid {
		return o.Current.Bids
	}
	return o.Current.Asks
}

// Detector is the shared evaluate capability. Implementations keep only
// small private rolling state and must be safe for concurrent use.
type Detector interface {
	Name() string
	Evaluate(obs Observation) (domain.Signal, bool)
}

// Gatherer is implemented by detectors that need several venues. Ready
// reports whether obs carries enough fresh venues to evaluate.
type Gatherer interface {
	Ready(obs Observation) bool
}

// Registry holds named detectors for selection by config.
type Registry struct {
	detectors map[string]Detector
	mu        sync.RWMutex
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{detectors: make(map[string]Detector)}
}

// Register adds d under its own name.
func (r *Registry) Register(d Detector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detectors[d.Name()] = d
}

// Get returns the detector by name.
func (r *Registry) Get(name string) (Detector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.detectors[name]
	if !ok {
		return nil, fmt.Errorf("detector %q: %w", name, domain.ErrNotFound)
	}
	return d, nil
}

// Select returns the named detectors in the given order.
func (r *Registry) Select(names []string) ([]Detector, error) {
	out := make([]Detector, 0, len(names))
	for _, n := range names {
		d, err := r.Get(n)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// List returns all registered names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.detectors))
	for n := range r.detectors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
