package dispatch

import (
	"sync"
	"time"
)

// Dedup remembers fill report IDs so a report delivered twice is booked
// once. It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // fill ID -> first seen
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewDedup creates a Dedup that remembers IDs for ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// IsDuplicate reports whether id was seen within the TTL, recording it if
// not.
func (d *Dedup) IsDuplicate(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if first, ok := d.seen[id]; ok && now.Sub(first) < d.ttl {
		return true
	}
	d.seen[id] = now
	return false
}

// Cleanup drops expired IDs. Call it periodically.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for id, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, id)
		}
	}
}

// Len is the number of remembered IDs.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
