// Package broadcast provides a single-slot latest-value primitive: one writer
// replaces the value, any number of readers wait for it to change. Writers
// never block and values are never queued, so a slow reader skips
// intermediate values and always wakes up to the newest one.
package broadcast

import (
	"context"

	"go.uber.org/atomic"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// state is replaced wholesale on every publish. changed is closed when the
// state is superseded, which wakes every reader parked on it.
type state[T any] struct {
	value   T
	version uint64
	closed  bool
	changed chan struct{}
}

// Slot holds the latest value of one logical stream.
type Slot[T any] struct {
	cur   *atomic.Pointer[state[T]]
	equal func(a, b T) bool
}

// New creates a slot holding initial. When equal is non-nil, publishing a
// value equal to the current one is a no-op and wakes nobody.
func New[T any](initial T, equal func(a, b T) bool) *Slot[T] {
	return &Slot[T]{
		cur:   atomic.NewPointer(&state[T]{value: initial, changed: make(chan struct{})}),
		equal: equal,
	}
}

// Equal is an equality function for comparable types.
func Equal[T comparable](a, b T) bool { return a == b }

// Publish replaces the current value. It returns domain.ErrClosed after Close.
func (s *Slot[T]) Publish(v T) error {
	for {
		old := s.cur.Load()
		if old.closed {
			return domain.ErrClosed
		}
		if s.equal != nil && s.equal(old.value, v) {
			return nil
		}
		next := &state[T]{value: v, version: old.version + 1, changed: make(chan struct{})}
		if s.cur.CompareAndSwap(old, next) {
			close(old.changed)
			return nil
		}
	}
}

// ReadLatest returns the current value without affecting any reader.
func (s *Slot[T]) ReadLatest() T {
	return s.cur.Load().value
}

// Version counts accepted publishes.
func (s *Slot[T]) Version() uint64 {
	return s.cur.Load().version
}

// Changed returns a channel that is closed on the next publish or on Close.
func (s *Slot[T]) Changed() <-chan struct{} {
	return s.cur.Load().changed
}

// Closed reports whether Close has been called.
func (s *Slot[T]) Closed() bool {
	return s.cur.Load().closed
}

// Close permanently closes the slot. Pending and future waits return
// domain.ErrClosed once the last value has been observed. The last value stays readable through ReadLatest.
func (s *Slot[T]) Close() {
	for {
		old := s.cur.Load()
		if old.closed {
			return
		}
		next := &state[T]{value: old.value, version: old.version, closed: true, changed: make(chan struct{})}
		if s.cur.CompareAndSwap(old, next) {
			close(old.changed)
			return
		}
	}
}

// Subscribe returns a reader that treats the current value as already seen.
func (s *Slot[T]) Subscribe() *Receiver[T] {
	return &Receiver[T]{slot: s, seen: s.cur.Load().version}
}

// Receiver tracks what one reader has observed. It is not safe for
// concurrent use; give each reading goroutine its own.
type Receiver[T any] struct {
	slot *Slot[T]
	seen uint64
}

// WaitForChange blocks until the slot holds a value this receiver has not
// observed, then returns it and marks it observed. After Close it still
// returns the last unobserved value once before reporting domain.ErrClosed.
func (r *Receiver[T]) WaitForChange(ctx context.Context) (T, error) {
	var zero T
	for {
		st := r.slot.cur.Load()
		if st.version != r.seen {
			r.seen = st.version
			return st.value, nil
		}
		if st.closed {
			return zero, domain.ErrClosed
		}
		select {
		case <-st.changed:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// HasChanged reports whether a value newer than the last observed one is
// available.
func (r *Receiver[T]) HasChanged() bool {
	st := r.slot.cur.Load()
	return st.closed || st.version != r.seen
}

// ReadLatest returns the current value without marking it observed.
func (r *Receiver[T]) ReadLatest() T {
	return r.slot.ReadLatest()
}
