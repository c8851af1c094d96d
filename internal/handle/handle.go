// Package handle provides shared ownership of native resources.
//
// A resource is wrapped once with [New]. Every owner holds its own [Ref];
// additional owners are created with [Ref.Share]. The release function runs
// exactly once, after the last Ref has been released, no matter how many
// times individual owners call Release.
package handle

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrReleased is returned when sharing a Ref that has already been released.
var ErrReleased = errors.New("handle: released")

type shared[T any] struct {
	mu      sync.Mutex
	val     T
	refs    int
	release func(T) error
	done    bool
}

// Ref is one owner's reference to a shared resource.
//
// A Ref is safe for concurrent use. Releasing it more than once is a no-op.
type Ref[T any] struct {
	s        *shared[T]
	released atomic.Bool
}

// New wraps val and returns the first reference to it.
// release may be nil when the resource needs no cleanup.
func New[T any](val T, release func(T) error) *Ref[T] {
	return &Ref[T]{s: &shared[T]{val: val, refs: 1, release: release}}
}

// Get returns the resource. ok is false once this Ref has been released.
func (r *Ref[T]) Get() (val T, ok bool) {
	if r == nil || r.released.Load() {
		var zero T
		return zero, false
	}
	return r.s.val, true
}

// Share returns a new reference to the same resource.
func (r *Ref[T]) Share() (*Ref[T], error) {
	if r == nil || r.released.Load() {
		return nil, ErrReleased
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.done {
		return nil, ErrReleased
	}
	r.s.refs++
	return &Ref[T]{s: r.s}, nil
}

// Refs reports the number of live references.
func (r *Ref[T]) Refs() int {
	if r == nil {
		return 0
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.refs
}

// Release drops this reference. The resource's release function runs when
// the last reference is dropped, and its error is returned to that caller.
func (r *Ref[T]) Release() error {
	if r == nil || !r.released.CompareAndSwap(false, true) {
		return nil
	}
	r.s.mu.Lock()
	r.s.refs--
	last := r.s.refs == 0 && !r.s.done
	if last {
		r.s.done = true
	}
	r.s.mu.Unlock()

	if !last || r.s.release == nil {
		return nil
	}
	return r.s.release(r.s.val)
}
