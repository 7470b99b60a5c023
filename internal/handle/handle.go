// Package handle provides a move-only ownership wrapper for backend-native
// resources (hypervisor connections, domains, processes, sockets).
//
// Go has no destructors, so release is an explicit Close contract: the single
// owner of a Handle calls Close on its one exit path, and Close invokes the
// release function exactly once. A Handle must not be copied after first use;
// ownership moves via Detach.
package handle

import (
	"fmt"
	"sync"
)

// noCopy triggers `go vet -copylocks` when a Handle is copied by value.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Handle owns a native resource of type T together with its release function.
//
// The zero value is a released (empty) handle; Close and Detach on it are
// no-ops. A Handle is safe for concurrent Close calls, though normal use has
// a single owning goroutine.
type Handle[T any] struct {
	_ noCopy

	mu       sync.Mutex
	value    T
	release  func(T) error
	acquired bool
}

// New wraps value with its release function. A nil release means the resource
// needs no cleanup (Close becomes a state change only).
func New[T any](value T, release func(T) error) *Handle[T] {
	return &Handle[T]{
		value:    value,
		release:  release,
		acquired: true,
	}
}

// Get returns the wrapped value. It returns an error after the handle has
// been closed or detached, so stale owners cannot touch a released resource.
func (h *Handle[T]) Get() (T, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.acquired {
		var zero T
		return zero, fmt.Errorf("handle: use after release")
	}
	return h.value, nil
}

// MustGet is Get for call sites where the owner has already checked liveness.
// It panics on a released handle, which indicates a bug in ownership handling.
func (h *Handle[T]) MustGet() T {
	v, err := h.Get()
	if err != nil {
		panic(err)
	}
	return v
}

// Close releases the resource exactly once. Subsequent calls, and calls on a
// zero or detached handle, are no-ops returning nil.
func (h *Handle[T]) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.acquired {
		return nil
	}
	h.acquired = false

	if h.release == nil {
		return nil
	}
	return h.release(h.value)
}

// Detach moves the value out of the handle, disarming release. The caller
// becomes the owner of the resource. Detaching a released handle returns the
// zero value and false.
func (h *Handle[T]) Detach() (T, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.acquired {
		var zero T
		return zero, false
	}
	h.acquired = false
	return h.value, true
}

// Held reports whether the handle still owns its resource.
func (h *Handle[T]) Held() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.acquired
}
