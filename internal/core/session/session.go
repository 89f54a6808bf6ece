// Package session tracks cancelable network sessions so that a single
// Cancel call can tear down every in-flight request of a component.
package session

import (
	"context"
	"sync"
)

// Registry hands out cancelable contexts and cancels them all on demand
type Registry struct {
	mu       sync.Mutex
	next     int
	cancels  map[int]context.CancelFunc
	canceled bool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{cancels: make(map[int]context.CancelFunc)}
}

// Track derives a context from parent that is canceled by CancelAll.
// The returned release func must be called when the session ends.
func (r *Registry) Track(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.canceled {
		cancel()
		return ctx, cancel
	}

	id := r.next
	r.next++
	r.cancels[id] = cancel

	return ctx, func() {
		r.mu.Lock()
		delete(r.cancels, id)
		r.mu.Unlock()
		cancel()
	}
}

// CancelAll cancels every tracked session and every session tracked afterwards
// until Reset is called
func (r *Registry) CancelAll() {
	r.mu.Lock()
	r.canceled = true
	cancels := make([]context.CancelFunc, 0, len(r.cancels))
	for id, c := range r.cancels {
		cancels = append(cancels, c)
		delete(r.cancels, id)
	}
	r.mu.Unlock()

	for _, c := range cancels {
		c()
	}
}

// Canceled reports whether CancelAll was called since the last Reset
func (r *Registry) Canceled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canceled
}

// Reset allows new sessions after a cancel
func (r *Registry) Reset() {
	r.mu.Lock()
	r.canceled = false
	r.mu.Unlock()
}

// Active returns the number of tracked sessions
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cancels)
}
