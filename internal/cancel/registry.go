// Package cancel tracks in-flight turns so a client can cancel a specific
// turn by identifier without terminating the connection.
package cancel

import (
	"context"
	"sync"
)

// entry holds the cancellation handle for one in-flight turn.
type entry struct {
	cancel    context.CancelFunc
	cancelled bool
}

// Registry maps turn identifiers to cancellation handles. All methods are
// safe for concurrent use; the lock is held only for map bookkeeping, never
// across a provider call.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register derives a cancellable context for a turn and tracks it under id.
// The returned context is cancelled either by the parent (client disconnect)
// or by Cancel(id). The caller must Release(id) on terminal transition.
func (r *Registry) Register(id string, parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.entries[id]; ok {
		// Duplicate id on the same registry: supersede the stale entry.
		prev.cancel()
	}
	r.entries[id] = &entry{cancel: cancel}
	return ctx
}

// Cancel aborts the turn registered under id. Unknown ids are a no-op, not an
// error - the turn may have already reached a terminal state.
func (r *Registry) Cancel(id string) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		e.cancelled = true
	}
	r.mu.Unlock()

	if ok {
		e.cancel()
	}
}

// Cancelled reports whether Cancel was called for a still-registered id.
// Used to distinguish an explicit client cancel from a parent-context
// disconnect when both surface as context.Canceled.
func (r *Registry) Cancelled(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return ok && e.cancelled
}

// Release removes the turn from the registry and releases its context
// resources. Safe to call for unknown ids.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()

	if ok {
		e.cancel()
	}
}

// Len returns the number of in-flight turns (for tests and monitoring).
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
