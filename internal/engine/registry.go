package engine

import "sync"

// Registry tracks the live worker for each session. At most one worker per
// session ID exists at a time; registration is atomic so concurrent starts
// for the same session resolve to a single winner.
type Registry struct {
	mu      sync.Mutex
	workers map[string]*Worker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{workers: make(map[string]*Worker)}
}

// Register inserts w under its session ID. If a worker is already registered
// for that session, the existing worker is returned and ok is false.
func (r *Registry) Register(w *Worker) (existing *Worker, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, found := r.workers[w.sessionID]; found {
		return cur, false
	}
	r.workers[w.sessionID] = w
	return w, true
}

// Lookup returns the live worker for sessionID, or nil if none is registered.
func (r *Registry) Lookup(sessionID string) *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.workers[sessionID]
}

// Unregister removes the worker for sessionID. Removing an absent session is
// a no-op, so workers can unregister unconditionally during teardown.
func (r *Registry) Unregister(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workers, sessionID)
}

// List returns the session IDs of all live workers.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.workers))
	for id := range r.workers {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of live workers.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers)
}
