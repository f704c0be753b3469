package script

import "sync"

// Registry is a concurrency safe collection of the active statuses, used to cancel
// all of them at once.
type Registry struct {
	statuses map[string]*Status
	mu       sync.Mutex
}

// NewRegistry returns a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		statuses: map[string]*Status{},
	}
}

// Add adds a status to the registry.
func (r *Registry) Add(s *Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[s.ID()] = s
}

// Remove removes a status from the registry, removing a missing status is a no-op.
func (r *Registry) Remove(s *Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.statuses, s.ID())
}

// Len returns the number of registered statuses.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.statuses)
}

// List returns the registered statuses.
func (r *Registry) List() []*Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	ss := make([]*Status, 0, len(r.statuses))
	for _, s := range r.statuses {
		ss = append(ss, s)
	}
	return ss
}

// Drain removes all the statuses from the registry and returns them.
func (r *Registry) Drain() []*Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	ss := make([]*Status, 0, len(r.statuses))
	for id, s := range r.statuses {
		ss = append(ss, s)
		delete(r.statuses, id)
	}
	return ss
}
