// Package router selects and executes calls against metered data providers,
// balancing reliability, quality, and cost under rate-limit and budget
// constraints.
package router

import (
	"sync"

	"datacache/internal/core"
)

// Registry manages the live set of providers. Provider specs are treated as
// immutable once handed out; hot reloads swap whole provider instances so
// in-flight requests keep the spec they were routed with.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]core.Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]core.Provider)}
}

// Update inserts or replaces a provider by name.
func (r *Registry) Update(p core.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Spec().Name] = p
}

// Remove drops a provider. Returns true if it was present.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.providers[name]
	delete(r.providers, name)
	return ok
}

// Get returns the provider with the given name, or nil.
func (r *Registry) Get(name string) core.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[name]
}

// Snapshot returns the current provider set.
func (r *Registry) Snapshot() []core.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	return out
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
