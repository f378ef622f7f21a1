package ratelimit

import (
	"sync"
	"time"

	"datacache/internal/core"
)

// Registry holds one limiter per provider name. Limiters survive provider
// hot reloads unless the provider's ceilings changed, so in-window counts
// are not forgotten on unrelated config updates.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*registered
	now      func() time.Time
}

type registered struct {
	limiter *Limiter
	limits  Limits
}

// NewRegistry creates an empty limiter registry.
func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		limiters: make(map[string]*registered),
		now:      now,
	}
}

// For returns the limiter for a provider, creating it on first use.
func (r *Registry) For(spec *core.ProviderSpec) *Limiter {
	limits := Limits{
		PerMinute: spec.RateLimit.RequestsPerMinute,
		PerHour:   spec.RateLimit.RequestsPerHour,
		PerDay:    spec.RateLimit.RequestsPerDay,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.limiters[spec.Name]
	if ok && reg.limits == limits {
		return reg.limiter
	}
	limiter := New(limits, r.now)
	r.limiters[spec.Name] = &registered{limiter: limiter, limits: limits}
	return limiter
}

// Remove drops the limiter for a removed provider.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.limiters, name)
}
