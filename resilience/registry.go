package resilience

import (
	"slices"
	"sync"
)

// BreakerRegistry hands out one CircuitBreaker per name for the lifetime of
// the registry.
type BreakerRegistry struct {
	defaults CircuitBreakerConfig

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewBreakerRegistry creates a registry whose breakers are built from
// defaults. The Name field of defaults is ignored.
func NewBreakerRegistry(defaults CircuitBreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		defaults: defaults,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for name, creating it with the registry defaults
// on first use.
func (r *BreakerRegistry) Get(name string) *CircuitBreaker {
	return r.GetOrCreate(name, r.defaults)
}

// GetOrCreate returns the breaker for name, creating it from config if it
// does not exist yet. An existing breaker keeps its original configuration.
func (r *BreakerRegistry) GetOrCreate(name string, config CircuitBreakerConfig) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	config.Name = name
	cb = NewCircuitBreaker(config)
	r.breakers[name] = cb
	return cb
}

// Names returns the registered breaker names in sorted order.
func (r *BreakerRegistry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	r.mu.RUnlock()

	slices.Sort(names)
	return names
}

// Snapshot returns the metrics of every registered breaker keyed by name.
func (r *BreakerRegistry) Snapshot() map[string]CircuitBreakerMetrics {
	r.mu.RLock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.RUnlock()

	out := make(map[string]CircuitBreakerMetrics, len(breakers))
	for _, cb := range breakers {
		out[cb.Name()] = cb.Metrics()
	}
	return out
}

// ResetAll closes every registered breaker.
func (r *BreakerRegistry) ResetAll() {
	r.mu.RLock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.RUnlock()

	for _, cb := range breakers {
		cb.Reset()
	}
}
