package resilience

import "sync"

// BreakerRegistry holds one circuit breaker per operation name. Breakers are
// created lazily on first use and retained for the process lifetime.
type BreakerRegistry struct {
	mu        sync.Mutex
	defaults  BreakerConfig
	overrides map[string]BreakerConfig
	breakers  map[string]*CircuitBreaker
}

// NewBreakerRegistry creates a registry. defaults applies to every breaker
// that has no per-name override.
func NewBreakerRegistry(defaults BreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		defaults:  defaults.withDefaults(),
		overrides: make(map[string]BreakerConfig),
		breakers:  make(map[string]*CircuitBreaker),
	}
}

// Configure sets the config used when the named breaker is first created.
// It has no effect on a breaker that already exists.
func (r *BreakerRegistry) Configure(name string, config BreakerConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[name] = config.withDefaults()
}

// Get returns the breaker for name, creating it if needed.
func (r *BreakerRegistry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	config := r.defaults
	if override, ok := r.overrides[name]; ok {
		config = override
	}
	if config.OnStateChange == nil {
		config.OnStateChange = r.defaults.OnStateChange
	}

	cb := NewCircuitBreaker(name, config)
	r.breakers[name] = cb
	return cb
}

// Snapshot returns the observable state of every breaker, keyed by name.
func (r *BreakerRegistry) Snapshot() map[string]BreakerSnapshot {
	r.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.Unlock()

	snaps := make(map[string]BreakerSnapshot, len(breakers))
	for _, cb := range breakers {
		snaps[cb.Name()] = cb.Snapshot()
	}
	return snaps
}

// Counts reports how many breakers are currently open and half-open.
func (r *BreakerRegistry) Counts() (open, halfOpen int) {
	r.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.Unlock()

	for _, cb := range breakers {
		switch cb.State() {
		case StateOpen:
			open++
		case StateHalfOpen:
			halfOpen++
		}
	}
	return open, halfOpen
}
