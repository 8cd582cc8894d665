package breaker

import (
	"sync"

	"github.com/go-kratos/kratos/v2/log"
)

// Registry is a named map of breaker instances, used for introspection and
// metrics. It is an explicit, dependency-injected object rather than global
// state so tests can construct isolated registries; a single process-wide
// instance is wired at the application's top level.
//
// Registration and lookup are infrequent relative to Fire calls on already
// registered breakers, so a plain RWMutex-guarded map is sufficient.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	logger   log.Logger
}

// NewRegistry creates an empty breaker registry.
func NewRegistry(logger log.Logger) *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		logger:   logger,
	}
}

// GetOrCreate returns the breaker registered under name, creating it on
// first use. Re-registering the same name is idempotent and returns the
// existing instance; the action and options of subsequent registrations
// are ignored.
func (r *Registry) GetOrCreate(name string, action Action, opts Options) (*CircuitBreaker, error) {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check: another goroutine may have created it.
	if cb, ok = r.breakers[name]; ok {
		return cb, nil
	}

	cb, err := New(name, action, opts, r.logger)
	if err != nil {
		return nil, err
	}
	r.breakers[name] = cb
	return cb, nil
}

// Get looks up a breaker by name.
func (r *Registry) Get(name string) (*CircuitBreaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.breakers[name]
	return cb, ok
}

// Names returns the names of all registered breakers.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	return names
}

// Snapshot returns a status snapshot of every registered breaker, keyed by
// name. Used by the operational status endpoint.
func (r *Registry) Snapshot() map[string]Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := make(map[string]Status, len(r.breakers))
	for name, cb := range r.breakers {
		snapshot[name] = cb.Status()
	}
	return snapshot
}

// Reset removes all registered breakers. Test isolation and process
// teardown only; never called from request-handling code paths.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers = make(map[string]*CircuitBreaker)
}
