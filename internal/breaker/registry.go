package breaker

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"swarmd/internal/event"
)

// Registry owns the existence of circuit breakers, one per
// (service, operation) pair, and nothing else: it never tunes or infers
// configuration. Every mutating operation emits a metric event so external
// management logic can react without being baked in here.
type Registry struct {
	bus event.Bus

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

func NewRegistry(bus event.Bus) *Registry {
	return &Registry{
		bus:      bus,
		breakers: make(map[string]*CircuitBreaker),
	}
}

func key(service, operation string) string {
	return fmt.Sprintf("%s:%s", service, operation)
}

// Get returns the breaker for (service, operation), creating it on first use
// with defaults merged with the caller's overrides. Repeated calls return the
// same instance; the "created" event fires exactly once per key.
func (r *Registry) Get(service, operation string, overrides Config) *CircuitBreaker {
	r.mu.Lock()
	k := key(service, operation)
	cb, ok := r.breakers[k]
	if !ok {
		cb = newBreaker(service, operation, merge(overrides))
		r.breakers[k] = cb
	}
	r.mu.Unlock()

	if ok {
		r.emit("breaker.accessed", service, operation, cb)
	} else {
		r.emit("breaker.created", service, operation, cb)
	}
	return cb
}

// Remove destroys and evicts a breaker. Returns false for unknown keys.
func (r *Registry) Remove(service, operation string) bool {
	r.mu.Lock()
	k := key(service, operation)
	cb, ok := r.breakers[k]
	if ok {
		delete(r.breakers, k)
	}
	r.mu.Unlock()

	if ok {
		r.emit("breaker.removed", service, operation, cb)
	}
	return ok
}

// Snapshot describes one breaker for read-only observers.
type Snapshot struct {
	Service   string `json:"service"`
	Operation string `json:"operation"`
	State     State  `json:"state"`
	Config    Config `json:"config"`
}

// List returns a point-in-time snapshot; callers never see the live map.
func (r *Registry) List() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Snapshot, 0, len(r.breakers))
	for _, cb := range r.breakers {
		out = append(out, Snapshot{
			Service:   cb.Service,
			Operation: cb.Operation,
			State:     cb.State(),
			Config:    cb.Config(),
		})
	}
	return out
}

func (r *Registry) emit(eventType, service, operation string, cb *CircuitBreaker) {
	if r.bus == nil {
		return
	}
	ev := event.New(eventType, "breaker-registry", uuid.New().String(), map[string]any{
		"service":   service,
		"operation": operation,
		"state":     string(cb.State()),
	})
	_ = r.bus.Publish(ev)
}
