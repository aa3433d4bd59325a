package breaker

import (
	"sync"
	"testing"

	"swarmd/internal/event"
)

// collectBus records event types as they arrive.
type collectBus struct {
	mu    sync.Mutex
	types []string
}

func (b *collectBus) Publish(ev event.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.types = append(b.types, ev.Type)
	return nil
}

func (b *collectBus) Subscribe(func(event.Event)) func() { return func() {} }
func (b *collectBus) Close() error                       { return nil }

func (b *collectBus) count(eventType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, t := range b.types {
		if t == eventType {
			n++
		}
	}
	return n
}

func TestRegistryReturnsSameInstance(t *testing.T) {
	r := NewRegistry(nil)

	first := r.Get("billing", "charge", Config{})
	second := r.Get("billing", "charge", Config{FailureThreshold: 99})

	if first != second {
		t.Fatal("expected the same breaker instance for the same key")
	}
	// Overrides on later calls are ignored; the first config wins
	if second.Config().FailureThreshold != 5 {
		t.Errorf("expected original config, got threshold %d", second.Config().FailureThreshold)
	}
}

func TestRegistryCreatedEventFiresOnce(t *testing.T) {
	bus := &collectBus{}
	r := NewRegistry(bus)

	r.Get("billing", "charge", Config{})
	r.Get("billing", "charge", Config{})
	r.Get("billing", "charge", Config{})

	if got := bus.count("breaker.created"); got != 1 {
		t.Errorf("expected 1 created event, got %d", got)
	}
	if got := bus.count("breaker.accessed"); got != 2 {
		t.Errorf("expected 2 accessed events, got %d", got)
	}
}

func TestRegistrySeparateKeys(t *testing.T) {
	r := NewRegistry(nil)

	a := r.Get("billing", "charge", Config{})
	b := r.Get("billing", "refund", Config{})
	c := r.Get("search", "charge", Config{})

	if a == b || a == c || b == c {
		t.Fatal("expected distinct breakers per (service, operation) pair")
	}
	if len(r.List()) != 3 {
		t.Errorf("expected 3 breakers listed, got %d", len(r.List()))
	}
}

func TestRegistryRemove(t *testing.T) {
	bus := &collectBus{}
	r := NewRegistry(bus)

	r.Get("billing", "charge", Config{})

	if !r.Remove("billing", "charge") {
		t.Fatal("expected remove to report true")
	}
	if r.Remove("billing", "charge") {
		t.Fatal("expected second remove to report false")
	}
	if got := bus.count("breaker.removed"); got != 1 {
		t.Errorf("expected 1 removed event, got %d", got)
	}

	// Re-creating after removal starts fresh and fires created again
	fresh := r.Get("billing", "charge", Config{})
	if fresh.State() != Closed {
		t.Errorf("expected fresh breaker to be Closed, got %s", fresh.State())
	}
	if got := bus.count("breaker.created"); got != 2 {
		t.Errorf("expected 2 created events, got %d", got)
	}
}

func TestRegistryListIsSnapshot(t *testing.T) {
	r := NewRegistry(nil)
	cb := r.Get("billing", "charge", Config{FailureThreshold: 1})

	before := r.List()
	cb.RecordFailure()

	if before[0].State != Closed {
		t.Errorf("snapshot should not track later state changes, got %s", before[0].State)
	}

	after := r.List()
	if after[0].State != Open {
		t.Errorf("fresh snapshot should see Open, got %s", after[0].State)
	}
}
