package event

import (
	"fmt"
	"sync"
)

// Bus is the transport contract. Publish resolves once the transport accepts
// the event, not once subscribers have processed it. Delivery order is
// preserved per logical channel (the event type); nothing is guaranteed
// across channels. Exactly one Bus exists per process, constructed at startup
// and injected into every consumer.
type Bus interface {
	Publish(ev Event) error
	Subscribe(fn func(ev Event)) (unsubscribe func())
	Close() error
}

// MemoryBus is the in-process implementation: a single dispatch goroutine
// per channel keeps publish order without persistence.
type MemoryBus struct {
	mu       sync.RWMutex
	subs     map[int]func(Event)
	nextID   int
	channels map[string]chan Event
	wg       sync.WaitGroup // dispatchers
	senders  sync.WaitGroup // in-flight publishes
	closing  chan struct{}
	closed   bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs:     make(map[int]func(Event)),
		channels: make(map[string]chan Event),
		closing:  make(chan struct{}),
	}
}

func (b *MemoryBus) Publish(ev Event) error {
	if ev.CorrelationID == "" {
		return fmt.Errorf("event %s has no correlation id", ev.ID)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("bus is closed")
	}
	// Registered before the closed check can flip: Close waits for this
	// publish before it closes any channel.
	b.senders.Add(1)
	ch, ok := b.channels[ev.Type]
	if !ok {
		ch = make(chan Event, 256)
		b.channels[ev.Type] = ch
		b.wg.Add(1)
		go b.dispatch(ch)
	}
	b.mu.Unlock()
	defer b.senders.Done()

	select {
	case ch <- ev:
		return nil
	case <-b.closing:
		return fmt.Errorf("bus is closed")
	}
}

func (b *MemoryBus) dispatch(ch chan Event) {
	defer b.wg.Done()
	for ev := range ch {
		b.mu.RLock()
		fns := make([]func(Event), 0, len(b.subs))
		for _, fn := range b.subs {
			fns = append(fns, fn)
		}
		b.mu.RUnlock()

		for _, fn := range fns {
			fn(ev)
		}
	}
}

func (b *MemoryBus) Subscribe(fn func(ev Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Close waits for in-flight publishes, then drains the per-channel
// dispatchers. A publisher blocked on a full channel is released with an
// error rather than panicking on a closed channel. Idempotent.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.closing)
	b.mu.Unlock()

	b.senders.Wait()

	b.mu.Lock()
	for _, ch := range b.channels {
		close(ch)
	}
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}
