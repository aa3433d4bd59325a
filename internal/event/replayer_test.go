package event

import (
	"context"
	"sync"
	"testing"
	"time"
)

// recordingBus captures published events in order.
type recordingBus struct {
	mu     sync.Mutex
	events []Event
}

func (b *recordingBus) Publish(ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *recordingBus) Subscribe(func(Event)) func() { return func() {} }
func (b *recordingBus) Close() error                 { return nil }

func (b *recordingBus) published() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

func TestReplayerPreservesTimestampOrder(t *testing.T) {
	bus := &recordingBus{}
	r := NewReplayer(bus, 0) // as fast as possible

	events := []Event{
		tsEvent("third", "corr-1", "", 2*time.Second),
		tsEvent("first", "corr-1", "", 0),
		tsEvent("second", "corr-1", "", time.Second),
	}

	if err := r.Replay(context.Background(), events); err != nil {
		t.Fatalf("replay: %v", err)
	}

	got := ids(bus.published())
	want := []string{"first", "second", "third"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestReplayerDoesNotMutateInput(t *testing.T) {
	bus := &recordingBus{}
	r := NewReplayer(bus, 0)

	events := []Event{
		tsEvent("b", "corr-1", "", time.Second),
		tsEvent("a", "corr-1", "", 0),
	}
	if err := r.Replay(context.Background(), events); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if events[0].ID != "b" {
		t.Error("input slice was reordered")
	}
}

func TestReplayerScalesGaps(t *testing.T) {
	bus := &recordingBus{}
	// 200ms of history at 10x should take roughly 20ms
	r := NewReplayer(bus, 10)

	events := []Event{
		tsEvent("a", "corr-1", "", 0),
		tsEvent("b", "corr-1", "", 200*time.Millisecond),
	}

	start := time.Now()
	if err := r.Replay(context.Background(), events); err != nil {
		t.Fatalf("replay: %v", err)
	}
	elapsed := time.Since(start)

	if elapsed < 10*time.Millisecond {
		t.Errorf("replay finished too fast: %s", elapsed)
	}
	if elapsed > time.Second {
		t.Errorf("replay took too long: %s", elapsed)
	}
}

func TestReplayerHonorsContext(t *testing.T) {
	bus := &recordingBus{}
	r := NewReplayer(bus, 1)

	events := []Event{
		tsEvent("a", "corr-1", "", 0),
		tsEvent("b", "corr-1", "", time.Hour),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := r.Replay(ctx, events)
	if err == nil {
		t.Fatal("expected context error")
	}
	if len(bus.published()) != 1 {
		t.Errorf("expected 1 published event before cancellation, got %d", len(bus.published()))
	}
}

func TestReplayerEmptyBatch(t *testing.T) {
	if err := NewReplayer(&recordingBus{}, 0).Replay(context.Background(), nil); err != nil {
		t.Fatalf("empty replay: %v", err)
	}
}
