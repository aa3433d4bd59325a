package natsbus

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"swarmd/internal/config"
	"swarmd/internal/event"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := NewServer(config.NATSConfig{
		Port:    0, // Random port
		DataDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	t.Cleanup(srv.Close)
	return srv
}

func TestServerStartStop(t *testing.T) {
	srv := newTestServer(t)

	if srv.ClientURL() == "" {
		t.Fatal("expected non-empty client URL")
	}
}

func TestPubSub(t *testing.T) {
	srv := newTestServer(t)

	client, err := NewClient(srv)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	received := make(chan string, 1)
	_, err = client.Subscribe("test.topic", func(msg *nats.Msg) {
		received <- string(msg.Data)
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	if err := client.Publish("test.topic", []byte("hello")); err != nil {
		t.Fatalf("publish error: %v", err)
	}
	client.Flush()

	select {
	case data := <-received:
		if data != "hello" {
			t.Errorf("expected 'hello', got '%s'", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestEventBusRoundTrip(t *testing.T) {
	srv := newTestServer(t)

	bus, err := NewEventBus(srv)
	if err != nil {
		t.Fatalf("failed to create event bus: %v", err)
	}
	defer bus.Close()

	received := make(chan event.Event, 1)
	unsub := bus.Subscribe(func(ev event.Event) {
		received <- ev
	})
	defer unsub()

	ev := event.New("swarm.state_transition", "machine", "sw-1", map[string]any{"to": "ACTIVE"})
	if err := bus.Publish(ev); err != nil {
		t.Fatalf("publish error: %v", err)
	}

	select {
	case got := <-received:
		if got.Type != "swarm.state_transition" || got.CorrelationID != "sw-1" {
			t.Errorf("unexpected event: %+v", got)
		}
		if got.Payload["to"] != "ACTIVE" {
			t.Errorf("payload lost: %v", got.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestEventBusRejectsMissingCorrelation(t *testing.T) {
	srv := newTestServer(t)

	bus, err := NewEventBus(srv)
	if err != nil {
		t.Fatalf("failed to create event bus: %v", err)
	}
	defer bus.Close()

	ev := event.New("swarm.created", "machine", "sw-1", nil)
	ev.CorrelationID = ""
	if err := bus.Publish(ev); err == nil {
		t.Fatal("expected error for missing correlation id")
	}
}

func TestDurableEventBusRoundTrip(t *testing.T) {
	srv := newTestServer(t)

	bus, err := NewDurableEventBus(srv)
	if err != nil {
		t.Fatalf("failed to create durable bus: %v", err)
	}
	defer bus.Close()

	received := make(chan event.Event, 1)
	unsub := bus.Subscribe(func(ev event.Event) {
		received <- ev
	})
	defer unsub()

	ev := event.New("task.failed", "worker-pool", "t-1", map[string]any{"attempts": 3})
	if err := bus.Publish(ev); err != nil {
		t.Fatalf("publish error: %v", err)
	}

	select {
	case got := <-received:
		if got.Type != "task.failed" {
			t.Errorf("unexpected event: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestTopicNames(t *testing.T) {
	if got := TopicEvents("swarm.created"); got != "events.swarm.created" {
		t.Errorf("expected events.swarm.created, got %s", got)
	}
	if got := TopicSwarmEvents("sw-1"); got != "events.swarm.sw-1" {
		t.Errorf("expected events.swarm.sw-1, got %s", got)
	}
	if got := TopicTaskQueue("email"); got != "tasks.email" {
		t.Errorf("expected tasks.email, got %s", got)
	}
}
