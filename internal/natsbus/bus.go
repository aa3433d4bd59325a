package natsbus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"swarmd/internal/event"
)

// EventBus is the broker-backed event.Bus. The plain variant rides core NATS
// pub/sub: at-most-once, subscribers that are not connected miss events. The
// durable variant publishes through JetStream for at-least-once delivery with
// replay. Both present the same contract; callers never see the difference.
type EventBus struct {
	client  *Client
	js      nats.JetStreamContext
	durable bool

	mu     sync.Mutex
	subs   []*nats.Subscription
	closed bool
}

// NewEventBus connects a core NATS (at-most-once) event bus.
func NewEventBus(srv *Server) (*EventBus, error) {
	client, err := NewClient(srv)
	if err != nil {
		return nil, err
	}
	return &EventBus{client: client}, nil
}

// NewDurableEventBus connects a JetStream-backed (at-least-once) event bus,
// creating the event stream if it does not exist.
func NewDurableEventBus(srv *Server) (*EventBus, error) {
	client, err := NewClient(srv)
	if err != nil {
		return nil, err
	}

	js, err := client.JetStream()
	if err != nil {
		client.Close()
		return nil, err
	}

	_, err = js.StreamInfo(EventStreamName)
	if err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     EventStreamName,
			Subjects: []string{EventStreamSubject},
			Storage:  nats.FileStorage,
		})
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("create event stream: %w", err)
		}
	}

	return &EventBus{client: client, js: js, durable: true}, nil
}

func (b *EventBus) Publish(ev event.Event) error {
	if ev.CorrelationID == "" {
		return fmt.Errorf("event %s has no correlation id", ev.ID)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	topic := TopicEvents(ev.Type)
	if b.durable {
		if _, err := b.js.Publish(topic, data); err != nil {
			return fmt.Errorf("publish event: %w", err)
		}
		return nil
	}
	if err := b.client.Publish(topic, data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (b *EventBus) Subscribe(fn func(ev event.Event)) func() {
	handler := func(msg *nats.Msg) {
		var ev event.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			slog.Warn("invalid event payload", "subject", msg.Subject, "error", err)
			return
		}
		fn(ev)
		if b.durable {
			_ = msg.Ack()
		}
	}

	var sub *nats.Subscription
	var err error
	if b.durable {
		sub, err = b.js.Subscribe(EventStreamSubject, handler,
			nats.DeliverNew(), nats.ManualAck())
	} else {
		sub, err = b.client.Subscribe(TopicEventsAll, handler)
	}
	if err != nil {
		slog.Error("event subscribe failed", "error", err)
		return func() {}
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return func() {
		_ = sub.Unsubscribe()
	}
}

// Close flushes pending publishes and drops the connection. Idempotent.
func (b *EventBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	_ = b.client.Flush()
	b.client.Close()
	return nil
}
