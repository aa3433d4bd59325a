package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Source identifies where an event originated.
type Source struct {
	Tier      string `json:"tier"`
	Component string `json:"component"`
	Instance  string `json:"instance,omitempty"`
}

// Event is an immutable fact. CorrelationID groups causally related events;
// CausationID points at the event that directly caused this one.
type Event struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Source        Source         `json:"source"`
	CorrelationID string         `json:"correlation_id"`
	CausationID   string         `json:"causation_id,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// Builder assembles events and refuses to build incomplete ones.
type Builder struct {
	ev Event
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) ID(id string) *Builder {
	b.ev.ID = id
	return b
}

func (b *Builder) Type(t string) *Builder {
	b.ev.Type = t
	return b
}

func (b *Builder) Source(tier, component, instance string) *Builder {
	b.ev.Source = Source{Tier: tier, Component: component, Instance: instance}
	return b
}

func (b *Builder) CorrelationID(id string) *Builder {
	b.ev.CorrelationID = id
	return b
}

func (b *Builder) CausationID(id string) *Builder {
	b.ev.CausationID = id
	return b
}

func (b *Builder) Payload(p map[string]any) *Builder {
	b.ev.Payload = p
	return b
}

// Build validates required fields and stamps the timestamp.
func (b *Builder) Build() (Event, error) {
	switch {
	case b.ev.ID == "":
		return Event{}, fmt.Errorf("event id is required")
	case b.ev.Type == "":
		return Event{}, fmt.Errorf("event type is required")
	case b.ev.Source.Component == "":
		return Event{}, fmt.Errorf("event source is required")
	case b.ev.CorrelationID == "":
		return Event{}, fmt.Errorf("event correlation id is required")
	}
	if b.ev.Timestamp.IsZero() {
		b.ev.Timestamp = time.Now().UTC()
	}
	return b.ev, nil
}

// New is the common case: a fresh event with a generated id from a component.
func New(eventType, component, correlationID string, payload map[string]any) Event {
	return Event{
		ID:            uuid.New().String(),
		Type:          eventType,
		Source:        Source{Tier: "core", Component: component},
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
		Payload:       payload,
	}
}

// Caused derives a child event from a parent, inheriting its correlation id.
func Caused(parent Event, eventType, component string, payload map[string]any) Event {
	ev := New(eventType, component, parent.CorrelationID, payload)
	ev.CausationID = parent.ID
	return ev
}
