package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	// EventLLMStream is the single fixed topic carrying every CanonicalEvent.
	EventLLMStream EventType = "llm-stream"

	// EventConfigChanged is published after the default provider changes.
	EventConfigChanged EventType = "config.changed"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	StreamID  StreamID        `json:"stream_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers without waiting for them.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}

// EventSink is the one-way destination of canonical events. Publish must be
// safe for concurrent use and must not block on slow consumers.
type EventSink interface {
	Publish(ctx context.Context, topic EventType, event CanonicalEvent)
}

// BusSink adapts an EventBus into an EventSink by wrapping each
// CanonicalEvent in an Event envelope.
type BusSink struct {
	Bus EventBus
}

// Publish implements EventSink.
func (s BusSink) Publish(ctx context.Context, topic EventType, ev CanonicalEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	s.Bus.Publish(ctx, Event{
		Type:      topic,
		Timestamp: time.Now(),
		StreamID:  ev.StreamID,
		Payload:   payload,
	})
}

// DecodeCanonical extracts the CanonicalEvent carried by an EventLLMStream envelope.
func DecodeCanonical(event Event) (CanonicalEvent, error) {
	var ev CanonicalEvent
	err := json.Unmarshal(event.Payload, &ev)
	return ev, err
}
