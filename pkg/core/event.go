// Package core holds the shared types of the dispatch server: trace events
// emitted along the dispatch path and health primitives for the readiness
// endpoint.
package core

import (
	"context"
	"time"
)

// EventType identifies a step observed during one dispatch.
type EventType string

const (
	EventModelCallStarted   EventType = "model.call.started"
	EventModelCallCompleted EventType = "model.call.completed"
	EventToolCallStarted    EventType = "tool.call.started"
	EventToolCallCompleted  EventType = "tool.call.completed"
	EventToolCallFailed     EventType = "tool.call.failed"
	EventDispatchCompleted  EventType = "dispatch.completed"
)

// Event captures one structured observation of a dispatch step. SessionID is
// the correlation id: every event of one dispatch carries the same value.
type Event struct {
	Type      EventType
	SessionID string
	Timestamp time.Time
	Payload   map[string]any
}

// EventEmitter receives dispatch trace events. Implementations must never
// block the caller and must swallow sink failures.
type EventEmitter interface {
	Record(ctx context.Context, event Event)
}

// NoopEventEmitter is a default no-op implementation.
type NoopEventEmitter struct{}

// Record implements EventEmitter.
func (NoopEventEmitter) Record(_ context.Context, _ Event) {}

// Fanout delivers each event to every emitter in order.
type Fanout []EventEmitter

// Record implements EventEmitter.
func (f Fanout) Record(ctx context.Context, event Event) {
	for _, emitter := range f {
		emitter.Record(ctx, event)
	}
}

// NewEvent builds an event stamped with the current UTC time.
func NewEvent(eventType EventType, sessionID string, payload map[string]any) Event {
	return Event{
		Type:      eventType,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}
