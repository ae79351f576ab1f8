package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FISA5th-AI-Final-Team4/LLMServer/pkg/core"
)

// sinkWriteTimeout bounds one sink write so a stuck sink cannot stall the
// drain worker forever.
const sinkWriteTimeout = 2 * time.Second

// EventSink persists trace events. Sink failures are logged and swallowed:
// tracing is best-effort and must never affect a dispatch.
type EventSink interface {
	Write(ctx context.Context, event core.Event) error
	Close() error
}

// SlogSink writes trace events to a structured logger.
type SlogSink struct {
	Logger *slog.Logger
}

// Write implements EventSink.
func (s SlogSink) Write(ctx context.Context, event core.Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "trace event",
		"event_type", string(event.Type),
		"session_id", event.SessionID,
		"timestamp", event.Timestamp.Format(time.RFC3339Nano),
		"payload", event.Payload)
	return nil
}

// Close implements EventSink.
func (s SlogSink) Close() error { return nil }

// Emitter is a best-effort trace event emitter. Record never blocks: events
// go into a bounded queue and a single drain worker writes them to the
// sinks. When the queue is full the event is dropped and counted.
type Emitter struct {
	mu     sync.RWMutex
	queue  chan core.Event
	sinks  []EventSink
	logger *slog.Logger

	closed  bool
	done    chan struct{}
	dropped atomic.Int64
}

// NewEmitter creates an Emitter and starts its drain worker.
func NewEmitter(queueSize int, logger *slog.Logger, sinks ...EventSink) *Emitter {
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Emitter{
		queue:  make(chan core.Event, queueSize),
		sinks:  sinks,
		logger: logger,
		done:   make(chan struct{}),
	}
	go e.drain()
	return e
}

// Record implements core.EventEmitter. Never blocks the caller.
func (e *Emitter) Record(_ context.Context, event core.Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}
	select {
	case e.queue <- event:
	default:
		e.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (e *Emitter) Dropped() int64 {
	return e.dropped.Load()
}

// Close stops accepting events, drains what is queued, and closes the
// sinks. The context bounds the drain.
func (e *Emitter) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	select {
	case <-e.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	for _, sink := range e.sinks {
		if err := sink.Close(); err != nil {
			e.logger.Warn("trace sink close failed", "error", err)
		}
	}
	if n := e.dropped.Load(); n > 0 {
		e.logger.Warn("trace events were dropped", "count", n)
	}
	return nil
}

func (e *Emitter) drain() {
	defer close(e.done)
	for event := range e.queue {
		for _, sink := range e.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), sinkWriteTimeout)
			if err := sink.Write(ctx, event); err != nil {
				e.logger.Warn("trace sink write failed",
					"event_type", string(event.Type),
					"error", err)
			}
			cancel()
		}
	}
}
