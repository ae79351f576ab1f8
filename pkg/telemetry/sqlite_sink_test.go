package telemetry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/FISA5th-AI-Final-Team4/LLMServer/pkg/core"
)

func TestSQLiteSinkRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	sink, err := NewSQLiteSink(path)
	if err != nil {
		t.Fatalf("NewSQLiteSink failed: %v", err)
	}
	defer sink.Close()

	ctx := context.Background()
	events := []core.Event{
		core.NewEvent(core.EventModelCallStarted, "session-1", map[string]any{"phase": "decision"}),
		core.NewEvent(core.EventToolCallCompleted, "session-1", map[string]any{"tool_name": "get_weather"}),
		core.NewEvent(core.EventDispatchCompleted, "session-2", map[string]any{"status": "OK"}),
	}
	for _, event := range events {
		if err := sink.Write(ctx, event); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	got, err := sink.SessionEvents(ctx, "session-1")
	if err != nil {
		t.Fatalf("SessionEvents failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].Type != core.EventModelCallStarted || got[1].Type != core.EventToolCallCompleted {
		t.Errorf("wrong order: %s, %s", got[0].Type, got[1].Type)
	}
	if got[1].Payload["tool_name"] != "get_weather" {
		t.Errorf("payload = %v", got[1].Payload)
	}
	if got[0].Timestamp.IsZero() || time.Since(got[0].Timestamp) > time.Minute {
		t.Errorf("timestamp not preserved: %v", got[0].Timestamp)
	}
}

func TestSQLiteSinkUnknownSession(t *testing.T) {
	sink, err := NewSQLiteSink(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("NewSQLiteSink failed: %v", err)
	}
	defer sink.Close()

	got, err := sink.SessionEvents(context.Background(), "nope")
	if err != nil {
		t.Fatalf("SessionEvents failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d events, want 0", len(got))
	}
}

func TestSQLiteSinkEmptyPath(t *testing.T) {
	if _, err := NewSQLiteSink(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
