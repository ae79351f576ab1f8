package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/FISA5th-AI-Final-Team4/LLMServer/pkg/core"
)

const eventTable = "dispatch_events"

// SQLiteSink persists trace events in a SQLite database. Append-only: rows
// are written, never updated.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens (or creates) the event database at path and ensures
// the schema.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite sink path is empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening event database: %w", err)
	}
	if err := ensureEventSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteSink{db: db}, nil
}

func ensureEventSchema(db *sql.DB) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			recorded_at INTEGER NOT NULL,
			payload_json BLOB NOT NULL
		);`, eventTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_session ON %s(session_id);`, eventTable, eventTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_recorded ON %s(recorded_at);`, eventTable, eventTable),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("ensuring event schema: %w", err)
		}
	}
	return nil
}

// Write implements EventSink.
func (s *SQLiteSink) Write(ctx context.Context, event core.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		payload = []byte(fmt.Sprintf(`{"marshal_error":%q}`, err.Error()))
	}
	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (session_id, event_type, recorded_at, payload_json) VALUES (?, ?, ?, ?)`, eventTable),
		event.SessionID, string(event.Type), event.Timestamp.UnixMilli(), payload)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// Close implements EventSink.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

// SessionEvents returns the recorded events of one session in insertion
// order. Used by the trace inspection endpoint.
func (s *SQLiteSink) SessionEvents(ctx context.Context, sessionID string) ([]core.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT event_type, recorded_at, payload_json FROM %s WHERE session_id = ? ORDER BY id`, eventTable),
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []core.Event
	for rows.Next() {
		var (
			eventType  string
			recordedAt int64
			payload    []byte
		)
		if err := rows.Scan(&eventType, &recordedAt, &payload); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		event := core.Event{
			Type:      core.EventType(eventType),
			SessionID: sessionID,
			Timestamp: time.UnixMilli(recordedAt).UTC(),
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &event.Payload); err != nil {
				event.Payload = map[string]any{"raw": string(payload)}
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
