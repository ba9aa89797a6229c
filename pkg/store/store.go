// Package store provides sqlite persistence for the sage engine: the advisor
// liveness record, suggestions, durable memories with FTS5 search, per-session
// summarization cursors, feedback records, and the durable event log.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"sage/pkg/protocol"

	_ "modernc.org/sqlite"
)

// Store wraps the sage state database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the sqlite database at path with production-safe
// defaults (WAL journal mode, 5s busy timeout) and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	ctx := context.Background()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode on %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout on %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, protocol.SchemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// New wraps an already-open database. The caller is responsible for schema.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// LogEvent appends one row to the durable event log. Failures are returned
// but callers on fire-and-forget paths typically discard them.
func (s *Store) LogEvent(ctx context.Context, evType, source, sessionID, taskID, payload string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (type, source, session_id, task_id, payload) VALUES (?, ?, ?, ?, ?)`,
		evType, source, sessionID, taskID, payload)
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}

// RecentEvents returns the newest limit rows from the event log.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]EventRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, source, COALESCE(session_id,''), COALESCE(task_id,''), COALESCE(payload,''), created_at
		 FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(&e.ID, &e.Type, &e.Source, &e.SessionID, &e.TaskID, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// EventRow is a row in the events table.
type EventRow struct {
	ID        int64
	Type      string
	Source    string
	SessionID string
	TaskID    string
	Payload   string
	CreatedAt string
}

// --- Advisor liveness ---

// GetLiveness returns the advisor liveness record for a namespace, or nil if
// none has been created yet.
func (s *Store) GetLiveness(ctx context.Context, namespace string) (*protocol.AdvisorLiveness, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT advisor_session_id, COALESCE(machine_id,''), status, last_seen, initialized
		 FROM advisor_liveness WHERE namespace = ?`, namespace)

	var rec protocol.AdvisorLiveness
	var lastSeen string
	var initialized int
	err := row.Scan(&rec.AdvisorSessionID, &rec.MachineID, &rec.Status, &lastSeen, &initialized)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get liveness: %w", err)
	}
	rec.Namespace = namespace
	rec.Initialized = initialized != 0
	rec.LastSeen, _ = time.Parse(time.DateTime, lastSeen)
	return &rec, nil
}

// UpsertLiveness overwrites the advisor liveness record for a namespace.
// The scheduler is the only caller.
func (s *Store) UpsertLiveness(ctx context.Context, rec protocol.AdvisorLiveness) error {
	initialized := 0
	if rec.Initialized {
		initialized = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO advisor_liveness (namespace, advisor_session_id, machine_id, status, last_seen, initialized)
		 VALUES (?, ?, ?, ?, datetime('now'), ?)
		 ON CONFLICT(namespace) DO UPDATE SET
		   advisor_session_id=excluded.advisor_session_id,
		   machine_id=excluded.machine_id,
		   status=excluded.status,
		   last_seen=excluded.last_seen,
		   initialized=excluded.initialized`,
		rec.Namespace, rec.AdvisorSessionID, rec.MachineID, string(rec.Status), initialized)
	if err != nil {
		return fmt.Errorf("upsert liveness: %w", err)
	}
	return nil
}

// MarkAdvisorInitialized records that the init prompt has been sent to the
// current advisor session id.
func (s *Store) MarkAdvisorInitialized(ctx context.Context, namespace string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE advisor_liveness SET initialized=1 WHERE namespace=?`, namespace)
	if err != nil {
		return fmt.Errorf("mark advisor initialized: %w", err)
	}
	return nil
}

// --- Feedback and session tags ---

// CreateFeedback records a feedback message pushed to the advisor.
func (s *Store) CreateFeedback(ctx context.Context, namespace, sessionID, taskID, kind, body string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feedback (namespace, session_id, task_id, kind, body) VALUES (?, ?, ?, ?, ?)`,
		namespace, sessionID, taskID, kind, body)
	if err != nil {
		return fmt.Errorf("create feedback: %w", err)
	}
	return nil
}

// TagSessionTask records which task owns a spawned session.
func (s *Store) TagSessionTask(ctx context.Context, sessionID, taskID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_tasks (session_id, task_id) VALUES (?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET task_id=excluded.task_id, tagged_at=datetime('now')`,
		sessionID, taskID)
	if err != nil {
		return fmt.Errorf("tag session task: %w", err)
	}
	return nil
}
