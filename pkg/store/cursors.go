package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"sage/pkg/protocol"
)

// Cursor holds a session's summarization position and the previous summary
// the next build inherits from.
type Cursor struct {
	SessionID string
	Namespace string
	LastSeq   int64
	Summary   *protocol.SessionSummary // nil when no summary has been built yet
}

// GetCursor returns a session's cursor, or a zero cursor when the session has
// never been summarized.
func (s *Store) GetCursor(ctx context.Context, sessionID string) (Cursor, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT namespace, last_seq, COALESCE(summary,'') FROM session_cursors WHERE session_id = ?`,
		sessionID)

	c := Cursor{SessionID: sessionID}
	var summary string
	err := row.Scan(&c.Namespace, &c.LastSeq, &summary)
	if err == sql.ErrNoRows {
		return c, nil
	}
	if err != nil {
		return Cursor{}, fmt.Errorf("get cursor: %w", err)
	}
	if summary != "" {
		var sum protocol.SessionSummary
		if err := json.Unmarshal([]byte(summary), &sum); err == nil {
			c.Summary = &sum
		}
	}
	return c, nil
}

// UpsertCursor advances a session's cursor and stores the JSON-encoded
// summary alongside it. The cursor always advances even when delivery to the
// advisor was suppressed, so messages are never re-scanned.
func (s *Store) UpsertCursor(ctx context.Context, c Cursor) error {
	var summary string
	if c.Summary != nil {
		b, err := json.Marshal(c.Summary)
		if err != nil {
			return fmt.Errorf("marshal summary: %w", err)
		}
		summary = string(b)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_cursors (session_id, namespace, last_seq, summary, updated_at)
		 VALUES (?, ?, ?, NULLIF(?, ''), datetime('now'))
		 ON CONFLICT(session_id) DO UPDATE SET
		   namespace=excluded.namespace,
		   last_seq=excluded.last_seq,
		   summary=excluded.summary,
		   updated_at=excluded.updated_at`,
		c.SessionID, c.Namespace, c.LastSeq, summary)
	if err != nil {
		return fmt.Errorf("upsert cursor: %w", err)
	}
	return nil
}
