package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"sage/pkg/protocol"
)

// CreateSuggestion persists a new suggestion row.
func (s *Store) CreateSuggestion(ctx context.Context, sg protocol.Suggestion) error {
	targets, err := json.Marshal(sg.Targets)
	if err != nil {
		return fmt.Errorf("marshal targets: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO suggestions (id, namespace, session_id, source_session_id, title, detail, category, severity, confidence, scope, targets, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sg.ID, sg.Namespace, sg.SessionID, sg.SourceSessionID, sg.Title, sg.Detail,
		sg.Category, sg.Severity, sg.Confidence, sg.Scope, string(targets), sg.Status)
	if err != nil {
		return fmt.Errorf("create suggestion: %w", err)
	}
	return nil
}

// GetSuggestion returns a suggestion by id, or nil if absent.
func (s *Store) GetSuggestion(ctx context.Context, id string) (*protocol.Suggestion, error) {
	row := s.db.QueryRowContext(ctx, suggestionSelect+` WHERE id = ?`, id)
	sg, err := scanSuggestion(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get suggestion: %w", err)
	}
	return sg, nil
}

// UpdateSuggestionStatus transitions a suggestion's status and appends the
// transition to the event log. Status changes are append-only facts: rows are
// never deleted or reopened.
func (s *Store) UpdateSuggestionStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE suggestions SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("update suggestion status: %w", err)
	}
	_ = s.LogEvent(ctx, "suggestion_"+status, "store", "", "", fmt.Sprintf(`{"id":%q}`, id))
	return nil
}

// SuggestionFilter narrows ListSuggestions.
type SuggestionFilter struct {
	Namespace string
	SessionID string
	Status    string
	Limit     int
}

// ListSuggestions returns suggestions matching the filter, newest first.
func (s *Store) ListSuggestions(ctx context.Context, f SuggestionFilter) ([]protocol.Suggestion, error) {
	var conditions []string
	var args []any
	if f.Namespace != "" {
		conditions = append(conditions, "namespace = ?")
		args = append(args, f.Namespace)
	}
	if f.SessionID != "" {
		conditions = append(conditions, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, f.Status)
	}
	q := suggestionSelect
	if len(conditions) > 0 {
		q += " WHERE " + strings.Join(conditions, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	q += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list suggestions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []protocol.Suggestion
	for rows.Next() {
		sg, err := scanSuggestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan suggestion: %w", err)
		}
		out = append(out, *sg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate suggestions: %w", err)
	}
	return out, nil
}

const suggestionSelect = `SELECT id, namespace, session_id, COALESCE(source_session_id,''), title,
	COALESCE(detail,''), COALESCE(category,''), severity, confidence, scope,
	COALESCE(targets,'[]'), status, created_at FROM suggestions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSuggestion(r rowScanner) (*protocol.Suggestion, error) {
	var sg protocol.Suggestion
	var targets string
	err := r.Scan(&sg.ID, &sg.Namespace, &sg.SessionID, &sg.SourceSessionID, &sg.Title,
		&sg.Detail, &sg.Category, &sg.Severity, &sg.Confidence, &sg.Scope,
		&targets, &sg.Status, &sg.CreatedAt)
	if err != nil {
		return nil, err
	}
	if targets != "" && targets != "[]" {
		_ = json.Unmarshal([]byte(targets), &sg.Targets)
	}
	return &sg, nil
}
