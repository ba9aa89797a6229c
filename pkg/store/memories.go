package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"sage/pkg/protocol"
)

// CreateMemory persists a new memory row.
func (s *Store) CreateMemory(ctx context.Context, m protocol.Memory) error {
	keywords, err := json.Marshal(m.Metadata.Keywords)
	if err != nil {
		return fmt.Errorf("marshal keywords: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memories (id, namespace, profile_id, type, content, importance, expires_at, source, session_id, extracted_at, keywords)
		 VALUES (?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?)`,
		m.ID, m.Namespace, m.ProfileID, string(m.Type), m.Content, m.Importance,
		m.ExpiresAt, m.Metadata.Source, m.Metadata.SessionID, m.Metadata.ExtractedAt, string(keywords))
	if err != nil {
		return fmt.Errorf("create memory: %w", err)
	}
	return nil
}

// GetMemory returns a memory by id, or nil if absent.
func (s *Store) GetMemory(ctx context.Context, id string) (*protocol.Memory, error) {
	row := s.db.QueryRowContext(ctx, memorySelect+` WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return m, nil
}

// MemorySearchOpts configures SearchMemories.
type MemorySearchOpts struct {
	ProfileID string
	Type      protocol.MemoryType
	Limit     int // default 10
}

// SearchMemories performs an FTS5 BM25-ranked search over memory contents,
// optionally filtered by profile and type. Expired memories are excluded.
func (s *Store) SearchMemories(ctx context.Context, query string, opts MemorySearchOpts) ([]protocol.Memory, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	conditions := []string{"memories_fts MATCH ?"}
	args := []any{protocol.SanitizeFTS5Query(query)}

	if opts.ProfileID != "" {
		conditions = append(conditions, "m.profile_id = ?")
		args = append(args, opts.ProfileID)
	}
	if opts.Type != "" {
		conditions = append(conditions, "m.type = ?")
		args = append(args, string(opts.Type))
	}
	conditions = append(conditions, "(m.expires_at IS NULL OR m.expires_at > datetime('now'))")

	q := fmt.Sprintf(`
		SELECT m.id, m.namespace, m.profile_id, m.type, m.content, m.importance,
		       COALESCE(m.expires_at,''), COALESCE(m.source,''), COALESCE(m.session_id,''),
		       COALESCE(m.extracted_at,''), COALESCE(m.keywords,'[]'), m.created_at
		FROM memories_fts
		JOIN memories m ON memories_fts.rowid = m.rowid
		WHERE %s
		ORDER BY bm25(memories_fts), m.importance DESC
		LIMIT ?`, strings.Join(conditions, " AND "))
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []protocol.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}
	return out, nil
}

// UpdateMemory replaces a memory's content, importance, and expiry in place.
// Used by the extractor's dedup-on-merge path.
func (s *Store) UpdateMemory(ctx context.Context, id, content string, importance float64, expiresAt string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET content = ?, importance = ?, expires_at = NULLIF(?, '') WHERE id = ?`,
		content, importance, expiresAt, id)
	if err != nil {
		return fmt.Errorf("update memory: %w", err)
	}
	return nil
}

// ProfileMemoryOpts filters ListProfileMemories.
type ProfileMemoryOpts struct {
	MinImportance float64
	Limit         int // default 50
}

// ListProfileMemories returns a profile's unexpired memories ordered by
// importance descending, subject to a minimum-importance floor and a limit.
func (s *Store) ListProfileMemories(ctx context.Context, profileID string, opts ProfileMemoryOpts) ([]protocol.Memory, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, memorySelect+`
		WHERE profile_id = ? AND importance >= ?
		  AND (expires_at IS NULL OR expires_at > datetime('now'))
		ORDER BY importance DESC, created_at DESC
		LIMIT ?`, profileID, opts.MinImportance, limit)
	if err != nil {
		return nil, fmt.Errorf("list profile memories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []protocol.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}
	return out, nil
}

const memorySelect = `SELECT id, namespace, profile_id, type, content, importance,
	COALESCE(expires_at,''), COALESCE(source,''), COALESCE(session_id,''),
	COALESCE(extracted_at,''), COALESCE(keywords,'[]'), created_at FROM memories`

func scanMemory(r rowScanner) (*protocol.Memory, error) {
	var m protocol.Memory
	var keywords string
	err := r.Scan(&m.ID, &m.Namespace, &m.ProfileID, &m.Type, &m.Content, &m.Importance,
		&m.ExpiresAt, &m.Metadata.Source, &m.Metadata.SessionID,
		&m.Metadata.ExtractedAt, &keywords, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	if keywords != "" && keywords != "[]" {
		_ = json.Unmarshal([]byte(keywords), &m.Metadata.Keywords)
	}
	return &m, nil
}
