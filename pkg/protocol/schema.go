package protocol

// SchemaDDL defines the SQLite schema for the sage state database.
// Tables: events, advisor_liveness, suggestions, memories, memories_fts
// (FTS5), session_cursors, feedback, session_tasks.
// Execute against a SQLite database with: db.Exec(SchemaDDL)
const SchemaDDL = `
-- Durable event log: scheduler/service lifecycle and dispatch events
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY,
    type TEXT NOT NULL,
    source TEXT NOT NULL,
    session_id TEXT,
    task_id TEXT,
    payload TEXT,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

-- Advisor liveness record, one row per namespace. Scheduler is the only writer.
CREATE TABLE IF NOT EXISTS advisor_liveness (
    namespace TEXT PRIMARY KEY,
    advisor_session_id TEXT NOT NULL,
    machine_id TEXT,
    status TEXT NOT NULL,
    last_seen TEXT NOT NULL DEFAULT (datetime('now')),
    initialized INTEGER NOT NULL DEFAULT 0
);

-- Persisted advisor suggestions
CREATE TABLE IF NOT EXISTS suggestions (
    id TEXT PRIMARY KEY,
    namespace TEXT NOT NULL,
    session_id TEXT NOT NULL,
    source_session_id TEXT,
    title TEXT NOT NULL,
    detail TEXT,
    category TEXT,
    severity TEXT NOT NULL DEFAULT 'low',
    confidence REAL NOT NULL DEFAULT 0.5,
    scope TEXT NOT NULL DEFAULT 'session',
    targets TEXT DEFAULT '[]',
    status TEXT NOT NULL DEFAULT 'pending',
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

-- Durable memories mined from session summaries or issued by directives
CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    namespace TEXT NOT NULL,
    profile_id TEXT NOT NULL,
    type TEXT NOT NULL,
    content TEXT NOT NULL,
    importance REAL NOT NULL DEFAULT 0.5,
    expires_at TEXT,
    source TEXT,
    session_id TEXT,
    extracted_at TEXT,
    keywords TEXT DEFAULT '[]',
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

-- FTS5 full-text index over memories for BM25-ranked similarity search
CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
    content,
    keywords,
    content=memories
);

-- Triggers to keep FTS index in sync with memories table
CREATE TRIGGER IF NOT EXISTS memories_ai AFTER INSERT ON memories BEGIN
    INSERT INTO memories_fts(rowid, content, keywords) VALUES (new.rowid, new.content, new.keywords);
END;

CREATE TRIGGER IF NOT EXISTS memories_ad AFTER DELETE ON memories BEGIN
    INSERT INTO memories_fts(memories_fts, rowid, content, keywords) VALUES ('delete', old.rowid, old.content, old.keywords);
END;

CREATE TRIGGER IF NOT EXISTS memories_au AFTER UPDATE ON memories BEGIN
    INSERT INTO memories_fts(memories_fts, rowid, content, keywords) VALUES ('delete', old.rowid, old.content, old.keywords);
    INSERT INTO memories_fts(rowid, content, keywords) VALUES (new.rowid, new.content, new.keywords);
END;

-- Per-session summarization cursor plus the JSON-encoded previous summary
CREATE TABLE IF NOT EXISTS session_cursors (
    session_id TEXT PRIMARY KEY,
    namespace TEXT NOT NULL,
    last_seq INTEGER NOT NULL DEFAULT 0,
    summary TEXT,
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

-- Feedback records pushed to the advisor (task questions, terminal states)
CREATE TABLE IF NOT EXISTS feedback (
    id INTEGER PRIMARY KEY,
    namespace TEXT NOT NULL,
    session_id TEXT,
    task_id TEXT,
    kind TEXT NOT NULL,
    body TEXT NOT NULL,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

-- Session-to-task ownership tags
CREATE TABLE IF NOT EXISTS session_tasks (
    session_id TEXT PRIMARY KEY,
    task_id TEXT NOT NULL,
    tagged_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`
