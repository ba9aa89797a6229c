// Package protocol defines the shared domain types for the sage advisor
// engine: sessions, machines, messages, suggestions, memories, session
// summaries, action requests, and the directive wire format embedded in
// advisor output.
package protocol

import "time"

// SessionStatus represents the lifecycle state of a session as reported by
// the session directory.
type SessionStatus string

// Session status constants.
const (
	SessionActive   SessionStatus = "active"
	SessionThinking SessionStatus = "thinking"
	SessionIdle     SessionStatus = "idle"
	SessionEnded    SessionStatus = "ended"
)

// Session roles.
const (
	RoleAdvisor = "advisor"
	RoleWorker  = "worker"
)

// SenderTag marks messages sent by the orchestration layer itself so the
// ingestion path can ignore them (loop prevention).
const SenderTag = "sage-engine"

// Session is a live worker or advisor session in the directory.
type Session struct {
	ID        string        `json:"id"`
	Namespace string        `json:"namespace"`
	MachineID string        `json:"machine_id"`
	WorkDir   string        `json:"work_dir"`
	AgentKind string        `json:"agent_kind"`
	Role      string        `json:"role,omitempty"` // advisor | worker
	Status    SessionStatus `json:"status"`
	TaskID    string        `json:"task_id,omitempty"` // owning task, if spawned by a directive
	LastSeq   int64         `json:"last_seq"`
}

// Machine is a host the directory can spawn sessions on.
type Machine struct {
	ID        string `json:"id"`
	Namespace string `json:"namespace"`
	WorkDir   string `json:"work_dir"`
	Online    bool   `json:"online"`
}

// Message is a single entry in a session's message history.
type Message struct {
	Seq       int64     `json:"seq"`
	SessionID string    `json:"session_id"`
	Sender    string    `json:"sender"`
	Role      string    `json:"role"` // user | assistant | system
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// LivenessStatus represents the advisor liveness record state.
type LivenessStatus string

// Liveness status constants.
const (
	LivenessRunning LivenessStatus = "running"
	LivenessIdle    LivenessStatus = "idle"
	LivenessError   LivenessStatus = "error"
)

// AdvisorLiveness is the per-namespace advisor liveness record. The
// scheduler is its only writer; it is overwritten on every transition and
// never deleted.
type AdvisorLiveness struct {
	Namespace        string         `json:"namespace"`
	AdvisorSessionID string         `json:"advisor_session_id"`
	MachineID        string         `json:"machine_id"`
	Status           LivenessStatus `json:"status"`
	LastSeen         time.Time      `json:"last_seen"`
	Initialized      bool           `json:"initialized"` // init prompt already sent to this session id
}

// ChipCategory classifies an ephemeral suggestion chip.
type ChipCategory string

// Chip category constants.
const (
	ChipTodoCheck     ChipCategory = "todo_check"
	ChipErrorAnalysis ChipCategory = "error_analysis"
	ChipCodeReview    ChipCategory = "code_review"
	ChipGeneral       ChipCategory = "general"
)

// SuggestionChip is an ephemeral suggested next action surfaced to a
// session's UI. Broadcast only, never persisted.
type SuggestionChip struct {
	ID       string       `json:"id"`
	Label    string       `json:"label"`
	Text     string       `json:"text"`
	Category ChipCategory `json:"category"`
	Icon     string       `json:"icon,omitempty"`
}

// Suggestion severity levels.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Suggestion scopes.
const (
	ScopeSession = "session"
	ScopeProject = "project"
	ScopeTeam    = "team"
	ScopeGlobal  = "global"
)

// Suggestion statuses. Transitions are append-only facts: a suggestion is
// never physically reopened.
const (
	SuggestionPending    = "pending"
	SuggestionAccepted   = "accepted"
	SuggestionRejected   = "rejected"
	SuggestionStale      = "stale"
	SuggestionSuperseded = "superseded"
)

// Suggestion is a persisted advisor suggestion.
type Suggestion struct {
	ID              string   `json:"id"`
	Namespace       string   `json:"namespace"`
	SessionID       string   `json:"session_id"`
	SourceSessionID string   `json:"source_session_id,omitempty"`
	Title           string   `json:"title"`
	Detail          string   `json:"detail"`
	Category        string   `json:"category"`
	Severity        string   `json:"severity"`
	Confidence      float64  `json:"confidence"`
	Scope           string   `json:"scope"`
	Targets         []string `json:"targets,omitempty"`
	Status          string   `json:"status"`
	CreatedAt       string   `json:"created_at"`
}

// MemoryType classifies a durable memory.
type MemoryType string

// Memory type constants.
const (
	MemoryContext    MemoryType = "context"
	MemoryPreference MemoryType = "preference"
	MemoryKnowledge  MemoryType = "knowledge"
	MemoryExperience MemoryType = "experience"
)

// Memory is a durable fact mined from session summaries or issued directly
// by an advisor directive.
type Memory struct {
	ID         string         `json:"id"`
	Namespace  string         `json:"namespace"`
	ProfileID  string         `json:"profile_id"`
	Type       MemoryType     `json:"type"`
	Content    string         `json:"content"`
	Importance float64        `json:"importance"` // [0,1]
	ExpiresAt  string         `json:"expires_at,omitempty"`
	Metadata   MemoryMetadata `json:"metadata"`
	CreatedAt  string         `json:"created_at"`
}

// MemoryMetadata carries provenance for an extracted memory.
type MemoryMetadata struct {
	Source      string   `json:"source"`
	SessionID   string   `json:"session_id,omitempty"`
	ExtractedAt string   `json:"extracted_at,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
}

// TodoEntry is the compact todo representation carried in a session summary.
// Status is a single character: "x" done, ">" in progress, " " pending.
type TodoEntry struct {
	Status string `json:"s"`
	Title  string `json:"t"`
}

// SessionSummary is the incrementally rebuilt digest of a session's recent
// activity, persisted alongside the summarization cursor so the next build
// only scans new messages.
type SessionSummary struct {
	SessionID      string      `json:"session_id"`
	Namespace      string      `json:"namespace"`
	WorkDir        string      `json:"work_dir"`
	Project        string      `json:"project"`
	RecentActivity string      `json:"recent_activity"`
	CodeChanges    []string    `json:"code_changes,omitempty"`
	Errors         []string    `json:"errors,omitempty"`
	Decisions      []string    `json:"decisions,omitempty"`
	Todos          []TodoEntry `json:"todos,omitempty"`
	MessageCount   int         `json:"message_count"`
	LastMessageSeq int64       `json:"last_message_seq"`
	Timestamp      time.Time   `json:"timestamp"`
}

// Action step types.
const (
	StepCommand = "command"
	StepEdit    = "edit"
	StepCreate  = "create"
	StepDelete  = "delete"
	StepMessage = "message"
)

// ActionStep is a single step of an approved action.
type ActionStep struct {
	Type    string `json:"type"` // command | edit | create | delete | message
	Target  string `json:"target,omitempty"`
	Content string `json:"content,omitempty"`
}

// ActionRequest is transient input to the execution engine.
type ActionRequest struct {
	ActionType      string       `json:"action_type"`
	Steps           []ActionStep `json:"steps"`
	Reason          string       `json:"reason"`
	ExpectedOutcome string       `json:"expected_outcome"`
	WorkingDir      string       `json:"working_dir,omitempty"`
	RiskLevel       string       `json:"risk_level"`
	Reversible      bool         `json:"reversible"`
	Confidence      float64      `json:"confidence"`
}

// RollbackData records the original-state snapshot for a reversible action.
// It captures step metadata only; rollback is advisory (the worker session is
// asked to undo), not transactional.
type RollbackData struct {
	Timestamp time.Time    `json:"timestamp"`
	SessionID string       `json:"session_id"`
	Steps     []ActionStep `json:"steps"`
}
