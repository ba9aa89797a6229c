// Package directory defines the session directory interface the sage core
// consumes: the source of truth for live sessions and machines, the spawn
// and messaging transport, and the lifecycle event stream. The production
// implementation is an external service; this package ships an HTTP client
// adapter and the event types shared with the core.
package directory

import (
	"context"

	"sage/pkg/protocol"
)

// EventKind classifies a lifecycle or message event.
type EventKind string

// Event kind constants. The synthetic kinds are emitted by the engine itself
// via Emit to broadcast suggestion and review results to session UIs.
const (
	EventMessage           EventKind = "message"
	EventSessionStarted    EventKind = "session_started"
	EventSessionEnded      EventKind = "session_ended"
	EventThinkingStarted   EventKind = "thinking_started"
	EventThinkingCompleted EventKind = "thinking_completed"

	EventIdleSuggestions EventKind = "idle_suggestions" // synthetic
	EventReviewResult    EventKind = "review_result"    // synthetic
	EventReviewError     EventKind = "review_error"     // synthetic
)

// Event is one entry in the directory's lifecycle/message stream.
type Event struct {
	Kind      EventKind                 `json:"kind"`
	Namespace string                    `json:"namespace"`
	SessionID string                    `json:"session_id"`
	Message   *protocol.Message         `json:"message,omitempty"`
	Chips     []protocol.SuggestionChip `json:"chips,omitempty"`
	Detail    string                    `json:"detail,omitempty"`
}

// SpawnOptions carries the optional knobs for a spawn request.
type SpawnOptions struct {
	SessionID      string `json:"session_id,omitempty"` // requested id; the directory may assign another
	Role           string `json:"role,omitempty"`
	PermissionMode string `json:"permission_mode,omitempty"`
	WorktreeName   string `json:"worktree_name,omitempty"`
	AutoAccept     bool   `json:"auto_accept,omitempty"`
}

// SpawnRequest asks the directory to start a session on a machine.
type SpawnRequest struct {
	Namespace string       `json:"namespace"`
	MachineID string       `json:"machine_id"`
	WorkDir   string       `json:"work_dir"`
	AgentKind string       `json:"agent_kind"`
	Yolo      bool         `json:"yolo"`
	Type      string       `json:"type,omitempty"`
	Options   SpawnOptions `json:"options"`
}

// SpawnResult is the directory's answer to a spawn request.
type SpawnResult struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Directory is the session transport layer consumed by the core. All methods
// take a context; implementations must honor cancellation on blocking calls.
type Directory interface {
	// GetSession returns a session by id, or a *protocol.SessionNotFoundError.
	GetSession(ctx context.Context, id string) (*protocol.Session, error)

	// ActiveSessions lists non-ended sessions in a namespace.
	ActiveSessions(ctx context.Context, namespace string) ([]protocol.Session, error)

	// OnlineMachines lists machines currently online in a namespace.
	OnlineMachines(ctx context.Context, namespace string) ([]protocol.Machine, error)

	// Spawn starts a session. A non-nil error means the request never
	// reached the directory; a !Success result carries the reason.
	Spawn(ctx context.Context, req SpawnRequest) (SpawnResult, error)

	// SendMessage delivers text into a session, tagged with the sender.
	SendMessage(ctx context.Context, sessionID, text, sender string) error

	// MessagesAfter fetches up to limit messages with seq > after.
	MessagesAfter(ctx context.Context, sessionID string, after int64, limit int) ([]protocol.Message, error)

	// Subscribe returns a channel of lifecycle/message events. The channel
	// is closed when ctx is cancelled.
	Subscribe(ctx context.Context) (<-chan Event, error)

	// Emit broadcasts a synthetic event (idle suggestions, review results)
	// back through the directory's stream.
	Emit(ctx context.Context, ev Event) error
}
