package protocol

import "fmt"

// NoMachineError reports that no online machine was available for a spawn.
// This is an expected, recoverable condition: callers schedule a retry
// rather than failing.
type NoMachineError struct {
	Namespace string
}

func (e *NoMachineError) Error() string {
	return fmt.Sprintf("no online machine in namespace %s", e.Namespace)
}

// SessionNotFoundError reports a session lookup failure.
type SessionNotFoundError struct {
	SessionID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session %s not found", e.SessionID)
}

// SpawnError reports a session spawn failure with the directory's message.
type SpawnError struct {
	MachineID string
	Reason    string
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn on machine %s failed: %s", e.MachineID, e.Reason)
}

// ReviewTimeoutError reports that an external reviewer call exceeded its
// deadline. Treated as a normal negative result, not a fault.
type ReviewTimeoutError struct {
	SessionID string
}

func (e *ReviewTimeoutError) Error() string {
	return fmt.Sprintf("review for session %s timed out", e.SessionID)
}
