// Package execution turns an advisor-approved action request into a
// dedicated worker session with rollback bookkeeping. Rollback is advisory:
// the engine records step metadata only and asks the original session to
// undo, it does not revert state programmatically.
package execution

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sage/pkg/directory"
	"sage/pkg/protocol"
)

// Config holds Engine tuning knobs.
type Config struct {
	Namespace      string
	AgentKind      string        // agent kind for action sessions (default "claude")
	ActivationWait time.Duration // activation poll budget (default 10s)
	PollInterval   time.Duration // activation poll cadence (default 500ms)
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.AgentKind == "" {
		out.AgentKind = "claude"
	}
	if out.ActivationWait == 0 {
		out.ActivationWait = 10 * time.Second
	}
	if out.PollInterval == 0 {
		out.PollInterval = 500 * time.Millisecond
	}
	return out
}

// Result is the outcome of an Execute call. Failure is carried in Reason,
// never as a panic past the engine's boundary.
type Result struct {
	OK        bool
	SessionID string
	Rollback  *protocol.RollbackData
	Reason    string
}

// Engine executes approved actions through the session directory.
type Engine struct {
	cfg Config
	dir directory.Directory

	// nowFunc allows tests to control rollback timestamps.
	nowFunc func() time.Time
}

// New creates an Engine.
func New(cfg Config, dir directory.Directory) *Engine {
	return &Engine{cfg: cfg.withDefaults(), dir: dir, nowFunc: time.Now}
}

// Execute spawns a dedicated auto-accepting session for the request, waits
// for it to activate, and sends a formatted execution brief. sourceID names
// the directive or log entry that approved the action.
func (e *Engine) Execute(ctx context.Context, req protocol.ActionRequest, sourceID string) Result {
	machine, err := e.pickMachine(ctx, req.WorkingDir)
	if err != nil {
		return Result{Reason: err.Error()}
	}

	workDir := req.WorkingDir
	if workDir == "" {
		workDir = machine.WorkDir
	}

	res, err := e.dir.Spawn(ctx, directory.SpawnRequest{
		Namespace: e.cfg.Namespace,
		MachineID: machine.ID,
		WorkDir:   workDir,
		AgentKind: e.cfg.AgentKind,
		Type:      "action",
		Options: directory.SpawnOptions{
			Role:       protocol.RoleWorker,
			AutoAccept: true,
		},
	})
	if err != nil {
		return Result{Reason: fmt.Sprintf("spawn action session: %s", err)}
	}
	if !res.Success {
		return Result{Reason: fmt.Sprintf("spawn rejected: %s", res.Message)}
	}

	var rollback *protocol.RollbackData
	if req.Reversible {
		// Best-effort snapshot of step metadata. File contents are not
		// captured; the rollback contract is advisory.
		steps := make([]protocol.ActionStep, len(req.Steps))
		copy(steps, req.Steps)
		rollback = &protocol.RollbackData{
			Timestamp: e.nowFunc(),
			SessionID: res.SessionID,
			Steps:     steps,
		}
	}

	// Soft give-up: an activation timeout is a normal negative result.
	if !e.waitActive(ctx, res.SessionID) {
		return Result{
			OK:        false,
			SessionID: res.SessionID,
			Rollback:  rollback,
			Reason:    "session did not activate in time",
		}
	}

	brief := FormatBrief(req, sourceID)
	if err := e.dir.SendMessage(ctx, res.SessionID, brief, protocol.SenderTag); err != nil {
		return Result{
			OK:        false,
			SessionID: res.SessionID,
			Rollback:  rollback,
			Reason:    fmt.Sprintf("send execution brief: %s", err),
		}
	}

	return Result{OK: true, SessionID: res.SessionID, Rollback: rollback}
}

// Rollback asks the original session to undo the recorded steps. It requires
// the session to still be active.
func (e *Engine) Rollback(ctx context.Context, data protocol.RollbackData) error {
	sess, err := e.dir.GetSession(ctx, data.SessionID)
	if err != nil {
		return fmt.Errorf("rollback lookup: %w", err)
	}
	if sess.Status == protocol.SessionEnded {
		return fmt.Errorf("rollback: session %s has ended", data.SessionID)
	}

	var b strings.Builder
	b.WriteString("Please undo the previous action. The steps that were requested were:\n")
	for i, step := range data.Steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, stepInstruction(step))
	}
	b.WriteString("Restore the prior state as closely as possible and report what could not be reverted.")

	if err := e.dir.SendMessage(ctx, data.SessionID, b.String(), protocol.SenderTag); err != nil {
		return fmt.Errorf("rollback send: %w", err)
	}
	return nil
}

// pickMachine selects an online machine, preferring one whose working
// directory matches the request's target project.
func (e *Engine) pickMachine(ctx context.Context, workDir string) (protocol.Machine, error) {
	machines, err := e.dir.OnlineMachines(ctx, e.cfg.Namespace)
	if err != nil {
		return protocol.Machine{}, fmt.Errorf("list machines: %w", err)
	}
	if len(machines) == 0 {
		return protocol.Machine{}, &protocol.NoMachineError{Namespace: e.cfg.Namespace}
	}
	if workDir != "" {
		for _, m := range machines {
			if m.WorkDir == workDir {
				return m, nil
			}
		}
	}
	return machines[0], nil
}

// waitActive polls the directory until the session reports active, the poll
// budget runs out, or ctx is cancelled.
func (e *Engine) waitActive(ctx context.Context, sessionID string) bool {
	deadline := time.NewTimer(e.cfg.ActivationWait)
	defer deadline.Stop()
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-ticker.C:
			sess, err := e.dir.GetSession(ctx, sessionID)
			if err != nil {
				continue
			}
			if sess.Status == protocol.SessionActive || sess.Status == protocol.SessionThinking {
				return true
			}
		}
	}
}

// FormatBrief renders the execution brief sent to the action session, one
// numbered step per line with its type-specific instruction text.
func FormatBrief(req protocol.ActionRequest, sourceID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Execute the following %s action.\n", req.ActionType)
	if req.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", req.Reason)
	}
	if req.ExpectedOutcome != "" {
		fmt.Fprintf(&b, "Expected outcome: %s\n", req.ExpectedOutcome)
	}
	fmt.Fprintf(&b, "Risk level: %s. Source: %s.\n\nSteps:\n", req.RiskLevel, sourceID)
	for i, step := range req.Steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, stepInstruction(step))
	}
	b.WriteString("\nReport the result of each step when finished.")
	return b.String()
}

// stepInstruction renders one step's instruction text by type.
func stepInstruction(step protocol.ActionStep) string {
	switch step.Type {
	case protocol.StepCommand:
		return fmt.Sprintf("Run the command: %s", step.Content)
	case protocol.StepEdit:
		return fmt.Sprintf("Edit %s: %s", step.Target, step.Content)
	case protocol.StepCreate:
		return fmt.Sprintf("Create %s with the following content: %s", step.Target, step.Content)
	case protocol.StepDelete:
		return fmt.Sprintf("Delete %s", step.Target)
	case protocol.StepMessage:
		return fmt.Sprintf("Send this message to session %s: %s", step.Target, step.Content)
	default:
		return fmt.Sprintf("(%s) %s %s", step.Type, step.Target, step.Content)
	}
}
