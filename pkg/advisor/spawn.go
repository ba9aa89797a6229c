package advisor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sage/pkg/directory"
	"sage/pkg/protocol"
	"sage/pkg/tasks"
)

// handleSpawnSession carries out a spawn_session directive: duplicate-work
// check, machine selection, spawn, task registration, activation poll, task
// brief. Runs on its own goroutine; every failure path logs and gives up
// without retrying.
func (s *Service) handleSpawnSession(ctx context.Context, advisorID string, d protocol.SpawnSessionDirective) {
	if dup, score, found := s.tracker.FindSimilar(d.Description); found {
		_ = s.st.LogEvent(ctx, "spawn_dropped_duplicate", "advisor", dup.SessionID, dup.ID,
			fmt.Sprintf("similarity %.2f: %s", score, truncate(d.Description, 120)))
		return
	}

	machines, err := s.dir.OnlineMachines(ctx, s.cfg.Namespace)
	if err != nil || len(machines) == 0 {
		_ = s.st.LogEvent(ctx, "spawn_no_machine", "advisor", "", "", d.Description)
		return
	}
	machine := machines[0]
	for _, m := range machines {
		if d.WorkingDir != "" && m.WorkDir == d.WorkingDir {
			machine = m
			break
		}
	}

	agentKind := d.AgentKind
	if agentKind == "" {
		agentKind = s.cfg.AgentKind
	}
	res, err := s.dir.Spawn(ctx, directory.SpawnRequest{
		Namespace: s.cfg.Namespace,
		MachineID: machine.ID,
		WorkDir:   d.WorkingDir,
		AgentKind: agentKind,
		Type:      "worker",
		Options:   directory.SpawnOptions{Role: protocol.RoleWorker},
	})
	if err != nil || !res.Success {
		reason := res.Message
		if err != nil {
			reason = err.Error()
		}
		_ = s.st.LogEvent(ctx, "spawn_failed", "advisor", "", "", reason)
		return
	}

	task := s.tracker.Create(tasks.CreateParams{
		SessionID:        res.SessionID,
		AdvisorSessionID: advisorID,
		Description:      d.Description,
		Reason:           d.Reason,
		ExpectedOutcome:  d.ExpectedOutcome,
		WorkingDir:       d.WorkingDir,
	})
	s.tracker.MarkRunning(task.ID)
	if err := s.st.TagSessionTask(ctx, res.SessionID, task.ID); err != nil {
		_ = s.st.LogEvent(ctx, "task_tag_error", "advisor", res.SessionID, task.ID, err.Error())
	}
	_ = s.st.LogEvent(ctx, "task_spawned", "advisor", res.SessionID, task.ID, d.Description)

	if !s.waitSessionActive(ctx, res.SessionID) {
		_ = s.st.LogEvent(ctx, "spawn_activation_timeout", "advisor", res.SessionID, task.ID, "")
		return
	}
	if err := s.dir.SendMessage(ctx, res.SessionID, taskBrief(d), protocol.SenderTag); err != nil {
		_ = s.st.LogEvent(ctx, "task_brief_send_error", "advisor", res.SessionID, task.ID, err.Error())
	}
}

// waitSessionActive polls the directory until the session reports active or
// the budget runs out. Timeout is a soft give-up, not an error.
func (s *Service) waitSessionActive(ctx context.Context, sessionID string) bool {
	deadline := time.Now().Add(s.cfg.SpawnActivationWait)
	for time.Now().Before(deadline) {
		sess, err := s.dir.GetSession(ctx, sessionID)
		if err == nil && sess.Status == protocol.SessionActive {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(s.cfg.SpawnPollInterval):
		}
	}
	return false
}

// taskBrief formats the kickoff message sent to a freshly spawned worker.
func taskBrief(d protocol.SpawnSessionDirective) string {
	var b strings.Builder
	b.WriteString("You have been assigned a task.\n\n")
	fmt.Fprintf(&b, "Task: %s\n", d.Description)
	if d.Reason != "" {
		fmt.Fprintf(&b, "Why: %s\n", d.Reason)
	}
	if d.ExpectedOutcome != "" {
		fmt.Fprintf(&b, "Expected outcome: %s\n", d.ExpectedOutcome)
	}
	if d.WorkingDir != "" {
		fmt.Fprintf(&b, "Working directory: %s\n", d.WorkingDir)
	}
	b.WriteString("\nReport back when the task is complete or if you get blocked.")
	return b.String()
}
