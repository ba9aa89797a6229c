package advisor

import (
	"context"
	"fmt"
	"time"

	"sage/pkg/protocol"

	"github.com/google/uuid"
)

// handleAdvisorMessage parses directives out of an advisor message and
// dispatches each one. A parsed directive is evidence the review concluded,
// so the review-in-progress flag is cleared when at least one is present.
func (s *Service) handleAdvisorMessage(ctx context.Context, msg protocol.Message) {
	dirs := protocol.ExtractDirectives(msg.Text)
	if len(dirs) == 0 {
		return
	}
	s.gate.EndReview()

	for _, d := range dirs {
		switch d.Type {
		case protocol.DirectiveSuggestion:
			s.handleSuggestion(ctx, msg.SessionID, d.Suggestion)
		case protocol.DirectiveMemory:
			s.handleMemory(ctx, d.Memory)
		case protocol.DirectiveActionRequest:
			s.handleActionRequest(ctx, msg.SessionID, d.ActionRequest)
		case protocol.DirectiveSpawnSession:
			go s.handleSpawnSession(context.Background(), msg.SessionID, *d.SpawnSession)
		case protocol.DirectiveSendToSession:
			s.handleSendToSession(ctx, d.SendToSession)
		}
	}
}

// handleSuggestion persists the suggestion, auto-accepts it, and confirms
// back to the advisor.
func (s *Service) handleSuggestion(ctx context.Context, sourceID string, d *protocol.SuggestionDirective) {
	sg := protocol.Suggestion{
		ID:              uuid.NewString(),
		Namespace:       s.cfg.Namespace,
		SessionID:       d.SessionID,
		SourceSessionID: sourceID,
		Title:           d.Title,
		Detail:          d.Detail,
		Category:        d.Category,
		Severity:        d.Severity,
		Confidence:      d.Confidence,
		Scope:           d.Scope,
		Targets:         d.Targets,
		Status:          protocol.SuggestionPending,
		CreatedAt:       s.nowFunc().UTC().Format(time.RFC3339),
	}
	if err := s.st.CreateSuggestion(ctx, sg); err != nil {
		_ = s.st.LogEvent(ctx, "suggestion_create_error", "advisor", sourceID, "", err.Error())
		return
	}
	if err := s.st.UpdateSuggestionStatus(ctx, sg.ID, protocol.SuggestionAccepted); err != nil {
		_ = s.st.LogEvent(ctx, "suggestion_accept_error", "advisor", sourceID, "", err.Error())
	}
	s.notifyAdvisor(ctx, fmt.Sprintf("Suggestion recorded: %s (%s)", sg.Title, sg.ID))
}

// handleMemory persists a memory issued directly by the advisor.
func (s *Service) handleMemory(ctx context.Context, d *protocol.MemoryDirective) {
	now := s.nowFunc().UTC()
	m := protocol.Memory{
		ID:         uuid.NewString(),
		Namespace:  s.cfg.Namespace,
		ProfileID:  d.ProfileID,
		Type:       protocol.MemoryType(d.MemoryType),
		Content:    d.Content,
		Importance: d.Importance,
		Metadata: protocol.MemoryMetadata{
			Source:      "advisor_directive",
			ExtractedAt: now.Format(time.RFC3339),
			Keywords:    d.Keywords,
		},
		CreatedAt: now.Format(time.RFC3339),
	}
	if m.ProfileID == "" {
		m.ProfileID = s.cfg.ProfileID
	}
	if d.ExpiryDays > 0 {
		// Same shape sqlite's datetime('now') produces, so the store's expiry
		// comparison and the merge path order correctly.
		m.ExpiresAt = now.UTC().AddDate(0, 0, d.ExpiryDays).Format(time.DateTime)
	}
	if err := s.st.CreateMemory(ctx, m); err != nil {
		_ = s.st.LogEvent(ctx, "memory_create_error", "advisor", "", "", err.Error())
	}
}

// handleActionRequest forwards the request to the execution engine only when
// auto-iteration is enabled. Execution is fire-and-forget; the outcome is
// reported back to the advisor.
func (s *Service) handleActionRequest(ctx context.Context, sourceID string, req *protocol.ActionRequest) {
	if !s.autoIteration() {
		_ = s.st.LogEvent(ctx, "action_skipped_auto_iteration_off", "advisor", sourceID, "", req.ActionType)
		return
	}
	r := *req
	go func() {
		res := s.engine.Execute(context.Background(), r, sourceID)
		bg := context.Background()
		if res.OK {
			_ = s.st.LogEvent(bg, "action_executed", "advisor", res.SessionID, "", r.ActionType)
			s.notifyAdvisor(bg, fmt.Sprintf("Action %q dispatched to session %s.", r.ActionType, res.SessionID))
		} else {
			_ = s.st.LogEvent(bg, "action_failed", "advisor", sourceID, "", res.Reason)
			s.notifyAdvisor(bg, fmt.Sprintf("Action %q failed: %s", r.ActionType, res.Reason))
		}
	}()
}

// handleSendToSession relays a message into an advisor-spawned session with
// a contextual preamble. Sessions the tracker does not know are refused.
func (s *Service) handleSendToSession(ctx context.Context, d *protocol.SendToSessionDirective) {
	task, ok := s.tracker.BySession(d.SessionID)
	if !ok {
		_ = s.st.LogEvent(ctx, "relay_refused_untracked", "advisor", d.SessionID, "", "")
		return
	}
	text := fmt.Sprintf("Message from the advisor regarding your task (%s):\n%s",
		truncate(task.Description, 80), d.Text)
	if err := s.dir.SendMessage(ctx, d.SessionID, text, protocol.SenderTag); err != nil {
		_ = s.st.LogEvent(ctx, "relay_send_error", "advisor", d.SessionID, task.ID, err.Error())
	}
}

// notifyAdvisor sends a short status line to the advisor session. Failures
// are logged and dropped.
func (s *Service) notifyAdvisor(ctx context.Context, text string) {
	advisorID := s.locator.AdvisorSessionID()
	if advisorID == "" {
		return
	}
	if err := s.dir.SendMessage(ctx, advisorID, text, protocol.SenderTag); err != nil {
		_ = s.st.LogEvent(ctx, "advisor_notify_error", "advisor", advisorID, "", err.Error())
	}
}
