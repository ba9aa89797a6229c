package advisor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sage/pkg/protocol"
)

// waitingPatterns mark a worker message that is asking for input rather
// than reporting progress.
var waitingPatterns = []string{
	"?", "？",
	"should i", "do you want", "would you like", "which option",
	"please confirm", "please advise", "let me know",
	"是否", "请确认", "需要我",
}

// failureKeywords classify a finished session as failed rather than
// completed.
var failureKeywords = []string{
	"error", "failed", "failure", "panic", "fatal", "exception",
	"could not", "unable to", "aborted",
	"失败", "错误",
}

// taskThinkingCompleted checks whether a tracked worker is stuck waiting
// for input and, if so, pushes a feedback message to the advisor.
func (s *Service) taskThinkingCompleted(ctx context.Context, sessionID string) {
	task, ok := s.tracker.BySession(sessionID)
	if !ok || task.Status.Terminal() {
		return
	}

	msgs := s.lastAssistantMessages(ctx, sessionID, 5)
	question := ""
	for i := len(msgs) - 1; i >= 0; i-- {
		if isWaitingForInput(msgs[i].Text) {
			question = msgs[i].Text
			break
		}
	}
	if question == "" {
		return
	}

	if err := s.st.CreateFeedback(ctx, s.cfg.Namespace, sessionID, task.ID, "waiting_input", question); err != nil {
		_ = s.st.LogEvent(ctx, "feedback_create_error", "advisor", sessionID, task.ID, err.Error())
	}
	s.notifyAdvisor(ctx, fmt.Sprintf(
		"Task %q (session %s) is waiting for input:\n%s",
		truncate(task.Description, 60), sessionID, truncate(question, 300)))
}

// taskSessionEnded classifies a finished tracked session as completed or
// failed, marks the task terminal, and reports the outcome to the advisor.
func (s *Service) taskSessionEnded(ctx context.Context, sessionID string) {
	task, ok := s.tracker.BySession(sessionID)
	if !ok || task.Status.Terminal() {
		return
	}

	msgs := s.lastAssistantMessages(ctx, sessionID, 5)
	failed := false
	for _, m := range msgs {
		if hasFailureKeyword(m.Text) {
			failed = true
			break
		}
	}

	result := ""
	if len(msgs) > 0 {
		result = truncate(msgs[len(msgs)-1].Text, 300)
	}

	kind := "task_completed"
	if failed {
		kind = "task_failed"
		s.tracker.Fail(task.ID, result)
	} else {
		s.tracker.Complete(task.ID, result)
	}

	if err := s.st.CreateFeedback(ctx, s.cfg.Namespace, sessionID, task.ID, kind, result); err != nil {
		_ = s.st.LogEvent(ctx, "feedback_create_error", "advisor", sessionID, task.ID, err.Error())
	}
	s.notifyAdvisor(ctx, fmt.Sprintf("Task %q ended: %s.\n%s",
		truncate(task.Description, 60), strings.TrimPrefix(kind, "task_"), result))
}

// monitorTasks pushes an aggregate digest to the advisor, but only when at
// least one task has been running past the staleness threshold. Routine
// healthy state produces no noise.
func (s *Service) monitorTasks(ctx context.Context) {
	stale := s.tracker.RunningLongerThan(s.cfg.TaskStaleAfter)
	if len(stale) == 0 {
		return
	}

	var b strings.Builder
	b.WriteString("Task status digest (stale tasks present):\n")
	for _, t := range s.tracker.Active() {
		age := s.nowFunc().Sub(t.CreatedAt).Round(time.Second)
		fmt.Fprintf(&b, "- [%s] %s (session %s, running %s)\n",
			t.Status, truncate(t.Description, 60), t.SessionID, age)
	}
	s.notifyAdvisor(ctx, strings.TrimRight(b.String(), "\n"))
}

// lastAssistantMessages fetches the trailing n assistant messages of a
// session, oldest first.
func (s *Service) lastAssistantMessages(ctx context.Context, sessionID string, n int) []protocol.Message {
	sess, err := s.dir.GetSession(ctx, sessionID)
	if err != nil {
		return nil
	}
	after := sess.LastSeq - int64(n)*4 // assistant messages are interleaved with others
	if after < 0 {
		after = 0
	}
	msgs, err := s.dir.MessagesAfter(ctx, sessionID, after, n*4)
	if err != nil {
		return nil
	}
	var out []protocol.Message
	for _, m := range msgs {
		if m.Role == "assistant" && m.Sender != protocol.SenderTag {
			out = append(out, m)
		}
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

func isWaitingForInput(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range waitingPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func hasFailureKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, k := range failureKeywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
