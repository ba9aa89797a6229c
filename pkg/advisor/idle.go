package advisor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sage/pkg/directory"
	"sage/pkg/protocol"

	"github.com/google/uuid"
)

const (
	recentWindow    = 25              // messages scanned by the heuristics
	stalledThinking = 2 * time.Minute // active thinking beyond this counts as stalled
	maxChipsPerRule = 3
)

// idleCheck runs the Layer-1 heuristic battery over the session's current
// state and recent messages, then broadcasts the resulting chips. Nothing is
// persisted; the chips are ephemeral.
func (s *Service) idleCheck(ctx context.Context, sessionID string) {
	sess, err := s.dir.GetSession(ctx, sessionID)
	if err != nil || sess.Status == protocol.SessionEnded {
		return
	}

	cur, err := s.st.GetCursor(ctx, sessionID)
	if err != nil {
		return
	}
	var sum protocol.SessionSummary
	if cur.Summary != nil {
		sum = *cur.Summary
	}

	after := sess.LastSeq - recentWindow
	if after < 0 {
		after = 0
	}
	recent, err := s.dir.MessagesAfter(ctx, sessionID, after, recentWindow)
	if err != nil {
		recent = nil
	}

	var chips []protocol.SuggestionChip
	chips = append(chips, todoChips(sum.Todos)...)
	chips = append(chips, errorChips(recent)...)
	chips = append(chips, s.stalledChips(sessionID)...)
	chips = append(chips, idleDurationChips(recent, s.nowFunc())...)
	chips = crossCuttingChips(chips, sum)

	if len(chips) > s.cfg.MaxIdleChips {
		chips = chips[:s.cfg.MaxIdleChips]
	}
	if len(chips) == 0 {
		return
	}

	_ = s.dir.Emit(ctx, directory.Event{
		Kind:      directory.EventIdleSuggestions,
		Namespace: s.cfg.Namespace,
		SessionID: sessionID,
		Chips:     chips,
	})
}

func chip(category protocol.ChipCategory, label, text string) protocol.SuggestionChip {
	return protocol.SuggestionChip{
		ID:       uuid.NewString(),
		Label:    label,
		Text:     text,
		Category: category,
	}
}

// todoChips turns incomplete todos into next-action chips: in-progress items
// suggest continuing, pending items suggest starting.
func todoChips(todos []protocol.TodoEntry) []protocol.SuggestionChip {
	var out []protocol.SuggestionChip
	for _, t := range todos {
		if len(out) >= maxChipsPerRule {
			break
		}
		switch t.Status {
		case ">":
			out = append(out, chip(protocol.ChipTodoCheck,
				"Continue: "+truncate(t.Title, 40),
				"Continue working on the in-progress task: "+t.Title))
		case " ":
			out = append(out, chip(protocol.ChipTodoCheck,
				"Start: "+truncate(t.Title, 40),
				"Pick up the pending task: "+t.Title))
		}
	}
	return out
}

// errorChips sub-classifies recent error density into targeted chips.
func errorChips(recent []protocol.Message) []protocol.SuggestionChip {
	var typeErrs, testFails, buildFails, generic int
	for _, m := range recent {
		lower := strings.ToLower(m.Text)
		switch {
		case strings.Contains(lower, "type error") || strings.Contains(lower, "cannot use") ||
			strings.Contains(lower, "undefined:"):
			typeErrs++
		case strings.Contains(lower, "test fail") || strings.Contains(lower, "--- fail"):
			testFails++
		case strings.Contains(lower, "build fail") || strings.Contains(lower, "compilation") ||
			strings.Contains(lower, "cannot find package"):
			buildFails++
		case strings.Contains(lower, "error") || strings.Contains(lower, "panic"):
			generic++
		}
	}

	var out []protocol.SuggestionChip
	if typeErrs > 0 {
		out = append(out, chip(protocol.ChipErrorAnalysis, "Fix type errors",
			"Recent output shows type errors. Review the reported types and fix the mismatches."))
	}
	if testFails > 0 {
		out = append(out, chip(protocol.ChipErrorAnalysis, "Investigate failing tests",
			"Tests are failing. Re-run the failing cases and inspect the assertions."))
	}
	if buildFails > 0 {
		out = append(out, chip(protocol.ChipErrorAnalysis, "Fix the build",
			"The build is broken. Resolve the compilation errors before continuing."))
	}
	if len(out) == 0 && generic >= 3 {
		out = append(out, chip(protocol.ChipErrorAnalysis, "Review recent errors",
			"Several errors appeared recently. Step back and analyze the root cause."))
	}
	if len(out) > maxChipsPerRule {
		out = out[:maxChipsPerRule]
	}
	return out
}

// stalledChips flags a thinking state that has been active too long.
func (s *Service) stalledChips(sessionID string) []protocol.SuggestionChip {
	s.mu.Lock()
	since, thinking := s.thinkingSince[sessionID]
	s.mu.Unlock()
	if !thinking || s.nowFunc().Sub(since) < stalledThinking {
		return nil
	}
	return []protocol.SuggestionChip{chip(protocol.ChipGeneral, "Check stalled work",
		"The session has been processing for a while without output. Consider breaking the task down.")}
}

// idleDurationChips flags long gaps since the last message.
func idleDurationChips(recent []protocol.Message, now time.Time) []protocol.SuggestionChip {
	if len(recent) == 0 {
		return nil
	}
	last := recent[len(recent)-1].Timestamp
	if last.IsZero() || now.Sub(last) < 10*time.Minute {
		return nil
	}
	return []protocol.SuggestionChip{chip(protocol.ChipGeneral, "Resume work",
		"No activity for a while. Review the last state and pick the next step.")}
}

// crossCuttingChips runs the second pass: a progress summary when the todo
// list is partially complete, an all-done nudge when every todo is complete,
// and a code-review nudge when nothing else fired.
func crossCuttingChips(chips []protocol.SuggestionChip, sum protocol.SessionSummary) []protocol.SuggestionChip {
	done, total := todoProgress(sum.Todos)
	switch {
	case total > 0 && done == total:
		chips = append(chips, chip(protocol.ChipGeneral, "All tasks complete",
			"Every tracked task is done. Summarize the work and verify nothing is left over."))
	case done > 0:
		chips = append(chips, chip(protocol.ChipGeneral,
			fmt.Sprintf("Progress: %d/%d tasks done", done, total),
			fmt.Sprintf("%d of %d tracked tasks are complete. Keep the remaining ones moving.", done, total)))
	}
	if len(chips) == 0 {
		chips = append(chips, chip(protocol.ChipCodeReview, "Review recent changes",
			"Things look quiet. A quick review of the recent changes may catch issues early."))
	}
	return chips
}

func todoProgress(todos []protocol.TodoEntry) (done, total int) {
	for _, t := range todos {
		total++
		if t.Status == "x" {
			done++
		}
	}
	return done, total
}
