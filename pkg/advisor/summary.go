package advisor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"sage/pkg/protocol"
	"sage/pkg/store"
)

// summaryHeader opens every delivered summary so the ingestion filter can
// recognize and skip the engine's own echoes in session histories.
const summaryHeader = "[SESSION UPDATE]"

const maxSummaryList = 10 // cap per accumulated field (errors, changes, decisions)

// buildSummary folds messages newer than the session's cursor into the
// inherited summary, persists the advanced cursor, and delivers the result
// to the advisor when all four delivery gates pass. The pending counter is
// reset whether or not anything is delivered.
func (s *Service) buildSummary(ctx context.Context, sessionID string) {
	s.mu.Lock()
	s.pending[sessionID] = 0
	s.mu.Unlock()

	cur, err := s.st.GetCursor(ctx, sessionID)
	if err != nil {
		_ = s.st.LogEvent(ctx, "summary_cursor_error", "advisor", sessionID, "", err.Error())
		return
	}

	msgs, err := s.dir.MessagesAfter(ctx, sessionID, cur.LastSeq, 200)
	if err != nil {
		_ = s.st.LogEvent(ctx, "summary_fetch_error", "advisor", sessionID, "", err.Error())
		return
	}

	// The cursor covers every fetched message, filtered ones included, so a
	// stretch of the engine's own traffic cannot pin the fetch window.
	maxSeq := cur.LastSeq
	for _, msg := range msgs {
		if msg.Seq > maxSeq {
			maxSeq = msg.Seq
		}
	}

	sum := s.foldSummary(ctx, sessionID, cur, msgs)
	cur.Namespace = s.cfg.Namespace
	cur.LastSeq = maxSeq
	if sum.MessageCount > 0 {
		cur.Summary = &sum
	}
	if maxSeq > 0 {
		if err := s.st.UpsertCursor(ctx, cur); err != nil {
			_ = s.st.LogEvent(ctx, "summary_persist_error", "advisor", sessionID, "", err.Error())
		}
	}
	if sum.MessageCount == 0 {
		return
	}

	s.extractMemories(ctx, sum)
	s.deliverSummary(ctx, sum)
}

// foldSummary reconstructs the session summary by folding new messages into
// the fields inherited from the previous build. The engine's own init and
// summary-echo messages are filtered out to prevent feedback loops.
func (s *Service) foldSummary(ctx context.Context, sessionID string, cur store.Cursor, msgs []protocol.Message) protocol.SessionSummary {
	var sum protocol.SessionSummary
	if cur.Summary != nil {
		sum = *cur.Summary
	}
	sum.SessionID = sessionID
	sum.Namespace = s.cfg.Namespace
	if sum.WorkDir == "" {
		if sess, err := s.dir.GetSession(ctx, sessionID); err == nil {
			sum.WorkDir = sess.WorkDir
			sum.Project = path.Base(sess.WorkDir)
		}
	}

	counted := 0
	for _, msg := range msgs {
		if msg.Sender == protocol.SenderTag || strings.Contains(msg.Text, summaryHeader) {
			continue
		}
		counted++
		if msg.Seq > sum.LastMessageSeq {
			sum.LastMessageSeq = msg.Seq
		}
		foldMessage(&sum, msg)
	}

	sum.MessageCount = counted
	sum.Timestamp = s.nowFunc()
	return sum
}

// foldMessage classifies one message's lines into the summary's accumulated
// fields.
func foldMessage(sum *protocol.SessionSummary, msg protocol.Message) {
	for _, line := range strings.Split(msg.Text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		switch {
		case todoLine(line):
			mergeTodo(sum, line)
		case strings.Contains(lower, "error") || strings.Contains(lower, "failed") ||
			strings.Contains(lower, "panic") || strings.Contains(lower, "exception"):
			sum.Errors = appendCapped(sum.Errors, line)
		case strings.Contains(lower, "edited ") || strings.Contains(lower, "created ") ||
			strings.Contains(lower, "modified ") || strings.Contains(lower, "deleted "):
			sum.CodeChanges = appendCapped(sum.CodeChanges, line)
		case strings.Contains(lower, "decided") || strings.Contains(lower, "going with") ||
			strings.Contains(lower, "will use") || strings.Contains(lower, "instead of"):
			sum.Decisions = appendCapped(sum.Decisions, line)
		}
	}
	if msg.Role == "assistant" && strings.TrimSpace(msg.Text) != "" {
		sum.RecentActivity = truncate(strings.TrimSpace(msg.Text), 200)
	}
}

// todoLine matches markdown-style checkbox lines.
func todoLine(line string) bool {
	return strings.HasPrefix(line, "- [ ]") || strings.HasPrefix(line, "- [x]") ||
		strings.HasPrefix(line, "- [>]") || strings.HasPrefix(line, "- [X]")
}

// mergeTodo upserts a todo by title so a later checkbox state wins.
func mergeTodo(sum *protocol.SessionSummary, line string) {
	status := " "
	switch {
	case strings.HasPrefix(line, "- [x]"), strings.HasPrefix(line, "- [X]"):
		status = "x"
	case strings.HasPrefix(line, "- [>]"):
		status = ">"
	}
	title := strings.TrimSpace(line[5:])
	if title == "" {
		return
	}
	for i := range sum.Todos {
		if sum.Todos[i].Title == title {
			sum.Todos[i].Status = status
			return
		}
	}
	sum.Todos = append(sum.Todos, protocol.TodoEntry{Status: status, Title: title})
}

func appendCapped(list []string, entry string) []string {
	for _, e := range list {
		if e == entry {
			return list
		}
	}
	list = append(list, entry)
	if len(list) > maxSummaryList {
		list = list[len(list)-maxSummaryList:]
	}
	return list
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

// deliverSummary sends the summary to the advisor iff all four independent
// gates pass: delivery enabled, no review in progress, the per-session rate
// limit elapsed, and the content hash differs from the last delivery.
func (s *Service) deliverSummary(ctx context.Context, sum protocol.SessionSummary) {
	if !s.deliveryEnabled() || s.gate.IsReviewing() {
		return
	}

	now := s.nowFunc()
	hash := summaryHash(sum)

	s.mu.Lock()
	last, seen := s.lastDelivery[sum.SessionID]
	sameContent := s.lastHash[sum.SessionID] == hash
	s.mu.Unlock()

	if seen && now.Sub(last) < s.cfg.MinDeliveryInterval {
		return
	}
	if sameContent {
		return
	}

	advisorID := s.locator.AdvisorSessionID()
	if advisorID == "" {
		return
	}
	if err := s.dir.SendMessage(ctx, advisorID, formatSummary(sum), protocol.SenderTag); err != nil {
		_ = s.st.LogEvent(ctx, "summary_send_error", "advisor", sum.SessionID, "", err.Error())
		return
	}

	s.mu.Lock()
	s.lastDelivery[sum.SessionID] = now
	s.lastHash[sum.SessionID] = hash
	s.mu.Unlock()
	_ = s.st.LogEvent(ctx, "summary_delivered", "advisor", sum.SessionID, "", "")
}

// extractMemories mines the fresh summary for durable facts and persists
// them with dedup-on-merge semantics. Extraction failures are logged, never
// surfaced.
func (s *Service) extractMemories(ctx context.Context, sum protocol.SessionSummary) {
	if s.extractor == nil {
		return
	}
	cands := s.extractor.Extract(sum)
	if len(cands) == 0 {
		return
	}
	if _, _, err := s.extractor.Persist(ctx, s.st, s.cfg.Namespace, s.cfg.ProfileID, cands); err != nil {
		_ = s.st.LogEvent(ctx, "memory_persist_error", "advisor", sum.SessionID, "", err.Error())
	}
}

// summaryHash fingerprints the delivered content so unchanged summaries are
// not re-sent.
func summaryHash(sum protocol.SessionSummary) string {
	h := sha256.New()
	fmt.Fprintln(h, sum.RecentActivity)
	for _, c := range sum.CodeChanges {
		fmt.Fprintln(h, "c", c)
	}
	for _, e := range sum.Errors {
		fmt.Fprintln(h, "e", e)
	}
	for _, d := range sum.Decisions {
		fmt.Fprintln(h, "d", d)
	}
	for _, t := range sum.Todos {
		fmt.Fprintln(h, "t", t.Status, t.Title)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// formatSummary renders a summary as the advisor-facing message.
func formatSummary(sum protocol.SessionSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s session=%s project=%s\n", summaryHeader, sum.SessionID, sum.Project)
	if sum.RecentActivity != "" {
		fmt.Fprintf(&b, "Activity: %s\n", sum.RecentActivity)
	}
	writeList(&b, "Changes", sum.CodeChanges)
	writeList(&b, "Errors", sum.Errors)
	writeList(&b, "Decisions", sum.Decisions)
	if len(sum.Todos) > 0 {
		b.WriteString("Todos:\n")
		for _, t := range sum.Todos {
			fmt.Fprintf(&b, "  [%s] %s\n", t.Status, t.Title)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeList(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", label)
	for _, it := range items {
		fmt.Fprintf(b, "  - %s\n", it)
	}
}
