package advisor

import (
	"context"

	"sage/pkg/directory"
	"sage/pkg/protocol"
)

// startReview launches a Layer-2 review for the session. At most one review
// runs per session; a trigger while one is in flight is dropped, not queued.
// The review itself runs on its own goroutine and never blocks ingestion.
func (s *Service) startReview(ctx context.Context, sessionID string) {
	if s.reviewer == nil {
		return
	}
	if s.locator.IsAdvisorSession(ctx, sessionID) {
		return
	}

	s.mu.Lock()
	if _, inFlight := s.reviewing[sessionID]; inFlight {
		s.mu.Unlock()
		return
	}
	s.reviewing[sessionID] = struct{}{}
	s.mu.Unlock()

	go s.runReview(sessionID)
}

// runReview builds the digest, calls the reviewer under the hard timeout,
// and broadcasts either the resulting chips or an error event.
func (s *Service) runReview(sessionID string) {
	defer func() {
		s.mu.Lock()
		delete(s.reviewing, sessionID)
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ReviewTimeout)
	defer cancel()

	digest, ok := s.buildDigest(ctx, sessionID)
	if !ok {
		return
	}

	chips, err := s.reviewer.Review(ctx, digest)
	if err != nil {
		_ = s.st.LogEvent(ctx, "review_error", "advisor", sessionID, "", err.Error())
		_ = s.dir.Emit(context.Background(), directory.Event{
			Kind:      directory.EventReviewError,
			Namespace: s.cfg.Namespace,
			SessionID: sessionID,
			Detail:    err.Error(),
		})
		return
	}

	if len(chips) > s.cfg.MaxReviewChip {
		chips = chips[:s.cfg.MaxReviewChip]
	}
	_ = s.dir.Emit(context.Background(), directory.Event{
		Kind:      directory.EventReviewResult,
		Namespace: s.cfg.Namespace,
		SessionID: sessionID,
		Chips:     chips,
	})
}

// buildDigest assembles the compact structured digest the reviewer sees:
// the inherited summary refreshed with the most recent messages.
func (s *Service) buildDigest(ctx context.Context, sessionID string) (d protocol.SessionSummary, ok bool) {
	cur, err := s.st.GetCursor(ctx, sessionID)
	if err != nil {
		return d, false
	}
	msgs, err := s.dir.MessagesAfter(ctx, sessionID, cur.LastSeq, 50)
	if err != nil {
		msgs = nil
	}
	sum := s.foldSummary(ctx, sessionID, cur, msgs)
	if sum.RecentActivity == "" && len(sum.Errors) == 0 && len(sum.Todos) == 0 &&
		len(sum.CodeChanges) == 0 {
		return d, false
	}
	sum.Timestamp = s.nowFunc()
	return sum, true
}
