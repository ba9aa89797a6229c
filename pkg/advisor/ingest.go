package advisor

import (
	"context"

	"sage/pkg/directory"
	"sage/pkg/protocol"
)

// ingestMessage classifies an inbound message: the engine's own messages are
// ignored, advisor messages go to directive parsing, and everything else
// bumps the session's pending counter and resets its debounce timers. A
// counter crossing the threshold forces an immediate summary build instead
// of waiting for the quiet period.
func (s *Service) ingestMessage(ctx context.Context, ev directory.Event) {
	msg := ev.Message
	if msg == nil {
		return
	}
	if msg.Sender == protocol.SenderTag {
		return
	}
	if s.locator.IsAdvisorSession(ctx, ev.SessionID) {
		s.handleAdvisorMessage(ctx, *msg)
		return
	}

	s.mu.Lock()
	s.pending[ev.SessionID]++
	count := s.pending[ev.SessionID]
	s.mu.Unlock()

	if count >= s.cfg.MessageThreshold {
		s.debounce.Cancel("summary:" + ev.SessionID)
		s.buildSummary(ctx, ev.SessionID)
	} else {
		s.debounce.Trigger("summary:"+ev.SessionID, s.cfg.SummaryDebounce, func() {
			s.buildSummary(context.Background(), ev.SessionID)
		})
	}
	s.debounce.Trigger("idle:"+ev.SessionID, s.cfg.IdleDebounce, func() {
		s.idleCheck(context.Background(), ev.SessionID)
	})
}
