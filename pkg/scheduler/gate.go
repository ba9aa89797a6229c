package scheduler

import (
	"sync"
	"time"
)

// ReviewGate tracks whether an advisor review is in progress. While true,
// the orchestration service suppresses routine summary delivery so the
// advisor is not interrupted mid-review. The flag auto-clears after a hard
// timeout even if no explicit end signal arrives; it must never wedge the
// pipeline open.
type ReviewGate struct {
	mu        sync.Mutex
	reviewing bool
	startedAt time.Time
	timeout   time.Duration

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// NewReviewGate creates a gate with the given auto-clear timeout
// (default 5 minutes).
func NewReviewGate(timeout time.Duration) *ReviewGate {
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	return &ReviewGate{timeout: timeout, nowFunc: time.Now}
}

// BeginReview marks a review as in progress.
func (g *ReviewGate) BeginReview() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reviewing = true
	g.startedAt = g.nowFunc()
}

// EndReview clears the in-progress flag.
func (g *ReviewGate) EndReview() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reviewing = false
}

// IsReviewing reports whether a review is in progress, auto-clearing the
// flag if the timeout has elapsed since BeginReview.
func (g *ReviewGate) IsReviewing() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.reviewing && g.nowFunc().Sub(g.startedAt) > g.timeout {
		g.reviewing = false
	}
	return g.reviewing
}
