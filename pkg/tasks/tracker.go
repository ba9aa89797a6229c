// Package tasks tracks the worker sessions the advisor has spawned. It is
// the single writer of task state: one-way transitions, O(1) lookup from
// task id or session id, Jaccard-based duplicate detection, and a retention
// sweep for terminal tasks.
package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is a task's lifecycle state.
type Status string

// Task status constants. pending → running → {completed | failed | cancelled};
// all transitions are one-way.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether st is a terminal status.
func (st Status) Terminal() bool {
	return st == StatusCompleted || st == StatusFailed || st == StatusCancelled
}

// Task is a unit of advisor-spawned work.
type Task struct {
	ID               string
	SessionID        string // worker session carrying out the task
	AdvisorSessionID string // owning advisor
	Description      string
	Reason           string
	ExpectedOutcome  string
	WorkingDir       string
	Status           Status
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      time.Time
	Result           string
	Keywords         map[string]struct{}
}

// Config holds Tracker tuning knobs.
type Config struct {
	SimilarityThreshold float64       // duplicate-detection Jaccard threshold (default 0.5)
	Retention           time.Duration // terminal task retention (default 24h)
	SweepInterval       time.Duration // retention sweep cadence (default 1h)
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.SimilarityThreshold == 0 {
		out.SimilarityThreshold = 0.5
	}
	if out.Retention == 0 {
		out.Retention = 24 * time.Hour
	}
	if out.SweepInterval == 0 {
		out.SweepInterval = time.Hour
	}
	return out
}

// Tracker is the in-memory task registry.
type Tracker struct {
	cfg Config

	mu        sync.Mutex
	byID      map[string]*Task
	bySession map[string]*Task

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// NewTracker creates a Tracker. Call Run to start the retention sweep.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{
		cfg:       cfg.withDefaults(),
		byID:      make(map[string]*Task),
		bySession: make(map[string]*Task),
		nowFunc:   time.Now,
	}
}

// CreateParams holds the fields for a new task.
type CreateParams struct {
	SessionID        string
	AdvisorSessionID string
	Description      string
	Reason           string
	ExpectedOutcome  string
	WorkingDir       string
}

// Create registers a new pending task and returns it.
func (t *Tracker) Create(p CreateParams) *Task {
	now := t.now()
	task := &Task{
		ID:               uuid.NewString(),
		SessionID:        p.SessionID,
		AdvisorSessionID: p.AdvisorSessionID,
		Description:      p.Description,
		Reason:           p.Reason,
		ExpectedOutcome:  p.ExpectedOutcome,
		WorkingDir:       p.WorkingDir,
		Status:           StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
		Keywords:         ExtractKeywords(p.Description),
	}
	t.mu.Lock()
	t.byID[task.ID] = task
	if task.SessionID != "" {
		t.bySession[task.SessionID] = task
	}
	t.mu.Unlock()
	return task
}

// Get returns a copy of the task with the given id.
func (t *Tracker) Get(id string) (Task, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.byID[id]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

// BySession returns a copy of the task owning the given worker session.
func (t *Tracker) BySession(sessionID string) (Task, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.bySession[sessionID]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

// MarkRunning transitions a pending task to running.
func (t *Tracker) MarkRunning(id string) bool {
	return t.transition(id, StatusRunning, "")
}

// Complete transitions a task to completed with a result.
func (t *Tracker) Complete(id, result string) bool {
	return t.transition(id, StatusCompleted, result)
}

// Fail transitions a task to failed with a reason.
func (t *Tracker) Fail(id, result string) bool {
	return t.transition(id, StatusFailed, result)
}

// Cancel transitions a task to cancelled.
func (t *Tracker) Cancel(id string) bool {
	return t.transition(id, StatusCancelled, "")
}

// transition applies a one-way state change. Terminal tasks never move again,
// and running cannot go back to pending.
func (t *Tracker) transition(id string, to Status, result string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.byID[id]
	if !ok || task.Status.Terminal() {
		return false
	}
	if to == StatusRunning && task.Status != StatusPending {
		return false
	}
	task.Status = to
	task.UpdatedAt = t.now()
	if result != "" {
		task.Result = result
	}
	if to.Terminal() {
		task.CompletedAt = t.now()
	}
	return true
}

// FindSimilar compares a description's keywords against every non-terminal
// task and returns the first match at or above the similarity threshold,
// along with the score.
func (t *Tracker) FindSimilar(description string) (Task, float64, bool) {
	kw := ExtractKeywords(description)
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, task := range t.byID {
		if task.Status.Terminal() {
			continue
		}
		if score := Jaccard(kw, task.Keywords); score >= t.cfg.SimilarityThreshold {
			return *task, score, true
		}
	}
	return Task{}, 0, false
}

// Active returns copies of all non-terminal tasks.
func (t *Tracker) Active() []Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Task
	for _, task := range t.byID {
		if !task.Status.Terminal() {
			out = append(out, *task)
		}
	}
	return out
}

// ActiveCount returns the number of non-terminal tasks.
func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, task := range t.byID {
		if !task.Status.Terminal() {
			n++
		}
	}
	return n
}

// RunningLongerThan returns copies of running tasks that have been running
// past the given staleness threshold.
func (t *Tracker) RunningLongerThan(d time.Duration) []Task {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Task
	for _, task := range t.byID {
		if task.Status == StatusRunning && now.Sub(task.UpdatedAt) > d {
			out = append(out, *task)
		}
	}
	return out
}

// Sweep removes terminal tasks older than the retention window past
// completion. Returns the number removed.
func (t *Tracker) Sweep() int {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, task := range t.byID {
		if task.Status.Terminal() && now.Sub(task.CompletedAt) > t.cfg.Retention {
			delete(t.byID, id)
			if task.SessionID != "" {
				delete(t.bySession, task.SessionID)
			}
			removed++
		}
	}
	return removed
}

// Run performs the periodic retention sweep until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}

func (t *Tracker) now() time.Time {
	if t.nowFunc != nil {
		return t.nowFunc()
	}
	return time.Now()
}
