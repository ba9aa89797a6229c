// Package scheduler keeps exactly one advisor session alive per namespace
// and drives the daily and proactive review cadences. It is the single
// writer of the advisor liveness record and of its own timers.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sage/pkg/directory"
	"sage/pkg/protocol"
	"sage/pkg/store"

	"github.com/google/uuid"
)

// Config holds Scheduler tuning knobs.
type Config struct {
	Namespace         string
	AgentKind         string        // advisor agent kind (default "claude")
	RetryDelay        time.Duration // restart/retry backoff, fixed, no exponential growth (default 5s)
	SettleDelay       time.Duration // wait before the init prompt (default 2s)
	DailyReviewHour   *int          // local hour-of-day 0-23 for the daily review; nil means 6
	ProactiveWarmup   time.Duration // delay after start before proactive reviews (default 5m)
	ProactiveInterval time.Duration // proactive review cadence (default 4h)
	ReviewTimeout     time.Duration // review-in-progress auto-clear (default 5m)
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.AgentKind == "" {
		out.AgentKind = "claude"
	}
	if out.RetryDelay == 0 {
		out.RetryDelay = 5 * time.Second
	}
	if out.SettleDelay == 0 {
		out.SettleDelay = 2 * time.Second
	}
	if out.DailyReviewHour == nil || *out.DailyReviewHour < 0 || *out.DailyReviewHour > 23 {
		h := 6
		out.DailyReviewHour = &h
	}
	if out.ProactiveWarmup == 0 {
		out.ProactiveWarmup = 5 * time.Minute
	}
	if out.ProactiveInterval == 0 {
		out.ProactiveInterval = 4 * time.Hour
	}
	return out
}

// Scheduler supervises the advisor session.
type Scheduler struct {
	cfg  Config
	dir  directory.Directory
	st   *store.Store
	gate *ReviewGate

	mu         sync.Mutex
	starting   bool // in-flight Start; concurrent callers no-op
	stopped    bool
	advisorID  string
	subscribed bool
	timers     map[string]*time.Timer

	ctx    context.Context
	cancel context.CancelFunc

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// New creates a Scheduler. Call Start to bring the advisor up.
func New(cfg Config, dir directory.Directory, st *store.Store) *Scheduler {
	resolved := cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:     resolved,
		dir:     dir,
		st:      st,
		gate:    NewReviewGate(resolved.ReviewTimeout),
		timers:  make(map[string]*time.Timer),
		ctx:     ctx,
		cancel:  cancel,
		nowFunc: time.Now,
	}
}

// Gate returns the review-in-progress gate shared with the orchestration
// service.
func (s *Scheduler) Gate() *ReviewGate { return s.gate }

// AdvisorSessionID returns the current advisor session id.
func (s *Scheduler) AdvisorSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advisorID
}

// IsAdvisorSession reports whether id is the current advisor session, or a
// session the directory tags with the advisor role (covers the
// rename-on-spawn case).
func (s *Scheduler) IsAdvisorSession(ctx context.Context, id string) bool {
	s.mu.Lock()
	current := s.advisorID
	s.mu.Unlock()
	if id == current {
		return true
	}
	sess, err := s.dir.GetSession(ctx, id)
	if err != nil {
		return false
	}
	return sess.Role == protocol.RoleAdvisor
}

// Start brings the advisor session up and arms the review timers. It is
// idempotent: a call while another start is in flight is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped || s.starting {
		s.mu.Unlock()
		return nil
	}
	s.starting = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
	}()

	if err := s.ensureAdvisor(ctx); err != nil {
		return err
	}

	s.subscribeOnce()
	s.armDailyReview()
	s.armTimer("proactive", s.cfg.ProactiveWarmup, s.proactivePass)
	return nil
}

// Stop cancels every armed timer and the event subscription. No pending
// callback fires after Stop returns.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for name, t := range s.timers {
		t.Stop()
		delete(s.timers, name)
	}
	s.mu.Unlock()
	s.cancel()
}

// ensureAdvisor loads or mints the advisor session id and makes sure a live
// session backs it, spawning one if needed.
func (s *Scheduler) ensureAdvisor(ctx context.Context) error {
	rec, err := s.st.GetLiveness(ctx, s.cfg.Namespace)
	if err != nil {
		return fmt.Errorf("load liveness: %w", err)
	}
	if rec == nil {
		rec = &protocol.AdvisorLiveness{
			Namespace:        s.cfg.Namespace,
			AdvisorSessionID: uuid.NewString(),
		}
	}

	machines, err := s.dir.OnlineMachines(ctx, s.cfg.Namespace)
	if err != nil {
		return fmt.Errorf("list machines: %w", err)
	}
	if len(machines) == 0 {
		// Expected, recoverable: retry later, no error.
		_ = s.st.LogEvent(ctx, "advisor_no_machine", "scheduler", "", "", "")
		s.scheduleRestart()
		return nil
	}
	machine := machines[0]

	// An active session with the recorded id just needs a liveness refresh.
	if sess, err := s.dir.GetSession(ctx, rec.AdvisorSessionID); err == nil && sess.Status != protocol.SessionEnded {
		s.setAdvisorID(rec.AdvisorSessionID)
		rec.Status = protocol.LivenessRunning
		rec.MachineID = sess.MachineID
		return s.st.UpsertLiveness(ctx, *rec)
	}

	res, err := s.dir.Spawn(ctx, directory.SpawnRequest{
		Namespace: s.cfg.Namespace,
		MachineID: machine.ID,
		WorkDir:   machine.WorkDir,
		AgentKind: s.cfg.AgentKind,
		Yolo:      false,
		Type:      "advisor",
		Options: directory.SpawnOptions{
			SessionID:      rec.AdvisorSessionID,
			Role:           protocol.RoleAdvisor,
			PermissionMode: "restricted",
		},
	})
	if err != nil || !res.Success {
		reason := ""
		if err != nil {
			reason = err.Error()
		} else {
			reason = res.Message
		}
		rec.Status = protocol.LivenessError
		rec.MachineID = machine.ID
		_ = s.st.UpsertLiveness(ctx, *rec)
		_ = s.st.LogEvent(ctx, "advisor_spawn_failed", "scheduler", rec.AdvisorSessionID, "", reason)
		s.scheduleRestart()
		return nil
	}

	// Adopt the returned session id; the directory may assign a new one.
	if res.SessionID != "" && res.SessionID != rec.AdvisorSessionID {
		rec.AdvisorSessionID = res.SessionID
		rec.Initialized = false
	}
	s.setAdvisorID(rec.AdvisorSessionID)

	if !rec.Initialized {
		id := rec.AdvisorSessionID
		s.armTimer("init", s.cfg.SettleDelay, func() {
			if err := s.dir.SendMessage(s.ctx, id, initPrompt, protocol.SenderTag); err != nil {
				_ = s.st.LogEvent(s.ctx, "advisor_init_failed", "scheduler", id, "", err.Error())
				return
			}
			_ = s.st.MarkAdvisorInitialized(s.ctx, s.cfg.Namespace)
		})
	}

	rec.Status = protocol.LivenessRunning
	rec.MachineID = machine.ID
	if err := s.st.UpsertLiveness(ctx, *rec); err != nil {
		return fmt.Errorf("persist liveness: %w", err)
	}
	_ = s.st.LogEvent(ctx, "advisor_started", "scheduler", rec.AdvisorSessionID, "", "")
	return nil
}

func (s *Scheduler) setAdvisorID(id string) {
	s.mu.Lock()
	s.advisorID = id
	s.mu.Unlock()
}

// subscribeOnce starts the lifecycle watcher that detects the advisor going
// offline. Subsequent Start calls reuse the existing subscription.
func (s *Scheduler) subscribeOnce() {
	s.mu.Lock()
	if s.subscribed || s.stopped {
		s.mu.Unlock()
		return
	}
	s.subscribed = true
	s.mu.Unlock()

	go func() {
		events, err := s.dir.Subscribe(s.ctx)
		if err != nil {
			_ = s.st.LogEvent(s.ctx, "advisor_subscribe_failed", "scheduler", "", "", err.Error())
			return
		}
		for ev := range events {
			if ev.Kind != directory.EventSessionEnded {
				continue
			}
			s.mu.Lock()
			offline := ev.SessionID == s.advisorID && !s.stopped
			s.mu.Unlock()
			if offline {
				s.onAdvisorOffline()
			}
		}
	}()
}

// onAdvisorOffline persists status=idle and schedules a restart. The
// restart loop is self-healing: a restart that itself fails reschedules
// another restart with the same fixed delay, indefinitely.
func (s *Scheduler) onAdvisorOffline() {
	rec, err := s.st.GetLiveness(s.ctx, s.cfg.Namespace)
	if err == nil && rec != nil {
		rec.Status = protocol.LivenessIdle
		_ = s.st.UpsertLiveness(s.ctx, *rec)
	}
	_ = s.st.LogEvent(s.ctx, "advisor_offline", "scheduler", s.AdvisorSessionID(), "", "")
	s.scheduleRestart()
}

// scheduleRestart arms the restart timer with the fixed backoff delay.
func (s *Scheduler) scheduleRestart() {
	s.armTimer("restart", s.cfg.RetryDelay, func() {
		if err := s.ensureAdvisor(s.ctx); err != nil {
			_ = s.st.LogEvent(s.ctx, "advisor_restart_failed", "scheduler", "", "", err.Error())
			s.scheduleRestart()
		}
	})
}

// armTimer replaces the named one-shot timer. Callbacks never fire after
// Stop.
func (s *Scheduler) armTimer(name string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if t, ok := s.timers[name]; ok {
		t.Stop()
	}
	s.timers[name] = time.AfterFunc(d, func() {
		s.mu.Lock()
		stopped := s.stopped
		delete(s.timers, name)
		s.mu.Unlock()
		if !stopped {
			fn()
		}
	})
}

// armDailyReview computes the next occurrence of the configured hour-of-day
// (rolling to tomorrow if it already passed) and arms a one-shot timer. On
// fire the review runs and the timer re-arms for the following day, keeping
// the cadence drift-free relative to the wall-clock hour.
func (s *Scheduler) armDailyReview() {
	now := s.nowFunc()
	next := s.nextDailyReview(now)
	s.armTimer("daily", next.Sub(now), func() {
		s.triggerReview(dailyReviewPrompt, "daily_review")
		s.armDailyReview()
	})
}

func (s *Scheduler) nextDailyReview(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), *s.cfg.DailyReviewHour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// proactivePass fires on the proactive cadence. It is a no-op unless at
// least one non-advisor session is active in the namespace.
func (s *Scheduler) proactivePass() {
	defer s.armTimer("proactive", s.cfg.ProactiveInterval, s.proactivePass)

	sessions, err := s.dir.ActiveSessions(s.ctx, s.cfg.Namespace)
	if err != nil {
		return
	}
	advisorID := s.AdvisorSessionID()
	for _, sess := range sessions {
		if sess.ID != advisorID && sess.Role != protocol.RoleAdvisor {
			s.triggerReview(proactiveReviewPrompt, "proactive_review")
			return
		}
	}
}

// triggerReview opens the review gate and sends a review prompt to the
// advisor.
func (s *Scheduler) triggerReview(prompt, kind string) {
	advisorID := s.AdvisorSessionID()
	if advisorID == "" {
		return
	}
	s.gate.BeginReview()
	if err := s.dir.SendMessage(s.ctx, advisorID, prompt, protocol.SenderTag); err != nil {
		s.gate.EndReview()
		_ = s.st.LogEvent(s.ctx, kind+"_send_failed", "scheduler", advisorID, "", err.Error())
		return
	}
	_ = s.st.LogEvent(s.ctx, kind, "scheduler", advisorID, "", "")
}
