// Package advisor implements the event-driven orchestration service: message
// ingestion, idle detection, two-tier suggestion generation, summarization,
// directive dispatch, and the task feedback loop.
package advisor

import (
	"context"
	"sync"
	"time"

	"sage/pkg/directory"
	"sage/pkg/execution"
	"sage/pkg/memext"
	"sage/pkg/protocol"
	"sage/pkg/store"
	"sage/pkg/tasks"
)

// AdvisorLocator identifies the advisor session. Satisfied by
// *scheduler.Scheduler.
type AdvisorLocator interface {
	AdvisorSessionID() string
	IsAdvisorSession(ctx context.Context, id string) bool
}

// ReviewFlag is the review-in-progress gate shared with the scheduler.
// Satisfied by *scheduler.ReviewGate.
type ReviewFlag interface {
	IsReviewing() bool
	EndReview()
}

// Reviewer is the external Layer-2 review backend. Implementations are
// expected to be slow; the service bounds every call with a hard timeout.
type Reviewer interface {
	Review(ctx context.Context, digest protocol.SessionSummary) ([]protocol.SuggestionChip, error)
}

// Config holds Service tuning knobs.
type Config struct {
	Namespace string
	ProfileID string // memory profile extracted summaries land under (default "default")
	AgentKind string // agent kind for directive-spawned workers (default "claude")

	SummaryDebounce  time.Duration // quiet period before a summary build (default 60s)
	IdleDebounce     time.Duration // quiet period before an idle check (default 30s)
	MessageThreshold int           // pending messages forcing an immediate build (default 10)

	DeliveryEnabled     bool          // global summary delivery switch
	MinDeliveryInterval time.Duration // per-session delivery rate limit (default 30s)

	ReviewTimeout time.Duration // reviewer call hard timeout (default 30s)
	MaxReviewChip int           // chip cap per reviewer call (default 4)
	MaxIdleChips  int           // chip cap per idle check (default 6)

	AutoIteration bool // forward action_request directives to the engine

	SpawnActivationWait time.Duration // activation poll budget for spawned workers (default 15s)
	SpawnPollInterval   time.Duration // activation poll cadence (default 500ms)

	MonitorInterval time.Duration // task monitor cadence (default 1m)
	TaskStaleAfter  time.Duration // running time before a task counts as stale (default 10m)
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.ProfileID == "" {
		out.ProfileID = "default"
	}
	if out.AgentKind == "" {
		out.AgentKind = "claude"
	}
	if out.SummaryDebounce == 0 {
		out.SummaryDebounce = 60 * time.Second
	}
	if out.IdleDebounce == 0 {
		out.IdleDebounce = 30 * time.Second
	}
	if out.MessageThreshold == 0 {
		out.MessageThreshold = 10
	}
	if out.MinDeliveryInterval == 0 {
		out.MinDeliveryInterval = 30 * time.Second
	}
	if out.ReviewTimeout == 0 {
		out.ReviewTimeout = 30 * time.Second
	}
	if out.MaxReviewChip == 0 {
		out.MaxReviewChip = 4
	}
	if out.MaxIdleChips == 0 {
		out.MaxIdleChips = 6
	}
	if out.SpawnActivationWait == 0 {
		out.SpawnActivationWait = 15 * time.Second
	}
	if out.SpawnPollInterval == 0 {
		out.SpawnPollInterval = 500 * time.Millisecond
	}
	if out.MonitorInterval == 0 {
		out.MonitorInterval = time.Minute
	}
	if out.TaskStaleAfter == 0 {
		out.TaskStaleAfter = 10 * time.Minute
	}
	return out
}

// Service is the orchestration event loop. It is the sole writer of its
// per-session timer maps and the in-flight review set.
type Service struct {
	cfg       Config
	dir       directory.Directory
	st        *store.Store
	tracker   *tasks.Tracker
	engine    *execution.Engine
	extractor *memext.Extractor
	reviewer  Reviewer
	locator   AdvisorLocator
	gate      ReviewFlag

	debounce *Debouncer

	mu            sync.Mutex
	pending       map[string]int       // per-session pending message counters
	thinkingSince map[string]time.Time // sessions currently in a thinking state
	lastDelivery  map[string]time.Time // per-session last summary delivery
	lastHash      map[string]string    // per-session last delivered content hash
	reviewing     map[string]struct{}  // in-flight Layer-2 reviews

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// Deps bundles the Service's collaborators.
type Deps struct {
	Directory directory.Directory
	Store     *store.Store
	Tracker   *tasks.Tracker
	Engine    *execution.Engine
	Extractor *memext.Extractor
	Reviewer  Reviewer // nil disables Layer-2 reviews
	Locator   AdvisorLocator
	Gate      ReviewFlag
}

// New creates a Service. Call Run to start consuming events.
func New(cfg Config, deps Deps) *Service {
	return &Service{
		cfg:           cfg.withDefaults(),
		dir:           deps.Directory,
		st:            deps.Store,
		tracker:       deps.Tracker,
		engine:        deps.Engine,
		extractor:     deps.Extractor,
		reviewer:      deps.Reviewer,
		locator:       deps.Locator,
		gate:          deps.Gate,
		debounce:      NewDebouncer(),
		pending:       make(map[string]int),
		thinkingSince: make(map[string]time.Time),
		lastDelivery:  make(map[string]time.Time),
		lastHash:      make(map[string]string),
		reviewing:     make(map[string]struct{}),
		nowFunc:       time.Now,
	}
}

// SetDeliveryEnabled flips the global summary delivery switch at runtime.
func (s *Service) SetDeliveryEnabled(v bool) {
	s.mu.Lock()
	s.cfg.DeliveryEnabled = v
	s.mu.Unlock()
}

// SetAutoIteration flips the action_request forwarding switch at runtime.
func (s *Service) SetAutoIteration(v bool) {
	s.mu.Lock()
	s.cfg.AutoIteration = v
	s.mu.Unlock()
}

func (s *Service) deliveryEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.DeliveryEnabled
}

func (s *Service) autoIteration() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.AutoIteration
}

// Run consumes the directory event stream until ctx is cancelled. It also
// drives the low-frequency task monitor.
func (s *Service) Run(ctx context.Context) error {
	events, err := s.dir.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer s.debounce.Stop()

	monitor := time.NewTicker(s.cfg.MonitorInterval)
	defer monitor.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-monitor.C:
			s.monitorTasks(ctx)
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.handleEvent(ctx, ev)
		}
	}
}

// handleEvent routes one directory event.
func (s *Service) handleEvent(ctx context.Context, ev directory.Event) {
	switch ev.Kind {
	case directory.EventMessage:
		s.ingestMessage(ctx, ev)
	case directory.EventThinkingStarted:
		s.mu.Lock()
		s.thinkingSince[ev.SessionID] = s.nowFunc()
		s.mu.Unlock()
	case directory.EventThinkingCompleted:
		s.mu.Lock()
		delete(s.thinkingSince, ev.SessionID)
		s.mu.Unlock()
		s.idleCheck(ctx, ev.SessionID)
		s.startReview(ctx, ev.SessionID)
		s.taskThinkingCompleted(ctx, ev.SessionID)
	case directory.EventSessionEnded:
		s.taskSessionEnded(ctx, ev.SessionID)
		s.dropSession(ev.SessionID)
	}
}

// dropSession clears all per-session state after the session ends.
func (s *Service) dropSession(sessionID string) {
	s.debounce.Cancel("summary:" + sessionID)
	s.debounce.Cancel("idle:" + sessionID)
	s.mu.Lock()
	delete(s.pending, sessionID)
	delete(s.thinkingSince, sessionID)
	delete(s.lastDelivery, sessionID)
	delete(s.lastHash, sessionID)
	s.mu.Unlock()
}
