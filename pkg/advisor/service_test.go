package advisor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"sage/pkg/directory"
	"sage/pkg/execution"
	"sage/pkg/memext"
	"sage/pkg/protocol"
	"sage/pkg/store"
	"sage/pkg/tasks"
)

// fakeDirectory implements directory.Directory with an in-memory message
// history and captured emits.
type fakeDirectory struct {
	mu       sync.Mutex
	machines []protocol.Machine
	sessions map[string]*protocol.Session
	messages map[string][]protocol.Message
	sent     []sentMessage
	emitted  []directory.Event
	spawnErr string
	spawns   int
}

type sentMessage struct {
	sessionID, text, sender string
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		sessions: make(map[string]*protocol.Session),
		messages: make(map[string][]protocol.Message),
	}
}

func (f *fakeDirectory) addSession(id, workDir string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[id] = &protocol.Session{
		ID: id, Namespace: "default", WorkDir: workDir,
		Status: protocol.SessionActive,
	}
}

// addMessage appends to the session history and returns the message event.
func (f *fakeDirectory) addMessage(sessionID, role, sender, text string) directory.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	seq := int64(len(f.messages[sessionID]) + 1)
	msg := protocol.Message{
		Seq: seq, SessionID: sessionID, Sender: sender, Role: role,
		Text: text, Timestamp: time.Now(),
	}
	f.messages[sessionID] = append(f.messages[sessionID], msg)
	if s, ok := f.sessions[sessionID]; ok {
		s.LastSeq = seq
	}
	return directory.Event{Kind: directory.EventMessage, SessionID: sessionID, Message: &msg}
}

func (f *fakeDirectory) GetSession(_ context.Context, id string) (*protocol.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, &protocol.SessionNotFoundError{SessionID: id}
	}
	cp := *s
	return &cp, nil
}

func (f *fakeDirectory) ActiveSessions(context.Context, string) ([]protocol.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.Session
	for _, s := range f.sessions {
		if s.Status != protocol.SessionEnded {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeDirectory) OnlineMachines(context.Context, string) ([]protocol.Machine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Machine(nil), f.machines...), nil
}

func (f *fakeDirectory) Spawn(_ context.Context, req directory.SpawnRequest) (directory.SpawnResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spawns++
	if f.spawnErr != "" {
		return directory.SpawnResult{Success: false, Message: f.spawnErr}, nil
	}
	id := fmt.Sprintf("worker-%d", f.spawns)
	f.sessions[id] = &protocol.Session{
		ID: id, Namespace: req.Namespace, MachineID: req.MachineID,
		WorkDir: req.WorkDir, Status: protocol.SessionActive, Role: req.Options.Role,
	}
	return directory.SpawnResult{Success: true, SessionID: id}, nil
}

func (f *fakeDirectory) SendMessage(_ context.Context, sessionID, text, sender string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{sessionID, text, sender})
	return nil
}

func (f *fakeDirectory) MessagesAfter(_ context.Context, sessionID string, after int64, limit int) ([]protocol.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.Message
	for _, m := range f.messages[sessionID] {
		if m.Seq > after {
			out = append(out, m)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeDirectory) Subscribe(context.Context) (<-chan directory.Event, error) {
	return make(chan directory.Event), nil
}

func (f *fakeDirectory) Emit(_ context.Context, ev directory.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emitted = append(f.emitted, ev)
	return nil
}

func (f *fakeDirectory) sentTo(sessionID string) []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMessage
	for _, m := range f.sent {
		if m.sessionID == sessionID {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeDirectory) emittedKinds() []directory.EventKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []directory.EventKind
	for _, ev := range f.emitted {
		out = append(out, ev.Kind)
	}
	return out
}

// fakeLocator pins the advisor session id.
type fakeLocator struct{ id string }

func (f *fakeLocator) AdvisorSessionID() string { return f.id }
func (f *fakeLocator) IsAdvisorSession(_ context.Context, id string) bool {
	return id == f.id
}

// fakeGate is a plain review flag without the timeout behavior.
type fakeGate struct {
	mu        sync.Mutex
	reviewing bool
}

func (g *fakeGate) IsReviewing() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reviewing
}

func (g *fakeGate) EndReview() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reviewing = false
}

func (g *fakeGate) begin() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reviewing = true
}

// blockingReviewer waits on release before answering so tests can hold a
// review in flight.
type blockingReviewer struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
	chips   []protocol.SuggestionChip
	err     error
}

func (r *blockingReviewer) Review(ctx context.Context, _ protocol.SessionSummary) ([]protocol.SuggestionChip, error) {
	r.mu.Lock()
	r.calls++
	release := r.release
	r.mu.Unlock()
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return r.chips, r.err
}

func (r *blockingReviewer) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type testEnv struct {
	svc     *Service
	dir     *fakeDirectory
	st      *store.Store
	gate    *fakeGate
	tracker *tasks.Tracker
}

func newTestEnv(t *testing.T, cfg Config, reviewer Reviewer) *testEnv {
	t.Helper()
	dir := newFakeDirectory()
	dir.machines = []protocol.Machine{{ID: "m1", Namespace: "default", WorkDir: "/work", Online: true}}
	dir.addSession("advisor-1", "/work")
	st := testStore(t)
	gate := &fakeGate{}
	tracker := tasks.NewTracker(tasks.Config{})
	ext, err := memext.New(memext.Config{})
	if err != nil {
		t.Fatalf("extractor: %v", err)
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	// Tight activation poll so spawn tests finish quickly.
	cfg.SpawnActivationWait = 200 * time.Millisecond
	cfg.SpawnPollInterval = 5 * time.Millisecond
	svc := New(cfg, Deps{
		Directory: dir,
		Store:     st,
		Tracker:   tracker,
		Engine:    execution.New(execution.Config{Namespace: "default", ActivationWait: 200 * time.Millisecond, PollInterval: 5 * time.Millisecond}, dir),
		Extractor: ext,
		Reviewer:  reviewer,
		Locator:   &fakeLocator{id: "advisor-1"},
		Gate:      gate,
	})
	t.Cleanup(svc.debounce.Stop)
	return &testEnv{svc: svc, dir: dir, st: st, gate: gate, tracker: tracker}
}

func (e *testEnv) pendingCount(sessionID string) int {
	e.svc.mu.Lock()
	defer e.svc.mu.Unlock()
	return e.svc.pending[sessionID]
}

func TestThresholdForcesImmediateSummaryBuild(t *testing.T) {
	env := newTestEnv(t, Config{DeliveryEnabled: true, MessageThreshold: 10}, nil)
	env.dir.addSession("w1", "/work")
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		ev := env.dir.addMessage("w1", "user", "user", fmt.Sprintf("working on dark mode step %d", i))
		env.svc.handleEvent(ctx, ev)
	}
	if got := env.pendingCount("w1"); got != 9 {
		t.Fatalf("pending = %d, want 9", got)
	}
	if len(env.dir.sentTo("advisor-1")) != 0 {
		t.Fatal("summary delivered before threshold")
	}

	ev := env.dir.addMessage("w1", "assistant", "agent", "Edited settings.go to add the toggle")
	env.svc.handleEvent(ctx, ev)

	if got := env.pendingCount("w1"); got != 0 {
		t.Errorf("pending after build = %d, want 0", got)
	}
	msgs := env.dir.sentTo("advisor-1")
	if len(msgs) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(msgs))
	}
	if !strings.Contains(msgs[0].text, summaryHeader) || msgs[0].sender != protocol.SenderTag {
		t.Errorf("delivery = %+v", msgs[0])
	}
}

func TestOwnMessagesIgnored(t *testing.T) {
	env := newTestEnv(t, Config{DeliveryEnabled: true}, nil)
	env.dir.addSession("w1", "/work")
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		ev := env.dir.addMessage("w1", "system", protocol.SenderTag, "engine chatter")
		env.svc.handleEvent(ctx, ev)
	}
	if got := env.pendingCount("w1"); got != 0 {
		t.Errorf("pending = %d, want 0 for own messages", got)
	}
	if len(env.dir.sentTo("advisor-1")) != 0 {
		t.Error("own messages triggered a delivery")
	}
}

func TestEmptySummarySuppressesDeliveryButResetsCounter(t *testing.T) {
	env := newTestEnv(t, Config{DeliveryEnabled: true}, nil)
	env.dir.addSession("w1", "/work")

	// Force a pending count, then build with nothing but engine echoes in
	// the history.
	env.svc.mu.Lock()
	env.svc.pending["w1"] = 5
	env.svc.mu.Unlock()
	env.dir.addMessage("w1", "system", protocol.SenderTag, summaryHeader+" echo")

	env.svc.buildSummary(context.Background(), "w1")

	if got := env.pendingCount("w1"); got != 0 {
		t.Errorf("pending = %d, want 0 after skipped build", got)
	}
	if len(env.dir.sentTo("advisor-1")) != 0 {
		t.Error("empty summary was delivered")
	}
}

func TestDeliveryGates(t *testing.T) {
	env := newTestEnv(t, Config{DeliveryEnabled: true, MinDeliveryInterval: 30 * time.Second}, nil)
	env.dir.addSession("w1", "/work")
	ctx := context.Background()

	now := time.Now()
	env.svc.nowFunc = func() time.Time { return now }

	env.dir.addMessage("w1", "assistant", "agent", "Edited parser.go to handle nesting")
	env.svc.buildSummary(ctx, "w1")
	if n := len(env.dir.sentTo("advisor-1")); n != 1 {
		t.Fatalf("deliveries = %d, want 1", n)
	}

	// New content inside the rate-limit window: suppressed.
	env.dir.addMessage("w1", "assistant", "agent", "Created scanner.go with the state machine")
	now = now.Add(10 * time.Second)
	env.svc.buildSummary(ctx, "w1")
	if n := len(env.dir.sentTo("advisor-1")); n != 1 {
		t.Fatalf("deliveries = %d, want 1 inside rate limit", n)
	}

	// Past the window with changed content: delivered.
	env.dir.addMessage("w1", "assistant", "agent", "Modified engine.go error paths")
	now = now.Add(31 * time.Second)
	env.svc.buildSummary(ctx, "w1")
	if n := len(env.dir.sentTo("advisor-1")); n != 2 {
		t.Fatalf("deliveries = %d, want 2 past rate limit", n)
	}

	// Review in progress blocks delivery regardless of content.
	env.gate.begin()
	env.dir.addMessage("w1", "assistant", "agent", "Deleted legacy.go entirely")
	now = now.Add(31 * time.Second)
	env.svc.buildSummary(ctx, "w1")
	if n := len(env.dir.sentTo("advisor-1")); n != 2 {
		t.Fatalf("deliveries = %d, want 2 while reviewing", n)
	}
}

func TestCursorAlwaysAdvances(t *testing.T) {
	env := newTestEnv(t, Config{DeliveryEnabled: false}, nil)
	env.dir.addSession("w1", "/work")
	ctx := context.Background()

	env.dir.addMessage("w1", "assistant", "agent", "Edited a.go")
	env.dir.addMessage("w1", "assistant", "agent", "Edited b.go")
	env.svc.buildSummary(ctx, "w1")

	cur, err := env.st.GetCursor(ctx, "w1")
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	if cur.LastSeq != 2 {
		t.Errorf("cursor seq = %d, want 2", cur.LastSeq)
	}
	if cur.Summary == nil || len(cur.Summary.CodeChanges) != 2 {
		t.Errorf("summary = %+v", cur.Summary)
	}
	if len(env.dir.sentTo("advisor-1")) != 0 {
		t.Error("delivery happened with delivery disabled")
	}
}

func TestCursorAdvancesPastFilteredMessages(t *testing.T) {
	env := newTestEnv(t, Config{DeliveryEnabled: true}, nil)
	env.dir.addSession("w1", "/work")
	ctx := context.Background()

	// Only the engine's own traffic since the last build.
	env.dir.addMessage("w1", "user", protocol.SenderTag, "[SESSION UPDATE] session=w1 project=work")
	env.dir.addMessage("w1", "user", protocol.SenderTag, "Suggestion recorded.")
	env.dir.addMessage("w1", "user", protocol.SenderTag, "Message from the advisor regarding your task")
	env.svc.buildSummary(ctx, "w1")

	cur, err := env.st.GetCursor(ctx, "w1")
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	if cur.LastSeq != 3 {
		t.Errorf("cursor seq = %d, want 3", cur.LastSeq)
	}
	if len(env.dir.sentTo("advisor-1")) != 0 {
		t.Error("empty summary must not be delivered")
	}

	// The next real message is picked up from seq 4, not re-scanned from 0.
	env.dir.addMessage("w1", "assistant", "agent", "Edited c.go")
	env.svc.buildSummary(ctx, "w1")
	cur, err = env.st.GetCursor(ctx, "w1")
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	if cur.LastSeq != 4 {
		t.Errorf("cursor seq = %d, want 4", cur.LastSeq)
	}
	if cur.Summary == nil || cur.Summary.MessageCount != 1 {
		t.Errorf("summary = %+v", cur.Summary)
	}
}

func TestReviewSingleFlightPerSession(t *testing.T) {
	rev := &blockingReviewer{release: make(chan struct{})}
	env := newTestEnv(t, Config{}, rev)
	env.dir.addSession("w1", "/work")
	env.dir.addMessage("w1", "assistant", "agent", "Edited x.go then hit an error")
	ctx := context.Background()

	env.svc.startReview(ctx, "w1")
	waitFor(t, "first review call", func() bool { return rev.callCount() == 1 })

	// Second trigger while in flight: dropped, not queued.
	env.svc.startReview(ctx, "w1")
	time.Sleep(20 * time.Millisecond)
	if rev.callCount() != 1 {
		t.Fatalf("calls = %d, want 1 while in flight", rev.callCount())
	}

	close(rev.release)
	waitFor(t, "review result", func() bool {
		for _, k := range env.dir.emittedKinds() {
			if k == directory.EventReviewResult {
				return true
			}
		}
		return false
	})

	// In-flight flag cleared: a fresh trigger runs.
	env.svc.startReview(ctx, "w1")
	waitFor(t, "second review call", func() bool { return rev.callCount() == 2 })
}

func TestReviewErrorBroadcastsErrorEvent(t *testing.T) {
	rev := &blockingReviewer{err: errors.New("model unavailable")}
	env := newTestEnv(t, Config{}, rev)
	env.dir.addSession("w1", "/work")
	env.dir.addMessage("w1", "assistant", "agent", "Edited y.go")

	env.svc.startReview(context.Background(), "w1")
	waitFor(t, "error event", func() bool {
		for _, k := range env.dir.emittedKinds() {
			if k == directory.EventReviewError {
				return true
			}
		}
		return false
	})
}

func TestReviewChipsCapped(t *testing.T) {
	var chips []protocol.SuggestionChip
	for i := 0; i < 7; i++ {
		chips = append(chips, protocol.SuggestionChip{ID: fmt.Sprintf("c%d", i), Label: "x"})
	}
	rev := &blockingReviewer{chips: chips}
	env := newTestEnv(t, Config{}, rev)
	env.dir.addSession("w1", "/work")
	env.dir.addMessage("w1", "assistant", "agent", "Edited z.go")

	env.svc.startReview(context.Background(), "w1")
	waitFor(t, "capped result", func() bool {
		env.dir.mu.Lock()
		defer env.dir.mu.Unlock()
		for _, ev := range env.dir.emitted {
			if ev.Kind == directory.EventReviewResult {
				return len(ev.Chips) == 4
			}
		}
		return false
	})
}
