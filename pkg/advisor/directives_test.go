package advisor

import (
	"context"
	"strings"
	"testing"
	"time"

	"sage/pkg/protocol"
	"sage/pkg/store"
	"sage/pkg/tasks"
)

func advisorMessage(text string) protocol.Message {
	return protocol.Message{
		Seq: 1, SessionID: "advisor-1", Sender: "agent", Role: "assistant",
		Text: text, Timestamp: time.Now(),
	}
}

func TestSuggestionDirectivePersistsAndAccepts(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ctx := context.Background()

	env.svc.handleAdvisorMessage(ctx, advisorMessage(
		protocol.DirectiveMarker+` {"type":"suggestion","session_id":"w1","title":"Split the handler","detail":"The handler does too much.","category":"refactor","severity":"medium","confidence":0.8,"scope":"session"}`))

	list, err := env.st.ListSuggestions(ctx, store.SuggestionFilter{Namespace: "default"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("suggestions = %d, want 1", len(list))
	}
	sg := list[0]
	if sg.Title != "Split the handler" || sg.Status != protocol.SuggestionAccepted {
		t.Errorf("suggestion = %+v", sg)
	}
	if sg.SourceSessionID != "advisor-1" {
		t.Errorf("source = %q", sg.SourceSessionID)
	}

	// Confirmation goes back to the advisor.
	msgs := env.dir.sentTo("advisor-1")
	if len(msgs) != 1 || !strings.Contains(msgs[0].text, "Suggestion recorded") {
		t.Errorf("advisor notifications = %+v", msgs)
	}
}

func TestMemoryDirectivePersistsWithExpiry(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ctx := context.Background()

	env.svc.handleAdvisorMessage(ctx, advisorMessage(
		protocol.DirectiveMarker+` {"type":"memory","profile_id":"p1","memory_type":"preference","content":"User prefers table-driven tests","importance":0.8,"expiry_days":90}`))

	mems, err := env.st.SearchMemories(ctx, "table-driven tests", store.MemorySearchOpts{ProfileID: "p1"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(mems) != 1 {
		t.Fatalf("memories = %d, want 1", len(mems))
	}
	m := mems[0]
	if m.Type != protocol.MemoryPreference || m.Importance != 0.8 || m.ExpiresAt == "" {
		t.Errorf("memory = %+v", m)
	}
	if m.Metadata.Source != "advisor_directive" {
		t.Errorf("source = %q", m.Metadata.Source)
	}
	// Expiry must stay lexicographically comparable with sqlite's
	// datetime('now') and with extractor-written memories.
	if _, err := time.Parse(time.DateTime, m.ExpiresAt); err != nil {
		t.Errorf("expires_at %q not in datetime shape: %v", m.ExpiresAt, err)
	}
}

func TestDirectiveClearsReviewFlag(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	env.gate.begin()

	// No directives: the flag stays.
	env.svc.handleAdvisorMessage(context.Background(), advisorMessage("Still reviewing the sessions."))
	if !env.gate.IsReviewing() {
		t.Fatal("flag cleared by a plain message")
	}

	env.svc.handleAdvisorMessage(context.Background(), advisorMessage(
		protocol.DirectiveMarker+` {"type":"memory","memory_type":"context","content":"Review done","importance":0.5}`))
	if env.gate.IsReviewing() {
		t.Fatal("flag not cleared by a directive")
	}
}

func TestActionRequestRespectsAutoIterationToggle(t *testing.T) {
	env := newTestEnv(t, Config{AutoIteration: false}, nil)
	ctx := context.Background()

	directive := protocol.DirectiveMarker + ` {"type":"action_request","action_type":"cleanup","steps":[{"type":"command","content":"go fmt ./..."}],"reason":"formatting drift","risk_level":"low","reversible":true,"confidence":0.9}`

	env.svc.handleAdvisorMessage(ctx, advisorMessage(directive))
	time.Sleep(20 * time.Millisecond)
	env.dir.mu.Lock()
	spawns := env.dir.spawns
	env.dir.mu.Unlock()
	if spawns != 0 {
		t.Fatal("action executed with auto-iteration disabled")
	}

	env.svc.SetAutoIteration(true)
	env.svc.handleAdvisorMessage(ctx, advisorMessage(directive))
	waitFor(t, "action execution", func() bool {
		env.dir.mu.Lock()
		defer env.dir.mu.Unlock()
		return env.dir.spawns == 1
	})
	waitFor(t, "action outcome notification", func() bool {
		for _, m := range env.dir.sentTo("advisor-1") {
			if strings.Contains(m.text, "dispatched") {
				return true
			}
		}
		return false
	})
}

func TestSpawnSessionDirectiveSpawnsAndBriefs(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ctx := context.Background()

	env.svc.handleAdvisorMessage(ctx, advisorMessage(
		protocol.DirectiveMarker+` {"type":"spawn_session","description":"Add dark mode toggle to settings","reason":"requested by advisor","expected_outcome":"toggle works","working_dir":"/work"}`))

	waitFor(t, "worker brief", func() bool { return len(env.dir.sentTo("worker-1")) == 1 })
	brief := env.dir.sentTo("worker-1")[0]
	if !strings.Contains(brief.text, "dark mode toggle") || !strings.Contains(brief.text, "Expected outcome") {
		t.Errorf("brief = %q", brief.text)
	}
	if brief.sender != protocol.SenderTag {
		t.Errorf("sender = %q", brief.sender)
	}

	task, ok := env.tracker.BySession("worker-1")
	if !ok || task.Status != tasks.StatusRunning {
		t.Fatalf("task = %+v, ok = %v", task, ok)
	}
}

func TestSpawnSessionDropsDuplicateWork(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ctx := context.Background()

	env.tracker.Create(tasks.CreateParams{
		SessionID:   "w-existing",
		Description: "Add dark mode toggle to settings",
	})

	env.svc.handleAdvisorMessage(ctx, advisorMessage(
		protocol.DirectiveMarker+` {"type":"spawn_session","description":"Implement dark mode switch in settings page","working_dir":"/work"}`))

	time.Sleep(50 * time.Millisecond)
	env.dir.mu.Lock()
	spawns := env.dir.spawns
	env.dir.mu.Unlock()
	if spawns != 0 {
		t.Fatal("duplicate work spawned a session")
	}
}

func TestSendToSessionOnlyReachesTrackedSessions(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	env.dir.addSession("w1", "/work")
	ctx := context.Background()

	env.svc.handleAdvisorMessage(ctx, advisorMessage(
		protocol.DirectiveMarker+` {"type":"send_to_session","session_id":"w1","text":"Try the other branch"}`))
	if len(env.dir.sentTo("w1")) != 0 {
		t.Fatal("relayed into an untracked session")
	}

	env.tracker.Create(tasks.CreateParams{SessionID: "w1", Description: "Improve branch handling"})
	env.svc.handleAdvisorMessage(ctx, advisorMessage(
		protocol.DirectiveMarker+` {"type":"send_to_session","session_id":"w1","text":"Try the other branch"}`))

	msgs := env.dir.sentTo("w1")
	if len(msgs) != 1 {
		t.Fatalf("relays = %d, want 1", len(msgs))
	}
	if !strings.Contains(msgs[0].text, "Message from the advisor") ||
		!strings.Contains(msgs[0].text, "Try the other branch") {
		t.Errorf("relay = %q", msgs[0].text)
	}
}

func TestMultipleDirectivesDispatchInOrder(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ctx := context.Background()

	env.svc.handleAdvisorMessage(ctx, advisorMessage(
		protocol.DirectiveMarker+` {"type":"memory","memory_type":"knowledge","content":"Build uses make generate first","importance":0.6}`+
			"\nsome commentary\n"+
			protocol.DirectiveMarker+` malformed {{{`+
			"\n"+
			protocol.DirectiveMarker+` {"type":"suggestion","session_id":"w1","title":"Pin the linter version","detail":"CI drift.","category":"ci","severity":"low","confidence":0.7,"scope":"project"}`))

	mems, err := env.st.SearchMemories(ctx, "make generate", store.MemorySearchOpts{})
	if err != nil || len(mems) != 1 {
		t.Fatalf("memories = %d, err = %v", len(mems), err)
	}
	list, err := env.st.ListSuggestions(ctx, store.SuggestionFilter{Namespace: "default"})
	if err != nil || len(list) != 1 {
		t.Fatalf("suggestions = %d, err = %v", len(list), err)
	}
}
