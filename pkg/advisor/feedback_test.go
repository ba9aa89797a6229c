package advisor

import (
	"context"
	"strings"
	"testing"
	"time"

	"sage/pkg/tasks"
)

func TestWaitingForInputPushesFeedback(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	env.dir.addSession("w1", "/work")
	ctx := context.Background()

	task := env.tracker.Create(tasks.CreateParams{SessionID: "w1", Description: "Migrate the config loader"})
	env.tracker.MarkRunning(task.ID)

	env.dir.addMessage("w1", "assistant", "agent", "I found two config formats. Should I keep backward compatibility with the old one?")
	env.svc.taskThinkingCompleted(ctx, "w1")

	msgs := env.dir.sentTo("advisor-1")
	if len(msgs) != 1 {
		t.Fatalf("notifications = %d, want 1", len(msgs))
	}
	if !strings.Contains(msgs[0].text, "waiting for input") ||
		!strings.Contains(msgs[0].text, "backward compatibility") {
		t.Errorf("notification = %q", msgs[0].text)
	}
}

func TestProgressMessageProducesNoFeedback(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	env.dir.addSession("w1", "/work")

	task := env.tracker.Create(tasks.CreateParams{SessionID: "w1", Description: "Migrate the config loader"})
	env.tracker.MarkRunning(task.ID)

	env.dir.addMessage("w1", "assistant", "agent", "Migrated the loader and all call sites compile.")
	env.svc.taskThinkingCompleted(context.Background(), "w1")

	if n := len(env.dir.sentTo("advisor-1")); n != 0 {
		t.Errorf("notifications = %d, want 0", n)
	}
}

func TestSessionEndedClassifiesOutcome(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ctx := context.Background()

	env.dir.addSession("w1", "/work")
	tk1 := env.tracker.Create(tasks.CreateParams{SessionID: "w1", Description: "Fix the flaky watcher test"})
	env.tracker.MarkRunning(tk1.ID)
	env.dir.addMessage("w1", "assistant", "agent", "All watcher tests pass now.")
	env.svc.taskSessionEnded(ctx, "w1")

	got, _ := env.tracker.Get(tk1.ID)
	if got.Status != tasks.StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}

	env.dir.addSession("w2", "/work")
	tk2 := env.tracker.Create(tasks.CreateParams{SessionID: "w2", Description: "Upgrade the storage driver"})
	env.tracker.MarkRunning(tk2.ID)
	env.dir.addMessage("w2", "assistant", "agent", "The upgrade failed: driver panics on open.")
	env.svc.taskSessionEnded(ctx, "w2")

	got, _ = env.tracker.Get(tk2.ID)
	if got.Status != tasks.StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}

	// Both terminal outcomes reach the advisor.
	var completed, failed bool
	for _, m := range env.dir.sentTo("advisor-1") {
		if strings.Contains(m.text, "completed") {
			completed = true
		}
		if strings.Contains(m.text, "failed") {
			failed = true
		}
	}
	if !completed || !failed {
		t.Errorf("advisor notifications missing outcomes: completed=%v failed=%v", completed, failed)
	}
}

func TestMonitorQuietWhenNoStaleTasks(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ctx := context.Background()

	task := env.tracker.Create(tasks.CreateParams{SessionID: "w1", Description: "Refresh the dashboard"})
	env.tracker.MarkRunning(task.ID)

	env.svc.monitorTasks(ctx)
	if n := len(env.dir.sentTo("advisor-1")); n != 0 {
		t.Fatalf("digest sent with no stale task: %d", n)
	}
}

func TestMonitorDigestsWhenTaskStale(t *testing.T) {
	env := newTestEnv(t, Config{TaskStaleAfter: 10 * time.Millisecond}, nil)
	ctx := context.Background()

	task := env.tracker.Create(tasks.CreateParams{SessionID: "w1", Description: "Refresh the dashboard"})
	env.tracker.MarkRunning(task.ID)
	time.Sleep(20 * time.Millisecond)

	env.svc.monitorTasks(ctx)
	msgs := env.dir.sentTo("advisor-1")
	if len(msgs) != 1 {
		t.Fatalf("digests = %d, want 1", len(msgs))
	}
	if !strings.Contains(msgs[0].text, "Refresh the dashboard") {
		t.Errorf("digest = %q", msgs[0].text)
	}
}
