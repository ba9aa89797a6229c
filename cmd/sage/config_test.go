package main

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestLoadConfigDefaultsWhenMissing(t *testing.T) {
	t.Setenv("SAGE_DIRECTORY_URL", "")
	t.Setenv("SAGE_NAMESPACE", "")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Namespace != "default" || cfg.AgentKind != "claude" || !cfg.DeliveryEnabled {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.AutoIteration {
		t.Error("auto_iteration should default to off")
	}
	if cfg.Similarity.TaskThreshold != 0.5 || cfg.Similarity.MemoryDedupThreshold != 0.7 {
		t.Errorf("similarity defaults = %+v", cfg.Similarity)
	}
}

func TestLoadConfigFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
directory_url = "http://10.0.0.5:7433"
namespace = "team-a"
daily_review_hour = 8
delivery_enabled = false
auto_iteration = true
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("SAGE_DIRECTORY_URL", "")
	t.Setenv("SAGE_NAMESPACE", "")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.DirectoryURL != "http://10.0.0.5:7433" || cfg.Namespace != "team-a" {
		t.Errorf("config = %+v", cfg)
	}
	if cfg.DailyReviewHour != 8 || cfg.DeliveryEnabled || !cfg.AutoIteration {
		t.Errorf("config = %+v", cfg)
	}

	// Env wins over the file.
	t.Setenv("SAGE_NAMESPACE", "override")
	cfg, err = LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig with env: %v", err)
	}
	if cfg.Namespace != "override" {
		t.Errorf("namespace = %q, want env override", cfg.Namespace)
	}
}

func TestLoadConfigRejectsMalformedTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("namespace = [broken"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestWatchConfigReloadsOnWrite(t *testing.T) {
	t.Setenv("SAGE_DIRECTORY_URL", "")
	t.Setenv("SAGE_NAMESPACE", "")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("delivery_enabled = true\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	var mu sync.Mutex
	var got []EngineConfig
	stop := WatchConfig(path, func(cfg EngineConfig) {
		mu.Lock()
		got = append(got, cfg)
		mu.Unlock()
	})
	defer stop()

	// Let the watcher attach before rewriting.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte("delivery_enabled = false\nauto_iteration = true\n"), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		var last EngineConfig
		if n > 0 {
			last = got[n-1]
		}
		mu.Unlock()
		if n > 0 && !last.DeliveryEnabled && last.AutoIteration {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("config reload not observed")
}
