package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"
)

// EngineConfig is the on-disk TOML configuration for the sage engine.
type EngineConfig struct {
	// DirectoryURL is the base URL of the session directory service.
	DirectoryURL string `toml:"directory_url"`
	Namespace    string `toml:"namespace"`
	ProfileID    string `toml:"profile_id"`
	AgentKind    string `toml:"agent_kind"`

	// ReviewerURL enables Layer-2 reviews when set.
	ReviewerURL string `toml:"reviewer_url"`

	DailyReviewHour int `toml:"daily_review_hour"`

	// Runtime toggles, reloaded live when the config file changes.
	DeliveryEnabled bool `toml:"delivery_enabled"`
	AutoIteration   bool `toml:"auto_iteration"`

	Similarity SimilarityConfig `toml:"similarity"`
}

// SimilarityConfig tunes the duplicate-detection thresholds.
type SimilarityConfig struct {
	// TaskThreshold is the Jaccard score above which a spawn request is
	// treated as duplicate work.
	TaskThreshold float64 `toml:"task_threshold"`
	// MemoryDedupThreshold is the content similarity above which an
	// extracted memory merges into an existing one.
	MemoryDedupThreshold float64 `toml:"memory_dedup_threshold"`
}

func defaultConfig() EngineConfig {
	return EngineConfig{
		DirectoryURL:    "http://127.0.0.1:7433",
		Namespace:       "default",
		ProfileID:       "default",
		AgentKind:       "claude",
		DailyReviewHour: 6,
		DeliveryEnabled: true,
		AutoIteration:   false,
		Similarity: SimilarityConfig{
			TaskThreshold:        0.5,
			MemoryDedupThreshold: 0.7,
		},
	}
}

// LoadConfig reads the TOML config at path, falling back to defaults when
// the file does not exist. SAGE_DIRECTORY_URL and SAGE_NAMESPACE override
// the file.
func LoadConfig(path string) (EngineConfig, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path) //nolint:gosec // config path is controlled by the application
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Defaults only.
	case err != nil:
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if v := os.Getenv("SAGE_DIRECTORY_URL"); v != "" {
		cfg.DirectoryURL = v
	}
	if v := os.Getenv("SAGE_NAMESPACE"); v != "" {
		cfg.Namespace = v
	}
	return cfg, nil
}

// WatchConfig watches the config file and invokes onChange with the freshly
// parsed config whenever it is rewritten. Parse failures keep the previous
// config. Returns a stop function; if the watcher cannot be created the
// config simply stays fixed for the process lifetime.
func WatchConfig(path string, onChange func(EngineConfig)) (stop func()) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return func() {}
	}
	// Watch the directory: editors replace the file, which drops a watch on
	// the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		var last time.Time
		for {
			select {
			case <-done:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				// Editors fire bursts of events per save.
				if time.Since(last) < 100*time.Millisecond {
					continue
				}
				last = time.Now()
				if cfg, err := LoadConfig(path); err == nil {
					onChange(cfg)
				}
			case <-watcher.Errors:
			}
		}
	}()

	return func() {
		close(done)
		_ = watcher.Close()
	}
}
