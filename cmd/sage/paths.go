package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths holds all resolved sage state file paths.
// Use ResolvePaths() to populate this struct with defaults + env overrides.
type Paths struct {
	SageHome    string // ~/.sage or SAGE_HOME
	PIDPath     string // sage.pid or SAGE_PID_PATH
	StateDBPath string // state.db or SAGE_DB_PATH
	ConfigPath  string // config.toml or SAGE_CONFIG_PATH
}

// ResolvePaths returns all sage paths, respecting env var overrides.
// Environment variables:
//   - SAGE_HOME: base directory for all sage state (default: ~/.sage)
//   - SAGE_PID_PATH: engine PID file (default: $SAGE_HOME/sage.pid)
//   - SAGE_DB_PATH: engine state database (default: $SAGE_HOME/state.db)
//   - SAGE_CONFIG_PATH: config file (default: $SAGE_HOME/config.toml)
//
// If SAGE_HOME is set, it becomes the base for all default paths. Specific
// env vars override both the default and the SAGE_HOME base.
func ResolvePaths() (*Paths, error) {
	home, err := resolveSageHome()
	if err != nil {
		return nil, err
	}
	return &Paths{
		SageHome:    home,
		PIDPath:     resolvePathWithEnv("SAGE_PID_PATH", home, "sage.pid"),
		StateDBPath: resolvePathWithEnv("SAGE_DB_PATH", home, "state.db"),
		ConfigPath:  resolvePathWithEnv("SAGE_CONFIG_PATH", home, "config.toml"),
	}, nil
}

// resolveSageHome returns the sage home directory from SAGE_HOME or ~/.sage.
func resolveSageHome() (string, error) {
	if v := os.Getenv("SAGE_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".sage"), nil
}

// resolvePathWithEnv returns the path from envKey if set, otherwise joins
// base + suffix.
func resolvePathWithEnv(envKey, base, suffix string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return filepath.Join(base, suffix)
}

// bootstrapSageDir creates the sage state directory with 0700 permissions.
// It is idempotent.
func bootstrapSageDir(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create sage dir %s: %w", dir, err)
	}
	return nil
}
