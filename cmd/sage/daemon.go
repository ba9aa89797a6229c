package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
)

// DaemonStatusValue classifies the engine process from the CLI's view.
type DaemonStatusValue string

const (
	// StatusRunning means the PID file names a live process.
	StatusRunning DaemonStatusValue = "running"
	// StatusStopped means there is no PID file.
	StatusStopped DaemonStatusValue = "stopped"
	// StatusStale means a PID file is left over from a dead process.
	StatusStale DaemonStatusValue = "stale"
)

// WritePIDFile records pid at path, owner-readable only.
func WritePIDFile(path string, pid int) error {
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o600); err != nil {
		return fmt.Errorf("write PID file %s: %w", path, err)
	}
	return nil
}

// ReadPIDFile parses the PID recorded at path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path) //nolint:gosec // PID file path is controlled by the application
	if err != nil {
		return 0, fmt.Errorf("read PID file %s: %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse PID from %s: %w", path, err)
	}
	return pid, nil
}

// RemovePIDFile deletes the PID file; a missing file is not an error.
func RemovePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove PID file %s: %w", path, err)
	}
	return nil
}

// IsProcessAlive probes pid with signal 0, which delivers nothing but fails
// when no such process exists.
func IsProcessAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// DaemonStatus resolves the PID file and process liveness into a status.
// The returned pid is 0 when stopped.
func DaemonStatus(pidPath string) (status DaemonStatusValue, pid int, err error) {
	pid, err = ReadPIDFile(pidPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return StatusStopped, 0, nil
	case err != nil:
		return StatusStopped, 0, fmt.Errorf("daemon status: %w", err)
	case IsProcessAlive(pid):
		return StatusRunning, pid, nil
	default:
		return StatusStale, pid, nil
	}
}

// StopDaemon sends SIGTERM to the process named by the PID file.
func StopDaemon(pidPath string) error {
	pid, err := ReadPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("stop daemon: %w", err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("send SIGTERM to PID %d: %w", pid, err)
	}
	return nil
}

// SetupSignalHandler cancels the returned context on SIGTERM/SIGINT. The
// cleanup function cancels too and removes the PID file; defer it next to
// the engine's other teardown.
func SetupSignalHandler(parent context.Context, pidPath string) (shutdownCtx context.Context, cleanup func()) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	cleanup = func() {
		cancel()
		_ = RemovePIDFile(pidPath)
	}

	return ctx, cleanup
}
