package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"sage/pkg/advisor"
	"sage/pkg/directory"
	"sage/pkg/execution"
	"sage/pkg/memext"
	"sage/pkg/scheduler"
	"sage/pkg/store"
	"sage/pkg/tasks"

	"github.com/spf13/cobra"
)

// EngineSpawner abstracts spawning the engine subprocess for testability.
type EngineSpawner interface {
	SpawnEngine() (pid int, err error)
}

// ExecEngineSpawner forks a child process running `sage start --foreground`.
type ExecEngineSpawner struct{}

// SpawnEngine re-executes the current binary in foreground mode.
func (e *ExecEngineSpawner) SpawnEngine() (int, error) {
	child := exec.CommandContext(context.Background(), os.Args[0], "start", "--foreground") //nolint:gosec // intentionally re-executing self
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr
	if err := child.Start(); err != nil {
		return 0, fmt.Errorf("spawn engine: %w", err)
	}
	return child.Process.Pid, nil
}

// newStartCmd creates the "sage start" subcommand.
func newStartCmd() *cobra.Command {
	var foreground bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the sage engine",
		Long:  "Starts the advisor scheduler and the orchestration service.\nBy default the engine runs as a background daemon; --foreground keeps it\nattached to the terminal.",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return err
			}
			if err := bootstrapSageDir(paths.SageHome); err != nil {
				return fmt.Errorf("bootstrap sage dir: %w", err)
			}

			status, pid, err := DaemonStatus(paths.PIDPath)
			if err != nil {
				return err
			}
			switch status {
			case StatusRunning:
				fmt.Fprintf(cmd.OutOrStdout(), "engine already running (PID %d)\n", pid)
				return nil
			case StatusStale:
				_ = RemovePIDFile(paths.PIDPath)
			case StatusStopped:
			}

			if foreground {
				return runEngine(cmd, paths)
			}

			childPID, err := (&ExecEngineSpawner{}).SpawnEngine()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sage engine started (PID %d)\n", childPID)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "run in the foreground instead of daemonizing")
	return cmd
}

// runEngine wires and runs the full engine until SIGTERM/SIGINT.
func runEngine(cmd *cobra.Command, paths *Paths) error {
	cfg, err := LoadConfig(paths.ConfigPath)
	if err != nil {
		return err
	}

	if err := WritePIDFile(paths.PIDPath, os.Getpid()); err != nil {
		return err
	}
	ctx, cleanup := SetupSignalHandler(cmd.Context(), paths.PIDPath)
	defer cleanup()

	st, err := store.Open(paths.StateDBPath)
	if err != nil {
		return fmt.Errorf("open state db: %w", err)
	}
	defer func() { _ = st.Close() }()

	dir := directory.NewHTTP(cfg.DirectoryURL, cfg.Namespace)

	sched := scheduler.New(scheduler.Config{
		Namespace:       cfg.Namespace,
		AgentKind:       cfg.AgentKind,
		DailyReviewHour: &cfg.DailyReviewHour,
	}, dir, st)
	defer sched.Stop()

	tracker := tasks.NewTracker(tasks.Config{
		SimilarityThreshold: cfg.Similarity.TaskThreshold,
	})
	go tracker.Run(ctx)

	engine := execution.New(execution.Config{
		Namespace: cfg.Namespace,
		AgentKind: cfg.AgentKind,
	}, dir)

	extractor, err := memext.New(memext.Config{
		DedupThreshold: cfg.Similarity.MemoryDedupThreshold,
	})
	if err != nil {
		return fmt.Errorf("build extractor: %w", err)
	}

	var reviewer advisor.Reviewer
	if cfg.ReviewerURL != "" {
		reviewer = NewHTTPReviewer(cfg.ReviewerURL)
	}

	svc := advisor.New(advisor.Config{
		Namespace:       cfg.Namespace,
		ProfileID:       cfg.ProfileID,
		AgentKind:       cfg.AgentKind,
		DeliveryEnabled: cfg.DeliveryEnabled,
		AutoIteration:   cfg.AutoIteration,
	}, advisor.Deps{
		Directory: dir,
		Store:     st,
		Tracker:   tracker,
		Engine:    engine,
		Extractor: extractor,
		Reviewer:  reviewer,
		Locator:   sched,
		Gate:      sched.Gate(),
	})

	// Runtime toggles follow the config file without a restart.
	stopWatch := WatchConfig(paths.ConfigPath, func(next EngineConfig) {
		svc.SetDeliveryEnabled(next.DeliveryEnabled)
		svc.SetAutoIteration(next.AutoIteration)
	})
	defer stopWatch()

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "sage engine running (PID %d, namespace %s)\n", os.Getpid(), cfg.Namespace)
	if err := svc.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("orchestration service: %w", err)
	}

	// Give fire-and-forget work a moment to settle before teardown.
	time.Sleep(100 * time.Millisecond)
	fmt.Fprintln(cmd.OutOrStdout(), "sage engine stopped")
	return nil
}
