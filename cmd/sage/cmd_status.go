package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"sage/pkg/protocol"
	"sage/pkg/store"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// statusStyles holds the lipgloss styles for the status output. Plain text
// when stdout is not a terminal.
type statusStyles struct {
	good, warn, bad, label lipgloss.Style
}

func newStatusStyles(colored bool) statusStyles {
	if !colored {
		s := lipgloss.NewStyle()
		return statusStyles{good: s, warn: s, bad: s, label: s}
	}
	return statusStyles{
		good:  lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		warn:  lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		bad:   lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		label: lipgloss.NewStyle().Bold(true),
	}
}

// newStatusCmd creates the "sage status" subcommand.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show engine and advisor state",
		Long:  "Displays engine daemon status, the advisor liveness record, and\npending suggestion counts.",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return err
			}
			styles := newStatusStyles(isatty.IsTerminal(os.Stdout.Fd()))

			var b strings.Builder

			status, pid, err := DaemonStatus(paths.PIDPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(&b, "%s %s", styles.label.Render("engine:"), renderDaemonStatus(status, pid, styles))
			b.WriteString("\n")

			cfg, err := LoadConfig(paths.ConfigPath)
			if err != nil {
				return err
			}
			st, err := store.Open(paths.StateDBPath)
			if err != nil {
				return fmt.Errorf("open state db: %w", err)
			}
			defer func() { _ = st.Close() }()

			ctx := context.Background()
			rec, err := st.GetLiveness(ctx, cfg.Namespace)
			if err != nil {
				return err
			}
			fmt.Fprintf(&b, "%s %s\n", styles.label.Render("advisor:"), renderLiveness(rec, styles))

			pending, err := st.ListSuggestions(ctx, store.SuggestionFilter{
				Namespace: cfg.Namespace,
				Status:    protocol.SuggestionPending,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(&b, "%s %d pending\n", styles.label.Render("suggestions:"), len(pending))

			fmt.Fprint(cmd.OutOrStdout(), b.String())
			return nil
		},
	}
}

func renderDaemonStatus(status DaemonStatusValue, pid int, styles statusStyles) string {
	switch status {
	case StatusRunning:
		return styles.good.Render(fmt.Sprintf("running (PID %d)", pid))
	case StatusStale:
		return styles.warn.Render(fmt.Sprintf("stale PID file (PID %d dead)", pid))
	default:
		return styles.bad.Render("stopped")
	}
}

func renderLiveness(rec *protocol.AdvisorLiveness, styles statusStyles) string {
	if rec == nil {
		return styles.warn.Render("never started")
	}
	line := fmt.Sprintf("%s (session %s, machine %s)", rec.Status, rec.AdvisorSessionID, rec.MachineID)
	switch rec.Status {
	case protocol.LivenessRunning:
		return styles.good.Render(line)
	case protocol.LivenessIdle:
		return styles.warn.Render(line)
	default:
		return styles.bad.Render(line)
	}
}
