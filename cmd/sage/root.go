package main

import (
	"fmt"

	"sage/internal/version"

	"github.com/spf13/cobra"
)

// newRootCmd creates the root sage command with all subcommands attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sage",
		Short:         "Sage advisor orchestration engine",
		Long:          "sage supervises AI coding-agent sessions: it keeps an advisor session\nalive, summarizes worker activity, surfaces suggestions, and dispatches\nadvisor directives.",
		Version:       fmt.Sprintf("sage %s", version.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.AddCommand(
		newStartCmd(),
		newStopCmd(),
		newStatusCmd(),
		newSuggestionsCmd(),
		newMemoriesCmd(),
		newDashCmd(),
	)

	return cmd
}
