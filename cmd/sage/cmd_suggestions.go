package main

import (
	"context"
	"fmt"
	"strings"

	"sage/pkg/protocol"
	"sage/pkg/store"

	"github.com/spf13/cobra"
)

// truncateContent truncates s to maxLen characters, appending "..." if
// truncated.
func truncateContent(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// formatSuggestionsTable formats suggestions as a tabular string.
func formatSuggestionsTable(list []protocol.Suggestion) string {
	if len(list) == 0 {
		return "No suggestions found.\n"
	}

	const maxTitle = 50

	var b strings.Builder
	fmt.Fprintf(&b, "%-36s %-10s %-8s %-52s %s\n", "ID", "STATUS", "SEVERITY", "TITLE", "SESSION")
	for _, sg := range list {
		title := truncateContent(strings.ReplaceAll(sg.Title, "\n", " "), maxTitle)
		fmt.Fprintf(&b, "%-36s %-10s %-8s %-52s %s\n",
			sg.ID, sg.Status, sg.Severity, title, sg.SessionID)
	}
	return b.String()
}

// openStore opens the engine state database at the resolved default path.
func openStore() (*store.Store, error) {
	paths, err := ResolvePaths()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(paths.StateDBPath)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	return st, nil
}

// newSuggestionsListCmd creates the "sage suggestions list" subcommand.
func newSuggestionsListCmd() *cobra.Command {
	var statusFilter string
	var sessionFilter string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List suggestions",
		Long:  "List persisted advisor suggestions with optional filtering by status\nand session.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStore()
			if err != nil {
				return fmt.Errorf("suggestions list: %w", err)
			}
			defer func() { _ = st.Close() }()

			results, err := st.ListSuggestions(context.Background(), store.SuggestionFilter{
				Status:    statusFilter,
				SessionID: sessionFilter,
				Limit:     limit,
			})
			if err != nil {
				return fmt.Errorf("suggestions list: %w", err)
			}

			fmt.Fprint(cmd.OutOrStdout(), formatSuggestionsTable(results))
			return nil
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "filter by status (pending|accepted|rejected|stale|superseded)")
	cmd.Flags().StringVar(&sessionFilter, "session", "", "filter by target session id")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of suggestions to return")

	return cmd
}

// newSuggestionsResolveCmd creates the status-transition subcommands
// ("accept" and "reject" share the shape).
func newSuggestionsResolveCmd(use, short, toStatus string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return fmt.Errorf("suggestions %s: %w", use, err)
			}
			defer func() { _ = st.Close() }()

			ctx := context.Background()
			if _, err := st.GetSuggestion(ctx, args[0]); err != nil {
				return fmt.Errorf("suggestions %s: %w", use, err)
			}
			if err := st.UpdateSuggestionStatus(ctx, args[0], toStatus); err != nil {
				return fmt.Errorf("suggestions %s: %w", use, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "suggestion %s %s\n", args[0], toStatus)
			return nil
		},
	}
}

// newSuggestionsCmd creates the "sage suggestions" parent command.
func newSuggestionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suggestions",
		Short: "Browse and resolve advisor suggestions",
	}
	cmd.AddCommand(
		newSuggestionsListCmd(),
		newSuggestionsResolveCmd("accept", "Accept a suggestion", protocol.SuggestionAccepted),
		newSuggestionsResolveCmd("reject", "Reject a suggestion", protocol.SuggestionRejected),
	)
	return cmd
}
