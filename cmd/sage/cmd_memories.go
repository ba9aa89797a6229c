package main

import (
	"context"
	"fmt"
	"strings"

	"sage/pkg/protocol"
	"sage/pkg/store"

	"github.com/spf13/cobra"
)

// formatMemoriesTable formats a slice of memories as a tabular string.
func formatMemoriesTable(memories []protocol.Memory) string {
	if len(memories) == 0 {
		return "No memories found.\n"
	}

	const maxContent = 60

	var b strings.Builder
	fmt.Fprintf(&b, "%-36s %-12s %-62s %-10s %s\n", "ID", "TYPE", "CONTENT", "IMPORTANCE", "EXPIRES")
	for _, m := range memories {
		content := truncateContent(strings.ReplaceAll(m.Content, "\n", " "), maxContent)
		expires := m.ExpiresAt
		if expires == "" {
			expires = "-"
		}
		fmt.Fprintf(&b, "%-36s %-12s %-62s %-10.2f %s\n",
			m.ID, m.Type, content, m.Importance, expires)
	}
	return b.String()
}

// newMemoriesListCmd creates the "sage memories list" subcommand.
func newMemoriesListCmd() *cobra.Command {
	var profileID string
	var minImportance float64
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List memories",
		Long:  "List a profile's memories ordered by importance, with a minimum\nimportance floor and a limit.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStore()
			if err != nil {
				return fmt.Errorf("memories list: %w", err)
			}
			defer func() { _ = st.Close() }()

			results, err := st.ListProfileMemories(context.Background(), profileID, store.ProfileMemoryOpts{
				MinImportance: minImportance,
				Limit:         limit,
			})
			if err != nil {
				return fmt.Errorf("memories list: %w", err)
			}

			fmt.Fprint(cmd.OutOrStdout(), formatMemoriesTable(results))
			return nil
		},
	}

	cmd.Flags().StringVar(&profileID, "profile", "default", "memory profile id")
	cmd.Flags().Float64Var(&minImportance, "min-importance", 0, "minimum importance floor")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of memories to return")

	return cmd
}

// newMemoriesSearchCmd creates the "sage memories search" subcommand.
func newMemoriesSearchCmd() *cobra.Command {
	var profileID string
	var typeFilter string
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over memories",
		Long:  "Searches memory contents with BM25 ranking, optionally filtered by\nprofile and type.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return fmt.Errorf("memories search: %w", err)
			}
			defer func() { _ = st.Close() }()

			results, err := st.SearchMemories(context.Background(), strings.Join(args, " "), store.MemorySearchOpts{
				ProfileID: profileID,
				Type:      protocol.MemoryType(typeFilter),
				Limit:     limit,
			})
			if err != nil {
				return fmt.Errorf("memories search: %w", err)
			}

			fmt.Fprint(cmd.OutOrStdout(), formatMemoriesTable(results))
			return nil
		},
	}

	cmd.Flags().StringVar(&profileID, "profile", "", "filter by memory profile id")
	cmd.Flags().StringVar(&typeFilter, "type", "", "filter by memory type (context|preference|knowledge|experience)")
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of results")

	return cmd
}

// newMemoriesCmd creates the "sage memories" parent command.
func newMemoriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memories",
		Short: "Browse the extracted memory store",
	}
	cmd.AddCommand(newMemoriesListCmd(), newMemoriesSearchCmd())
	return cmd
}
