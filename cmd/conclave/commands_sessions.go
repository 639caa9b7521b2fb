package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/conclave-ai/conclave/internal/sessions"
	"github.com/spf13/cobra"
)

// buildSessionsCmd creates the "sessions" command group: listing stored
// sessions, dumping message history, and inspecting compaction branches.
func buildSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect stored sessions and their branches",
	}
	cmd.AddCommand(
		buildSessionsListCmd(),
		buildSessionsHistoryCmd(),
		buildSessionsBranchesCmd(),
	)
	return cmd
}

// fileStoreFor opens the file-backed session store for read commands.
func fileStoreFor() (*sessions.FileStore, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := buildSessionStore(cfg)
	if err != nil {
		return nil, err
	}
	fs, ok := store.(*sessions.FileStore)
	if !ok {
		return nil, fmt.Errorf("session store is not file-backed")
	}
	return fs, nil
}

func buildSessionsListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := fileStoreFor()
			if err != nil {
				return err
			}

			list, err := store.List(context.Background(), "", sessions.ListOptions{Limit: limit})
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKEY\tCHANNEL\tUPDATED")
			for _, s := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, s.Key, s.Channel, s.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum sessions to list")
	return cmd
}

func buildSessionsHistoryCmd() *cobra.Command {
	var (
		limit int
		full  bool
	)

	cmd := &cobra.Command{
		Use:   "history <session-id>",
		Short: "Print a session's message history",
		Long: `Print a session's message history. By default only the active branch
is shown (what the model sees); --full includes messages from compacted
branches too.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := fileStoreFor()
			if err != nil {
				return err
			}

			ctx := context.Background()
			history, err := store.GetHistory(ctx, args[0], limit)
			if full {
				history, err = store.FullHistory(ctx, args[0])
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, msg := range history {
				fmt.Fprintf(out, "[%s] %s: %s\n", msg.CreatedAt.Format("15:04:05"), msg.Role, msg.Content)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum messages to print")
	cmd.Flags().BoolVar(&full, "full", false, "Include compacted branches")
	return cmd
}

func buildSessionsBranchesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "branches <session-id>",
		Short: "List a session's compaction branches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := fileStoreFor()
			if err != nil {
				return err
			}

			branches, err := store.Branches(context.Background(), args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "BRANCH\tREASON\tCREATED")
			for _, b := range branches {
				fmt.Fprintf(w, "%s\t%s\t%s\n", b.ID, b.Reason, b.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}
}
