package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/conclave-ai/conclave/internal/agent"
	"github.com/conclave-ai/conclave/internal/board"
	"github.com/spf13/cobra"
)

// buildBoardCmd creates the "board" command group for the board of
// directors: roster, direct consultations, and meetings.
func buildBoardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Work with the board of specialist agents",
	}
	cmd.AddCommand(
		buildBoardAgentsCmd(),
		buildBoardConsultCmd(),
		buildBoardMeetingCmd(),
	)
	return cmd
}

func buildBoardAgentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List the board roster",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := buildCore(cfg)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ROLE\tNAME\tMODEL\tTOPIC")
			for _, a := range c.board.ListAgents() {
				model := a.ModelOverride
				if model == "" {
					model = "(default)"
				}
				fmt.Fprintf(w, "%s\t%s %s\t%s\t%s\n", a.Role, a.Emoji, a.DisplayName, model, a.TopicID)
			}
			return w.Flush()
		},
	}
}

func buildBoardConsultCmd() *cobra.Command {
	var fromRole string

	cmd := &cobra.Command{
		Use:   "consult <role> <question>",
		Short: "Ask one specialist a question",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := buildCore(cfg)
			if err != nil {
				return err
			}
			defer c.flush()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			requests := []board.ConsultationRequest{{
				ToAgent:  board.Role(args[0]),
				Question: args[1],
			}}
			responses := c.board.ExecuteConsultations(ctx, requests, board.Role(fromRole), 0, "")
			fmt.Fprintln(cmd.OutOrStdout(), board.FormatConsultationReport(responses))
			return nil
		},
	}
	cmd.Flags().StringVar(&fromRole, "from", "general", "Role asking the question")
	return cmd
}

func buildBoardMeetingCmd() *cobra.Command {
	var async bool

	cmd := &cobra.Command{
		Use:   "meeting <topic>",
		Short: "Convene a full board meeting on a topic",
		Long: `Convene a board meeting: every specialist weighs in on the topic in
parallel, then the general agent synthesizes a final recommendation.
Specialists that fail or time out are noted in the synthesis prompt; the
meeting proceeds with the inputs it has.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := buildCore(cfg)
			if err != nil {
				return err
			}
			defer c.flush()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			if async {
				dispatcher := NewBoardTaskDispatcher(c.taskStore, c.runner)
				meeting, err := c.board.ExecuteAsyncMeeting(ctx, args[0], board.RoleGeneral, dispatcher)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "meeting %s dispatched (%d specialist tasks)\n", meeting.ID, len(meeting.TaskIDs))
				return nil
			}

			meeting, err := c.board.ExecuteMeeting(ctx, args[0], board.RoleGeneral)
			if err != nil {
				return err
			}
			for _, input := range meeting.Inputs {
				status := "ok"
				if input.Failure != "" {
					status = string(input.Failure)
				}
				fmt.Fprintf(out, "-- %s [%s]\n", input.Agent, status)
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, meeting.Synthesis)
			return nil
		},
	}
	cmd.Flags().BoolVar(&async, "async", false, "Run specialists as background tasks")
	return cmd
}
