package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/conclave-ai/conclave/internal/board"
	"github.com/spf13/cobra"
)

// buildTurnCmd creates the "turn" command: run one user turn through the
// full pipeline (board routing, lanes, failover, compaction) and print the
// assistant's reply.
func buildTurnCmd() *cobra.Command {
	var (
		sessionKey string
		topicID    string
	)

	cmd := &cobra.Command{
		Use:   "turn <message>",
		Short: "Run one user turn through the full pipeline",
		Long: `Run one user turn through the full pipeline: board routing picks an
agent role, the turn is serialized on its session lane, and the reply is
driven to completion with auth-profile failover and automatic compaction.

Routing directives work the same as in chat:

  conclave turn "/agent:finance what's our burn rate?"
  conclave turn "@legal can we use this logo?"`,
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

			return runTurn(ctx, cmd, c, args[0], sessionKey, topicID)
		},
	}
	cmd.Flags().StringVar(&sessionKey, "session", "cli:default", "Base session key")
	cmd.Flags().StringVar(&topicID, "topic", "", "Topic id for board routing")
	return cmd
}

// runTurn drives one turn: board routing, the agent run itself, then tag
// post-processing (consultations, meetings).
func runTurn(ctx context.Context, cmd *cobra.Command, c *core, body, sessionKey, topicID string) error {
	out := cmd.OutOrStdout()

	bctx := c.board.PrepareContext(body, sessionKey, topicID, "")
	fmt.Fprintf(out, "[%s via %s]\n", bctx.AgentRole, bctx.RouteReason)

	reply, err := c.runner.RunTurn(ctx, bctx.SessionKey, bctx.ExtraSystemPrompt, bctx.CleanedBody)
	if err != nil {
		return err
	}

	cleaned, consultations, meetingTopic, hasMeeting := board.ProcessResponse(reply, bctx.AgentRole)
	fmt.Fprintln(out, strings.TrimSpace(cleaned))

	if len(consultations) > 0 {
		responses := c.board.ExecuteConsultations(ctx, consultations, bctx.AgentRole, 0, "")
		fmt.Fprintln(out)
		fmt.Fprintln(out, board.FormatConsultationReport(responses))
	}

	if hasMeeting {
		fmt.Fprintf(out, "\nConvening board meeting: %s\n", meetingTopic)
		meeting, err := c.board.ExecuteMeeting(ctx, meetingTopic, bctx.AgentRole)
		if err != nil {
			return fmt.Errorf("board meeting: %w", err)
		}
		fmt.Fprintln(out, meeting.Synthesis)
	}
	return nil
}
