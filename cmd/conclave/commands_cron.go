package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/conclave-ai/conclave/internal/config"
	"github.com/conclave-ai/conclave/internal/cron"
	"github.com/conclave-ai/conclave/internal/outbound"
	"github.com/conclave-ai/conclave/pkg/models"
	"github.com/spf13/cobra"
)

// buildCronCmd creates the "cron" command group: inspecting and manually
// firing the durably scheduled jobs.
func buildCronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Inspect and run scheduled jobs",
	}
	cmd.AddCommand(
		buildCronListCmd(),
		buildCronRunCmd(),
		buildCronRunDueCmd(),
		buildCronExecutionsCmd(),
	)
	return cmd
}

// cronStorePath resolves the durable job store location.
func cronStorePath(cfg *config.Config) string {
	if cfg.Cron.StorePath != "" {
		return cfg.Cron.StorePath
	}
	return filepath.Join(stateDirFor(cfg), "cron-jobs.json")
}

// cronSchedulerFor builds a scheduler wired to the same turn pipeline as
// serve, without starting its tick loop. Agent jobs route through the
// board exactly like an interactive message; system-event wakes append to
// the session log directly.
func cronSchedulerFor(c *core) (*cron.Scheduler, error) {
	store, err := cron.NewFileJobStore(cronStorePath(c.cfg))
	if err != nil {
		return nil, err
	}
	return cron.NewScheduler(c.cfg.Cron,
		cron.WithStore(store),
		cron.WithLogger(c.slogger),
		cron.WithAgentRunner(cron.AgentRunnerFunc(func(ctx context.Context, job *cron.Job) error {
			content := ""
			if job.Message != nil {
				content = job.Message.Content
			}
			if content == "" {
				return fmt.Errorf("cron job %s: agent job has no message content", job.ID)
			}
			bctx := c.board.PrepareContext(content, job.SessionKey(), "", "")
			_, err := c.runner.RunTurn(ctx, bctx.SessionKey, bctx.ExtraSystemPrompt, bctx.CleanedBody)
			return err
		})),
		cron.WithSystemEventWriter(cron.SystemEventWriterFunc(func(ctx context.Context, sessionKey, text string) error {
			return writeSystemEvent(ctx, c, sessionKey, text)
		})),
		cron.WithMessageSender(cron.MessageSenderFunc(func(ctx context.Context, message *config.CronMessageConfig) error {
			_, err := buildSenderMux(c.cfg).Send(ctx, message.Channel, message.ChannelID, "", message.Content, outbound.SendOptions{})
			return err
		})),
	)
}

// writeSystemEvent appends a system note to the target session without a
// model call.
func writeSystemEvent(ctx context.Context, c *core, sessionKey, text string) error {
	session, err := c.store.GetOrCreate(ctx, sessionKey, "", models.ChannelAPI, "cron")
	if err != nil {
		return err
	}
	return c.store.AppendMessage(ctx, session.ID, &models.Message{
		SessionID: session.ID,
		Channel:   models.ChannelAPI,
		Role:      models.RoleSystem,
		Content:   text,
	})
}

func buildCronListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := cron.NewFileJobStore(cronStorePath(cfg))
			if err != nil {
				return err
			}
			scheduler, err := cron.NewScheduler(cfg.Cron, cron.WithStore(store))
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTYPE\tENABLED\tNEXT RUN")
			for _, job := range scheduler.Jobs() {
				next := "-"
				if !job.State.NextRunAt.IsZero() {
					next = job.State.NextRunAt.Format("2006-01-02 15:04:05 MST")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", job.ID, job.Name, job.Type, job.Enabled, next)
			}
			return w.Flush()
		},
	}
}

func buildCronRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <job-id>",
		Short: "Fire one cron job immediately",
		Args:  cobra.ExactArgs(1),
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

			scheduler, err := cronSchedulerFor(c)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := scheduler.RunJob(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s completed\n", args[0])
			return nil
		},
	}
}

func buildCronRunDueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-due",
		Short: "Fire every job whose next run time has passed",
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

			scheduler, err := cronSchedulerFor(c)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			n := scheduler.RunOnce(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "ran %d due job(s)\n", n)
			return nil
		},
	}
}

func buildCronExecutionsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "executions <job-id>",
		Short: "Show a job's recent executions",
		Long: `Show a job's recent executions. Executions live in scheduler memory,
so this reports on jobs fired within the current serve process or after
"cron run" in this invocation.`,
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
			scheduler, err := cronSchedulerFor(c)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tSTATUS\tERROR")
			for _, e := range scheduler.Executions(args[0], limit) {
				fmt.Fprintf(w, "%s\t%s\t%s\n", e.StartedAt.Format("2006-01-02 15:04:05"), e.Status, e.Error)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum executions to show")
	return cmd
}
