package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/conclave-ai/conclave/internal/board"
	"github.com/conclave-ai/conclave/internal/tasks"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// buildTasksCmd creates the "tasks" command group for the scheduled task
// store. With no database configured the store is in-memory, so these
// commands are mostly useful against a durable deployment.
func buildTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect scheduled tasks",
	}
	cmd.AddCommand(buildTasksListCmd(), buildTasksShowCmd(), buildTasksRunPlanCmd())
	return cmd
}

// taskStoreFor opens the task store. Tasks are process-local; the CLI
// starts from an empty in-memory store each run.
func taskStoreFor(cmd *cobra.Command) (tasks.Store, error) {
	if _, _, err := loadConfig(); err != nil {
		return nil, err
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "note: task store is in-memory; long-lived tasks live under serve")
	return tasks.NewMemoryStore(), nil
}

func buildTasksListCmd() *cobra.Command {
	var agentID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := taskStoreFor(cmd)
			if err != nil {
				return err
			}

			list, err := store.ListTasks(context.Background(), tasks.ListTasksOptions{AgentID: agentID})
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSCHEDULE\tSTATUS\tNEXT RUN")
			for _, t := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Name, t.Schedule, t.Status, t.NextRunAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "Filter by agent id")
	return cmd
}

func buildTasksShowCmd() *cobra.Command {
	var execLimit int

	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task and its recent executions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := taskStoreFor(cmd)
			if err != nil {
				return err
			}

			ctx := context.Background()
			task, err := store.GetTask(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:       %s\n", task.ID)
			fmt.Fprintf(out, "Name:     %s\n", task.Name)
			fmt.Fprintf(out, "Agent:    %s\n", task.AgentID)
			fmt.Fprintf(out, "Schedule: %s\n", task.Schedule)
			fmt.Fprintf(out, "Status:   %s\n", task.Status)
			fmt.Fprintf(out, "Prompt:   %s\n", task.Prompt)

			execs, err := store.ListExecutions(ctx, task.ID, tasks.ListExecutionsOptions{Limit: execLimit})
			if err != nil {
				return err
			}
			if len(execs) > 0 {
				fmt.Fprintln(out, "\nRecent executions:")
				for _, e := range execs {
					fmt.Fprintf(out, "  %s  %-10s  %s\n", e.ScheduledAt.Format("2006-01-02 15:04:05"), e.Status, firstLine(e.Response, e.Error))
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&execLimit, "executions", 10, "Maximum executions to show")
	return cmd
}

// firstLine renders an execution outcome as a single line: the error if
// present, otherwise the first line of the response.
func firstLine(response, errMsg string) string {
	if errMsg != "" {
		return "error: " + errMsg
	}
	for i := 0; i < len(response); i++ {
		if response[i] == '\n' {
			return response[:i]
		}
	}
	return response
}

// buildTasksRunPlanCmd creates "tasks run-plan": execute a multi-step plan
// file through the full turn pipeline, with progress reports to any
// configured outbound channel.
func buildTasksRunPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run-plan <plan.yaml>",
		Short: "Execute a multi-step plan file",
		Long: `Execute a multi-step plan: each step's result is appended as context
to the next step's prompt, and on completion a memory entry is extracted
for the owning board role.

Plan file shape:

  name: quarterly market scan
  agent_role: finance
  report_channel: slack
  report_to: C0123456
  steps:
    - description: gather
      prompt: Gather the latest market data.
    - description: summarize
      prompt: Summarize the findings for the board.`,
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

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var plan tasks.Plan
			if err := yaml.Unmarshal(data, &plan); err != nil {
				return fmt.Errorf("parse plan file: %w", err)
			}
			if plan.ID == "" {
				plan.ID = uuid.NewString()
			}

			turn := func(ctx context.Context, sessionKey, prompt string) (string, error) {
				return c.runner.RunTurn(ctx, sessionKey, "", prompt)
			}
			runner := tasks.NewPlanRunner(turn, buildSenderMux(cfg), board.NewMemoryStore(cfg.Workspace.Path), tasks.PlanRunnerConfig{
				DefaultStepInterval: cfg.Tasks.DefaultStepInterval,
				ReportEvery:         cfg.Tasks.ReportEverySteps,
				Logger:              c.slogger,
			})

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := runner.Run(ctx, &plan); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, step := range plan.Steps {
				fmt.Fprintf(out, "step %d [%s] %s (%.1fs)\n", i+1, step.State, step.Description, step.Duration.Seconds())
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, plan.Steps[len(plan.Steps)-1].Result)
			return nil
		},
	}
	return cmd
}
