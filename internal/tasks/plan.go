package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/conclave-ai/conclave/internal/backoff"
	"github.com/conclave-ai/conclave/internal/board"
	"github.com/conclave-ai/conclave/internal/outbound"
)

// PlanStatus is the lifecycle state of a multi-step plan.
type PlanStatus string

const (
	PlanQueued    PlanStatus = "queued"
	PlanRunning   PlanStatus = "running"
	PlanCompleted PlanStatus = "completed"
	PlanFailed    PlanStatus = "failed"
	PlanCancelled PlanStatus = "cancelled"
)

// StepState is the lifecycle state of one plan step.
type StepState string

const (
	StepPending   StepState = "pending"
	StepRunning   StepState = "running"
	StepCompleted StepState = "completed"
	StepFailed    StepState = "failed"
	StepCancelled StepState = "cancelled"
)

// PlanStep is one prompt in an ordered multi-step plan. Result and
// Duration are filled in as the step executes.
type PlanStep struct {
	Description string        `json:"description" yaml:"description"`
	Prompt      string        `json:"prompt" yaml:"prompt"`
	Result      string        `json:"result,omitempty" yaml:"result,omitempty"`
	Duration    time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
	State       StepState     `json:"state" yaml:"state"`
}

// Plan is an autonomous multi-step task: an ordered list of prompt steps
// sharing one session, with progress reporting and memory extraction on
// completion.
type Plan struct {
	ID        string         `json:"id" yaml:"id"`
	Name      string         `json:"name" yaml:"name"`
	AgentRole board.Role     `json:"agent_role" yaml:"agent_role"`
	Steps     []PlanStep     `json:"steps" yaml:"steps"`
	Status    PlanStatus     `json:"status" yaml:"status"`
	Metadata  map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// Progress reports go to this channel/destination every ReportEvery
	// steps. Empty ReportChannel disables reporting.
	ReportChannel string `json:"report_channel,omitempty" yaml:"report_channel,omitempty"`
	ReportTo      string `json:"report_to,omitempty" yaml:"report_to,omitempty"`
	ReportTopicID string `json:"report_topic_id,omitempty" yaml:"report_topic_id,omitempty"`

	// StepInterval paces the loop between steps. Zero uses the runner's
	// default.
	StepInterval time.Duration `json:"step_interval,omitempty" yaml:"step_interval,omitempty"`

	// MeetingID ties this plan to a board meeting; on terminal state the
	// meeting completion hook fires so synthesis can start once every
	// sibling is done.
	MeetingID string `json:"meeting_id,omitempty" yaml:"meeting_id,omitempty"`

	CreatedAt   time.Time `json:"created_at" yaml:"created_at,omitempty"`
	StartedAt   time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
}

// TurnFunc drives one prompt through the agent pipeline for the plan's
// session and returns the assistant's final text.
type TurnFunc func(ctx context.Context, sessionKey, prompt string) (string, error)

// ProgressSender is the outbound capability the runner needs; satisfied by
// *outbound.Mux.
type ProgressSender interface {
	Send(ctx context.Context, channel, to, topicID, text string, opts outbound.SendOptions) (*outbound.Ack, error)
}

// PlanRunnerConfig tunes a PlanRunner.
type PlanRunnerConfig struct {
	// DefaultStepInterval paces plans that don't set their own interval.
	DefaultStepInterval time.Duration

	// ReportEvery delivers a progress report after every N completed
	// steps. Zero means 1 (report each step).
	ReportEvery int

	Logger *slog.Logger
}

// PlanRunner executes multi-step plans: each step's textual result is
// appended as context to the next step's prompt, failures stop the plan
// without retry (retries live at the turn level), and completion extracts
// a memory entry for the owning agent role.
type PlanRunner struct {
	turn     TurnFunc
	sender   ProgressSender
	memory   *board.MemoryStore
	interval time.Duration
	every    int
	logger   *slog.Logger
}

// NewPlanRunner builds a runner. sender and memory may be nil to disable
// progress reports and memory extraction respectively.
func NewPlanRunner(turn TurnFunc, sender ProgressSender, memory *board.MemoryStore, cfg PlanRunnerConfig) *PlanRunner {
	interval := cfg.DefaultStepInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	every := cfg.ReportEvery
	if every <= 0 {
		every = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "plan-runner")
	}
	return &PlanRunner{turn: turn, sender: sender, memory: memory, interval: interval, every: every, logger: logger}
}

// Run executes plan to completion. The context is the plan's abort handle:
// cancellation between steps (or inside a turn) marks the plan cancelled.
func (r *PlanRunner) Run(ctx context.Context, plan *Plan) error {
	if plan == nil || len(plan.Steps) == 0 {
		return fmt.Errorf("plan has no steps")
	}

	plan.Status = PlanRunning
	plan.StartedAt = time.Now()
	sessionKey := "task:" + plan.ID
	interval := plan.StepInterval
	if interval <= 0 {
		interval = r.interval
	}

	var priorResults []string
	for i := range plan.Steps {
		step := &plan.Steps[i]
		if err := ctx.Err(); err != nil {
			step.State = StepCancelled
			r.finish(plan, PlanCancelled, "")
			return err
		}

		step.State = StepRunning
		started := time.Now()

		prompt := step.Prompt
		if len(priorResults) > 0 {
			prompt = prompt + "\n\nResults from earlier steps:\n" + strings.Join(priorResults, "\n---\n")
		}

		result, err := r.turn(ctx, sessionKey, prompt)
		step.Duration = time.Since(started)
		if err != nil {
			step.State = StepFailed
			if errors.Is(err, context.Canceled) {
				step.State = StepCancelled
				r.finish(plan, PlanCancelled, "")
				return err
			}
			r.finish(plan, PlanFailed, fmt.Sprintf("step %d (%s) failed: %v", i+1, step.Description, err))
			return fmt.Errorf("step %d of plan %s: %w", i+1, plan.ID, err)
		}

		step.Result = result
		step.State = StepCompleted
		priorResults = append(priorResults, result)

		if (i+1)%r.every == 0 || i == len(plan.Steps)-1 {
			r.report(ctx, plan, i+1)
		}

		if i < len(plan.Steps)-1 {
			if err := backoff.SleepWithContext(ctx, interval); err != nil {
				r.finish(plan, PlanCancelled, "")
				return err
			}
		}
	}

	final := plan.Steps[len(plan.Steps)-1].Result
	if r.memory != nil && plan.AgentRole != "" {
		entry := board.ExtractMemoryEntry(plan.Name, final, plan.ID)
		if err := r.memory.Append(plan.AgentRole, entry); err != nil {
			r.logger.Warn("failed to append task memory", "plan_id", plan.ID, "error", err)
		}
	}

	r.finish(plan, PlanCompleted, final)
	return nil
}

// finish sets the terminal state and notifies the owning meeting (if any).
func (r *PlanRunner) finish(plan *Plan, status PlanStatus, finalResult string) {
	plan.Status = status
	plan.CompletedAt = time.Now()

	if plan.MeetingID == "" {
		return
	}
	switch status {
	case PlanCompleted:
		board.NotifySpecialistTaskComplete(plan.MeetingID, plan.AgentRole, finalResult, "", "")
	case PlanCancelled:
		board.NotifySpecialistTaskComplete(plan.MeetingID, plan.AgentRole, "", board.FailureCancelled, "task cancelled")
	default:
		board.NotifySpecialistTaskComplete(plan.MeetingID, plan.AgentRole, "", board.FailureError, finalResult)
	}
}

// report delivers a progress line to the configured channel; failures are
// logged, never fatal to the plan.
func (r *PlanRunner) report(ctx context.Context, plan *Plan, completed int) {
	if r.sender == nil || plan.ReportChannel == "" {
		return
	}
	text := fmt.Sprintf("Task %q: %d/%d steps complete", plan.Name, completed, len(plan.Steps))
	if _, err := r.sender.Send(ctx, plan.ReportChannel, plan.ReportTo, plan.ReportTopicID, text, outbound.SendOptions{Silent: true}); err != nil {
		r.logger.Warn("progress report failed", "plan_id", plan.ID, "error", err)
	}
}
