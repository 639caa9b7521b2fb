// Package cron durably schedules future turns: at a fixed instant, on a
// repeating cron expression, or every fixed interval. Fired jobs enter the
// same routing and run pipeline as interactive messages.
package cron

import (
	"context"
	"time"

	"github.com/conclave-ai/conclave/internal/config"
)

// JobType selects what a job does when it fires.
type JobType string

const (
	// JobTypeAgent synthesizes a user turn and drives it through the
	// agent pipeline.
	JobTypeAgent JobType = "agent"

	// JobTypeMessage delivers a canned message through an outbound
	// channel, no model involved.
	JobTypeMessage JobType = "message"

	// JobTypeWebhook POSTs to a URL.
	JobTypeWebhook JobType = "webhook"
)

// WakeMode is how an agent job's payload enters the session.
type WakeMode string

const (
	// WakeAgentTurn runs the payload as a user message through the full
	// pipeline (routing, lanes, failover). The default.
	WakeAgentTurn WakeMode = "agent-turn"

	// WakeSystemEvent appends the payload to the session log as a system
	// note without calling a model.
	WakeSystemEvent WakeMode = "system-event"
)

// Job is one durable scheduled turn. Everything here round-trips through
// the store unchanged; State is the only part the scheduler mutates.
type Job struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Type     JobType  `json:"type"`
	Enabled  bool     `json:"enabled"`
	Schedule Schedule `json:"schedule"`

	// SessionTarget routes the synthesized turn; empty derives
	// "cron:<id>".
	SessionTarget string `json:"session_target,omitempty"`

	WakeMode WakeMode `json:"wake_mode,omitempty"`

	Message *config.CronMessageConfig `json:"message,omitempty"`
	Webhook *config.CronWebhookConfig `json:"webhook,omitempty"`

	// DeleteAfterRun removes a one-shot job from the store once it has
	// fired.
	DeleteAfterRun bool `json:"delete_after_run,omitempty"`

	Retry config.CronRetryConfig `json:"retry,omitempty"`

	State JobState `json:"state"`
}

// JobState is the scheduler-owned, durably persisted run state.
type JobState struct {
	NextRunAt  time.Time  `json:"next_run_at"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	RetryCount int        `json:"retry_count,omitempty"`
}

// SessionKey returns the session the job's turns land in.
func (j *Job) SessionKey() string {
	if j.SessionTarget != "" {
		return j.SessionTarget
	}
	return "cron:" + j.ID
}

// Due reports whether the job should fire at now.
func (j *Job) Due(now time.Time) bool {
	return j.Enabled && !j.State.NextRunAt.IsZero() && !j.State.NextRunAt.After(now)
}

// AgentRunner executes agent-turn jobs through the run pipeline.
type AgentRunner interface {
	Run(ctx context.Context, job *Job) error
}

// AgentRunnerFunc adapts a function to an AgentRunner.
type AgentRunnerFunc func(ctx context.Context, job *Job) error

func (f AgentRunnerFunc) Run(ctx context.Context, job *Job) error {
	return f(ctx, job)
}

// MessageSender delivers message jobs.
type MessageSender interface {
	Send(ctx context.Context, message *config.CronMessageConfig) error
}

// MessageSenderFunc adapts a function to a MessageSender.
type MessageSenderFunc func(ctx context.Context, message *config.CronMessageConfig) error

func (f MessageSenderFunc) Send(ctx context.Context, message *config.CronMessageConfig) error {
	return f(ctx, message)
}

// SystemEventWriter appends system-event payloads to a session log without
// a model call; satisfied by the session store through a thin adapter.
type SystemEventWriter interface {
	WriteSystemEvent(ctx context.Context, sessionKey, text string) error
}

// SystemEventWriterFunc adapts a function to a SystemEventWriter.
type SystemEventWriterFunc func(ctx context.Context, sessionKey, text string) error

func (f SystemEventWriterFunc) WriteSystemEvent(ctx context.Context, sessionKey, text string) error {
	return f(ctx, sessionKey, text)
}
