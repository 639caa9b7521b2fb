package config

import "time"

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ObservabilityConfig configures tracing and other observability features.
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled        bool              `yaml:"enabled"`
	Endpoint       string            `yaml:"endpoint"`
	ServiceName    string            `yaml:"service_name"`
	ServiceVersion string            `yaml:"service_version"`
	Environment    string            `yaml:"environment"`
	SamplingRate   float64           `yaml:"sampling_rate"`
	Insecure       bool              `yaml:"insecure"`
	Attributes     map[string]string `yaml:"attributes"`
}

// CronConfig configures scheduled jobs.
type CronConfig struct {
	Enabled bool            `yaml:"enabled"`
	Jobs    []CronJobConfig `yaml:"jobs"`

	// TickInterval is how often the scheduler checks for due jobs.
	// Defaults to 30 seconds.
	TickInterval time.Duration `yaml:"tick_interval"`

	// StorePath is the durable cron store file. Defaults to
	// <workspace>/state/cron-jobs.json when empty.
	StorePath string `yaml:"store_path"`
}

// CronJobConfig defines a scheduled job.
type CronJobConfig struct {
	ID       string             `yaml:"id"`
	Name     string             `yaml:"name"`
	Type     string             `yaml:"type"`
	Enabled  bool               `yaml:"enabled"`
	Schedule CronScheduleConfig `yaml:"schedule"`
	Message  *CronMessageConfig `yaml:"message,omitempty"`
	Webhook  *CronWebhookConfig `yaml:"webhook,omitempty"`
	Retry    CronRetryConfig    `yaml:"retry"`

	// SessionTarget routes the synthesized turn; empty derives a
	// "cron:<job-id>" session.
	SessionTarget string `yaml:"session_target"`

	// WakeMode is how the turn enters the session: "agent-turn" (a user
	// message driven through the full pipeline, the default) or
	// "system-event" (an injected system note, no model call).
	WakeMode string `yaml:"wake_mode"`

	// DeleteAfterRun removes one-shot ("at") jobs after they fire.
	DeleteAfterRun bool `yaml:"delete_after_run"`
}

// CronScheduleConfig defines when a job runs.
type CronScheduleConfig struct {
	Cron     string        `yaml:"cron"`
	Every    time.Duration `yaml:"every"`
	At       string        `yaml:"at"`
	Timezone string        `yaml:"timezone"`
}

// CronMessageConfig defines a message job payload.
type CronMessageConfig struct {
	Channel   string         `yaml:"channel"`
	ChannelID string         `yaml:"channel_id"`
	Content   string         `yaml:"content"`
	Template  string         `yaml:"template"`
	Data      map[string]any `yaml:"data"`
	Tools     []string       `yaml:"tools,omitempty"`
}

// CronWebhookConfig defines a webhook job payload.
type CronWebhookConfig struct {
	URL     string            `yaml:"url"`
	Method  string            `yaml:"method"`
	Headers map[string]string `yaml:"headers"`
	Body    string            `yaml:"body"`
	Timeout time.Duration     `yaml:"timeout"`
	Auth    *CronWebhookAuth  `yaml:"auth,omitempty"`
}

// CronWebhookAuth defines authentication for webhook jobs.
type CronWebhookAuth struct {
	Type   string `yaml:"type"`
	Token  string `yaml:"token,omitempty"`
	User   string `yaml:"user,omitempty"`
	Pass   string `yaml:"pass,omitempty"`
	Header string `yaml:"header,omitempty"`
}

// CronRetryConfig controls retry behavior for cron jobs.
type CronRetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// TasksConfig configures the scheduled tasks system.
type TasksConfig struct {
	// Enabled enables the scheduled tasks scheduler.
	Enabled bool `yaml:"enabled"`

	// WorkerID uniquely identifies this scheduler instance for distributed locking.
	// Defaults to a generated UUID if empty.
	WorkerID string `yaml:"worker_id"`

	// PollInterval is how often the scheduler checks for due tasks.
	// Defaults to 10 seconds.
	PollInterval time.Duration `yaml:"poll_interval"`

	// AcquireInterval is how often the scheduler tries to acquire pending executions.
	// Defaults to 1 second.
	AcquireInterval time.Duration `yaml:"acquire_interval"`

	// LockDuration is how long an execution lock is held.
	// Should be longer than the maximum expected execution time.
	// Defaults to 10 minutes.
	LockDuration time.Duration `yaml:"lock_duration"`

	// MaxConcurrency is the maximum number of concurrent task executions.
	// Defaults to 5.
	MaxConcurrency int `yaml:"max_concurrency"`

	// CleanupInterval is how often stale executions are cleaned up.
	// Defaults to 1 minute.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// StaleTimeout is how long an execution can run before being marked stale.
	// Defaults to 30 minutes.
	StaleTimeout time.Duration `yaml:"stale_timeout"`

	// DefaultTimeout is the default timeout for task execution if not specified on the task.
	// Defaults to 5 minutes.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// DefaultStepInterval paces the steps of a multi-step plan when the
	// plan doesn't set its own interval. Defaults to 5 seconds.
	DefaultStepInterval time.Duration `yaml:"default_step_interval"`

	// ReportEverySteps delivers a plan progress report after every N
	// completed steps. Defaults to 1.
	ReportEverySteps int `yaml:"report_every_steps"`
}
