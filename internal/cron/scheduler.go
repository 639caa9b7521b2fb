package cron

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/conclave-ai/conclave/internal/config"
)

const defaultTickInterval = 30 * time.Second

// JobExecution is one audit record of a job firing. Executions are kept
// independently of the job's own LastRunAt pointer, so a deleted one-shot
// job still leaves a trace.
type JobExecution struct {
	JobID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string // "succeeded" | "failed"
	Error      string
	Retry      int
}

// Scheduler ticks over the durable job store, fires due jobs, and
// recomputes (or deletes) their next run.
type Scheduler struct {
	store        JobStore
	logger       *slog.Logger
	tickInterval time.Duration
	httpClient   *http.Client
	now          func() time.Time

	agentRunner AgentRunner
	sender      MessageSender
	eventWriter SystemEventWriter

	mu         sync.Mutex
	executions []JobExecution
	cancel     context.CancelFunc
	done       chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithAgentRunner sets the executor for agent-turn jobs.
func WithAgentRunner(runner AgentRunner) Option {
	return func(s *Scheduler) { s.agentRunner = runner }
}

// WithMessageSender sets the executor for message jobs.
func WithMessageSender(sender MessageSender) Option {
	return func(s *Scheduler) { s.sender = sender }
}

// WithSystemEventWriter sets the sink for system-event wake mode.
func WithSystemEventWriter(w SystemEventWriter) Option {
	return func(s *Scheduler) { s.eventWriter = w }
}

// WithStore replaces the default in-memory store with a durable one.
func WithStore(store JobStore) Option {
	return func(s *Scheduler) { s.store = store }
}

// WithNow injects the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithHTTPClient sets the client webhook jobs use.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Scheduler) { s.httpClient = client }
}

// NewScheduler builds a scheduler from the cron config: every configured
// job is parsed, seeded with its first run time, and written through to
// the store.
func NewScheduler(cfg config.CronConfig, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		store:        NewMemoryJobStore(),
		logger:       slog.Default().With("component", "cron"),
		tickInterval: cfg.TickInterval,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		now:          time.Now,
	}
	if s.tickInterval <= 0 {
		s.tickInterval = defaultTickInterval
	}
	for _, opt := range opts {
		opt(s)
	}

	for i := range cfg.Jobs {
		job, err := buildJob(cfg.Jobs[i], s.now())
		if err != nil {
			return nil, fmt.Errorf("cron.jobs[%d]: %w", i, err)
		}
		// Jobs already in the store keep their persisted state; config is
		// authoritative for everything else.
		if existing, gerr := s.store.Get(job.ID); gerr == nil {
			job.State = existing.State
			if job.State.NextRunAt.IsZero() {
				if next, ok := job.Schedule.Next(s.now()); ok {
					job.State.NextRunAt = next
				}
			}
		}
		if err := s.store.Put(job); err != nil {
			return nil, fmt.Errorf("persist cron.jobs[%d]: %w", i, err)
		}
	}
	return s, nil
}

// buildJob translates one config entry into a Job with its first run
// computed.
func buildJob(cfg config.CronJobConfig, now time.Time) (*Job, error) {
	if strings.TrimSpace(cfg.ID) == "" {
		return nil, errors.New("id is required")
	}

	schedule, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}

	jobType := JobType(strings.ToLower(strings.TrimSpace(cfg.Type)))
	if jobType == "" {
		jobType = JobTypeAgent
	}
	switch jobType {
	case JobTypeAgent, JobTypeMessage, JobTypeWebhook:
	default:
		return nil, fmt.Errorf("unknown job type %q", cfg.Type)
	}

	wake := WakeMode(strings.ToLower(strings.TrimSpace(cfg.WakeMode)))
	if wake == "" {
		wake = WakeAgentTurn
	}

	job := &Job{
		ID:             cfg.ID,
		Name:           cfg.Name,
		Type:           jobType,
		Enabled:        cfg.Enabled,
		Schedule:       schedule,
		SessionTarget:  cfg.SessionTarget,
		WakeMode:       wake,
		Message:        cfg.Message,
		Webhook:        cfg.Webhook,
		DeleteAfterRun: cfg.DeleteAfterRun,
		Retry:          cfg.Retry,
	}
	if schedule.Kind == ScheduleAt {
		job.State.NextRunAt = schedule.At
	} else if next, ok := schedule.Next(now); ok {
		job.State.NextRunAt = next
	}
	return job, nil
}

// Start begins the tick loop. It returns immediately; the loop stops when
// ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.RunOnce(loopCtx)
			}
		}
	}()
	return nil
}

// Stop halts the tick loop and waits for it to exit.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce fires every due job and returns how many ran.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	now := s.now()
	ran := 0
	for _, job := range s.store.List() {
		if !job.Due(now) {
			continue
		}
		s.fire(ctx, job)
		ran++
	}
	return ran
}

// RunJob fires one job immediately, regardless of its schedule.
func (s *Scheduler) RunJob(ctx context.Context, id string) error {
	job, err := s.store.Get(id)
	if err != nil {
		return err
	}
	return s.fire(ctx, job)
}

// Jobs lists the stored jobs.
func (s *Scheduler) Jobs() []*Job {
	return s.store.List()
}

// Executions returns the most recent executions for a job, newest first.
func (s *Scheduler) Executions(jobID string, limit int) []JobExecution {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []JobExecution
	for i := len(s.executions) - 1; i >= 0; i-- {
		if s.executions[i].JobID != jobID {
			continue
		}
		out = append(out, s.executions[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// fire executes one job with its retry policy, records the execution, and
// advances (or deletes) the job in the store.
func (s *Scheduler) fire(ctx context.Context, job *Job) error {
	started := s.now()

	var err error
	attempts := job.Retry.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := retryDelay(job.Retry, attempt)
			select {
			case <-ctx.Done():
				err = ctx.Err()
			case <-time.After(delay):
			}
			if ctx.Err() != nil {
				break
			}
		}
		err = s.execute(ctx, job)
		if err == nil {
			break
		}
		job.State.RetryCount = attempt + 1
		s.logger.Warn("cron job attempt failed", "job", job.ID, "attempt", attempt+1, "error", err)
	}

	s.record(job.ID, started, err, job.State.RetryCount)
	return s.advance(job, err)
}

// advance recomputes the job's next run (or deletes a spent one-shot) and
// writes the state through to the store.
func (s *Scheduler) advance(job *Job, runErr error) error {
	now := s.now()
	job.State.LastRunAt = &now
	job.State.LastError = ""
	if runErr != nil {
		job.State.LastError = runErr.Error()
	}

	next, ok := job.Schedule.Next(now)
	if !ok {
		// A spent one-shot either disappears or stays disabled for audit.
		if job.DeleteAfterRun {
			if derr := s.store.Delete(job.ID); derr != nil {
				return derr
			}
			return runErr
		}
		job.Enabled = false
		job.State.NextRunAt = time.Time{}
		if perr := s.store.Put(job); perr != nil {
			return perr
		}
		return runErr
	}

	job.State.NextRunAt = next
	job.State.RetryCount = 0
	if perr := s.store.Put(job); perr != nil {
		return perr
	}
	return runErr
}

// execute dispatches one firing by job type and wake mode.
func (s *Scheduler) execute(ctx context.Context, job *Job) error {
	switch job.Type {
	case JobTypeAgent:
		if job.WakeMode == WakeSystemEvent {
			if s.eventWriter == nil {
				return errors.New("no system-event writer configured")
			}
			return s.eventWriter.WriteSystemEvent(ctx, job.SessionKey(), payloadText(job))
		}
		if s.agentRunner == nil {
			return errors.New("no agent runner configured")
		}
		return s.agentRunner.Run(ctx, job)

	case JobTypeMessage:
		if s.sender == nil {
			return errors.New("no message sender configured")
		}
		return s.sender.Send(ctx, job.Message)

	case JobTypeWebhook:
		return s.postWebhook(ctx, job.Webhook)

	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
}

// payloadText extracts the text payload an agent job carries.
func payloadText(job *Job) string {
	if job.Message != nil {
		return job.Message.Content
	}
	return ""
}

func (s *Scheduler) postWebhook(ctx context.Context, cfg *config.CronWebhookConfig) error {
	if cfg == nil || strings.TrimSpace(cfg.URL) == "" {
		return errors.New("webhook job has no url")
	}
	method := cfg.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, bytes.NewBufferString(cfg.Body))
	if err != nil {
		return err
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

func (s *Scheduler) record(jobID string, started time.Time, err error, retry int) {
	exec := JobExecution{
		JobID:      jobID,
		StartedAt:  started,
		FinishedAt: s.now(),
		Status:     "succeeded",
		Retry:      retry,
	}
	if err != nil {
		exec.Status = "failed"
		exec.Error = err.Error()
	}
	s.mu.Lock()
	s.executions = append(s.executions, exec)
	s.mu.Unlock()
}

func retryDelay(cfg config.CronRetryConfig, attempt int) time.Duration {
	delay := cfg.Backoff
	if delay <= 0 {
		delay = time.Second
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	if cfg.MaxBackoff > 0 && delay > cfg.MaxBackoff {
		delay = cfg.MaxBackoff
	}
	return delay
}
