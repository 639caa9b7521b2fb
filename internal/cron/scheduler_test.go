package cron

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/conclave-ai/conclave/internal/config"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestNewSchedulerSeedsJobsFromConfig(t *testing.T) {
	now := time.Date(2026, 8, 2, 9, 30, 0, 0, time.UTC)
	cfg := config.CronConfig{
		Enabled: true,
		Jobs: []config.CronJobConfig{{
			ID:       "digest",
			Name:     "morning digest",
			Type:     "agent",
			Enabled:  true,
			Schedule: config.CronScheduleConfig{Cron: "0 9 * * *"},
			Message:  &config.CronMessageConfig{Content: "summarize overnight activity"},
		}},
	}

	s, err := NewScheduler(cfg, WithNow(fixedClock(now)))
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	jobs := s.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	job := jobs[0]
	if job.State.NextRunAt.IsZero() || !job.State.NextRunAt.After(now) {
		t.Errorf("next run %v should be after %v", job.State.NextRunAt, now)
	}
	if job.SessionKey() != "cron:digest" {
		t.Errorf("session key = %q", job.SessionKey())
	}
}

func TestRunOnceFiresDueJobsOnly(t *testing.T) {
	now := time.Date(2026, 8, 2, 9, 30, 0, 0, time.UTC)
	store := NewMemoryJobStore()
	mustPut(t, store, &Job{
		ID: "due", Type: JobTypeAgent, Enabled: true, WakeMode: WakeAgentTurn,
		Schedule: Schedule{Kind: ScheduleEvery, Every: time.Hour},
		State:    JobState{NextRunAt: now.Add(-time.Minute)},
	})
	mustPut(t, store, &Job{
		ID: "future", Type: JobTypeAgent, Enabled: true, WakeMode: WakeAgentTurn,
		Schedule: Schedule{Kind: ScheduleEvery, Every: time.Hour},
		State:    JobState{NextRunAt: now.Add(time.Hour)},
	})
	mustPut(t, store, &Job{
		ID: "disabled", Type: JobTypeAgent, Enabled: false, WakeMode: WakeAgentTurn,
		Schedule: Schedule{Kind: ScheduleEvery, Every: time.Hour},
		State:    JobState{NextRunAt: now.Add(-time.Minute)},
	})

	var fired []string
	s, err := NewScheduler(config.CronConfig{},
		WithStore(store),
		WithNow(fixedClock(now)),
		WithAgentRunner(AgentRunnerFunc(func(ctx context.Context, job *Job) error {
			fired = append(fired, job.ID)
			return nil
		})),
	)
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}

	if ran := s.RunOnce(context.Background()); ran != 1 {
		t.Fatalf("RunOnce() = %d, want 1", ran)
	}
	if len(fired) != 1 || fired[0] != "due" {
		t.Errorf("fired = %v, want [due]", fired)
	}

	// Next run recomputed past now.
	job, err := store.Get("due")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !job.State.NextRunAt.After(now) {
		t.Errorf("next run %v not advanced past %v", job.State.NextRunAt, now)
	}
	if job.State.LastRunAt == nil {
		t.Error("LastRunAt should be set")
	}
}

func TestOneShotDeleteAfterRun(t *testing.T) {
	now := time.Date(2026, 8, 2, 9, 30, 0, 0, time.UTC)
	store := NewMemoryJobStore()
	mustPut(t, store, &Job{
		ID: "once", Type: JobTypeAgent, Enabled: true, WakeMode: WakeAgentTurn,
		DeleteAfterRun: true,
		Schedule:       Schedule{Kind: ScheduleAt, At: now.Add(-time.Minute)},
		State:          JobState{NextRunAt: now.Add(-time.Minute)},
	})

	s, err := NewScheduler(config.CronConfig{},
		WithStore(store),
		WithNow(fixedClock(now)),
		WithAgentRunner(AgentRunnerFunc(func(ctx context.Context, job *Job) error { return nil })),
	)
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	s.RunOnce(context.Background())

	if _, err := store.Get("once"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected the one-shot to be deleted, got %v", err)
	}
	// The execution trail survives the deletion.
	if execs := s.Executions("once", 0); len(execs) != 1 || execs[0].Status != "succeeded" {
		t.Errorf("executions = %+v", execs)
	}
}

func TestOneShotWithoutDeleteIsDisabled(t *testing.T) {
	now := time.Date(2026, 8, 2, 9, 30, 0, 0, time.UTC)
	store := NewMemoryJobStore()
	mustPut(t, store, &Job{
		ID: "once", Type: JobTypeAgent, Enabled: true, WakeMode: WakeAgentTurn,
		Schedule: Schedule{Kind: ScheduleAt, At: now.Add(-time.Minute)},
		State:    JobState{NextRunAt: now.Add(-time.Minute)},
	})

	s, err := NewScheduler(config.CronConfig{},
		WithStore(store),
		WithNow(fixedClock(now)),
		WithAgentRunner(AgentRunnerFunc(func(ctx context.Context, job *Job) error { return nil })),
	)
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	s.RunOnce(context.Background())

	job, err := store.Get("once")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if job.Enabled {
		t.Error("spent one-shot should be disabled, not rescheduled")
	}
}

func TestFireRetriesThenRecordsFailure(t *testing.T) {
	now := time.Date(2026, 8, 2, 9, 30, 0, 0, time.UTC)
	store := NewMemoryJobStore()
	mustPut(t, store, &Job{
		ID: "flaky", Type: JobTypeAgent, Enabled: true, WakeMode: WakeAgentTurn,
		Retry:    config.CronRetryConfig{MaxRetries: 2, Backoff: time.Millisecond},
		Schedule: Schedule{Kind: ScheduleEvery, Every: time.Hour},
		State:    JobState{NextRunAt: now.Add(-time.Minute)},
	})

	calls := 0
	s, err := NewScheduler(config.CronConfig{},
		WithStore(store),
		WithNow(fixedClock(now)),
		WithAgentRunner(AgentRunnerFunc(func(ctx context.Context, job *Job) error {
			calls++
			return errors.New("provider down")
		})),
	)
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	s.RunOnce(context.Background())

	if calls != 3 {
		t.Errorf("calls = %d, want 1 + 2 retries", calls)
	}
	execs := s.Executions("flaky", 0)
	if len(execs) != 1 || execs[0].Status != "failed" {
		t.Fatalf("executions = %+v", execs)
	}
	job, _ := store.Get("flaky")
	if job.State.LastError == "" {
		t.Error("LastError should record the failure")
	}
	if !job.State.NextRunAt.After(now) {
		t.Error("failed repeating jobs still advance to their next run")
	}
}

func TestSystemEventWakeModeSkipsModel(t *testing.T) {
	now := time.Date(2026, 8, 2, 9, 30, 0, 0, time.UTC)
	store := NewMemoryJobStore()
	mustPut(t, store, &Job{
		ID: "note", Type: JobTypeAgent, Enabled: true, WakeMode: WakeSystemEvent,
		SessionTarget: "board:general",
		Message:       &config.CronMessageConfig{Content: "quarterly review opens today"},
		Schedule:      Schedule{Kind: ScheduleEvery, Every: time.Hour},
		State:         JobState{NextRunAt: now.Add(-time.Minute)},
	})

	agentCalls := 0
	var wrote []string
	s, err := NewScheduler(config.CronConfig{},
		WithStore(store),
		WithNow(fixedClock(now)),
		WithAgentRunner(AgentRunnerFunc(func(ctx context.Context, job *Job) error {
			agentCalls++
			return nil
		})),
		WithSystemEventWriter(SystemEventWriterFunc(func(ctx context.Context, sessionKey, text string) error {
			wrote = append(wrote, sessionKey+"|"+text)
			return nil
		})),
	)
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	s.RunOnce(context.Background())

	if agentCalls != 0 {
		t.Error("system-event wake mode must not call the agent pipeline")
	}
	if len(wrote) != 1 || wrote[0] != "board:general|quarterly review opens today" {
		t.Errorf("wrote = %v", wrote)
	}
}

func TestFileJobStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cron-jobs.json")
	store, err := NewFileJobStore(path)
	if err != nil {
		t.Fatalf("NewFileJobStore() error = %v", err)
	}

	last := time.Date(2026, 8, 1, 7, 0, 0, 0, time.UTC)
	job := &Job{
		ID:             "digest",
		Name:           "morning digest",
		Type:           JobTypeAgent,
		Enabled:        true,
		Schedule:       Schedule{Kind: ScheduleCron, Expr: "0 9 * * *", Timezone: "UTC"},
		SessionTarget:  "board:general",
		WakeMode:       WakeAgentTurn,
		Message:        &config.CronMessageConfig{Content: "summarize overnight activity", Channel: "slack", ChannelID: "C9"},
		DeleteAfterRun: false,
		Retry:          config.CronRetryConfig{MaxRetries: 1, Backoff: time.Second},
		State: JobState{
			NextRunAt: time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC),
			LastRunAt: &last,
			LastError: "",
		},
	}
	if err := store.Put(job); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	reopened, err := NewFileJobStore(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	got, err := reopened.Get("digest")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name != job.Name || got.Type != job.Type || got.Enabled != job.Enabled {
		t.Errorf("round trip lost identity fields: %+v", got)
	}
	if !reflect.DeepEqual(got.Schedule, Schedule{Kind: ScheduleCron, Expr: "0 9 * * *", Timezone: "UTC"}) {
		t.Errorf("round trip lost schedule: %+v", got.Schedule)
	}
	if got.SessionTarget != job.SessionTarget || got.WakeMode != job.WakeMode || got.DeleteAfterRun != job.DeleteAfterRun {
		t.Errorf("round trip lost routing fields: %+v", got)
	}
	if !reflect.DeepEqual(got.Message, job.Message) || !reflect.DeepEqual(got.Retry, job.Retry) {
		t.Errorf("round trip lost payload/retry: %+v", got)
	}
	if !got.State.NextRunAt.Equal(job.State.NextRunAt) {
		t.Errorf("next run = %v, want %v", got.State.NextRunAt, job.State.NextRunAt)
	}
	if got.State.LastRunAt == nil || !got.State.LastRunAt.Equal(*job.State.LastRunAt) {
		t.Errorf("last run = %v, want %v", got.State.LastRunAt, job.State.LastRunAt)
	}
}

func mustPut(t *testing.T, store JobStore, job *Job) {
	t.Helper()
	if err := store.Put(job); err != nil {
		t.Fatalf("Put(%s) error = %v", job.ID, err)
	}
}
