package board

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MeetingConfig configures convened board meetings (the board.meetings.*
// config keys).
type MeetingConfig struct {
	Enabled          bool
	MaxDurationMs    int
	MaxTurnsPerAgent int
}

// TaskDispatcher is the one capability ExecuteAsyncMeeting needs from the
// Task Runner: submit a single-step autonomous task for a
// role and return its task id. The board package has no compile-time
// dependency on internal/tasks; a concrete dispatcher is wired in by the
// caller, same as AgentRunner.
type TaskDispatcher interface {
	DispatchSpecialistTask(ctx context.Context, role Role, prompt, meetingID string) (taskID string, err error)
}

// meetingHooks is the process-wide registered-callback table the Task
// Runner uses to report a specialist task's terminal outcome back to the
// meeting that spawned it, avoiding a compile-time import cycle between
// the board and task-runner packages.
var meetingHooks = struct {
	mu    sync.Mutex
	byID  map[string]func(role Role, result string, failure SpecialistFailureReason, failureMsg string)
}{byID: make(map[string]func(Role, string, SpecialistFailureReason, string))}

// RegisterMeetingCompletionHook registers the callback the Task Runner
// invokes when a specialist task tagged with meetingID reaches a terminal
// state. Call UnregisterMeetingCompletionHook once the meeting itself
// reaches a terminal state to avoid leaking entries.
func RegisterMeetingCompletionHook(meetingID string, fn func(role Role, result string, failure SpecialistFailureReason, failureMsg string)) {
	meetingHooks.mu.Lock()
	defer meetingHooks.mu.Unlock()
	meetingHooks.byID[meetingID] = fn
}

// UnregisterMeetingCompletionHook removes a previously registered hook.
func UnregisterMeetingCompletionHook(meetingID string) {
	meetingHooks.mu.Lock()
	defer meetingHooks.mu.Unlock()
	delete(meetingHooks.byID, meetingID)
}

// NotifySpecialistTaskComplete is called by the Task Runner (internal/tasks)
// when a task carrying a meeting id finishes, successfully or not. It never
// imports the board package's Orchestrator type, only this free function.
func NotifySpecialistTaskComplete(meetingID string, role Role, result string, failure SpecialistFailureReason, failureMsg string) {
	meetingHooks.mu.Lock()
	fn := meetingHooks.byID[meetingID]
	meetingHooks.mu.Unlock()
	if fn != nil {
		fn(role, result, failure, failureMsg)
	}
}

// ExecuteMeeting convenes the board: create a BoardMeeting, run
// the five specialists in parallel with a per-agent timeout (fail-individual
// on error/timeout, the meeting continues with partial inputs), then run
// the general agent over a synthesis prompt once every specialist has
// reached a terminal state.
func (o *Orchestrator) ExecuteMeeting(ctx context.Context, topic string, initiatedBy Role) (*BoardMeeting, error) {
	cfg := o.meetingConfig
	meeting := &BoardMeeting{
		ID:               uuid.NewString(),
		Topic:            topic,
		Status:           MeetingPending,
		InitiatedBy:      initiatedBy,
		CreatedAt:        time.Now(),
		MaxDurationMs:    cfg.MaxDurationMs,
		MaxTurnsPerAgent: cfg.MaxTurnsPerAgent,
	}

	overallTimeout := time.Duration(cfg.MaxDurationMs) * time.Millisecond
	if overallTimeout <= 0 {
		overallTimeout = 2 * time.Minute
	}
	mctx, cancel := context.WithTimeout(ctx, overallTimeout)
	defer cancel()

	meeting.Status = MeetingInProgress
	meeting.StartedAt = time.Now()

	perAgentTimeout := overallTimeout
	if len(Specialists()) > 0 {
		// Leave headroom for the synthesis turn inside the overall budget.
		perAgentTimeout = overallTimeout * 7 / 10
	}

	var wg sync.WaitGroup
	inputs := make([]SpecialistInput, len(Specialists()))
	for i, role := range Specialists() {
		i, role := i, role
		wg.Add(1)
		go func() {
			defer wg.Done()
			inputs[i] = o.runSpecialist(mctx, role, topic, perAgentTimeout)
		}()
	}
	wg.Wait()
	meeting.Inputs = inputs

	if mctx.Err() != nil && !meeting.allInputsTerminal() {
		meeting.Status = MeetingCancelled
		meeting.CompletedAt = time.Now()
		return meeting, mctx.Err()
	}

	meeting.Status = MeetingSynthesizing
	synthesis, err := o.synthesize(ctx, meeting)
	if err != nil {
		meeting.Status = MeetingFailed
		meeting.CompletedAt = time.Now()
		return meeting, err
	}

	meeting.Synthesis = synthesis
	meeting.Status = MeetingCompleted
	meeting.CompletedAt = time.Now()
	return meeting, nil
}

func (o *Orchestrator) runSpecialist(ctx context.Context, role Role, topic string, timeout time.Duration) SpecialistInput {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	systemPrompt := o.composeSystemPrompt(role, "")
	sessionKey := fmt.Sprintf("board:%s:meeting", role)
	prompt := fmt.Sprintf("The board has convened to discuss: %q\n\nGive your specialist perspective and recommendation.", topic)

	text, err := o.runner.RunTurn(cctx, sessionKey, systemPrompt, prompt)
	dur := time.Since(start).Milliseconds()
	if err != nil {
		reason := FailureError
		if cctx.Err() == context.DeadlineExceeded {
			reason = FailureTimeout
		} else if cctx.Err() == context.Canceled {
			reason = FailureCancelled
		}
		return SpecialistInput{Agent: role, Failure: reason, FailureMsg: err.Error(), DurationMs: dur}
	}

	cleaned, _, _, _ := ProcessResponse(text, role)
	return SpecialistInput{Agent: role, Text: cleaned, DurationMs: dur}
}

// synthesize builds the synthesis prompt (missing specialists are listed
// with their failure reason, not generically "failed") and runs it through
// the general agent.
func (o *Orchestrator) synthesize(ctx context.Context, meeting *BoardMeeting) (string, error) {
	prompt := fmt.Sprintf("Board meeting synthesis for: %q\n\n", meeting.Topic)
	for _, in := range meeting.Inputs {
		if in.Failure != FailureNone {
			prompt += fmt.Sprintf("- %s: [failed: %s] %s\n", in.Agent, in.Failure, in.FailureMsg)
			continue
		}
		prompt += fmt.Sprintf("- %s: %s\n", in.Agent, in.Text)
	}
	prompt += "\nSynthesize these specialist inputs into a single final recommendation."

	systemPrompt := o.composeSystemPrompt(RoleGeneral, "")
	sessionKey := fmt.Sprintf("board:general:meeting:%s:synthesis", meeting.ID)
	return o.runner.RunTurn(ctx, sessionKey, systemPrompt, prompt)
}

// ExecuteAsyncMeeting is the detached variant of ExecuteMeeting:
// specialists run as autonomous background tasks rather than inline
// goroutines. Synthesis is launched
// automatically, via the registered completion hook, once every specialist
// task has reached a terminal state.
func (o *Orchestrator) ExecuteAsyncMeeting(ctx context.Context, topic string, initiatedBy Role, dispatcher TaskDispatcher) (*BoardMeeting, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("board: ExecuteAsyncMeeting requires a TaskDispatcher")
	}

	meeting := &BoardMeeting{
		ID:            uuid.NewString(),
		Topic:         topic,
		Status:        MeetingInProgress,
		InitiatedBy:   initiatedBy,
		CreatedAt:     time.Now(),
		StartedAt:     time.Now(),
		MaxDurationMs: o.meetingConfig.MaxDurationMs,
		TaskIDs:       make(map[Role]string, len(Specialists())),
	}

	var mu sync.Mutex
	RegisterMeetingCompletionHook(meeting.ID, func(role Role, result string, failure SpecialistFailureReason, failureMsg string) {
		mu.Lock()
		defer mu.Unlock()
		meeting.Inputs = append(meeting.Inputs, SpecialistInput{
			Agent:      role,
			Text:       result,
			Failure:    failure,
			FailureMsg: failureMsg,
		})
		if meeting.allInputsTerminal() && meeting.Status == MeetingInProgress {
			meeting.Status = MeetingSynthesizing
			synthesis, err := o.synthesize(context.Background(), meeting)
			if err != nil {
				meeting.Status = MeetingFailed
			} else {
				meeting.Synthesis = synthesis
				meeting.Status = MeetingCompleted
			}
			meeting.CompletedAt = time.Now()
			UnregisterMeetingCompletionHook(meeting.ID)
		}
	})

	prompt := fmt.Sprintf("The board has convened to discuss: %q\n\nGive your specialist perspective and recommendation.", topic)
	for _, role := range Specialists() {
		taskID, err := dispatcher.DispatchSpecialistTask(ctx, role, prompt, meeting.ID)
		if err != nil {
			mu.Lock()
			meeting.Inputs = append(meeting.Inputs, SpecialistInput{Agent: role, Failure: FailureError, FailureMsg: err.Error()})
			mu.Unlock()
			continue
		}
		meeting.TaskIDs[role] = taskID
	}

	return meeting, nil
}
