package main

import (
	"context"
	"fmt"
	"time"

	"github.com/conclave-ai/conclave/internal/agent"
	"github.com/conclave-ai/conclave/internal/board"
	"github.com/conclave-ai/conclave/internal/tasks"
	"github.com/conclave-ai/conclave/pkg/models"
)

// BoardAgentRunner adapts a Runtime to board.AgentRunner: driving one board
// role's turn to completion over a synthetic session keyed by the board's
// own per-role session key, with the role's composed system prompt
// supplied as a request-scoped override.
type BoardAgentRunner struct {
	runtime *agent.Runtime
}

// NewBoardAgentRunner wraps runtime for use as a board.AgentRunner.
func NewBoardAgentRunner(runtime *agent.Runtime) *BoardAgentRunner {
	return &BoardAgentRunner{runtime: runtime}
}

// RunTurn implements board.AgentRunner.
func (b *BoardAgentRunner) RunTurn(ctx context.Context, sessionKey, systemPrompt, userText string) (string, error) {
	msg := &models.Message{
		ID:        sessionKey + "-" + fmt.Sprintf("%d", len(userText)),
		SessionID: sessionKey,
		Role:      models.RoleUser,
		Content:   userText,
	}
	return b.RunTurnMessage(ctx, sessionKey, systemPrompt, msg)
}

// RunTurnMessage drives one turn for a fully-formed message, letting the
// caller attach images or other media before submission.
func (b *BoardAgentRunner) RunTurnMessage(ctx context.Context, sessionKey, systemPrompt string, msg *models.Message) (string, error) {
	session := &models.Session{ID: sessionKey, Channel: models.ChannelTelegram, Key: sessionKey}
	if msg.SessionID == "" {
		msg.SessionID = sessionKey
	}

	if systemPrompt != "" {
		ctx = agent.WithSystemPrompt(ctx, systemPrompt)
	}
	chunks, err := b.runtime.Process(ctx, session, msg)
	if err != nil {
		return "", err
	}

	var text string
	for chunk := range chunks {
		if chunk.Error != nil {
			return text, chunk.Error
		}
		text += chunk.Text
	}
	return text, nil
}

// BoardTaskDispatcher adapts the scheduled-task store to
// board.TaskDispatcher, for ExecuteAsyncMeeting: each specialist's turn
// becomes a single one-off task execution tagged with the meeting id so the
// board's registered completion hook (board.NotifySpecialistTaskComplete)
// can be invoked once the task store marks it terminal.
type BoardTaskDispatcher struct {
	store  tasks.Store
	runner board.AgentRunner
}

// NewBoardTaskDispatcher builds a dispatcher backed by store for bookkeeping
// and runner for actually executing each specialist's turn.
func NewBoardTaskDispatcher(store tasks.Store, runner board.AgentRunner) *BoardTaskDispatcher {
	return &BoardTaskDispatcher{store: store, runner: runner}
}

// DispatchSpecialistTask implements board.TaskDispatcher. It records a
// single-execution TaskExecution row for traceability (the task has no
// recurrence and no cron schedule of its own), runs the specialist turn in
// the background, and reports the outcome back through the board
// package's registered completion hook rather than importing
// board.Orchestrator directly.
func (d *BoardTaskDispatcher) DispatchSpecialistTask(ctx context.Context, role board.Role, prompt, meetingID string) (string, error) {
	execID := meetingID + ":" + string(role)
	now := time.Now()
	sessionKey := fmt.Sprintf("board:%s:meeting:%s", role, meetingID)

	exec := &tasks.TaskExecution{
		ID:          execID,
		TaskID:      "board-meeting:" + meetingID,
		Status:      tasks.ExecutionStatusRunning,
		ScheduledAt: now,
		StartedAt:   &now,
		SessionID:   sessionKey,
		Prompt:      prompt,
	}
	if d.store != nil {
		if err := d.store.CreateExecution(ctx, exec); err != nil {
			return "", fmt.Errorf("board: record specialist execution: %w", err)
		}
	}

	go func() {
		text, runErr := d.runner.RunTurn(context.Background(), sessionKey, "", prompt)
		if runErr != nil {
			if d.store != nil {
				d.store.CompleteExecution(context.Background(), execID, tasks.ExecutionStatusFailed, "", runErr.Error())
			}
			board.NotifySpecialistTaskComplete(meetingID, role, "", board.FailureError, runErr.Error())
			return
		}

		cleaned, _, _, _ := board.ProcessResponse(text, role)
		if d.store != nil {
			d.store.CompleteExecution(context.Background(), execID, tasks.ExecutionStatusSucceeded, cleaned, "")
		}
		board.NotifySpecialistTaskComplete(meetingID, role, cleaned, board.FailureNone, "")
	}()

	return execID, nil
}
