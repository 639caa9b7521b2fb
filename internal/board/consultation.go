package board

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AgentRunner is the one capability the board package needs from the
// embedded agent run loop: drive a single turn for a given session/system
// prompt/user text to completion and return the assistant's reply text.
// Board depends on this interface rather than importing internal/agent
// directly, the same registered-callback discipline the cyclic
// orchestrator/task-runner reference uses (see meeting.go).
type AgentRunner interface {
	RunTurn(ctx context.Context, sessionKey, systemPrompt, userText string) (string, error)
}

// ErrSelfConsultation is returned when an agent tries to consult itself.
var ErrSelfConsultation = fmt.Errorf("an agent cannot consult itself")

// ErrDepthExceeded is returned when a consultation would exceed MaxDepth.
var ErrDepthExceeded = fmt.Errorf("consultation depth exceeds the configured maximum")

// ConsultationConfig configures depth and timeout defaults for
// consultations (the board.consultation.* config keys).
type ConsultationConfig struct {
	Enabled   bool
	MaxDepth  int
	TimeoutMs int
}

// newConsultation builds a Consultation record, rejecting self-consultation
// and depth overruns.
func newConsultation(from, to Role, question string, depth, maxDepth int, meetingID string, timeoutMs int) (*Consultation, error) {
	if from == to {
		return nil, ErrSelfConsultation
	}
	if depth > maxDepth {
		return nil, ErrDepthExceeded
	}
	return &Consultation{
		ID:        uuid.NewString(),
		FromAgent: from,
		ToAgent:   to,
		Question:  question,
		Depth:     depth,
		MaxDepth:  maxDepth,
		MeetingID: meetingID,
		TimeoutMs: timeoutMs,
		CreatedAt: time.Now(),
	}, nil
}

// ExecuteConsultations answers a batch of consultation requests: for each
// parsed tag, opens a child agent run with the consulted role, bounded by
// MaxDepth and a per-consultation timeout. Requests that fail validation
// (self-consult, depth exceeded) are recorded as an errored response rather
// than aborting the whole batch, so one bad tag doesn't swallow the rest.
func (o *Orchestrator) ExecuteConsultations(ctx context.Context, requests []ConsultationRequest, fromAgent Role, depth int, meetingID string) []ConsultationResponse {
	if len(requests) == 0 {
		return nil
	}

	cfg := o.consultConfig
	responses := make([]ConsultationResponse, len(requests))

	var wg sync.WaitGroup
	for i, req := range requests {
		i, req := i, req
		wg.Add(1)
		go func() {
			defer wg.Done()
			responses[i] = o.runOneConsultation(ctx, fromAgent, req, depth, meetingID, cfg)
		}()
	}
	wg.Wait()
	return responses
}

func (o *Orchestrator) runOneConsultation(ctx context.Context, fromAgent Role, req ConsultationRequest, depth int, meetingID string, cfg ConsultationConfig) ConsultationResponse {
	consult, err := newConsultation(fromAgent, req.ToAgent, req.Question, depth, cfg.MaxDepth, meetingID, cfg.TimeoutMs)
	if err != nil {
		return ConsultationResponse{FromAgent: req.ToAgent, Err: err}
	}

	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	agent := o.agentFor(consult.ToAgent)
	systemPrompt := o.composeSystemPrompt(consult.ToAgent, "")
	sessionKey := fmt.Sprintf("board:%s:consult:%s", consult.ToAgent, consult.ID)

	text, runErr := o.runner.RunTurn(cctx, sessionKey, systemPrompt, consult.Question)
	resp := ConsultationResponse{
		RequestID:  consult.ID,
		FromAgent:  consult.ToAgent,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if runErr != nil {
		resp.Err = runErr
		return resp
	}

	cleanedText, nested, _, _ := ProcessResponse(text, consult.ToAgent)
	resp.Text = cleanedText
	for _, n := range nested {
		resp.SuggestConsult = append(resp.SuggestConsult, n.ToAgent)
	}
	_ = agent
	return resp
}
