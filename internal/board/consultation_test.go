package board

import (
	"context"
	"errors"
	"testing"
)

type stubRunner struct {
	reply func(sessionKey, systemPrompt, userText string) (string, error)
}

func (s *stubRunner) RunTurn(ctx context.Context, sessionKey, systemPrompt, userText string) (string, error) {
	if s.reply != nil {
		return s.reply(sessionKey, systemPrompt, userText)
	}
	return "ack: " + userText, nil
}

func TestNewConsultation_RejectsSelfConsult(t *testing.T) {
	_, err := newConsultation(RoleEngineering, RoleEngineering, "can you review this?", 0, 2, "", 1000)
	if !errors.Is(err, ErrSelfConsultation) {
		t.Fatalf("err = %v, want ErrSelfConsultation", err)
	}
}

func TestNewConsultation_RejectsDepthExceeded(t *testing.T) {
	_, err := newConsultation(RoleEngineering, RoleProduct, "thoughts?", 3, 2, "", 1000)
	if !errors.Is(err, ErrDepthExceeded) {
		t.Fatalf("err = %v, want ErrDepthExceeded", err)
	}
}

func TestNewConsultation_ValidRequest(t *testing.T) {
	c, err := newConsultation(RoleEngineering, RoleProduct, "thoughts?", 1, 2, "meeting-1", 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.FromAgent == c.ToAgent {
		t.Error("FromAgent and ToAgent must differ")
	}
	if c.ID == "" {
		t.Error("Consultation must have an ID")
	}
}

func TestExecuteConsultations_RunsEachRequest(t *testing.T) {
	runner := &stubRunner{reply: func(sessionKey, systemPrompt, userText string) (string, error) {
		return "answer to: " + userText, nil
	}}
	o := NewOrchestrator(Config{}, runner, nil, nil)

	reqs := []ConsultationRequest{
		{ToAgent: RoleLegal, Question: "is this compliant?"},
		{ToAgent: RoleFinance, Question: "what's the cost?"},
	}
	responses := o.ExecuteConsultations(context.Background(), reqs, RoleGeneral, 0, "")

	if len(responses) != 2 {
		t.Fatalf("got %d responses, want 2", len(responses))
	}
	for _, r := range responses {
		if r.Err != nil {
			t.Errorf("unexpected error for %s: %v", r.FromAgent, r.Err)
		}
	}
}

func TestExecuteConsultations_SelfConsultReturnsError(t *testing.T) {
	runner := &stubRunner{}
	o := NewOrchestrator(Config{}, runner, nil, nil)

	responses := o.ExecuteConsultations(context.Background(), []ConsultationRequest{
		{ToAgent: RoleEngineering, Question: "review your own work?"},
	}, RoleEngineering, 0, "")

	if len(responses) != 1 || responses[0].Err == nil {
		t.Fatalf("expected a self-consultation error, got %+v", responses)
	}
}
