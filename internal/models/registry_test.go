package models

import (
	"errors"
	"strings"
	"testing"
)

func TestRegistryResolveKnownModel(t *testing.T) {
	r := NewRegistry()

	d, err := r.Resolve("anthropic", "claude-sonnet-4")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if d.ContextWindowTokens != 200000 {
		t.Errorf("window = %d, want 200000", d.ContextWindowTokens)
	}
	if !d.SupportsThinking {
		t.Error("expected thinking support")
	}
}

func TestRegistryResolveUnknownModel(t *testing.T) {
	r := NewRegistry()

	_, err := r.Resolve("anthropic", "claude-imaginary")
	if err == nil {
		t.Fatal("expected error for unknown model")
	}
	if IsFailoverError(err) {
		t.Error("unknown model is a plain config error, not a failover signal")
	}
	if !strings.Contains(err.Error(), "claude-imaginary") {
		t.Errorf("error should carry the model id: %v", err)
	}
}

func TestRegistryGuardRejectsTinyWindowBeforeDriverCall(t *testing.T) {
	r := NewRegistry()

	// gpt-4's 8k window is below the usable floor.
	_, err := r.Resolve("openai", "gpt-4")
	if err == nil {
		t.Fatal("expected the window guard to reject")
	}
	var failoverErr *FailoverError
	if !errors.As(err, &failoverErr) {
		t.Fatalf("expected a FailoverError so a fallback chain advances, got %T", err)
	}
	if failoverErr.Reason != ReasonUnknown {
		t.Errorf("reason = %q, want %q", failoverErr.Reason, ReasonUnknown)
	}
	if failoverErr.Model != "gpt-4" {
		t.Errorf("model tag = %q, want gpt-4", failoverErr.Model)
	}
}

func TestRegistryRegisterOverrides(t *testing.T) {
	r := NewRegistry()
	r.Register(Descriptor{Provider: "ollama", ID: "custom", ContextWindowTokens: 64000})

	d, err := r.Resolve("ollama", "custom")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if d.ContextWindowTokens != 64000 {
		t.Errorf("window = %d", d.ContextWindowTokens)
	}
}

func TestDescriptorBelowWarnThreshold(t *testing.T) {
	small := &Descriptor{ContextWindowTokens: 20000}
	if !small.BelowWarnThreshold() {
		t.Error("20k window should warn")
	}
	big := &Descriptor{ContextWindowTokens: 200000}
	if big.BelowWarnThreshold() {
		t.Error("200k window should not warn")
	}
}
