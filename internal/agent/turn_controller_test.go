package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/conclave-ai/conclave/internal/auth"
	"github.com/conclave-ai/conclave/internal/models"
)

func newTestProfileStore(t *testing.T, provider string, profileIDs ...string) *auth.ProfileStore {
	t.Helper()
	store, err := auth.LoadProfileStore(t.TempDir())
	if err != nil {
		t.Fatalf("LoadProfileStore: %v", err)
	}
	for _, id := range profileIDs {
		store.AddProfile(id, auth.ProfileCredential{
			Type:     auth.CredentialAPIKey,
			Provider: provider,
			Key:      "key-" + id,
		})
	}
	return store
}

func TestRunTurn_HappyPath(t *testing.T) {
	calls := 0
	attempt := func(ctx context.Context, level ThinkingLevel, profileID string) (string, error) {
		calls++
		return "ok", nil
	}

	c := &TurnController{}
	result, err := RunTurn(context.Background(), c, "sess-1", ThinkingOff, attempt)
	if err != nil {
		t.Fatalf("RunTurn returned error: %v", err)
	}
	if result != "ok" {
		t.Errorf("result = %q, want %q", result, "ok")
	}
	if calls != 1 {
		t.Errorf("attempt called %d times, want 1", calls)
	}
}

func TestRunTurn_NoFailoverConfigured_SurfacesErrorDirectly(t *testing.T) {
	wantErr := errors.New("boom")
	attempt := func(ctx context.Context, level ThinkingLevel, profileID string) (string, error) {
		return "", wantErr
	}

	c := &TurnController{}
	_, err := RunTurn(context.Background(), c, "sess-1", ThinkingOff, attempt)
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}

func TestRunTurn_ProfileRotationOnAuthFailure(t *testing.T) {
	store := newTestProfileStore(t, "anthropic", "a", "b")

	var seenProfiles []string
	attempt := func(ctx context.Context, level ThinkingLevel, profileID string) (string, error) {
		seenProfiles = append(seenProfiles, profileID)
		if profileID == "a" {
			return "", errors.New("401 unauthorized")
		}
		return "success", nil
	}

	c := &TurnController{Auth: store, Provider: "anthropic"}
	result, err := RunTurn(context.Background(), c, "sess-1", ThinkingOff, attempt)
	if err != nil {
		t.Fatalf("RunTurn returned error: %v", err)
	}
	if result != "success" {
		t.Errorf("result = %q, want success", result)
	}
	if len(seenProfiles) != 2 || seenProfiles[0] != "a" || seenProfiles[1] != "b" {
		t.Errorf("seenProfiles = %v, want [a b]", seenProfiles)
	}

	stats := store.GetStats("a")
	if stats.FailCount != 1 {
		t.Errorf("profile a FailCount = %d, want 1", stats.FailCount)
	}
}

func TestRunTurn_AllProfilesExhausted_NoModelFallback(t *testing.T) {
	store := newTestProfileStore(t, "anthropic", "a")

	attempt := func(ctx context.Context, level ThinkingLevel, profileID string) (string, error) {
		return "", errors.New("401 unauthorized")
	}

	c := &TurnController{Auth: store, Provider: "anthropic"}
	_, err := RunTurn(context.Background(), c, "sess-1", ThinkingOff, attempt)
	if err == nil {
		t.Fatal("expected an error once all profiles are exhausted")
	}
	if models.IsFailoverError(err) {
		t.Errorf("expected a plain error without a configured model fallback chain, got FailoverError: %v", err)
	}
}

func TestRunTurn_AllProfilesExhausted_RaisesFailoverErrorWithModelFallback(t *testing.T) {
	store := newTestProfileStore(t, "anthropic", "a")

	attempt := func(ctx context.Context, level ThinkingLevel, profileID string) (string, error) {
		return "", errors.New("401 unauthorized")
	}

	c := &TurnController{
		Auth:     store,
		Provider: "anthropic",
		Policy: FailoverPolicy{
			ModelFallbacks: []ModelTarget{{Provider: "openai", Model: "gpt-4o"}},
		},
	}
	_, err := RunTurn(context.Background(), c, "sess-1", ThinkingOff, attempt)
	if !models.IsFailoverError(err) {
		t.Fatalf("expected a FailoverError, got: %v", err)
	}
}

func TestRunTurn_RateLimitWaitsOnceThenRotates(t *testing.T) {
	store := newTestProfileStore(t, "anthropic", "a", "b")

	var seenProfiles []string
	rateLimitHits := 0
	attempt := func(ctx context.Context, level ThinkingLevel, profileID string) (string, error) {
		seenProfiles = append(seenProfiles, profileID)
		if profileID == "a" {
			rateLimitHits++
			return "", errors.New("429 rate limit exceeded")
		}
		return "success", nil
	}

	c := &TurnController{
		Auth:     store,
		Provider: "anthropic",
		Policy:   FailoverPolicy{RateLimitWait: time.Millisecond},
	}
	result, err := RunTurn(context.Background(), c, "sess-1", ThinkingOff, attempt)
	if err != nil {
		t.Fatalf("RunTurn returned error: %v", err)
	}
	if result != "success" {
		t.Errorf("result = %q, want success", result)
	}
	// First rate-limit hit waits and retries the same profile; the second
	// hit on "a" rotates to "b".
	if rateLimitHits != 2 {
		t.Errorf("rateLimitHits = %d, want 2 (one retried wait, one rotation trigger)", rateLimitHits)
	}
	if len(seenProfiles) != 3 || seenProfiles[0] != "a" || seenProfiles[1] != "a" || seenProfiles[2] != "b" {
		t.Errorf("seenProfiles = %v, want [a a b]", seenProfiles)
	}
}

func TestRunTurn_ContextOverflowTriggersCompactionThenRetries(t *testing.T) {
	compacted := false
	attempts := 0
	attempt := func(ctx context.Context, level ThinkingLevel, profileID string) (string, error) {
		attempts++
		if attempts == 1 {
			return "", errors.New("maximum context length exceeded")
		}
		return "recovered", nil
	}

	c := &TurnController{
		Compact: func(ctx context.Context, sessionID string) (string, error) {
			compacted = true
			return "new-branch", nil
		},
	}
	result, err := RunTurn(context.Background(), c, "sess-1", ThinkingOff, attempt)
	if err != nil {
		t.Fatalf("RunTurn returned error: %v", err)
	}
	if result != "recovered" {
		t.Errorf("result = %q, want recovered", result)
	}
	if !compacted {
		t.Error("expected Compact to be called")
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestRunTurn_DoubleContextOverflowIsTerminal(t *testing.T) {
	compactions := 0
	attempt := func(ctx context.Context, level ThinkingLevel, profileID string) (string, error) {
		return "", errors.New("maximum context length exceeded")
	}

	c := &TurnController{
		Compact: func(ctx context.Context, sessionID string) (string, error) {
			compactions++
			return "new-branch", nil
		},
	}
	_, err := RunTurn(context.Background(), c, "sess-1", ThinkingOff, attempt)
	if !errors.Is(err, ErrConversationTooLarge) {
		t.Fatalf("err = %v, want ErrConversationTooLarge", err)
	}
	if compactions != 1 {
		t.Errorf("compactions = %d, want exactly 1 (no second attempt at recovery)", compactions)
	}
}

func TestRunTurn_CompactionFailureIsTerminal(t *testing.T) {
	attempt := func(ctx context.Context, level ThinkingLevel, profileID string) (string, error) {
		return "", errors.New("maximum context length exceeded")
	}

	c := &TurnController{
		Compact: func(ctx context.Context, sessionID string) (string, error) {
			return "", errors.New("compaction failed: summarizer unavailable")
		},
	}
	_, err := RunTurn(context.Background(), c, "sess-1", ThinkingOff, attempt)
	if !errors.Is(err, ErrConversationTooLarge) {
		t.Fatalf("err = %v, want ErrConversationTooLarge", err)
	}
}

func TestRunTurn_NoCompactionFuncConfigured_OverflowIsTerminal(t *testing.T) {
	attempt := func(ctx context.Context, level ThinkingLevel, profileID string) (string, error) {
		return "", errors.New("prompt is too long for this model")
	}

	c := &TurnController{}
	_, err := RunTurn(context.Background(), c, "sess-1", ThinkingOff, attempt)
	if !errors.Is(err, ErrConversationTooLarge) {
		t.Fatalf("err = %v, want ErrConversationTooLarge", err)
	}
}

func TestRunTurn_RoleOrderingIsTerminal(t *testing.T) {
	attempt := func(ctx context.Context, level ThinkingLevel, profileID string) (string, error) {
		return "", errors.New("messages must alternate between user and assistant roles")
	}

	c := &TurnController{}
	_, err := RunTurn(context.Background(), c, "sess-1", ThinkingOff, attempt)
	if !errors.Is(err, ErrOrderingConflict) {
		t.Fatalf("err = %v, want ErrOrderingConflict", err)
	}
}

func TestRunTurn_ImageSizeIsTerminal(t *testing.T) {
	attempt := func(ctx context.Context, level ThinkingLevel, profileID string) (string, error) {
		return "", errors.New("image exceeds maximum allowed size")
	}

	c := &TurnController{}
	_, err := RunTurn(context.Background(), c, "sess-1", ThinkingOff, attempt)
	if !errors.Is(err, ErrImagePayloadTooLarge) {
		t.Fatalf("err = %v, want ErrImagePayloadTooLarge", err)
	}
}

func TestRunTurn_ImageDimensionIsTerminal(t *testing.T) {
	attempt := func(ctx context.Context, level ThinkingLevel, profileID string) (string, error) {
		return "", errors.New("unsupported image dimensions provided")
	}

	c := &TurnController{}
	_, err := RunTurn(context.Background(), c, "sess-1", ThinkingOff, attempt)
	if !errors.Is(err, ErrImageDimensions) {
		t.Fatalf("err = %v, want ErrImageDimensions", err)
	}
}

func TestRunTurn_ThinkingFallbackDegradesThenSucceeds(t *testing.T) {
	var seenLevels []ThinkingLevel
	attempt := func(ctx context.Context, level ThinkingLevel, profileID string) (string, error) {
		seenLevels = append(seenLevels, level)
		if level == ThinkingHigh {
			return "", errors.New("thinking budget not supported for this request")
		}
		return "ok", nil
	}

	c := &TurnController{
		Policy: FailoverPolicy{ThinkingFallbacks: DefaultThinkingFallbackChain()},
	}
	result, err := RunTurn(context.Background(), c, "sess-1", ThinkingHigh, attempt)
	if err != nil {
		t.Fatalf("RunTurn returned error: %v", err)
	}
	if result != "ok" {
		t.Errorf("result = %q, want ok", result)
	}
	if len(seenLevels) != 2 || seenLevels[0] != ThinkingHigh || seenLevels[1] != ThinkingMedium {
		t.Errorf("seenLevels = %v, want [High Medium]", seenLevels)
	}
}

func TestRunTurn_AbortErrorIsNeverRetried(t *testing.T) {
	attempts := 0
	attempt := func(ctx context.Context, level ThinkingLevel, profileID string) (string, error) {
		attempts++
		return "", models.ErrAborted
	}

	store := newTestProfileStore(t, "anthropic", "a", "b")
	c := &TurnController{Auth: store, Provider: "anthropic"}
	_, err := RunTurn(context.Background(), c, "sess-1", ThinkingOff, attempt)
	if !errors.Is(err, models.ErrAborted) {
		t.Fatalf("err = %v, want ErrAborted", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (abort must not retry)", attempts)
	}
}

func TestRunTurn_NoProfilesConfigured(t *testing.T) {
	store := newTestProfileStore(t, "anthropic") // no profiles added
	attempt := func(ctx context.Context, level ThinkingLevel, profileID string) (string, error) {
		t.Fatal("attempt should not be called when no profiles are available")
		return "", nil
	}

	c := &TurnController{Auth: store, Provider: "anthropic"}
	_, err := RunTurn(context.Background(), c, "sess-1", ThinkingOff, attempt)
	if !errors.Is(err, ErrAllProfilesExhausted) {
		t.Fatalf("err = %v, want ErrAllProfilesExhausted", err)
	}
}

func TestRunTurn_ContextCancelledBeforeAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempt := func(ctx context.Context, level ThinkingLevel, profileID string) (string, error) {
		t.Fatal("attempt should not be called once the context is already cancelled")
		return "", nil
	}

	c := &TurnController{}
	_, err := RunTurn(ctx, c, "sess-1", ThinkingOff, attempt)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestRunTurn_AllProfilesInCooldown_NoDriverCall(t *testing.T) {
	store := newTestProfileStore(t, "anthropic", "a", "b")

	// Both profiles enter cooldown before the turn starts.
	store.MarkFailureWithReason("a", "rate_limit")
	store.MarkFailureWithReason("b", "auth")

	calls := 0
	attempt := func(ctx context.Context, level ThinkingLevel, profileID string) (string, error) {
		calls++
		return "should never run", nil
	}

	c := &TurnController{Auth: store, Provider: "anthropic"}
	_, err := RunTurn(context.Background(), c, "sess-1", ThinkingOff, attempt)
	if !errors.Is(err, ErrAllProfilesExhausted) {
		t.Fatalf("err = %v, want ErrAllProfilesExhausted", err)
	}
	if calls != 0 {
		t.Fatalf("attempt called %d times; a cooling-down pool must not reach the driver", calls)
	}
}

func TestRunTurn_AllProfilesInCooldown_WithFallbackRaisesFailoverError(t *testing.T) {
	store := newTestProfileStore(t, "anthropic", "a")
	store.MarkFailureWithReason("a", "rate_limit")

	calls := 0
	attempt := func(ctx context.Context, level ThinkingLevel, profileID string) (string, error) {
		calls++
		return "", nil
	}

	c := &TurnController{
		Auth:     store,
		Provider: "anthropic",
		Policy:   FailoverPolicy{ModelFallbacks: []ModelTarget{{Provider: "openai", Model: "gpt-4o"}}},
	}
	_, err := RunTurn(context.Background(), c, "sess-1", ThinkingOff, attempt)
	if !models.IsFailoverError(err) {
		t.Fatalf("err = %v, want FailoverError so the outer caller switches models", err)
	}
	if calls != 0 {
		t.Fatalf("attempt called %d times, want 0", calls)
	}
}

func TestRunTurn_AdvanceSkipsProfileBenchedMidTurn(t *testing.T) {
	store := newTestProfileStore(t, "anthropic", "a", "b", "c")

	var seen []string
	attempt := func(ctx context.Context, level ThinkingLevel, profileID string) (string, error) {
		seen = append(seen, profileID)
		if profileID == "a" {
			// While a's attempt was in flight, b got benched by another
			// turn's failure.
			store.MarkFailureWithReason("b", "rate_limit")
			return "", errors.New("401 unauthorized")
		}
		return "recovered", nil
	}

	c := &TurnController{Auth: store, Provider: "anthropic"}
	result, err := RunTurn(context.Background(), c, "sess-1", ThinkingOff, attempt)
	if err != nil {
		t.Fatalf("RunTurn returned error: %v", err)
	}
	if result != "recovered" {
		t.Errorf("result = %q", result)
	}
	if len(seen) != 2 || seen[0] != "a" || seen[1] != "c" {
		t.Errorf("seen = %v, want [a c] (b skipped while benched)", seen)
	}
}

func TestRunTurn_LastGoodProfileLeads(t *testing.T) {
	store := newTestProfileStore(t, "anthropic", "a", "b")
	store.MarkSuccess("b")

	var seen []string
	attempt := func(ctx context.Context, level ThinkingLevel, profileID string) (string, error) {
		seen = append(seen, profileID)
		return "ok", nil
	}

	c := &TurnController{Auth: store, Provider: "anthropic"}
	if _, err := RunTurn(context.Background(), c, "sess-1", ThinkingOff, attempt); err != nil {
		t.Fatalf("RunTurn returned error: %v", err)
	}
	if len(seen) != 1 || seen[0] != "b" {
		t.Errorf("seen = %v, want the last-good profile b first", seen)
	}
}

func TestRunTurn_PreferredProfilePinOverridesLastGood(t *testing.T) {
	store := newTestProfileStore(t, "anthropic", "a", "b")
	store.MarkSuccess("b")

	var seen []string
	attempt := func(ctx context.Context, level ThinkingLevel, profileID string) (string, error) {
		seen = append(seen, profileID)
		return "ok", nil
	}

	c := &TurnController{Auth: store, Provider: "anthropic", PreferredProfile: "a"}
	if _, err := RunTurn(context.Background(), c, "sess-1", ThinkingOff, attempt); err != nil {
		t.Fatalf("RunTurn returned error: %v", err)
	}
	if len(seen) != 1 || seen[0] != "a" {
		t.Errorf("seen = %v, want the pinned profile a first", seen)
	}
}
