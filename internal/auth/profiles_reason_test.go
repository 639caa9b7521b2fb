package auth

import (
	"testing"
	"time"
)

func TestMarkFailureWithReason_HoldsProfileInCooldown(t *testing.T) {
	store := newProfileStore()
	store.AddProfile("p1", ProfileCredential{Type: CredentialAPIKey, Provider: "anthropic", Key: "k1"})

	store.MarkFailureWithReason("p1", "auth")

	if order := store.ResolveProfileOrder("anthropic", ""); len(order) != 0 {
		t.Fatalf("order = %v, want empty while held", order)
	}
	if !store.IsInCooldown("p1") {
		t.Fatal("expected p1 to be in cooldown")
	}

	stats := store.GetStats("p1")
	if stats.FailCount != 1 {
		t.Errorf("FailCount = %d, want 1", stats.FailCount)
	}
}

func TestMarkFailureWithReason_DifferentReasonsYieldDifferentHolds(t *testing.T) {
	cases := []struct {
		reason string
	}{
		{"auth"}, {"rate_limit"}, {"timeout"}, {"unknown"},
	}

	var holds []int64
	for _, tc := range cases {
		store := newProfileStore()
		store.AddProfile("p1", ProfileCredential{Type: CredentialAPIKey, Provider: "anthropic", Key: "k1"})
		store.MarkFailureWithReason("p1", tc.reason)
		holds = append(holds, store.ReasonCooldownUntil["p1"])
	}

	// auth (30m) should hold longer than timeout (15s).
	authHold := holds[0]
	timeoutHold := holds[2]
	if authHold <= timeoutHold {
		t.Errorf("expected auth cooldown (%d) to exceed timeout cooldown (%d)", authHold, timeoutHold)
	}
}

func TestMarkSuccess_ClearsReasonCooldown(t *testing.T) {
	store := newProfileStore()
	store.AddProfile("p1", ProfileCredential{Type: CredentialAPIKey, Provider: "anthropic", Key: "k1"})

	store.MarkFailureWithReason("p1", "auth")
	if _, ok := store.ReasonCooldownUntil["p1"]; !ok {
		t.Fatal("expected ReasonCooldownUntil to be set after MarkFailureWithReason")
	}

	store.MarkSuccess("p1")
	if _, ok := store.ReasonCooldownUntil["p1"]; ok {
		t.Error("expected MarkSuccess to clear ReasonCooldownUntil")
	}

	if order := store.ResolveProfileOrder("anthropic", ""); len(order) != 1 {
		t.Errorf("order after MarkSuccess = %v, want [p1]", order)
	}
}

func TestMarkFailure_PlainCallerUnaffectedByReasonCooldown(t *testing.T) {
	store := newProfileStore()
	store.AddProfile("p1", ProfileCredential{Type: CredentialAPIKey, Provider: "anthropic", Key: "k1"})

	store.MarkFailure("p1")

	if _, ok := store.ReasonCooldownUntil["p1"]; ok {
		t.Error("plain MarkFailure should never populate ReasonCooldownUntil")
	}
}

func TestRateLimitCooldownDeadlineGrowsMonotonically(t *testing.T) {
	store := newProfileStore()
	store.AddProfile("p1", ProfileCredential{Type: CredentialAPIKey, Provider: "anthropic", Key: "k1"})

	var last int64
	for i := 0; i < 5; i++ {
		store.MarkFailureWithReason("p1", "rate_limit")
		until := store.ReasonCooldownUntil["p1"]
		if until < last {
			t.Fatalf("cooldown deadline moved backwards on failure %d: %d -> %d", i+1, last, until)
		}
		last = until
	}
}

func TestSetCooldownPolicyOverridesHolds(t *testing.T) {
	store := newProfileStore()
	store.AddProfile("p1", ProfileCredential{Type: CredentialAPIKey, Provider: "anthropic", Key: "k1"})
	store.SetCooldownPolicy(CooldownPolicy{TimeoutHold: 2 * time.Hour})

	store.MarkFailureWithReason("p1", "timeout")
	until := store.ReasonCooldownUntil["p1"]
	if hold := until - nowUnixForTest(); hold < 3600 {
		t.Errorf("expected configured 2h timeout hold, got %ds", hold)
	}
}

func nowUnixForTest() int64 {
	return time.Now().Unix()
}
