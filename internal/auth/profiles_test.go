package auth

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewProfileStore(t *testing.T) {
	store := newProfileStore()
	if store == nil {
		t.Fatal("newProfileStore returned nil")
	}
	if store.Version != profilesVersion {
		t.Errorf("Version = %d, want %d", store.Version, profilesVersion)
	}
	if store.Profiles == nil {
		t.Error("Profiles map is nil")
	}
	if store.Order == nil {
		t.Error("Order map is nil")
	}
	if store.LastGood == nil {
		t.Error("LastGood map is nil")
	}
	if store.UsageStats == nil {
		t.Error("UsageStats map is nil")
	}
}

func TestAddProfile(t *testing.T) {
	store := newProfileStore()

	cred := ProfileCredential{
		Type:     CredentialAPIKey,
		Provider: "openai",
		Key:      "sk-test123",
		Email:    "test@example.com",
	}

	store.AddProfile("openai-main", cred)

	if len(store.Profiles) != 1 {
		t.Errorf("Profiles count = %d, want 1", len(store.Profiles))
	}

	got, ok := store.Profiles["openai-main"]
	if !ok {
		t.Fatal("profile not found")
	}
	if got.Key != "sk-test123" {
		t.Errorf("Key = %q, want %q", got.Key, "sk-test123")
	}

	// Check order was updated
	order := store.Order["openai"]
	if len(order) != 1 || order[0] != "openai-main" {
		t.Errorf("Order = %v, want [openai-main]", order)
	}
}

func TestAddProfileDuplicateOrder(t *testing.T) {
	store := newProfileStore()

	cred := ProfileCredential{
		Type:     CredentialAPIKey,
		Provider: "openai",
		Key:      "sk-test123",
	}

	store.AddProfile("openai-main", cred)
	store.AddProfile("openai-main", cred) // Add again

	// Should not duplicate in order
	order := store.Order["openai"]
	if len(order) != 1 {
		t.Errorf("Order length = %d, want 1", len(order))
	}
}

func TestRemoveProfile(t *testing.T) {
	store := newProfileStore()

	cred := ProfileCredential{
		Type:     CredentialAPIKey,
		Provider: "openai",
		Key:      "sk-test123",
	}

	store.AddProfile("openai-main", cred)
	store.MarkSuccess("openai-main")

	store.RemoveProfile("openai-main")

	if len(store.Profiles) != 0 {
		t.Errorf("Profiles count = %d, want 0", len(store.Profiles))
	}
	if len(store.Order["openai"]) != 0 {
		t.Errorf("Order still has entries: %v", store.Order["openai"])
	}
	if _, ok := store.LastGood["openai"]; ok {
		t.Error("LastGood should be cleared")
	}
	if _, ok := store.UsageStats["openai-main"]; ok {
		t.Error("UsageStats should be cleared")
	}
}

func TestResolveProfileOrderSingleUsable(t *testing.T) {
	store := newProfileStore()
	store.AddProfile("openai-main", ProfileCredential{
		Type:     CredentialAPIKey,
		Provider: "openai",
		Key:      "sk-test123",
	})

	order := store.ResolveProfileOrder("openai", "")
	if len(order) != 1 || order[0] != "openai-main" {
		t.Errorf("order = %v, want [openai-main]", order)
	}
}

func TestResolveProfileOrderNoProfiles(t *testing.T) {
	store := newProfileStore()
	if order := store.ResolveProfileOrder("openai", ""); len(order) != 0 {
		t.Errorf("order = %v, want empty", order)
	}
}

func TestResolveProfileOrderNilStore(t *testing.T) {
	var store *ProfileStore
	if order := store.ResolveProfileOrder("openai", ""); order != nil {
		t.Errorf("order = %v, want nil", order)
	}
}

func TestResolveProfileOrderPreferredFirst(t *testing.T) {
	store := newProfileStore()
	store.AddProfile("openai-a", ProfileCredential{Provider: "openai", Key: "sk-a"})
	store.AddProfile("openai-b", ProfileCredential{Provider: "openai", Key: "sk-b"})
	store.SetOrder("openai", []string{"openai-a", "openai-b"})

	order := store.ResolveProfileOrder("openai", "openai-b")
	if len(order) != 2 || order[0] != "openai-b" {
		t.Errorf("order = %v, want openai-b first", order)
	}
}

func TestResolveProfileOrderSkipsPreferredInCooldown(t *testing.T) {
	store := newProfileStore()
	store.CooldownSecs = 60
	store.AddProfile("openai-a", ProfileCredential{Provider: "openai", Key: "sk-a"})
	store.AddProfile("openai-b", ProfileCredential{Provider: "openai", Key: "sk-b"})

	store.MarkFailure("openai-b")

	order := store.ResolveProfileOrder("openai", "openai-b")
	if len(order) != 1 || order[0] != "openai-a" {
		t.Errorf("order = %v, want [openai-a]", order)
	}
}

func TestResolveProfileOrderExcludesCooldown(t *testing.T) {
	store := newProfileStore()
	store.CooldownSecs = 60
	store.AddProfile("openai-a", ProfileCredential{Provider: "openai", Key: "sk-a"})
	store.AddProfile("openai-b", ProfileCredential{Provider: "openai", Key: "sk-b"})
	store.SetOrder("openai", []string{"openai-a", "openai-b"})

	store.MarkFailure("openai-a")

	order := store.ResolveProfileOrder("openai", "")
	if len(order) != 1 || order[0] != "openai-b" {
		t.Errorf("order = %v, want [openai-b]", order)
	}

	// Every profile benched means an empty order, so callers bail before
	// any driver call is made.
	store.MarkFailure("openai-b")
	if order := store.ResolveProfileOrder("openai", ""); len(order) != 0 {
		t.Errorf("order = %v, want empty when all in cooldown", order)
	}
}

func TestResolveProfileOrderExcludesDisabled(t *testing.T) {
	store := newProfileStore()
	store.AddProfile("openai-a", ProfileCredential{Provider: "openai", Key: "sk-a", Disabled: true})
	store.AddProfile("openai-b", ProfileCredential{Provider: "openai", Key: "sk-b"})

	order := store.ResolveProfileOrder("openai", "openai-a")
	if len(order) != 1 || order[0] != "openai-b" {
		t.Errorf("order = %v, want [openai-b]", order)
	}
}

func TestResolveProfileOrderLeastRecentlyUsedFirst(t *testing.T) {
	store := newProfileStore()
	store.AddProfile("openai-a", ProfileCredential{Provider: "openai", Key: "sk-a"})
	store.AddProfile("openai-b", ProfileCredential{Provider: "openai", Key: "sk-b"})
	store.AddProfile("openai-c", ProfileCredential{Provider: "openai", Key: "sk-c"})

	// a and b were used; c never was, so c goes first and the used pair
	// keeps its relative recency order.
	store.UsageStats["openai-a"] = ProfileUsageStats{LastUsed: 200}
	store.UsageStats["openai-b"] = ProfileUsageStats{LastUsed: 100}

	order := store.ResolveProfileOrder("openai", "")
	want := []string{"openai-c", "openai-b", "openai-a"}
	if len(order) != 3 {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestIsInCooldown(t *testing.T) {
	store := newProfileStore()
	store.CooldownSecs = 60
	store.AddProfile("openai-a", ProfileCredential{Provider: "openai", Key: "sk-a"})

	if store.IsInCooldown("openai-a") {
		t.Error("fresh profile should not be in cooldown")
	}
	store.MarkFailure("openai-a")
	if !store.IsInCooldown("openai-a") {
		t.Error("failed profile should be in cooldown")
	}
	store.MarkSuccess("openai-a")
	if store.IsInCooldown("openai-a") {
		t.Error("success should clear cooldown")
	}
}

func TestMarkUsedUpdatesLRU(t *testing.T) {
	store := newProfileStore()
	store.AddProfile("openai-a", ProfileCredential{Provider: "openai", Key: "sk-a"})

	if store.UsageStats["openai-a"].LastUsed != 0 {
		t.Fatal("expected zero LastUsed before MarkUsed")
	}
	store.MarkUsed("openai-a")
	if store.UsageStats["openai-a"].LastUsed == 0 {
		t.Error("MarkUsed should stamp LastUsed")
	}
}

func TestCooldownExpiry(t *testing.T) {
	store := newProfileStore()
	store.CooldownSecs = 1 // 1 second cooldown

	store.AddProfile("openai-a", ProfileCredential{
		Type:     CredentialAPIKey,
		Provider: "openai",
		Key:      "sk-a",
	})

	store.MarkFailure("openai-a")

	// Wait for cooldown to expire
	time.Sleep(1100 * time.Millisecond)

	order := store.ResolveProfileOrder("openai", "")
	if len(order) != 1 || order[0] != "openai-a" {
		t.Errorf("order after cooldown = %v, want [openai-a]", order)
	}
}

func TestSuccessResetsCooldown(t *testing.T) {
	store := newProfileStore()
	store.CooldownSecs = 60

	store.AddProfile("openai-a", ProfileCredential{
		Type:     CredentialAPIKey,
		Provider: "openai",
		Key:      "sk-a",
	})

	store.MarkFailure("openai-a")

	// Verify in cooldown
	if order := store.ResolveProfileOrder("openai", ""); len(order) != 0 {
		t.Fatalf("expected to be in cooldown, got %v", order)
	}

	// Mark success
	store.MarkSuccess("openai-a")

	// Should now be available
	order := store.ResolveProfileOrder("openai", "")
	if len(order) != 1 || order[0] != "openai-a" {
		t.Errorf("order = %v, want [openai-a]", order)
	}

	// FailCount should be reset
	stats := store.GetStats("openai-a")
	if stats.FailCount != 0 {
		t.Errorf("FailCount = %d, want 0", stats.FailCount)
	}
}

func TestMarkSuccessUpdatesLastGood(t *testing.T) {
	store := newProfileStore()

	store.AddProfile("openai-a", ProfileCredential{
		Type:     CredentialAPIKey,
		Provider: "openai",
		Key:      "sk-a",
	})

	store.MarkSuccess("openai-a")

	if store.LastGood["openai"] != "openai-a" {
		t.Errorf("LastGood = %q, want %q", store.LastGood["openai"], "openai-a")
	}
}

func TestMarkFailureClearsLastGood(t *testing.T) {
	store := newProfileStore()

	store.AddProfile("openai-a", ProfileCredential{
		Type:     CredentialAPIKey,
		Provider: "openai",
		Key:      "sk-a",
	})

	store.MarkSuccess("openai-a")
	store.MarkFailure("openai-a")

	if _, ok := store.LastGood["openai"]; ok {
		t.Error("LastGood should be cleared after failure")
	}
}

func TestResolveProfileOrder(t *testing.T) {
	store := newProfileStore()

	store.AddProfile("openai-c", ProfileCredential{Provider: "openai"})
	store.AddProfile("openai-a", ProfileCredential{Provider: "openai"})
	store.AddProfile("openai-b", ProfileCredential{Provider: "openai"})

	t.Run("no explicit order falls back to alphabetical", func(t *testing.T) {
		store.Order = make(map[string][]string) // Clear order
		order := store.ResolveProfileOrder("openai", "")
		expected := []string{"openai-a", "openai-b", "openai-c"}
		if len(order) != len(expected) {
			t.Fatalf("order length = %d, want %d", len(order), len(expected))
		}
		for i, id := range expected {
			if order[i] != id {
				t.Errorf("order[%d] = %q, want %q", i, order[i], id)
			}
		}
	})

	t.Run("explicit order is respected", func(t *testing.T) {
		store.SetOrder("openai", []string{"openai-b", "openai-c", "openai-a"})
		order := store.ResolveProfileOrder("openai", "")
		expected := []string{"openai-b", "openai-c", "openai-a"}
		if len(order) != len(expected) {
			t.Fatalf("order length = %d, want %d", len(order), len(expected))
		}
		for i, id := range expected {
			if order[i] != id {
				t.Errorf("order[%d] = %q, want %q", i, order[i], id)
			}
		}
	})
}

func TestResolveProfileOrderFiltersMissing(t *testing.T) {
	store := newProfileStore()

	store.AddProfile("openai-a", ProfileCredential{Provider: "openai"})
	store.SetOrder("openai", []string{"openai-missing", "openai-a"})

	order := store.ResolveProfileOrder("openai", "")
	if len(order) != 1 || order[0] != "openai-a" {
		t.Errorf("order = %v, want [openai-a]", order)
	}
}

func TestGetProfile(t *testing.T) {
	store := newProfileStore()

	cred := ProfileCredential{
		Type:     CredentialAPIKey,
		Provider: "openai",
		Key:      "sk-test",
	}
	store.AddProfile("openai-main", cred)

	got, err := store.GetProfile("openai-main")
	if err != nil {
		t.Fatalf("GetProfile error: %v", err)
	}
	if got.Key != "sk-test" {
		t.Errorf("Key = %q, want %q", got.Key, "sk-test")
	}
}

func TestGetProfileNotFound(t *testing.T) {
	store := newProfileStore()

	_, err := store.GetProfile("missing")
	if err != ErrProfileNotFound {
		t.Errorf("error = %v, want ErrProfileNotFound", err)
	}
}

func TestListProviders(t *testing.T) {
	store := newProfileStore()

	store.AddProfile("openai-a", ProfileCredential{Provider: "openai"})
	store.AddProfile("anthropic-a", ProfileCredential{Provider: "anthropic"})
	store.AddProfile("openai-b", ProfileCredential{Provider: "openai"})

	providers := store.ListProviders()
	if len(providers) != 2 {
		t.Fatalf("providers count = %d, want 2", len(providers))
	}
	// Should be sorted
	if providers[0] != "anthropic" || providers[1] != "openai" {
		t.Errorf("providers = %v, want [anthropic, openai]", providers)
	}
}

func TestListProfiles(t *testing.T) {
	store := newProfileStore()

	store.AddProfile("openai-c", ProfileCredential{Provider: "openai"})
	store.AddProfile("anthropic-a", ProfileCredential{Provider: "anthropic"})
	store.AddProfile("openai-a", ProfileCredential{Provider: "openai"})

	profiles := store.ListProfiles("openai")
	if len(profiles) != 2 {
		t.Fatalf("profiles count = %d, want 2", len(profiles))
	}
	// Should be sorted
	if profiles[0] != "openai-a" || profiles[1] != "openai-c" {
		t.Errorf("profiles = %v, want [openai-a, openai-c]", profiles)
	}
}

func TestLoadSaveProfileStore(t *testing.T) {
	tmpDir := t.TempDir()

	// Create and save a store
	store := newProfileStore()
	store.AddProfile("openai-main", ProfileCredential{
		Type:     CredentialAPIKey,
		Provider: "openai",
		Key:      "sk-test123",
		Email:    "test@example.com",
	})
	store.MarkSuccess("openai-main")

	if err := SaveProfileStore(store, tmpDir); err != nil {
		t.Fatalf("SaveProfileStore error: %v", err)
	}

	// Verify file exists
	path := filepath.Join(tmpDir, profilesFilename)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Fatal("profiles file not created")
	}

	// Load and verify
	loaded, err := LoadProfileStore(tmpDir)
	if err != nil {
		t.Fatalf("LoadProfileStore error: %v", err)
	}

	cred, ok := loaded.Profiles["openai-main"]
	if !ok {
		t.Fatal("profile not found after load")
	}
	if cred.Key != "sk-test123" {
		t.Errorf("Key = %q, want %q", cred.Key, "sk-test123")
	}
	if loaded.LastGood["openai"] != "openai-main" {
		t.Errorf("LastGood = %q, want %q", loaded.LastGood["openai"], "openai-main")
	}
}

func TestLoadProfileStoreNotExist(t *testing.T) {
	tmpDir := t.TempDir()

	store, err := LoadProfileStore(tmpDir)
	if err != nil {
		t.Fatalf("LoadProfileStore error: %v", err)
	}
	if store == nil {
		t.Fatal("store should not be nil")
	}
	if len(store.Profiles) != 0 {
		t.Error("store should be empty")
	}
}

func TestSaveProfileStoreNil(t *testing.T) {
	tmpDir := t.TempDir()

	err := SaveProfileStore(nil, tmpDir)
	if err != nil {
		t.Errorf("SaveProfileStore(nil) error: %v", err)
	}
}

func TestSaveProfileStoreCreatesDir(t *testing.T) {
	tmpDir := t.TempDir()
	stateDir := filepath.Join(tmpDir, "nested", "state")

	store := newProfileStore()
	store.AddProfile("test", ProfileCredential{Provider: "test"})

	if err := SaveProfileStore(store, stateDir); err != nil {
		t.Fatalf("SaveProfileStore error: %v", err)
	}

	path := filepath.Join(stateDir, profilesFilename)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Fatal("profiles file not created in nested dir")
	}
}

func TestCredentialTypes(t *testing.T) {
	tests := []struct {
		name   string
		cred   ProfileCredential
		verify func(t *testing.T, cred ProfileCredential)
	}{
		{
			name: "api_key",
			cred: ProfileCredential{
				Type:     CredentialAPIKey,
				Provider: "openai",
				Key:      "sk-test",
			},
			verify: func(t *testing.T, cred ProfileCredential) {
				if cred.Type != CredentialAPIKey {
					t.Errorf("Type = %q, want %q", cred.Type, CredentialAPIKey)
				}
				if cred.Key == "" {
					t.Error("Key should be set for api_key type")
				}
			},
		},
		{
			name: "oauth",
			cred: ProfileCredential{
				Type:     CredentialOAuth,
				Provider: "google",
				Access:   "access-token",
				Refresh:  "refresh-token",
				Expires:  time.Now().Add(time.Hour).Unix(),
			},
			verify: func(t *testing.T, cred ProfileCredential) {
				if cred.Type != CredentialOAuth {
					t.Errorf("Type = %q, want %q", cred.Type, CredentialOAuth)
				}
				if cred.Access == "" || cred.Refresh == "" {
					t.Error("Access and Refresh should be set for oauth type")
				}
			},
		},
		{
			name: "token",
			cred: ProfileCredential{
				Type:     CredentialToken,
				Provider: "github",
				Token:    "ghp_xxxx",
			},
			verify: func(t *testing.T, cred ProfileCredential) {
				if cred.Type != CredentialToken {
					t.Errorf("Type = %q, want %q", cred.Type, CredentialToken)
				}
				if cred.Token == "" {
					t.Error("Token should be set for token type")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newProfileStore()
			store.AddProfile("test-"+tt.name, tt.cred)

			got, err := store.GetProfile("test-" + tt.name)
			if err != nil {
				t.Fatalf("GetProfile error: %v", err)
			}
			tt.verify(t, *got)
		})
	}
}

func TestNilStoreMethods(t *testing.T) {
	var store *ProfileStore

	// These should not panic
	store.MarkSuccess("test")
	store.MarkFailure("test")
	store.AddProfile("test", ProfileCredential{})
	store.RemoveProfile("test")
	store.SetOrder("test", nil)

	if store.ResolveProfileOrder("test", "") != nil {
		t.Error("ResolveProfileOrder should return nil for nil store")
	}
	if store.ListProviders() != nil {
		t.Error("ListProviders should return nil for nil store")
	}
	if store.ListProfiles("test") != nil {
		t.Error("ListProfiles should return nil for nil store")
	}

	_, err := store.GetProfile("test")
	if err != ErrProfileNotFound {
		t.Errorf("GetProfile error = %v, want ErrProfileNotFound", err)
	}

	stats := store.GetStats("test")
	if stats.LastUsed != 0 {
		t.Error("GetStats should return zero stats for nil store")
	}
}

func TestGetProfileCopiesData(t *testing.T) {
	store := newProfileStore()

	store.AddProfile("test", ProfileCredential{
		Type:     CredentialAPIKey,
		Provider: "openai",
		Key:      "original",
	})

	cred, err := store.GetProfile("test")
	if err != nil {
		t.Fatalf("GetProfile error: %v", err)
	}

	// Modify returned credential
	cred.Key = "modified"

	// Original should be unchanged
	original, _ := store.GetProfile("test")
	if original.Key != "original" {
		t.Error("GetProfile should return a copy, not modify original")
	}
}

func TestFilePermissions(t *testing.T) {
	tmpDir := t.TempDir()

	store := newProfileStore()
	store.AddProfile("test", ProfileCredential{
		Type:     CredentialAPIKey,
		Provider: "openai",
		Key:      "secret-key",
	})

	if err := SaveProfileStore(store, tmpDir); err != nil {
		t.Fatalf("SaveProfileStore error: %v", err)
	}

	path := filepath.Join(tmpDir, profilesFilename)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat error: %v", err)
	}

	// Should have restrictive permissions (0600)
	perm := info.Mode().Perm()
	if perm != 0o600 {
		t.Errorf("file permissions = %o, want 0600", perm)
	}
}
