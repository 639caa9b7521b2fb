package auth

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/conclave-ai/conclave/internal/backoff"
)

const (
	profilesFilename    = "auth-profiles.json"
	defaultCooldownSecs = 300 // 5 minutes cooldown after failure
	profilesVersion     = 1
)

// CredentialType identifies the type of credential.
type CredentialType string

const (
	CredentialAPIKey CredentialType = "api_key"
	CredentialOAuth  CredentialType = "oauth"
	CredentialToken  CredentialType = "token"
)

var (
	ErrNoProfiles      = errors.New("no profiles configured for provider")
	ErrAllInCooldown   = errors.New("all profiles in cooldown")
	ErrProfileNotFound = errors.New("profile not found")
)

// ProfileCredential holds authentication credentials for a provider profile.
type ProfileCredential struct {
	Type     CredentialType `json:"type"`
	Provider string         `json:"provider"`
	// For api_key
	Key string `json:"key,omitempty"`
	// For oauth
	Access  string `json:"access,omitempty"`
	Refresh string `json:"refresh,omitempty"`
	Expires int64  `json:"expires,omitempty"`
	// For token
	Token string `json:"token,omitempty"`
	// Optional metadata
	Email    string `json:"email,omitempty"`
	LastUsed int64  `json:"last_used,omitempty"`

	// Disabled profiles are never handed out, regardless of cooldown state.
	Disabled bool `json:"disabled,omitempty"`
}

// ProfileUsageStats tracks usage and failure statistics for a profile.
type ProfileUsageStats struct {
	LastUsed    int64 `json:"last_used,omitempty"`
	LastSuccess int64 `json:"last_success,omitempty"`
	LastFailure int64 `json:"last_failure,omitempty"`
	FailCount   int   `json:"fail_count,omitempty"`
}

// ProfileStore manages authentication profiles with rotation support.
type ProfileStore struct {
	mu         sync.RWMutex
	Version    int                          `json:"version"`
	Profiles   map[string]ProfileCredential `json:"profiles"`            // profileID -> credential
	Order      map[string][]string          `json:"order,omitempty"`     // provider -> ordered profile IDs
	LastGood   map[string]string            `json:"last_good,omitempty"` // provider -> last successful profileID
	UsageStats map[string]ProfileUsageStats `json:"usage_stats,omitempty"`

	// ReasonCooldownUntil holds, per profileID, the unix timestamp before
	// which the profile should be skipped even though its flat CooldownSecs
	// window may have already elapsed. Populated by MarkFailureWithReason,
	// cleared on MarkSuccess. Profiles never marked via that path never
	// appear here, so plain MarkFailure callers see no change in behavior.
	ReasonCooldownUntil map[string]int64 `json:"reason_cooldown_until,omitempty"`

	// CooldownSecs configures how long to skip failed profiles (default 300s)
	CooldownSecs int64 `json:"cooldown_secs,omitempty"`

	// cooldownPolicy holds the configured per-reason holds; not persisted,
	// reinstalled from config on startup.
	cooldownPolicy CooldownPolicy
}

// LoadProfileStore loads auth profiles from disk.
func LoadProfileStore(stateDir string) (*ProfileStore, error) {
	path := filepath.Join(stateDir, profilesFilename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return newProfileStore(), nil
		}
		return nil, err
	}

	store := &ProfileStore{}
	if err := json.Unmarshal(data, store); err != nil {
		return nil, err
	}

	// Initialize maps if nil
	store.initMaps()
	return store, nil
}

// SaveProfileStore persists auth profiles to disk.
func SaveProfileStore(store *ProfileStore, stateDir string) error {
	if store == nil {
		return nil
	}

	store.mu.RLock()
	defer store.mu.RUnlock()

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(stateDir, profilesFilename)
	return os.WriteFile(path, data, 0o600)
}

// MarkSuccess records a successful auth attempt.
func (s *ProfileStore) MarkSuccess(profileID string) {
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()

	// Update usage stats
	stats := s.UsageStats[profileID]
	stats.LastUsed = now
	stats.LastSuccess = now
	stats.FailCount = 0 // Reset fail count on success
	s.UsageStats[profileID] = stats

	// Update credential LastUsed
	if cred, ok := s.Profiles[profileID]; ok {
		cred.LastUsed = now
		s.Profiles[profileID] = cred

		// Set as lastGood for this provider
		s.LastGood[cred.Provider] = profileID
	}

	delete(s.ReasonCooldownUntil, profileID)
}

// MarkFailure records a failed auth attempt and rotates to next profile.
func (s *ProfileStore) MarkFailure(profileID string) {
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()

	// Update usage stats
	stats := s.UsageStats[profileID]
	stats.LastUsed = now
	stats.LastFailure = now
	stats.FailCount++
	s.UsageStats[profileID] = stats

	// If this was the lastGood, clear it to force rotation
	if cred, ok := s.Profiles[profileID]; ok {
		if s.LastGood[cred.Provider] == profileID {
			delete(s.LastGood, cred.Provider)
		}
	}
}

// CooldownPolicy sets the per-reason hold durations applied by
// MarkFailureWithReason. Zero fields fall back to the package defaults.
type CooldownPolicy struct {
	RateLimitBase time.Duration
	RateLimitCap  time.Duration
	AuthHold      time.Duration
	TimeoutHold   time.Duration
	UnknownHold   time.Duration
}

// SetCooldownPolicy installs the configured cooldown durations. Call once
// at startup, before the store is shared across turns.
func (s *ProfileStore) SetCooldownPolicy(policy CooldownPolicy) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cooldownPolicy = policy
}

// MarkFailureWithReason records a failed attempt the same way MarkFailure
// does, plus a reason-differentiated cooldown hold: rate limits back off
// exponentially with jitter by consecutive fail count, auth failures get a
// long fixed hold since they won't resolve without operator action,
// timeouts get a short hold, and anything else gets a medium hold. The
// hold is tracked separately from CooldownSecs so callers that never use
// this method see no behavior change.
func (s *ProfileStore) MarkFailureWithReason(profileID string, reason string) {
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()

	stats := s.UsageStats[profileID]
	stats.LastUsed = now
	stats.LastFailure = now
	stats.FailCount++
	s.UsageStats[profileID] = stats

	if cred, ok := s.Profiles[profileID]; ok {
		if s.LastGood[cred.Provider] == profileID {
			delete(s.LastGood, cred.Provider)
		}
	}

	s.initMaps()
	hold := s.reasonCooldownHold(reason, stats.FailCount)
	s.ReasonCooldownUntil[profileID] = now + int64(hold/time.Second)
}

// reasonCooldownHold returns how long a profile should be held back after a
// failure classified as reason, given its consecutive failure count.
func (s *ProfileStore) reasonCooldownHold(reason string, failCount int) time.Duration {
	p := s.cooldownPolicy
	switch reason {
	case "rate_limit":
		base := p.RateLimitBase
		if base <= 0 {
			base = 2 * time.Second
		}
		cap := p.RateLimitCap
		if cap <= 0 {
			cap = 2 * time.Minute
		}
		policy := backoff.BackoffPolicy{InitialMs: float64(base.Milliseconds()), MaxMs: float64(cap.Milliseconds()), Factor: 2, Jitter: 0.2}
		return backoff.ComputeBackoff(policy, failCount)
	case "auth":
		if p.AuthHold > 0 {
			return p.AuthHold
		}
		return 30 * time.Minute
	case "timeout":
		if p.TimeoutHold > 0 {
			return p.TimeoutHold
		}
		return 15 * time.Second
	default:
		if p.UnknownHold > 0 {
			return p.UnknownHold
		}
		return 2 * time.Minute
	}
}

// AddProfile adds or updates a profile credential.
func (s *ProfileStore) AddProfile(profileID string, cred ProfileCredential) {
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.initMaps()
	s.Profiles[profileID] = cred

	// Add to order list if not present
	order := s.Order[cred.Provider]
	found := false
	for _, id := range order {
		if id == profileID {
			found = true
			break
		}
	}
	if !found {
		s.Order[cred.Provider] = append(order, profileID)
	}
}

// RemoveProfile removes a profile by ID.
func (s *ProfileStore) RemoveProfile(profileID string) {
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.Profiles[profileID]
	if !ok {
		return
	}

	delete(s.Profiles, profileID)
	delete(s.UsageStats, profileID)

	// Remove from order
	if order, ok := s.Order[cred.Provider]; ok {
		newOrder := make([]string, 0, len(order))
		for _, id := range order {
			if id != profileID {
				newOrder = append(newOrder, id)
			}
		}
		if len(newOrder) > 0 {
			s.Order[cred.Provider] = newOrder
		} else {
			delete(s.Order, cred.Provider)
		}
	}

	// Clear lastGood if it was this profile
	if s.LastGood[cred.Provider] == profileID {
		delete(s.LastGood, cred.Provider)
	}
}

// ResolveProfileOrder returns the usable profiles for a provider, in the
// order a turn should try them: the preferred id first (when given and
// usable), then least-recently-used first. Disabled profiles and profiles
// in cooldown are excluded entirely, so an empty result with profiles
// configured means every candidate is benched.
func (s *ProfileStore) ResolveProfileOrder(provider, preferred string) []string {
	if s == nil {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now().Unix()
	cooldown := s.getCooldownSecs()

	usable := func(id string) bool {
		cred, ok := s.Profiles[id]
		if !ok || cred.Provider != provider || cred.Disabled {
			return false
		}
		return !s.isInCooldownLocked(id, now, cooldown)
	}

	var out []string
	if preferred != "" && usable(preferred) {
		out = append(out, preferred)
	}

	candidates := s.resolveProfileOrderLocked(provider)
	var rest []string
	for _, id := range candidates {
		if id == preferred || !usable(id) {
			continue
		}
		rest = append(rest, id)
	}
	// Least-recently-used first; never-used profiles sort before used
	// ones, ties keep the configured order.
	sort.SliceStable(rest, func(i, j int) bool {
		return s.UsageStats[rest[i]].LastUsed < s.UsageStats[rest[j]].LastUsed
	})
	return append(out, rest...)
}

// LastGoodProfile returns the last profile that succeeded for a provider,
// or "" when none has.
func (s *ProfileStore) LastGoodProfile(provider string) string {
	if s == nil {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.LastGood[provider]
}

// MarkUsed stamps a profile as just-used without recording an outcome, so
// LRU ordering reflects in-flight attempts too.
func (s *ProfileStore) MarkUsed(profileID string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	stats := s.UsageStats[profileID]
	stats.LastUsed = now
	s.initMaps()
	s.UsageStats[profileID] = stats
	if cred, ok := s.Profiles[profileID]; ok {
		cred.LastUsed = now
		s.Profiles[profileID] = cred
	}
}

// IsInCooldown reports whether the profile is currently benched.
func (s *ProfileStore) IsInCooldown(profileID string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isInCooldownLocked(profileID, time.Now().Unix(), s.getCooldownSecs())
}

// GetProfile returns a profile by ID.
func (s *ProfileStore) GetProfile(profileID string) (*ProfileCredential, error) {
	if s == nil {
		return nil, ErrProfileNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.Profiles[profileID]
	if !ok {
		return nil, ErrProfileNotFound
	}

	credCopy := cred
	return &credCopy, nil
}

// GetStats returns usage stats for a profile.
func (s *ProfileStore) GetStats(profileID string) ProfileUsageStats {
	if s == nil {
		return ProfileUsageStats{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.UsageStats[profileID]
}

// ListProviders returns all providers that have profiles.
func (s *ProfileStore) ListProviders() []string {
	if s == nil {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	providers := make(map[string]struct{})
	for _, cred := range s.Profiles {
		providers[cred.Provider] = struct{}{}
	}

	result := make([]string, 0, len(providers))
	for p := range providers {
		result = append(result, p)
	}
	sort.Strings(result)
	return result
}

// ListProfiles returns all profile IDs for a provider.
func (s *ProfileStore) ListProfiles(provider string) []string {
	if s == nil {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var profiles []string
	for id, cred := range s.Profiles {
		if cred.Provider == provider {
			profiles = append(profiles, id)
		}
	}
	sort.Strings(profiles)
	return profiles
}

// SetOrder sets the profile order for a provider.
func (s *ProfileStore) SetOrder(provider string, order []string) {
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.initMaps()
	if len(order) == 0 {
		delete(s.Order, provider)
	} else {
		s.Order[provider] = order
	}
}

// resolveProfileOrderLocked returns profiles in priority order (must hold lock).
func (s *ProfileStore) resolveProfileOrderLocked(provider string) []string {
	// Use configured order if available
	if order, ok := s.Order[provider]; ok && len(order) > 0 {
		// Filter to only include existing profiles
		result := make([]string, 0, len(order))
		for _, id := range order {
			if cred, ok := s.Profiles[id]; ok && cred.Provider == provider {
				result = append(result, id)
			}
		}
		return result
	}

	// Fall back to alphabetical order
	var profiles []string
	for id, cred := range s.Profiles {
		if cred.Provider == provider {
			profiles = append(profiles, id)
		}
	}
	sort.Strings(profiles)
	return profiles
}

// isInCooldownLocked checks if a profile is in cooldown (must hold lock).
func (s *ProfileStore) isInCooldownLocked(profileID string, now, cooldownSecs int64) bool {
	if until, ok := s.ReasonCooldownUntil[profileID]; ok && now < until {
		return true
	}

	stats, ok := s.UsageStats[profileID]
	if !ok {
		return false
	}
	if stats.LastFailure == 0 {
		return false
	}
	// Not in cooldown if we've had a success since the failure
	if stats.LastSuccess >= stats.LastFailure {
		return false
	}
	return now-stats.LastFailure < cooldownSecs
}

// getCooldownSecs returns the cooldown period.
func (s *ProfileStore) getCooldownSecs() int64 {
	if s.CooldownSecs > 0 {
		return s.CooldownSecs
	}
	return defaultCooldownSecs
}

// initMaps ensures all maps are initialized.
func (s *ProfileStore) initMaps() {
	if s.Profiles == nil {
		s.Profiles = make(map[string]ProfileCredential)
	}
	if s.Order == nil {
		s.Order = make(map[string][]string)
	}
	if s.LastGood == nil {
		s.LastGood = make(map[string]string)
	}
	if s.UsageStats == nil {
		s.UsageStats = make(map[string]ProfileUsageStats)
	}
	if s.ReasonCooldownUntil == nil {
		s.ReasonCooldownUntil = make(map[string]int64)
	}
}

// newProfileStore creates a new empty profile store.
func newProfileStore() *ProfileStore {
	return &ProfileStore{
		Version:             profilesVersion,
		Profiles:            make(map[string]ProfileCredential),
		Order:               make(map[string][]string),
		LastGood:            make(map[string]string),
		UsageStats:          make(map[string]ProfileUsageStats),
		ReasonCooldownUntil: make(map[string]int64),
	}
}
