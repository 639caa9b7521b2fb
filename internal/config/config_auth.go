package config

import "time"

// AuthConfig configures the provider credential pool the run loop rotates
// through on failure.
type AuthConfig struct {
	// Profiles is the pool of provider credentials. Order here is the
	// tie-break when profiles are otherwise equally preferred.
	Profiles []AuthProfileConfig `yaml:"profiles"`

	// Cooldown tunes how long a failed profile is benched, by failure
	// reason.
	Cooldown AuthCooldownConfig `yaml:"cooldown"`
}

// AuthProfileConfig declares one credential in the pool. The credential
// itself lives in the OS secret store (or an env var); config carries only
// a reference.
type AuthProfileConfig struct {
	ID            string `yaml:"id"`
	Provider      string `yaml:"provider"`
	CredentialRef string `yaml:"credential_ref"`
	Disabled      bool   `yaml:"disabled"`
}

// AuthCooldownConfig sets per-reason cooldown durations. Rate-limit
// cooldowns grow exponentially from Base toward Cap with consecutive
// failures; the other reasons use a fixed hold.
type AuthCooldownConfig struct {
	RateLimitBase time.Duration `yaml:"rate_limit_base"`
	RateLimitCap  time.Duration `yaml:"rate_limit_cap"`
	AuthHold      time.Duration `yaml:"auth_hold"`
	TimeoutHold   time.Duration `yaml:"timeout_hold"`
	UnknownHold   time.Duration `yaml:"unknown_hold"`
}
