package config

import "time"

// ToolsConfig configures tool execution for the run loop: free-form notes
// injected into the system prompt and the execution/approval knobs mapped
// onto the runtime.
type ToolsConfig struct {
	Notes     string              `yaml:"notes"`
	NotesFile string              `yaml:"notes_file"`
	Execution ToolExecutionConfig `yaml:"execution"`
}

// ToolExecutionConfig controls runtime tool execution behavior.
type ToolExecutionConfig struct {
	MaxIterations   int                   `yaml:"max_iterations"`
	Parallelism     int                   `yaml:"parallelism"`
	Timeout         time.Duration         `yaml:"timeout"`
	MaxAttempts     int                   `yaml:"max_attempts"`
	RetryBackoff    time.Duration         `yaml:"retry_backoff"`
	DisableEvents   bool                  `yaml:"disable_events"`
	MaxToolCalls    int                   `yaml:"max_tool_calls"`
	RequireApproval []string              `yaml:"require_approval"`
	Async           []string              `yaml:"async"`
	Approval        ApprovalConfig        `yaml:"approval"`
	ResultGuard     ToolResultGuardConfig `yaml:"result_guard"`
}

type ApprovalConfig struct {
	// Profile is a pre-configured tool access level.
	// Valid profiles: "coding", "messaging", "readonly", "full", "minimal".
	// When set, the profile's default tools are included in the allowlist.
	Profile string `yaml:"profile"`

	// Allowlist contains tools that are always allowed (no approval needed).
	// Supports patterns like "mcp:*", "read_*", "*" (all).
	// Also supports group references like "group:fs", "group:runtime".
	Allowlist []string `yaml:"allowlist"`

	// Denylist contains tools that are always denied.
	// Supports patterns and group references like Allowlist.
	Denylist []string `yaml:"denylist"`

	// SafeBins are stdin-only tools that are safe to auto-allow.
	SafeBins []string `yaml:"safe_bins"`

	// AskFallback queues approval when UI is unavailable instead of denying.
	AskFallback *bool `yaml:"ask_fallback"`

	// DefaultDecision when no rule matches: "allowed", "denied", or "pending".
	DefaultDecision string `yaml:"default_decision"`

	// RequestTTL is how long approval requests remain valid.
	RequestTTL time.Duration `yaml:"request_ttl"`
}

// ToolResultGuardConfig bounds and sanitizes tool output before it is fed
// back to the model.
type ToolResultGuardConfig struct {
	Enabled         bool     `yaml:"enabled"`
	MaxChars        int      `yaml:"max_chars"`
	Denylist        []string `yaml:"denylist"`
	RedactPatterns  []string `yaml:"redact_patterns"`
	RedactionText   string   `yaml:"redaction_text"`
	TruncateSuffix  string   `yaml:"truncate_suffix"`
	SanitizeSecrets bool     `yaml:"sanitize_secrets"` // Applies builtin secret detection patterns
}
