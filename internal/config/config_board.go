package config

// BoardConfig configures the board-of-directors orchestration: a fixed
// panel of specialist agent roles layered on top of the normal single-agent
// run loop.
type BoardConfig struct {
	// Enabled toggles board routing. When false, every message runs through
	// the normal single-agent path.
	Enabled bool `yaml:"enabled"`

	// Agents configures the roster; any of the six fixed roles left
	// unconfigured falls back to a built-in display name and personality.
	Agents []BoardAgentConfig `yaml:"agents"`

	// TopicRoles maps a channel topic id (e.g. a Telegram forum topic) to a
	// fixed board role, the highest-precedence routing signal.
	TopicRoles map[string]string `yaml:"topic_roles"`

	Consultation BoardConsultationConfig `yaml:"consultation"`
	Meetings     BoardMeetingsConfig     `yaml:"meetings"`

	// TelegramGroupID restricts board routing/meetings to messages from
	// this Telegram group/supergroup; empty allows any chat.
	TelegramGroupID string `yaml:"telegram_group_id"`
}

// BoardAgentConfig configures one board role.
type BoardAgentConfig struct {
	Role            string `yaml:"role"`
	Name            string `yaml:"name"`
	Emoji           string `yaml:"emoji"`
	Model           string `yaml:"model"`
	ThinkingDefault string `yaml:"thinking_default"`
	TelegramTopicID string `yaml:"telegram_topic_id"`
	SoulFile        string `yaml:"soul_file"`
}

// BoardConsultationConfig configures agent-to-agent consultations.
type BoardConsultationConfig struct {
	Enabled   bool `yaml:"enabled"`
	MaxDepth  int  `yaml:"max_depth"`
	TimeoutMs int  `yaml:"timeout_ms"`
}

// BoardMeetingsConfig configures convened board meetings.
type BoardMeetingsConfig struct {
	Enabled          bool `yaml:"enabled"`
	MaxDurationMs    int  `yaml:"max_duration_ms"`
	MaxTurnsPerAgent int  `yaml:"max_turns_per_agent"`
	Async            bool `yaml:"async"`
}
