package config

// ChannelsConfig configures the outbound messaging channels task progress
// reports and meeting summaries are delivered through.
type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Discord  DiscordConfig  `yaml:"discord"`
	Slack    SlackConfig    `yaml:"slack"`
}

// ChannelPolicyConfig controls who may address the bot on a channel.
type ChannelPolicyConfig struct {
	// Policy controls access: "open", "allowlist", or "disabled".
	Policy string `yaml:"policy"`
	// AllowFrom is a list of sender identifiers allowed for this policy.
	AllowFrom []string `yaml:"allow_from"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`

	DM    ChannelPolicyConfig `yaml:"dm"`
	Group ChannelPolicyConfig `yaml:"group"`
}

type DiscordConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	AppID    string `yaml:"app_id"`

	DM    ChannelPolicyConfig `yaml:"dm"`
	Group ChannelPolicyConfig `yaml:"group"`
}

type SlackConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	AppToken string `yaml:"app_token"`

	DM    ChannelPolicyConfig `yaml:"dm"`
	Group ChannelPolicyConfig `yaml:"group"`
}
