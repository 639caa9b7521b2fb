package board

import "github.com/conclave-ai/conclave/internal/config"

// ConfigFromSettings translates the loaded board.* YAML config into an
// Orchestrator Config. Kept in the board package (rather than internal/config)
// so internal/config never needs to import board's domain types.
func ConfigFromSettings(cfg config.BoardConfig) Config {
	out := Config{
		Enabled:         cfg.Enabled,
		TelegramGroupID: cfg.TelegramGroupID,
		Consultation: ConsultationConfig{
			Enabled:   cfg.Consultation.Enabled,
			MaxDepth:  cfg.Consultation.MaxDepth,
			TimeoutMs: cfg.Consultation.TimeoutMs,
		},
		Meetings: MeetingConfig{
			Enabled:          cfg.Meetings.Enabled,
			MaxDurationMs:    cfg.Meetings.MaxDurationMs,
			MaxTurnsPerAgent: cfg.Meetings.MaxTurnsPerAgent,
		},
	}

	if len(cfg.TopicRoles) > 0 {
		out.TopicRoles = make(TopicRoleMap, len(cfg.TopicRoles))
		for topic, role := range cfg.TopicRoles {
			r := Role(role)
			if IsValidRole(r) {
				out.TopicRoles[topic] = r
			}
		}
	}

	for _, a := range cfg.Agents {
		role := Role(a.Role)
		if !IsValidRole(role) {
			continue
		}
		out.Agents = append(out.Agents, BoardAgent{
			Role:             role,
			DisplayName:      a.Name,
			Emoji:            a.Emoji,
			ModelOverride:    a.Model,
			ThinkingOverride: a.ThinkingDefault,
			TopicID:          a.TelegramTopicID,
			SoulFile:         a.SoulFile,
		})
	}

	return out
}
