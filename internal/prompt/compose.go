// Package prompt composes the base system prompt for a turn: identity and
// user profile from config, workspace files (persona, memory, instructions),
// tool notes, heartbeat checklists, and recent memory lines. The board
// orchestrator layers its per-role sections on top of this base.
package prompt

import (
	"fmt"
	"strings"

	"github.com/conclave-ai/conclave/internal/config"
)

// Options holds dynamic prompt sections that vary per request.
type Options struct {
	ToolNotes         string
	MemoryLines       []string
	Heartbeat         string
	WorkspaceSections []Section
	MemoryFlush       string
}

// Section is one labeled workspace block injected into the prompt.
type Section struct {
	Label   string
	Content string
}

// Compose renders the full system prompt from config and per-request
// options.
func Compose(cfg *config.Config, opts Options) string {
	if cfg == nil {
		return ""
	}

	lines := make([]string, 0, 10)

	missingIdentity := cfg.Identity.Name == "" && cfg.Identity.Creature == "" && cfg.Identity.Vibe == "" && cfg.Identity.Emoji == ""
	missingUser := cfg.User.Name == "" && cfg.User.PreferredAddress == "" && cfg.User.Pronouns == "" && cfg.User.Timezone == "" && cfg.User.Notes == ""

	if !missingIdentity {
		parts := []string{}
		if cfg.Identity.Name != "" {
			parts = append(parts, cfg.Identity.Name)
		}
		if cfg.Identity.Creature != "" {
			parts = append(parts, cfg.Identity.Creature)
		}
		if cfg.Identity.Vibe != "" {
			parts = append(parts, cfg.Identity.Vibe)
		}
		if cfg.Identity.Emoji != "" {
			parts = append(parts, cfg.Identity.Emoji)
		}
		lines = append(lines, fmt.Sprintf("Identity: %s.", strings.Join(parts, ", ")))
	}

	if !missingUser {
		label := cfg.User.PreferredAddress
		if label == "" {
			label = cfg.User.Name
		}
		if label == "" {
			label = "User"
		}
		meta := []string{}
		if cfg.User.Pronouns != "" {
			meta = append(meta, "pronouns: "+cfg.User.Pronouns)
		}
		if cfg.User.Timezone != "" {
			meta = append(meta, "timezone: "+cfg.User.Timezone)
		}
		if cfg.User.Notes != "" {
			meta = append(meta, "notes: "+cfg.User.Notes)
		}
		if len(meta) > 0 {
			lines = append(lines, fmt.Sprintf("%s (%s).", label, strings.Join(meta, ", ")))
		} else {
			lines = append(lines, fmt.Sprintf("%s.", label))
		}
	}

	if missingIdentity || missingUser {
		lines = append(lines, "If identity or user profile details are missing, ask the user for them and offer a few suggestions.")
	}

	if sections := normalizeSections(opts.WorkspaceSections); len(sections) > 0 {
		for _, section := range sections {
			lines = append(lines, fmt.Sprintf("%s:\n%s", section.Label, section.Content))
		}
	}

	if heartbeat := strings.TrimSpace(opts.Heartbeat); heartbeat != "" {
		lines = append(lines, fmt.Sprintf("Heartbeat checklist (only report new/changed items; reply HEARTBEAT_OK if nothing needs attention):\n%s", heartbeat))
	}

	if flush := strings.TrimSpace(opts.MemoryFlush); flush != "" {
		lines = append(lines, fmt.Sprintf("Memory flush reminder:\n%s", flush))
	}

	if memoryLines := normalizeLines(opts.MemoryLines); len(memoryLines) > 0 {
		lines = append(lines, fmt.Sprintf("Recent memory:\n%s", strings.Join(memoryLines, "\n")))
	}

	if notes := strings.TrimSpace(opts.ToolNotes); notes != "" {
		lines = append(lines, fmt.Sprintf("Tool notes:\n%s", notes))
	}

	lines = append(lines, "Do not exfiltrate secrets. Avoid destructive actions unless explicitly requested. Never stream partial replies to external messaging surfaces.")
	lines = append(lines, "Be concise, direct, and ask clarifying questions when requirements are ambiguous.")

	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func normalizeLines(lines []string) []string {
	if len(lines) == 0 {
		return nil
	}
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

func normalizeSections(sections []Section) []Section {
	if len(sections) == 0 {
		return nil
	}
	out := make([]Section, 0, len(sections))
	for _, section := range sections {
		label := strings.TrimSpace(section.Label)
		content := strings.TrimSpace(section.Content)
		if label == "" || content == "" {
			continue
		}
		out = append(out, Section{Label: label, Content: content})
	}
	return out
}
