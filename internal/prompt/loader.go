package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/conclave-ai/conclave/internal/config"
	"github.com/conclave-ai/conclave/internal/sessions"
	"github.com/conclave-ai/conclave/pkg/models"
)

// BuildSystemPrompt loads every configured prompt source (workspace files,
// tool notes, heartbeat checklist, recent memory) and composes the base
// system prompt for one turn.
func BuildSystemPrompt(cfg *config.Config, sessionID string, msg *models.Message) (string, error) {
	if cfg == nil {
		return "", nil
	}
	if msg == nil {
		msg = &models.Message{}
	}

	opts := Options{}
	notes, err := loadToolNotes(cfg)
	if err != nil {
		return "", err
	}
	opts.ToolNotes = notes

	sections, err := loadWorkspaceSections(cfg)
	if err != nil {
		return "", err
	}
	opts.WorkspaceSections = sections

	heartbeat, err := loadHeartbeat(cfg, msg)
	if err != nil {
		return "", err
	}
	opts.Heartbeat = heartbeat

	if cfg.Session.Memory.Enabled {
		logger := sessions.NewMemoryLogger(cfg.Session.Memory.Directory)
		channelID := msg.Channel
		session := sessionID
		switch strings.ToLower(strings.TrimSpace(cfg.Session.Memory.Scope)) {
		case "channel":
			session = ""
		case "global":
			channelID = ""
			session = ""
		}
		lines, err := logger.ReadRecentAt(time.Now(), channelID, session, cfg.Session.Memory.Days, cfg.Session.Memory.MaxLines)
		if err != nil {
			return "", err
		}
		opts.MemoryLines = lines
	}

	return Compose(cfg, opts), nil
}

// isHeartbeatMessage reports whether msg is a heartbeat tick rather than a
// real user message.
func isHeartbeatMessage(msg *models.Message) bool {
	if msg == nil {
		return false
	}
	if msg.Metadata != nil {
		if flag, ok := msg.Metadata["heartbeat"].(bool); ok && flag {
			return true
		}
	}
	content := strings.TrimSpace(strings.ToLower(msg.Content))
	if content == "heartbeat" {
		return true
	}
	return strings.HasPrefix(content, "heartbeat ")
}

func loadToolNotes(cfg *config.Config) (string, error) {
	if cfg == nil {
		return "", nil
	}
	inline := strings.TrimSpace(cfg.Tools.Notes)
	filePath := strings.TrimSpace(cfg.Tools.NotesFile)
	if filePath == "" {
		workspaceFile := resolveWorkspaceFile(cfg, strings.TrimSpace(cfg.Workspace.ToolsFile))
		if cfg.Workspace.Enabled && workspaceFile != "" {
			content, err := readPromptFileLimited(workspaceFile, cfg.Workspace.MaxChars)
			if err != nil {
				return inline, err
			}
			if content == "" {
				return inline, nil
			}
			if inline == "" {
				return content, nil
			}
			return inline + "\n" + content, nil
		}
		return inline, nil
	}

	content, err := readPromptFile(filePath)
	if err != nil {
		return inline, err
	}
	if content == "" {
		return inline, nil
	}
	if inline == "" {
		return content, nil
	}
	return inline + "\n" + content, nil
}

func loadHeartbeat(cfg *config.Config, msg *models.Message) (string, error) {
	if cfg == nil || !cfg.Session.Heartbeat.Enabled {
		return "", nil
	}
	if strings.EqualFold(cfg.Session.Heartbeat.Mode, "on_demand") && !isHeartbeatMessage(msg) {
		return "", nil
	}
	path := strings.TrimSpace(cfg.Session.Heartbeat.File)
	if path == "" {
		return "", nil
	}
	return readPromptFile(path)
}

func readPromptFile(path string) (string, error) {
	return readPromptFileLimited(path, 0)
}

func readPromptFileLimited(path string, maxChars int) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	content := strings.TrimSpace(string(data))
	if maxChars <= 0 {
		return content, nil
	}
	runes := []rune(content)
	if len(runes) <= maxChars {
		return content, nil
	}
	truncated := strings.TrimSpace(string(runes[:maxChars]))
	if truncated == "" {
		return "", nil
	}
	return truncated + "\n...(truncated)", nil
}

func loadWorkspaceSections(cfg *config.Config) ([]Section, error) {
	if cfg == nil || !cfg.Workspace.Enabled {
		return nil, nil
	}

	sections := make([]Section, 0, 5)
	add := func(label, filename string) error {
		path := resolveWorkspaceFile(cfg, filename)
		if path == "" {
			return nil
		}
		content, err := readPromptFileLimited(path, cfg.Workspace.MaxChars)
		if err != nil {
			return err
		}
		if strings.TrimSpace(content) == "" {
			return nil
		}
		sections = append(sections, Section{Label: label, Content: content})
		return nil
	}

	if err := add("Workspace instructions", cfg.Workspace.AgentsFile); err != nil {
		return nil, err
	}
	if err := add("Persona and boundaries", cfg.Workspace.SoulFile); err != nil {
		return nil, err
	}
	if err := add("Workspace user profile", cfg.Workspace.UserFile); err != nil {
		return nil, err
	}
	if err := add("Workspace identity", cfg.Workspace.IdentityFile); err != nil {
		return nil, err
	}
	if err := add("Workspace memory", cfg.Workspace.MemoryFile); err != nil {
		return nil, err
	}

	return sections, nil
}

func resolveWorkspaceFile(cfg *config.Config, filename string) string {
	if cfg == nil {
		return ""
	}
	name := strings.TrimSpace(filename)
	if name == "" {
		return ""
	}
	if filepath.IsAbs(name) {
		return name
	}
	base := strings.TrimSpace(cfg.Workspace.Path)
	if base == "" {
		return name
	}
	return filepath.Join(base, name)
}
