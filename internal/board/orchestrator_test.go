package board

import (
	"strings"
	"testing"
)

func TestComposeSystemPrompt_GeneralGetsMeetingProtocol(t *testing.T) {
	o := NewOrchestrator(Config{}, &stubRunner{}, nil, nil)

	prompt := o.composeSystemPrompt(RoleGeneral, "base prompt")
	if !strings.Contains(prompt, "base prompt") {
		t.Error("composed prompt should retain the existing system prompt")
	}
	if !strings.Contains(prompt, "board_meeting") {
		t.Error("general's composed prompt should mention the meeting protocol")
	}
	if !strings.Contains(prompt, "consult:") {
		t.Error("composed prompt should mention the consultation protocol")
	}
}

func TestComposeSystemPrompt_SpecialistHasNoMeetingProtocol(t *testing.T) {
	o := NewOrchestrator(Config{}, &stubRunner{}, nil, nil)
	prompt := o.composeSystemPrompt(RoleEngineering, "")
	if strings.Contains(prompt, "board_meeting") {
		t.Error("non-general roles must not receive the meeting protocol")
	}
}

func TestComposeSystemPrompt_InjectsRecentMemory(t *testing.T) {
	mem := NewMemoryStore(t.TempDir())
	if err := mem.Append(RoleEngineering, MemoryEntry{Summary: "deployed v2 last week"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	o := NewOrchestrator(Config{}, &stubRunner{}, nil, mem)

	prompt := o.composeSystemPrompt(RoleEngineering, "")
	if !strings.Contains(prompt, "deployed v2 last week") {
		t.Error("composed prompt should include recent memory")
	}
}

func TestNewOrchestrator_FillsUnconfiguredRoles(t *testing.T) {
	o := NewOrchestrator(Config{Agents: []BoardAgent{{Role: RoleLegal, DisplayName: "Compliance"}}}, &stubRunner{}, nil, nil)
	agents := o.ListAgents()
	if len(agents) != len(AllRoles()) {
		t.Fatalf("got %d agents, want %d", len(agents), len(AllRoles()))
	}
	for _, a := range agents {
		if a.Role == RoleLegal && a.DisplayName != "Compliance" {
			t.Errorf("configured legal agent display name = %q, want Compliance", a.DisplayName)
		}
		if a.Role == RoleEngineering && a.DisplayName == "" {
			t.Error("unconfigured engineering agent should get a default display name")
		}
	}
}

func contains(haystack, needle string) bool {
	return len(needle) == 0 || (len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0)
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
