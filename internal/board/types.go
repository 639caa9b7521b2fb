// Package board implements the board-of-directors orchestration described
// in the core spec's Board Orchestrator component: a fixed panel of
// specialist agent roles that a "general" router dispatches to, that can
// consult each other via in-band tags embedded in their replies, and that
// can be convened into a parallel meeting followed by a synthesis step.
package board

import "time"

// Role identifies one of the six fixed board roles.
type Role string

const (
	// RoleGeneral is the default router and the only role that can convene
	// a meeting or receive a mention-less message.
	RoleGeneral Role = "general"

	RoleEngineering Role = "engineering"
	RoleProduct     Role = "product"
	RoleFinance     Role = "finance"
	RoleMarketing   Role = "marketing"
	RoleLegal       Role = "legal"
)

// Specialists lists the five non-general roles, in the fixed order used for
// meeting dispatch and synthesis-prompt rendering.
func Specialists() []Role {
	return []Role{RoleEngineering, RoleProduct, RoleFinance, RoleMarketing, RoleLegal}
}

// AllRoles lists every fixed board role, general first.
func AllRoles() []Role {
	return append([]Role{RoleGeneral}, Specialists()...)
}

// IsValidRole reports whether r names one of the six fixed roles.
func IsValidRole(r Role) bool {
	for _, role := range AllRoles() {
		if role == r {
			return true
		}
	}
	return false
}

// BoardAgent describes one configured role on the board.
type BoardAgent struct {
	Role        Role   `json:"role" yaml:"role"`
	DisplayName string `json:"display_name" yaml:"name"`
	Emoji       string `json:"emoji,omitempty" yaml:"emoji,omitempty"`

	// Personality is the agent's soul-file text (personality + voice). It is
	// loaded lazily by the SoulLoader and is not persisted on this struct.
	Personality string `json:"-" yaml:"-"`

	ModelOverride    string `json:"model_override,omitempty" yaml:"model,omitempty"`
	ThinkingOverride string `json:"thinking_override,omitempty" yaml:"thinking_default,omitempty"`
	TopicID          string `json:"topic_id,omitempty" yaml:"telegram_topic_id,omitempty"`
	SoulFile         string `json:"soul_file,omitempty" yaml:"soul_file,omitempty"`
}

// MemoryEntry is one append-only record in a board agent's persistent
// memory, written on task completion and read back trimmed to the N most
// recent entries.
type MemoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Directive string    `json:"directive"`
	Summary   string    `json:"summary"`
	KeyFacts  []string  `json:"key_facts,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
}

// Consultation is one agent asking another specialist for input, surfaced
// via a `[[consult:<role>]]` tag in the asking agent's reply.
type Consultation struct {
	ID        string
	FromAgent Role
	ToAgent   Role
	Question  string
	Depth     int
	MaxDepth  int
	MeetingID string
	TimeoutMs int
	CreatedAt time.Time
}

// ConsultationResponse is the answer a consulted specialist returns.
type ConsultationResponse struct {
	RequestID     string
	FromAgent     Role
	Text          string
	Confidence    float64
	SuggestConsult []Role
	DurationMs    int64
	Err           error
}

// MeetingStatus is the lifecycle state of a BoardMeeting.
type MeetingStatus string

const (
	MeetingPending      MeetingStatus = "pending"
	MeetingInProgress   MeetingStatus = "in-progress"
	MeetingSynthesizing MeetingStatus = "synthesizing"
	MeetingCompleted    MeetingStatus = "completed"
	MeetingFailed       MeetingStatus = "failed"
	MeetingCancelled    MeetingStatus = "cancelled"
)

// SpecialistFailureReason annotates why a specialist's input is missing from
// a meeting's synthesis prompt.
type SpecialistFailureReason string

const (
	FailureNone      SpecialistFailureReason = ""
	FailureTimeout   SpecialistFailureReason = "timeout"
	FailureError     SpecialistFailureReason = "error"
	FailureCancelled SpecialistFailureReason = "cancelled"
)

// SpecialistInput is one specialist's contribution (or failure) to a
// meeting.
type SpecialistInput struct {
	Agent      Role
	Text       string
	Failure    SpecialistFailureReason
	FailureMsg string
	DurationMs int64
}

// BoardMeeting is a convened, parallel consultation of every specialist
// followed by a synthesis step run by the general agent.
type BoardMeeting struct {
	ID              string
	Topic           string
	Status          MeetingStatus
	InitiatedBy     Role
	Inputs          []SpecialistInput
	Synthesis       string
	CreatedAt       time.Time
	StartedAt       time.Time
	CompletedAt     time.Time
	MaxDurationMs    int
	MaxTurnsPerAgent int

	// Async-mode bookkeeping: when the meeting's specialists run as Task
	// Runner tasks rather than inline goroutines, TaskIDs tracks the
	// dispatched task per role so the completion hook can tell when every
	// sibling has reached a terminal state.
	TaskIDs map[Role]string
}

// terminalStatuses reports whether every role tracked by the meeting has
// reached a terminal input (used by the async completion hook).
func (m *BoardMeeting) allInputsTerminal() bool {
	if len(m.Inputs) < len(Specialists()) {
		return false
	}
	seen := make(map[Role]bool, len(m.Inputs))
	for _, in := range m.Inputs {
		seen[in.Agent] = true
	}
	for _, role := range Specialists() {
		if !seen[role] {
			return false
		}
	}
	return true
}
