package board

import (
	"fmt"
	"strings"
	"sync"
)

// Config configures an Orchestrator (the board.* config keys).
type Config struct {
	Enabled         bool
	Agents          []BoardAgent
	Consultation    ConsultationConfig
	Meetings        MeetingConfig
	TelegramGroupID string
	TopicRoles      TopicRoleMap
}

// Orchestrator is the board of directors: it routes inbound
// messages to a board role, composes each role's system prompt, and runs
// consultations and meetings between the six fixed roles.
type Orchestrator struct {
	runner TaskRunnerFields

	mu         sync.RWMutex
	agents     map[Role]*BoardAgent
	topicRoles TopicRoleMap

	consultConfig ConsultationConfig
	meetingConfig MeetingConfig

	soul *SoulLoader
	mem  *MemoryStore
}

// TaskRunnerFields bundles the AgentRunner dependency; kept as a distinct
// named type so NewOrchestrator's signature reads as "what board needs",
// not "how many interfaces board needs".
type TaskRunnerFields = AgentRunner

// NewOrchestrator builds an Orchestrator from the given config and agent
// runner. soul, if non-nil, is used to load/hot-reload per-role personality
// text; a nil soul falls back to DefaultPersonality for every role. mem, if
// non-nil, backs persistent agent memory; a nil mem disables memory
// injection into composed system prompts.
func NewOrchestrator(cfg Config, runner AgentRunner, soul *SoulLoader, mem *MemoryStore) *Orchestrator {
	o := &Orchestrator{
		runner:        runner,
		agents:        make(map[Role]*BoardAgent),
		topicRoles:    cfg.TopicRoles,
		consultConfig: cfg.Consultation,
		meetingConfig: cfg.Meetings,
		soul:          soul,
		mem:           mem,
	}
	if o.topicRoles == nil {
		o.topicRoles = TopicRoleMap{}
	}
	if o.consultConfig.MaxDepth <= 0 {
		o.consultConfig.MaxDepth = 2
	}
	if o.consultConfig.TimeoutMs <= 0 {
		o.consultConfig.TimeoutMs = 30_000
	}
	if o.meetingConfig.MaxDurationMs <= 0 {
		o.meetingConfig.MaxDurationMs = 120_000
	}

	configured := make(map[Role]bool, len(cfg.Agents))
	for i := range cfg.Agents {
		a := cfg.Agents[i]
		o.agents[a.Role] = &a
		configured[a.Role] = true
	}
	for _, role := range AllRoles() {
		if !configured[role] {
			o.agents[role] = &BoardAgent{Role: role, DisplayName: defaultDisplayName(role), Emoji: defaultEmoji(role)}
		}
	}

	return o
}

func (o *Orchestrator) agentFor(role Role) *BoardAgent {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.agents[role]
}

// ListAgents returns the configured board roster in the fixed role order.
func (o *Orchestrator) ListAgents() []BoardAgent {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]BoardAgent, 0, len(o.agents))
	for _, role := range AllRoles() {
		if a, ok := o.agents[role]; ok {
			out = append(out, *a)
		}
	}
	return out
}

// composeSystemPrompt assembles a role's full system prompt: agent
// personality + colleague list + consultation-protocol instructions +
// (general only) meeting-protocol instructions + routing guidance,
// appended after whatever base prompt the caller already built.
func (o *Orchestrator) composeSystemPrompt(role Role, existingSystemPrompt string) string {
	agent := o.agentFor(role)

	var b strings.Builder
	if existingSystemPrompt != "" {
		b.WriteString(existingSystemPrompt)
		b.WriteString("\n\n")
	}

	b.WriteString(o.personalityFor(role, agent))
	b.WriteString("\n\n")
	b.WriteString(o.colleagueList(role))
	b.WriteString("\n\n")
	b.WriteString(consultationProtocol)

	if role == RoleGeneral {
		b.WriteString("\n\n")
		b.WriteString(meetingProtocol)
		b.WriteString("\n\n")
		b.WriteString(routingGuidance)
	}

	if o.mem != nil {
		if recent := o.mem.Recent(role, DefaultMemoryWindow); len(recent) > 0 {
			b.WriteString("\n\n")
			b.WriteString(renderMemory(recent))
		}
	}

	return b.String()
}

func (o *Orchestrator) personalityFor(role Role, agent *BoardAgent) string {
	if o.soul != nil {
		if text, ok := o.soul.Load(role, agent); ok && text != "" {
			return text
		}
	}
	return DefaultPersonality(role)
}

func (o *Orchestrator) colleagueList(self Role) string {
	var b strings.Builder
	b.WriteString("Your fellow board members:\n")
	for _, role := range AllRoles() {
		if role == self {
			continue
		}
		a := o.agentFor(role)
		name := defaultDisplayName(role)
		if a != nil && a.DisplayName != "" {
			name = a.DisplayName
		}
		b.WriteString(fmt.Sprintf("- %s (%s)\n", name, role))
	}
	return strings.TrimRight(b.String(), "\n")
}

const consultationProtocol = `When a question falls outside your expertise, you may consult a colleague by writing a line of the form "[[consult:<role>]] <your question>" anywhere in your reply. You may issue more than one consultation in the same reply. Never consult yourself. Your consultation tags are invisible to the user; only your surrounding reply and the colleague's answer (appended automatically) are shown.`

const meetingProtocol = `If a decision needs input from the whole board, convene a meeting by writing "[[board_meeting]] <topic>" in your reply. Every specialist will be asked for their perspective in parallel, and you will then be asked to synthesize their input into one recommendation.`

const routingGuidance = `You are the default board role. Messages route to you unless a Telegram topic, an explicit "/agent:<role>" directive, an "@<role>" mention, or a strong keyword signal points to a specialist instead.`

func defaultDisplayName(role Role) string {
	switch role {
	case RoleGeneral:
		return "General"
	case RoleEngineering:
		return "Engineering"
	case RoleProduct:
		return "Product"
	case RoleFinance:
		return "Finance"
	case RoleMarketing:
		return "Marketing"
	case RoleLegal:
		return "Legal"
	default:
		return string(role)
	}
}

func defaultEmoji(role Role) string {
	switch role {
	case RoleGeneral:
		return "🧭"
	case RoleEngineering:
		return "🛠️"
	case RoleProduct:
		return "📦"
	case RoleFinance:
		return "💰"
	case RoleMarketing:
		return "📣"
	case RoleLegal:
		return "⚖️"
	default:
		return ""
	}
}

// DefaultPersonality returns the built-in fallback personality used when no
// soul file is configured or found for role.
func DefaultPersonality(role Role) string {
	switch role {
	case RoleGeneral:
		return "You are the general board agent: a pragmatic generalist who routes requests, holds the big picture, and chairs meetings."
	case RoleEngineering:
		return "You are the engineering board member: precise, systems-minded, and focused on feasibility, reliability, and tradeoffs."
	case RoleProduct:
		return "You are the product board member: user-focused, prioritization-minded, and focused on what to build and why."
	case RoleFinance:
		return "You are the finance board member: numbers-first, focused on cost, revenue, and runway implications."
	case RoleMarketing:
		return "You are the marketing board member: audience-focused, focused on positioning, messaging, and go-to-market."
	case RoleLegal:
		return "You are the legal board member: risk-focused, focused on compliance, liability, and contractual exposure."
	default:
		return "You are a board member."
	}
}
