package board

import (
	"regexp"
	"strconv"
	"strings"
)

// RouteReason names which precedence tier produced a routing decision.
type RouteReason string

const (
	RouteTopic     RouteReason = "topic_id"
	RouteDirective RouteReason = "directive"
	RouteMention   RouteReason = "mention"
	RouteKeyword   RouteReason = "keyword"
	RouteDefault   RouteReason = "default"
)

// BoardContext is the result of routing one inbound message to a board
// role, ready to hand to the agent run pipeline.
type BoardContext struct {
	AgentRole         Role
	RouteReason       RouteReason
	CleanedBody       string
	SessionKey        string
	ExtraSystemPrompt string
	ModelOverride     string
	ThinkingOverride  string
}

var directivePattern = regexp.MustCompile(`(?i)/agent:([a-z]+)\b`)
var mentionPattern = regexp.MustCompile(`(?i)@([a-z]+)\b`)

// keywordTable scores free-text bodies toward a specialist role. Each
// matched keyword contributes one point toward its role.
var keywordTable = map[Role][]string{
	RoleEngineering: {"bug", "deploy", "code", "api", "latency", "outage", "architecture", "database", "infrastructure", "performance"},
	RoleProduct:     {"roadmap", "feature", "user story", "backlog", "ux", "onboarding", "retention", "prioritiz"},
	RoleFinance:     {"budget", "revenue", "forecast", "runway", "cost", "pricing", "margin", "invoice"},
	RoleMarketing:   {"campaign", "brand", "launch", "audience", "seo", "social media", "positioning", "messaging"},
	RoleLegal:       {"contract", "compliance", "liability", "terms of service", "privacy", "regulation", "trademark", "lawsuit"},
}

// scoreKeywords counts keyword hits per specialist role in body.
func scoreKeywords(body string) map[Role]int {
	lower := strings.ToLower(body)
	scores := make(map[Role]int, len(keywordTable))
	for role, words := range keywordTable {
		count := 0
		for _, w := range words {
			if strings.Contains(lower, w) {
				count++
			}
		}
		if count > 0 {
			scores[role] = count
		}
	}
	return scores
}

// topKeywordRole applies the "top score >= 3 AND >= 2x runner-up" gate.
// Returns ok=false if no role clears the gate.
func topKeywordRole(scores map[Role]int) (Role, bool) {
	var top, runnerUp Role
	topScore, runnerScore := 0, 0
	for role, score := range scores {
		if score > topScore {
			runnerUp, runnerScore = top, topScore
			top, topScore = role, score
		} else if score > runnerScore {
			runnerUp, runnerScore = role, score
		}
	}
	_ = runnerUp
	if topScore < 3 {
		return "", false
	}
	if runnerScore > 0 && topScore < 2*runnerScore {
		return "", false
	}
	return top, true
}

// TopicRoleMap maps a channel topic id to a fixed board role.
type TopicRoleMap map[string]Role

// PrepareContext routes an incoming message: it resolves which role
// handles body, strips any routing directive/mention from the visible
// text, and derives the per-role session key.
//
// Precedence: (1) topic-id mapping, (2) "/agent:<role>" directive,
// (3) "@<role>" mention, (4) keyword inference (gated), (5) default
// general.
func (o *Orchestrator) PrepareContext(body, baseSessionKey, topicID string, existingSystemPrompt string) *BoardContext {
	role, reason, cleaned := o.routeRole(body, topicID)

	agent := o.agentFor(role)
	bc := &BoardContext{
		AgentRole:   role,
		RouteReason: reason,
		CleanedBody: cleaned,
		SessionKey:  o.sessionKeyFor(role, baseSessionKey),
	}
	if agent != nil {
		bc.ModelOverride = agent.ModelOverride
		bc.ThinkingOverride = agent.ThinkingOverride
	}
	bc.ExtraSystemPrompt = o.composeSystemPrompt(role, existingSystemPrompt)
	return bc
}

func (o *Orchestrator) routeRole(body, topicID string) (Role, RouteReason, string) {
	if topicID != "" {
		if role, ok := o.topicRoles[topicID]; ok && IsValidRole(role) {
			return role, RouteTopic, strings.TrimSpace(body)
		}
	}

	if m := directivePattern.FindStringSubmatch(body); m != nil {
		role := Role(strings.ToLower(m[1]))
		if IsValidRole(role) {
			cleaned := strings.TrimSpace(directivePattern.ReplaceAllString(body, ""))
			return role, RouteDirective, cleaned
		}
	}

	if m := mentionPattern.FindStringSubmatch(body); m != nil {
		role := Role(strings.ToLower(m[1]))
		if IsValidRole(role) {
			cleaned := strings.TrimSpace(mentionPattern.ReplaceAllString(body, ""))
			return role, RouteMention, cleaned
		}
	}

	if role, ok := topKeywordRole(scoreKeywords(body)); ok {
		return role, RouteKeyword, strings.TrimSpace(body)
	}

	return RoleGeneral, RouteDefault, strings.TrimSpace(body)
}

// sessionKeyFor derives the per-role session key: general preserves the
// base key for direct chats; other roles are namespaced under "board:<role>"
// (with a group suffix preserved when the base key already carries one).
func (o *Orchestrator) sessionKeyFor(role Role, baseSessionKey string) string {
	if role == RoleGeneral {
		return baseSessionKey
	}

	groupSuffix := groupSuffixOf(baseSessionKey)
	if groupSuffix == "" {
		return "board:" + string(role)
	}
	return "board:" + string(role) + ":" + groupSuffix
}

// groupSuffixOf extracts the group-identifying suffix from a base session
// key of the form "<surface>:<conversation>:group:<id>", returning "" for a
// direct-chat key.
func groupSuffixOf(baseSessionKey string) string {
	parts := strings.Split(baseSessionKey, ":")
	for i, p := range parts {
		if p == "group" && i+1 < len(parts) {
			return "group:" + parts[i+1]
		}
	}
	return ""
}

// describeScores renders keyword scores for debug/trace logging.
func describeScores(scores map[Role]int) string {
	var b strings.Builder
	first := true
	for role, score := range scores {
		if !first {
			b.WriteString(", ")
		}
		first = false
		b.WriteString(string(role))
		b.WriteString("=")
		b.WriteString(strconv.Itoa(score))
	}
	return b.String()
}
