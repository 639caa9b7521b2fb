package board

import (
	"regexp"
	"strings"
)

// consultTagPattern matches "[[consult:<role>]] <question>" where the
// question runs to the end of the line (or the next tag). Multiple
// consultation tags may appear in one reply.
var consultTagPattern = regexp.MustCompile(`(?i)\[\[consult:([a-z]+)\]\]\s*([^\n\[]*)`)

// meetingTagPattern matches "[[board_meeting]] <topic>", restricted to the
// general role by the caller.
var meetingTagPattern = regexp.MustCompile(`(?i)\[\[board_meeting\]\]\s*([^\n]*)`)

// anyTagPattern strips both tag families from a reply's visible text.
var anyTagPattern = regexp.MustCompile(`(?i)\[\[(consult:[a-z]+|board_meeting)\]\][^\n]*`)

// ConsultationRequest is one parsed `[[consult:<role>]]` tag, prior to
// being turned into a full Consultation (which needs depth/meeting
// context the tag text alone doesn't carry).
type ConsultationRequest struct {
	ToAgent  Role
	Question string
}

// ProcessResponse post-processes an assistant reply: it extracts every
// consultation tag (any role may emit these) and, only for the general
// role, a single meeting tag, then strips all recognized tags from the
// text the user sees.
func ProcessResponse(reply string, agentRole Role) (cleaned string, consultations []ConsultationRequest, meetingTopic string, hasMeeting bool) {
	for _, m := range consultTagPattern.FindAllStringSubmatch(reply, -1) {
		role := Role(strings.ToLower(m[1]))
		if !IsValidRole(role) {
			continue
		}
		consultations = append(consultations, ConsultationRequest{
			ToAgent:  role,
			Question: strings.TrimSpace(m[2]),
		})
	}

	if agentRole == RoleGeneral {
		if m := meetingTagPattern.FindStringSubmatch(reply); m != nil {
			meetingTopic = strings.TrimSpace(m[1])
			hasMeeting = true
		}
	}

	cleaned = strings.TrimSpace(anyTagPattern.ReplaceAllString(reply, ""))
	// Collapse the blank lines left behind by a stripped tag.
	cleaned = collapseBlankLines(cleaned)
	return cleaned, consultations, meetingTopic, hasMeeting
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		trimmed := strings.TrimSpace(l)
		if trimmed == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// FormatConsultationReport renders the responses from one round of
// consultations into a single report block appended after the asking
// agent's (already-cleaned) reply.
func FormatConsultationReport(responses []ConsultationResponse) string {
	if len(responses) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\n---\n")
	for _, r := range responses {
		b.WriteString("**Consulted ")
		b.WriteString(string(r.FromAgent))
		b.WriteString(":** ")
		if r.Err != nil {
			b.WriteString("(no response: ")
			b.WriteString(r.Err.Error())
			b.WriteString(")")
		} else {
			b.WriteString(strings.TrimSpace(r.Text))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
