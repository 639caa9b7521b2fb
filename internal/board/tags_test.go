package board

import "testing"

func TestProcessResponse_ConsultTags(t *testing.T) {
	reply := "Let me check with someone else.\n[[consult:legal]] Is this contract enforceable?\nHere is my initial take."

	cleaned, consultations, topic, hasMeeting := ProcessResponse(reply, RoleGeneral)

	if len(consultations) != 1 {
		t.Fatalf("got %d consultations, want 1", len(consultations))
	}
	if consultations[0].ToAgent != RoleLegal {
		t.Errorf("ToAgent = %q, want legal", consultations[0].ToAgent)
	}
	if consultations[0].Question != "Is this contract enforceable?" {
		t.Errorf("Question = %q", consultations[0].Question)
	}
	if hasMeeting {
		t.Error("hasMeeting should be false")
	}
	if topic != "" {
		t.Errorf("topic = %q, want empty", topic)
	}
	if containsTag(cleaned) {
		t.Errorf("cleaned text still contains a tag: %q", cleaned)
	}
}

func TestProcessResponse_MeetingTagOnlyForGeneral(t *testing.T) {
	reply := "[[board_meeting]] Should we raise prices?"

	_, _, topic, hasMeeting := ProcessResponse(reply, RoleGeneral)
	if !hasMeeting || topic != "Should we raise prices?" {
		t.Errorf("general: hasMeeting=%v topic=%q", hasMeeting, topic)
	}

	_, _, topic, hasMeeting = ProcessResponse(reply, RoleEngineering)
	if hasMeeting || topic != "" {
		t.Errorf("engineering should not be able to call a meeting: hasMeeting=%v topic=%q", hasMeeting, topic)
	}
}

func TestProcessResponse_MultipleConsultTags(t *testing.T) {
	reply := "[[consult:finance]] what's the budget?\n[[consult:legal]] any compliance issue?"
	_, consultations, _, _ := ProcessResponse(reply, RoleProduct)
	if len(consultations) != 2 {
		t.Fatalf("got %d consultations, want 2", len(consultations))
	}
}

func TestProcessResponse_UnknownRoleIgnored(t *testing.T) {
	reply := "[[consult:astrology]] what does the future hold?"
	_, consultations, _, _ := ProcessResponse(reply, RoleGeneral)
	if len(consultations) != 0 {
		t.Fatalf("got %d consultations, want 0 for an invalid role", len(consultations))
	}
}

func containsTag(s string) bool {
	return anyTagPattern.MatchString(s)
}
