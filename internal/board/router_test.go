package board

import "testing"

func TestRouteRole_Precedence(t *testing.T) {
	o := NewOrchestrator(Config{
		TopicRoles: TopicRoleMap{"42": RoleLegal},
	}, nil, nil, nil)

	cases := []struct {
		name     string
		body     string
		topicID  string
		wantRole Role
		wantR    RouteReason
	}{
		{"topic wins over everything", "/agent:engineering please help @finance", "42", RoleLegal, RouteTopic},
		{"directive wins over mention", "/agent:finance please help @legal", "", RoleFinance, RouteDirective},
		{"mention wins over keywords", "@marketing what about this outage", "", RoleMarketing, RouteMention},
		{"strong keyword signal", "we have a production outage affecting the database and api latency", "", RoleEngineering, RouteKeyword},
		{"weak keyword signal falls to default", "bug", "", RoleGeneral, RouteDefault},
		{"no signal falls to default", "how is everyone today", "", RoleGeneral, RouteDefault},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			role, reason, _ := o.routeRole(tc.body, tc.topicID)
			if role != tc.wantRole {
				t.Errorf("role = %q, want %q", role, tc.wantRole)
			}
			if reason != tc.wantR {
				t.Errorf("reason = %q, want %q", reason, tc.wantR)
			}
		})
	}
}

func TestRouteRole_InvalidDirectiveFallsThrough(t *testing.T) {
	o := NewOrchestrator(Config{}, nil, nil, nil)
	role, reason, _ := o.routeRole("/agent:nonsense hello there", "")
	if role != RoleGeneral || reason != RouteDefault {
		t.Errorf("got role=%q reason=%q, want general/default", role, reason)
	}
}

func TestTopKeywordRole_Gate(t *testing.T) {
	cases := []struct {
		name   string
		scores map[Role]int
		wantOK bool
	}{
		{"clear winner", map[Role]int{RoleEngineering: 4, RoleProduct: 1}, true},
		{"below minimum", map[Role]int{RoleEngineering: 2}, false},
		{"too close to runner up", map[Role]int{RoleEngineering: 3, RoleProduct: 2}, false},
		{"empty", map[Role]int{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := topKeywordRole(tc.scores)
			if ok != tc.wantOK {
				t.Errorf("ok = %v, want %v", ok, tc.wantOK)
			}
		})
	}
}

func TestSessionKeyFor(t *testing.T) {
	o := NewOrchestrator(Config{}, nil, nil, nil)

	if got := o.sessionKeyFor(RoleGeneral, "telegram:123"); got != "telegram:123" {
		t.Errorf("general session key = %q, want base key preserved", got)
	}
	if got := o.sessionKeyFor(RoleEngineering, "telegram:123"); got != "board:engineering" {
		t.Errorf("specialist session key = %q, want board:engineering", got)
	}
	if got := o.sessionKeyFor(RoleEngineering, "telegram:group:555:123"); got != "board:engineering:group:555" {
		t.Errorf("group specialist session key = %q, want board:engineering:group:555", got)
	}
}

func TestPrepareContext(t *testing.T) {
	o := NewOrchestrator(Config{}, nil, nil, nil)
	bc := o.PrepareContext("/agent:legal can we use this logo", "telegram:123", "", "")

	if bc.AgentRole != RoleLegal {
		t.Errorf("AgentRole = %q, want legal", bc.AgentRole)
	}
	if bc.RouteReason != RouteDirective {
		t.Errorf("RouteReason = %q, want directive", bc.RouteReason)
	}
	if bc.CleanedBody == "" {
		t.Error("CleanedBody should not be empty")
	}
	if bc.ExtraSystemPrompt == "" {
		t.Error("ExtraSystemPrompt should be composed")
	}
}
