package calls

import "testing"

func TestStatusSets(t *testing.T) {
	terminal := map[Status]bool{
		StatusDeclined: true,
		StatusEnded:    true,
		StatusMissed:   true,
		StatusFailed:   true,
	}
	active := map[Status]bool{
		StatusRinging:   true,
		StatusAnswered:  true,
		StatusConnected: true,
	}
	all := []Status{
		StatusRinging, StatusAnswered, StatusConnected,
		StatusDeclined, StatusEnded, StatusBusy, StatusMissed, StatusFailed,
	}
	for _, s := range all {
		if got := s.IsTerminal(); got != terminal[s] {
			t.Errorf("%s.IsTerminal() = %v, want %v", s, got, terminal[s])
		}
		if got := s.IsActive(); got != active[s] {
			t.Errorf("%s.IsActive() = %v, want %v", s, got, active[s])
		}
	}
	// busy is neither active nor terminal: it never occupies a user and
	// never freezes a record.
	if StatusBusy.IsActive() || StatusBusy.IsTerminal() {
		t.Errorf("busy must be neither active nor terminal")
	}
}

func TestParseStatus(t *testing.T) {
	if s, err := ParseStatus("ringing"); err != nil || s != StatusRinging {
		t.Fatalf("ParseStatus(ringing) = %v, %v", s, err)
	}
	if _, err := ParseStatus("pending"); err == nil {
		t.Fatalf("ParseStatus accepted an unknown status")
	}
}

func TestParseRole(t *testing.T) {
	if r, err := ParseRole("callee"); err != nil || r != RoleCallee {
		t.Fatalf("ParseRole(callee) = %v, %v", r, err)
	}
	if _, err := ParseRole("observer"); err == nil {
		t.Fatalf("ParseRole accepted an unknown role")
	}
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from Status
		op   operation
		next Status
		ok   bool
	}{
		{StatusRinging, opAnswer, StatusAnswered, true},
		{StatusAnswered, opAnswer, StatusAnswered, false},
		{StatusConnected, opAnswer, StatusConnected, false},

		{StatusAnswered, opMarkConnected, StatusConnected, true},
		{StatusRinging, opMarkConnected, StatusRinging, false},
		{StatusConnected, opMarkConnected, StatusConnected, false},

		{StatusRinging, opDecline, StatusDeclined, true},
		{StatusAnswered, opDecline, StatusAnswered, false},

		{StatusRinging, opEnd, StatusEnded, true},
		{StatusAnswered, opEnd, StatusEnded, true},
		{StatusConnected, opEnd, StatusEnded, true},
		{StatusEnded, opEnd, StatusEnded, false},
		{StatusDeclined, opEnd, StatusDeclined, false},
		{StatusMissed, opEnd, StatusMissed, false},

		{StatusRinging, opExpire, StatusMissed, true},
		{StatusAnswered, opExpire, StatusAnswered, false},
	}
	for _, tc := range cases {
		next, ok := canTransition(tc.from, tc.op)
		if ok != tc.ok || next != tc.next {
			t.Errorf("canTransition(%s, %s) = (%s, %v), want (%s, %v)",
				tc.from, tc.op, next, ok, tc.next, tc.ok)
		}
	}
}

func TestSessionDescriptionValidate(t *testing.T) {
	good := SessionDescription{Type: "offer", SDP: "v=0"}
	if err := good.Validate("offer"); err != nil {
		t.Fatalf("valid offer rejected: %v", err)
	}
	if err := good.Validate("answer"); err == nil {
		t.Fatalf("offer accepted where an answer was required")
	}
	empty := SessionDescription{Type: "offer"}
	if err := empty.Validate("offer"); err == nil {
		t.Fatalf("empty sdp accepted")
	}
}

func TestICECandidateValidate(t *testing.T) {
	if err := (ICECandidate{Candidate: "candidate:1"}).Validate(); err != nil {
		t.Fatalf("valid candidate rejected: %v", err)
	}
	if err := (ICECandidate{}).Validate(); err == nil {
		t.Fatalf("empty candidate accepted")
	}
}

func TestCallParticipants(t *testing.T) {
	c := Call{CallerID: "alice", CalleeID: "bob"}

	if !c.IsParticipant("alice") || !c.IsParticipant("bob") {
		t.Fatalf("participants not recognized")
	}
	if c.IsParticipant("carol") || c.IsParticipant("") {
		t.Fatalf("non-participant recognized")
	}

	if r, ok := c.RoleOf("alice"); !ok || r != RoleCaller {
		t.Fatalf("RoleOf(alice) = %v, %v", r, ok)
	}
	if r, ok := c.RoleOf("bob"); !ok || r != RoleCallee {
		t.Fatalf("RoleOf(bob) = %v, %v", r, ok)
	}
	if _, ok := c.RoleOf("carol"); ok {
		t.Fatalf("RoleOf accepted a stranger")
	}

	if c.Other("alice") != "bob" || c.Other("bob") != "alice" {
		t.Fatalf("Other() wrong")
	}
}

func TestCandidatesFor(t *testing.T) {
	c := Call{
		CallerICECandidates: []ICECandidate{{Candidate: "candidate:caller"}},
		CalleeICECandidates: []ICECandidate{{Candidate: "candidate:callee"}},
	}
	if got := c.CandidatesFor(RoleCaller); len(got) != 1 || got[0].Candidate != "candidate:caller" {
		t.Fatalf("CandidatesFor(caller) = %v", got)
	}
	if got := c.CandidatesFor(RoleCallee); len(got) != 1 || got[0].Candidate != "candidate:callee" {
		t.Fatalf("CandidatesFor(callee) = %v", got)
	}
}
