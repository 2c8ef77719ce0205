package calls

import (
	"fmt"
	"time"
)

// Call is a single 1:1 audio call session between two users.
//
// Invariants:
// - CallerID != CalleeID, enforced at creation.
// - At most one non-terminal call per participant (busy guard).
// - Status only moves forward along the transition table below.
// - Offer and Answer are set at most once and never change afterwards.
// - Candidate lists are append-only; the store never deduplicates them.
// - EndedReason is written exactly once, on the transition into a terminal
//   status, and the whole record is immutable from then on.
type Call struct {
	ID       string `json:"id" db:"id"`
	CallerID string `json:"caller_id" db:"caller_id"`
	CalleeID string `json:"callee_id" db:"callee_id"`

	Status Status `json:"status" db:"status"`

	Offer  *SessionDescription `json:"offer,omitempty" db:"offer"`
	Answer *SessionDescription `json:"answer,omitempty" db:"answer"`

	CallerICECandidates []ICECandidate `json:"caller_ice_candidates"`
	CalleeICECandidates []ICECandidate `json:"callee_ice_candidates"`

	EndedReason EndedReason `json:"ended_reason,omitempty" db:"ended_reason"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusRinging   Status = "ringing"
	StatusAnswered  Status = "answered"
	StatusConnected Status = "connected"
	StatusDeclined  Status = "declined"
	StatusEnded     Status = "ended"
	StatusBusy      Status = "busy"
	StatusMissed    Status = "missed"
	StatusFailed    Status = "failed"
)

// activeStatuses are the non-terminal statuses the busy guard and the
// candidate relay care about.
var activeStatuses = []Status{StatusRinging, StatusAnswered, StatusConnected}

// ParseStatus rejects unknown statuses at the boundary.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusRinging, StatusAnswered, StatusConnected,
		StatusDeclined, StatusEnded, StatusBusy, StatusMissed, StatusFailed:
		return Status(s), nil
	default:
		return "", fmt.Errorf("unknown call status %q", s)
	}
}

// IsTerminal reports whether no further transition is permitted.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDeclined, StatusEnded, StatusMissed, StatusFailed:
		return true
	default:
		return false
	}
}

// IsActive reports whether the call still occupies its participants.
func (s Status) IsActive() bool {
	switch s {
	case StatusRinging, StatusAnswered, StatusConnected:
		return true
	default:
		return false
	}
}

type EndedReason string

const (
	ReasonDeclinedByCallee  EndedReason = "declined_by_callee"
	ReasonCancelledByCaller EndedReason = "cancelled_by_caller"
	ReasonEndedByCaller     EndedReason = "ended_by_caller"
	ReasonEndedByCallee     EndedReason = "ended_by_callee"
	ReasonMissedTimeout     EndedReason = "missed_timeout"
	ReasonLocalFailure      EndedReason = "local_failure"
)

// Role identifies which side of the call a participant or candidate
// belongs to.
type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleCaller, RoleCallee:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown call role %q", s)
	}
}

// SessionDescription is a structured SDP handshake payload.
// Type is "offer" or "answer"; both fields are required.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func (d SessionDescription) Validate(wantType string) error {
	if d.Type != wantType {
		return fmt.Errorf("session description type must be %q, got %q", wantType, d.Type)
	}
	if d.SDP == "" {
		return fmt.Errorf("session description sdp is empty")
	}
	return nil
}

// ICECandidate is a structured connectivity candidate. It mirrors the
// wire shape browsers and pion produce; optional fields stay pointers so
// absent and empty are distinguishable.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func (c ICECandidate) Validate() error {
	if c.Candidate == "" {
		return fmt.Errorf("ice candidate is empty")
	}
	return nil
}

// IsParticipant reports whether userID is the caller or the callee.
func (c Call) IsParticipant(userID string) bool {
	return userID != "" && (userID == c.CallerID || userID == c.CalleeID)
}

// RoleOf returns the role userID plays in this call.
func (c Call) RoleOf(userID string) (Role, bool) {
	switch userID {
	case c.CallerID:
		return RoleCaller, true
	case c.CalleeID:
		return RoleCallee, true
	default:
		return "", false
	}
}

// Other returns the opposite participant's user id.
func (c Call) Other(userID string) string {
	if userID == c.CallerID {
		return c.CalleeID
	}
	return c.CallerID
}

// CandidatesFor returns the candidate list produced by the given role.
func (c Call) CandidatesFor(role Role) []ICECandidate {
	if role == RoleCaller {
		return c.CallerICECandidates
	}
	return c.CalleeICECandidates
}

// operation names the state-machine mutations for transition checking.
type operation string

const (
	opAnswer        operation = "answer"
	opMarkConnected operation = "mark_connected"
	opDecline       operation = "decline"
	opEnd           operation = "end"
	opExpire        operation = "expire"
)

// canTransition is the exhaustive transition table. Initiate is not listed
// because it creates the record rather than moving one.
func canTransition(from Status, op operation) (Status, bool) {
	switch op {
	case opAnswer:
		if from == StatusRinging {
			return StatusAnswered, true
		}
	case opMarkConnected:
		if from == StatusAnswered {
			return StatusConnected, true
		}
	case opDecline:
		if from == StatusRinging {
			return StatusDeclined, true
		}
	case opEnd:
		switch from {
		case StatusRinging, StatusAnswered, StatusConnected:
			return StatusEnded, true
		}
	case opExpire:
		if from == StatusRinging {
			return StatusMissed, true
		}
	}
	return from, false
}
