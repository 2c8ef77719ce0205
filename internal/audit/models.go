package audit

import "time"

// Event is an immutable, append-only audit log record of a call
// lifecycle transition.
//
// Invariants:
// - Events are never updated or deleted.
// - Actor capture is best-effort; do not block signaling flows on audit
//   failures.
//
// Storage recommendation (Postgres):
// - Table audit_events with an INSERT-only policy.
// - Optional: trigger to prevent UPDATE/DELETE.
// - Optional: partition by time for retention.

type Event struct {
	ID string `json:"id" db:"id"`

	// Type indicates the lifecycle transition being recorded.
	Type EventType `json:"type" db:"type"`

	// CallID is the record the transition happened on.
	CallID string `json:"call_id" db:"call_id"`

	// ActorUserID is the authenticated user causing the transition.
	// Empty for system transitions (ringing timeout).
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`

	// FromStatus/ToStatus capture the state machine edge taken.
	FromStatus string `json:"from_status" db:"from_status"`
	ToStatus   string `json:"to_status" db:"to_status"`

	// Reason carries the recorded ended reason for terminal transitions.
	Reason string `json:"reason,omitempty" db:"reason"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeInitiated EventType = "call_initiated"
	EventTypeAnswered  EventType = "call_answered"
	EventTypeConnected EventType = "call_connected"
	EventTypeDeclined  EventType = "call_declined"
	EventTypeEnded     EventType = "call_ended"
	EventTypeMissed    EventType = "call_missed"
)
