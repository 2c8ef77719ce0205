package calls

import (
	"context"
	"time"
)

// Store is the persistence contract for call records.
//
// RunInTx executes fn atomically: no two transactions on the same record
// may interleave their read-modify-write. The SQL implementation relies on
// row locks (SELECT ... FOR UPDATE); the in-memory implementation holds a
// coarse mutex for the duration of fn. Both give the serializable behavior
// the busy guard's check-then-insert depends on.
type Store interface {
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the unit-of-work surface available inside a transaction.
type Tx interface {
	Insert(ctx context.Context, c Call) error
	// Get returns ErrNotFound for unknown ids and locks the row for the
	// remainder of the transaction.
	Get(ctx context.Context, id string) (Call, error)
	// Update persists status, answer, ended reason and updated_at. Offer,
	// participants and created_at are write-once at Insert.
	Update(ctx context.Context, c Call) error
	// AppendCandidate appends one candidate to the role's list, preserving
	// arrival order.
	AppendCandidate(ctx context.Context, callID string, role Role, cand ICECandidate) error
	// FindActiveByUser returns every non-terminal call in which userID is
	// caller or callee.
	FindActiveByUser(ctx context.Context, userID string) ([]Call, error)
	// FindRingingBefore returns ringing calls created before cutoff,
	// locking them for update.
	FindRingingBefore(ctx context.Context, cutoff time.Time) ([]Call, error)
}

// UserLocker serializes call initiation per user so two concurrent
// Initiate calls targeting the same party cannot both pass the busy guard
// on stores without full serializable isolation.
type UserLocker interface {
	// LockUsers acquires advisory locks for every user id, in sorted
	// order. The returned release func is safe to call once.
	LockUsers(ctx context.Context, userIDs ...string) (release func(), err error)
}
