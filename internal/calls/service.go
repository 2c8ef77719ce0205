package calls

import (
	"context"
	"log/slog"
	"time"

	"call-platform/internal/auth"

	"github.com/google/uuid"
)

// DefaultRingingTimeout is how long a call may stay in ringing before the
// sweeper marks it missed.
const DefaultRingingTimeout = 30 * time.Second

// Service is the authoritative call state machine. It is the only writer
// of call records; negotiation engines mutate state exclusively through
// these operations and reconcile against the record they observe.
//
// Every operation authenticates the actor from ctx, authorizes them
// against the record's participants, and runs its read-modify-write
// inside a single store transaction.
type Service struct {
	store    Store
	locks    UserLocker
	notifier Notifier
	log      *slog.Logger

	// recorder, when set, receives each state-machine edge taken.
	// Recording is best-effort and never fails an operation.
	recorder TransitionRecorder

	// clock is injectable for deterministic tests.
	clock func() time.Time
}

// TransitionRecorder receives each successful state-machine transition.
// internal/audit provides the production implementation.
type TransitionRecorder interface {
	RecordTransition(ctx context.Context, c Call, from Status, actorID string)
}

// SetRecorder installs a transition recorder. Pass nil to disable.
func (s *Service) SetRecorder(r TransitionRecorder) { s.recorder = r }

func (s *Service) record(ctx context.Context, c Call, from Status, actorID string) {
	if s.recorder != nil {
		s.recorder.RecordTransition(ctx, c, from, actorID)
	}
}

func NewService(store Store, locks UserLocker, notifier Notifier, log *slog.Logger) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:    store,
		locks:    locks,
		notifier: notifier,
		log:      log,
		clock:    time.Now,
	}
}

func actorFrom(ctx context.Context) (string, error) {
	userID, err := auth.UserID(ctx)
	if err != nil {
		return "", ErrUnauthenticated
	}
	return userID, nil
}

// Initiate creates a call in ringing after the busy guard passes for both
// parties. The guard's check-then-insert runs inside one transaction, and
// per-user advisory locks close the race between two concurrent initiates
// targeting the same user on stores without serializable isolation.
func (s *Service) Initiate(ctx context.Context, calleeID string, offer SessionDescription) (string, error) {
	callerID, err := actorFrom(ctx)
	if err != nil {
		return "", err
	}
	if calleeID == "" {
		return "", ErrInvalidArgument
	}
	if callerID == calleeID {
		return "", ErrSelfCall
	}
	if err := offer.Validate("offer"); err != nil {
		return "", ErrInvalidArgument
	}

	release, err := s.locks.LockUsers(ctx, callerID, calleeID)
	if err != nil {
		return "", err
	}
	defer release()

	now := s.clock().UTC()
	c := Call{
		ID:        uuid.NewString(),
		CallerID:  callerID,
		CalleeID:  calleeID,
		Status:    StatusRinging,
		Offer:     &offer,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.store.RunInTx(ctx, func(tx Tx) error {
		busy, err := tx.FindActiveByUser(ctx, calleeID)
		if err != nil {
			return err
		}
		if len(busy) > 0 {
			return ErrCalleeBusy
		}
		busy, err = tx.FindActiveByUser(ctx, callerID)
		if err != nil {
			return err
		}
		if len(busy) > 0 {
			return ErrCallerBusy
		}
		return tx.Insert(ctx, c)
	})
	if err != nil {
		return "", err
	}

	s.log.Info("call initiated", "call_id", c.ID, "caller_id", callerID, "callee_id", calleeID)
	s.record(ctx, c, "", callerID)
	s.notifier.CallChanged(ctx, c)
	return c.ID, nil
}

// Answer moves a ringing call to answered and stores the callee's answer.
// Only the callee may answer, and only from ringing.
func (s *Service) Answer(ctx context.Context, callID string, answer SessionDescription) error {
	actorID, err := actorFrom(ctx)
	if err != nil {
		return err
	}
	if err := answer.Validate("answer"); err != nil {
		return ErrInvalidArgument
	}

	updated, mutated, err := s.mutate(ctx, callID, func(c *Call) (bool, error) {
		if c.CalleeID != actorID {
			return false, ErrNotAuthorized
		}
		next, ok := canTransition(c.Status, opAnswer)
		if !ok {
			return false, ErrInvalidState
		}
		c.Status = next
		c.Answer = &answer
		return true, nil
	})
	if err != nil {
		return err
	}
	if mutated {
		s.log.Info("call answered", "call_id", callID, "callee_id", actorID)
		s.record(ctx, updated, StatusRinging, actorID)
		s.notifier.CallChanged(ctx, updated)
	}
	return nil
}

// MarkConnected promotes answered to connected once the transport reports
// a live link. Any other current status is a benign no-op: the method
// returns false instead of an error so racing parties can both report
// connectivity safely.
func (s *Service) MarkConnected(ctx context.Context, callID string) (bool, error) {
	actorID, err := actorFrom(ctx)
	if err != nil {
		return false, err
	}

	updated, mutated, err := s.mutate(ctx, callID, func(c *Call) (bool, error) {
		if !c.IsParticipant(actorID) {
			return false, ErrNotAuthorized
		}
		next, ok := canTransition(c.Status, opMarkConnected)
		if !ok {
			return false, nil
		}
		c.Status = next
		return true, nil
	})
	if err != nil {
		return false, err
	}
	if !mutated {
		return false, nil
	}
	s.log.Info("call connected", "call_id", callID, "actor_id", actorID)
	s.record(ctx, updated, StatusAnswered, actorID)
	s.notifier.CallChanged(ctx, updated)
	return true, nil
}

// SendCandidate appends one connectivity candidate to the sender's list.
// The actor must match the declared role. Candidates arriving after
// teardown are expected and silently ignored.
func (s *Service) SendCandidate(ctx context.Context, callID string, role Role, cand ICECandidate) error {
	actorID, err := actorFrom(ctx)
	if err != nil {
		return err
	}
	if err := cand.Validate(); err != nil {
		return ErrInvalidArgument
	}

	var out Call
	appended := false
	err = s.store.RunInTx(ctx, func(tx Tx) error {
		c, err := tx.Get(ctx, callID)
		if err != nil {
			return err
		}
		if role == RoleCaller && c.CallerID != actorID {
			return ErrNotAuthorized
		}
		if role == RoleCallee && c.CalleeID != actorID {
			return ErrNotAuthorized
		}
		if !c.Status.IsActive() {
			s.log.Debug("candidate after teardown ignored", "call_id", callID, "status", string(c.Status))
			return nil
		}
		if err := tx.AppendCandidate(ctx, callID, role, cand); err != nil {
			return err
		}
		out, err = tx.Get(ctx, callID)
		if err != nil {
			return err
		}
		appended = true
		return nil
	})
	if err != nil {
		return err
	}
	if appended {
		s.notifier.CallChanged(ctx, out)
	}
	return nil
}

// Decline rejects a ringing call. The recorded reason depends on who
// acted: the callee declines, the caller cancels. Calls already in a
// terminal status return success without mutation.
func (s *Service) Decline(ctx context.Context, callID string) error {
	actorID, err := actorFrom(ctx)
	if err != nil {
		return err
	}

	updated, mutated, err := s.mutate(ctx, callID, func(c *Call) (bool, error) {
		if !c.IsParticipant(actorID) {
			return false, ErrNotAuthorized
		}
		if c.Status.IsTerminal() {
			return false, nil
		}
		next, ok := canTransition(c.Status, opDecline)
		if !ok {
			return false, ErrInvalidState
		}
		c.Status = next
		if c.CalleeID == actorID {
			c.EndedReason = ReasonDeclinedByCallee
		} else {
			c.EndedReason = ReasonCancelledByCaller
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	if mutated {
		s.log.Info("call declined", "call_id", callID, "actor_id", actorID, "reason", string(updated.EndedReason))
		s.record(ctx, updated, StatusRinging, actorID)
		s.notifier.CallChanged(ctx, updated)
	}
	return nil
}

// End terminates a call from any active status. Ending an already
// terminal call is an idempotent success that leaves EndedReason alone,
// absorbing both parties racing to tear down the same call.
func (s *Service) End(ctx context.Context, callID string) error {
	actorID, err := actorFrom(ctx)
	if err != nil {
		return err
	}

	var from Status
	updated, mutated, err := s.mutate(ctx, callID, func(c *Call) (bool, error) {
		if !c.IsParticipant(actorID) {
			return false, ErrNotAuthorized
		}
		if c.Status.IsTerminal() {
			return false, nil
		}
		next, ok := canTransition(c.Status, opEnd)
		if !ok {
			return false, ErrInvalidState
		}
		from = c.Status
		c.Status = next
		if c.CallerID == actorID {
			c.EndedReason = ReasonEndedByCaller
		} else {
			c.EndedReason = ReasonEndedByCallee
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	if mutated {
		s.log.Info("call ended", "call_id", callID, "actor_id", actorID, "reason", string(updated.EndedReason))
		s.record(ctx, updated, from, actorID)
		s.notifier.CallChanged(ctx, updated)
	}
	return nil
}

// GetCallDetails returns the record only to its participants.
func (s *Service) GetCallDetails(ctx context.Context, callID string) (Call, error) {
	actorID, err := actorFrom(ctx)
	if err != nil {
		return Call{}, err
	}

	var out Call
	err = s.store.RunInTx(ctx, func(tx Tx) error {
		c, err := tx.Get(ctx, callID)
		if err != nil {
			return err
		}
		if !c.IsParticipant(actorID) {
			return ErrNotAuthorized
		}
		out = c
		return nil
	})
	return out, err
}

// GetMyActiveCall returns the actor's single non-terminal call, if any.
// An incoming ringing call (actor as callee) wins over anything else so
// the UI surfaces the accept/decline prompt first.
func (s *Service) GetMyActiveCall(ctx context.Context) (*Call, error) {
	actorID, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}

	var out *Call
	err = s.store.RunInTx(ctx, func(tx Tx) error {
		active, err := tx.FindActiveByUser(ctx, actorID)
		if err != nil {
			return err
		}
		for i := range active {
			if active[i].Status == StatusRinging && active[i].CalleeID == actorID {
				out = &active[i]
				return nil
			}
		}
		if len(active) > 0 {
			out = &active[0]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// mutate runs a read-modify-write on one record inside a transaction.
// fn edits the call in place and reports whether it changed anything;
// unchanged records are not written back.
func (s *Service) mutate(ctx context.Context, callID string, fn func(c *Call) (bool, error)) (Call, bool, error) {
	var out Call
	mutated := false
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		c, err := tx.Get(ctx, callID)
		if err != nil {
			return err
		}
		changed, err := fn(&c)
		if err != nil {
			return err
		}
		if changed {
			c.UpdatedAt = s.clock().UTC()
			if err := tx.Update(ctx, c); err != nil {
				return err
			}
		}
		out = c
		mutated = changed
		return nil
	})
	return out, mutated, err
}
