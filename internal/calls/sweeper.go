package calls

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often the sweeper looks for expired
// ringing calls.
const DefaultSweepInterval = 5 * time.Second

// Sweeper expires calls left ringing past the ringing timeout, moving
// them to missed. It is the only writer besides Service and uses the same
// transactional store, so the transition table still holds.
type Sweeper struct {
	store    Store
	notifier Notifier
	log      *slog.Logger

	recorder TransitionRecorder

	timeout  time.Duration
	interval time.Duration
	clock    func() time.Time
}

// SetRecorder installs a transition recorder. Pass nil to disable.
func (s *Sweeper) SetRecorder(r TransitionRecorder) { s.recorder = r }

func NewSweeper(store Store, notifier Notifier, log *slog.Logger, timeout, interval time.Duration) *Sweeper {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultRingingTimeout
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		store:    store,
		notifier: notifier,
		log:      log,
		timeout:  timeout,
		interval: interval,
		clock:    time.Now,
	}
}

// Run sweeps on a ticker until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.SweepOnce(ctx); err != nil {
				s.log.Error("ringing sweep failed", "err", err)
			}
		}
	}
}

// SweepOnce expires every ringing call older than the timeout.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	cutoff := s.clock().UTC().Add(-s.timeout)

	var expired []Call
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		stale, err := tx.FindRingingBefore(ctx, cutoff)
		if err != nil {
			return err
		}
		for _, c := range stale {
			next, ok := canTransition(c.Status, opExpire)
			if !ok {
				continue
			}
			c.Status = next
			c.EndedReason = ReasonMissedTimeout
			c.UpdatedAt = s.clock().UTC()
			if err := tx.Update(ctx, c); err != nil {
				return err
			}
			expired = append(expired, c)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, c := range expired {
		s.log.Info("ringing call expired", "call_id", c.ID, "caller_id", c.CallerID, "callee_id", c.CalleeID)
		if s.recorder != nil {
			s.recorder.RecordTransition(ctx, c, StatusRinging, "")
		}
		s.notifier.CallChanged(ctx, c)
	}
	return nil
}
