package audit

import (
	"context"
	"log/slog"

	"call-platform/internal/calls"
)

// Recorder bridges the signaling service's transition hook to the shared
// audit.Service. It satisfies calls.TransitionRecorder.
//
// Failures are logged and swallowed; audit must never fail a call
// operation.
type Recorder struct {
	Audit *Service
	Log   *slog.Logger
}

func (r Recorder) RecordTransition(ctx context.Context, c calls.Call, from calls.Status, actorID string) {
	if r.Audit == nil {
		return
	}
	err := r.Audit.LogTransition(ctx,
		eventTypeFor(c.Status),
		c.ID,
		actorID,
		string(from),
		string(c.Status),
		string(c.EndedReason),
	)
	if err != nil && r.Log != nil {
		r.Log.Warn("audit append failed", "call_id", c.ID, "err", err)
	}
}

func eventTypeFor(to calls.Status) EventType {
	switch to {
	case calls.StatusRinging:
		return EventTypeInitiated
	case calls.StatusAnswered:
		return EventTypeAnswered
	case calls.StatusConnected:
		return EventTypeConnected
	case calls.StatusDeclined:
		return EventTypeDeclined
	case calls.StatusMissed:
		return EventTypeMissed
	default:
		return EventTypeEnded
	}
}
