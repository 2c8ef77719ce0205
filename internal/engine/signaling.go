package engine

import (
	"context"

	"call-platform/internal/calls"
)

// Signaling is the slice of the signaling service the engine drives.
// *calls.Service satisfies it in-process; a remote client would too.
//
// The engine never mutates call state except through these operations,
// and reconciles every local decision against the record snapshots it
// observes.
type Signaling interface {
	Initiate(ctx context.Context, calleeID string, offer calls.SessionDescription) (string, error)
	Answer(ctx context.Context, callID string, answer calls.SessionDescription) error
	MarkConnected(ctx context.Context, callID string) (bool, error)
	SendCandidate(ctx context.Context, callID string, role calls.Role, cand calls.ICECandidate) error
	Decline(ctx context.Context, callID string) error
	End(ctx context.Context, callID string) error
	GetCallDetails(ctx context.Context, callID string) (calls.Call, error)
	GetMyActiveCall(ctx context.Context) (*calls.Call, error)
}
