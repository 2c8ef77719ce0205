package engine

import "errors"

var (
	// ErrEngineBusy is the local busy self-guard: a new outgoing call is
	// refused without contacting the signaling service when this engine
	// already holds a call or local media.
	ErrEngineBusy = errors.New("engine already in a call")

	// ErrMediaAccess means the local media source was denied or
	// unavailable.
	ErrMediaAccess = errors.New("media access denied or unavailable")

	// ErrConnectivity means the local transport reported
	// failed/disconnected/closed.
	ErrConnectivity = errors.New("transport connectivity lost")

	ErrNoActiveCall   = errors.New("no active call")
	ErrNotIncoming    = errors.New("no incoming call to act on")
	ErrEngineStopped  = errors.New("engine not running")
)
