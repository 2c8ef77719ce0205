package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"call-platform/internal/auth"
	"call-platform/internal/calls"
)

// Phase is the UI-facing status mirror of one engine.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseIncoming   Phase = "incoming"
	PhaseOutgoing   Phase = "outgoing"
	PhaseConnecting Phase = "connecting"
	PhaseActive     Phase = "active"
	PhaseError      Phase = "error"
)

// View is a snapshot of the mirror, safe to read from any goroutine.
type View struct {
	Phase      Phase
	CallID     string
	OtherParty string
	Err        string
}

// Engine drives one participant's side of a call: local media, the peer
// transport session, candidate buffering, and the signaling mutations.
//
// It is a single-threaded reactive loop. All state besides the mirror is
// owned by the Run goroutine; transport callbacks and public commands are
// funneled in through channels. The signaling service remains the single
// source of truth: the engine only acts on the record snapshots it
// observes and never assumes a mutation landed.
type Engine struct {
	userID    string
	signaling Signaling
	watcher   calls.Watcher
	newPeer   PeerFactory
	newMedia  MediaFactory
	log       *slog.Logger

	commands   chan command
	transport  chan TransportState
	localCands chan calls.ICECandidate

	runOnce sync.Once
	done    chan struct{}

	mu     sync.Mutex
	mirror View

	// loop-owned; never touched outside the Run goroutine
	call *callState
}

// callState is the engine's loop-local view of the one call it is in.
type callState struct {
	id         string
	role       calls.Role
	remoteRole calls.Role

	peer  Peer
	media MediaSource

	buffer         candidateBuffer
	consumedRemote int

	answerApplied bool
	connectedSent bool

	snap calls.Call
}

func New(userID string, sig Signaling, watcher calls.Watcher, peers PeerFactory, media MediaFactory, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		userID:     userID,
		signaling:  sig,
		watcher:    watcher,
		newPeer:    peers,
		newMedia:   media,
		log:        log.With("user_id", userID),
		commands:   make(chan command),
		transport:  make(chan TransportState, 8),
		localCands: make(chan calls.ICECandidate, 32),
		done:       make(chan struct{}),
		mirror:     View{Phase: PhaseIdle},
	}
}

type commandKind int

const (
	cmdCall commandKind = iota
	cmdAccept
	cmdDecline
	cmdHangUp
	cmdDismiss
)

type command struct {
	kind   commandKind
	target string
	reply  chan error
}

// Call starts an outgoing call to calleeID.
func (e *Engine) Call(ctx context.Context, calleeID string) error {
	return e.send(ctx, command{kind: cmdCall, target: calleeID})
}

// Accept answers the currently ringing incoming call.
func (e *Engine) Accept(ctx context.Context) error {
	return e.send(ctx, command{kind: cmdAccept})
}

// Decline rejects the currently ringing incoming call (or cancels an
// outgoing one) and releases local resources.
func (e *Engine) Decline(ctx context.Context) error {
	return e.send(ctx, command{kind: cmdDecline})
}

// HangUp ends the current call and releases local resources.
func (e *Engine) HangUp(ctx context.Context) error {
	return e.send(ctx, command{kind: cmdHangUp})
}

// DismissError clears an error mirror left by a transport failure.
func (e *Engine) DismissError(ctx context.Context) error {
	return e.send(ctx, command{kind: cmdDismiss})
}

// Status returns the current UI-facing view.
func (e *Engine) Status() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mirror
}

func (e *Engine) send(ctx context.Context, cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case e.commands <- cmd:
	case <-e.done:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is the engine loop. It returns when ctx is cancelled or the watch
// stream closes; local resources are always released on the way out.
func (e *Engine) Run(ctx context.Context) error {
	defer e.runOnce.Do(func() { close(e.done) })

	ctx = auth.WithUser(ctx, e.userID)

	updates, stop := e.watcher.WatchUser(ctx, e.userID)
	defer stop()
	defer e.teardown()

	// Reconcile against whatever is already in flight for this user, so
	// an engine starting mid-ring still surfaces the incoming call.
	if c, err := e.signaling.GetMyActiveCall(ctx); err == nil && c != nil {
		e.handleSnapshot(ctx, *c)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-updates:
			if !ok {
				return nil
			}
			e.handleSnapshot(ctx, c)
		case st := <-e.transport:
			e.handleTransport(ctx, st)
		case cand := <-e.localCands:
			e.sendLocalCandidate(ctx, cand)
		case cmd := <-e.commands:
			cmd.reply <- e.handleCommand(ctx, cmd)
		}
	}
}

func (e *Engine) handleCommand(ctx context.Context, cmd command) error {
	switch cmd.kind {
	case cmdCall:
		return e.startOutgoing(ctx, cmd.target)
	case cmdAccept:
		return e.acceptIncoming(ctx)
	case cmdDecline:
		return e.declineOrCancel(ctx)
	case cmdHangUp:
		return e.hangUp(ctx)
	case cmdDismiss:
		e.teardown()
		return nil
	default:
		return fmt.Errorf("unknown command %d", cmd.kind)
	}
}

// startOutgoing runs the caller protocol: busy self-guard, media, local
// offer, Initiate. Everything acquired is released again if any step
// fails.
func (e *Engine) startOutgoing(ctx context.Context, calleeID string) error {
	if e.call != nil && !e.call.snap.Status.IsTerminal() {
		return ErrEngineBusy
	}
	// The self-guard also refuses when the service knows of an active
	// call this engine has not observed yet.
	if active, err := e.signaling.GetMyActiveCall(ctx); err == nil && active != nil {
		return ErrEngineBusy
	}

	media, err := e.newMedia(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMediaAccess, err)
	}

	peer, err := e.newPeer(media, e.onLocalCandidate, e.onTransportState)
	if err != nil {
		_ = media.Close()
		return err
	}

	offer, err := peer.CreateOffer(ctx)
	if err != nil {
		_ = peer.Close()
		_ = media.Close()
		return err
	}

	callID, err := e.signaling.Initiate(ctx, calleeID, offer)
	if err != nil {
		_ = peer.Close()
		_ = media.Close()
		return err
	}

	e.call = &callState{
		id:         callID,
		role:       calls.RoleCaller,
		remoteRole: calls.RoleCallee,
		peer:       peer,
		media:      media,
		snap:       calls.Call{ID: callID, CallerID: e.userID, CalleeID: calleeID, Status: calls.StatusRinging},
	}
	e.setMirror(View{Phase: PhaseOutgoing, CallID: callID, OtherParty: calleeID})
	return nil
}

// acceptIncoming runs the callee protocol: media, apply the stored offer,
// answer, then flush any caller candidates buffered while ringing.
func (e *Engine) acceptIncoming(ctx context.Context) error {
	cs := e.call
	if cs == nil || cs.role != calls.RoleCallee || cs.snap.Status != calls.StatusRinging {
		return ErrNotIncoming
	}
	if cs.snap.Offer == nil {
		return fmt.Errorf("incoming call %s has no offer", cs.id)
	}

	media, err := e.newMedia(ctx)
	if err != nil {
		// Media denial means we cannot take the call at all; tell the
		// other side rather than leaving them ringing.
		if endErr := e.signaling.End(ctx, cs.id); endErr != nil {
			e.log.Warn("end after media denial failed", "call_id", cs.id, "err", endErr)
		}
		e.teardown()
		return fmt.Errorf("%w: %v", ErrMediaAccess, err)
	}
	cs.media = media

	peer, err := e.newPeer(media, e.onLocalCandidate, e.onTransportState)
	if err != nil {
		e.failLocal(ctx, err)
		return err
	}
	cs.peer = peer

	answer, err := peer.AcceptOffer(*cs.snap.Offer)
	if err != nil {
		e.failLocal(ctx, err)
		return err
	}
	if err := e.signaling.Answer(ctx, cs.id, answer); err != nil {
		e.failLocal(ctx, err)
		return err
	}

	e.flushBuffered(cs)
	e.setMirror(View{Phase: PhaseConnecting, CallID: cs.id, OtherParty: cs.snap.CallerID})
	return nil
}

func (e *Engine) declineOrCancel(ctx context.Context) error {
	cs := e.call
	if cs == nil {
		return ErrNoActiveCall
	}
	err := e.signaling.Decline(ctx, cs.id)
	// Local resources are released no matter whether the round trip
	// succeeded; the record observer will reconcile the rest.
	e.teardown()
	return err
}

func (e *Engine) hangUp(ctx context.Context) error {
	cs := e.call
	if cs == nil {
		return ErrNoActiveCall
	}
	err := e.signaling.End(ctx, cs.id)
	e.teardown()
	return err
}

// handleSnapshot reconciles the engine against one observed record state.
func (e *Engine) handleSnapshot(ctx context.Context, c calls.Call) {
	cs := e.call
	if cs == nil {
		e.adoptSnapshot(c)
		return
	}
	if c.ID != cs.id {
		// A different call can only appear once ours is gone; the busy
		// guard forbids overlap. Ignore stale cross-talk.
		return
	}

	cs.snap = c

	if c.Status.IsTerminal() {
		e.log.Info("call reached terminal status", "call_id", c.ID, "status", string(c.Status))
		e.teardown()
		return
	}

	// Caller side: the answer may land before or after candidates; apply
	// it once, then drain everything buffered while it was missing.
	if cs.role == calls.RoleCaller && c.Answer != nil && !cs.answerApplied && cs.peer != nil {
		if err := cs.peer.AcceptAnswer(*c.Answer); err != nil {
			e.log.Error("applying remote answer failed", "call_id", c.ID, "err", err)
			e.failLocal(ctx, err)
			return
		}
		cs.answerApplied = true
		e.flushBuffered(cs)
		e.setMirror(View{Phase: PhaseConnecting, CallID: cs.id, OtherParty: c.Other(e.userID)})
	}

	e.consumeRemoteCandidates(cs)

	switch c.Status {
	case calls.StatusAnswered:
		if v := e.Status(); v.Phase != PhaseConnecting {
			e.setMirror(View{Phase: PhaseConnecting, CallID: cs.id, OtherParty: c.Other(e.userID)})
		}
	case calls.StatusConnected:
		e.setMirror(View{Phase: PhaseActive, CallID: cs.id, OtherParty: c.Other(e.userID)})
	}
}

// adoptSnapshot takes over a call the engine has no local state for: an
// incoming ring, or an already-active record found at startup.
func (e *Engine) adoptSnapshot(c calls.Call) {
	if !c.Status.IsActive() || !c.IsParticipant(e.userID) {
		return
	}
	role, _ := c.RoleOf(e.userID)
	cs := &callState{
		id:         c.ID,
		role:       role,
		remoteRole: calls.RoleCallee,
		snap:       c,
	}
	if role == calls.RoleCallee {
		cs.remoteRole = calls.RoleCaller
	}
	e.call = cs
	e.consumeRemoteCandidates(cs)

	if role == calls.RoleCallee && c.Status == calls.StatusRinging {
		e.setMirror(View{Phase: PhaseIncoming, CallID: c.ID, OtherParty: c.CallerID})
	} else {
		e.setMirror(View{Phase: PhaseOutgoing, CallID: c.ID, OtherParty: c.Other(e.userID)})
	}
}

// consumeRemoteCandidates walks the remote role's append-only list from
// where the engine last stopped. New entries are applied immediately when
// the remote description is in place, otherwise buffered for the flush
// that follows it. Earlier entries are never revisited, so re-delivered
// snapshots cannot double-apply a candidate.
func (e *Engine) consumeRemoteCandidates(cs *callState) {
	list := cs.snap.CandidatesFor(cs.remoteRole)
	for ; cs.consumedRemote < len(list); cs.consumedRemote++ {
		cand := list[cs.consumedRemote]
		if cs.peer != nil && cs.peer.HasRemoteDescription() {
			if err := cs.peer.AddRemoteCandidate(cand); err != nil {
				e.log.Warn("remote candidate rejected", "call_id", cs.id, "err", err)
			}
			continue
		}
		cs.buffer.Put(cs.remoteRole, cand)
	}
}

func (e *Engine) flushBuffered(cs *callState) {
	if cs.buffer.Len() == 0 {
		return
	}
	n := cs.buffer.Len()
	errs := cs.buffer.Flush(cs.peer.AddRemoteCandidate)
	e.log.Debug("flushed buffered candidates", "call_id", cs.id, "count", n, "failed", len(errs))
	for _, err := range errs {
		e.log.Warn("buffered candidate rejected", "call_id", cs.id, "err", err)
	}
}

// handleTransport reacts to peer transport lifecycle events.
func (e *Engine) handleTransport(ctx context.Context, st TransportState) {
	cs := e.call
	if cs == nil {
		return
	}
	switch st {
	case TransportConnected:
		// Promote exactly once. The ringing case covers a caller whose
		// transport connects before the answered mutation is observed.
		if cs.connectedSent {
			return
		}
		if cs.snap.Status == calls.StatusAnswered ||
			(cs.snap.Status == calls.StatusRinging && cs.role == calls.RoleCaller) {
			cs.connectedSent = true
			ok, err := e.signaling.MarkConnected(ctx, cs.id)
			if err != nil {
				e.log.Warn("mark connected failed", "call_id", cs.id, "err", err)
				return
			}
			if ok {
				e.setMirror(View{Phase: PhaseActive, CallID: cs.id, OtherParty: cs.snap.Other(e.userID)})
			}
		}
	case TransportFailed, TransportDisconnected, TransportClosed:
		if cs.snap.Status.IsTerminal() {
			return
		}
		e.log.Warn("transport lost", "call_id", cs.id, "state", string(st))
		// Best-effort: teardown proceeds whether or not the service was
		// reachable.
		if err := e.signaling.End(ctx, cs.id); err != nil {
			e.log.Warn("end after transport loss failed", "call_id", cs.id, "err", err)
		}
		callID := cs.id
		e.teardown()
		e.setMirror(View{Phase: PhaseError, CallID: callID, Err: ErrConnectivity.Error()})
	}
}

func (e *Engine) sendLocalCandidate(ctx context.Context, cand calls.ICECandidate) {
	cs := e.call
	if cs == nil {
		return
	}
	if err := e.signaling.SendCandidate(ctx, cs.id, cs.role, cand); err != nil {
		e.log.Warn("send candidate failed", "call_id", cs.id, "err", err)
	}
}

// failLocal handles a local negotiation failure: best-effort End, full
// resource release, error mirror.
func (e *Engine) failLocal(ctx context.Context, cause error) {
	cs := e.call
	if cs == nil {
		return
	}
	if !cs.snap.Status.IsTerminal() {
		if err := e.signaling.End(ctx, cs.id); err != nil {
			e.log.Warn("end after local failure failed", "call_id", cs.id, "err", err)
		}
	}
	callID := cs.id
	e.teardown()
	e.setMirror(View{Phase: PhaseError, CallID: callID, Err: cause.Error()})
}

// teardown releases the transport session, the media source and the
// candidate buffer, and clears the mirror. Safe to call repeatedly and
// from any state; it never waits on a server round trip.
func (e *Engine) teardown() {
	cs := e.call
	if cs == nil {
		e.setMirror(View{Phase: PhaseIdle})
		return
	}
	if cs.peer != nil {
		if err := cs.peer.Close(); err != nil {
			e.log.Warn("peer close failed", "call_id", cs.id, "err", err)
		}
	}
	if cs.media != nil {
		if err := cs.media.Close(); err != nil {
			e.log.Warn("media close failed", "call_id", cs.id, "err", err)
		}
	}
	cs.buffer.Reset()
	e.call = nil
	e.setMirror(View{Phase: PhaseIdle})
}

// onLocalCandidate runs on a pion goroutine; hand the candidate to the
// loop without blocking transport internals.
func (e *Engine) onLocalCandidate(cand calls.ICECandidate) {
	select {
	case e.localCands <- cand:
	case <-e.done:
	}
}

func (e *Engine) onTransportState(st TransportState) {
	select {
	case e.transport <- st:
	case <-e.done:
	}
}

func (e *Engine) setMirror(v View) {
	e.mu.Lock()
	e.mirror = v
	e.mu.Unlock()
}
