package engine

import (
	"context"
	"fmt"
	"sync"

	"call-platform/internal/calls"

	"github.com/pion/webrtc/v4"
)

// TransportState is the engine's view of the peer transport lifecycle.
type TransportState string

const (
	TransportConnected    TransportState = "connected"
	TransportDisconnected TransportState = "disconnected"
	TransportFailed       TransportState = "failed"
	TransportClosed       TransportState = "closed"
)

// Peer is one local transport session. PeerSession is the pion-backed
// implementation; tests substitute fakes.
type Peer interface {
	// CreateOffer produces and installs the local offer.
	CreateOffer(ctx context.Context) (calls.SessionDescription, error)
	// AcceptOffer applies the remote offer and produces the local answer.
	AcceptOffer(offer calls.SessionDescription) (calls.SessionDescription, error)
	// AcceptAnswer applies the remote answer.
	AcceptAnswer(answer calls.SessionDescription) error
	AddRemoteCandidate(cand calls.ICECandidate) error
	HasRemoteDescription() bool
	// Close is safe to call multiple times and from any state.
	Close() error
}

// PeerFactory builds a Peer wired to the given callbacks. onCandidate
// fires for every locally gathered candidate (trickle); onState fires on
// transport lifecycle changes. Both may be called from pion goroutines.
type PeerFactory func(media MediaSource, onCandidate func(calls.ICECandidate), onState func(TransportState)) (Peer, error)

// PeerConfig selects the STUN/TURN servers for the transport.
type PeerConfig struct {
	ICEServers []string
}

// NewPeerFactory returns the pion-backed factory used in production.
func NewPeerFactory(cfg PeerConfig) PeerFactory {
	return func(media MediaSource, onCandidate func(calls.ICECandidate), onState func(TransportState)) (Peer, error) {
		return newPeerSession(cfg, media, onCandidate, onState)
	}
}

// PeerSession wraps a pion PeerConnection for one call.
type PeerSession struct {
	pc        *webrtc.PeerConnection
	closeOnce sync.Once
	closeErr  error
}

func newPeerSession(cfg PeerConfig, media MediaSource, onCandidate func(calls.ICECandidate), onState func(TransportState)) (*PeerSession, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: cfg.ICEServers}},
	})
	if err != nil {
		return nil, err
	}

	if media != nil {
		if _, err := pc.AddTrack(media.Track()); err != nil {
			_ = pc.Close()
			return nil, err
		}
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil || onCandidate == nil {
			return
		}
		onCandidate(fromCandidateInit(cand.ToJSON()))
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if onState == nil {
			return
		}
		switch s {
		case webrtc.PeerConnectionStateConnected:
			onState(TransportConnected)
		case webrtc.PeerConnectionStateDisconnected:
			onState(TransportDisconnected)
		case webrtc.PeerConnectionStateFailed:
			onState(TransportFailed)
		case webrtc.PeerConnectionStateClosed:
			onState(TransportClosed)
		}
	})

	return &PeerSession{pc: pc}, nil
}

func (p *PeerSession) CreateOffer(ctx context.Context) (calls.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return calls.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return calls.SessionDescription{}, err
	}
	return toSessionDescription(offer), nil
}

func (p *PeerSession) AcceptOffer(offer calls.SessionDescription) (calls.SessionDescription, error) {
	remote, err := fromSessionDescription(offer)
	if err != nil {
		return calls.SessionDescription{}, err
	}
	if err := p.pc.SetRemoteDescription(remote); err != nil {
		return calls.SessionDescription{}, err
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return calls.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return calls.SessionDescription{}, err
	}
	return toSessionDescription(answer), nil
}

func (p *PeerSession) AcceptAnswer(answer calls.SessionDescription) error {
	remote, err := fromSessionDescription(answer)
	if err != nil {
		return err
	}
	return p.pc.SetRemoteDescription(remote)
}

func (p *PeerSession) AddRemoteCandidate(cand calls.ICECandidate) error {
	return p.pc.AddICECandidate(toCandidateInit(cand))
}

func (p *PeerSession) HasRemoteDescription() bool {
	return p.pc.RemoteDescription() != nil
}

func (p *PeerSession) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.pc.Close()
	})
	return p.closeErr
}

func toSessionDescription(d webrtc.SessionDescription) calls.SessionDescription {
	return calls.SessionDescription{Type: d.Type.String(), SDP: d.SDP}
}

func fromSessionDescription(d calls.SessionDescription) (webrtc.SessionDescription, error) {
	t := webrtc.NewSDPType(d.Type)
	if t == webrtc.SDPTypeUnknown {
		return webrtc.SessionDescription{}, fmt.Errorf("unknown sdp type %q", d.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: d.SDP}, nil
}

func fromCandidateInit(c webrtc.ICECandidateInit) calls.ICECandidate {
	return calls.ICECandidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func toCandidateInit(c calls.ICECandidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}
