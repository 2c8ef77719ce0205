package engine

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// MediaSource is a held local media capture. Acquiring one may be denied
// by the user or OS; releasing must always succeed and be idempotent.
type MediaSource interface {
	Track() webrtc.TrackLocal
	Close() error
}

// MediaFactory acquires the local audio source for a call. It is
// injectable so tests and headless deployments can supply fakes.
type MediaFactory func(ctx context.Context) (MediaSource, error)

// StaticAudioSource is the default MediaSource: a static RTP audio track
// fed by the application (microphone capture, file playout). The engine
// only cares that a track exists to negotiate; packet delivery is the
// transport's business.
type StaticAudioSource struct {
	track *webrtc.TrackLocalStaticRTP
}

// NewStaticAudioSource builds an Opus audio track.
func NewStaticAudioSource(ctx context.Context) (MediaSource, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "call-platform",
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMediaAccess, err)
	}
	return &StaticAudioSource{track: track}, nil
}

func (s *StaticAudioSource) Track() webrtc.TrackLocal { return s.track }

// WriteRTP forwards one captured packet into the track.
func (s *StaticAudioSource) WriteRTP(b []byte) (int, error) {
	return s.track.Write(b)
}

func (s *StaticAudioSource) Close() error { return nil }
