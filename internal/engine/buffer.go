package engine

import "call-platform/internal/calls"

// candidateBuffer queues remote candidates that arrived before the
// matching remote description was applied locally. Candidates keep their
// original arrival order and are handed out exactly once.
type candidateBuffer struct {
	role    calls.Role
	pending []calls.ICECandidate
}

func (b *candidateBuffer) Put(role calls.Role, cand calls.ICECandidate) {
	b.role = role
	b.pending = append(b.pending, cand)
}

func (b *candidateBuffer) Len() int { return len(b.pending) }

// Flush applies every buffered candidate in arrival order and empties the
// buffer. A failing candidate is skipped, not retried; the transport
// treats unusable candidates as harmless.
func (b *candidateBuffer) Flush(apply func(calls.ICECandidate) error) []error {
	var errs []error
	for _, cand := range b.pending {
		if err := apply(cand); err != nil {
			errs = append(errs, err)
		}
	}
	b.pending = nil
	return errs
}

// Reset discards everything without applying.
func (b *candidateBuffer) Reset() {
	b.pending = nil
}
