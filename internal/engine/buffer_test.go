package engine

import (
	"errors"
	"testing"

	"call-platform/internal/calls"
)

func TestBufferFlushKeepsArrivalOrder(t *testing.T) {
	var b candidateBuffer
	b.Put(calls.RoleCaller, calls.ICECandidate{Candidate: "candidate:1"})
	b.Put(calls.RoleCaller, calls.ICECandidate{Candidate: "candidate:2"})
	b.Put(calls.RoleCaller, calls.ICECandidate{Candidate: "candidate:3"})

	var got []string
	errs := b.Flush(func(c calls.ICECandidate) error {
		got = append(got, c.Candidate)
		return nil
	})
	if len(errs) != 0 {
		t.Fatalf("unexpected flush errors: %v", errs)
	}
	want := []string{"candidate:1", "candidate:2", "candidate:3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("flush order %v, want %v", got, want)
		}
	}
}

func TestBufferFlushIsOneShot(t *testing.T) {
	var b candidateBuffer
	b.Put(calls.RoleCallee, calls.ICECandidate{Candidate: "candidate:1"})
	b.Flush(func(calls.ICECandidate) error { return nil })

	if b.Len() != 0 {
		t.Fatalf("len after flush = %d, want 0", b.Len())
	}
	n := 0
	b.Flush(func(calls.ICECandidate) error { n++; return nil })
	if n != 0 {
		t.Fatalf("second flush applied %d candidates, want 0", n)
	}
}

func TestBufferFlushSkipsFailures(t *testing.T) {
	var b candidateBuffer
	b.Put(calls.RoleCaller, calls.ICECandidate{Candidate: "candidate:bad"})
	b.Put(calls.RoleCaller, calls.ICECandidate{Candidate: "candidate:good"})

	var applied []string
	errs := b.Flush(func(c calls.ICECandidate) error {
		if c.Candidate == "candidate:bad" {
			return errors.New("malformed")
		}
		applied = append(applied, c.Candidate)
		return nil
	})
	if len(errs) != 1 {
		t.Fatalf("flush errors = %d, want 1", len(errs))
	}
	if len(applied) != 1 || applied[0] != "candidate:good" {
		t.Fatalf("applied = %v, want the good candidate only", applied)
	}
	if b.Len() != 0 {
		t.Fatalf("buffer not emptied after flush")
	}
}

func TestBufferReset(t *testing.T) {
	var b candidateBuffer
	b.Put(calls.RoleCallee, calls.ICECandidate{Candidate: "candidate:1"})
	b.Reset()
	if b.Len() != 0 {
		t.Fatalf("len after reset = %d, want 0", b.Len())
	}
}
