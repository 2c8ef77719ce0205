package audit

import (
	"context"
	"testing"
)

func TestService_AppendRequiresTypeAndCallID(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.Append(context.Background(), Event{Type: EventTypeEnded}); err == nil {
		t.Fatalf("expected error for missing call id")
	}
	if err := svc.Append(context.Background(), Event{CallID: "c1"}); err == nil {
		t.Fatalf("expected error for missing type")
	}
}

func TestService_AppendsImmutableEvents(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.LogTransition(context.Background(), EventTypeEnded, "c1", "u1", "connected", "ended", "ended_by_caller"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	if evs[0].ID == "" {
		t.Fatalf("expected generated id")
	}
	if evs[0].CreatedAt.IsZero() {
		t.Fatalf("expected created_at set")
	}
	if evs[0].FromStatus != "connected" || evs[0].ToStatus != "ended" {
		t.Fatalf("expected transition edge captured, got %q -> %q", evs[0].FromStatus, evs[0].ToStatus)
	}
}

func TestMemoryRepo_EventsForCall(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	_ = svc.LogTransition(context.Background(), EventTypeInitiated, "c1", "u1", "", "ringing", "")
	_ = svc.LogTransition(context.Background(), EventTypeAnswered, "c1", "u2", "ringing", "answered", "")
	_ = svc.LogTransition(context.Background(), EventTypeInitiated, "c2", "u3", "", "ringing", "")

	got := repo.EventsForCall("c1")
	if len(got) != 2 {
		t.Fatalf("expected 2 events for c1, got %d", len(got))
	}
	if got[0].Type != EventTypeInitiated || got[1].Type != EventTypeAnswered {
		t.Fatalf("expected append order preserved")
	}
}
