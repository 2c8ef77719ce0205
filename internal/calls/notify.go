package calls

import (
	"context"
	"sync"
)

// Notifier receives every successful mutation to a call record. Delivery
// is best-effort: the signaling service never fails an operation because a
// notification could not be published.
type Notifier interface {
	CallChanged(ctx context.Context, c Call)
}

// Watcher is how negotiation engines and the watch endpoint observe a
// record without the signaling service pushing to them directly.
type Watcher interface {
	// WatchCall streams snapshots of one call. The returned stop func
	// must be called when done; it is safe to call more than once.
	WatchCall(ctx context.Context, callID string) (<-chan Call, func())
	// WatchUser streams snapshots of every call involving the user.
	WatchUser(ctx context.Context, userID string) (<-chan Call, func())
}

// NopNotifier discards updates. Useful in tests that don't observe them.
type NopNotifier struct{}

func (NopNotifier) CallChanged(context.Context, Call) {}

// Bus is an in-process Notifier and Watcher for tests and single-node
// deployments. Slow subscribers drop intermediate snapshots rather than
// block the publisher; every subscriber always sees the latest state
// eventually because publishes outnumber transitions.
type Bus struct {
	mu   sync.Mutex
	next int
	subs map[int]*busSub
}

type busSub struct {
	callID string
	userID string
	ch     chan Call
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]*busSub)}
}

func (b *Bus) CallChanged(ctx context.Context, c Call) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if s.callID != "" && s.callID != c.ID {
			continue
		}
		if s.userID != "" && !c.IsParticipant(s.userID) {
			continue
		}
		select {
		case s.ch <- c:
		default:
			// drop; the next publish carries newer state
		}
	}
}

func (b *Bus) WatchCall(ctx context.Context, callID string) (<-chan Call, func()) {
	return b.subscribe(busSub{callID: callID})
}

func (b *Bus) WatchUser(ctx context.Context, userID string) (<-chan Call, func()) {
	return b.subscribe(busSub{userID: userID})
}

func (b *Bus) subscribe(sub busSub) (<-chan Call, func()) {
	sub.ch = make(chan Call, 16)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &sub
	b.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, stop
}
