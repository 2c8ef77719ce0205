package calls

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store useful for tests and local development.
// A single mutex held across RunInTx gives every transaction a fully
// serialized view, which is stronger than the SQL store needs but exactly
// what tests want.
//
// NOTE: not intended for production; the SQL store is the real thing.
type MemoryStore struct {
	mu    sync.Mutex
	calls map[string]Call
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{calls: make(map[string]Call)}
}

func (s *MemoryStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{store: s, staged: make(map[string]Call)}
	if err := fn(tx); err != nil {
		return err
	}
	for id, c := range tx.staged {
		s.calls[id] = c
	}
	return nil
}

// memoryTx stages writes so a failed transaction leaves the store
// untouched, mirroring rollback semantics.
type memoryTx struct {
	store  *MemoryStore
	staged map[string]Call
}

func (t *memoryTx) lookup(id string) (Call, bool) {
	if c, ok := t.staged[id]; ok {
		return c, true
	}
	c, ok := t.store.calls[id]
	return c, ok
}

func (t *memoryTx) Insert(ctx context.Context, c Call) error {
	t.staged[c.ID] = cloneCall(c)
	return nil
}

func (t *memoryTx) Get(ctx context.Context, id string) (Call, error) {
	c, ok := t.lookup(id)
	if !ok {
		return Call{}, ErrNotFound
	}
	return cloneCall(c), nil
}

func (t *memoryTx) Update(ctx context.Context, c Call) error {
	if _, ok := t.lookup(c.ID); !ok {
		return ErrNotFound
	}
	t.staged[c.ID] = cloneCall(c)
	return nil
}

func (t *memoryTx) AppendCandidate(ctx context.Context, callID string, role Role, cand ICECandidate) error {
	c, ok := t.lookup(callID)
	if !ok {
		return ErrNotFound
	}
	c = cloneCall(c)
	if role == RoleCaller {
		c.CallerICECandidates = append(c.CallerICECandidates, cand)
	} else {
		c.CalleeICECandidates = append(c.CalleeICECandidates, cand)
	}
	t.staged[callID] = c
	return nil
}

func (t *memoryTx) FindActiveByUser(ctx context.Context, userID string) ([]Call, error) {
	var out []Call
	for id := range t.store.calls {
		c, _ := t.lookup(id)
		if c.Status.IsActive() && c.IsParticipant(userID) {
			out = append(out, cloneCall(c))
		}
	}
	for id, c := range t.staged {
		if _, exists := t.store.calls[id]; exists {
			continue
		}
		if c.Status.IsActive() && c.IsParticipant(userID) {
			out = append(out, cloneCall(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *memoryTx) FindRingingBefore(ctx context.Context, cutoff time.Time) ([]Call, error) {
	var out []Call
	for id := range t.store.calls {
		c, _ := t.lookup(id)
		if c.Status == StatusRinging && c.CreatedAt.Before(cutoff) {
			out = append(out, cloneCall(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func cloneCall(c Call) Call {
	out := c
	out.CallerICECandidates = append([]ICECandidate(nil), c.CallerICECandidates...)
	out.CalleeICECandidates = append([]ICECandidate(nil), c.CalleeICECandidates...)
	if c.Offer != nil {
		offer := *c.Offer
		out.Offer = &offer
	}
	if c.Answer != nil {
		answer := *c.Answer
		out.Answer = &answer
	}
	return out
}

// MemoryUserLocker is the in-process UserLocker counterpart to
// MemoryStore. Locks are acquired in sorted order to avoid deadlock
// between overlapping user sets.
type MemoryUserLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewMemoryUserLocker() *MemoryUserLocker {
	return &MemoryUserLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *MemoryUserLocker) userLock(id string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	return m
}

func (l *MemoryUserLocker) LockUsers(ctx context.Context, userIDs ...string) (func(), error) {
	ids := append([]string(nil), userIDs...)
	sort.Strings(ids)

	var held []*sync.Mutex
	for _, id := range ids {
		m := l.userLock(id)
		m.Lock()
		held = append(held, m)
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			for i := len(held) - 1; i >= 0; i-- {
				held[i].Unlock()
			}
		})
	}
	return release, nil
}
