package moderation

import (
	"context"
	"sync"
)

// ContentionRecorder receives a signal whenever a lock acquisition has to
// wait behind a holder. *audit.Monitor satisfies it.
type ContentionRecorder interface {
	RecordLockContention()
}

// LockManager serializes moderation work per (guild, user). Waiters are
// admitted in strict arrival order, and the locks are not reentrant: a
// holder that acquires the same key again queues behind itself.
type LockManager struct {
	mu       sync.Mutex
	entries  map[string]*lockEntry
	recorder ContentionRecorder
}

type lockEntry struct {
	held    bool
	waiters []chan struct{} // arrival order, front is next
	refs    int
}

// NewLockManager creates a lock manager. recorder may be nil.
func NewLockManager(recorder ContentionRecorder) *LockManager {
	return &LockManager{
		entries:  make(map[string]*lockEntry),
		recorder: recorder,
	}
}

// Handle is a held lock. Release is idempotent.
type Handle struct {
	m    *LockManager
	key  string
	once sync.Once
}

// Release hands the lock to the next waiter, or frees the entry when the
// queue is empty.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.m.mu.Lock()
		defer h.m.mu.Unlock()
		e := h.m.entries[h.key]
		e.refs--
		h.m.handOffLocked(h.key, e)
	})
}

// handOffLocked passes ownership to the oldest waiter or marks the entry
// free. Caller holds m.mu and has already adjusted refs.
func (m *LockManager) handOffLocked(key string, e *lockEntry) {
	if len(e.waiters) > 0 {
		next := e.waiters[0]
		e.waiters = e.waiters[1:]
		close(next)
		return
	}
	e.held = false
	if e.refs == 0 {
		delete(m.entries, key)
	}
}

// Acquire blocks until the (guild, user) lock is exclusively held or ctx is
// done. Admission is FIFO over arrival order.
func (m *LockManager) Acquire(ctx context.Context, guildID, userID string) (*Handle, error) {
	key := guildID + "/" + userID

	m.mu.Lock()
	e := m.entries[key]
	if e == nil {
		e = &lockEntry{}
		m.entries[key] = e
	}
	e.refs++
	if !e.held {
		e.held = true
		m.mu.Unlock()
		return &Handle{m: m, key: key}, nil
	}

	grant := make(chan struct{})
	e.waiters = append(e.waiters, grant)
	m.mu.Unlock()

	if m.recorder != nil {
		m.recorder.RecordLockContention()
	}

	select {
	case <-grant:
		return &Handle{m: m, key: key}, nil
	case <-ctx.Done():
		m.mu.Lock()
		removed := false
		for i, w := range e.waiters {
			if w == grant {
				e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
				removed = true
				break
			}
		}
		e.refs--
		if !removed {
			// The grant raced the cancellation: we own the lock and must
			// pass it on rather than strand the queue.
			m.handOffLocked(key, e)
		} else if !e.held && e.refs == 0 {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Len reports the number of live lock entries, for tests and health checks.
func (m *LockManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
