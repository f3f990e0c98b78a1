package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// MemoryBackend is a bounded in-process cache with per-entry TTL and FIFO
// eviction once the size cap is reached. Expired entries are removed lazily
// on read and in bulk by a background sweep.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	order   *list.List // insertion order, front = oldest
	maxSize int

	stopOnce sync.Once
	stopCh   chan struct{}
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
	hasExpiry bool
	elem      *list.Element
}

// DefaultMemoryCacheSize bounds a memory backend when the caller passes
// maxSize <= 0.
const DefaultMemoryCacheSize = 4096

const memorySweepInterval = 5 * time.Minute

// NewMemoryBackend creates a memory cache holding at most maxSize entries.
func NewMemoryBackend(maxSize int) *MemoryBackend {
	if maxSize <= 0 {
		maxSize = DefaultMemoryCacheSize
	}
	m := &MemoryBackend{
		entries: make(map[string]*memoryEntry),
		order:   list.New(),
		maxSize: maxSize,
		stopCh:  make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if e.hasExpiry && !time.Now().Before(e.expiresAt) {
		m.removeLocked(key, e)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.entries[key]; ok {
		m.removeLocked(key, prev)
	}

	// FIFO eviction keeps the map bounded.
	for len(m.entries) >= m.maxSize {
		oldest := m.order.Front()
		if oldest == nil {
			break
		}
		oldKey := oldest.Value.(string)
		m.removeLocked(oldKey, m.entries[oldKey])
	}

	e := &memoryEntry{value: value}
	if ttl > 0 {
		e.hasExpiry = true
		e.expiresAt = time.Now().Add(ttl)
	}
	e.elem = m.order.PushBack(key)
	m.entries[key] = e
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok {
		m.removeLocked(key, e)
	}
	return nil
}

func (m *MemoryBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := m.Get(ctx, key)
	return ok, err
}

// Close stops the background sweep.
func (m *MemoryBackend) Close() error {
	m.stopOnce.Do(func() { close(m.stopCh) })
	return nil
}

// Len returns the number of entries, counting expired but unswept ones.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *MemoryBackend) removeLocked(key string, e *memoryEntry) {
	if e == nil {
		return
	}
	if e.elem != nil {
		m.order.Remove(e.elem)
	}
	delete(m.entries, key)
}

func (m *MemoryBackend) sweepLoop() {
	t := time.NewTicker(memorySweepInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			m.sweep()
		case <-m.stopCh:
			return
		}
	}
}

func (m *MemoryBackend) sweep() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, e := range m.entries {
		if e.hasExpiry && !now.Before(e.expiresAt) {
			m.removeLocked(key, e)
		}
	}
}
