package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestMemoryGetSetDelete(t *testing.T) {
	m := NewMemoryBackend(16)
	defer m.Close()
	ctx := context.Background()

	if _, ok, _ := m.Get(ctx, "missing"); ok {
		t.Fatalf("expected miss on empty cache")
	}

	if err := m.Set(ctx, "a", []byte(`{"v":1}`), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok, err := m.Get(ctx, "a")
	if err != nil || !ok || string(v) != `{"v":1}` {
		t.Fatalf("expected hit for a, got %q %v %v", v, ok, err)
	}

	if err := m.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := m.Exists(ctx, "a"); ok {
		t.Fatalf("expected a to be gone after delete")
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	m := NewMemoryBackend(16)
	defer m.Close()
	ctx := context.Background()

	if err := m.Set(ctx, "a", []byte("x"), time.Nanosecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, ok, _ := m.Get(ctx, "a"); ok {
		t.Fatalf("expected expired entry to read as a miss")
	}
	if m.Len() != 0 {
		t.Fatalf("expected lazy removal on read, len=%d", m.Len())
	}
}

func TestMemoryFIFOEviction(t *testing.T) {
	m := NewMemoryBackend(2)
	defer m.Close()
	ctx := context.Background()

	m.Set(ctx, "a", []byte("1"), 0)
	m.Set(ctx, "b", []byte("2"), 0)
	// Reading a must not protect it: eviction is FIFO, not LRU.
	m.Get(ctx, "a")
	m.Set(ctx, "c", []byte("3"), 0)

	if _, ok, _ := m.Get(ctx, "a"); ok {
		t.Fatalf("expected oldest entry a to be evicted")
	}
	if _, ok, _ := m.Get(ctx, "b"); !ok {
		t.Fatalf("expected b to survive")
	}
	if _, ok, _ := m.Get(ctx, "c"); !ok {
		t.Fatalf("expected c to be present")
	}
}

func TestMemoryConcurrentAccess(t *testing.T) {
	m := NewMemoryBackend(64)
	defer m.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%10)
			m.Set(ctx, key, []byte("v"), time.Minute)
			m.Get(ctx, key)
			m.Exists(ctx, key)
		}(i)
	}
	wg.Wait()

	if _, ok, _ := m.Get(ctx, "k0"); !ok {
		t.Fatalf("expected at least one entry after concurrent access")
	}
}

func TestPrefixedNotDoubled(t *testing.T) {
	if got := prefixed("guild:1:ranks"); got != "tux:guild:1:ranks" {
		t.Fatalf("expected prefix to be applied, got %q", got)
	}
	if got := prefixed("tux:guild:1:ranks"); got != "tux:guild:1:ranks" {
		t.Fatalf("expected prefix not to be doubled, got %q", got)
	}
}
