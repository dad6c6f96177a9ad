package idempotency

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	key     string
	expires time.Time
}

// MemoryGuard is a process-local bounded expiring set. When full, the
// oldest inserted key is evicted first regardless of access.
type MemoryGuard struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	entries  map[string]*list.Element
	now      func() time.Time
}

// NewMemoryGuard creates a guard holding at most capacity keys.
func NewMemoryGuard(capacity int) *MemoryGuard {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryGuard{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element, capacity),
		now:      time.Now,
	}
}

// SetClock overrides the time source. Used by tests.
func (g *MemoryGuard) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

// IsDupe reports whether key was remembered and has not expired.
func (g *MemoryGuard) IsDupe(_ context.Context, key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	el, ok := g.entries[key]
	if !ok {
		return false
	}
	if !g.now().Before(el.Value.(*memoryEntry).expires) {
		g.order.Remove(el)
		delete(g.entries, key)
		return false
	}
	return true
}

// Remember stores key until ttl elapses. Re-remembering refreshes the
// expiry but keeps the original insertion position.
func (g *MemoryGuard) Remember(_ context.Context, key string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	expires := g.now().Add(ttl)
	if el, ok := g.entries[key]; ok {
		el.Value.(*memoryEntry).expires = expires
		return
	}

	for g.order.Len() >= g.capacity {
		oldest := g.order.Front()
		g.order.Remove(oldest)
		delete(g.entries, oldest.Value.(*memoryEntry).key)
	}

	g.entries[key] = g.order.PushBack(&memoryEntry{key: key, expires: expires})
}

// Len returns the number of stored keys, including expired ones not yet
// swept.
func (g *MemoryGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.order.Len()
}
