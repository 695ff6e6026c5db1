package dedup

import (
	"container/list"
	"sync"
)

// LRU is a bounded recency cache of execution identifiers. Safe for
// concurrent use; ingestion batches for unrelated identifiers may run in
// parallel.
type LRU struct {
	mu       sync.Mutex
	capacity int
	cache    map[string]*list.Element
	order    *list.List

	evictions int64
}

type lruEntry struct {
	id string
}

func NewLRU(capacity int) *LRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &LRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// Contains checks membership and promotes the entry to most recently used.
func (l *LRU) Contains(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	elem, ok := l.cache[id]
	if ok {
		l.order.MoveToFront(elem)
	}
	return ok
}

// Add inserts an identifier, promoting it if already present and evicting
// the oldest entry when over capacity.
func (l *LRU) Add(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if elem, ok := l.cache[id]; ok {
		l.order.MoveToFront(elem)
		return
	}

	elem := l.order.PushFront(&lruEntry{id: id})
	l.cache[id] = elem

	if l.order.Len() > l.capacity {
		oldest := l.order.Back()
		if oldest != nil {
			l.order.Remove(oldest)
			delete(l.cache, oldest.Value.(*lruEntry).id)
			l.evictions++
		}
	}
}

// Size returns the current number of entries.
func (l *LRU) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.order.Len()
}

// Evictions returns the total eviction count.
func (l *LRU) Evictions() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.evictions
}
