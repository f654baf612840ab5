// Package dedupe tracks keys that were already handled so each is processed
// at most once inside a process.
package dedupe

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
)

// Deduper records seen keys.
type Deduper[K comparable] interface {
	// SeenAndRecord atomically checks if key was seen and records it if not.
	// Returns true if key was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, key K) bool

	// Unrecord forgets key so it can be handled again, e.g. after a failed
	// delivery.
	Unrecord(ctx context.Context, key K)

	Size() int64
}

// inMemoryDeduper keeps keys in insertion order.
// Bounded mode (maxSize > 0) evicts the oldest key when full.
// Unbounded mode (maxSize <= 0) never evicts.
type inMemoryDeduper[K comparable] struct {
	mu      sync.Mutex
	seen    map[K]*list.Element
	order   *list.List // front = newest
	maxSize int
	size    atomic.Int64
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper[K comparable](opts ...Option) Deduper[K] {
	cfg := config{maxSize: 50000}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &inMemoryDeduper[K]{
		seen:    make(map[K]*list.Element),
		order:   list.New(),
		maxSize: cfg.maxSize,
	}
}

// SeenAndRecord implements Deduper.
func (d *inMemoryDeduper[K]) SeenAndRecord(_ context.Context, key K) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.seen[key]; exists {
		return true
	}
	if d.maxSize > 0 && len(d.seen) >= d.maxSize {
		d.evictOldest()
	}
	d.seen[key] = d.order.PushFront(key)
	d.size.Add(1)
	return false
}

// Unrecord implements Deduper.
func (d *inMemoryDeduper[K]) Unrecord(_ context.Context, key K) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, exists := d.seen[key]; exists {
		d.order.Remove(el)
		delete(d.seen, key)
		d.size.Add(-1)
	}
}

// evictOldest drops the least recently added key. Must be called with d.mu held.
func (d *inMemoryDeduper[K]) evictOldest() {
	el := d.order.Back()
	if el == nil {
		return
	}
	d.order.Remove(el)
	delete(d.seen, el.Value.(K))
	d.size.Add(-1)
}

// Size returns the current number of entries in the deduper.
func (d *inMemoryDeduper[K]) Size() int64 {
	return d.size.Load()
}
