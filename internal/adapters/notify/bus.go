// Package notify delivers ResultUpdated events from the durable outbox to
// in-process listeners.
package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/okian/baseline/internal/domain/result"
	"github.com/okian/baseline/pkg/logger"
)

// Stable event identifiers.
const (
	// ResultUpdated is posted when the cached score data of a result changes.
	ResultUpdated = "BBLContextDidUpdatePsychTestResultNotification"
	// ResultIDKey is the payload key carrying the result identifier.
	ResultIDKey = "BBLContextDidUpdatePsychTestResultNotificationResultIDKey"
)

// Event is one delivered notification.
type Event struct {
	Name     string
	ResultID result.ID
	Seq      int64
	Cause    string
	At       time.Time
}

// Payload returns the event's user info.
func (e Event) Payload() map[string]string {
	return map[string]string{ResultIDKey: e.ResultID.String()}
}

// Listener receives events on the dispatcher's delivery context.
type Listener interface {
	OnEvent(e Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(e Event)

// OnEvent calls f(e).
func (f ListenerFunc) OnEvent(e Event) { f(e) }

// Registration ties a listener to a bus until canceled.
type Registration struct {
	once   sync.Once
	cancel func()
}

// Cancel removes the listener. It is safe to call more than once.
func (r *Registration) Cancel() {
	if r == nil {
		return
	}
	r.once.Do(r.cancel)
}

// Bus fans events out to listeners in subscription order. It holds
// listeners without owning them.
type Bus struct {
	mu        sync.RWMutex
	next      uint64
	listeners map[uint64]Listener
	logger    logger.Logger
}

// NewBus returns an empty bus.
func NewBus(l logger.Logger) *Bus {
	if l == nil {
		l = logger.Discard()
	}
	return &Bus{listeners: make(map[uint64]Listener), logger: l}
}

// Subscribe registers l.
func (b *Bus) Subscribe(l Listener) *Registration {
	b.mu.Lock()
	id := b.next
	b.next++
	b.listeners[id] = l
	b.mu.Unlock()

	return &Registration{cancel: func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}}
}

// Len returns the number of live registrations.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Publish delivers e to every listener on the calling goroutine. A
// panicking listener does not stop delivery to the others.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	ids := make([]uint64, 0, len(b.listeners))
	for id := range b.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	ls := make([]Listener, 0, len(ids))
	for _, id := range ids {
		ls = append(ls, b.listeners[id])
	}
	b.mu.RUnlock()

	for _, l := range ls {
		b.deliver(l, e)
	}
}

func (b *Bus) deliver(l Listener, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error(context.Background(), "listener panicked",
				logger.Int64("seq", e.Seq),
				logger.Any("panic", r),
			)
		}
	}()
	l.OnEvent(e)
}
