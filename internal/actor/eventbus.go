package actor

import (
	"context"
	"sync"
	"sync/atomic"
)

// EventListener receives domain events emitted by the owning actor.
type EventListener func(DomainEvent)

// wildcardEventKind matches every emitted event regardless of type.
const wildcardEventKind = "EMIT:*"

// EventKindAll is the subscription key that matches every emitted event.
func EventKindAll() string { return wildcardEventKind }

// EventKind builds the subscription key that matches only the given
// event type.
func EventKind(eventType string) string { return "EMIT:" + eventType }

type subscription struct {
	id       uint64
	kind     string
	listener EventListener
}

// EventBus is a per-actor fan-out of emitted DomainEvents to subscribers.
// Subscribe/Emit/Destroy are safe for concurrent use; Emit snapshots the
// current listener set before dispatch so subscribe/unsubscribe during
// emission never race a live iteration.
type EventBus struct {
	mu        sync.RWMutex
	subs      map[uint64]*subscription
	nextID    atomic.Uint64
	destroyed atomic.Bool
}

// NewEventBus constructs an empty EventBus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[uint64]*subscription)}
}

// Subscribe registers listener against kind (EventKindAll() or
// EventKind(type)) and returns an idempotent unsubscribe function. It
// returns ok=false if the bus has already been destroyed.
func (b *EventBus) Subscribe(kind string, listener EventListener) (unsubscribe func(), ok bool) {
	if b.destroyed.Load() {
		return func() {}, false
	}

	id := b.nextID.Add(1)
	sub := &subscription{id: id, kind: kind, listener: listener}

	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}, true
}

// SubscriberCount returns the number of currently registered listeners.
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Emit dispatches event to every listener whose subscription kind matches
// EventKindAll() or EventKind(event.Type). The listener set is snapshotted
// before dispatch begins. A panicking listener is recovered, logged, and
// does not prevent remaining listeners from running. Emit is a no-op after
// Destroy.
func (b *EventBus) Emit(ctx context.Context, event DomainEvent) {
	if b.destroyed.Load() {
		return
	}

	exact := EventKind(event.Type)

	b.mu.RLock()
	snapshot := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.kind == wildcardEventKind || sub.kind == exact {
			snapshot = append(snapshot, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range snapshot {
		dispatchToListener(ctx, sub, event)
	}
}

func dispatchToListener(ctx context.Context, sub *subscription, event DomainEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			log.WarnS(ctx, "event bus listener panicked", nil,
				"subscription_kind", sub.kind,
				"event_type", event.Type,
				"panic", rec)
		}
	}()
	sub.listener(event)
}

// Destroy clears all subscribers and rejects any further Subscribe/Emit
// calls.
func (b *EventBus) Destroy() {
	b.destroyed.Store(true)

	b.mu.Lock()
	b.subs = make(map[uint64]*subscription)
	b.mu.Unlock()
}

// IsDestroyed reports whether Destroy has been called.
func (b *EventBus) IsDestroyed() bool {
	return b.destroyed.Load()
}
