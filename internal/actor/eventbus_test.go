package actor

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEventBusWildcardAndTypedSubscriptions(t *testing.T) {
	b := NewEventBus()

	var wildcard []string
	var typed []string
	var mu sync.Mutex

	_, ok := b.Subscribe(EventKindAll(), func(ev DomainEvent) {
		mu.Lock()
		wildcard = append(wildcard, ev.Type)
		mu.Unlock()
	})
	require.True(t, ok)

	_, ok = b.Subscribe(EventKind("ONLY_ME"), func(ev DomainEvent) {
		mu.Lock()
		typed = append(typed, ev.Type)
		mu.Unlock()
	})
	require.True(t, ok)

	b.Emit(context.Background(), NewDomainEvent("ONLY_ME", nil))
	b.Emit(context.Background(), NewDomainEvent("SOMETHING_ELSE", nil))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"ONLY_ME", "SOMETHING_ELSE"}, wildcard)
	require.Equal(t, []string{"ONLY_ME"}, typed)
}

func TestEventBusUnsubscribeStopsDelivery(t *testing.T) {
	b := NewEventBus()
	var count int
	unsubscribe, _ := b.Subscribe(EventKindAll(), func(DomainEvent) { count++ })

	b.Emit(context.Background(), NewDomainEvent("A", nil))
	unsubscribe()
	b.Emit(context.Background(), NewDomainEvent("B", nil))

	require.Equal(t, 1, count)
}

func TestEventBusUnsubscribeIsIdempotent(t *testing.T) {
	b := NewEventBus()
	unsubscribe, _ := b.Subscribe(EventKindAll(), func(DomainEvent) {})
	unsubscribe()
	require.NotPanics(t, unsubscribe)
}

func TestEventBusPanickingListenerDoesNotBlockOthers(t *testing.T) {
	b := NewEventBus()
	var secondCalled bool

	b.Subscribe(EventKindAll(), func(DomainEvent) { panic("boom") })
	b.Subscribe(EventKindAll(), func(DomainEvent) { secondCalled = true })

	require.NotPanics(t, func() {
		b.Emit(context.Background(), NewDomainEvent("X", nil))
	})
	require.True(t, secondCalled)
}

func TestEventBusDestroyRejectsFurtherUse(t *testing.T) {
	b := NewEventBus()
	b.Destroy()

	_, ok := b.Subscribe(EventKindAll(), func(DomainEvent) {})
	require.False(t, ok)
	require.True(t, b.IsDestroyed())

	require.NotPanics(t, func() {
		b.Emit(context.Background(), NewDomainEvent("X", nil))
	})
}

func TestEventBusSubscriberCount(t *testing.T) {
	b := NewEventBus()
	require.Equal(t, 0, b.SubscriberCount())

	unsub1, _ := b.Subscribe(EventKindAll(), func(DomainEvent) {})
	_, _ = b.Subscribe(EventKindAll(), func(DomainEvent) {})
	require.Equal(t, 2, b.SubscriberCount())

	unsub1()
	require.Equal(t, 1, b.SubscriberCount())
}
