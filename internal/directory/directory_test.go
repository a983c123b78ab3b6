package directory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nimbus-actors/nimbus/internal/actor"
)

func addr(id string) actor.Address {
	return actor.NewAddress("local", "worker", id)
}

func TestRegisterLookupUnregister(t *testing.T) {
	d := New(Config{DefaultTTL: time.Minute})
	defer d.Close()

	a := addr("one")
	loc := Location{Node: "local"}

	require.NoError(t, d.Register(context.Background(), a, loc))

	got, err := d.Lookup(context.Background(), a)
	require.NoError(t, err)
	require.Equal(t, loc, got)

	// Idempotent between registrations: two lookups with no intervening
	// register/unregister return the same location.
	got2, err := d.Lookup(context.Background(), a)
	require.NoError(t, err)
	require.Equal(t, got, got2)

	require.NoError(t, d.Unregister(context.Background(), a))

	_, err = d.Lookup(context.Background(), a)
	require.ErrorIs(t, err, actor.ErrNoSuchActor)
}

func TestRegisterOverwritesLastWriteWins(t *testing.T) {
	d := New(Config{DefaultTTL: time.Minute})
	defer d.Close()

	a := addr("two")
	require.NoError(t, d.Register(context.Background(), a, Location{Node: "a"}))
	require.NoError(t, d.Register(context.Background(), a, Location{Node: "b"}))

	got, err := d.Lookup(context.Background(), a)
	require.NoError(t, err)
	require.Equal(t, "b", got.Node)
}

func TestTTLExpiry(t *testing.T) {
	d := New(Config{DefaultTTL: 10 * time.Millisecond})
	defer d.Close()

	a := addr("three")
	require.NoError(t, d.Register(context.Background(), a, Location{Node: "x"}))

	time.Sleep(30 * time.Millisecond)

	_, err := d.Lookup(context.Background(), a)
	require.ErrorIs(t, err, actor.ErrNoSuchActor)
}

func TestLRUEviction(t *testing.T) {
	d := New(Config{DefaultTTL: time.Minute, MaxCacheSize: 2})
	defer d.Close()

	ctx := context.Background()
	a1, a2, a3 := addr("a"), addr("b"), addr("c")

	require.NoError(t, d.Register(ctx, a1, Location{Node: "1"}))
	require.NoError(t, d.Register(ctx, a2, Location{Node: "2"}))
	// a1 is now least-recently-used; registering a3 should evict it.
	require.NoError(t, d.Register(ctx, a3, Location{Node: "3"}))

	_, err := d.Lookup(ctx, a1)
	require.ErrorIs(t, err, actor.ErrNoSuchActor)

	_, err = d.Lookup(ctx, a2)
	require.NoError(t, err)
}

func TestSubscribeToChanges(t *testing.T) {
	d := New(Config{DefaultTTL: time.Minute})
	defer d.Close()

	var changes []Change
	unsub := d.SubscribeToChanges(func(c Change) { changes = append(changes, c) })

	a := addr("four")
	require.NoError(t, d.Register(context.Background(), a, Location{Node: "x"}))
	require.NoError(t, d.Unregister(context.Background(), a))

	require.Len(t, changes, 2)
	require.Equal(t, ChangeRegistered, changes[0].Kind)
	require.Equal(t, ChangeUnregistered, changes[1].Kind)

	unsub()

	require.NoError(t, d.Register(context.Background(), a, Location{Node: "y"}))
	require.Len(t, changes, 2, "no notification should arrive after unsubscribe")
}

func TestListByTypeAndGetAll(t *testing.T) {
	d := New(Config{DefaultTTL: time.Minute})
	defer d.Close()

	ctx := context.Background()
	w1 := actor.NewAddress("local", "worker", "w1")
	w2 := actor.NewAddress("local", "worker", "w2")
	r1 := actor.NewAddress("local", "room", "r1")

	require.NoError(t, d.Register(ctx, w1, Location{}))
	require.NoError(t, d.Register(ctx, w2, Location{}))
	require.NoError(t, d.Register(ctx, r1, Location{}))

	workers := d.ListByType("worker")
	require.Len(t, workers, 2)

	all := d.GetAll()
	require.Len(t, all, 3)
}

func TestHitRate(t *testing.T) {
	d := New(Config{DefaultTTL: time.Minute})
	defer d.Close()

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		require.NoError(t, d.Register(ctx, addr(string(rune('a'+i%20))), Location{}))
	}

	hot := addr("a")
	require.NoError(t, d.Register(ctx, hot, Location{Node: "hot"}))

	total := 1000
	for i := 0; i < total; i++ {
		if i%10 < 8 {
			_, _ = d.Lookup(ctx, hot)
		} else {
			_, _ = d.Lookup(ctx, addr(string(rune('a'+i%20))))
		}
	}

	stats := d.Stats()
	require.Equal(t, uint64(total), stats.Hits+stats.Misses)
	require.GreaterOrEqual(t, stats.HitRate(), 0.90)
}
