package actorutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	nimbusactor "github.com/nimbus-actors/nimbus/internal/actor"
)

func TestRouterRoundRobinTell(t *testing.T) {
	s := newTestSystem(t)
	addrs := spawnEchoes(t, s, 3)

	router := NewRouter("pool", addrs, s)
	require.Equal(t, 3, router.Size())
	require.Equal(t, "pool", router.ID())

	for i := 0; i < 6; i++ {
		require.NoError(t, router.Tell(context.Background(), nimbusactor.NewEnvelope("PING", nil)))
	}
}

func TestRouterAsk(t *testing.T) {
	s := newTestSystem(t)
	addrs := spawnEchoes(t, s, 2)

	router := NewRouter("pool", addrs, s)

	fut := router.Ask(context.Background(), nimbusactor.NewEnvelope("PING", nil), nimbusactor.DefaultAskOptions())
	env, err := fut.Await(context.Background()).Unpack()
	require.NoError(t, err)
	require.Equal(t, "PONG", env.Type)
}

func TestRouterBroadcast(t *testing.T) {
	s := newTestSystem(t)
	addrs := spawnEchoes(t, s, 3)

	router := NewRouter("pool", addrs, s)

	errs := router.Broadcast(context.Background(), nimbusactor.NewEnvelope("PING", nil))
	require.Len(t, errs, 3)
	for _, err := range errs {
		require.NoError(t, err)
	}
}

func TestRouterBroadcastAsk(t *testing.T) {
	s := newTestSystem(t)
	addrs := spawnEchoes(t, s, 3)

	router := NewRouter("pool", addrs, s)

	futures := router.BroadcastAsk(context.Background(), nimbusactor.NewEnvelope("PING", nil), nimbusactor.DefaultAskOptions())
	require.Len(t, futures, 3)
	for _, f := range futures {
		env, err := f.Await(context.Background()).Unpack()
		require.NoError(t, err)
		require.Equal(t, "PONG", env.Type)
	}
}

func TestRouterTargetsReturnsCopy(t *testing.T) {
	s := newTestSystem(t)
	addrs := spawnEchoes(t, s, 2)

	router := NewRouter("pool", addrs, s)
	got := router.Targets()
	require.Equal(t, addrs, got)

	got[0] = nimbusactor.NewAddress("local", "echo", "mutated")
	require.NotEqual(t, got[0], router.Targets()[0])
}
