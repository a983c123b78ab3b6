package actorutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	nimbusactor "github.com/nimbus-actors/nimbus/internal/actor"
	"github.com/nimbus-actors/nimbus/internal/system"
	"github.com/nimbus-actors/nimbus/internal/timer"
)

// echoBehavior replies PONG to PING and ERROR to FAIL, for exercising the
// multi-address helpers against a real, running system.
type echoBehavior struct{}

func (echoBehavior) InitialContext() any { return nil }

func (echoBehavior) OnMessage(call nimbusactor.MessageCall) nimbusactor.Plan {
	switch call.Msg.Type {
	case "PING":
		return nimbusactor.ResponsePlan(nimbusactor.NewEnvelope("PONG", nil))
	case "FAIL":
		return nimbusactor.ResponsePlan(nimbusactor.NewEnvelope("ERROR", map[string]any{"reason": "requested"}))
	default:
		return nimbusactor.NoPlan()
	}
}

func newTestSystem(t *testing.T) *system.System {
	t.Helper()
	s := system.New(system.Config{Node: "local", TimerMode: timer.ModeTest})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func spawnEchoes(t *testing.T, s *system.System, n int) []nimbusactor.Address {
	t.Helper()
	addrs := make([]nimbusactor.Address, n)
	for i := 0; i < n; i++ {
		addr := nimbusactor.NewAddress("local", "echo", string(rune('a'+i)))
		_, err := s.Spawn(addr, echoBehavior{})
		require.NoError(t, err)
		addrs[i] = addr
	}
	return addrs
}

func TestAskAwait(t *testing.T) {
	s := newTestSystem(t)
	addrs := spawnEchoes(t, s, 1)

	env, err := AskAwait(context.Background(), s, addrs[0],
		nimbusactor.NewEnvelope("PING", nil), nimbusactor.DefaultAskOptions())
	require.NoError(t, err)
	require.Equal(t, "PONG", env.Type)
}

func TestTellAll(t *testing.T) {
	s := newTestSystem(t)
	addrs := spawnEchoes(t, s, 3)

	errs := TellAll(context.Background(), s, addrs, nimbusactor.NewEnvelope("PING", nil))
	require.Len(t, errs, 3)
	for _, err := range errs {
		require.NoError(t, err)
	}
}

func TestParallelAsk(t *testing.T) {
	s := newTestSystem(t)
	addrs := spawnEchoes(t, s, 3)

	msgs := make([]nimbusactor.Envelope, len(addrs))
	for i := range msgs {
		msgs[i] = nimbusactor.NewEnvelope("PING", nil)
	}

	results := ParallelAsk(context.Background(), s, addrs, msgs, nimbusactor.DefaultAskOptions())
	require.Len(t, results, 3)
	require.True(t, AllSucceeded(results))
}

func TestParallelAskSame(t *testing.T) {
	s := newTestSystem(t)
	addrs := spawnEchoes(t, s, 3)

	results := ParallelAskSame(context.Background(), s, addrs,
		nimbusactor.NewEnvelope("PING", nil), nimbusactor.DefaultAskOptions())
	require.Len(t, results, 3)

	successes := CollectSuccesses(results)
	require.Len(t, successes, 3)
	for _, env := range successes {
		require.Equal(t, "PONG", env.Type)
	}
}

func TestFirstSuccess(t *testing.T) {
	s := newTestSystem(t)
	addrs := spawnEchoes(t, s, 3)

	env, err := FirstSuccess(context.Background(), s, addrs,
		nimbusactor.NewEnvelope("PING", nil), nimbusactor.DefaultAskOptions())
	require.NoError(t, err)
	require.Equal(t, "PONG", env.Type)
}

func TestFirstSuccessAllFail(t *testing.T) {
	s := newTestSystem(t)
	addr := nimbusactor.NewAddress("local", "echo", "missing")

	_, err := FirstSuccess(context.Background(), s, []nimbusactor.Address{addr},
		nimbusactor.NewEnvelope("PING", nil), nimbusactor.AskOptions{Timeout: 200 * time.Millisecond})
	require.Error(t, err)
}

func TestMapResponses(t *testing.T) {
	s := newTestSystem(t)
	addrs := spawnEchoes(t, s, 2)

	results := ParallelAskSame(context.Background(), s, addrs,
		nimbusactor.NewEnvelope("PING", nil), nimbusactor.DefaultAskOptions())

	mapped := MapResponses(results, func(env nimbusactor.Envelope) string { return env.Type })
	require.Len(t, mapped, 2)
	for _, m := range mapped {
		v, err := m.Unpack()
		require.NoError(t, err)
		require.Equal(t, "PONG", v)
	}
}

func TestFirstErrorNilWhenAllSucceed(t *testing.T) {
	s := newTestSystem(t)
	addrs := spawnEchoes(t, s, 2)

	results := ParallelAskSame(context.Background(), s, addrs,
		nimbusactor.NewEnvelope("PING", nil), nimbusactor.DefaultAskOptions())
	require.NoError(t, FirstError(results))
}
