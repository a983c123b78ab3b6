package system

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nimbus-actors/nimbus/internal/actor"
	"github.com/nimbus-actors/nimbus/internal/timer"
)

// echoBehavior replies to PING with PONG, tracking how many messages it
// has seen in its context.
type echoBehavior struct{}

func (echoBehavior) InitialContext() any { return 0 }

func (echoBehavior) OnMessage(call actor.MessageCall) actor.Plan {
	count := call.Context.(int) + 1
	if call.Msg.Type != "PING" {
		return actor.NewContextPlan(count)
	}
	return actor.Combine(
		actor.NewContextPlan(count),
		actor.ResponsePlan(actor.NewEnvelope("PONG", map[string]any{"count": count})),
	)
}

func newTestSystem(t *testing.T) *System {
	t.Helper()
	s := New(Config{Node: "local", TimerMode: timer.ModeTest})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func TestSpawnTellAsk(t *testing.T) {
	s := newTestSystem(t)
	addr := actor.NewAddress("local", "echo", "one")

	_, err := s.Spawn(addr, echoBehavior{})
	require.NoError(t, err)

	fut := s.Ask(context.Background(), addr, actor.NewEnvelope("PING", nil), actor.AskOptions{Timeout: time.Second})
	result := fut.Await(context.Background())
	env, err := result.Unpack()
	require.NoError(t, err)
	require.Equal(t, "PONG", env.Type)
}

func TestTellUnknownActorFails(t *testing.T) {
	s := newTestSystem(t)
	addr := actor.NewAddress("local", "echo", "missing")

	err := s.Tell(context.Background(), addr, actor.NewEnvelope("PING", nil))
	require.ErrorIs(t, err, actor.ErrNoSuchActor)
}

// failingBehavior panics on the given trigger type, and otherwise no-ops.
type failingBehavior struct {
	trigger string
}

func (failingBehavior) InitialContext() any { return map[string]any{"seeded": true} }

func (f failingBehavior) OnMessage(call actor.MessageCall) actor.Plan {
	if call.Msg.Type == f.trigger {
		panic("boom")
	}
	return actor.NoPlan()
}

func (failingBehavior) SupervisionPolicy() actor.SupervisionPolicy {
	return actor.SupervisionPolicy{Directive: actor.DirectiveRestart, MaxRetries: 1, TimeWindow: 60_000}
}

// TestRestartResetsContext matches spec scenario S2: a RESTART directive
// resets the actor's context to InitialContext without tearing down the
// mailbox or address.
func TestRestartResetsContext(t *testing.T) {
	s := newTestSystem(t)
	addr := actor.NewAddress("local", "worker", "restartee")
	behavior := failingBehavior{trigger: "CRASH"}

	inst, err := s.Spawn(addr, behavior)
	require.NoError(t, err)

	require.NoError(t, s.Tell(context.Background(), addr, actor.NewEnvelope("CRASH", nil)))

	require.Eventually(t, func() bool {
		snap, ok := inst.Snapshot().(map[string]any)
		return ok && snap["seeded"] == true
	}, time.Second, 5*time.Millisecond)

	_, stillThere := s.Lookup(addr)
	require.True(t, stillThere)
}

// TestEscalationStopsActor matches spec scenario S4's escalation path: once
// the static policy's MaxRetries is exceeded, the supervisor escalates and
// the guardian stops the actor.
func TestEscalationStopsActor(t *testing.T) {
	s := newTestSystem(t)
	addr := actor.NewAddress("local", "worker", "escalatee")
	behavior := failingBehavior{trigger: "CRASH"}

	_, err := s.Spawn(addr, behavior)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_ = s.Tell(context.Background(), addr, actor.NewEnvelope("CRASH", nil))
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		_, ok := s.Lookup(addr)
		return !ok
	}, time.Second, 10*time.Millisecond)
}

type stopDirectiveBehavior struct{}

func (stopDirectiveBehavior) InitialContext() any { return nil }
func (stopDirectiveBehavior) OnMessage(call actor.MessageCall) actor.Plan {
	panic("always fails")
}
func (stopDirectiveBehavior) SupervisionPolicy() actor.SupervisionPolicy {
	return actor.SupervisionPolicy{Directive: actor.DirectiveStop, MaxRetries: 10, TimeWindow: 60_000}
}

func TestStopDirectiveRemovesActor(t *testing.T) {
	s := newTestSystem(t)
	addr := actor.NewAddress("local", "worker", "stopper")

	_, err := s.Spawn(addr, stopDirectiveBehavior{})
	require.NoError(t, err)

	require.NoError(t, s.Tell(context.Background(), addr, actor.NewEnvelope("ANYTHING", nil)))

	require.Eventually(t, func() bool {
		_, ok := s.Lookup(addr)
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestShutdownStopsAllActors(t *testing.T) {
	s := New(Config{Node: "local", TimerMode: timer.ModeTest})
	addr1 := actor.NewAddress("local", "echo", "a")
	addr2 := actor.NewAddress("local", "echo", "b")

	_, err := s.Spawn(addr1, echoBehavior{})
	require.NoError(t, err)
	_, err = s.Spawn(addr2, echoBehavior{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	require.Empty(t, s.ListAddresses())
}

func TestSystemEventsObserveLifecycle(t *testing.T) {
	s := newTestSystem(t)

	seen := make(chan string, 16)
	s.Events().Subscribe(actor.EventKindAll(), func(ev actor.DomainEvent) { seen <- ev.Type })

	addr := actor.NewAddress("local", "echo", "observed")
	_, err := s.Spawn(addr, echoBehavior{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		select {
		case typ := <-seen:
			return typ == EventActorSpawned
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}
