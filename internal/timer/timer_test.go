package timer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nimbus-actors/nimbus/internal/actor"
)

type recordingDeliverer struct {
	mu       sync.Mutex
	observed []string
}

func (r *recordingDeliverer) Tell(_ context.Context, _ actor.Address, msg actor.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observed = append(r.observed, msg.Type)
	return nil
}

func (r *recordingDeliverer) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.observed))
	copy(out, r.observed)
	return out
}

func TestVirtualClockOrdering(t *testing.T) {
	d := &recordingDeliverer{}
	tm := New(ModeTest, d)
	defer tm.Stop()

	target := actor.NewAddress("local", "worker", "w")

	_, err := tm.Schedule(target, actor.NewEnvelope("MSG_50", nil), 50*time.Millisecond, "")
	require.NoError(t, err)
	_, err = tm.Schedule(target, actor.NewEnvelope("MSG_100", nil), 100*time.Millisecond, "")
	require.NoError(t, err)
	_, err = tm.Schedule(target, actor.NewEnvelope("MSG_200", nil), 200*time.Millisecond, "")
	require.NoError(t, err)

	tm.AdvanceTime(50 * time.Millisecond)
	require.Equal(t, []string{"MSG_50"}, d.snapshot())

	tm.AdvanceTime(50 * time.Millisecond)
	require.Equal(t, []string{"MSG_50", "MSG_100"}, d.snapshot())

	tm.AdvanceTime(100 * time.Millisecond)
	require.Equal(t, []string{"MSG_50", "MSG_100", "MSG_200"}, d.snapshot())
}

func TestEqualDeadlineInsertionOrder(t *testing.T) {
	d := &recordingDeliverer{}
	tm := New(ModeTest, d)
	defer tm.Stop()

	target := actor.NewAddress("local", "worker", "w")

	_, err := tm.Schedule(target, actor.NewEnvelope("FIRST", nil), 10*time.Millisecond, "")
	require.NoError(t, err)
	_, err = tm.Schedule(target, actor.NewEnvelope("SECOND", nil), 10*time.Millisecond, "")
	require.NoError(t, err)

	tm.AdvanceTime(10 * time.Millisecond)
	require.Equal(t, []string{"FIRST", "SECOND"}, d.snapshot())
}

func TestCancel(t *testing.T) {
	d := &recordingDeliverer{}
	tm := New(ModeTest, d)
	defer tm.Stop()

	target := actor.NewAddress("local", "worker", "w")

	id, err := tm.Schedule(target, actor.NewEnvelope("SHOULD_NOT_FIRE", nil), 10*time.Millisecond, "")
	require.NoError(t, err)

	tm.Cancel(id)
	tm.AdvanceTime(50 * time.Millisecond)

	require.Empty(t, d.snapshot())
}

func TestGetScheduled(t *testing.T) {
	d := &recordingDeliverer{}
	tm := New(ModeTest, d)
	defer tm.Stop()

	target := actor.NewAddress("local", "worker", "w")
	_, err := tm.Schedule(target, actor.NewEnvelope("A", nil), 20*time.Millisecond, "")
	require.NoError(t, err)
	_, err = tm.Schedule(target, actor.NewEnvelope("B", nil), 10*time.Millisecond, "")
	require.NoError(t, err)

	scheduled := tm.GetScheduled()
	require.Len(t, scheduled, 2)
	require.Equal(t, "B", scheduled[0].Envelope.Type)
	require.Equal(t, "A", scheduled[1].Envelope.Type)
}

func TestProductionModeDelivers(t *testing.T) {
	d := &recordingDeliverer{}
	tm := New(ModeProduction, d)
	defer tm.Stop()

	target := actor.NewAddress("local", "worker", "w")
	_, err := tm.Schedule(target, actor.NewEnvelope("REAL", nil), 10*time.Millisecond, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(d.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
}
