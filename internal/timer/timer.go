// Package timer implements spec.md's component C9: virtualisable scheduled
// delivery, decoupled from wall-clock time so tests can drive it
// deterministically. It routes all actor delays through one place (the
// Timer), matching the "pure actor intolerance of timers" re-architecture
// note in spec.md §9.
package timer

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btclog/v2"
	"github.com/google/uuid"

	"github.com/nimbus-actors/nimbus/internal/actor"
)

var log btclog.Logger = btclog.Disabled

// UseLogger sets the subsystem logger used by the timer package.
func UseLogger(logger btclog.Logger) { log = logger }

// Deliverer is the minimal dependency a Timer needs to deliver a scheduled
// envelope: an actor system's Tell.
type Deliverer interface {
	Tell(ctx context.Context, to actor.Address, msg actor.Envelope) error
}

// Scheduled describes one pending scheduled delivery.
type Scheduled struct {
	ID       string
	Target   actor.Address
	Envelope actor.Envelope
	Deadline time.Time
}

// entry is the heap element: Scheduled plus the insertion sequence used to
// break deadline ties in FIFO order, per spec.md §4.9's ordering rule.
type entry struct {
	Scheduled
	seq   uint64
	index int
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].Deadline.Equal(h[j].Deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].Deadline.Before(h[j].Deadline)
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Mode selects whether a Timer's clock runs on real wall time or a virtual
// clock only advanced by test calls.
type Mode int

const (
	// ModeProduction uses a monotonic wall clock; deliveries happen as
	// their deadlines pass in real time.
	ModeProduction Mode = iota

	// ModeTest uses a virtual clock that never advances on its own;
	// deliveries only happen when AdvanceTime or FlushWithTime is
	// called.
	ModeTest
)

// Timer is the scheduling system actor: spec.md's C9. It is not itself an
// actor.Behavior; it is a standalone component the system wires in as a
// dependency, matching how the guardian hosts it per spec.md §4.10.
type Timer struct {
	mode      Mode
	deliverer Deliverer

	mu      sync.Mutex
	pending entryHeap
	byID    map[string]*entry
	seq     atomic.Uint64

	virtualNow time.Time

	wakeCh   chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs a Timer in the given mode, delivering fired envelopes
// through deliverer.
func New(mode Mode, deliverer Deliverer) *Timer {
	t := &Timer{
		mode:       mode,
		deliverer:  deliverer,
		byID:       make(map[string]*entry),
		virtualNow: time.Unix(0, 0),
		wakeCh:     make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
	}
	heap.Init(&t.pending)

	if mode == ModeProduction {
		t.wg.Add(1)
		go t.runProduction()
	}

	return t
}

// Stop halts the Timer's production-mode delivery loop. Safe to call more
// than once; a no-op in test mode.
func (t *Timer) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
	t.wg.Wait()
}

// Now returns the Timer's current notion of time: real time in production
// mode, the virtual clock in test mode.
func (t *Timer) Now() time.Time {
	if t.mode == ModeProduction {
		return time.Now()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.virtualNow
}

// Schedule arranges for env to be delivered to target after delay elapses.
// If id is empty, a fresh one is generated. Returns the (possibly
// generated) id, which Cancel accepts.
func (t *Timer) Schedule(target actor.Address, env actor.Envelope, delay time.Duration, id string) (string, error) {
	if err := actor.IsEnvelope(env); err != nil {
		return "", err
	}
	if id == "" {
		id = uuid.NewString()
	}
	if delay < 0 {
		delay = 0
	}

	deadline := t.Now().Add(delay)

	t.mu.Lock()
	if old, ok := t.byID[id]; ok {
		heap.Remove(&t.pending, old.index)
		delete(t.byID, id)
	}
	e := &entry{
		Scheduled: Scheduled{ID: id, Target: target, Envelope: env, Deadline: deadline},
		seq:       t.seq.Add(1),
	}
	heap.Push(&t.pending, e)
	t.byID[id] = e
	t.mu.Unlock()

	t.wake()
	return id, nil
}

// Cancel removes a previously scheduled delivery by id. It is a no-op if
// id is unknown or has already fired.
func (t *Timer) Cancel(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byID[id]
	if !ok {
		return
	}
	heap.Remove(&t.pending, e.index)
	delete(t.byID, id)
}

// GetScheduled returns every pending (not-yet-fired) delivery, ordered by
// deadline then insertion order.
func (t *Timer) GetScheduled() []Scheduled {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Scheduled, 0, len(t.pending))
	ordered := make(entryHeap, len(t.pending))
	copy(ordered, t.pending)
	heap.Init(&ordered)
	for ordered.Len() > 0 {
		e := heap.Pop(&ordered).(*entry)
		out = append(out, e.Scheduled)
	}
	return out
}

func (t *Timer) wake() {
	select {
	case t.wakeCh <- struct{}{}:
	default:
	}
}

func (t *Timer) runProduction() {
	defer t.wg.Done()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		next, ok := t.peekDeadline()
		if !ok {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		} else {
			d := time.Until(next)
			if d < 0 {
				d = 0
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(d)
		}

		select {
		case <-timer.C:
			t.fireDue(time.Now())
		case <-t.wakeCh:
			continue
		case <-t.stopCh:
			return
		}
	}
}

func (t *Timer) peekDeadline() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.pending) == 0 {
		return time.Time{}, false
	}
	return t.pending[0].Deadline, true
}

// fireDue delivers every entry whose deadline is <= now, in deadline (then
// insertion) order, satisfying invariant 9: timer delivery is monotonic.
func (t *Timer) fireDue(now time.Time) {
	for {
		t.mu.Lock()
		if len(t.pending) == 0 || t.pending[0].Deadline.After(now) {
			t.mu.Unlock()
			return
		}
		e := heap.Pop(&t.pending).(*entry)
		delete(t.byID, e.ID)
		t.mu.Unlock()

		t.deliver(e.Scheduled)
	}
}

func (t *Timer) deliver(s Scheduled) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := t.deliverer.Tell(ctx, s.Target, s.Envelope); err != nil {
		log.WarnS(ctx, "timer: failed to deliver scheduled envelope", err,
			"target", s.Target.Path(), "schedule_id", s.ID)
	}
}

// AdvanceTime moves the virtual clock forward by d, firing (in deadline
// order) every scheduled delivery whose deadline is now <= the advanced
// clock. It is only meaningful in ModeTest; it panics if called on a
// production-mode Timer, since production time cannot be advanced by
// fiat.
func (t *Timer) AdvanceTime(d time.Duration) {
	if t.mode != ModeTest {
		panic(fmt.Sprintf("timer: AdvanceTime called on a %v timer", t.mode))
	}

	t.mu.Lock()
	t.virtualNow = t.virtualNow.Add(d)
	now := t.virtualNow
	t.mu.Unlock()

	t.fireDue(now)
}

// FlushWithTime sets the virtual clock to exactly at and fires every
// scheduled delivery whose deadline is now <= at. Only meaningful in
// ModeTest.
func (t *Timer) FlushWithTime(at time.Time) {
	if t.mode != ModeTest {
		panic(fmt.Sprintf("timer: FlushWithTime called on a %v timer", t.mode))
	}

	t.mu.Lock()
	t.virtualNow = at
	t.mu.Unlock()

	t.fireDue(at)
}

// String renders a Mode for logging.
func (m Mode) String() string {
	if m == ModeProduction {
		return "production"
	}
	return "test"
}
