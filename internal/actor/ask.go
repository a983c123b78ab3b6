package actor

import (
	"context"
	"math"
	prand "math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// AskOptions configures a correlated request/response exchange.
type AskOptions struct {
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
	MaxDelay   time.Duration
}

// DefaultAskOptions mirrors the teacher's transaction-retry defaults
// (doubling backoff, capped, with jitter), adapted to ask timeouts.
func DefaultAskOptions() AskOptions {
	return AskOptions{
		Timeout:    5 * time.Second,
		Retries:    0,
		RetryDelay: 100 * time.Millisecond,
		MaxDelay:   2 * time.Second,
	}
}

// randRetryDelay returns a jittered, exponentially growing delay for the
// given attempt, in the same style as the database layer's transaction
// retry helper: 50%-150% of RetryDelay, doubled per attempt, capped at
// MaxDelay.
func (o AskOptions) randRetryDelay(attempt int) time.Duration {
	half := o.RetryDelay / 2
	jitter := time.Duration(prand.Int63n(int64(o.RetryDelay) + 1)) //nolint:gosec
	delay := half + jitter

	if attempt == 0 {
		return delay
	}

	factor := time.Duration(math.Pow(2, math.Min(float64(attempt), 32)))
	delay *= factor

	if delay > o.MaxDelay {
		return o.MaxDelay
	}
	return delay
}

// future is the concrete Future implementation backing a Promise.
type future[T any] struct {
	done   chan struct{}
	once   sync.Once
	result fn.Result[T]
}

func newFuture[T any]() *future[T] {
	return &future[T]{done: make(chan struct{})}
}

func (f *future[T]) complete(result fn.Result[T]) bool {
	completed := false
	f.once.Do(func() {
		f.result = result
		completed = true
		close(f.done)
	})
	return completed
}

// Await blocks until the future completes or ctx is cancelled.
func (f *future[T]) Await(ctx context.Context) fn.Result[T] {
	select {
	case <-f.done:
		return f.result
	case <-ctx.Done():
		return fn.Err[T](ctx.Err())
	}
}

// Future is the read side of a Promise: callers await or register a
// completion callback.
type Future[T any] interface {
	Await(ctx context.Context) fn.Result[T]
	OnComplete(ctx context.Context, cb func(fn.Result[T]))
}

func (f *future[T]) OnComplete(ctx context.Context, cb func(fn.Result[T])) {
	go func() {
		select {
		case <-f.done:
			cb(f.result)
		case <-ctx.Done():
			cb(fn.Err[T](ctx.Err()))
		}
	}()
}

// Promise is the write side of a Future: exactly one Complete call wins.
type Promise[T any] interface {
	Future() Future[T]
	Complete(result fn.Result[T]) bool
}

type promise[T any] struct{ f *future[T] }

// NewPromise constructs a fresh, uncompleted Promise.
func NewPromise[T any]() Promise[T] {
	return &promise[T]{f: newFuture[T]()}
}

func (p *promise[T]) Future() Future[T]              { return p.f }
func (p *promise[T]) Complete(result fn.Result[T]) bool { return p.f.complete(result) }

// askEntry is one outstanding correlated exchange.
type askEntry struct {
	promise    Promise[Envelope]
	deadline   *time.Timer
	attempt    int
	opts       AskOptions
	resend     func() error // re-issues the original send for a retry
	onReplyKey string       // non-empty only for actor-internal AskInstruction entries
}

// AskTable tracks outstanding correlated asks for one sender (an actor or
// the system's synthetic caller identity). At most one entry exists per
// correlation id at a time.
type AskTable struct {
	mu      sync.Mutex
	entries map[string]*askEntry
}

// NewAskTable constructs an empty AskTable.
func NewAskTable() *AskTable {
	return &AskTable{entries: make(map[string]*askEntry)}
}

// Register begins tracking a new correlation id, arming its deadline timer.
// onTimeout is invoked (off the table's lock) when the deadline elapses and
// no reply has arrived; it decides whether to retry (via resend) or give
// up.
func (t *AskTable) Register(id string, p Promise[Envelope], opts AskOptions, resend func() error, onReplyKey string) {
	entry := &askEntry{promise: p, opts: opts, resend: resend, onReplyKey: onReplyKey}
	entry.deadline = time.AfterFunc(opts.Timeout, func() {
		t.handleTimeout(id)
	})

	t.mu.Lock()
	t.entries[id] = entry
	t.mu.Unlock()
}

func (t *AskTable) handleTimeout(id string) {
	t.mu.Lock()
	entry, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	if entry.attempt >= entry.opts.Retries {
		delete(t.entries, id)
		t.mu.Unlock()

		entry.promise.Complete(fn.Err[Envelope](ErrAskTimeout))
		return
	}
	entry.attempt++
	attempt := entry.attempt
	t.mu.Unlock()

	delay := entry.opts.randRetryDelay(attempt)
	time.AfterFunc(delay, func() {
		if entry.resend != nil {
			if err := entry.resend(); err != nil {
				t.mu.Lock()
				delete(t.entries, id)
				t.mu.Unlock()
				entry.promise.Complete(fn.Err[Envelope](err))
				return
			}
		}

		t.mu.Lock()
		entry.deadline = time.AfterFunc(entry.opts.Timeout, func() {
			t.handleTimeout(id)
		})
		t.mu.Unlock()
	})
}

// Resolve completes the entry for id with reply, if one is outstanding. It
// returns the entry's onReplyKey and true if an entry was found (meaning
// the caller should not route the envelope to the behaviour's OnMessage).
func (t *AskTable) Resolve(id string, reply Envelope) (onReplyKey string, handled bool) {
	t.mu.Lock()
	entry, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()

	if !ok {
		return "", false
	}

	entry.deadline.Stop()
	entry.promise.Complete(fn.Ok(reply))
	return entry.onReplyKey, true
}

// RejectAll completes every outstanding entry with err, used when the
// owning actor stops.
func (t *AskTable) RejectAll(err error) {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[string]*askEntry)
	t.mu.Unlock()

	for _, entry := range entries {
		entry.deadline.Stop()
		entry.promise.Complete(fn.Err[Envelope](err))
	}
}

// Len reports the number of outstanding entries.
func (t *AskTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// NewCorrelationID returns a fresh 128-bit correlation id.
func NewCorrelationID() string {
	return uuid.NewString()
}

// NewAsk registers a fresh correlation id against table, immediately
// issues send with that id, and returns a Future the caller can Await.
// Retries re-invoke send with the same correlation id. This is the
// system-level building block for ActorSystem.Ask, as distinct from the
// actor-internal AskInstruction plan step, which uses Register directly.
func NewAsk(table *AskTable, send func(correlationID string) error, opts AskOptions) Future[Envelope] {
	id := NewCorrelationID()
	p := NewPromise[Envelope]()

	resend := func() error { return send(id) }
	table.Register(id, p, opts, resend, "")

	if err := resend(); err != nil {
		p.Complete(fn.Err[Envelope](err))
	}

	return p.Future()
}

// Asker is implemented by anything that can perform a correlated
// request/response exchange, typically an ActorSystem.
type Asker interface {
	Ask(ctx context.Context, to Address, msg Envelope, opts AskOptions) Future[Envelope]
}

// Teller is implemented by anything that can fire-and-forget deliver an
// envelope, typically an ActorSystem.
type Teller interface {
	Tell(ctx context.Context, to Address, msg Envelope) error
}
