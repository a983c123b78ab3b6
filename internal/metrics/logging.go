package metrics

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/btcsuite/btclog/v2"

	"github.com/nimbus-actors/nimbus/internal/actor"
)

// logRecord is one buffered processing-log line.
type logRecord struct {
	actorType string
	msgType   string
	err       error
	at        time.Time
}

// LoggingConfig configures the per-batch logging interceptor.
type LoggingConfig struct {
	// BatchSize flushes the buffer once it reaches this many records.
	BatchSize int

	// FlushInterval flushes the buffer on a timer regardless of size.
	// Zero disables timer-based flushing (size-only).
	FlushInterval time.Duration

	// SampleRate is the fraction (0, 1] of afterProcess/onError
	// invocations that are buffered at all; 1 means log everything.
	SampleRate float64

	Logger btclog.Logger
}

func (c LoggingConfig) withDefaults() LoggingConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.SampleRate <= 0 || c.SampleRate > 1 {
		c.SampleRate = 1
	}
	if c.Logger == nil {
		c.Logger = log
	}
	return c
}

// LoggingInterceptor buffers processing outcomes and flushes them in
// batches, trading per-message log-line overhead for periodic summaries,
// per spec.md §4.12.
type LoggingInterceptor struct {
	cfg LoggingConfig

	mu  sync.Mutex
	buf []logRecord

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewLoggingInterceptor constructs a LoggingInterceptor. Call Run to start
// its timer-based flush loop (a no-op if cfg.FlushInterval is zero).
func NewLoggingInterceptor(cfg LoggingConfig) *LoggingInterceptor {
	return &LoggingInterceptor{
		cfg:    cfg.withDefaults(),
		stopCh: make(chan struct{}),
	}
}

func (li *LoggingInterceptor) sampled() bool {
	if li.cfg.SampleRate >= 1 {
		return true
	}
	return rand.Float64() < li.cfg.SampleRate //nolint:gosec
}

func (li *LoggingInterceptor) record(actorType, msgType string, err error) {
	if !li.sampled() {
		return
	}

	li.mu.Lock()
	li.buf = append(li.buf, logRecord{actorType: actorType, msgType: msgType, err: err, at: time.Now()})
	full := len(li.buf) >= li.cfg.BatchSize
	li.mu.Unlock()

	if full {
		li.Flush()
	}
}

// Flush logs and clears the current buffer. Safe to call concurrently with
// recording and the timer loop.
func (li *LoggingInterceptor) Flush() {
	li.mu.Lock()
	batch := li.buf
	li.buf = nil
	li.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	errCount := 0
	for _, r := range batch {
		if r.err != nil {
			errCount++
		}
	}

	li.cfg.Logger.InfoS(context.Background(),
		fmt.Sprintf("processed %d messages (%d errors)", len(batch), errCount),
		"batch_size", len(batch), "error_count", errCount)
}

// Run starts the timer-based flush loop in its own goroutine. A no-op if
// cfg.FlushInterval is zero.
func (li *LoggingInterceptor) Run() {
	if li.cfg.FlushInterval <= 0 {
		return
	}
	li.wg.Add(1)
	go func() {
		defer li.wg.Done()
		ticker := time.NewTicker(li.cfg.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				li.Flush()
			case <-li.stopCh:
				return
			}
		}
	}()
}

// Stop halts the flush loop and flushes any remaining buffered records.
func (li *LoggingInterceptor) Stop() {
	li.stopOnce.Do(func() { close(li.stopCh) })
	li.wg.Wait()
	li.Flush()
}

// Interceptor builds the actor.Interceptor wiring this buffer into the
// pipeline's afterProcess/onError hooks.
func (li *LoggingInterceptor) Interceptor(id string, priority int) *actor.Interceptor {
	return &actor.Interceptor{
		ID:       id,
		Priority: priority,
		Scope:    actor.ScopeGlobal,
		Enabled:  true,

		AfterProcess: func(_ context.Context, env actor.Envelope, _ actor.Plan, self actor.Address, _ *actor.MessageContext) {
			li.record(self.Type, env.Type, nil)
		},
		OnError: func(_ context.Context, err error, env actor.Envelope, self actor.Address, _ *actor.MessageContext) {
			li.record(self.Type, env.Type, err)
		},
	}
}
