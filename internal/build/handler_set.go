package build

import (
	"context"
	"log/slog"
	"sync"

	"github.com/btcsuite/btclog"
	btclogv2 "github.com/btcsuite/btclog/v2"
)

// FanoutHandler is a btclog.Handler that dispatches every record to a set
// of underlying handlers, e.g. a console handler plus a rotating file
// handler. Handlers can be added after construction, so a daemon can plug
// in an additional sink (a syslog forwarder, a test-capture buffer) once
// it is already running.
type FanoutHandler struct {
	mu    sync.RWMutex
	level btclog.Level
	sinks []btclogv2.Handler
}

// NewHandlerSet constructs a FanoutHandler over the given sinks, all
// initialized to the Info level.
func NewHandlerSet(sinks ...btclogv2.Handler) *FanoutHandler {
	h := &FanoutHandler{
		sinks: sinks,
		level: btclog.LevelInfo,
	}
	h.SetLevel(h.level)
	return h
}

// Add appends another sink to the fanout, applying the handler's current
// level to it.
func (h *FanoutHandler) Add(sink btclogv2.Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sink.SetLevel(h.level)
	h.sinks = append(h.sinks, sink)
}

func (h *FanoutHandler) snapshot() []btclogv2.Handler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]btclogv2.Handler, len(h.sinks))
	copy(out, h.sinks)
	return out
}

// Enabled implements slog.Handler: a record must be handleable by every
// sink for the fanout to accept it, so a narrowly-configured sink (e.g. a
// file handler at WARN) still suppresses chatter there even though the
// console handler would take it.
func (h *FanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, sink := range h.snapshot() {
		if !sink.Enabled(ctx, level) {
			return false
		}
	}
	return true
}

// Handle implements slog.Handler, dispatching record to every sink in
// order and stopping at the first error.
func (h *FanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, sink := range h.snapshot() {
		if err := sink.Handle(ctx, record); err != nil {
			return err
		}
	}
	return nil
}

// WithAttrs implements slog.Handler.
func (h *FanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	sinks := h.snapshot()
	out := &fanoutSlogHandler{sinks: make([]slog.Handler, len(sinks))}
	for i, sink := range sinks {
		out.sinks[i] = sink.WithAttrs(attrs)
	}
	return out
}

// WithGroup implements slog.Handler.
func (h *FanoutHandler) WithGroup(name string) slog.Handler {
	sinks := h.snapshot()
	out := &fanoutSlogHandler{sinks: make([]slog.Handler, len(sinks))}
	for i, sink := range sinks {
		out.sinks[i] = sink.WithGroup(name)
	}
	return out
}

// SubSystem implements btclog.Handler, tagging every sink with the given
// subsystem code.
func (h *FanoutHandler) SubSystem(tag string) btclogv2.Handler {
	sinks := h.snapshot()
	out := &FanoutHandler{sinks: make([]btclogv2.Handler, len(sinks)), level: h.level}
	for i, sink := range sinks {
		out.sinks[i] = sink.SubSystem(tag)
	}
	return out
}

// SetLevel implements btclog.Handler, propagating level to every sink.
func (h *FanoutHandler) SetLevel(level btclog.Level) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sink := range h.sinks {
		sink.SetLevel(level)
	}
	h.level = level
}

// Level implements btclog.Handler.
func (h *FanoutHandler) Level() btclog.Level {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.level
}

// WithPrefix implements btclog.Handler, prefixing every sink's output.
func (h *FanoutHandler) WithPrefix(prefix string) btclogv2.Handler {
	sinks := h.snapshot()
	out := &FanoutHandler{sinks: make([]btclogv2.Handler, len(sinks)), level: h.level}
	for i, sink := range sinks {
		out.sinks[i] = sink.WithPrefix(prefix)
	}
	return out
}

var _ btclogv2.Handler = (*FanoutHandler)(nil)

// fanoutSlogHandler backs FanoutHandler's WithAttrs/WithGroup results,
// which the slog.Handler contract requires to return plain slog.Handlers
// rather than the richer btclog.Handler.
type fanoutSlogHandler struct {
	sinks []slog.Handler
}

func (f *fanoutSlogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, sink := range f.sinks {
		if !sink.Enabled(ctx, level) {
			return false
		}
	}
	return true
}

func (f *fanoutSlogHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, sink := range f.sinks {
		if err := sink.Handle(ctx, record); err != nil {
			return err
		}
	}
	return nil
}

func (f *fanoutSlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := &fanoutSlogHandler{sinks: make([]slog.Handler, len(f.sinks))}
	for i, sink := range f.sinks {
		out.sinks[i] = sink.WithAttrs(attrs)
	}
	return out
}

func (f *fanoutSlogHandler) WithGroup(name string) slog.Handler {
	out := &fanoutSlogHandler{sinks: make([]slog.Handler, len(f.sinks))}
	for i, sink := range f.sinks {
		out.sinks[i] = sink.WithGroup(name)
	}
	return out
}

var _ slog.Handler = (*fanoutSlogHandler)(nil)
