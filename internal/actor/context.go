package actor

import "maps"

// MessageContext carries per-exchange state through the interceptor
// pipeline: beforeSend -> beforeReceive -> afterProcess/onError. It is
// created once per message exchange and mutated in place by interceptors
// via Metadata.
type MessageContext struct {
	// Metadata is free-form per-exchange state interceptors may read and
	// write.
	Metadata map[string]any

	// TraceID, if set, correlates this exchange with a wider trace.
	TraceID string

	// CorrelationID, if set, is the ask correlation id carried by the
	// envelope in flight.
	CorrelationID string
}

// NewMessageContext constructs an empty MessageContext.
func NewMessageContext() *MessageContext {
	return &MessageContext{Metadata: make(map[string]any)}
}

// Clone returns a shallow copy of mc with its own Metadata map, so that
// concurrent exchanges never share mutable state.
func (mc *MessageContext) Clone() *MessageContext {
	out := &MessageContext{
		TraceID:       mc.TraceID,
		CorrelationID: mc.CorrelationID,
		Metadata:      make(map[string]any, len(mc.Metadata)),
	}
	maps.Copy(out.Metadata, mc.Metadata)
	return out
}
