package actor

import (
	"encoding/json"
	"fmt"
	"strings"
)

// reservedFieldPrefix marks envelope fields that are owned by the runtime
// rather than the application payload.
const reservedFieldPrefix = "_"

// Envelope is a JSON-transparent message record. Type is a required
// non-empty discriminator; Fields holds the application payload (every key
// must not start with the reserved "_" prefix); the Envelope* fields below
// are the optional runtime-owned metadata.
type Envelope struct {
	// Type is the message discriminator used for routing/dispatch.
	Type string `json:"type"`

	// Fields holds the JSON-transparent application payload. Keys must
	// not begin with "_" — those are reserved for envelope metadata.
	Fields map[string]any `json:"-"`

	// Timestamp is the optional send-time, in Unix milliseconds.
	Timestamp *int64 `json:"_timestamp,omitempty"`

	// Version is an optional schema/version tag for the payload.
	Version *string `json:"_version,omitempty"`

	// Sender is the optional address of the actor that sent this
	// envelope, stamped automatically by Ask.
	Sender *Address `json:"_sender,omitempty"`

	// CorrelationID ties a reply envelope back to an outstanding ask.
	CorrelationID *string `json:"_correlationId,omitempty"`
}

// NewEnvelope constructs an Envelope with the given type and payload
// fields. The returned envelope has no stamped metadata; Ask/send wiring
// fills those in as needed.
func NewEnvelope(msgType string, fields map[string]any) Envelope {
	if fields == nil {
		fields = map[string]any{}
	}
	return Envelope{Type: msgType, Fields: fields}
}

// WithCorrelationID returns a copy of the envelope stamped with the given
// correlation id.
func (e Envelope) WithCorrelationID(id string) Envelope {
	e.CorrelationID = &id
	return e
}

// WithSender returns a copy of the envelope stamped with the given sender
// address.
func (e Envelope) WithSender(addr Address) Envelope {
	e.Sender = &addr
	return e
}

// Field returns the named payload field and whether it was present.
func (e Envelope) Field(name string) (any, bool) {
	v, ok := e.Fields[name]
	return v, ok
}

// MarshalJSON flattens Fields and the envelope metadata into a single JSON
// object, matching the wire format in the external interfaces section: a
// JSON object with "type" and only JSON-valued sibling fields, envelope
// metadata prefixed with "_".
func (e Envelope) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Fields)+5)
	for k, v := range e.Fields {
		out[k] = v
	}
	out["type"] = e.Type
	if e.Timestamp != nil {
		out["_timestamp"] = *e.Timestamp
	}
	if e.Version != nil {
		out["_version"] = *e.Version
	}
	if e.Sender != nil {
		out["_sender"] = e.Sender.Path()
	}
	if e.CorrelationID != nil {
		out["_correlationId"] = *e.CorrelationID
	}
	return json.Marshal(out)
}

// UnmarshalJSON reconstructs an Envelope from a flattened wire object,
// separating reserved "_"-prefixed fields from the application payload.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	typ, _ := raw["type"].(string)
	e.Type = typ
	delete(raw, "type")

	if v, ok := raw["_timestamp"]; ok {
		if f, ok := v.(float64); ok {
			ts := int64(f)
			e.Timestamp = &ts
		}
		delete(raw, "_timestamp")
	}
	if v, ok := raw["_version"]; ok {
		if s, ok := v.(string); ok {
			e.Version = &s
		}
		delete(raw, "_version")
	}
	if v, ok := raw["_sender"]; ok {
		if s, ok := v.(string); ok {
			addr, err := ParseAddress(s)
			if err == nil {
				e.Sender = &addr
			}
		}
		delete(raw, "_sender")
	}
	if v, ok := raw["_correlationId"]; ok {
		if s, ok := v.(string); ok {
			e.CorrelationID = &s
		}
		delete(raw, "_correlationId")
	}

	e.Fields = raw
	return nil
}

// DomainEvent is an envelope intended for fan-out subscribers via the
// per-actor event bus, rather than mailbox delivery.
type DomainEvent struct {
	Type   string
	Fields map[string]any
}

// NewDomainEvent constructs a DomainEvent.
func NewDomainEvent(eventType string, fields map[string]any) DomainEvent {
	if fields == nil {
		fields = map[string]any{}
	}
	return DomainEvent{Type: eventType, Fields: fields}
}

// SendInstruction is the MessagePlan variant that enqueues a message to
// another actor.
type SendInstruction struct {
	To  Address
	Msg Envelope
}

// AskInstruction is the MessagePlan variant that registers a correlated ask
// and enqueues the outbound message.
type AskInstruction struct {
	To       Address
	Msg      Envelope
	OnReply  string
	Timeout  *int64 // milliseconds; 0/nil uses the system default
	Retries  *int
}

// Plan is the declarative return value of a behaviour's onMessage handler.
// Each constructor below sets one kind of effect; Combine merges several
// plans so that one Plan can carry a context replacement, emits, sends,
// asks and a response together. A zero-value Plan means "no effect".
type Plan struct {
	// hasContext reports whether Context replaces the actor's current
	// context.
	hasContext bool
	context    any

	// emits holds zero or more domain events to publish, in order.
	emits []DomainEvent

	// sends holds zero or more outbound tell instructions, in order.
	sends []SendInstruction

	// asks holds zero or more outbound ask instructions, in order.
	asks []AskInstruction

	// hasResponse reports whether an explicit response envelope was set.
	hasResponse bool
	response    Envelope
}

// NoPlan is the "do nothing" MessagePlan.
func NoPlan() Plan { return Plan{} }

// NewContextPlan replaces the actor's context with newContext.
func NewContextPlan(newContext any) Plan {
	return Plan{hasContext: true, context: newContext}
}

// EmitPlan emits one or more domain events, preserving textual order.
func EmitPlan(events ...DomainEvent) Plan {
	return Plan{emits: events}
}

// SendPlan enqueues one or more tell instructions.
func SendPlan(sends ...SendInstruction) Plan {
	return Plan{sends: sends}
}

// AskPlan registers one or more ask instructions.
func AskPlan(asks ...AskInstruction) Plan {
	return Plan{asks: asks}
}

// ResponsePlan sets an explicit response envelope, overriding the
// smart-default (new-context-as-reply) behaviour.
func ResponsePlan(response Envelope) Plan {
	return Plan{hasResponse: true, response: response}
}

// Combine merges zero or more plans into one, preserving each component's
// relative textual order. Combine is how a handler composes e.g. a context
// replacement with emitted events and a response in a single return value.
func Combine(plans ...Plan) Plan {
	var out Plan
	for _, p := range plans {
		if p.hasContext {
			out.hasContext = true
			out.context = p.context
		}
		out.emits = append(out.emits, p.emits...)
		out.sends = append(out.sends, p.sends...)
		out.asks = append(out.asks, p.asks...)
		if p.hasResponse {
			out.hasResponse = true
			out.response = p.response
		}
	}
	return out
}

// validateFieldName rejects payload keys that collide with the reserved
// envelope-metadata prefix.
func validateFieldName(name string) error {
	if strings.HasPrefix(name, reservedFieldPrefix) {
		return fmt.Errorf("%w: field %q uses reserved prefix %q",
			ErrInvalidEnvelope, name, reservedFieldPrefix)
	}
	return nil
}
