package actor

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// jsonValueSchemaDoc describes any JSON-transparent value: null, boolean,
// number, string, array, or object. Envelope payloads are validated against
// it so that functions, channels, and other non-serialisable Go values
// never make it into a mailbox, mirroring the argument-schema checks the
// teacher's MCP tool registration performs before a handler runs.
const jsonValueSchemaDoc = `{
  "anyOf": [
    {"type": "null"},
    {"type": "boolean"},
    {"type": "number"},
    {"type": "string"},
    {"type": "array"},
    {"type": "object"}
  ]
}`

var jsonValueSchema = mustResolveSchema(jsonValueSchemaDoc)

func mustResolveSchema(doc string) *jsonschema.Resolved {
	var s jsonschema.Schema
	if err := json.Unmarshal([]byte(doc), &s); err != nil {
		panic(fmt.Errorf("actor: invalid builtin schema: %w", err))
	}
	rs, err := s.Resolve(nil)
	if err != nil {
		panic(fmt.Errorf("actor: unresolvable builtin schema: %w", err))
	}
	return rs
}

// IsEnvelope reports whether env is a well-formed envelope: a non-empty
// Type discriminator, no reserved-prefixed payload keys, and a
// JSON-transparent payload.
func IsEnvelope(env Envelope) error {
	if env.Type == "" {
		return fmt.Errorf("%w: missing discriminator \"type\"", ErrInvalidEnvelope)
	}
	for k, v := range env.Fields {
		if err := validateFieldName(k); err != nil {
			return err
		}
		if err := isJSONTransparent(v); err != nil {
			return fmt.Errorf("%w: field %q: %v", ErrInvalidEnvelope, k, err)
		}
	}
	return nil
}

// IsDomainEvent reports whether ev is a well-formed domain event.
func IsDomainEvent(ev DomainEvent) error {
	if ev.Type == "" {
		return fmt.Errorf("%w: domain event missing type", ErrInvalidEnvelope)
	}
	for k, v := range ev.Fields {
		if err := validateFieldName(k); err != nil {
			return err
		}
		if err := isJSONTransparent(v); err != nil {
			return fmt.Errorf("%w: field %q: %v", ErrInvalidEnvelope, k, err)
		}
	}
	return nil
}

// isJSONTransparent round-trips v through encoding/json and checks the
// result against jsonValueSchema, rejecting anything that can't survive a
// wire hop (functions, channels, complex numbers, NaN/Inf floats).
func isJSONTransparent(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return err
	}
	return jsonValueSchema.Validate(decoded)
}

// ValidateForTransport validates an envelope immediately before it is
// handed to a Transport for serialisation, re-running the same checks as
// IsEnvelope. It exists as a distinct entry point because transports may
// call it on envelopes reconstructed from the wire, where Fields has
// already been populated by Envelope.UnmarshalJSON.
func ValidateForTransport(env Envelope) error {
	return IsEnvelope(env)
}
