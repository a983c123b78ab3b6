package actor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsEnvelopeRejectsEmptyType(t *testing.T) {
	err := IsEnvelope(Envelope{Fields: map[string]any{}})
	require.ErrorIs(t, err, ErrInvalidEnvelope)
}

func TestIsEnvelopeRejectsReservedFieldPrefix(t *testing.T) {
	env := NewEnvelope("PING", map[string]any{"_hidden": 1})
	require.ErrorIs(t, IsEnvelope(env), ErrInvalidEnvelope)
}

func TestIsEnvelopeRejectsNonJSONTransparentValue(t *testing.T) {
	env := NewEnvelope("PING", map[string]any{"fn": func() {}})
	require.Error(t, IsEnvelope(env))
}

func TestIsEnvelopeAcceptsNestedJSONValues(t *testing.T) {
	env := NewEnvelope("PING", map[string]any{
		"nested": map[string]any{"a": []any{1, "two", 3.0, nil, true}},
	})
	require.NoError(t, IsEnvelope(env))
}

func TestIsDomainEventRejectsEmptyType(t *testing.T) {
	require.ErrorIs(t, IsDomainEvent(DomainEvent{}), ErrInvalidEnvelope)
}

func TestEnvelopeMarshalUnmarshalRoundTrip(t *testing.T) {
	sender := NewAddress("local", "worker", "one")
	corrID := "abc-123"
	env := NewEnvelope("PING", map[string]any{"foo": "bar"}).
		WithSender(sender).
		WithCorrelationID(corrID)

	data, err := env.MarshalJSON()
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, decoded.UnmarshalJSON(data))

	require.Equal(t, env.Type, decoded.Type)
	require.Equal(t, env.Fields, decoded.Fields)
	require.NotNil(t, decoded.Sender)
	require.Equal(t, sender, *decoded.Sender)
	require.NotNil(t, decoded.CorrelationID)
	require.Equal(t, corrID, *decoded.CorrelationID)
}
