package transport

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/nimbus-actors/nimbus/internal/actor"
)

func TestRemoteHandleDeliverFeedsReceive(t *testing.T) {
	r := NewRemote(func(string) (string, error) { return "", nil })

	addr := actor.NewAddress("node-2", "worker", "1")
	env := actor.NewEnvelope("PING", map[string]any{"n": 1})

	envRaw, err := json.Marshal(env)
	require.NoError(t, err)
	frameRaw, err := json.Marshal(wireFrame{To: addr.Path(), Env: envRaw})
	require.NoError(t, err)

	out, err := r.handleDeliver(context.Background(), &wrapperspb.BytesValue{Value: frameRaw})
	require.NoError(t, err)
	require.NotNil(t, out)

	inbound := <-r.Receive()
	require.Equal(t, addr, inbound.To)
	require.Equal(t, "PING", inbound.Env.Type)
}

func TestRemoteHandleDeliverRejectsInvalidEnvelope(t *testing.T) {
	r := NewRemote(func(string) (string, error) { return "", nil })

	frameRaw, err := json.Marshal(wireFrame{To: "actor://node-2/worker/1", Env: json.RawMessage(`{"type":""}`)})
	require.NoError(t, err)

	_, err = r.handleDeliver(context.Background(), &wrapperspb.BytesValue{Value: frameRaw})
	require.Error(t, err)
}
