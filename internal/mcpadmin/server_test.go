package mcpadmin

import (
	"context"
	"testing"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"github.com/nimbus-actors/nimbus/internal/actor"
	"github.com/nimbus-actors/nimbus/internal/system"
)

type echoBehavior struct{}

func (echoBehavior) InitialContext() any { return nil }
func (echoBehavior) OnMessage(call actor.MessageCall) actor.Plan { return actor.NoPlan() }

func newTestServer(t *testing.T) (*Server, *system.System) {
	t.Helper()
	sys := system.New(system.Config{Node: "local"})
	t.Cleanup(func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		_ = sys.Shutdown(ctx)
	})

	srv := NewServer(Config{
		System: sys,
		Echo:   func() actor.Behavior { return echoBehavior{} },
	})
	return srv, sys
}

func TestSystemStatsReflectsSpawnedActors(t *testing.T) {
	srv, sys := newTestServer(t)

	addr := actor.NewAddress("local", "echo", "1")
	_, err := sys.Spawn(addr, echoBehavior{})
	require.NoError(t, err)

	_, result, err := srv.handleSystemStats(context.Background(), &sdkmcp.CallToolRequest{}, SystemStatsArgs{})
	require.NoError(t, err)
	require.Equal(t, 1, result.ActorCount)
}

func TestListActorsFiltersByType(t *testing.T) {
	srv, sys := newTestServer(t)

	echoAddr := actor.NewAddress("local", "echo", "1")
	_, err := sys.Spawn(echoAddr, echoBehavior{})
	require.NoError(t, err)

	otherAddr := actor.NewAddress("local", "worker", "1")
	_, err = sys.Spawn(otherAddr, echoBehavior{})
	require.NoError(t, err)

	_, result, err := srv.handleListActors(context.Background(), &sdkmcp.CallToolRequest{}, ListActorsArgs{Type: "echo"})
	require.NoError(t, err)
	require.Equal(t, []string{echoAddr.Path()}, result.Addresses)
}

func TestSpawnActorEcho(t *testing.T) {
	srv, _ := newTestServer(t)

	_, result, err := srv.handleSpawnActor(context.Background(), &sdkmcp.CallToolRequest{}, SpawnActorArgs{Kind: "echo", ID: "x"})
	require.NoError(t, err)
	require.Equal(t, "actor://local/echo/x", result.Address)
}

func TestSpawnActorUnsupportedKind(t *testing.T) {
	srv, _ := newTestServer(t)

	_, _, err := srv.handleSpawnActor(context.Background(), &sdkmcp.CallToolRequest{}, SpawnActorArgs{Kind: "bogus"})
	require.Error(t, err)
}
