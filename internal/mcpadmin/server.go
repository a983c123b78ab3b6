// Package mcpadmin implements spec.md §4.16's operational introspection
// surface: three MCP tools registered against a running system.System,
// mirroring the teacher's internal/mcp tool-registration idiom
// (internal/mcp/server.go, internal/mcp/tools.go). This is purely an
// operator convenience layered on top of the programmatic surface in
// spec.md §6; it never changes core runtime semantics.
package mcpadmin

import (
	"context"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nimbus-actors/nimbus/internal/actor"
	"github.com/nimbus-actors/nimbus/internal/system"
)

// EchoSpawner builds a built-in echo behaviour for the spawn_actor tool's
// operational smoke-testing use case. It is supplied by the daemon rather
// than hard-coded here, so mcpadmin never needs to import a concrete
// behaviour package of its own.
type EchoSpawner func() actor.Behavior

// Server wraps an MCP server exposing read/operate tools over a
// system.System, in the shape of the teacher's mcp.Server wrapping mail
// service dependencies.
type Server struct {
	server *sdkmcp.Server
	sys    *system.System
	echo   EchoSpawner
}

// Config configures a Server.
type Config struct {
	System *system.System

	// Echo builds the behaviour spawn_actor instantiates for kind
	// "echo". If nil, spawn_actor rejects every kind.
	Echo EchoSpawner
}

// NewServer constructs an mcpadmin Server and registers its tools.
func NewServer(cfg Config) *Server {
	mcpServer := sdkmcp.NewServer(&sdkmcp.Implementation{
		Name:    "nimbus-admin",
		Version: "0.1.0",
	}, nil)

	s := &Server{server: mcpServer, sys: cfg.System, echo: cfg.Echo}
	s.registerTools()
	return s
}

// Run starts the MCP server on the given transport (typically
// &sdkmcp.StdioTransport{}).
func (s *Server) Run(ctx context.Context, transport sdkmcp.Transport) error {
	return s.server.Run(ctx, transport)
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.server, &sdkmcp.Tool{
		Name:        "system_stats",
		Description: "Return actor counts by status, mailbox utilisation, and directory cache hit rate",
	}, s.handleSystemStats)

	sdkmcp.AddTool(s.server, &sdkmcp.Tool{
		Name:        "list_actors",
		Description: "List addresses known to the directory, optionally filtered by type",
	}, s.handleListActors)

	sdkmcp.AddTool(s.server, &sdkmcp.Tool{
		Name:        "spawn_actor",
		Description: "Spawn a built-in utility actor for operational smoke-testing",
	}, s.handleSpawnActor)
}
