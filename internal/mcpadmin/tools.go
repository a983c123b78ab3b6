package mcpadmin

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nimbus-actors/nimbus/internal/actor"
)

// SystemStatsArgs takes no parameters; it is a struct (rather than
// `struct{}` inline) so the MCP SDK can still generate an (empty)
// jsonschema for it.
type SystemStatsArgs struct{}

// SystemStatsResult is the result of the system_stats tool.
type SystemStatsResult struct {
	ActorCount         int            `json:"actor_count"`
	ByStatus           map[string]int `json:"by_status"`
	AvgMailboxUtil     float64        `json:"avg_mailbox_utilization"`
	DirectoryHitRate   float64        `json:"directory_hit_rate"`
	DirectoryCacheSize int            `json:"directory_cache_size"`
}

func (s *Server) handleSystemStats(ctx context.Context,
	_ *sdkmcp.CallToolRequest, _ SystemStatsArgs) (*sdkmcp.CallToolResult, SystemStatsResult, error) {

	addrs := s.sys.ListAddresses()

	byStatus := make(map[string]int)
	var utilSum float64
	for _, addr := range addrs {
		inst, ok := s.sys.Lookup(addr)
		if !ok {
			continue
		}
		byStatus[inst.Status().String()]++
		utilSum += inst.MailboxStats().Utilization()
	}

	avgUtil := 0.0
	if len(addrs) > 0 {
		avgUtil = utilSum / float64(len(addrs))
	}

	dirStats := s.sys.Directory().Stats()

	return nil, SystemStatsResult{
		ActorCount:         len(addrs),
		ByStatus:           byStatus,
		AvgMailboxUtil:     avgUtil,
		DirectoryHitRate:   dirStats.HitRate(),
		DirectoryCacheSize: dirStats.Size,
	}, nil
}

// ListActorsArgs are the arguments for the list_actors tool.
type ListActorsArgs struct {
	// Type, if set, restricts the listing to one actor type.
	Type string `json:"type,omitempty" jsonschema:"Optional actor type filter"`
}

// ListActorsResult is the result of the list_actors tool.
type ListActorsResult struct {
	Addresses []string `json:"addresses"`
}

func (s *Server) handleListActors(ctx context.Context,
	_ *sdkmcp.CallToolRequest, args ListActorsArgs) (*sdkmcp.CallToolResult, ListActorsResult, error) {

	var addrs []actor.Address
	if args.Type != "" {
		addrs = s.sys.Directory().ListByType(args.Type)
	} else {
		for _, e := range s.sys.Directory().GetAll() {
			addrs = append(addrs, e.Address)
		}
	}

	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Path()
	}

	return nil, ListActorsResult{Addresses: out}, nil
}

// SpawnActorArgs are the arguments for the spawn_actor tool.
type SpawnActorArgs struct {
	// Kind selects which built-in behaviour to instantiate. Only "echo"
	// is supported.
	Kind string `json:"kind" jsonschema:"Built-in behaviour kind to spawn, e.g. echo"`

	// ID, if set, names the spawned actor; otherwise one is generated.
	ID string `json:"id,omitempty" jsonschema:"Optional actor id; generated if omitted"`
}

// SpawnActorResult is the result of the spawn_actor tool.
type SpawnActorResult struct {
	Address string `json:"address"`
}

func (s *Server) handleSpawnActor(ctx context.Context,
	_ *sdkmcp.CallToolRequest, args SpawnActorArgs) (*sdkmcp.CallToolResult, SpawnActorResult, error) {

	if args.Kind != "echo" || s.echo == nil {
		return nil, SpawnActorResult{}, fmt.Errorf("mcpadmin: unsupported spawn kind %q", args.Kind)
	}

	id := args.ID
	if id == "" {
		id = uuid.NewString()
	}

	addr := actor.NewAddress("local", "echo", id)
	if _, err := s.sys.Spawn(addr, s.echo()); err != nil {
		return nil, SpawnActorResult{}, err
	}

	return nil, SpawnActorResult{Address: addr.Path()}, nil
}
