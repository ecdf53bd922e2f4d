package store

import (
	"context"

	"github.com/OFFIS-RIT/kgstore/pkg/common"
	"github.com/OFFIS-RIT/kgstore/pkg/graph"
)

// GraphStorage defines the interface for persisting and querying a knowledge
// graph of nodes, edges and communities. Implementations keep the adjacency
// lists embedded in each node consistent with the edge records, surface
// precondition failures before any write, and keep going on best-effort peer
// updates when a peer vanished or could not be written.
type GraphStorage interface {
	AddNode(ctx context.Context, uid string, node common.Node) error
	GetNode(ctx context.Context, uid string) (common.Node, error)
	UpdateNode(ctx context.Context, uid string, node common.Node) error
	RemoveNode(ctx context.Context, uid string) error
	NodeExists(ctx context.Context, uid string) (bool, error)

	AddEdge(ctx context.Context, edge common.Edge, directed bool) error
	GetEdge(ctx context.Context, source, target string) (common.Edge, error)
	UpdateEdge(ctx context.Context, edge common.Edge) error
	RemoveEdge(ctx context.Context, source, target string, directed bool) error
	EdgeExists(ctx context.Context, source, target string) (bool, error)
	GenerateEdgeKey(source, target string) string

	BuildGraphView(ctx context.Context) (*graph.View, error)

	StoreCommunity(ctx context.Context, community common.Community) error
	GetCommunity(ctx context.Context, title string) (common.Community, error)
	ListCommunities(ctx context.Context) ([]common.Community, error)

	NearestNeighbors(ctx context.Context, query []float32, k int) ([]Neighbor, error)

	FlushGraph(ctx context.Context) error
	CleanZeroDegreeNodes(ctx context.Context) ([]string, error)
	Repair(ctx context.Context, opts RepairOptions) (RepairReport, error)
}
