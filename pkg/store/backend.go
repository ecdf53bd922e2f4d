package store

import (
	"context"

	"github.com/OFFIS-RIT/kgstore/pkg/common"
)

// Backend is the set of storage primitives a database adapter provides. The
// GraphStore builds every consistency rule on top of these calls, so an
// adapter only translates them into native operations.
//
// Adapters report a missing record as ErrNotFound and a duplicate InsertNode
// as ErrAlreadyExists. Deletes of missing records succeed. Any other error is
// treated as a transport failure. Scan callbacks run sequentially and must not
// call back into the backend.
type Backend interface {
	GetNode(ctx context.Context, uid string) (common.Node, error)
	// InsertNode stores node only if no node with the same uid exists.
	InsertNode(ctx context.Context, node common.Node) error
	PutNode(ctx context.Context, node common.Node) error
	DeleteNode(ctx context.Context, uid string) error
	NodeExists(ctx context.Context, uid string) (bool, error)
	ScanNodes(ctx context.Context, fn func(common.Node) error) error

	GetEdge(ctx context.Context, key string) (common.Edge, error)
	PutEdge(ctx context.Context, edge common.Edge) error
	DeleteEdge(ctx context.Context, key string) error
	EdgeExists(ctx context.Context, key string) (bool, error)
	ScanEdges(ctx context.Context, fn func(common.Edge) error) error

	GetCommunity(ctx context.Context, title string) (common.Community, error)
	PutCommunity(ctx context.Context, community common.Community) error
	ScanCommunities(ctx context.Context, fn func(common.Community) error) error

	// Flush removes every node, edge and community.
	Flush(ctx context.Context) error
	Close() error
}

// VectorSearcher is implemented by backends with a native vector index.
// Returning errors.ErrUnsupported makes the store fall back to an exact scan.
type VectorSearcher interface {
	NearestNodes(ctx context.Context, query []float32, k int, measure DistanceMeasure) ([]Neighbor, error)
}

// EdgeIndexer is implemented by backends that can look up all edge records
// with a given source or target without a full scan. Returning
// errors.ErrUnsupported makes the store derive the keys from adjacency.
type EdgeIndexer interface {
	EdgesTouching(ctx context.Context, uid string) ([]common.Edge, error)
}

// Locker serializes operations on a set of node uids. The returned function
// releases every key.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (func(), error)
}

type noopLocker struct{}

func (noopLocker) Lock(context.Context, ...string) (func(), error) {
	return func() {}, nil
}
