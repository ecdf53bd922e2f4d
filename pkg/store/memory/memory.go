// Package memory provides an in-process Backend backed by maps. It is the
// reference backend for tests and for short-lived tools.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/OFFIS-RIT/kgstore/pkg/common"
	"github.com/OFFIS-RIT/kgstore/pkg/store"
)

// Backend stores records in memory. All records are copied on the way in
// and out.
type Backend struct {
	mu          sync.RWMutex
	nodes       map[string]common.Node
	edges       map[string]common.Edge
	communities map[string]common.Community
}

var (
	_ store.Backend     = (*Backend)(nil)
	_ store.EdgeIndexer = (*Backend)(nil)
)

func New() *Backend {
	return &Backend{
		nodes:       make(map[string]common.Node),
		edges:       make(map[string]common.Edge),
		communities: make(map[string]common.Community),
	}
}

func (b *Backend) GetNode(_ context.Context, uid string) (common.Node, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n, ok := b.nodes[uid]
	if !ok {
		return common.Node{}, store.ErrNotFound
	}
	return n.Clone(), nil
}

func (b *Backend) InsertNode(_ context.Context, node common.Node) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.nodes[node.UID]; ok {
		return store.ErrAlreadyExists
	}
	b.nodes[node.UID] = node.Clone()
	return nil
}

func (b *Backend) PutNode(_ context.Context, node common.Node) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nodes[node.UID] = node.Clone()
	return nil
}

func (b *Backend) DeleteNode(_ context.Context, uid string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.nodes, uid)
	return nil
}

func (b *Backend) NodeExists(_ context.Context, uid string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.nodes[uid]
	return ok, nil
}

func (b *Backend) ScanNodes(ctx context.Context, fn func(common.Node) error) error {
	b.mu.RLock()
	snapshot := make([]common.Node, 0, len(b.nodes))
	for _, n := range b.nodes {
		snapshot = append(snapshot, n.Clone())
	}
	b.mu.RUnlock()

	slices.SortFunc(snapshot, func(a, b common.Node) int { return strings.Compare(a.UID, b.UID) })
	for _, n := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(n); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) GetEdge(_ context.Context, key string) (common.Edge, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.edges[key]
	if !ok {
		return common.Edge{}, store.ErrNotFound
	}
	return e, nil
}

func (b *Backend) PutEdge(_ context.Context, edge common.Edge) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.edges[edge.EdgeUID] = edge
	return nil
}

func (b *Backend) DeleteEdge(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.edges, key)
	return nil
}

func (b *Backend) EdgeExists(_ context.Context, key string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.edges[key]
	return ok, nil
}

func (b *Backend) ScanEdges(ctx context.Context, fn func(common.Edge) error) error {
	b.mu.RLock()
	snapshot := make([]common.Edge, 0, len(b.edges))
	for _, e := range b.edges {
		snapshot = append(snapshot, e)
	}
	b.mu.RUnlock()

	slices.SortFunc(snapshot, func(a, b common.Edge) int { return strings.Compare(a.EdgeUID, b.EdgeUID) })
	for _, e := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) EdgesTouching(_ context.Context, uid string) ([]common.Edge, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []common.Edge
	for _, e := range b.edges {
		if e.SourceUID == uid || e.TargetUID == uid {
			out = append(out, e)
		}
	}
	return out, nil
}

func (b *Backend) GetCommunity(_ context.Context, title string) (common.Community, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.communities[title]
	if !ok {
		return common.Community{}, store.ErrNotFound
	}
	return cloneCommunity(c), nil
}

func (b *Backend) PutCommunity(_ context.Context, c common.Community) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.communities[c.Title] = cloneCommunity(c)
	return nil
}

func (b *Backend) ScanCommunities(ctx context.Context, fn func(common.Community) error) error {
	b.mu.RLock()
	snapshot := make([]common.Community, 0, len(b.communities))
	for _, c := range b.communities {
		snapshot = append(snapshot, cloneCommunity(c))
	}
	b.mu.RUnlock()

	for _, c := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) Flush(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.nodes)
	clear(b.edges)
	clear(b.communities)
	return nil
}

func (b *Backend) Close() error {
	return nil
}

func cloneCommunity(c common.Community) common.Community {
	c.Nodes = slices.Clone(c.Nodes)
	c.Embedding = slices.Clone(c.Embedding)
	c.Findings = slices.Clone(c.Findings)
	if c.Rating != nil {
		r := *c.Rating
		c.Rating = &r
	}
	return c
}
