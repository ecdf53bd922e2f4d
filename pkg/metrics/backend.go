package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/OFFIS-RIT/kgstore/pkg/common"
	"github.com/OFFIS-RIT/kgstore/pkg/store"
)

// Backend records the outcome and latency of every call to the decorated
// backend. Optional capabilities the inner backend lacks report
// errors.ErrUnsupported.
type Backend struct {
	inner store.Backend
	name  string
	c     *Collector
}

var (
	_ store.Backend        = (*Backend)(nil)
	_ store.VectorSearcher = (*Backend)(nil)
	_ store.EdgeIndexer    = (*Backend)(nil)
)

// Instrument wraps inner. name is the backend label value.
func (c *Collector) Instrument(inner store.Backend, name string) *Backend {
	return &Backend{inner: inner, name: name, c: c}
}

func record[T any](b *Backend, op string, fn func() (T, error)) (T, error) {
	start := time.Now()
	v, err := fn()
	b.c.BackendOps.WithLabelValues(b.name, op, Status(err)).Inc()
	b.c.BackendDuration.WithLabelValues(b.name, op).Observe(time.Since(start).Seconds())
	return v, err
}

func recordErr(b *Backend, op string, fn func() error) error {
	_, err := record(b, op, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

func (b *Backend) GetNode(ctx context.Context, uid string) (common.Node, error) {
	return record(b, "get_node", func() (common.Node, error) { return b.inner.GetNode(ctx, uid) })
}

func (b *Backend) InsertNode(ctx context.Context, node common.Node) error {
	return recordErr(b, "insert_node", func() error { return b.inner.InsertNode(ctx, node) })
}

func (b *Backend) PutNode(ctx context.Context, node common.Node) error {
	return recordErr(b, "put_node", func() error { return b.inner.PutNode(ctx, node) })
}

func (b *Backend) DeleteNode(ctx context.Context, uid string) error {
	return recordErr(b, "delete_node", func() error { return b.inner.DeleteNode(ctx, uid) })
}

func (b *Backend) NodeExists(ctx context.Context, uid string) (bool, error) {
	return record(b, "node_exists", func() (bool, error) { return b.inner.NodeExists(ctx, uid) })
}

func (b *Backend) ScanNodes(ctx context.Context, fn func(common.Node) error) error {
	return recordErr(b, "scan_nodes", func() error { return b.inner.ScanNodes(ctx, fn) })
}

func (b *Backend) GetEdge(ctx context.Context, key string) (common.Edge, error) {
	return record(b, "get_edge", func() (common.Edge, error) { return b.inner.GetEdge(ctx, key) })
}

func (b *Backend) PutEdge(ctx context.Context, edge common.Edge) error {
	return recordErr(b, "put_edge", func() error { return b.inner.PutEdge(ctx, edge) })
}

func (b *Backend) DeleteEdge(ctx context.Context, key string) error {
	return recordErr(b, "delete_edge", func() error { return b.inner.DeleteEdge(ctx, key) })
}

func (b *Backend) EdgeExists(ctx context.Context, key string) (bool, error) {
	return record(b, "edge_exists", func() (bool, error) { return b.inner.EdgeExists(ctx, key) })
}

func (b *Backend) ScanEdges(ctx context.Context, fn func(common.Edge) error) error {
	return recordErr(b, "scan_edges", func() error { return b.inner.ScanEdges(ctx, fn) })
}

func (b *Backend) GetCommunity(ctx context.Context, title string) (common.Community, error) {
	return record(b, "get_community", func() (common.Community, error) { return b.inner.GetCommunity(ctx, title) })
}

func (b *Backend) PutCommunity(ctx context.Context, c common.Community) error {
	return recordErr(b, "put_community", func() error { return b.inner.PutCommunity(ctx, c) })
}

func (b *Backend) ScanCommunities(ctx context.Context, fn func(common.Community) error) error {
	return recordErr(b, "scan_communities", func() error { return b.inner.ScanCommunities(ctx, fn) })
}

func (b *Backend) EdgesTouching(ctx context.Context, uid string) ([]common.Edge, error) {
	ix, ok := b.inner.(store.EdgeIndexer)
	if !ok {
		return nil, errors.ErrUnsupported
	}
	return record(b, "edges_touching", func() ([]common.Edge, error) { return ix.EdgesTouching(ctx, uid) })
}

func (b *Backend) NearestNodes(ctx context.Context, query []float32, k int, m store.DistanceMeasure) ([]store.Neighbor, error) {
	vs, ok := b.inner.(store.VectorSearcher)
	if !ok {
		return nil, errors.ErrUnsupported
	}
	return record(b, "nearest_nodes", func() ([]store.Neighbor, error) { return vs.NearestNodes(ctx, query, k, m) })
}

func (b *Backend) Flush(ctx context.Context) error {
	return recordErr(b, "flush", func() error { return b.inner.Flush(ctx) })
}

func (b *Backend) Close() error {
	return b.inner.Close()
}
