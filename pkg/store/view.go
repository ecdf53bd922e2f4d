package store

import (
	"context"

	"github.com/OFFIS-RIT/kgstore/pkg/common"
	"github.com/OFFIS-RIT/kgstore/pkg/graph"
	"github.com/OFFIS-RIT/kgstore/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// BuildGraphView scans every node and edge and returns a fresh undirected
// snapshot. Nothing is cached; each call rebuilds from the backend.
func (s *GraphStore) BuildGraphView(ctx context.Context) (*graph.View, error) {
	const op = "BuildGraphView"
	var (
		nodes []common.Node
		edges []common.Edge
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.backend.ScanNodes(gctx, func(n common.Node) error {
			n.Normalize()
			nodes = append(nodes, n)
			return nil
		})
	})
	g.Go(func() error {
		return s.backend.ScanEdges(gctx, func(e common.Edge) error {
			edges = append(edges, e)
			return nil
		})
	})
	if err := g.Wait(); err != nil {
		return nil, wrap(op, "", err)
	}

	view := graph.NewView(nodes, edges)
	if d := view.DanglingEdges(); d > 0 {
		logger.Warn("[Store][BuildGraphView] Ignored edges with missing endpoints", "count", d)
	}
	return view, nil
}
