// Package community detects Louvain communities in a stored graph and
// persists them as community records.
package community

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/OFFIS-RIT/kgstore/internal/util"
	"github.com/OFFIS-RIT/kgstore/pkg/common"
	"github.com/OFFIS-RIT/kgstore/pkg/graph"
	"github.com/OFFIS-RIT/kgstore/pkg/logger"
	"github.com/OFFIS-RIT/kgstore/pkg/store"

	"golang.org/x/sync/errgroup"
)

// Graph is the part of store.GraphStore detection needs.
type Graph interface {
	BuildGraphView(ctx context.Context) (*graph.View, error)
	StoreCommunity(ctx context.Context, c common.Community) error
	SetCommunityID(ctx context.Context, uid string, id int) (bool, error)
}

var _ Graph = (*store.GraphStore)(nil)

type options struct {
	resolution  float64
	titlePrefix string
	minSize     int
	assign      bool
	parallelism int
	dryRun      bool
}

type Option func(*options)

// WithResolution sets the modularity resolution. Values above 1 favour
// smaller communities.
func WithResolution(r float64) Option {
	return func(o *options) { o.resolution = r }
}

// WithTitlePrefix sets the prefix of generated titles. Titles are the
// prefix followed by the community index.
func WithTitlePrefix(p string) Option {
	return func(o *options) { o.titlePrefix = p }
}

// WithMinSize skips communities with fewer members.
func WithMinSize(n int) Option {
	return func(o *options) { o.minSize = n }
}

// WithAssign controls whether member nodes get their community_id set.
func WithAssign(assign bool) Option {
	return func(o *options) { o.assign = assign }
}

func WithParallelism(n int) Option {
	return func(o *options) { o.parallelism = n }
}

// WithDryRun computes the partition without writing anything.
func WithDryRun(dry bool) Option {
	return func(o *options) { o.dryRun = dry }
}

// Result describes one detection run.
type Result struct {
	Communities []common.Community `json:"communities"`
	Modularity  float64            `json:"modularity"`
	Skipped     int                `json:"skipped"`
	Assigned    int                `json:"assigned"`
}

// Partition returns the Louvain partition of the stored graph as disjoint,
// sorted uid sets.
func Partition(ctx context.Context, g Graph, resolution float64) ([][]string, error) {
	view, err := g.BuildGraphView(ctx)
	if err != nil {
		return nil, err
	}
	return view.Communities(resolution), nil
}

// Detect partitions the graph and stores one community per part. The index
// of a part within the stored set becomes the community_id of its members.
// Communities are upserted under prefix+index; records of an earlier run
// with a higher index than this run produced are left in place.
func Detect(ctx context.Context, g Graph, opts ...Option) (Result, error) {
	o := options{
		resolution:  graph.DefaultResolution,
		titlePrefix: "community-",
		minSize:     1,
		assign:      true,
		parallelism: 8,
	}
	for _, opt := range opts {
		opt(&o)
	}

	view, err := g.BuildGraphView(ctx)
	if err != nil {
		return Result{}, err
	}
	parts := view.Communities(o.resolution)

	var res Result
	res.Modularity = view.Modularity(parts, o.resolution)
	for _, part := range parts {
		if len(part) < o.minSize {
			res.Skipped++
			continue
		}
		res.Communities = append(res.Communities, common.Community{
			Title:        fmt.Sprintf("%s%d", o.titlePrefix, len(res.Communities)),
			Nodes:        part,
			CommunityUID: util.NewID(),
		})
	}
	logger.Info("[Community][Detect] Partitioned graph", "nodes", view.NodeCount(), "communities", len(res.Communities), "skipped", res.Skipped, "modularity", res.Modularity)
	if o.dryRun {
		return res, nil
	}

	for _, c := range res.Communities {
		if err := g.StoreCommunity(ctx, c); err != nil {
			return res, err
		}
	}
	if !o.assign {
		return res, nil
	}

	eg, ectx := errgroup.WithContext(ctx)
	if o.parallelism > 0 {
		eg.SetLimit(o.parallelism)
	}
	var assigned atomic.Int64
	for i, c := range res.Communities {
		for _, uid := range c.Nodes {
			eg.Go(func() error {
				ok, err := assign(ectx, g, uid, i)
				if ok {
					assigned.Add(1)
				}
				return err
			})
		}
	}
	err = eg.Wait()
	res.Assigned = int(assigned.Load())
	return res, err
}

func assign(ctx context.Context, g Graph, uid string, id int) (bool, error) {
	ok, err := g.SetCommunityID(ctx, uid, id)
	if errors.Is(err, store.ErrNotFound) {
		// removed since the view was built
		return false, nil
	}
	return ok, err
}
