// Package bench runs a fixed latency workload against a GraphStore.
package bench

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/OFFIS-RIT/kgstore/internal/timing"
	"github.com/OFFIS-RIT/kgstore/internal/util"
	"github.com/OFFIS-RIT/kgstore/pkg/common"
	"github.com/OFFIS-RIT/kgstore/pkg/logger"
	"github.com/OFFIS-RIT/kgstore/pkg/store"
)

// Operation names reported in Result.Stats.
const (
	OpAddNode    = "add_node"
	OpAddEdge    = "add_edge"
	OpGetNode    = "get_node"
	OpGetEdge    = "get_edge"
	OpBuildView  = "build_view"
	OpNeighbors  = "nearest_neighbors"
	OpRemoveEdge = "remove_edge"
	OpRemoveNode = "remove_node"
)

// Workload describes one run. Node i links to the next EdgesPerNode nodes
// on a ring, so every node has the same degree.
type Workload struct {
	Nodes        int
	EdgesPerNode int
	Directed     bool
	// EmbeddingDim > 0 attaches embeddings and times nearest neighbor
	// queries.
	EmbeddingDim int
}

// DefaultWorkload is small enough to run against hosted backends.
var DefaultWorkload = Workload{Nodes: 100, EdgesPerNode: 2}

type Result struct {
	Backend string        `json:"backend"`
	Elapsed time.Duration `json:"elapsed"`
	Stats   []timing.Stat `json:"stats"`
}

// Run executes w on gs. Failed calls are counted but do not stop the run;
// only a cancelled ctx does. Every record created is removed again.
func Run(ctx context.Context, name string, gs *store.GraphStore, w Workload) (Result, error) {
	if w.Nodes <= 0 {
		return Result{}, fmt.Errorf("workload needs at least one node")
	}
	if w.EdgesPerNode >= w.Nodes {
		w.EdgesPerNode = w.Nodes - 1
	}

	rec := timing.NewRecorder()
	start := time.Now()
	run := util.NewID()
	uid := func(i int) string { return fmt.Sprintf("bench-%s-%d", run, i%w.Nodes) }

	logger.Info("[Bench][Run] Starting workload", "backend", name, "nodes", w.Nodes, "edges_per_node", w.EdgesPerNode)

	for i := range w.Nodes {
		node := common.Node{
			Title:       uid(i),
			Type:        "BENCH",
			Description: "benchmark node",
			DocumentID:  run,
			Embedding:   vector(i, w.EmbeddingDim),
		}
		rec.Time(OpAddNode, func() error { return gs.AddNode(ctx, uid(i), node) })
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
	}

	for i := range w.Nodes {
		for k := 1; k <= w.EdgesPerNode; k++ {
			edge := common.Edge{SourceUID: uid(i), TargetUID: uid(i + k), Description: "benchmark edge"}
			rec.Time(OpAddEdge, func() error { return gs.AddEdge(ctx, edge, w.Directed) })
		}
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
	}

	for i := range w.Nodes {
		rec.Time(OpGetNode, func() error {
			_, err := gs.GetNode(ctx, uid(i))
			return err
		})
		if w.EdgesPerNode > 0 {
			rec.Time(OpGetEdge, func() error {
				_, err := gs.GetEdge(ctx, uid(i), uid(i+1))
				return err
			})
		}
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
	}

	rec.Time(OpBuildView, func() error {
		_, err := gs.BuildGraphView(ctx)
		return err
	})

	if w.EmbeddingDim > 0 {
		for i := range min(w.Nodes, 10) {
			q := vector(i, w.EmbeddingDim)
			rec.Time(OpNeighbors, func() error {
				_, err := gs.NearestNeighbors(ctx, q, 5)
				return err
			})
		}
	}

	// drop the first outgoing edge of every node, then the nodes with
	// whatever edges remain
	if w.EdgesPerNode > 0 {
		for i := range w.Nodes {
			rec.Time(OpRemoveEdge, func() error { return gs.RemoveEdge(ctx, uid(i), uid(i+1), w.Directed) })
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
		}
	}
	for i := range w.Nodes {
		rec.Time(OpRemoveNode, func() error { return gs.RemoveNode(ctx, uid(i)) })
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
	}

	res := Result{Backend: name, Elapsed: time.Since(start), Stats: rec.Stats()}
	for _, s := range res.Stats {
		if s.Errors > 0 {
			logger.Warn("[Bench][Run] Operation had failures", "backend", name, "op", s.Op, "errors", s.Errors)
		}
	}
	logger.Info("[Bench][Run] Finished workload", "backend", name, "elapsed", timing.FormatDuration(res.Elapsed))
	return res, nil
}

// vector returns a deterministic embedding for node i, or nil when dim is 0.
func vector(i, dim int) []float32 {
	if dim <= 0 {
		return nil
	}
	v := make([]float32, dim)
	for j := range v {
		v[j] = float32((i+1)*(j+1)%97) / 97
	}
	return v
}

// WriteTable prints one row per backend and operation.
func WriteTable(out io.Writer, results []Result) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BACKEND\tOPERATION\tCOUNT\tERRORS\tMEAN\tP50\tP95\tMAX\tTOTAL")
	for _, r := range results {
		for _, s := range r.Stats {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\t%s\t%s\t%s\n",
				r.Backend, s.Op, s.Count, s.Errors,
				s.Mean(), s.P50, s.P95, s.Max, timing.FormatDuration(s.Total))
		}
	}
	return w.Flush()
}
