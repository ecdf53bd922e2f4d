package bench

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/kgstore/pkg/store"
	"github.com/OFFIS-RIT/kgstore/pkg/store/memory"
)

func TestRunLeavesStoreEmpty(t *testing.T) {
	ctx := context.Background()
	gs := store.NewGraphStore(memory.New())

	res, err := Run(ctx, "memory", gs, Workload{Nodes: 12, EdgesPerNode: 3, EmbeddingDim: 4})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	counts := map[string]int{}
	for _, s := range res.Stats {
		if s.Errors != 0 {
			t.Errorf("%s had %d errors", s.Op, s.Errors)
		}
		counts[s.Op] = s.Count
	}
	want := map[string]int{
		OpAddNode:    12,
		OpAddEdge:    36,
		OpGetNode:    12,
		OpGetEdge:    12,
		OpBuildView:  1,
		OpNeighbors:  10,
		OpRemoveEdge: 12,
		OpRemoveNode: 12,
	}
	for op, n := range want {
		if counts[op] != n {
			t.Errorf("%s count = %d, want %d", op, counts[op], n)
		}
	}

	view, err := gs.BuildGraphView(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if view.NodeCount() != 0 || view.EdgeCount() != 0 {
		t.Errorf("store left with %d nodes and %d edges", view.NodeCount(), view.EdgeCount())
	}
}

func TestRunClampsDegree(t *testing.T) {
	gs := store.NewGraphStore(memory.New())
	res, err := Run(context.Background(), "memory", gs, Workload{Nodes: 3, EdgesPerNode: 10, Directed: false})
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range res.Stats {
		if s.Op == OpAddEdge && s.Count != 6 {
			t.Errorf("add_edge count = %d, want 6", s.Count)
		}
		if s.Op == OpNeighbors {
			t.Error("neighbors timed without embeddings")
		}
	}
}

func TestRunRejectsEmptyWorkload(t *testing.T) {
	if _, err := Run(context.Background(), "memory", store.NewGraphStore(memory.New()), Workload{}); err == nil {
		t.Fatal("expected error for zero nodes")
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Run(ctx, "memory", store.NewGraphStore(memory.New()), DefaultWorkload); err == nil {
		t.Fatal("expected context error")
	}
}

func TestWriteTable(t *testing.T) {
	gs := store.NewGraphStore(memory.New())
	res, err := Run(context.Background(), "memory", gs, Workload{Nodes: 2, EdgesPerNode: 1})
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := WriteTable(&buf, []Result{res}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "BACKEND") || !strings.Contains(out, "memory") || !strings.Contains(out, OpRemoveNode) {
		t.Errorf("table = %q", out)
	}
}
