package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/OFFIS-RIT/kgstore/pkg/common"
	"github.com/OFFIS-RIT/kgstore/pkg/store"
	"github.com/OFFIS-RIT/kgstore/pkg/store/storetest"
)

func openMemory(t *testing.T) *Backend {
	t.Helper()
	b, err := Open(context.Background(), ":memory:", store.Collections{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBackend(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Backend {
		return openMemory(t)
	})
}

func TestInsertNodeConflict(t *testing.T) {
	ctx := context.Background()
	b := openMemory(t)
	if err := b.InsertNode(ctx, common.Node{UID: "a", Title: "first"}); err != nil {
		t.Fatalf("InsertNode: %v", err)
	}
	if err := b.InsertNode(ctx, common.Node{UID: "a", Title: "second"}); !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	n, err := b.GetNode(ctx, "a")
	if err != nil || n.Title != "first" {
		t.Fatalf("expected first record to survive, got %+v, %v", n, err)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kg.db")
	cols := store.Collections{Nodes: "kg_nodes", Edges: "kg_edges", Communities: "kg_communities"}

	b, err := Open(ctx, path, cols)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s := store.NewGraphStore(b)
	for _, uid := range []string{"a", "b"} {
		if err := s.AddNode(ctx, uid, common.Node{Title: uid}); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
	}
	if err := s.AddEdge(ctx, common.Edge{SourceUID: "a", TargetUID: "b"}, false); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, err = Open(ctx, path, cols)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	edges, err := b.EdgesTouching(ctx, "a")
	if err != nil {
		t.Fatalf("EdgesTouching: %v", err)
	}
	if len(edges) != 2 {
		t.Fatalf("expected both records of the undirected edge, got %+v", edges)
	}
}
