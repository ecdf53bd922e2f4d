package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/OFFIS-RIT/kgstore/pkg/common"
	"github.com/OFFIS-RIT/kgstore/pkg/store"
	"github.com/OFFIS-RIT/kgstore/pkg/store/memory"

	"github.com/google/go-cmp/cmp"
)

// lengthEmbedder embeds text as {len(text), 1, 1}.
type lengthEmbedder struct{ calls int }

func (e *lengthEmbedder) GenerateEmbedding(_ context.Context, in []byte) ([]float32, error) {
	e.calls++
	return []float32{float32(len(in)), 1, 1}, nil
}

type failingEmbedder struct{}

func (failingEmbedder) GenerateEmbedding(context.Context, []byte) ([]float32, error) {
	return nil, errors.New("model offline")
}

func TestEmbedNodes(t *testing.T) {
	ctx := context.Background()
	gs := store.NewGraphStore(memory.New(), store.WithEmbeddingDim(2))
	nodes := map[string]common.Node{
		"a":     {Title: "Ada"},
		"b":     {Title: "Babbage", Embedding: []float32{9, 9}},
		"blank": {},
	}
	for uid, n := range nodes {
		if err := gs.AddNode(ctx, uid, n); err != nil {
			t.Fatal(err)
		}
	}

	emb := &lengthEmbedder{}
	written, err := gs.EmbedNodes(ctx, emb, store.EmbedOptions{})
	if err != nil {
		t.Fatalf("EmbedNodes: %v", err)
	}
	if diff := cmp.Diff([]string{"a"}, written); diff != "" {
		t.Errorf("written mismatch (-want +got):\n%s", diff)
	}
	a, _ := gs.GetNode(ctx, "a")
	if diff := cmp.Diff([]float32{3, 1}, a.Embedding); diff != "" {
		t.Errorf("embedding mismatch (-want +got):\n%s", diff)
	}
	b, _ := gs.GetNode(ctx, "b")
	if diff := cmp.Diff([]float32{9, 9}, b.Embedding); diff != "" {
		t.Errorf("existing embedding changed (-want +got):\n%s", diff)
	}

	written, err = gs.EmbedNodes(ctx, emb, store.EmbedOptions{Force: true, BatchSize: 1})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, written); diff != "" {
		t.Errorf("forced written mismatch (-want +got):\n%s", diff)
	}
	b, _ = gs.GetNode(ctx, "b")
	if diff := cmp.Diff([]float32{7, 1}, b.Embedding); diff != "" {
		t.Errorf("forced embedding mismatch (-want +got):\n%s", diff)
	}
}

func TestEmbedNodesErrors(t *testing.T) {
	ctx := context.Background()
	gs := store.NewGraphStore(memory.New())
	if err := gs.AddNode(ctx, "a", common.Node{Title: "Ada"}); err != nil {
		t.Fatal(err)
	}

	if _, err := gs.EmbedNodes(ctx, nil, store.EmbedOptions{}); !errors.Is(err, store.ErrInvalidArgument) {
		t.Errorf("nil client: err = %v", err)
	}
	if _, err := gs.EmbedNodes(ctx, failingEmbedder{}, store.EmbedOptions{}); !errors.Is(err, store.ErrBackendUnavailable) {
		t.Errorf("failing client: err = %v", err)
	}
}
