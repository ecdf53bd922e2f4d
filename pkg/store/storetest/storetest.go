// Package storetest holds the behavioral checks every Backend must pass when
// driven through store.GraphStore. Backend packages call Run from their own
// tests.
package storetest

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/OFFIS-RIT/kgstore/pkg/common"
	"github.com/OFFIS-RIT/kgstore/pkg/store"

	"github.com/google/go-cmp/cmp"
)

// Factory returns an empty backend. It should register its own cleanup.
type Factory func(t *testing.T) store.Backend

// Run executes the full suite against backends created by newBackend.
func Run(t *testing.T, newBackend Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s *store.GraphStore)
	}{
		{"NodeRoundTrip", testNodeRoundTrip},
		{"AddNodeTwice", testAddNodeTwice},
		{"AddNodeInvalidReference", testAddNodeInvalidReference},
		{"AddNodeUpdatesPeers", testAddNodeUpdatesPeers},
		{"AddNodeInvalidUID", testAddNodeInvalidUID},
		{"UpdateNode", testUpdateNode},
		{"DirectedEdge", testDirectedEdge},
		{"UndirectedEdge", testUndirectedEdge},
		{"AddEdgeMissingEndpoint", testAddEdgeMissingEndpoint},
		{"AddEdgeTwiceIsUpsert", testAddEdgeTwiceIsUpsert},
		{"SelfLoop", testSelfLoop},
		{"RemoveDirectedEdge", testRemoveDirectedEdge},
		{"RemoveUndirectedEdge", testRemoveUndirectedEdge},
		{"RemoveMissingEdge", testRemoveMissingEdge},
		{"UpdateEdge", testUpdateEdge},
		{"UpdateEdgeHealsAdjacency", testUpdateEdgeHealsAdjacency},
		{"UpdateUndirectedEdge", testUpdateUndirectedEdge},
		{"RemoveNodeCascades", testRemoveNodeCascades},
		{"Scenario", testScenario},
		{"GraphView", testGraphView},
		{"Communities", testCommunities},
		{"NearestNeighbors", testNearestNeighbors},
		{"CleanZeroDegreeNodes", testCleanZeroDegreeNodes},
		{"FlushGraph", testFlushGraph},
		{"Repair", testRepair},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, store.NewGraphStore(newBackend(t)))
		})
	}
}

func mustKind(t *testing.T, err, kind error) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("expected %v, got %v", kind, err)
	}
	var oe *store.OpError
	if !errors.As(err, &oe) {
		t.Fatalf("expected *store.OpError, got %T", err)
	}
}

func mustAdd(t *testing.T, s *store.GraphStore, uids ...string) {
	t.Helper()
	for _, uid := range uids {
		if err := s.AddNode(context.Background(), uid, common.Node{Title: uid, Type: "entity"}); err != nil {
			t.Fatalf("AddNode(%s): %v", uid, err)
		}
	}
}

func mustEdge(t *testing.T, s *store.GraphStore, source, target string, directed bool) {
	t.Helper()
	edge := common.Edge{SourceUID: source, TargetUID: target, Description: source + " relates to " + target}
	if err := s.AddEdge(context.Background(), edge, directed); err != nil {
		t.Fatalf("AddEdge(%s, %s): %v", source, target, err)
	}
}

func mustNode(t *testing.T, s *store.GraphStore, uid string) common.Node {
	t.Helper()
	n, err := s.GetNode(context.Background(), uid)
	if err != nil {
		t.Fatalf("GetNode(%s): %v", uid, err)
	}
	return n
}

func adjacency(t *testing.T, s *store.GraphStore, uid string, wantTo, wantFrom []string) {
	t.Helper()
	n := mustNode(t, s, uid)
	if diff := cmp.Diff(common.NormalizeUIDs(wantTo), n.EdgesTo); diff != "" {
		t.Fatalf("%s.edges_to mismatch (-want +got):\n%s", uid, diff)
	}
	if diff := cmp.Diff(common.NormalizeUIDs(wantFrom), n.EdgesFrom); diff != "" {
		t.Fatalf("%s.edges_from mismatch (-want +got):\n%s", uid, diff)
	}
}

func edgeExists(t *testing.T, s *store.GraphStore, source, target string, want bool) {
	t.Helper()
	ctx := context.Background()
	_, err := s.GetEdge(ctx, source, target)
	if want && err != nil {
		t.Fatalf("GetEdge(%s, %s): %v", source, target, err)
	}
	if !want {
		mustKind(t, err, store.ErrNotFound)
	}
	ok, err := s.EdgeExists(ctx, source, target)
	if err != nil {
		t.Fatalf("EdgeExists(%s, %s): %v", source, target, err)
	}
	if ok != want {
		t.Fatalf("EdgeExists(%s, %s) = %v, want %v", source, target, ok, want)
	}
}

func testNodeRoundTrip(t *testing.T, s *store.GraphStore) {
	ctx := context.Background()
	community := 4
	want := common.Node{
		UID:         "n1",
		Title:       "Ada Lovelace",
		Type:        "person",
		Description: "Wrote the first program",
		Degree:      2,
		DocumentID:  "doc-1",
		CommunityID: &community,
		Embedding:   []float32{0.5, -0.25, 1},
	}
	if err := s.AddNode(ctx, "n1", want); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	got := mustNode(t, s, "n1")
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("GetNode mismatch (-want +got):\n%s", diff)
	}
	ok, err := s.NodeExists(ctx, "n1")
	if err != nil || !ok {
		t.Fatalf("NodeExists = %v, %v; want true, nil", ok, err)
	}

	if err := s.RemoveNode(ctx, "n1"); err != nil {
		t.Fatalf("RemoveNode: %v", err)
	}
	_, err = s.GetNode(ctx, "n1")
	mustKind(t, err, store.ErrNotFound)
	mustKind(t, s.RemoveNode(ctx, "n1"), store.ErrNotFound)
}

func testAddNodeTwice(t *testing.T, s *store.GraphStore) {
	ctx := context.Background()
	mustAdd(t, s, "n1")
	mustKind(t, s.AddNode(ctx, "n1", common.Node{Title: "n1", Type: "entity"}), store.ErrAlreadyExists)
	mustKind(t, s.AddNode(ctx, "n1", common.Node{Title: "other"}), store.ErrAlreadyExists)
	if got := mustNode(t, s, "n1"); got.Title != "n1" {
		t.Fatalf("expected original record to survive, got %+v", got)
	}
}

func testAddNodeInvalidReference(t *testing.T, s *store.GraphStore) {
	ctx := context.Background()
	mustAdd(t, s, "n1")

	err := s.AddNode(ctx, "n2", common.Node{EdgesTo: []string{"n1", "ghost"}})
	mustKind(t, err, store.ErrInvalidReference)
	err = s.AddNode(ctx, "n3", common.Node{EdgesFrom: []string{"ghost"}})
	mustKind(t, err, store.ErrInvalidReference)
	err = s.AddNode(ctx, "n4", common.Node{EdgesTo: []string{"n4"}})
	mustKind(t, err, store.ErrInvalidReference)

	for _, uid := range []string{"n2", "n3", "n4"} {
		ok, err := s.NodeExists(ctx, uid)
		if err != nil || ok {
			t.Fatalf("NodeExists(%s) = %v, %v; want false, nil", uid, ok, err)
		}
	}
	adjacency(t, s, "n1", nil, nil)
}

func testAddNodeUpdatesPeers(t *testing.T, s *store.GraphStore) {
	ctx := context.Background()
	mustAdd(t, s, "a", "b")
	err := s.AddNode(ctx, "c", common.Node{EdgesTo: []string{"a", "b"}, EdgesFrom: []string{"b"}})
	if err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	adjacency(t, s, "a", nil, []string{"c"})
	adjacency(t, s, "b", []string{"c"}, []string{"c"})
	adjacency(t, s, "c", []string{"a", "b"}, []string{"b"})
}

func testAddNodeInvalidUID(t *testing.T, s *store.GraphStore) {
	ctx := context.Background()
	mustKind(t, s.AddNode(ctx, "", common.Node{}), store.ErrInvalidArgument)
	mustKind(t, s.AddNode(ctx, "a_to_b", common.Node{}), store.ErrInvalidArgument)
	mustKind(t, s.AddNode(ctx, "a", common.Node{UID: "b"}), store.ErrInvalidArgument)
}

func testUpdateNode(t *testing.T, s *store.GraphStore) {
	ctx := context.Background()
	mustKind(t, s.UpdateNode(ctx, "missing", common.Node{}), store.ErrNotFound)

	mustAdd(t, s, "n1")
	want := common.Node{UID: "n1", Title: "renamed", Type: "person", Degree: 7}
	if err := s.UpdateNode(ctx, "n1", want); err != nil {
		t.Fatalf("UpdateNode: %v", err)
	}
	if diff := cmp.Diff(want, mustNode(t, s, "n1")); diff != "" {
		t.Fatalf("GetNode mismatch (-want +got):\n%s", diff)
	}
}

func testDirectedEdge(t *testing.T, s *store.GraphStore) {
	ctx := context.Background()
	mustAdd(t, s, "a", "b")
	mustEdge(t, s, "a", "b", true)

	adjacency(t, s, "a", []string{"b"}, nil)
	adjacency(t, s, "b", nil, []string{"a"})
	edgeExists(t, s, "a", "b", true)
	edgeExists(t, s, "b", "a", false)

	got, err := s.GetEdge(ctx, "a", "b")
	if err != nil {
		t.Fatalf("GetEdge: %v", err)
	}
	want := common.Edge{
		SourceUID:   "a",
		TargetUID:   "b",
		Description: "a relates to b",
		EdgeUID:     s.GenerateEdgeKey("a", "b"),
		Directed:    true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("GetEdge mismatch (-want +got):\n%s", diff)
	}
}

func testUndirectedEdge(t *testing.T, s *store.GraphStore) {
	mustAdd(t, s, "a", "b")
	mustEdge(t, s, "a", "b", false)

	adjacency(t, s, "a", []string{"b"}, []string{"b"})
	adjacency(t, s, "b", []string{"a"}, []string{"a"})
	edgeExists(t, s, "a", "b", true)
	edgeExists(t, s, "b", "a", true)

	mirror, err := s.GetEdge(context.Background(), "b", "a")
	if err != nil {
		t.Fatalf("GetEdge: %v", err)
	}
	if mirror.Description != "a relates to b" || mirror.Directed {
		t.Fatalf("unexpected mirror record %+v", mirror)
	}
}

func testAddEdgeMissingEndpoint(t *testing.T, s *store.GraphStore) {
	ctx := context.Background()
	mustAdd(t, s, "a")
	mustKind(t, s.AddEdge(ctx, common.Edge{SourceUID: "a", TargetUID: "ghost"}, true), store.ErrNotFound)
	mustKind(t, s.AddEdge(ctx, common.Edge{SourceUID: "ghost", TargetUID: "a"}, false), store.ErrNotFound)
	mustKind(t, s.AddEdge(ctx, common.Edge{SourceUID: "", TargetUID: "a"}, true), store.ErrInvalidArgument)
	mustKind(t, s.AddEdge(ctx, common.Edge{SourceUID: "a", TargetUID: "a", EdgeUID: "x"}, true), store.ErrInvalidArgument)
	adjacency(t, s, "a", nil, nil)
}

func testAddEdgeTwiceIsUpsert(t *testing.T, s *store.GraphStore) {
	ctx := context.Background()
	mustAdd(t, s, "a", "b")
	mustEdge(t, s, "a", "b", true)
	if err := s.AddEdge(ctx, common.Edge{SourceUID: "a", TargetUID: "b", Description: "second"}, true); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	got, err := s.GetEdge(ctx, "a", "b")
	if err != nil {
		t.Fatalf("GetEdge: %v", err)
	}
	if got.Description != "second" {
		t.Fatalf("expected upsert to overwrite description, got %q", got.Description)
	}
	view, err := s.BuildGraphView(ctx)
	if err != nil {
		t.Fatalf("BuildGraphView: %v", err)
	}
	if view.EdgeCount() != 1 {
		t.Fatalf("expected 1 edge after upsert, got %d", view.EdgeCount())
	}
	adjacency(t, s, "a", []string{"b"}, nil)
}

func testSelfLoop(t *testing.T, s *store.GraphStore) {
	ctx := context.Background()
	mustAdd(t, s, "a")
	mustEdge(t, s, "a", "a", false)
	adjacency(t, s, "a", []string{"a"}, []string{"a"})
	edgeExists(t, s, "a", "a", true)

	if err := s.RemoveEdge(ctx, "a", "a", false); err != nil {
		t.Fatalf("RemoveEdge: %v", err)
	}
	adjacency(t, s, "a", nil, nil)
	edgeExists(t, s, "a", "a", false)
}

func testRemoveDirectedEdge(t *testing.T, s *store.GraphStore) {
	mustAdd(t, s, "a", "b")
	mustEdge(t, s, "a", "b", true)
	if err := s.RemoveEdge(context.Background(), "a", "b", true); err != nil {
		t.Fatalf("RemoveEdge: %v", err)
	}
	edgeExists(t, s, "a", "b", false)
	adjacency(t, s, "a", nil, nil)
	adjacency(t, s, "b", nil, nil)
}

func testRemoveUndirectedEdge(t *testing.T, s *store.GraphStore) {
	mustAdd(t, s, "a", "b")
	mustEdge(t, s, "a", "b", false)
	if err := s.RemoveEdge(context.Background(), "b", "a", false); err != nil {
		t.Fatalf("RemoveEdge: %v", err)
	}
	edgeExists(t, s, "a", "b", false)
	edgeExists(t, s, "b", "a", false)
	adjacency(t, s, "a", nil, nil)
	adjacency(t, s, "b", nil, nil)
}

func testRemoveMissingEdge(t *testing.T, s *store.GraphStore) {
	ctx := context.Background()
	mustAdd(t, s, "a")
	if err := s.RemoveEdge(ctx, "a", "ghost", false); err != nil {
		t.Fatalf("expected removing an unknown edge to succeed, got %v", err)
	}
	if err := s.RemoveEdge(ctx, "x", "y", true); err != nil {
		t.Fatalf("expected removing an edge between unknown nodes to succeed, got %v", err)
	}
	adjacency(t, s, "a", nil, nil)
}

func testUpdateEdge(t *testing.T, s *store.GraphStore) {
	ctx := context.Background()
	mustAdd(t, s, "a", "b")
	mustKind(t, s.UpdateEdge(ctx, common.Edge{SourceUID: "a", TargetUID: "b"}), store.ErrNotFound)

	mustEdge(t, s, "a", "b", true)
	err := s.UpdateEdge(ctx, common.Edge{SourceUID: "a", TargetUID: "b", Description: "updated", DocumentID: "doc-9"})
	if err != nil {
		t.Fatalf("UpdateEdge: %v", err)
	}
	got, err := s.GetEdge(ctx, "a", "b")
	if err != nil {
		t.Fatalf("GetEdge: %v", err)
	}
	if got.Description != "updated" || got.DocumentID != "doc-9" || !got.Directed {
		t.Fatalf("unexpected edge after update %+v", got)
	}
	edgeExists(t, s, "b", "a", false)
}

func testUpdateEdgeHealsAdjacency(t *testing.T, s *store.GraphStore) {
	ctx := context.Background()
	mustAdd(t, s, "a", "b")
	mustEdge(t, s, "a", "b", true)

	for _, uid := range []string{"a", "b"} {
		if err := s.UpdateNode(ctx, uid, common.Node{UID: uid, Title: uid}); err != nil {
			t.Fatalf("UpdateNode(%s): %v", uid, err)
		}
	}
	adjacency(t, s, "a", nil, nil)

	if err := s.UpdateEdge(ctx, common.Edge{SourceUID: "a", TargetUID: "b", Description: "healed"}); err != nil {
		t.Fatalf("UpdateEdge: %v", err)
	}
	adjacency(t, s, "a", []string{"b"}, nil)
	adjacency(t, s, "b", nil, []string{"a"})
}

func testUpdateUndirectedEdge(t *testing.T, s *store.GraphStore) {
	ctx := context.Background()
	mustAdd(t, s, "a", "b")
	mustEdge(t, s, "a", "b", false)
	if err := s.UpdateEdge(ctx, common.Edge{SourceUID: "a", TargetUID: "b", Description: "both ways"}); err != nil {
		t.Fatalf("UpdateEdge: %v", err)
	}
	for _, pair := range [][2]string{{"a", "b"}, {"b", "a"}} {
		got, err := s.GetEdge(ctx, pair[0], pair[1])
		if err != nil {
			t.Fatalf("GetEdge(%s, %s): %v", pair[0], pair[1], err)
		}
		if got.Description != "both ways" {
			t.Fatalf("expected %s->%s to be updated, got %q", pair[0], pair[1], got.Description)
		}
	}
}

func testRemoveNodeCascades(t *testing.T, s *store.GraphStore) {
	mustAdd(t, s, "a", "b", "c", "d")
	mustEdge(t, s, "a", "b", true)
	mustEdge(t, s, "c", "a", true)
	mustEdge(t, s, "a", "d", false)
	mustEdge(t, s, "b", "c", true)

	if err := s.RemoveNode(context.Background(), "a"); err != nil {
		t.Fatalf("RemoveNode: %v", err)
	}
	adjacency(t, s, "b", []string{"c"}, nil)
	adjacency(t, s, "c", nil, []string{"b"})
	adjacency(t, s, "d", nil, nil)
	for _, pair := range [][2]string{{"a", "b"}, {"c", "a"}, {"a", "d"}, {"d", "a"}} {
		edgeExists(t, s, pair[0], pair[1], false)
	}
	edgeExists(t, s, "b", "c", true)
}

func testScenario(t *testing.T, s *store.GraphStore) {
	mustAdd(t, s, "n1", "n2", "n3")
	mustEdge(t, s, "n1", "n2", true)
	mustEdge(t, s, "n3", "n2", false)

	adjacency(t, s, "n1", []string{"n2"}, nil)
	adjacency(t, s, "n2", []string{"n3"}, []string{"n1", "n3"})
	adjacency(t, s, "n3", []string{"n2"}, []string{"n2"})
}

func testGraphView(t *testing.T, s *store.GraphStore) {
	ctx := context.Background()
	mustAdd(t, s, "n1", "n2", "n3", "n4")
	mustEdge(t, s, "n1", "n2", true)
	mustEdge(t, s, "n3", "n2", false)

	view, err := s.BuildGraphView(ctx)
	if err != nil {
		t.Fatalf("BuildGraphView: %v", err)
	}
	if view.NodeCount() != 4 {
		t.Fatalf("expected 4 nodes, got %d", view.NodeCount())
	}
	if view.EdgeCount() != 2 {
		t.Fatalf("expected 2 edges, got %d", view.EdgeCount())
	}
	n2, ok := view.Node("n2")
	if !ok || n2.Title != "n2" {
		t.Fatalf("expected node attributes in view, got %+v", n2)
	}

	// views are snapshots
	mustAdd(t, s, "n5")
	if view.NodeCount() != 4 {
		t.Fatal("expected earlier view to stay unchanged")
	}
	again, err := s.BuildGraphView(ctx)
	if err != nil {
		t.Fatalf("BuildGraphView: %v", err)
	}
	if again.NodeCount() != 5 {
		t.Fatalf("expected 5 nodes in rebuilt view, got %d", again.NodeCount())
	}
}

func testCommunities(t *testing.T, s *store.GraphStore) {
	ctx := context.Background()
	_, err := s.GetCommunity(ctx, "missing")
	mustKind(t, err, store.ErrNotFound)
	mustKind(t, s.StoreCommunity(ctx, common.Community{}), store.ErrInvalidArgument)

	rating := 8
	want := common.Community{
		Title:             "founders",
		Nodes:             []string{"b", "a"},
		Summary:           "People who started it",
		DocumentID:        "doc-1",
		CommunityUID:      "c1",
		Embedding:         []float32{0.5, 0.25},
		Rating:            &rating,
		RatingExplanation: "central",
		Findings:          []common.Finding{{Summary: "s", Explanation: "e"}},
	}
	if err := s.StoreCommunity(ctx, want); err != nil {
		t.Fatalf("StoreCommunity: %v", err)
	}
	if err := s.StoreCommunity(ctx, common.Community{Title: "alpha", Nodes: []string{"c"}}); err != nil {
		t.Fatalf("StoreCommunity: %v", err)
	}

	got, err := s.GetCommunity(ctx, "founders")
	if err != nil {
		t.Fatalf("GetCommunity: %v", err)
	}
	want.Nodes = []string{"a", "b"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("GetCommunity mismatch (-want +got):\n%s", diff)
	}

	want.Summary = "rewritten"
	if err := s.StoreCommunity(ctx, want); err != nil {
		t.Fatalf("StoreCommunity: %v", err)
	}
	all, err := s.ListCommunities(ctx)
	if err != nil {
		t.Fatalf("ListCommunities: %v", err)
	}
	if len(all) != 2 || all[0].Title != "alpha" || all[1].Title != "founders" {
		t.Fatalf("unexpected communities %+v", all)
	}
	if all[1].Summary != "rewritten" {
		t.Fatalf("expected overwrite, got %q", all[1].Summary)
	}
}

func testNearestNeighbors(t *testing.T, s *store.GraphStore) {
	ctx := context.Background()
	vectors := map[string][]float32{
		"origin": {0, 0},
		"near":   {1, 0},
		"far":    {5, 5},
	}
	for uid, v := range vectors {
		if err := s.AddNode(ctx, uid, common.Node{Title: uid, Embedding: v}); err != nil {
			t.Fatalf("AddNode(%s): %v", uid, err)
		}
	}
	mustAdd(t, s, "plain")

	res, err := s.NearestNeighbors(ctx, []float32{0.9, 0}, 2)
	if err != nil {
		t.Fatalf("NearestNeighbors: %v", err)
	}
	var got []string
	for _, r := range res {
		got = append(got, r.Node.UID)
	}
	if diff := cmp.Diff([]string{"near", "origin"}, got); diff != "" {
		t.Fatalf("NearestNeighbors mismatch (-want +got):\n%s", diff)
	}
	if !(res[0].Distance < res[1].Distance) {
		t.Fatalf("expected ascending distances, got %v", res)
	}

	res, err = s.NearestNeighbors(ctx, []float32{0, 0}, 0)
	if err != nil {
		t.Fatalf("NearestNeighbors: %v", err)
	}
	if len(res) != 3 {
		t.Fatalf("expected all 3 embedded nodes with default k, got %d", len(res))
	}

	_, err = s.NearestNeighbors(ctx, nil, 1)
	mustKind(t, err, store.ErrInvalidArgument)
}

func testCleanZeroDegreeNodes(t *testing.T, s *store.GraphStore) {
	ctx := context.Background()
	mustAdd(t, s, "a", "b", "lonely", "alone")
	mustEdge(t, s, "a", "b", true)

	removed, err := s.CleanZeroDegreeNodes(ctx)
	if err != nil {
		t.Fatalf("CleanZeroDegreeNodes: %v", err)
	}
	if diff := cmp.Diff([]string{"alone", "lonely"}, removed); diff != "" {
		t.Fatalf("removed mismatch (-want +got):\n%s", diff)
	}
	for uid, want := range map[string]bool{"a": true, "b": true, "lonely": false, "alone": false} {
		ok, err := s.NodeExists(ctx, uid)
		if err != nil || ok != want {
			t.Fatalf("NodeExists(%s) = %v, %v; want %v", uid, ok, err, want)
		}
	}
}

func testFlushGraph(t *testing.T, s *store.GraphStore) {
	ctx := context.Background()
	mustAdd(t, s, "a", "b")
	mustEdge(t, s, "a", "b", false)
	if err := s.StoreCommunity(ctx, common.Community{Title: "c", Nodes: []string{"a", "b"}}); err != nil {
		t.Fatalf("StoreCommunity: %v", err)
	}
	if err := s.FlushGraph(ctx); err != nil {
		t.Fatalf("FlushGraph: %v", err)
	}
	view, err := s.BuildGraphView(ctx)
	if err != nil {
		t.Fatalf("BuildGraphView: %v", err)
	}
	if view.NodeCount() != 0 || view.EdgeCount() != 0 {
		t.Fatalf("expected empty graph, got %d nodes and %d edges", view.NodeCount(), view.EdgeCount())
	}
	all, err := s.ListCommunities(ctx)
	if err != nil {
		t.Fatalf("ListCommunities: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected no communities, got %d", len(all))
	}
}

func testRepair(t *testing.T, s *store.GraphStore) {
	ctx := context.Background()
	mustAdd(t, s, "a", "b", "c")
	mustEdge(t, s, "a", "b", true)
	mustEdge(t, s, "b", "c", false)

	// Simulate a half-finished mutation: a lost its list entry and an edge
	// record points at a node that is gone.
	if err := s.UpdateNode(ctx, "a", common.Node{Title: "a"}); err != nil {
		t.Fatalf("UpdateNode: %v", err)
	}
	if err := s.UpdateNode(ctx, "c", common.Node{Title: "c", EdgesTo: []string{"b", "ghost"}, EdgesFrom: []string{"b"}}); err != nil {
		t.Fatalf("UpdateNode: %v", err)
	}
	orphan := common.Edge{SourceUID: "ghost", TargetUID: "b", EdgeUID: s.GenerateEdgeKey("ghost", "b"), Directed: true}
	if err := s.Backend().PutEdge(ctx, orphan); err != nil {
		t.Fatalf("PutEdge: %v", err)
	}

	dry, err := s.Repair(ctx, store.RepairOptions{DryRun: true})
	if err != nil {
		t.Fatalf("Repair dry run: %v", err)
	}
	want := store.RepairReport{
		Nodes:         3,
		Edges:         4,
		OrphanEdges:   []string{orphan.EdgeUID},
		RepairedNodes: []string{"a", "c"},
		DryRun:        true,
	}
	if diff := cmp.Diff(want, dry); diff != "" {
		t.Fatalf("dry run report mismatch (-want +got):\n%s", diff)
	}
	adjacency(t, s, "a", nil, nil)

	report, err := s.Repair(ctx, store.RepairOptions{})
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if report.DryRun || !slices.Equal(report.RepairedNodes, []string{"a", "c"}) {
		t.Fatalf("unexpected report %+v", report)
	}
	adjacency(t, s, "a", []string{"b"}, nil)
	adjacency(t, s, "c", []string{"b"}, []string{"b"})
	edgeExists(t, s, "ghost", "b", false)

	again, err := s.Repair(ctx, store.RepairOptions{})
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if len(again.RepairedNodes) != 0 || len(again.OrphanEdges) != 0 {
		t.Fatalf("expected second pass to be clean, got %+v", again)
	}
}
