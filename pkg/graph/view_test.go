package graph

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/kgstore/pkg/common"

	"github.com/google/go-cmp/cmp"
)

func nodes(uids ...string) []common.Node {
	out := make([]common.Node, 0, len(uids))
	for _, uid := range uids {
		out = append(out, common.Node{UID: uid, Title: strings.ToUpper(uid), Type: "entity"})
	}
	return out
}

func edge(source, target string, directed bool) common.Edge {
	return common.Edge{
		SourceUID: source,
		TargetUID: target,
		EdgeUID:   common.EdgeKey(source, target),
		Directed:  directed,
	}
}

func TestNewView_CollapsesUndirectedPairs(t *testing.T) {
	v := NewView(nodes("n1", "n2", "n3"), []common.Edge{
		edge("n1", "n2", true),
		edge("n3", "n2", false),
		edge("n2", "n3", false),
	})

	if got := v.NodeCount(); got != 3 {
		t.Fatalf("expected 3 nodes, got %d", got)
	}
	if got := v.EdgeCount(); got != 2 {
		t.Fatalf("expected 2 edges, got %d", got)
	}
	if !v.HasEdge("n2", "n1") || !v.HasEdge("n2", "n3") || v.HasEdge("n1", "n3") {
		t.Fatalf("unexpected adjacency: %v", v.Edges())
	}

	want := []EdgeInfo{
		{Source: "n1", Target: "n2", Directed: true},
		{Source: "n2", Target: "n3", Directed: false},
	}
	if diff := cmp.Diff(want, v.Edges()); diff != "" {
		t.Fatalf("Edges mismatch (-want +got):\n%s", diff)
	}
}

func TestNewView_OppositeDirectedRecordsBecomeOneEdge(t *testing.T) {
	v := NewView(nodes("a", "b"), []common.Edge{
		edge("b", "a", true),
		edge("a", "b", true),
	})
	if got := v.EdgeCount(); got != 1 {
		t.Fatalf("expected 1 edge, got %d", got)
	}
	if e := v.Edges()[0]; e.Directed {
		t.Fatalf("expected edge stored in both directions to be undirected, got %+v", e)
	}
}

func TestNewView_DropsDanglingEdges(t *testing.T) {
	v := NewView(nodes("a"), []common.Edge{edge("a", "ghost", true)})
	if v.NodeCount() != 1 || v.EdgeCount() != 0 {
		t.Fatalf("expected 1 node and 0 edges, got %d and %d", v.NodeCount(), v.EdgeCount())
	}
	if v.DanglingEdges() != 1 {
		t.Fatalf("expected 1 dangling edge, got %d", v.DanglingEdges())
	}
}

func TestNewView_SelfLoop(t *testing.T) {
	v := NewView(nodes("a", "b"), []common.Edge{edge("a", "a", true), edge("a", "b", true)})
	if got := v.EdgeCount(); got != 2 {
		t.Fatalf("expected 2 edges, got %d", got)
	}
	if !v.HasEdge("a", "a") || v.HasEdge("b", "b") {
		t.Fatal("expected only a to have a self-loop")
	}
	if got := v.Degree("a"); got != 3 {
		t.Fatalf("expected degree 3, got %d", got)
	}
	if diff := cmp.Diff([]string{"a", "b"}, v.Neighbors("a")); diff != "" {
		t.Fatalf("Neighbors mismatch (-want +got):\n%s", diff)
	}

	out, err := v.DOT("g")
	if err != nil {
		t.Fatalf("DOT: %v", err)
	}
	if !strings.Contains(string(out), `"a" -- "a"`) {
		t.Fatalf("expected self-loop in DOT output:\n%s", out)
	}
}

func TestNodeCarriesRecord(t *testing.T) {
	in := nodes("a")
	in[0].EdgesTo = []string{"b"}
	v := NewView(in, nil)

	got, ok := v.Node("a")
	if !ok {
		t.Fatal("expected node a")
	}
	if diff := cmp.Diff(in[0], got); diff != "" {
		t.Fatalf("Node mismatch (-want +got):\n%s", diff)
	}
	if _, ok := v.Node("missing"); ok {
		t.Fatal("expected missing node to be absent")
	}
}

func TestCommunities_SplitsComponents(t *testing.T) {
	v := NewView(nodes("a", "b", "c", "x", "y", "z", "lonely"), []common.Edge{
		edge("a", "b", false), edge("b", "c", false), edge("c", "a", false),
		edge("x", "y", true), edge("y", "z", true), edge("z", "x", true),
	})

	got := v.Communities(0)
	want := [][]string{{"a", "b", "c"}, {"x", "y", "z"}, {"lonely"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Communities mismatch (-want +got):\n%s", diff)
	}
	if q := v.Modularity(got, 0); q <= 0 {
		t.Fatalf("expected positive modularity, got %f", q)
	}
}

func TestCommunities_NoEdges(t *testing.T) {
	v := NewView(nodes("b", "a"), nil)
	want := [][]string{{"a"}, {"b"}}
	if diff := cmp.Diff(want, v.Communities(1)); diff != "" {
		t.Fatalf("Communities mismatch (-want +got):\n%s", diff)
	}
	if got := NewView(nil, nil).Communities(1); got != nil {
		t.Fatalf("expected nil partition for empty view, got %v", got)
	}
}

func TestDOT(t *testing.T) {
	in := nodes("a", "b")
	in[1].Type = "place"
	v := NewView(in, []common.Edge{{SourceUID: "a", TargetUID: "b", Description: "knows", Directed: true}})

	out, err := v.DOT("")
	if err != nil {
		t.Fatalf("DOT: %v", err)
	}
	s := string(out)
	for _, want := range []string{"graph knowledge_graph", "fillcolor", "group=place", "knows"} {
		if !strings.Contains(s, want) {
			t.Fatalf("expected %q in DOT output:\n%s", want, s)
		}
	}
}

func TestMarshalJSON(t *testing.T) {
	v := NewView(nodes("a", "b"), []common.Edge{edge("a", "b", true)})
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got nodeLink
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got.Nodes) != 2 || len(got.Links) != 1 {
		t.Fatalf("expected 2 nodes and 1 link, got %d and %d", len(got.Nodes), len(got.Links))
	}
	if got.Links[0].Source != "a" || got.Links[0].Target != "b" {
		t.Fatalf("unexpected link %+v", got.Links[0])
	}
}

func TestNodesByType(t *testing.T) {
	in := nodes("a", "b", "c")
	in[1].Type = "place"
	got := NewView(in, nil).NodesByType()
	want := map[string][]string{"entity": {"a", "c"}, "place": {"b"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("NodesByType mismatch (-want +got):\n%s", diff)
	}
}
