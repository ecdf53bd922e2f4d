package graph

import (
	"slices"
	"strings"

	"github.com/OFFIS-RIT/kgstore/pkg/common"

	gonum "gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
)

// View is an undirected in-memory snapshot of a stored knowledge graph. The
// two records of an undirected edge collapse into one edge, and so do two
// directed records in opposite directions. Edges whose endpoints are not in
// the node set are dropped.
//
// A View is never updated after construction and is safe for concurrent
// reads.
type View struct {
	g         *simple.UndirectedGraph
	byUID     map[string]*Node
	selfLoops map[string]Edge
	dangling  int
}

// Node is a graph node carrying the stored node record.
type Node struct {
	id    int64
	color string
	Data  common.Node
}

func (n *Node) ID() int64 { return n.id }

// Edge is an undirected relationship between two nodes. Directed is true
// when only one direction was stored.
type Edge struct {
	F, T        *Node
	Description string
	DocumentID  string
	Directed    bool
}

func (e Edge) From() gonum.Node { return e.F }
func (e Edge) To() gonum.Node   { return e.T }

func (e Edge) ReversedEdge() gonum.Edge {
	e.F, e.T = e.T, e.F
	return e
}

// EdgeInfo is the exported form of an edge, keyed by uids.
type EdgeInfo struct {
	Source      string `json:"source"`
	Target      string `json:"target"`
	Description string `json:"description,omitempty"`
	DocumentID  string `json:"document_id,omitempty"`
	Directed    bool   `json:"directed"`
}

// NewView builds a view from the given records.
func NewView(nodes []common.Node, edges []common.Edge) *View {
	v := &View{
		g:         simple.NewUndirectedGraph(),
		byUID:     make(map[string]*Node, len(nodes)),
		selfLoops: make(map[string]Edge),
	}

	sorted := slices.Clone(nodes)
	slices.SortFunc(sorted, func(a, b common.Node) int {
		return strings.Compare(a.UID, b.UID)
	})
	colors := typeColors(sorted)

	var next int64
	for _, n := range sorted {
		if _, ok := v.byUID[n.UID]; ok || n.UID == "" {
			continue
		}
		vn := &Node{id: next, color: colors[n.Type], Data: n.Clone()}
		next++
		v.g.AddNode(vn)
		v.byUID[n.UID] = vn
	}

	type pairState struct {
		edge              Edge
		forward, backward bool
	}
	pairs := make(map[[2]string]*pairState)
	var order [][2]string
	for _, e := range edges {
		a, okA := v.byUID[e.SourceUID]
		b, okB := v.byUID[e.TargetUID]
		if !okA || !okB {
			v.dangling++
			continue
		}
		k := [2]string{e.SourceUID, e.TargetUID}
		if k[1] < k[0] {
			k[0], k[1] = k[1], k[0]
		}
		st, ok := pairs[k]
		if !ok {
			st = &pairState{edge: Edge{F: a, T: b, Description: e.Description, DocumentID: e.DocumentID}}
			pairs[k] = st
			order = append(order, k)
		}
		if e.SourceUID == k[0] {
			st.forward = true
		} else {
			st.backward = true
		}
		if !e.Directed {
			st.forward, st.backward = true, true
		}
	}
	for _, k := range order {
		st := pairs[k]
		st.edge.Directed = !(st.forward && st.backward)
		if k[0] == k[1] {
			v.selfLoops[k[0]] = st.edge
			continue
		}
		v.g.SetEdge(st.edge)
	}
	return v
}

// Graph exposes the underlying gonum graph for algorithms.
func (v *View) Graph() gonum.Undirected {
	return v.g
}

// NodeCount returns the number of nodes.
func (v *View) NodeCount() int {
	return len(v.byUID)
}

// EdgeCount returns the number of distinct unordered pairs, self-loops
// included.
func (v *View) EdgeCount() int {
	return v.g.Edges().Len() + len(v.selfLoops)
}

// DanglingEdges returns how many edge records were dropped because an
// endpoint was missing.
func (v *View) DanglingEdges() int {
	return v.dangling
}

// Node returns the record stored for uid.
func (v *View) Node(uid string) (common.Node, bool) {
	n, ok := v.byUID[uid]
	if !ok {
		return common.Node{}, false
	}
	return n.Data.Clone(), true
}

// Nodes returns all node records ordered by uid.
func (v *View) Nodes() []common.Node {
	out := make([]common.Node, 0, len(v.byUID))
	for _, n := range v.sortedNodes() {
		out = append(out, n.Data.Clone())
	}
	return out
}

// UID returns the node uid for a gonum node id.
func (v *View) UID(id int64) string {
	n := v.g.Node(id)
	if n == nil {
		return ""
	}
	return n.(*Node).Data.UID
}

// HasEdge reports whether a and b are adjacent in either direction.
func (v *View) HasEdge(a, b string) bool {
	na, okA := v.byUID[a]
	nb, okB := v.byUID[b]
	if !okA || !okB {
		return false
	}
	if na == nb {
		_, ok := v.selfLoops[a]
		return ok
	}
	return v.g.HasEdgeBetween(na.id, nb.id)
}

// Neighbors returns the uids adjacent to uid, ordered.
func (v *View) Neighbors(uid string) []string {
	n, ok := v.byUID[uid]
	if !ok {
		return nil
	}
	var out []string
	it := v.g.From(n.id)
	for it.Next() {
		out = append(out, it.Node().(*Node).Data.UID)
	}
	if _, ok := v.selfLoops[uid]; ok {
		out = append(out, uid)
	}
	slices.Sort(out)
	return out
}

// Degree returns the number of incident edges, counting a self-loop twice.
func (v *View) Degree(uid string) int {
	n, ok := v.byUID[uid]
	if !ok {
		return 0
	}
	d := v.g.From(n.id).Len()
	if _, ok := v.selfLoops[uid]; ok {
		d += 2
	}
	return d
}

// Edges returns every edge ordered by source then target. Source is the
// endpoint with the smaller uid unless the edge is directed.
func (v *View) Edges() []EdgeInfo {
	out := make([]EdgeInfo, 0, v.EdgeCount())
	it := v.g.Edges()
	for it.Next() {
		out = append(out, edgeInfo(it.Edge().(Edge)))
	}
	for _, e := range v.selfLoops {
		out = append(out, edgeInfo(e))
	}
	slices.SortFunc(out, func(a, b EdgeInfo) int {
		if c := strings.Compare(a.Source, b.Source); c != 0 {
			return c
		}
		return strings.Compare(a.Target, b.Target)
	})
	return out
}

func edgeInfo(e Edge) EdgeInfo {
	source, target := e.F.Data.UID, e.T.Data.UID
	if !e.Directed && target < source {
		source, target = target, source
	}
	return EdgeInfo{
		Source:      source,
		Target:      target,
		Description: e.Description,
		DocumentID:  e.DocumentID,
		Directed:    e.Directed,
	}
}

// NodesByType groups node uids by node_type.
func (v *View) NodesByType() map[string][]string {
	out := make(map[string][]string)
	for _, n := range v.sortedNodes() {
		out[n.Data.Type] = append(out[n.Data.Type], n.Data.UID)
	}
	return out
}

func (v *View) sortedNodes() []*Node {
	out := make([]*Node, 0, len(v.byUID))
	for _, n := range v.byUID {
		out = append(out, n)
	}
	slices.SortFunc(out, func(a, b *Node) int {
		return strings.Compare(a.Data.UID, b.Data.UID)
	})
	return out
}
