package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/OFFIS-RIT/kgstore/pkg/common"

	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
)

var palette = []string{
	"lightblue", "lightcoral", "palegreen", "khaki", "plum",
	"lightsalmon", "aquamarine", "wheat", "thistle", "lightpink",
}

func typeColors(nodes []common.Node) map[string]string {
	var types []string
	for _, n := range nodes {
		types = append(types, n.Type)
	}
	slices.Sort(types)
	types = slices.Compact(types)

	out := make(map[string]string, len(types))
	for i, t := range types {
		out[t] = palette[i%len(palette)]
	}
	return out
}

func (n *Node) DOTID() string { return n.Data.UID }

func (n *Node) Attributes() []encoding.Attribute {
	label := n.Data.Title
	if label == "" {
		label = n.Data.UID
	}
	attrs := []encoding.Attribute{
		{Key: "label", Value: label},
		{Key: "style", Value: "filled"},
		{Key: "fillcolor", Value: n.color},
	}
	if n.Data.Type != "" {
		attrs = append(attrs, encoding.Attribute{Key: "group", Value: n.Data.Type})
	}
	return attrs
}

func (e Edge) Attributes() []encoding.Attribute {
	var attrs []encoding.Attribute
	if e.Description != "" {
		attrs = append(attrs, encoding.Attribute{Key: "label", Value: e.Description})
	}
	if e.Directed {
		attrs = append(attrs, encoding.Attribute{Key: "dir", Value: "forward"})
	}
	return attrs
}

// DOT renders the view in Graphviz syntax. Nodes are filled with one color
// per node_type and grouped by it; directed edges carry an arrow.
func (v *View) DOT(name string) ([]byte, error) {
	if name == "" {
		name = "knowledge_graph"
	}
	out, err := dot.Marshal(v.g, name, "", "\t")
	if err != nil {
		return nil, fmt.Errorf("marshal dot: %w", err)
	}
	if len(v.selfLoops) == 0 {
		return out, nil
	}

	// gonum simple graphs cannot hold self-loops, append them by hand.
	var loops bytes.Buffer
	for _, e := range v.Edges() {
		if e.Source != e.Target {
			continue
		}
		fmt.Fprintf(&loops, "\t%q -- %q", e.Source, e.Target)
		if e.Description != "" {
			fmt.Fprintf(&loops, " [label=%q]", e.Description)
		}
		loops.WriteString(";\n")
	}
	end := bytes.LastIndexByte(out, '}')
	if end < 0 {
		return out, nil
	}
	res := make([]byte, 0, len(out)+loops.Len())
	res = append(res, out[:end]...)
	res = append(res, loops.Bytes()...)
	res = append(res, out[end:]...)
	return res, nil
}

type nodeLink struct {
	Directed   bool          `json:"directed"`
	Multigraph bool          `json:"multigraph"`
	Nodes      []common.Node `json:"nodes"`
	Links      []EdgeInfo    `json:"links"`
}

// MarshalJSON encodes the view in node-link form.
func (v *View) MarshalJSON() ([]byte, error) {
	return json.Marshal(nodeLink{
		Nodes: v.Nodes(),
		Links: v.Edges(),
	})
}
