package graph

import (
	"slices"
	"strings"

	gonum "gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/community"
)

// DefaultResolution is the modularity resolution used when none is given.
const DefaultResolution = 1.0

// Communities partitions the view with the Louvain method and returns
// disjoint uid sets covering every node. Parts are ordered by size, then by
// their smallest uid; each part is sorted.
func (v *View) Communities(resolution float64) [][]string {
	if v.NodeCount() == 0 {
		return nil
	}
	if resolution <= 0 {
		resolution = DefaultResolution
	}

	var parts [][]string
	if v.g.Edges().Len() == 0 {
		for _, n := range v.sortedNodes() {
			parts = append(parts, []string{n.Data.UID})
		}
		return parts
	}

	reduced := community.Modularize(v.g, resolution, nil)
	for _, members := range reduced.Communities() {
		part := make([]string, 0, len(members))
		for _, n := range members {
			part = append(part, v.UID(n.ID()))
		}
		slices.Sort(part)
		parts = append(parts, part)
	}
	slices.SortFunc(parts, func(a, b []string) int {
		if len(a) != len(b) {
			return len(b) - len(a)
		}
		return strings.Compare(a[0], b[0])
	})
	return parts
}

// Modularity returns the modularity Q of the given partition. Unknown uids
// are ignored. A view without edges has modularity 0.
func (v *View) Modularity(parts [][]string, resolution float64) float64 {
	if v.g.Edges().Len() == 0 {
		return 0
	}
	if resolution <= 0 {
		resolution = DefaultResolution
	}
	groups := make([][]gonum.Node, 0, len(parts))
	for _, part := range parts {
		var group []gonum.Node
		for _, uid := range part {
			if n, ok := v.byUID[uid]; ok {
				group = append(group, n)
			}
		}
		groups = append(groups, group)
	}
	return community.Q(v.g, groups, resolution)
}
