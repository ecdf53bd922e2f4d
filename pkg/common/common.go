package common

import (
	"slices"
	"strings"
)

// EdgeKeySeparator joins the source and target uid of a directed edge key.
const EdgeKeySeparator = "_to_"

// Node represents an entity record in the knowledge graph. It is addressed by
// its UID and carries a denormalized copy of its adjacency:
//   - EdgesTo: uids this node has an outgoing edge to
//   - EdgesFrom: uids that have an outgoing edge to this node
//
// Both lists are kept sorted and free of duplicates. Degree is maintained by
// the caller and never recomputed by the store.
type Node struct {
	UID         string    `json:"node_uid" dynamodbav:"node_uid"`
	Title       string    `json:"node_title" dynamodbav:"node_title"`
	Type        string    `json:"node_type" dynamodbav:"node_type"`
	Description string    `json:"node_description" dynamodbav:"node_description"`
	Degree      int       `json:"node_degree" dynamodbav:"node_degree"`
	DocumentID  string    `json:"document_id" dynamodbav:"document_id"`
	CommunityID *int      `json:"community_id,omitempty" dynamodbav:"community_id,omitempty"`
	EdgesTo     []string  `json:"edges_to,omitempty" dynamodbav:"edges_to,omitempty"`
	EdgesFrom   []string  `json:"edges_from,omitempty" dynamodbav:"edges_from,omitempty"`
	Embedding   []float32 `json:"embedding,omitempty" dynamodbav:"embedding,omitempty"`
}

// Edge represents a stored directed relationship between two nodes. An
// undirected relationship is stored as two Edge records, one per direction.
type Edge struct {
	SourceUID   string `json:"source_uid" dynamodbav:"source_uid"`
	TargetUID   string `json:"target_uid" dynamodbav:"target_uid"`
	Description string `json:"description" dynamodbav:"description"`
	EdgeUID     string `json:"edge_uid" dynamodbav:"edge_uid"`
	DocumentID  string `json:"document_id,omitempty" dynamodbav:"document_id,omitempty"`
	Directed    bool   `json:"directed" dynamodbav:"directed"`
}

// Finding is a single structured observation attached to a community report.
type Finding struct {
	Summary     string `json:"summary" dynamodbav:"summary"`
	Explanation string `json:"explanation" dynamodbav:"explanation"`
}

// Community is a named grouping of node uids, usually produced by community
// detection. It is stored under its Title. Nothing ties Nodes to the current
// adjacency, so the set may go stale as the graph changes.
type Community struct {
	Title             string    `json:"title" dynamodbav:"title"`
	Nodes             []string  `json:"community_nodes,omitempty" dynamodbav:"community_nodes,omitempty"`
	Summary           string    `json:"summary" dynamodbav:"summary"`
	DocumentID        string    `json:"document_id" dynamodbav:"document_id"`
	CommunityUID      string    `json:"community_uid" dynamodbav:"community_uid"`
	Embedding         []float32 `json:"community_embedding,omitempty" dynamodbav:"community_embedding,omitempty"`
	Rating            *int      `json:"rating,omitempty" dynamodbav:"rating,omitempty"`
	RatingExplanation string    `json:"rating_explanation" dynamodbav:"rating_explanation"`
	Findings          []Finding `json:"findings,omitempty" dynamodbav:"findings,omitempty"`
}

// EdgeKey returns the canonical key of the directed edge source -> target.
func EdgeKey(source, target string) string {
	return source + EdgeKeySeparator + target
}

// Normalize sorts and dedupes the adjacency lists of n in place. Empty lists
// and empty embeddings become nil so stored and loaded records compare equal.
func (n *Node) Normalize() {
	n.EdgesTo = NormalizeUIDs(n.EdgesTo)
	n.EdgesFrom = NormalizeUIDs(n.EdgesFrom)
	if len(n.Embedding) == 0 {
		n.Embedding = nil
	}
}

// Clone returns a deep copy of n.
func (n Node) Clone() Node {
	out := n
	out.EdgesTo = slices.Clone(n.EdgesTo)
	out.EdgesFrom = slices.Clone(n.EdgesFrom)
	out.Embedding = slices.Clone(n.Embedding)
	if n.CommunityID != nil {
		id := *n.CommunityID
		out.CommunityID = &id
	}
	return out
}

// Peers returns every uid adjacent to n in either direction, sorted.
func (n Node) Peers() []string {
	return NormalizeUIDs(append(slices.Clone(n.EdgesTo), n.EdgesFrom...))
}

// Normalize sorts and dedupes the member set of c in place.
func (c *Community) Normalize() {
	c.Nodes = NormalizeUIDs(c.Nodes)
	if len(c.Embedding) == 0 {
		c.Embedding = nil
	}
	if len(c.Findings) == 0 {
		c.Findings = nil
	}
}

// NormalizeUIDs returns a sorted copy of in without empty strings or
// duplicates. It returns nil when nothing remains.
func NormalizeUIDs(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v != "" {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	out = slices.Compact(out)
	if len(out) == 0 {
		return nil
	}
	return out
}

// AddUID inserts uid into the sorted set and reports whether it changed.
func AddUID(set []string, uid string) ([]string, bool) {
	i, found := slices.BinarySearch(set, uid)
	if found {
		return set, false
	}
	return slices.Insert(set, i, uid), true
}

// RemoveUID deletes uid from the sorted set and reports whether it changed.
func RemoveUID(set []string, uid string) ([]string, bool) {
	i, found := slices.BinarySearch(set, uid)
	if !found {
		return set, false
	}
	set = slices.Delete(set, i, i+1)
	if len(set) == 0 {
		return nil, true
	}
	return set, true
}

// ContainsUID reports whether the sorted set holds uid.
func ContainsUID(set []string, uid string) bool {
	_, found := slices.BinarySearch(set, uid)
	return found
}

// ValidUID reports whether uid can be used as a node key. Keys must be
// non-empty and must not contain the edge key separator, otherwise edge keys
// would stop being unambiguous.
func ValidUID(uid string) bool {
	return uid != "" && !strings.Contains(uid, EdgeKeySeparator)
}
