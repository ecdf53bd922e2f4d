package queue

import (
	"github.com/OFFIS-RIT/kgstore/pkg/common"
)

// Mutation operations.
const (
	OpAddNode        = "add_node"
	OpUpdateNode     = "update_node"
	OpRemoveNode     = "remove_node"
	OpAddEdge        = "add_edge"
	OpUpdateEdge     = "update_edge"
	OpRemoveEdge     = "remove_edge"
	OpStoreCommunity = "store_community"
)

// Mutation is one graph operation. Which fields are read depends on Op.
type Mutation struct {
	Op        string            `json:"op" validate:"required,oneof=add_node update_node remove_node add_edge update_edge remove_edge store_community"`
	UID       string            `json:"uid,omitempty"`
	Node      *common.Node      `json:"node,omitempty"`
	Edge      *common.Edge      `json:"edge,omitempty"`
	Community *common.Community `json:"community,omitempty"`
	// Directed defaults to true for edge operations.
	Directed *bool `json:"directed,omitempty"`
}

// MutationBatch is the body of a graph_mutation_queue message. Mutations
// are applied in order.
type MutationBatch struct {
	CorrelationID string     `json:"correlation_id,omitempty"`
	Mutations     []Mutation `json:"mutations" validate:"required,min=1,dive"`
	// ContinueOnError skips mutations rejected by the store instead of
	// dead-lettering the rest of the batch.
	ContinueOnError bool `json:"continue_on_error,omitempty"`
}

// CommunityJob is the body of a community_queue message.
type CommunityJob struct {
	CorrelationID string  `json:"correlation_id,omitempty"`
	Resolution    float64 `json:"resolution,omitempty" validate:"gte=0"`
	TitlePrefix   string  `json:"title_prefix,omitempty"`
	MinSize       int     `json:"min_size,omitempty" validate:"gte=0"`
	// Assign defaults to true.
	Assign *bool `json:"assign,omitempty"`
	// Export uploads a snapshot in this format after detection.
	Export string `json:"export,omitempty" validate:"omitempty,oneof=dot json"`
}

func directed(m Mutation) bool {
	return m.Directed == nil || *m.Directed
}
