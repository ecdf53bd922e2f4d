package store

import (
	"context"
	"errors"

	"github.com/OFFIS-RIT/kgstore/pkg/common"
	"github.com/OFFIS-RIT/kgstore/pkg/logger"
)

func validateEdge(op string, edge common.Edge) error {
	key := common.EdgeKey(edge.SourceUID, edge.TargetUID)
	if !common.ValidUID(edge.SourceUID) || !common.ValidUID(edge.TargetUID) {
		return invalidArgument(op, key, "edge endpoints must be valid node uids")
	}
	if edge.EdgeUID != "" && edge.EdgeUID != key {
		return invalidArgument(op, key, "edge uid %q does not match its endpoints", edge.EdgeUID)
	}
	return nil
}

func reversed(edge common.Edge) common.Edge {
	edge.SourceUID, edge.TargetUID = edge.TargetUID, edge.SourceUID
	edge.EdgeUID = common.EdgeKey(edge.SourceUID, edge.TargetUID)
	return edge
}

// AddEdge links two existing nodes. Adding a pair that is already stored
// overwrites its record. An undirected edge is stored as two directed
// records with symmetric adjacency entries.
func (s *GraphStore) AddEdge(ctx context.Context, edge common.Edge, directed bool) error {
	const op = "AddEdge"
	if err := validateEdge(op, edge); err != nil {
		return err
	}
	source, target := edge.SourceUID, edge.TargetUID
	edge.EdgeUID = common.EdgeKey(source, target)
	edge.Directed = directed

	unlock, err := s.locker.Lock(ctx, source, target)
	if err != nil {
		return wrap(op, edge.EdgeUID, err)
	}
	defer unlock()

	for _, uid := range []string{source, target} {
		ok, err := s.backend.NodeExists(ctx, uid)
		if err != nil {
			return wrap(op, edge.EdgeUID, err)
		}
		if !ok {
			return &OpError{Op: op, Key: uid, Err: ErrNotFound}
		}
	}

	plan := newPeerPlan()
	plan.add(source, addTo(target))
	plan.add(target, addFrom(source))
	if !directed {
		plan.add(target, addTo(source))
		plan.add(source, addFrom(target))
	}
	s.applyPeers(ctx, op, plan)

	if err := s.backend.PutEdge(ctx, edge); err != nil {
		return wrap(op, edge.EdgeUID, err)
	}
	if !directed && source != target {
		mirror := reversed(edge)
		if err := s.backend.PutEdge(ctx, mirror); err != nil {
			logger.Warn("[Store][AddEdge] Failed to store mirror record", "edge", mirror.EdgeUID, "err", err)
		}
	}
	logger.Debug("[Store][AddEdge] Stored edge", "edge", edge.EdgeUID, "directed", directed)
	return nil
}

// GetEdge returns the record for exactly the ordered pair source -> target.
func (s *GraphStore) GetEdge(ctx context.Context, source, target string) (common.Edge, error) {
	const op = "GetEdge"
	key := common.EdgeKey(source, target)
	if source == "" || target == "" {
		return common.Edge{}, invalidArgument(op, key, "edge endpoints are empty")
	}
	edge, err := s.backend.GetEdge(ctx, key)
	if err != nil {
		return common.Edge{}, wrap(op, key, err)
	}
	return edge, nil
}

// UpdateEdge rewrites the description and, when given, the document id of
// a stored edge. Missing adjacency entries for the pair are restored. For an
// undirected edge the mirror record is updated as well, unless the reverse
// pair has since been stored as a directed edge of its own.
func (s *GraphStore) UpdateEdge(ctx context.Context, edge common.Edge) error {
	const op = "UpdateEdge"
	if err := validateEdge(op, edge); err != nil {
		return err
	}
	source, target := edge.SourceUID, edge.TargetUID
	key := common.EdgeKey(source, target)

	unlock, err := s.locker.Lock(ctx, source, target)
	if err != nil {
		return wrap(op, key, err)
	}
	defer unlock()

	stored, err := s.backend.GetEdge(ctx, key)
	if err != nil {
		return wrap(op, key, err)
	}
	stored.EdgeUID = key
	stored.Description = edge.Description
	if edge.DocumentID != "" {
		stored.DocumentID = edge.DocumentID
	}
	if err := s.backend.PutEdge(ctx, stored); err != nil {
		return wrap(op, key, err)
	}

	plan := newPeerPlan()
	plan.add(source, addTo(target))
	plan.add(target, addFrom(source))
	if !stored.Directed && source != target && s.ownsMirror(ctx, stored) {
		plan.add(target, addTo(source))
		plan.add(source, addFrom(target))
		mirror := reversed(stored)
		if err := s.backend.PutEdge(ctx, mirror); err != nil {
			logger.Warn("[Store][UpdateEdge] Failed to update mirror record", "edge", mirror.EdgeUID, "err", err)
		}
	}
	s.applyPeers(ctx, op, plan)
	return nil
}

// ownsMirror reports whether the reverse record of an undirected edge may be
// rewritten: it is missing or still undirected. A reverse pair stored since
// as its own directed edge is left alone.
func (s *GraphStore) ownsMirror(ctx context.Context, edge common.Edge) bool {
	key := common.EdgeKey(edge.TargetUID, edge.SourceUID)
	mirror, err := s.backend.GetEdge(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		return true
	case err != nil:
		logger.Warn("[Store][UpdateEdge] Failed to load mirror record", "edge", key, "err", err)
		return false
	}
	return !mirror.Directed
}

// RemoveEdge removes the relationship source -> target, and its mirror when
// directed is false. Every step is attempted; a missing peer or list entry is
// not an error. Only a failure to delete the forward record is returned.
func (s *GraphStore) RemoveEdge(ctx context.Context, source, target string, directed bool) error {
	const op = "RemoveEdge"
	key := common.EdgeKey(source, target)
	if source == "" || target == "" {
		return invalidArgument(op, key, "edge endpoints are empty")
	}

	unlock, err := s.locker.Lock(ctx, source, target)
	if err != nil {
		return wrap(op, key, err)
	}
	defer unlock()

	plan := newPeerPlan()
	plan.add(source, removeTo(target))
	plan.add(target, removeFrom(source))
	if !directed {
		plan.add(source, removeFrom(target))
		plan.add(target, removeTo(source))
	}
	s.applyPeers(ctx, op, plan)

	forwardErr := s.backend.DeleteEdge(ctx, key)
	if forwardErr != nil {
		logger.Warn("[Store][RemoveEdge] Failed to delete edge record", "edge", key, "err", forwardErr)
	}
	if !directed && source != target {
		mirror := common.EdgeKey(target, source)
		if err := s.backend.DeleteEdge(ctx, mirror); err != nil {
			logger.Warn("[Store][RemoveEdge] Failed to delete mirror record", "edge", mirror, "err", err)
		}
	}
	return wrap(op, key, forwardErr)
}

// EdgeExists reports whether a record is stored for source -> target.
func (s *GraphStore) EdgeExists(ctx context.Context, source, target string) (bool, error) {
	key := common.EdgeKey(source, target)
	ok, err := s.backend.EdgeExists(ctx, key)
	return ok, wrap("EdgeExists", key, err)
}
