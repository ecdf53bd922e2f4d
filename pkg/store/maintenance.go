package store

import (
	"context"
	"errors"
	"slices"

	"github.com/OFFIS-RIT/kgstore/pkg/common"
	"github.com/OFFIS-RIT/kgstore/pkg/logger"
)

// RepairOptions controls Repair.
type RepairOptions struct {
	// DryRun reports what would change without writing.
	DryRun bool
}

// RepairReport summarizes a Repair pass.
type RepairReport struct {
	Nodes         int      `json:"nodes"`
	Edges         int      `json:"edges"`
	OrphanEdges   []string `json:"orphan_edges,omitempty"`
	RepairedNodes []string `json:"repaired_nodes,omitempty"`
	DryRun        bool     `json:"dry_run"`
}

// FlushGraph deletes every node, edge and community.
func (s *GraphStore) FlushGraph(ctx context.Context) error {
	if err := s.backend.Flush(ctx); err != nil {
		return wrap("FlushGraph", "", err)
	}
	logger.Info("[Store][FlushGraph] Flushed graph")
	return nil
}

// CleanZeroDegreeNodes removes every node with empty adjacency lists and
// returns their uids. Each candidate is reloaded under its lock and kept if
// it was linked since the scan. Edge records still touching a removed node
// are deleted with it.
func (s *GraphStore) CleanZeroDegreeNodes(ctx context.Context) ([]string, error) {
	const op = "CleanZeroDegreeNodes"
	var isolated []string
	err := s.backend.ScanNodes(ctx, func(n common.Node) error {
		if len(n.EdgesTo) == 0 && len(n.EdgesFrom) == 0 {
			isolated = append(isolated, n.UID)
		}
		return nil
	})
	if err != nil {
		return nil, wrap(op, "", err)
	}
	slices.Sort(isolated)

	removed := make([]string, 0, len(isolated))
	var errs []error
	for _, uid := range isolated {
		ok, err := s.removeIsolated(ctx, op, uid)
		if err != nil {
			errs = append(errs, wrap(op, uid, err))
			continue
		}
		if ok {
			removed = append(removed, uid)
		}
	}
	logger.Info("[Store][CleanZeroDegreeNodes] Removed isolated nodes", "candidates", len(isolated), "count", len(removed))
	return removed, errors.Join(errs...)
}

func (s *GraphStore) removeIsolated(ctx context.Context, op, uid string) (bool, error) {
	unlock, err := s.locker.Lock(ctx, uid)
	if err != nil {
		return false, err
	}
	defer unlock()

	n, err := s.backend.GetNode(ctx, uid)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(n.EdgesTo) > 0 || len(n.EdgesFrom) > 0 {
		logger.Debug("[Store]["+op+"] Keeping node linked since scan", "uid", uid)
		return false, nil
	}
	s.removeEdgeRecords(ctx, op, n)
	if err := s.backend.DeleteNode(ctx, uid); err != nil {
		return false, err
	}
	return true, nil
}

// Repair treats the edge records as the source of truth. Records whose
// endpoints are gone are deleted, and every node whose adjacency lists
// disagree with the records is rewritten.
func (s *GraphStore) Repair(ctx context.Context, opts RepairOptions) (RepairReport, error) {
	const op = "Repair"
	report := RepairReport{DryRun: opts.DryRun}

	nodes := make(map[string]common.Node)
	err := s.backend.ScanNodes(ctx, func(n common.Node) error {
		n.Normalize()
		nodes[n.UID] = n
		return nil
	})
	if err != nil {
		return report, wrap(op, "", err)
	}
	report.Nodes = len(nodes)

	wantTo := make(map[string][]string)
	wantFrom := make(map[string][]string)
	err = s.backend.ScanEdges(ctx, func(e common.Edge) error {
		report.Edges++
		_, okSource := nodes[e.SourceUID]
		_, okTarget := nodes[e.TargetUID]
		if !okSource || !okTarget {
			report.OrphanEdges = append(report.OrphanEdges, edgeRecordKey(e))
			return nil
		}
		wantTo[e.SourceUID] = append(wantTo[e.SourceUID], e.TargetUID)
		wantFrom[e.TargetUID] = append(wantFrom[e.TargetUID], e.SourceUID)
		return nil
	})
	if err != nil {
		return report, wrap(op, "", err)
	}
	slices.Sort(report.OrphanEdges)

	uids := make([]string, 0, len(nodes))
	for uid := range nodes {
		uids = append(uids, uid)
	}
	slices.Sort(uids)

	var errs []error
	for _, uid := range uids {
		n := nodes[uid]
		to := common.NormalizeUIDs(wantTo[uid])
		from := common.NormalizeUIDs(wantFrom[uid])
		if slices.Equal(n.EdgesTo, to) && slices.Equal(n.EdgesFrom, from) {
			continue
		}
		report.RepairedNodes = append(report.RepairedNodes, uid)
		if opts.DryRun {
			continue
		}
		if err := s.rewriteAdjacency(ctx, uid, to, from); err != nil {
			errs = append(errs, wrap(op, uid, err))
		}
	}

	if !opts.DryRun {
		for _, key := range report.OrphanEdges {
			if err := s.backend.DeleteEdge(ctx, key); err != nil {
				errs = append(errs, wrap(op, key, err))
			}
		}
	}

	logger.Info("[Store][Repair] Finished repair pass",
		"nodes", report.Nodes,
		"edges", report.Edges,
		"orphans", len(report.OrphanEdges),
		"repaired", len(report.RepairedNodes),
		"dry_run", opts.DryRun,
	)
	return report, errors.Join(errs...)
}

func (s *GraphStore) rewriteAdjacency(ctx context.Context, uid string, to, from []string) error {
	unlock, err := s.locker.Lock(ctx, uid)
	if err != nil {
		return err
	}
	defer unlock()

	n, err := s.backend.GetNode(ctx, uid)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	n.EdgesTo = to
	n.EdgesFrom = from
	return s.backend.PutNode(ctx, n)
}
