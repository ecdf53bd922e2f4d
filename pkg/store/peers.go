package store

import (
	"context"
	"errors"

	"github.com/OFFIS-RIT/kgstore/pkg/common"
	"github.com/OFFIS-RIT/kgstore/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// mutation edits a node adjacency list and reports whether it changed.
type mutation func(*common.Node) bool

func addTo(uid string) mutation {
	return func(n *common.Node) (changed bool) {
		n.EdgesTo, changed = common.AddUID(n.EdgesTo, uid)
		return changed
	}
}

func addFrom(uid string) mutation {
	return func(n *common.Node) (changed bool) {
		n.EdgesFrom, changed = common.AddUID(n.EdgesFrom, uid)
		return changed
	}
}

func removeTo(uid string) mutation {
	return func(n *common.Node) (changed bool) {
		n.EdgesTo, changed = common.RemoveUID(n.EdgesTo, uid)
		return changed
	}
}

func removeFrom(uid string) mutation {
	return func(n *common.Node) (changed bool) {
		n.EdgesFrom, changed = common.RemoveUID(n.EdgesFrom, uid)
		return changed
	}
}

// peerPlan groups mutations by node so each peer gets a single
// read-modify-write, even when it appears in both adjacency lists.
type peerPlan struct {
	order []string
	muts  map[string][]mutation
}

func newPeerPlan() *peerPlan {
	return &peerPlan{muts: make(map[string][]mutation)}
}

func (p *peerPlan) add(uid string, m mutation) {
	if _, ok := p.muts[uid]; !ok {
		p.order = append(p.order, uid)
	}
	p.muts[uid] = append(p.muts[uid], m)
}

// applyPeers runs every planned update. Failures are logged and skipped.
func (s *GraphStore) applyPeers(ctx context.Context, op string, plan *peerPlan) {
	var g errgroup.Group
	g.SetLimit(s.parallelism)
	for _, uid := range plan.order {
		muts := plan.muts[uid]
		g.Go(func() error {
			s.updatePeer(ctx, op, uid, muts...)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *GraphStore) updatePeer(ctx context.Context, op, uid string, muts ...mutation) bool {
	peer, err := s.backend.GetNode(ctx, uid)
	if errors.Is(err, ErrNotFound) {
		logger.Debug("[Store]["+op+"] Skipping vanished peer", "peer", uid)
		return false
	}
	if err != nil {
		logger.Warn("[Store]["+op+"] Failed to load peer", "peer", uid, "err", err)
		return false
	}
	peer.Normalize()

	changed := false
	for _, m := range muts {
		if m(&peer) {
			changed = true
		}
	}
	if !changed {
		return true
	}
	if err := s.backend.PutNode(ctx, peer); err != nil {
		logger.Warn("[Store]["+op+"] Failed to update peer", "peer", uid, "err", err)
		return false
	}
	return true
}
