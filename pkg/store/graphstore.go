package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/OFFIS-RIT/kgstore/pkg/common"
	"github.com/OFFIS-RIT/kgstore/pkg/logger"

	"golang.org/x/sync/errgroup"
)

const defaultParallelism = 8

// GraphStore implements GraphStorage on top of any Backend. It owns the
// consistency rules between node adjacency lists and edge records, so every
// backend behaves the same way.
//
// Without a Locker the store is eventually consistent under a single writer.
// Concurrent writers touching the same uids need WithLocker.
type GraphStore struct {
	backend      Backend
	locker       Locker
	embeddingDim int
	parallelism  int
	measure      DistanceMeasure
	neighbors    int
}

type GraphStoreOption func(*GraphStore)

// WithLocker serializes operations that touch the same node uids.
func WithLocker(locker Locker) GraphStoreOption {
	return func(s *GraphStore) {
		if locker != nil {
			s.locker = locker
		}
	}
}

// WithEmbeddingDim rejects node embeddings and queries of any other length.
func WithEmbeddingDim(dim int) GraphStoreOption {
	return func(s *GraphStore) {
		s.embeddingDim = dim
	}
}

// WithParallelism bounds the number of concurrent peer updates.
func WithParallelism(n int) GraphStoreOption {
	return func(s *GraphStore) {
		if n > 0 {
			s.parallelism = n
		}
	}
}

// WithDistanceMeasure sets the measure used by NearestNeighbors.
func WithDistanceMeasure(m DistanceMeasure) GraphStoreOption {
	return func(s *GraphStore) {
		if m != "" {
			s.measure = m
		}
	}
}

// WithDefaultNeighbors sets k for NearestNeighbors calls that pass k <= 0.
func WithDefaultNeighbors(k int) GraphStoreOption {
	return func(s *GraphStore) {
		if k > 0 {
			s.neighbors = k
		}
	}
}

var _ GraphStorage = (*GraphStore)(nil)

// NewGraphStore creates a GraphStore writing through backend.
func NewGraphStore(backend Backend, opts ...GraphStoreOption) *GraphStore {
	s := &GraphStore{
		backend:     backend,
		locker:      noopLocker{},
		parallelism: defaultParallelism,
		measure:     Euclidean,
		neighbors:   DefaultNeighbors,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

// Backend returns the underlying backend.
func (s *GraphStore) Backend() Backend {
	return s.backend
}

// Close closes the underlying backend.
func (s *GraphStore) Close() error {
	return s.backend.Close()
}

func (s *GraphStore) GenerateEdgeKey(source, target string) string {
	return common.EdgeKey(source, target)
}

// AddNode creates the node stored under uid. Every uid in the node's
// adjacency lists must already exist; on success the new uid is added to the
// opposite list of each peer.
func (s *GraphStore) AddNode(ctx context.Context, uid string, node common.Node) error {
	const op = "AddNode"
	if err := checkUID(op, uid, node.UID); err != nil {
		return err
	}
	node = node.Clone()
	node.UID = uid
	node.Normalize()
	if err := s.checkEmbedding(op, uid, node.Embedding); err != nil {
		return err
	}

	peers := node.Peers()
	unlock, err := s.locker.Lock(ctx, append([]string{uid}, peers...)...)
	if err != nil {
		return wrap(op, uid, err)
	}
	defer unlock()

	exists, err := s.backend.NodeExists(ctx, uid)
	if err != nil {
		return wrap(op, uid, err)
	}
	if exists {
		return &OpError{Op: op, Key: uid, Err: ErrAlreadyExists}
	}
	if err := s.checkReferences(ctx, op, uid, peers); err != nil {
		return err
	}

	if err := s.backend.InsertNode(ctx, node); err != nil {
		return wrap(op, uid, err)
	}
	logger.Debug("[Store][AddNode] Stored node", "uid", uid, "peers", len(peers))

	plan := newPeerPlan()
	for _, peer := range node.EdgesTo {
		plan.add(peer, addFrom(uid))
	}
	for _, peer := range node.EdgesFrom {
		plan.add(peer, addTo(uid))
	}
	s.applyPeers(ctx, op, plan)
	return nil
}

func (s *GraphStore) checkReferences(ctx context.Context, op, uid string, peers []string) error {
	var (
		mu      sync.Mutex
		missing []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for _, peer := range peers {
		if peer == uid {
			mu.Lock()
			missing = append(missing, peer)
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			ok, err := s.backend.NodeExists(gctx, peer)
			if err != nil {
				return wrap(op, peer, err)
			}
			if !ok {
				mu.Lock()
				missing = append(missing, peer)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if len(missing) > 0 {
		missing = common.NormalizeUIDs(missing)
		return &OpError{Op: op, Key: uid, Err: fmt.Errorf("%w: unknown peers %v", ErrInvalidReference, missing)}
	}
	return nil
}

// GetNode returns the node stored under uid.
func (s *GraphStore) GetNode(ctx context.Context, uid string) (common.Node, error) {
	const op = "GetNode"
	if uid == "" {
		return common.Node{}, invalidArgument(op, uid, "node uid is empty")
	}
	node, err := s.backend.GetNode(ctx, uid)
	if err != nil {
		return common.Node{}, wrap(op, uid, err)
	}
	node.Normalize()
	return node, nil
}

// UpdateNode replaces the stored record. Peers are not touched; callers that
// change the adjacency lists directly keep them consistent themselves.
func (s *GraphStore) UpdateNode(ctx context.Context, uid string, node common.Node) error {
	const op = "UpdateNode"
	if err := checkUID(op, uid, node.UID); err != nil {
		return err
	}
	node = node.Clone()
	node.UID = uid
	node.Normalize()
	if err := s.checkEmbedding(op, uid, node.Embedding); err != nil {
		return err
	}

	unlock, err := s.locker.Lock(ctx, uid)
	if err != nil {
		return wrap(op, uid, err)
	}
	defer unlock()

	exists, err := s.backend.NodeExists(ctx, uid)
	if err != nil {
		return wrap(op, uid, err)
	}
	if !exists {
		return &OpError{Op: op, Key: uid, Err: ErrNotFound}
	}
	return wrap(op, uid, s.backend.PutNode(ctx, node))
}

// RemoveNode deletes the node, strips it from every peer adjacency list and
// deletes every edge record that starts or ends at it. Peer and edge cleanup
// is best effort; only the failure to delete the node itself is returned.
func (s *GraphStore) RemoveNode(ctx context.Context, uid string) error {
	const op = "RemoveNode"
	if uid == "" {
		return invalidArgument(op, uid, "node uid is empty")
	}
	node, err := s.backend.GetNode(ctx, uid)
	if err != nil {
		return wrap(op, uid, err)
	}

	unlock, err := s.locker.Lock(ctx, append([]string{uid}, node.Peers()...)...)
	if err != nil {
		return wrap(op, uid, err)
	}
	defer unlock()

	// Reload under the lock; adjacency may have changed since the first read.
	node, err = s.backend.GetNode(ctx, uid)
	if err != nil {
		return wrap(op, uid, err)
	}
	node.Normalize()

	plan := newPeerPlan()
	for _, peer := range node.EdgesFrom {
		if peer != uid {
			plan.add(peer, removeTo(uid))
		}
	}
	for _, peer := range node.EdgesTo {
		if peer != uid {
			plan.add(peer, removeFrom(uid))
		}
	}
	s.applyPeers(ctx, op, plan)
	s.removeEdgeRecords(ctx, op, node)

	if err := s.backend.DeleteNode(ctx, uid); err != nil {
		return wrap(op, uid, err)
	}
	logger.Debug("[Store][RemoveNode] Removed node", "uid", uid)
	return nil
}

func (s *GraphStore) removeEdgeRecords(ctx context.Context, op string, node common.Node) {
	keys := make(map[string]struct{})
	for _, peer := range node.EdgesTo {
		keys[common.EdgeKey(node.UID, peer)] = struct{}{}
	}
	for _, peer := range node.EdgesFrom {
		keys[common.EdgeKey(peer, node.UID)] = struct{}{}
	}
	if idx, ok := s.backend.(EdgeIndexer); ok {
		edges, err := idx.EdgesTouching(ctx, node.UID)
		switch {
		case errors.Is(err, errors.ErrUnsupported):
		case err != nil:
			logger.Warn("[Store]["+op+"] Failed to look up edge records", "uid", node.UID, "err", err)
		default:
			for _, e := range edges {
				keys[edgeRecordKey(e)] = struct{}{}
			}
		}
	}

	var g errgroup.Group
	g.SetLimit(s.parallelism)
	for key := range keys {
		g.Go(func() error {
			if err := s.backend.DeleteEdge(ctx, key); err != nil {
				logger.Warn("[Store]["+op+"] Failed to delete edge record", "edge", key, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// NodeExists reports whether a node is stored under uid.
func (s *GraphStore) NodeExists(ctx context.Context, uid string) (bool, error) {
	ok, err := s.backend.NodeExists(ctx, uid)
	return ok, wrap("NodeExists", uid, err)
}

func (s *GraphStore) checkEmbedding(op, uid string, embedding []float32) error {
	if s.embeddingDim > 0 && len(embedding) > 0 && len(embedding) != s.embeddingDim {
		return invalidArgument(op, uid, "embedding has %d dimensions, want %d", len(embedding), s.embeddingDim)
	}
	return nil
}

func checkUID(op, uid, recordUID string) error {
	if !common.ValidUID(uid) {
		return invalidArgument(op, uid, "node uid must be non-empty and must not contain %q", common.EdgeKeySeparator)
	}
	if recordUID != "" && recordUID != uid {
		return invalidArgument(op, uid, "record uid %q does not match", recordUID)
	}
	return nil
}

func edgeRecordKey(e common.Edge) string {
	if e.EdgeUID != "" {
		return e.EdgeUID
	}
	return common.EdgeKey(e.SourceUID, e.TargetUID)
}
