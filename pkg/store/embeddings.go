package store

import (
	"context"
	"errors"
	"slices"

	"github.com/OFFIS-RIT/kgstore/pkg/ai"
	"github.com/OFFIS-RIT/kgstore/pkg/common"
	"github.com/OFFIS-RIT/kgstore/pkg/logger"
)

const defaultEmbedBatch = 64

// EmbedOptions controls EmbedNodes.
type EmbedOptions struct {
	// Force re-embeds nodes that already carry an embedding.
	Force bool
	// BatchSize bounds the inputs per embedding request. Defaults to 64.
	BatchSize int
}

// EmbedNodes embeds the title, type and description of every node without
// an embedding and stores the vectors, fitted to the configured dimension.
// It returns the uids that were written, sorted. Nodes without any text are
// skipped.
func (s *GraphStore) EmbedNodes(ctx context.Context, client ai.Embedder, opts EmbedOptions) ([]string, error) {
	const op = "EmbedNodes"
	if client == nil {
		return nil, invalidArgument(op, "", "no embedding client configured")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultEmbedBatch
	}

	var (
		uids  []string
		texts [][]byte
	)
	err := s.backend.ScanNodes(ctx, func(n common.Node) error {
		if len(n.Embedding) > 0 && !opts.Force {
			return nil
		}
		if text := ai.NodeText(n); len(text) > 0 {
			uids = append(uids, n.UID)
			texts = append(texts, text)
		}
		return nil
	})
	if err != nil {
		return nil, wrap(op, "", err)
	}

	var written []string
	err = ChunkRange(len(uids), opts.BatchSize, func(start, end int) error {
		vectors, err := GenerateEmbeddings(ctx, client, texts[start:end], s.parallelism)
		if err != nil {
			return Unavailable(err)
		}
		if len(vectors) != end-start {
			return Unavailable(errors.New("embedding client returned a short batch"))
		}
		for i, vec := range vectors {
			uid := uids[start+i]
			ok, err := s.setEmbedding(ctx, uid, ai.FitDimensions(vec, s.embeddingDim))
			if err != nil {
				return wrap(op, uid, err)
			}
			if ok {
				written = append(written, uid)
			}
		}
		return nil
	})
	slices.Sort(written)
	logger.Info("[Store][EmbedNodes] Embedded nodes", "candidates", len(uids), "written", len(written))
	return written, wrap(op, "", err)
}

// setEmbedding rewrites the embedding of the current record under the node
// lock. A node removed since the scan is skipped.
func (s *GraphStore) setEmbedding(ctx context.Context, uid string, vec []float32) (bool, error) {
	if len(vec) == 0 {
		return false, nil
	}
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
	n.Embedding = vec
	return true, s.backend.PutNode(ctx, n)
}
