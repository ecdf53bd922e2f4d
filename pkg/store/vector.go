package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/kgstore/pkg/common"

	"gonum.org/v1/gonum/floats"
)

// DistanceMeasure selects how embedding distance is computed.
type DistanceMeasure string

const (
	Euclidean  DistanceMeasure = "EUCLIDEAN"
	Cosine     DistanceMeasure = "COSINE"
	DotProduct DistanceMeasure = "DOT_PRODUCT"
)

// DefaultNeighbors is the number of results NearestNeighbors returns when
// the caller does not ask for a specific count.
const DefaultNeighbors = 10

// ParseDistanceMeasure parses a measure name, case-insensitively.
func ParseDistanceMeasure(s string) (DistanceMeasure, error) {
	switch m := DistanceMeasure(strings.ToUpper(strings.TrimSpace(s))); m {
	case "":
		return Euclidean, nil
	case Euclidean, Cosine, DotProduct:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown distance measure %q", ErrInvalidArgument, s)
	}
}

// Neighbor is one nearest neighbor result. Smaller distances are closer.
type Neighbor struct {
	Node     common.Node `json:"node"`
	Distance float64     `json:"distance"`
}

// Distance returns the distance between a and b under m. For DotProduct the
// negated product is returned so that ordering stays ascending.
func Distance(m DistanceMeasure, a, b []float64) float64 {
	switch m {
	case Cosine:
		na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
		if na == 0 || nb == 0 {
			return 1
		}
		return 1 - floats.Dot(a, b)/(na*nb)
	case DotProduct:
		return -floats.Dot(a, b)
	default:
		return floats.Distance(a, b, 2)
	}
}

// NearestNeighbors returns up to k nodes whose embedding is closest to
// query. Nodes without an embedding of the same length are ignored.
func (s *GraphStore) NearestNeighbors(ctx context.Context, query []float32, k int) ([]Neighbor, error) {
	const op = "NearestNeighbors"
	if len(query) == 0 {
		return nil, invalidArgument(op, "", "query vector is empty")
	}
	if s.embeddingDim > 0 && len(query) != s.embeddingDim {
		return nil, invalidArgument(op, "", "query has %d dimensions, want %d", len(query), s.embeddingDim)
	}
	if k <= 0 {
		k = s.neighbors
	}

	if vs, ok := s.backend.(VectorSearcher); ok {
		res, err := vs.NearestNodes(ctx, query, k, s.measure)
		if err == nil {
			for i := range res {
				res[i].Node.Normalize()
			}
			return res, nil
		}
		if !errors.Is(err, errors.ErrUnsupported) {
			return nil, wrap(op, "", err)
		}
	}

	res, err := ScanNearest(ctx, s.backend, query, k, s.measure)
	return res, wrap(op, "", err)
}

// ScanNearest computes nearest neighbors exactly by scanning every node.
func ScanNearest(ctx context.Context, b Backend, query []float32, k int, m DistanceMeasure) ([]Neighbor, error) {
	q := toFloat64(query)
	var out []Neighbor
	err := b.ScanNodes(ctx, func(n common.Node) error {
		if len(n.Embedding) != len(q) {
			return nil
		}
		d := Distance(m, q, toFloat64(n.Embedding))
		if math.IsNaN(d) {
			return nil
		}
		n.Normalize()
		out = append(out, Neighbor{Node: n, Distance: d})
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(out, func(a, b Neighbor) int {
		if a.Distance != b.Distance {
			if a.Distance < b.Distance {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Node.UID, b.Node.UID)
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}
