package ai

import (
	"context"
	"strings"

	"github.com/OFFIS-RIT/kgstore/pkg/common"
)

// Embedder turns text into a vector embedding.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error)
}

// ModelMetrics contains usage metrics accumulated by a client.
type ModelMetrics struct {
	InputTokens    int     `json:"input_tokens"`
	TotalTokens    int     `json:"total_tokens"`
	Requests       int     `json:"requests"`
	DurationMs     int64   `json:"duration_ms"`
	TokenPerSecond float32 `json:"tokens_per_second"`
}

// Add folds m into the receiver and recomputes the throughput.
func (a *ModelMetrics) Add(m ModelMetrics) {
	a.InputTokens += m.InputTokens
	a.TotalTokens += m.TotalTokens
	a.Requests += m.Requests
	a.DurationMs += m.DurationMs
	if a.DurationMs > 0 {
		tps := float64(a.TotalTokens) * 1000 / float64(a.DurationMs)
		a.TokenPerSecond = float32(int(tps*100)) / 100
	}
}

// NodeText is the text embedded for a node: title, type and description on
// separate lines, empty parts skipped.
func NodeText(n common.Node) []byte {
	parts := make([]string, 0, 3)
	for _, p := range []string{n.Title, n.Type, n.Description} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return []byte(strings.Join(parts, "\n"))
}

// FitDimensions truncates or zero-pads v to dim entries. dim <= 0 keeps v.
func FitDimensions(v []float32, dim int) []float32 {
	if dim <= 0 || len(v) == dim {
		return v
	}
	if len(v) > dim {
		return v[:dim]
	}
	out := make([]float32, dim)
	copy(out, v)
	return out
}
