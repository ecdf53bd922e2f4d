package ai

import (
	"testing"

	"github.com/OFFIS-RIT/kgstore/pkg/common"

	"github.com/google/go-cmp/cmp"
)

func TestNodeText(t *testing.T) {
	got := string(NodeText(common.Node{Title: " Ada ", Description: "mathematician"}))
	if got != "Ada\nmathematician" {
		t.Fatalf("unexpected text %q", got)
	}
	if got := NodeText(common.Node{}); len(got) != 0 {
		t.Fatalf("expected empty text, got %q", got)
	}
}

func TestFitDimensions(t *testing.T) {
	tests := []struct {
		in   []float32
		dim  int
		want []float32
	}{
		{[]float32{1, 2, 3}, 2, []float32{1, 2}},
		{[]float32{1}, 3, []float32{1, 0, 0}},
		{[]float32{1, 2}, 0, []float32{1, 2}},
	}
	for _, tc := range tests {
		if diff := cmp.Diff(tc.want, FitDimensions(tc.in, tc.dim)); diff != "" {
			t.Fatalf("FitDimensions(%v, %d) mismatch (-want +got):\n%s", tc.in, tc.dim, diff)
		}
	}
}

func TestModelMetricsAdd(t *testing.T) {
	var m ModelMetrics
	m.Add(ModelMetrics{TotalTokens: 50, Requests: 1, DurationMs: 500})
	m.Add(ModelMetrics{TotalTokens: 50, Requests: 1, DurationMs: 500})
	if m.Requests != 2 || m.TotalTokens != 100 || m.TokenPerSecond != 100 {
		t.Fatalf("unexpected metrics %+v", m)
	}
}
