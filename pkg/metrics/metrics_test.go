package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/kgstore/pkg/common"
	"github.com/OFFIS-RIT/kgstore/pkg/store"
	"github.com/OFFIS-RIT/kgstore/pkg/store/memory"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInstrumentCountsOutcomes(t *testing.T) {
	ctx := context.Background()
	c := NewCollector("kg")
	b := c.Instrument(memory.New(), "memory")

	if err := b.PutNode(ctx, common.Node{UID: "a"}); err != nil {
		t.Fatalf("PutNode: %v", err)
	}
	if _, err := b.GetNode(ctx, "a"); err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if _, err := b.GetNode(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if got := testutil.ToFloat64(c.BackendOps.WithLabelValues("memory", "get_node", "ok")); got != 1 {
		t.Fatalf("expected 1 ok get_node, got %v", got)
	}
	if got := testutil.ToFloat64(c.BackendOps.WithLabelValues("memory", "get_node", "not_found")); got != 1 {
		t.Fatalf("expected 1 not_found get_node, got %v", got)
	}
	if got := testutil.CollectAndCount(c.BackendDuration); got != 2 {
		t.Fatalf("expected 2 duration series, got %d", got)
	}
}

func TestInstrumentKeepsStoreSemantics(t *testing.T) {
	ctx := context.Background()
	c := NewCollector("kg")
	s := store.NewGraphStore(c.Instrument(memory.New(), "memory"))

	for _, uid := range []string{"a", "b"} {
		if err := s.AddNode(ctx, uid, common.Node{}); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
	}
	if err := s.AddEdge(ctx, common.Edge{SourceUID: "a", TargetUID: "b"}, true); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	if err := s.RemoveNode(ctx, "a"); err != nil {
		t.Fatalf("RemoveNode: %v", err)
	}
	if ok, _ := s.EdgeExists(ctx, "a", "b"); ok {
		t.Fatalf("edge survived node removal")
	}
	// memory supports the edge index, so the cascade used it
	if got := testutil.ToFloat64(c.BackendOps.WithLabelValues("memory", "edges_touching", "ok")); got != 1 {
		t.Fatalf("expected one edges_touching call, got %v", got)
	}
}

func TestStatus(t *testing.T) {
	tests := map[string]error{
		"ok":          nil,
		"not_found":   fmt.Errorf("wrapped: %w", store.ErrNotFound),
		"exists":      store.ErrAlreadyExists,
		"unsupported": errors.ErrUnsupported,
		"invalid":     store.ErrInvalidReference,
		"error":       errors.New("boom"),
	}
	for want, err := range tests {
		if got := Status(err); got != want {
			t.Fatalf("Status(%v) = %q, want %q", err, got, want)
		}
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector("kg")
	c.Jobs.WithLabelValues("graph_mutation_queue", "ok").Inc()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `kg_jobs_total{queue="graph_mutation_queue",status="ok"} 1`) {
		t.Fatalf("jobs counter missing from exposition:\n%s", body)
	}
}
