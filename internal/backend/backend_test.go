package backend

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/OFFIS-RIT/kgstore/internal/config"
	"github.com/OFFIS-RIT/kgstore/pkg/common"
	"github.com/OFFIS-RIT/kgstore/pkg/leaselock"
	"github.com/OFFIS-RIT/kgstore/pkg/metrics"
	"github.com/OFFIS-RIT/kgstore/pkg/store"
	"github.com/OFFIS-RIT/kgstore/pkg/store/badger"
	"github.com/OFFIS-RIT/kgstore/pkg/store/memory"
	"github.com/OFFIS-RIT/kgstore/pkg/store/resilience"
	"github.com/OFFIS-RIT/kgstore/pkg/store/sqlite"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func testConfig(t *testing.T) config.Config {
	dir := t.TempDir()
	return config.Config{
		Backend:     config.BackendMemory,
		Collections: store.DefaultCollections(),
		Locking:     "local",
		BadgerDir:   filepath.Join(dir, "badger"),
		SQLitePath:  filepath.Join(dir, "nested", "kg.db"),
	}
}

func TestOpenEmbeddedBackends(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	tests := []struct {
		kind  string
		check func(store.Backend) bool
	}{
		{config.BackendMemory, func(b store.Backend) bool { _, ok := b.(*memory.Backend); return ok }},
		{config.BackendBadger, func(b store.Backend) bool { _, ok := b.(*badger.Backend); return ok }},
		{config.BackendSQLite, func(b store.Backend) bool { _, ok := b.(*sqlite.Backend); return ok }},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			b, err := Open(ctx, tt.kind, cfg)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer b.Close()
			if !tt.check(b) {
				t.Fatalf("unexpected backend type %T", b)
			}
			if err := b.PutNode(ctx, common.Node{UID: "a"}); err != nil {
				t.Fatalf("PutNode: %v", err)
			}
		})
	}
}

func TestOpenUnknownKind(t *testing.T) {
	_, err := Open(context.Background(), "cassandra", testConfig(t))
	if !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestDecorate(t *testing.T) {
	cfg := testConfig(t)
	c := metrics.NewCollector("kg")

	if _, ok := Decorate(memory.New(), config.BackendMemory, cfg, nil).(*memory.Backend); !ok {
		t.Fatalf("memory backend should not be decorated without a collector")
	}
	if _, ok := Decorate(memory.New(), config.BackendMemory, cfg, c).(*metrics.Backend); !ok {
		t.Fatalf("expected metrics decorator")
	}
	if _, ok := Decorate(memory.New(), config.BackendSQLite, cfg, nil).(*resilience.Backend); !ok {
		t.Fatalf("expected resilience decorator for a remote kind")
	}
}

func TestNewLocker(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	l, release, err := NewLocker(ctx, cfg)
	if err != nil {
		t.Fatalf("NewLocker: %v", err)
	}
	defer release()
	if _, ok := l.(*leaselock.Local); !ok {
		t.Fatalf("expected local locker, got %T", l)
	}

	cfg.Locking = "none"
	if l, _, err := NewLocker(ctx, cfg); err != nil || l != nil {
		t.Fatalf("expected no locker, got %v %v", l, err)
	}

	cfg.Locking = "zookeeper"
	if _, _, err := NewLocker(ctx, cfg); err == nil {
		t.Fatalf("expected error for unknown locking mode")
	}
}

func TestNewEmbedder(t *testing.T) {
	cfg := testConfig(t)
	if e, err := NewEmbedder(cfg); err != nil || e != nil {
		t.Fatalf("expected no embedder, got %v %v", e, err)
	}
	cfg.AIAdapter = "openai"
	if _, err := NewEmbedder(cfg); err == nil {
		t.Fatalf("expected error without a model")
	}
	cfg.AIEmbedModel = "text-embedding-3-small"
	if e, err := NewEmbedder(cfg); err != nil || e == nil {
		t.Fatalf("expected embedder, got %v %v", e, err)
	}
}

func TestNewStack(t *testing.T) {
	ctx := context.Background()
	c := metrics.NewCollector("kg")
	s, err := New(ctx, testConfig(t), c)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if err := s.Store.AddNode(ctx, "a", common.Node{}); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if got := testutil.ToFloat64(c.BackendOps.WithLabelValues("memory", "insert_node", "ok")); got != 1 {
		t.Fatalf("expected one recorded insert, got %v", got)
	}
}
