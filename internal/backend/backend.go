// Package backend wires the configured database adapter, decorators, locker
// and embedder into a GraphStore.
package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/OFFIS-RIT/kgstore/internal/config"
	"github.com/OFFIS-RIT/kgstore/pkg/ai"
	"github.com/OFFIS-RIT/kgstore/pkg/ai/ollama"
	"github.com/OFFIS-RIT/kgstore/pkg/ai/openai"
	"github.com/OFFIS-RIT/kgstore/pkg/leaselock"
	"github.com/OFFIS-RIT/kgstore/pkg/logger"
	"github.com/OFFIS-RIT/kgstore/pkg/metrics"
	"github.com/OFFIS-RIT/kgstore/pkg/store"
	"github.com/OFFIS-RIT/kgstore/pkg/store/badger"
	"github.com/OFFIS-RIT/kgstore/pkg/store/dynamodb"
	"github.com/OFFIS-RIT/kgstore/pkg/store/memory"
	"github.com/OFFIS-RIT/kgstore/pkg/store/neo4j"
	"github.com/OFFIS-RIT/kgstore/pkg/store/pgx"
	"github.com/OFFIS-RIT/kgstore/pkg/store/resilience"
	"github.com/OFFIS-RIT/kgstore/pkg/store/sqlite"

	"github.com/jackc/pgx/v5/pgxpool"
)

const tableWait = 2 * time.Minute

// Stack is a ready GraphStore together with the resources it owns.
type Stack struct {
	Store *store.GraphStore
	// Embedder is nil when no AI_ADAPTER is configured.
	Embedder ai.Embedder
	Kind     string

	closers []func()
}

// New opens cfg.Backend and builds the GraphStore on it. collector may be
// nil to skip instrumentation.
func New(ctx context.Context, cfg config.Config, collector *metrics.Collector) (*Stack, error) {
	raw, err := Open(ctx, cfg.Backend, cfg)
	if err != nil {
		return nil, err
	}
	s := &Stack{Kind: cfg.Backend}

	locker, release, err := NewLocker(ctx, cfg)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}
	s.closers = append(s.closers, release)

	emb, err := NewEmbedder(cfg)
	if err != nil {
		_ = raw.Close()
		release()
		return nil, err
	}
	s.Embedder = emb

	opts := append(cfg.StoreOptions(), store.WithLocker(locker))
	s.Store = store.NewGraphStore(Decorate(raw, cfg.Backend, cfg, collector), opts...)
	logger.Info("[Backend] Graph store ready", "backend", cfg.Backend, "locking", cfg.Locking, "embedder", cfg.AIAdapter)
	return s, nil
}

// Close closes the store and everything opened alongside it.
func (s *Stack) Close() error {
	err := s.Store.Close()
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	return err
}

// Open connects to the backend of the given kind using the connection
// settings in cfg. Schemas and tables are created if absent.
func Open(ctx context.Context, kind string, cfg config.Config) (store.Backend, error) {
	cols := cfg.Collections
	switch kind {
	case config.BackendMemory:
		return memory.New(), nil
	case config.BackendBadger:
		return badger.Open(badger.Options{Dir: cfg.BadgerDir, Collections: cols})
	case config.BackendSQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
			}
		}
		return sqlite.Open(ctx, cfg.SQLitePath, cols)
	case config.BackendPostgres:
		return pgx.Open(ctx, cfg.DatabaseURL, pgx.WithCollections(cols))
	case config.BackendNeo4j:
		return neo4j.New(ctx, neo4j.Config{
			URI:         cfg.Neo4jURI,
			Username:    cfg.Neo4jUser,
			Password:    cfg.Neo4jPass,
			Database:    cfg.Neo4jDB,
			Collections: cols,
		})
	case config.BackendDynamo:
		client, err := dynamodb.NewClient(ctx, dynamodb.ClientOptions{
			Region:    cfg.AWSRegion,
			Endpoint:  cfg.AWSEndpoint,
			AccessKey: cfg.AWSAccessKey,
			SecretKey: cfg.AWSSecretKey,
		})
		if err != nil {
			return nil, err
		}
		b, err := dynamodb.New(client, cfg.DynamoTable, cols)
		if err != nil {
			return nil, err
		}
		if err := b.EnsureTable(ctx, tableWait); err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("%w: unknown backend %q", store.ErrInvalidArgument, kind)
}

// Decorate adds retries and a circuit breaker to remote backends and
// records metrics when collector is set. The memory backend is never
// retried.
func Decorate(b store.Backend, name string, cfg config.Config, collector *metrics.Collector) store.Backend {
	if name != config.BackendMemory {
		opts := resilience.DefaultOptions(name)
		if cfg.Retries > 0 {
			opts.Retries = cfg.Retries
		}
		if cfg.RetryBackoff > 0 {
			opts.Backoff.Base = cfg.RetryBackoff
		}
		if cfg.BreakerTimeout > 0 {
			opts.Timeout = cfg.BreakerTimeout
		}
		b = resilience.Wrap(b, opts)
	}
	if collector != nil {
		b = collector.Instrument(b, name)
	}
	return b
}

// NewLocker returns the Locker selected by cfg.Locking and a function that
// frees its resources.
func NewLocker(ctx context.Context, cfg config.Config) (store.Locker, func(), error) {
	switch cfg.Locking {
	case "", "none":
		return nil, func() {}, nil
	case "local":
		return leaselock.NewLocal(), func() {}, nil
	case "lease":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect lock database: %w", err)
		}
		client := leaselock.New(pool)
		if err := client.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		host, _ := os.Hostname()
		l := client.Locker(cfg.Collections.Nodes+":", leaselock.Options{
			TTL:         cfg.LeaseTTL,
			TokenPrefix: host + "-",
		})
		return l, pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown locking mode %q", cfg.Locking)
}

// NewEmbedder returns the client for cfg.AIAdapter, or nil when none is
// configured.
func NewEmbedder(cfg config.Config) (ai.Embedder, error) {
	switch cfg.AIAdapter {
	case "":
		return nil, nil
	case "openai":
		if cfg.AIEmbedModel == "" {
			return nil, errors.New("AI_EMBED_MODEL is required for the openai adapter")
		}
		return openai.NewEmbeddingClient(openai.NewEmbeddingClientParams{
			Model:      cfg.AIEmbedModel,
			Dimensions: cfg.EmbeddingDim,
			BaseURL:    cfg.AIEmbedURL,
			APIKey:     cfg.AIEmbedKey,
		}), nil
	case "ollama":
		if cfg.AIEmbedModel == "" {
			return nil, errors.New("AI_EMBED_MODEL is required for the ollama adapter")
		}
		return ollama.NewEmbeddingClient(ollama.NewEmbeddingClientParams{
			Model:      cfg.AIEmbedModel,
			Dimensions: cfg.EmbeddingDim,
			BaseURL:    cfg.AIEmbedURL,
			APIKey:     cfg.AIEmbedKey,
		})
	}
	return nil, fmt.Errorf("unknown AI adapter %q", cfg.AIAdapter)
}
