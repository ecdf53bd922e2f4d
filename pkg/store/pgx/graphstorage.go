// Package pgx stores the graph in PostgreSQL. Records are kept as jsonb
// documents and node embeddings in a pgvector column, which backs native
// nearest neighbor search.
package pgx

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/kgstore/pkg/logger"
	"github.com/OFFIS-RIT/kgstore/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// GraphDBStorage implements store.Backend, store.EdgeIndexer and
// store.VectorSearcher on PostgreSQL with pgvector.
type GraphDBStorage struct {
	conn pgxIConn
	cols store.Collections
	pool *pgxpool.Pool
}

var (
	_ store.Backend        = (*GraphDBStorage)(nil)
	_ store.EdgeIndexer    = (*GraphDBStorage)(nil)
	_ store.VectorSearcher = (*GraphDBStorage)(nil)
)

type GraphDBStorageOption func(*GraphDBStorage)

// WithCollections sets the table names.
func WithCollections(cols store.Collections) GraphDBStorageOption {
	return func(s *GraphDBStorage) {
		s.cols = cols
	}
}

// NewGraphDBStorageWithConnection creates the storage on an existing pool or
// connection and creates missing tables. The caller keeps ownership of conn.
func NewGraphDBStorageWithConnection(
	ctx context.Context,
	conn pgxIConn,
	opts ...GraphDBStorageOption,
) (*GraphDBStorage, error) {
	s := &GraphDBStorage{conn: conn}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	s.cols = s.cols.WithDefaults()
	if err := s.cols.Validate(); err != nil {
		return nil, err
	}
	if err := EnsureSchema(ctx, conn, s.cols); err != nil {
		return nil, err
	}
	return s, nil
}

// Open connects to databaseURL and returns a storage that owns its pool.
func Open(ctx context.Context, databaseURL string, opts ...GraphDBStorageOption) (*GraphDBStorage, error) {
	pool, err := NewPool(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	s, err := NewGraphDBStorageWithConnection(ctx, pool, opts...)
	if err != nil {
		pool.Close()
		return nil, err
	}
	s.pool = pool
	return s, nil
}

// NewPool opens a pool whose connections know the pgvector types. The vector
// extension is created first since type registration looks it up.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	conn, err := pgxv5.Connect(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	_, err = conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	_ = conn.Close(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector extension: %w", err)
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgxv5.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the graph tables and their indexes if absent.
func EnsureSchema(ctx context.Context, conn pgxIConn, cols store.Collections) error {
	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			node_uid  TEXT PRIMARY KEY,
			data      JSONB NOT NULL,
			embedding vector
		)`, cols.Nodes),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			edge_uid   TEXT PRIMARY KEY,
			source_uid TEXT NOT NULL,
			target_uid TEXT NOT NULL,
			data       JSONB NOT NULL
		)`, cols.Edges),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_source_idx ON %[1]s (source_uid)`, cols.Edges),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_target_idx ON %[1]s (target_uid)`, cols.Edges),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			title TEXT PRIMARY KEY,
			data  JSONB NOT NULL
		)`, cols.Communities),
	}
	for _, stmt := range stmts {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to prepare schema: %w", err)
		}
	}
	logger.Debug("[Postgres] Schema ready", "nodes", cols.Nodes, "edges", cols.Edges, "communities", cols.Communities)
	return nil
}

// Flush truncates every graph table in one statement.
func (s *GraphDBStorage) Flush(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, fmt.Sprintf("TRUNCATE %s, %s, %s", s.cols.Nodes, s.cols.Edges, s.cols.Communities))
	return err
}

// Close releases the pool if the storage opened it.
func (s *GraphDBStorage) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
