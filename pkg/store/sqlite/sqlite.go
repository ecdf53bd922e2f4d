// Package sqlite stores the graph in an embedded SQLite database. Records
// are kept as JSON documents next to the columns needed for lookups.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/kgstore/pkg/common"
	"github.com/OFFIS-RIT/kgstore/pkg/logger"
	"github.com/OFFIS-RIT/kgstore/pkg/store"

	_ "modernc.org/sqlite"
)

// Backend implements store.Backend and store.EdgeIndexer on SQLite.
type Backend struct {
	db   *sql.DB
	cols store.Collections
}

var (
	_ store.Backend     = (*Backend)(nil)
	_ store.EdgeIndexer = (*Backend)(nil)
)

// Open opens the database at path and creates missing tables. Use
// ":memory:" for a private in-memory database.
func Open(ctx context.Context, path string, cols store.Collections) (*Backend, error) {
	cols = cols.WithDefaults()
	if err := cols.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	inMemory := path == ":memory:" || strings.Contains(path, "mode=memory")
	if inMemory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to sqlite: %w", err)
	}

	pragmas := []string{"PRAGMA busy_timeout = 5000", "PRAGMA synchronous = NORMAL"}
	if !inMemory {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, stmt := range append(pragmas, schema(cols)...) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("preparing sqlite database: %w", err)
		}
	}
	logger.Debug("[SQLite] Opened database", "path", path)
	return &Backend{db: db, cols: cols}, nil
}

func schema(c store.Collections) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			node_uid TEXT PRIMARY KEY,
			data     TEXT NOT NULL
		)`, c.Nodes),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			edge_uid   TEXT PRIMARY KEY,
			source_uid TEXT NOT NULL,
			target_uid TEXT NOT NULL,
			data       TEXT NOT NULL
		)`, c.Edges),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_source_idx ON %[1]s (source_uid)`, c.Edges),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_target_idx ON %[1]s (target_uid)`, c.Edges),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			title TEXT PRIMARY KEY,
			data  TEXT NOT NULL
		)`, c.Communities),
	}
}

func getJSON[T any](ctx context.Context, db *sql.DB, query string, args ...any) (T, error) {
	var (
		out  T
		data string
	)
	err := db.QueryRowContext(ctx, query, args...).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return out, store.ErrNotFound
	}
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return out, fmt.Errorf("decoding record: %w", err)
	}
	return out, nil
}

// scanJSON reads every row into memory before fn runs, so fn never holds the
// connection.
func scanJSON[T any](ctx context.Context, db *sql.DB, fn func(T) error, query string, args ...any) error {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	var items []T
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			_ = rows.Close()
			return err
		}
		var v T
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			_ = rows.Close()
			return fmt.Errorf("decoding record: %w", err)
		}
		items = append(items, v)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	if err := rows.Close(); err != nil {
		return err
	}

	for _, v := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) exists(ctx context.Context, table, column, id string) (bool, error) {
	var one int
	err := b.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT 1 FROM %s WHERE %s = ?`, table, column), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (b *Backend) GetNode(ctx context.Context, uid string) (common.Node, error) {
	return getJSON[common.Node](ctx, b.db, fmt.Sprintf(`SELECT data FROM %s WHERE node_uid = ?`, b.cols.Nodes), uid)
}

func (b *Backend) InsertNode(ctx context.Context, node common.Node) error {
	data, err := json.Marshal(node)
	if err != nil {
		return err
	}
	res, err := b.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (node_uid, data) VALUES (?, ?) ON CONFLICT (node_uid) DO NOTHING`, b.cols.Nodes),
		node.UID, string(data))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrAlreadyExists
	}
	return nil
}

func (b *Backend) PutNode(ctx context.Context, node common.Node) error {
	data, err := json.Marshal(node)
	if err != nil {
		return err
	}
	_, err = b.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (node_uid, data) VALUES (?, ?)
			ON CONFLICT (node_uid) DO UPDATE SET data = excluded.data`, b.cols.Nodes),
		node.UID, string(data))
	return err
}

func (b *Backend) DeleteNode(ctx context.Context, uid string) error {
	_, err := b.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE node_uid = ?`, b.cols.Nodes), uid)
	return err
}

func (b *Backend) NodeExists(ctx context.Context, uid string) (bool, error) {
	return b.exists(ctx, b.cols.Nodes, "node_uid", uid)
}

func (b *Backend) ScanNodes(ctx context.Context, fn func(common.Node) error) error {
	return scanJSON(ctx, b.db, fn, fmt.Sprintf(`SELECT data FROM %s ORDER BY node_uid`, b.cols.Nodes))
}

func (b *Backend) GetEdge(ctx context.Context, key string) (common.Edge, error) {
	return getJSON[common.Edge](ctx, b.db, fmt.Sprintf(`SELECT data FROM %s WHERE edge_uid = ?`, b.cols.Edges), key)
}

func (b *Backend) PutEdge(ctx context.Context, edge common.Edge) error {
	data, err := json.Marshal(edge)
	if err != nil {
		return err
	}
	_, err = b.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (edge_uid, source_uid, target_uid, data) VALUES (?, ?, ?, ?)
			ON CONFLICT (edge_uid) DO UPDATE SET
				source_uid = excluded.source_uid,
				target_uid = excluded.target_uid,
				data = excluded.data`, b.cols.Edges),
		edge.EdgeUID, edge.SourceUID, edge.TargetUID, string(data))
	return err
}

func (b *Backend) DeleteEdge(ctx context.Context, key string) error {
	_, err := b.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE edge_uid = ?`, b.cols.Edges), key)
	return err
}

func (b *Backend) EdgeExists(ctx context.Context, key string) (bool, error) {
	return b.exists(ctx, b.cols.Edges, "edge_uid", key)
}

func (b *Backend) ScanEdges(ctx context.Context, fn func(common.Edge) error) error {
	return scanJSON(ctx, b.db, fn, fmt.Sprintf(`SELECT data FROM %s ORDER BY edge_uid`, b.cols.Edges))
}

func (b *Backend) EdgesTouching(ctx context.Context, uid string) ([]common.Edge, error) {
	var out []common.Edge
	err := scanJSON(ctx, b.db, func(e common.Edge) error {
		out = append(out, e)
		return nil
	}, fmt.Sprintf(`SELECT data FROM %s WHERE source_uid = ? OR target_uid = ?`, b.cols.Edges), uid, uid)
	return out, err
}

func (b *Backend) GetCommunity(ctx context.Context, title string) (common.Community, error) {
	return getJSON[common.Community](ctx, b.db, fmt.Sprintf(`SELECT data FROM %s WHERE title = ?`, b.cols.Communities), title)
}

func (b *Backend) PutCommunity(ctx context.Context, c common.Community) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = b.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (title, data) VALUES (?, ?)
			ON CONFLICT (title) DO UPDATE SET data = excluded.data`, b.cols.Communities),
		c.Title, string(data))
	return err
}

func (b *Backend) ScanCommunities(ctx context.Context, fn func(common.Community) error) error {
	return scanJSON(ctx, b.db, fn, fmt.Sprintf(`SELECT data FROM %s ORDER BY title`, b.cols.Communities))
}

// Flush empties all three tables in one transaction.
func (b *Backend) Flush(ctx context.Context) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, table := range []string{b.cols.Nodes, b.cols.Edges, b.cols.Communities} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (b *Backend) Close() error {
	return b.db.Close()
}
