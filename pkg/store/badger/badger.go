// Package badger stores the graph in an embedded BadgerDB key-value store.
//
// Keys are "<collection>/<id>". Edge records are additionally indexed under
// "<edges>#<uid>/<edge_uid>" for both endpoints so edges touching a node can
// be found without a full scan.
package badger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/kgstore/pkg/common"
	"github.com/OFFIS-RIT/kgstore/pkg/logger"
	"github.com/OFFIS-RIT/kgstore/pkg/store"

	"github.com/dgraph-io/badger/v4"
)

// Options configures Open.
type Options struct {
	// Dir is the data directory. Ignored when InMemory is set.
	Dir         string
	InMemory    bool
	SyncWrites  bool
	Collections store.Collections
}

// Backend implements store.Backend and store.EdgeIndexer on BadgerDB.
type Backend struct {
	db          *badger.DB
	nodes       []byte
	edges       []byte
	edgeIndex   []byte
	communities []byte
}

var (
	_ store.Backend     = (*Backend)(nil)
	_ store.EdgeIndexer = (*Backend)(nil)
)

// Open opens or creates the database.
func Open(opts Options) (*Backend, error) {
	cols := opts.Collections.WithDefaults()
	if err := cols.Validate(); err != nil {
		return nil, err
	}

	bopts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts = bopts.
		WithSyncWrites(opts.SyncWrites).
		WithLogger(nil).
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithValueThreshold(1024)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	logger.Debug("[Badger] Opened database", "dir", opts.Dir, "in_memory", opts.InMemory)

	return &Backend{
		db:          db,
		nodes:       []byte(cols.Nodes + "/"),
		edges:       []byte(cols.Edges + "/"),
		edgeIndex:   []byte(cols.Edges + "#"),
		communities: []byte(cols.Communities + "/"),
	}, nil
}

func key(prefix []byte, id string) []byte {
	k := make([]byte, 0, len(prefix)+len(id))
	k = append(k, prefix...)
	return append(k, id...)
}

func (b *Backend) indexKey(uid, edgeUID string) []byte {
	k := key(b.edgeIndex, uid)
	k = append(k, '/')
	return append(k, edgeUID...)
}

func notFound(err error) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return store.ErrNotFound
	}
	return err
}

func get[T any](db *badger.DB, k []byte) (T, error) {
	var out T
	err := db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err != nil {
			return notFound(err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	return out, err
}

func exists(db *badger.DB, k []byte) (bool, error) {
	err := db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(k)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func put(db *badger.DB, k []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, data)
	})
}

// scan decodes every value under prefix, then calls fn outside the
// transaction.
func scan[T any](ctx context.Context, db *badger.DB, prefix []byte, fn func(T) error) error {
	var items []T
	err := db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var v T
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &v)
			}); err != nil {
				return fmt.Errorf("decode %q: %w", it.Item().Key(), err)
			}
			items = append(items, v)
		}
		return nil
	})
	if err != nil {
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

func (b *Backend) GetNode(_ context.Context, uid string) (common.Node, error) {
	return get[common.Node](b.db, key(b.nodes, uid))
}

func (b *Backend) InsertNode(_ context.Context, node common.Node) error {
	data, err := json.Marshal(node)
	if err != nil {
		return err
	}
	k := key(b.nodes, node.UID)
	return b.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(k)
		if err == nil {
			return store.ErrAlreadyExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(k, data)
	})
}

func (b *Backend) PutNode(_ context.Context, node common.Node) error {
	return put(b.db, key(b.nodes, node.UID), node)
}

func (b *Backend) DeleteNode(_ context.Context, uid string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(b.nodes, uid))
	})
}

func (b *Backend) NodeExists(_ context.Context, uid string) (bool, error) {
	return exists(b.db, key(b.nodes, uid))
}

func (b *Backend) ScanNodes(ctx context.Context, fn func(common.Node) error) error {
	return scan(ctx, b.db, b.nodes, fn)
}

func (b *Backend) GetEdge(_ context.Context, k string) (common.Edge, error) {
	return get[common.Edge](b.db, key(b.edges, k))
}

// PutEdge writes the record and both index entries in one transaction.
func (b *Backend) PutEdge(_ context.Context, edge common.Edge) error {
	data, err := json.Marshal(edge)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key(b.edges, edge.EdgeUID), data); err != nil {
			return err
		}
		if err := txn.Set(b.indexKey(edge.SourceUID, edge.EdgeUID), nil); err != nil {
			return err
		}
		return txn.Set(b.indexKey(edge.TargetUID, edge.EdgeUID), nil)
	})
}

func (b *Backend) DeleteEdge(_ context.Context, k string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		rk := key(b.edges, k)
		item, err := txn.Get(rk)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var edge common.Edge
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &edge) }); err != nil {
			return err
		}
		for _, uid := range []string{edge.SourceUID, edge.TargetUID} {
			if err := txn.Delete(b.indexKey(uid, k)); err != nil {
				return err
			}
		}
		return txn.Delete(rk)
	})
}

func (b *Backend) EdgeExists(_ context.Context, k string) (bool, error) {
	return exists(b.db, key(b.edges, k))
}

func (b *Backend) ScanEdges(ctx context.Context, fn func(common.Edge) error) error {
	return scan(ctx, b.db, b.edges, fn)
}

// EdgesTouching resolves the index entries of uid to edge records. Entries
// whose record is gone are skipped.
func (b *Backend) EdgesTouching(_ context.Context, uid string) ([]common.Edge, error) {
	prefix := append(key(b.edgeIndex, uid), '/')
	var out []common.Edge
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			edgeUID := bytes.TrimPrefix(it.Item().KeyCopy(nil), prefix)
			keys = append(keys, key(b.edges, string(edgeUID)))
		}
		for _, k := range keys {
			item, err := txn.Get(k)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			var e common.Edge
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &e) }); err != nil {
				return err
			}
			if e.SourceUID == uid || e.TargetUID == uid {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

func (b *Backend) GetCommunity(_ context.Context, title string) (common.Community, error) {
	return get[common.Community](b.db, key(b.communities, title))
}

func (b *Backend) PutCommunity(_ context.Context, c common.Community) error {
	return put(b.db, key(b.communities, c.Title), c)
}

func (b *Backend) ScanCommunities(ctx context.Context, fn func(common.Community) error) error {
	return scan(ctx, b.db, b.communities, fn)
}

// Flush deletes every key of the graph's collections.
func (b *Backend) Flush(ctx context.Context) error {
	var keys [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for _, prefix := range [][]byte{b.nodes, b.edges, b.edgeIndex, b.communities} {
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
		}
		return ctx.Err()
	})
	if err != nil {
		return err
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func (b *Backend) Close() error {
	return b.db.Close()
}
