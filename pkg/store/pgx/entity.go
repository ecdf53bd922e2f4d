package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/kgstore/pkg/common"
	"github.com/OFFIS-RIT/kgstore/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// encodeNode splits n into its jsonb document and the embedding column.
func encodeNode(n common.Node) ([]byte, *pgvector.Vector, error) {
	n = sanitizeNode(n)
	var embed *pgvector.Vector
	if len(n.Embedding) > 0 {
		v := pgvector.NewVector(n.Embedding)
		embed = &v
	}
	n.Embedding = nil
	data, err := json.Marshal(n)
	if err != nil {
		return nil, nil, err
	}
	return data, embed, nil
}

func decodeNode(data []byte, embed *pgvector.Vector) (common.Node, error) {
	var n common.Node
	if err := json.Unmarshal(data, &n); err != nil {
		return n, fmt.Errorf("failed to decode node: %w", err)
	}
	if embed != nil {
		n.Embedding = embed.Slice()
	}
	return n, nil
}

func (s *GraphDBStorage) GetNode(ctx context.Context, uid string) (common.Node, error) {
	var (
		data  []byte
		embed *pgvector.Vector
	)
	err := s.conn.QueryRow(ctx,
		fmt.Sprintf("SELECT data, embedding FROM %s WHERE node_uid = $1", s.cols.Nodes), uid,
	).Scan(&data, &embed)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return common.Node{}, store.ErrNotFound
	}
	if err != nil {
		return common.Node{}, err
	}
	return decodeNode(data, embed)
}

func (s *GraphDBStorage) InsertNode(ctx context.Context, node common.Node) error {
	data, embed, err := encodeNode(node)
	if err != nil {
		return err
	}
	tag, err := s.conn.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (node_uid, data, embedding) VALUES ($1, $2, $3)
			ON CONFLICT (node_uid) DO NOTHING`, s.cols.Nodes),
		node.UID, data, embed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrAlreadyExists
	}
	return nil
}

func (s *GraphDBStorage) PutNode(ctx context.Context, node common.Node) error {
	data, embed, err := encodeNode(node)
	if err != nil {
		return err
	}
	_, err = s.conn.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (node_uid, data, embedding) VALUES ($1, $2, $3)
			ON CONFLICT (node_uid) DO UPDATE SET data = EXCLUDED.data, embedding = EXCLUDED.embedding`, s.cols.Nodes),
		node.UID, data, embed)
	return err
}

func (s *GraphDBStorage) DeleteNode(ctx context.Context, uid string) error {
	_, err := s.conn.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE node_uid = $1", s.cols.Nodes), uid)
	return err
}

func (s *GraphDBStorage) NodeExists(ctx context.Context, uid string) (bool, error) {
	return s.exists(ctx, s.cols.Nodes, "node_uid", uid)
}

func (s *GraphDBStorage) ScanNodes(ctx context.Context, fn func(common.Node) error) error {
	rows, err := s.conn.Query(ctx, fmt.Sprintf("SELECT data, embedding FROM %s ORDER BY node_uid", s.cols.Nodes))
	if err != nil {
		return err
	}
	nodes, err := pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (common.Node, error) {
		var (
			data  []byte
			embed *pgvector.Vector
		)
		if err := row.Scan(&data, &embed); err != nil {
			return common.Node{}, err
		}
		return decodeNode(data, embed)
	})
	if err != nil {
		return err
	}
	return each(ctx, nodes, fn)
}

func (s *GraphDBStorage) exists(ctx context.Context, table, column, id string) (bool, error) {
	var found bool
	err := s.conn.QueryRow(ctx,
		fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1)", table, column), id,
	).Scan(&found)
	return found, err
}

// each hands collected rows to fn once the result set is closed.
func each[T any](ctx context.Context, items []T, fn func(T) error) error {
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
