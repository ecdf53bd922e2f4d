package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/kgstore/pkg/common"
	"github.com/OFFIS-RIT/kgstore/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

func scanJSON[T any](row pgxv5.CollectableRow) (T, error) {
	var (
		data []byte
		out  T
	)
	if err := row.Scan(&data); err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("failed to decode record: %w", err)
	}
	return out, nil
}

func (s *GraphDBStorage) collect(ctx context.Context, query string, args ...any) ([]common.Edge, error) {
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgxv5.CollectRows(rows, scanJSON[common.Edge])
}

func (s *GraphDBStorage) GetEdge(ctx context.Context, key string) (common.Edge, error) {
	var data []byte
	err := s.conn.QueryRow(ctx, fmt.Sprintf("SELECT data FROM %s WHERE edge_uid = $1", s.cols.Edges), key).Scan(&data)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return common.Edge{}, store.ErrNotFound
	}
	if err != nil {
		return common.Edge{}, err
	}
	var e common.Edge
	if err := json.Unmarshal(data, &e); err != nil {
		return e, fmt.Errorf("failed to decode edge: %w", err)
	}
	return e, nil
}

func (s *GraphDBStorage) PutEdge(ctx context.Context, edge common.Edge) error {
	data, err := json.Marshal(sanitizeEdge(edge))
	if err != nil {
		return err
	}
	_, err = s.conn.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (edge_uid, source_uid, target_uid, data) VALUES ($1, $2, $3, $4)
			ON CONFLICT (edge_uid) DO UPDATE SET
				source_uid = EXCLUDED.source_uid,
				target_uid = EXCLUDED.target_uid,
				data = EXCLUDED.data`, s.cols.Edges),
		edge.EdgeUID, edge.SourceUID, edge.TargetUID, data)
	return err
}

func (s *GraphDBStorage) DeleteEdge(ctx context.Context, key string) error {
	_, err := s.conn.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE edge_uid = $1", s.cols.Edges), key)
	return err
}

func (s *GraphDBStorage) EdgeExists(ctx context.Context, key string) (bool, error) {
	return s.exists(ctx, s.cols.Edges, "edge_uid", key)
}

func (s *GraphDBStorage) ScanEdges(ctx context.Context, fn func(common.Edge) error) error {
	edges, err := s.collect(ctx, fmt.Sprintf("SELECT data FROM %s ORDER BY edge_uid", s.cols.Edges))
	if err != nil {
		return err
	}
	return each(ctx, edges, fn)
}

func (s *GraphDBStorage) EdgesTouching(ctx context.Context, uid string) ([]common.Edge, error) {
	return s.collect(ctx,
		fmt.Sprintf("SELECT data FROM %s WHERE source_uid = $1 OR target_uid = $1", s.cols.Edges), uid)
}

func (s *GraphDBStorage) GetCommunity(ctx context.Context, title string) (common.Community, error) {
	var data []byte
	err := s.conn.QueryRow(ctx, fmt.Sprintf("SELECT data FROM %s WHERE title = $1", s.cols.Communities), title).Scan(&data)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return common.Community{}, store.ErrNotFound
	}
	if err != nil {
		return common.Community{}, err
	}
	var c common.Community
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("failed to decode community: %w", err)
	}
	return c, nil
}

func (s *GraphDBStorage) PutCommunity(ctx context.Context, c common.Community) error {
	data, err := json.Marshal(sanitizeCommunity(c))
	if err != nil {
		return err
	}
	_, err = s.conn.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (title, data) VALUES ($1, $2)
			ON CONFLICT (title) DO UPDATE SET data = EXCLUDED.data`, s.cols.Communities),
		c.Title, data)
	return err
}

func (s *GraphDBStorage) ScanCommunities(ctx context.Context, fn func(common.Community) error) error {
	rows, err := s.conn.Query(ctx, fmt.Sprintf("SELECT data FROM %s ORDER BY title", s.cols.Communities))
	if err != nil {
		return err
	}
	comms, err := pgxv5.CollectRows(rows, scanJSON[common.Community])
	if err != nil {
		return err
	}
	return each(ctx, comms, fn)
}
