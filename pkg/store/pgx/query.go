package pgx

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/kgstore/pkg/logger"
	"github.com/OFFIS-RIT/kgstore/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// distanceOperator maps a measure to the pgvector operator whose result
// orders the same way as store.Distance.
func distanceOperator(m store.DistanceMeasure) (string, error) {
	switch m {
	case store.Euclidean, "":
		return "<->", nil
	case store.Cosine:
		return "<=>", nil
	case store.DotProduct:
		// <#> yields the negated inner product
		return "<#>", nil
	default:
		return "", fmt.Errorf("%w: unknown distance measure %q", store.ErrInvalidArgument, m)
	}
}

// NearestNodes ranks nodes with an embedding of the query's length by
// pgvector distance. Ties are broken by uid.
func (s *GraphDBStorage) NearestNodes(
	ctx context.Context,
	query []float32,
	k int,
	measure store.DistanceMeasure,
) ([]store.Neighbor, error) {
	op, err := distanceOperator(measure)
	if err != nil {
		return nil, err
	}
	sql := fmt.Sprintf(`SELECT data, embedding, embedding %[2]s $1 AS distance
		FROM %[1]s
		WHERE embedding IS NOT NULL AND vector_dims(embedding) = $2
		ORDER BY distance, node_uid
		LIMIT $3`, s.cols.Nodes, op)

	rows, err := s.conn.Query(ctx, sql, pgvector.NewVector(query), len(query), k)
	if err != nil {
		return nil, err
	}
	res, err := pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (store.Neighbor, error) {
		var (
			data     []byte
			embed    *pgvector.Vector
			distance float64
		)
		if err := row.Scan(&data, &embed, &distance); err != nil {
			return store.Neighbor{}, err
		}
		n, err := decodeNode(data, embed)
		return store.Neighbor{Node: n, Distance: distance}, err
	})
	if err != nil {
		return nil, err
	}
	logger.Debug("[Postgres][NearestNodes] Ranked nodes", "measure", measure, "k", k, "found", len(res))
	return res, nil
}
