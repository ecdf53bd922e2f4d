// Package neo4j stores the graph in Neo4j. Every record is a Neo4j node
// carrying its key properties and the JSON document, labelled with its
// collection name. Edge records are documents too so that they can outlive
// their endpoints, which Repair relies on.
package neo4j

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/OFFIS-RIT/kgstore/pkg/common"
	"github.com/OFFIS-RIT/kgstore/pkg/logger"
	"github.com/OFFIS-RIT/kgstore/pkg/store"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Config holds Neo4j connection settings.
type Config struct {
	URI         string
	Username    string
	Password    string
	Database    string
	Collections store.Collections
}

// Repository implements store.Backend, store.EdgeIndexer and
// store.VectorSearcher on Neo4j.
type Repository struct {
	driver neo4j.DriverWithContext
	db     string
	cols   store.Collections
}

var (
	_ store.Backend        = (*Repository)(nil)
	_ store.EdgeIndexer    = (*Repository)(nil)
	_ store.VectorSearcher = (*Repository)(nil)
)

// New connects to Neo4j and creates the uniqueness constraints.
func New(ctx context.Context, cfg Config) (*Repository, error) {
	cols := cfg.Collections.WithDefaults()
	if err := cols.Validate(); err != nil {
		return nil, err
	}

	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("connecting to neo4j: %w", err)
	}

	r := &Repository{driver: driver, db: cfg.Database, cols: cols}
	constraints := []string{
		fmt.Sprintf("CREATE CONSTRAINT IF NOT EXISTS FOR (n:%s) REQUIRE n.node_uid IS UNIQUE", label(cols.Nodes)),
		fmt.Sprintf("CREATE CONSTRAINT IF NOT EXISTS FOR (e:%s) REQUIRE e.edge_uid IS UNIQUE", label(cols.Edges)),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS FOR (e:%s) ON (e.source_uid)", label(cols.Edges)),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS FOR (e:%s) ON (e.target_uid)", label(cols.Edges)),
		fmt.Sprintf("CREATE CONSTRAINT IF NOT EXISTS FOR (c:%s) REQUIRE c.title IS UNIQUE", label(cols.Communities)),
	}
	for _, q := range constraints {
		if _, err := r.write(ctx, q, nil); err != nil {
			_ = driver.Close(ctx)
			return nil, fmt.Errorf("creating neo4j schema: %w", err)
		}
	}
	logger.Debug("[Neo4j] Connected", "uri", cfg.URI, "database", cfg.Database)
	return r, nil
}

// label quotes a collection name for use as a Cypher label.
func label(name string) string {
	return "`" + name + "`"
}

func (r *Repository) read(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error) {
	return neo4j.ExecuteQuery(ctx, r.driver, query, params, neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(r.db), neo4j.ExecuteQueryWithReadersRouting())
}

func (r *Repository) write(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error) {
	return neo4j.ExecuteQuery(ctx, r.driver, query, params, neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(r.db), neo4j.ExecuteQueryWithWritersRouting())
}

// decode reads the JSON document from the "data" column of rec.
func decode[T any](rec *neo4j.Record) (T, error) {
	var out T
	data, _, err := neo4j.GetRecordValue[string](rec, "data")
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return out, fmt.Errorf("unmarshaling record: %w", err)
	}
	return out, nil
}

func decodeAll[T any](res *neo4j.EagerResult) ([]T, error) {
	out := make([]T, 0, len(res.Records))
	for _, rec := range res.Records {
		v, err := decode[T](rec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func first[T any](res *neo4j.EagerResult) (T, error) {
	var zero T
	if len(res.Records) == 0 {
		return zero, store.ErrNotFound
	}
	return decode[T](res.Records[0])
}

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

// nodeRecord decodes a node row whose embedding is kept in its own column.
func nodeRecord(rec *neo4j.Record) (common.Node, error) {
	n, err := decode[common.Node](rec)
	if err != nil {
		return n, err
	}
	raw, _ := rec.Get("embedding")
	if list, ok := raw.([]any); ok && len(list) > 0 {
		n.Embedding = make([]float32, len(list))
		for i, v := range list {
			f, ok := v.(float64)
			if !ok {
				return n, fmt.Errorf("embedding of %q holds %T", n.UID, v)
			}
			n.Embedding[i] = float32(f)
		}
	}
	return n, nil
}

func nodeParams(n common.Node) (map[string]any, error) {
	var embedding []float64
	if len(n.Embedding) > 0 {
		embedding = make([]float64, len(n.Embedding))
		for i, f := range n.Embedding {
			embedding[i] = float64(f)
		}
	}
	n.Embedding = nil
	data, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	return map[string]any{"uid": n.UID, "data": string(data), "embedding": embedding}, nil
}

func (r *Repository) GetNode(ctx context.Context, uid string) (common.Node, error) {
	res, err := r.read(ctx,
		fmt.Sprintf("MATCH (n:%s {node_uid: $uid}) RETURN n.data AS data, n.embedding AS embedding", label(r.cols.Nodes)),
		map[string]any{"uid": uid})
	if err != nil {
		return common.Node{}, err
	}
	if len(res.Records) == 0 {
		return common.Node{}, store.ErrNotFound
	}
	return nodeRecord(res.Records[0])
}

// InsertNode relies on the uniqueness constraint: MERGE only creates when no
// node with the uid exists.
func (r *Repository) InsertNode(ctx context.Context, node common.Node) error {
	params, err := nodeParams(node)
	if err != nil {
		return err
	}
	res, err := r.write(ctx,
		fmt.Sprintf(`MERGE (n:%s {node_uid: $uid})
			ON CREATE SET n.data = $data, n.embedding = $embedding`, label(r.cols.Nodes)),
		params)
	if err != nil {
		return err
	}
	if res.Summary.Counters().NodesCreated() == 0 {
		return store.ErrAlreadyExists
	}
	return nil
}

func (r *Repository) PutNode(ctx context.Context, node common.Node) error {
	params, err := nodeParams(node)
	if err != nil {
		return err
	}
	_, err = r.write(ctx,
		fmt.Sprintf("MERGE (n:%s {node_uid: $uid}) SET n.data = $data, n.embedding = $embedding", label(r.cols.Nodes)),
		params)
	return err
}

func (r *Repository) DeleteNode(ctx context.Context, uid string) error {
	_, err := r.write(ctx,
		fmt.Sprintf("MATCH (n:%s {node_uid: $uid}) DETACH DELETE n", label(r.cols.Nodes)),
		map[string]any{"uid": uid})
	return err
}

func (r *Repository) NodeExists(ctx context.Context, uid string) (bool, error) {
	res, err := r.read(ctx,
		fmt.Sprintf("MATCH (n:%s {node_uid: $uid}) RETURN n.node_uid AS uid LIMIT 1", label(r.cols.Nodes)),
		map[string]any{"uid": uid})
	if err != nil {
		return false, err
	}
	return len(res.Records) > 0, nil
}

func (r *Repository) ScanNodes(ctx context.Context, fn func(common.Node) error) error {
	res, err := r.read(ctx,
		fmt.Sprintf("MATCH (n:%s) RETURN n.data AS data, n.embedding AS embedding ORDER BY n.node_uid", label(r.cols.Nodes)),
		nil)
	if err != nil {
		return err
	}
	nodes := make([]common.Node, 0, len(res.Records))
	for _, rec := range res.Records {
		n, err := nodeRecord(rec)
		if err != nil {
			return err
		}
		nodes = append(nodes, n)
	}
	return each(ctx, nodes, fn)
}

func (r *Repository) GetEdge(ctx context.Context, key string) (common.Edge, error) {
	res, err := r.read(ctx,
		fmt.Sprintf("MATCH (e:%s {edge_uid: $key}) RETURN e.data AS data", label(r.cols.Edges)),
		map[string]any{"key": key})
	if err != nil {
		return common.Edge{}, err
	}
	return first[common.Edge](res)
}

func (r *Repository) PutEdge(ctx context.Context, edge common.Edge) error {
	data, err := json.Marshal(edge)
	if err != nil {
		return err
	}
	_, err = r.write(ctx,
		fmt.Sprintf(`MERGE (e:%s {edge_uid: $key})
			SET e.source_uid = $source, e.target_uid = $target, e.data = $data`, label(r.cols.Edges)),
		map[string]any{"key": edge.EdgeUID, "source": edge.SourceUID, "target": edge.TargetUID, "data": string(data)})
	return err
}

func (r *Repository) DeleteEdge(ctx context.Context, key string) error {
	_, err := r.write(ctx,
		fmt.Sprintf("MATCH (e:%s {edge_uid: $key}) DELETE e", label(r.cols.Edges)),
		map[string]any{"key": key})
	return err
}

func (r *Repository) EdgeExists(ctx context.Context, key string) (bool, error) {
	res, err := r.read(ctx,
		fmt.Sprintf("MATCH (e:%s {edge_uid: $key}) RETURN e.edge_uid AS key LIMIT 1", label(r.cols.Edges)),
		map[string]any{"key": key})
	if err != nil {
		return false, err
	}
	return len(res.Records) > 0, nil
}

func (r *Repository) ScanEdges(ctx context.Context, fn func(common.Edge) error) error {
	res, err := r.read(ctx,
		fmt.Sprintf("MATCH (e:%s) RETURN e.data AS data ORDER BY e.edge_uid", label(r.cols.Edges)), nil)
	if err != nil {
		return err
	}
	edges, err := decodeAll[common.Edge](res)
	if err != nil {
		return err
	}
	return each(ctx, edges, fn)
}

func (r *Repository) EdgesTouching(ctx context.Context, uid string) ([]common.Edge, error) {
	res, err := r.read(ctx,
		fmt.Sprintf("MATCH (e:%s) WHERE e.source_uid = $uid OR e.target_uid = $uid RETURN e.data AS data", label(r.cols.Edges)),
		map[string]any{"uid": uid})
	if err != nil {
		return nil, err
	}
	return decodeAll[common.Edge](res)
}

func (r *Repository) GetCommunity(ctx context.Context, title string) (common.Community, error) {
	res, err := r.read(ctx,
		fmt.Sprintf("MATCH (c:%s {title: $title}) RETURN c.data AS data", label(r.cols.Communities)),
		map[string]any{"title": title})
	if err != nil {
		return common.Community{}, err
	}
	return first[common.Community](res)
}

func (r *Repository) PutCommunity(ctx context.Context, c common.Community) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = r.write(ctx,
		fmt.Sprintf("MERGE (c:%s {title: $title}) SET c.data = $data", label(r.cols.Communities)),
		map[string]any{"title": c.Title, "data": string(data)})
	return err
}

func (r *Repository) ScanCommunities(ctx context.Context, fn func(common.Community) error) error {
	res, err := r.read(ctx,
		fmt.Sprintf("MATCH (c:%s) RETURN c.data AS data ORDER BY c.title", label(r.cols.Communities)), nil)
	if err != nil {
		return err
	}
	comms, err := decodeAll[common.Community](res)
	if err != nil {
		return err
	}
	return each(ctx, comms, fn)
}

// similarityFunc names the Cypher vector function for m.
func similarityFunc(m store.DistanceMeasure) (string, error) {
	switch m {
	case store.Euclidean, "":
		return "vector.similarity.euclidean", nil
	case store.Cosine:
		return "vector.similarity.cosine", nil
	default:
		return "", errors.ErrUnsupported
	}
}

// toDistance inverts the similarity normalization Neo4j applies:
// euclidean similarity is 1/(1+d^2) and cosine similarity is (1+cos)/2.
func toDistance(m store.DistanceMeasure, similarity float64) float64 {
	if m == store.Cosine {
		return 2 - 2*similarity
	}
	if similarity <= 0 {
		return math.Inf(1)
	}
	return math.Sqrt(math.Max(0, 1/similarity-1))
}

// NearestNodes ranks nodes by Neo4j vector similarity. DotProduct has no
// Cypher equivalent and falls back to a scan.
func (r *Repository) NearestNodes(ctx context.Context, query []float32, k int, m store.DistanceMeasure) ([]store.Neighbor, error) {
	fn, err := similarityFunc(m)
	if err != nil {
		return nil, err
	}
	q := make([]float64, len(query))
	for i, f := range query {
		q[i] = float64(f)
	}
	res, err := r.read(ctx, fmt.Sprintf(`MATCH (n:%s)
		WHERE n.embedding IS NOT NULL AND size(n.embedding) = $dim
		WITH n, %s(n.embedding, $query) AS score
		WHERE score IS NOT NULL
		RETURN n.data AS data, n.embedding AS embedding, score
		ORDER BY score DESC, n.node_uid
		LIMIT $k`, label(r.cols.Nodes), fn),
		map[string]any{"dim": len(q), "query": q, "k": k})
	if err != nil {
		return nil, err
	}

	out := make([]store.Neighbor, 0, len(res.Records))
	for _, rec := range res.Records {
		n, err := nodeRecord(rec)
		if err != nil {
			return nil, err
		}
		score, _, err := neo4j.GetRecordValue[float64](rec, "score")
		if err != nil {
			return nil, err
		}
		out = append(out, store.Neighbor{Node: n, Distance: toDistance(m, score)})
	}
	return out, nil
}

// Flush deletes every record of the three collections.
func (r *Repository) Flush(ctx context.Context) error {
	_, err := r.write(ctx, fmt.Sprintf("MATCH (x) WHERE x:%s OR x:%s OR x:%s DETACH DELETE x",
		label(r.cols.Nodes), label(r.cols.Edges), label(r.cols.Communities)), nil)
	return err
}

func (r *Repository) Close() error {
	return r.driver.Close(context.Background())
}
