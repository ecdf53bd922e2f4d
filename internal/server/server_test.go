package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/OFFIS-RIT/kgstore/internal/queue"
	mid "github.com/OFFIS-RIT/kgstore/internal/server/middleware"
	"github.com/OFFIS-RIT/kgstore/pkg/common"
	"github.com/OFFIS-RIT/kgstore/pkg/metrics"
	"github.com/OFFIS-RIT/kgstore/pkg/store"
	"github.com/OFFIS-RIT/kgstore/pkg/store/memory"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/labstack/echo/v4"
	"github.com/rabbitmq/amqp091-go"
)

const masterKey = "test-master-key"

var jwtSecret = []byte("test-secret")

type published struct {
	queue string
	body  []byte
}

type fakeChannel struct {
	mu   sync.Mutex
	msgs []published
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp091.Table) (amqp091.Queue, error) {
	return amqp091.Queue{Name: name}, nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp091.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{queue: key, body: msg.Body})
	return nil
}

type fakeEmbedder struct{ vec []float32 }

func (f fakeEmbedder) GenerateEmbedding(context.Context, []byte) ([]float32, error) {
	return f.vec, nil
}

func newTestApp(t *testing.T) (*echo.Echo, *mid.App) {
	t.Helper()
	app := &mid.App{
		Store:        store.NewGraphStore(memory.New(), store.WithEmbeddingDim(2)),
		EmbeddingDim: 2,
		Metrics:      metrics.NewCollector("test"),
		MasterAPIKey: masterKey,
		KeyFunc: func(*jwt.Token) (any, error) {
			return jwtSecret, nil
		},
	}
	return New(app, ""), app
}

func do(t *testing.T, e *echo.Echo, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jwtSecret)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return tok
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding error body %q: %v", rec.Body.String(), err)
	}
	return body["error"]
}

func TestHealth(t *testing.T) {
	e, _ := newTestApp(t)
	rec := do(t, e, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestAuth(t *testing.T) {
	e, _ := newTestApp(t)

	if rec := do(t, e, http.MethodGet, "/api/communities", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d", rec.Code)
	}
	if rec := do(t, e, http.MethodGet, "/api/communities", "wrong", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d", rec.Code)
	}

	expired := signToken(t, jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(-time.Hour).Unix()})
	if rec := do(t, e, http.MethodGet, "/api/communities", expired, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("expired token: status = %d", rec.Code)
	}

	reader := signToken(t, jwt.MapClaims{
		"sub":         "u1",
		"exp":         time.Now().Add(time.Hour).Unix(),
		"permissions": []string{mid.PermRead},
	})
	if rec := do(t, e, http.MethodGet, "/api/communities", reader, ""); rec.Code != http.StatusOK {
		t.Errorf("reader list: status = %d body %s", rec.Code, rec.Body.String())
	}
	rec := do(t, e, http.MethodPost, "/api/nodes", reader, `{"uid":"a"}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("reader write: status = %d", rec.Code)
	}

	admin := signToken(t, jwt.MapClaims{"sub": "u2", "role": "admin", "exp": time.Now().Add(time.Hour).Unix()})
	if rec := do(t, e, http.MethodPost, "/api/maintenance/repair?dry_run=true", admin, ""); rec.Code != http.StatusOK {
		t.Errorf("admin repair: status = %d body %s", rec.Code, rec.Body.String())
	}
}

func TestNodeLifecycle(t *testing.T) {
	e, _ := newTestApp(t)

	rec := do(t, e, http.MethodPost, "/api/nodes", masterKey, `{"uid":"a","node":{"node_title":"Alpha","node_type":"PERSON"}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d body %s", rec.Code, rec.Body.String())
	}
	var node common.Node
	if err := json.Unmarshal(rec.Body.Bytes(), &node); err != nil {
		t.Fatal(err)
	}
	if node.UID != "a" || node.Title != "Alpha" {
		t.Fatalf("created node = %+v", node)
	}

	rec = do(t, e, http.MethodPost, "/api/nodes", masterKey, `{"uid":"a","node":{}}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate: status = %d", rec.Code)
	}

	rec = do(t, e, http.MethodPost, "/api/nodes", masterKey, `{"uid":"b","node":{"edges_to":["ghost"]}}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("dangling reference: status = %d", rec.Code)
	}

	rec = do(t, e, http.MethodPost, "/api/nodes", masterKey, `{"uid":"x_to_y","node":{}}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("reserved uid: status = %d", rec.Code)
	}

	rec = do(t, e, http.MethodPost, "/api/nodes", masterKey, `{"node":{}}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing uid: status = %d", rec.Code)
	}
	if msg := errorMessage(t, rec); !strings.HasPrefix(msg, "Invalid request params") {
		t.Errorf("missing uid message = %q", msg)
	}

	rec = do(t, e, http.MethodPut, "/api/nodes/a", masterKey, `{"node":{"node_title":"Alpha","node_description":"first"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status = %d body %s", rec.Code, rec.Body.String())
	}

	rec = do(t, e, http.MethodGet, "/api/nodes/a", masterKey, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status = %d", rec.Code)
	}
	node = common.Node{}
	_ = json.Unmarshal(rec.Body.Bytes(), &node)
	if node.Description != "first" {
		t.Errorf("description = %q, want first", node.Description)
	}

	if rec := do(t, e, http.MethodDelete, "/api/nodes/a", masterKey, ""); rec.Code != http.StatusNoContent {
		t.Errorf("delete: status = %d", rec.Code)
	}
	rec = do(t, e, http.MethodGet, "/api/nodes/a", masterKey, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("get deleted: status = %d", rec.Code)
	}
	if errorMessage(t, rec) == "" {
		t.Error("not found response has no error message")
	}
}

func TestEdgeLifecycle(t *testing.T) {
	e, app := newTestApp(t)
	ctx := context.Background()
	for _, uid := range []string{"a", "b"} {
		if err := app.Store.AddNode(ctx, uid, common.Node{}); err != nil {
			t.Fatal(err)
		}
	}

	rec := do(t, e, http.MethodPost, "/api/edges", masterKey, `{"source_uid":"a","target_uid":"missing"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing endpoint: status = %d", rec.Code)
	}

	rec = do(t, e, http.MethodPost, "/api/edges", masterKey, `{"source_uid":"a","target_uid":"b","description":"knows","directed":false}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d body %s", rec.Code, rec.Body.String())
	}
	var edge common.Edge
	_ = json.Unmarshal(rec.Body.Bytes(), &edge)
	want := common.Edge{SourceUID: "a", TargetUID: "b", Description: "knows", EdgeUID: "a_to_b", Directed: false}
	if diff := cmp.Diff(want, edge); diff != "" {
		t.Errorf("created edge mismatch (-want +got):\n%s", diff)
	}

	if rec := do(t, e, http.MethodGet, "/api/edges/b/a", masterKey, ""); rec.Code != http.StatusOK {
		t.Errorf("mirror: status = %d", rec.Code)
	}

	rec = do(t, e, http.MethodPut, "/api/edges/a/b", masterKey, `{"description":"likes"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status = %d body %s", rec.Code, rec.Body.String())
	}
	edge = common.Edge{}
	_ = json.Unmarshal(rec.Body.Bytes(), &edge)
	if edge.Description != "likes" {
		t.Errorf("updated description = %q", edge.Description)
	}

	if rec := do(t, e, http.MethodDelete, "/api/edges/a/b?directed=maybe", masterKey, ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad directed flag: status = %d", rec.Code)
	}
	if rec := do(t, e, http.MethodDelete, "/api/edges/a/b?directed=false", masterKey, ""); rec.Code != http.StatusNoContent {
		t.Errorf("delete: status = %d", rec.Code)
	}
	for _, path := range []string{"/api/edges/a/b", "/api/edges/b/a"} {
		if rec := do(t, e, http.MethodGet, path, masterKey, ""); rec.Code != http.StatusNotFound {
			t.Errorf("GET %s after delete: status = %d", path, rec.Code)
		}
	}
}

func seedTriangle(t *testing.T, gs *store.GraphStore) {
	t.Helper()
	ctx := context.Background()
	vectors := map[string][]float32{"a": {0, 0}, "b": {1, 0}, "c": {5, 5}}
	for _, uid := range []string{"a", "b", "c"} {
		if err := gs.AddNode(ctx, uid, common.Node{Title: strings.ToUpper(uid), Type: "THING", Embedding: vectors[uid]}); err != nil {
			t.Fatal(err)
		}
	}
	for _, pair := range [][2]string{{"a", "b"}, {"b", "c"}, {"c", "a"}} {
		if err := gs.AddEdge(ctx, common.Edge{SourceUID: pair[0], TargetUID: pair[1]}, false); err != nil {
			t.Fatal(err)
		}
	}
}

func TestGraphView(t *testing.T) {
	e, app := newTestApp(t)
	seedTriangle(t, app.Store)

	rec := do(t, e, http.MethodGet, "/api/graph", masterKey, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("graph: status = %d", rec.Code)
	}
	var view struct {
		Nodes []common.Node    `json:"nodes"`
		Links []map[string]any `json:"links"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatal(err)
	}
	if len(view.Nodes) != 3 || len(view.Links) != 3 {
		t.Errorf("view has %d nodes and %d links, want 3 and 3", len(view.Nodes), len(view.Links))
	}

	rec = do(t, e, http.MethodGet, "/api/graph/dot?name=kg", masterKey, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("dot: status = %d", rec.Code)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "text/vnd.graphviz" {
		t.Errorf("dot content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "graph") {
		t.Errorf("dot body = %q", rec.Body.String())
	}

	if rec := do(t, e, http.MethodPost, "/api/graph/export", masterKey, `{"format":"dot"}`); rec.Code != http.StatusNotImplemented {
		t.Errorf("export without storage: status = %d", rec.Code)
	}
	if rec := do(t, e, http.MethodPost, "/api/graph/export", masterKey, `{"format":"xml"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("export unknown format: status = %d", rec.Code)
	}
}

func TestCommunities(t *testing.T) {
	e, app := newTestApp(t)
	seedTriangle(t, app.Store)

	rec := do(t, e, http.MethodPost, "/api/communities", masterKey, `{"title":"manual","community_nodes":["b","a"]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d body %s", rec.Code, rec.Body.String())
	}
	var com common.Community
	_ = json.Unmarshal(rec.Body.Bytes(), &com)
	if diff := cmp.Diff([]string{"a", "b"}, com.Nodes); diff != "" {
		t.Errorf("members mismatch (-want +got):\n%s", diff)
	}
	if com.CommunityUID == "" {
		t.Error("community uid not generated")
	}

	if rec := do(t, e, http.MethodPost, "/api/communities", masterKey, `{"summary":"untitled"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing title: status = %d", rec.Code)
	}
	if rec := do(t, e, http.MethodGet, "/api/communities/nope", masterKey, ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing community: status = %d", rec.Code)
	}

	rec = do(t, e, http.MethodPost, "/api/communities/detect", masterKey, `{"title_prefix":"c-"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("detect: status = %d body %s", rec.Code, rec.Body.String())
	}
	var res struct {
		Communities []common.Community `json:"communities"`
		Assigned    int                `json:"assigned"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &res)
	if len(res.Communities) != 1 || res.Communities[0].Title != "c-0" || res.Assigned != 3 {
		t.Errorf("detect result = %+v", res)
	}

	rec = do(t, e, http.MethodGet, "/api/communities", masterKey, "")
	var list []common.Community
	_ = json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list) != 2 {
		t.Errorf("listed %d communities, want 2", len(list))
	}

	if rec := do(t, e, http.MethodPost, "/api/communities/detect?async=true", masterKey, ""); rec.Code != http.StatusNotImplemented {
		t.Errorf("async without queue: status = %d", rec.Code)
	}

	ch := &fakeChannel{}
	app.Queue = ch
	rec = do(t, e, http.MethodPost, "/api/communities/detect?async=true", masterKey, `{"resolution":1.5}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("async: status = %d body %s", rec.Code, rec.Body.String())
	}
	if len(ch.msgs) != 1 || ch.msgs[0].queue != queue.CommunityQueue {
		t.Fatalf("published = %+v", ch.msgs)
	}
	var job queue.CommunityJob
	_ = json.Unmarshal(ch.msgs[0].body, &job)
	if job.Resolution != 1.5 || job.CorrelationID == "" {
		t.Errorf("job = %+v", job)
	}
}

func TestNearestNeighbors(t *testing.T) {
	e, app := newTestApp(t)
	seedTriangle(t, app.Store)

	rec := do(t, e, http.MethodPost, "/api/neighbors", masterKey, `{"vector":[0.1,0],"k":2}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("vector search: status = %d body %s", rec.Code, rec.Body.String())
	}
	var got []store.Neighbor
	_ = json.Unmarshal(rec.Body.Bytes(), &got)
	if len(got) != 2 || got[0].Node.UID != "a" || got[1].Node.UID != "b" {
		t.Errorf("neighbors = %+v", got)
	}

	if rec := do(t, e, http.MethodPost, "/api/neighbors", masterKey, `{"vector":[1,2,3]}`); rec.Code != http.StatusBadRequest {
		t.Errorf("wrong dimension: status = %d", rec.Code)
	}
	if rec := do(t, e, http.MethodPost, "/api/neighbors", masterKey, `{"text":"alpha"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("text without embedder: status = %d", rec.Code)
	}

	// wider vectors are truncated to the store dimension
	app.Embedder = fakeEmbedder{vec: []float32{5, 5, 9}}
	rec = do(t, e, http.MethodPost, "/api/neighbors", masterKey, `{"text":"charlie","k":1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("text search: status = %d body %s", rec.Code, rec.Body.String())
	}
	got = nil
	_ = json.Unmarshal(rec.Body.Bytes(), &got)
	if len(got) != 1 || got[0].Node.UID != "c" {
		t.Errorf("text neighbors = %+v", got)
	}
}

func TestMaintenance(t *testing.T) {
	e, app := newTestApp(t)
	ctx := context.Background()
	seedTriangle(t, app.Store)
	if err := app.Store.AddNode(ctx, "lonely", common.Node{}); err != nil {
		t.Fatal(err)
	}

	rec := do(t, e, http.MethodPost, "/api/maintenance/repair?dry_run=true", masterKey, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("repair: status = %d", rec.Code)
	}
	var report store.RepairReport
	_ = json.Unmarshal(rec.Body.Bytes(), &report)
	if !report.DryRun || report.Nodes != 4 || report.Edges != 6 {
		t.Errorf("report = %+v", report)
	}

	rec = do(t, e, http.MethodPost, "/api/maintenance/clean", masterKey, "")
	var cleaned map[string][]string
	_ = json.Unmarshal(rec.Body.Bytes(), &cleaned)
	if diff := cmp.Diff([]string{"lonely"}, cleaned["removed"]); diff != "" {
		t.Errorf("cleaned mismatch (-want +got):\n%s", diff)
	}

	if rec := do(t, e, http.MethodPost, "/api/maintenance/flush", masterKey, ""); rec.Code != http.StatusNoContent {
		t.Errorf("flush: status = %d", rec.Code)
	}
	if ok, _ := app.Store.NodeExists(ctx, "a"); ok {
		t.Error("node a survived flush")
	}
}

func TestEmbedNodesEndpoint(t *testing.T) {
	e, app := newTestApp(t)
	if err := app.Store.AddNode(context.Background(), "a", common.Node{Title: "Ada"}); err != nil {
		t.Fatal(err)
	}

	if rec := do(t, e, http.MethodPost, "/api/maintenance/embed", masterKey, ""); rec.Code != http.StatusNotImplemented {
		t.Errorf("without embedder: status = %d", rec.Code)
	}

	app.Embedder = fakeEmbedder{vec: []float32{1, 2}}
	rec := do(t, e, http.MethodPost, "/api/maintenance/embed", masterKey, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("embed: status = %d body %s", rec.Code, rec.Body.String())
	}
	var got map[string][]string
	_ = json.Unmarshal(rec.Body.Bytes(), &got)
	if diff := cmp.Diff([]string{"a"}, got["embedded"]); diff != "" {
		t.Errorf("embedded mismatch (-want +got):\n%s", diff)
	}
}

func TestEnqueueMutations(t *testing.T) {
	e, app := newTestApp(t)

	body := `{"mutations":[{"op":"add_node","uid":"a","node":{}}]}`
	if rec := do(t, e, http.MethodPost, "/api/mutations", masterKey, body); rec.Code != http.StatusNotImplemented {
		t.Errorf("without queue: status = %d", rec.Code)
	}

	ch := &fakeChannel{}
	app.Queue = ch
	if rec := do(t, e, http.MethodPost, "/api/mutations", masterKey, `{"mutations":[]}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty batch: status = %d", rec.Code)
	}
	if rec := do(t, e, http.MethodPost, "/api/mutations", masterKey, `{"mutations":[{"op":"explode"}]}`); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown op: status = %d", rec.Code)
	}

	rec := do(t, e, http.MethodPost, "/api/mutations", masterKey, body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("enqueue: status = %d body %s", rec.Code, rec.Body.String())
	}
	if len(ch.msgs) != 1 || ch.msgs[0].queue != queue.GraphMutationQueue {
		t.Fatalf("published = %+v", ch.msgs)
	}
	batch, err := queue.DecodeBatch(ch.msgs[0].body)
	if err != nil {
		t.Fatalf("decoding published batch: %v", err)
	}
	if batch.CorrelationID == "" || len(batch.Mutations) != 1 {
		t.Errorf("batch = %+v", batch)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	e, _ := newTestApp(t)
	do(t, e, http.MethodGet, "/api/nodes/missing", masterKey, "")

	rec := do(t, e, http.MethodGet, "/metrics", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: status = %d", rec.Code)
	}
	want := `test_http_requests_total{method="GET",route="/api/nodes/:uid",status="404"} 1`
	if !strings.Contains(rec.Body.String(), want) {
		t.Errorf("metrics output lacks %q", want)
	}
}
