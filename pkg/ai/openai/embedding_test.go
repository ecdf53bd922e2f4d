package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestGenerateEmbeddings(t *testing.T) {
	var gotInputs []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotInputs = body.Input
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"object": "list",
			"model": "test-embed",
			"data": [
				{"object": "embedding", "index": 1, "embedding": [0.5, 0.5, 0.5]},
				{"object": "embedding", "index": 0, "embedding": [1, 2, 3]}
			],
			"usage": {"prompt_tokens": 4, "total_tokens": 4}
		}`))
	}))
	t.Cleanup(srv.Close)

	c := NewEmbeddingClient(NewEmbeddingClientParams{
		Model:      "test-embed",
		Dimensions: 2,
		BaseURL:    srv.URL + "/",
		APIKey:     "test",
	})
	out, err := c.GenerateEmbeddings(context.Background(), [][]byte{[]byte("ada"), []byte("  "), []byte("babbage")})
	if err != nil {
		t.Fatalf("GenerateEmbeddings: %v", err)
	}
	if diff := cmp.Diff([]string{"ada", "babbage"}, gotInputs); diff != "" {
		t.Fatalf("request inputs mismatch (-want +got):\n%s", diff)
	}
	want := [][]float32{{1, 2}, {0, 0}, {0.5, 0.5}}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Fatalf("embeddings mismatch (-want +got):\n%s", diff)
	}
	if m := c.Metrics(); m.Requests != 1 || m.TotalTokens != 4 {
		t.Fatalf("unexpected metrics %+v", m)
	}
}
