package ollama

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/OFFIS-RIT/kgstore/pkg/ai"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"
)

// EmbeddingClient embeds text with a locally hosted Ollama model.
type EmbeddingClient struct {
	model      string
	dimensions int
	timeout    time.Duration

	reqLock *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	Client *api.Client
}

var _ ai.Embedder = (*EmbeddingClient)(nil)

// NewEmbeddingClientParams configures NewEmbeddingClient.
type NewEmbeddingClientParams struct {
	Model      string
	Dimensions int

	BaseURL string
	APIKey  string

	Timeout               time.Duration
	MaxConcurrentRequests int64
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewEmbeddingClient connects to the Ollama server at BaseURL, or to the one
// named by OLLAMA_HOST when BaseURL is empty.
func NewEmbeddingClient(params NewEmbeddingClientParams) (*EmbeddingClient, error) {
	if params.Timeout <= 0 {
		params.Timeout = time.Minute
	}
	if params.MaxConcurrentRequests <= 0 {
		params.MaxConcurrentRequests = 4
	}

	var cli *api.Client
	if params.BaseURL == "" {
		var err error
		cli, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, err
		}
	} else {
		u, err := url.Parse(params.BaseURL)
		if err != nil {
			return nil, err
		}
		httpClient := http.DefaultClient
		if params.APIKey != "" {
			httpClient = &http.Client{
				Transport: &headerTransport{
					headers: map[string]string{"Authorization": "Bearer " + params.APIKey},
					rt:      http.DefaultTransport,
				},
			}
		}
		cli = api.NewClient(u, httpClient)
	}

	return &EmbeddingClient{
		model:      params.Model,
		dimensions: params.Dimensions,
		timeout:    params.Timeout,
		reqLock:    semaphore.NewWeighted(params.MaxConcurrentRequests),
		Client:     cli,
	}, nil
}
