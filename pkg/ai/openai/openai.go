package openai

import (
	"sync"
	"time"

	"github.com/OFFIS-RIT/kgstore/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"
)

// EmbeddingClient embeds text through an OpenAI compatible API.
//
// An EmbeddingClient should be created using NewEmbeddingClient.
type EmbeddingClient struct {
	model      string
	dimensions int
	timeout    time.Duration

	reqLock *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	Client *openai.Client
}

var _ ai.Embedder = (*EmbeddingClient)(nil)

// NewEmbeddingClientParams configures NewEmbeddingClient.
//
// Dimensions truncates or pads every returned vector; zero keeps the model
// output. BaseURL may point at any OpenAI compatible server.
type NewEmbeddingClientParams struct {
	Model      string
	Dimensions int

	BaseURL string
	APIKey  string

	Timeout               time.Duration
	MaxConcurrentRequests int64
}

// NewEmbeddingClient creates a client for the given endpoint.
//
// Example:
//
//	client := openai.NewEmbeddingClient(openai.NewEmbeddingClientParams{
//		Model:  "text-embedding-3-small",
//		APIKey: os.Getenv("OPENAI_API_KEY"),
//	})
func NewEmbeddingClient(params NewEmbeddingClientParams) *EmbeddingClient {
	options := []option.RequestOption{
		option.WithAPIKey(params.APIKey),
	}
	if params.BaseURL != "" {
		options = append(options, option.WithBaseURL(params.BaseURL))
	}
	client := openai.NewClient(options...)

	if params.Timeout <= 0 {
		params.Timeout = time.Minute
	}
	if params.MaxConcurrentRequests <= 0 {
		params.MaxConcurrentRequests = 4
	}

	return &EmbeddingClient{
		model:      params.Model,
		dimensions: params.Dimensions,
		timeout:    params.Timeout,
		reqLock:    semaphore.NewWeighted(params.MaxConcurrentRequests),
		Client:     &client,
	}
}

// Metrics returns the usage accumulated since the client was created.
func (c *EmbeddingClient) Metrics() ai.ModelMetrics {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	return c.metrics
}

func (c *EmbeddingClient) addMetrics(m ai.ModelMetrics) {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	c.metrics.Add(m)
}
