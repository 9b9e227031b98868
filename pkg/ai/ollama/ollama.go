package ollama

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/OFFIS-RIT/scholargraph/pkg/ai"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"
)

// GraphOllamaClient implements the ai.GraphAIClient interface using Ollama as the backend.
// It supports text generation, structured output and embeddings via locally-hosted models.
type GraphOllamaClient struct {
	embeddingModel  string
	generationModel string
	extractionModel string
	embeddingDim    int

	reqLock *semaphore.Weighted
	timeout time.Duration

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	Client *api.Client
}

// NewGraphOllamaClientParams contains configuration options for creating a new GraphOllamaClient.
type NewGraphOllamaClientParams struct {
	EmbeddingModel  string
	GenerationModel string
	ExtractionModel string
	EmbeddingDim    int

	BaseURL string
	ApiKey  string

	MaxConcurrentRequests int64
	Timeout               time.Duration
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

// NewGraphOllamaClient connects to the Ollama server at BaseURL (or the
// default if empty). A non-empty ApiKey is sent as a bearer token, which
// hosted Ollama proxies expect.
func NewGraphOllamaClient(params NewGraphOllamaClientParams) (*GraphOllamaClient, error) {
	var u *url.URL
	if params.BaseURL != "" {
		parsed, err := url.Parse(params.BaseURL)
		if err != nil {
			return nil, err
		}
		u = parsed
	}
	if params.MaxConcurrentRequests <= 0 {
		params.MaxConcurrentRequests = 1
	}
	if params.Timeout <= 0 {
		params.Timeout = 5 * time.Minute
	}
	if params.ExtractionModel == "" {
		params.ExtractionModel = params.GenerationModel
	}

	headers := map[string]string{}
	if params.ApiKey != "" {
		headers["Authorization"] = "Bearer " + params.ApiKey
	}
	httpClient := &http.Client{
		Transport: &headerTransport{headers: headers, rt: http.DefaultTransport},
	}

	return &GraphOllamaClient{
		embeddingModel:  params.EmbeddingModel,
		generationModel: params.GenerationModel,
		extractionModel: params.ExtractionModel,
		embeddingDim:    params.EmbeddingDim,

		reqLock: semaphore.NewWeighted(params.MaxConcurrentRequests),
		timeout: params.Timeout,

		Client: api.NewClient(u, httpClient),
	}, nil
}

var _ ai.GraphAIClient = (*GraphOllamaClient)(nil)
