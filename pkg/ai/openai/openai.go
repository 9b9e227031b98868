package openai

import (
	"sync"
	"time"

	"github.com/OFFIS-RIT/scholargraph/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"
)

// GraphOpenAIClient talks to an OpenAI compatible API. Embeddings and
// completions may point at different endpoints.
//
// A GraphOpenAIClient should be created using NewGraphOpenAIClient.
type GraphOpenAIClient struct {
	embeddingModel  string
	generationModel string
	extractionModel string
	embeddingDim    int

	chatURL string

	reqLock *semaphore.Weighted
	timeout time.Duration

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	ChatClient      *openai.Client
	EmbeddingClient *openai.Client
}

// NewGraphOpenAIClientParams configures a GraphOpenAIClient.
//
// GenerationModel answers questions, ExtractionModel is used for structured
// output. EmbeddingDim fixes the length of every returned vector.
type NewGraphOpenAIClientParams struct {
	EmbeddingModel  string
	GenerationModel string
	ExtractionModel string
	EmbeddingDim    int

	EmbeddingURL string
	EmbeddingKey string
	ChatURL      string
	ChatKey      string

	MaxConcurrentRequests int64
	Timeout               time.Duration
}

// NewGraphOpenAIClient creates a client from params.
//
// Example:
//
//	client := openai.NewGraphOpenAIClient(openai.NewGraphOpenAIClientParams{
//		EmbeddingModel:  "text-embedding-3-small",
//		GenerationModel: "gpt-4o-mini",
//		ExtractionModel: "gpt-4o-mini",
//		EmbeddingDim:    1536,
//		EmbeddingKey:    os.Getenv("OPENAI_API_KEY"),
//		ChatKey:         os.Getenv("OPENAI_API_KEY"),
//	})
func NewGraphOpenAIClient(params NewGraphOpenAIClientParams) *GraphOpenAIClient {
	if params.MaxConcurrentRequests <= 0 {
		params.MaxConcurrentRequests = 4
	}
	if params.Timeout <= 0 {
		params.Timeout = 2 * time.Minute
	}
	if params.ExtractionModel == "" {
		params.ExtractionModel = params.GenerationModel
	}

	return &GraphOpenAIClient{
		embeddingModel:  params.EmbeddingModel,
		generationModel: params.GenerationModel,
		extractionModel: params.ExtractionModel,
		embeddingDim:    params.EmbeddingDim,

		chatURL: params.ChatURL,

		reqLock: semaphore.NewWeighted(params.MaxConcurrentRequests),
		timeout: params.Timeout,

		ChatClient:      newOpenaiClient(params.ChatURL, params.ChatKey),
		EmbeddingClient: newOpenaiClient(params.EmbeddingURL, params.EmbeddingKey),
	}
}

func newOpenaiClient(baseURL string, apiKey string) *openai.Client {
	if apiKey == "" {
		return nil
	}
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)
	return &client
}

// ResetMetrics clears all accumulated token and timing metrics to zero.
func (c *GraphOpenAIClient) ResetMetrics() {
	c.metricsLock.Lock()
	c.metrics = ai.ModelMetrics{}
	c.metricsLock.Unlock()
}

// GetMetrics returns the accumulated token usage and timing metrics since the last reset.
func (c *GraphOpenAIClient) GetMetrics() ai.ModelMetrics {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	return c.metrics
}

func (c *GraphOpenAIClient) modifyMetrics(m ai.ModelMetrics) {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	c.metrics.Add(m)
}

var _ ai.GraphAIClient = (*GraphOpenAIClient)(nil)
