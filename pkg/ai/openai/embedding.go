package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/scholargraph/pkg/ai"

	"github.com/openai/openai-go/v3"
)

// GenerateEmbedding creates a vector embedding for the given input text
// using the configured embedding model.
func (c *GraphOpenAIClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	res, err := c.GenerateEmbeddings(ctx, [][]byte{input})
	if err != nil {
		return nil, err
	}
	if len(res) != 1 {
		return nil, fmt.Errorf("unexpected embedding result size: got %d want 1", len(res))
	}
	return res[0], nil
}

// GenerateEmbeddings creates embeddings for multiple inputs in a single
// request. Blank inputs are not sent and come back as zero vectors. Every
// vector is padded or truncated to the configured dimension.
func (c *GraphOpenAIClient) GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(inputs))
	idxMap := make([]int, 0, len(inputs))
	texts := make([]string, 0, len(inputs))
	for i, in := range inputs {
		if strings.TrimSpace(string(in)) == "" {
			out[i] = make([]float32, c.embeddingDim)
			continue
		}
		idxMap = append(idxMap, i)
		texts = append(texts, string(in))
	}
	if len(texts) == 0 {
		return out, nil
	}

	vecs, err := c.embedStrings(ctx, texts)
	if err != nil {
		return nil, err
	}
	for i, v := range vecs {
		out[idxMap[i]] = v
	}
	return out, nil
}

func (c *GraphOpenAIClient) embedStrings(ctx context.Context, inputs []string) ([][]float32, error) {
	if c.EmbeddingClient == nil {
		return nil, fmt.Errorf("openai embedding client is not configured")
	}

	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		return nil, err
	}
	defer c.reqLock.Release(1)

	start := time.Now()
	response, err := c.EmbeddingClient.Embeddings.New(rCtx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: inputs},
		Model: c.embeddingModel,
	})
	if err != nil {
		return nil, err
	}
	c.modifyMetrics(ai.ModelMetrics{
		InputTokens: int(response.Usage.PromptTokens),
		TotalTokens: int(response.Usage.TotalTokens),
		DurationMs:  time.Since(start).Milliseconds(),
	})

	if len(response.Data) != len(inputs) {
		return nil, fmt.Errorf("embedding response size mismatch: got %d want %d", len(response.Data), len(inputs))
	}

	out := make([][]float32, len(inputs))
	for _, embedding := range response.Data {
		idx := int(embedding.Index)
		if idx < 0 || idx >= len(inputs) {
			return nil, fmt.Errorf("embedding index out of range: %d", embedding.Index)
		}
		out[idx] = fitDimension(embedding.Embedding, c.embeddingDim)
	}
	for i := range out {
		if out[i] == nil {
			return nil, fmt.Errorf("missing embedding for index %d", i)
		}
	}
	return out, nil
}

func fitDimension(v []float64, dim int) []float32 {
	if dim <= 0 {
		dim = len(v)
	}
	vec := make([]float32, dim)
	for i := 0; i < dim && i < len(v); i++ {
		vec[i] = float32(v[i])
	}
	return vec
}
