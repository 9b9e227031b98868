package ollama

import (
	"context"
	"fmt"
	"strings"

	"github.com/ollama/ollama/api"
)

// GenerateEmbedding creates a vector embedding for the given input text
// using the configured embedding model on Ollama.
func (c *GraphOllamaClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	res, err := c.GenerateEmbeddings(ctx, [][]byte{input})
	if err != nil {
		return nil, err
	}
	return res[0], nil
}

// GenerateEmbeddings embeds all non-blank inputs in one Embed call. Blank
// inputs come back as zero vectors of the configured dimension.
func (c *GraphOllamaClient) GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error) {
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

	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		return nil, err
	}
	defer c.reqLock.Release(1)

	res, err := c.Client.Embed(rCtx, &api.EmbedRequest{
		Model: c.embeddingModel,
		Input: texts,
	})
	if err != nil {
		return nil, err
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding response size mismatch: got %d want %d", len(res.Embeddings), len(texts))
	}
	c.recordMetrics(api.Metrics{
		PromptEvalCount: res.PromptEvalCount,
		TotalDuration:   res.TotalDuration,
	})

	for i, emb := range res.Embeddings {
		out[idxMap[i]] = fitDimension(emb, c.embeddingDim)
	}
	return out, nil
}

func fitDimension(v []float32, dim int) []float32 {
	if dim <= 0 {
		dim = len(v)
	}
	vec := make([]float32, dim)
	copy(vec, v)
	return vec
}
