package ollama

import (
	"github.com/OFFIS-RIT/scholargraph/pkg/ai"

	"github.com/ollama/ollama/api"
)

// ResetMetrics clears all accumulated token and timing metrics to zero.
func (c *GraphOllamaClient) ResetMetrics() {
	c.metricsLock.Lock()
	c.metrics = ai.ModelMetrics{}
	c.metricsLock.Unlock()
}

// GetMetrics returns the accumulated token usage and timing metrics since the last reset.
func (c *GraphOllamaClient) GetMetrics() ai.ModelMetrics {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	return c.metrics
}

func (c *GraphOllamaClient) recordMetrics(m api.Metrics) {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	c.metrics.Add(ai.ModelMetrics{
		InputTokens:  m.PromptEvalCount,
		OutputTokens: m.EvalCount,
		TotalTokens:  m.PromptEvalCount + m.EvalCount,
		DurationMs:   m.TotalDuration.Milliseconds(),
	})
}
