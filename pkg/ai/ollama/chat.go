package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"

	"github.com/OFFIS-RIT/scholargraph/pkg/ai"

	"github.com/ollama/ollama/api"
)

const (
	defaultContext  = 4096
	contextHeadroom = 200
)

// contextSize returns the num_ctx needed to fit prompt plus the requested
// output, or 0 when the model default suffices.
func contextSize(prompt string, maxTokens int) int {
	need := ai.CountTokens(prompt) + contextHeadroom + max(maxTokens, 0)
	if need > defaultContext {
		return need
	}
	return 0
}

func (c *GraphOllamaClient) chat(ctx context.Context, prompt string, format json.RawMessage, options ai.GenerateOptions) (string, error) {
	msgs := make([]api.Message, 0, len(options.SystemPrompts)+1)
	for _, sp := range options.SystemPrompts {
		msgs = append(msgs, api.Message{Role: "system", Content: sp})
	}
	msgs = append(msgs, api.Message{Role: "user", Content: prompt})

	stream := false
	req := &api.ChatRequest{
		Model:    options.Model,
		Messages: msgs,
		Stream:   &stream,
		Format:   format,
		Options:  map[string]any{"temperature": options.Temperature},
	}
	if options.MaxTokens > 0 {
		req.Options["num_predict"] = options.MaxTokens
	}
	if n := contextSize(prompt, options.MaxTokens); n > 0 {
		req.Options["num_ctx"] = n
	}
	if options.Thinking != "" {
		req.Think = &api.ThinkValue{Value: options.Thinking}
	}

	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		return "", err
	}
	defer c.reqLock.Release(1)

	var (
		content string
		metrics api.Metrics
	)
	err := c.Client.Chat(rCtx, req, func(cr api.ChatResponse) error {
		content += cr.Message.Content
		if cr.Done {
			metrics = cr.Metrics
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	c.recordMetrics(metrics)

	return content, nil
}

// GenerateCompletion sends a single-turn prompt and returns assistant text.
func (c *GraphOllamaClient) GenerateCompletion(
	ctx context.Context,
	prompt string,
	opts ...ai.GenerateOption,
) (string, error) {
	options := ai.ApplyOptions(ai.GenerateOptions{
		Model:       c.generationModel,
		Temperature: 0.3,
	}, opts...)

	return c.chat(ctx, prompt, nil, options)
}

// GenerateCompletionWithFormat enforces a JSON schema and unmarshals into out.
func (c *GraphOllamaClient) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) error {
	rv := reflect.ValueOf(out)
	if out == nil || rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errors.New("out must be a non-nil pointer")
	}

	format, err := json.Marshal(ai.GenerateSchema(out))
	if err != nil {
		return err
	}

	options := ai.ApplyOptions(ai.GenerateOptions{
		Model:       c.extractionModel,
		Temperature: 0.1,
	}, opts...)

	content, err := c.chat(ctx, prompt, format, options)
	if err != nil {
		return err
	}
	return ai.UnmarshalFlexible(content, out)
}
