package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/textchamp/textchamp/internal/llm/prompts"
	"github.com/textchamp/textchamp/internal/model"

	openai "github.com/sashabaranov/go-openai"
)

// Client wraps an OpenAI-compatible API client used as the grading oracle.
type Client struct {
	api     *openai.Client
	model   string
	variant prompts.PromptVariant
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName, variant string) (*Client, error) {
	if !prompts.IsValidVariant(variant) {
		return nil, fmt.Errorf("invalid prompt variant %q", variant)
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		variant: prompts.PromptVariant(variant),
	}, nil
}

// Ping checks that the endpoint answers a model listing.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// Evaluate grades one section attempt with a single completion call. It never
// fails: transport errors and malformed payloads degrade to a fallback result
// with score 0. The call is not retried.
func (c *Client) Evaluate(ctx context.Context, req EvaluationRequest) model.EvaluationResult {
	prompt, err := prompts.BuildEvaluationPrompt(c.variant, req.Story, req.Items)
	if err != nil {
		slog.Error("build evaluation prompt", "error", err)
		return fallbackResult()
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.2,
	})
	if err != nil {
		slog.Warn("LLM evaluation failed, using fallback", "error", err)
		return fallbackResult()
	}
	if len(resp.Choices) == 0 {
		slog.Warn("LLM returned no choices, using fallback")
		return fallbackResult()
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "raw", raw)

	res := parseEvaluation(raw)
	if res.Degraded {
		slog.Warn("LLM response repaired", "raw", raw, "score", res.Score)
	}
	return res
}
