package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/mikey/sortana/internal/core"
)

// OpenAIClient is a core.Completer backed by the OpenAI chat completions API
type OpenAIClient struct {
	client    *openai.Client
	modelName string
	logger    *zap.Logger
}

// NewOpenAIClient creates a new OpenAI client. An empty baseURL uses the public API.
func NewOpenAIClient(apiKey, baseURL, modelName string, logger *zap.Logger) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{
		client:    openai.NewClientWithConfig(cfg),
		modelName: modelName,
		logger:    logger,
	}
}

// Complete sends the rendered prompt as a single user message.
// The request endpoint is ignored; the client's base URL applies.
func (c *OpenAIClient) Complete(ctx context.Context, req core.CompletionRequest) (string, error) {
	chatReq := openai.ChatCompletionRequest{
		Model: c.modelName,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: req.Prompt,
			},
		},
		MaxTokens:        req.Params.MaxTokens,
		Temperature:      float32(req.Params.Temperature),
		TopP:             float32(req.Params.TopP),
		PresencePenalty:  float32(req.Params.PresencePenalty),
		FrequencyPenalty: float32(req.Params.FrequencyPenalty),
	}
	if req.Params.Seed >= 0 {
		seed := req.Params.Seed
		chatReq.Seed = &seed
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
			return "", fmt.Errorf("openai: %w", &core.StatusError{
				StatusCode: apiErr.HTTPStatusCode,
				Status:     fmt.Sprintf("%d %s", apiErr.HTTPStatusCode, apiErr.Message),
			})
		}
		return "", fmt.Errorf("failed to create chat completion with OpenAI: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from OpenAI")
	}

	c.logger.Debug("OpenAI completion received",
		zap.String("model", c.modelName),
		zap.String("id", resp.ID),
		zap.Int("total_tokens", resp.Usage.TotalTokens))

	return resp.Choices[0].Message.Content, nil
}
