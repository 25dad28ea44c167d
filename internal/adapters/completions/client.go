// Package completions talks to a raw text-completion endpoint.
package completions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/mikey/sortana/internal/core"
)

// Client posts prompts to a completions endpoint and returns choices[0].text
type Client struct {
	httpClient *http.Client
	logger     *zap.Logger
}

type requestBody struct {
	Prompt string `json:"prompt"`
	core.GenerationParams
}

type responseBody struct {
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
}

// NewClient creates a completions client. A nil httpClient uses one without
// a timeout so in-flight classifications are never aborted.
func NewClient(httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{httpClient: httpClient, logger: logger}
}

// Complete sends req to req.Endpoint. Non-2xx responses yield a *core.StatusError.
func (c *Client) Complete(ctx context.Context, req core.CompletionRequest) (string, error) {
	payload, err := json.Marshal(requestBody{Prompt: req.Prompt, GenerationParams: req.Params})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to call completions endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return "", &core.StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	var body responseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode completions response: %w", err)
	}
	c.logger.Debug("Received completions response", zap.Int("choices", len(body.Choices)))

	if len(body.Choices) == 0 {
		return "", nil
	}
	return body.Choices[0].Text, nil
}
