// Package model provides opaque access to a text-completion model.
// The engine is agnostic to how credentials are obtained; this client
// reads an API key from the configured environment variable and nothing
// else.
package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"upshift/internal/config"
	"upshift/internal/logging"
)

// ErrNotConfigured is returned when no model endpoint or credential is
// available. Callers report it once and do not retry.
var ErrNotConfigured = errors.New("model access is not configured")

// Request is one completion request.
type Request struct {
	Prompt       string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
}

// Usage reports token consumption for one completion.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

// Response is one completion result.
type Response struct {
	Text  string
	Usage Usage
}

// Client is the opaque completion interface the fallback migrator consumes.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// HTTPClient talks to a completion endpoint over HTTP.
type HTTPClient struct {
	endpoint string
	name     string
	apiKey   string
	client   *http.Client
	logger   *logging.Logger
}

// NewHTTPClient builds a client from configuration. The API key is read
// from the environment variable named in cfg; an empty endpoint or key
// yields a client whose calls fail with ErrNotConfigured.
func NewHTTPClient(cfg config.ModelConfig, logger *logging.Logger) *HTTPClient {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &HTTPClient{
		endpoint: cfg.Endpoint,
		name:     cfg.Name,
		apiKey:   os.Getenv(cfg.APIKeyEnv),
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

type completionPayload struct {
	Model        string  `json:"model"`
	Prompt       string  `json:"prompt"`
	SystemPrompt string  `json:"systemPrompt,omitempty"`
	MaxTokens    int     `json:"maxTokens,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
}

type completionReply struct {
	Text  string `json:"text"`
	Usage Usage  `json:"usage"`
	Error string `json:"error,omitempty"`
}

// Complete sends one completion request.
func (c *HTTPClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if c.endpoint == "" || c.apiKey == "" {
		return nil, ErrNotConfigured
	}

	payload, err := json.Marshal(completionPayload{
		Model:        c.name,
		Prompt:       req.Prompt,
		SystemPrompt: req.SystemPrompt,
		MaxTokens:    req.MaxTokens,
		Temperature:  req.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read completion response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("completion endpoint returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var reply completionReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("decode completion response: %w", err)
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("completion endpoint error: %s", reply.Error)
	}

	c.logger.Debug("Completion finished", map[string]interface{}{
		"model":            c.name,
		"durationMs":       time.Since(start).Milliseconds(),
		"completionTokens": reply.Usage.CompletionTokens,
	})

	return &Response{Text: reply.Text, Usage: reply.Usage}, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
