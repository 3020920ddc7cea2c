// Package llm is a small client for OpenAI-compatible chat-completion
// endpoints. The moderator, the language normalizer and the verdict generator
// all talk to their backends through it.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxResponseBytes caps how much of an upstream response body is read.
const maxResponseBytes = 1 << 20

// Completer sends one chat-completion request and returns the text of the
// first choice.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Config holds connection settings for one backend.
type Config struct {
	BaseURL string        // e.g. https://api.openai.com/v1
	APIKey  string        // sent as a bearer token
	Model   string        // default model when Request.Model is empty
	Timeout time.Duration // ceiling for a single call
	RPS     float64       // outbound pacing, <= 0 disables it
	Burst   int
}

// DefaultConfig returns defaults for the public OpenAI endpoint.
func DefaultConfig() Config {
	return Config{
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o-mini",
		Timeout: 20 * time.Second,
		RPS:     10,
		Burst:   20,
	}
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the chat-completion request body.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Temperature returns a pointer suitable for Request.Temperature.
func Temperature(t float64) *float64 {
	return &t
}

type completionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// StatusError is returned when the backend answers with a non-200 status.
// Body is kept for negotiation predicates and logs; it must never be shown
// to end users.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm: upstream returned status %d", e.StatusCode)
}

// Client implements Completer over HTTP.
type Client struct {
	cfg        Config
	httpClient *http.Client
	pacer      *rate.Limiter
	logger     *zap.Logger
}

// NewClient creates a Client. A nil logger disables logging.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		pacer:      rate.NewLimiter(limit, burst),
		logger:     logger.Named("llm"),
	}
}

// Model returns the configured default model.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Complete sends req and returns the trimmed content of the first choice.
// Every call is bounded by the configured timeout.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	if req.Model == "" {
		req.Model = c.cfg.Model
	}

	if err := c.pacer.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm: pacing: %w", err)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("llm: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("llm: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("llm: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("upstream rejected request",
			zap.String("model", req.Model),
			zap.Int("status", resp.StatusCode),
			zap.String("body", truncate(string(body), 512)))
		return "", &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out completionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("llm: parse response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("llm: api error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("llm: no completion returned")
	}

	content := strings.TrimSpace(out.Choices[0].Message.Content)
	c.logger.Debug("completion finished",
		zap.String("model", req.Model),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("response_len", len(content)))
	return content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
