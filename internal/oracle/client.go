package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

// Client is an OpenAI-compatible chat-completions client. Each Complete call
// is bounded by a per-attempt timeout and retried with exponential backoff;
// when every attempt fails the caller treats the turn as skipped.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	label       string // tier tag used in log lines (e.g. "MARKET", "CHECKER")
	callTimeout time.Duration
	maxAttempts int
	retryDelay  time.Duration
	httpClient  *http.Client
}

const (
	defaultCallTimeout = 90 * time.Second
	defaultMaxAttempts = 3
	retryBaseDelay     = 2 * time.Second
)

// normalizeBaseURL strips trailing slashes and the "/chat/completions" suffix
// from a raw OPENAI_BASE_URL value so the path is never doubled when the
// client appends "/chat/completions" itself.
func normalizeBaseURL(raw string) string {
	s := strings.TrimRight(raw, "/")
	return strings.TrimSuffix(s, "/chat/completions")
}

// New creates a Client from the shared environment variables:
//
//	OPENAI_API_KEY, OPENAI_BASE_URL, OPENAI_MODEL
func New() (*Client, error) {
	return NewTier("")
}

// NewTier creates a Client for a named tier. For each config key it first
// tries {prefix}_{KEY}; if unset it falls back to the shared OPENAI_{KEY}.
// An empty prefix reads only the shared vars. Missing credentials are a
// construction failure — startup-fatal, per the engine's error taxonomy.
func NewTier(prefix string) (*Client, error) {
	get := func(suffix, fallback string) string {
		if prefix != "" {
			if v := os.Getenv(prefix + "_" + suffix); v != "" {
				return v
			}
		}
		return os.Getenv(fallback)
	}
	label := prefix
	if label == "" {
		label = "ORACLE"
	}
	c := &Client{
		baseURL:     normalizeBaseURL(get("BASE_URL", "OPENAI_BASE_URL")),
		apiKey:      get("API_KEY", "OPENAI_API_KEY"),
		model:       get("MODEL", "OPENAI_MODEL"),
		label:       label,
		callTimeout: defaultCallTimeout,
		maxAttempts: defaultMaxAttempts,
		retryDelay:  retryBaseDelay,
		httpClient:  &http.Client{},
	}
	if c.baseURL == "" || c.apiKey == "" || c.model == "" {
		return nil, fmt.Errorf("oracle: missing credentials (need OPENAI_BASE_URL, OPENAI_API_KEY, OPENAI_MODEL)")
	}
	return c, nil
}

// WithLimits overrides the per-attempt timeout and the retry budget.
// Zero values keep the current settings.
func (c *Client) WithLimits(timeout time.Duration, maxAttempts int) *Client {
	if timeout > 0 {
		c.callTimeout = timeout
	}
	if maxAttempts > 0 {
		c.maxAttempts = maxAttempts
	}
	return c
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []chatMsg `json:"messages"`
}

type chatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends a system + user prompt and returns the assistant's text.
// Attempts are retried with doubling backoff; ctx cancellation stops the
// retry loop immediately.
func (c *Client) Complete(ctx context.Context, system, user string) (string, Usage, error) {
	var lastErr error
	delay := c.retryDelay
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		text, usage, err := c.completeOnce(ctx, system, user)
		if err == nil {
			return text, usage, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", Usage{}, ctx.Err()
		}
		if attempt < c.maxAttempts {
			log.Printf("[%s] attempt %d/%d failed: %v — retrying in %s", c.label, attempt, c.maxAttempts, err, delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", Usage{}, ctx.Err()
			}
			delay *= 2
		}
	}
	return "", Usage{}, fmt.Errorf("oracle: %d attempts exhausted: %w", c.maxAttempts, lastErr)
}

func (c *Client) completeOnce(ctx context.Context, system, user string) (string, Usage, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	payload := chatRequest{
		Model: c.model,
		Messages: []chatMsg{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", Usage{}, fmt.Errorf("oracle: marshal request: %w", err)
	}

	url := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", Usage{}, fmt.Errorf("oracle: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("oracle: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Usage{}, fmt.Errorf("oracle: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", Usage{}, fmt.Errorf("oracle: HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", Usage{}, fmt.Errorf("oracle: unmarshal response: %w", err)
	}
	if chatResp.Error != nil {
		return "", Usage{}, fmt.Errorf("oracle: API error: %s", chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("oracle: no choices in response")
	}
	return chatResp.Choices[0].Message.Content, chatResp.Usage, nil
}
