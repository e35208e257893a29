// Package ollama is a client for the /api/chat endpoint of an Ollama
// compatible model server.
package ollama

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const (
	// DefaultTimeout is the default timeout for a single chat call.
	DefaultTimeout = 120 * time.Second

	// maxErrorBody caps how much of an error response is kept.
	maxErrorBody = 512
)

// Client talks to the model server over HTTP.
type Client struct {
	config     Config
	httpClient *http.Client
	endpoint   string
}

// NewClient validates config and creates a client.
func NewClient(config Config) (*Client, error) {
	if strings.TrimSpace(config.BaseURL) == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	if strings.TrimSpace(config.Model) == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}

	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Options == (Options{}) {
		config.Options = DefaultOptions()
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		endpoint:   strings.TrimRight(config.BaseURL, "/") + "/api/chat",
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.config.Model
}

// Chat sends req and returns the decoded reply. Network failures, timeouts
// and non-2xx statuses are TransportErrors; undecodable replies and replies
// without a message are ProtocolErrors.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if req.Model == "" {
		req.Model = c.config.Model
	}
	if req.Options == nil {
		opts := c.config.Options
		req.Options = &opts
	}
	req.Stream = false

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat request: %w", err)
	}

	callCtx, cancel := prepareCallContext(ctx, c.config.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, handleTransportError(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &TransportError{
			StatusCode: resp.StatusCode,
			Err:        errors.New(strings.TrimSpace(string(snippet))),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, handleTransportError(ctx, err)
	}

	var chat ChatResponse
	if err := json.Unmarshal(data, &chat); err != nil {
		return nil, &ProtocolError{Reason: "undecodable response", Err: err}
	}
	if chat.Message == nil {
		return nil, &ProtocolError{Reason: "response has no message"}
	}
	return &chat, nil
}

// prepareCallContext applies the client timeout unless ctx already has a
// deadline.
func prepareCallContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline || timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// handleTransportError keeps caller cancellation visible while classifying
// everything else as a transport failure.
func handleTransportError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("chat request canceled: %w", ctx.Err())
	}
	return &TransportError{Err: err}
}
