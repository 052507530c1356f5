package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Request is one call to the reasoning service.
type Request struct {
	Instructions string         `json:"instructions"`
	Input        map[string]any `json:"input,omitempty"`
}

// Response is the service's reply: free-form text that is expected to
// carry a structured JSON payload.
type Response struct {
	Text string `json:"text"`
}

// Client abstracts the reasoning service. The pipeline treats it as a pure
// async function; how it produces its answer is opaque.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// HTTPClient calls a reasoning service endpoint over HTTP.
type HTTPClient struct {
	url     string
	apiKey  string
	model   string
	timeout time.Duration
	http    *http.Client
}

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	URL     string
	APIKey  string
	Model   string
	Timeout time.Duration // default 120s
}

// NewHTTPClient creates an HTTPClient.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("reasoning service URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPClient{
		url:     cfg.URL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		timeout: timeout,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

type wireRequest struct {
	Model        string         `json:"model,omitempty"`
	Instructions string         `json:"instructions"`
	Input        map[string]any `json:"input,omitempty"`
}

type wireResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

func (c *HTTPClient) Complete(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(wireRequest{
		Model:        c.model,
		Instructions: req.Instructions,
		Input:        req.Input,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &ServiceError{Op: "complete", Transient: true, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, &ServiceError{Op: "complete", Transient: true, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &ServiceError{Op: "complete", Transient: true, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ServiceError{Op: "complete", Err: fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(data), 200))}
	}

	var wire wireResponse
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, &ServiceError{Op: "complete", Err: fmt.Errorf("malformed response: %w", err)}
	}
	if wire.Error != "" {
		return nil, &ServiceError{Op: "complete", Err: fmt.Errorf("service error: %s", wire.Error)}
	}

	return &Response{Text: wire.Text}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
