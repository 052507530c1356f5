package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// RetryConfig configures retry behavior for reasoning service calls.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts. Default: 3.
	MaxAttempts int

	// InitialBackoff is the first retry delay. Default: 2s.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between attempts. Default: 10s.
	MaxBackoff time.Duration

	// BackoffMultiplier grows the delay each attempt. Default: 2.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    2 * time.Second,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

func (c *RetryConfig) applyDefaults() {
	d := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = d.BackoffMultiplier
	}
}

// Executor wraps a reasoning service call with input sanitization, bounded
// exponential-backoff retry, and structured-output extraction.
type Executor struct {
	client Client
	retry  RetryConfig
	logger *zap.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(client Client, retry RetryConfig, logger *zap.Logger) *Executor {
	retry.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{client: client, retry: retry, logger: logger}
}

// Execute calls the reasoning service and unmarshals the structured JSON
// payload of its reply into out. Transient failures and malformed output
// are retried up to the configured bound; the final failure surfaces as a
// *ServiceError.
func (e *Executor) Execute(ctx context.Context, instructions string, input map[string]any, out any) error {
	req := Request{
		Instructions: sanitize(instructions),
		Input:        input,
	}

	backoff := e.retry.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= e.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			e.logger.Warn("retrying reasoning service call",
				zap.Int("attempt", attempt), zap.Duration("backoff", backoff), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return &ServiceError{Op: "execute", Err: ctx.Err()}
			case <-time.After(backoff):
			}
			backoff = time.Duration(float64(backoff) * e.retry.BackoffMultiplier)
			if backoff > e.retry.MaxBackoff {
				backoff = e.retry.MaxBackoff
			}
		}

		resp, err := e.client.Complete(ctx, req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return &ServiceError{Op: "execute", Err: ctx.Err()}
			}
			var se *ServiceError
			if errors.As(err, &se) && !se.Transient {
				return se
			}
			continue
		}

		payload, err := ExtractJSON(resp.Text)
		if err != nil {
			// Malformed output is worth one more round trip; models often
			// recover on a retry.
			lastErr = &ServiceError{Op: "execute", Err: err}
			continue
		}
		if err := json.Unmarshal(payload, out); err != nil {
			lastErr = &ServiceError{Op: "execute", Err: fmt.Errorf("decode structured output: %w", err)}
			continue
		}
		return nil
	}

	var se *ServiceError
	if errors.As(lastErr, &se) {
		return se
	}
	return &ServiceError{Op: "execute", Err: lastErr}
}

var jsonFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ExtractJSON pulls the structured JSON object out of a free-form reply.
// Fenced blocks win; otherwise the outermost brace-balanced object is used.
func ExtractJSON(text string) (json.RawMessage, error) {
	if m := jsonFenceRe.FindStringSubmatch(text); m != nil {
		return json.RawMessage(m[1]), nil
	}

	start := strings.Index(text, "{")
	if start < 0 {
		return nil, fmt.Errorf("no JSON object in response")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return json.RawMessage(text[start : i+1]), nil
				}
			}
		}
	}
	return nil, fmt.Errorf("unbalanced JSON object in response")
}

// sanitize strips control characters that confuse the service and trims
// oversized instruction payloads.
func sanitize(s string) string {
	const maxLen = 256 << 10
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || r >= 0x20 {
			return r
		}
		return -1
	}, s)
}
