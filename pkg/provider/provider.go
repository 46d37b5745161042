package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/parlancehq/parlance/pkg/conversation"
	"github.com/parlancehq/parlance/pkg/tool"
)

// ErrEmptyResponse is returned when the service answers with no choices or
// an empty message. It signals an API contract mismatch and is never
// retried.
var ErrEmptyResponse = errors.New("model returned an empty response")

// Request is a single completion request.
type Request struct {
	Model           string
	Messages        []conversation.Message
	Tools           []tool.Definition
	Temperature     float64
	MaxOutputTokens int
	JSONMode        bool
	Stream          bool
}

// Usage is the token consumption reported for one request.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Response is the model's answer: final text, tool calls, or both.
type Response struct {
	Content   string
	ToolCalls []conversation.ToolCall
	Usage     Usage
}

// Client is a completion transport for one model service.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Name() string
}

// Config holds transport settings shared by the client implementations.
type Config struct {
	APIKey       string
	BaseURL      string
	Organization string
	Timeout      time.Duration
}

// APIError is an HTTP-level failure from the model service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// IsRetryable reports whether an error is transient: rate limits, server
// errors, timeouts, and connection resets. Authentication, malformed
// requests, and parse failures are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrEmptyResponse) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == 408, apiErr.Status == 429:
			return true
		case apiErr.Status >= 500:
			return true
		default:
			return false
		}
	}

	msg := err.Error()
	for _, needle := range []string{"connection reset", "connection refused", "timeout", "EOF"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
