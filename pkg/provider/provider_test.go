package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/parlancehq/parlance/pkg/conversation"
	"github.com/parlancehq/parlance/pkg/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOpenAI(t *testing.T, handler http.HandlerFunc) *OpenAI {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewOpenAI(Config{APIKey: "test-api-key", BaseURL: server.URL})
	require.NoError(t, err)
	return client
}

func completionBody(content string, toolCalls string) string {
	msg := fmt.Sprintf(`{"role": "assistant", "content": %q`, content)
	if toolCalls != "" {
		msg += `, "tool_calls": ` + toolCalls
	}
	msg += `}`
	return `{
		"id": "chatcmpl-test",
		"object": "chat.completion",
		"created": 1677858242,
		"model": "gpt-4o",
		"choices": [{"index": 0, "message": ` + msg + `, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 7, "total_tokens": 17}
	}`
}

func TestNewOpenAI(t *testing.T) {
	t.Run("should reject an empty api key", func(t *testing.T) {
		_, err := NewOpenAI(Config{})

		assert.ErrorContains(t, err, "api key")
	})
}

func TestOpenAIComplete(t *testing.T) {
	t.Run("should return content and usage", func(t *testing.T) {
		client := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
			assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, completionBody("Hello! How can I help you today?", ""))
		})

		resp, err := client.Complete(context.Background(), Request{
			Model:    "gpt-4o",
			Messages: []conversation.Message{conversation.User("Hello!")},
		})

		require.NoError(t, err)
		assert.Equal(t, "Hello! How can I help you today?", resp.Content)
		assert.Empty(t, resp.ToolCalls)
		assert.Equal(t, 10, resp.Usage.InputTokens)
		assert.Equal(t, 7, resp.Usage.OutputTokens)
		assert.Equal(t, 17, resp.Usage.TotalTokens)
	})

	t.Run("should parse tool calls with raw arguments", func(t *testing.T) {
		calls := `[{"id": "call_1", "type": "function", "function": {"name": "reverse_string", "arguments": "{\"input\":\"abc\"}"}}]`
		client := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, completionBody("", calls))
		})

		resp, err := client.Complete(context.Background(), Request{
			Model: "gpt-4o",
			Messages: []conversation.Message{
				conversation.User("reverse abc"),
			},
			Tools: []tool.Definition{{
				Name:   "reverse_string",
				Schema: tool.ObjectSchema(map[string]any{"input": map[string]any{"type": "string"}}, "input"),
				Strict: true,
			}},
		})

		require.NoError(t, err)
		require.Len(t, resp.ToolCalls, 1)
		assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
		assert.Equal(t, "reverse_string", resp.ToolCalls[0].Name)
		assert.JSONEq(t, `{"input":"abc"}`, string(resp.ToolCalls[0].Arguments))
	})

	t.Run("should send the full message history including tool results", func(t *testing.T) {
		var captured struct {
			Messages []map[string]any `json:"messages"`
		}
		client := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, completionBody("done", ""))
		})

		_, err := client.Complete(context.Background(), Request{
			Model: "gpt-4o",
			Messages: []conversation.Message{
				conversation.System("be terse"),
				conversation.User("reverse abc"),
				{
					Role: conversation.RoleAssistant,
					ToolCalls: []conversation.ToolCall{
						{ID: "call_1", Name: "reverse_string", Arguments: json.RawMessage(`{"input":"abc"}`)},
					},
				},
				conversation.ToolResult("cba", "reverse_string", "call_1"),
			},
		})

		require.NoError(t, err)
		require.Len(t, captured.Messages, 4)
		assert.Equal(t, "system", captured.Messages[0]["role"])
		assert.Equal(t, "tool", captured.Messages[3]["role"])
	})

	t.Run("should surface server errors with their status", func(t *testing.T) {
		client := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error": {"message": "overloaded"}}`, http.StatusInternalServerError)
		})

		_, err := client.Complete(context.Background(), Request{
			Model:    "gpt-4o",
			Messages: []conversation.Message{conversation.User("hi")},
		})

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
		assert.True(t, IsRetryable(err))
	})

	t.Run("should not classify auth failures as retryable", func(t *testing.T) {
		client := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error": {"message": "bad key"}}`, http.StatusUnauthorized)
		})

		_, err := client.Complete(context.Background(), Request{
			Model:    "gpt-4o",
			Messages: []conversation.Message{conversation.User("hi")},
		})

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
		assert.False(t, IsRetryable(err))
	})
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", &APIError{Status: 429, Message: "slow down"}, true},
		{"bad gateway", &APIError{Status: 502, Message: "bad gateway"}, true},
		{"request timeout", &APIError{Status: 408, Message: "timeout"}, true},
		{"unauthorized", &APIError{Status: 401, Message: "bad key"}, false},
		{"bad request", &APIError{Status: 400, Message: "malformed"}, false},
		{"connection reset", errors.New("read tcp: connection reset by peer"), true},
		{"empty response", ErrEmptyResponse, false},
		{"generic", errors.New("something else"), false},
	}

	for _, tc := range cases {
		t.Run("should classify "+tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRetryable(tc.err))
		})
	}
}
