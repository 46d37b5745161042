package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/parlancehq/parlance/pkg/conversation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoArgs struct {
	Text string `json:"text"`
}

func echoTool(t *testing.T) Tool {
	t.Helper()
	tl, err := NewFunc("echo", "Echo input text",
		ObjectSchema(map[string]any{"text": map[string]any{"type": "string"}}, "text"),
		false,
		func(ctx context.Context, args echoArgs) (string, error) {
			return args.Text, nil
		})
	require.NoError(t, err)
	return tl
}

func TestNewFunc(t *testing.T) {
	t.Run("should execute with typed arguments", func(t *testing.T) {
		out, err := echoTool(t).Execute(context.Background(), json.RawMessage(`{"text":"hello"}`))

		require.NoError(t, err)
		assert.Equal(t, "hello", out)
	})

	t.Run("should treat missing arguments as an empty object", func(t *testing.T) {
		out, err := echoTool(t).Execute(context.Background(), nil)

		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("should reject construction without a name", func(t *testing.T) {
		_, err := NewFunc("", "desc", nil, false,
			func(ctx context.Context, args echoArgs) (string, error) { return "", nil })

		assert.Error(t, err)
	})

	t.Run("should validate arguments when strict", func(t *testing.T) {
		strict, err := NewFunc("adder", "Add two numbers",
			ObjectSchema(map[string]any{
				"a": map[string]any{"type": "number"},
				"b": map[string]any{"type": "number"},
			}, "a", "b"),
			true,
			func(ctx context.Context, args struct {
				A float64 `json:"a"`
				B float64 `json:"b"`
			}) (string, error) {
				return fmt.Sprintf("%g", args.A+args.B), nil
			})
		require.NoError(t, err)

		out, err := strict.Execute(context.Background(), json.RawMessage(`{"a":2,"b":3}`))
		require.NoError(t, err)
		assert.Equal(t, "5", out)

		_, err = strict.Execute(context.Background(), json.RawMessage(`{"a":2}`))
		assert.ErrorContains(t, err, "schema")

		_, err = strict.Execute(context.Background(), json.RawMessage(`{"a":2,"b":3,"c":4}`))
		assert.ErrorContains(t, err, "schema")
	})
}

func TestRegistry(t *testing.T) {
	t.Run("should resolve the last registration for a duplicate name", func(t *testing.T) {
		reg := NewRegistry()
		first, err := NewFunc("reverse_string", "v1", nil, false,
			func(ctx context.Context, args echoArgs) (string, error) { return "first", nil })
		require.NoError(t, err)
		second, err := NewFunc("reverse_string", "v2", nil, false,
			func(ctx context.Context, args echoArgs) (string, error) { return "second", nil })
		require.NoError(t, err)

		reg.Register(first)
		reg.Register(second)

		assert.Equal(t, 1, reg.Len())
		results := reg.ExecuteAll(context.Background(), []conversation.ToolCall{
			{ID: "call_1", Name: "reverse_string"},
		})
		require.Len(t, results, 1)
		assert.Equal(t, "second", results[0].Content)
		assert.False(t, results[0].IsError)
	})

	t.Run("should keep definitions in registration order", func(t *testing.T) {
		reg := NewRegistry()
		reg.Register(echoTool(t))
		tl, err := NewFunc("shout", "Uppercase input", nil, false,
			func(ctx context.Context, args echoArgs) (string, error) {
				return strings.ToUpper(args.Text), nil
			})
		require.NoError(t, err)
		reg.Register(tl)

		defs := reg.Definitions()
		require.Len(t, defs, 2)
		assert.Equal(t, "echo", defs[0].Name)
		assert.Equal(t, "shout", defs[1].Name)
	})
}

func TestExecuteAll(t *testing.T) {
	t.Run("should preserve call order regardless of completion order", func(t *testing.T) {
		reg := NewRegistry()
		slow, err := NewFunc("slow", "Sleep then answer", nil, false,
			func(ctx context.Context, args echoArgs) (string, error) {
				time.Sleep(30 * time.Millisecond)
				return "slow:" + args.Text, nil
			})
		require.NoError(t, err)
		reg.Register(slow)
		reg.Register(echoTool(t))

		results := reg.ExecuteAll(context.Background(), []conversation.ToolCall{
			{ID: "call_a", Name: "slow", Arguments: json.RawMessage(`{"text":"one"}`)},
			{ID: "call_b", Name: "echo", Arguments: json.RawMessage(`{"text":"two"}`)},
		})

		require.Len(t, results, 2)
		assert.Equal(t, "call_a", results[0].CallID)
		assert.Equal(t, "slow:one", results[0].Content)
		assert.Equal(t, "call_b", results[1].CallID)
		assert.Equal(t, "two", results[1].Content)
	})

	t.Run("should run calls concurrently", func(t *testing.T) {
		reg := NewRegistry()
		var inFlight, peak int32
		busy, err := NewFunc("busy", "Track concurrency", nil, false,
			func(ctx context.Context, args echoArgs) (string, error) {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					old := atomic.LoadInt32(&peak)
					if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return "done", nil
			})
		require.NoError(t, err)
		reg.Register(busy)

		reg.ExecuteAll(context.Background(), []conversation.ToolCall{
			{ID: "c1", Name: "busy"},
			{ID: "c2", Name: "busy"},
			{ID: "c3", Name: "busy"},
		})

		assert.Greater(t, atomic.LoadInt32(&peak), int32(1))
	})

	t.Run("should isolate a failing tool from its siblings", func(t *testing.T) {
		reg := NewRegistry()
		failing, err := NewFunc("fails", "Always fails", nil, false,
			func(ctx context.Context, args echoArgs) (string, error) {
				return "", fmt.Errorf("backend unavailable")
			})
		require.NoError(t, err)
		reg.Register(failing)
		reg.Register(echoTool(t))

		results := reg.ExecuteAll(context.Background(), []conversation.ToolCall{
			{ID: "c1", Name: "fails"},
			{ID: "c2", Name: "echo", Arguments: json.RawMessage(`{"text":"still fine"}`)},
		})

		require.Len(t, results, 2)
		assert.True(t, results[0].IsError)
		assert.Contains(t, results[0].Content, "backend unavailable")
		assert.False(t, results[1].IsError)
		assert.Equal(t, "still fine", results[1].Content)
	})

	t.Run("should report an unknown tool as an error result", func(t *testing.T) {
		reg := NewRegistry()

		results := reg.ExecuteAll(context.Background(), []conversation.ToolCall{
			{ID: "c1", Name: "nonexistent"},
		})

		require.Len(t, results, 1)
		assert.True(t, results[0].IsError)
		assert.Contains(t, results[0].Content, "not registered")
	})

	t.Run("should convert a result into a tool message", func(t *testing.T) {
		res := Result{CallID: "call_1", Name: "echo", Content: "hi"}

		msg := res.Message()

		assert.Equal(t, conversation.RoleTool, msg.Role)
		assert.Equal(t, "call_1", msg.ToolCallID)
		assert.Equal(t, "echo", msg.Name)
		assert.Equal(t, "hi", msg.Content)
	})
}
