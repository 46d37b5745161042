package tokens

import (
	"strings"
	"testing"

	"github.com/parlancehq/parlance/pkg/conversation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testModel = "gpt-4o"

func TestCount(t *testing.T) {
	t.Run("should count tokens for a known model", func(t *testing.T) {
		n, err := Count("Hello, world!", testModel)

		require.NoError(t, err)
		assert.Greater(t, n, 0)
	})

	t.Run("should report zero for empty text", func(t *testing.T) {
		n, err := Count("", testModel)

		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("should fail for an unknown model", func(t *testing.T) {
		_, err := Count("hello", "not-a-model")

		assert.ErrorIs(t, err, ErrUnknownModel)
	})
}

func TestTruncate(t *testing.T) {
	t.Run("should return text unchanged when within the limit", func(t *testing.T) {
		out, err := Truncate("short text", 100, testModel)

		require.NoError(t, err)
		assert.Equal(t, "short text", out)
	})

	t.Run("should truncate to at most the requested tokens", func(t *testing.T) {
		text := strings.Repeat("the quick brown fox jumps over the lazy dog ", 50)

		out, err := Truncate(text, 10, testModel)
		require.NoError(t, err)

		n, err := Count(out, testModel)
		require.NoError(t, err)
		assert.LessOrEqual(t, n, 10)
		assert.Less(t, len(out), len(text))
	})

	t.Run("should be idempotent", func(t *testing.T) {
		text := strings.Repeat("the quick brown fox jumps over the lazy dog ", 50)

		once, err := Truncate(text, 25, testModel)
		require.NoError(t, err)
		twice, err := Truncate(once, 25, testModel)
		require.NoError(t, err)

		assert.Equal(t, once, twice)
	})

	t.Run("should return empty text for a zero budget", func(t *testing.T) {
		out, err := Truncate("anything", 0, testModel)

		require.NoError(t, err)
		assert.Empty(t, out)
	})
}

func TestFitHistory(t *testing.T) {
	t.Run("should keep everything when under budget", func(t *testing.T) {
		msgs := []conversation.Message{
			conversation.System("be helpful"),
			conversation.User("hello"),
		}

		fit, err := FitHistory(msgs, 10000, testModel)

		require.NoError(t, err)
		assert.Equal(t, msgs, fit)
	})

	t.Run("should drop oldest non-system messages first", func(t *testing.T) {
		long := strings.Repeat("lorem ipsum dolor sit amet ", 40)
		msgs := []conversation.Message{
			conversation.System("be helpful"),
			conversation.User(long),
			conversation.Assistant(long),
			conversation.User("latest question"),
		}

		budget := 0
		for _, m := range []conversation.Message{msgs[0], msgs[3]} {
			n, err := Count(m.Content, testModel)
			require.NoError(t, err)
			budget += n + messageOverhead
		}

		fit, err := FitHistory(msgs, budget, testModel)

		require.NoError(t, err)
		require.Len(t, fit, 2)
		assert.Equal(t, conversation.RoleSystem, fit[0].Role)
		assert.Equal(t, "latest question", fit[1].Content)
	})

	t.Run("should always retain the system message even when over budget", func(t *testing.T) {
		msgs := []conversation.Message{
			conversation.System(strings.Repeat("rules ", 100)),
			conversation.User("hi"),
		}

		fit, err := FitHistory(msgs, 1, testModel)

		require.NoError(t, err)
		require.Len(t, fit, 1)
		assert.Equal(t, conversation.RoleSystem, fit[0].Role)
	})

	t.Run("should drop tool results together with their assistant message", func(t *testing.T) {
		long := strings.Repeat("lorem ipsum dolor sit amet ", 40)
		msgs := []conversation.Message{
			conversation.System("be helpful"),
			conversation.Message{
				Role:      conversation.RoleAssistant,
				ToolCalls: []conversation.ToolCall{{ID: "call_1", Name: "search"}},
			},
			conversation.ToolResult(long, "search", "call_1"),
			conversation.User("latest question"),
		}

		fit, err := FitHistory(msgs, 40, testModel)
		require.NoError(t, err)

		for _, m := range fit {
			assert.NotEqual(t, conversation.RoleTool, m.Role,
				"tool result must not outlive the assistant message that called it")
		}
	})

	t.Run("should preserve survivor order", func(t *testing.T) {
		msgs := []conversation.Message{
			conversation.System("s"),
			conversation.User(strings.Repeat("a ", 200)),
			conversation.User("first kept"),
			conversation.Assistant("second kept"),
		}

		fit, err := FitHistory(msgs, 60, testModel)

		require.NoError(t, err)
		require.GreaterOrEqual(t, len(fit), 3)
		assert.Equal(t, "first kept", fit[len(fit)-2].Content)
		assert.Equal(t, "second kept", fit[len(fit)-1].Content)
	})
}
