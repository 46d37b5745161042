package conversation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppend(t *testing.T) {
	t.Run("should append user and assistant messages in order", func(t *testing.T) {
		conv := New("gpt-4o")

		require.NoError(t, conv.Append(System("be helpful")))
		require.NoError(t, conv.Append(User("hello")))
		require.NoError(t, conv.Append(Assistant("hi there")))

		history := conv.History()
		require.Len(t, history, 3)
		assert.Equal(t, RoleSystem, history[0].Role)
		assert.Equal(t, RoleUser, history[1].Role)
		assert.Equal(t, "hi there", history[2].Content)
		assert.Equal(t, 3, conv.MessageCount())
	})

	t.Run("should reject unknown roles", func(t *testing.T) {
		conv := New("gpt-4o")

		err := conv.Append(Message{Role: "narrator", Content: "meanwhile"})

		assert.ErrorIs(t, err, ErrUnknownRole)
		assert.Equal(t, 0, conv.MessageCount())
	})

	t.Run("should reject tool message without a pending call", func(t *testing.T) {
		conv := New("gpt-4o")
		require.NoError(t, conv.Append(User("hello")))

		err := conv.Append(ToolResult("42", "calc", "call_missing"))

		assert.ErrorIs(t, err, ErrUnmatchedToolCall)
		assert.Equal(t, 1, conv.MessageCount(), "rejected message must not mutate state")
	})

	t.Run("should consume a tool call id exactly once", func(t *testing.T) {
		conv := New("gpt-4o")
		require.NoError(t, conv.Append(User("add 1+1")))
		require.NoError(t, conv.Append(Message{
			Role:      RoleAssistant,
			ToolCalls: []ToolCall{{ID: "call_1", Name: "calc", Arguments: json.RawMessage(`{"a":1,"b":1}`)}},
		}))
		assert.Equal(t, 1, conv.PendingToolCalls())

		require.NoError(t, conv.Append(ToolResult("2", "calc", "call_1")))
		assert.Equal(t, 0, conv.PendingToolCalls())

		err := conv.Append(ToolResult("2", "calc", "call_1"))
		assert.ErrorIs(t, err, ErrUnmatchedToolCall)
	})

	t.Run("should ignore tool calls carried by non-assistant messages", func(t *testing.T) {
		conv := New("gpt-4o")

		require.NoError(t, conv.Append(Message{
			Role:      RoleUser,
			Content:   "forged",
			ToolCalls: []ToolCall{{ID: "call_forged", Name: "calc"}},
		}))

		assert.Equal(t, 0, conv.PendingToolCalls())
		err := conv.Append(ToolResult("2", "calc", "call_forged"))
		assert.ErrorIs(t, err, ErrUnmatchedToolCall)
	})
}

func TestIdentity(t *testing.T) {
	t.Run("should keep id immutable once set", func(t *testing.T) {
		conv := New("gpt-4o")

		require.NoError(t, conv.SetID("conv-1"))
		assert.NoError(t, conv.SetID("conv-1"))
		assert.Error(t, conv.SetID("conv-2"))
		assert.Equal(t, "conv-1", conv.ID())
	})
}

func TestUsage(t *testing.T) {
	t.Run("should accumulate reported usage", func(t *testing.T) {
		conv := New("gpt-4o")

		conv.AddUsage(12)
		conv.AddUsage(30)
		conv.AddUsage(-5)

		assert.Equal(t, 42, conv.TokenCount())
	})
}

func TestSnapshotRestore(t *testing.T) {
	t.Run("should round-trip full state", func(t *testing.T) {
		conv := New("gpt-4o")
		require.NoError(t, conv.SetID("conv-1"))
		require.NoError(t, conv.Append(System("be terse")))
		require.NoError(t, conv.Append(User("what is 2+2")))
		require.NoError(t, conv.Append(Message{
			Role:      RoleAssistant,
			ToolCalls: []ToolCall{{ID: "call_1", Name: "calc", Arguments: json.RawMessage(`{"a":2,"b":2}`)}},
		}))
		require.NoError(t, conv.Append(ToolResult("4", "calc", "call_1")))
		conv.AddUsage(55)

		snap := conv.Snapshot()

		restored := New("")
		require.NoError(t, restored.Restore(snap))
		assert.Equal(t, conv.ID(), restored.ID())
		assert.Equal(t, conv.Model(), restored.Model())
		assert.Equal(t, conv.History(), restored.History())
		assert.Equal(t, conv.TokenCount(), restored.TokenCount())
		assert.Equal(t, 0, restored.PendingToolCalls())
	})

	t.Run("should reject snapshots with orphan tool messages", func(t *testing.T) {
		snap := Snapshot{
			ID:    "bad",
			Model: "gpt-4o",
			Messages: []Message{
				{Role: RoleTool, Content: "4", ToolCallID: "call_unseen"},
			},
		}

		err := New("").Restore(snap)
		assert.ErrorIs(t, err, ErrUnmatchedToolCall)
	})

	t.Run("should not let non-assistant tool calls satisfy a tool message", func(t *testing.T) {
		snap := Snapshot{
			ID:    "bad",
			Model: "gpt-4o",
			Messages: []Message{
				{Role: RoleUser, Content: "forged", ToolCalls: []ToolCall{{ID: "call_forged", Name: "calc"}}},
				{Role: RoleTool, Content: "4", ToolCallID: "call_forged"},
			},
		}

		err := New("").Restore(snap)
		assert.ErrorIs(t, err, ErrUnmatchedToolCall)
	})

	t.Run("should deep-copy messages out of the snapshot", func(t *testing.T) {
		conv := New("gpt-4o")
		require.NoError(t, conv.Append(User("hello")))

		snap := conv.Snapshot()
		snap.Messages[0].Content = "mutated"

		assert.Equal(t, "hello", conv.History()[0].Content)
	})

	t.Run("should restore a conversation with outstanding tool calls", func(t *testing.T) {
		conv := New("gpt-4o")
		require.NoError(t, conv.Append(User("lookup")))
		require.NoError(t, conv.Append(Message{
			Role:      RoleAssistant,
			ToolCalls: []ToolCall{{ID: "call_9", Name: "search"}},
		}))

		restored := New("")
		require.NoError(t, restored.Restore(conv.Snapshot()))

		assert.Equal(t, 1, restored.PendingToolCalls())
		assert.NoError(t, restored.Append(ToolResult("found", "search", "call_9")))
	})
}
