package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Message roles understood by the conversation model.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ErrUnmatchedToolCall is returned when a tool result references a call id
// that no prior assistant message emitted, or one that was already consumed.
var ErrUnmatchedToolCall = errors.New("no pending tool call with that id")

// ErrUnknownRole is returned for messages whose role is not one of the
// Role constants.
var ErrUnknownRole = errors.New("unknown message role")

// ToolCall is a model-issued request to execute a named tool. Arguments is
// the raw JSON payload as emitted by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Message is a single conversation turn.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// System creates a system message.
func System(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// User creates a user message.
func User(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Assistant creates an assistant message.
func Assistant(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ToolResult creates a tool result message for a specific tool call.
func ToolResult(content, toolName, toolCallID string) Message {
	return Message{Role: RoleTool, Content: content, Name: toolName, ToolCallID: toolCallID}
}

// Snapshot is the serializable form of a conversation. Persistence backends
// and the realtime hand-off work in terms of snapshots.
type Snapshot struct {
	ID           string    `json:"id"`
	Model        string    `json:"model"`
	Messages     []Message `json:"messages"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	TokenCount   int       `json:"token_count"`
}

// Conversation is the authoritative in-memory message log for one
// conversation. It performs no I/O and is not internally synchronized; the
// owning agent or realtime session serializes access.
type Conversation struct {
	id         string
	model      string
	messages   []Message
	createdAt  time.Time
	updatedAt  time.Time
	tokenCount int
	pending    map[string]struct{}
}

// New creates an empty conversation for the given model. The id is assigned
// later, typically by the persistence store on first save.
func New(model string) *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		model:     model,
		createdAt: now,
		updatedAt: now,
		pending:   make(map[string]struct{}),
	}
}

// ID returns the conversation identifier, empty until assigned.
func (c *Conversation) ID() string { return c.id }

// SetID assigns the identifier. The id is immutable once set.
func (c *Conversation) SetID(id string) error {
	if c.id != "" && c.id != id {
		return fmt.Errorf("conversation id already set to %q", c.id)
	}
	c.id = id
	return nil
}

// Model returns the model identifier the conversation is bound to.
func (c *Conversation) Model() string { return c.model }

// CreatedAt returns the creation timestamp.
func (c *Conversation) CreatedAt() time.Time { return c.createdAt }

// UpdatedAt returns the timestamp of the last mutation.
func (c *Conversation) UpdatedAt() time.Time { return c.updatedAt }

// MessageCount returns the number of messages in the log.
func (c *Conversation) MessageCount() int { return len(c.messages) }

// TokenCount returns the accumulated token usage.
func (c *Conversation) TokenCount() int { return c.tokenCount }

// AddUsage adds reported token usage to the running count.
func (c *Conversation) AddUsage(tokens int) {
	if tokens <= 0 {
		return
	}
	c.tokenCount += tokens
	c.updatedAt = time.Now().UTC()
}

// Append validates and appends a message. A tool message must reference a
// pending tool call id emitted by a prior assistant message; each call id is
// consumed exactly once. A rejected message leaves the conversation
// untouched.
func (c *Conversation) Append(msg Message) error {
	switch msg.Role {
	case RoleSystem, RoleUser, RoleAssistant:
	case RoleTool:
		if msg.ToolCallID == "" {
			return fmt.Errorf("tool message missing tool_call_id: %w", ErrUnmatchedToolCall)
		}
		if _, ok := c.pending[msg.ToolCallID]; !ok {
			return fmt.Errorf("tool message %q: %w", msg.ToolCallID, ErrUnmatchedToolCall)
		}
	default:
		return fmt.Errorf("role %q: %w", msg.Role, ErrUnknownRole)
	}

	if msg.Role == RoleTool {
		delete(c.pending, msg.ToolCallID)
	}
	// Only assistant messages emit tool calls; a ToolCalls payload on any
	// other role must not mint pending ids.
	if msg.Role == RoleAssistant {
		for _, tc := range msg.ToolCalls {
			if tc.ID != "" {
				c.pending[tc.ID] = struct{}{}
			}
		}
	}

	c.messages = append(c.messages, msg)
	c.updatedAt = time.Now().UTC()
	return nil
}

// History returns the ordered message sequence for submission to the model.
// The returned slice is a copy; mutating it does not affect the log.
func (c *Conversation) History() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// PendingToolCalls reports how many tool calls are awaiting results.
func (c *Conversation) PendingToolCalls() int { return len(c.pending) }

// Snapshot returns a deep copy of the conversation state.
func (c *Conversation) Snapshot() Snapshot {
	msgs := make([]Message, len(c.messages))
	copy(msgs, c.messages)
	for i := range msgs {
		if len(msgs[i].ToolCalls) > 0 {
			calls := make([]ToolCall, len(msgs[i].ToolCalls))
			copy(calls, msgs[i].ToolCalls)
			for j := range calls {
				calls[j].Arguments = append(json.RawMessage(nil), calls[j].Arguments...)
			}
			msgs[i].ToolCalls = calls
		}
	}
	return Snapshot{
		ID:           c.id,
		Model:        c.model,
		Messages:     msgs,
		CreatedAt:    c.createdAt,
		UpdatedAt:    c.updatedAt,
		MessageCount: len(c.messages),
		TokenCount:   c.tokenCount,
	}
}

// Restore replaces the conversation state with a snapshot, rebuilding the
// pending tool call set from the message sequence.
func (c *Conversation) Restore(snap Snapshot) error {
	pending := make(map[string]struct{})
	for i, msg := range snap.Messages {
		switch msg.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		case RoleTool:
			if _, ok := pending[msg.ToolCallID]; !ok {
				return fmt.Errorf("message %d: %w", i, ErrUnmatchedToolCall)
			}
			delete(pending, msg.ToolCallID)
		default:
			return fmt.Errorf("message %d role %q: %w", i, msg.Role, ErrUnknownRole)
		}
		if msg.Role == RoleAssistant {
			for _, tc := range msg.ToolCalls {
				if tc.ID != "" {
					pending[tc.ID] = struct{}{}
				}
			}
		}
	}

	c.id = snap.ID
	c.model = snap.Model
	c.messages = make([]Message, len(snap.Messages))
	copy(c.messages, snap.Messages)
	c.createdAt = snap.CreatedAt
	c.updatedAt = snap.UpdatedAt
	c.tokenCount = snap.TokenCount
	c.pending = pending
	return nil
}
