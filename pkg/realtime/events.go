package realtime

import "encoding/json"

// Client event types.
const (
	EventSessionUpdate  = "session.update"
	EventItemCreate     = "conversation.item.create"
	EventResponseCreate = "response.create"
)

// Server event types. Types outside this set are delivered with their raw
// payload rather than failing the stream.
const (
	EventSessionCreated = "session.created"
	EventSessionUpdated = "session.updated"
	EventTextDelta      = "response.output_text.delta"
	EventResponseDone   = "response.done"
	EventError          = "error"
)

// ContentPart is one piece of a conversation item's content.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Item is a conversation item carried by a client event.
type Item struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ClientEvent is an event sent to the server. EventID is assigned on send
// when empty.
type ClientEvent struct {
	EventID  string         `json:"event_id,omitempty"`
	Type     string         `json:"type"`
	Session  map[string]any `json:"session,omitempty"`
	Item     *Item          `json:"item,omitempty"`
	Response map[string]any `json:"response,omitempty"`
}

// ErrorDetail is the payload of a server error event.
type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ServerEvent is an event received from the server. Raw always holds the
// full payload, so unknown event types lose nothing.
type ServerEvent struct {
	EventID string          `json:"event_id,omitempty"`
	Type    string          `json:"type"`
	Delta   string          `json:"delta,omitempty"`
	Error   *ErrorDetail    `json:"error,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

// Known reports whether the event type belongs to the handled set.
func (e ServerEvent) Known() bool {
	switch e.Type {
	case EventSessionCreated, EventSessionUpdated, EventTextDelta, EventResponseDone, EventError:
		return true
	}
	return false
}
