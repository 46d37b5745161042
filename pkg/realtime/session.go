package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/parlancehq/parlance/pkg/conversation"
	"github.com/rs/zerolog"
)

const defaultBaseURL = "https://api.openai.com/v1"

// State is the session lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateStreaming
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config holds realtime session settings.
type Config struct {
	APIKey string
	// BaseURL is the HTTP API base; it is rewritten to the websocket
	// scheme. Defaults to the OpenAI API.
	BaseURL string
	Model   string
	// HandshakeTimeout bounds the websocket dial. Defaults to 10s.
	HandshakeTimeout time.Duration
	Logger           zerolog.Logger
}

// Handler consumes one server event during Process.
type Handler func(ServerEvent) error

// Session is a duplex event stream over one conversation. It is created
// disconnected; Connect establishes the websocket.
//
// The session owns its conversation while open: text completed via
// response.done is appended as an assistant message, and SendUserMessage
// appends before emitting.
type Session struct {
	cfg     Config
	logger  zerolog.Logger
	release func()

	mu          sync.Mutex
	state       State
	conn        *websocket.Conn
	conv        *conversation.Conversation
	pendingText strings.Builder
	handlerErrs []error
	closeOnce   sync.Once
}

// NewSession creates a disconnected session bound to conv. release, if
// non-nil, runs exactly once when the session closes.
func NewSession(cfg Config, conv *conversation.Conversation, release func()) (*Session, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key not provided")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation is required")
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}

	return &Session{
		cfg:     cfg,
		logger:  cfg.Logger,
		release: release,
		state:   StateDisconnected,
		conv:    conv,
	}, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Conversation returns a snapshot of the owned conversation.
func (s *Session) Conversation() conversation.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.Snapshot()
}

// endpoint derives the websocket URL from the HTTP base URL.
func (s *Session) endpoint() (string, error) {
	base := s.cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", base, err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("invalid base url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/realtime"
	u.RawQuery = url.Values{"model": {s.cfg.Model}}.Encode()
	return u.String(), nil
}

// Connect performs the websocket handshake. On failure the session stays
// disconnected and can be retried.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("cannot connect from state %s", state)
	}
	s.state = StateConnecting
	s.mu.Unlock()

	endpoint, err := s.endpoint()
	if err != nil {
		s.setState(StateDisconnected)
		return err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		s.setState(StateDisconnected)
		if resp != nil {
			return fmt.Errorf("realtime handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("realtime handshake failed: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.state = StateConnected
	s.mu.Unlock()

	s.logger.Info().Str("model", s.cfg.Model).Msg("Realtime session connected")
	return nil
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Send transmits a client event, assigning an event id when the caller
// left it empty. Valid only while connected or streaming.
func (s *Session) Send(event ClientEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendLocked(event)
}

func (s *Session) sendLocked(event ClientEvent) error {
	if s.state != StateConnected && s.state != StateStreaming {
		return fmt.Errorf("cannot send in state %s", s.state)
	}
	if event.EventID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return fmt.Errorf("failed to generate event id: %w", err)
		}
		event.EventID = id
	}
	if err := s.conn.WriteJSON(event); err != nil {
		return fmt.Errorf("failed to send %s: %w", event.Type, err)
	}
	return nil
}

// SendSessionUpdate emits a session.update event with the given session
// settings.
func (s *Session) SendSessionUpdate(session map[string]any) error {
	return s.Send(ClientEvent{Type: EventSessionUpdate, Session: session})
}

// SendUserMessage emits the item-create and response-create pair, then
// appends the text to the owned conversation. The append happens last so
// a failed send never logs a message the server did not see.
func (s *Session) SendUserMessage(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnected && s.state != StateStreaming {
		return fmt.Errorf("cannot send in state %s", s.state)
	}

	if err := s.sendLocked(ClientEvent{
		Type: EventItemCreate,
		Item: &Item{
			Type:    "message",
			Role:    conversation.RoleUser,
			Content: []ContentPart{{Type: "input_text", Text: text}},
		},
	}); err != nil {
		return err
	}
	if err := s.sendLocked(ClientEvent{Type: EventResponseCreate}); err != nil {
		return err
	}
	return s.conv.Append(conversation.User(text))
}

// Receive reads the next server event. Text deltas move the session into
// Streaming and accumulate; response.done appends the aggregated text to
// the conversation as an assistant message and returns to Connected.
// Error events are returned to the caller and are not session-fatal.
func (s *Session) Receive(ctx context.Context) (*ServerEvent, error) {
	s.mu.Lock()
	if s.state != StateConnected && s.state != StateStreaming {
		state := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("cannot receive in state %s", state)
	}
	conn := s.conn
	s.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
	} else if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, err
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		s.setState(StateClosed)
		return nil, err
	}

	var event ServerEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("malformed server event: %w", err)
	}
	event.Raw = data

	s.mu.Lock()
	defer s.mu.Unlock()

	switch event.Type {
	case EventTextDelta:
		s.state = StateStreaming
		s.pendingText.WriteString(event.Delta)
	case EventResponseDone:
		text := s.pendingText.String()
		s.pendingText.Reset()
		s.state = StateConnected
		if text != "" {
			if err := s.conv.Append(conversation.Assistant(text)); err != nil {
				return nil, err
			}
		}
	case EventError:
		if event.Error != nil {
			s.logger.Warn().Str("code", event.Error.Code).Str("message", event.Error.Message).Msg("Server error event")
		}
	default:
		if !event.Known() {
			s.logger.Debug().Str("type", event.Type).Msg("Unknown server event")
		}
	}

	return &event, nil
}

// Process receives events in arrival order and delivers each to handler.
// Handler failures are collected, not fatal; they are available through
// HandlerErrors. Process returns nil when the server closes the
// connection normally.
func (s *Session) Process(ctx context.Context, handler Handler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		event, err := s.Receive(ctx)
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}

		if err := handler(*event); err != nil {
			s.mu.Lock()
			s.handlerErrs = append(s.handlerErrs, fmt.Errorf("event %s: %w", event.Type, err))
			s.mu.Unlock()
			s.logger.Warn().Str("type", event.Type).Err(err).Msg("Event handler failed")
		}
	}
}

// HandlerErrors returns the handler failures collected during Process.
func (s *Session) HandlerErrors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]error, len(s.handlerErrs))
	copy(out, s.handlerErrs)
	return out
}

// Close shuts the session down and returns conversation mutation rights
// to the owning agent. It is idempotent.
func (s *Session) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		conn := s.conn
		s.state = StateClosing
		s.mu.Unlock()

		if conn != nil {
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			closeErr = conn.Close()
		}

		s.setState(StateClosed)
		if s.release != nil {
			s.release()
		}
		s.logger.Info().Msg("Realtime session closed")
	})
	return closeErr
}
