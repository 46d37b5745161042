package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/parlancehq/parlance/pkg/conversation"
	"github.com/parlancehq/parlance/pkg/persistence"
	"github.com/parlancehq/parlance/pkg/provider"
	"github.com/parlancehq/parlance/pkg/realtime"
	"github.com/parlancehq/parlance/pkg/tokens"
	"github.com/parlancehq/parlance/pkg/tool"
	"github.com/rs/zerolog"
)

// ErrTurnLimitExceeded is returned when the model keeps requesting tools
// past MaxTurns. The conversation state stays intact and persistable.
var ErrTurnLimitExceeded = errors.New("turn limit exceeded")

// ErrConversationBusy is returned when the conversation's mutation rights
// are held by an open realtime session.
var ErrConversationBusy = errors.New("conversation is busy")

// Config holds agent behavior settings. The zero value of any field falls
// back to the DefaultConfig value.
type Config struct {
	Model        string
	SystemPrompt string
	Temperature  float64
	// MaxOutputTokens caps the model's output per completion.
	MaxOutputTokens int
	// HistoryTokens caps the prompt history sent per completion; zero
	// disables trimming.
	HistoryTokens int
	// MaxTurns bounds completion rounds per Run call.
	MaxTurns int
	// MaxRetries bounds attempts per completion on transient failures.
	MaxRetries     int
	RetryBaseDelay time.Duration
	// AutoSave persists the conversation after each successful run.
	AutoSave bool
}

// DefaultConfig returns the default agent configuration.
func DefaultConfig() Config {
	return Config{
		Model:          "gpt-4o",
		MaxTurns:       10,
		MaxRetries:     3,
		RetryBaseDelay: time.Second,
	}
}

// Options holds the agent's collaborators.
type Options struct {
	Client provider.Client
	Tools  *tool.Registry
	Store  persistence.Store
	Logger zerolog.Logger
	// ID pre-assigns the conversation id instead of waiting for the first
	// save.
	ID string
}

// Agent drives the completion loop for one conversation: submit history,
// execute requested tools, feed results back, repeat until the model
// answers with text.
type Agent struct {
	cfg    Config
	client provider.Client
	tools  *tool.Registry
	store  persistence.Store
	logger zerolog.Logger

	mu sync.Mutex
	// conv is guarded by mu except while a realtime session owns it.
	conv          *conversation.Conversation
	realtimeOwned bool
}

// New creates an agent. Client is required; everything else has a working
// default.
func New(cfg Config, opts Options) (*Agent, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("client is required")
	}

	defaults := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaults.MaxTurns
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaults.RetryBaseDelay
	}

	registry := opts.Tools
	if registry == nil {
		registry = tool.NewRegistry()
	}

	conv := conversation.New(cfg.Model)
	if opts.ID != "" {
		if err := conv.SetID(opts.ID); err != nil {
			return nil, err
		}
	}
	if cfg.SystemPrompt != "" {
		if err := conv.Append(conversation.System(cfg.SystemPrompt)); err != nil {
			return nil, err
		}
	}

	return &Agent{
		cfg:    cfg,
		client: opts.Client,
		tools:  registry,
		store:  opts.Store,
		logger: opts.Logger,
		conv:   conv,
	}, nil
}

// Run submits a user message and drives the turn loop until the model
// answers with text. It returns that final text.
func (a *Agent) Run(ctx context.Context, input string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.realtimeOwned {
		return "", fmt.Errorf("realtime session open: %w", ErrConversationBusy)
	}

	if err := a.conv.Append(conversation.User(input)); err != nil {
		return "", err
	}

	for turn := 0; turn < a.cfg.MaxTurns; turn++ {
		history, err := a.history()
		if err != nil {
			return "", err
		}

		resp, err := a.completeWithRetry(ctx, history)
		if err != nil {
			return "", err
		}
		a.conv.AddUsage(resp.Usage.TotalTokens)

		if err := a.conv.Append(conversation.Message{
			Role:      conversation.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		}); err != nil {
			return "", err
		}

		if len(resp.ToolCalls) == 0 {
			if err := a.autoSave(ctx); err != nil {
				return "", err
			}
			return resp.Content, nil
		}

		a.logger.Debug().
			Int("turn", turn+1).
			Int("tool_calls", len(resp.ToolCalls)).
			Msg("Executing tool calls")

		for _, result := range a.tools.ExecuteAll(ctx, resp.ToolCalls) {
			if err := a.conv.Append(result.Message()); err != nil {
				return "", err
			}
		}
	}

	a.logger.Warn().Int("max_turns", a.cfg.MaxTurns).Msg("Turn limit reached")
	return "", fmt.Errorf("no final answer after %d turns: %w", a.cfg.MaxTurns, ErrTurnLimitExceeded)
}

// history returns the message sequence for the next completion, trimmed
// to the history budget when one is set.
func (a *Agent) history() ([]conversation.Message, error) {
	history := a.conv.History()
	if a.cfg.HistoryTokens <= 0 {
		return history, nil
	}

	fitted, err := tokens.FitHistory(history, a.cfg.HistoryTokens, a.cfg.Model)
	if err != nil {
		return nil, err
	}
	if len(fitted) < len(history) {
		a.logger.Debug().
			Int("dropped", len(history)-len(fitted)).
			Int("budget", a.cfg.HistoryTokens).
			Msg("Trimmed history to token budget")
	}
	return fitted, nil
}

// completeWithRetry issues one completion with bounded exponential
// backoff on transient failures.
func (a *Agent) completeWithRetry(ctx context.Context, history []conversation.Message) (*provider.Response, error) {
	req := provider.Request{
		Model:           a.cfg.Model,
		Messages:        history,
		Tools:           a.tools.Definitions(),
		Temperature:     a.cfg.Temperature,
		MaxOutputTokens: a.cfg.MaxOutputTokens,
	}

	var lastErr error
	for attempt := 0; attempt < a.cfg.MaxRetries; attempt++ {
		resp, err := a.client.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !provider.IsRetryable(err) {
			return nil, err
		}
		if attempt == a.cfg.MaxRetries-1 {
			break
		}

		delay := a.cfg.RetryBaseDelay * (1 << attempt)
		a.logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(err).
			Msg("Retrying after transient error")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", a.cfg.MaxRetries, lastErr)
}

func (a *Agent) autoSave(ctx context.Context) error {
	if !a.cfg.AutoSave || a.store == nil {
		return nil
	}
	id, err := a.store.Save(ctx, a.conv)
	if err != nil {
		return fmt.Errorf("auto-save failed: %w", err)
	}
	a.logger.Debug().Str("id", id).Msg("Conversation auto-saved")
	return nil
}

// PushUserMessage appends a user message without running the loop, for
// seeding history.
func (a *Agent) PushUserMessage(content string) error {
	return a.push(conversation.User(content))
}

// PushAssistantMessage appends an assistant message without running the
// loop.
func (a *Agent) PushAssistantMessage(content string) error {
	return a.push(conversation.Assistant(content))
}

func (a *Agent) push(msg conversation.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.realtimeOwned {
		return fmt.Errorf("realtime session open: %w", ErrConversationBusy)
	}
	return a.conv.Append(msg)
}

// Conversation returns a snapshot of the current conversation state.
func (a *Agent) Conversation() conversation.Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conv.Snapshot()
}

// Save persists the conversation and returns its id.
func (a *Agent) Save(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.store == nil {
		return "", fmt.Errorf("no persistence store configured")
	}
	if a.realtimeOwned {
		return "", fmt.Errorf("realtime session open: %w", ErrConversationBusy)
	}
	return a.store.Save(ctx, a.conv)
}

// Load replaces the conversation with a stored one.
func (a *Agent) Load(ctx context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.store == nil {
		return fmt.Errorf("no persistence store configured")
	}
	if a.realtimeOwned {
		return fmt.Errorf("realtime session open: %w", ErrConversationBusy)
	}

	conv, err := a.store.Load(ctx, id)
	if err != nil {
		return err
	}
	a.conv = conv
	return nil
}

// Delete removes the conversation from the store. The in-memory state is
// untouched.
func (a *Agent) Delete(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.store == nil {
		return fmt.Errorf("no persistence store configured")
	}
	id := a.conv.ID()
	if id == "" {
		return nil
	}
	return a.store.Delete(ctx, id)
}

// OpenRealtime creates a realtime session over this agent's conversation
// and transfers mutation rights to it. Run, Push, Save, and Load return
// ErrConversationBusy until the session is closed. The session is created
// disconnected; call Connect on it.
func (a *Agent) OpenRealtime(cfg realtime.Config) (*realtime.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.realtimeOwned {
		return nil, fmt.Errorf("realtime session already open: %w", ErrConversationBusy)
	}
	if cfg.Model == "" {
		cfg.Model = a.cfg.Model
	}

	sess, err := realtime.NewSession(cfg, a.conv, func() {
		a.mu.Lock()
		a.realtimeOwned = false
		a.mu.Unlock()
	})
	if err != nil {
		return nil, err
	}

	a.realtimeOwned = true
	return sess, nil
}
