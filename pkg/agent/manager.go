package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/parlancehq/parlance/pkg/persistence"
	"github.com/parlancehq/parlance/pkg/provider"
	"github.com/parlancehq/parlance/pkg/tool"
	"github.com/rs/zerolog"
)

const defaultMaxCachedAgents = 100

// Manager runs many conversations over one store, keeping a bounded cache
// of live agents keyed by conversation id. Evicted agents are rebuilt from
// the store on the next access, so the cache never loses state: every
// managed agent auto-saves.
type Manager struct {
	cfg       Config
	client    provider.Client
	tools     *tool.Registry
	store     persistence.Store
	logger    zerolog.Logger
	maxCached int

	mu     sync.Mutex
	agents map[string]*Agent
	// order tracks insertion for eviction, oldest first.
	order []string
}

// ManagerOptions holds the manager's collaborators, shared by every agent
// it creates.
type ManagerOptions struct {
	Client provider.Client
	Tools  *tool.Registry
	Store  persistence.Store
	Logger zerolog.Logger
	// MaxCachedAgents bounds how many live agents stay in memory.
	MaxCachedAgents int
}

// NewManager creates a manager that builds agents from cfg.
func NewManager(cfg Config, opts ManagerOptions) (*Manager, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.MaxCachedAgents <= 0 {
		opts.MaxCachedAgents = defaultMaxCachedAgents
	}

	// Eviction discards the in-memory agent, so runs must persist.
	cfg.AutoSave = true

	return &Manager{
		cfg:       cfg,
		client:    opts.Client,
		tools:     opts.Tools,
		store:     opts.Store,
		logger:    opts.Logger,
		maxCached: opts.MaxCachedAgents,
		agents:    make(map[string]*Agent),
	}, nil
}

func (m *Manager) newAgent() (*Agent, error) {
	return New(m.cfg, Options{
		Client: m.client,
		Tools:  m.tools,
		Store:  m.store,
		Logger: m.logger,
	})
}

// CreateAgent creates a fresh conversation, persists it, and returns its
// id.
func (m *Manager) CreateAgent(ctx context.Context) (string, error) {
	ag, err := m.newAgent()
	if err != nil {
		return "", err
	}
	id, err := ag.Save(ctx)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.cacheLocked(id, ag)
	m.mu.Unlock()

	m.logger.Debug().Str("id", id).Msg("Agent created")
	return id, nil
}

// GetAgent returns the live agent for a conversation, rebuilding it from
// the store when it is not cached. Unknown ids surface the store's
// ErrNotFound.
func (m *Manager) GetAgent(ctx context.Context, id string) (*Agent, error) {
	m.mu.Lock()
	if ag, ok := m.agents[id]; ok {
		m.mu.Unlock()
		return ag, nil
	}
	m.mu.Unlock()

	ag, err := m.newAgent()
	if err != nil {
		return nil, err
	}
	if err := ag.Load(ctx, id); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another caller may have rebuilt it while we loaded; keep theirs so
	// both see one instance.
	if cached, ok := m.agents[id]; ok {
		return cached, nil
	}
	m.cacheLocked(id, ag)
	return ag, nil
}

// RunMessage runs one user message through the conversation's agent and
// returns the final answer. The agent's own lock serializes concurrent
// runs on the same conversation; different conversations run in parallel.
func (m *Manager) RunMessage(ctx context.Context, id, input string) (string, error) {
	ag, err := m.GetAgent(ctx, id)
	if err != nil {
		return "", err
	}
	return ag.Run(ctx, input)
}

// DeleteAgent evicts the conversation's agent and deletes its stored
// state. Unknown ids are not an error.
func (m *Manager) DeleteAgent(ctx context.Context, id string) error {
	m.mu.Lock()
	if _, ok := m.agents[id]; ok {
		delete(m.agents, id)
		for i, key := range m.order {
			if key == id {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	}
	m.mu.Unlock()

	return m.store.Delete(ctx, id)
}

// ListConversations lists stored conversation metadata, newest first.
func (m *Manager) ListConversations(ctx context.Context, limit, offset int) ([]persistence.Metadata, error) {
	return m.store.List(ctx, limit, offset)
}

// cacheLocked inserts an agent and evicts the oldest entries past the
// cache bound. Callers hold m.mu.
func (m *Manager) cacheLocked(id string, ag *Agent) {
	if _, ok := m.agents[id]; !ok {
		m.order = append(m.order, id)
	}
	m.agents[id] = ag

	for len(m.agents) > m.maxCached {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.agents, oldest)
		m.logger.Debug().Str("id", oldest).Msg("Agent evicted from cache")
	}
}
