package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/parlancehq/parlance/pkg/conversation"
)

// MemoryStore keeps conversations in process memory. It stores deep
// snapshots, so callers cannot mutate stored state through retained
// references.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string]conversation.Snapshot
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: make(map[string]conversation.Snapshot)}
}

// Save stores a snapshot of the conversation, assigning an id on first
// save.
func (s *MemoryStore) Save(ctx context.Context, conv *conversation.Conversation) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id, err := ensureID(conv)
	if err != nil {
		return "", err
	}

	snap := conv.Snapshot()

	s.mu.Lock()
	s.convs[id] = snap
	s.mu.Unlock()

	return id, nil
}

// Load returns a conversation rebuilt from its stored snapshot.
func (s *MemoryStore) Load(ctx context.Context, id string) (*conversation.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateID(id); err != nil {
		return nil, err
	}

	s.mu.RLock()
	snap, ok := s.convs[id]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("conversation %q: %w", id, ErrNotFound)
	}

	conv := conversation.New(snap.Model)
	if err := conv.Restore(snap); err != nil {
		return nil, fmt.Errorf("conversation %q: %w", id, err)
	}
	return conv, nil
}

// List returns stored conversation metadata ordered by most recently
// updated.
func (s *MemoryStore) List(ctx context.Context, limit, offset int) ([]Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	all := make([]Metadata, 0, len(s.convs))
	for _, snap := range s.convs {
		all = append(all, metadataOf(snap))
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].UpdatedAt.After(all[j].UpdatedAt)
		}
		return all[i].ID < all[j].ID
	})

	start, end := clampPage(len(all), limit, offset)
	return all[start:end], nil
}

// Delete removes a conversation. Deleting an unknown id is not an error.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateID(id); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.convs, id)
	s.mu.Unlock()

	return nil
}

// Close releases the store. The in-memory backend has nothing to release.
func (s *MemoryStore) Close() error { return nil }
