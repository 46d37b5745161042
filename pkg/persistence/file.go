package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/parlancehq/parlance/pkg/conversation"
	"github.com/rs/zerolog/log"
)

// FileStore persists each conversation as one JSON document under a
// directory. Writes go through a temp file and rename so a crash never
// leaves a half-written conversation behind.
type FileStore struct {
	dir   string
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFileStore creates a file-backed store rooted at dir, creating the
// directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".parlance", "conversations")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create conversations directory: %w", err)
	}

	log.Debug().Str("dir", dir).Msg("File store initialized")

	return &FileStore{
		dir:   dir,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// lockFor gets or creates the per-conversation write lock.
func (s *FileStore) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lock, ok := s.locks[id]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	s.locks[id] = lock
	return lock
}

// Save writes the conversation snapshot atomically, assigning an id on
// first save.
func (s *FileStore) Save(ctx context.Context, conv *conversation.Conversation) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id, err := ensureID(conv)
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(conv.Snapshot())
	if err != nil {
		return "", fmt.Errorf("failed to marshal conversation: %w", err)
	}

	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	target := s.path(id)
	tmp, err := os.CreateTemp(s.dir, id+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to write conversation: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to sync conversation: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to set permissions: %w", err)
	}

	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to replace conversation file: %w", err)
	}

	return id, nil
}

// Load reads and rebuilds a conversation from disk.
func (s *FileStore) Load(ctx context.Context, id string) (*conversation.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateID(id); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("conversation %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read conversation file: %w", err)
	}

	var snap conversation.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("conversation %q is corrupted: %w", id, err)
	}

	conv := conversation.New(snap.Model)
	if err := conv.Restore(snap); err != nil {
		return nil, fmt.Errorf("conversation %q: %w", id, err)
	}
	return conv, nil
}

// List reads every stored conversation's metadata, ordered by most
// recently updated.
func (s *FileStore) List(ctx context.Context, limit, offset int) ([]Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Metadata{}, nil
		}
		return nil, fmt.Errorf("failed to read conversations directory: %w", err)
	}

	all := make([]Metadata, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}

		var snap conversation.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			log.Warn().Str("file", entry.Name()).Err(err).Msg("Skipping unreadable conversation file")
			continue
		}
		all = append(all, metadataOf(snap))
	}

	sort.Slice(all, func(i, j int) bool {
		if !all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].UpdatedAt.After(all[j].UpdatedAt)
		}
		return all[i].ID < all[j].ID
	})

	start, end := clampPage(len(all), limit, offset)
	return all[start:end], nil
}

// Delete removes the conversation file. A missing file is not an error.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateID(id); err != nil {
		return err
	}

	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete conversation file: %w", err)
	}

	s.mu.Lock()
	delete(s.locks, id)
	s.mu.Unlock()

	return nil
}

// Close releases the per-conversation locks.
func (s *FileStore) Close() error {
	s.mu.Lock()
	s.locks = make(map[string]*sync.Mutex)
	s.mu.Unlock()
	return nil
}
