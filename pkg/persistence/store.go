package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/parlancehq/parlance/pkg/conversation"
)

// ErrNotFound is returned when no conversation exists under the given id.
var ErrNotFound = errors.New("conversation not found")

// ErrInvalidID is returned for ids that are empty or unsafe to use as
// storage keys.
var ErrInvalidID = errors.New("invalid conversation id")

// Metadata is the listing view of a stored conversation.
type Metadata struct {
	ID           string    `json:"id"`
	Model        string    `json:"model"`
	MessageCount int       `json:"message_count"`
	TokenCount   int       `json:"token_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store persists conversations. All backends share the same contract:
// Save assigns an id on first save and overwrites on subsequent saves,
// Load returns ErrNotFound for unknown ids, List orders by most recently
// updated, and Delete is idempotent.
type Store interface {
	Save(ctx context.Context, conv *conversation.Conversation) (string, error)
	Load(ctx context.Context, id string) (*conversation.Conversation, error)
	List(ctx context.Context, limit, offset int) ([]Metadata, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// Backend is one of "memory", "file", or "sqlite".
	Backend string
	// Dir is the storage directory for the file backend.
	Dir string
	// DSN is the database path or connection string for the sqlite backend.
	DSN string
}

// Open creates the store described by cfg.
func Open(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(cfg.Dir)
	case "sqlite":
		return NewSQLiteStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown persistence backend %q", cfg.Backend)
	}
}

// newID generates a conversation id.
func newID() string {
	return uuid.NewString()
}

// validateID rejects ids that could escape the storage namespace.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("empty id: %w", ErrInvalidID)
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("id cannot contain '..': %w", ErrInvalidID)
	}
	if strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("id cannot contain path separators: %w", ErrInvalidID)
	}
	if strings.Contains(id, "\x00") {
		return fmt.Errorf("id cannot contain null bytes: %w", ErrInvalidID)
	}
	return nil
}

// ensureID assigns a fresh id to unsaved conversations and validates
// existing ones.
func ensureID(conv *conversation.Conversation) (string, error) {
	id := conv.ID()
	if id == "" {
		id = newID()
		if err := conv.SetID(id); err != nil {
			return "", err
		}
		return id, nil
	}
	if err := validateID(id); err != nil {
		return "", err
	}
	return id, nil
}

func metadataOf(snap conversation.Snapshot) Metadata {
	return Metadata{
		ID:           snap.ID,
		Model:        snap.Model,
		MessageCount: snap.MessageCount,
		TokenCount:   snap.TokenCount,
		CreatedAt:    snap.CreatedAt,
		UpdatedAt:    snap.UpdatedAt,
	}
}

// clampPage normalizes limit and offset for List implementations that
// paginate in memory.
func clampPage(total, limit, offset int) (start, end int) {
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end = total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return offset, end
}
