// Package history keeps per-conversation turns for completion requests that
// carry a conversation id.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/llmgate/llmgate/internal/config"
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrNotFound is returned when a conversation has no stored turns.
var ErrNotFound = errors.New("conversation not found")

// Turn is one message in a conversation.
type Turn struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Agent     string    `json:"agent,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewTurn stamps a turn with a fresh id.
func NewTurn(role, content string, at time.Time) Turn {
	return Turn{ID: uuid.NewString(), Role: role, Content: content, CreatedAt: at.UTC()}
}

// Store is a key-value contract keyed by conversation id. Turns come back in
// append order; stores keep at most their configured number of recent turns.
type Store interface {
	Append(ctx context.Context, conversationID string, turns ...Turn) error
	Get(ctx context.Context, conversationID string) ([]Turn, error)
	Delete(ctx context.Context, conversationID string) error
	Close() error
}

// Open returns the store selected by cfg: redis when redis_url is set,
// otherwise process memory. A disabled config yields a nil store.
func Open(ctx context.Context, cfg config.HistoryConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if url := strings.TrimSpace(cfg.RedisURL); url != "" {
		store, err := NewRedisStore(ctx, url, cfg.TTL, cfg.MaxTurns)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return NewMemoryStore(cfg.TTL, cfg.MaxTurns), nil
}

func validateID(conversationID string) (string, error) {
	id := strings.TrimSpace(conversationID)
	if id == "" {
		return "", fmt.Errorf("conversation id is required")
	}
	return id, nil
}
