package history

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps conversations in process memory. Expired conversations
// are dropped lazily on access.
type MemoryStore struct {
	mu       sync.Mutex
	convs    map[string]*memoryConv
	ttl      time.Duration
	maxTurns int

	Clock func() time.Time
}

type memoryConv struct {
	turns     []Turn
	expiresAt time.Time
}

// NewMemoryStore creates a memory store. Zero ttl or maxTurns disables the bound.
func NewMemoryStore(ttl time.Duration, maxTurns int) *MemoryStore {
	return &MemoryStore{
		convs:    make(map[string]*memoryConv),
		ttl:      ttl,
		maxTurns: maxTurns,
	}
}

func (m *MemoryStore) Append(_ context.Context, conversationID string, turns ...Turn) error {
	id, err := validateID(conversationID)
	if err != nil {
		return err
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	conv := m.live(id, now)
	if conv == nil {
		conv = &memoryConv{}
		m.convs[id] = conv
	}
	conv.turns = append(conv.turns, turns...)
	if m.maxTurns > 0 && len(conv.turns) > m.maxTurns {
		conv.turns = append([]Turn(nil), conv.turns[len(conv.turns)-m.maxTurns:]...)
	}
	if m.ttl > 0 {
		conv.expiresAt = now.Add(m.ttl)
	}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, conversationID string) ([]Turn, error) {
	id, err := validateID(conversationID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	conv := m.live(id, m.now())
	if conv == nil || len(conv.turns) == 0 {
		return nil, ErrNotFound
	}
	return append([]Turn(nil), conv.turns...), nil
}

func (m *MemoryStore) Delete(_ context.Context, conversationID string) error {
	id, err := validateID(conversationID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.convs, id)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// live returns the conversation if present and not expired. Caller holds mu.
func (m *MemoryStore) live(id string, now time.Time) *memoryConv {
	conv, ok := m.convs[id]
	if !ok {
		return nil
	}
	if !conv.expiresAt.IsZero() && !now.Before(conv.expiresAt) {
		delete(m.convs, id)
		return nil
	}
	return conv
}

func (m *MemoryStore) now() time.Time {
	if m.Clock != nil {
		return m.Clock()
	}
	return time.Now().UTC()
}
