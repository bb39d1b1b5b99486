package transcript

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var ErrStoreNotFound = errors.New("transcript turn not found in store")

// Role identifies the speaker of an archived turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one archived utterance of a conversation, anchored to the
// book position the session was opened on.
type Turn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	BookID    string    `json:"book_id"`
	ChapterID string    `json:"chapter_id,omitempty"`
	PageID    string    `json:"page_id,omitempty"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

type Store interface {
	SaveTurn(ctx context.Context, turn Turn) error
	ListTurnsBySession(ctx context.Context, sessionID string, limit int) ([]Turn, error)
	Close() error
}

// MemoryStore keeps turns in process memory. Used when no DATABASE_URL
// is configured and in tests.
type MemoryStore struct {
	mu    sync.RWMutex
	turns []Turn
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) SaveTurn(ctx context.Context, turn Turn) error {
	if turn.ID == "" {
		return errors.New("turn id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.turns {
		if s.turns[i].ID == turn.ID {
			s.turns[i] = turn
			return nil
		}
	}
	s.turns = append(s.turns, turn)
	return nil
}

func (s *MemoryStore) ListTurnsBySession(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Turn, 0, limit)
	for _, turn := range s.turns {
		if turn.SessionID == sessionID {
			out = append(out, turn)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
