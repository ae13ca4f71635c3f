package conversation

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a map-backed Store used in tests and as a fallback when
// no database path is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	nextID   int64
	messages map[string][]Message
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{messages: make(map[string][]Message)}
}

// AppendMessage records the message under its session id.
func (s *MemoryStore) AppendMessage(_ context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	s.nextID++
	msg.ID = s.nextID
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], *msg)
	return nil
}

// History returns up to limit messages for a session, oldest first.
func (s *MemoryStore) History(_ context.Context, sessionID string, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[sessionID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Count returns the number of stored messages for a session.
func (s *MemoryStore) Count(sessionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages[sessionID])
}
