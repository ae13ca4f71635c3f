package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a map-backed session Store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Record)}
}

// Get returns the record for a session id, or nil when absent.
func (s *MemoryStore) Get(_ context.Context, sessionID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// Put stores or replaces a record. TTL is encoded in ExpiresAt.
func (s *MemoryStore) Put(_ context.Context, rec *Record, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.sessions[rec.SessionID] = &cp
	return nil
}

// Delete removes a record.
func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// Create inserts the record unless the user is already at the cap. The
// count and the insert share one lock hold, so racing creators cannot
// both observe headroom.
func (s *MemoryStore) Create(_ context.Context, rec *Record, _ time.Duration, maxPerUser int) error {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	if maxPerUser > 0 {
		count := 0
		for _, existing := range s.sessions {
			if existing.UserID == rec.UserID && existing.ExpiresAt.After(now) {
				count++
			}
		}
		if count >= maxPerUser {
			return ErrTooManySessions
		}
	}

	cp := *rec
	s.sessions[rec.SessionID] = &cp
	return nil
}

// ExpireBefore removes sessions whose expiry precedes the cutoff.
func (s *MemoryStore) ExpireBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, rec := range s.sessions {
		if rec.ExpiresAt.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}
