// Package profile provides read-only access to stored user profiles.
package profile

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when no profile exists for a user. Callers are
// expected to degrade to defaults rather than fail the request.
var ErrNotFound = errors.New("profile not found")

// Profile is the stored per-user profile snapshot.
type Profile struct {
	UserID         string     `json:"user_id" yaml:"user_id"`
	Name           string     `json:"name,omitempty" yaml:"name"`
	Email          string     `json:"email,omitempty" yaml:"email"`
	DateOfBirth    *time.Time `json:"date_of_birth,omitempty" yaml:"date_of_birth"`
	Theme          string     `json:"theme,omitempty" yaml:"theme"`
	KnowledgeLevel string     `json:"knowledge_level,omitempty" yaml:"knowledge_level"`
}

// Store looks up user profiles.
type Store interface {
	Lookup(ctx context.Context, userID string) (*Profile, error)
}

// MemoryStore is a map-backed Store.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]*Profile)}
}

// Lookup returns the stored profile or ErrNotFound.
func (s *MemoryStore) Lookup(_ context.Context, userID string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// Put stores or replaces a profile.
func (s *MemoryStore) Put(p *Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.profiles[p.UserID] = &cp
}
