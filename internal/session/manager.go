// Package session manages per-user session records and their lifecycle.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrTooManySessions is returned when a user is at their concurrent
// session cap and asks for a new session.
var ErrTooManySessions = errors.New("too many concurrent sessions")

// Record is one active session.
type Record struct {
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Store persists session records.
type Store interface {
	Get(ctx context.Context, sessionID string) (*Record, error)
	Put(ctx context.Context, rec *Record, ttl time.Duration) error
	// Create inserts a new record only while the user holds fewer than
	// maxPerUser live sessions. The count check and the insert happen in
	// one critical section; at the cap it returns ErrTooManySessions.
	// maxPerUser <= 0 disables the cap.
	Create(ctx context.Context, rec *Record, ttl time.Duration, maxPerUser int) error
	Delete(ctx context.Context, sessionID string) error
	// ExpireBefore removes sessions whose expiry precedes the cutoff and
	// returns how many were removed. Backends with native TTL may no-op.
	ExpireBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Manager creates, validates, and expires sessions.
type Manager struct {
	store       Store
	timeout     time.Duration
	maxSessions int
	logger      *zap.Logger
	stop        chan struct{}
}

// NewManager creates a session manager. maxSessions <= 0 disables the cap.
func NewManager(store Store, timeout time.Duration, maxSessions int, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = time.Hour
	}
	return &Manager{
		store:       store,
		timeout:     timeout,
		maxSessions: maxSessions,
		logger:      logger,
		stop:        make(chan struct{}),
	}
}

// Ensure returns a valid session id for the user. A supplied id is reused
// when it names a live session owned by the same user; otherwise a new
// session is created, subject to the per-user concurrency cap.
func (m *Manager) Ensure(ctx context.Context, userID, supplied string) (string, error) {
	now := time.Now().UTC()

	if supplied != "" {
		rec, err := m.store.Get(ctx, supplied)
		if err == nil && rec != nil && rec.UserID == userID && rec.ExpiresAt.After(now) {
			rec.LastActivity = now
			rec.ExpiresAt = now.Add(m.timeout)
			if err := m.store.Put(ctx, rec, m.timeout); err != nil {
				m.logger.Warn("Failed to refresh session", zap.Error(err))
			}
			return rec.SessionID, nil
		}
		// Fall through: unknown, expired, or foreign session id gets replaced.
	}

	rec := &Record{
		SessionID:    uuid.NewString(),
		UserID:       userID,
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.timeout),
		LastActivity: now,
	}
	// The store enforces the cap inside one critical section so
	// concurrent first requests cannot all slip under it.
	if err := m.store.Create(ctx, rec, m.timeout, m.maxSessions); err != nil {
		if errors.Is(err, ErrTooManySessions) {
			return "", err
		}
		return "", fmt.Errorf("create session: %w", err)
	}
	return rec.SessionID, nil
}

// End removes a session.
func (m *Manager) End(ctx context.Context, sessionID string) error {
	return m.store.Delete(ctx, sessionID)
}

// StartSweeper launches a background loop removing expired sessions.
func (m *Manager) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n, err := m.store.ExpireBefore(context.Background(), time.Now().UTC())
				if err != nil {
					m.logger.Warn("Session sweep failed", zap.Error(err))
				} else if n > 0 {
					m.logger.Debug("Swept expired sessions", zap.Int("count", n))
				}
			case <-m.stop:
				return
			}
		}
	}()
}

// Close stops the sweeper.
func (m *Manager) Close() {
	close(m.stop)
}
