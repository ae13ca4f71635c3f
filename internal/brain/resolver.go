package brain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/thinkxlife/brain/internal/auth"
	"github.com/thinkxlife/brain/internal/profile"
	"github.com/thinkxlife/brain/internal/rbac"
	"github.com/thinkxlife/brain/internal/session"
)

// AuthenticationError reports a request with no verified principal.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return "not authenticated: " + e.Reason
}

// Resolver attaches identity: profile facts, role permissions, and a
// live session id. Profile lookups degrade to defaults; role and
// session failures are surfaced.
type Resolver struct {
	profiles profile.Store
	roles    rbac.Service
	sessions *session.Manager
	logger   *zap.Logger

	now func() time.Time
}

// NewResolver builds a Resolver.
func NewResolver(profiles profile.Store, roles rbac.Service, sessions *session.Manager, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		profiles: profiles,
		roles:    roles,
		sessions: sessions,
		logger:   logger,
		now:      time.Now,
	}
}

// Resolve fills req.Profile and req.SessionID from the authenticated
// principal. A nil principal is an AuthenticationError.
func (r *Resolver) Resolve(ctx context.Context, req *AIRequest, principal *auth.Principal) error {
	if principal == nil || principal.UserID == "" {
		return &AuthenticationError{Reason: "no principal on request"}
	}

	prof := &UserProfile{
		UserID:         principal.UserID,
		Email:          principal.Email,
		KnowledgeLevel: "beginner",
		Preferences: Preferences{
			Theme:              "light",
			Language:           "en",
			CommunicationStyle: "empathetic",
		},
	}

	stored, err := r.profiles.Lookup(ctx, principal.UserID)
	switch {
	case err == nil:
		prof.Name = stored.Name
		if stored.Email != "" {
			prof.Email = stored.Email
		}
		if stored.Theme != "" {
			prof.Preferences.Theme = stored.Theme
		}
		if stored.KnowledgeLevel != "" {
			prof.KnowledgeLevel = stored.KnowledgeLevel
		}
		if stored.DateOfBirth != nil {
			prof.Age = ageAt(*stored.DateOfBirth, r.now())
		}
	case errors.Is(err, profile.ErrNotFound):
		r.logger.Debug("No stored profile, using defaults",
			zap.String("user_id", principal.UserID))
	default:
		// Profile storage trouble should not fail the request.
		r.logger.Warn("Profile lookup failed, using defaults",
			zap.String("user_id", principal.UserID), zap.Error(err))
	}

	role, err := r.roles.RoleOf(ctx, principal.UserID)
	if err != nil {
		return fmt.Errorf("resolve role: %w", err)
	}
	prof.Permissions = role.Permissions()

	sessionID, err := r.sessions.Ensure(ctx, principal.UserID, req.Context.SessionID)
	if err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}

	req.Profile = prof
	req.SessionID = sessionID
	return nil
}

// ageAt computes whole years between birth and now, accounting for
// whether this year's birthday has passed.
func ageAt(birth, now time.Time) int {
	years := now.Year() - birth.Year()
	if now.Month() < birth.Month() ||
		(now.Month() == birth.Month() && now.Day() < birth.Day()) {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}
