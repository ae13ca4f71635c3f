// Package rbac provides the closed role hierarchy and the role lookup
// interface used to compute a caller's permission set.
package rbac

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Role is a closed, ordered role type. Higher values carry every
// capability of the roles below them.
type Role int

const (
	RoleMember Role = iota
	RoleIntern
	RoleTeamLead
	RoleAdmin
)

// String returns the canonical wire name of the role.
func (r Role) String() string {
	switch r {
	case RoleMember:
		return "MEMBER"
	case RoleIntern:
		return "INTERN"
	case RoleTeamLead:
		return "TEAM_LEAD"
	case RoleAdmin:
		return "ADMIN"
	default:
		return fmt.Sprintf("ROLE(%d)", int(r))
	}
}

// ParseRole parses a wire name into a Role. Matching is case-insensitive.
func ParseRole(s string) (Role, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "MEMBER", "":
		return RoleMember, nil
	case "INTERN":
		return RoleIntern, nil
	case "TEAM_LEAD", "TEAMLEAD":
		return RoleTeamLead, nil
	case "ADMIN":
		return RoleAdmin, nil
	default:
		return RoleMember, fmt.Errorf("unknown role %q", s)
	}
}

// AtLeast reports whether r sits at or above other in the hierarchy.
func (r Role) AtLeast(other Role) bool {
	return r >= other
}

// Permissions returns the permission strings granted by the role.
// Every role includes "user"; the set is never empty.
func (r Role) Permissions() []string {
	perms := []string{"user"}
	if r.AtLeast(RoleIntern) {
		perms = append(perms, "intern")
	}
	if r.AtLeast(RoleTeamLead) {
		perms = append(perms, "team:read")
	}
	if r.AtLeast(RoleAdmin) {
		perms = append(perms, "admin")
	}
	return perms
}

// Service resolves the role assigned to a user. The orchestration layer
// treats the result as opaque input to permission computation.
type Service interface {
	RoleOf(ctx context.Context, userID string) (Role, error)
}

// StaticService is an in-memory Service seeded from configuration.
// Users without an explicit assignment resolve to RoleMember.
type StaticService struct {
	mu    sync.RWMutex
	roles map[string]Role
}

// NewStaticService builds a StaticService from a userID -> role name map.
// Unparseable role names fall back to MEMBER.
func NewStaticService(assignments map[string]string) *StaticService {
	roles := make(map[string]Role, len(assignments))
	for userID, name := range assignments {
		role, err := ParseRole(name)
		if err != nil {
			role = RoleMember
		}
		roles[userID] = role
	}
	return &StaticService{roles: roles}
}

// RoleOf returns the assigned role, defaulting to MEMBER.
func (s *StaticService) RoleOf(_ context.Context, userID string) (Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if role, ok := s.roles[userID]; ok {
		return role, nil
	}
	return RoleMember, nil
}

// Assign sets or replaces the role for a user.
func (s *StaticService) Assign(userID string, role Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[userID] = role
}
