package models

import (
	"strings"
	"time"
)

// Workspace is the top-level tenant boundary (owner + streams)
type Workspace struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	OwnerID   string    `json:"owner_id" db:"owner_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Stream is a revenue stream inside a Workspace. Boards, memberships and
// invitations are scoped to it.
type Stream struct {
	ID          string    `json:"id" db:"id"`
	WorkspaceID string    `json:"workspace_id" db:"workspace_id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description,omitempty" db:"description"`
	IsDefault   bool      `json:"is_default" db:"is_default"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// DefaultStreamName is used for the stream auto-created with a workspace.
const DefaultStreamName = "General"

type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

// ParseRole maps a stored or user supplied role name onto the canonical enum.
// Legacy rows carry upper-case names, so the comparison ignores case.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleOwner:
		return RoleOwner, true
	case RoleAdmin:
		return RoleAdmin, true
	case RoleMember:
		return RoleMember, true
	case RoleViewer:
		return RoleViewer, true
	}
	return "", false
}

// Membership grants a user a role within a stream. At most one row exists
// per (stream_id, user_id).
type Membership struct {
	ID               string    `json:"id" db:"id"`
	StreamID         string    `json:"stream_id" db:"stream_id"`
	UserID           string    `json:"user_id" db:"user_id"`
	Role             Role      `json:"role" db:"role"`
	CanEdit          bool      `json:"can_edit" db:"can_edit"`
	CanManageMembers bool      `json:"can_manage_members" db:"can_manage_members"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`

	// populated on member listings
	Email string `json:"email,omitempty" db:"-"`
	Name  string `json:"name,omitempty" db:"-"`
}

// NewMembership fills the per-row flags the way every insert path expects them.
func NewMembership(id, streamID, userID string, role Role, now time.Time) *Membership {
	return &Membership{
		ID:               id,
		StreamID:         streamID,
		UserID:           userID,
		Role:             role,
		CanEdit:          role != RoleViewer,
		CanManageMembers: role == RoleOwner || role == RoleAdmin,
		CreatedAt:        now,
	}
}
