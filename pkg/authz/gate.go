// Package authz maps stream roles onto capabilities.
package authz

import (
	"context"
	"errors"

	"pipeline-crm-backend/pkg/apperrors"
	"pipeline-crm-backend/pkg/database"
	"pipeline-crm-backend/pkg/models"
)

type Capability string

const (
	ReadStream    Capability = "read_stream"
	InviteMember  Capability = "invite_member"
	EditBoard     Capability = "edit_board"
	ManageMembers Capability = "manage_members"
	RemoveOwner   Capability = "remove_owner"
	ManageStreams Capability = "manage_streams"
	// InviteOwner is needed on top of InviteMember to hand out the owner role
	InviteOwner Capability = "invite_owner"
)

// MembershipReader is the slice of the store the gate needs
type MembershipReader interface {
	GetMembership(ctx context.Context, streamID, userID string) (*models.Membership, error)
}

// Gate answers capability checks against the membership store. It holds no
// cache: every check reads the current row.
type Gate struct {
	store MembershipReader
}

func NewGate(store MembershipReader) *Gate {
	return &Gate{store: store}
}

// Allows reports whether a membership row grants capability.
func Allows(m *models.Membership, capability Capability) bool {
	if m == nil {
		return false
	}
	role, ok := models.ParseRole(string(m.Role))
	if !ok {
		return false
	}
	switch role {
	case models.RoleOwner:
		return true
	case models.RoleAdmin:
		switch capability {
		case ReadStream, InviteMember, EditBoard, ManageMembers:
			return true
		}
	case models.RoleMember:
		switch capability {
		case ReadStream:
			return true
		case EditBoard:
			return m.CanEdit
		}
	case models.RoleViewer:
		return capability == ReadStream
	}
	return false
}

// Authorize returns the caller's membership when it grants capability.
// Non-members get Forbidden; store failures surface as PersistenceError.
func (g *Gate) Authorize(ctx context.Context, userID, streamID string, capability Capability) (*models.Membership, error) {
	if userID == "" || streamID == "" {
		return nil, apperrors.New(apperrors.Forbidden, "not a member of this stream")
	}
	m, err := g.store.GetMembership(ctx, streamID, userID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperrors.New(apperrors.Forbidden, "not a member of this stream")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.PersistenceError, "could not verify membership, please retry", err)
	}
	if !Allows(m, capability) {
		return nil, apperrors.Newf(apperrors.Forbidden, "your role does not allow %s", capability)
	}
	return m, nil
}
