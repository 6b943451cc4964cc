package authz

import (
	"context"
	"errors"
	"testing"
	"time"

	"pipeline-crm-backend/pkg/apperrors"
	"pipeline-crm-backend/pkg/database"
	"pipeline-crm-backend/pkg/models"
)

type fakeMemberships struct {
	rows map[string]*models.Membership
	err  error
}

func (f *fakeMemberships) GetMembership(_ context.Context, streamID, userID string) (*models.Membership, error) {
	if f.err != nil {
		return nil, f.err
	}
	m, ok := f.rows[streamID+"/"+userID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return m, nil
}

func TestAllowsRoleMatrix(t *testing.T) {
	t.Parallel()

	all := []Capability{ReadStream, InviteMember, EditBoard, ManageMembers, RemoveOwner, ManageStreams, InviteOwner}
	want := map[models.Role][]Capability{
		models.RoleOwner:  all,
		models.RoleAdmin:  {ReadStream, InviteMember, EditBoard, ManageMembers},
		models.RoleMember: {ReadStream, EditBoard},
		models.RoleViewer: {ReadStream},
	}
	for role, granted := range want {
		m := models.NewMembership("m", "s", "u", role, time.Now())
		allowed := map[Capability]bool{}
		for _, c := range granted {
			allowed[c] = true
		}
		for _, c := range all {
			if got := Allows(m, c); got != allowed[c] {
				t.Fatalf("Allows(%s, %s) = %v, want %v", role, c, got, allowed[c])
			}
		}
	}
}

func TestAllowsMemberWithoutEditFlag(t *testing.T) {
	t.Parallel()

	m := models.NewMembership("m", "s", "u", models.RoleMember, time.Now())
	m.CanEdit = false
	if Allows(m, EditBoard) {
		t.Fatal("member without can_edit may edit the board")
	}
	if !Allows(m, ReadStream) {
		t.Fatal("member cannot read the stream")
	}
}

func TestAllowsLegacyUpperCaseRole(t *testing.T) {
	t.Parallel()

	m := &models.Membership{Role: "ADMIN", CanEdit: true}
	if !Allows(m, InviteMember) {
		t.Fatal("upper-case admin cannot invite")
	}
}

func TestAuthorize(t *testing.T) {
	t.Parallel()

	store := &fakeMemberships{rows: map[string]*models.Membership{
		"s1/viewer": models.NewMembership("m1", "s1", "viewer", models.RoleViewer, time.Now()),
		"s1/admin":  models.NewMembership("m2", "s1", "admin", models.RoleAdmin, time.Now()),
	}}
	gate := NewGate(store)
	ctx := context.Background()

	if _, err := gate.Authorize(ctx, "admin", "s1", InviteMember); err != nil {
		t.Fatalf("admin invite: %v", err)
	}
	if _, err := gate.Authorize(ctx, "viewer", "s1", EditBoard); !apperrors.Is(err, apperrors.Forbidden) {
		t.Fatalf("viewer edit error = %v, want Forbidden", err)
	}
	if _, err := gate.Authorize(ctx, "stranger", "s1", ReadStream); !apperrors.Is(err, apperrors.Forbidden) {
		t.Fatalf("non-member error = %v, want Forbidden", err)
	}
}

func TestAuthorizeStoreFailure(t *testing.T) {
	t.Parallel()

	gate := NewGate(&fakeMemberships{err: errors.New("connection refused")})
	_, err := gate.Authorize(context.Background(), "u", "s", ReadStream)
	if !apperrors.Is(err, apperrors.PersistenceError) {
		t.Fatalf("error = %v, want PersistenceError", err)
	}
}
