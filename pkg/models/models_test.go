package models

import (
	"testing"
	"time"
)

func TestParseRoleIgnoresCase(t *testing.T) {
	t.Parallel()

	cases := map[string]Role{
		"owner":   RoleOwner,
		"OWNER":   RoleOwner,
		"Admin":   RoleAdmin,
		" member": RoleMember,
		"VIEWER":  RoleViewer,
	}
	for in, want := range cases {
		got, ok := ParseRole(in)
		if !ok {
			t.Fatalf("ParseRole(%q) rejected a known role", in)
		}
		if got != want {
			t.Fatalf("ParseRole(%q) = %q, want %q", in, got, want)
		}
	}
	if _, ok := ParseRole("superuser"); ok {
		t.Fatal("ParseRole accepted an unknown role")
	}
}

func TestEffectiveStatusIsLazy(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	inv := &Invitation{Status: InvitationPending, CreatedAt: created, ExpiresAt: created.Add(7 * 24 * time.Hour)}

	if got := inv.EffectiveStatus(created.Add(time.Hour)); got != InvitationPending {
		t.Fatalf("status before expiry = %q, want %q", got, InvitationPending)
	}
	if got := inv.EffectiveStatus(created.Add(8 * 24 * time.Hour)); got != InvitationExpired {
		t.Fatalf("status after expiry = %q, want %q", got, InvitationExpired)
	}
	if inv.Status != InvitationPending {
		t.Fatalf("stored status rewritten to %q", inv.Status)
	}

	inv.Status = InvitationAccepted
	if got := inv.EffectiveStatus(created.Add(30 * 24 * time.Hour)); got != InvitationAccepted {
		t.Fatalf("accepted status = %q, want %q", got, InvitationAccepted)
	}
}

func TestNewMembershipFlags(t *testing.T) {
	t.Parallel()

	now := time.Now()
	if m := NewMembership("m1", "s1", "u1", RoleViewer, now); m.CanEdit || m.CanManageMembers {
		t.Fatalf("viewer flags = edit:%v manage:%v, want both false", m.CanEdit, m.CanManageMembers)
	}
	if m := NewMembership("m2", "s1", "u2", RoleMember, now); !m.CanEdit || m.CanManageMembers {
		t.Fatalf("member flags = edit:%v manage:%v", m.CanEdit, m.CanManageMembers)
	}
	if m := NewMembership("m3", "s1", "u3", RoleAdmin, now); !m.CanEdit || !m.CanManageMembers {
		t.Fatalf("admin flags = edit:%v manage:%v", m.CanEdit, m.CanManageMembers)
	}
}
