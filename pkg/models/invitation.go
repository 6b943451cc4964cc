package models

import "time"

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationExpired  InvitationStatus = "expired"
)

// Invitation is an offer of stream membership. The ID doubles as the opaque
// URL token.
type Invitation struct {
	ID         string           `json:"id" db:"id"`
	StreamID   string           `json:"stream_id" db:"stream_id"`
	Email      string           `json:"email" db:"email"`
	Role       Role             `json:"role" db:"role"`
	Status     InvitationStatus `json:"status" db:"status"`
	InvitedBy  string           `json:"invited_by" db:"invited_by"`
	AcceptedBy *string          `json:"accepted_by,omitempty" db:"accepted_by"`
	CreatedAt  time.Time        `json:"created_at" db:"created_at"`
	ExpiresAt  time.Time        `json:"expires_at" db:"expires_at"`
	AcceptedAt *time.Time       `json:"accepted_at,omitempty" db:"accepted_at"`
}

// EffectiveStatus reports expired for a pending row past its expiry. The
// stored row is never rewritten for this.
func (i *Invitation) EffectiveStatus(now time.Time) InvitationStatus {
	if i.Status == InvitationPending && now.After(i.ExpiresAt) {
		return InvitationExpired
	}
	return i.Status
}

// InvitationView is what an invitee sees before signing in.
type InvitationView struct {
	ID         string           `json:"id"`
	Email      string           `json:"email"`
	Role       Role             `json:"role"`
	Status     InvitationStatus `json:"status"`
	ExpiresAt  time.Time        `json:"expires_at"`
	StreamID   string           `json:"stream_id"`
	StreamName string           `json:"stream_name"`
	InvitedBy  string           `json:"invited_by"`
}
