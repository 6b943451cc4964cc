// Package invitations creates, resolves and accepts stream invitations.
//
// An invitation is addressed to an email. Accepting it binds the invited
// email to the signed-in user and inserts a membership; a second accept by
// the same user is a success that reports the existing membership.
package invitations

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"pipeline-crm-backend/pkg/apperrors"
	"pipeline-crm-backend/pkg/authz"
	"pipeline-crm-backend/pkg/database"
	"pipeline-crm-backend/pkg/models"
	"pipeline-crm-backend/pkg/notify"
	"pipeline-crm-backend/pkg/realtime"
	"pipeline-crm-backend/pkg/utils"
)

// DefaultTTL is how long an invitation stays acceptable
const DefaultTTL = 7 * 24 * time.Hour

// TableInvitationEmails is the change-feed table for failed invitation emails
const TableInvitationEmails = "invitation_emails"

// Store is the part of the membership store invitations need
type Store interface {
	authz.MembershipReader

	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetStream(ctx context.Context, id string) (*models.Stream, error)
	FindMembershipByEmail(ctx context.Context, streamID, email string) (*models.Membership, error)
	CreateInvitation(ctx context.Context, inv *models.Invitation) error
	GetInvitation(ctx context.Context, id string) (*models.Invitation, error)
	FindPendingInvitation(ctx context.Context, streamID, email string) (*models.Invitation, error)
	ListInvitationsByEmail(ctx context.Context, email string) ([]models.Invitation, error)
	ListInvitationsByStream(ctx context.Context, streamID string) ([]models.Invitation, error)
	AcceptInvitation(ctx context.Context, invitationID string, m *models.Membership, acceptedAt time.Time) (database.AcceptOutcome, error)
}

// Mailer queues an invitation email without waiting for it. onFailure is
// called if the send later fails.
type Mailer interface {
	Dispatch(ctx context.Context, msg notify.InvitationEmail, onFailure func(error))
}

// Manager owns the invitation lifecycle
type Manager struct {
	store     Store
	gate      *authz.Gate
	mailer    Mailer
	publisher realtime.Publisher
	logger    *slog.Logger

	baseURL  string
	ttl      time.Duration
	now      func() time.Time
	newToken func() (string, error)
	newID    func() string
}

// Config carries the manager's settings
type Config struct {
	// AppBaseURL prefixes invite links, e.g. https://crm.example.com
	AppBaseURL string
	TTL        time.Duration
}

type Option func(*Manager)

func WithMailer(m Mailer) Option {
	return func(mgr *Manager) { mgr.mailer = m }
}

func WithPublisher(p realtime.Publisher) Option {
	return func(mgr *Manager) {
		if p != nil {
			mgr.publisher = p
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(mgr *Manager) {
		if logger != nil {
			mgr.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(mgr *Manager) {
		if now != nil {
			mgr.now = now
		}
	}
}

// WithTokenGenerator overrides the URL token source
func WithTokenGenerator(gen func() (string, error)) Option {
	return func(mgr *Manager) {
		if gen != nil {
			mgr.newToken = gen
		}
	}
}

func NewManager(store Store, cfg Config, opts ...Option) *Manager {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	mgr := &Manager{
		store:     store,
		gate:      authz.NewGate(store),
		publisher: realtime.Discard{},
		logger:    slog.Default(),
		baseURL:   strings.TrimRight(cfg.AppBaseURL, "/"),
		ttl:       ttl,
		now:       time.Now,
		newToken:  func() (string, error) { return utils.GenerateURLToken(24) },
	}
	mgr.newID = func() string {
		id, err := utils.GenerateURLToken(16)
		if err != nil {
			return mgr.now().UTC().Format("20060102150405.000000000")
		}
		return id
	}
	for _, opt := range opts {
		opt(mgr)
	}
	return mgr
}

// InviteLink is the canonical URL an invitee opens
func (m *Manager) InviteLink(token string) string {
	return m.baseURL + "/invite/" + token
}

// CreateResult is returned by CreateInvitation
type CreateResult struct {
	InvitationID string    `json:"invitation_id"`
	InviteLink   string    `json:"invite_link"`
	ExpiresAt    time.Time `json:"expires_at"`
	// Reused is true when a pending invitation already existed
	Reused bool `json:"reused"`
	// EmailQueued is false when no mailer is configured. A send that fails
	// later is reported on the stream's change feed as an invitation_emails event.
	EmailQueued bool `json:"email_queued"`
}

// AcceptResult is returned by AcceptInvitation
type AcceptResult struct {
	StreamID      string `json:"stream_id"`
	AlreadyMember bool   `json:"already_member"`
}

// NormalizeEmail trims and lower-cases an address and checks it is
// plausible: a bare address with a dotted domain.
func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", apperrors.New(apperrors.InvalidInput, "email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperrors.Newf(apperrors.InvalidInput, "%q is not a valid email address", raw)
	}
	at := strings.LastIndex(email, "@")
	domain := email[at+1:]
	if !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return "", apperrors.Newf(apperrors.InvalidInput, "%q is not a valid email address", raw)
	}
	return email, nil
}

// SameEmail compares addresses the way invitations are bound: trimmed and
// case-insensitive.
func SameEmail(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func persistence(err error) error {
	return apperrors.Wrap(apperrors.PersistenceError, "storage unavailable, please retry", err)
}

// CreateInvitation invites email into streamID with role. The inviter must
// hold invite_member. An address that already has a pending invitation
// gets the same link again rather than a second row.
func (m *Manager) CreateInvitation(ctx context.Context, inviterID, streamID, email, role string) (*CreateResult, error) {
	if strings.TrimSpace(streamID) == "" {
		return nil, apperrors.New(apperrors.InvalidInput, "stream_id is required")
	}
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	parsedRole := models.RoleMember
	if strings.TrimSpace(role) != "" {
		r, ok := models.ParseRole(role)
		if !ok {
			return nil, apperrors.Newf(apperrors.InvalidInput, "unknown role %q", role)
		}
		parsedRole = r
	}
	if _, err := m.gate.Authorize(ctx, inviterID, streamID, authz.InviteMember); err != nil {
		return nil, err
	}
	if parsedRole == models.RoleOwner {
		if _, err := m.gate.Authorize(ctx, inviterID, streamID, authz.InviteOwner); err != nil {
			return nil, apperrors.New(apperrors.Forbidden, "only owners can invite another owner")
		}
	}
	stream, err := m.store.GetStream(ctx, streamID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperrors.New(apperrors.NotFound, "stream not found")
	}
	if err != nil {
		return nil, persistence(err)
	}

	existing, err := m.store.FindMembershipByEmail(ctx, streamID, normalized)
	if err == nil && existing != nil {
		return nil, apperrors.Newf(apperrors.AlreadyMember, "%s is already a member of this stream", normalized).
			WithMetadata("email", normalized)
	}
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, persistence(err)
	}

	now := m.now().UTC()
	pending, err := m.store.FindPendingInvitation(ctx, streamID, normalized)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, persistence(err)
	}
	if err == nil && pending.EffectiveStatus(now) == models.InvitationPending {
		queued := m.sendEmail(ctx, pending, stream, inviterID)
		return &CreateResult{
			InvitationID: pending.ID,
			InviteLink:   m.InviteLink(pending.ID),
			ExpiresAt:    pending.ExpiresAt,
			Reused:       true,
			EmailQueued:  queued,
		}, nil
	}

	token, err := m.newToken()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.PersistenceError, "could not create invitation token, please retry", err)
	}
	inv := &models.Invitation{
		ID:        token,
		StreamID:  streamID,
		Email:     normalized,
		Role:      parsedRole,
		Status:    models.InvitationPending,
		InvitedBy: inviterID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.store.CreateInvitation(ctx, inv); err != nil {
		return nil, persistence(err)
	}
	m.logger.Info("invitation created", "stream_id", streamID, "role", string(parsedRole), "invited_by", inviterID)

	queued := m.sendEmail(ctx, inv, stream, inviterID)
	m.publisher.Publish(ctx, realtime.Event{Table: "invitations", Type: realtime.EventInsert, StreamID: streamID, Record: m.view(inv, stream, now)})

	return &CreateResult{InvitationID: inv.ID, InviteLink: m.InviteLink(inv.ID), ExpiresAt: inv.ExpiresAt, EmailQueued: queued}, nil
}

// EmailFailure is the record of an invitation_emails change event
type EmailFailure struct {
	InvitationID string `json:"invitation_id"`
	Email        string `json:"email"`
	Error        string `json:"error"`
}

func (m *Manager) sendEmail(ctx context.Context, inv *models.Invitation, stream *models.Stream, inviterID string) bool {
	if m.mailer == nil {
		return false
	}
	invitedBy := inviterID
	if u, err := m.store.GetUserByID(ctx, inviterID); err == nil {
		invitedBy = u.Email
		if u.Name != "" {
			invitedBy = u.Name
		}
	}
	m.mailer.Dispatch(ctx, notify.InvitationEmail{
		InvitationID: inv.ID,
		To:           inv.Email,
		StreamName:   stream.Name,
		InvitedBy:    invitedBy,
		Role:         string(inv.Role),
		Link:         m.InviteLink(inv.ID),
		ExpiresAt:    inv.ExpiresAt,
	}, func(err error) {
		m.publisher.Publish(context.WithoutCancel(ctx), realtime.Event{
			Table:    TableInvitationEmails,
			Type:     realtime.EventUpdate,
			StreamID: inv.StreamID,
			Record:   EmailFailure{InvitationID: inv.ID, Email: inv.Email, Error: "email could not be sent"},
		})
	})
	return true
}

func (m *Manager) view(inv *models.Invitation, stream *models.Stream, now time.Time) models.InvitationView {
	v := models.InvitationView{
		ID:        inv.ID,
		Email:     inv.Email,
		Role:      inv.Role,
		Status:    inv.EffectiveStatus(now),
		ExpiresAt: inv.ExpiresAt,
		StreamID:  inv.StreamID,
		InvitedBy: inv.InvitedBy,
	}
	if stream != nil {
		v.StreamName = stream.Name
	}
	return v
}

// ResolveInvitation is a read-only lookup for the invitation page. A pending
// invitation past its expiry is reported as expired.
func (m *Manager) ResolveInvitation(ctx context.Context, token string) (*models.InvitationView, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperrors.New(apperrors.NotFound, "invitation not found")
	}
	inv, err := m.store.GetInvitation(ctx, token)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperrors.New(apperrors.NotFound, "invitation not found")
	}
	if err != nil {
		return nil, persistence(err)
	}
	stream, err := m.store.GetStream(ctx, inv.StreamID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, persistence(err)
	}
	v := m.view(inv, stream, m.now().UTC())
	return &v, nil
}

// AcceptInvitation turns the invitation into a membership for userID, whose
// session email must match the invited address.
func (m *Manager) AcceptInvitation(ctx context.Context, token, userID, email string) (*AcceptResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperrors.New(apperrors.Forbidden, "sign in to accept this invitation")
	}
	token = strings.TrimSpace(token)
	inv, err := m.store.GetInvitation(ctx, token)
	if errors.Is(err, database.ErrNotFound) || token == "" {
		return nil, apperrors.New(apperrors.NotFound, "invitation not found")
	}
	if err != nil {
		return nil, persistence(err)
	}

	if inv.Status != models.InvitationPending {
		return m.settled(ctx, inv, userID)
	}
	now := m.now().UTC()
	if inv.EffectiveStatus(now) == models.InvitationExpired {
		return nil, apperrors.New(apperrors.Expired, "this invitation has expired; ask for a new one").
			WithMetadata("email", inv.Email)
	}
	if !SameEmail(email, inv.Email) {
		return nil, apperrors.Newf(apperrors.EmailMismatch, "this invitation was sent to %s; sign in with that address", inv.Email).
			WithMetadata("email", inv.Email)
	}

	membership := models.NewMembership(m.newID(), inv.StreamID, userID, inv.Role, now)
	membership.Email = inv.Email
	outcome, err := m.store.AcceptInvitation(ctx, inv.ID, membership, now)
	if errors.Is(err, database.ErrConflict) {
		// another request settled it first; re-read and answer from the stored state
		latest, getErr := m.store.GetInvitation(ctx, inv.ID)
		if getErr != nil {
			return nil, persistence(getErr)
		}
		return m.settled(ctx, latest, userID)
	}
	if err != nil {
		return nil, persistence(err)
	}

	m.logger.Info("invitation accepted", "stream_id", inv.StreamID, "user_id", userID, "already_member", !outcome.MembershipCreated)
	if outcome.MembershipCreated {
		m.publisher.Publish(ctx, realtime.Event{Table: "memberships", Type: realtime.EventInsert, StreamID: inv.StreamID, Record: membership})
	}
	return &AcceptResult{StreamID: inv.StreamID, AlreadyMember: !outcome.MembershipCreated}, nil
}

// settled answers an accept for an invitation that is no longer pending.
// The user who accepted it, or anyone already holding the membership, gets
// an idempotent success; everyone else is told it was used.
func (m *Manager) settled(ctx context.Context, inv *models.Invitation, userID string) (*AcceptResult, error) {
	if inv.Status == models.InvitationAccepted {
		if inv.AcceptedBy != nil && *inv.AcceptedBy == userID {
			return &AcceptResult{StreamID: inv.StreamID, AlreadyMember: true}, nil
		}
		if inv.AcceptedBy == nil {
			_, err := m.store.GetMembership(ctx, inv.StreamID, userID)
			if err == nil {
				return &AcceptResult{StreamID: inv.StreamID, AlreadyMember: true}, nil
			}
			if !errors.Is(err, database.ErrNotFound) {
				return nil, persistence(err)
			}
		}
		return nil, apperrors.New(apperrors.AlreadyUsed, "this invitation has already been used")
	}
	if inv.Status == models.InvitationExpired {
		return nil, apperrors.New(apperrors.Expired, "this invitation has expired; ask for a new one").
			WithMetadata("email", inv.Email)
	}
	return nil, apperrors.New(apperrors.AlreadyUsed, "this invitation is no longer valid")
}

// ListMyInvitations returns the still-pending invitations addressed to email,
// newest first, with expired ones reported as such.
func (m *Manager) ListMyInvitations(ctx context.Context, email string) ([]models.InvitationView, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return []models.InvitationView{}, nil
	}
	list, err := m.store.ListInvitationsByEmail(ctx, normalized)
	if err != nil {
		return nil, persistence(err)
	}
	return m.views(ctx, list, func(inv *models.Invitation) bool { return inv.Status == models.InvitationPending })
}

// ListStreamInvitations returns every invitation of a stream to members who
// can manage members.
func (m *Manager) ListStreamInvitations(ctx context.Context, userID, streamID string) ([]models.InvitationView, error) {
	if _, err := m.gate.Authorize(ctx, userID, streamID, authz.ManageMembers); err != nil {
		return nil, err
	}
	list, err := m.store.ListInvitationsByStream(ctx, streamID)
	if err != nil {
		return nil, persistence(err)
	}
	return m.views(ctx, list, nil)
}

func (m *Manager) views(ctx context.Context, list []models.Invitation, keep func(*models.Invitation) bool) ([]models.InvitationView, error) {
	now := m.now().UTC()
	streams := map[string]*models.Stream{}
	out := make([]models.InvitationView, 0, len(list))
	for i := range list {
		inv := &list[i]
		if keep != nil && !keep(inv) {
			continue
		}
		stream, seen := streams[inv.StreamID]
		if !seen {
			s, err := m.store.GetStream(ctx, inv.StreamID)
			if err != nil && !errors.Is(err, database.ErrNotFound) {
				return nil, persistence(err)
			}
			streams[inv.StreamID] = s
			stream = s
		}
		out = append(out, m.view(inv, stream, now))
	}
	return out, nil
}
