// Package workspaces manages workspaces, their streams and stream members.
package workspaces

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"pipeline-crm-backend/pkg/apperrors"
	"pipeline-crm-backend/pkg/authz"
	"pipeline-crm-backend/pkg/database"
	"pipeline-crm-backend/pkg/models"
	"pipeline-crm-backend/pkg/realtime"
)

// Store is the part of the membership store the service needs
type Store interface {
	authz.MembershipReader

	CreateWorkspace(ctx context.Context, ws *models.Workspace, stream *models.Stream, owner *models.Membership) error
	GetWorkspace(ctx context.Context, id string) (*models.Workspace, error)
	CreateStream(ctx context.Context, stream *models.Stream, owner *models.Membership) error
	ListStreamsByWorkspace(ctx context.Context, workspaceID string) ([]models.Stream, error)
	ListUserStreams(ctx context.Context, userID string) ([]models.Stream, error)
	ListMemberships(ctx context.Context, streamID string) ([]models.Membership, error)
	DeleteMembership(ctx context.Context, streamID, userID string) error
}

// BoardSeeder creates the first board of a new stream
type BoardSeeder interface {
	SeedBoard(ctx context.Context, streamID, name, templateKey string) (*models.BoardView, error)
}

const TableMemberships = "memberships"

type Service struct {
	store     Store
	gate      *authz.Gate
	seeder    BoardSeeder
	publisher realtime.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Service)

// WithBoardSeeder seeds a default board into every stream the service creates
func WithBoardSeeder(s BoardSeeder) Option {
	return func(svc *Service) { svc.seeder = s }
}

func WithPublisher(p realtime.Publisher) Option {
	return func(svc *Service) {
		if p != nil {
			svc.publisher = p
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(svc *Service) {
		if logger != nil {
			svc.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(svc *Service) {
		if now != nil {
			svc.now = now
		}
	}
}

func NewService(store Store, opts ...Option) *Service {
	svc := &Service{
		store:     store,
		gate:      authz.NewGate(store),
		publisher: realtime.Discard{},
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

func persistence(err error) error {
	return apperrors.Wrap(apperrors.PersistenceError, "storage unavailable, please retry", err)
}

// Created is returned by CreateWorkspace
type Created struct {
	Workspace models.Workspace  `json:"workspace"`
	Stream    models.Stream     `json:"stream"`
	Board     *models.BoardView `json:"board,omitempty"`
}

// CreateWorkspace stores a workspace with its default stream and makes
// userID the owner. email, when known, is mirrored with the membership. A default board is seeded when a seeder is configured;
// a seeding failure is logged and the workspace is still returned.
func (s *Service) CreateWorkspace(ctx context.Context, userID, email, name string) (*Created, error) {
	if userID == "" {
		return nil, apperrors.New(apperrors.Forbidden, "sign in to create a workspace")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.New(apperrors.InvalidInput, "workspace name is required")
	}
	if len(name) > 120 {
		return nil, apperrors.New(apperrors.InvalidInput, "workspace name must be at most 120 characters")
	}

	now := s.now().UTC()
	ws := &models.Workspace{ID: uuid.NewString(), Name: name, OwnerID: userID, CreatedAt: now}
	stream := &models.Stream{
		ID:          uuid.NewString(),
		WorkspaceID: ws.ID,
		Name:        models.DefaultStreamName,
		IsDefault:   true,
		CreatedAt:   now,
	}
	owner := models.NewMembership(uuid.NewString(), stream.ID, userID, models.RoleOwner, now)
	owner.Email = email
	if err := s.store.CreateWorkspace(ctx, ws, stream, owner); err != nil {
		return nil, persistence(err)
	}
	s.logger.Info("workspace created", "workspace_id", ws.ID, "stream_id", stream.ID, "user_id", userID)

	out := &Created{Workspace: *ws, Stream: *stream}
	out.Board = s.seed(ctx, stream.ID)
	return out, nil
}

func (s *Service) seed(ctx context.Context, streamID string) *models.BoardView {
	if s.seeder == nil {
		return nil
	}
	view, err := s.seeder.SeedBoard(ctx, streamID, "", "")
	if err != nil {
		s.logger.Warn("default board not created", "stream_id", streamID, "error", err)
		return nil
	}
	return view
}

// CreateStream adds a stream to a workspace. The caller needs manage_streams
// on some stream of that workspace and becomes the new stream's owner.
func (s *Service) CreateStream(ctx context.Context, userID, email, workspaceID, name, description string) (*models.Stream, error) {
	name = strings.TrimSpace(name)
	if workspaceID == "" || name == "" {
		return nil, apperrors.New(apperrors.InvalidInput, "workspace_id and name are required")
	}
	if _, err := s.store.GetWorkspace(ctx, workspaceID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, apperrors.New(apperrors.NotFound, "workspace not found")
		}
		return nil, persistence(err)
	}
	streams, err := s.store.ListStreamsByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, persistence(err)
	}
	allowed := false
	for _, st := range streams {
		m, err := s.store.GetMembership(ctx, st.ID, userID)
		if errors.Is(err, database.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, persistence(err)
		}
		if authz.Allows(m, authz.ManageStreams) {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, apperrors.New(apperrors.Forbidden, "only workspace owners can create streams")
	}

	now := s.now().UTC()
	stream := &models.Stream{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedAt:   now,
	}
	owner := models.NewMembership(uuid.NewString(), stream.ID, userID, models.RoleOwner, now)
	owner.Email = email
	if err := s.store.CreateStream(ctx, stream, owner); err != nil {
		return nil, persistence(err)
	}
	s.seed(ctx, stream.ID)
	return stream, nil
}

// ListMyStreams returns every stream userID is a member of
func (s *Service) ListMyStreams(ctx context.Context, userID string) ([]models.Stream, error) {
	streams, err := s.store.ListUserStreams(ctx, userID)
	if err != nil {
		return nil, persistence(err)
	}
	if streams == nil {
		streams = []models.Stream{}
	}
	return streams, nil
}

func (s *Service) ListMembers(ctx context.Context, userID, streamID string) ([]models.Membership, error) {
	if _, err := s.gate.Authorize(ctx, userID, streamID, authz.ReadStream); err != nil {
		return nil, err
	}
	members, err := s.store.ListMemberships(ctx, streamID)
	if err != nil {
		return nil, persistence(err)
	}
	return members, nil
}

// RemoveMember deletes targetID's membership. Owners can only be removed by
// another owner, and the last owner of a stream stays.
func (s *Service) RemoveMember(ctx context.Context, userID, streamID, targetID string) error {
	if _, err := s.gate.Authorize(ctx, userID, streamID, authz.ManageMembers); err != nil {
		return err
	}
	members, err := s.store.ListMemberships(ctx, streamID)
	if err != nil {
		return persistence(err)
	}
	var target *models.Membership
	owners := 0
	for i := range members {
		role, _ := models.ParseRole(string(members[i].Role))
		if role == models.RoleOwner {
			owners++
		}
		if members[i].UserID == targetID {
			target = &members[i]
		}
	}
	if target == nil {
		return apperrors.New(apperrors.NotFound, "member not found")
	}
	if role, _ := models.ParseRole(string(target.Role)); role == models.RoleOwner {
		if _, err := s.gate.Authorize(ctx, userID, streamID, authz.RemoveOwner); err != nil {
			return err
		}
		if owners <= 1 {
			return apperrors.New(apperrors.InvalidInput, "a stream must keep at least one owner")
		}
	}

	if err := s.store.DeleteMembership(ctx, streamID, targetID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return apperrors.New(apperrors.NotFound, "member not found")
		}
		return persistence(err)
	}
	s.logger.Info("member removed", "stream_id", streamID, "user_id", targetID, "removed_by", userID)
	s.publisher.Publish(ctx, realtime.Event{Table: TableMemberships, Type: realtime.EventDelete, StreamID: streamID, Record: target})
	return nil
}
