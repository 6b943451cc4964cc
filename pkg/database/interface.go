package database

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"pipeline-crm-backend/pkg/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert violates a unique constraint.
	ErrDuplicate = errors.New("record already exists")
	// ErrConflict is returned when a conditional update matched no row
	// because another writer got there first.
	ErrConflict = errors.New("record changed concurrently")
)

// AcceptOutcome reports what AcceptInvitation changed.
type AcceptOutcome struct {
	// MembershipCreated is false when the user already held a membership
	// on the stream; the invitation is still marked accepted.
	MembershipCreated bool
}

// DatabaseInterface is the membership store contract. Every implementation
// enforces UNIQUE(stream_id, user_id) on memberships.
type DatabaseInterface interface {
	// Users (profile mirror of the auth provider)
	UpsertUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	// Workspaces & streams. CreateWorkspace stores the workspace, its default
	// stream and the owner membership together.
	CreateWorkspace(ctx context.Context, ws *models.Workspace, stream *models.Stream, owner *models.Membership) error
	GetWorkspace(ctx context.Context, id string) (*models.Workspace, error)
	CreateStream(ctx context.Context, stream *models.Stream, owner *models.Membership) error
	GetStream(ctx context.Context, id string) (*models.Stream, error)
	ListStreamsByWorkspace(ctx context.Context, workspaceID string) ([]models.Stream, error)
	ListUserStreams(ctx context.Context, userID string) ([]models.Stream, error)

	// Memberships
	GetMembership(ctx context.Context, streamID, userID string) (*models.Membership, error)
	FindMembershipByEmail(ctx context.Context, streamID, email string) (*models.Membership, error)
	ListMemberships(ctx context.Context, streamID string) ([]models.Membership, error)
	AddMembership(ctx context.Context, m *models.Membership) error
	DeleteMembership(ctx context.Context, streamID, userID string) error

	// Invitations
	CreateInvitation(ctx context.Context, inv *models.Invitation) error
	GetInvitation(ctx context.Context, id string) (*models.Invitation, error)
	FindPendingInvitation(ctx context.Context, streamID, email string) (*models.Invitation, error)
	ListInvitationsByEmail(ctx context.Context, email string) ([]models.Invitation, error)
	ListInvitationsByStream(ctx context.Context, streamID string) ([]models.Invitation, error)
	// AcceptInvitation claims a pending invitation and inserts the membership
	// as one unit. It returns ErrConflict when the invitation is no longer
	// pending; an existing membership is reported through the outcome. When
	// m.Email is set the user is mirrored into users as part of the accept.
	AcceptInvitation(ctx context.Context, invitationID string, m *models.Membership, acceptedAt time.Time) (AcceptOutcome, error)

	// Boards
	CreateBoard(ctx context.Context, board *models.Board, columns []models.Column) error
	GetBoard(ctx context.Context, id string) (*models.Board, error)
	ListBoardsByStream(ctx context.Context, streamID string) ([]models.Board, error)
	CreateColumn(ctx context.Context, col *models.Column) error
	GetColumn(ctx context.Context, id string) (*models.Column, error)
	ListColumnsByBoards(ctx context.Context, boardIDs []string) ([]models.Column, error)
	MaxColumnPosition(ctx context.Context, boardID string) (int64, bool, error)

	// Entries
	CreateEntry(ctx context.Context, e *models.Entry) error
	GetEntry(ctx context.Context, id string) (*models.Entry, error)
	// ListEntriesByColumns resolves the assignee of each entry.
	ListEntriesByColumns(ctx context.Context, columnIDs []string) ([]models.Entry, error)
	MaxEntryPosition(ctx context.Context, columnID string) (int64, bool, error)
	// UpdateEntryPartial applies a whitelisted patch and returns the updated row.
	// Allowed keys: "column_id","title","description","priority",
	// "revenue_potential","contact_name","contact_email","contact_phone",
	// "assigned_to","position".
	UpdateEntryPartial(ctx context.Context, entryID string, patch map[string]interface{}) (*models.Entry, error)
	// RenumberColumn places orderedIDs into columnID at positions spacing, 2*spacing, ...
	RenumberColumn(ctx context.Context, columnID string, orderedIDs []string, spacing int64) error

	HealthCheck(ctx context.Context) error
	Close() error
}

// DatabaseConfig selects and configures a store implementation
type DatabaseConfig struct {
	PostgresDSN string
	SupabaseURL string
	SupabaseKey string
	SQLitePath  string
	Debug       bool
}

// NewDatabase picks an implementation from the config.
// Serverless: Supabase > Postgres. Otherwise: Postgres > Supabase > SQLite.
func NewDatabase(config DatabaseConfig, logger *slog.Logger) (DatabaseInterface, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if IsVercelEnvironment() {
		logger.Info("detected serverless environment")
		if config.SupabaseURL != "" && config.SupabaseKey != "" {
			logger.Info("using Supabase REST store")
			return NewSupabaseDatabase(config.SupabaseURL, config.SupabaseKey), nil
		}
		if config.PostgresDSN != "" {
			logger.Warn("using PostgreSQL from serverless runtime")
			return sqlStore(NewPostgresDatabase(config.PostgresDSN, logger))
		}
		return nil, errors.New("no database configured for serverless environment: set SUPABASE_URL+SUPABASE_SERVICE_KEY or POSTGRES_DSN")
	}

	switch {
	case config.PostgresDSN != "":
		logger.Info("using PostgreSQL store")
		return sqlStore(NewPostgresDatabase(config.PostgresDSN, logger))
	case config.SupabaseURL != "" && config.SupabaseKey != "":
		logger.Info("using Supabase REST store")
		return NewSupabaseDatabase(config.SupabaseURL, config.SupabaseKey), nil
	case config.SQLitePath != "":
		logger.Info("using SQLite store", "path", config.SQLitePath)
		return sqlStore(NewSQLiteDatabase(config.SQLitePath))
	}
	return nil, errors.New("no database configured: set POSTGRES_DSN, SUPABASE_URL+SUPABASE_SERVICE_KEY or SQLITE_PATH")
}

// sqlStore keeps a failed open from becoming a non-nil interface holding a nil pointer.
func sqlStore(db *SQLDatabase, err error) (DatabaseInterface, error) {
	if err != nil {
		return nil, err
	}
	return db, nil
}

// IsVercelEnvironment reports whether we run inside a serverless function
func IsVercelEnvironment() bool {
	return os.Getenv("VERCEL_ENV") != "" || os.Getenv("VERCEL_URL") != "" || os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""
}
