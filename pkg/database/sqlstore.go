package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pipeline-crm-backend/pkg/models"
)

// dialect captures what differs between the SQL backends sharing SQLDatabase.
type dialect struct {
	name string
	// placeholders are written as ? and rebound per driver
	rebind            func(query string) string
	timeArg           func(t time.Time) interface{}
	isUniqueViolation func(err error) bool
}

// SQLDatabase implements DatabaseInterface over database/sql. Postgres and
// SQLite share it; see postgres.go and sqlite.go for the drivers.
type SQLDatabase struct {
	db *sql.DB
	d  dialect
}

var _ DatabaseInterface = (*SQLDatabase)(nil)

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *SQLDatabase) exec(ctx context.Context, q querier, query string, args ...interface{}) (sql.Result, error) {
	return q.ExecContext(ctx, s.d.rebind(query), args...)
}

func (s *SQLDatabase) query(ctx context.Context, q querier, query string, args ...interface{}) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.d.rebind(query), args...)
}

func (s *SQLDatabase) queryRow(ctx context.Context, q querier, query string, args ...interface{}) *sql.Row {
	return q.QueryRowContext(ctx, s.d.rebind(query), args...)
}

func (s *SQLDatabase) t(v time.Time) interface{} {
	return s.d.timeArg(v)
}

func (s *SQLDatabase) nt(v *time.Time) interface{} {
	if v == nil {
		return nil
	}
	return s.d.timeArg(*v)
}

// runInTx runs fn in a transaction, rolling back on error or panic.
func (s *SQLDatabase) runInTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *SQLDatabase) mapErr(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	case s.d.isUniqueViolation(err):
		return fmt.Errorf("%s: %w", what, ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// ================= Scanning helpers =================

// timeScanner accepts TIMESTAMPTZ values from Postgres and unix millis from SQLite.
type timeScanner struct{ dest *time.Time }

func (ts timeScanner) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*ts.dest = time.Time{}
	case time.Time:
		*ts.dest = v.UTC()
	case int64:
		*ts.dest = time.UnixMilli(v).UTC()
	case []byte:
		return ts.parse(string(v))
	case string:
		return ts.parse(v)
	default:
		return fmt.Errorf("unsupported time value %T", src)
	}
	return nil
}

func (ts timeScanner) parse(v string) error {
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		*ts.dest = time.UnixMilli(ms).UTC()
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return fmt.Errorf("parse time %q: %w", v, err)
	}
	*ts.dest = parsed.UTC()
	return nil
}

type nullTimeScanner struct{ dest **time.Time }

func (ns nullTimeScanner) Scan(src interface{}) error {
	if src == nil {
		*ns.dest = nil
		return nil
	}
	var t time.Time
	if err := (timeScanner{dest: &t}).Scan(src); err != nil {
		return err
	}
	*ns.dest = &t
	return nil
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullable(s *string) interface{} {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return *s
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

// ================= Users =================

func (s *SQLDatabase) UpsertUser(ctx context.Context, user *models.User) error {
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	_, err := s.exec(ctx, s.db, `
		INSERT INTO users (id, email, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			email = excluded.email,
			name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE users.name END,
			updated_at = excluded.updated_at
	`, user.ID, user.Email, user.Name, s.t(user.CreatedAt), s.t(user.UpdatedAt))
	return s.mapErr(err, "upsert user")
}

func (s *SQLDatabase) scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, timeScanner{&u.CreatedAt}, timeScanner{&u.UpdatedAt}); err != nil {
		return nil, s.mapErr(err, "get user")
	}
	return &u, nil
}

func (s *SQLDatabase) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return s.scanUser(s.queryRow(ctx, s.db, `SELECT id, email, name, created_at, updated_at FROM users WHERE id = ?`, id))
}

func (s *SQLDatabase) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.scanUser(s.queryRow(ctx, s.db, `
		SELECT id, email, name, created_at, updated_at FROM users
		WHERE lower(email) = lower(?) ORDER BY created_at ASC LIMIT 1
	`, strings.TrimSpace(email)))
}

// ================= Workspaces & Streams =================

func (s *SQLDatabase) insertStream(ctx context.Context, q querier, st *models.Stream) error {
	_, err := s.exec(ctx, q, `
		INSERT INTO streams (id, workspace_id, name, description, is_default, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, st.ID, st.WorkspaceID, st.Name, st.Description, st.IsDefault, s.t(st.CreatedAt))
	return s.mapErr(err, "create stream")
}

// mirrorMember records the member's address in users when the membership
// carries one. Email lookups join users, and a member who only ever sent a
// bearer token has no row there otherwise.
func (s *SQLDatabase) mirrorMember(ctx context.Context, q querier, m *models.Membership) error {
	email := strings.ToLower(strings.TrimSpace(m.Email))
	if email == "" {
		return nil
	}
	now := time.Now().UTC()
	_, err := s.exec(ctx, q, `
		INSERT INTO users (id, email, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			email = excluded.email,
			name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE users.name END,
			updated_at = excluded.updated_at
	`, m.UserID, email, m.Name, s.t(now), s.t(now))
	return s.mapErr(err, "mirror member")
}

func (s *SQLDatabase) insertMembership(ctx context.Context, q querier, m *models.Membership) error {
	if err := s.mirrorMember(ctx, q, m); err != nil {
		return err
	}
	_, err := s.exec(ctx, q, `
		INSERT INTO memberships (id, stream_id, user_id, role, can_edit, can_manage_members, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.StreamID, m.UserID, string(m.Role), m.CanEdit, m.CanManageMembers, s.t(m.CreatedAt))
	return s.mapErr(err, "add membership")
}

func (s *SQLDatabase) CreateWorkspace(ctx context.Context, ws *models.Workspace, stream *models.Stream, owner *models.Membership) error {
	return s.runInTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx, `INSERT INTO workspaces (id, name, owner_id, created_at) VALUES (?, ?, ?, ?)`,
			ws.ID, ws.Name, ws.OwnerID, s.t(ws.CreatedAt)); err != nil {
			return s.mapErr(err, "create workspace")
		}
		if err := s.insertStream(ctx, tx, stream); err != nil {
			return err
		}
		return s.insertMembership(ctx, tx, owner)
	})
}

func (s *SQLDatabase) GetWorkspace(ctx context.Context, id string) (*models.Workspace, error) {
	var ws models.Workspace
	err := s.queryRow(ctx, s.db, `SELECT id, name, owner_id, created_at FROM workspaces WHERE id = ?`, id).
		Scan(&ws.ID, &ws.Name, &ws.OwnerID, timeScanner{&ws.CreatedAt})
	if err != nil {
		return nil, s.mapErr(err, "get workspace")
	}
	return &ws, nil
}

func (s *SQLDatabase) CreateStream(ctx context.Context, stream *models.Stream, owner *models.Membership) error {
	return s.runInTx(ctx, func(tx *sql.Tx) error {
		if err := s.insertStream(ctx, tx, stream); err != nil {
			return err
		}
		return s.insertMembership(ctx, tx, owner)
	})
}

const streamColumns = `s.id, s.workspace_id, s.name, s.description, s.is_default, s.created_at`

func scanStream(sc interface{ Scan(...interface{}) error }) (models.Stream, error) {
	var st models.Stream
	err := sc.Scan(&st.ID, &st.WorkspaceID, &st.Name, &st.Description, &st.IsDefault, timeScanner{&st.CreatedAt})
	return st, err
}

func (s *SQLDatabase) GetStream(ctx context.Context, id string) (*models.Stream, error) {
	st, err := scanStream(s.queryRow(ctx, s.db, `SELECT `+streamColumns+` FROM streams s WHERE s.id = ?`, id))
	if err != nil {
		return nil, s.mapErr(err, "get stream")
	}
	return &st, nil
}

func (s *SQLDatabase) listStreams(ctx context.Context, query string, arg string) ([]models.Stream, error) {
	rows, err := s.query(ctx, s.db, query, arg)
	if err != nil {
		return nil, s.mapErr(err, "list streams")
	}
	defer rows.Close()
	var result []models.Stream
	for rows.Next() {
		st, err := scanStream(rows)
		if err != nil {
			return nil, s.mapErr(err, "scan stream")
		}
		result = append(result, st)
	}
	return result, s.mapErr(rows.Err(), "list streams")
}

func (s *SQLDatabase) ListStreamsByWorkspace(ctx context.Context, workspaceID string) ([]models.Stream, error) {
	return s.listStreams(ctx, `SELECT `+streamColumns+` FROM streams s WHERE s.workspace_id = ? ORDER BY s.created_at ASC, s.id ASC`, workspaceID)
}

func (s *SQLDatabase) ListUserStreams(ctx context.Context, userID string) ([]models.Stream, error) {
	return s.listStreams(ctx, `
		SELECT `+streamColumns+` FROM streams s
		JOIN memberships m ON m.stream_id = s.id
		WHERE m.user_id = ?
		ORDER BY s.created_at ASC, s.id ASC
	`, userID)
}

// ================= Memberships =================

const membershipColumns = `m.id, m.stream_id, m.user_id, m.role, m.can_edit, m.can_manage_members, m.created_at`

func scanMembership(sc interface{ Scan(...interface{}) error }, extra ...interface{}) (models.Membership, error) {
	var m models.Membership
	var role string
	dest := append([]interface{}{&m.ID, &m.StreamID, &m.UserID, &role, &m.CanEdit, &m.CanManageMembers, timeScanner{&m.CreatedAt}}, extra...)
	if err := sc.Scan(dest...); err != nil {
		return m, err
	}
	if parsed, ok := models.ParseRole(role); ok {
		m.Role = parsed
	} else {
		m.Role = models.Role(role)
	}
	return m, nil
}

func (s *SQLDatabase) GetMembership(ctx context.Context, streamID, userID string) (*models.Membership, error) {
	m, err := scanMembership(s.queryRow(ctx, s.db, `SELECT `+membershipColumns+` FROM memberships m WHERE m.stream_id = ? AND m.user_id = ?`, streamID, userID))
	if err != nil {
		return nil, s.mapErr(err, "get membership")
	}
	return &m, nil
}

func (s *SQLDatabase) FindMembershipByEmail(ctx context.Context, streamID, email string) (*models.Membership, error) {
	var uEmail, uName string
	m, err := scanMembership(s.queryRow(ctx, s.db, `
		SELECT `+membershipColumns+`, u.email, u.name FROM memberships m
		JOIN users u ON u.id = m.user_id
		WHERE m.stream_id = ? AND lower(u.email) = lower(?)
		LIMIT 1
	`, streamID, strings.TrimSpace(email)), &uEmail, &uName)
	if err != nil {
		return nil, s.mapErr(err, "find membership by email")
	}
	m.Email, m.Name = uEmail, uName
	return &m, nil
}

func (s *SQLDatabase) ListMemberships(ctx context.Context, streamID string) ([]models.Membership, error) {
	rows, err := s.query(ctx, s.db, `
		SELECT `+membershipColumns+`, COALESCE(u.email, ''), COALESCE(u.name, '') FROM memberships m
		LEFT JOIN users u ON u.id = m.user_id
		WHERE m.stream_id = ?
		ORDER BY m.created_at ASC, m.id ASC
	`, streamID)
	if err != nil {
		return nil, s.mapErr(err, "list memberships")
	}
	defer rows.Close()
	var result []models.Membership
	for rows.Next() {
		var email, name string
		m, err := scanMembership(rows, &email, &name)
		if err != nil {
			return nil, s.mapErr(err, "scan membership")
		}
		m.Email, m.Name = email, name
		result = append(result, m)
	}
	return result, s.mapErr(rows.Err(), "list memberships")
}

func (s *SQLDatabase) AddMembership(ctx context.Context, m *models.Membership) error {
	return s.runInTx(ctx, func(tx *sql.Tx) error {
		return s.insertMembership(ctx, tx, m)
	})
}

func (s *SQLDatabase) DeleteMembership(ctx context.Context, streamID, userID string) error {
	res, err := s.exec(ctx, s.db, `DELETE FROM memberships WHERE stream_id = ? AND user_id = ?`, streamID, userID)
	if err != nil {
		return s.mapErr(err, "delete membership")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete membership: %w", ErrNotFound)
	}
	return nil
}

// ================= Invitations =================

const invitationColumns = `id, stream_id, email, role, status, invited_by, accepted_by, created_at, expires_at, accepted_at`

func scanInvitation(sc interface{ Scan(...interface{}) error }) (models.Invitation, error) {
	var inv models.Invitation
	var role, status string
	var acceptedBy sql.NullString
	err := sc.Scan(&inv.ID, &inv.StreamID, &inv.Email, &role, &status, &inv.InvitedBy, &acceptedBy,
		timeScanner{&inv.CreatedAt}, timeScanner{&inv.ExpiresAt}, nullTimeScanner{&inv.AcceptedAt})
	if err != nil {
		return inv, err
	}
	if parsed, ok := models.ParseRole(role); ok {
		inv.Role = parsed
	} else {
		inv.Role = models.Role(role)
	}
	inv.Status = models.InvitationStatus(strings.ToLower(status))
	inv.AcceptedBy = stringPtr(acceptedBy)
	return inv, nil
}

func (s *SQLDatabase) CreateInvitation(ctx context.Context, inv *models.Invitation) error {
	_, err := s.exec(ctx, s.db, `
		INSERT INTO invitations (`+invitationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, inv.ID, inv.StreamID, inv.Email, string(inv.Role), string(inv.Status), inv.InvitedBy, nullable(inv.AcceptedBy),
		s.t(inv.CreatedAt), s.t(inv.ExpiresAt), s.nt(inv.AcceptedAt))
	return s.mapErr(err, "create invitation")
}

func (s *SQLDatabase) GetInvitation(ctx context.Context, id string) (*models.Invitation, error) {
	inv, err := scanInvitation(s.queryRow(ctx, s.db, `SELECT `+invitationColumns+` FROM invitations WHERE id = ?`, id))
	if err != nil {
		return nil, s.mapErr(err, "get invitation")
	}
	return &inv, nil
}

func (s *SQLDatabase) FindPendingInvitation(ctx context.Context, streamID, email string) (*models.Invitation, error) {
	inv, err := scanInvitation(s.queryRow(ctx, s.db, `
		SELECT `+invitationColumns+` FROM invitations
		WHERE stream_id = ? AND lower(email) = lower(?) AND status = 'pending'
		ORDER BY created_at DESC LIMIT 1
	`, streamID, strings.TrimSpace(email)))
	if err != nil {
		return nil, s.mapErr(err, "find pending invitation")
	}
	return &inv, nil
}

func (s *SQLDatabase) listInvitations(ctx context.Context, where string, arg string) ([]models.Invitation, error) {
	rows, err := s.query(ctx, s.db, `SELECT `+invitationColumns+` FROM invitations WHERE `+where+` ORDER BY created_at DESC`, arg)
	if err != nil {
		return nil, s.mapErr(err, "list invitations")
	}
	defer rows.Close()
	var list []models.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, s.mapErr(err, "scan invitation")
		}
		list = append(list, inv)
	}
	return list, s.mapErr(rows.Err(), "list invitations")
}

func (s *SQLDatabase) ListInvitationsByEmail(ctx context.Context, email string) ([]models.Invitation, error) {
	return s.listInvitations(ctx, `lower(email) = lower(?)`, strings.TrimSpace(email))
}

func (s *SQLDatabase) ListInvitationsByStream(ctx context.Context, streamID string) ([]models.Invitation, error) {
	return s.listInvitations(ctx, `stream_id = ?`, streamID)
}

func (s *SQLDatabase) AcceptInvitation(ctx context.Context, invitationID string, m *models.Membership, acceptedAt time.Time) (AcceptOutcome, error) {
	var outcome AcceptOutcome
	err := s.runInTx(ctx, func(tx *sql.Tx) error {
		// The status guard serializes concurrent accepts: only one claim matches.
		res, err := s.exec(ctx, tx, `
			UPDATE invitations SET status = 'accepted', accepted_by = ?, accepted_at = ?
			WHERE id = ? AND status = 'pending'
		`, m.UserID, s.t(acceptedAt), invitationID)
		if err != nil {
			return s.mapErr(err, "claim invitation")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("claim invitation: %w", ErrConflict)
		}
		if err := s.mirrorMember(ctx, tx, m); err != nil {
			return err
		}
		res, err = s.exec(ctx, tx, `
			INSERT INTO memberships (id, stream_id, user_id, role, can_edit, can_manage_members, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (stream_id, user_id) DO NOTHING
		`, m.ID, m.StreamID, m.UserID, string(m.Role), m.CanEdit, m.CanManageMembers, s.t(m.CreatedAt))
		if err != nil {
			return s.mapErr(err, "insert membership")
		}
		n, _ := res.RowsAffected()
		outcome.MembershipCreated = n > 0
		return nil
	})
	return outcome, err
}

// ================= Boards & Columns =================

func (s *SQLDatabase) insertColumn(ctx context.Context, q querier, col *models.Column) error {
	_, err := s.exec(ctx, q, `INSERT INTO board_columns (id, board_id, name, position, created_at) VALUES (?, ?, ?, ?, ?)`,
		col.ID, col.BoardID, col.Name, col.Position, s.t(col.CreatedAt))
	return s.mapErr(err, "create column")
}

func (s *SQLDatabase) CreateBoard(ctx context.Context, board *models.Board, columns []models.Column) error {
	return s.runInTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx, `INSERT INTO boards (id, stream_id, name, type, created_at) VALUES (?, ?, ?, ?, ?)`,
			board.ID, board.StreamID, board.Name, board.Type, s.t(board.CreatedAt)); err != nil {
			return s.mapErr(err, "create board")
		}
		for i := range columns {
			if err := s.insertColumn(ctx, tx, &columns[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLDatabase) GetBoard(ctx context.Context, id string) (*models.Board, error) {
	var b models.Board
	err := s.queryRow(ctx, s.db, `SELECT id, stream_id, name, type, created_at FROM boards WHERE id = ?`, id).
		Scan(&b.ID, &b.StreamID, &b.Name, &b.Type, timeScanner{&b.CreatedAt})
	if err != nil {
		return nil, s.mapErr(err, "get board")
	}
	return &b, nil
}

func (s *SQLDatabase) ListBoardsByStream(ctx context.Context, streamID string) ([]models.Board, error) {
	rows, err := s.query(ctx, s.db, `SELECT id, stream_id, name, type, created_at FROM boards WHERE stream_id = ? ORDER BY created_at ASC, id ASC`, streamID)
	if err != nil {
		return nil, s.mapErr(err, "list boards")
	}
	defer rows.Close()
	var list []models.Board
	for rows.Next() {
		var b models.Board
		if err := rows.Scan(&b.ID, &b.StreamID, &b.Name, &b.Type, timeScanner{&b.CreatedAt}); err != nil {
			return nil, s.mapErr(err, "scan board")
		}
		list = append(list, b)
	}
	return list, s.mapErr(rows.Err(), "list boards")
}

func (s *SQLDatabase) CreateColumn(ctx context.Context, col *models.Column) error {
	return s.insertColumn(ctx, s.db, col)
}

func (s *SQLDatabase) GetColumn(ctx context.Context, id string) (*models.Column, error) {
	var c models.Column
	err := s.queryRow(ctx, s.db, `SELECT id, board_id, name, position, created_at FROM board_columns WHERE id = ?`, id).
		Scan(&c.ID, &c.BoardID, &c.Name, &c.Position, timeScanner{&c.CreatedAt})
	if err != nil {
		return nil, s.mapErr(err, "get column")
	}
	return &c, nil
}

func (s *SQLDatabase) ListColumnsByBoards(ctx context.Context, boardIDs []string) ([]models.Column, error) {
	if len(boardIDs) == 0 {
		return nil, nil
	}
	rows, err := s.query(ctx, s.db, `
		SELECT id, board_id, name, position, created_at FROM board_columns
		WHERE board_id IN (`+placeholders(len(boardIDs))+`)
		ORDER BY position ASC, created_at ASC, id ASC
	`, stringArgs(boardIDs)...)
	if err != nil {
		return nil, s.mapErr(err, "list columns")
	}
	defer rows.Close()
	var list []models.Column
	for rows.Next() {
		var c models.Column
		if err := rows.Scan(&c.ID, &c.BoardID, &c.Name, &c.Position, timeScanner{&c.CreatedAt}); err != nil {
			return nil, s.mapErr(err, "scan column")
		}
		list = append(list, c)
	}
	return list, s.mapErr(rows.Err(), "list columns")
}

func (s *SQLDatabase) maxPosition(ctx context.Context, query, arg string) (int64, bool, error) {
	var max sql.NullInt64
	if err := s.queryRow(ctx, s.db, query, arg).Scan(&max); err != nil {
		return 0, false, s.mapErr(err, "max position")
	}
	return max.Int64, max.Valid, nil
}

func (s *SQLDatabase) MaxColumnPosition(ctx context.Context, boardID string) (int64, bool, error) {
	return s.maxPosition(ctx, `SELECT MAX(position) FROM board_columns WHERE board_id = ?`, boardID)
}

// ================= Entries =================

const entrySelect = `
	SELECT e.id, e.column_id, e.title, e.description, e.priority, e.revenue_potential,
		   e.contact_name, e.contact_email, e.contact_phone, e.assigned_to, e.position,
		   e.created_at, e.updated_at, u.id, u.name, u.email
	FROM board_entries e
	LEFT JOIN users u ON u.id = e.assigned_to`

func scanEntry(sc interface{ Scan(...interface{}) error }) (models.Entry, error) {
	var e models.Entry
	var priority string
	var assignedTo, uID, uName, uEmail sql.NullString
	err := sc.Scan(&e.ID, &e.ColumnID, &e.Title, &e.Description, &priority, &e.RevenuePotential,
		&e.ContactName, &e.ContactEmail, &e.ContactPhone, &assignedTo, &e.Position,
		timeScanner{&e.CreatedAt}, timeScanner{&e.UpdatedAt}, &uID, &uName, &uEmail)
	if err != nil {
		return e, err
	}
	e.Priority = models.Priority(priority)
	e.AssignedTo = stringPtr(assignedTo)
	if uID.Valid {
		e.Assignee = &models.Assignee{ID: uID.String, Name: uName.String, Email: uEmail.String}
	}
	return e, nil
}

func (s *SQLDatabase) CreateEntry(ctx context.Context, e *models.Entry) error {
	_, err := s.exec(ctx, s.db, `
		INSERT INTO board_entries (id, column_id, title, description, priority, revenue_potential,
			contact_name, contact_email, contact_phone, assigned_to, position, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.ColumnID, e.Title, e.Description, string(e.Priority), e.RevenuePotential,
		e.ContactName, e.ContactEmail, e.ContactPhone, nullable(e.AssignedTo), e.Position,
		s.t(e.CreatedAt), s.t(e.UpdatedAt))
	return s.mapErr(err, "create entry")
}

func (s *SQLDatabase) GetEntry(ctx context.Context, id string) (*models.Entry, error) {
	e, err := scanEntry(s.queryRow(ctx, s.db, entrySelect+` WHERE e.id = ?`, id))
	if err != nil {
		return nil, s.mapErr(err, "get entry")
	}
	return &e, nil
}

func (s *SQLDatabase) ListEntriesByColumns(ctx context.Context, columnIDs []string) ([]models.Entry, error) {
	if len(columnIDs) == 0 {
		return nil, nil
	}
	rows, err := s.query(ctx, s.db, entrySelect+`
		WHERE e.column_id IN (`+placeholders(len(columnIDs))+`)
		ORDER BY e.position ASC, e.created_at ASC, e.id ASC
	`, stringArgs(columnIDs)...)
	if err != nil {
		return nil, s.mapErr(err, "list entries")
	}
	defer rows.Close()
	var list []models.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, s.mapErr(err, "scan entry")
		}
		list = append(list, e)
	}
	return list, s.mapErr(rows.Err(), "list entries")
}

func (s *SQLDatabase) MaxEntryPosition(ctx context.Context, columnID string) (int64, bool, error) {
	return s.maxPosition(ctx, `SELECT MAX(position) FROM board_entries WHERE column_id = ?`, columnID)
}

// entryPatchColumns is the whitelist for UpdateEntryPartial, in SET order.
var entryPatchColumns = []string{
	"column_id", "title", "description", "priority", "revenue_potential",
	"contact_name", "contact_email", "contact_phone", "assigned_to", "position",
}

func (s *SQLDatabase) UpdateEntryPartial(ctx context.Context, entryID string, patch map[string]interface{}) (*models.Entry, error) {
	if strings.TrimSpace(entryID) == "" {
		return nil, fmt.Errorf("entry id required")
	}
	setClauses := make([]string, 0, len(entryPatchColumns)+1)
	args := make([]interface{}, 0, len(entryPatchColumns)+2)
	for _, col := range entryPatchColumns {
		v, ok := patch[col]
		if !ok {
			continue
		}
		switch col {
		case "column_id":
			str, isStr := v.(string)
			if !isStr || strings.TrimSpace(str) == "" {
				continue
			}
		case "assigned_to":
			if str, isStr := v.(string); isStr && strings.TrimSpace(str) == "" {
				v = nil
			}
		default:
			if v == nil {
				continue
			}
		}
		setClauses = append(setClauses, col+" = ?")
		args = append(args, v)
	}
	if len(setClauses) == 0 {
		return s.GetEntry(ctx, entryID)
	}
	setClauses = append(setClauses, "updated_at = ?")
	args = append(args, s.t(time.Now().UTC()), entryID)

	res, err := s.exec(ctx, s.db, `UPDATE board_entries SET `+strings.Join(setClauses, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, s.mapErr(err, "update entry")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("update entry: %w", ErrNotFound)
	}
	return s.GetEntry(ctx, entryID)
}

func (s *SQLDatabase) RenumberColumn(ctx context.Context, columnID string, orderedIDs []string, spacing int64) error {
	now := s.t(time.Now().UTC())
	return s.runInTx(ctx, func(tx *sql.Tx) error {
		for i, id := range orderedIDs {
			if _, err := s.exec(ctx, tx, `UPDATE board_entries SET column_id = ?, position = ?, updated_at = ? WHERE id = ?`,
				columnID, int64(i+1)*spacing, now, id); err != nil {
				return s.mapErr(err, "renumber column")
			}
		}
		return nil
	})
}

// ================= Lifecycle =================

func (s *SQLDatabase) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLDatabase) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the handle for migrations and tooling.
func (s *SQLDatabase) DB() *sql.DB {
	return s.db
}
