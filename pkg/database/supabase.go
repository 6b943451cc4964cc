package database

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pipeline-crm-backend/pkg/models"
)

// SupabaseDatabase talks to the hosted store through its PostgREST API.
// PostgREST has no multi-table transactions, so multi-row writes use
// conditional updates plus compensating actions.
type SupabaseDatabase struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ DatabaseInterface = (*SupabaseDatabase)(nil)

// NewSupabaseDatabase creates a REST-backed store
func NewSupabaseDatabase(baseURL, key string) *SupabaseDatabase {
	if !strings.HasPrefix(baseURL, "http") {
		baseURL = "https://" + baseURL
	}
	return &SupabaseDatabase{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  key,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// restError is a non-2xx PostgREST response
type restError struct {
	Status int
	Code   string `json:"code"`
	Msg    string `json:"message"`
	Body   string
}

func (e *restError) Error() string {
	return fmt.Sprintf("API request failed with status %d: %s", e.Status, e.Body)
}

// makeRequest sends one PostgREST call. headers override the defaults.
func (db *SupabaseDatabase) makeRequest(ctx context.Context, method, endpoint string, body interface{}, headers map[string]string) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, db.baseURL+"/rest/v1"+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", db.apiKey)
	req.Header.Set("Authorization", "Bearer "+db.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := db.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		rerr := &restError{Status: resp.StatusCode, Body: string(respBody)}
		_ = json.Unmarshal(respBody, rerr)
		if resp.StatusCode == http.StatusConflict || rerr.Code == "23505" {
			return nil, fmt.Errorf("%w: %v", ErrDuplicate, rerr)
		}
		return nil, rerr
	}
	return respBody, nil
}

// get decodes a row list into out
func (db *SupabaseDatabase) get(ctx context.Context, endpoint string, out interface{}) error {
	data, err := db.makeRequest(ctx, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// one decodes the first row of a list or returns ErrNotFound
func one[T any](ctx context.Context, db *SupabaseDatabase, endpoint, what string) (*T, error) {
	var rows []T
	if err := db.get(ctx, endpoint, &rows); err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return &rows[0], nil
}

func eq(v string) string {
	return "eq." + url.QueryEscape(v)
}

func ilike(v string) string {
	// PostgREST ilike without wildcards is a case-insensitive equality
	escaped := strings.NewReplacer("%", `\%`, "_", `\_`).Replace(v)
	return "ilike." + url.QueryEscape(escaped)
}

func in(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = strconv.Quote(v)
	}
	return "in.(" + url.QueryEscape(strings.Join(quoted, ",")) + ")"
}

// ================= Users =================

func (db *SupabaseDatabase) UpsertUser(ctx context.Context, user *models.User) error {
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	payload := map[string]interface{}{
		"id":         user.ID,
		"email":      user.Email,
		"updated_at": user.UpdatedAt,
	}
	if user.Name != "" {
		payload["name"] = user.Name
	}
	_, err := db.makeRequest(ctx, http.MethodPost, "/users?on_conflict=id", payload,
		map[string]string{"Prefer": "resolution=merge-duplicates,return=representation"})
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (db *SupabaseDatabase) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return one[models.User](ctx, db, "/users?select=*&id="+eq(id), "get user")
}

func (db *SupabaseDatabase) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return one[models.User](ctx, db, "/users?select=*&order=created_at.asc&limit=1&email="+ilike(strings.TrimSpace(email)), "get user")
}

func (db *SupabaseDatabase) usersByIDs(ctx context.Context, ids []string) (map[string]models.User, error) {
	out := make(map[string]models.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []models.User
	if err := db.get(ctx, "/users?select=id,email,name&id="+in(ids), &users); err != nil {
		return nil, err
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

// ================= Workspaces & Streams =================

func (db *SupabaseDatabase) insertStream(ctx context.Context, s *models.Stream) error {
	_, err := db.makeRequest(ctx, http.MethodPost, "/streams", s, nil)
	if err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	return nil
}

// mirrorMember upserts the member's address into users when the membership
// carries one, so email lookups find members without a session.
func (db *SupabaseDatabase) mirrorMember(ctx context.Context, m *models.Membership) error {
	if strings.TrimSpace(m.Email) == "" {
		return nil
	}
	return db.UpsertUser(ctx, &models.User{ID: m.UserID, Email: m.Email, Name: m.Name})
}

func (db *SupabaseDatabase) insertMembership(ctx context.Context, m *models.Membership) error {
	if err := db.mirrorMember(ctx, m); err != nil {
		return err
	}
	_, err := db.makeRequest(ctx, http.MethodPost, "/memberships", membershipPayload(m), nil)
	if err != nil {
		return fmt.Errorf("add membership: %w", err)
	}
	return nil
}

func membershipPayload(m *models.Membership) map[string]interface{} {
	return map[string]interface{}{
		"id":                 m.ID,
		"stream_id":          m.StreamID,
		"user_id":            m.UserID,
		"role":               string(m.Role),
		"can_edit":           m.CanEdit,
		"can_manage_members": m.CanManageMembers,
		"created_at":         m.CreatedAt,
	}
}

// del is used for compensating deletes; its error is only logged by callers
func (db *SupabaseDatabase) del(ctx context.Context, endpoint string) error {
	_, err := db.makeRequest(ctx, http.MethodDelete, endpoint, nil, nil)
	return err
}

func (db *SupabaseDatabase) CreateWorkspace(ctx context.Context, ws *models.Workspace, stream *models.Stream, owner *models.Membership) error {
	if _, err := db.makeRequest(ctx, http.MethodPost, "/workspaces", ws, nil); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	if err := db.insertStream(ctx, stream); err != nil {
		_ = db.del(ctx, "/workspaces?id="+eq(ws.ID))
		return err
	}
	if err := db.insertMembership(ctx, owner); err != nil {
		_ = db.del(ctx, "/streams?id="+eq(stream.ID))
		_ = db.del(ctx, "/workspaces?id="+eq(ws.ID))
		return err
	}
	return nil
}

func (db *SupabaseDatabase) GetWorkspace(ctx context.Context, id string) (*models.Workspace, error) {
	return one[models.Workspace](ctx, db, "/workspaces?select=*&id="+eq(id), "get workspace")
}

func (db *SupabaseDatabase) CreateStream(ctx context.Context, stream *models.Stream, owner *models.Membership) error {
	if err := db.insertStream(ctx, stream); err != nil {
		return err
	}
	if err := db.insertMembership(ctx, owner); err != nil {
		_ = db.del(ctx, "/streams?id="+eq(stream.ID))
		return err
	}
	return nil
}

func (db *SupabaseDatabase) GetStream(ctx context.Context, id string) (*models.Stream, error) {
	return one[models.Stream](ctx, db, "/streams?select=*&id="+eq(id), "get stream")
}

func (db *SupabaseDatabase) ListStreamsByWorkspace(ctx context.Context, workspaceID string) ([]models.Stream, error) {
	var streams []models.Stream
	if err := db.get(ctx, "/streams?select=*&order=created_at.asc,id.asc&workspace_id="+eq(workspaceID), &streams); err != nil {
		return nil, fmt.Errorf("list streams: %w", err)
	}
	return streams, nil
}

func (db *SupabaseDatabase) ListUserStreams(ctx context.Context, userID string) ([]models.Stream, error) {
	var mems []struct {
		StreamID string `json:"stream_id"`
	}
	if err := db.get(ctx, "/memberships?select=stream_id&user_id="+eq(userID), &mems); err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	if len(mems) == 0 {
		return nil, nil
	}
	ids := make([]string, len(mems))
	for i, m := range mems {
		ids[i] = m.StreamID
	}
	var streams []models.Stream
	if err := db.get(ctx, "/streams?select=*&order=created_at.asc,id.asc&id="+in(ids), &streams); err != nil {
		return nil, fmt.Errorf("list streams: %w", err)
	}
	return streams, nil
}

// ================= Memberships =================

// normalizeMembership canonicalizes legacy role casing
func normalizeMembership(m *models.Membership) {
	if role, ok := models.ParseRole(string(m.Role)); ok {
		m.Role = role
	}
}

func (db *SupabaseDatabase) GetMembership(ctx context.Context, streamID, userID string) (*models.Membership, error) {
	m, err := one[models.Membership](ctx, db, "/memberships?select=*&stream_id="+eq(streamID)+"&user_id="+eq(userID), "get membership")
	if err != nil {
		return nil, err
	}
	normalizeMembership(m)
	return m, nil
}

func (db *SupabaseDatabase) FindMembershipByEmail(ctx context.Context, streamID, email string) (*models.Membership, error) {
	var users []models.User
	if err := db.get(ctx, "/users?select=id,email,name&email="+ilike(strings.TrimSpace(email)), &users); err != nil {
		return nil, fmt.Errorf("find membership by email: %w", err)
	}
	for _, u := range users {
		m, err := db.GetMembership(ctx, streamID, u.ID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		m.Email, m.Name = u.Email, u.Name
		return m, nil
	}
	return nil, fmt.Errorf("find membership by email: %w", ErrNotFound)
}

func (db *SupabaseDatabase) ListMemberships(ctx context.Context, streamID string) ([]models.Membership, error) {
	var list []models.Membership
	if err := db.get(ctx, "/memberships?select=*&order=created_at.asc,id.asc&stream_id="+eq(streamID), &list); err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	ids := make([]string, len(list))
	for i := range list {
		normalizeMembership(&list[i])
		ids[i] = list[i].UserID
	}
	users, err := db.usersByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	for i := range list {
		if u, ok := users[list[i].UserID]; ok {
			list[i].Email, list[i].Name = u.Email, u.Name
		}
	}
	return list, nil
}

func (db *SupabaseDatabase) AddMembership(ctx context.Context, m *models.Membership) error {
	return db.insertMembership(ctx, m)
}

func (db *SupabaseDatabase) DeleteMembership(ctx context.Context, streamID, userID string) error {
	data, err := db.makeRequest(ctx, http.MethodDelete, "/memberships?stream_id="+eq(streamID)+"&user_id="+eq(userID), nil, nil)
	if err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	var rows []json.RawMessage
	if json.Unmarshal(data, &rows) == nil && len(rows) == 0 {
		return fmt.Errorf("delete membership: %w", ErrNotFound)
	}
	return nil
}

// ================= Invitations =================

func normalizeInvitation(inv *models.Invitation) {
	if role, ok := models.ParseRole(string(inv.Role)); ok {
		inv.Role = role
	}
	inv.Status = models.InvitationStatus(strings.ToLower(string(inv.Status)))
}

func (db *SupabaseDatabase) CreateInvitation(ctx context.Context, inv *models.Invitation) error {
	if _, err := db.makeRequest(ctx, http.MethodPost, "/invitations", inv, nil); err != nil {
		return fmt.Errorf("create invitation: %w", err)
	}
	return nil
}

func (db *SupabaseDatabase) GetInvitation(ctx context.Context, id string) (*models.Invitation, error) {
	inv, err := one[models.Invitation](ctx, db, "/invitations?select=*&id="+eq(id), "get invitation")
	if err != nil {
		return nil, err
	}
	normalizeInvitation(inv)
	return inv, nil
}

func (db *SupabaseDatabase) FindPendingInvitation(ctx context.Context, streamID, email string) (*models.Invitation, error) {
	inv, err := one[models.Invitation](ctx, db, "/invitations?select=*&order=created_at.desc&limit=1&status=eq.pending&stream_id="+eq(streamID)+"&email="+ilike(strings.TrimSpace(email)), "find pending invitation")
	if err != nil {
		return nil, err
	}
	normalizeInvitation(inv)
	return inv, nil
}

func (db *SupabaseDatabase) listInvitations(ctx context.Context, filter string) ([]models.Invitation, error) {
	var list []models.Invitation
	if err := db.get(ctx, "/invitations?select=*&order=created_at.desc&"+filter, &list); err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	for i := range list {
		normalizeInvitation(&list[i])
	}
	return list, nil
}

func (db *SupabaseDatabase) ListInvitationsByEmail(ctx context.Context, email string) ([]models.Invitation, error) {
	return db.listInvitations(ctx, "email="+ilike(strings.TrimSpace(email)))
}

func (db *SupabaseDatabase) ListInvitationsByStream(ctx context.Context, streamID string) ([]models.Invitation, error) {
	return db.listInvitations(ctx, "stream_id="+eq(streamID))
}

// AcceptInvitation claims the invitation with a status=pending filter, then
// inserts the membership ignoring duplicates. If the insert fails for any
// other reason the claim is reverted so the invitation stays usable.
func (db *SupabaseDatabase) AcceptInvitation(ctx context.Context, invitationID string, m *models.Membership, acceptedAt time.Time) (AcceptOutcome, error) {
	// mirrored first: a user row without a membership is harmless if the claim loses
	if err := db.mirrorMember(ctx, m); err != nil {
		return AcceptOutcome{}, err
	}
	data, err := db.makeRequest(ctx, http.MethodPatch, "/invitations?id="+eq(invitationID)+"&status=eq.pending", map[string]interface{}{
		"status":      string(models.InvitationAccepted),
		"accepted_by": m.UserID,
		"accepted_at": acceptedAt.UTC(),
	}, nil)
	if err != nil {
		return AcceptOutcome{}, fmt.Errorf("claim invitation: %w", err)
	}
	var claimed []json.RawMessage
	if err := json.Unmarshal(data, &claimed); err != nil {
		return AcceptOutcome{}, fmt.Errorf("claim invitation: %w", err)
	}
	if len(claimed) == 0 {
		return AcceptOutcome{}, fmt.Errorf("claim invitation: %w", ErrConflict)
	}

	data, err = db.makeRequest(ctx, http.MethodPost, "/memberships?on_conflict=stream_id,user_id", membershipPayload(m),
		map[string]string{"Prefer": "resolution=ignore-duplicates,return=representation"})
	if err != nil && !errors.Is(err, ErrDuplicate) {
		// use a fresh context: the request context may be what failed
		revertCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, revertErr := db.makeRequest(revertCtx, http.MethodPatch, "/invitations?id="+eq(invitationID)+"&status=eq.accepted&accepted_by="+eq(m.UserID), map[string]interface{}{
			"status":      string(models.InvitationPending),
			"accepted_by": nil,
			"accepted_at": nil,
		}, nil)
		if revertErr != nil {
			return AcceptOutcome{}, fmt.Errorf("insert membership: %w (revert claim: %v)", err, revertErr)
		}
		return AcceptOutcome{}, fmt.Errorf("insert membership: %w", err)
	}
	var inserted []json.RawMessage
	if err == nil {
		_ = json.Unmarshal(data, &inserted)
	}
	return AcceptOutcome{MembershipCreated: len(inserted) > 0}, nil
}

// ================= Boards & Columns =================

func (db *SupabaseDatabase) CreateBoard(ctx context.Context, board *models.Board, columns []models.Column) error {
	if _, err := db.makeRequest(ctx, http.MethodPost, "/boards", board, nil); err != nil {
		return fmt.Errorf("create board: %w", err)
	}
	if len(columns) == 0 {
		return nil
	}
	// PostgREST inserts an array body in one statement
	if _, err := db.makeRequest(ctx, http.MethodPost, "/board_columns", columns, nil); err != nil {
		_ = db.del(ctx, "/boards?id="+eq(board.ID))
		return fmt.Errorf("create columns: %w", err)
	}
	return nil
}

func (db *SupabaseDatabase) GetBoard(ctx context.Context, id string) (*models.Board, error) {
	return one[models.Board](ctx, db, "/boards?select=*&id="+eq(id), "get board")
}

func (db *SupabaseDatabase) ListBoardsByStream(ctx context.Context, streamID string) ([]models.Board, error) {
	var list []models.Board
	if err := db.get(ctx, "/boards?select=*&order=created_at.asc,id.asc&stream_id="+eq(streamID), &list); err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	return list, nil
}

func (db *SupabaseDatabase) CreateColumn(ctx context.Context, col *models.Column) error {
	if _, err := db.makeRequest(ctx, http.MethodPost, "/board_columns", col, nil); err != nil {
		return fmt.Errorf("create column: %w", err)
	}
	return nil
}

func (db *SupabaseDatabase) GetColumn(ctx context.Context, id string) (*models.Column, error) {
	return one[models.Column](ctx, db, "/board_columns?select=*&id="+eq(id), "get column")
}

func (db *SupabaseDatabase) ListColumnsByBoards(ctx context.Context, boardIDs []string) ([]models.Column, error) {
	if len(boardIDs) == 0 {
		return nil, nil
	}
	var list []models.Column
	if err := db.get(ctx, "/board_columns?select=*&order=position.asc,created_at.asc,id.asc&board_id="+in(boardIDs), &list); err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	return list, nil
}

func (db *SupabaseDatabase) maxPosition(ctx context.Context, table, filter string) (int64, bool, error) {
	var rows []struct {
		Position int64 `json:"position"`
	}
	if err := db.get(ctx, "/"+table+"?select=position&order=position.desc&limit=1&"+filter, &rows); err != nil {
		return 0, false, fmt.Errorf("max position: %w", err)
	}
	if len(rows) == 0 {
		return 0, false, nil
	}
	return rows[0].Position, true, nil
}

func (db *SupabaseDatabase) MaxColumnPosition(ctx context.Context, boardID string) (int64, bool, error) {
	return db.maxPosition(ctx, "board_columns", "board_id="+eq(boardID))
}

// ================= Entries =================

func (db *SupabaseDatabase) attachAssignees(ctx context.Context, entries []models.Entry) error {
	var ids []string
	seen := map[string]bool{}
	for _, e := range entries {
		if e.AssignedTo != nil && !seen[*e.AssignedTo] {
			seen[*e.AssignedTo] = true
			ids = append(ids, *e.AssignedTo)
		}
	}
	users, err := db.usersByIDs(ctx, ids)
	if err != nil {
		return err
	}
	for i := range entries {
		if entries[i].AssignedTo == nil {
			continue
		}
		if u, ok := users[*entries[i].AssignedTo]; ok {
			entries[i].Assignee = &models.Assignee{ID: u.ID, Name: u.Name, Email: u.Email}
		}
	}
	return nil
}

func (db *SupabaseDatabase) CreateEntry(ctx context.Context, e *models.Entry) error {
	if _, err := db.makeRequest(ctx, http.MethodPost, "/board_entries", e, nil); err != nil {
		return fmt.Errorf("create entry: %w", err)
	}
	return nil
}

func (db *SupabaseDatabase) GetEntry(ctx context.Context, id string) (*models.Entry, error) {
	e, err := one[models.Entry](ctx, db, "/board_entries?select=*&id="+eq(id), "get entry")
	if err != nil {
		return nil, err
	}
	single := []models.Entry{*e}
	if err := db.attachAssignees(ctx, single); err != nil {
		return nil, fmt.Errorf("get entry assignee: %w", err)
	}
	return &single[0], nil
}

func (db *SupabaseDatabase) ListEntriesByColumns(ctx context.Context, columnIDs []string) ([]models.Entry, error) {
	if len(columnIDs) == 0 {
		return nil, nil
	}
	var list []models.Entry
	if err := db.get(ctx, "/board_entries?select=*&order=position.asc,created_at.asc,id.asc&column_id="+in(columnIDs), &list); err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	if err := db.attachAssignees(ctx, list); err != nil {
		return nil, fmt.Errorf("list entry assignees: %w", err)
	}
	return list, nil
}

func (db *SupabaseDatabase) MaxEntryPosition(ctx context.Context, columnID string) (int64, bool, error) {
	return db.maxPosition(ctx, "board_entries", "column_id="+eq(columnID))
}

func (db *SupabaseDatabase) UpdateEntryPartial(ctx context.Context, entryID string, patch map[string]interface{}) (*models.Entry, error) {
	if strings.TrimSpace(entryID) == "" {
		return nil, fmt.Errorf("entry id required")
	}
	body := map[string]interface{}{}
	for _, col := range entryPatchColumns {
		v, ok := patch[col]
		if !ok {
			continue
		}
		switch col {
		case "column_id":
			if s, isStr := v.(string); !isStr || strings.TrimSpace(s) == "" {
				continue
			}
		case "assigned_to":
			if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
				v = nil
			}
		default:
			if v == nil {
				continue
			}
		}
		body[col] = v
	}
	if len(body) == 0 {
		return db.GetEntry(ctx, entryID)
	}
	body["updated_at"] = time.Now().UTC()

	data, err := db.makeRequest(ctx, http.MethodPatch, "/board_entries?id="+eq(entryID), body, nil)
	if err != nil {
		return nil, fmt.Errorf("update entry: %w", err)
	}
	var rows []models.Entry
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("update entry: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("update entry: %w", ErrNotFound)
	}
	if err := db.attachAssignees(ctx, rows); err != nil {
		return nil, fmt.Errorf("update entry assignee: %w", err)
	}
	return &rows[0], nil
}

// RenumberColumn issues one PATCH per entry. Each write is idempotent, so a
// partial failure is repaired by the next renumber.
func (db *SupabaseDatabase) RenumberColumn(ctx context.Context, columnID string, orderedIDs []string, spacing int64) error {
	now := time.Now().UTC()
	for i, id := range orderedIDs {
		_, err := db.makeRequest(ctx, http.MethodPatch, "/board_entries?id="+eq(id), map[string]interface{}{
			"column_id":  columnID,
			"position":   int64(i+1) * spacing,
			"updated_at": now,
		}, map[string]string{"Prefer": "return=minimal"})
		if err != nil {
			return fmt.Errorf("renumber column: %w", err)
		}
	}
	return nil
}

// ================= Lifecycle =================

func (db *SupabaseDatabase) HealthCheck(ctx context.Context) error {
	_, err := db.makeRequest(ctx, http.MethodGet, "/workspaces?select=id&limit=1", nil, nil)
	return err
}

func (db *SupabaseDatabase) Close() error {
	db.httpClient.CloseIdleConnections()
	return nil
}
