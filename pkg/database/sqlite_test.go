package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"pipeline-crm-backend/pkg/models"
)

func openTempStore(t *testing.T) *SQLDatabase {
	t.Helper()
	store, err := NewSQLiteDatabase(filepath.Join(t.TempDir(), "crm.sqlite"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// seedStream creates a workspace with one stream owned by ownerID.
func seedStream(t *testing.T, store *SQLDatabase, ownerID string) *models.Stream {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if err := store.UpsertUser(ctx, &models.User{ID: ownerID, Email: ownerID + "@example.com", Name: "Owner"}); err != nil {
		t.Fatalf("upsert owner: %v", err)
	}
	ws := &models.Workspace{ID: "ws-" + ownerID, Name: "Acme", OwnerID: ownerID, CreatedAt: now}
	stream := &models.Stream{ID: "st-" + ownerID, WorkspaceID: ws.ID, Name: models.DefaultStreamName, IsDefault: true, CreatedAt: now}
	owner := models.NewMembership("m-"+ownerID, stream.ID, ownerID, models.RoleOwner, now)
	if err := store.CreateWorkspace(ctx, ws, stream, owner); err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	return stream
}

func seedInvitation(t *testing.T, store *SQLDatabase, id, streamID, email string) {
	t.Helper()
	now := time.Now().UTC()
	inv := &models.Invitation{
		ID:        id,
		StreamID:  streamID,
		Email:     email,
		Role:      models.RoleMember,
		Status:    models.InvitationPending,
		InvitedBy: "owner",
		CreatedAt: now,
		ExpiresAt: now.Add(7 * 24 * time.Hour),
	}
	if err := store.CreateInvitation(context.Background(), inv); err != nil {
		t.Fatalf("create invitation: %v", err)
	}
}

func TestCreateWorkspaceStoresOwnerMembership(t *testing.T) {
	t.Parallel()
	store := openTempStore(t)
	stream := seedStream(t, store, "owner")

	m, err := store.GetMembership(context.Background(), stream.ID, "owner")
	if err != nil {
		t.Fatalf("get membership: %v", err)
	}
	if m.Role != models.RoleOwner || !m.CanEdit || !m.CanManageMembers {
		t.Fatalf("owner membership = %+v", m)
	}
	streams, err := store.ListUserStreams(context.Background(), "owner")
	if err != nil {
		t.Fatalf("list user streams: %v", err)
	}
	if len(streams) != 1 || !streams[0].IsDefault {
		t.Fatalf("streams = %+v, want the default stream", streams)
	}
}

func TestMembershipUniquePerStream(t *testing.T) {
	t.Parallel()
	store := openTempStore(t)
	stream := seedStream(t, store, "owner")

	dup := models.NewMembership("m-dup", stream.ID, "owner", models.RoleMember, time.Now())
	err := store.AddMembership(context.Background(), dup)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("AddMembership duplicate error = %v, want ErrDuplicate", err)
	}
}

func TestGetMissingRowsReturnNotFound(t *testing.T) {
	t.Parallel()
	store := openTempStore(t)
	ctx := context.Background()

	if _, err := store.GetInvitation(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetInvitation error = %v, want ErrNotFound", err)
	}
	if _, err := store.GetMembership(ctx, "s", "u"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetMembership error = %v, want ErrNotFound", err)
	}
	if err := store.DeleteMembership(ctx, "s", "u"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("DeleteMembership error = %v, want ErrNotFound", err)
	}
}

func TestFindMembershipByEmailIgnoresCase(t *testing.T) {
	t.Parallel()
	store := openTempStore(t)
	stream := seedStream(t, store, "owner")

	m, err := store.FindMembershipByEmail(context.Background(), stream.ID, "OWNER@Example.com")
	if err != nil {
		t.Fatalf("find by email: %v", err)
	}
	if m.UserID != "owner" || m.Email != "owner@example.com" {
		t.Fatalf("membership = %+v", m)
	}
}

func TestAcceptInvitationClaimsOnce(t *testing.T) {
	t.Parallel()
	store := openTempStore(t)
	ctx := context.Background()
	stream := seedStream(t, store, "owner")
	seedInvitation(t, store, "inv-1", stream.ID, "bob@example.com")

	m := models.NewMembership("m-bob", stream.ID, "bob", models.RoleMember, time.Now())
	out, err := store.AcceptInvitation(ctx, "inv-1", m, time.Now())
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !out.MembershipCreated {
		t.Fatal("first accept did not create the membership")
	}

	inv, err := store.GetInvitation(ctx, "inv-1")
	if err != nil {
		t.Fatalf("get invitation: %v", err)
	}
	if inv.Status != models.InvitationAccepted || inv.AcceptedBy == nil || *inv.AcceptedBy != "bob" || inv.AcceptedAt == nil {
		t.Fatalf("invitation after accept = %+v", inv)
	}

	again := models.NewMembership("m-bob-2", stream.ID, "bob", models.RoleMember, time.Now())
	if _, err := store.AcceptInvitation(ctx, "inv-1", again, time.Now()); !errors.Is(err, ErrConflict) {
		t.Fatalf("second accept error = %v, want ErrConflict", err)
	}
}

func TestAcceptInvitationKeepsExistingMembership(t *testing.T) {
	t.Parallel()
	store := openTempStore(t)
	ctx := context.Background()
	stream := seedStream(t, store, "owner")
	seedInvitation(t, store, "inv-owner", stream.ID, "owner@example.com")

	m := models.NewMembership("m-other", stream.ID, "owner", models.RoleViewer, time.Now())
	out, err := store.AcceptInvitation(ctx, "inv-owner", m, time.Now())
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if out.MembershipCreated {
		t.Fatal("accept created a second membership")
	}
	existing, err := store.GetMembership(ctx, stream.ID, "owner")
	if err != nil {
		t.Fatalf("get membership: %v", err)
	}
	if existing.Role != models.RoleOwner {
		t.Fatalf("role = %q, want owner to be kept", existing.Role)
	}
}

func TestConcurrentAcceptCreatesOneMembership(t *testing.T) {
	t.Parallel()
	store := openTempStore(t)
	ctx := context.Background()
	stream := seedStream(t, store, "owner")
	seedInvitation(t, store, "inv-race", stream.ID, "carol@example.com")

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	created, conflicts := 0, 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := models.NewMembership(fmt.Sprintf("m-carol-%d", i), stream.ID, "carol", models.RoleMember, time.Now())
			out, err := store.AcceptInvitation(ctx, "inv-race", m, time.Now())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && out.MembershipCreated:
				created++
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				t.Errorf("accept %d: out=%+v err=%v", i, out, err)
			}
		}(i)
	}
	wg.Wait()

	if created != 1 || conflicts != workers-1 {
		t.Fatalf("created=%d conflicts=%d, want 1 and %d", created, conflicts, workers-1)
	}
	members, err := store.ListMemberships(ctx, stream.ID)
	if err != nil {
		t.Fatalf("list memberships: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("members = %d, want 2", len(members))
	}
}

func seedBoard(t *testing.T, store *SQLDatabase, streamID string, entries ...string) (*models.Board, []models.Column) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	board := &models.Board{ID: "b-" + streamID, StreamID: streamID, Name: "Pipeline", Type: "pipeline", CreatedAt: now}
	cols := []models.Column{
		{ID: "c-lead", BoardID: board.ID, Name: "Lead", Position: 1000, CreatedAt: now},
		{ID: "c-won", BoardID: board.ID, Name: "Won", Position: 2000, CreatedAt: now},
	}
	if err := store.CreateBoard(ctx, board, cols); err != nil {
		t.Fatalf("create board: %v", err)
	}
	for i, id := range entries {
		e := &models.Entry{
			ID: id, ColumnID: "c-lead", Title: id, Priority: models.PriorityMedium,
			Position: int64(i+1) * 1000, CreatedAt: now, UpdatedAt: now,
		}
		if err := store.CreateEntry(ctx, e); err != nil {
			t.Fatalf("create entry %s: %v", id, err)
		}
	}
	return board, cols
}

func TestEntriesListInPositionOrder(t *testing.T) {
	t.Parallel()
	store := openTempStore(t)
	ctx := context.Background()
	stream := seedStream(t, store, "owner")
	seedBoard(t, store, stream.ID, "e1", "e2", "e3")

	if _, err := store.UpdateEntryPartial(ctx, "e3", map[string]interface{}{"position": int64(500)}); err != nil {
		t.Fatalf("update position: %v", err)
	}
	list, err := store.ListEntriesByColumns(ctx, []string{"c-lead"})
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	got := make([]string, len(list))
	for i, e := range list {
		got[i] = e.ID
	}
	if fmt.Sprint(got) != "[e3 e1 e2]" {
		t.Fatalf("order = %v, want [e3 e1 e2]", got)
	}
	max, ok, err := store.MaxEntryPosition(ctx, "c-lead")
	if err != nil || !ok || max != 2000 {
		t.Fatalf("max position = %d ok=%v err=%v, want 2000", max, ok, err)
	}
	if _, ok, err := store.MaxEntryPosition(ctx, "c-won"); err != nil || ok {
		t.Fatalf("empty column max ok=%v err=%v, want false", ok, err)
	}
}

func TestUpdateEntryPartialTouchesOnlyGivenFields(t *testing.T) {
	t.Parallel()
	store := openTempStore(t)
	ctx := context.Background()
	stream := seedStream(t, store, "owner")
	seedBoard(t, store, stream.ID, "e1")

	e, err := store.UpdateEntryPartial(ctx, "e1", map[string]interface{}{
		"title":       "Renamed",
		"assigned_to": "owner",
		"unknown":     "ignored",
		"column_id":   "",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if e.Title != "Renamed" || e.ColumnID != "c-lead" || e.Position != 1000 {
		t.Fatalf("entry = %+v", e)
	}
	if e.Assignee == nil || e.Assignee.Email != "owner@example.com" {
		t.Fatalf("assignee = %+v, want the owner", e.Assignee)
	}

	e, err = store.UpdateEntryPartial(ctx, "e1", map[string]interface{}{"assigned_to": ""})
	if err != nil {
		t.Fatalf("clear assignee: %v", err)
	}
	if e.AssignedTo != nil || e.Assignee != nil {
		t.Fatalf("assignee not cleared: %+v", e)
	}

	if _, err := store.UpdateEntryPartial(ctx, "missing", map[string]interface{}{"title": "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing entry error = %v, want ErrNotFound", err)
	}
}

func TestRenumberColumnSpacesEntries(t *testing.T) {
	t.Parallel()
	store := openTempStore(t)
	ctx := context.Background()
	stream := seedStream(t, store, "owner")
	seedBoard(t, store, stream.ID, "e1", "e2", "e3")

	if err := store.RenumberColumn(ctx, "c-won", []string{"e2", "e1"}, 1000); err != nil {
		t.Fatalf("renumber: %v", err)
	}
	list, err := store.ListEntriesByColumns(ctx, []string{"c-won"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != "e2" || list[0].Position != 1000 || list[1].ID != "e1" || list[1].Position != 2000 {
		t.Fatalf("renumbered = %+v", list)
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "crm.sqlite")
	first, err := NewSQLiteDatabase(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	_ = first.Close()
	second, err := NewSQLiteDatabase(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	_ = second.Close()
}

func TestRebindDollar(t *testing.T) {
	t.Parallel()
	got := rebindDollar(`SELECT * FROM t WHERE a = ? AND b IN (?, ?)`)
	want := `SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)`
	if got != want {
		t.Fatalf("rebindDollar = %q, want %q", got, want)
	}
}
