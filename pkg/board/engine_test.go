package board

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"pipeline-crm-backend/pkg/apperrors"
	"pipeline-crm-backend/pkg/database"
	"pipeline-crm-backend/pkg/models"
	"pipeline-crm-backend/pkg/realtime"
)

type recorder struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (r *recorder) Publish(_ context.Context, ev realtime.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type fixture struct {
	store  *database.SQLDatabase
	engine *Engine
	events *recorder
	stream string
	board  *models.BoardView
	col    map[string]string // column name -> id
}

// newFixture opens a temp store with one stream owned by "owner", a viewer
// member "viewer", and a board seeded from the default template.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := database.NewSQLiteDatabase(filepath.Join(t.TempDir(), "board.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	ws := &models.Workspace{ID: "ws1", Name: "Acme", OwnerID: "owner", CreatedAt: now}
	stream := &models.Stream{ID: "s1", WorkspaceID: "ws1", Name: models.DefaultStreamName, IsDefault: true, CreatedAt: now}
	if err := store.CreateWorkspace(ctx, ws, stream, models.NewMembership("m1", "s1", "owner", models.RoleOwner, now)); err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	if err := store.AddMembership(ctx, models.NewMembership("m2", "s1", "viewer", models.RoleViewer, now)); err != nil {
		t.Fatalf("add viewer: %v", err)
	}

	events := &recorder{}
	clock := now
	engine := NewEngine(store, WithPublisher(events), WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))
	view, err := engine.SeedBoard(ctx, "s1", "", DefaultTemplate)
	if err != nil {
		t.Fatalf("seed board: %v", err)
	}
	cols := map[string]string{}
	for _, c := range view.Columns {
		cols[c.Name] = c.ID
	}
	return &fixture{store: store, engine: engine, events: events, stream: "s1", board: view, col: cols}
}

func (f *fixture) addEntry(t *testing.T, column, title string) *models.Entry {
	t.Helper()
	e, err := f.engine.CreateEntry(context.Background(), "owner", EntryInput{ColumnID: f.col[column], Title: title})
	if err != nil {
		t.Fatalf("create entry %s: %v", title, err)
	}
	return e
}

func (f *fixture) titles(t *testing.T, column string) []string {
	t.Helper()
	boards, err := f.engine.LoadBoard(context.Background(), "owner", f.stream)
	if err != nil {
		t.Fatalf("load board: %v", err)
	}
	for _, c := range boards[0].Columns {
		if c.ID == f.col[column] {
			out := make([]string, len(c.Entries))
			for i, e := range c.Entries {
				out[i] = e.Title
			}
			return out
		}
	}
	t.Fatalf("column %s not on board", column)
	return nil
}

func TestLoadBoardNestsInOrder(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.addEntry(t, "Lead", "Acme")
	f.addEntry(t, "Lead", "Globex")

	boards, err := f.engine.LoadBoard(context.Background(), "viewer", f.stream)
	if err != nil {
		t.Fatalf("load board: %v", err)
	}
	if len(boards) != 1 {
		t.Fatalf("boards = %d, want 1", len(boards))
	}
	var names []string
	for _, c := range boards[0].Columns {
		names = append(names, c.Name)
	}
	if fmt.Sprint(names) != "[Lead Contacted Proposal Won Lost]" {
		t.Fatalf("columns = %v", names)
	}
	if got := f.titles(t, "Lead"); fmt.Sprint(got) != "[Acme Globex]" {
		t.Fatalf("lead entries = %v", got)
	}
	if entries := boards[0].Columns[1].Entries; entries == nil || len(entries) != 0 {
		t.Fatalf("empty column entries = %#v, want empty slice", entries)
	}
}

func TestLoadBoardRejectsNonMember(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_, err := f.engine.LoadBoard(context.Background(), "stranger", f.stream)
	if !apperrors.Is(err, apperrors.Forbidden) {
		t.Fatalf("error = %v, want Forbidden", err)
	}
}

func TestMoveEntryAppendsToDestination(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.addEntry(t, "Won", "Existing")
	e := f.addEntry(t, "Lead", "Acme")
	before := f.events.count()

	moved, err := f.engine.MoveEntry(context.Background(), "owner", e.ID, f.col["Lead"], f.col["Won"])
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if moved.ColumnID != f.col["Won"] || moved.Position != 2000 {
		t.Fatalf("moved = column %s position %d, want Won at 2000", moved.ColumnID, moved.Position)
	}
	if got := f.titles(t, "Won"); fmt.Sprint(got) != "[Existing Acme]" {
		t.Fatalf("won entries = %v", got)
	}
	if f.events.count() != before+1 {
		t.Fatalf("events = %d, want one more than %d", f.events.count(), before)
	}
}

func TestMoveEntryNoOpWhenSourceEqualsDestination(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	e := f.addEntry(t, "Lead", "Acme")
	before := f.events.count()

	got, err := f.engine.MoveEntry(context.Background(), "owner", e.ID, f.col["Lead"], f.col["Lead"])
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if got.Position != e.Position || got.ColumnID != e.ColumnID {
		t.Fatalf("entry changed: %+v", got)
	}
	if f.events.count() != before {
		t.Fatal("no-op move published an event")
	}
}

func TestMoveEntryConvergesFromStaleSource(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	e := f.addEntry(t, "Lead", "Acme")
	ctx := context.Background()

	// client A moved it to Contacted; client B still believes it is in Lead
	if _, err := f.engine.MoveEntry(ctx, "owner", e.ID, f.col["Lead"], f.col["Contacted"]); err != nil {
		t.Fatalf("first move: %v", err)
	}
	moved, err := f.engine.MoveEntry(ctx, "owner", e.ID, f.col["Lead"], f.col["Proposal"])
	if err != nil {
		t.Fatalf("stale move: %v", err)
	}
	if moved.ColumnID != f.col["Proposal"] {
		t.Fatalf("entry in %s, want Proposal", moved.ColumnID)
	}

	// repeating the same move is a no-op
	again, err := f.engine.MoveEntry(ctx, "owner", e.ID, f.col["Contacted"], f.col["Proposal"])
	if err != nil {
		t.Fatalf("repeat move: %v", err)
	}
	if again.Position != moved.Position {
		t.Fatalf("repeat move changed position %d -> %d", moved.Position, again.Position)
	}
}

func TestMoveEntryValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	e := f.addEntry(t, "Lead", "Acme")
	ctx := context.Background()

	other, err := f.engine.SeedBoard(ctx, f.stream, "Renewals", "renewals")
	if err != nil {
		t.Fatalf("seed second board: %v", err)
	}

	cases := []struct {
		name string
		user string
		to   string
		kind apperrors.Kind
	}{
		{"other board", "owner", other.Columns[0].ID, apperrors.InvalidInput},
		{"missing column", "owner", "no-such-column", apperrors.NotFound},
		{"viewer", "viewer", f.col["Won"], apperrors.Forbidden},
		{"stranger", "stranger", f.col["Won"], apperrors.Forbidden},
	}
	for _, tc := range cases {
		_, err := f.engine.MoveEntry(ctx, tc.user, e.ID, f.col["Lead"], tc.to)
		if !apperrors.Is(err, tc.kind) {
			t.Fatalf("%s: error = %v, want %s", tc.name, err, tc.kind)
		}
	}
	if _, err := f.engine.MoveEntry(ctx, "owner", "missing", "", f.col["Won"]); !apperrors.Is(err, apperrors.NotFound) {
		t.Fatalf("missing entry error = %v, want NotFound", err)
	}
}

type failingUpdates struct {
	Store
}

func (failingUpdates) UpdateEntryPartial(context.Context, string, map[string]interface{}) (*models.Entry, error) {
	return nil, errors.New("connection reset")
}

func TestMoveEntryStoreFailureIsRetryable(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	e := f.addEntry(t, "Lead", "Acme")

	engine := NewEngine(failingUpdates{Store: f.store})
	_, err := engine.MoveEntry(context.Background(), "owner", e.ID, f.col["Lead"], f.col["Won"])
	if !apperrors.Is(err, apperrors.PersistenceError) || !apperrors.KindOf(err).Retryable() {
		t.Fatalf("error = %v, want retryable PersistenceError", err)
	}
}

func TestReorderEntryUsesMidpoint(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.addEntry(t, "Lead", "A")
	f.addEntry(t, "Lead", "B")
	c := f.addEntry(t, "Lead", "C")

	got, err := f.engine.ReorderEntry(context.Background(), "owner", c.ID, f.col["Lead"], 1)
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if got.Position != 1500 {
		t.Fatalf("position = %d, want 1500", got.Position)
	}
	if titles := f.titles(t, "Lead"); fmt.Sprint(titles) != "[A C B]" {
		t.Fatalf("order = %v", titles)
	}
}

func TestReorderEntryRenumbersWhenGapIsExhausted(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	a := f.addEntry(t, "Lead", "A")
	b := f.addEntry(t, "Lead", "B")
	x := f.addEntry(t, "Contacted", "X")

	if _, err := f.store.UpdateEntryPartial(ctx, b.ID, map[string]interface{}{"position": a.Position + 1}); err != nil {
		t.Fatalf("squeeze: %v", err)
	}
	got, err := f.engine.ReorderEntry(ctx, "owner", x.ID, f.col["Lead"], 1)
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if got.ColumnID != f.col["Lead"] || got.Position != 2000 {
		t.Fatalf("reordered = column %s position %d, want Lead at 2000", got.ColumnID, got.Position)
	}
	if titles := f.titles(t, "Lead"); fmt.Sprint(titles) != "[A X B]" {
		t.Fatalf("order = %v", titles)
	}
}

func TestCreateEntryValidates(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.CreateEntry(ctx, "owner", EntryInput{ColumnID: f.col["Lead"]}); !apperrors.Is(err, apperrors.InvalidInput) {
		t.Fatalf("missing title error = %v", err)
	}
	if _, err := f.engine.CreateEntry(ctx, "owner", EntryInput{ColumnID: f.col["Lead"], Title: "x", Priority: "urgent"}); !apperrors.Is(err, apperrors.InvalidInput) {
		t.Fatalf("bad priority error = %v", err)
	}
	nobody := "nobody"
	if _, err := f.engine.CreateEntry(ctx, "owner", EntryInput{ColumnID: f.col["Lead"], Title: "x", AssignedTo: &nobody}); !apperrors.Is(err, apperrors.InvalidInput) {
		t.Fatalf("non-member assignee error = %v", err)
	}
	if _, err := f.engine.CreateEntry(ctx, "viewer", EntryInput{ColumnID: f.col["Lead"], Title: "x"}); !apperrors.Is(err, apperrors.Forbidden) {
		t.Fatalf("viewer error = %v", err)
	}

	e, err := f.engine.CreateEntry(ctx, "owner", EntryInput{ColumnID: f.col["Lead"], Title: " Deal ", Priority: "HIGH"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if e.Title != "Deal" || e.Priority != models.PriorityHigh || e.Position != PositionGap {
		t.Fatalf("entry = %+v", e)
	}
}

func TestCreateColumnAppends(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	col, err := f.engine.CreateColumn(context.Background(), "owner", f.board.ID, "Negotiation")
	if err != nil {
		t.Fatalf("create column: %v", err)
	}
	if col.Position != 6000 {
		t.Fatalf("position = %d, want 6000", col.Position)
	}
}
