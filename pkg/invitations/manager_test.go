package invitations

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
	"pipeline-crm-backend/pkg/notify"
	"pipeline-crm-backend/pkg/realtime"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent []notify.InvitationEmail
	// err, when set, is reported as the outcome of every send
	err error
}

func (f *fakeMailer) Dispatch(_ context.Context, msg notify.InvitationEmail, onFailure func(error)) {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	err := f.err
	f.mu.Unlock()
	if err != nil && onFailure != nil {
		onFailure(err)
	}
}

type recorder struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (r *recorder) Publish(_ context.Context, ev realtime.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type env struct {
	store  *database.SQLDatabase
	mgr    *Manager
	mailer *fakeMailer
	clock  *testClock
}

// newEnv opens a temp store with stream s1 owned by "owner"; "viewer" is a
// viewer member. bob and carol exist as users without memberships.
func newEnv(t *testing.T) *env {
	t.Helper()
	store, err := database.NewSQLiteDatabase(filepath.Join(t.TempDir(), "inv.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	start := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	for _, u := range []string{"owner", "viewer", "bob", "carol"} {
		if err := store.UpsertUser(ctx, &models.User{ID: u, Email: u + "@example.com", Name: u}); err != nil {
			t.Fatalf("upsert %s: %v", u, err)
		}
	}
	ws := &models.Workspace{ID: "ws1", Name: "Acme", OwnerID: "owner", CreatedAt: start}
	stream := &models.Stream{ID: "s1", WorkspaceID: "ws1", Name: "Enterprise", CreatedAt: start}
	if err := store.CreateWorkspace(ctx, ws, stream, models.NewMembership("m1", "s1", "owner", models.RoleOwner, start)); err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	if err := store.AddMembership(ctx, models.NewMembership("m2", "s1", "viewer", models.RoleViewer, start)); err != nil {
		t.Fatalf("add viewer: %v", err)
	}

	clock := &testClock{now: start}
	mailer := &fakeMailer{}
	n := 0
	var mu sync.Mutex
	mgr := NewManager(store, Config{AppBaseURL: "https://crm.example.com/"},
		WithMailer(mailer),
		WithClock(clock.Now),
		WithTokenGenerator(func() (string, error) {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("tok%d", n), nil
		}),
	)
	return &env{store: store, mgr: mgr, mailer: mailer, clock: clock}
}

func TestCreateInvitation(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	res, err := e.mgr.CreateInvitation(context.Background(), "owner", "s1", "  Bob@Example.COM ", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.InviteLink != "https://crm.example.com/invite/tok1" {
		t.Fatalf("link = %q", res.InviteLink)
	}
	inv, err := e.store.GetInvitation(context.Background(), res.InvitationID)
	if err != nil {
		t.Fatalf("get invitation: %v", err)
	}
	if inv.Email != "bob@example.com" || inv.Role != models.RoleMember || inv.Status != models.InvitationPending {
		t.Fatalf("invitation = %+v", inv)
	}
	if !inv.ExpiresAt.Equal(inv.CreatedAt.Add(7 * 24 * time.Hour)) {
		t.Fatalf("expires_at = %s, want created_at + 7d", inv.ExpiresAt)
	}
	if len(e.mailer.sent) != 1 || e.mailer.sent[0].To != "bob@example.com" || e.mailer.sent[0].StreamName != "Enterprise" {
		t.Fatalf("mail = %+v", e.mailer.sent)
	}
}

func TestCreateInvitationReportsFailedEmail(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	rec := &recorder{}
	e.mailer.err = errors.New("smtp relay refused")
	mgr := NewManager(e.store, Config{AppBaseURL: "https://crm.example.com"},
		WithMailer(e.mailer), WithPublisher(rec), WithClock(e.clock.Now))

	res, err := mgr.CreateInvitation(context.Background(), "owner", "s1", "bob@example.com", "member")
	if err != nil {
		t.Fatalf("create should survive a failed email: %v", err)
	}
	if !res.EmailQueued {
		t.Fatal("EmailQueued = false with a mailer configured")
	}
	var failure *EmailFailure
	for _, ev := range rec.events {
		if ev.Table == TableInvitationEmails {
			f := ev.Record.(EmailFailure)
			failure = &f
			if ev.StreamID != "s1" {
				t.Fatalf("failure event stream = %q", ev.StreamID)
			}
		}
	}
	if failure == nil || failure.InvitationID != res.InvitationID || failure.Email != "bob@example.com" {
		t.Fatalf("failure event = %+v, events = %+v", failure, rec.events)
	}
	if _, err := e.store.GetInvitation(context.Background(), res.InvitationID); err != nil {
		t.Fatalf("invitation rolled back: %v", err)
	}
}

func TestCreateInvitationWithoutMailer(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	mgr := NewManager(e.store, Config{AppBaseURL: "https://crm.example.com"}, WithClock(e.clock.Now))

	res, err := mgr.CreateInvitation(context.Background(), "owner", "s1", "bob@example.com", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.EmailQueued {
		t.Fatal("EmailQueued = true without a mailer")
	}
}

func TestCreateInvitationReusesPending(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	first, err := e.mgr.CreateInvitation(ctx, "owner", "s1", "bob@example.com", "admin")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := e.mgr.CreateInvitation(ctx, "owner", "s1", "BOB@example.com", "admin")
	if err != nil {
		t.Fatalf("create again: %v", err)
	}
	if second.InvitationID != first.InvitationID || !second.Reused {
		t.Fatalf("second = %+v, want reuse of %s", second, first.InvitationID)
	}
	if len(e.mailer.sent) != 2 {
		t.Fatalf("emails = %d, want a resend", len(e.mailer.sent))
	}

	e.clock.Advance(8 * 24 * time.Hour)
	third, err := e.mgr.CreateInvitation(ctx, "owner", "s1", "bob@example.com", "admin")
	if err != nil {
		t.Fatalf("create after expiry: %v", err)
	}
	if third.InvitationID == first.InvitationID {
		t.Fatal("expired invitation was reused")
	}
}

func TestCreateInvitationRejects(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		inviter string
		email   string
		role    string
		kind    apperrors.Kind
	}{
		{"viewer inviter", "viewer", "bob@example.com", "member", apperrors.Forbidden},
		{"non-member inviter", "carol", "bob@example.com", "member", apperrors.Forbidden},
		{"unknown role", "owner", "bob@example.com", "superuser", apperrors.InvalidInput},
		{"empty email", "owner", "  ", "member", apperrors.InvalidInput},
		{"no domain dot", "owner", "bob@localhost", "member", apperrors.InvalidInput},
		{"display name", "owner", "Bob <bob@example.com>", "member", apperrors.InvalidInput},
		{"existing member", "owner", "VIEWER@example.com", "member", apperrors.AlreadyMember},
	}
	for _, tc := range cases {
		_, err := e.mgr.CreateInvitation(ctx, tc.inviter, "s1", tc.email, tc.role)
		if !apperrors.Is(err, tc.kind) {
			t.Fatalf("%s: error = %v, want %s", tc.name, err, tc.kind)
		}
	}
	list, err := e.store.ListInvitationsByStream(ctx, "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("rejected creates stored %d rows", len(list))
	}
}

func TestOnlyOwnersInviteOwners(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	if err := e.store.AddMembership(ctx, models.NewMembership("m3", "s1", "carol", models.RoleAdmin, e.clock.Now())); err != nil {
		t.Fatalf("add admin: %v", err)
	}

	if _, err := e.mgr.CreateInvitation(ctx, "carol", "s1", "bob@example.com", "OWNER"); !apperrors.Is(err, apperrors.Forbidden) {
		t.Fatalf("admin inviting an owner: error = %v, want Forbidden", err)
	}
	res, err := e.mgr.CreateInvitation(ctx, "owner", "s1", "bob@example.com", "owner")
	if err != nil {
		t.Fatalf("owner inviting an owner: %v", err)
	}
	if _, err := e.mgr.AcceptInvitation(ctx, res.InvitationID, "bob", "bob@example.com"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	m, err := e.store.GetMembership(ctx, "s1", "bob")
	if err != nil {
		t.Fatalf("membership: %v", err)
	}
	if m.Role != models.RoleOwner || !m.CanManageMembers {
		t.Fatalf("membership = %+v", m)
	}
}

func TestResolveInvitationReportsExpiryLazily(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	res, err := e.mgr.CreateInvitation(ctx, "owner", "s1", "bob@example.com", "viewer")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	view, err := e.mgr.ResolveInvitation(ctx, res.InvitationID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if view.Status != models.InvitationPending || view.StreamName != "Enterprise" || view.Role != models.RoleViewer {
		t.Fatalf("view = %+v", view)
	}

	e.clock.Advance(7*24*time.Hour + time.Second)
	view, err = e.mgr.ResolveInvitation(ctx, res.InvitationID)
	if err != nil {
		t.Fatalf("resolve after expiry: %v", err)
	}
	if view.Status != models.InvitationExpired {
		t.Fatalf("status = %q, want expired", view.Status)
	}
	stored, _ := e.store.GetInvitation(ctx, res.InvitationID)
	if stored.Status != models.InvitationPending {
		t.Fatalf("resolve rewrote status to %q", stored.Status)
	}

	if _, err := e.mgr.ResolveInvitation(ctx, "nope"); !apperrors.Is(err, apperrors.NotFound) {
		t.Fatalf("unknown token error = %v, want NotFound", err)
	}
}

func TestAcceptInvitationIsIdempotent(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	res, err := e.mgr.CreateInvitation(ctx, "owner", "s1", "bob@example.com", "admin")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	first, err := e.mgr.AcceptInvitation(ctx, res.InvitationID, "bob", "Bob@Example.com")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if first.StreamID != "s1" || first.AlreadyMember {
		t.Fatalf("first accept = %+v", first)
	}
	m, err := e.store.GetMembership(ctx, "s1", "bob")
	if err != nil {
		t.Fatalf("membership: %v", err)
	}
	if m.Role != models.RoleAdmin || !m.CanEdit || !m.CanManageMembers {
		t.Fatalf("membership = %+v", m)
	}

	second, err := e.mgr.AcceptInvitation(ctx, res.InvitationID, "bob", "bob@example.com")
	if err != nil {
		t.Fatalf("second accept: %v", err)
	}
	if !second.AlreadyMember {
		t.Fatal("second accept did not report already_member")
	}

	_, err = e.mgr.AcceptInvitation(ctx, res.InvitationID, "carol", "carol@example.com")
	if !apperrors.Is(err, apperrors.AlreadyUsed) {
		t.Fatalf("other user error = %v, want AlreadyUsed", err)
	}
}

func TestAcceptInvitationFailures(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	res, err := e.mgr.CreateInvitation(ctx, "owner", "s1", "bob@example.com", "member")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = e.mgr.AcceptInvitation(ctx, res.InvitationID, "carol", "carol@example.com")
	if !apperrors.Is(err, apperrors.EmailMismatch) {
		t.Fatalf("mismatch error = %v, want EmailMismatch", err)
	}
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) || appErr.Metadata["email"] != "bob@example.com" {
		t.Fatalf("mismatch metadata = %+v", appErr)
	}

	if _, err := e.mgr.AcceptInvitation(ctx, "missing", "bob", "bob@example.com"); !apperrors.Is(err, apperrors.NotFound) {
		t.Fatalf("missing error = %v, want NotFound", err)
	}

	e.clock.Advance(8 * 24 * time.Hour)
	if _, err := e.mgr.AcceptInvitation(ctx, res.InvitationID, "bob", "bob@example.com"); !apperrors.Is(err, apperrors.Expired) {
		t.Fatalf("expired error = %v, want Expired", err)
	}
	if _, err := e.store.GetMembership(ctx, "s1", "bob"); !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("failed accepts created a membership: %v", err)
	}
}

func TestAcceptMirrorsUserForLaterInvites(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	// dave has no users row: he only ever presented a bearer token
	res, err := e.mgr.CreateInvitation(ctx, "owner", "s1", "dave@example.com", "member")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := e.mgr.AcceptInvitation(ctx, res.InvitationID, "dave", "Dave@Example.com"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	_, err = e.mgr.CreateInvitation(ctx, "owner", "s1", "dave@example.com", "member")
	if !apperrors.Is(err, apperrors.AlreadyMember) {
		t.Fatalf("re-invite error = %v, want AlreadyMember", err)
	}
	list, err := e.store.ListInvitationsByStream(ctx, "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("invitations = %d, want 1", len(list))
	}
	if len(e.mailer.sent) != 1 {
		t.Fatalf("emails sent = %d, want 1", len(e.mailer.sent))
	}
}

func TestConcurrentAcceptBySameUser(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	res, err := e.mgr.CreateInvitation(ctx, "owner", "s1", "bob@example.com", "member")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const workers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	fresh := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.mgr.AcceptInvitation(ctx, res.InvitationID, "bob", "bob@example.com")
			if err != nil {
				t.Errorf("accept: %v", err)
				return
			}
			if !out.AlreadyMember {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if fresh != 1 {
		t.Fatalf("accepts creating a membership = %d, want 1", fresh)
	}
	members, err := e.store.ListMemberships(ctx, "s1")
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	count := 0
	for _, m := range members {
		if m.UserID == "bob" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("bob memberships = %d, want 1", count)
	}
}

func TestListInvitations(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	if _, err := e.mgr.CreateInvitation(ctx, "owner", "s1", "bob@example.com", "member"); err != nil {
		t.Fatalf("create: %v", err)
	}

	mine, err := e.mgr.ListMyInvitations(ctx, "BOB@example.com")
	if err != nil {
		t.Fatalf("list mine: %v", err)
	}
	if len(mine) != 1 || mine[0].StreamName != "Enterprise" {
		t.Fatalf("mine = %+v", mine)
	}
	if _, err := e.mgr.ListStreamInvitations(ctx, "viewer", "s1"); !apperrors.Is(err, apperrors.Forbidden) {
		t.Fatalf("viewer list error = %v, want Forbidden", err)
	}
	all, err := e.mgr.ListStreamInvitations(ctx, "owner", "s1")
	if err != nil || len(all) != 1 {
		t.Fatalf("stream list = %+v err=%v", all, err)
	}
}

func TestNormalizeEmail(t *testing.T) {
	t.Parallel()
	got, err := NormalizeEmail(" Ana.Silva@Example.CO.uk ")
	if err != nil || got != "ana.silva@example.co.uk" {
		t.Fatalf("NormalizeEmail = %q, %v", got, err)
	}
	for _, bad := range []string{"ana", "ana@", "@example.com", "ana@example.", "ana@.com"} {
		if _, err := NormalizeEmail(bad); !apperrors.Is(err, apperrors.InvalidInput) {
			t.Fatalf("NormalizeEmail(%q) error = %v, want InvalidInput", bad, err)
		}
	}
}
