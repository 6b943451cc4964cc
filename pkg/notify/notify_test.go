package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

type fakePublisher struct {
	mu     sync.Mutex
	queue  string
	bodies [][]byte
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, queue string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.queue = queue
	f.bodies = append(f.bodies, body)
	return nil
}

func TestQueueNotifierPublishesJSON(t *testing.T) {
	t.Parallel()
	pub := &fakePublisher{}
	n := NewQueueNotifier(pub, "invitation-emails")

	err := n.SendInvitation(context.Background(), InvitationEmail{InvitationID: "tok", To: "bob@example.com", Link: "https://app/invite/tok"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if pub.queue != "invitation-emails" || len(pub.bodies) != 1 {
		t.Fatalf("queue = %q bodies = %d", pub.queue, len(pub.bodies))
	}
	var got InvitationEmail
	if err := json.Unmarshal(pub.bodies[0], &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got.To != "bob@example.com" || got.Link != "https://app/invite/tok" {
		t.Fatalf("body = %+v", got)
	}
}

func TestDispatcherLogsFailures(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&syncWriter{w: &buf}, nil))
	d := NewDispatcher(NewQueueNotifier(&fakePublisher{err: errors.New("broker down")}, "q"), logger)

	var reported error
	d.Dispatch(context.Background(), InvitationEmail{InvitationID: "tok", To: "bob@example.com"}, func(err error) { reported = err })
	d.Wait()

	if !strings.Contains(buf.String(), "invitation email failed") || !strings.Contains(buf.String(), "broker down") {
		t.Fatalf("log = %q", buf.String())
	}
	if reported == nil || !strings.Contains(reported.Error(), "broker down") {
		t.Fatalf("reported = %v", reported)
	}
}

func TestDispatcherSurvivesCancelledRequest(t *testing.T) {
	t.Parallel()
	pub := &fakePublisher{}
	d := NewDispatcher(NewQueueNotifier(pub, "q"), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Dispatch(ctx, InvitationEmail{InvitationID: "tok"}, nil)
	d.Wait()

	if len(pub.bodies) != 1 {
		t.Fatalf("published = %d, want 1", len(pub.bodies))
	}
}

type syncWriter struct {
	mu sync.Mutex
	w  *bytes.Buffer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
