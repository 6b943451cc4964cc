// Package notify delivers invitation emails. Sending runs in the
// background; a failed send is logged and handed to the caller's failure
// callback, and never undoes the invitation.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// InvitationEmail is the payload of one invitation email job
type InvitationEmail struct {
	InvitationID string    `json:"invitation_id"`
	To           string    `json:"to"`
	StreamName   string    `json:"stream_name"`
	InvitedBy    string    `json:"invited_by"`
	Role         string    `json:"role"`
	Link         string    `json:"link"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Notifier sends a single email job
type Notifier interface {
	SendInvitation(ctx context.Context, msg InvitationEmail) error
}

// LogNotifier writes the job to the log instead of sending it. Used when no
// queue is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) SendInvitation(_ context.Context, msg InvitationEmail) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("invitation email (not sent, no queue configured)",
		"invitation_id", msg.InvitationID, "to", msg.To, "link", msg.Link)
	return nil
}

// Dispatcher runs sends in the background with a bounded timeout.
type Dispatcher struct {
	notifier Notifier
	logger   *slog.Logger
	timeout  time.Duration
	wg       sync.WaitGroup
}

func NewDispatcher(n Notifier, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{notifier: n, logger: logger, timeout: 15 * time.Second}
}

// Dispatch queues msg and returns immediately. onFailure, when non-nil, is
// called from the sending goroutine if the send fails.
func (d *Dispatcher) Dispatch(ctx context.Context, msg InvitationEmail, onFailure func(error)) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		if err := d.notifier.SendInvitation(sendCtx, msg); err != nil {
			d.logger.Error("invitation email failed", "invitation_id", msg.InvitationID, "to", msg.To, "error", err)
			if onFailure != nil {
				onFailure(err)
			}
		}
	}()
}

// Wait blocks until in-flight sends finish. Called on shutdown and in tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
