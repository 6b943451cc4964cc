package apperrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMatchesByKind(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("accept: %w", New(Expired, "invitation expired"))
	if !errors.Is(err, New(Expired, "")) {
		t.Fatal("errors.Is did not match wrapped error by kind")
	}
	if errors.Is(err, New(NotFound, "")) {
		t.Fatal("errors.Is matched a different kind")
	}
	if !Is(err, Expired) {
		t.Fatal("Is(err, Expired) = false")
	}
}

func TestKindOfUnclassified(t *testing.T) {
	t.Parallel()

	if got := KindOf(nil); got != "" {
		t.Fatalf("KindOf(nil) = %q, want empty", got)
	}
	if got := KindOf(errors.New("connection reset")); got != PersistenceError {
		t.Fatalf("KindOf(raw) = %q, want %q", got, PersistenceError)
	}
	if !PersistenceError.Retryable() || Forbidden.Retryable() {
		t.Fatal("only persistence errors are retryable")
	}
}

func TestFromKeepsCause(t *testing.T) {
	t.Parallel()

	raw := errors.New("dial tcp: timeout")
	got := From(raw)
	if got.Kind != PersistenceError {
		t.Fatalf("From(raw).Kind = %q, want %q", got.Kind, PersistenceError)
	}
	if !errors.Is(got, raw) {
		t.Fatal("From dropped the cause")
	}

	classified := New(Forbidden, "nope")
	if From(classified) != classified {
		t.Fatal("From rewrapped an already classified error")
	}
}

func TestWithMetadataCopies(t *testing.T) {
	t.Parallel()

	base := New(EmailMismatch, "wrong account")
	withEmail := base.WithMetadata("email", "bob@x.com")
	if base.Metadata != nil {
		t.Fatal("WithMetadata mutated the receiver")
	}
	if got := withEmail.Metadata["email"]; got != "bob@x.com" {
		t.Fatalf("metadata email = %q, want %q", got, "bob@x.com")
	}
}
