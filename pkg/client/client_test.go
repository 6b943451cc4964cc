package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"pipeline-crm-backend/pkg/apperrors"
)

func stubServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", "tok-owner")
}

func TestMoveEntrySendsPatch(t *testing.T) {
	t.Parallel()
	c := stubServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/api/board-entries/e1" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-owner" {
			t.Errorf("Authorization = %q", got)
		}
		var body map[string]string
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Errorf("body %q: %v", raw, err)
		}
		if body["from_column_id"] != "c1" || body["column_id"] != "c2" {
			t.Errorf("body = %v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"success":true,"data":{"id":"e1","column_id":"c2","position":2000}}`)
	})

	entry, err := c.MoveEntry(context.Background(), "e1", "c1", "c2")
	if err != nil {
		t.Fatalf("MoveEntry: %v", err)
	}
	if entry.ColumnID != "c2" || entry.Position != 2000 {
		t.Fatalf("entry = %+v", entry)
	}
}

func TestErrorKindsSurviveTheWire(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		status int
		body   string
		want   apperrors.Kind
	}{
		{"forbidden", 403, `{"success":false,"error":{"code":"FORBIDDEN","message":"no"}}`, apperrors.Forbidden},
		{"expired", 410, `{"success":false,"error":{"code":"EXPIRED","message":"old"}}`, apperrors.Expired},
		{"unknown code falls back to status", 404, `{"success":false,"error":{"code":"ROUTE","message":"?"}}`, apperrors.NotFound},
		{"retryable", 503, `{"success":false,"error":{"code":"PERSISTENCE_ERROR","message":"retry"}}`, apperrors.PersistenceError},
		{"not json", 502, `<html>bad gateway</html>`, apperrors.PersistenceError},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := stubServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			_, err := c.LoadBoard(context.Background(), "s1")
			if got := apperrors.KindOf(err); got != tt.want {
				t.Fatalf("kind = %s, want %s (err %v)", got, tt.want, err)
			}
		})
	}
}

func TestEmailMismatchCarriesSignInLink(t *testing.T) {
	t.Parallel()
	c := stubServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/invitations/tok1/accept" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"success":false,"error":{"code":"EMAIL_MISMATCH","message":"wrong account","details":"https://crm.example.com/login?email=bob%40example.com"}}`)
	})
	_, err := c.AcceptInvitation(context.Background(), "tok1")
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) || appErr.Kind != apperrors.EmailMismatch {
		t.Fatalf("err = %v", err)
	}
	if appErr.Metadata["details"] != "https://crm.example.com/login?email=bob%40example.com" {
		t.Fatalf("metadata = %v", appErr.Metadata)
	}
}

func TestUnreachableServerIsRetryable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	_, err := New(base, "").ListStreams(context.Background())
	if !apperrors.KindOf(err).Retryable() {
		t.Fatalf("err = %v, want retryable", err)
	}
}
