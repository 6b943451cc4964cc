package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

const requestUserKey ContextKey = "request_user"

// requestUser is filled in by WithUser further down the chain. The auth
// middlewares attach the user to a derived request the logger never sees.
type requestUser struct {
	id atomic.Pointer[string]
}

// RequestLogger logs one structured line per request with status, duration,
// the authenticated user and the chi request id.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			seen := &requestUser{}
			r = r.WithContext(context.WithValue(r.Context(), requestUserKey, seen))

			next.ServeHTTP(ww, r)

			user := "anonymous"
			if id := seen.id.Load(); id != nil {
				user = *id
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			switch {
			case status >= 500:
				level = slog.LevelError
			case status >= 400:
				level = slog.LevelWarn
			}
			logger.LogAttrs(r.Context(), level, "request",
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("user", user),
				slog.String("ip", r.RemoteAddr),
			)
		})
	}
}
