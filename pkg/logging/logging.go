// Package logging builds the process logger.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5/middleware"
)

// New creates the service logger and installs it as the slog default so
// libraries logging through slog share the handler. Production gets JSON at
// Info; development gets text, at Debug when debug is set.
func New(production, debug bool) *slog.Logger {
	return NewWithWriter(os.Stderr, production, debug)
}

// NewWithWriter is New with an explicit destination
func NewWithWriter(w io.Writer, production, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug && !production {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if production {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// FromContext returns base annotated with the chi request id, if any.
func FromContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	if id := middleware.GetReqID(ctx); id != "" {
		return base.With("request_id", id)
	}
	return base
}
