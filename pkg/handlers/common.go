// Package handlers exposes the invitation, board, stream and realtime
// services over HTTP using the JSON envelope in pkg/utils.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"pipeline-crm-backend/pkg/apperrors"
	"pipeline-crm-backend/pkg/config"
	"pipeline-crm-backend/pkg/logging"
	"pipeline-crm-backend/pkg/middleware"
	"pipeline-crm-backend/pkg/models"
	"pipeline-crm-backend/pkg/utils"
)

// base carries what every handler needs: config for timeouts and error
// rendering, and the logger.
type base struct {
	config *config.Config
	logger *slog.Logger
}

func newBase(cfg *config.Config, logger *slog.Logger) base {
	if logger == nil {
		logger = slog.Default()
	}
	return base{config: cfg, logger: logger}
}

// storeCtx bounds the store calls of one request
func (b base) storeCtx(r *http.Request) (context.Context, context.CancelFunc) {
	if b.config.StoreTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), b.config.StoreTimeout)
}

func (b base) errorOptions() utils.ErrorOptions {
	return utils.ErrorOptions{
		SignInURL: b.config.AppBaseURL + "/login",
		Debug:     b.config.Debug && !b.config.IsProduction(),
	}
}

// fail renders err. Persistence failures are logged with their cause.
func (b base) fail(w http.ResponseWriter, r *http.Request, err error) {
	if apperrors.KindOf(err) == apperrors.PersistenceError {
		logging.FromContext(r.Context(), b.logger).Error("store failure", "path", r.URL.Path, "error", err)
	}
	utils.WriteAppError(w, err, b.errorOptions())
}

// user returns the authenticated user or answers 401
func (b base) user(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return nil, false
	}
	return user, true
}

func requiredParam(w http.ResponseWriter, name, value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		utils.WriteBadRequestResponse(w, name+" is required")
		return "", false
	}
	return value, true
}
