package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"pipeline-crm-backend/pkg/config"
	"pipeline-crm-backend/pkg/database"
	"pipeline-crm-backend/pkg/middleware"
	"pipeline-crm-backend/pkg/models"
	"pipeline-crm-backend/pkg/utils"
)

// AuthHandler bridges the hosted auth provider's tokens to the session
// cookie and keeps the local user mirror current.
type AuthHandler struct {
	base
	db  database.DatabaseInterface
	jwt *utils.JWTService
	now func() time.Time
}

func NewAuthHandler(cfg *config.Config, db database.DatabaseInterface, jwtSvc *utils.JWTService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		base: newBase(cfg, logger),
		db:   db,
		jwt:  jwtSvc,
		now:  time.Now,
	}
}

// setSessionCookie scopes the cookie to APP_DOMAIN so the app and API
// subdomains share it.
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    token,
		Path:     "/",
		Domain:   h.config.AppDomain,
		Expires:  expiresAt,
		MaxAge:   int(time.Until(expiresAt).Seconds()),
		HttpOnly: true,
		Secure:   h.config.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	})
}

// POST /api/auth/session
func (h *AuthHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req models.SessionRequest
	if err := utils.ParseJSONBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	token, ok := requiredParam(w, "access_token", req.AccessToken)
	if !ok {
		return
	}
	claims, err := h.jwt.ValidateAccessToken(token)
	if err != nil {
		h.logger.Debug("session token rejected", "error", err)
		utils.WriteUnauthorizedResponse(w, "Invalid or expired session")
		return
	}
	email := strings.ToLower(strings.TrimSpace(claims.Email))
	if email == "" {
		utils.WriteUnauthorizedResponse(w, "Session has no email")
		return
	}

	ctx, cancel := h.storeCtx(r)
	defer cancel()
	user := &models.User{ID: claims.UserID(), Email: email, UpdatedAt: h.now().UTC()}
	if existing, err := h.db.GetUserByID(ctx, user.ID); err == nil {
		user.Name = existing.Name
		user.CreatedAt = existing.CreatedAt
	} else {
		user.CreatedAt = user.UpdatedAt
	}
	if err := h.db.UpsertUser(ctx, user); err != nil {
		h.fail(w, r, err)
		return
	}

	expiresAt := h.now()
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	h.setSessionCookie(w, token, expiresAt)
	utils.WriteSuccessResponse(w, map[string]interface{}{
		"user":       user,
		"expires_at": expiresAt.UTC(),
	})
}

// POST /api/auth/refresh
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req models.RefreshTokenRequest
	if err := utils.ParseJSONBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if _, ok := requiredParam(w, "refresh_token", req.RefreshToken); !ok {
		return
	}
	pair, err := h.jwt.RefreshAccessToken(req.RefreshToken)
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Invalid refresh token")
		return
	}
	h.setSessionCookie(w, pair.AccessToken, h.now().Add(time.Duration(pair.ExpiresIn)*time.Second))
	utils.WriteSuccessResponse(w, pair)
}

// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		Domain:   h.config.AppDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	})
	utils.WriteSuccessResponse(w, map[string]bool{"logged_out": true})
}

// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.storeCtx(r)
	defer cancel()
	if stored, err := h.db.GetUserByID(ctx, user.ID); err == nil {
		user = stored
	}
	utils.WriteSuccessResponse(w, user)
}

// GET /
func (h *AuthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.storeCtx(r)
	defer cancel()
	dbStatus := "healthy"
	if err := h.db.HealthCheck(ctx); err != nil {
		dbStatus = "unhealthy"
		h.logger.Warn("health check failed", "error", err)
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{
		"service":     "pipeline-crm-backend",
		"version":     "1.0.0",
		"environment": h.config.Environment,
		"database":    h.databaseType(),
		"db_status":   dbStatus,
		"timestamp":   h.now().Unix(),
		"status":      "healthy",
	})
}

func (h *AuthHandler) databaseType() string {
	switch {
	case h.config.PostgresDSN != "":
		return "postgresql"
	case h.config.SupabaseURL != "" && h.config.SupabaseKey != "":
		return "supabase"
	case h.config.SQLitePath != "":
		return "sqlite"
	}
	return "unknown"
}
