package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pipeline-crm-backend/pkg/apperrors"
	"pipeline-crm-backend/pkg/config"
	"pipeline-crm-backend/pkg/database"
	"pipeline-crm-backend/pkg/invitations"
	"pipeline-crm-backend/pkg/logging"
	"pipeline-crm-backend/pkg/models"
	"pipeline-crm-backend/pkg/utils"
)

// SignatureHeader carries "ts=<unix seconds>;h1=<hex hmac-sha256 of ts:body>"
const SignatureHeader = "X-Webhook-Signature"

const signatureTolerance = 5 * time.Minute

// WebhookHandler receives user change events from the auth provider and
// keeps the users mirror current, so invitations can be matched to
// members by email before they ever open a session here.
type WebhookHandler struct {
	base
	db  database.DatabaseInterface
	now func() time.Time
}

func NewWebhookHandler(cfg *config.Config, db database.DatabaseInterface, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{base: newBase(cfg, logger), db: db, now: time.Now}
}

// UserEvent is the database-webhook payload for the provider's users table
type UserEvent struct {
	Type   string `json:"type"` // INSERT, UPDATE or DELETE
	Table  string `json:"table"`
	Record struct {
		ID       string `json:"id"`
		Email    string `json:"email"`
		Metadata struct {
			FullName string `json:"full_name"`
			Name     string `json:"name"`
		} `json:"raw_user_meta_data"`
	} `json:"record"`
}

// POST /api/webhooks/auth
func (h *WebhookHandler) HandleUserEvent(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context(), h.logger)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		utils.WriteBadRequestResponse(w, "Failed to read request body")
		return
	}
	if !h.verifySignature(r.Header.Get(SignatureHeader), body) {
		log.Warn("rejected webhook with invalid signature")
		utils.WriteUnauthorizedResponse(w, "Invalid webhook signature")
		return
	}

	var event UserEvent
	if err := json.Unmarshal(body, &event); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid webhook payload")
		return
	}

	switch event.Type {
	case "INSERT", "UPDATE":
	default:
		// deleted users keep their membership rows until an owner removes them
		log.Debug("ignoring user event", "type", event.Type, "table", event.Table)
		utils.WriteSuccessResponse(w, map[string]string{"status": "ignored"})
		return
	}

	email, err := invitations.NormalizeEmail(event.Record.Email)
	if event.Record.ID == "" || err != nil {
		h.fail(w, r, apperrors.New(apperrors.InvalidInput, "record needs an id and a valid email"))
		return
	}
	name := event.Record.Metadata.FullName
	if name == "" {
		name = event.Record.Metadata.Name
	}

	ctx, cancel := h.storeCtx(r)
	defer cancel()
	if err := h.db.UpsertUser(ctx, &models.User{ID: event.Record.ID, Email: email, Name: name}); err != nil {
		h.fail(w, r, apperrors.Wrap(apperrors.PersistenceError, "storage unavailable, please retry", err))
		return
	}
	log.Info("mirrored user", "user_id", event.Record.ID, "type", event.Type)
	utils.WriteSuccessResponse(w, map[string]string{"status": "processed"})
}

func (h *WebhookHandler) verifySignature(header string, body []byte) bool {
	if header == "" || h.config.AuthWebhookSecret == "" {
		return false
	}
	var ts, h1 string
	for _, part := range strings.Split(header, ";") {
		if v, ok := strings.CutPrefix(part, "ts="); ok {
			ts = v
		} else if v, ok := strings.CutPrefix(part, "h1="); ok {
			h1 = v
		}
	}
	if ts == "" || h1 == "" {
		return false
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	if age := h.now().Sub(time.Unix(sec, 0)); age > signatureTolerance || age < -signatureTolerance {
		return false
	}
	return hmac.Equal([]byte(h1), []byte(SignPayload(h.config.AuthWebhookSecret, ts, body)))
}

// SignPayload computes the h1 value for ts and body
func SignPayload(secret, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + ":"))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
