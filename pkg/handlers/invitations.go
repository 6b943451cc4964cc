package handlers

import (
	"log/slog"
	"net/http"

	chiRoute "github.com/go-chi/chi/v5"

	"pipeline-crm-backend/pkg/apperrors"
	"pipeline-crm-backend/pkg/config"
	"pipeline-crm-backend/pkg/invitations"
	"pipeline-crm-backend/pkg/middleware"
	"pipeline-crm-backend/pkg/utils"
)

type InvitationsHandler struct {
	base
	mgr *invitations.Manager
}

func NewInvitationsHandler(cfg *config.Config, mgr *invitations.Manager, logger *slog.Logger) *InvitationsHandler {
	return &InvitationsHandler{base: newBase(cfg, logger), mgr: mgr}
}

// POST /api/invitations
func (h *InvitationsHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	var req struct {
		StreamID string `json:"stream_id"`
		Email    string `json:"email"`
		Role     string `json:"role"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	ctx, cancel := h.storeCtx(r)
	defer cancel()
	res, err := h.mgr.CreateInvitation(ctx, user.ID, req.StreamID, req.Email, req.Role)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if res.Reused {
		utils.WriteSuccessResponse(w, res)
		return
	}
	utils.WriteCreatedResponse(w, res)
}

// GET /api/invitations/{id} and GET /invite/{token}. Anonymous callers get
// the view; a signed-in caller also learns whether the session email matches.
func (h *InvitationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	token := chiRoute.URLParam(r, "id")
	if token == "" {
		token = chiRoute.URLParam(r, "token")
	}
	ctx, cancel := h.storeCtx(r)
	defer cancel()
	view, err := h.mgr.ResolveInvitation(ctx, token)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := map[string]interface{}{
		"invitation":  view,
		"invite_link": h.mgr.InviteLink(view.ID),
		"sign_in_url": utils.SignInLink(h.config.AppBaseURL+"/login", view.Email),
	}
	if user, ok := middleware.GetUserFromContext(r.Context()); ok && user != nil {
		resp["email_matches"] = invitations.SameEmail(user.Email, view.Email)
	}
	utils.WriteSuccessResponse(w, resp)
}

// POST /api/invitations/{id}/accept
func (h *InvitationsHandler) Accept(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.storeCtx(r)
	defer cancel()
	res, err := h.mgr.AcceptInvitation(ctx, chiRoute.URLParam(r, "id"), user.ID, user.Email)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteSuccessResponse(w, res)
}

// GET /api/invitations/my
func (h *InvitationsHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.storeCtx(r)
	defer cancel()
	list, err := h.mgr.ListMyInvitations(ctx, user.Email)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteListResponse(w, list, len(list))
}

// GET /api/invitations?stream_id=
func (h *InvitationsHandler) ListForStream(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	streamID := r.URL.Query().Get("stream_id")
	if streamID == "" {
		h.fail(w, r, apperrors.New(apperrors.InvalidInput, "stream_id is required"))
		return
	}
	ctx, cancel := h.storeCtx(r)
	defer cancel()
	list, err := h.mgr.ListStreamInvitations(ctx, user.ID, streamID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteListResponse(w, list, len(list))
}
