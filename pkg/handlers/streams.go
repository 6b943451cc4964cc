package handlers

import (
	"log/slog"
	"net/http"

	chiRoute "github.com/go-chi/chi/v5"

	"pipeline-crm-backend/pkg/config"
	"pipeline-crm-backend/pkg/utils"
	"pipeline-crm-backend/pkg/workspaces"
)

type StreamsHandler struct {
	base
	svc *workspaces.Service
}

func NewStreamsHandler(cfg *config.Config, svc *workspaces.Service, logger *slog.Logger) *StreamsHandler {
	return &StreamsHandler{base: newBase(cfg, logger), svc: svc}
}

// POST /api/workspaces
func (h *StreamsHandler) CreateWorkspace(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	ctx, cancel := h.storeCtx(r)
	defer cancel()
	out, err := h.svc.CreateWorkspace(ctx, user.ID, user.Email, req.Name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteCreatedResponse(w, out)
}

// GET /api/streams
func (h *StreamsHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.storeCtx(r)
	defer cancel()
	streams, err := h.svc.ListMyStreams(ctx, user.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteListResponse(w, streams, len(streams))
}

// POST /api/streams
func (h *StreamsHandler) CreateStream(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	var req struct {
		WorkspaceID string `json:"workspace_id"`
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	ctx, cancel := h.storeCtx(r)
	defer cancel()
	stream, err := h.svc.CreateStream(ctx, user.ID, user.Email, req.WorkspaceID, req.Name, req.Description)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteCreatedResponse(w, stream)
}

// GET /api/streams/{id}/members
func (h *StreamsHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.storeCtx(r)
	defer cancel()
	members, err := h.svc.ListMembers(ctx, user.ID, chiRoute.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteListResponse(w, members, len(members))
}

// DELETE /api/streams/{id}/members/{userId}
func (h *StreamsHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.storeCtx(r)
	defer cancel()
	if err := h.svc.RemoveMember(ctx, user.ID, chiRoute.URLParam(r, "id"), chiRoute.URLParam(r, "userId")); err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]bool{"removed": true})
}
