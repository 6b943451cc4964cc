package handlers

import (
	"log/slog"
	"net/http"

	chiRoute "github.com/go-chi/chi/v5"

	"pipeline-crm-backend/pkg/apperrors"
	"pipeline-crm-backend/pkg/board"
	"pipeline-crm-backend/pkg/config"
	"pipeline-crm-backend/pkg/models"
	"pipeline-crm-backend/pkg/utils"
)

type BoardsHandler struct {
	base
	engine *board.Engine
}

func NewBoardsHandler(cfg *config.Config, engine *board.Engine, logger *slog.Logger) *BoardsHandler {
	return &BoardsHandler{base: newBase(cfg, logger), engine: engine}
}

// GET /api/boards?stream_id=
func (h *BoardsHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	streamID, ok := requiredParam(w, "stream_id", r.URL.Query().Get("stream_id"))
	if !ok {
		return
	}
	ctx, cancel := h.storeCtx(r)
	defer cancel()
	boards, err := h.engine.LoadBoard(ctx, user.ID, streamID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteListResponse(w, boards, len(boards))
}

// GET /api/boards/templates
func (h *BoardsHandler) Templates(w http.ResponseWriter, r *http.Request) {
	keys := board.TemplateKeys()
	out := make([]*board.Template, 0, len(keys))
	for _, k := range keys {
		tmpl, err := board.LoadTemplate(k)
		if err != nil {
			h.logger.Warn("skipping board template", "template", k, "error", err)
			continue
		}
		out = append(out, tmpl)
	}
	utils.WriteListResponse(w, out, len(out))
}

// POST /api/boards
func (h *BoardsHandler) CreateBoard(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	var req struct {
		StreamID string `json:"stream_id"`
		Name     string `json:"name"`
		Template string `json:"template"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	ctx, cancel := h.storeCtx(r)
	defer cancel()
	view, err := h.engine.CreateBoard(ctx, user.ID, req.StreamID, req.Name, req.Template)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteCreatedResponse(w, view)
}

// POST /api/board-columns
func (h *BoardsHandler) CreateColumn(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	var req struct {
		BoardID string `json:"board_id"`
		Name    string `json:"name"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	ctx, cancel := h.storeCtx(r)
	defer cancel()
	col, err := h.engine.CreateColumn(ctx, user.ID, req.BoardID, req.Name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteCreatedResponse(w, col)
}

// POST /api/board-entries
func (h *BoardsHandler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	var req board.EntryInput
	if err := utils.ParseJSONBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	ctx, cancel := h.storeCtx(r)
	defer cancel()
	entry, err := h.engine.CreateEntry(ctx, user.ID, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteCreatedResponse(w, entry)
}

// PATCH /api/board-entries/{id}
//
// {column_id, from_column_id?} moves the entry to the end of column_id.
// With index it is placed at that position among column_id's entries.
func (h *BoardsHandler) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	var req struct {
		ColumnID     string `json:"column_id"`
		FromColumnID string `json:"from_column_id"`
		Index        *int   `json:"index"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.ColumnID == "" {
		h.fail(w, r, apperrors.New(apperrors.InvalidInput, "column_id is required"))
		return
	}
	ctx, cancel := h.storeCtx(r)
	defer cancel()

	entryID := chiRoute.URLParam(r, "id")
	var (
		updated *models.Entry
		err     error
	)
	if req.Index != nil {
		updated, err = h.engine.ReorderEntry(ctx, user.ID, entryID, req.ColumnID, *req.Index)
	} else {
		updated, err = h.engine.MoveEntry(ctx, user.ID, entryID, req.FromColumnID, req.ColumnID)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.WriteSuccessResponse(w, updated)
}
