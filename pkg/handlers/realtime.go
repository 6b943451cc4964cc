package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"pipeline-crm-backend/pkg/authz"
	"pipeline-crm-backend/pkg/config"
	"pipeline-crm-backend/pkg/realtime"
	"pipeline-crm-backend/pkg/utils"
)

// RealtimeHandler streams change events of one stream as Server-Sent Events
type RealtimeHandler struct {
	base
	hub       *realtime.Hub
	gate      *authz.Gate
	heartbeat time.Duration
}

func NewRealtimeHandler(cfg *config.Config, hub *realtime.Hub, members authz.MembershipReader, logger *slog.Logger) *RealtimeHandler {
	return &RealtimeHandler{
		base:      newBase(cfg, logger),
		hub:       hub,
		gate:      authz.NewGate(members),
		heartbeat: 15 * time.Second,
	}
}

// GET /api/realtime?stream_id=&table=
func (h *RealtimeHandler) Stream(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	streamID, ok := requiredParam(w, "stream_id", r.URL.Query().Get("stream_id"))
	if !ok {
		return
	}
	ctx, cancel := h.storeCtx(r)
	_, err := h.gate.Authorize(ctx, user.ID, streamID, authz.ReadStream)
	cancel()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.WriteInternalServerErrorResponse(w, "Streaming unsupported")
		return
	}

	sub := h.hub.Subscribe(r.URL.Query().Get("table"), realtime.Filter{StreamID: streamID})
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev, open := <-sub.C():
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Warn("dropping unencodable event", "table", ev.Table, "error", err)
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, data)
			flusher.Flush()
		}
	}
}
