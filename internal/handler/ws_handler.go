package handler

import (
	"net/http"

	"notes-sync-indexer/internal/logger"
	"notes-sync-indexer/internal/middleware"
	ws "notes-sync-indexer/internal/websocket"
	"notes-sync-indexer/pkg/response"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type WSHandler struct {
	manager  *ws.Manager
	upgrader websocket.Upgrader
}

func NewWSHandler(manager *ws.Manager, readBufferSize, writeBufferSize int, allowedOrigins []string) *WSHandler {
	origins := make(map[string]bool, len(allowedOrigins))
	allowAll := false
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		origins[o] = true
	}

	return &WSHandler{
		manager: manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBufferSize,
			WriteBufferSize: writeBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowAll || origins[origin]
			},
		},
	}
}

// HandleWebSocket upgrades the request and streams sync events to the owner.
func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.GetOwnerID(r)
	if ownerID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}
	if !h.manager.HasRoom(ownerID) {
		response.Fail(w, http.StatusTooManyRequests, response.CodeTooManyConnections, "Too many open event streams")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Ctx(r.Context()).Warn("websocket upgrade failed", "error", err)
		return
	}

	client := ws.NewClient(uuid.New().String(), ownerID, conn, h.manager)
	if !h.manager.Attach(client) {
		logger.Ctx(r.Context()).Warn("websocket connection rejected", "owner_id", ownerID)
		return
	}
	logger.Ctx(r.Context()).Info("websocket connected", "client_id", client.ID,
		"connections", h.manager.GetUserConnections(ownerID))
}
