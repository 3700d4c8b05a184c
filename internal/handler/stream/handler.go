// Package stream delivers newly persisted turns to open sessions, over SSE
// or websocket. Delivery is best-effort; the chat endpoint remains the
// synchronous source of truth.
package stream

import (
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/klixlabs/klix-backend/internal/middleware"
	chatservice "github.com/klixlabs/klix-backend/internal/service/chat"
	"github.com/klixlabs/klix-backend/pkg/utils"
)

const (
	heartbeatInterval = 8 * time.Second
	pingInterval      = 30 * time.Second
	writeWait         = 5 * time.Second
)

// Handler serves the realtime turn feeds.
type Handler struct {
	chatSvc  *chatservice.Service
	logger   *log.Logger
	upgrader websocket.Upgrader
}

// New creates the stream handler.
func New(chatSvc *chatservice.Service, logger *log.Logger) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the feeds behind the auth middleware.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/{sessionID}", h.handleSSE)
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	events, cancel, err := h.chatSvc.Subscribe(r.Context(), middleware.UserID(r.Context()), sessionID)
	if err != nil {
		if errors.Is(err, chatservice.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusNotFound, "session not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to open stream")
		return
	}
	defer cancel()

	utils.SetupSSEHeaders(w)
	h.logger.Debug("opening sse stream", "session", sessionID)

	if err := utils.SendSSEEvent(w, flusher, "status", map[string]string{"message": "stream established"}); err != nil {
		return
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("closing sse stream", "session", sessionID)
			return
		case <-ticker.C:
			if err := utils.SendSSEEvent(w, flusher, "heartbeat", map[string]string{
				"time": time.Now().UTC().Format(time.RFC3339),
			}); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := utils.SendSSEEvent(w, flusher, ev.Type, ev); err != nil {
				return
			}
		}
	}
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	events, cancel, err := h.chatSvc.Subscribe(r.Context(), middleware.UserID(r.Context()), sessionID)
	if err != nil {
		if errors.Is(err, chatservice.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusNotFound, "session not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to open stream")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		cancel()
		h.logger.Warn("websocket upgrade failed", "session", sessionID, "error", err)
		return
	}
	defer conn.Close()
	defer cancel()

	// Read pump: the client sends nothing meaningful, but reading is how
	// we learn the connection is gone.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
