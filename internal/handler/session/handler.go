package session

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/klixlabs/klix-backend/internal/middleware"
	chatservice "github.com/klixlabs/klix-backend/internal/service/chat"
	"github.com/klixlabs/klix-backend/pkg/utils"
)

// Handler exposes session CRUD for the authenticated caller.
type Handler struct {
	chatSvc *chatservice.Service
}

// New creates the session handler.
func New(chatSvc *chatservice.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes mounts the session routes; the router has already applied
// the auth middleware.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions", h.handleListSessions)
	r.Post("/sessions", h.handleCreateSession)
	r.Get("/sessions/{sessionID}/messages", h.handleTranscript)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.chatSvc.ListSessions(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.chatSvc.CreateSession(r.Context(), middleware.UserID(r.Context()), payload.Title)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	utils.RespondJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	messages, err := h.chatSvc.Transcript(r.Context(), middleware.UserID(r.Context()), sessionID)
	if err != nil {
		if errors.Is(err, chatservice.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusNotFound, "session not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to load transcript")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}
