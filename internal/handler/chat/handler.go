package chat

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/klixlabs/klix-backend/internal/middleware"
	aiservice "github.com/klixlabs/klix-backend/internal/service/ai"
	chatservice "github.com/klixlabs/klix-backend/internal/service/chat"
	"github.com/klixlabs/klix-backend/pkg/utils"
)

// Handler exposes the chat endpoint.
type Handler struct {
	chatSvc *chatservice.Service
}

// New creates the chat handler.
func New(chatSvc *chatservice.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes mounts the chat route behind the auth middleware.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"sessionId"`
		Message   string `json:"message"`
		APIKey    string `json:"apiKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.SessionID == "" || payload.Message == "" || payload.APIKey == "" {
		utils.RespondError(w, http.StatusBadRequest, "missing required fields")
		return
	}

	result, err := h.chatSvc.SendMessage(
		r.Context(),
		middleware.UserID(r.Context()),
		payload.SessionID,
		payload.Message,
		payload.APIKey,
	)
	if err != nil {
		var upstream *aiservice.UpstreamError
		switch {
		case errors.Is(err, chatservice.ErrSessionNotFound):
			utils.RespondError(w, http.StatusNotFound, "session not found")
		case errors.Is(err, chatservice.ErrEmptyMessage):
			utils.RespondError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &upstream):
			utils.RespondError(w, http.StatusInternalServerError, upstream.Error())
		default:
			utils.RespondError(w, http.StatusInternalServerError, "failed to process message")
		}
		return
	}

	utils.RespondJSON(w, http.StatusOK, result)
}
