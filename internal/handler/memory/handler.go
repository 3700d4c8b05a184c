package memory

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/klixlabs/klix-backend/internal/middleware"
	memoryservice "github.com/klixlabs/klix-backend/internal/service/memory"
	"github.com/klixlabs/klix-backend/pkg/utils"
)

// Handler exposes the memory profile and insight review endpoints.
type Handler struct {
	memorySvc *memoryservice.Service
}

// New creates the memory handler.
func New(memorySvc *memoryservice.Service) *Handler {
	return &Handler{memorySvc: memorySvc}
}

// RegisterRoutes mounts the memory routes behind the auth middleware.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/memory/global", h.handleGetGlobalMemory)
	r.Put("/memory/global", h.handleReplaceGlobalMemory)
	r.Get("/memory/insights", h.handleListInsights)
	r.Post("/memory/insights", h.handleApplyInsights)
}

func (h *Handler) handleGetGlobalMemory(w http.ResponseWriter, r *http.Request) {
	profile, err := h.memorySvc.Profile(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		if errors.Is(err, memoryservice.ErrProfileNotFound) {
			utils.RespondError(w, http.StatusNotFound, "profile not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to load memory")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"globalMemory":    profile.GlobalMemory,
		"memoryUpdatedAt": profile.MemoryUpdatedAt,
	})
}

func (h *Handler) handleReplaceGlobalMemory(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		GlobalMemory *string `json:"globalMemory"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.GlobalMemory == nil {
		utils.RespondError(w, http.StatusBadRequest, "globalMemory is required")
		return
	}

	err := h.memorySvc.ReplaceGlobalMemory(r.Context(), middleware.UserID(r.Context()), *payload.GlobalMemory)
	if err != nil {
		if errors.Is(err, memoryservice.ErrProfileNotFound) {
			utils.RespondError(w, http.StatusNotFound, "profile not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to update memory")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) handleListInsights(w http.ResponseWriter, r *http.Request) {
	insights, err := h.memorySvc.PendingInsights(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to list insights")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]interface{}{"insights": insights})
}

func (h *Handler) handleApplyInsights(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		InsightIDs    []string `json:"insightIds"`
		ApplyToMemory bool     `json:"applyToMemory"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(payload.InsightIDs) == 0 {
		utils.RespondError(w, http.StatusBadRequest, "insightIds is required")
		return
	}

	err := h.memorySvc.ApplyInsights(r.Context(), middleware.UserID(r.Context()), payload.InsightIDs, payload.ApplyToMemory)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to apply insights")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]bool{"success": true})
}
