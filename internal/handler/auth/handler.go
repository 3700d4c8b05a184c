package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/klixlabs/klix-backend/internal/middleware"
	authservice "github.com/klixlabs/klix-backend/internal/service/auth"
	"github.com/klixlabs/klix-backend/pkg/utils"
)

// Handler exposes the identity endpoints.
type Handler struct {
	authSvc *authservice.Service
}

// New creates the auth handler.
func New(authSvc *authservice.Service) *Handler {
	return &Handler{authSvc: authSvc}
}

// RegisterRoutes mounts the public identity routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/register", h.handleRegister)
	r.Post("/auth/login", h.handleLogin)
	r.Post("/auth/logout", h.handleLogout)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userID, err := h.authSvc.Register(r.Context(), payload.Name, payload.Email, payload.Password)
	if err != nil {
		var validation *authservice.ValidationError
		switch {
		case errors.As(err, &validation):
			utils.RespondError(w, http.StatusBadRequest, validation.Message)
		case errors.Is(err, authservice.ErrEmailTaken):
			utils.RespondError(w, http.StatusBadRequest, err.Error())
		default:
			utils.RespondError(w, http.StatusInternalServerError, "registration failed")
		}
		return
	}

	utils.RespondJSON(w, http.StatusCreated, map[string]string{
		"message": "Registration successful",
		"userId":  userID,
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, userID, err := h.authSvc.Login(r.Context(), payload.Email, payload.Password)
	if err != nil {
		var validation *authservice.ValidationError
		switch {
		case errors.As(err, &validation):
			utils.RespondError(w, http.StatusBadRequest, validation.Message)
		case errors.Is(err, authservice.ErrInvalidCredentials):
			utils.RespondError(w, http.StatusUnauthorized, err.Error())
		default:
			utils.RespondError(w, http.StatusInternalServerError, "login failed")
		}
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"token":  token,
		"userId": userID,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.authSvc.Logout(r.Context(), middleware.BearerToken(r))
	utils.RespondJSON(w, http.StatusOK, map[string]string{"message": "Logout successful"})
}
