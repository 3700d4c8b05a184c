package handler

import (
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	authhandler "github.com/klixlabs/klix-backend/internal/handler/auth"
	chathandler "github.com/klixlabs/klix-backend/internal/handler/chat"
	memoryhandler "github.com/klixlabs/klix-backend/internal/handler/memory"
	sessionhandler "github.com/klixlabs/klix-backend/internal/handler/session"
	streamhandler "github.com/klixlabs/klix-backend/internal/handler/stream"
	middlewarePkg "github.com/klixlabs/klix-backend/internal/middleware"
	authservice "github.com/klixlabs/klix-backend/internal/service/auth"
	chatservice "github.com/klixlabs/klix-backend/internal/service/chat"
	memoryservice "github.com/klixlabs/klix-backend/internal/service/memory"
)

// NewRouter wires HTTP routes to core services. Everything except the
// identity routes requires a bearer token.
func NewRouter(authSvc *authservice.Service, chatSvc *chatservice.Service, memorySvc *memoryservice.Service, logger *log.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	authHandler := authhandler.New(authSvc)
	chatHandler := chathandler.New(chatSvc)
	sessionHandler := sessionhandler.New(chatSvc)
	memoryHandler := memoryhandler.New(memorySvc)
	streamHandler := streamhandler.New(chatSvc, logger)

	r.Route("/api", func(api chi.Router) {
		authHandler.RegisterRoutes(api)

		api.Group(func(protected chi.Router) {
			protected.Use(middlewarePkg.RequireAuth(authSvc))

			chatHandler.RegisterRoutes(protected)
			sessionHandler.RegisterRoutes(protected)
			memoryHandler.RegisterRoutes(protected)
			streamHandler.RegisterRoutes(protected)
		})
	})

	return r
}
