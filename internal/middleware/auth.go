package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/klixlabs/klix-backend/internal/service/auth"
	"github.com/klixlabs/klix-backend/pkg/utils"
)

type userIDContextKey struct{}

// RequireAuth rejects requests without a valid bearer token and stores the
// resolved user ID in the request context.
func RequireAuth(authSvc *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := authSvc.Authenticate(r.Context(), BearerToken(r))
			if err != nil {
				utils.RespondError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			ctx := context.WithValue(r.Context(), userIDContextKey{}, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserID returns the authenticated user set by RequireAuth.
func UserID(ctx context.Context) string {
	userID, _ := ctx.Value(userIDContextKey{}).(string)
	return userID
}

// BearerToken extracts the caller's token from the Authorization header,
// falling back to the "token" query parameter for EventSource/websocket
// clients that cannot set headers.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return r.URL.Query().Get("token")
}
