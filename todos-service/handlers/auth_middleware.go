package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/chepyr/go-todo-service/todos-service/auth"
)

type contextKey string

const userIDKey contextKey = "user_id"

// AuthMiddleware verifies the bearer token and puts its subject into the
// request context. Every failure is a 401.
func (h *Handler) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := h.Verifier.Verify(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			msg := "Invalid token"
			if errors.Is(err, auth.ErrMalformedCredential) {
				msg = "Missing or malformed Authorization header"
			}
			h.Log.Info("user not authorized", zap.String("path", r.URL.Path), zap.Error(err))
			h.sendError(w, msg, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next(w, r.WithContext(ctx))
	}
}

// UserIDFromContext returns the authenticated user id, or "" outside
// AuthMiddleware.
func UserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey).(string)
	return userID
}
