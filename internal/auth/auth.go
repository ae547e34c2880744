package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/crowdreel/crowdreel/internal/httputil"
)

type contextKey string

const userIDKey contextKey = "userID"

// Handler authenticates viewers with access tokens issued by the account
// service. It never issues tokens itself.
type Handler struct {
	jwtSecret string
}

func NewHandler(jwtSecret string) *Handler {
	return &Handler{jwtSecret: jwtSecret}
}

func (h *Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.WriteError(w, http.StatusUnauthorized, "authorization header required")
			return
		}

		tokenStr, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			httputil.WriteError(w, http.StatusUnauthorized, "invalid authorization header format")
			return
		}

		userID, msg := h.authenticate(tokenStr)
		if msg != "" {
			httputil.WriteError(w, http.StatusUnauthorized, msg)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OptionalMiddleware attaches the viewer when a valid token is present and
// lets anonymous requests through unchanged.
func (h *Handler) OptionalMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID, ok := h.ViewerFromRequest(r); ok {
			r = r.WithContext(context.WithValue(r.Context(), userIDKey, userID))
		}
		next.ServeHTTP(w, r)
	})
}

// ViewerFromRequest reads the token from the Authorization header or, for
// browser websocket upgrades that cannot set headers, the access_token query
// parameter.
func (h *Handler) ViewerFromRequest(r *http.Request) (string, bool) {
	tokenStr, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !found {
		tokenStr = r.URL.Query().Get("access_token")
	}
	if tokenStr == "" {
		return "", false
	}
	userID, msg := h.authenticate(tokenStr)
	return userID, msg == ""
}

func (h *Handler) authenticate(tokenStr string) (string, string) {
	claims, err := ValidateToken(h.jwtSecret, tokenStr)
	if err != nil {
		return "", "invalid token"
	}
	if claims.TokenType != "access" {
		return "", "invalid token type"
	}
	return claims.UserID, ""
}

func UserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey).(string)
	return userID
}
