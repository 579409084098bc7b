package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const burnTokenKey contextKey = "burn_token"

// RequireBurnToken rejects requests that carry no burn token and stashes the
// token for the handler. Verification is left to the relay service, which
// knows which secret the token must name.
func RequireBurnToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="whisper"`)
			http.Error(w, `{"message": "Unauthorized"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), burnTokenKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// BurnToken returns the token stored by RequireBurnToken.
func BurnToken(ctx context.Context) string {
	token, _ := ctx.Value(burnTokenKey).(string)
	return token
}

// extractToken prefers the Authorization header. Browsers cannot set headers
// on a websocket handshake, so ?token= is accepted there only.
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return r.URL.Query().Get("token")
	}
	return ""
}
