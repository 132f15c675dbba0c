package middleware

import (
	"net/http"
	"strings"

	"github.com/shiva/rentwheels/internal/auth"
)

// TokenParser turns a bearer token into a credential.
type TokenParser interface {
	Parse(token string) (auth.Credential, error)
}

// Authenticate requires a valid bearer token and stores the resulting
// credential on the request context. Browsers cannot set headers on a
// websocket handshake, so an access_token query parameter is accepted on
// GET requests too.
func Authenticate(parser TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearer(r)
			if token == "" {
				unauthorized(w, "missing bearer token")
				return
			}
			cred, err := parser.Parse(token)
			if err != nil {
				unauthorized(w, "invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithCredential(r.Context(), cred)))
		})
	}
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	if r.Method == http.MethodGet {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="rentwheels"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","message":"` + msg + `"}`))
}
