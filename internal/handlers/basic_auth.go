// internal/handlers/basic_auth.go
package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/cinematch/cinematch/internal/config"
)

// BasicAuthMiddleware guards a handler with HTTP basic auth when
// credentials are configured; with a nil config it passes through.
func BasicAuthMiddleware(creds *config.BasicAuth) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if creds == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(creds.UserName)) == 1
			passMatch := subtle.ConstantTimeCompare([]byte(pass), []byte(creds.Password)) == 1
			if !ok || !userMatch || !passMatch {
				w.Header().Set("WWW-Authenticate", `Basic realm="cinematch", charset="UTF-8"`)
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
