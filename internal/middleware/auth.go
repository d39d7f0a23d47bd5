package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/onnwee/cachemanager/internal/apierr"
)

// AdminAuth gates handlers behind "Authorization: Bearer <token>".
// An empty token disables the check.
func AdminAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		want := []byte(token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				apierr.WriteErrorWithContext(w, r, apierr.AuthMissing(""))
				return
			}
			const prefix = "Bearer "
			if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
				apierr.WriteErrorWithContext(w, r, apierr.AuthInvalid("Expected a bearer token"))
				return
			}
			if subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), want) != 1 {
				apierr.WriteErrorWithContext(w, r, apierr.AuthInvalid(""))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
