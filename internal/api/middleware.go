package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// RequireToken wraps a handler with static bearer-token auth. An empty
// token disables the check entirely. Requests issued by the browser
// itself (the fixed-layout viewer iframe, download links) cannot attach
// an Authorization header, so the credential is also accepted as an
// access_token query parameter.
func RequireToken(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if got == "" {
			got = r.URL.Query().Get("access_token")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			respondError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
