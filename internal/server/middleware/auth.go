package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Auth guards operator routes with a shared key, sent either as a bearer
// token or in X-API-Key. An empty key leaves the route open.
func Auth(apiKey string) Middleware {
	want := []byte(apiKey)
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, found := operatorKey(r)
			switch {
			case !found:
				writeError(w, http.StatusUnauthorized, "missing operator key")
			case subtle.ConstantTimeCompare([]byte(got), want) != 1:
				writeError(w, http.StatusUnauthorized, "invalid operator key")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func operatorKey(r *http.Request) (string, bool) {
	if v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		if v = strings.TrimSpace(v); v != "" {
			return v, true
		}
	}
	if v := strings.TrimSpace(r.Header.Get("X-API-Key")); v != "" {
		return v, true
	}
	return "", false
}
