package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
)

// Authenticate validates bearer API keys against keys (API key -> user id)
// and makes the user id available as the request principal.
// With an empty key set the middleware is a pass-through.
func Authenticate(keys map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(keys) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Format: "Bearer relay_xxxxxxxxxxxxx"
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				respondError(w, "Missing Authorization header", http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				respondError(w, "Invalid Authorization format. Use: Bearer <api_key>", http.StatusUnauthorized)
				return
			}

			userID, ok := lookupKey(keys, strings.TrimSpace(parts[1]))
			if !ok {
				respondError(w, "Invalid API key", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), userID)))
		})
	}
}

func lookupKey(keys map[string]string, presented string) (string, bool) {
	for key, userID := range keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(presented)) == 1 {
			return userID, true
		}
	}
	return "", false
}

func respondError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
