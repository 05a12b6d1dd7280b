package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// RequestLogger writes one log line per request once it has been served.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusRecorder{ResponseWriter: w}

			// Call the next handler (The Request happens here)
			next.ServeHTTP(sw, r)

			// Logic runs AFTER the request is finished
			status, _ := sw.result()
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", status,
				"duration", time.Since(start),
			)
		})
	}
}
