package middleware

import (
	"net/http"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/ngoyal88/relay/pkg/config"
)

// NewRateLimiter creates a middleware that limits requests.
// Limits follow the config store, so a hot reload takes effect without a restart.
func NewRateLimiter(store *config.Store) func(http.Handler) http.Handler {
	// nil means unlimited. A reload swaps in a fresh, full bucket.
	var limiter atomic.Pointer[rate.Limiter]

	apply := func(cfg *config.Config) {
		if cfg == nil {
			return
		}
		rl := cfg.RateLimit
		if !rl.Enabled {
			limiter.Store(nil)
			return
		}
		limiter.Store(rate.NewLimiter(rate.Limit(rl.RPS), rl.Burst))
	}
	apply(store.Get())
	store.OnChange(apply)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l := limiter.Load(); l != nil && !l.Allow() {
				rateLimited.Inc()
				respondError(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
