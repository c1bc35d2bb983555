package middleware

import (
	"context"
	"log/slog"
	"net/http"
)

// Limiter admits or denies one request for key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RateLimit throttles requests per authenticated account, falling back to the
// client IP for anonymous callers. It must run after OptionalAuth or
// RequireAuth. A limiter outage lets traffic through and is logged.
func RateLimit(l Limiter, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + ClientIP(r)
			if id, ok := AccountIDFromCtx(r.Context()); ok {
				key = "acct:" + id.String()
			}
			allowed, err := l.Allow(r.Context(), key)
			if err != nil {
				log.Warn("rate limiter unavailable, allowing request", "key", key, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				w.Header().Set("Retry-After", "60")
				http.Error(w, `{"code":"RateLimited","message":"too many generation requests, try again shortly"}`, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
