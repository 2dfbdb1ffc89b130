package rest

import (
	"context"
	"net/http"
	"time"

	"duka/internal/observability"
)

// waiter is the limiter surface used by the callback middleware.
type waiter interface {
	Wait(ctx context.Context) error
}

// rateLimit delays requests until the limiter grants a token. Waiting
// rather than rejecting keeps the provider from treating throttling as a
// delivery failure. A nil limiter passes through.
func rateLimit(limiter waiter, metrics *observability.Metrics, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if err := limiter.Wait(r.Context()); err != nil {
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}
		if waited := time.Since(start); waited > 0 {
			metrics.AddRateLimitWait(waited)
		}
		next.ServeHTTP(w, r)
	})
}
