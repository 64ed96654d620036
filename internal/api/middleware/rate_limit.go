package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ayo6706/payment-orchestrator/internal/api/problem"
	"github.com/go-chi/httprate"
)

// PublicRateLimiter limits unauthenticated traffic, such as gateway webhooks, per client IP.
func PublicRateLimiter(rps int) func(http.Handler) http.Handler {
	return rateLimiter(rps, "IP", httprate.KeyByIP)
}

// AuthRateLimiter limits authenticated callers per user id, falling back to the client IP.
func AuthRateLimiter(rps int) func(http.Handler) http.Handler {
	return rateLimiter(rps, "user", func(r *http.Request) (string, error) {
		if userID := UserIDFromContext(r.Context()); userID != "" {
			return "user:" + userID, nil
		}
		return httprate.KeyByIP(r)
	})
}

func rateLimiter(rps int, scope string, key httprate.KeyFunc) func(http.Handler) http.Handler {
	rps = max(rps, 1)
	detail := fmt.Sprintf("Rate limit of %d req/s exceeded for this %s", rps, scope)
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(key),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "1")
			problem.Write(w, r, http.StatusTooManyRequests, problem.Type("rate-limit-exceeded"), "", detail)
		}),
	)
}
