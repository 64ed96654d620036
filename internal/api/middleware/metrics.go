package middleware

import (
	"net/http"
	"time"

	"github.com/ayo6706/payment-orchestrator/internal/observability"
	"github.com/go-chi/chi/v5"
)

// unmatchedRoute labels requests no route matched, so raw ids never become label values.
const unmatchedRoute = "unmatched"

// MetricsMiddleware records request durations by route pattern.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w}

		next.ServeHTTP(rw, r)

		observability.ObserveHTTP(r.Method, routePattern(r), rw.Status(), time.Since(start))
	})
}

// routePattern is read after the handler ran; chi fills the pattern while routing.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return unmatchedRoute
}
