package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const (
	TraceIDHeader   = "X-Trace-ID"
	RequestIDHeader = "X-Request-ID"

	maxTraceIDLength = 128
)

// TraceMiddleware propagates the caller's trace id, or assigns one, and echoes it on the response.
// Gateways and platforms send either X-Trace-ID or X-Request-ID.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceIDHeader)
		if traceID == "" {
			traceID = r.Header.Get(RequestIDHeader)
		}
		if !validTraceID(traceID) {
			traceID = uuid.NewString()
		}
		w.Header().Set(TraceIDHeader, traceID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), traceContextKey, traceID)))
	})
}

// validTraceID accepts printable ASCII ids that are safe to log and echo.
func validTraceID(id string) bool {
	if id == "" || len(id) > maxTraceIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}
