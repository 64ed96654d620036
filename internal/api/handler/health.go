package handler

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler exposes Kubernetes-style liveness and readiness endpoints.
type HealthHandler struct {
	deps    map[string]Pinger
	timeout time.Duration
}

// NewHealthHandler checks every named dependency on readiness. Nil entries are skipped.
func NewHealthHandler(deps map[string]Pinger) *HealthHandler {
	live := make(map[string]Pinger, len(deps))
	for name, p := range deps {
		if p != nil {
			live[name] = p
		}
	}
	return &HealthHandler{deps: live, timeout: time.Second}
}

// Live always reports OK – if the process is up, it's live.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready pings every dependency concurrently and names the first that fails.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for name, dep := range h.deps {
		g.Go(func() error {
			if err := dep.Ping(gctx); err != nil {
				return unavailableError{name: name}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		RespondError(w, r, http.StatusServiceUnavailable, "health/not-ready", err.Error())
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type unavailableError struct{ name string }

func (e unavailableError) Error() string { return e.name + " unavailable" }
