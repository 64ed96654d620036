package handler

import (
	"net/http"
	"slices"

	"github.com/ayo6706/payment-orchestrator/internal/api/middleware"
)

// actor is the authenticated caller of a handler.
type actor struct {
	ID    string
	Admin bool
}

// allows reports whether the caller is an admin or one of ids.
func (a actor) allows(ids ...string) bool {
	if a.Admin {
		return true
	}
	return a.ID != "" && slices.Contains(ids, a.ID)
}

// mustActor returns the caller, or writes a 401 when the request carries no principal.
func mustActor(w http.ResponseWriter, r *http.Request) (actor, bool) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		w.Header().Set("WWW-Authenticate", `Bearer realm="payment-orchestrator"`)
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthenticated", "Authentication required")
		return actor{}, false
	}
	return actor{ID: p.UserID, Admin: p.IsAdmin()}, true
}

func forbid(w http.ResponseWriter, r *http.Request) {
	RespondError(w, r, http.StatusForbidden, "auth/forbidden", "Not allowed to access this resource")
}

// scopedID prefixes a client-chosen key with the caller so keys never collide across users.
func scopedID(a actor, key string) string {
	if key == "" {
		return ""
	}
	return a.ID + ":" + key
}
