package middleware

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ayo6706/payment-orchestrator/internal/idempotency"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testSecret   = "middleware-test-secret-with-32-bytes!"
	testIssuer   = "payment-orchestrator"
	testAudience = "payment-orchestrator-api"
)

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func validClaims(userID, role string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"user_id": userID,
		"sub":     userID,
		"role":    role,
		"iss":     testIssuer,
		"aud":     testAudience,
		"iat":     now.Unix(),
		"exp":     now.Add(time.Hour).Unix(),
	}
}

func principalEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := PrincipalFromContext(r.Context())
		_, _ = w.Write([]byte(p.UserID + "|" + p.Role))
	})
}

func TestAuthenticator(t *testing.T) {
	auth := NewAuthenticator(testSecret, testIssuer, testAudience)
	handler := auth.Middleware(principalEcho())

	expired := validClaims("fan-1", "user")
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	mismatch := validClaims("fan-1", "user")
	mismatch["sub"] = "someone-else"
	wrongAudience := validClaims("fan-1", "user")
	wrongAudience["aud"] = "other-api"
	noExpiry := validClaims("fan-1", "user")
	delete(noExpiry, "exp")

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{name: "valid token", header: "Bearer " + signToken(t, validClaims("fan-1", "user")), status: http.StatusOK, body: "fan-1|user"},
		{name: "scheme is case insensitive", header: "bearer " + signToken(t, validClaims("ops", RoleAdmin)), status: http.StatusOK, body: "ops|admin"},
		{name: "missing header", header: "", status: http.StatusUnauthorized},
		{name: "basic scheme", header: "Basic abc", status: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + signToken(t, expired), status: http.StatusUnauthorized},
		{name: "no expiry", header: "Bearer " + signToken(t, noExpiry), status: http.StatusUnauthorized},
		{name: "subject mismatch", header: "Bearer " + signToken(t, mismatch), status: http.StatusUnauthorized},
		{name: "wrong audience", header: "Bearer " + signToken(t, wrongAudience), status: http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/payments/p1", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, tc.body, rec.Body.String())
				return
			}
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
			assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
		})
	}
}

func TestAuthenticatorWithoutSecret(t *testing.T) {
	handler := NewAuthenticator("", "", "").Middleware(principalEcho())
	req := httptest.NewRequest(http.MethodGet, "/v1/payments/p1", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, validClaims("fan-1", "user")))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(RoleAdmin)(principalEcho())

	for _, tc := range []struct {
		role   string
		status int
	}{
		{RoleAdmin, http.StatusOK},
		{"user", http.StatusForbidden},
	} {
		req := httptest.NewRequest(http.MethodPost, "/v1/admin/mids/m1/status", nil)
		req = req.WithContext(WithPrincipal(req.Context(), Principal{UserID: "u1", Role: tc.role}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, tc.status, rec.Code, tc.role)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/admin/mids/m1/status", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTraceMiddleware(t *testing.T) {
	var seen string
	handler := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceIDFromContext(r.Context())
	}))

	t.Run("propagates trace header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
		req.Header.Set(TraceIDHeader, "trace-123")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, "trace-123", seen)
		assert.Equal(t, "trace-123", rec.Header().Get(TraceIDHeader))
	})

	t.Run("falls back to request id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
		req.Header.Set(RequestIDHeader, "req-9")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, "req-9", seen)
	})

	t.Run("replaces unsafe ids", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
		req.Header.Set(TraceIDHeader, "bad id\twith spaces")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.NotEqual(t, "bad id\twith spaces", seen)
		assert.Len(t, seen, 36)
		assert.Equal(t, seen, rec.Header().Get(TraceIDHeader))
	})

	t.Run("replaces oversized ids", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
		req.Header.Set(TraceIDHeader, strings.Repeat("a", maxTraceIDLength+1))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Len(t, seen, 36)
	})
}

// scriptedHandler answers with the next status from statuses and counts calls.
type scriptedHandler struct {
	statuses []int
	calls    atomic.Int32
}

func (h *scriptedHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	n := int(h.calls.Add(1)) - 1
	status := h.statuses[min(n, len(h.statuses)-1)]
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"attempt":%d}`, n)
}

func idempotentRequest(key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/payments", bytes.NewBufferString(body))
	req.Header.Set(IdempotencyKeyHeader, key)
	return req.WithContext(WithPrincipal(req.Context(), Principal{UserID: "fan-1"}))
}

func TestIdempotencyMiddleware(t *testing.T) {
	logger := zap.NewNop()

	t.Run("replays a stored success", func(t *testing.T) {
		next := &scriptedHandler{statuses: []int{http.StatusCreated}}
		handler := IdempotencyMiddleware(idempotency.NewMemoryStore(time.Hour, nil), logger)(next)

		first := httptest.NewRecorder()
		handler.ServeHTTP(first, idempotentRequest("k1", `{"amount":1}`))
		second := httptest.NewRecorder()
		handler.ServeHTTP(second, idempotentRequest("k1", `{"amount":1}`))

		assert.Equal(t, http.StatusCreated, first.Code)
		assert.Equal(t, http.StatusCreated, second.Code)
		assert.Equal(t, first.Body.String(), second.Body.String())
		assert.Equal(t, "memory", second.Header().Get(IdempotentReplayHeader))
		assert.EqualValues(t, 1, next.calls.Load())
	})

	t.Run("replays a decline", func(t *testing.T) {
		next := &scriptedHandler{statuses: []int{http.StatusBadGateway, http.StatusCreated}}
		handler := IdempotencyMiddleware(idempotency.NewMemoryStore(time.Hour, nil), logger)(next)

		for range 2 {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, idempotentRequest("k2", `{}`))
			assert.Equal(t, http.StatusBadGateway, rec.Code)
		}
		assert.EqualValues(t, 1, next.calls.Load())
	})

	t.Run("releases the key when nothing was processed", func(t *testing.T) {
		next := &scriptedHandler{statuses: []int{http.StatusServiceUnavailable, http.StatusCreated}}
		handler := IdempotencyMiddleware(idempotency.NewMemoryStore(time.Hour, nil), logger)(next)

		first := httptest.NewRecorder()
		handler.ServeHTTP(first, idempotentRequest("k3", `{}`))
		second := httptest.NewRecorder()
		handler.ServeHTTP(second, idempotentRequest("k3", `{}`))

		assert.Equal(t, http.StatusServiceUnavailable, first.Code)
		assert.Equal(t, http.StatusCreated, second.Code)
		assert.Empty(t, second.Header().Get(IdempotentReplayHeader))
		assert.EqualValues(t, 2, next.calls.Load())
	})

	t.Run("rejects a reused key with a different body", func(t *testing.T) {
		next := &scriptedHandler{statuses: []int{http.StatusCreated}}
		handler := IdempotencyMiddleware(idempotency.NewMemoryStore(time.Hour, nil), logger)(next)

		handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest("k4", `{"amount":1}`))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, idempotentRequest("k4", `{"amount":2}`))

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.EqualValues(t, 1, next.calls.Load())
	})

	t.Run("scopes keys per caller", func(t *testing.T) {
		next := &scriptedHandler{statuses: []int{http.StatusCreated}}
		handler := IdempotencyMiddleware(idempotency.NewMemoryStore(time.Hour, nil), logger)(next)

		handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest("k5", `{}`))
		other := httptest.NewRequest(http.MethodPost, "/v1/payments", bytes.NewBufferString(`{}`))
		other.Header.Set(IdempotencyKeyHeader, "k5")
		other = other.WithContext(WithPrincipal(other.Context(), Principal{UserID: "fan-2"}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, other)

		assert.Empty(t, rec.Header().Get(IdempotentReplayHeader))
		assert.EqualValues(t, 2, next.calls.Load())
	})

	t.Run("rejects oversized keys", func(t *testing.T) {
		next := &scriptedHandler{statuses: []int{http.StatusCreated}}
		handler := IdempotencyMiddleware(idempotency.NewMemoryStore(time.Hour, nil), logger)(next)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, idempotentRequest(strings.Repeat("k", maxIdempotencyKeyLength+1), `{}`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Zero(t, next.calls.Load())
	})

	t.Run("passes through without a key", func(t *testing.T) {
		next := &scriptedHandler{statuses: []int{http.StatusCreated}}
		handler := IdempotencyMiddleware(idempotency.NewMemoryStore(time.Hour, nil), logger)(next)

		for range 2 {
			handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest("", `{}`))
		}
		assert.EqualValues(t, 2, next.calls.Load())
	})
}
