package middleware

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/ayo6706/payment-orchestrator/internal/api/problem"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	principalContextKey contextKey = "principal"
	traceContextKey     contextKey = "trace_id"
)

// RoleAdmin is the JWT role claim granting access to operator routes.
const RoleAdmin = "admin"

// clockSkew is the leeway applied to exp, nbf and iat.
const clockSkew = 30 * time.Second

// Principal is the authenticated caller: a fan, a creator, a platform service or an operator.
type Principal struct {
	UserID string
	Role   string
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

type authClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens issued by the platform's identity service.
// Tokens must carry user_id and exp; iss and aud are checked when configured.
type Authenticator struct {
	secret  []byte
	parser  *jwt.Parser
	enabled bool
}

func NewAuthenticator(secret, issuer, audience string) *Authenticator {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(clockSkew),
	}
	if issuer = strings.TrimSpace(issuer); issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience = strings.TrimSpace(audience); audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return &Authenticator{
		secret:  []byte(secret),
		parser:  jwt.NewParser(opts...),
		enabled: secret != "",
	}
}

// Middleware rejects requests without a valid bearer token and stores the Principal in the context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.enabled {
			problem.Write(w, r, http.StatusInternalServerError, problem.Type("auth/misconfigured"), "", "auth is not configured")
			return
		}
		tokenString, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			unauthorized(w, r, "auth/authorization-header-required", "Bearer token required")
			return
		}

		claims := &authClaims{}
		token, err := a.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
			}
			return a.secret, nil
		})
		if err != nil || !token.Valid {
			unauthorized(w, r, "auth/invalid-token", "Invalid token")
			return
		}
		userID := strings.TrimSpace(claims.UserID)
		if userID == "" || (claims.Subject != "" && claims.Subject != userID) {
			unauthorized(w, r, "auth/invalid-token-claims", "Invalid token claims")
			return
		}

		ctx := WithPrincipal(r.Context(), Principal{UserID: userID, Role: strings.TrimSpace(claims.Role)})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(w http.ResponseWriter, r *http.Request, slug, detail string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="payment-orchestrator"`)
	problem.Write(w, r, http.StatusUnauthorized, problem.Type(slug), "", detail)
}

// RequireRole lets through callers holding any of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok || !slices.Contains(roles, p.Role) {
				problem.Write(w, r, http.StatusForbidden, problem.Type("auth/insufficient-permissions"), "", "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext returns the authenticated caller, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalContextKey).(Principal)
	return p, ok && p.UserID != ""
}

// UserIDFromContext returns the authenticated user ID.
func UserIDFromContext(ctx context.Context) string {
	p, _ := PrincipalFromContext(ctx)
	return p.UserID
}

// TraceIDFromContext returns the trace id for the request.
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(traceContextKey).(string); ok {
		return v
	}
	return ""
}
