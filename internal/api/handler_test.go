package api_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/payment-orchestrator/internal/api"
	"github.com/ayo6706/payment-orchestrator/internal/api/handler"
	"github.com/ayo6706/payment-orchestrator/internal/catalog"
	"github.com/ayo6706/payment-orchestrator/internal/config"
	"github.com/ayo6706/payment-orchestrator/internal/domain"
	"github.com/ayo6706/payment-orchestrator/internal/gateway"
	"github.com/ayo6706/payment-orchestrator/internal/idempotency"
	"github.com/ayo6706/payment-orchestrator/internal/models"
	"github.com/ayo6706/payment-orchestrator/internal/registry"
	"github.com/ayo6706/payment-orchestrator/internal/repository"
	"github.com/ayo6706/payment-orchestrator/internal/routing"
	"github.com/ayo6706/payment-orchestrator/internal/service"
	"github.com/ayo6706/payment-orchestrator/internal/testutil"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testJWTSecret   = "test-secret-0123456789-test-secret"
	testJWTIssuer   = "payment-orchestrator-test"
	testJWTAudience = "payment-api-test"
	testWebhookKey  = "whsec_test"
)

type stubExecutor struct {
	mu      sync.Mutex
	calls   int
	decline bool
}

func (s *stubExecutor) Execute(_ context.Context, gw models.Gateway, req gateway.ChargeRequest) (gateway.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.decline {
		return gateway.Result{Success: false, Message: "insufficient funds"}, nil
	}
	return gateway.Result{Success: true, TransactionID: gw.ID + "-" + req.PaymentID}, nil
}

func (s *stubExecutor) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubExecutor) setDecline(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decline = v
}

type healthyProber struct{}

func (healthyProber) Probe(context.Context, models.Gateway) error { return nil }

type testAPI struct {
	handler  http.Handler
	executor *stubExecutor
	store    *repository.MemoryStore
}

func setupAPI(t *testing.T) *testAPI {
	t.Helper()
	clock := testutil.NewClock(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC))
	cat := catalog.Default()
	store := repository.NewMemoryStore()
	locks := service.NewAccountLocks()

	gateways := registry.NewGatewayRegistry(cat.Gateways, clock)
	mids := registry.NewMIDRegistry(cat.MIDs, clock)
	engine := routing.NewEngine(cat.Rules, gateways, mids)
	exec := &stubExecutor{}

	health := service.NewHealthService(gateways, mids, healthyProber{}, store, nil, clock, time.Second)
	payments := service.NewPaymentService(store, engine, exec, gateways, mids, nil, clock, time.Second)
	payouts := service.NewPayoutService(store, registry.NewPayoutMethods(cat.PayoutMethods), gateway.NewSandboxPayouts(clock, 0), locks, nil, clock)
	escrow := service.NewEscrowService(store, nil, locks, clock, service.EscrowConfig{
		DefaultHoldDays: domain.DefaultHoldDays,
		MaxHoldAmount:   10_000_000_000,
	})
	webhooks := service.NewWebhookService(store, health, testWebhookKey, false, clock)

	cfg := &config.Config{
		HTTPPort:           "0",
		JWTSecret:          testJWTSecret,
		JWTIssuer:          testJWTIssuer,
		JWTAudience:        testJWTAudience,
		PublicRateLimitRPS: 1000,
		AuthRateLimitRPS:   1000,
		IdempotencyTTL:     time.Hour,
	}
	router := api.NewRouter(cfg, zap.NewNop(), idempotency.NewMemoryStore(time.Hour, clock),
		map[string]handler.Pinger{"store": store},
		api.Services{
			Payments: payments,
			Payouts:  payouts,
			Escrow:   escrow,
			Health:   health,
			Webhooks: webhooks,
			Rules:    engine,
		})
	return &testAPI{handler: router.Routes(), executor: exec, store: store}
}

func generateTestToken(userID string) string {
	return generateTokenWithRole(userID, "user")
}

func generateTokenWithRole(userID, role string) string {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"role":    role,
		"iss":     testJWTIssuer,
		"aud":     testJWTAudience,
		"sub":     userID,
		"iat":     now.Unix(),
		"nbf":     now.Add(-30 * time.Second).Unix(),
		"exp":     now.Add(time.Hour).Unix(),
	})
	tokenString, _ := token.SignedString([]byte(testJWTSecret))
	return tokenString
}

type call struct {
	method  string
	path    string
	body    any
	token   string
	headers map[string]string
}

func (a *testAPI) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if c.body != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(c.body))
	}
	req := httptest.NewRequest(c.method, c.path, &body)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func usPayment(id string) map[string]any {
	return map[string]any{
		"id":             id,
		"platform_id":    "fanz",
		"amount":         50_000_000,
		"currency":       "USD",
		"region":         "US",
		"payment_method": "card",
	}
}

func TestRFC7807ProblemDetails(t *testing.T) {
	a := setupAPI(t)

	w := a.do(t, call{method: http.MethodGet, path: "/v1/escrow/users/creator-1/balance"})

	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Header().Get("Content-Type"), "application/problem+json")

	body := decode[map[string]any](t, w)
	assert.NotEmpty(t, body["type"])
	assert.Equal(t, float64(http.StatusUnauthorized), body["status"])
	assert.NotEmpty(t, body["title"])
	assert.NotEmpty(t, body["detail"])
	assert.Equal(t, "/v1/escrow/users/creator-1/balance", body["instance"])
	assert.NotEmpty(t, body["request_id"])
}

func TestHealthEndpoints(t *testing.T) {
	a := setupAPI(t)

	w := a.do(t, call{method: http.MethodGet, path: "/health/live"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, call{method: http.MethodGet, path: "/health/ready"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, call{method: http.MethodGet, path: "/openapi.yaml"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/v1/payments")
}

func TestReadyReportsFailingDependency(t *testing.T) {
	h := handler.NewHealthHandler(map[string]handler.Pinger{
		"redis": handler.PingFunc(func(context.Context) error { return errors.New("connection refused") }),
		"none":  nil,
	})

	w := httptest.NewRecorder()
	h.Ready(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "redis unavailable")
}

func TestCreatePaymentAndReplay(t *testing.T) {
	a := setupAPI(t)
	token := generateTestToken("fan-1")
	body := usPayment("")

	w := a.do(t, call{method: http.MethodPost, path: "/v1/payments", body: body, token: token,
		headers: map[string]string{"Idempotency-Key": "pay-1"}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	res := decode[service.TransactionResult](t, w)
	assert.Equal(t, "fan-1:pay-1", res.Transaction.ID)
	assert.Equal(t, "fan-1", res.Transaction.UserID)
	assert.Equal(t, domain.PaymentStatusCompleted, res.Transaction.Status)
	assert.Equal(t, "ccbill", res.Transaction.GatewayID)
	assert.Equal(t, "ccbill-us-01", res.Transaction.MIDID)
	assert.Equal(t, int64(5_400_000), res.Transaction.Fees)
	assert.Equal(t, int64(44_600_000), res.Transaction.NetAmount)

	// same key and body: the stored response is replayed
	w = a.do(t, call{method: http.MethodPost, path: "/v1/payments", body: body, token: token,
		headers: map[string]string{"Idempotency-Key": "pay-1"}})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "memory", w.Header().Get("X-Idempotent-Replay"))

	// same key, different body
	changed := usPayment("")
	changed["amount"] = 60_000_000
	w = a.do(t, call{method: http.MethodPost, path: "/v1/payments", body: changed, token: token,
		headers: map[string]string{"Idempotency-Key": "pay-1"}})
	assert.Equal(t, http.StatusConflict, w.Code)

	// no header, same payment id: the processor replays it
	w = a.do(t, call{method: http.MethodPost, path: "/v1/payments", body: usPayment("fan-1:pay-1"), token: token})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[service.TransactionResult](t, w).Replayed)

	assert.Equal(t, 1, a.executor.Calls())
}

func TestPaymentIDsAreOwnedByTheirUser(t *testing.T) {
	a := setupAPI(t)
	fan1, fan2 := generateTestToken("fan-1"), generateTestToken("fan-2")

	w := a.do(t, call{method: http.MethodPost, path: "/v1/payments", body: usPayment("order-1"), token: fan1})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// another user naming the same id gets a conflict, not the first user's payment
	taken := usPayment("order-1")
	taken["amount"] = 7_000_000
	w = a.do(t, call{method: http.MethodPost, path: "/v1/payments", body: taken, token: fan2})
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "request/id-conflict")
	assert.NotContains(t, w.Body.String(), "fan-1")

	// the same Idempotency-Key from two users yields two payments
	for _, token := range []string{fan1, fan2} {
		w = a.do(t, call{method: http.MethodPost, path: "/v1/payments", body: usPayment(""), token: token,
			headers: map[string]string{"Idempotency-Key": "shared-key"}})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		assert.False(t, decode[service.TransactionResult](t, w).Replayed)
	}

	w = a.do(t, call{method: http.MethodGet, path: "/v1/payments/fan-2:shared-key", token: fan2})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "fan-2", decode[models.PaymentTransaction](t, w).UserID)

	assert.Equal(t, 3, a.executor.Calls())
}

func TestCreatePaymentErrors(t *testing.T) {
	a := setupAPI(t)
	token := generateTestToken("fan-1")

	tooLarge := usPayment("big")
	tooLarge["amount"] = 3_000_000_000
	missingPlatform := usPayment("np")
	delete(missingPlatform, "platform_id")
	badRisk := usPayment("risk")
	badRisk["risk_level"] = "extreme"
	otherUser := usPayment("other")
	otherUser["user_id"] = "fan-2"

	cases := []struct {
		name string
		body map[string]any
		want int
	}{
		{name: "no_gateway_for_amount", body: tooLarge, want: http.StatusServiceUnavailable},
		{name: "missing_platform", body: missingPlatform, want: http.StatusBadRequest},
		{name: "invalid_risk_level", body: badRisk, want: http.StatusBadRequest},
		{name: "paying_for_someone_else", body: otherUser, want: http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := a.do(t, call{method: http.MethodPost, path: "/v1/payments", body: tc.body, token: token})
			assert.Equal(t, tc.want, w.Code, w.Body.String())
		})
	}
	assert.Zero(t, a.executor.Calls())
}

func TestCreatePaymentDeclined(t *testing.T) {
	a := setupAPI(t)
	a.executor.setDecline(true)
	token := generateTestToken("fan-1")

	w := a.do(t, call{method: http.MethodPost, path: "/v1/payments", body: usPayment("declined-1"), token: token})
	require.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/problem+json")

	w = a.do(t, call{method: http.MethodGet, path: "/v1/payments/declined-1", token: token})
	require.Equal(t, http.StatusOK, w.Code)
	txn := decode[models.PaymentTransaction](t, w)
	assert.Equal(t, domain.PaymentStatusFailed, txn.Status)
	assert.Equal(t, "insufficient funds", txn.Error)
}

func TestGetPaymentOwnership(t *testing.T) {
	a := setupAPI(t)
	w := a.do(t, call{method: http.MethodPost, path: "/v1/payments", body: usPayment("owned-1"), token: generateTestToken("fan-1")})
	require.Equal(t, http.StatusCreated, w.Code)

	cases := []struct {
		name  string
		path  string
		token string
		want  int
	}{
		{name: "owner", path: "/v1/payments/owned-1", token: generateTestToken("fan-1"), want: http.StatusOK},
		{name: "other_user", path: "/v1/payments/owned-1", token: generateTestToken("fan-2"), want: http.StatusForbidden},
		{name: "admin", path: "/v1/payments/owned-1", token: generateTokenWithRole("ops-1", "admin"), want: http.StatusOK},
		{name: "unknown", path: "/v1/payments/missing", token: generateTestToken("fan-1"), want: http.StatusNotFound},
		{name: "unauthenticated", path: "/v1/payments/owned-1", want: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := a.do(t, call{method: http.MethodGet, path: tc.path, token: tc.token})
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func (a *testAPI) hold(t *testing.T, fan, creator string, amount int64) models.EscrowTransaction {
	t.Helper()
	w := a.do(t, call{method: http.MethodPost, path: "/v1/escrow/holds", token: generateTestToken(fan), body: map[string]any{
		"to":       creator,
		"amount":   amount,
		"currency": "USD",
		"reason":   "subscription",
	}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[models.EscrowTransaction](t, w)
}

func TestEscrowHoldReleaseAndPayout(t *testing.T) {
	a := setupAPI(t)
	fan, creator := generateTestToken("fan-1"), generateTestToken("creator-1")

	tx := a.hold(t, "fan-1", "creator-1", 80_000_000)
	assert.Equal(t, domain.EscrowStatusHeld, tx.Status)
	assert.Equal(t, domain.DefaultHoldDays, tx.HoldDays)
	assert.True(t, tx.AutoRelease)

	w := a.do(t, call{method: http.MethodGet, path: "/v1/escrow/users/creator-1/balance", token: creator})
	require.Equal(t, http.StatusOK, w.Code)
	balance := decode[struct {
		Accounts []models.EscrowAccount `json:"accounts"`
	}](t, w)
	require.Len(t, balance.Accounts, 1)
	assert.Equal(t, int64(80_000_000), balance.Accounts[0].HeldBalance)
	assert.Zero(t, balance.Accounts[0].Available)

	w = a.do(t, call{method: http.MethodGet, path: "/v1/escrow/users/creator-1/balance", token: fan})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// only the payer releases early
	releasePath := "/v1/escrow/transactions/" + tx.ID.String() + "/release"
	w = a.do(t, call{method: http.MethodPost, path: releasePath, token: creator})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = a.do(t, call{method: http.MethodPost, path: releasePath, token: fan})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, domain.EscrowStatusReleased, decode[models.EscrowTransaction](t, w).Status)

	w = a.do(t, call{method: http.MethodPost, path: releasePath, token: fan})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = a.do(t, call{method: http.MethodGet, path: "/v1/escrow/transactions/" + tx.ID.String(), token: creator})
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[struct {
		Releases []models.EscrowRelease `json:"releases"`
	}](t, w)
	require.Len(t, detail.Releases, 1)
	assert.Equal(t, domain.ReleaseTypeManual, detail.Releases[0].Type)

	w = a.do(t, call{method: http.MethodGet, path: "/v1/escrow/users/creator-1/transactions?view=history", token: creator})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode[map[string]any](t, w)["count"])

	// payouts draw on the released balance
	w = a.do(t, call{method: http.MethodPost, path: "/v1/payouts", token: creator, body: map[string]any{
		"amount":      100_000_000,
		"method_id":   "paxum",
		"destination": "creator-1@paxum",
	}})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = a.do(t, call{method: http.MethodPost, path: "/v1/payouts", token: creator, body: map[string]any{
		"amount":      50_000_000,
		"method_id":   "paxum",
		"destination": "creator-1@paxum",
	}, headers: map[string]string{"Idempotency-Key": "payout-1"}})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	payout := decode[models.PayoutRequest](t, w)
	assert.Equal(t, domain.PayoutStatusProcessing, payout.Status)
	assert.Equal(t, int64(1_000_000), payout.Fee)
	assert.Equal(t, "payout-1", payout.ReferenceID)

	w = a.do(t, call{method: http.MethodGet, path: "/v1/payouts/" + payout.ID.String(), token: creator})
	assert.Equal(t, http.StatusOK, w.Code)
	w = a.do(t, call{method: http.MethodGet, path: "/v1/payouts/" + payout.ID.String(), token: fan})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = a.do(t, call{method: http.MethodGet, path: "/v1/payouts/" + uuid.NewString(), token: creator})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(t, call{method: http.MethodGet, path: "/v1/payout-methods", token: creator})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotZero(t, decode[map[string]any](t, w)["count"])
}

func TestEscrowHoldValidation(t *testing.T) {
	a := setupAPI(t)
	token := generateTestToken("fan-1")

	cases := []struct {
		name string
		body map[string]any
		want int
	}{
		{name: "missing_recipient", body: map[string]any{"amount": 1_000_000, "currency": "USD"}, want: http.StatusBadRequest},
		{name: "hold_days_out_of_range", body: map[string]any{"to": "creator-1", "amount": 1_000_000, "currency": "USD", "hold_days": 400}, want: http.StatusBadRequest},
		{name: "over_max_hold", body: map[string]any{"to": "creator-1", "amount": 20_000_000_000, "currency": "USD"}, want: http.StatusUnprocessableEntity},
		{name: "on_behalf_of_other_fan", body: map[string]any{"from": "fan-2", "to": "creator-1", "amount": 1_000_000, "currency": "USD"}, want: http.StatusForbidden},
		{name: "unknown_field", body: map[string]any{"to": "creator-1", "amount": 1_000_000, "currency": "USD", "tip": true}, want: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := a.do(t, call{method: http.MethodPost, path: "/v1/escrow/holds", body: tc.body, token: token})
			assert.Equal(t, tc.want, w.Code, w.Body.String())
		})
	}
}

func TestDisputePartialRefund(t *testing.T) {
	a := setupAPI(t)
	creator := generateTestToken("creator-1")
	admin := generateTokenWithRole("ops-1", "admin")

	tx := a.hold(t, "fan-1", "creator-1", 100_000_000)

	w := a.do(t, call{method: http.MethodPost, path: "/v1/escrow/transactions/" + tx.ID.String() + "/disputes", token: generateTestToken("stranger"),
		body: map[string]any{"reason": "not delivered"}})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(t, call{method: http.MethodPost, path: "/v1/escrow/transactions/" + tx.ID.String() + "/disputes", token: generateTestToken("fan-1"),
		body: map[string]any{"reason": "not delivered", "evidence": []string{"chat-log-1"}}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	dispute := decode[models.EscrowDispute](t, w)
	assert.Equal(t, domain.DisputeStatusOpen, dispute.Status)

	w = a.do(t, call{method: http.MethodPost, path: "/v1/escrow/transactions/" + tx.ID.String() + "/refund", token: creator,
		body: map[string]any{"reason": "goodwill"}})
	assert.Equal(t, http.StatusConflict, w.Code)

	disputePath := "/v1/escrow/disputes/" + dispute.ID.String()
	w = a.do(t, call{method: http.MethodPost, path: disputePath + "/evidence", token: creator, body: map[string]any{"evidence": "delivery-receipt"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"chat-log-1", "delivery-receipt"}, decode[models.EscrowDispute](t, w).Evidence)

	w = a.do(t, call{method: http.MethodPatch, path: "/v1/admin/escrow/disputes/" + dispute.ID.String(), token: admin, body: map[string]any{"status": "investigating"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.DisputeStatusInvestigating, decode[models.EscrowDispute](t, w).Status)

	resolve := func(token string, body map[string]any) *httptest.ResponseRecorder {
		return a.do(t, call{method: http.MethodPost, path: disputePath + "/resolve", token: token, body: body})
	}
	assert.Equal(t, http.StatusForbidden, resolve(creator, map[string]any{"resolution": "release"}).Code)
	assert.Equal(t, http.StatusBadRequest, resolve(admin, map[string]any{"resolution": "partial_refund"}).Code)
	assert.Equal(t, http.StatusBadRequest, resolve(admin, map[string]any{"resolution": "split"}).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, resolve(admin, map[string]any{"resolution": "partial_refund", "amount": 100_000_000}).Code)

	w = resolve(admin, map[string]any{"resolution": "partial_refund", "amount": 30_000_000})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resolved := decode[models.EscrowDispute](t, w)
	assert.Equal(t, domain.DisputeStatusResolved, resolved.Status)
	assert.Equal(t, "ops-1", resolved.ResolvedBy)

	assert.Equal(t, http.StatusConflict, resolve(admin, map[string]any{"resolution": "release"}).Code)

	w = a.do(t, call{method: http.MethodGet, path: "/v1/escrow/transactions/" + tx.ID.String(), token: creator})
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[struct {
		Transaction models.EscrowTransaction `json:"transaction"`
		Releases    []models.EscrowRelease   `json:"releases"`
	}](t, w)
	assert.Equal(t, domain.EscrowStatusReleased, detail.Transaction.Status)
	assert.Equal(t, int64(30_000_000), detail.Transaction.RefundedAmount)
	assert.Len(t, detail.Releases, 2)

	w = a.do(t, call{method: http.MethodGet, path: "/v1/escrow/users/creator-1/balance", token: creator})
	require.Equal(t, http.StatusOK, w.Code)
	balance := decode[struct {
		Accounts []models.EscrowAccount `json:"accounts"`
	}](t, w)
	require.Len(t, balance.Accounts, 1)
	assert.Equal(t, int64(70_000_000), balance.Accounts[0].Available)
	assert.Equal(t, int64(70_000_000), balance.Accounts[0].Balance)
	assert.Zero(t, balance.Accounts[0].HeldBalance)
}

func TestAdminFreezeBlocksRelease(t *testing.T) {
	a := setupAPI(t)
	admin := generateTokenWithRole("ops-1", "admin")
	tx := a.hold(t, "fan-1", "creator-1", 10_000_000)

	freezePath := "/v1/admin/escrow/accounts/" + tx.AccountID.String() + "/freeze"
	w := a.do(t, call{method: http.MethodPost, path: freezePath, token: generateTestToken("creator-1")})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(t, call{method: http.MethodPost, path: freezePath, token: admin})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.AccountStatusFrozen, decode[models.EscrowAccount](t, w).Status)

	w = a.do(t, call{method: http.MethodPost, path: "/v1/escrow/transactions/" + tx.ID.String() + "/release", token: generateTestToken("fan-1")})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = a.do(t, call{method: http.MethodPost, path: "/v1/admin/escrow/accounts/" + tx.AccountID.String() + "/unfreeze", token: admin})
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, call{method: http.MethodPost, path: "/v1/escrow/transactions/" + tx.ID.String() + "/release", token: generateTestToken("fan-1")})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminMIDAndGatewayOverrides(t *testing.T) {
	a := setupAPI(t)
	admin := generateTokenWithRole("ops-1", "admin")
	fan := generateTestToken("fan-1")

	w := a.do(t, call{method: http.MethodGet, path: "/v1/admin/mids", token: fan})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(t, call{method: http.MethodPost, path: "/v1/admin/mids/ccbill-us-01/pause", token: admin, body: map[string]any{"reason": "review"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	mid := decode[models.MerchantID](t, w)
	assert.Equal(t, domain.MIDStatusPaused, mid.Status)
	assert.Equal(t, "review", mid.PauseReason)

	// with the US MID paused, us-cards falls back to segpay
	w = a.do(t, call{method: http.MethodPost, path: "/v1/payments", body: usPayment("fallback-1"), token: fan})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decode[service.TransactionResult](t, w)
	assert.Equal(t, "segpay", res.Transaction.GatewayID)
	assert.Equal(t, "segpay-us-01", res.Transaction.MIDID)

	w = a.do(t, call{method: http.MethodPost, path: "/v1/admin/mids/ccbill-us-01/resume", token: admin})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.MIDStatusActive, decode[models.MerchantID](t, w).Status)

	w = a.do(t, call{method: http.MethodPost, path: "/v1/admin/mids/nope/pause", token: admin})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(t, call{method: http.MethodPut, path: "/v1/admin/gateways/ccbill/status", token: admin, body: map[string]any{"status": "broken"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = a.do(t, call{method: http.MethodPut, path: "/v1/admin/gateways/nope/status", token: admin, body: map[string]any{"status": "maintenance"}})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = a.do(t, call{method: http.MethodPut, path: "/v1/admin/gateways/ccbill/status", token: admin, body: map[string]any{"status": "maintenance"}})
	require.Equal(t, http.StatusOK, w.Code)
	gw := decode[models.Gateway](t, w)
	assert.Equal(t, domain.GatewayStatusMaintenance, gw.Status)
	assert.True(t, gw.Pinned)

	w = a.do(t, call{method: http.MethodGet, path: "/v1/gateways", token: fan})
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, call{method: http.MethodPatch, path: "/v1/admin/routing-rules/missing", token: admin, body: map[string]any{"enabled": false}})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = a.do(t, call{method: http.MethodPatch, path: "/v1/admin/routing-rules/us-cards", token: admin, body: map[string]any{"priority": 1}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[models.RoutingRule](t, w).Priority)

	w = a.do(t, call{method: http.MethodPost, path: "/v1/admin/routing-rules", token: admin, body: map[string]any{
		"id": "jp-cards", "priority": 15, "conditions": map[string]any{"regions": []string{"JP"}}, "target_gateway": "epoch",
	}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = a.do(t, call{method: http.MethodGet, path: "/v1/admin/routing-rules", token: admin})
	require.Equal(t, http.StatusOK, w.Code)
	rules := decode[struct {
		Items []models.RoutingRule `json:"items"`
	}](t, w)
	require.NotEmpty(t, rules.Items)
	assert.Equal(t, "us-cards", rules.Items[0].ID)
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookKey))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestChargebackWebhook(t *testing.T) {
	a := setupAPI(t)
	w := a.do(t, call{method: http.MethodPost, path: "/v1/payments", body: usPayment("cb-1"), token: generateTestToken("fan-1")})
	require.Equal(t, http.StatusCreated, w.Code)

	post := func(body []byte, signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/chargebacks", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if signature != "" {
			req.Header.Set("X-Webhook-Signature", signature)
		}
		rec := httptest.NewRecorder()
		a.handler.ServeHTTP(rec, req)
		return rec
	}

	body := []byte(`{"payment_id":"cb-1","gateway_id":"ccbill","reason":"fraud"}`)
	assert.Equal(t, http.StatusUnauthorized, post(body, "sha256=deadbeef").Code)
	assert.Equal(t, http.StatusUnauthorized, post(body, "").Code)

	w = post(body, sign(body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[service.ChargebackWebhookResponse](t, w)
	assert.Equal(t, "recorded", resp.Status)
	assert.Equal(t, "ccbill-us-01", resp.MIDID)

	w = post(body, sign(body))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "duplicate", decode[service.ChargebackWebhookResponse](t, w).Status)

	unknown := []byte(`{"payment_id":"nope"}`)
	assert.Equal(t, http.StatusNotFound, post(unknown, sign(unknown)).Code)
}
