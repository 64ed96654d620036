package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ayo6706/payment-orchestrator/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"
)

func TestSandboxHonoursSuccessRate(t *testing.T) {
	sb := NewSandbox(clockz.RealClock, WithSeed(42))
	ctx := context.Background()

	always := models.Gateway{ID: "ccbill", Name: "CCBill", SuccessRate: decimal.NewFromInt(1)}
	never := models.Gateway{ID: "segpay", Name: "Segpay", SuccessRate: decimal.Zero}

	for i := 0; i < 20; i++ {
		res, err := sb.Execute(ctx, always, ChargeRequest{PaymentID: "p"})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Contains(t, res.TransactionID, "CCBILL-")

		res, err = sb.Execute(ctx, never, ChargeRequest{PaymentID: "p"})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Empty(t, res.TransactionID)
	}
}

func TestSandboxLatencyRespectsContext(t *testing.T) {
	sb := NewSandbox(clockz.RealClock, WithLatency(time.Minute))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := sb.Execute(ctx, models.Gateway{ID: "slow", SuccessRate: decimal.NewFromInt(1)}, ChargeRequest{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSandboxPayouts(t *testing.T) {
	ctx := context.Background()

	ok := NewSandboxPayouts(clockz.RealClock, 0, WithSeed(1))
	res, err := ok.Execute(ctx, PayoutInstruction{Reference: "r1", MethodID: "paxum", Amount: 10})
	require.NoError(t, err)
	assert.Equal(t, "completed", res.Status)
	assert.Contains(t, res.PayoutID, "PO-PAXUM-")

	failing := NewSandboxPayouts(clockz.RealClock, 1, WithSeed(1))
	_, err = failing.Execute(ctx, PayoutInstruction{Reference: "r2", MethodID: "paxum"})
	require.ErrorIs(t, err, ErrDeclined)
}

func TestHTTPExecutor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/charges", r.URL.Path)
		var req ChargeRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		switch req.PaymentID {
		case "ok":
			_ = json.NewEncoder(w).Encode(Result{Success: true, TransactionID: "gw-1"})
		case "declined":
			w.WriteHeader(http.StatusPaymentRequired)
			_ = json.NewEncoder(w).Encode(Result{Message: "insufficient funds"})
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	exec := NewHTTPExecutor(srv.Client())
	gw := models.Gateway{ID: "ccbill", Endpoint: srv.URL + "/"}
	ctx := context.Background()

	res, err := exec.Execute(ctx, gw, ChargeRequest{PaymentID: "ok"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "gw-1", res.TransactionID)

	res, err = exec.Execute(ctx, gw, ChargeRequest{PaymentID: "declined"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "insufficient funds", res.Message)

	_, err = exec.Execute(ctx, gw, ChargeRequest{PaymentID: "boom"})
	require.Error(t, err)

	_, err = exec.Execute(ctx, models.Gateway{ID: "no-endpoint"}, ChargeRequest{})
	require.Error(t, err)
}

func TestHTTPPayoutExecutor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in PayoutInstruction
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		status := "completed"
		if in.Destination == "blocked" {
			status = "rejected"
		}
		_ = json.NewEncoder(w).Encode(PayoutResult{PayoutID: "ext-" + in.Reference, Status: status})
	}))
	defer srv.Close()

	exec := NewHTTPPayoutExecutor(srv.Client(), srv.URL)
	res, err := exec.Execute(context.Background(), PayoutInstruction{Reference: "r1", Destination: "acct"})
	require.NoError(t, err)
	assert.Equal(t, "ext-r1", res.PayoutID)

	_, err = exec.Execute(context.Background(), PayoutInstruction{Reference: "r2", Destination: "blocked"})
	require.ErrorIs(t, err, ErrDeclined)
}

func TestHTTPProber(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	prober := NewHTTPProber(time.Second)
	ctx := context.Background()
	gw := models.Gateway{ID: "ccbill", HealthURL: srv.URL}

	require.NoError(t, prober.Probe(ctx, gw))
	healthy.Store(false)
	require.Error(t, prober.Probe(ctx, gw))

	srv.Close()
	require.Error(t, prober.Probe(ctx, gw), "unreachable gateway is down")
	require.NoError(t, prober.Probe(ctx, models.Gateway{ID: "no-url"}))
}
