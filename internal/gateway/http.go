package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ayo6706/payment-orchestrator/internal/models"
)

const maxResponseBytes = 1 << 20

// HTTPExecutor posts charges to {gateway.Endpoint}/charges as JSON.
type HTTPExecutor struct {
	client *http.Client
}

func NewHTTPExecutor(client *http.Client) *HTTPExecutor {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPExecutor{client: client}
}

func (e *HTTPExecutor) Execute(ctx context.Context, gw models.Gateway, req ChargeRequest) (Result, error) {
	if gw.Endpoint == "" {
		return Result{}, fmt.Errorf("gateway %s has no endpoint configured", gw.ID)
	}

	var res Result
	status, err := postJSON(ctx, e.client, strings.TrimRight(gw.Endpoint, "/")+"/charges", req, &res)
	if err != nil {
		return Result{}, fmt.Errorf("gateway %s: %w", gw.ID, err)
	}
	if status == http.StatusPaymentRequired || status == http.StatusUnprocessableEntity {
		res.Success = false
		return res, nil
	}
	if status >= 300 {
		return Result{}, fmt.Errorf("gateway %s: unexpected status %d", gw.ID, status)
	}
	return res, nil
}

// HTTPPayoutExecutor posts payout instructions to {baseURL}/payouts.
type HTTPPayoutExecutor struct {
	client  *http.Client
	baseURL string
}

func NewHTTPPayoutExecutor(client *http.Client, baseURL string) *HTTPPayoutExecutor {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPPayoutExecutor{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (e *HTTPPayoutExecutor) Execute(ctx context.Context, in PayoutInstruction) (PayoutResult, error) {
	var res PayoutResult
	status, err := postJSON(ctx, e.client, e.baseURL+"/payouts", in, &res)
	if err != nil {
		return PayoutResult{}, fmt.Errorf("payout %s: %w", in.Reference, err)
	}
	if status >= 300 {
		return PayoutResult{}, fmt.Errorf("payout %s: unexpected status %d", in.Reference, status)
	}
	if res.Status == "failed" || res.Status == "rejected" {
		return res, fmt.Errorf("payout %s: %w", in.Reference, ErrDeclined)
	}
	return res, nil
}

// HTTPProber issues GET {gateway.HealthURL}. Gateways without a health URL are healthy.
type HTTPProber struct {
	client *http.Client
}

func NewHTTPProber(timeout time.Duration) *HTTPProber {
	return &HTTPProber{client: &http.Client{Timeout: timeout}}
}

func (p *HTTPProber) Probe(ctx context.Context, gw models.Gateway) error {
	if gw.HealthURL == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, gw.HealthURL, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", gw.ID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("probe %s: status %d", gw.ID, resp.StatusCode)
	}
	return nil
}

func postJSON(ctx context.Context, client *http.Client, url string, in, out any) (int, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return 0, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		if resp.StatusCode >= 300 {
			return resp.StatusCode, nil
		}
		return resp.StatusCode, errors.Join(errors.New("decode response"), err)
	}
	return resp.StatusCode, nil
}
