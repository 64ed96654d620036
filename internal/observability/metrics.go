package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce            sync.Once
	httpDurationHistogram   *prometheus.HistogramVec
	idempotencyCounter      *prometheus.CounterVec
	workerRunCounter        *prometheus.CounterVec
	paymentCounter          *prometheus.CounterVec
	gatewayLatencyHistogram *prometheus.HistogramVec
	routingFailureCounter   prometheus.Counter
	routingFallbackCounter  *prometheus.CounterVec
	midTransitionCounter    *prometheus.CounterVec
	gatewayStatusGauge      *prometheus.GaugeVec
	payoutCounter           *prometheus.CounterVec
	escrowOperationCounter  *prometheus.CounterVec
	ledgerInvariantCounter  prometheus.Counter
	escrowImbalanceGauge    prometheus.Gauge
	eventCounter            *prometheus.CounterVec
	eventDroppedCounter     *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		paymentCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payments_total",
			Help: "Payment outcomes by gateway",
		}, []string{"gateway", "status"})

		gatewayLatencyHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_execution_duration_seconds",
			Help:    "Latency of gateway execution calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"gateway"})

		routingFailureCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routing_no_gateway_total",
			Help: "Payment requests for which no routing rule yielded a usable gateway",
		})

		routingFallbackCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "routing_fallback_total",
			Help: "Routing decisions served by a fallback gateway",
		}, []string{"rule"})

		midTransitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mid_status_transitions_total",
			Help: "Merchant ID status transitions",
		}, []string{"status", "reason"})

		gatewayStatusGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_active",
			Help: "1 when the gateway is active, 0 otherwise",
		}, []string{"gateway"})

		payoutCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payouts_total",
			Help: "Payout outcomes by method",
		}, []string{"method", "status"})

		escrowOperationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_operations_total",
			Help: "Escrow ledger operations",
		}, []string{"operation", "result"})

		ledgerInvariantCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "escrow_invariant_violations_total",
			Help: "Mutations aborted because balance != held + available",
		})

		escrowImbalanceGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "escrow_reconciliation_imbalanced_accounts",
			Help: "Accounts whose balances disagree with their open transactions at the last reconciliation",
		})

		eventCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "events_delivered_total",
			Help: "Events consumed by the metrics subscriber",
		}, []string{"type"})

		eventDroppedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "events_dropped_total",
			Help: "Events that could not be queued",
		}, []string{"category"})

		prometheus.MustRegister(
			httpDurationHistogram,
			idempotencyCounter,
			workerRunCounter,
			paymentCounter,
			gatewayLatencyHistogram,
			routingFailureCounter,
			routingFallbackCounter,
			midTransitionCounter,
			gatewayStatusGauge,
			payoutCounter,
			escrowOperationCounter,
			ledgerInvariantCounter,
			escrowImbalanceGauge,
			eventCounter,
			eventDroppedCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}

func IncrementPayment(gateway, status string) {
	if paymentCounter == nil {
		return
	}
	paymentCounter.WithLabelValues(gateway, status).Inc()
}

func ObserveGatewayLatency(gateway string, duration time.Duration) {
	if gatewayLatencyHistogram == nil {
		return
	}
	gatewayLatencyHistogram.WithLabelValues(gateway).Observe(duration.Seconds())
}

func IncrementRoutingFailure() {
	if routingFailureCounter == nil {
		return
	}
	routingFailureCounter.Inc()
}

func IncrementRoutingFallback(rule string) {
	if routingFallbackCounter == nil {
		return
	}
	routingFallbackCounter.WithLabelValues(rule).Inc()
}

func IncrementMIDTransition(status, reason string) {
	if midTransitionCounter == nil {
		return
	}
	midTransitionCounter.WithLabelValues(status, reason).Inc()
}

func SetGatewayActive(gateway string, active bool) {
	if gatewayStatusGauge == nil {
		return
	}
	v := 0.0
	if active {
		v = 1
	}
	gatewayStatusGauge.WithLabelValues(gateway).Set(v)
}

func IncrementPayout(method, status string) {
	if payoutCounter == nil {
		return
	}
	payoutCounter.WithLabelValues(method, status).Inc()
}

func IncrementEscrowOperation(operation, result string) {
	if escrowOperationCounter == nil {
		return
	}
	escrowOperationCounter.WithLabelValues(operation, result).Inc()
}

func IncrementLedgerInvariantViolation() {
	if ledgerInvariantCounter == nil {
		return
	}
	ledgerInvariantCounter.Inc()
}

func SetEscrowImbalances(n int) {
	if escrowImbalanceGauge == nil {
		return
	}
	escrowImbalanceGauge.Set(float64(n))
}

func IncrementEvent(eventType string) {
	if eventCounter == nil {
		return
	}
	eventCounter.WithLabelValues(eventType).Inc()
}

func IncrementEventDropped(category string) {
	if eventDroppedCounter == nil {
		return
	}
	eventDroppedCounter.WithLabelValues(category).Inc()
}
