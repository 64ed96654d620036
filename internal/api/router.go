package api

import (
	"net/http"

	"github.com/ayo6706/payment-orchestrator/internal/api/handler"
	"github.com/ayo6706/payment-orchestrator/internal/api/middleware"
	"github.com/ayo6706/payment-orchestrator/internal/api/spec"
	"github.com/ayo6706/payment-orchestrator/internal/config"
	"github.com/ayo6706/payment-orchestrator/internal/idempotency"
	"github.com/ayo6706/payment-orchestrator/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Services are the application services exposed over HTTP.
type Services struct {
	Payments *service.PaymentService
	Payouts  *service.PayoutService
	Escrow   *service.EscrowService
	Health   *service.HealthService
	Webhooks *service.WebhookService
	Rules    handler.RuleAdmin
}

type Router struct {
	cfg    *config.Config
	logger *zap.Logger
	idem   idempotency.Store
	deps   map[string]handler.Pinger
	svc    Services
}

// NewRouter builds the HTTP surface. idem may be nil to disable response replay;
// deps are the readiness checks.
func NewRouter(cfg *config.Config, logger *zap.Logger, idem idempotency.Store, deps map[string]handler.Pinger, svc Services) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{cfg: cfg, logger: logger, idem: idem, deps: deps, svc: svc}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	// Handlers
	healthHandler := handler.NewHealthHandler(api.deps)
	paymentHandler := handler.NewPaymentHandler(api.svc.Payments)
	payoutHandler := handler.NewPayoutHandler(api.svc.Payouts)
	escrowHandler := handler.NewEscrowHandler(api.svc.Escrow)
	adminHandler := handler.NewAdminHandler(api.svc.Rules, api.svc.Health)
	webhookHandler := handler.NewWebhookHandler(api.svc.Webhooks)

	auth := middleware.NewAuthenticator(api.cfg.JWTSecret, api.cfg.JWTIssuer, api.cfg.JWTAudience)
	idempotent := middleware.IdempotencyMiddleware(api.idem, api.logger)

	// Public Routes
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Post("/v1/webhooks/chargebacks", webhookHandler.HandleChargebackWebhook)
	})

	// Protected Routes
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		// Payments
		r.With(idempotent).Post("/v1/payments", paymentHandler.CreatePayment)
		r.Get("/v1/payments/{id}", paymentHandler.GetPayment)
		r.Get("/v1/gateways", adminHandler.ListGateways)

		// Payouts
		r.Get("/v1/payout-methods", payoutHandler.ListPayoutMethods)
		r.With(idempotent).Post("/v1/payouts", payoutHandler.CreatePayout)
		r.Get("/v1/payouts/{id}", payoutHandler.GetPayout)

		// Escrow
		r.Route("/v1/escrow", func(r chi.Router) {
			r.With(idempotent).Post("/holds", escrowHandler.HoldFunds)
			r.Get("/transactions/{id}", escrowHandler.GetTransaction)
			r.With(idempotent).Post("/transactions/{id}/release", escrowHandler.ReleaseFunds)
			r.With(idempotent).Post("/transactions/{id}/refund", escrowHandler.RefundFunds)
			r.With(idempotent).Post("/transactions/{id}/disputes", escrowHandler.CreateDispute)
			r.Get("/disputes/{id}", escrowHandler.GetDispute)
			r.With(idempotent).Post("/disputes/{id}/evidence", escrowHandler.AddEvidence)
			r.With(middleware.RequireRole(middleware.RoleAdmin), idempotent).Post("/disputes/{id}/resolve", escrowHandler.ResolveDispute)
			r.Get("/users/{userID}/balance", escrowHandler.GetBalance)
			r.Get("/users/{userID}/transactions", escrowHandler.ListTransactions)
		})

		// Admin
		r.Route("/v1/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(middleware.RoleAdmin))

			r.Get("/routing-rules", adminHandler.ListRules)
			r.Post("/routing-rules", adminHandler.CreateRule)
			r.Patch("/routing-rules/{id}", adminHandler.UpdateRule)

			r.Get("/mids", adminHandler.ListMIDs)
			r.Post("/mids/{id}/pause", adminHandler.PauseMID)
			r.Post("/mids/{id}/resume", adminHandler.ResumeMID)
			r.Post("/mids/{id}/suspend", adminHandler.SuspendMID)
			r.Post("/mids/{id}/chargebacks", adminHandler.RecordChargeback)

			r.Put("/gateways/{id}/status", adminHandler.SetGatewayStatus)

			r.Post("/escrow/accounts/{id}/freeze", escrowHandler.FreezeAccount)
			r.Post("/escrow/accounts/{id}/unfreeze", escrowHandler.UnfreezeAccount)
			r.Patch("/escrow/disputes/{id}", escrowHandler.UpdateDispute)
		})
	})

	return r
}
