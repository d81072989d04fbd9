package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ringwise/ringwise-backend/api/controllers"
	billingcontrollers "github.com/ringwise/ringwise-backend/api/controllers/billing"
	webhookcontrollers "github.com/ringwise/ringwise-backend/api/controllers/webhooks"
	"github.com/ringwise/ringwise-backend/api/middleware"
	"github.com/ringwise/ringwise-backend/internal/subscriptions"
	"github.com/ringwise/ringwise-backend/pkg/config"
	"github.com/ringwise/ringwise-backend/pkg/logger"
	"github.com/ringwise/ringwise-backend/pkg/metrics"
	"github.com/ringwise/ringwise-backend/pkg/redis"
)

// Dependencies groups everything the router hands to controllers.
type Dependencies struct {
	DB            controllers.Pinger
	Redis         *redis.Client
	Gatherer      prometheus.Gatherer
	HTTPMetrics   *metrics.HTTPMetrics
	Accounts      controllers.AccountService
	Numbers       controllers.NumberService
	Plans         billingcontrollers.PlanCatalog
	Orders        billingcontrollers.OrderRegistrar
	Subscriptions subscriptions.Service
	VapiWebhook   webhookcontrollers.VapiWebhookService
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, deps.HTTPMetrics),
	)

	allocatePolicy := middleware.NewRateLimitPolicy("allocate", cfg.RateLimit.Window, cfg.RateLimit.AllocateMax)
	capturePolicy := middleware.NewRateLimitPolicy("capture", cfg.RateLimit.Window, cfg.RateLimit.CaptureMax)

	// a nil *redis.Client must not reach the middleware as a non-nil interface
	var (
		idempotencyStore middleware.IdempotencyStore
		limiter          middleware.RateLimiterStore
	)
	readiness := map[string]controllers.Pinger{"database": deps.DB}
	if deps.Redis != nil {
		idempotencyStore = deps.Redis
		limiter = deps.Redis
		readiness["redis"] = deps.Redis
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness))
	})

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/vapi/call-completed", webhookcontrollers.VapiCallCompleted(deps.VapiWebhook, logg))
		r.Get("/paypal/return", webhookcontrollers.PayPalReturn(cfg.PayPal.ReturnDeepLink, logg))
		r.Get("/paypal/cancel", webhookcontrollers.PayPalCancel(cfg.PayPal.CancelDeepLink, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(idempotencyStore, logg))

		r.Post("/accounts", controllers.AccountRegister(deps.Accounts, logg))
		r.Get("/accounts/me", controllers.AccountMe(deps.Accounts, logg))
		r.Put("/accounts/me/agent", controllers.AccountSetAgent(deps.Accounts, logg))
		r.Get("/accounts/me/calls", controllers.AccountCalls(deps.Accounts, logg))
		r.Delete("/accounts/me", controllers.AccountDelete(deps.Accounts, logg))

		r.With(middleware.RateLimit(allocatePolicy, limiter, logg)).
			Post("/numbers/allocate", controllers.NumbersAllocate(deps.Numbers, logg))

		r.Get("/billing/plans", billingcontrollers.PlansList(deps.Plans, logg))
		r.Post("/billing/paypal/orders", billingcontrollers.PayPalRegisterOrder(deps.Orders, logg))
		r.With(middleware.RateLimit(capturePolicy, limiter, logg)).
			Post("/billing/paypal/capture", billingcontrollers.PayPalCapture(deps.Subscriptions, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.CORS(cfg.App.CORSAllowedOrigins))
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireAdmin(logg))
		r.Use(middleware.Idempotency(idempotencyStore, logg))

		r.Post("/virtual-numbers", controllers.AdminNumbersProvision(deps.Numbers, logg))
		r.Get("/virtual-numbers", controllers.AdminNumbersList(deps.Numbers, logg))
	})

	return r
}
