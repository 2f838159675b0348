package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NorikGo/tailormp-sub002/api/controllers"
	cartcontrollers "github.com/NorikGo/tailormp-sub002/api/controllers/cart"
	checkoutcontrollers "github.com/NorikGo/tailormp-sub002/api/controllers/checkout"
	ordercontrollers "github.com/NorikGo/tailormp-sub002/api/controllers/orders"
	webhookcontrollers "github.com/NorikGo/tailormp-sub002/api/controllers/webhooks"
	"github.com/NorikGo/tailormp-sub002/api/middleware"
	"github.com/NorikGo/tailormp-sub002/internal/cart"
	checkoutsvc "github.com/NorikGo/tailormp-sub002/internal/checkout"
	"github.com/NorikGo/tailormp-sub002/internal/orders"
	"github.com/NorikGo/tailormp-sub002/pkg/config"
	"github.com/NorikGo/tailormp-sub002/pkg/enums"
	"github.com/NorikGo/tailormp-sub002/pkg/logger"
	"github.com/NorikGo/tailormp-sub002/pkg/metrics"
	"github.com/NorikGo/tailormp-sub002/pkg/redis"
)

type paymentNotificationHandler interface {
	HandleNotification(ctx context.Context, payload []byte, signature string) (string, error)
}

// Dependencies are the services the router hands to controllers. Nil
// services make their handlers answer 500 instead of panicking.
type Dependencies struct {
	DBPinger    controllers.Pinger
	RedisPinger controllers.Pinger
	// Idempotency is nil when Redis is unavailable; replays are then disabled.
	Idempotency redis.IdempotencyStore
	Gatherer    prometheus.Gatherer
	HTTPMetrics *metrics.HTTPMetrics

	Carts    cart.Service
	Checkout checkoutsvc.Service
	Orders   orders.Service
	Query    orders.QueryService
	Webhooks paymentNotificationHandler
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, deps.HTTPMetrics),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	readiness := map[string]controllers.Pinger{}
	if deps.DBPinger != nil {
		readiness["db"] = deps.DBPinger
	}
	if deps.RedisPinger != nil {
		readiness["redis"] = deps.RedisPinger
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness))
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Post("/webhooks/payment", webhookcontrollers.PaymentWebhook(deps.Webhooks, logg))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", cartcontrollers.CartFetch(deps.Carts, logg))
			r.Post("/items", cartcontrollers.CartAddItem(deps.Carts, logg))
			r.Patch("/items/{id}", cartcontrollers.CartUpdateItem(deps.Carts, logg))
			r.Delete("/items/{id}", cartcontrollers.CartRemoveItem(deps.Carts, logg))
			r.Post("/clear", cartcontrollers.CartClear(deps.Carts, logg))
		})

		r.Route("/checkout", func(r chi.Router) {
			r.With(middleware.Idempotency(deps.Idempotency, middleware.CheckoutIdempotencyTTL, logg)).
				Post("/sessions", checkoutcontrollers.CreateSession(deps.Checkout, logg))
			r.Get("/session", checkoutcontrollers.LookupSession(deps.Checkout, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", ordercontrollers.ListCustomer(deps.Query, logg))
			r.Get("/{id}", ordercontrollers.Detail(deps.Query, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.Idempotency(deps.Idempotency, middleware.DefaultIdempotencyTTL, logg))
				r.With(middleware.RequireRole(logg, enums.RoleCustomer, enums.RoleAdmin)).
					Post("/{id}/cancel", ordercontrollers.Cancel(deps.Orders, deps.Query, logg))
				r.With(middleware.RequireRole(logg, enums.RoleTailor, enums.RoleAdmin)).
					Post("/{id}/processing", ordercontrollers.MarkProcessing(deps.Orders, deps.Query, logg))
				r.With(middleware.RequireRole(logg, enums.RoleTailor, enums.RoleAdmin)).
					Post("/{id}/ship", ordercontrollers.Ship(deps.Orders, deps.Query, logg))
				r.Post("/{id}/deliver", ordercontrollers.Deliver(deps.Orders, deps.Query, logg))
			})
		})

		r.Route("/tailor", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.RoleTailor, enums.RoleAdmin))
			r.Get("/orders", ordercontrollers.ListTailor(deps.Query, logg))
		})
	})

	return r
}
