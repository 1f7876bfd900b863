package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/ordersaga/pkg/health"
	"github.com/utafrali/ordersaga/pkg/middleware"
	"github.com/utafrali/ordersaga/services/order/internal/service"
)

const (
	serviceName    = "order"
	requestTimeout = 60 * time.Second
)

// NewRouter builds the service's HTTP surface: the order API under
// /api/v1/orders, health probes, Prometheus metrics and pprof for
// pprofCIDRs.
//
// RequestLogging runs first so every later layer, including the panic
// handler, sees the correlation id.
func NewRouter(
	orderService *service.OrderService,
	healthHandler *health.Handler,
	logger *slog.Logger,
	pprofCIDRs []string,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.PrometheusMetrics(serviceName))

	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())
	middleware.RegisterPprof(r, pprofCIDRs, logger)

	orders := NewOrderHandler(orderService, logger)
	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Use(chimw.Timeout(requestTimeout))
		r.Use(chimw.Compress(5, "application/json"))
		r.Use(ContentTypeJSON)
		r.Use(middleware.Identity)
		r.Use(middleware.RequestLogger(logger))
		mountOrderRoutes(r, orders)
	})

	return r
}

func mountOrderRoutes(r chi.Router, h *OrderHandler) {
	r.Post("/", h.CreateOrder)
	r.Get("/my-orders", h.MyOrders)
	r.Get("/number/{orderNumber}", h.GetOrderByNumber)
	r.Get("/{id}", h.GetOrder)
	r.Post("/{id}/cancel", h.CancelOrder)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole(middleware.RoleAdmin))
		r.Get("/", h.ListOrders)
		r.Patch("/{id}/status", h.UpdateOrderStatus)
	})
}
