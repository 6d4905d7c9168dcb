package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/infra/httpx/middlewares"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/metrics"
)

// NewRouter mounts the checkout API. m may be nil, in which case /metrics
// is not served and requests are not measured.
func NewRouter(handler *Handler, m *metrics.ServerMetrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middlewares.RequestContext)
	r.Use(middlewares.Trace)
	r.Use(middlewares.Metrics(m))
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", handler.Health)
	if m != nil {
		r.Handle("/metrics", m.Handler())
	}

	r.Get("/products", handler.ListProducts)
	r.Get("/products/{id}", handler.GetProduct)
	r.Get("/receipts/{name}", handler.Receipt)

	r.Route("/checkout", func(r chi.Router) {
		r.Post("/summary", handler.Summary)
		r.Post("/finalize", handler.Finalize)
	})
	r.Route("/payments", func(r chi.Router) {
		r.Post("/session", handler.CreateSession)
		r.Post("/webhook", handler.Webhook)
		r.Get("/confirm", handler.Confirm)
	})
	return r
}
