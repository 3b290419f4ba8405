package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/qr_order/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const maxRequestBodySize = 1 << 20

type RouterConfig struct {
	Tables         TableAPI
	Resolver       session.Resolver
	Health         func(ctx context.Context) error
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tables := NewTableHandler(cfg.Tables, cfg.RequestTimeout, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestIDHeader)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestSize(maxRequestBodySize))
	r.Use(middleware.Compress(5))
	if cfg.Resolver != nil {
		r.Use(session.Middleware(cfg.Resolver, logger))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Health != nil {
			if err := cfg.Health(r.Context()); err != nil {
				respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1/vendors/{vendorID}/tables/{tableNumber}", func(r chi.Router) {
		r.Use(ScopeCtx)

		// Submission is bounded by the checkout timeout instead.
		r.Post("/checkout", tables.Submit)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(cfg.RequestTimeout))

			r.Get("/", tables.GetTable)
			r.Get("/checkout", tables.GetCheckout)
			r.Route("/cart", func(r chi.Router) {
				r.Get("/", tables.GetCart)
				r.Delete("/", tables.ClearCart)
				r.Get("/totals", tables.GetTotals)
				r.Post("/items", tables.AddItem)
				r.Put("/items/{itemID}", tables.UpdateItem)
				r.Delete("/items/{itemID}", tables.RemoveItem)
			})
		})
	})

	return r
}
