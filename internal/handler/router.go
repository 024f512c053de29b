package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custommiddleware "github.com/mmeshcher/genquota/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса genquota.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.Logger(h.logger))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ping", h.Ping)

	r.Route("/api", func(r chi.Router) {
		r.Use(custommiddleware.DecompressRequest)
		r.Use(chimiddleware.Compress(5, "application/json"))
		if h.deps.Limiter != nil {
			r.Use(custommiddleware.RateLimit(h.deps.Limiter, h.logger))
		}
		r.Use(h.authMiddleware.Middleware)

		r.Route("/generation", func(r chi.Router) {
			r.Post("/admit", h.Admit)
			r.Post("/release", h.Release)
			r.Get("/slot", h.Slot)
		})

		r.Route("/user", func(r chi.Router) {
			r.Use(custommiddleware.RequireUser)

			r.Post("/redeem", h.Redeem)
			r.Get("/redeem/quota", h.QuotaStatus)

			r.Get("/points", h.GetHistory)
			r.Get("/points/balance", h.GetBalance)
			r.Post("/points/spend", h.Spend)
			r.Post("/points/check", h.CheckPoints)

			r.Get("/subscription", h.GetSubscription)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(custommiddleware.RequireAdmin)

			r.Post("/codes", h.IssueCodes)
			r.Post("/points/grant", h.GrantPoints)
			r.Get("/redemptions/stats", h.RedemptionStats)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
