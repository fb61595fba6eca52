package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/trustcore/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)

	r.Route("/verify", func(r chi.Router) {
		if h.verifyLimiter != nil {
			r.Use(h.verifyLimiter.Middleware)
		}
		r.Post("/issue", h.IssueChallenge)
		r.Post("/confirm", h.ConfirmChallenge)
	})

	r.Route("/payments", func(r chi.Router) {
		r.Post("/intents", h.CreateIntent)
		r.Get("/intents/{id}", h.GetIntent)
		r.Post("/webhook", h.Webhook)
		r.Post("/refunds", h.CreateRefund)
		r.Post("/escrow/decision", h.EscrowDecision)
		r.Get("/orders/{id}", h.GetOrder)
	})

	if h.sandbox != nil {
		r.Route("/sandbox", func(r chi.Router) {
			r.Post("/intents/{id}/{action}", h.SandboxIntentAction)
			r.Post("/refunds/{id}/settle", h.SandboxSettleRefund)
		})
	}

	r.Get("/healthz", h.Health)
	if h.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", h.metricsHandler)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, http.StatusText(http.StatusNotFound))
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed))
	})

	return r
}
