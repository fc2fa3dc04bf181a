package handlers

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RegisterRoutes registers market data and analysis routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/market", func(r chi.Router) {
		h.withTimeout(r)
		r.Get("/prices", h.HandleGetPrices)
		r.Get("/correlation", h.HandleGetCorrelation)
	})

	r.Route("/analysis", func(r chi.Router) {
		// Streams run as long as the simulation does.
		r.Get("/stream", h.HandleStream)

		r.Group(func(r chi.Router) {
			h.withTimeout(r)
			r.Post("/", h.HandleRunAnalysis)
			r.Get("/", h.HandleListAnalyses)
			r.Get("/{id}", h.HandleGetAnalysis)
			r.Get("/{id}/paths", h.HandleGetPaths)
			r.Get("/{id}/bands", h.HandleGetBands)
		})
	})
}

func (h *Handler) withTimeout(r chi.Router) {
	if h.requestTimeout > 0 {
		r.Use(middleware.Timeout(h.requestTimeout))
	}
}
