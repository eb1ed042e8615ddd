package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers snapshot read routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/portfolios/{id}/snapshots/latest", h.HandleGetLatest)
	r.Get("/portfolios/{id}/snapshots/{date}", h.HandleGetByDate)
}
