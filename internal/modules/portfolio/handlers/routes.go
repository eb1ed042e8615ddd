package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers portfolio read routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/portfolios", h.HandleListPortfolios)
	r.Get("/portfolios/{id}", h.HandleGetPortfolio)
	r.Get("/portfolios/{id}/positions", h.HandleGetPositions)
}
