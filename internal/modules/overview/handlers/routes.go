package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers overview, exposure and stress routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/portfolios/{id}/overview", h.HandleGetOverview)
	r.Get("/portfolios/{id}/exposures", h.HandleGetExposures)
	r.Get("/portfolios/{id}/factor-exposures", h.HandleGetFactorExposures)
	r.Post("/portfolios/{id}/stress-test", h.HandleStressTest)

	r.Get("/stress/scenarios", h.HandleListScenarios)
}
