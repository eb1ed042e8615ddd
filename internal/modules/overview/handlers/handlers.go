// Package handlers exposes portfolio overview, exposure and stress test endpoints.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/riskboard/internal/domain"
	"github.com/aristath/riskboard/internal/modules/overview"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler handles overview HTTP requests
type Handler struct {
	service *overview.Service
	log     zerolog.Logger
	now     func() time.Time
}

// NewHandler creates a new overview handler
func NewHandler(service *overview.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "overview").Logger(),
		now:     time.Now,
	}
}

// HandleGetOverview handles GET /api/portfolios/{id}/overview
func (h *Handler) HandleGetOverview(w http.ResponseWriter, r *http.Request) {
	date, err := h.parseDate(r.URL.Query().Get("date"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	o, err := h.service.ComputePortfolioOverview(r.Context(), chi.URLParam(r, "id"), date)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, o)
}

// HandleGetExposures handles GET /api/portfolios/{id}/exposures
func (h *Handler) HandleGetExposures(w http.ResponseWriter, r *http.Request) {
	date, err := h.parseDate(r.URL.Query().Get("date"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	staleness := -1
	if raw := r.URL.Query().Get("max_staleness_days"); raw != "" {
		staleness, err = strconv.Atoi(raw)
		if err != nil || staleness < 0 {
			h.writeError(w, invalidInput("max_staleness_days must be a non-negative integer"))
			return
		}
	}

	e, err := h.service.Exposures(r.Context(), chi.URLParam(r, "id"), date, staleness)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, e)
}

// HandleGetFactorExposures handles GET /api/portfolios/{id}/factor-exposures.
// An incomplete factor set is a 200 with available=false and the reason.
func (h *Handler) HandleGetFactorExposures(w http.ResponseWriter, r *http.Request) {
	date, err := h.parseDate(r.URL.Query().Get("date"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	section, err := h.service.FactorExposures(r.Context(), chi.URLParam(r, "id"), date)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, section)
}

// HandleStressTest handles POST /api/portfolios/{id}/stress-test
func (h *Handler) HandleStressTest(w http.ResponseWriter, r *http.Request) {
	var req overview.StressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, invalidInput("invalid request body"))
		return
	}
	date, err := h.parseDate(req.Date)
	if err != nil {
		h.writeError(w, err)
		return
	}

	res, err := h.service.ComputeStressTest(r.Context(), chi.URLParam(r, "id"), req, date)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, res)
}

// HandleListScenarios handles GET /api/stress/scenarios
func (h *Handler) HandleListScenarios(w http.ResponseWriter, r *http.Request) {
	h.writeData(w, http.StatusOK, h.service.Scenarios())
}

func (h *Handler) parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return domain.DateOnly(h.now()), nil
	}
	d, err := time.Parse(domain.DateLayout, raw)
	if err != nil {
		return time.Time{}, invalidInput("date must be YYYY-MM-DD")
	}
	return d, nil
}

func (h *Handler) writeData(w http.ResponseWriter, status int, data interface{}) {
	h.writeJSON(w, status, map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": h.now().UTC().Format(time.RFC3339),
		},
	})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	re := domain.NewResultError(err)
	status := StatusForKind(re.Kind)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Request failed")
	}
	h.writeJSON(w, status, map[string]interface{}{"error": re})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// StatusForKind maps an error kind to an HTTP status
func StatusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindIncompleteFactors, domain.KindDataInsufficient:
		return http.StatusUnprocessableEntity
	case domain.KindSnapshotConflict:
		return http.StatusConflict
	case domain.KindProviderRateLimit, domain.KindProviderTimeout, domain.KindProviderFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type inputError string

func (e inputError) Error() string { return string(e) }
func (e inputError) Unwrap() error { return domain.ErrInvalidInput }

func invalidInput(msg string) error {
	return inputError(msg)
}
