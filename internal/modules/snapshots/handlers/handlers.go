// Package handlers provides HTTP handlers for reading daily portfolio snapshots.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aristath/riskboard/internal/domain"
	overviewhandlers "github.com/aristath/riskboard/internal/modules/overview/handlers"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// SnapshotReader reads persisted snapshots
type SnapshotReader interface {
	GetByDate(ctx context.Context, portfolioID string, date time.Time) (*domain.PortfolioSnapshot, error)
	GetLatestComplete(ctx context.Context, portfolioID string, onOrBefore time.Time) (*domain.PortfolioSnapshot, error)
}

// Handler handles snapshot HTTP requests
type Handler struct {
	portfolios domain.PortfolioReader
	snapshots  SnapshotReader
	now        func() time.Time
	log        zerolog.Logger
}

// NewHandler creates a new snapshot handler
func NewHandler(portfolios domain.PortfolioReader, snapshots SnapshotReader, log zerolog.Logger) *Handler {
	return &Handler{
		portfolios: portfolios,
		snapshots:  snapshots,
		now:        time.Now,
		log:        log.With().Str("handler", "snapshots").Logger(),
	}
}

// HandleGetLatest handles GET /api/portfolios/{id}/snapshots/latest?date=YYYY-MM-DD.
// Only complete snapshots are returned.
func (h *Handler) HandleGetLatest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	date, err := h.parseDate(r.URL.Query().Get("date"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if _, err := h.portfolios.GetByID(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}

	snap, err := h.snapshots.GetLatestComplete(r.Context(), id, date)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if snap == nil {
		h.writeError(w, fmt.Errorf("no complete snapshot for %s on or before %s: %w",
			id, date.Format(domain.DateLayout), domain.ErrNotFound))
		return
	}
	h.writeData(w, http.StatusOK, snap)
}

// HandleGetByDate handles GET /api/portfolios/{id}/snapshots/{date}.
// A claimed but unfinished snapshot is returned with is_complete=false.
func (h *Handler) HandleGetByDate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	raw := chi.URLParam(r, "date")
	if raw == "" {
		h.writeError(w, fmt.Errorf("%w: date is required", domain.ErrInvalidInput))
		return
	}
	date, err := h.parseDate(raw)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if _, err := h.portfolios.GetByID(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}

	snap, err := h.snapshots.GetByDate(r.Context(), id, date)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if snap == nil {
		h.writeError(w, fmt.Errorf("no snapshot for %s on %s: %w", id, raw, domain.ErrNotFound))
		return
	}
	h.writeData(w, http.StatusOK, snap)
}

func (h *Handler) parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return domain.DateOnly(h.now()), nil
	}
	d, err := time.Parse(domain.DateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD", domain.ErrInvalidInput)
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
	status := overviewhandlers.StatusForKind(re.Kind)
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
