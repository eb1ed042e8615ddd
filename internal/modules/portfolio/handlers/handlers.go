// Package handlers provides HTTP handlers for reading portfolios and their positions.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aristath/riskboard/internal/domain"
	overviewhandlers "github.com/aristath/riskboard/internal/modules/overview/handlers"
	"github.com/aristath/riskboard/internal/modules/valuation"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Handler handles portfolio HTTP requests
type Handler struct {
	portfolios domain.PortfolioReader
	positions  domain.PositionReader
	now        func() time.Time
	log        zerolog.Logger
}

// NewHandler creates a new portfolio handler
func NewHandler(portfolios domain.PortfolioReader, positions domain.PositionReader, log zerolog.Logger) *Handler {
	return &Handler{
		portfolios: portfolios,
		positions:  positions,
		now:        time.Now,
		log:        log.With().Str("handler", "portfolio").Logger(),
	}
}

// PositionView is a position with its signed market value
type PositionView struct {
	domain.Position
	SignedValue decimal.Decimal `json:"signed_value"`
	PriceSource string          `json:"price_source"` // cached, last_price, entry_price or none
}

// PositionsResponse lists the open positions of a portfolio on a date
type PositionsResponse struct {
	PortfolioID string         `json:"portfolio_id"`
	AsOf        string         `json:"as_of"`
	Positions   []PositionView `json:"positions"`
	Net         string         `json:"net_value"`
	Gross       string         `json:"gross_value"`
}

// HandleListPortfolios handles GET /api/portfolios
func (h *Handler) HandleListPortfolios(w http.ResponseWriter, r *http.Request) {
	list, err := h.portfolios.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if list == nil {
		list = []domain.Portfolio{}
	}
	h.writeData(w, http.StatusOK, list)
}

// HandleGetPortfolio handles GET /api/portfolios/{id}
func (h *Handler) HandleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	p, err := h.portfolios.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, p)
}

// HandleGetPositions handles GET /api/portfolios/{id}/positions?date=YYYY-MM-DD
func (h *Handler) HandleGetPositions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.portfolios.GetByID(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}

	asOf := domain.DateOnly(h.now())
	if raw := r.URL.Query().Get("date"); raw != "" {
		d, err := time.Parse(domain.DateLayout, raw)
		if err != nil {
			h.writeError(w, fmt.Errorf("%w: date must be YYYY-MM-DD", domain.ErrInvalidInput))
			return
		}
		asOf = d
	}

	open, err := h.positions.GetOpenPositions(r.Context(), id, asOf)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := PositionsResponse{
		PortfolioID: id,
		AsOf:        asOf.Format(domain.DateLayout),
		Positions:   make([]PositionView, 0, len(open)),
	}
	net, gross := decimal.Zero, decimal.Zero
	for _, p := range open {
		v := valuation.GetPositionValue(p, true, false)
		net = net.Add(v)
		gross = gross.Add(v.Abs())
		resp.Positions = append(resp.Positions, PositionView{
			Position:    p,
			SignedValue: v,
			PriceSource: priceSource(p),
		})
	}
	resp.Net = net.StringFixed(2)
	resp.Gross = gross.StringFixed(2)

	h.writeData(w, http.StatusOK, resp)
}

func priceSource(p domain.Position) string {
	switch {
	case p.MarketValue.Valid:
		return "cached"
	case p.LastPrice.Valid && !p.LastPrice.Decimal.IsZero():
		return "last_price"
	case !p.EntryPrice.IsZero():
		return "entry_price"
	default:
		return "none"
	}
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
