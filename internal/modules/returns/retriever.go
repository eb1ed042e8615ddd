package returns

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/riskboard/internal/domain"
	"github.com/rs/zerolog"
)

// PriceSource loads close series for many symbols in one call
type PriceSource interface {
	GetPriceHistory(ctx context.Context, symbols []string, start, end time.Time) (map[string][]domain.PricePoint, error)
}

// Retriever loads prices and derives return tables
type Retriever struct {
	prices PriceSource
	log    zerolog.Logger
}

// NewRetriever creates a return retriever
func NewRetriever(prices PriceSource, log zerolog.Logger) *Retriever {
	return &Retriever{
		prices: prices,
		log:    log.With().Str("component", "returns").Logger(),
	}
}

// GetReturns returns daily returns for symbols over [start, end] inclusive.
// An empty table (not an error) is returned when no symbol has data.
func (r *Retriever) GetReturns(ctx context.Context, symbols []string, start, end time.Time, align bool) (*Table, error) {
	prices, err := r.GetPrices(ctx, symbols, start, end)
	if err != nil {
		return nil, err
	}
	t := Compute(prices, symbols, align)
	if t.IsEmpty() {
		r.log.Debug().
			Strs("symbols", symbols).
			Bool("align", align).
			Msg("No returns available for window")
	}
	return t, nil
}

// GetPrices loads the raw close series so callers can align subsets in memory
func (r *Retriever) GetPrices(ctx context.Context, symbols []string, start, end time.Time) (map[string][]domain.PricePoint, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("%w: window end %s before start %s", domain.ErrInvalidInput,
			end.Format(domain.DateLayout), start.Format(domain.DateLayout))
	}
	prices, err := r.prices.GetPriceHistory(ctx, symbols, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load price history: %w", err)
	}
	return prices, nil
}

// WindowStart returns a calendar start date that covers tradingDays sessions ending at end,
// with slack for holidays
func WindowStart(end time.Time, tradingDays int) time.Time {
	calendarDays := tradingDays*7/5 + 10
	return domain.DateOnly(end).AddDate(0, 0, -calendarDays)
}
