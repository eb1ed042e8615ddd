package history

import (
	"context"
	"sort"
	"time"

	"github.com/aristath/riskboard/internal/domain"
	"github.com/rs/zerolog"
)

const (
	// endTolerance covers weekends and market holidays before the requested end date
	endTolerance = 4 * 24 * time.Hour
	// startTolerance covers a listing gap at the beginning of the window
	startTolerance = 7 * 24 * time.Hour
)

// PriceService serves price history from history.db and fills gaps from the provider.
// Fetched closes are persisted so each window is downloaded once.
type PriceService struct {
	repo     *PriceRepository
	provider domain.MarketDataProvider
	log      zerolog.Logger
}

// NewPriceService creates a price service; provider may be nil for offline use
func NewPriceService(repo *PriceRepository, provider domain.MarketDataProvider, log zerolog.Logger) *PriceService {
	return &PriceService{
		repo:     repo,
		provider: provider,
		log:      log.With().Str("service", "price_history").Logger(),
	}
}

// GetPriceHistory returns closes for all symbols within [start, end] in one pass:
// one query against the store, then at most one provider call for the symbols whose
// stored coverage is short. Provider failures degrade to whatever is stored.
func (s *PriceService) GetPriceHistory(ctx context.Context, symbols []string, start, end time.Time) (map[string][]domain.PricePoint, error) {
	start, end = domain.DateOnly(start), domain.DateOnly(end)
	symbols = uniqueSorted(symbols)

	stored, err := s.repo.GetPrices(ctx, symbols, start, end)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, sym := range symbols {
		if !covers(stored[sym], start, end) {
			missing = append(missing, sym)
		}
	}
	if len(missing) == 0 || s.provider == nil {
		return stored, nil
	}

	fetched, err := s.provider.FetchHistoricalPrices(ctx, missing, start, end)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.log.Warn().
			Err(err).
			Strs("symbols", missing).
			Msg("Provider fetch failed, using stored prices only")
		return stored, nil
	}

	for _, sym := range missing {
		points, ok := fetched[sym]
		if !ok || len(points) == 0 {
			continue
		}
		if err := s.repo.UpsertPrices(ctx, sym, points, "provider"); err != nil {
			s.log.Warn().Err(err).Str("symbol", sym).Msg("Failed to persist fetched prices")
		}
		stored[sym] = merge(stored[sym], points)
	}

	s.log.Debug().
		Int("symbols", len(symbols)).
		Int("fetched", len(fetched)).
		Msg("Loaded price history")

	return stored, nil
}

// covers reports whether a stored series spans [start, end] within tolerance
func covers(points []domain.PricePoint, start, end time.Time) bool {
	if len(points) == 0 {
		return false
	}
	first, last := points[0].Date, points[len(points)-1].Date
	return !first.After(start.Add(startTolerance)) && !last.Before(end.Add(-endTolerance))
}

// merge combines two series; b wins on duplicate dates
func merge(a, b []domain.PricePoint) []domain.PricePoint {
	byDate := make(map[time.Time]float64, len(a)+len(b))
	for _, p := range a {
		byDate[p.Date] = p.Close
	}
	for _, p := range b {
		byDate[domain.DateOnly(p.Date)] = p.Close
	}
	out := make([]domain.PricePoint, 0, len(byDate))
	for d, c := range byDate {
		out = append(out, domain.PricePoint{Date: d, Close: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func uniqueSorted(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
