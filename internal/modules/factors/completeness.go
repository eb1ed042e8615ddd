package factors

import (
	"context"
	"time"

	"github.com/aristath/riskboard/internal/domain"
	"github.com/rs/zerolog"
)

// ExposureSet is a complete set of portfolio factor exposures for one calculation date
type ExposureSet struct {
	PortfolioID       string                  `json:"portfolio_id"`
	CalculationDate   time.Time               `json:"calculation_date"`
	Exposures         []domain.FactorExposure `json:"exposures"`
	PositionsIncluded int                     `json:"positions_included"`
	PositionsExcluded int                     `json:"positions_excluded"`
}

// ByFactor indexes the set's dollar exposures
func (s *ExposureSet) ByFactor() map[domain.FactorID]domain.FactorExposure {
	out := make(map[domain.FactorID]domain.FactorExposure, len(s.Exposures))
	for _, e := range s.Exposures {
		out[e.Factor] = e
	}
	return out
}

// ExposureService reads persisted portfolio factor exposures and only hands out
// complete sets: every currently active factor must be present for the date.
type ExposureService struct {
	repo    *Repository
	factors domain.FactorConfig
	log     zerolog.Logger
}

// NewExposureService creates the exposure service
func NewExposureService(repo *Repository, factors domain.FactorConfig, log zerolog.Logger) *ExposureService {
	return &ExposureService{
		repo:    repo,
		factors: factors,
		log:     log.With().Str("service", "factor_exposures").Logger(),
	}
}

// GetCompleteExposures returns the latest exposure set on or before date.
// A set missing any active factor yields *domain.IncompleteFactorSetError instead of
// partial data; inactive factors stored earlier are left out of the set.
func (s *ExposureService) GetCompleteExposures(ctx context.Context, portfolioID string, date time.Time) (*ExposureSet, error) {
	date = domain.DateOnly(date)
	calcDate, err := s.repo.LatestCalculationDate(ctx, portfolioID, date)
	if err != nil {
		return nil, err
	}
	if calcDate == nil {
		return nil, &domain.IncompleteFactorSetError{
			Date:    date,
			Missing: append([]domain.FactorID(nil), s.factors.Active...),
			Active:  len(s.factors.Active),
		}
	}

	rows, err := s.repo.GetPortfolioExposures(ctx, portfolioID, *calcDate)
	if err != nil {
		return nil, err
	}

	set := &ExposureSet{PortfolioID: portfolioID, CalculationDate: *calcDate}
	present := make(map[domain.FactorID]bool, len(rows))
	for _, r := range rows {
		if !s.factors.IsActive(r.Factor) {
			continue
		}
		present[r.Factor] = true
		set.Exposures = append(set.Exposures, r.FactorExposure)
		if r.PositionsIncluded > set.PositionsIncluded {
			set.PositionsIncluded = r.PositionsIncluded
		}
		if r.PositionsExcluded > set.PositionsExcluded {
			set.PositionsExcluded = r.PositionsExcluded
		}
	}

	if missing := s.factors.MissingFactors(present); len(missing) > 0 {
		err := &domain.IncompleteFactorSetError{Date: *calcDate, Missing: missing, Active: len(s.factors.Active)}
		s.log.Warn().
			Str("portfolio_id", portfolioID).
			Err(err).
			Msg("Factor exposure set incomplete")
		return nil, err
	}
	return set, nil
}
