// Package overview assembles the API-facing portfolio overview and stress test results
// from the exposure aggregator, the factor exposure service and the stress engine.
package overview

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aristath/riskboard/internal/domain"
	"github.com/aristath/riskboard/internal/modules/exposure"
	"github.com/aristath/riskboard/internal/modules/factors"
	"github.com/aristath/riskboard/internal/modules/stress"
	"github.com/aristath/riskboard/internal/modules/valuation"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// FactorValue is one portfolio factor exposure
type FactorValue struct {
	Factor         domain.FactorID `json:"factor"`
	Name           string          `json:"name"`
	Beta           float64         `json:"beta"`
	DollarExposure float64         `json:"dollar_exposure"`
}

// FactorSection is either a complete factor set or the reason it is unavailable
type FactorSection struct {
	Available       bool                `json:"available"`
	CalculationDate *time.Time          `json:"calculation_date,omitempty"`
	Exposures       []FactorValue       `json:"exposures,omitempty"`
	Error           *domain.ResultError `json:"error,omitempty"`
}

// DataQuality reports coverage behind the overview numbers
type DataQuality struct {
	PositionsTotal          int               `json:"positions_total"`
	PositionsMissingPrice   int               `json:"positions_missing_price"`
	FactorPositionsIncluded int               `json:"factor_positions_included"`
	FactorPositionsExcluded int               `json:"factor_positions_excluded"`
	ActiveFactors           int               `json:"active_factors"`
	CalculatedFactors       int               `json:"calculated_factors"`
	MissingFactors          []domain.FactorID `json:"missing_factors,omitempty"`
}

// Overview is the portfolio summary served to the presentation layer
type Overview struct {
	PortfolioID     string          `json:"portfolio_id"`
	CalculationDate time.Time       `json:"calculation_date"`
	EquityBalance   decimal.Decimal `json:"equity_balance"`
	NetExposure     decimal.Decimal `json:"net_exposure"`
	GrossExposure   decimal.Decimal `json:"gross_exposure"`
	LongExposure    decimal.Decimal `json:"long_exposure"`
	ShortExposure   decimal.Decimal `json:"short_exposure"`
	Leverage        decimal.Decimal `json:"leverage"`
	PositionCount   int             `json:"position_count"`
	ExposureSource  exposure.Source `json:"exposure_source"`
	FactorExposures FactorSection   `json:"factor_exposures"`
	DataQuality     DataQuality     `json:"data_quality"`
}

// ExposureSource serves portfolio exposures
type ExposureSource interface {
	GetPortfolioExposures(ctx context.Context, portfolioID string, date time.Time, maxStalenessDays int) (*exposure.Exposures, error)
}

// FactorSource serves complete factor exposure sets
type FactorSource interface {
	GetCompleteExposures(ctx context.Context, portfolioID string, date time.Time) (*factors.ExposureSet, error)
}

// StressRunner runs a scenario
type StressRunner interface {
	Run(ctx context.Context, portfolioID string, scenario stress.Scenario, date time.Time, persist bool) (*stress.Result, error)
}

// StressRequest names a library scenario or carries ad-hoc shocks keyed by factor key
type StressRequest struct {
	ScenarioID string             `json:"scenario_id,omitempty"`
	Name       string             `json:"name,omitempty"`
	Shocks     map[string]float64 `json:"factor_shocks,omitempty"`
	Date       string             `json:"date,omitempty"`
}

// Service builds overviews and stress test results
type Service struct {
	portfolios       domain.PortfolioReader
	positions        domain.PositionReader
	exposures        ExposureSource
	factors          FactorSource
	stress           StressRunner
	library          *stress.Library
	factorConfig     domain.FactorConfig
	maxStalenessDays int
	log              zerolog.Logger
}

// NewService creates the overview service
func NewService(
	portfolios domain.PortfolioReader,
	positions domain.PositionReader,
	exposures ExposureSource,
	fs FactorSource,
	runner StressRunner,
	library *stress.Library,
	factorConfig domain.FactorConfig,
	maxStalenessDays int,
	log zerolog.Logger,
) *Service {
	return &Service{
		portfolios:       portfolios,
		positions:        positions,
		exposures:        exposures,
		factors:          fs,
		stress:           runner,
		library:          library,
		factorConfig:     factorConfig,
		maxStalenessDays: maxStalenessDays,
		log:              log.With().Str("service", "overview").Logger(),
	}
}

// ComputePortfolioOverview returns exposures, factor exposures and data quality for date.
// A missing or incomplete factor set is reported inside the result, not as an error.
func (s *Service) ComputePortfolioOverview(ctx context.Context, portfolioID string, date time.Time) (*Overview, error) {
	date = domain.DateOnly(date)
	p, err := s.portfolios.GetByID(ctx, portfolioID)
	if err != nil {
		return nil, err
	}

	e, err := s.exposures.GetPortfolioExposures(ctx, portfolioID, date, s.maxStalenessDays)
	if err != nil {
		return nil, err
	}

	open, err := s.positions.GetOpenPositions(ctx, portfolioID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to load positions: %w", err)
	}

	o := &Overview{
		PortfolioID:     portfolioID,
		CalculationDate: date,
		EquityBalance:   p.EquityBalance,
		NetExposure:     e.NetExposure,
		GrossExposure:   e.GrossExposure,
		LongExposure:    e.LongExposure,
		ShortExposure:   e.ShortExposure,
		Leverage:        e.Leverage(p.EquityBalance).Round(4),
		PositionCount:   e.PositionCount,
		ExposureSource:  e.Source,
		DataQuality: DataQuality{
			PositionsTotal: len(open),
			ActiveFactors:  len(s.factorConfig.Active),
		},
	}
	for _, pos := range open {
		if _, err := valuation.ResolvePrice(pos); err != nil {
			o.DataQuality.PositionsMissingPrice++
		}
	}

	section, set, incomplete, err := s.factorSection(ctx, portfolioID, date)
	if err != nil {
		return nil, err
	}
	o.FactorExposures = section
	switch {
	case set != nil:
		o.DataQuality.CalculatedFactors = len(set.Exposures)
		o.DataQuality.FactorPositionsIncluded = set.PositionsIncluded
		o.DataQuality.FactorPositionsExcluded = set.PositionsExcluded
	case incomplete != nil:
		o.DataQuality.CalculatedFactors = incomplete.Active - len(incomplete.Missing)
		o.DataQuality.MissingFactors = incomplete.Missing
	}
	return o, nil
}

// FactorExposures returns the portfolio's complete factor set, or why it is unavailable
func (s *Service) FactorExposures(ctx context.Context, portfolioID string, date time.Time) (*FactorSection, error) {
	section, _, _, err := s.factorSection(ctx, portfolioID, domain.DateOnly(date))
	if err != nil {
		return nil, err
	}
	return &section, nil
}

func (s *Service) factorSection(ctx context.Context, portfolioID string, date time.Time) (FactorSection, *factors.ExposureSet, *domain.IncompleteFactorSetError, error) {
	set, err := s.factors.GetCompleteExposures(ctx, portfolioID, date)
	var incomplete *domain.IncompleteFactorSetError
	if errors.As(err, &incomplete) {
		return FactorSection{Error: domain.NewResultError(err)}, nil, incomplete, nil
	}
	if err != nil {
		return FactorSection{}, nil, nil, err
	}

	calcDate := set.CalculationDate
	section := FactorSection{Available: true, CalculationDate: &calcDate}
	for _, fe := range set.Exposures {
		section.Exposures = append(section.Exposures, FactorValue{
			Factor:         fe.Factor,
			Name:           fe.Factor.Name(),
			Beta:           fe.Beta,
			DollarExposure: fe.DollarExposure,
		})
	}
	sort.Slice(section.Exposures, func(i, j int) bool { return section.Exposures[i].Factor < section.Exposures[j].Factor })
	return section, set, nil, nil
}

// Exposures returns the aggregated exposures; a negative maxStalenessDays uses the configured default
func (s *Service) Exposures(ctx context.Context, portfolioID string, date time.Time, maxStalenessDays int) (*exposure.Exposures, error) {
	if _, err := s.portfolios.GetByID(ctx, portfolioID); err != nil {
		return nil, err
	}
	if maxStalenessDays < 0 {
		maxStalenessDays = s.maxStalenessDays
	}
	return s.exposures.GetPortfolioExposures(ctx, portfolioID, domain.DateOnly(date), maxStalenessDays)
}

// Scenarios lists the scenario library
func (s *Service) Scenarios() []stress.Scenario {
	return s.library.List()
}

// ComputeStressTest runs a library scenario or an ad-hoc shock set as of date
func (s *Service) ComputeStressTest(ctx context.Context, portfolioID string, req StressRequest, date time.Time) (*stress.Result, error) {
	scenario, err := s.resolveScenario(req)
	if err != nil {
		return nil, err
	}
	if _, err := s.portfolios.GetByID(ctx, portfolioID); err != nil {
		return nil, err
	}
	return s.stress.Run(ctx, portfolioID, scenario, domain.DateOnly(date), false)
}

func (s *Service) resolveScenario(req StressRequest) (stress.Scenario, error) {
	if req.ScenarioID != "" {
		sc, ok := s.library.Get(req.ScenarioID)
		if !ok {
			return stress.Scenario{}, fmt.Errorf("scenario %q: %w", req.ScenarioID, domain.ErrNotFound)
		}
		return sc, nil
	}
	if len(req.Shocks) == 0 {
		return stress.Scenario{}, fmt.Errorf("%w: scenario_id or factor_shocks is required", domain.ErrInvalidInput)
	}

	sc := stress.Scenario{
		ID:     "custom",
		Name:   strings.TrimSpace(req.Name),
		Shocks: make(map[domain.FactorID]float64, len(req.Shocks)),
	}
	if sc.Name == "" {
		sc.Name = "Custom scenario"
	}
	for key, shock := range req.Shocks {
		id, err := domain.ParseFactorID(key)
		if err != nil {
			return stress.Scenario{}, err
		}
		sc.Shocks[id] = shock
	}
	return sc, sc.Validate()
}
