// Package stress applies factor shock scenarios to a portfolio's factor exposures.
package stress

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/aristath/riskboard/internal/domain"
	"github.com/aristath/riskboard/internal/metrics"
	"github.com/aristath/riskboard/internal/modules/exposure"
	"github.com/aristath/riskboard/internal/modules/factors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ExposureSource provides the portfolio value baseline
type ExposureSource interface {
	GetPortfolioExposures(ctx context.Context, portfolioID string, date time.Time, maxStalenessDays int) (*exposure.Exposures, error)
}

// FactorSource provides complete portfolio factor exposure sets
type FactorSource interface {
	GetCompleteExposures(ctx context.Context, portfolioID string, date time.Time) (*factors.ExposureSet, error)
}

// CorrelationSource provides factor correlation matrices
type CorrelationSource interface {
	GetMatrix(ctx context.Context, fs []domain.FactorID, date time.Time) (*factors.CorrelationMatrix, error)
}

// FactorImpact is one factor's contribution to a scenario result
type FactorImpact struct {
	Factor           domain.FactorID `json:"factor"`
	DollarExposure   float64         `json:"dollar_exposure"`
	Shock            float64         `json:"shock"`
	CorrelatedShock  float64         `json:"correlated_shock"`
	DirectImpact     float64         `json:"direct_impact"`
	CorrelatedImpact float64         `json:"correlated_impact"`
}

// Result is the P&L estimate of one scenario
type Result struct {
	PortfolioID         string          `json:"portfolio_id"`
	ScenarioID          string          `json:"scenario_id"`
	ScenarioName        string          `json:"scenario_name"`
	CalculationDate     time.Time       `json:"calculation_date"`
	NetExposure         decimal.Decimal `json:"net_exposure"`
	ExposureSource      exposure.Source `json:"exposure_source"`
	DirectImpact        float64         `json:"direct_impact"`
	CorrelatedImpact    float64         `json:"correlated_impact"`
	RawDirectImpact     float64         `json:"raw_direct_impact"`
	RawCorrelatedImpact float64         `json:"raw_correlated_impact"`
	LossCeiling         float64         `json:"loss_ceiling"`
	Clipped             bool            `json:"clipped"`
	Factors             []FactorImpact  `json:"factors"`
}

// Impact is the outcome of applying shocks to exposures
type Impact struct {
	Direct        float64
	Correlated    float64
	RawDirect     float64
	RawCorrelated float64
	Ceiling       float64
	Clipped       bool
	Factors       []FactorImpact
}

// Apply computes direct and correlation-amplified impacts of shocks on dollar exposures.
//
// Direct impact is Σ E_f·s_f over shocked factors. The correlated impact propagates each
// shock to every exposed factor g as s'_g = Σ_f ρ(g,f)·s_f and sums E_g·s'_g. Both are
// clipped to ±ceiling with sign preserved; a non-positive ceiling disables clipping.
func Apply(exposures map[domain.FactorID]float64, order []domain.FactorID, shocks map[domain.FactorID]float64, corr *factors.CorrelationMatrix, ceiling float64) Impact {
	impact := Impact{Ceiling: ceiling}

	for _, g := range order {
		e := exposures[g]
		fi := FactorImpact{Factor: g, DollarExposure: e, Shock: shocks[g]}
		for f, s := range shocks {
			fi.CorrelatedShock += corr.At(g, f) * s
		}
		fi.DirectImpact = e * fi.Shock
		fi.CorrelatedImpact = e * fi.CorrelatedShock
		impact.RawDirect += fi.DirectImpact
		impact.RawCorrelated += fi.CorrelatedImpact
		impact.Factors = append(impact.Factors, fi)
	}

	var clippedDirect, clippedCorrelated bool
	impact.Direct, clippedDirect = clip(impact.RawDirect, ceiling)
	impact.Correlated, clippedCorrelated = clip(impact.RawCorrelated, ceiling)
	impact.Clipped = clippedDirect || clippedCorrelated
	return impact
}

func clip(v, ceiling float64) (float64, bool) {
	if ceiling <= 0 || math.Abs(v) <= ceiling {
		return v, false
	}
	return math.Copysign(ceiling, v), true
}

// EngineConfig configures the stress engine
type EngineConfig struct {
	LossCeiling      float64 // fraction of portfolio value, e.g. 0.99
	MaxStalenessDays int
}

// Engine runs scenarios against persisted factor exposures
type Engine struct {
	cfg          EngineConfig
	exposures    ExposureSource
	factors      FactorSource
	correlations CorrelationSource
	repo         *ResultRepository
	metrics      *metrics.Registry
	log          zerolog.Logger
}

// NewEngine creates a stress engine; correlations, repo and reg may be nil
func NewEngine(cfg EngineConfig, exposures ExposureSource, fs FactorSource, correlations CorrelationSource, repo *ResultRepository, reg *metrics.Registry, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:          cfg,
		exposures:    exposures,
		factors:      fs,
		correlations: correlations,
		repo:         repo,
		metrics:      reg,
		log:          log.With().Str("component", "stress_engine").Logger(),
	}
}

type inputs struct {
	portfolioID string
	date        time.Time
	baseline    *exposure.Exposures
	set         *factors.ExposureSet
	dollars     map[domain.FactorID]float64
	order       []domain.FactorID
	corr        *factors.CorrelationMatrix
	ceiling     float64
}

// Run applies one scenario to the portfolio as of date.
// An incomplete factor set is returned as *domain.IncompleteFactorSetError. A scenario
// shocking a factor with no exposure in the set (an inactive factor) is invalid input.
func (e *Engine) Run(ctx context.Context, portfolioID string, scenario Scenario, date time.Time, persist bool) (*Result, error) {
	if err := scenario.Validate(); err != nil {
		return nil, err
	}
	in, err := e.prepare(ctx, portfolioID, date, scenario.ShockedFactors())
	if err != nil {
		return nil, err
	}
	if missing := in.unapplied(scenario); len(missing) > 0 {
		return nil, fmt.Errorf("%w: scenario %s shocks factors without exposures: %s",
			domain.ErrInvalidInput, scenario.ID, factorKeys(missing))
	}
	res := e.evaluate(in, scenario)
	if persist && e.repo != nil {
		if err := e.repo.Save(ctx, res); err != nil {
			return res, err
		}
	}
	return res, nil
}

// RunAll applies every scenario, loading exposures and correlations once.
// Scenarios shocking factors without exposures are skipped and left out of the results.
func (e *Engine) RunAll(ctx context.Context, portfolioID string, scenarios []Scenario, date time.Time, persist bool) ([]*Result, error) {
	var shocked []domain.FactorID
	seen := make(map[domain.FactorID]bool)
	for _, sc := range scenarios {
		for _, f := range sc.ShockedFactors() {
			if !seen[f] {
				seen[f] = true
				shocked = append(shocked, f)
			}
		}
	}

	in, err := e.prepare(ctx, portfolioID, date, shocked)
	if err != nil {
		return nil, err
	}

	results := make([]*Result, 0, len(scenarios))
	for _, sc := range scenarios {
		if missing := in.unapplied(sc); len(missing) > 0 {
			e.log.Warn().
				Str("portfolio_id", portfolioID).
				Str("scenario", sc.ID).
				Str("factors", factorKeys(missing)).
				Msg("Skipping scenario, shocked factors have no exposures")
			continue
		}
		res := e.evaluate(in, sc)
		if persist && e.repo != nil {
			if err := e.repo.Save(ctx, res); err != nil {
				return results, err
			}
		}
		results = append(results, res)
	}
	return results, nil
}

func (e *Engine) prepare(ctx context.Context, portfolioID string, date time.Time, shocked []domain.FactorID) (*inputs, error) {
	date = domain.DateOnly(date)

	baseline, err := e.exposures.GetPortfolioExposures(ctx, portfolioID, date, e.cfg.MaxStalenessDays)
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio exposures: %w", err)
	}

	set, err := e.factors.GetCompleteExposures(ctx, portfolioID, date)
	if err != nil {
		return nil, err
	}

	in := &inputs{
		portfolioID: portfolioID,
		date:        date,
		baseline:    baseline,
		set:         set,
		dollars:     make(map[domain.FactorID]float64, len(set.Exposures)),
		ceiling:     lossCeiling(baseline, e.cfg.LossCeiling),
	}
	matrixFactors := append([]domain.FactorID(nil), shocked...)
	for _, fe := range set.Exposures {
		in.dollars[fe.Factor] = fe.DollarExposure
		in.order = append(in.order, fe.Factor)
		matrixFactors = append(matrixFactors, fe.Factor)
	}

	if e.correlations != nil {
		in.corr, err = e.correlations.GetMatrix(ctx, matrixFactors, date)
		if err != nil {
			e.log.Warn().Err(err).Str("portfolio_id", portfolioID).Msg("Correlation matrix unavailable, using identity")
			in.corr = nil
		}
	}
	return in, nil
}

// unapplied lists the scenario's shocked factors absent from the exposure set
func (in *inputs) unapplied(sc Scenario) []domain.FactorID {
	var missing []domain.FactorID
	for _, f := range sc.ShockedFactors() {
		if _, ok := in.dollars[f]; !ok {
			missing = append(missing, f)
		}
	}
	return missing
}

func factorKeys(fs []domain.FactorID) string {
	keys := make([]string, len(fs))
	for i, f := range fs {
		keys[i] = f.String()
	}
	return strings.Join(keys, ", ")
}

func (e *Engine) evaluate(in *inputs, sc Scenario) *Result {
	impact := Apply(in.dollars, in.order, sc.Shocks, in.corr, in.ceiling)
	if impact.Clipped {
		e.metrics.RecordStressClipped()
		e.log.Warn().
			Str("portfolio_id", in.portfolioID).
			Str("scenario", sc.ID).
			Float64("raw_direct", impact.RawDirect).
			Float64("raw_correlated", impact.RawCorrelated).
			Float64("ceiling", impact.Ceiling).
			Msg("Stress loss clipped to ceiling")
	}
	return &Result{
		PortfolioID:         in.portfolioID,
		ScenarioID:          sc.ID,
		ScenarioName:        sc.Name,
		CalculationDate:     in.date,
		NetExposure:         in.baseline.NetExposure,
		ExposureSource:      in.baseline.Source,
		DirectImpact:        impact.Direct,
		CorrelatedImpact:    impact.Correlated,
		RawDirectImpact:     impact.RawDirect,
		RawCorrelatedImpact: impact.RawCorrelated,
		LossCeiling:         impact.Ceiling,
		Clipped:             impact.Clipped,
		Factors:             impact.Factors,
	}
}

// lossCeiling is ratio × |net exposure|, or ratio × gross for a market-neutral book
func lossCeiling(e *exposure.Exposures, ratio float64) float64 {
	base := e.NetExposure.Abs()
	if base.IsZero() {
		base = e.GrossExposure
	}
	return base.InexactFloat64() * ratio
}
