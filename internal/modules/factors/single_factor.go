package factors

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aristath/riskboard/internal/domain"
	"github.com/aristath/riskboard/internal/metrics"
	"github.com/aristath/riskboard/internal/modules/regression"
	"github.com/aristath/riskboard/internal/modules/returns"
	"github.com/aristath/riskboard/internal/modules/valuation"
	"github.com/rs/zerolog"
)

// PriceLoader loads close series for many symbols at once
type PriceLoader interface {
	GetPrices(ctx context.Context, symbols []string, start, end time.Time) (map[string][]domain.PricePoint, error)
}

// SingleFactorConfig configures a single-factor beta calculator
type SingleFactorConfig struct {
	Factor       domain.FactorID
	LookbackDays int
	BetaCap      float64
	Significance float64
}

// SingleFactorCalculator regresses each open position's returns on one factor proxy and
// aggregates position betas into a signed-exposure-weighted portfolio beta.
// Market beta and interest-rate beta are two instances with different factor and cap.
type SingleFactorCalculator struct {
	cfg       SingleFactorConfig
	factors   domain.FactorConfig
	positions domain.PositionReader
	prices    PriceLoader
	engine    *regression.Engine
	repo      *Repository
	metrics   *metrics.Registry
	log       zerolog.Logger
}

// NewSingleFactorCalculator creates a calculator; repo and reg may be nil
func NewSingleFactorCalculator(
	cfg SingleFactorConfig,
	factors domain.FactorConfig,
	positions domain.PositionReader,
	prices PriceLoader,
	engine *regression.Engine,
	repo *Repository,
	reg *metrics.Registry,
	log zerolog.Logger,
) *SingleFactorCalculator {
	return &SingleFactorCalculator{
		cfg:       cfg,
		factors:   factors,
		positions: positions,
		prices:    prices,
		engine:    engine,
		repo:      repo,
		metrics:   reg,
		log:       log.With().Str("calculator", cfg.Factor.String()).Logger(),
	}
}

// Factor returns the factor this calculator produces
func (c *SingleFactorCalculator) Factor() domain.FactorID {
	return c.cfg.Factor
}

// CalculatePortfolio computes position betas and the portfolio beta as of date.
// Positions without enough aligned history are excluded and counted, never fatal.
// With persist set, position and portfolio rows are written for date.
func (c *SingleFactorCalculator) CalculatePortfolio(ctx context.Context, portfolioID string, date time.Time, persist bool) (*SingleFactorResult, error) {
	date = domain.DateOnly(date)
	proxy, ok := c.factors.Proxy(c.cfg.Factor)
	if !ok {
		return nil, fmt.Errorf("%w: no proxy configured for factor %s", domain.ErrInvalidInput, c.cfg.Factor)
	}

	open, err := c.positions.GetOpenPositions(ctx, portfolioID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to load positions: %w", err)
	}

	result := &SingleFactorResult{
		PortfolioID:     portfolioID,
		Factor:          c.cfg.Factor,
		Proxy:           proxy,
		CalculationDate: date,
		DataQuality:     DataQuality{PositionsTotal: len(open)},
	}

	eligible, symbols := eligiblePositions(open, &result.DataQuality)

	// One load for every symbol and the proxy; pairs are aligned in memory below
	start := returns.WindowStart(date, c.cfg.LookbackDays)
	prices, err := c.prices.GetPrices(ctx, append(symbols, proxy), start, date)
	if err != nil {
		return nil, err
	}

	fits := make(map[string]regression.Result, len(symbols))
	for _, sym := range symbols {
		tbl := returns.Compute(prices, []string{sym, proxy}, true).Tail(c.cfg.LookbackDays)
		y, _ := tbl.Column(sym)
		x, _ := tbl.Column(proxy)
		fits[sym] = c.engine.SingleFactor(y, x, c.cfg.BetaCap, c.cfg.Significance)
	}

	var contribs []Contribution
	for _, p := range eligible {
		sym := p.ReturnSymbol()
		fit := fits[sym]
		if !fit.OK {
			reason := ExcludedRegression
			if fit.Failure == regression.FailureInsufficientData {
				reason = ExcludedInsufficientData
			}
			result.DataQuality.exclude(p, reason, fit.Err(sym, c.engine.Thresholds().MinObservations).Error())
			continue
		}

		signed := valuation.GetPositionValue(p, true, false)
		result.Positions = append(result.Positions, PositionBeta{
			PositionID:     p.ID,
			Symbol:         p.Symbol,
			ReturnSymbol:   sym,
			SignedValue:    signed,
			DollarExposure: signed.InexactFloat64() * fit.Beta,
			Regression:     fit,
		})
		contribs = append(contribs, Contribution{SignedValue: signed, Beta: fit.Beta})
		if fit.Capped {
			c.log.Debug().
				Str("symbol", sym).
				Float64("raw_beta", fit.RawBeta).
				Float64("beta", fit.Beta).
				Msg("Beta capped")
		}
	}
	result.DataQuality.PositionsIncluded = len(result.Positions)

	beta, dollar, ok := WeightedBeta(contribs)
	if !ok && len(contribs) > 0 {
		c.log.Warn().
			Str("portfolio_id", portfolioID).
			Int("positions", len(contribs)).
			Msg("Net signed exposure of included positions is zero, reporting beta 0")
	}
	result.Beta = beta
	result.DollarExposure = dollar
	for _, pb := range result.Positions {
		result.NetIncluded = result.NetIncluded.Add(pb.SignedValue)
	}

	recordExclusions(c.metrics, c.cfg.Factor.String(), result.DataQuality)
	c.log.Info().
		Str("portfolio_id", portfolioID).
		Float64("beta", beta).
		Int("included", result.DataQuality.PositionsIncluded).
		Int("excluded", result.DataQuality.PositionsExcluded).
		Msg("Calculated portfolio beta")

	if persist && c.repo != nil {
		if err := c.persist(ctx, result); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (c *SingleFactorCalculator) persist(ctx context.Context, r *SingleFactorResult) error {
	positions := make([]PositionExposureRecord, 0, len(r.Positions))
	for _, p := range r.Positions {
		positions = append(positions, PositionExposureRecord{
			FactorExposure: domain.FactorExposure{
				CalculationDate: r.CalculationDate,
				EntityID:        p.PositionID,
				Factor:          r.Factor,
				Beta:            p.Regression.Beta,
				DollarExposure:  p.DollarExposure,
				RSquared:        p.Regression.RSquared,
				PValue:          p.Regression.PValue,
				Observations:    p.Regression.Observations,
			},
			PortfolioID: r.PortfolioID,
			RawBeta:     p.Regression.RawBeta,
			Capped:      p.Regression.Capped,
		})
	}

	var portfolio []PortfolioExposureRecord
	// A portfolio value is only stored when at least one position was measured
	if r.DataQuality.PositionsIncluded > 0 {
		portfolio = append(portfolio, PortfolioExposureRecord{
			FactorExposure: domain.FactorExposure{
				CalculationDate: r.CalculationDate,
				EntityID:        r.PortfolioID,
				Factor:          r.Factor,
				Beta:            r.Beta,
				DollarExposure:  r.DollarExposure,
			},
			PositionsIncluded: r.DataQuality.PositionsIncluded,
			PositionsExcluded: r.DataQuality.PositionsExcluded,
		})
	}

	if err := c.repo.Save(ctx, positions, portfolio); err != nil {
		return fmt.Errorf("failed to persist %s exposures: %w", r.Factor, err)
	}
	return nil
}

func recordExclusions(reg *metrics.Registry, calculator string, q DataQuality) {
	counts := make(map[ExclusionReason]int)
	for _, e := range q.Exclusions {
		counts[e.Reason]++
	}
	for reason, n := range counts {
		reg.RecordExcluded(calculator, string(reason), n)
	}
}

// eligiblePositions drops positions that cannot be regressed and returns the
// distinct return symbols of the rest, sorted
func eligiblePositions(open []domain.Position, q *DataQuality) ([]domain.Position, []string) {
	var eligible []domain.Position
	seen := make(map[string]bool)
	var symbols []string

	for _, p := range open {
		if p.InvestmentClass == domain.InvestmentClassPrivate {
			q.exclude(p, ExcludedPrivate, "private investments have no market price series")
			continue
		}
		sym := p.ReturnSymbol()
		if sym == "" {
			q.exclude(p, ExcludedNoSymbol, "")
			continue
		}
		eligible = append(eligible, p)
		if !seen[sym] {
			seen[sym] = true
			symbols = append(symbols, sym)
		}
	}
	sort.Strings(symbols)
	return eligible, symbols
}
