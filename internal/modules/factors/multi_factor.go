package factors

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/aristath/riskboard/internal/domain"
	"github.com/aristath/riskboard/internal/metrics"
	"github.com/aristath/riskboard/internal/modules/regression"
	"github.com/aristath/riskboard/internal/modules/returns"
	"github.com/aristath/riskboard/internal/modules/valuation"
	"github.com/rs/zerolog"
)

// MultiFactorConfig configures the ridge calculator
type MultiFactorConfig struct {
	LookbackDays  int
	BetaCap       float64
	RidgeAlpha    float64
	CrossValidate bool
	AlphaGrid     []float64
	Folds         int
}

// MultiFactorCalculator estimates style-factor exposures jointly by ridge regression,
// which stays stable when factor proxies are strongly collinear.
type MultiFactorCalculator struct {
	cfg       MultiFactorConfig
	factors   domain.FactorConfig
	positions domain.PositionReader
	prices    PriceLoader
	engine    *regression.Engine
	repo      *Repository
	metrics   *metrics.Registry
	log       zerolog.Logger
}

// NewMultiFactorCalculator creates the ridge calculator; repo and reg may be nil
func NewMultiFactorCalculator(
	cfg MultiFactorConfig,
	factors domain.FactorConfig,
	positions domain.PositionReader,
	prices PriceLoader,
	engine *regression.Engine,
	repo *Repository,
	reg *metrics.Registry,
	log zerolog.Logger,
) *MultiFactorCalculator {
	return &MultiFactorCalculator{
		cfg:       cfg,
		factors:   factors,
		positions: positions,
		prices:    prices,
		engine:    engine,
		repo:      repo,
		metrics:   reg,
		log:       log.With().Str("calculator", "multi_factor").Logger(),
	}
}

// CalculatePortfolio fits every eligible position on the active style factors with
// proxy data and aggregates each factor's betas by signed exposure. Active style
// factors without a proxy or without prices are listed in Unavailable.
func (c *MultiFactorCalculator) CalculatePortfolio(ctx context.Context, portfolioID string, date time.Time, persist bool) (*MultiFactorResult, error) {
	date = domain.DateOnly(date)
	style := c.factors.ActiveOfKind(domain.FactorKindStyle)

	open, err := c.positions.GetOpenPositions(ctx, portfolioID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to load positions: %w", err)
	}

	result := &MultiFactorResult{
		PortfolioID:     portfolioID,
		CalculationDate: date,
		DataQuality:     DataQuality{PositionsTotal: len(open)},
	}
	if len(style) == 0 {
		return result, nil
	}

	var (
		factorIDs []domain.FactorID
		proxies   []string
	)
	for _, f := range style {
		proxy, ok := c.factors.Proxy(f)
		if !ok {
			result.Unavailable = append(result.Unavailable, f)
			continue
		}
		factorIDs = append(factorIDs, f)
		proxies = append(proxies, proxy)
	}

	eligible, symbols := eligiblePositions(open, &result.DataQuality)

	start := returns.WindowStart(date, c.cfg.LookbackDays)
	load := append(append([]string(nil), symbols...), proxies...)
	prices, err := c.prices.GetPrices(ctx, load, start, date)
	if err != nil {
		return nil, err
	}

	// A proxy without prices would empty every aligned table; drop its factor instead
	var usable []int
	for i, proxy := range proxies {
		if len(prices[proxy]) == 0 {
			c.log.Warn().
				Str("factor", factorIDs[i].String()).
				Str("proxy", proxy).
				Msg("No proxy prices, factor unavailable")
			result.Unavailable = append(result.Unavailable, factorIDs[i])
			continue
		}
		usable = append(usable, i)
	}
	if len(usable) == 0 {
		for _, p := range eligible {
			result.DataQuality.exclude(p, ExcludedInsufficientData, "no style factor data")
		}
		recordExclusions(c.metrics, "multi_factor", result.DataQuality)
		return result, nil
	}

	usableFactors := make([]domain.FactorID, len(usable))
	usableProxies := make([]string, len(usable))
	for k, i := range usable {
		usableFactors[k] = factorIDs[i]
		usableProxies[k] = proxies[i]
	}

	fits := make(map[string]regression.RidgeResult, len(symbols))
	for _, sym := range symbols {
		cols := append([]string{sym}, usableProxies...)
		tbl := returns.Compute(prices, cols, true).Tail(c.cfg.LookbackDays)
		y, _ := tbl.Column(sym)
		features := make([][]float64, len(usableProxies))
		for k, proxy := range usableProxies {
			features[k], _ = tbl.Column(proxy)
		}
		fits[sym] = c.fit(y, features)
	}

	contribs := make(map[domain.FactorID][]Contribution, len(usableFactors))
	for _, p := range eligible {
		sym := p.ReturnSymbol()
		fit := fits[sym]
		if !fit.OK {
			reason := ExcludedRegression
			if fit.Failure == regression.FailureInsufficientData {
				reason = ExcludedInsufficientData
			}
			result.DataQuality.exclude(p, reason, string(fit.Failure))
			continue
		}

		signed := valuation.GetPositionValue(p, true, false)
		pfb := PositionFactorBetas{
			PositionID:   p.ID,
			Symbol:       p.Symbol,
			ReturnSymbol: sym,
			SignedValue:  signed,
			Betas:        make(map[domain.FactorID]float64, len(usableFactors)),
			RawBetas:     make(map[domain.FactorID]float64, len(usableFactors)),
			RSquared:     fit.RSquared,
			Alpha:        fit.Alpha,
			Observations: fit.Observations,
		}
		for k, f := range usableFactors {
			raw := fit.Coefficients[k]
			beta := raw
			if c.cfg.BetaCap > 0 && math.Abs(raw) > c.cfg.BetaCap {
				beta = math.Copysign(c.cfg.BetaCap, raw)
			}
			pfb.RawBetas[f] = raw
			pfb.Betas[f] = beta
			contribs[f] = append(contribs[f], Contribution{SignedValue: signed, Beta: beta})
		}
		result.Positions = append(result.Positions, pfb)
	}
	result.DataQuality.PositionsIncluded = len(result.Positions)

	if len(result.Positions) > 0 {
		for k, f := range usableFactors {
			beta, dollar, ok := WeightedBeta(contribs[f])
			if !ok {
				c.log.Warn().
					Str("portfolio_id", portfolioID).
					Str("factor", f.String()).
					Msg("Net signed exposure of included positions is zero, reporting beta 0")
			}
			result.Factors = append(result.Factors, FactorAggregate{
				Factor:         f,
				Proxy:          usableProxies[k],
				Beta:           beta,
				DollarExposure: dollar,
			})
		}
	}

	recordExclusions(c.metrics, "multi_factor", result.DataQuality)
	c.log.Info().
		Str("portfolio_id", portfolioID).
		Int("factors", len(result.Factors)).
		Int("unavailable", len(result.Unavailable)).
		Int("included", result.DataQuality.PositionsIncluded).
		Int("excluded", result.DataQuality.PositionsExcluded).
		Msg("Calculated style factor exposures")

	if persist && c.repo != nil {
		if err := c.persist(ctx, result); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (c *MultiFactorCalculator) fit(y []float64, features [][]float64) regression.RidgeResult {
	if c.cfg.CrossValidate {
		return c.engine.RidgeCV(y, features, c.cfg.AlphaGrid, c.cfg.Folds, c.cfg.RidgeAlpha)
	}
	return c.engine.Ridge(y, features, c.cfg.RidgeAlpha)
}

func (c *MultiFactorCalculator) persist(ctx context.Context, r *MultiFactorResult) error {
	var positions []PositionExposureRecord
	for _, p := range r.Positions {
		for f, beta := range p.Betas {
			positions = append(positions, PositionExposureRecord{
				FactorExposure: domain.FactorExposure{
					CalculationDate: r.CalculationDate,
					EntityID:        p.PositionID,
					Factor:          f,
					Beta:            beta,
					DollarExposure:  p.SignedValue.InexactFloat64() * beta,
					RSquared:        p.RSquared,
					Observations:    p.Observations,
				},
				PortfolioID: r.PortfolioID,
				RawBeta:     p.RawBetas[f],
				Capped:      beta != p.RawBetas[f],
			})
		}
	}

	portfolio := make([]PortfolioExposureRecord, 0, len(r.Factors))
	for _, f := range r.Factors {
		portfolio = append(portfolio, PortfolioExposureRecord{
			FactorExposure: domain.FactorExposure{
				CalculationDate: r.CalculationDate,
				EntityID:        r.PortfolioID,
				Factor:          f.Factor,
				Beta:            f.Beta,
				DollarExposure:  f.DollarExposure,
			},
			PositionsIncluded: r.DataQuality.PositionsIncluded,
			PositionsExcluded: r.DataQuality.PositionsExcluded,
		})
	}

	if err := c.repo.Save(ctx, positions, portfolio); err != nil {
		return fmt.Errorf("failed to persist style exposures: %w", err)
	}
	return nil
}
