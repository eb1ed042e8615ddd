// Package factors computes position- and portfolio-level factor exposures:
// market and interest-rate betas by single-factor OLS, style exposures by ridge regression.
package factors

import (
	"time"

	"github.com/aristath/riskboard/internal/domain"
	"github.com/aristath/riskboard/internal/modules/regression"
	"github.com/shopspring/decimal"
)

// ExclusionReason says why a position was left out of a portfolio aggregate
type ExclusionReason string

const (
	ExcludedInsufficientData ExclusionReason = "insufficient_data"
	ExcludedPrivate          ExclusionReason = "private"
	ExcludedNoSymbol         ExclusionReason = "no_return_symbol"
	ExcludedRegression       ExclusionReason = "regression_failed"
)

// Exclusion records one excluded position
type Exclusion struct {
	PositionID string          `json:"position_id"`
	Symbol     string          `json:"symbol"`
	Reason     ExclusionReason `json:"reason"`
	Detail     string          `json:"detail,omitempty"`
}

// DataQuality is the coverage metadata of a calculation
type DataQuality struct {
	PositionsTotal           int         `json:"positions_total"`
	PositionsIncluded        int         `json:"positions_included"`
	PositionsExcluded        int         `json:"positions_excluded"`
	ExcludedInsufficientData int         `json:"excluded_insufficient_data"`
	Exclusions               []Exclusion `json:"exclusions,omitempty"`
}

func (q *DataQuality) exclude(p domain.Position, reason ExclusionReason, detail string) {
	q.PositionsExcluded++
	if reason == ExcludedInsufficientData {
		q.ExcludedInsufficientData++
	}
	q.Exclusions = append(q.Exclusions, Exclusion{
		PositionID: p.ID,
		Symbol:     p.Symbol,
		Reason:     reason,
		Detail:     detail,
	})
}

// PositionBeta is one position's single-factor result
type PositionBeta struct {
	PositionID     string            `json:"position_id"`
	Symbol         string            `json:"symbol"`
	ReturnSymbol   string            `json:"return_symbol"`
	SignedValue    decimal.Decimal   `json:"signed_value"`
	DollarExposure float64           `json:"dollar_exposure"`
	Regression     regression.Result `json:"regression"`
}

// SingleFactorResult is a portfolio's exposure to one factor
type SingleFactorResult struct {
	PortfolioID     string          `json:"portfolio_id"`
	Factor          domain.FactorID `json:"factor"`
	Proxy           string          `json:"proxy"`
	CalculationDate time.Time       `json:"calculation_date"`
	Beta            float64         `json:"beta"`
	DollarExposure  float64         `json:"dollar_exposure"`
	NetIncluded     decimal.Decimal `json:"net_included_exposure"`
	Positions       []PositionBeta  `json:"positions"`
	DataQuality     DataQuality     `json:"data_quality"`
}

// PositionFactorBetas is one position's ridge result across style factors
type PositionFactorBetas struct {
	PositionID   string                      `json:"position_id"`
	Symbol       string                      `json:"symbol"`
	ReturnSymbol string                      `json:"return_symbol"`
	SignedValue  decimal.Decimal             `json:"signed_value"`
	Betas        map[domain.FactorID]float64 `json:"betas"`
	RawBetas     map[domain.FactorID]float64 `json:"raw_betas"`
	RSquared     float64                     `json:"r_squared"`
	Alpha        float64                     `json:"ridge_alpha"`
	Observations int                         `json:"observations"`
}

// FactorAggregate is the portfolio-level value of one style factor
type FactorAggregate struct {
	Factor         domain.FactorID `json:"factor"`
	Proxy          string          `json:"proxy"`
	Beta           float64         `json:"beta"`
	DollarExposure float64         `json:"dollar_exposure"`
}

// MultiFactorResult is a portfolio's ridge exposure to the active style factors
type MultiFactorResult struct {
	PortfolioID     string                `json:"portfolio_id"`
	CalculationDate time.Time             `json:"calculation_date"`
	Factors         []FactorAggregate     `json:"factors"`
	Unavailable     []domain.FactorID     `json:"unavailable,omitempty"`
	Positions       []PositionFactorBetas `json:"positions"`
	DataQuality     DataQuality           `json:"data_quality"`
}
