// Package regression provides the shared regression engine: single-factor OLS with beta
// capping and fit classification, and ridge regression for multi-factor exposures.
package regression

import (
	"fmt"
	"math"

	"github.com/aristath/riskboard/internal/domain"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// FailureReason explains why a regression produced no estimate
type FailureReason string

const (
	FailureInsufficientData FailureReason = "insufficient data"
	FailureLengthMismatch   FailureReason = "length mismatch"
	FailureNaN              FailureReason = "NaN present"
	FailureZeroVariance     FailureReason = "zero variance in factor"
	FailureSingular         FailureReason = "singular system"
)

// Quality buckets R²
type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityFair      Quality = "fair"
	QualityPoor      Quality = "poor"
	QualityVeryPoor  Quality = "very_poor"
)

// SignificanceTier buckets the p-value of beta
type SignificanceTier string

const (
	TierHighlySignificant SignificanceTier = "highly_significant"     // p < 0.01
	TierSignificant       SignificanceTier = "significant"            // p < strict
	TierMarginal          SignificanceTier = "marginally_significant" // p < relaxed
	TierNotSignificant    SignificanceTier = "not_significant"
)

const highSignificanceCutoff = 0.01

// QualityCutpoints are the lower R² bounds of each bucket
type QualityCutpoints struct {
	Excellent float64
	Good      float64
	Fair      float64
	Poor      float64
}

// Thresholds configures the engine
type Thresholds struct {
	MinObservations     int
	Quality             QualityCutpoints
	StrictSignificance  float64
	RelaxedSignificance float64
}

// DefaultThresholds returns the standard cutpoints
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinObservations:     30,
		Quality:             QualityCutpoints{Excellent: 0.7, Good: 0.5, Fair: 0.3, Poor: 0.1},
		StrictSignificance:  0.05,
		RelaxedSignificance: 0.10,
	}
}

// Result is the outcome of a single-factor fit.
// Alpha, RSquared, StdError and PValue always come from the uncapped fit.
type Result struct {
	Beta          float64          `json:"beta"`
	RawBeta       float64          `json:"raw_beta"`
	Alpha         float64          `json:"alpha"`
	RSquared      float64          `json:"r_squared"`
	StdError      float64          `json:"std_error"`
	TStat         float64          `json:"t_stat"`
	PValue        float64          `json:"p_value"`
	IsSignificant bool             `json:"is_significant"`
	Capped        bool             `json:"capped"`
	Observations  int              `json:"observations"`
	Quality       Quality          `json:"quality"`
	Significance  SignificanceTier `json:"significance"`
	OK            bool             `json:"ok"`
	Failure       FailureReason    `json:"failure,omitempty"`
}

// Err converts a failed result into a typed error
func (r Result) Err(symbol string, required int) error {
	if r.OK {
		return nil
	}
	if r.Failure == FailureInsufficientData {
		return &domain.DataInsufficientError{Symbol: symbol, Observations: r.Observations, Required: required}
	}
	return fmt.Errorf("%w: regression for %s failed: %s", domain.ErrInvalidInput, symbol, r.Failure)
}

// Engine runs regressions with shared classification thresholds
type Engine struct {
	th Thresholds
}

// NewEngine creates a regression engine
func NewEngine(th Thresholds) *Engine {
	if th.MinObservations < 3 {
		th.MinObservations = 3
	}
	return &Engine{th: th}
}

// Thresholds returns the engine configuration
func (e *Engine) Thresholds() Thresholds {
	return e.th
}

// SingleFactor fits y = alpha + beta*x by ordinary least squares.
// A cap > 0 clamps |beta| to cap and sets Capped; cap <= 0 disables capping.
// Invalid input yields a result with OK=false and a Failure reason, never a panic.
func (e *Engine) SingleFactor(y, x []float64, cap, significance float64) Result {
	n := len(y)
	res := Result{Observations: n}

	switch {
	case len(x) != n:
		res.Failure = FailureLengthMismatch
		return res
	case hasNaN(y) || hasNaN(x):
		res.Failure = FailureNaN
		return res
	case n < e.th.MinObservations:
		res.Failure = FailureInsufficientData
		return res
	}

	meanX := stat.Mean(x, nil)
	var sxx float64
	for _, v := range x {
		sxx += (v - meanX) * (v - meanX)
	}
	if sxx == 0 {
		res.Failure = FailureZeroVariance
		return res
	}

	alpha, beta := stat.LinearRegression(x, y, nil, false)

	var sse float64
	for i := range y {
		resid := y[i] - (alpha + beta*x[i])
		sse += resid * resid
	}
	df := float64(n - 2)
	stdErr := math.Sqrt(sse/df) / math.Sqrt(sxx)

	var tStat, pValue float64
	if stdErr == 0 {
		// Exact fit; keep t finite so results stay JSON-encodable
		tStat = math.Copysign(math.MaxFloat64, beta)
		pValue = 0
	} else {
		tStat = beta / stdErr
		t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
		pValue = 2 * (1 - t.CDF(math.Abs(tStat)))
	}

	rSquared := stat.RSquared(x, y, nil, alpha, beta)
	if math.IsNaN(rSquared) {
		// Constant y: the fit explains nothing
		rSquared = 0
	}

	res.OK = true
	res.RawBeta = beta
	res.Beta = beta
	res.Alpha = alpha
	res.RSquared = rSquared
	res.StdError = stdErr
	res.TStat = tStat
	res.PValue = pValue
	res.IsSignificant = pValue < significance
	res.Quality = e.ClassifyQuality(rSquared)
	res.Significance = e.ClassifySignificance(pValue)

	if cap > 0 && math.Abs(beta) > cap {
		res.Beta = math.Copysign(cap, beta)
		res.Capped = true
	}
	return res
}

// ClassifyQuality buckets an R² value
func (e *Engine) ClassifyQuality(r2 float64) Quality {
	q := e.th.Quality
	switch {
	case r2 >= q.Excellent:
		return QualityExcellent
	case r2 >= q.Good:
		return QualityGood
	case r2 >= q.Fair:
		return QualityFair
	case r2 >= q.Poor:
		return QualityPoor
	default:
		return QualityVeryPoor
	}
}

// ClassifySignificance buckets a p-value
func (e *Engine) ClassifySignificance(p float64) SignificanceTier {
	switch {
	case p < highSignificanceCutoff:
		return TierHighlySignificant
	case p < e.th.StrictSignificance:
		return TierSignificant
	case p < e.th.RelaxedSignificance:
		return TierMarginal
	default:
		return TierNotSignificant
	}
}

func hasNaN(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return true
		}
	}
	return false
}
