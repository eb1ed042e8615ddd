package regression

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// RidgeResult is the outcome of a multi-factor ridge fit
type RidgeResult struct {
	Coefficients []float64     `json:"coefficients"` // original scale, one per feature
	Intercept    float64       `json:"intercept"`
	Alpha        float64       `json:"alpha"`
	RSquared     float64       `json:"r_squared"`
	Observations int           `json:"observations"`
	CrossValMSE  float64       `json:"cross_val_mse,omitempty"`
	OK           bool          `json:"ok"`
	Failure      FailureReason `json:"failure,omitempty"`
}

// Ridge fits y on the feature columns with L2 penalty alpha.
// Features are standardized and y centered before solving (ZᵀZ + αI)β = Zᵀy;
// coefficients are mapped back to the original feature scale. A constant feature
// gets a zero coefficient.
func (e *Engine) Ridge(y []float64, features [][]float64, alpha float64) RidgeResult {
	n, p := len(y), len(features)
	res := RidgeResult{Observations: n, Alpha: alpha}

	if p == 0 {
		res.Failure = FailureInsufficientData
		return res
	}
	for _, col := range features {
		if len(col) != n {
			res.Failure = FailureLengthMismatch
			return res
		}
		if hasNaN(col) {
			res.Failure = FailureNaN
			return res
		}
	}
	if hasNaN(y) {
		res.Failure = FailureNaN
		return res
	}
	if n < e.th.MinObservations || n <= p {
		res.Failure = FailureInsufficientData
		return res
	}

	coef, intercept, ok := fitRidge(y, features, alpha)
	if !ok {
		res.Failure = FailureSingular
		return res
	}

	res.OK = true
	res.Coefficients = coef
	res.Intercept = intercept
	res.RSquared = ridgeRSquared(y, features, coef, intercept)
	return res
}

// RidgeCV selects alpha from grid by contiguous k-fold cross-validation on mean squared
// error, then refits on all observations. Falls back to fallbackAlpha when the sample is
// too small to split.
func (e *Engine) RidgeCV(y []float64, features [][]float64, grid []float64, folds int, fallbackAlpha float64) RidgeResult {
	n, p := len(y), len(features)
	if folds < 2 || len(grid) == 0 || n/folds < 2 || n-n/folds <= p {
		return e.Ridge(y, features, fallbackAlpha)
	}

	// Validate once on the full sample so CV never runs on bad input
	if base := e.Ridge(y, features, fallbackAlpha); !base.OK {
		return base
	}

	bestAlpha, bestMSE := fallbackAlpha, math.Inf(1)
	for _, alpha := range grid {
		if alpha < 0 {
			continue
		}
		mse, ok := crossValidate(y, features, alpha, folds)
		if ok && mse < bestMSE {
			bestAlpha, bestMSE = alpha, mse
		}
	}

	res := e.Ridge(y, features, bestAlpha)
	if res.OK && !math.IsInf(bestMSE, 1) {
		res.CrossValMSE = bestMSE
	}
	return res
}

func crossValidate(y []float64, features [][]float64, alpha float64, folds int) (float64, bool) {
	n := len(y)
	size := n / folds
	var sse float64
	var count int

	for k := 0; k < folds; k++ {
		lo := k * size
		hi := lo + size
		if k == folds-1 {
			hi = n
		}

		trainY := make([]float64, 0, n-(hi-lo))
		trainY = append(append(trainY, y[:lo]...), y[hi:]...)
		trainX := make([][]float64, len(features))
		for j, col := range features {
			c := make([]float64, 0, n-(hi-lo))
			trainX[j] = append(append(c, col[:lo]...), col[hi:]...)
		}

		coef, intercept, ok := fitRidge(trainY, trainX, alpha)
		if !ok {
			return 0, false
		}
		for i := lo; i < hi; i++ {
			pred := intercept
			for j, col := range features {
				pred += coef[j] * col[i]
			}
			d := y[i] - pred
			sse += d * d
			count++
		}
	}
	if count == 0 {
		return 0, false
	}
	return sse / float64(count), true
}

func fitRidge(y []float64, features [][]float64, alpha float64) ([]float64, float64, bool) {
	n, p := len(y), len(features)

	means := make([]float64, p)
	scales := make([]float64, p)
	z := mat.NewDense(n, p, nil)
	for j, col := range features {
		means[j], scales[j] = stat.MeanStdDev(col, nil)
		for i, v := range col {
			if scales[j] > 0 {
				z.Set(i, j, (v-means[j])/scales[j])
			}
		}
	}

	meanY := stat.Mean(y, nil)
	yc := mat.NewVecDense(n, nil)
	for i, v := range y {
		yc.SetVec(i, v-meanY)
	}

	var gram mat.SymDense
	gram.SymOuterK(1, z.T())
	for j := 0; j < p; j++ {
		gram.SetSym(j, j, gram.At(j, j)+alpha)
	}

	var rhs mat.VecDense
	rhs.MulVec(z.T(), yc)

	var chol mat.Cholesky
	if ok := chol.Factorize(&gram); !ok {
		return nil, 0, false
	}
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, &rhs); err != nil {
		return nil, 0, false
	}

	coef := make([]float64, p)
	intercept := meanY
	for j := 0; j < p; j++ {
		if scales[j] > 0 {
			coef[j] = beta.AtVec(j) / scales[j]
		}
		intercept -= coef[j] * means[j]
	}
	return coef, intercept, true
}

func ridgeRSquared(y []float64, features [][]float64, coef []float64, intercept float64) float64 {
	meanY := stat.Mean(y, nil)
	var sse, sst float64
	for i, v := range y {
		pred := intercept
		for j, col := range features {
			pred += coef[j] * col[i]
		}
		sse += (v - pred) * (v - pred)
		sst += (v - meanY) * (v - meanY)
	}
	if sst == 0 {
		return 0
	}
	return 1 - sse/sst
}
