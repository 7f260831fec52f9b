package services

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// CorrelationFeatureCount is the width of a correlation feature vector:
// same sector flag, volatility similarity, price correlation, volume
// correlation and market-cap ratio.
const CorrelationFeatureCount = 5

const (
	ridgeAlpha                = 1.0
	minCorrelationTrainingSet = 30
)

// ErrModelNotTrained is returned when predicting before a successful fit
var ErrModelNotTrained = errors.New("correlation model not trained")

// RidgeModel is an L2-regularized linear regression fitted on centered data.
type RidgeModel struct {
	alpha     float64
	coef      []float64
	intercept float64
	trained   bool
}

// NewRidgeModel creates an untrained model with the given penalty.
func NewRidgeModel(alpha float64) *RidgeModel {
	if alpha <= 0 {
		alpha = ridgeAlpha
	}
	return &RidgeModel{alpha: alpha}
}

// Fit solves (XᵀX + αI)β = Xᵀy on mean-centered features and target.
func (m *RidgeModel) Fit(features [][]float64, labels []float64) error {
	n := len(features)
	if n == 0 || n != len(labels) {
		return fmt.Errorf("ridge fit: %d samples, %d labels", n, len(labels))
	}
	p := len(features[0])

	colMeans := make([]float64, p)
	col := make([]float64, n)
	for j := 0; j < p; j++ {
		for i := 0; i < n; i++ {
			if len(features[i]) != p {
				return fmt.Errorf("ridge fit: sample %d has %d features, want %d", i, len(features[i]), p)
			}
			col[i] = features[i][j]
		}
		colMeans[j] = stat.Mean(col, nil)
	}
	yMean := stat.Mean(labels, nil)

	x := mat.NewDense(n, p, nil)
	y := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			x.Set(i, j, features[i][j]-colMeans[j])
		}
		y.SetVec(i, labels[i]-yMean)
	}

	var xtx mat.Dense
	xtx.Mul(x.T(), x)
	for j := 0; j < p; j++ {
		xtx.Set(j, j, xtx.At(j, j)+m.alpha)
	}

	var xty mat.VecDense
	xty.MulVec(x.T(), y)

	var beta mat.VecDense
	if err := beta.SolveVec(&xtx, &xty); err != nil {
		return fmt.Errorf("ridge solve: %w", err)
	}

	m.coef = make([]float64, p)
	m.intercept = yMean
	for j := 0; j < p; j++ {
		m.coef[j] = beta.AtVec(j)
		m.intercept -= colMeans[j] * m.coef[j]
	}
	m.trained = true
	return nil
}

// Predict returns the raw regression output for one feature vector.
func (m *RidgeModel) Predict(features []float64) (float64, error) {
	if !m.trained {
		return 0, ErrModelNotTrained
	}
	if len(features) != len(m.coef) {
		return 0, fmt.Errorf("ridge predict: got %d features, want %d", len(features), len(m.coef))
	}
	out := m.intercept
	for j, v := range features {
		out += m.coef[j] * v
	}
	if math.IsNaN(out) || math.IsInf(out, 0) {
		return 0, errors.New("ridge predict: non-finite output")
	}
	return out, nil
}

// Trained reports whether Fit has succeeded.
func (m *RidgeModel) Trained() bool {
	return m.trained
}

// Coefficients returns a copy of the fitted weights.
func (m *RidgeModel) Coefficients() []float64 {
	out := make([]float64, len(m.coef))
	copy(out, m.coef)
	return out
}
