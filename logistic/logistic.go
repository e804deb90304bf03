// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package logistic fits binomial GLMs (logistic regression) and
// compares nested fits by likelihood ratio.
package logistic

import (
	"errors"
	"fmt"
	"io"
	"log"
	"math"

	"github.com/kshedden/statmodel/glm"
	"github.com/kshedden/statmodel/statmodel"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	ErrDegenerate = errors.New("degenerate logistic model")
	ErrSingular   = errors.New("logistic model is singular")
)

const Intercept = "(Intercept)"

// Model is a fitted logistic regression.
type Model struct {
	Names   []string
	Params  []float64
	StdErr  []float64
	LogLike float64
	// Number of observations (rows) used.
	N int
}

func newConfig(weighted bool) *glm.Config {
	cfg := &glm.Config{
		Family:         glm.NewFamily(glm.BinomialFamily),
		FitMethod:      "IRLS",
		ConcurrentIRLS: 1000,
		Log:            log.New(io.Discard, "", 0),
	}
	if weighted {
		cfg.WeightVar = "weight"
	}
	return cfg
}

// Fit regresses the 0/1 outcome y on an intercept plus the given
// predictor columns. Rows where y or any predictor is NaN are left
// out. If weights is non-nil, each row contributes with the given
// (frequency or posterior probability) weight.
func Fit(y []float64, predictors [][]float64, names []string, weights []float64) (m *Model, err error) {
	if len(predictors) != len(names) {
		return nil, fmt.Errorf("%d predictors, %d names", len(predictors), len(names))
	}
	defer func() {
		if r := recover(); r != nil {
			// typically "matrix singular or near-singular with condition number +Inf"
			m, err = nil, fmt.Errorf("%w: %v", ErrSingular, r)
		}
	}()
	var rows []int
	cases := 0.0
	total := 0.0
	for i, yi := range y {
		if math.IsNaN(yi) || (weights != nil && !(weights[i] > 0)) {
			continue
		}
		ok := true
		for _, x := range predictors {
			if math.IsNaN(x[i]) {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		rows = append(rows, i)
		w := 1.0
		if weights != nil {
			w = weights[i]
		}
		cases += w * yi
		total += w
	}
	if len(rows) == 0 || cases == 0 || cases == total {
		return nil, fmt.Errorf("%w: outcome is constant over %d complete observations", ErrDegenerate, len(rows))
	}

	outcome := make([]statmodel.Dtype, len(rows))
	constants := make([]statmodel.Dtype, len(rows))
	for r, i := range rows {
		outcome[r] = y[i]
		constants[r] = 1
	}
	data := [][]statmodel.Dtype{outcome, constants}
	varnames := []string{"outcome", Intercept}
	for k, x := range predictors {
		series := make([]statmodel.Dtype, len(rows))
		for r, i := range rows {
			series[r] = x[i]
		}
		if constant(series) {
			return nil, fmt.Errorf("%w: predictor %q is constant", ErrDegenerate, names[k])
		}
		data = append(data, series)
		varnames = append(varnames, names[k])
	}
	if weights != nil {
		w := make([]statmodel.Dtype, len(rows))
		for r, i := range rows {
			w[r] = weights[i]
		}
		data = append(data, w)
		varnames = append(varnames, "weight")
	}
	dataset := statmodel.NewDataset(data, varnames)
	model, err := glm.NewGLM(dataset, "outcome", varnames[1:len(predictors)+2], newConfig(weights != nil))
	if err != nil {
		return nil, err
	}
	result := model.Fit()
	m = &Model{
		Names:   append([]string(nil), varnames[1:len(predictors)+2]...),
		Params:  result.Params(),
		StdErr:  result.StdErr(),
		LogLike: result.LogLike(),
		N:       len(rows),
	}
	for _, p := range m.Params {
		if math.IsNaN(p) {
			return nil, fmt.Errorf("%w: fit did not converge", ErrSingular)
		}
	}
	return m, nil
}

func constant(x []float64) bool {
	for _, v := range x[1:] {
		if v != x[0] {
			return false
		}
	}
	return true
}

// AIC returns the Akaike information criterion.
func (m *Model) AIC() float64 {
	return -2*m.LogLike + 2*float64(len(m.Params))
}

func (m *Model) index(name string) (int, error) {
	for i, n := range m.Names {
		if n == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("model has no predictor %q", name)
}

// OddsRatio returns exp(beta) for the named predictor with a 95% Wald
// confidence interval.
func (m *Model) OddsRatio(name string) (or, lo, hi float64, err error) {
	i, err := m.index(name)
	if err != nil {
		return 0, 0, 0, err
	}
	const z = 1.959963984540054
	b, se := m.Params[i], m.StdErr[i]
	return math.Exp(b), math.Exp(b - z*se), math.Exp(b + z*se), nil
}

// WaldP returns the two-sided Wald test p-value for the named
// predictor.
func (m *Model) WaldP(name string) (float64, error) {
	i, err := m.index(name)
	if err != nil {
		return 0, err
	}
	return 2 * distuv.UnitNormal.Survival(math.Abs(m.Params[i]/m.StdErr[i])), nil
}

// LRT compares nested models fitted on the same observations and
// returns the likelihood ratio statistic, its degrees of freedom and
// chi-square p-value.
func LRT(null, full *Model) (stat float64, df int, p float64, err error) {
	if null.N != full.N {
		return 0, 0, 0, fmt.Errorf("models fitted on different observations (%d vs %d)", null.N, full.N)
	}
	df = len(full.Params) - len(null.Params)
	if df < 1 {
		return 0, 0, 0, fmt.Errorf("full model has %d parameters, null model has %d", len(full.Params), len(null.Params))
	}
	stat = math.Max(0, 2*(full.LogLike-null.LogLike))
	p = distuv.ChiSquared{K: float64(df)}.Survival(stat)
	return stat, df, p, nil
}

// Predict returns the fitted probability for each row of predictors
// (NaN where a predictor is NaN).
func (m *Model) Predict(predictors [][]float64) []float64 {
	if len(predictors) == 0 {
		return nil
	}
	n := len(predictors[0])
	out := make([]float64, n)
	for i := range out {
		eta := m.Params[0]
		for k, x := range predictors {
			eta += m.Params[k+1] * x[i]
		}
		out[i] = 1 / (1 + math.Exp(-eta))
	}
	return out
}
