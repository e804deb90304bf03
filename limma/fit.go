// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package limma fits per-feature linear models, evaluates contrasts,
// and moderates the resulting statistics by empirical Bayes variance
// shrinkage.
package limma

import (
	"errors"
	"fmt"
	"math"

	"github.com/arvados/bioassoc/design"
	"github.com/arvados/bioassoc/expr"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

var ErrNotModerated = errors.New("fit has not been moderated with EBayes")

// Fit holds one linear model per feature. A Fit is never modified
// after it is returned; ContrastsFit and EBayes return new values.
type Fit struct {
	Features  []string
	CoefNames []string
	// features x coefs
	Coefficients  *mat.Dense
	StdevUnscaled *mat.Dense
	Sigma         []float64
	DFResidual    []float64
	// Average log-expression of each feature over observed samples.
	Amean []float64

	// Unscaled covariance of the coefficients for each feature.
	// Features fitted on all samples share one matrix.
	cov []*mat.SymDense

	// Set by EBayes.
	Moderated *Moderated
}

// LmFit fits y[i,] ~ X for every feature i by least squares.
// Samples must be aligned: y.Samples and X.Samples are compared.
// A feature with missing values is fitted on its observed samples;
// if those do not support every coefficient, the feature's
// coefficients are NaN.
func LmFit(y *expr.Matrix, x *design.Matrix) (*Fit, error) {
	nfeat, nsamp := y.Dims()
	nx, p := x.Dims()
	if nx != nsamp {
		return nil, fmt.Errorf("design has %d rows, expression matrix has %d samples", nx, nsamp)
	}
	for j, s := range y.Samples {
		if x.Samples[j] != s {
			return nil, fmt.Errorf("design row %d is sample %q, expression column %d is %q", j, x.Samples[j], j, s)
		}
	}
	if err := design.CheckRank(x); err != nil {
		return nil, err
	}
	fullCov, err := unscaledCov(x.X)
	if err != nil {
		return nil, err
	}
	fit := &Fit{
		Features:      append([]string(nil), y.Features...),
		CoefNames:     append([]string(nil), x.Columns...),
		Coefficients:  mat.NewDense(nfeat, p, nil),
		StdevUnscaled: mat.NewDense(nfeat, p, nil),
		Sigma:         make([]float64, nfeat),
		DFResidual:    make([]float64, nfeat),
		Amean:         make([]float64, nfeat),
		cov:           make([]*mat.SymDense, nfeat),
	}
	partial := 0
	for i := 0; i < nfeat; i++ {
		row := y.Row(i)
		var obs []int
		sum := 0.0
		for j, v := range row {
			if !math.IsNaN(v) {
				obs = append(obs, j)
				sum += v
			}
		}
		if len(obs) > 0 {
			fit.Amean[i] = sum / float64(len(obs))
		} else {
			fit.Amean[i] = math.NaN()
		}
		xi, yi, cov := x.X, mat.NewVecDense(nsamp, row), fullCov
		if len(obs) < nsamp {
			partial++
			xi = mat.NewDense(len(obs), p, nil)
			yv := make([]float64, len(obs))
			for k, j := range obs {
				xi.SetRow(k, mat.Row(nil, j, x.X))
				yv[k] = row[j]
			}
			yi = mat.NewVecDense(len(obs), yv)
			if len(obs) < p || design.Rank(xi) < p {
				fit.setNaN(i, p)
				continue
			}
			cov, err = unscaledCov(xi)
			if err != nil {
				fit.setNaN(i, p)
				continue
			}
		}
		var xty mat.VecDense
		xty.MulVec(xi.T(), yi)
		var beta mat.VecDense
		beta.MulVec(cov, &xty)
		var fitted, resid mat.VecDense
		fitted.MulVec(xi, &beta)
		resid.SubVec(yi, &fitted)
		df := float64(len(obs) - p)
		fit.DFResidual[i] = df
		if df > 0 {
			fit.Sigma[i] = math.Sqrt(mat.Dot(&resid, &resid) / df)
		} else {
			fit.Sigma[i] = math.NaN()
		}
		for k := 0; k < p; k++ {
			fit.Coefficients.Set(i, k, beta.AtVec(k))
			fit.StdevUnscaled.Set(i, k, math.Sqrt(cov.At(k, k)))
		}
		fit.cov[i] = cov
	}
	if partial > 0 {
		log.Infof("lmFit: %d of %d features fitted on a subset of samples because of missing values", partial, nfeat)
	}
	return fit, nil
}

func (fit *Fit) setNaN(i, p int) {
	for k := 0; k < p; k++ {
		fit.Coefficients.Set(i, k, math.NaN())
		fit.StdevUnscaled.Set(i, k, math.NaN())
	}
	fit.Sigma[i] = math.NaN()
	fit.DFResidual[i] = 0
}

// unscaledCov returns (X'X)^-1.
func unscaledCov(x *mat.Dense) (*mat.SymDense, error) {
	_, p := x.Dims()
	xtx := mat.NewSymDense(p, nil)
	xtx.SymOuterK(1, x.T())
	var chol mat.Cholesky
	if !chol.Factorize(xtx) {
		return nil, fmt.Errorf("%w: X'X is not positive definite", design.ErrRankDeficient)
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// Coef returns the index of the named coefficient.
func (fit *Fit) Coef(name string) (int, error) {
	for i, c := range fit.CoefNames {
		if c == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("no coefficient named %q (have %q)", name, fit.CoefNames)
}

// ContrastsFit re-expresses fit in terms of the contrasts in cm
// (coefficients x contrasts, see design.Matrix.ContrastMatrix).
// Any moderation is discarded; call EBayes on the result.
func ContrastsFit(fit *Fit, cm *mat.Dense, names []string) (*Fit, error) {
	p, k := cm.Dims()
	if p != len(fit.CoefNames) {
		return nil, fmt.Errorf("contrast matrix has %d rows, fit has %d coefficients", p, len(fit.CoefNames))
	}
	if len(names) != k {
		return nil, fmt.Errorf("%d contrast names for %d contrasts", len(names), k)
	}
	nfeat := len(fit.Features)
	out := &Fit{
		Features:      fit.Features,
		CoefNames:     append([]string(nil), names...),
		Coefficients:  mat.NewDense(nfeat, k, nil),
		StdevUnscaled: mat.NewDense(nfeat, k, nil),
		Sigma:         fit.Sigma,
		DFResidual:    fit.DFResidual,
		Amean:         fit.Amean,
		cov:           make([]*mat.SymDense, nfeat),
	}
	out.Coefficients.Mul(fit.Coefficients, cm)
	transformed := map[*mat.SymDense]*mat.SymDense{}
	for i, cov := range fit.cov {
		if cov == nil {
			for j := 0; j < k; j++ {
				out.Coefficients.Set(i, j, math.NaN())
				out.StdevUnscaled.Set(i, j, math.NaN())
			}
			continue
		}
		ccov, ok := transformed[cov]
		if !ok {
			ccov = mat.NewSymDense(k, nil)
			var tmp mat.Dense
			tmp.Mul(cm.T(), cov)
			var full mat.Dense
			full.Mul(&tmp, cm)
			for a := 0; a < k; a++ {
				for b := a; b < k; b++ {
					ccov.SetSym(a, b, full.At(a, b))
				}
			}
			transformed[cov] = ccov
		}
		out.cov[i] = ccov
		for j := 0; j < k; j++ {
			out.StdevUnscaled.Set(i, j, math.Sqrt(ccov.At(j, j)))
		}
	}
	return out, nil
}
