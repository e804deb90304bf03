// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package sva estimates surrogate variables (latent confounders) by
// iteratively reweighted surrogate variable analysis.
package sva

import (
	"fmt"
	"math"
	"sort"

	"github.com/arvados/bioassoc/expr"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

type Options struct {
	// Number of reweighting iterations (default 5).
	Iterations int
	// Lambda is the p-value cutoff used to estimate the
	// proportion of null features (default 0.8).
	Lambda float64
	// Adjust multiplies the kernel bandwidth used in the local
	// FDR density estimate (default 1.5).
	Adjust float64
}

func (opts Options) withDefaults() Options {
	if opts.Iterations <= 0 {
		opts.Iterations = 5
	}
	if opts.Lambda <= 0 || opts.Lambda >= 1 {
		opts.Lambda = 0.8
	}
	if opts.Adjust <= 0 {
		opts.Adjust = 1.5
	}
	return opts
}

type Result struct {
	// Surrogate variables, samples x nSV.
	SV *mat.Dense
	// Posterior probability that each feature is affected by the
	// surrogate variables but not by the covariates of interest.
	// Features with missing values were not used and get NaN.
	PProb []float64
	// Number of features used in the estimate.
	Features int
}

// Names returns column names for k surrogate variables.
func Names(k int) []string {
	names := make([]string, k)
	for i := range names {
		names[i] = fmt.Sprintf("SV%d", i+1)
	}
	return names
}

// Estimate returns nSV surrogate variables for dat (features x
// samples) given the full model mod and null model mod0 (both
// samples x terms). Features with missing values are left out of the
// estimate. nSV is never chosen adaptively: nSV==0 returns an empty
// result, and an nSV larger than the residual degrees of freedom is
// an error.
func Estimate(dat mat.Matrix, mod, mod0 *mat.Dense, nSV int, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	if mod == nil || mod0 == nil {
		return nil, fmt.Errorf("full and null models are both required")
	}
	m, n := dat.Dims()
	if r, _ := mod.Dims(); r != n {
		return nil, fmt.Errorf("model has %d rows, data has %d samples", r, n)
	}
	if r, _ := mod0.Dims(); r != n {
		return nil, fmt.Errorf("null model has %d rows, data has %d samples", r, n)
	}
	_, p := mod.Dims()
	if nSV < 0 {
		return nil, fmt.Errorf("invalid number of surrogate variables %d", nSV)
	}
	if nSV > n-p {
		return nil, fmt.Errorf("cannot estimate %d surrogate variables with %d samples and %d model terms", nSV, n, p)
	}
	res := &Result{PProb: make([]float64, m)}
	if nSV == 0 {
		res.SV = nil
		for i := range res.PProb {
			res.PProb[i] = math.NaN()
		}
		return res, nil
	}

	var rows []int
	for i := 0; i < m; i++ {
		ok := true
		for j := 0; j < n && ok; j++ {
			ok = !math.IsNaN(dat.At(i, j))
		}
		if ok {
			rows = append(rows, i)
		}
	}
	if len(rows) < n {
		return nil, fmt.Errorf("only %d complete features, need at least %d", len(rows), n)
	}
	if len(rows) < m {
		log.Warnf("sva: ignoring %d features with missing values", m-len(rows))
	}
	y := mat.NewDense(len(rows), n, nil)
	for k, i := range rows {
		for j := 0; j < n; j++ {
			y.Set(k, j, dat.At(i, j))
		}
	}
	res.Features = len(rows)

	resid, err := residuals(y, mod)
	if err != nil {
		return nil, err
	}
	vecs, err := topRightSingular(resid, nSV)
	if err != nil {
		return nil, err
	}
	var pprob []float64
	for iter := 0; iter < opts.Iterations; iter++ {
		modB := cbind(mod, vecs)
		mod0B := cbind(mod0, vecs)
		pB, err := FPValues(y, modB, mod0B)
		if err != nil {
			return nil, err
		}
		lfdrB := LocalFDR(pB, opts.Lambda, opts.Adjust)
		pGam, err := FPValues(y, cbind(mod0, vecs), mod0)
		if err != nil {
			return nil, err
		}
		lfdrGam := LocalFDR(pGam, opts.Lambda, opts.Adjust)
		pprob = make([]float64, len(rows))
		for i := range pprob {
			pprob[i] = (1 - lfdrGam[i]) * lfdrB[i]
		}
		weighted := mat.NewDense(len(rows), n, nil)
		for i := range rows {
			row := weighted.RawRowView(i)
			mean := 0.0
			for j := range row {
				row[j] = y.At(i, j) * pprob[i]
				mean += row[j]
			}
			mean /= float64(n)
			for j := range row {
				row[j] -= mean
			}
		}
		vecs, err = topRightSingular(weighted, nSV)
		if err != nil {
			return nil, err
		}
		log.Debugf("sva: iteration %d done", iter+1)
	}
	for i := range res.PProb {
		res.PProb[i] = math.NaN()
	}
	for k, i := range rows {
		res.PProb[i] = pprob[k]
	}
	res.SV = vecs
	return res, nil
}

// hat returns the n x n projection onto the column space of x.
func hat(x *mat.Dense) (*mat.Dense, error) {
	var xtx mat.Dense
	xtx.Mul(x.T(), x)
	var b mat.Dense
	if err := b.Solve(&xtx, x.T()); err != nil {
		return nil, fmt.Errorf("model matrix is singular: %w", err)
	}
	var h mat.Dense
	h.Mul(x, &b)
	return &h, nil
}

// residuals returns y (features x samples) minus its projection on
// the sample-space model x.
func residuals(y, x *mat.Dense) (*mat.Dense, error) {
	h, err := hat(x)
	if err != nil {
		return nil, err
	}
	var fitted mat.Dense
	fitted.Mul(y, h)
	var resid mat.Dense
	resid.Sub(y, &fitted)
	return &resid, nil
}

func topRightSingular(x *mat.Dense, k int) (*mat.Dense, error) {
	var svd mat.SVD
	if !svd.Factorize(x, mat.SVDThinV) {
		return nil, fmt.Errorf("SVD failed")
	}
	var v mat.Dense
	svd.VTo(&v)
	n, _ := v.Dims()
	return mat.DenseCopyOf(v.Slice(0, n, 0, k)), nil
}

func cbind(a, b *mat.Dense) *mat.Dense {
	n, p := a.Dims()
	_, q := b.Dims()
	out := mat.NewDense(n, p+q, nil)
	out.Slice(0, n, 0, p).(*mat.Dense).Copy(a)
	out.Slice(0, n, p, p+q).(*mat.Dense).Copy(b)
	return out
}

// FPValues returns, for each feature (row of y), the p-value of the
// F test comparing the nested models mod0 and mod.
func FPValues(y, mod, mod0 *mat.Dense) ([]float64, error) {
	m, n := y.Dims()
	_, df1 := mod.Dims()
	_, df0 := mod0.Dims()
	if df1 <= df0 || n <= df1 {
		return nil, fmt.Errorf("cannot compare models with %d and %d terms on %d samples", df1, df0, n)
	}
	r1, err := residuals(y, mod)
	if err != nil {
		return nil, err
	}
	r0, err := residuals(y, mod0)
	if err != nil {
		return nil, err
	}
	f := distuv.F{D1: float64(df1 - df0), D2: float64(n - df1)}
	p := make([]float64, m)
	for i := range p {
		rss1 := sumsq(r1.RawRowView(i))
		rss0 := sumsq(r0.RawRowView(i))
		stat := ((rss0 - rss1) / float64(df1-df0)) / (rss1 / float64(n-df1))
		if rss1 == 0 || math.IsNaN(stat) {
			p[i] = math.NaN()
			continue
		}
		p[i] = f.Survival(math.Max(stat, 0))
	}
	return p, nil
}

func sumsq(x []float64) float64 {
	s := 0.0
	for _, v := range x {
		s += v * v
	}
	return s
}

// LocalFDR returns the local false discovery rate of each p-value:
// pi0 * f0(x) / f(x) on the probit scale, with pi0 estimated at
// lambda and f estimated by a Gaussian kernel density (bandwidth
// scaled by adjust). The result is truncated at 1 and made monotone
// in p. NaN p-values are treated as 1.
func LocalFDR(p []float64, lambda, adjust float64) []float64 {
	const eps = 1e-8
	n := len(p)
	if n == 0 {
		return nil
	}
	above := 0
	x := make([]float64, n)
	for i, v := range p {
		if math.IsNaN(v) {
			v = 1
		}
		if v >= lambda {
			above++
		}
		v = math.Min(math.Max(v, eps), 1-eps)
		x[i] = distuv.UnitNormal.Quantile(v)
	}
	pi0 := math.Min(1, float64(above)/float64(n)/(1-lambda))
	gx, gy := expr.Density(x, 512, adjust)
	lfdr := make([]float64, n)
	for i, xi := range x {
		dens := interp(gx, gy, xi)
		if dens <= 0 {
			lfdr[i] = 1
			continue
		}
		lfdr[i] = math.Min(1, pi0*distuv.UnitNormal.Prob(xi)/dens)
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return x[order[a]] < x[order[b]] })
	running := 0.0
	for _, i := range order {
		running = math.Max(running, lfdr[i])
		lfdr[i] = running
	}
	return lfdr
}

func interp(xs, ys []float64, x float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	if x <= xs[0] {
		return ys[0]
	}
	if x >= xs[len(xs)-1] {
		return ys[len(ys)-1]
	}
	i := sort.SearchFloat64s(xs, x)
	x0, x1 := xs[i-1], xs[i]
	return ys[i-1] + (ys[i]-ys[i-1])*(x-x0)/(x1-x0)
}
