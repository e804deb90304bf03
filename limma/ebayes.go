// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package limma

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/mathext"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

type EBayesOptions struct {
	// Assumed proportion of differentially expressed features,
	// used for the B statistic (default 0.01).
	Proportion float64
	// Limits on the prior standard deviation of nonzero
	// coefficients, relative to sigma (default 0.1, 4).
	StdevCoefLim [2]float64
}

func (opts EBayesOptions) withDefaults() EBayesOptions {
	if opts.Proportion <= 0 || opts.Proportion >= 1 {
		opts.Proportion = 0.01
	}
	if opts.StdevCoefLim == [2]float64{} {
		opts.StdevCoefLim = [2]float64{0.1, 4}
	}
	return opts
}

// Moderated statistics for a Fit, features x coefs where applicable.
type Moderated struct {
	DFPrior  float64
	S2Prior  float64
	S2Post   []float64
	DFTotal  []float64
	T        *mat.Dense
	P        *mat.Dense
	Lods     *mat.Dense
	VarPrior []float64
	F        []float64
	FPValue  []float64
}

// EBayes returns a copy of fit with moderated t statistics, p-values
// and log-odds (B statistics), computed by shrinking the feature-wise
// residual variances towards a common prior fitted by moments to the
// scaled F distribution of the sample variances.
func EBayes(fit *Fit, opts EBayesOptions) (*Fit, error) {
	opts = opts.withDefaults()
	nfeat, ncoef := fit.Coefficients.Dims()
	s2 := make([]float64, nfeat)
	for i, s := range fit.Sigma {
		s2[i] = s * s
	}
	d0, s20, err := fitFDist(s2, fit.DFResidual)
	if err != nil {
		return nil, err
	}
	mod := &Moderated{
		DFPrior: d0,
		S2Prior: s20,
		S2Post:  make([]float64, nfeat),
		DFTotal: make([]float64, nfeat),
		T:       mat.NewDense(nfeat, ncoef, nil),
		P:       mat.NewDense(nfeat, ncoef, nil),
		Lods:    mat.NewDense(nfeat, ncoef, nil),
	}
	pooled := 0.0
	for _, df := range fit.DFResidual {
		if df > 0 {
			pooled += df
		}
	}
	for i := 0; i < nfeat; i++ {
		df := fit.DFResidual[i]
		switch {
		case math.IsNaN(s2[i]) || df == 0:
			mod.S2Post[i] = s20
		case math.IsInf(d0, 1):
			mod.S2Post[i] = s20
		default:
			mod.S2Post[i] = (df*s2[i] + d0*s20) / (df + d0)
		}
		mod.DFTotal[i] = math.Min(df+d0, pooled)
		for j := 0; j < ncoef; j++ {
			t := fit.Coefficients.At(i, j) / fit.StdevUnscaled.At(i, j) / math.Sqrt(mod.S2Post[i])
			mod.T.Set(i, j, t)
			if math.IsNaN(t) {
				mod.P.Set(i, j, math.NaN())
				continue
			}
			mod.P.Set(i, j, 2*studentsT(mod.DFTotal[i]).Survival(math.Abs(t)))
		}
	}

	// B statistic
	varPriorLim := [2]float64{
		opts.StdevCoefLim[0] * opts.StdevCoefLim[0] / s20,
		opts.StdevCoefLim[1] * opts.StdevCoefLim[1] / s20,
	}
	mod.VarPrior = make([]float64, ncoef)
	for j := 0; j < ncoef; j++ {
		v0 := tmixture(mat.Col(nil, j, mod.T), mat.Col(nil, j, fit.StdevUnscaled), mod.DFTotal, opts.Proportion, varPriorLim)
		if math.IsNaN(v0) {
			v0 = 1 / s20
		}
		mod.VarPrior[j] = v0
	}
	logit := math.Log(opts.Proportion / (1 - opts.Proportion))
	for i := 0; i < nfeat; i++ {
		dft := mod.DFTotal[i]
		for j := 0; j < ncoef; j++ {
			su2 := fit.StdevUnscaled.At(i, j)
			su2 *= su2
			r := (su2 + mod.VarPrior[j]) / su2
			t2 := mod.T.At(i, j)
			t2 *= t2
			var kernel float64
			if d0 > 1e6 || math.IsInf(dft, 1) {
				kernel = t2 * (1 - 1/r) / 2
			} else {
				kernel = (1 + dft) / 2 * math.Log((t2+dft)/(t2/r+dft))
			}
			mod.Lods.Set(i, j, logit-math.Log(r)/2+kernel)
		}
	}
	if ncoef > 1 {
		mod.F, mod.FPValue = moderatedF(fit, mod)
	}

	out := *fit
	out.Moderated = mod
	return &out, nil
}

func studentsT(df float64) distuv.StudentsT {
	if math.IsInf(df, 1) || df > 1e6 {
		df = 1e6
	}
	return distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
}

// fitFDist estimates the scale s20 and degrees of freedom d0 of the
// scaled F distribution of the variances x, each with df1 degrees of
// freedom, by matching moments of log(x).
func fitFDist(x, df1 []float64) (d0, s20 float64, err error) {
	var vals, dfs []float64
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) || df1[i] <= 0 || v < -1e-15 {
			continue
		}
		vals = append(vals, math.Max(v, 0))
		dfs = append(dfs, df1[i])
	}
	n := len(vals)
	if n == 0 {
		return 0, 0, fmt.Errorf("no features with residual degrees of freedom")
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	med := sorted[n/2]
	if n%2 == 0 {
		med = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	if med == 0 {
		med = 1
	}
	e := make([]float64, n)
	meanTri := 0.0
	for i, v := range vals {
		v = math.Max(v, 1e-5*med)
		h := dfs[i] / 2
		e[i] = math.Log(v) - mathext.Digamma(h) + math.Log(h)
		meanTri += trigamma(h) / float64(n)
	}
	emean := stat.Mean(e, nil)
	if n == 1 {
		return 0, math.Exp(emean), nil
	}
	evar := 0.0
	for _, v := range e {
		evar += (v - emean) * (v - emean)
	}
	evar = evar/float64(n-1) - meanTri
	if evar > 0 {
		d0 = 2 * trigammaInverse(evar)
		s20 = math.Exp(emean + mathext.Digamma(d0/2) - math.Log(d0/2))
	} else {
		d0 = math.Inf(1)
		s20 = math.Exp(emean)
	}
	return d0, s20, nil
}

// tmixture estimates the prior variance of nonzero coefficients from
// the largest |t| statistics.
func tmixture(t, stdevUnscaled, df []float64, proportion float64, lim [2]float64) float64 {
	var ts, su, dfs []float64
	for i, v := range t {
		if math.IsNaN(v) || math.IsNaN(stdevUnscaled[i]) {
			continue
		}
		ts = append(ts, math.Abs(v))
		su = append(su, stdevUnscaled[i])
		dfs = append(dfs, df[i])
	}
	ngenes := len(ts)
	ntarget := int(math.Ceil(proportion / 2 * float64(ngenes)))
	if ntarget < 1 {
		return math.NaN()
	}
	p := math.Max(float64(ntarget)/float64(ngenes), proportion)
	maxdf := 0.0
	for _, d := range dfs {
		maxdf = math.Max(maxdf, d)
	}
	tmax := studentsT(maxdf)
	for i := range ts {
		if dfs[i] < maxdf {
			tail := studentsT(dfs[i]).Survival(ts[i])
			if tail > 0 {
				ts[i] = tmax.Quantile(1 - tail)
			}
		}
	}
	order := make([]int, ngenes)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return ts[order[a]] > ts[order[b]] })
	v0sum := 0.0
	for r := 0; r < ntarget; r++ {
		i := order[r]
		v1 := su[i] * su[i]
		p0 := 2 * tmax.Survival(ts[i])
		ptarget := ((float64(r+1)-0.5)/float64(ngenes) - (1-p)*p0) / p
		v0 := 0.0
		if ptarget > p0 {
			qtarget := tmax.Quantile(1 - ptarget/2)
			v0 = v1 * ((ts[i]/qtarget)*(ts[i]/qtarget) - 1)
		}
		v0sum += math.Min(math.Max(v0, lim[0]), lim[1])
	}
	return v0sum / float64(ntarget)
}

// moderatedF returns the moderated F statistic testing all
// coefficients equal to zero, and its p-value, per feature.
func moderatedF(fit *Fit, mod *Moderated) ([]float64, []float64) {
	nfeat, ncoef := fit.Coefficients.Dims()
	f := make([]float64, nfeat)
	pv := make([]float64, nfeat)
	for i := 0; i < nfeat; i++ {
		cov := fit.cov[i]
		if cov == nil {
			f[i], pv[i] = math.NaN(), math.NaN()
			continue
		}
		var inv mat.Dense
		if err := inv.Inverse(cov); err != nil {
			f[i], pv[i] = math.NaN(), math.NaN()
			continue
		}
		beta := mat.NewVecDense(ncoef, mat.Row(nil, i, fit.Coefficients))
		var tmp mat.VecDense
		tmp.MulVec(&inv, beta)
		f[i] = mat.Dot(beta, &tmp) / float64(ncoef) / mod.S2Post[i]
		d2 := mod.DFTotal[i]
		if d2 > 1e6 || math.IsInf(d2, 1) {
			pv[i] = distuv.ChiSquared{K: float64(ncoef)}.Survival(f[i] * float64(ncoef))
		} else {
			pv[i] = distuv.F{D1: float64(ncoef), D2: d2}.Survival(f[i])
		}
	}
	return f, pv
}
