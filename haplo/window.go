// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package haplo

import (
	"fmt"
	"math"

	"github.com/arvados/bioassoc/genotype"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

type WindowOptions struct {
	// Window widths, in loci (default 1..min(4, loci)).
	Widths []int
	// Outcome permutations used to assess the best window
	// (default 1000).
	Permutations int
	Seed         uint64
	RareFreq     float64
	EM           EMOptions
}

// Window is the haplotype score test for one run of consecutive
// loci. P is the asymptotic p-value, for display only.
type Window struct {
	Start int
	Width int
	Loci  []string
	Stat  float64
	DF    int
	P     float64
}

type WindowResult struct {
	Windows []Window
	Best    Window
	// Probability, under outcome permutation, of a best window at
	// least as significant as the observed best window.
	SimP         float64
	Permutations int
}

// windowDesign holds expected haplotype dosages for one window.
type windowDesign struct {
	x    *mat.Dense // subjects x haplotypes, rows for usable subjects
	rows []int      // subject indices
}

// SlidingWindow runs the haplotype score test over every window of
// each requested width, and assesses the most significant window by
// permuting the outcome, since the search over windows invalidates
// the asymptotic p-values.
func SlidingWindow(snps []*genotype.SNP, outcome []float64, opts WindowOptions) (*WindowResult, error) {
	if opts.Permutations <= 0 {
		opts.Permutations = 1000
	}
	if opts.RareFreq <= 0 {
		opts.RareFreq = 0.01
	}
	if len(opts.Widths) == 0 {
		for w := 1; w <= 4 && w <= len(snps); w++ {
			opts.Widths = append(opts.Widths, w)
		}
	}
	var windows []Window
	var designs []windowDesign
	for _, width := range opts.Widths {
		if width < 1 || width > len(snps) {
			return nil, fmt.Errorf("window width %d out of range 1..%d", width, len(snps))
		}
		for start := 0; start+width <= len(snps); start++ {
			em, err := EM(snps[start:start+width], opts.EM)
			if err != nil {
				return nil, fmt.Errorf("window %d+%d: %w", start, width, err)
			}
			wd := dosageDesign(em, outcome, opts.RareFreq)
			win := Window{Start: start, Width: width, Loci: em.Loci}
			win.Stat, win.DF = scoreStat(wd, outcome)
			win.P = chiSquareP(win.Stat, win.DF)
			windows = append(windows, win)
			designs = append(designs, wd)
		}
	}
	res := &WindowResult{Windows: windows, Permutations: opts.Permutations}
	bestIdx := 0
	for i, w := range windows {
		if w.P < windows[bestIdx].P {
			bestIdx = i
		}
	}
	res.Best = windows[bestIdx]

	var called []int
	for i, y := range outcome {
		if !math.IsNaN(y) {
			called = append(called, i)
		}
	}
	perm := append([]float64(nil), outcome...)
	rnd := rand.New(rand.NewSource(opts.Seed))
	hits := 0
	for b := 0; b < opts.Permutations; b++ {
		rnd.Shuffle(len(called), func(i, j int) {
			a, c := called[i], called[j]
			perm[a], perm[c] = perm[c], perm[a]
		})
		minP := 1.0
		for _, wd := range designs {
			stat, df := scoreStat(wd, perm)
			if p := chiSquareP(stat, df); p < minP {
				minP = p
			}
		}
		if minP <= res.Best.P*(1+1e-9) {
			hits++
		}
	}
	res.SimP = float64(1+hits) / float64(opts.Permutations+1)
	log.Infof("sliding window: %d windows, best %v (p=%g), simulated p=%g", len(windows), res.Best.Loci, res.Best.P, res.SimP)
	return res, nil
}

func chiSquareP(stat float64, df int) float64 {
	if df < 1 || math.IsNaN(stat) {
		return 1
	}
	return distuv.ChiSquared{K: float64(df)}.Survival(stat)
}

// dosageDesign returns expected haplotype dosages (non-rare
// haplotypes other than the most frequent, plus pooled rare) for
// subjects with data and a non-missing outcome.
func dosageDesign(em *EMResult, outcome []float64, rareFreq float64) windowDesign {
	var cols [][]float64
	var rareCol []float64
	for k, h := range em.Haplotypes {
		if k == 0 {
			continue
		}
		ec := em.ExpectedCount(h)
		if em.Freqs[k] >= rareFreq {
			cols = append(cols, ec)
			continue
		}
		if rareCol == nil {
			rareCol = make([]float64, len(ec))
		}
		for i, v := range ec {
			rareCol[i] += v
		}
	}
	if rareCol != nil {
		cols = append(cols, rareCol)
	}
	var wd windowDesign
	for i, ds := range em.Subjects {
		if len(ds) > 0 && !math.IsNaN(outcome[i]) {
			wd.rows = append(wd.rows, i)
		}
	}
	if len(cols) == 0 || len(wd.rows) == 0 {
		return wd
	}
	wd.x = mat.NewDense(len(wd.rows), len(cols), nil)
	for r, i := range wd.rows {
		for k, col := range cols {
			wd.x.Set(r, k, col[i])
		}
	}
	return wd
}

// scoreStat returns the score statistic U' V^- U for the logistic
// model with haplotype dosages, under the null of no association,
// and its degrees of freedom (rank of V).
func scoreStat(wd windowDesign, outcome []float64) (float64, int) {
	if wd.x == nil {
		return 0, 0
	}
	n, k := wd.x.Dims()
	ybar := 0.0
	for _, i := range wd.rows {
		ybar += outcome[i]
	}
	ybar /= float64(n)
	if ybar == 0 || ybar == 1 {
		return 0, 0
	}
	means := make([]float64, k)
	for j := range means {
		for r := 0; r < n; r++ {
			means[j] += wd.x.At(r, j)
		}
		means[j] /= float64(n)
	}
	u := mat.NewVecDense(k, nil)
	v := mat.NewSymDense(k, nil)
	xc := make([]float64, k)
	for r, i := range wd.rows {
		resid := outcome[i] - ybar
		for j := range xc {
			xc[j] = wd.x.At(r, j) - means[j]
			u.SetVec(j, u.AtVec(j)+resid*xc[j])
		}
		for a := 0; a < k; a++ {
			for b := a; b < k; b++ {
				v.SetSym(a, b, v.At(a, b)+xc[a]*xc[b])
			}
		}
	}
	v.ScaleSym(ybar*(1-ybar), v)
	return pinvQuadForm(v, u)
}

// pinvQuadForm returns u' V^+ u using the eigendecomposition of V,
// and the numerical rank of V.
func pinvQuadForm(v *mat.SymDense, u *mat.VecDense) (float64, int) {
	var eig mat.EigenSym
	if !eig.Factorize(v, true) {
		return math.NaN(), 0
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	maxv := 0.0
	for _, l := range vals {
		maxv = math.Max(maxv, l)
	}
	stat, rank := 0.0, 0
	for j, l := range vals {
		if l <= maxv*1e-8 {
			continue
		}
		rank++
		proj := mat.Dot(vecs.ColView(j), u)
		stat += proj * proj / l
	}
	return stat, rank
}
