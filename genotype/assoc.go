// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package genotype

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/arvados/bioassoc/logistic"
	"golang.org/x/exp/rand"
)

// ModelResult is the logistic regression of outcome on one SNP under
// one inheritance model.
type ModelResult struct {
	Model  Model
	Labels []string
	OR     []float64
	Lower  []float64
	Upper  []float64
	DF     int
	P      float64
	AIC    float64
}

// Association holds every model's result for one SNP. Best and MinP
// are the model with the smallest likelihood ratio test p-value,
// adjusted for covariates.
//
// MaxStatP is the permutation corrected p-value for selecting the
// minimum over models. It is computed from contingency tables
// without covariates, so MaxStatModel (the model with the smallest
// table p-value, MaxStatMinP) can differ from Best when covariates
// are used.
type Association struct {
	SNP          string
	N            int
	Results      []ModelResult
	Best         Model
	MinP         float64
	MaxStatModel Model
	MaxStatMinP  float64
	MaxStatP     float64
	Permutations int
}

type AssocOptions struct {
	// Numeric covariates (one slice per covariate, aligned with
	// samples) included in every model.
	Covariates     [][]float64
	CovariateNames []string
	// Outcome permutations used to correct the minimum p-value
	// (default 1000).
	Permutations int
	Seed         uint64
}

// Associate fits the null model (covariates only) and one model per
// inheritance model on the samples with complete data, and computes
// the max-statistic correction for the best model.
func Associate(snp *SNP, outcome []float64, opts AssocOptions) (*Association, error) {
	if len(outcome) != len(snp.Counts) {
		return nil, fmt.Errorf("%s: %d outcomes for %d samples", snp.ID, len(outcome), len(snp.Counts))
	}
	if len(opts.Covariates) != len(opts.CovariateNames) {
		return nil, fmt.Errorf("%d covariates, %d names", len(opts.Covariates), len(opts.CovariateNames))
	}
	var rows []int
	for i, y := range outcome {
		if math.IsNaN(y) || snp.Counts[i] == Missing {
			continue
		}
		ok := true
		for _, cov := range opts.Covariates {
			if math.IsNaN(cov[i]) {
				ok = false
				break
			}
		}
		if ok {
			rows = append(rows, i)
		}
	}
	sub := func(x []float64) []float64 {
		out := make([]float64, len(rows))
		for r, i := range rows {
			out[r] = x[i]
		}
		return out
	}
	y := sub(outcome)
	var covs [][]float64
	for _, cov := range opts.Covariates {
		covs = append(covs, sub(cov))
	}
	null, err := logistic.Fit(y, covs, opts.CovariateNames, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: null model: %w", snp.ID, err)
	}
	assoc := &Association{SNP: snp.ID, N: len(rows), MinP: math.NaN()}
	for _, m := range Models {
		cols, labels := m.Code(snp)
		res := ModelResult{Model: m, Labels: labels, P: math.NaN(), AIC: math.NaN(), DF: len(cols)}
		res.OR = nanSlice(len(cols))
		res.Lower = nanSlice(len(cols))
		res.Upper = nanSlice(len(cols))
		predictors := append([][]float64(nil), covs...)
		names := append([]string(nil), opts.CovariateNames...)
		for k, col := range cols {
			predictors = append(predictors, sub(col))
			names = append(names, labels[k])
		}
		full, err := logistic.Fit(y, predictors, names, nil)
		if errors.Is(err, logistic.ErrDegenerate) || errors.Is(err, logistic.ErrSingular) {
			assoc.Results = append(assoc.Results, res)
			continue
		} else if err != nil {
			return nil, fmt.Errorf("%s: %s model: %w", snp.ID, m, err)
		}
		_, df, p, err := logistic.LRT(null, full)
		if err != nil {
			return nil, err
		}
		res.DF, res.P, res.AIC = df, p, full.AIC()
		for k, label := range labels {
			res.OR[k], res.Lower[k], res.Upper[k], _ = full.OddsRatio(label)
		}
		assoc.Results = append(assoc.Results, res)
		if math.IsNaN(assoc.MinP) || p < assoc.MinP {
			assoc.MinP = p
			assoc.Best = m
		}
	}
	if opts.Permutations <= 0 {
		opts.Permutations = 1000
	}
	counts := make([]int8, len(rows))
	for r, i := range rows {
		counts[r] = snp.Counts[i]
	}
	assoc.MaxStatModel, assoc.MaxStatMinP, assoc.MaxStatP = maxStat(counts, y, opts.Permutations, opts.Seed)
	assoc.Permutations = opts.Permutations
	return assoc, nil
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// MaxStat returns the minimum over inheritance models of the
// contingency-table test p-values for snp, and that minimum's
// p-value under the permutation distribution of outcome labels:
// (1 + #{permuted min <= observed min}) / (permutations + 1).
func MaxStat(snp *SNP, outcome []float64, permutations int, seed uint64) (minP, corrected float64) {
	var counts []int8
	var y []float64
	for i, v := range outcome {
		if math.IsNaN(v) || snp.Counts[i] == Missing {
			continue
		}
		counts = append(counts, snp.Counts[i])
		y = append(y, v)
	}
	_, minP, corrected = maxStat(counts, y, permutations, seed)
	return minP, corrected
}

func maxStat(counts []int8, y []float64, permutations int, seed uint64) (Model, float64, float64) {
	isCase := make([]bool, len(y))
	for i, v := range y {
		isCase[i] = v == 1
	}
	tabulate := func() *table2x3 {
		var t table2x3
		for i, n := range counts {
			t.add(n, isCase[i])
		}
		return &t
	}
	best, observed := tabulate().bestP()
	rnd := rand.New(rand.NewSource(seed))
	hits := 0
	for b := 0; b < permutations; b++ {
		rnd.Shuffle(len(isCase), func(i, j int) { isCase[i], isCase[j] = isCase[j], isCase[i] })
		if tabulate().minP() <= observed*(1+1e-9) {
			hits++
		}
	}
	return best, observed, float64(1+hits) / float64(permutations+1)
}

// WriteAssociations writes one row per SNP and model.
func WriteAssociations(w io.Writer, assocs []*Association) error {
	bufw := bufio.NewWriter(w)
	fmt.Fprint(bufw, "SNP\tN\tmodel\tgroup\tOR\tlower\tupper\tdf\tp.value\tAIC\tbest\tmin.p\tmaxstat.p\tmaxstat.model\tmaxstat.min.p\n")
	for _, a := range assocs {
		for _, r := range a.Results {
			best := ""
			if r.Model == a.Best && !math.IsNaN(a.MinP) {
				best = "*"
			}
			var or, lo, hi []string
			for k := range r.Labels {
				or = append(or, fmt.Sprintf("%.3f", r.OR[k]))
				lo = append(lo, fmt.Sprintf("%.3f", r.Lower[k]))
				hi = append(hi, fmt.Sprintf("%.3f", r.Upper[k]))
			}
			fmt.Fprintf(bufw, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t%d\t%g\t%.2f\t%s\t%g\t%g\t%s\t%g\n",
				a.SNP, a.N, r.Model, strings.Join(r.Labels, ","), strings.Join(or, ","), strings.Join(lo, ","), strings.Join(hi, ","),
				r.DF, r.P, r.AIC, best, a.MinP, a.MaxStatP, a.MaxStatModel, a.MaxStatMinP)
		}
	}
	return bufw.Flush()
}
