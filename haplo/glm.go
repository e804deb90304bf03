// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package haplo

import (
	"fmt"
	"math"

	"github.com/arvados/bioassoc/logistic"
)

const RareLabel = "rare"

type GLMOptions struct {
	// Haplotypes with estimated frequency below RareFreq are
	// pooled into one "rare" term (default 0.01).
	RareFreq float64
	// Numeric covariates aligned with subjects.
	Covariates     [][]float64
	CovariateNames []string
}

// HaplotypeEffect is the odds ratio of one additional copy of a
// haplotype relative to the base haplotype.
type HaplotypeEffect struct {
	Haplotype string
	Freq      float64
	OR        float64
	Lower     float64
	Upper     float64
	P         float64
}

type GLMResult struct {
	Base     string
	BaseFreq float64
	Effects  []HaplotypeEffect
	// Global likelihood ratio test of all haplotype terms.
	Stat float64
	DF   int
	P    float64
	// Subjects with outcome, covariates and at least one called
	// locus.
	N int
}

// GLM regresses outcome on additive haplotype dosages, expanding each
// subject into one row per compatible diplotype weighted by its
// posterior probability. The most frequent haplotype is the base.
func GLM(em *EMResult, outcome []float64, opts GLMOptions) (*GLMResult, error) {
	if opts.RareFreq <= 0 {
		opts.RareFreq = 0.01
	}
	if len(outcome) != len(em.Subjects) {
		return nil, fmt.Errorf("%d outcomes for %d subjects", len(outcome), len(em.Subjects))
	}
	if len(opts.Covariates) != len(opts.CovariateNames) {
		return nil, fmt.Errorf("%d covariates, %d names", len(opts.Covariates), len(opts.CovariateNames))
	}
	if len(em.Haplotypes) < 2 {
		return nil, fmt.Errorf("only %d haplotype(s) observed", len(em.Haplotypes))
	}
	base := em.Haplotypes[0]
	var terms []Haplotype
	rare := map[Haplotype]bool{}
	for k, h := range em.Haplotypes[1:] {
		if em.Freqs[k+1] >= opts.RareFreq {
			terms = append(terms, h)
		} else {
			rare[h] = true
		}
	}
	result := &GLMResult{Base: em.String(base), BaseFreq: em.Freqs[0]}
	var names []string
	for _, h := range terms {
		names = append(names, em.String(h))
		result.Effects = append(result.Effects, HaplotypeEffect{Haplotype: em.String(h), Freq: em.Freq(h)})
	}
	if len(rare) > 0 {
		rareFreq := 0.0
		for h := range rare {
			rareFreq += em.Freq(h)
		}
		names = append(names, RareLabel)
		result.Effects = append(result.Effects, HaplotypeEffect{Haplotype: RareLabel, Freq: rareFreq})
	}

	var y, w []float64
	cov := make([][]float64, len(opts.Covariates))
	dose := make([][]float64, len(names))
	for i, ds := range em.Subjects {
		if len(ds) == 0 || math.IsNaN(outcome[i]) {
			continue
		}
		ok := true
		for _, c := range opts.Covariates {
			if math.IsNaN(c[i]) {
				ok = false
			}
		}
		if !ok {
			continue
		}
		result.N++
		for _, d := range ds {
			y = append(y, outcome[i])
			w = append(w, d.Post)
			for k, c := range opts.Covariates {
				cov[k] = append(cov[k], c[i])
			}
			for k, h := range terms {
				dose[k] = append(dose[k], d.Count(h))
			}
			if len(rare) > 0 {
				n := 0.0
				if rare[d.H1] {
					n++
				}
				if rare[d.H2] {
					n++
				}
				dose[len(terms)] = append(dose[len(terms)], n)
			}
		}
	}
	null, err := logistic.Fit(y, cov, opts.CovariateNames, w)
	if err != nil {
		return nil, fmt.Errorf("null model: %w", err)
	}
	full, err := logistic.Fit(y, append(append([][]float64(nil), cov...), dose...), append(append([]string(nil), opts.CovariateNames...), names...), w)
	if err != nil {
		return nil, fmt.Errorf("haplotype model: %w", err)
	}
	result.Stat, result.DF, result.P, err = logistic.LRT(null, full)
	if err != nil {
		return nil, err
	}
	for k, name := range names {
		eff := &result.Effects[k]
		eff.OR, eff.Lower, eff.Upper, _ = full.OddsRatio(name)
		eff.P, _ = full.WaldP(name)
	}
	return result, nil
}
