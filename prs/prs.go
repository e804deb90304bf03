// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package prs builds an unweighted polygenic risk score from SNPs
// selected by univariate screening and forward stepwise regression,
// and evaluates its association and discrimination.
package prs

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/arvados/bioassoc/genotype"
	"github.com/arvados/bioassoc/logistic"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// ScoreName is the predictor name of the score in the association
// model.
const ScoreName = "score"

type Options struct {
	// SNPs whose log-additive p-value is below ScreenP enter
	// stepwise selection (default 0.1).
	ScreenP float64
	// Upper limit on selected SNPs (0 means no limit).
	MaxSNPs int
}

// Candidate is a SNP recoded to risk allele dosage.
type Candidate struct {
	SNP        string
	RiskAllele string
	// Univariate log-additive odds ratio per risk allele, and its
	// LRT p-value.
	OR     float64
	P      float64
	dosage []float64
}

// Step records the model after each forward selection step.
type Step struct {
	Added string
	AIC   float64
}

// ROC is a receiver operating characteristic curve with FPR
// non-decreasing.
type ROC struct {
	FPR       []float64
	TPR       []float64
	Threshold []float64
	AUC       float64
}

type Result struct {
	Candidates []Candidate
	Steps      []Step
	Selected   []Candidate
	// Score per sample, NaN where a selected SNP is missing.
	Score []float64
	// Association of the score with outcome: odds ratio per risk
	// allele with 95% CI, and LRT p-value.
	OR, Lower, Upper float64
	P                float64
	N                int
	ROC              ROC
}

// Screen fits the log-additive model for each SNP and returns the
// SNPs with p < threshold recoded so that the counted allele is the
// one with OR > 1.
func Screen(snps []*genotype.SNP, outcome []float64, threshold float64) ([]Candidate, error) {
	var out []Candidate
	for _, snp := range snps {
		if len(snp.Counts) != len(outcome) {
			return nil, fmt.Errorf("%s: %d samples, %d outcomes", snp.ID, len(snp.Counts), len(outcome))
		}
		dose := snp.Dosage()
		var y, x []float64
		for i, d := range dose {
			if math.IsNaN(d) || math.IsNaN(outcome[i]) {
				continue
			}
			y = append(y, outcome[i])
			x = append(x, d)
		}
		null, err := logistic.Fit(y, nil, nil, nil)
		if errors.Is(err, logistic.ErrDegenerate) {
			continue
		} else if err != nil {
			return nil, fmt.Errorf("%s: %w", snp.ID, err)
		}
		full, err := logistic.Fit(y, [][]float64{x}, []string{snp.ID}, nil)
		if errors.Is(err, logistic.ErrDegenerate) || errors.Is(err, logistic.ErrSingular) {
			log.Debugf("prs screen: %s: %s", snp.ID, err)
			continue
		} else if err != nil {
			return nil, fmt.Errorf("%s: %w", snp.ID, err)
		}
		_, _, p, err := logistic.LRT(null, full)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", snp.ID, err)
		}
		if !(p < threshold) {
			continue
		}
		or, _, _, _ := full.OddsRatio(snp.ID)
		cand := Candidate{SNP: snp.ID, RiskAllele: snp.Alleles[1], OR: or, P: p, dosage: dose}
		if or < 1 {
			cand.RiskAllele = snp.Alleles[0]
			cand.OR = 1 / or
			cand.dosage = make([]float64, len(dose))
			for i, d := range dose {
				cand.dosage[i] = 2 - d
			}
		}
		out = append(out, cand)
	}
	return out, nil
}

// Dosage returns the number of risk alleles per sample (NaN if
// missing).
func (c *Candidate) Dosage() []float64 { return c.dosage }

// Forward performs forward stepwise selection by AIC among the
// candidates, using the samples with outcome and every candidate
// called. It stops when no addition lowers AIC.
func Forward(cands []Candidate, outcome []float64, maxSNPs int) ([]Candidate, []Step, error) {
	var rows []int
	for i, y := range outcome {
		if math.IsNaN(y) {
			continue
		}
		ok := true
		for _, c := range cands {
			if math.IsNaN(c.dosage[i]) {
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
	current, err := logistic.Fit(y, nil, nil, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("intercept-only model on %d complete cases: %w", len(rows), err)
	}
	log.Infof("prs: stepwise selection among %d candidates on %d complete cases", len(cands), len(rows))
	var selected []Candidate
	var steps []Step
	var predictors [][]float64
	var names []string
	used := make([]bool, len(cands))
	for maxSNPs <= 0 || len(selected) < maxSNPs {
		best, bestAIC := -1, current.AIC()
		var bestModel *logistic.Model
		for k, c := range cands {
			if used[k] {
				continue
			}
			m, err := logistic.Fit(y, append(predictors, sub(c.dosage)), append(names, c.SNP), nil)
			if errors.Is(err, logistic.ErrDegenerate) || errors.Is(err, logistic.ErrSingular) {
				continue
			} else if err != nil {
				return nil, nil, err
			}
			if aic := m.AIC(); aic < bestAIC {
				best, bestAIC, bestModel = k, aic, m
			}
		}
		if best < 0 {
			break
		}
		used[best] = true
		selected = append(selected, cands[best])
		predictors = append(predictors, sub(cands[best].dosage))
		names = append(names, cands[best].SNP)
		current = bestModel
		steps = append(steps, Step{Added: cands[best].SNP, AIC: bestAIC})
		log.Debugf("prs: added %s, AIC %.3f", cands[best].SNP, bestAIC)
	}
	return selected, steps, nil
}

// Score returns the unweighted sum of risk allele dosages.
func Score(selected []Candidate, n int) []float64 {
	score := make([]float64, n)
	for _, c := range selected {
		for i, d := range c.dosage {
			score[i] += d
		}
	}
	return score
}

// NewROC computes the ROC curve of score as a classifier of outcome
// (1 = case) and its area by the trapezoidal rule. Samples with NaN
// score or outcome are ignored.
func NewROC(score, outcome []float64) (ROC, error) {
	var y []float64
	var classes []bool
	for i, s := range score {
		if math.IsNaN(s) || math.IsNaN(outcome[i]) {
			continue
		}
		y = append(y, s)
		classes = append(classes, outcome[i] == 1)
	}
	ncase := 0
	for _, c := range classes {
		if c {
			ncase++
		}
	}
	if ncase == 0 || ncase == len(classes) {
		return ROC{}, fmt.Errorf("ROC needs both cases and controls (%d of %d are cases)", ncase, len(classes))
	}
	stat.SortWeightedLabeled(y, classes, nil)
	tpr, fpr, thresh := stat.ROC(nil, y, classes, nil)
	return ROC{FPR: fpr, TPR: tpr, Threshold: thresh, AUC: integrate.Trapezoidal(fpr, tpr)}, nil
}

// Build runs screening, stepwise selection, scoring and evaluation.
func Build(snps []*genotype.SNP, outcome []float64, opts Options) (*Result, error) {
	if opts.ScreenP <= 0 {
		opts.ScreenP = 0.1
	}
	cands, err := Screen(snps, outcome, opts.ScreenP)
	if err != nil {
		return nil, err
	}
	log.Infof("prs: %d of %d SNPs pass screening at p < %g", len(cands), len(snps), opts.ScreenP)
	if len(cands) == 0 {
		return nil, fmt.Errorf("no SNPs pass screening at p < %g", opts.ScreenP)
	}
	res := &Result{Candidates: cands}
	res.Selected, res.Steps, err = Forward(cands, outcome, opts.MaxSNPs)
	if err != nil {
		return nil, err
	}
	if len(res.Selected) == 0 {
		return nil, fmt.Errorf("stepwise selection did not select any SNP")
	}
	res.Score = Score(res.Selected, len(outcome))

	var y, s []float64
	for i, v := range res.Score {
		if !math.IsNaN(v) && !math.IsNaN(outcome[i]) {
			y = append(y, outcome[i])
			s = append(s, v)
		}
	}
	null, err := logistic.Fit(y, nil, nil, nil)
	if err != nil {
		return nil, err
	}
	full, err := logistic.Fit(y, [][]float64{s}, []string{ScoreName}, nil)
	if err != nil {
		return nil, fmt.Errorf("score model: %w", err)
	}
	_, _, res.P, err = logistic.LRT(null, full)
	if err != nil {
		return nil, err
	}
	res.OR, res.Lower, res.Upper, _ = full.OddsRatio(ScoreName)
	res.N = full.N
	res.ROC, err = NewROC(res.Score, outcome)
	if err != nil {
		return nil, err
	}
	log.Infof("prs: %d SNPs, OR per risk allele %.3f (p=%g), AUC %.3f", len(res.Selected), res.OR, res.P, res.ROC.AUC)
	return res, nil
}

// WriteSelected writes the selected SNPs with their risk alleles.
func WriteSelected(w io.Writer, res *Result) error {
	bufw := bufio.NewWriter(w)
	fmt.Fprint(bufw, "SNP\trisk.allele\tOR\tp.value\tAIC\n")
	for k, c := range res.Selected {
		fmt.Fprintf(bufw, "%s\t%s\t%.4f\t%g\t%.3f\n", c.SNP, c.RiskAllele, c.OR, c.P, res.Steps[k].AIC)
	}
	return bufw.Flush()
}

// WriteScores writes one row per sample.
func WriteScores(w io.Writer, samples []string, res *Result, outcome []float64) error {
	bufw := bufio.NewWriter(w)
	fmt.Fprint(bufw, "SampleID\toutcome\tscore\n")
	for i, id := range samples {
		fmt.Fprintf(bufw, "%s\t%g\t%g\n", id, outcome[i], res.Score[i])
	}
	return bufw.Flush()
}
