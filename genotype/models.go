// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package genotype

import (
	"fmt"
	"strings"
)

// Model is an inheritance model, i.e., a coding of the minor allele
// count into regression predictors.
type Model int

const (
	Codominant Model = iota
	Dominant
	Recessive
	Overdominant
	LogAdditive
)

// Models lists every inheritance model in reporting order.
var Models = []Model{Codominant, Dominant, Recessive, Overdominant, LogAdditive}

func (m Model) String() string {
	switch m {
	case Codominant:
		return "codominant"
	case Dominant:
		return "dominant"
	case Recessive:
		return "recessive"
	case Overdominant:
		return "overdominant"
	case LogAdditive:
		return "log-additive"
	}
	return fmt.Sprintf("Model(%d)", int(m))
}

// ParseModel accepts a model name or unambiguous prefix.
func ParseModel(s string) (Model, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	var found []Model
	for _, m := range Models {
		if m.String() == s {
			return m, nil
		}
		if s != "" && strings.HasPrefix(m.String(), s) {
			found = append(found, m)
		}
	}
	if s == "additive" {
		return LogAdditive, nil
	}
	if len(found) == 1 {
		return found[0], nil
	}
	return 0, fmt.Errorf("unknown inheritance model %q", s)
}

// scores returns the 1-df trend scores for genotypes 0, 1, 2.
func (m Model) scores() [3]float64 {
	switch m {
	case Dominant:
		return [3]float64{0, 1, 1}
	case Recessive:
		return [3]float64{0, 0, 1}
	case Overdominant:
		return [3]float64{0, 1, 0}
	default:
		return [3]float64{0, 1, 2}
	}
}

// Code returns the predictor columns (and their labels) encoding the
// genotype counts under model m. Each label names the genotype group
// compared against the reference group. Missing calls give NaN.
func (m Model) Code(snp *SNP) (cols [][]float64, labels []string) {
	ref, alt := snp.Alleles[0], snp.Alleles[1]
	het, homAlt := ref+"/"+alt, alt+"/"+alt
	if m == Codominant {
		cols = [][]float64{make([]float64, len(snp.Counts)), make([]float64, len(snp.Counts))}
		for i, n := range snp.Counts {
			switch n {
			case Missing:
				cols[0][i], cols[1][i] = nan, nan
			case 1:
				cols[0][i] = 1
			case 2:
				cols[1][i] = 1
			}
		}
		return cols, []string{het, homAlt}
	}
	s := m.scores()
	col := make([]float64, len(snp.Counts))
	for i, n := range snp.Counts {
		if n == Missing {
			col[i] = nan
		} else {
			col[i] = s[n]
		}
	}
	switch m {
	case Dominant:
		labels = []string{het + "-" + homAlt}
	case Recessive:
		labels = []string{homAlt}
	case Overdominant:
		labels = []string{het}
	default:
		labels = []string{"0,1,2"}
	}
	return [][]float64{col}, labels
}
