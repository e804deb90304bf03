// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package genotype

import (
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	chisquared1 = distuv.ChiSquared{K: 1}
	chisquared2 = distuv.ChiSquared{K: 2}
)

// table2x3 holds case and total counts for genotypes with 0, 1 and 2
// copies of the minor allele.
type table2x3 struct {
	cases [3]float64
	total [3]float64
}

func (t *table2x3) add(count int8, isCase bool) {
	t.total[count]++
	if isCase {
		t.cases[count]++
	}
}

// trendP returns the Cochran-Armitage trend test p-value for the
// given genotype scores.
func (t *table2x3) trendP(scores [3]float64) float64 {
	var n, r, sn, ssn, u float64
	for j := range t.total {
		n += t.total[j]
		r += t.cases[j]
		sn += scores[j] * t.total[j]
		ssn += scores[j] * scores[j] * t.total[j]
	}
	if n < 2 || r == 0 || r == n {
		return 1
	}
	for j := range t.total {
		u += scores[j] * (t.cases[j] - r*t.total[j]/n)
	}
	v := r * (n - r) / (n * (n - 1)) * (ssn - sn*sn/n)
	if v <= 0 {
		return 1
	}
	return chisquared1.Survival(u * u / v)
}

// pearsonP returns the Pearson chi-square p-value for the 2 x k table
// formed by the nonempty genotype columns.
func (t *table2x3) pearsonP() float64 {
	var (
		obs, exp [2]float64
		sum      float64
		sz       float64
		r        float64
		cols     int
	)
	for j := range t.total {
		sz += t.total[j]
		r += t.cases[j]
		if t.total[j] > 0 {
			cols++
		}
	}
	if r == 0 || r == sz || cols < 2 {
		return 1
	}
	for j := range t.total {
		if t.total[j] == 0 {
			continue
		}
		obs[0], obs[1] = t.cases[j], t.total[j]-t.cases[j]
		exp[0] = t.total[j] * r / sz
		exp[1] = t.total[j] * (sz - r) / sz
		for i := range exp {
			d := obs[i] - exp[i]
			sum += d * d / exp[i]
		}
	}
	if cols == 2 {
		return chisquared1.Survival(sum)
	}
	return chisquared2.Survival(sum)
}

// minP returns the smallest p-value over the inheritance models,
// computed from the contingency table.
func (t *table2x3) minP() float64 {
	_, p := t.bestP()
	return p
}

// bestP returns the model with the smallest contingency-table
// p-value: Pearson 2 df for codominant, trend tests for the others.
func (t *table2x3) bestP() (Model, float64) {
	best, p := Codominant, t.pearsonP()
	for _, m := range []Model{Dominant, Recessive, Overdominant, LogAdditive} {
		if q := t.trendP(m.scores()); q < p {
			best, p = m, q
		}
	}
	return best, p
}
