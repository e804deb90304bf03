// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package genotype

import (
	"bufio"
	"fmt"
	"io"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultHWEThreshold is the p-value below which a SNP is considered
// out of Hardy-Weinberg equilibrium in controls.
const DefaultHWEThreshold = 1e-3

// HWExact returns the exact test p-value for Hardy-Weinberg
// equilibrium given genotype counts (Wigginton, Cutler & Abecasis
// 2005).
func HWExact(hom1, het, hom2 int) float64 {
	homr, homc := hom1, hom2
	if homr > homc {
		homr, homc = homc, homr
	}
	rare := 2*homr + het
	n := het + homc + homr
	if n == 0 {
		return 1
	}
	probs := make([]float64, rare+1)
	mid := rare * (2*n - rare) / (2 * n)
	if (rare&1)^(mid&1) != 0 {
		mid++
	}
	probs[mid] = 1
	sum := 1.0
	currHomr := (rare - mid) / 2
	currHomc := n - mid - currHomr
	for h := mid; h > 1; h -= 2 {
		probs[h-2] = probs[h] * float64(h) * float64(h-1) / (4 * float64(currHomr+1) * float64(currHomc+1))
		sum += probs[h-2]
		currHomr++
		currHomc++
	}
	currHomr = (rare - mid) / 2
	currHomc = n - mid - currHomr
	for h := mid; h <= rare-2; h += 2 {
		probs[h+2] = probs[h] * 4 * float64(currHomr) * float64(currHomc) / (float64(h+2) * float64(h+1))
		sum += probs[h+2]
		currHomr--
		currHomc--
	}
	p := 0.0
	obs := probs[het] / sum
	for _, v := range probs {
		v /= sum
		if v <= obs*(1+1e-7) {
			p += v
		}
	}
	return math.Min(1, p)
}

// HWChiSquare returns the 1-df Pearson chi-square p-value for
// Hardy-Weinberg equilibrium.
func HWChiSquare(hom1, het, hom2 int) float64 {
	n := float64(hom1 + het + hom2)
	if n == 0 {
		return 1
	}
	p := (2*float64(hom1) + float64(het)) / (2 * n)
	q := 1 - p
	if p == 0 || q == 0 {
		return 1
	}
	exp := [3]float64{n * p * p, 2 * n * p * q, n * q * q}
	obs := [3]float64{float64(hom1), float64(het), float64(hom2)}
	x2 := 0.0
	for i := range obs {
		d := obs[i] - exp[i]
		x2 += d * d / exp[i]
	}
	return distuv.ChiSquared{K: 1}.Survival(x2)
}

// HWEResult summarizes one SNP's genotype distribution in a subgroup.
type HWEResult struct {
	SNP      string
	Alleles  [2]string
	Counts   [3]int
	MAF      float64
	CallRate float64
	PExact   float64
	PChi2    float64
}

// HWE tests each SNP for Hardy-Weinberg equilibrium among the samples
// selected by mask (nil means all samples).
func HWE(t *Table, mask []bool) []HWEResult {
	out := make([]HWEResult, len(t.SNPs))
	for i, snp := range t.SNPs {
		c := snp.GenotypeCounts(mask)
		out[i] = HWEResult{
			SNP:      snp.ID,
			Alleles:  snp.Alleles,
			Counts:   c,
			MAF:      snp.MAF(mask),
			CallRate: snp.CallRate(mask),
			PExact:   HWExact(c[0], c[1], c[2]),
			PChi2:    HWChiSquare(c[0], c[1], c[2]),
		}
	}
	return out
}

// FilterHWE drops SNPs whose exact HWE p-value among controls is
// below threshold, and returns the kept table along with the results
// for every SNP.
func FilterHWE(t *Table, controls []bool, threshold float64) (*Table, []HWEResult) {
	results := HWE(t, controls)
	keep := map[string]bool{}
	for _, r := range results {
		if r.PExact >= threshold {
			keep[r.SNP] = true
		}
	}
	return t.Filter(func(snp *SNP) bool { return keep[snp.ID] }), results
}

// WriteHWE writes results as TSV.
func WriteHWE(w io.Writer, results []HWEResult, threshold float64) error {
	bufw := bufio.NewWriter(w)
	fmt.Fprint(bufw, "SNP\tminor\tmajor\tn.hom.major\tn.het\tn.hom.minor\tMAF\tcall.rate\tp.exact\tp.chisq\tflag\n")
	for _, r := range results {
		flag := "ok"
		if r.PExact < threshold {
			flag = "HWE"
		}
		fmt.Fprintf(bufw, "%s\t%s\t%s\t%d\t%d\t%d\t%.4f\t%.4f\t%g\t%g\t%s\n",
			r.SNP, r.Alleles[1], r.Alleles[0], r.Counts[0], r.Counts[1], r.Counts[2], r.MAF, r.CallRate, r.PExact, r.PChi2, flag)
	}
	return bufw.Flush()
}
