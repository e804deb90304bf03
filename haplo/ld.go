// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package haplo

import (
	"fmt"
	"math"

	"github.com/arvados/bioassoc/genotype"
	"gonum.org/v1/gonum/mat"
)

// LD holds pairwise linkage disequilibrium measures between loci.
type LD struct {
	Loci   []string
	D      *mat.SymDense
	DPrime *mat.SymDense
	R2     *mat.SymDense
}

// PairwiseLD estimates two-locus haplotype frequencies by EM for
// every pair of SNPs and returns D, |D'| and r^2. Diagonal entries
// are 1 for D' and r^2. Monomorphic pairs give NaN.
func PairwiseLD(snps []*genotype.SNP, opts EMOptions) (*LD, error) {
	n := len(snps)
	ld := &LD{
		D:      mat.NewSymDense(n, nil),
		DPrime: mat.NewSymDense(n, nil),
		R2:     mat.NewSymDense(n, nil),
	}
	for i, snp := range snps {
		ld.Loci = append(ld.Loci, snp.ID)
		ld.DPrime.SetSym(i, i, 1)
		ld.R2.SetSym(i, i, 1)
	}
	opts.Starts = 1
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			em, err := EM([]*genotype.SNP{snps[i], snps[j]}, opts)
			if err != nil {
				return nil, fmt.Errorf("%s, %s: %w", snps[i].ID, snps[j].ID, err)
			}
			d, dp, r2 := ldStats(em.Freq(1), em.Freq(2), em.Freq(3))
			ld.D.SetSym(i, j, d)
			ld.DPrime.SetSym(i, j, dp)
			ld.R2.SetSym(i, j, r2)
		}
	}
	return ld, nil
}

// ldStats computes D, |D'| and r^2 from the frequencies of the
// haplotypes carrying the minor allele at only the first locus, only
// the second, and both.
func ldStats(p10, p01, p11 float64) (d, dprime, r2 float64) {
	pA := p10 + p11
	pB := p01 + p11
	d = p11 - pA*pB
	denom := pA * (1 - pA) * pB * (1 - pB)
	if denom <= 0 {
		return math.NaN(), math.NaN(), math.NaN()
	}
	var dmax float64
	if d > 0 {
		dmax = math.Min(pA*(1-pB), (1-pA)*pB)
	} else {
		dmax = math.Min(pA*pB, (1-pA)*(1-pB))
	}
	dprime = math.Abs(d) / dmax
	r2 = d * d / denom
	return d, math.Min(dprime, 1), r2
}
