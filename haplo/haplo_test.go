// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package haplo

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/arvados/bioassoc/genotype"
	"golang.org/x/exp/rand"
	"gopkg.in/check.v1"
)

func Test(t *testing.T) { check.TestingT(t) }

type haploSuite struct{}

var _ = check.Suite(&haploSuite{})

// simulate draws two haplotypes per subject from freqs (indexed by
// haplotype bitmask) and returns the resulting SNPs and the number
// of copies of risk each subject carries.
func simulate(seed uint64, nsub, nloci int, freqs map[Haplotype]float64, risk Haplotype) ([]*genotype.SNP, []float64) {
	rnd := rand.New(rand.NewSource(seed))
	var haps []Haplotype
	var cum []float64
	total := 0.0
	for h := Haplotype(0); h < 1<<nloci; h++ {
		if f, ok := freqs[h]; ok {
			total += f
			haps = append(haps, h)
			cum = append(cum, total)
		}
	}
	draw := func() Haplotype {
		x := rnd.Float64() * total
		for k, c := range cum {
			if x < c {
				return haps[k]
			}
		}
		return haps[len(haps)-1]
	}
	snps := make([]*genotype.SNP, nloci)
	for l := range snps {
		snps[l] = &genotype.SNP{ID: fmt.Sprintf("snp%d", l), Alleles: [2]string{"A", "G"}, Counts: make([]int8, nsub)}
	}
	dose := make([]float64, nsub)
	for i := 0; i < nsub; i++ {
		h1, h2 := draw(), draw()
		for l := range snps {
			snps[l].Counts[i] = int8(h1>>l&1 + h2>>l&1)
		}
		if h1 == risk {
			dose[i]++
		}
		if h2 == risk {
			dose[i]++
		}
	}
	return snps, dose
}

func (s *haploSuite) TestDiplotypes(c *check.C) {
	ds, err := diplotypes([]int8{1, 1}, 100)
	c.Assert(err, check.IsNil)
	c.Check(ds, check.DeepEquals, []Diplotype{{H1: 1, H2: 2}, {H1: 0, H2: 3}})
	ds, err = diplotypes([]int8{2, 0}, 100)
	c.Assert(err, check.IsNil)
	c.Check(ds, check.DeepEquals, []Diplotype{{H1: 1, H2: 1}})
	ds, err = diplotypes([]int8{genotype.Missing, 0}, 100)
	c.Assert(err, check.IsNil)
	c.Check(ds, check.HasLen, 3)
	ds, err = diplotypes([]int8{genotype.Missing, genotype.Missing}, 100)
	c.Assert(err, check.IsNil)
	c.Check(ds, check.HasLen, 0)
	_, err = diplotypes([]int8{1, 1, 1, 1, 1, 1, 1, 1, 1, 1}, 100)
	c.Check(errors.Is(err, ErrTooManyDiplotypes), check.Equals, true)
}

func (s *haploSuite) TestEMRecoversFrequencies(c *check.C) {
	truth := map[Haplotype]float64{0: 0.5, 3: 0.3, 2: 0.2}
	snps, _ := simulate(1, 2000, 2, truth, 3)
	em, err := EM(snps, EMOptions{Seed: 1})
	c.Assert(err, check.IsNil)
	c.Check(em.Converged, check.Equals, true)
	for h, f := range truth {
		c.Check(math.Abs(em.Freq(h)-f) < 0.03, check.Equals, true, check.Commentf("hap %b: %f vs %f", h, em.Freq(h), f))
	}
	c.Check(em.Freq(1) < 0.02, check.Equals, true)
	c.Check(em.Haplotypes[0], check.Equals, Haplotype(0))
	c.Check(em.String(3), check.Equals, "GG")
	c.Check(em.String(2), check.Equals, "AG")
	c.Check(em.Called(), check.Equals, 2000)
}

func (s *haploSuite) TestEMFrequenciesSumToOne(c *check.C) {
	rnd := rand.New(rand.NewSource(2))
	for trial := 0; trial < 5; trial++ {
		nloci := 2 + trial
		snps := make([]*genotype.SNP, nloci)
		for l := range snps {
			snp := &genotype.SNP{ID: fmt.Sprintf("snp%d", l), Alleles: [2]string{"C", "T"}, Counts: make([]int8, 150)}
			for i := range snp.Counts {
				if rnd.Float64() < 0.05 {
					snp.Counts[i] = genotype.Missing
				} else {
					snp.Counts[i] = int8(rnd.Intn(3))
				}
			}
			snps[l] = snp
		}
		em, err := EM(snps, EMOptions{Seed: uint64(trial), Starts: 2})
		c.Assert(err, check.IsNil)
		sum := 0.0
		for _, f := range em.Freqs {
			sum += f
		}
		c.Check(math.Abs(sum-1) < 1e-9, check.Equals, true, check.Commentf("trial %d sum %f", trial, sum))
		for i, ds := range em.Subjects {
			post := 0.0
			for _, d := range ds {
				post += d.Post
			}
			if len(ds) > 0 {
				c.Assert(math.Abs(post-1) < 1e-9, check.Equals, true, check.Commentf("subject %d", i))
			}
		}
		for k := 1; k < len(em.Freqs); k++ {
			c.Check(em.Freqs[k] <= em.Freqs[k-1], check.Equals, true)
		}
	}
}

func (s *haploSuite) TestGLM(c *check.C) {
	freqs := map[Haplotype]float64{0: 0.45, 7: 0.25, 5: 0.2, 2: 0.095, 1: 0.005}
	snps, dose := simulate(3, 1500, 3, freqs, 5)
	rnd := rand.New(rand.NewSource(4))
	y := make([]float64, len(dose))
	for i, d := range dose {
		if rnd.Float64() < 1/(1+math.Exp(-(-1+0.9*d))) {
			y[i] = 1
		}
	}
	em, err := EM(snps, EMOptions{Seed: 3})
	c.Assert(err, check.IsNil)
	res, err := GLM(em, y, GLMOptions{})
	c.Assert(err, check.IsNil)
	c.Check(res.Base, check.Equals, "AAA")
	c.Check(res.N, check.Equals, 1500)
	c.Check(res.P < 1e-8, check.Equals, true, check.Commentf("global p %g", res.P))
	var found, rare bool
	for _, eff := range res.Effects {
		switch eff.Haplotype {
		case "GAG":
			found = true
			c.Check(eff.OR > 1.8 && eff.OR < 4, check.Equals, true, check.Commentf("%+v", eff))
			c.Check(eff.Lower < eff.OR && eff.OR < eff.Upper, check.Equals, true)
		case "GGG":
			c.Check(math.Abs(math.Log(eff.OR)) < 0.5, check.Equals, true, check.Commentf("%+v", eff))
		case RareLabel:
			rare = true
		}
	}
	c.Check(found, check.Equals, true)
	c.Check(rare, check.Equals, true)
	c.Check(res.DF, check.Equals, len(res.Effects))
}

func (s *haploSuite) TestSlidingWindow(c *check.C) {
	freqs := map[Haplotype]float64{0: 0.4, 15: 0.2, 12: 0.25, 3: 0.15}
	snps, dose := simulate(5, 800, 4, freqs, 12)
	rnd := rand.New(rand.NewSource(6))
	y := make([]float64, len(dose))
	for i, d := range dose {
		if rnd.Float64() < 1/(1+math.Exp(-(-0.8+1.0*d))) {
			y[i] = 1
		}
	}
	y[0] = math.NaN()
	res, err := SlidingWindow(snps, y, WindowOptions{Widths: []int{1, 2}, Permutations: 50, Seed: 1})
	c.Assert(err, check.IsNil)
	c.Check(res.Windows, check.HasLen, 4+3)
	c.Check(res.Best.P < 1e-6, check.Equals, true, check.Commentf("%+v", res.Best))
	c.Check(res.SimP, check.Equals, 1.0/51)
	for _, w := range res.Windows {
		c.Check(w.DF >= 1, check.Equals, true)
		c.Check(len(w.Loci), check.Equals, w.Width)
	}

	_, err = SlidingWindow(snps, y, WindowOptions{Widths: []int{5}})
	c.Check(err, check.ErrorMatches, `window width 5 out of range.*`)
}

func (s *haploSuite) TestSlidingWindowNull(c *check.C) {
	freqs := map[Haplotype]float64{0: 0.4, 7: 0.3, 4: 0.3}
	snps, _ := simulate(7, 300, 3, freqs, 0)
	rnd := rand.New(rand.NewSource(8))
	y := make([]float64, 300)
	for i := range y {
		y[i] = float64(rnd.Intn(2))
	}
	res, err := SlidingWindow(snps, y, WindowOptions{Permutations: 100, Seed: 2})
	c.Assert(err, check.IsNil)
	// the simulated p-value accounts for the search over windows
	c.Check(res.SimP >= res.Best.P, check.Equals, true, check.Commentf("sim %g best %g", res.SimP, res.Best.P))
}

func (s *haploSuite) TestPairwiseLD(c *check.C) {
	// loci 0 and 1 always carry the same allele; locus 2 is
	// independent
	freqs := map[Haplotype]float64{0: 0.35, 3: 0.15, 4: 0.35, 7: 0.15}
	snps, _ := simulate(9, 1000, 3, freqs, 0)
	ld, err := PairwiseLD(snps, EMOptions{})
	c.Assert(err, check.IsNil)
	c.Check(ld.Loci, check.DeepEquals, []string{"snp0", "snp1", "snp2"})
	c.Check(ld.R2.At(0, 1) > 0.99, check.Equals, true, check.Commentf("r2 %f", ld.R2.At(0, 1)))
	c.Check(ld.DPrime.At(1, 0) > 0.99, check.Equals, true)
	c.Check(ld.R2.At(0, 2) < 0.02, check.Equals, true, check.Commentf("r2 %f", ld.R2.At(0, 2)))
	c.Check(ld.R2.At(2, 2), check.Equals, 1.0)

	d, dp, r2 := ldStats(0, 0, 0.5)
	c.Check([]float64{d, dp, r2}, check.DeepEquals, []float64{0.25, 1, 1})
}
