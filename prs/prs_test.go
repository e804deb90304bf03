// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package prs

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/arvados/bioassoc/genotype"
	"golang.org/x/exp/rand"
	"gopkg.in/check.v1"
)

func Test(t *testing.T) { check.TestingT(t) }

type prsSuite struct{}

var _ = check.Suite(&prsSuite{})

// simulate returns SNPs with minor allele frequency 0.3 and an outcome
// with the given log-odds per minor allele for each SNP.
func simulate(seed uint64, n int, effects []float64) ([]*genotype.SNP, []float64) {
	rnd := rand.New(rand.NewSource(seed))
	snps := make([]*genotype.SNP, len(effects))
	for k := range snps {
		snps[k] = &genotype.SNP{ID: fmt.Sprintf("rs%d", k+1), Alleles: [2]string{"C", "T"}, Counts: make([]int8, n)}
	}
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		eta := -0.5
		for k, snp := range snps {
			for a := 0; a < 2; a++ {
				if rnd.Float64() < 0.3 {
					snp.Counts[i]++
				}
			}
			eta += effects[k] * float64(snp.Counts[i])
		}
		if rnd.Float64() < 1/(1+math.Exp(-eta)) {
			y[i] = 1
		}
	}
	return snps, y
}

func (s *prsSuite) TestBuild(c *check.C) {
	snps, y := simulate(1, 1500, []float64{0.7, -0.7, 0.5, 0, 0, 0})
	snps[3].Counts[0] = genotype.Missing
	y[1] = math.NaN()
	res, err := Build(snps, y, Options{})
	c.Assert(err, check.IsNil)

	selected := map[string]Candidate{}
	for _, cand := range res.Selected {
		selected[cand.SNP] = cand
	}
	for _, id := range []string{"rs1", "rs2", "rs3"} {
		_, ok := selected[id]
		c.Check(ok, check.Equals, true, check.Commentf("%s not selected: %+v", id, res.Steps))
	}
	c.Check(selected["rs1"].RiskAllele, check.Equals, "T")
	c.Check(selected["rs2"].RiskAllele, check.Equals, "C")
	for _, cand := range res.Candidates {
		c.Check(cand.OR > 1, check.Equals, true)
		c.Check(cand.P < 0.1, check.Equals, true)
	}
	for k := 1; k < len(res.Steps); k++ {
		c.Check(res.Steps[k].AIC < res.Steps[k-1].AIC, check.Equals, true)
	}

	c.Check(res.Score, check.HasLen, 1500)
	c.Check(math.IsNaN(res.Score[0]), check.Equals, selected["rs4"].SNP != "")
	c.Check(res.OR > 1, check.Equals, true)
	c.Check(res.Lower < res.OR && res.OR < res.Upper, check.Equals, true)
	c.Check(res.P < 1e-10, check.Equals, true, check.Commentf("p=%g", res.P))
	c.Check(res.ROC.AUC > 0.6 && res.ROC.AUC < 1, check.Equals, true, check.Commentf("AUC %f", res.ROC.AUC))

	var buf bytes.Buffer
	c.Assert(WriteSelected(&buf, res), check.IsNil)
	c.Check(strings.Count(buf.String(), "\n"), check.Equals, len(res.Selected)+1)
	c.Check(buf.String(), check.Matches, `(?s)SNP\trisk.allele\tOR\tp.value\tAIC\n.*`)
}

func (s *prsSuite) TestRiskDosage(c *check.C) {
	snps, y := simulate(2, 1000, []float64{-0.8})
	cands, err := Screen(snps, y, 0.1)
	c.Assert(err, check.IsNil)
	c.Assert(cands, check.HasLen, 1)
	c.Check(cands[0].RiskAllele, check.Equals, "C")
	for i, d := range cands[0].Dosage() {
		c.Assert(d, check.Equals, float64(2-snps[0].Counts[i]))
	}
}

func (s *prsSuite) TestNoSignal(c *check.C) {
	snps, y := simulate(3, 300, []float64{0, 0})
	_, err := Build(snps, y, Options{ScreenP: 1e-6})
	c.Check(err, check.ErrorMatches, `no SNPs pass screening.*`)
}

func (s *prsSuite) TestROC(c *check.C) {
	roc, err := NewROC([]float64{3, 1, 2, 4}, []float64{1, 0, 0, 1})
	c.Assert(err, check.IsNil)
	c.Check(roc.AUC, check.Equals, 1.0)
	c.Check(roc.FPR[0], check.Equals, 0.0)
	c.Check(roc.FPR[len(roc.FPR)-1], check.Equals, 1.0)
	c.Check(roc.TPR[len(roc.TPR)-1], check.Equals, 1.0)

	roc, err = NewROC([]float64{1, 1, 1, 1, math.NaN()}, []float64{1, 0, 0, 1, 1})
	c.Assert(err, check.IsNil)
	c.Check(roc.AUC, check.Equals, 0.5)

	roc, err = NewROC([]float64{1, 2, 3, 4}, []float64{1, 1, 0, 0})
	c.Assert(err, check.IsNil)
	c.Check(roc.AUC, check.Equals, 0.0)

	_, err = NewROC([]float64{1, 2}, []float64{1, 1})
	c.Check(err, check.ErrorMatches, `ROC needs both cases and controls.*`)
}
