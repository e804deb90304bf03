// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package limma

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/arvados/bioassoc/design"
	"github.com/arvados/bioassoc/expr"
	"github.com/arvados/bioassoc/padjust"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
	"gopkg.in/check.v1"
)

func Test(t *testing.T) { check.TestingT(t) }

type limmaSuite struct{}

var _ = check.Suite(&limmaSuite{})

func closeTo(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func groupDesign(c *check.C, samples, groups []string) *design.Matrix {
	t, err := design.NewTable(samples, []string{"group"}, [][]string{groups})
	c.Assert(err, check.IsNil)
	x, err := design.Build(t, design.Spec{Terms: []design.Term{{Name: "group", Levels: []string{"A", "B"}}}})
	c.Assert(err, check.IsNil)
	return x
}

// Four samples, three features; feature 1 is 1 log2 unit higher in
// the two group B samples.
func (s *limmaSuite) TestEndToEnd(c *check.C) {
	samples := []string{"s1", "s2", "s3", "s4"}
	y, err := expr.New([]string{"f1", "f2", "f3"}, samples, mat.NewDense(3, 4, []float64{
		5.00, 5.02, 6.01, 5.99,
		7.01, 6.98, 7.00, 7.02,
		3.00, 3.03, 2.98, 3.01,
	}))
	c.Assert(err, check.IsNil)
	x := groupDesign(c, samples, []string{"A", "A", "B", "B"})
	fit, err := LmFit(y, x)
	c.Assert(err, check.IsNil)
	c.Check(closeTo(fit.Coefficients.At(0, 0), 5.01), check.Equals, true)
	c.Check(fit.DFResidual, check.DeepEquals, []float64{2, 2, 2})

	con, err := design.ParseContrast("BvsA", "groupB - groupA")
	c.Assert(err, check.IsNil)
	cm, err := x.ContrastMatrix([]design.Contrast{con})
	c.Assert(err, check.IsNil)
	cfit, err := ContrastsFit(fit, cm, []string{"BvsA"})
	c.Assert(err, check.IsNil)
	c.Check(closeTo(cfit.StdevUnscaled.At(0, 0), 1), check.Equals, true)
	_, err = TopTable(cfit, "BvsA", padjust.BH, 0)
	c.Check(err, check.Equals, ErrNotModerated)

	efit, err := EBayes(cfit, EBayesOptions{})
	c.Assert(err, check.IsNil)
	c.Check(cfit.Moderated, check.IsNil)
	c.Check(math.IsInf(efit.Moderated.DFPrior, 1), check.Equals, true)
	c.Check(efit.Moderated.DFTotal[0], check.Equals, 6.0)

	rows, err := TopTable(efit, "BvsA", padjust.BH, 0)
	c.Assert(err, check.IsNil)
	c.Assert(rows, check.HasLen, 3)
	c.Check(rows[0].Feature, check.Equals, "f1")
	c.Check(rows[0].LogFC > 0.98 && rows[0].LogFC < 1.0, check.Equals, true)
	c.Check(rows[0].AdjP < 0.05, check.Equals, true, check.Commentf("%+v", rows[0]))
	c.Check(rows[0].B > 0, check.Equals, true)
	for _, r := range rows[1:] {
		c.Check(r.AdjP > 0.05, check.Equals, true, check.Commentf("%+v", r))
		c.Check(r.B < rows[0].B, check.Equals, true)
	}

	var buf bytes.Buffer
	c.Assert(WriteTopTable(&buf, rows), check.IsNil)
	c.Check(strings.HasPrefix(buf.String(), "ID\tlogFC\tAveExpr\tt\tP.Value\tadj.P.Val\tB\nf1\t"), check.Equals, true)

	dec, err := DecideTests(efit, padjust.BH, 0.05, 0)
	c.Assert(err, check.IsNil)
	c.Check(dec, check.DeepEquals, [][]Decision{{1}, {0}, {0}})
	c.Check(VennCounts(dec, 1), check.DeepEquals, []int{2, 1})
}

func (s *limmaSuite) TestMisalignedSamples(c *check.C) {
	y, err := expr.New([]string{"f1"}, []string{"s1", "s2", "s3", "s4"}, mat.NewDense(1, 4, []float64{1, 2, 3, 4}))
	c.Assert(err, check.IsNil)
	x := groupDesign(c, []string{"s1", "s2", "s4", "s3"}, []string{"A", "A", "B", "B"})
	_, err = LmFit(y, x)
	c.Check(err, check.ErrorMatches, `design row 2 is sample "s4".*`)
}

func (s *limmaSuite) TestMissingValues(c *check.C) {
	samples := []string{"s1", "s2", "s3", "s4", "s5", "s6"}
	y, err := expr.New([]string{"f1", "f2", "f3"}, samples, mat.NewDense(3, 6, []float64{
		1, 2, 3, 5, 6, 7,
		1, math.NaN(), 3, 5, 6, 7,
		math.NaN(), math.NaN(), math.NaN(), 5, 6, 7,
	}))
	c.Assert(err, check.IsNil)
	x := groupDesign(c, samples, []string{"A", "A", "A", "B", "B", "B"})
	fit, err := LmFit(y, x)
	c.Assert(err, check.IsNil)
	c.Check(fit.DFResidual, check.DeepEquals, []float64{4, 3, 0})
	c.Check(closeTo(fit.Coefficients.At(1, 0), 2), check.Equals, true)
	c.Check(fit.Amean[1], check.Equals, 22.0/5)
	c.Check(math.IsNaN(fit.Coefficients.At(2, 0)), check.Equals, true)
	c.Check(closeTo(fit.StdevUnscaled.At(0, 0), math.Sqrt(1.0/3)), check.Equals, true)
	c.Check(closeTo(fit.StdevUnscaled.At(1, 0), math.Sqrt(0.5)), check.Equals, true)

	efit, err := EBayes(fit, EBayesOptions{})
	c.Assert(err, check.IsNil)
	c.Check(efit.Moderated.F, check.HasLen, 3)
	c.Check(math.IsNaN(efit.Moderated.P.At(2, 0)), check.Equals, true)
}

func (s *limmaSuite) TestSpecialFunctions(c *check.C) {
	c.Check(math.Abs(trigamma(1)-math.Pi*math.Pi/6) < 1e-10, check.Equals, true)
	c.Check(math.Abs(trigamma(0.5)-math.Pi*math.Pi/2) < 1e-10, check.Equals, true)
	// trigamma(n) = pi^2/6 - sum_{k<n} 1/k^2
	for n := 2; n <= 12; n++ {
		expect := math.Pi * math.Pi / 6
		for k := 1; k < n; k++ {
			expect -= 1 / float64(k*k)
		}
		c.Check(math.Abs(trigamma(float64(n))-expect) < 1e-12, check.Equals, true, check.Commentf("n=%d", n))
	}
	c.Check(math.Abs(tetragamma(1)+2.4041138063191885) < 1e-9, check.Equals, true)
	for _, y := range []float64{0.3, 1, 3.7, 42} {
		got := trigammaInverse(trigamma(y))
		c.Check(math.Abs(got-y)/y < 1e-6, check.Equals, true, check.Commentf("y=%g got %g", y, got))
	}
}

func (s *limmaSuite) TestFitFDist(c *check.C) {
	src := rand.NewSource(7)
	const n, df, d0, s20 = 5000, 3.0, 4.0, 0.5
	prior := distuv.ChiSquared{K: d0, Src: src}
	resid := distuv.ChiSquared{K: df, Src: src}
	x := make([]float64, n)
	dfs := make([]float64, n)
	for i := range x {
		sigma2 := s20 * d0 / prior.Rand()
		x[i] = sigma2 * resid.Rand() / df
		dfs[i] = df
	}
	gotD0, gotS20, err := fitFDist(x, dfs)
	c.Assert(err, check.IsNil)
	c.Check(gotD0 > 2.5 && gotD0 < 6.5, check.Equals, true, check.Commentf("d0 %g", gotD0))
	c.Check(gotS20 > 0.4 && gotS20 < 0.6, check.Equals, true, check.Commentf("s20 %g", gotS20))
}

func (s *limmaSuite) TestShrinkage(c *check.C) {
	rnd := rand.New(rand.NewSource(11))
	const nfeat = 400
	samples := []string{"a1", "a2", "a3", "b1", "b2", "b3"}
	features := make([]string, nfeat)
	data := mat.NewDense(nfeat, 6, nil)
	for i := range features {
		if i < 20 {
			features[i] = fmt.Sprintf("up%d", i)
		} else {
			features[i] = fmt.Sprintf("null%d", i)
		}
		sd := 0.2 + rnd.Float64()*0.3
		for j := 0; j < 6; j++ {
			v := 8 + rnd.NormFloat64()*sd
			if i < 20 && j >= 3 {
				v += 2
			}
			data.Set(i, j, v)
		}
	}
	y, err := expr.New(features, samples, data)
	c.Assert(err, check.IsNil)
	x := groupDesign(c, samples, []string{"A", "A", "A", "B", "B", "B"})
	fit, err := LmFit(y, x)
	c.Assert(err, check.IsNil)
	con, _ := design.ParseContrast("BvsA", "groupB-groupA")
	cm, err := x.ContrastMatrix([]design.Contrast{con})
	c.Assert(err, check.IsNil)
	cfit, err := ContrastsFit(fit, cm, []string{"BvsA"})
	c.Assert(err, check.IsNil)
	efit, err := EBayes(cfit, EBayesOptions{})
	c.Assert(err, check.IsNil)
	mod := efit.Moderated
	for i := 0; i < nfeat; i++ {
		s2 := fit.Sigma[i] * fit.Sigma[i]
		lo, hi := math.Min(s2, mod.S2Prior), math.Max(s2, mod.S2Prior)
		c.Assert(mod.S2Post[i] >= lo-1e-12 && mod.S2Post[i] <= hi+1e-12, check.Equals, true)
	}
	rows, err := TopTable(efit, "BvsA", padjust.BH, 20)
	c.Assert(err, check.IsNil)
	hits := 0
	for _, r := range rows {
		if r.AdjP < 0.05 && strings.HasPrefix(r.Feature, "up") {
			hits++
		}
	}
	c.Check(hits >= 15, check.Equals, true, check.Commentf("hits %d", hits))
}
