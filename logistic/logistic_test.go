// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package logistic

import (
	"errors"
	"math"
	"testing"

	"golang.org/x/exp/rand"
	"gopkg.in/check.v1"
)

func Test(t *testing.T) { check.TestingT(t) }

type logisticSuite struct{}

var _ = check.Suite(&logisticSuite{})

func simulate(seed uint64, n int, beta float64) (y, x []float64) {
	rnd := rand.New(rand.NewSource(seed))
	y = make([]float64, n)
	x = make([]float64, n)
	for i := range x {
		x[i] = float64(rnd.Intn(3))
		p := 1 / (1 + math.Exp(-(-0.5 + beta*x[i])))
		if rnd.Float64() < p {
			y[i] = 1
		}
	}
	return
}

func (s *logisticSuite) TestFitAndLRT(c *check.C) {
	y, x := simulate(1, 2000, 0.8)
	null, err := Fit(y, nil, nil, nil)
	c.Assert(err, check.IsNil)
	c.Check(null.Names, check.DeepEquals, []string{Intercept})
	full, err := Fit(y, [][]float64{x}, []string{"snp"}, nil)
	c.Assert(err, check.IsNil)
	c.Check(full.N, check.Equals, 2000)
	c.Check(math.Abs(full.Params[1]-0.8) < 0.2, check.Equals, true, check.Commentf("%v", full.Params))
	or, lo, hi, err := full.OddsRatio("snp")
	c.Assert(err, check.IsNil)
	c.Check(lo < or && or < hi, check.Equals, true)
	stat, df, p, err := LRT(null, full)
	c.Assert(err, check.IsNil)
	c.Check(df, check.Equals, 1)
	c.Check(stat > 50, check.Equals, true)
	c.Check(p < 1e-10, check.Equals, true)
	c.Check(full.AIC() < null.AIC(), check.Equals, true)
	wp, err := full.WaldP("snp")
	c.Assert(err, check.IsNil)
	c.Check(wp < 1e-10, check.Equals, true)
	_, err = full.WaldP("nope")
	c.Check(err, check.NotNil)

	pred := full.Predict([][]float64{{0, 2}})
	c.Check(pred[0] < pred[1], check.Equals, true)
}

func (s *logisticSuite) TestNoEffect(c *check.C) {
	y, x := simulate(2, 1000, 0)
	null, err := Fit(y, nil, nil, nil)
	c.Assert(err, check.IsNil)
	full, err := Fit(y, [][]float64{x}, []string{"snp"}, nil)
	c.Assert(err, check.IsNil)
	_, _, p, err := LRT(null, full)
	c.Assert(err, check.IsNil)
	c.Check(p > 0.001, check.Equals, true)
}

func (s *logisticSuite) TestWeightsMatchReplication(c *check.C) {
	y, x := simulate(3, 300, 0.5)
	y2 := append(append([]float64(nil), y...), y...)
	x2 := append(append([]float64(nil), x...), x...)
	w := make([]float64, len(y))
	for i := range w {
		w[i] = 2
	}
	weighted, err := Fit(y, [][]float64{x}, []string{"snp"}, w)
	c.Assert(err, check.IsNil)
	replicated, err := Fit(y2, [][]float64{x2}, []string{"snp"}, nil)
	c.Assert(err, check.IsNil)
	for i := range weighted.Params {
		c.Check(math.Abs(weighted.Params[i]-replicated.Params[i]) < 1e-6, check.Equals, true)
	}
}

func (s *logisticSuite) TestMissingAndDegenerate(c *check.C) {
	y := []float64{0, 1, 0, 1, math.NaN(), 1, 0}
	x := []float64{0, 1, 1, 2, 2, math.NaN(), 0}
	m, err := Fit(y, [][]float64{x}, []string{"snp"}, nil)
	c.Assert(err, check.IsNil)
	c.Check(m.N, check.Equals, 5)

	_, err = Fit([]float64{1, 1, 1}, nil, nil, nil)
	c.Check(errors.Is(err, ErrDegenerate), check.Equals, true)
	_, err = Fit([]float64{0, 1, 1}, [][]float64{{2, 2, 2}}, []string{"snp"}, nil)
	c.Check(errors.Is(err, ErrDegenerate), check.Equals, true)
	_, err = Fit([]float64{0, 1}, [][]float64{{1, 2}}, []string{"a", "b"}, nil)
	c.Check(err, check.NotNil)
}
