// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package padjust

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"gopkg.in/check.v1"
)

func Test(t *testing.T) { check.TestingT(t) }

type adjustSuite struct{}

var _ = check.Suite(&adjustSuite{})

func (s *adjustSuite) TestBHKnownValues(c *check.C) {
	// p.adjust(c(0.01, 0.04, 0.03, 0.2), "BH")
	adj := Adjust([]float64{0.01, 0.04, 0.03, 0.2}, BH)
	expect := []float64{0.04, 0.04 * 4 / 3, 0.04 * 4 / 3, 0.2}
	expect[1] = math.Min(0.04*4/3, 0.2)
	expect[2] = math.Min(0.03*4/2, expect[1])
	for i := range adj {
		c.Check(math.Abs(adj[i]-expect[i]) < 1e-12, check.Equals, true, check.Commentf("i=%d adj=%v expect=%v", i, adj[i], expect[i]))
	}
}

func (s *adjustSuite) TestBonferroniHolm(c *check.C) {
	p := []float64{0.01, 0.02, 0.5}
	bonf := Adjust(p, Bonferroni)
	for i, expect := range []float64{0.03, 0.06, 1} {
		c.Check(math.Abs(bonf[i]-expect) < 1e-12, check.Equals, true)
	}
	holm := Adjust(p, Holm)
	c.Check(math.Abs(holm[0]-0.03) < 1e-12, check.Equals, true)
	c.Check(math.Abs(holm[1]-0.04) < 1e-12, check.Equals, true)
	c.Check(holm[2], check.Equals, 0.5)
}

func (s *adjustSuite) TestMonotoneAndNotBelowRaw(c *check.C) {
	rnd := rand.New(rand.NewSource(1))
	for trial := 0; trial < 50; trial++ {
		n := 1 + rnd.Intn(200)
		p := make([]float64, n)
		for i := range p {
			p[i] = rnd.Float64()
			if rnd.Intn(10) == 0 && i > 0 {
				p[i] = p[i-1] // ties
			}
		}
		for _, method := range []Method{BH, BY, Bonferroni, Holm, None} {
			adj := Adjust(p, method)
			order := make([]int, n)
			for i := range order {
				order[i] = i
			}
			sort.SliceStable(order, func(a, b int) bool { return p[order[a]] < p[order[b]] })
			for k, i := range order {
				c.Check(adj[i] >= p[i], check.Equals, true)
				c.Check(adj[i] <= 1, check.Equals, true)
				if k > 0 {
					c.Check(adj[i] >= adj[order[k-1]], check.Equals, true, check.Commentf("method %v", method))
				}
			}
		}
	}
}

func (s *adjustSuite) TestLargestUnchanged(c *check.C) {
	// The largest p-value's BH factor is n/n, which must not round
	// the adjusted value below the raw one.
	rnd := rand.New(rand.NewSource(2))
	for n := 1; n <= 300; n++ {
		p := make([]float64, n)
		for i := range p {
			p[i] = rnd.Float64()
		}
		max := 0
		for i := range p {
			if p[i] > p[max] {
				max = i
			}
		}
		adj := Adjust(p, BH)
		c.Check(adj[max], check.Equals, p[max], check.Commentf("n=%d", n))
		for i := range p {
			c.Check(adj[i] >= p[i], check.Equals, true, check.Commentf("n=%d i=%d", n, i))
		}
	}
}

func (s *adjustSuite) TestNaN(c *check.C) {
	adj := Adjust([]float64{0.01, math.NaN(), 0.02}, BH)
	c.Check(math.IsNaN(adj[1]), check.Equals, true)
	c.Check(adj[0], check.Equals, 0.02)
	c.Check(adj[2], check.Equals, 0.02)
	c.Check(Significant(adj, 0.05), check.DeepEquals, []bool{true, false, true})
	c.Check(Count(Significant(adj, 0.05)), check.Equals, 2)
}

func (s *adjustSuite) TestParseMethod(c *check.C) {
	m, err := ParseMethod("fdr")
	c.Check(err, check.IsNil)
	c.Check(m, check.Equals, BH)
	m, err = ParseMethod("Bonferroni")
	c.Check(err, check.IsNil)
	c.Check(m.String(), check.Equals, "bonferroni")
	_, err = ParseMethod("qvalue")
	c.Check(err, check.NotNil)
}
