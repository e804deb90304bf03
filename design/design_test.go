// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package design

import (
	"errors"
	"math"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/check.v1"
)

func Test(t *testing.T) { check.TestingT(t) }

type designSuite struct{}

var _ = check.Suite(&designSuite{})

const pheno = `SampleID	disease	age	batch
s1	Control	70	1
s2	AD	81	2
s3	Control	75	2
s4	AD	NA	1
s5	MCI	77	1
`

func (s *designSuite) TestReadTable(c *check.C) {
	t, err := ReadTable(strings.NewReader(pheno), "SampleID")
	c.Assert(err, check.IsNil)
	c.Check(t.Samples(), check.DeepEquals, []string{"s1", "s2", "s3", "s4", "s5"})
	c.Check(t.Names(), check.DeepEquals, []string{"disease", "age", "batch"})
	col, err := t.Column("disease")
	c.Assert(err, check.IsNil)
	c.Check(col.Kind, check.Equals, Factor)
	c.Check(col.Levels(), check.DeepEquals, []string{"AD", "Control", "MCI"})
	col, err = t.Column("age")
	c.Assert(err, check.IsNil)
	c.Check(col.Kind, check.Equals, Numeric)
	ages, err := col.Floats()
	c.Assert(err, check.IsNil)
	c.Check(math.IsNaN(ages[3]), check.Equals, true)
	_, err = t.Column("sex")
	c.Check(err, check.ErrorMatches, `no covariate named "sex".*`)

	// accessors return copies
	vals := col.Values()
	vals[0] = "999"
	c.Check(col.Values()[0], check.Equals, "70")
}

func (s *designSuite) TestAlignAndOutcome(c *check.C) {
	t, err := ReadTable(strings.NewReader(pheno), "")
	c.Assert(err, check.IsNil)
	a, err := t.Align([]string{"s3", "s1"})
	c.Assert(err, check.IsNil)
	col, _ := a.Column("disease")
	c.Check(col.Values(), check.DeepEquals, []string{"Control", "Control"})
	_, err = t.Align([]string{"s9"})
	c.Check(err, check.ErrorMatches, `sample "s9" not in covariate table`)

	y, err := t.Outcome("disease", "AD", "Control")
	c.Assert(err, check.IsNil)
	c.Check(y[:4], check.DeepEquals, []float64{0, 1, 0, 1})
	c.Check(math.IsNaN(y[4]), check.Equals, true)
	y, err = t.Outcome("disease", "AD", "")
	c.Assert(err, check.IsNil)
	c.Check(y[4], check.Equals, 0.0)
}

func (s *designSuite) TestBuildGroupMeans(c *check.C) {
	t, err := ReadTable(strings.NewReader(pheno), "SampleID")
	c.Assert(err, check.IsNil)
	m, err := Build(t, Spec{Terms: []Term{{Name: "disease", Levels: []string{"Control", "AD", "MCI"}}, {Name: "batch", AsFactor: true}}})
	c.Assert(err, check.IsNil)
	c.Check(m.Columns, check.DeepEquals, []string{"diseaseControl", "diseaseAD", "diseaseMCI", "batch2"})
	c.Check(mat.Row(nil, 1, m.X), check.DeepEquals, []float64{0, 1, 0, 1})
	c.Check(CheckRank(m), check.IsNil)
}

func (s *designSuite) TestBuildTreatmentCoding(c *check.C) {
	t, err := ReadTable(strings.NewReader(pheno), "SampleID")
	c.Assert(err, check.IsNil)
	m, err := Build(t, Spec{Intercept: true, Terms: []Term{{Name: "disease"}}})
	c.Assert(err, check.IsNil)
	c.Check(m.Columns, check.DeepEquals, []string{"(Intercept)", "diseaseControl", "diseaseMCI"})

	_, err = Build(t, Spec{Intercept: true, Terms: []Term{{Name: "age"}}})
	c.Check(err, check.ErrorMatches, `covariate "age" is missing for sample "s4"`)

	_, err = Build(t, Spec{Terms: []Term{{Name: "disease", Levels: []string{"AD", "Control"}}}})
	c.Check(err, check.ErrorMatches, `.*value "MCI".*not one of the declared levels.*`)
}

func (s *designSuite) TestRankDeficient(c *check.C) {
	t, err := NewTable([]string{"a", "b", "c", "d"},
		[]string{"group", "batch"},
		[][]string{{"x", "x", "y", "y"}, {"p", "p", "q", "q"}})
	c.Assert(err, check.IsNil)
	m, err := Build(t, Spec{Terms: []Term{{Name: "group"}, {Name: "batch"}}})
	c.Assert(err, check.IsNil)
	err = CheckRank(m)
	c.Check(errors.Is(err, ErrRankDeficient), check.Equals, true)
	c.Check(err, check.ErrorMatches, `.*"batchq".*`)
}

func (s *designSuite) TestWithColumns(c *check.C) {
	t, err := NewTable([]string{"a", "b", "c", "d"}, []string{"group"}, [][]string{{"x", "x", "y", "y"}})
	c.Assert(err, check.IsNil)
	m, err := Build(t, Spec{Terms: []Term{{Name: "group"}}})
	c.Assert(err, check.IsNil)
	sv := mat.NewDense(4, 1, []float64{0.1, -0.2, 0.3, -0.1})
	m2, err := m.WithColumns([]string{"SV1"}, sv)
	c.Assert(err, check.IsNil)
	c.Check(m2.Columns, check.DeepEquals, []string{"groupx", "groupy", "SV1"})
	_, p := m.Dims()
	c.Check(p, check.Equals, 2)
	c.Check(m2.X.At(2, 2), check.Equals, 0.3)
	_, err = m.WithColumns([]string{"groupx"}, sv)
	c.Check(err, check.NotNil)
}

func (s *designSuite) TestParseContrast(c *check.C) {
	for _, trial := range []struct {
		expr string
		coef map[string]float64
	}{
		{"diseaseAD - diseaseControl", map[string]float64{"diseaseAD": 1, "diseaseControl": -1}},
		{"0.5*a + 0.5*b - c", map[string]float64{"a": 0.5, "b": 0.5, "c": -1}},
		{"-a + b/2", map[string]float64{"a": -1, "b": 0.5}},
		{"1e-1*a", map[string]float64{"a": 0.1}},
	} {
		con, err := ParseContrast("x", trial.expr)
		c.Assert(err, check.IsNil, check.Commentf("%s", trial.expr))
		c.Check(con.Coef, check.DeepEquals, trial.coef, check.Commentf("%s", trial.expr))
	}
	for _, bad := range []string{"", "a -", "a b", "2*", "a/0"} {
		_, err := ParseContrast("x", bad)
		c.Check(err, check.NotNil, check.Commentf("%q", bad))
	}
}

func (s *designSuite) TestContrastMatrix(c *check.C) {
	t, err := NewTable([]string{"a", "b", "c", "d"}, []string{"group"}, [][]string{{"x", "x", "y", "y"}})
	c.Assert(err, check.IsNil)
	m, err := Build(t, Spec{Terms: []Term{{Name: "group"}}})
	c.Assert(err, check.IsNil)
	con, _ := ParseContrast("YvsX", "groupy - groupx")
	cm, err := m.ContrastMatrix([]Contrast{con})
	c.Assert(err, check.IsNil)
	c.Check(mat.Col(nil, 0, cm), check.DeepEquals, []float64{-1, 1})

	con, _ = ParseContrast("bad", "groupz - groupx")
	_, err = m.ContrastMatrix([]Contrast{con})
	c.Check(err, check.ErrorMatches, `.*"groupz".*not a design column.*`)

	// collinear design: a contrast outside the row space is not estimable
	x := mat.NewDense(4, 3, []float64{
		1, 1, 0,
		1, 1, 0,
		1, 0, 1,
		1, 0, 1,
	})
	c.Check(CheckEstimable(x, []float64{0, -1, 1}), check.IsNil)
	c.Check(errors.Is(CheckEstimable(x, []float64{1, 0, 0}), ErrNotEstimable), check.Equals, true)
}
