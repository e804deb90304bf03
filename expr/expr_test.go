// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package expr

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"testing"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/check.v1"
)

func Test(t *testing.T) { check.TestingT(t) }

type exprSuite struct{}

var _ = check.Suite(&exprSuite{})

func randomMatrix(rnd *rand.Rand, rows, cols int) *Matrix {
	features := make([]string, rows)
	for i := range features {
		features[i] = fmt.Sprintf("probe%d", i)
	}
	samples := make([]string, cols)
	for j := range samples {
		samples[j] = fmt.Sprintf("GSM%d", 100+j)
	}
	data := mat.NewDense(rows, cols, nil)
	for j := 0; j < cols; j++ {
		scale := 1 + float64(j)
		for i := 0; i < rows; i++ {
			data.Set(i, j, scale*(10+rnd.ExpFloat64()*100))
		}
	}
	m, err := New(features, samples, data)
	if err != nil {
		panic(err)
	}
	return m
}

func (s *exprSuite) TestQuantileNormalizeAligns(c *check.C) {
	rnd := rand.New(rand.NewSource(42))
	for trial := 0; trial < 10; trial++ {
		rows, cols := 5+rnd.Intn(100), 2+rnd.Intn(8)
		m := randomMatrix(rnd, rows, cols)
		c.Check(CheckAligned(m, 1e-6), check.NotNil)
		qn, err := QuantileNormalize(m, MissingPropagate)
		c.Assert(err, check.IsNil)
		r2, c2 := qn.Dims()
		c.Check(r2, check.Equals, rows)
		c.Check(c2, check.Equals, cols)
		c.Check(qn.Features, check.DeepEquals, m.Features)
		c.Check(qn.Samples, check.DeepEquals, m.Samples)
		c.Check(CheckAligned(qn, 1e-9), check.IsNil)
		// within each sample, rank order is preserved
		for j := 0; j < cols; j++ {
			in, out := m.Col(j), qn.Col(j)
			for a := range in {
				for b := range in {
					if in[a] < in[b] {
						c.Check(out[a] <= out[b], check.Equals, true)
					}
				}
			}
		}
	}
}

func (s *exprSuite) TestQuantileNormalizeKnown(c *check.C) {
	// Worked example: columns sorted are {2,4,5},{1,3,6}; reference
	// is {1.5,3.5,5.5}.
	m, err := New([]string{"a", "b", "c"}, []string{"s1", "s2"}, mat.NewDense(3, 2, []float64{
		5, 3,
		2, 6,
		4, 1,
	}))
	c.Assert(err, check.IsNil)
	qn, err := QuantileNormalize(m, MissingError)
	c.Assert(err, check.IsNil)
	c.Check(qn.Col(0), check.DeepEquals, []float64{5.5, 1.5, 3.5})
	c.Check(qn.Col(1), check.DeepEquals, []float64{3.5, 5.5, 1.5})
}

func (s *exprSuite) TestQuantileNormalizeTies(c *check.C) {
	m, err := New([]string{"a", "b", "c"}, []string{"s1", "s2"}, mat.NewDense(3, 2, []float64{
		2, 1,
		2, 2,
		3, 3,
	}))
	c.Assert(err, check.IsNil)
	qn, err := QuantileNormalize(m, MissingPropagate)
	c.Assert(err, check.IsNil)
	// reference {1.5, 2, 3}; tied values in s1 get mean(1.5, 2)
	c.Check(qn.Col(0), check.DeepEquals, []float64{1.75, 1.75, 3})
	c.Check(qn.Col(1), check.DeepEquals, []float64{1.5, 2, 3})
}

func (s *exprSuite) TestMissingPolicies(c *check.C) {
	m, err := New([]string{"a", "b", "c", "d"}, []string{"s1", "s2", "s3"}, mat.NewDense(4, 3, []float64{
		1, 2, 3,
		4, math.NaN(), 6,
		7, 8, 9,
		10, 11, 12,
	}))
	c.Assert(err, check.IsNil)
	c.Check(m.Missing(), check.Equals, 1)

	_, err = QuantileNormalize(m, MissingError)
	c.Check(err, check.ErrorMatches, `missing intensity value: feature "b" sample "s2"`)

	qn, err := QuantileNormalize(m, MissingPropagate)
	c.Assert(err, check.IsNil)
	c.Check(math.IsNaN(qn.Data.At(1, 1)), check.Equals, true)
	c.Check(qn.Missing(), check.Equals, 1)
	// lowest and highest observed values map to the reference extremes
	c.Check(qn.Data.At(0, 1), check.Equals, qn.Data.At(0, 0))
	c.Check(qn.Data.At(3, 1), check.Equals, qn.Data.At(3, 0))

	qn, err = QuantileNormalize(m, MissingImpute)
	c.Assert(err, check.IsNil)
	c.Check(qn.Missing(), check.Equals, 0)
	// the input is untouched
	c.Check(math.IsNaN(m.Data.At(1, 1)), check.Equals, true)
}

func (s *exprSuite) TestLog2(c *check.C) {
	m, err := New([]string{"a"}, []string{"s1", "s2", "s3"}, mat.NewDense(1, 3, []float64{1, 8, math.NaN()}))
	c.Assert(err, check.IsNil)
	lg, err := Log2(m, 0)
	c.Assert(err, check.IsNil)
	c.Check(lg.Data.At(0, 0), check.Equals, 0.0)
	c.Check(lg.Data.At(0, 1), check.Equals, 3.0)
	c.Check(math.IsNaN(lg.Data.At(0, 2)), check.Equals, true)

	m.Data.Set(0, 0, 0)
	_, err = Log2(m, 0)
	c.Check(err, check.NotNil)
	lg, err = Log2(m, 1)
	c.Assert(err, check.IsNil)
	c.Check(lg.Data.At(0, 0), check.Equals, 0.0)
}

func (s *exprSuite) TestNormalizeThenLog(c *check.C) {
	rnd := rand.New(rand.NewSource(7))
	m := randomMatrix(rnd, 50, 4)
	c.Check(NeedsLog2(m), check.Equals, true)
	n, err := Normalize(m, Options{Log2: true})
	c.Assert(err, check.IsNil)
	c.Check(NeedsLog2(n), check.Equals, false)
	c.Check(CheckAligned(n, 1e-9), check.IsNil)
}

func (s *exprSuite) TestReadTSV(c *check.C) {
	m, err := ReadTSV(strings.NewReader("ID_REF\tGSM1\tGSM2\n\"1000_at\"\t1.5\tNA\n1001_at\t2\t3\n"))
	c.Assert(err, check.IsNil)
	c.Check(m.Features, check.DeepEquals, []string{"1000_at", "1001_at"})
	c.Check(m.Samples, check.DeepEquals, []string{"GSM1", "GSM2"})
	c.Check(math.IsNaN(m.Data.At(0, 1)), check.Equals, true)
	c.Check(m.Data.At(1, 1), check.Equals, 3.0)

	var buf bytes.Buffer
	c.Check(m.WriteTSV(&buf), check.IsNil)
	c.Check(buf.String(), check.Equals, "ID\tGSM1\tGSM2\n1000_at\t1.5\tNA\n1001_at\t2\t3\n")

	_, err = ReadTSV(strings.NewReader("ID a b\nx 1\n"))
	c.Check(err, check.ErrorMatches, `line 2: 2 fields, expected 3`)
	_, err = ReadTSV(strings.NewReader("ID a a\nx 1 2\n"))
	c.Check(err, check.ErrorMatches, `duplicate sample id "a"`)
}

func (s *exprSuite) TestReadSeriesMatrix(c *check.C) {
	in := `!Series_title	"Incipient Alzheimer's Disease"
!Series_geo_accession	"GSE1297"
!Sample_title	"Control 1"	"Severe AD 1"
!Sample_characteristics_ch1	"disease state: Control"	"disease state: AD"
!Sample_characteristics_ch1	"MMSE: 30"	"MMSE: 12"
!series_matrix_table_begin
"ID_REF"	"GSM21203"	"GSM21204"
"1000_at"	1045.1	998.2
"1001_at"	null	55.0
!series_matrix_table_end
`
	m, meta, err := ReadSeriesMatrix(strings.NewReader(in))
	c.Assert(err, check.IsNil)
	c.Check(meta.Accession, check.Equals, "GSE1297")
	c.Check(meta.Titles, check.DeepEquals, []string{"Control 1", "Severe AD 1"})
	c.Check(meta.Keys, check.DeepEquals, []string{"disease state", "MMSE"})
	c.Check(meta.Characteristics["disease state"], check.DeepEquals, []string{"Control", "AD"})
	c.Check(meta.Characteristics["MMSE"], check.DeepEquals, []string{"30", "12"})
	c.Check(m.Samples, check.DeepEquals, []string{"GSM21203", "GSM21204"})
	c.Check(math.IsNaN(m.Data.At(1, 0)), check.Equals, true)
}

func (s *exprSuite) TestSubsetAndFilter(c *check.C) {
	m, err := New([]string{"a", "b"}, []string{"s1", "s2", "s3"}, mat.NewDense(2, 3, []float64{
		1, 2, 3,
		10, 20, 30,
	}))
	c.Assert(err, check.IsNil)
	sub, err := m.SubsetSamples([]string{"s3", "s1"})
	c.Assert(err, check.IsNil)
	c.Check(sub.Row(1), check.DeepEquals, []float64{30, 10})
	_, err = m.SubsetSamples([]string{"s4"})
	c.Check(err, check.NotNil)
	f := m.FilterLowExpression(5)
	c.Check(f.Features, check.DeepEquals, []string{"b"})
}

func (s *exprSuite) TestDensity(c *check.C) {
	xs, ys := Density([]float64{1, 2, 2, 3, math.NaN()}, 64, 1)
	c.Assert(len(xs), check.Equals, 64)
	area := 0.0
	for i := 1; i < len(xs); i++ {
		area += (xs[i] - xs[i-1]) * (ys[i] + ys[i-1]) / 2
	}
	c.Check(math.Abs(area-1) < 0.01, check.Equals, true, check.Commentf("area %f", area))
}
