// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package bioassoc

import (
	"math/rand"
	"strings"
	"testing"

	"gopkg.in/check.v1"
)

type regionSuite struct{}

var _ = check.Suite(&regionSuite{})

func (s *regionSuite) TestRegionSet(c *check.C) {
	rs := regionSet{}
	for i := 0; i < 100000; i++ {
		start := rand.Int63() % 100000
		end := rand.Int63()%100000 + start
		if start <= 9000 && end >= 8000 ||
			start <= 8 && end >= 4 ||
			start <= 1 {
			continue
		}
		rs.Add("1", start, end)
	}
	rs.Add("1", 1200, 3400)
	rs.Add("1", 5600, 7800)
	rs.Add("1", 5300, 7900)
	rs.Add("1", 9900, 9900)
	rs.Add("1", 1, 1)
	rs.Add("1", 0, 0)
	rs.Add("1", 2, 2)
	rs.Add("1", 9, 9)
	rs.Freeze()
	c.Check(rs.Contains("chr1", 1), check.Equals, true)
	c.Check(rs.Overlaps("1", 4, 8), check.Equals, false)
	c.Check(rs.Overlaps("1", 7800, 8000), check.Equals, true)
	c.Check(rs.Overlaps("1", 8000, 9000), check.Equals, false)
	c.Check(rs.Contains("1999", 1), check.Equals, false)
}

// Every interval must be found, whatever the tree shape.
func (s *regionSuite) TestSmallSets(c *check.C) {
	for n := 1; n <= 33; n++ {
		rs := regionSet{}
		for i := 0; i < n; i++ {
			rs.Add("X", int64(i*10), int64(i*10+5))
		}
		rs.Freeze()
		for i := 0; i < n; i++ {
			c.Check(rs.Contains("X", int64(i*10+3)), check.Equals, true, check.Commentf("n=%d i=%d", n, i))
			c.Check(rs.Contains("X", int64(i*10+7)), check.Equals, false, check.Commentf("n=%d i=%d", n, i))
		}
	}
}

func (s *regionSuite) TestParseRegion(c *check.C) {
	for _, trial := range []struct {
		in         string
		chrom      string
		start, end int64
		err        string
	}{
		{in: "chr6:31,543,000-31,546,000", chrom: "6", start: 31543000, end: 31546000},
		{in: "X:5-5", chrom: "X", start: 5, end: 5},
		{in: "chr2", chrom: "2", start: 0, end: 1<<62 - 1},
		{in: "6:10-5", err: `invalid region "6:10-5": end < start`},
		{in: "6:10", err: `invalid region "6:10": expected chr:start-end`},
		{in: "6:a-b", err: `invalid region "6:a-b": .*`},
		{in: "", err: `empty region`},
	} {
		chrom, start, end, err := parseRegion(trial.in)
		if trial.err != "" {
			c.Check(err, check.ErrorMatches, trial.err)
			continue
		}
		c.Check(err, check.IsNil)
		c.Check([]interface{}{chrom, start, end}, check.DeepEquals, []interface{}{trial.chrom, trial.start, trial.end})
	}
}

func (s *regionSuite) TestReadBED(c *check.C) {
	rs := regionSet{}
	err := rs.readBED(strings.NewReader("track name=x\n# comment\nchr1\t99\t200\tname\n2\t0\t1\n"))
	c.Assert(err, check.IsNil)
	rs.Freeze()
	c.Check(rs.Len(), check.Equals, 2)
	c.Check(rs.Contains("1", 99), check.Equals, false)
	c.Check(rs.Contains("1", 100), check.Equals, true)
	c.Check(rs.Contains("1", 200), check.Equals, true)
	c.Check(rs.Contains("chr2", 1), check.Equals, true)

	err = (&regionSet{}).readBED(strings.NewReader("chr1\t5\n"))
	c.Check(err, check.ErrorMatches, `line 1: expected at least 3 fields`)
}

func BenchmarkRegionSet1000(b *testing.B) {
	benchmarkRegionSet(b, 1000)
}

func BenchmarkRegionSet100000(b *testing.B) {
	benchmarkRegionSet(b, 100000)
}

func benchmarkRegionSet(b *testing.B, size int) {
	rs := regionSet{}
	for i := 0; i < size; i++ {
		start := rand.Int63() % 10000000
		end := rand.Int63()%300 + start
		rs.Add("B", start, end)
	}
	rs.Freeze()
	for n := 0; n < b.N; n++ {
		start := rand.Int63() % 10000000
		rs.Overlaps("B", start, start+rand.Int63()%300)
	}
}
