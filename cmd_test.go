// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package bioassoc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/arvados/bioassoc/padjust"
	"gopkg.in/check.v1"
)

type cmdSuite struct{}

var _ = check.Suite(&cmdSuite{})

func (s *cmdSuite) TestThrottle(c *check.C) {
	th := throttle{Max: 3}
	var running, peak int32
	for i := 0; i < 20; i++ {
		th.Go(func() error {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil
		})
	}
	c.Check(th.Wait(), check.IsNil)
	c.Check(peak <= 3, check.Equals, true)

	th = throttle{}
	var ran int32
	for i := 0; i < 5; i++ {
		i := i
		th.Go(func() error {
			atomic.AddInt32(&ran, 1)
			if i == 1 {
				return errors.New("oops")
			}
			return nil
		})
	}
	c.Check(th.Wait(), check.ErrorMatches, "oops")
	c.Check(ran, check.Equals, int32(2))
}

func (s *cmdSuite) TestSeriesMatrixURL(c *check.C) {
	for in, out := range map[string]string{
		"GSE5281": "https://example.org/geo/GSE5nnn/GSE5281/matrix/GSE5281_series_matrix.txt.gz",
		"GSE1297": "https://example.org/geo/GSE1nnn/GSE1297/matrix/GSE1297_series_matrix.txt.gz",
		"GSE12":   "https://example.org/geo/GSEnnn/GSE12/matrix/GSE12_series_matrix.txt.gz",
	} {
		url, err := seriesMatrixURL("https://example.org/geo/", in)
		c.Check(err, check.IsNil)
		c.Check(url, check.Equals, out)
	}
	_, err := seriesMatrixURL("x", "GDS507")
	c.Check(err, check.ErrorMatches, `invalid GEO series accession "GDS507"`)
}

func (s *cmdSuite) TestParseS3URL(c *check.C) {
	bucket, key, ok := parseS3URL("s3://b/dir/file.gz")
	c.Check([]interface{}{bucket, key, ok}, check.DeepEquals, []interface{}{"b", "dir/file.gz", true})
	for _, bad := range []string{"/tmp/x", "s3://bucket", "s3://bucket/", "s3:///key"} {
		_, _, ok = parseS3URL(bad)
		c.Check(ok, check.Equals, false, check.Commentf("%q", bad))
	}
}

func (s *cmdSuite) TestConfig(c *check.C) {
	tmpdir := c.MkDir()
	good := writeTestFile(c, filepath.Join(tmpdir, "good.toml"), `
surrogates = 2
lfc = 0.5

[model]
intercept = false
[[model.terms]]
name = "disease_state"
levels = ["normal", "AD"]

[[contrasts]]
name = "AD-normal"
expr = "disease_stateAD - disease_statenormal"
`)
	cfg, err := loadDiffexpConfig(good)
	c.Assert(err, check.IsNil)
	c.Check(cfg.adjust, check.Equals, padjust.BH)
	c.Check(cfg.Alpha, check.Equals, 0.05)
	c.Check(cfg.Surrogates, check.Equals, 2)
	c.Check(cfg.Null.Intercept, check.Equals, true)
	c.Check(cfg.Null.Terms, check.HasLen, 0)
	c.Assert(cfg.contrasts, check.HasLen, 1)
	c.Check(cfg.contrasts[0].Coef, check.DeepEquals, map[string]float64{"disease_stateAD": 1, "disease_statenormal": -1})

	for _, trial := range []struct {
		toml string
		err  string
	}{
		{"[[contrasts]]\nname = \"x\"\nexpr = \"a - b\"\n", `.*model has no terms`},
		{"adjust = \"nope\"\n", `.*nope.*`},
		{"alpha = 1.5\n[[model.terms]]\nname = \"g\"\n", `.*alpha 1.5 out of range.*`},
		{"[[model.terms]]\nname = \"g\"\n", `.*no contrasts declared`},
		{"[model\n", `(?s).*`},
	} {
		fnm := writeTestFile(c, filepath.Join(tmpdir, "bad.toml"), trial.toml)
		_, err := loadDiffexpConfig(fnm)
		c.Check(err, check.ErrorMatches, trial.err, check.Commentf("%s", trial.toml))
	}
}

func (s *cmdSuite) TestReadTopTable(c *check.C) {
	tmpdir := c.MkDir()
	fnm := writeTestFile(c, filepath.Join(tmpdir, "top.tsv"), "ID\tlogFC\tAveExpr\tt\tP.Value\tadj.P.Val\tB\n"+
		"a\t2\t5\t9\t0.0001\t0.0004\t3\n"+
		"b\t-0.2\t5\t-4\t0.001\t0.002\t1\n"+
		"c\t-1.5\t5\t-3\t0.01\t0.0133\t0\n"+
		"d\t0.1\t5\t0.1\t0.9\t0.9\t-5\n")
	tt, err := readTopTable(context.Background(), fnm, nil)
	c.Assert(err, check.IsNil)
	c.Check(tt.HasAdjP, check.Equals, true)
	c.Check(tt.Features, check.Equals, 0)
	rows := tt.Rows
	c.Check(rows, check.HasLen, 4)
	c.Check(rows[2].AdjP, check.Equals, 0.0133)
	c.Check(adjustedSignificant(rows, 0.05, 0, padjust.BH), check.DeepEquals, []string{"a", "b", "c"})
	c.Check(adjustedSignificant(rows, 0.05, 1, padjust.BH), check.DeepEquals, []string{"a", "c"})
	c.Check(adjustedSignificant(rows, 0.001, 0, padjust.Bonferroni), check.DeepEquals, []string{"a"})

	// The table's own adjusted p-values count every fitted
	// feature, not just the listed ones.
	var full strings.Builder
	full.WriteString("ID\tlogFC\tP.Value\tadj.P.Val\n")
	full.WriteString("a0\t1\t0.01\t0.5\n")
	for i := 1; i < 100; i++ {
		fmt.Fprintf(&full, "a%d\t0\t0.5\t0.5\n", i)
	}
	tt, err = readTopTable(context.Background(), writeTestFile(c, filepath.Join(tmpdir, "full.tsv"), full.String()), nil)
	c.Assert(err, check.IsNil)
	c.Check(tt.Rows, check.HasLen, 100)
	adj := make([]float64, len(tt.Rows))
	for i, r := range tt.Rows {
		adj[i] = r.AdjP
	}
	c.Check(selectSignificant(tt.Rows, adj, 0.05, 0), check.HasLen, 0)
	c.Check(adjustedSignificant(tt.Rows, 0.05, 0, padjust.BH), check.HasLen, 0)

	tt, err = readTopTable(context.Background(), writeTestFile(c, filepath.Join(tmpdir, "top1.tsv"), "ID\tlogFC\tP.Value\tadj.P.Val\na0\t1\t0.01\t0.5\n# features\t100\n"), nil)
	c.Assert(err, check.IsNil)
	c.Check(tt.Rows, check.HasLen, 1)
	c.Check(tt.Features, check.Equals, 100)

	fnm = writeTestFile(c, filepath.Join(tmpdir, "bad.tsv"), "ID\tlogFC\n")
	_, err = readTopTable(context.Background(), fnm, nil)
	c.Check(err, check.ErrorMatches, `.*missing column "P.Value"`)
}

func (s *cmdSuite) TestSafeFilename(c *check.C) {
	c.Check(safeFilename("AD-Control"), check.Equals, "AD-Control")
	c.Check(safeFilename("(A+B)/2 - C"), check.Equals, "_A_B_2_-_C")
}

func (s *cmdSuite) TestWriteFile(c *check.C) {
	var stdout bytes.Buffer
	err := writeFile("-", &stdout, func(w io.Writer) error {
		_, err := w.Write([]byte("hello\n"))
		return err
	})
	c.Check(err, check.IsNil)
	c.Check(stdout.String(), check.Equals, "hello\n")

	fnm := filepath.Join(c.MkDir(), "out.txt")
	err = writeFile(fnm, nil, func(w io.Writer) error { return errors.New("failed") })
	c.Check(err, check.ErrorMatches, `.*out.txt: failed`)
	err = writeFile(fnm, nil, func(w io.Writer) error {
		_, err := io.WriteString(w, strings.Repeat("x", 100000))
		return err
	})
	c.Check(err, check.IsNil)
	fi, err := os.Stat(fnm)
	c.Assert(err, check.IsNil)
	c.Check(fi.Size(), check.Equals, int64(100000))
}

func (s *cmdSuite) TestDigest(c *check.C) {
	fnm := writeTestFile(c, filepath.Join(c.MkDir(), "x"), "abc")
	digest, err := fileDigest(context.Background(), fnm)
	c.Assert(err, check.IsNil)
	c.Check(digest, check.Equals, "bddd813c634239723171ef3fee98579b94964e3bb1cb3e427262c8c068d52319")
}
