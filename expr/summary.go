// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package expr

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// quantileR7 returns the pth quantile of sorted v according the R-7
// method (R's default).
func quantileR7(v []float64, p float64) float64 {
	if len(v) == 0 {
		return math.NaN()
	}
	if p >= 1 {
		return v[len(v)-1]
	}
	h := float64(len(v)-1) * p
	i := int(h)
	return v[i] + (h-math.Floor(h))*(v[i+1]-v[i])
}

func observed(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

// NeedsLog2 reports whether m looks like raw (not yet log-scale)
// intensities, using the GEO2R rule: the 99th percentile exceeds
// 100, or the range exceeds 50 with a positive lower quartile.
func NeedsLog2(m *Matrix) bool {
	all := observed(m.Data.RawMatrix().Data)
	if len(all) == 0 {
		return false
	}
	sort.Float64s(all)
	q := func(p float64) float64 { return quantileR7(all, p) }
	return q(0.99) > 100 || (q(1)-q(0) > 50 && q(0.25) > 0)
}

// Summary is a five-number summary of one sample's observed values.
type Summary struct {
	Sample                   string
	Min, Q1, Median, Q3, Max float64
	Mean                     float64
	Missing                  int
}

func Summarize(m *Matrix) []Summary {
	_, cols := m.Dims()
	out := make([]Summary, cols)
	for j := 0; j < cols; j++ {
		col := m.Col(j)
		obs := observed(col)
		sort.Float64s(obs)
		s := Summary{Sample: m.Samples[j], Missing: len(col) - len(obs)}
		if len(obs) > 0 {
			s.Min = obs[0]
			s.Q1 = quantileR7(obs, 0.25)
			s.Median = quantileR7(obs, 0.5)
			s.Q3 = quantileR7(obs, 0.75)
			s.Max = obs[len(obs)-1]
			s.Mean = stat.Mean(obs, nil)
		} else {
			s.Min, s.Q1, s.Median, s.Q3, s.Max, s.Mean = math.NaN(), math.NaN(), math.NaN(), math.NaN(), math.NaN(), math.NaN()
		}
		out[j] = s
	}
	return out
}

// CheckAligned returns an error if any two samples' quartiles
// differ by more than tol, i.e., if the per-sample distributions
// have not been brought onto a common scale.
func CheckAligned(m *Matrix, tol float64) error {
	sums := Summarize(m)
	if len(sums) < 2 {
		return nil
	}
	ref := sums[0]
	for _, s := range sums[1:] {
		for _, q := range []struct {
			name string
			a, b float64
		}{
			{"Q1", ref.Q1, s.Q1},
			{"median", ref.Median, s.Median},
			{"Q3", ref.Q3, s.Q3},
		} {
			if math.Abs(q.a-q.b) > tol {
				return fmt.Errorf("sample %q %s %g differs from sample %q %s %g by more than %g", s.Sample, q.name, q.b, ref.Sample, q.name, q.a, tol)
			}
		}
	}
	return nil
}

// Density returns a Gaussian kernel density estimate of the observed
// values, evaluated at n evenly spaced points spanning the data
// range extended by three bandwidths on each side. The bandwidth is
// Silverman's rule of thumb (R's bw.nrd0) multiplied by adjust.
func Density(values []float64, n int, adjust float64) (xs, ys []float64) {
	obs := observed(values)
	if len(obs) == 0 || n < 2 {
		return nil, nil
	}
	sort.Float64s(obs)
	bw := BandwidthNRD0(obs) * adjust
	lo, hi := obs[0]-3*bw, obs[len(obs)-1]+3*bw
	xs = make([]float64, n)
	ys = make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range xs {
		xs[i] = lo + float64(i)*step
		ys[i] = KernelDensity(obs, xs[i], bw)
	}
	return xs, ys
}

// KernelDensity evaluates a Gaussian kernel density estimate of
// data at x with bandwidth bw.
func KernelDensity(data []float64, x, bw float64) float64 {
	sum := 0.0
	for _, v := range data {
		z := (x - v) / bw
		sum += math.Exp(-z * z / 2)
	}
	return sum / (float64(len(data)) * bw * math.Sqrt(2*math.Pi))
}

// BandwidthNRD0 is Silverman's rule of thumb for a sorted sample.
func BandwidthNRD0(sorted []float64) float64 {
	if len(sorted) < 2 {
		return 1
	}
	sd := stat.StdDev(sorted, nil)
	iqr := (quantileR7(sorted, 0.75) - quantileR7(sorted, 0.25)) / 1.34
	lo := math.Min(sd, iqr)
	if lo <= 0 {
		lo = sd
	}
	if lo <= 0 {
		lo = math.Abs(sorted[0])
	}
	if lo <= 0 {
		lo = 1
	}
	return 0.9 * lo * math.Pow(float64(len(sorted)), -0.2)
}
