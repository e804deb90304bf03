// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package expr

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// ErrMissingValue is returned by MissingError normalization when
// the input has a NaN cell.
var ErrMissingValue = errors.New("missing intensity value")

// MissingPolicy controls how normalization treats NaN cells.
type MissingPolicy int

const (
	// MissingPropagate leaves missing cells NaN. Observed values
	// in each sample are mapped onto the reference distribution
	// by their rank fraction among that sample's observed values.
	MissingPropagate MissingPolicy = iota
	// MissingImpute replaces each missing cell with the median of
	// the feature's observed values before normalizing.
	MissingImpute
	// MissingError refuses to normalize a matrix with missing
	// cells.
	MissingError
)

func (p MissingPolicy) String() string {
	switch p {
	case MissingPropagate:
		return "propagate"
	case MissingImpute:
		return "impute"
	case MissingError:
		return "error"
	}
	return fmt.Sprintf("MissingPolicy(%d)", int(p))
}

func ParseMissingPolicy(s string) (MissingPolicy, error) {
	switch strings.ToLower(s) {
	case "propagate", "":
		return MissingPropagate, nil
	case "impute":
		return MissingImpute, nil
	case "error":
		return MissingError, nil
	}
	return 0, fmt.Errorf("unknown missing-value policy %q (want propagate, impute, or error)", s)
}

type Options struct {
	Missing MissingPolicy
	// Apply log2(x+Log2Offset) after quantile normalization.
	Log2       bool
	Log2Offset float64
}

// Normalize quantile-normalizes m and then (if opts.Log2) applies a
// log2 transform.
func Normalize(m *Matrix, opts Options) (*Matrix, error) {
	qn, err := QuantileNormalize(m, opts.Missing)
	if err != nil {
		return nil, err
	}
	if !opts.Log2 {
		return qn, nil
	}
	return Log2(qn, opts.Log2Offset)
}

// QuantileNormalize aligns every sample's value distribution to a
// common reference: the mean, across samples, of the sorted sample
// values. Tied values within a sample receive the mean of the
// reference values spanning their ranks. The result is
// deterministic and keeps both identifier axes as they are.
func QuantileNormalize(m *Matrix, policy MissingPolicy) (*Matrix, error) {
	rows, cols := m.Dims()
	switch policy {
	case MissingError:
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				if math.IsNaN(m.Data.At(i, j)) {
					return nil, fmt.Errorf("%w: feature %q sample %q", ErrMissingValue, m.Features[i], m.Samples[j])
				}
			}
		}
	case MissingImpute:
		m = imputeRowMedian(m)
	}

	sorted := make([][]float64, cols)
	for j := range sorted {
		for _, v := range m.Col(j) {
			if !math.IsNaN(v) {
				sorted[j] = append(sorted[j], v)
			}
		}
		sort.Float64s(sorted[j])
	}

	ref := make([]float64, rows)
	contributing := 0
	for j := range sorted {
		if len(sorted[j]) == 0 {
			continue
		}
		contributing++
		for i := range ref {
			ref[i] += interpolate(sorted[j], gridFraction(i, rows))
		}
	}
	if contributing == 0 {
		return m.Clone(), nil
	}
	for i := range ref {
		ref[i] /= float64(contributing)
	}

	out := mat.NewDense(rows, cols, nil)
	for j := 0; j < cols; j++ {
		col := m.Col(j)
		order := make([]int, 0, rows)
		for i, v := range col {
			if math.IsNaN(v) {
				out.Set(i, j, math.NaN())
				continue
			}
			order = append(order, i)
		}
		sort.SliceStable(order, func(a, b int) bool {
			return col[order[a]] < col[order[b]]
		})
		n := len(order)
		for start := 0; start < n; {
			end := start + 1
			for end < n && col[order[end]] == col[order[start]] {
				end++
			}
			target := 0.0
			for pos := start; pos < end; pos++ {
				target += interpolate(ref, gridFraction(pos, n))
			}
			target /= float64(end - start)
			for pos := start; pos < end; pos++ {
				out.Set(order[pos], j, target)
			}
			start = end
		}
	}
	return &Matrix{
		Features: append([]string(nil), m.Features...),
		Samples:  append([]string(nil), m.Samples...),
		Data:     out,
	}, nil
}

func gridFraction(pos, n int) float64 {
	if n <= 1 {
		return 0
	}
	return float64(pos) / float64(n-1)
}

// interpolate returns the value at fraction p (0..1) along sorted,
// interpolating linearly between neighbors.
func interpolate(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	h := float64(len(sorted)-1) * p
	i := int(math.Floor(h))
	if i >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	return sorted[i] + (h-float64(i))*(sorted[i+1]-sorted[i])
}

func imputeRowMedian(m *Matrix) *Matrix {
	out := m.Clone()
	rows, cols := out.Dims()
	for i := 0; i < rows; i++ {
		row := out.Row(i)
		var obs []float64
		for _, v := range row {
			if !math.IsNaN(v) {
				obs = append(obs, v)
			}
		}
		if len(obs) == 0 || len(obs) == cols {
			continue
		}
		sort.Float64s(obs)
		med := quantileR7(obs, 0.5)
		for j, v := range row {
			if math.IsNaN(v) {
				out.Data.Set(i, j, med)
			}
		}
	}
	return out
}

// Log2 returns log2(x+offset) for every cell. NaN cells stay NaN. A
// cell with x+offset <= 0 is an error: raise offset instead of
// letting -Inf into the model.
func Log2(m *Matrix, offset float64) (*Matrix, error) {
	rows, cols := m.Dims()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := m.Data.At(i, j)
			if math.IsNaN(v) {
				out.Set(i, j, v)
				continue
			}
			if v+offset <= 0 {
				return nil, fmt.Errorf("cannot take log2 of %g (feature %q sample %q, offset %g)", v, m.Features[i], m.Samples[j], offset)
			}
			out.Set(i, j, math.Log2(v+offset))
		}
	}
	return &Matrix{
		Features: append([]string(nil), m.Features...),
		Samples:  append([]string(nil), m.Samples...),
		Data:     out,
	}, nil
}
