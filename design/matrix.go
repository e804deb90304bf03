// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package design

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrRankDeficient = errors.New("design matrix is not full rank")
	ErrNotEstimable  = errors.New("contrast is not estimable")
)

// Term declares one covariate in a model. Factor levels are taken in
// the given order (the first one is the reference level under
// treatment coding); if Levels is empty, the column's sorted levels
// are used. AsFactor forces a numeric-looking column (e.g. batch
// numbers) to be treated as a factor.
type Term struct {
	Name     string   `toml:"name"`
	Levels   []string `toml:"levels"`
	AsFactor bool     `toml:"factor"`
}

// Spec is a declared model: an optional intercept plus terms.
//
// Without an intercept, the first factor term is coded with one
// indicator column per level (group means), and later factors use
// treatment coding. With an intercept, every factor uses treatment
// coding. Column names follow R: term name + level.
type Spec struct {
	Intercept bool   `toml:"intercept"`
	Terms     []Term `toml:"terms"`
}

func (spec Spec) String() string {
	var parts []string
	if spec.Intercept {
		parts = append(parts, "1")
	} else {
		parts = append(parts, "0")
	}
	for _, t := range spec.Terms {
		parts = append(parts, t.Name)
	}
	return "~ " + strings.Join(parts, " + ")
}

// Matrix is a design matrix: one row per sample, one named column
// per model coefficient. Matrices are never modified after Build or
// WithColumns returns them.
type Matrix struct {
	Samples []string
	Columns []string
	X       *mat.Dense
}

// Build constructs the design matrix for spec from t.
func Build(t *Table, spec Spec) (*Matrix, error) {
	n := t.Len()
	var names []string
	var cols [][]float64
	if spec.Intercept {
		names = append(names, "(Intercept)")
		cols = append(cols, constant(n, 1))
	}
	fullFactorDone := spec.Intercept
	for _, term := range spec.Terms {
		col, err := t.Column(term.Name)
		if err != nil {
			return nil, err
		}
		if col.Kind == Numeric && !term.AsFactor {
			for i, v := range col.numbers {
				if math.IsNaN(v) {
					return nil, fmt.Errorf("covariate %q is missing for sample %q", term.Name, t.samples[i])
				}
			}
			names = append(names, term.Name)
			cols = append(cols, append([]float64(nil), col.numbers...))
			continue
		}
		levels := term.Levels
		if len(levels) == 0 {
			levels = col.Levels()
		}
		levelIndex := make(map[string]int, len(levels))
		for i, l := range levels {
			levelIndex[l] = i
		}
		for i, v := range col.strings {
			if _, ok := levelIndex[v]; !ok {
				return nil, fmt.Errorf("covariate %q value %q for sample %q is not one of the declared levels %q", term.Name, v, t.samples[i], levels)
			}
		}
		first := 1
		if !fullFactorDone {
			first = 0
			fullFactorDone = true
		}
		if len(levels)-first < 1 {
			return nil, fmt.Errorf("factor %q has only %d level(s)", term.Name, len(levels))
		}
		for _, level := range levels[first:] {
			ind := make([]float64, n)
			for i, v := range col.strings {
				if v == level {
					ind[i] = 1
				}
			}
			names = append(names, term.Name+level)
			cols = append(cols, ind)
		}
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("model %s has no columns", spec)
	}
	x := mat.NewDense(n, len(cols), nil)
	for j, col := range cols {
		x.SetCol(j, col)
	}
	return &Matrix{Samples: t.Samples(), Columns: names, X: x}, nil
}

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func (m *Matrix) Dims() (samples, coefs int) { return m.X.Dims() }

// ColumnIndex returns the index of the named column, or -1.
func (m *Matrix) ColumnIndex(name string) int {
	for i, c := range m.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// WithColumns returns a new Matrix with extra columns (e.g.
// surrogate variables) appended. cols must have one row per sample.
func (m *Matrix) WithColumns(names []string, cols mat.Matrix) (*Matrix, error) {
	n, p := m.X.Dims()
	if cols == nil || len(names) == 0 {
		return &Matrix{Samples: append([]string(nil), m.Samples...), Columns: append([]string(nil), m.Columns...), X: mat.DenseCopyOf(m.X)}, nil
	}
	r, k := cols.Dims()
	if r != n || k != len(names) {
		return nil, fmt.Errorf("cannot append %dx%d columns (%d names) to design with %d rows", r, k, len(names), n)
	}
	for _, name := range names {
		if m.ColumnIndex(name) >= 0 {
			return nil, fmt.Errorf("design already has a column named %q", name)
		}
	}
	x := mat.NewDense(n, p+k, nil)
	x.Slice(0, n, 0, p).(*mat.Dense).Copy(m.X)
	x.Slice(0, n, p, p+k).(*mat.Dense).Copy(cols)
	return &Matrix{
		Samples: append([]string(nil), m.Samples...),
		Columns: append(append([]string(nil), m.Columns...), names...),
		X:       x,
	}, nil
}

// Rank returns the numerical rank of x.
func Rank(x mat.Matrix) int {
	var svd mat.SVD
	if !svd.Factorize(x, mat.SVDNone) {
		return 0
	}
	vals := svd.Values(nil)
	if len(vals) == 0 {
		return 0
	}
	r, c := x.Dims()
	tol := float64(max(r, c)) * vals[0] * 1e-12
	rank := 0
	for _, v := range vals {
		if v > tol {
			rank++
		}
	}
	return rank
}

// CheckRank returns ErrRankDeficient, naming the columns that are
// linear combinations of earlier columns, if m is not full column
// rank or has fewer rows than columns.
func CheckRank(m *Matrix) error {
	n, p := m.X.Dims()
	if n < p {
		return fmt.Errorf("%w: %d samples, %d coefficients", ErrRankDeficient, n, p)
	}
	if Rank(m.X) == p {
		return nil
	}
	var redundant []string
	var keep []int
	for j := 0; j < p; j++ {
		cand := append(append([]int(nil), keep...), j)
		if Rank(columns(m.X, cand)) == len(cand) {
			keep = cand
		} else {
			redundant = append(redundant, m.Columns[j])
		}
	}
	return fmt.Errorf("%w: column(s) %q are linear combinations of other columns", ErrRankDeficient, redundant)
}

func columns(x *mat.Dense, idx []int) *mat.Dense {
	n, _ := x.Dims()
	out := mat.NewDense(n, len(idx), nil)
	for k, j := range idx {
		out.SetCol(k, mat.Col(nil, j, x))
	}
	return out
}
