// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package expr holds expression matrices (features x samples) and
// the transforms applied to them before model fitting.
package expr

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"

	"gonum.org/v1/gonum/mat"
)

// Matrix is a features x samples matrix of intensities. Missing
// values are NaN. Feature and sample identifiers are aligned with
// the rows and columns of Data; transforms return a new Matrix and
// never reorder either axis.
type Matrix struct {
	Features []string
	Samples  []string
	Data     *mat.Dense
}

// New returns a Matrix after checking that dimensions agree and
// identifiers are unique.
func New(features, samples []string, data *mat.Dense) (*Matrix, error) {
	if data == nil {
		return nil, fmt.Errorf("expression matrix has no data")
	}
	r, c := data.Dims()
	if r != len(features) || c != len(samples) {
		return nil, fmt.Errorf("expression matrix is %dx%d but has %d feature ids and %d sample ids", r, c, len(features), len(samples))
	}
	if dup := firstDuplicate(features); dup != "" {
		return nil, fmt.Errorf("duplicate feature id %q", dup)
	}
	if dup := firstDuplicate(samples); dup != "" {
		return nil, fmt.Errorf("duplicate sample id %q", dup)
	}
	return &Matrix{Features: features, Samples: samples, Data: data}, nil
}

func firstDuplicate(ids []string) string {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return id
		}
		seen[id] = true
	}
	return ""
}

func (m *Matrix) Dims() (features, samples int) {
	return m.Data.Dims()
}

// Clone returns a deep copy of m.
func (m *Matrix) Clone() *Matrix {
	return &Matrix{
		Features: append([]string(nil), m.Features...),
		Samples:  append([]string(nil), m.Samples...),
		Data:     mat.DenseCopyOf(m.Data),
	}
}

// Row returns a copy of feature i's values.
func (m *Matrix) Row(i int) []float64 {
	return mat.Row(nil, i, m.Data)
}

// Col returns a copy of sample j's values.
func (m *Matrix) Col(j int) []float64 {
	return mat.Col(nil, j, m.Data)
}

// Missing returns the number of NaN cells.
func (m *Matrix) Missing() int {
	r, c := m.Data.Dims()
	n := 0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if math.IsNaN(m.Data.At(i, j)) {
				n++
			}
		}
	}
	return n
}

// SubsetSamples returns a new Matrix with the named samples, in the
// given order.
func (m *Matrix) SubsetSamples(ids []string) (*Matrix, error) {
	idx := make(map[string]int, len(m.Samples))
	for j, id := range m.Samples {
		idx[id] = j
	}
	rows, _ := m.Data.Dims()
	out := mat.NewDense(rows, len(ids), nil)
	for k, id := range ids {
		j, ok := idx[id]
		if !ok {
			return nil, fmt.Errorf("sample %q not in expression matrix", id)
		}
		out.SetCol(k, mat.Col(nil, j, m.Data))
	}
	return New(append([]string(nil), m.Features...), append([]string(nil), ids...), out)
}

// FilterFeatures returns a new Matrix with the features for which
// keep returns true. Row order is preserved.
func (m *Matrix) FilterFeatures(keep func(id string, row []float64) bool) *Matrix {
	rows, cols := m.Data.Dims()
	var ids []string
	var data []float64
	for i := 0; i < rows; i++ {
		row := m.Row(i)
		if keep(m.Features[i], row) {
			ids = append(ids, m.Features[i])
			data = append(data, row...)
		}
	}
	if len(ids) == 0 {
		return &Matrix{Samples: append([]string(nil), m.Samples...), Data: &mat.Dense{}}
	}
	return &Matrix{
		Features: ids,
		Samples:  append([]string(nil), m.Samples...),
		Data:     mat.NewDense(len(ids), cols, data),
	}
}

// FilterLowExpression drops features whose mean observed value is
// below min.
func (m *Matrix) FilterLowExpression(min float64) *Matrix {
	return m.FilterFeatures(func(_ string, row []float64) bool {
		return observedMean(row) >= min
	})
}

func observedMean(row []float64) float64 {
	sum, n := 0.0, 0
	for _, v := range row {
		if !math.IsNaN(v) {
			sum += v
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// WriteTSV writes m with a header row ("ID" followed by sample ids)
// and one line per feature. Missing values are written as "NA".
func (m *Matrix) WriteTSV(w io.Writer) error {
	bufw := bufio.NewWriter(w)
	bufw.WriteString("ID")
	for _, s := range m.Samples {
		bufw.WriteByte('\t')
		bufw.WriteString(s)
	}
	bufw.WriteByte('\n')
	rows, cols := m.Data.Dims()
	buf := make([]byte, 0, 32)
	for i := 0; i < rows; i++ {
		bufw.WriteString(m.Features[i])
		for j := 0; j < cols; j++ {
			bufw.WriteByte('\t')
			v := m.Data.At(i, j)
			if math.IsNaN(v) {
				bufw.WriteString("NA")
				continue
			}
			buf = strconv.AppendFloat(buf[:0], v, 'g', -1, 64)
			bufw.Write(buf)
		}
		if err := bufw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bufw.Flush()
}
