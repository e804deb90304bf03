// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package bioassoc

import (
	"io"

	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// writeNumpy writes m as a 2-D float64 .npy array in row-major
// order.
func writeNumpy(w io.Writer, m mat.Matrix) error {
	rows, cols := m.Dims()
	out := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out[i*cols+j] = m.At(i, j)
		}
	}
	npw, err := gonpy.NewWriter(nopCloser{w})
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"rows":  rows,
		"cols":  cols,
		"bytes": rows * cols * 8,
	}).Info("writing numpy")
	npw.Shape = []int{rows, cols}
	return npw.WriteFloat64(out)
}

// writeNumpyFile is writeNumpy to a named file; fnm == "" is a
// no-op.
func writeNumpyFile(fnm string, m mat.Matrix) error {
	if fnm == "" {
		return nil
	}
	return writeFile(fnm, nil, func(w io.Writer) error { return writeNumpy(w, m) })
}
