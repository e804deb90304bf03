// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package limma

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/arvados/bioassoc/padjust"
)

// Row is one feature's result for one coefficient or contrast.
type Row struct {
	Feature string
	LogFC   float64
	AveExpr float64
	T       float64
	P       float64
	AdjP    float64
	B       float64
}

// TopTable returns the results for coefficient coef, adjusted by
// method across all features and sorted by p-value (ties keep
// feature order). n <= 0 returns every feature.
func TopTable(fit *Fit, coef string, method padjust.Method, n int) ([]Row, error) {
	if fit.Moderated == nil {
		return nil, ErrNotModerated
	}
	j, err := fit.Coef(coef)
	if err != nil {
		return nil, err
	}
	nfeat := len(fit.Features)
	p := make([]float64, nfeat)
	for i := range p {
		p[i] = fit.Moderated.P.At(i, j)
	}
	adj := padjust.Adjust(p, method)
	rows := make([]Row, nfeat)
	for i := range rows {
		rows[i] = Row{
			Feature: fit.Features[i],
			LogFC:   fit.Coefficients.At(i, j),
			AveExpr: fit.Amean[i],
			T:       fit.Moderated.T.At(i, j),
			P:       p[i],
			AdjP:    adj[i],
			B:       fit.Moderated.Lods.At(i, j),
		}
	}
	sort.SliceStable(rows, func(a, b int) bool {
		pa, pb := rows[a].P, rows[b].P
		if math.IsNaN(pb) {
			return !math.IsNaN(pa)
		}
		return pa < pb
	})
	if n > 0 && n < len(rows) {
		rows = rows[:n]
	}
	return rows, nil
}

// WriteTopTable writes rows as TSV with limma's column names.
func WriteTopTable(w io.Writer, rows []Row) error {
	bufw := bufio.NewWriter(w)
	fmt.Fprint(bufw, "ID\tlogFC\tAveExpr\tt\tP.Value\tadj.P.Val\tB\n")
	for _, r := range rows {
		fmt.Fprintf(bufw, "%s\t%g\t%g\t%g\t%g\t%g\t%g\n", r.Feature, r.LogFC, r.AveExpr, r.T, r.P, r.AdjP, r.B)
	}
	return bufw.Flush()
}

// Decision is -1 (down), 0 (not significant) or 1 (up).
type Decision int8

// DecideTests classifies each feature x coefficient as significantly
// up, down or unchanged, adjusting p-values separately for each
// coefficient and requiring |logFC| >= lfc.
func DecideTests(fit *Fit, method padjust.Method, alpha, lfc float64) ([][]Decision, error) {
	if fit.Moderated == nil {
		return nil, ErrNotModerated
	}
	nfeat, ncoef := fit.Coefficients.Dims()
	out := make([][]Decision, nfeat)
	for i := range out {
		out[i] = make([]Decision, ncoef)
	}
	for j := 0; j < ncoef; j++ {
		p := make([]float64, nfeat)
		for i := range p {
			p[i] = fit.Moderated.P.At(i, j)
		}
		sig := padjust.Significant(padjust.Adjust(p, method), alpha)
		for i, ok := range sig {
			fc := fit.Coefficients.At(i, j)
			if !ok || math.Abs(fc) < lfc {
				continue
			}
			if fc > 0 {
				out[i][j] = 1
			} else if fc < 0 {
				out[i][j] = -1
			}
		}
	}
	return out, nil
}

// VennCounts counts features in each combination of significant (any
// direction) coefficients. Combination k has coefficient j included
// iff bit j of k is set.
func VennCounts(decisions [][]Decision, ncoef int) []int {
	counts := make([]int, 1<<ncoef)
	for _, row := range decisions {
		k := 0
		for j := 0; j < ncoef; j++ {
			if row[j] != 0 {
				k |= 1 << j
			}
		}
		counts[k]++
	}
	return counts
}
