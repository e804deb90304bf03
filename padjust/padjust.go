// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package padjust adjusts p-values for multiple comparisons.
package padjust

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

type Method int

const (
	BH Method = iota // Benjamini & Hochberg false discovery rate
	BY               // Benjamini & Yekutieli, valid under dependence
	Bonferroni
	Holm
	None
)

var methodNames = map[Method]string{
	BH:         "BH",
	BY:         "BY",
	Bonferroni: "bonferroni",
	Holm:       "holm",
	None:       "none",
}

func (m Method) String() string {
	if s, ok := methodNames[m]; ok {
		return s
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

// ParseMethod accepts the method names used by R's p.adjust ("BH",
// "fdr", "BY", "bonferroni", "holm", "none"), case-insensitively.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(s) {
	case "bh", "fdr", "":
		return BH, nil
	case "by":
		return BY, nil
	case "bonferroni":
		return Bonferroni, nil
	case "holm":
		return Holm, nil
	case "none":
		return None, nil
	}
	return 0, fmt.Errorf("unknown p-value adjustment method %q", s)
}

// Adjust returns adjusted p-values, in the same order as p.
//
// NaN entries are left as NaN and do not count towards the number
// of tests. When the non-NaN p-values are sorted ascending (ties in
// original order), the adjusted values are non-decreasing, and each
// adjusted value is >= the corresponding raw value.
func Adjust(p []float64, method Method) []float64 {
	adj := make([]float64, len(p))
	idx := make([]int, 0, len(p))
	for i, v := range p {
		if math.IsNaN(v) {
			adj[i] = math.NaN()
			continue
		}
		idx = append(idx, i)
	}
	n := len(idx)
	if n == 0 {
		return adj
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return p[idx[a]] < p[idx[b]]
	})
	nf := float64(n)
	switch method {
	case None:
		for _, i := range idx {
			adj[i] = p[i]
		}
	case Bonferroni:
		for _, i := range idx {
			adj[i] = math.Min(1, p[i]*nf)
		}
	case Holm:
		running := 0.0
		for rank, i := range idx {
			v := math.Min(1, p[i]*(nf-float64(rank)))
			if v > running {
				running = v
			}
			adj[i] = running
		}
	case BH, BY:
		q := 1.0
		if method == BY {
			q = 0
			for k := 1; k <= n; k++ {
				q += 1 / float64(k)
			}
		}
		running := 1.0
		for rank := n - 1; rank >= 0; rank-- {
			i := idx[rank]
			v := math.Min(1, math.Max(p[i], q*(nf/float64(rank+1))*p[i]))
			if v < running {
				running = v
			}
			adj[i] = running
		}
	default:
		panic(fmt.Sprintf("padjust: unsupported method %v", method))
	}
	return adj
}

// Significant returns a mask with true where adj <= alpha. NaN
// entries are never significant.
func Significant(adj []float64, alpha float64) []bool {
	mask := make([]bool, len(adj))
	for i, v := range adj {
		mask[i] = v <= alpha
	}
	return mask
}

// Count returns the number of true entries in mask.
func Count(mask []bool) int {
	n := 0
	for _, b := range mask {
		if b {
			n++
		}
	}
	return n
}
