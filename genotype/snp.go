// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package genotype holds biallelic SNP genotype data and implements
// Hardy-Weinberg tests and single-SNP case/control association under
// several inheritance models.
package genotype

import (
	"fmt"
	"sort"
	"strings"
)

// Missing is the allele count recorded for a missing call.
const Missing int8 = -1

// SNP holds one biallelic marker. Counts[i] is the number of copies
// of Alleles[1] (the minor allele) carried by sample i, or Missing.
type SNP struct {
	ID      string
	Alleles [2]string
	Counts  []int8
}

func isMissingCall(s string) bool {
	switch strings.ToUpper(s) {
	case "", "NA", "0", "00", "-", "--", "N", "NN", "N/N", "0/0", "./.", ".":
		return true
	}
	return false
}

// ParseCall splits a genotype call such as "AG", "A/G", "A G" or
// "A|G" into its two alleles. ok is false for a missing call.
func ParseCall(s string) (a, b string, ok bool, err error) {
	s = strings.TrimSpace(s)
	if isMissingCall(s) {
		return "", "", false, nil
	}
	for _, sep := range []string{"/", "|", " "} {
		if i := strings.Index(s, sep); i >= 0 {
			a, b = strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1:])
			if a == "" || b == "" || isMissingCall(a) || isMissingCall(b) {
				return "", "", false, nil
			}
			return strings.ToUpper(a), strings.ToUpper(b), true, nil
		}
	}
	if len(s) == 2 {
		return strings.ToUpper(s[:1]), strings.ToUpper(s[1:]), true, nil
	}
	return "", "", false, fmt.Errorf("cannot parse genotype call %q", s)
}

// NewSNP builds a SNP from one call per sample. The less frequent
// allele becomes the minor allele (ties: the allele that sorts
// last). More than two distinct alleles is an error.
func NewSNP(id string, calls []string) (*SNP, error) {
	type pair struct{ a, b string }
	parsed := make([]*pair, len(calls))
	alleleCount := map[string]int{}
	for i, call := range calls {
		a, b, ok, err := ParseCall(call)
		if err != nil {
			return nil, fmt.Errorf("%s sample %d: %w", id, i, err)
		}
		if !ok {
			continue
		}
		parsed[i] = &pair{a, b}
		alleleCount[a]++
		alleleCount[b]++
	}
	if len(alleleCount) > 2 {
		var alleles []string
		for a := range alleleCount {
			alleles = append(alleles, a)
		}
		sort.Strings(alleles)
		return nil, fmt.Errorf("%s: more than two alleles %q", id, alleles)
	}
	snp := &SNP{ID: id, Counts: make([]int8, len(calls))}
	var alleles []string
	for a := range alleleCount {
		alleles = append(alleles, a)
	}
	sort.Slice(alleles, func(i, j int) bool {
		ci, cj := alleleCount[alleles[i]], alleleCount[alleles[j]]
		if ci != cj {
			return ci > cj
		}
		return alleles[i] < alleles[j]
	})
	copy(snp.Alleles[:], alleles)
	for i, p := range parsed {
		if p == nil {
			snp.Counts[i] = Missing
			continue
		}
		n := int8(0)
		if snp.Alleles[1] != "" {
			if p.a == snp.Alleles[1] {
				n++
			}
			if p.b == snp.Alleles[1] {
				n++
			}
		}
		snp.Counts[i] = n
	}
	return snp, nil
}

// Genotype returns the call for sample i, e.g. "AG", or "" if
// missing.
func (snp *SNP) Genotype(i int) string {
	switch snp.Counts[i] {
	case 0:
		return snp.Alleles[0] + snp.Alleles[0]
	case 1:
		return snp.Alleles[0] + snp.Alleles[1]
	case 2:
		return snp.Alleles[1] + snp.Alleles[1]
	}
	return ""
}

// GenotypeCounts returns the number of samples (restricted to
// samples where mask is true, if mask is non-nil) with 0, 1 and 2
// copies of the minor allele.
func (snp *SNP) GenotypeCounts(mask []bool) [3]int {
	var counts [3]int
	for i, n := range snp.Counts {
		if n == Missing || (mask != nil && !mask[i]) {
			continue
		}
		counts[n]++
	}
	return counts
}

// MAF returns the minor allele frequency among called samples.
func (snp *SNP) MAF(mask []bool) float64 {
	c := snp.GenotypeCounts(mask)
	n := c[0] + c[1] + c[2]
	if n == 0 {
		return 0
	}
	return float64(c[1]+2*c[2]) / float64(2*n)
}

// CallRate returns the fraction of (masked) samples with a call.
func (snp *SNP) CallRate(mask []bool) float64 {
	called, total := 0, 0
	for i, n := range snp.Counts {
		if mask != nil && !mask[i] {
			continue
		}
		total++
		if n != Missing {
			called++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(called) / float64(total)
}

// Dosage returns the minor allele count of each sample as a float,
// NaN for missing calls.
func (snp *SNP) Dosage() []float64 {
	out := make([]float64, len(snp.Counts))
	for i, n := range snp.Counts {
		if n == Missing {
			out[i] = nan
		} else {
			out[i] = float64(n)
		}
	}
	return out
}
