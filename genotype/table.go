// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package genotype

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/arvados/bioassoc/design"
)

var nan = math.NaN()

// Table is a samples x SNPs genotype table with the per-sample
// covariates (outcome etc.) read from the same file.
type Table struct {
	Samples    []string
	SNPs       []*SNP
	Covariates *design.Table
}

// ReadTable reads a tab/whitespace-delimited genotype file with a
// header row. idColumn names the sample id column ("" means the first
// column). Columns named in covariates are loaded into
// Table.Covariates; every other column is a SNP.
func ReadTable(r io.Reader, idColumn string, covariates []string) (*Table, error) {
	isCov := map[string]bool{}
	for _, c := range covariates {
		isCov[c] = true
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1<<20), 1<<26)
	var header []string
	var rows [][]string
	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var fields []string
		if strings.Contains(line, "\t") {
			fields = strings.Split(line, "\t")
		} else {
			fields = strings.Fields(line)
		}
		for i, f := range fields {
			fields[i] = strings.Trim(strings.TrimSpace(f), `"`)
		}
		if header == nil {
			header = fields
			continue
		}
		if len(fields) != len(header) {
			return nil, fmt.Errorf("line %d: %d fields, header has %d", lineNum, len(fields), len(header))
		}
		rows = append(rows, fields)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if header == nil {
		return nil, fmt.Errorf("genotype table is empty")
	}
	idCol := -1
	if idColumn == "" {
		idCol = 0
	}
	for i, h := range header {
		if h == idColumn {
			idCol = i
		}
	}
	if idCol < 0 {
		return nil, fmt.Errorf("no column named %q in genotype header", idColumn)
	}
	inHeader := map[string]bool{}
	for _, h := range header {
		inHeader[h] = true
	}
	for _, c := range covariates {
		if !inHeader[c] {
			return nil, fmt.Errorf("no covariate column named %q in genotype header", c)
		}
	}
	t := &Table{Samples: make([]string, len(rows))}
	for i, row := range rows {
		t.Samples[i] = row[idCol]
	}
	var covNames []string
	var covValues [][]string
	for c, h := range header {
		if c == idCol {
			continue
		}
		col := make([]string, len(rows))
		for i, row := range rows {
			col[i] = row[c]
		}
		if isCov[h] {
			covNames = append(covNames, h)
			covValues = append(covValues, col)
			continue
		}
		snp, err := NewSNP(h, col)
		if err != nil {
			return nil, err
		}
		t.SNPs = append(t.SNPs, snp)
	}
	cov, err := design.NewTable(t.Samples, covNames, covValues)
	if err != nil {
		return nil, err
	}
	t.Covariates = cov
	return t, nil
}

// SNP returns the SNP with the given id, or nil.
func (t *Table) SNP(id string) *SNP {
	for _, snp := range t.SNPs {
		if snp.ID == id {
			return snp
		}
	}
	return nil
}

// Select returns a table with only the given SNPs, in the given
// order.
func (t *Table) Select(ids []string) (*Table, error) {
	out := &Table{Samples: t.Samples, Covariates: t.Covariates}
	for _, id := range ids {
		snp := t.SNP(id)
		if snp == nil {
			return nil, fmt.Errorf("no SNP named %q", id)
		}
		out.SNPs = append(out.SNPs, snp)
	}
	return out, nil
}

// Filter returns a table with the SNPs for which keep returns true.
func (t *Table) Filter(keep func(*SNP) bool) *Table {
	out := &Table{Samples: t.Samples, Covariates: t.Covariates}
	for _, snp := range t.SNPs {
		if keep(snp) {
			out.SNPs = append(out.SNPs, snp)
		}
	}
	return out
}

// IDs returns the SNP ids in table order.
func (t *Table) IDs() []string {
	ids := make([]string, len(t.SNPs))
	for i, snp := range t.SNPs {
		ids[i] = snp.ID
	}
	return ids
}

// FilterCallRate keeps SNPs called in at least min of the samples.
func (t *Table) FilterCallRate(min float64) *Table {
	return t.Filter(func(snp *SNP) bool { return snp.CallRate(nil) >= min })
}

// FilterMAF keeps SNPs with minor allele frequency at least min.
func (t *Table) FilterMAF(min float64) *Table {
	return t.Filter(func(snp *SNP) bool { return snp.MAF(nil) >= min })
}

// Mask returns a mask selecting samples where outcome == value.
func Mask(outcome []float64, value float64) []bool {
	mask := make([]bool, len(outcome))
	for i, v := range outcome {
		mask[i] = v == value
	}
	return mask
}
