// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package bioassoc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/arvados/bioassoc/design"
	"github.com/arvados/bioassoc/expr"
	"github.com/arvados/bioassoc/genotype"
	log "github.com/sirupsen/logrus"
)

// loadMatrix reads an expression matrix from a TSV file or a GEO
// series matrix file (detected by its leading "!" metadata lines).
// meta is nil for TSV input.
func loadMatrix(ctx context.Context, fnm string, stdin io.Reader) (m *expr.Matrix, meta *expr.SeriesMeta, err error) {
	f, err := zopen(ctx, fnm, stdin)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	rdr := bufio.NewReaderSize(f, 1<<20)
	series := false
	for {
		b, err := rdr.Peek(1)
		if err != nil {
			break
		}
		if b[0] == '\n' || b[0] == '\r' {
			rdr.ReadByte()
			continue
		}
		series = b[0] == '!'
		break
	}
	if series {
		m, meta, err = expr.ReadSeriesMatrix(rdr)
	} else {
		m, err = expr.ReadTSV(rdr)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", fnm, err)
	}
	nfeat, nsamp := m.Dims()
	log.Infof("loaded %s: %d features x %d samples (%d missing values)", fnm, nfeat, nsamp, m.Missing())
	return m, meta, nil
}

// seriesTable turns series matrix sample characteristics into a
// covariate table. Keys are normalized to identifiers ("disease
// state" becomes "disease_state").
func seriesTable(m *expr.Matrix, meta *expr.SeriesMeta) (*design.Table, error) {
	var names []string
	var values [][]string
	for _, key := range meta.Keys {
		names = append(names, strings.ReplaceAll(strings.TrimSpace(key), " ", "_"))
		values = append(values, meta.Characteristics[key])
	}
	if len(meta.Titles) == len(m.Samples) {
		names = append(names, "title")
		values = append(values, meta.Titles)
	}
	return design.NewTable(m.Samples, names, values)
}

// loadCovariates reads a phenotype/covariate table. If fnm is empty,
// the covariates come from the series matrix metadata.
func loadCovariates(ctx context.Context, fnm, idColumn string, m *expr.Matrix, meta *expr.SeriesMeta) (*design.Table, error) {
	if fnm == "" {
		if meta == nil {
			return nil, fmt.Errorf("no phenotype file given and expression input is not a series matrix")
		}
		return seriesTable(m, meta)
	}
	f, err := zopen(ctx, fnm, nil)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := design.ReadTable(f, idColumn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	return t, nil
}

// loadGenotypes reads a genotype table with the named covariate
// columns, and returns the 0/1 outcome vector.
func loadGenotypes(ctx context.Context, fnm, idColumn string, outcome outcomeFlags, covariates []string, stdin io.Reader) (*genotype.Table, []float64, error) {
	f, err := zopen(ctx, fnm, stdin)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	t, err := genotype.ReadTable(f, idColumn, append([]string{outcome.Column}, covariates...))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", fnm, err)
	}
	y, err := t.Covariates.Outcome(outcome.Column, outcome.Case, outcome.Control)
	if err != nil {
		return nil, nil, err
	}
	ncase, ncontrol := 0, 0
	for _, v := range y {
		switch v {
		case 1:
			ncase++
		case 0:
			ncontrol++
		}
	}
	log.Infof("loaded %s: %d samples (%d cases, %d controls), %d SNPs", fnm, len(t.Samples), ncase, ncontrol, len(t.SNPs))
	return t, y, nil
}

// numericCovariates returns the named covariate columns as floats.
func numericCovariates(t *design.Table, names []string) ([][]float64, error) {
	var out [][]float64
	for _, name := range names {
		col, err := t.Column(name)
		if err != nil {
			return nil, err
		}
		x, err := col.Floats()
		if err != nil {
			return nil, fmt.Errorf("covariate %q: %w", name, err)
		}
		out = append(out, x)
	}
	return out, nil
}

// splitList splits a comma-separated flag value, dropping empty
// items.
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
