// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package bioassoc

import (
	"context"
	"flag"
	"fmt"
	"io"
	"sort"

	"github.com/arvados/bioassoc/annot"
	"github.com/arvados/bioassoc/genotype"
	log "github.com/sirupsen/logrus"
)

// outcomeFlags selects the binary outcome column of a genotype
// table.
type outcomeFlags struct {
	Column  string
	Case    string
	Control string
}

func (o *outcomeFlags) Flags(flags *flag.FlagSet) {
	flags.StringVar(&o.Column, "outcome", "casecontrol", "outcome `column` name")
	flags.StringVar(&o.Case, "case", "1", "outcome `value` for cases")
	flags.StringVar(&o.Control, "control", "0", "outcome `value` for controls (empty: any other value)")
}

// parseFlags parses args, returning (done=true, code) if the caller
// should return immediately.
func parseFlags(flags *flag.FlagSet, args []string) (code int, done bool) {
	err := flags.Parse(args)
	if err == flag.ErrHelp {
		return 0, true
	} else if err != nil {
		return 2, true
	}
	if flags.NArg() > 0 {
		fmt.Fprintf(flags.Output(), "unexpected arguments: %q\n", flags.Args())
		return 2, true
	}
	return 0, false
}

// genotypeFlags selects a genotype table, its outcome and covariate
// columns, and the SNPs to analyze.
type genotypeFlags struct {
	Input       string
	IDColumn    string
	Outcome     outcomeFlags
	Covariates  string
	SNPs        string
	Regions     string
	BED         string
	Annot       string
	MinCallRate float64
	MinMAF      float64
	HWE         float64

	hweFilter bool
}

func (g *genotypeFlags) Flags(flags *flag.FlagSet) {
	flags.StringVar(&g.Input, "i", "-", "genotype `file` (samples x SNPs, with outcome and covariate columns)")
	flags.StringVar(&g.IDColumn, "id-column", "", "sample id `column` (default: first column)")
	g.Outcome.Flags(flags)
	flags.StringVar(&g.Covariates, "covariates", "", "comma-separated numeric covariate `columns`")
	flags.StringVar(&g.SNPs, "snps", "", "comma-separated SNP `ids` to analyze, in order (default: all)")
	flags.StringVar(&g.Regions, "region", "", "comma-separated `regions` (chr:start-end) to analyze; requires -annot")
	flags.StringVar(&g.BED, "regions-bed", "", "BED `file` of regions to analyze; requires -annot")
	flags.StringVar(&g.Annot, "annot", "", "annotation snapshot `file` with SNP positions")
	flags.Float64Var(&g.MinCallRate, "min-call-rate", 0, "drop SNPs called in fewer than this fraction of samples")
	flags.Float64Var(&g.MinMAF, "min-maf", 0, "drop SNPs with minor allele frequency below this")
}

// HWEFlags adds the -hwe flag. Commands that call it drop SNPs out
// of Hardy-Weinberg equilibrium among controls in Load.
func (g *genotypeFlags) HWEFlags(flags *flag.FlagSet) {
	g.hweFilter = true
	flags.Float64Var(&g.HWE, "hwe", genotype.DefaultHWEThreshold, "drop SNPs with exact HWE p-value among controls below `p` (0: no filter)")
}

// Load reads the table and applies the SNP selection and filters.
// When regions are given, the selected SNPs are ordered by position.
func (g *genotypeFlags) Load(ctx context.Context, stdin io.Reader) (*genotype.Table, []float64, error) {
	t, y, err := loadGenotypes(ctx, g.Input, g.IDColumn, g.Outcome, splitList(g.Covariates), stdin)
	if err != nil {
		return nil, nil, err
	}
	if ids := splitList(g.SNPs); len(ids) > 0 {
		t, err = t.Select(ids)
		if err != nil {
			return nil, nil, err
		}
	}
	if g.Regions != "" || g.BED != "" {
		t, err = g.selectRegions(ctx, t)
		if err != nil {
			return nil, nil, err
		}
	}
	if g.hweFilter {
		if g.HWE > 0 {
			n := len(t.SNPs)
			t, _ = genotype.FilterHWE(t, genotype.Mask(y, 0), g.HWE)
			log.Infof("HWE filter: kept %d of %d SNPs (p >= %g among controls)", len(t.SNPs), n, g.HWE)
		} else {
			log.Warn("HWE filter disabled: SNPs out of equilibrium among controls are not excluded")
		}
	}
	if g.MinCallRate > 0 {
		t = t.FilterCallRate(g.MinCallRate)
	}
	if g.MinMAF > 0 {
		t = t.FilterMAF(g.MinMAF)
	}
	if len(t.SNPs) == 0 {
		return nil, nil, fmt.Errorf("no SNPs selected")
	}
	return t, y, nil
}

func (g *genotypeFlags) selectRegions(ctx context.Context, t *genotype.Table) (*genotype.Table, error) {
	if g.Annot == "" {
		return nil, fmt.Errorf("-annot is required to select SNPs by region")
	}
	var rs regionSet
	if err := rs.addRegions(splitList(g.Regions)); err != nil {
		return nil, err
	}
	if g.BED != "" {
		f, err := zopen(ctx, g.BED, nil)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if err := rs.readBED(f); err != nil {
			return nil, fmt.Errorf("%s: %w", g.BED, err)
		}
	}
	rs.Freeze()
	store, err := annot.Open(g.Annot)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	positions, err := store.SNPs(ctx, t.IDs())
	if err != nil {
		return nil, err
	}
	var keep []annot.SNP
	for _, p := range positions {
		if rs.Contains(p.Chrom, p.Pos) {
			keep = append(keep, p)
		}
	}
	sort.SliceStable(keep, func(i, j int) bool {
		if ci, cj := normalizeChrom(keep[i].Chrom), normalizeChrom(keep[j].Chrom); ci != cj {
			return ci < cj
		}
		return keep[i].Pos < keep[j].Pos
	})
	ids := make([]string, len(keep))
	for i, p := range keep {
		ids[i] = p.ID
	}
	log.Infof("%d of %d SNPs (%d with known positions) fall in %d regions", len(ids), len(t.SNPs), len(positions), rs.Len())
	return t.Select(ids)
}
