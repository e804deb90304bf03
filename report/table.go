// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package report

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/arvados/bioassoc/expr"
	"github.com/arvados/bioassoc/genotype"
	"github.com/arvados/bioassoc/haplo"
)

// WriteEnrichment writes one TSV row per term.
func WriteEnrichment(w io.Writer, rows []EnrichmentRow) error {
	bufw := bufio.NewWriter(w)
	fmt.Fprint(bufw, "ID\tTerm\tSize\tCount\tExpected\tOddsRatio\tPvalue\tadj.Pvalue\n")
	for _, r := range rows {
		fmt.Fprintf(bufw, "%s\t%s\t%d\t%d\t%.3f\t%.3f\t%g\t%g\n", r.ID, r.Name, r.Size, r.Count, r.Expected, r.OddsRatio, r.PValue, r.AdjP)
	}
	return bufw.Flush()
}

// WriteSummaries writes the per-sample distribution summary.
func WriteSummaries(w io.Writer, sums []expr.Summary) error {
	bufw := bufio.NewWriter(w)
	fmt.Fprint(bufw, "sample\tmin\tQ1\tmedian\tQ3\tmax\tmean\tmissing\n")
	for _, s := range sums {
		fmt.Fprintf(bufw, "%s\t%g\t%g\t%g\t%g\t%g\t%g\t%d\n", s.Sample, s.Min, s.Q1, s.Median, s.Q3, s.Max, s.Mean, s.Missing)
	}
	return bufw.Flush()
}

// WriteHaplotypes writes estimated haplotype frequencies and, if res
// is not nil, each haplotype's association with outcome.
func WriteHaplotypes(w io.Writer, em *haplo.EMResult, res *haplo.GLMResult) error {
	effects := map[string]haplo.HaplotypeEffect{}
	if res != nil {
		for _, e := range res.Effects {
			effects[e.Haplotype] = e
		}
	}
	bufw := bufio.NewWriter(w)
	fmt.Fprint(bufw, "haplotype\tfreq\tOR\tlower\tupper\tp.value\n")
	for k, h := range em.Haplotypes {
		name := em.String(h)
		e, ok := effects[name]
		switch {
		case res != nil && name == res.Base:
			fmt.Fprintf(bufw, "%s\t%.4f\t1\t\t\tbase\n", name, em.Freqs[k])
		case ok:
			fmt.Fprintf(bufw, "%s\t%.4f\t%.3f\t%.3f\t%.3f\t%g\n", name, em.Freqs[k], e.OR, e.Lower, e.Upper, e.P)
		default:
			fmt.Fprintf(bufw, "%s\t%.4f\t\t\t\t\n", name, em.Freqs[k])
		}
	}
	if e, ok := effects[haplo.RareLabel]; ok {
		fmt.Fprintf(bufw, "%s\t%.4f\t%.3f\t%.3f\t%.3f\t%g\n", haplo.RareLabel, e.Freq, e.OR, e.Lower, e.Upper, e.P)
	}
	return bufw.Flush()
}

// WriteWindows writes one TSV row per sliding window.
func WriteWindows(w io.Writer, res *haplo.WindowResult) error {
	bufw := bufio.NewWriter(w)
	fmt.Fprint(bufw, "start\twidth\tloci\tstat\tdf\tp.value\n")
	for _, win := range res.Windows {
		fmt.Fprintf(bufw, "%d\t%d\t%s\t%.4f\t%d\t%g\n", win.Start+1, win.Width, strings.Join(win.Loci, ","), win.Stat, win.DF, win.P)
	}
	fmt.Fprintf(bufw, "# best window %v p=%g, simulated p=%g (%d permutations)\n", res.Best.Loci, res.Best.P, res.SimP, res.Permutations)
	return bufw.Flush()
}

// WriteGenotypeSummary writes allele frequencies and call rates.
func WriteGenotypeSummary(w io.Writer, snps []*genotype.SNP, controls []bool) error {
	bufw := bufio.NewWriter(w)
	fmt.Fprint(bufw, "SNP\tmajor\tminor\tMAF\tMAF.controls\tcall.rate\n")
	for _, snp := range snps {
		fmt.Fprintf(bufw, "%s\t%s\t%s\t%.4f\t%.4f\t%.4f\n", snp.ID, snp.Alleles[0], snp.Alleles[1], snp.MAF(nil), snp.MAF(controls), snp.CallRate(nil))
	}
	return bufw.Flush()
}
