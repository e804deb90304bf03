// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package bioassoc

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strconv"

	"github.com/arvados/bioassoc/haplo"
	"github.com/arvados/bioassoc/report"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/plot"
)

type haploCmd struct{}

func (cmd *haploCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	var gflags genotypeFlags
	gflags.Flags(flags)
	gflags.HWEFlags(flags)
	rareFreq := flags.Float64("rare", 0.01, "pool haplotypes with frequency below `f`")
	starts := flags.Int("em-starts", 3, "EM starting points")
	randSeed := flags.Uint64("seed", 0, "random seed for EM starts and permutations")
	outputFilename := flags.String("o", "-", "output haplotype association `tsv`")
	widths := flags.String("window-widths", "", "comma-separated sliding window `widths` in loci (empty: no sliding window)")
	permutations := flags.Int("permutations", 1000, "outcome permutations for the sliding window best-window p-value")
	windowFilename := flags.String("window-output", "", "write sliding window results to `tsv`")
	windowPlot := flags.String("window-plot", "", "write sliding window -log10(p) track to `file` (png, svg, pdf)")
	ldFilename := flags.String("ld-output", "", "write pairwise LD (D', r^2) to `tsv`")
	ldPlot := flags.String("ld-plot", "", "write pairwise LD heatmap to `file`")
	dprime := flags.Bool("ld-dprime", false, "plot |D'| instead of r^2")
	if code, done := parseFlags(flags, args); done {
		return code
	}
	ctx := context.Background()
	t, y, err := gflags.Load(ctx, stdin)
	if err != nil {
		return 1
	}
	covNames := splitList(gflags.Covariates)
	covs, err := numericCovariates(t.Covariates, covNames)
	if err != nil {
		return 1
	}
	emopts := haplo.EMOptions{Starts: *starts, Seed: *randSeed}
	em, err := haplo.EM(t.SNPs, emopts)
	if err != nil {
		return 1
	}
	log.WithFields(log.Fields{"loci": em.Loci, "haplotypes": len(em.Haplotypes), "iterations": em.Iterations, "loglik": em.LogLike}).Info("estimated haplotype frequencies")
	if !em.Converged {
		log.Warnf("EM did not converge in %d iterations", em.Iterations)
	}
	res, err := haplo.GLM(em, y, haplo.GLMOptions{
		RareFreq:       *rareFreq,
		Covariates:     covs,
		CovariateNames: covNames,
	})
	if err != nil {
		return 1
	}
	log.Infof("haplotype association: LRT %.3f on %d df, p = %.3g (n = %d)", res.Stat, res.DF, res.P, res.N)
	err = writeFile(*outputFilename, stdout, func(w io.Writer) error {
		return report.WriteHaplotypes(w, em, res)
	})
	if err != nil {
		return 1
	}

	if *widths != "" {
		var ws []int
		for _, s := range splitList(*widths) {
			var w int
			w, err = strconv.Atoi(s)
			if err != nil {
				err = fmt.Errorf("invalid window width %q", s)
				return 2
			}
			ws = append(ws, w)
		}
		var wres *haplo.WindowResult
		wres, err = haplo.SlidingWindow(t.SNPs, y, haplo.WindowOptions{
			Widths:       ws,
			Permutations: *permutations,
			Seed:         *randSeed,
			RareFreq:     *rareFreq,
			EM:           emopts,
		})
		if err != nil {
			return 1
		}
		log.Infof("best window %q: p = %.3g, permutation p = %.3g", wres.Best.Loci, wres.Best.P, wres.SimP)
		if *windowFilename != "" {
			err = writeFile(*windowFilename, stdout, func(w io.Writer) error {
				return report.WriteWindows(w, wres)
			})
			if err != nil {
				return 1
			}
		}
		if *windowPlot != "" {
			var p *plot.Plot
			p, err = report.WindowTrack(wres, em.Loci, "Sliding window haplotype association")
			if err != nil {
				return 1
			}
			if err = report.Save(p, *windowPlot); err != nil {
				return 1
			}
		}
	}

	if *ldFilename != "" || *ldPlot != "" {
		var ld *haplo.LD
		ld, err = haplo.PairwiseLD(t.SNPs, emopts)
		if err != nil {
			return 1
		}
		if *ldFilename != "" {
			err = writeFile(*ldFilename, stdout, func(w io.Writer) error {
				return writeLD(w, ld)
			})
			if err != nil {
				return 1
			}
		}
		if *ldPlot != "" {
			title := "Pairwise LD (r^2)"
			if *dprime {
				title = "Pairwise LD (|D'|)"
			}
			var p *plot.Plot
			p, err = report.LDHeatmap(ld, *dprime, title)
			if err != nil {
				return 1
			}
			if err = report.Save(p, *ldPlot); err != nil {
				return 1
			}
		}
	}
	return 0
}

// writeLD writes one row per locus pair.
func writeLD(w io.Writer, ld *haplo.LD) error {
	fmt.Fprint(w, "SNP1\tSNP2\tD\tDprime\tr2\n")
	for i := range ld.Loci {
		for j := i + 1; j < len(ld.Loci); j++ {
			fmt.Fprintf(w, "%s\t%s\t%.4f\t%.4f\t%.4f\n", ld.Loci[i], ld.Loci[j], ld.D.At(i, j), ld.DPrime.At(i, j), ld.R2.At(i, j))
		}
	}
	return nil
}
