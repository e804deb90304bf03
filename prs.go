// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package bioassoc

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/arvados/bioassoc/prs"
	"github.com/arvados/bioassoc/report"
	"gonum.org/v1/plot"
)

type prsCmd struct{}

func (cmd *prsCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	screenP := flags.Float64("screen-p", 0.1, "univariate log-additive p-value `threshold` for candidate SNPs")
	maxSNPs := flags.Int("max-snps", 0, "maximum SNPs in the score (0: no limit)")
	outputFilename := flags.String("o", "-", "output selected SNP `tsv`")
	scoresFilename := flags.String("scores", "", "write per-sample scores to `tsv`")
	rocFilename := flags.String("roc-plot", "", "write ROC curve to `file` (png, svg, pdf)")
	if code, done := parseFlags(flags, args); done {
		return code
	}
	ctx := context.Background()
	t, y, err := gflags.Load(ctx, stdin)
	if err != nil {
		return 1
	}
	res, err := prs.Build(t.SNPs, y, prs.Options{ScreenP: *screenP, MaxSNPs: *maxSNPs})
	if err != nil {
		return 1
	}
	err = writeFile(*outputFilename, stdout, func(w io.Writer) error {
		if err := prs.WriteSelected(w, res); err != nil {
			return err
		}
		_, err := fmt.Fprintf(w, "# score: n=%d OR=%.4f (%.4f-%.4f) p=%g AUC=%.4f\n", res.N, res.OR, res.Lower, res.Upper, res.P, res.ROC.AUC)
		return err
	})
	if err != nil {
		return 1
	}
	if *scoresFilename != "" {
		err = writeFile(*scoresFilename, stdout, func(w io.Writer) error {
			return prs.WriteScores(w, t.Samples, res, y)
		})
		if err != nil {
			return 1
		}
	}
	if *rocFilename != "" {
		var p *plot.Plot
		p, err = report.ROCPlot(res.ROC, "Polygenic risk score")
		if err != nil {
			return 1
		}
		err = report.Save(p, *rocFilename)
		if err != nil {
			return 1
		}
	}
	return 0
}
