// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package bioassoc

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/arvados/bioassoc/genotype"
	"github.com/arvados/bioassoc/report"
	log "github.com/sirupsen/logrus"
)

type hweCmd struct{}

func (cmd *hweCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	threshold := flags.Float64("threshold", 1e-3, "flag SNPs with exact HWE p-value below `p`")
	allSamples := flags.Bool("all-samples", false, "test all samples instead of controls only")
	outputFilename := flags.String("o", "-", "output `tsv`")
	keepFilename := flags.String("keep", "", "write ids of SNPs that pass to `file`")
	summaryFilename := flags.String("summary", "", "write allele frequency summary to `file`")
	if code, done := parseFlags(flags, args); done {
		return code
	}
	ctx := context.Background()
	t, y, err := gflags.Load(ctx, stdin)
	if err != nil {
		return 1
	}
	var mask []bool
	if !*allSamples {
		mask = genotype.Mask(y, 0)
	}
	kept, results := genotype.FilterHWE(t, mask, *threshold)
	log.Infof("%d of %d SNPs pass HWE (p >= %g)", len(kept.SNPs), len(t.SNPs), *threshold)
	err = writeFile(*outputFilename, stdout, func(w io.Writer) error {
		return genotype.WriteHWE(w, results, *threshold)
	})
	if err != nil {
		return 1
	}
	if *keepFilename != "" {
		err = writeFile(*keepFilename, stdout, func(w io.Writer) error {
			for _, id := range kept.IDs() {
				fmt.Fprintln(w, id)
			}
			return nil
		})
		if err != nil {
			return 1
		}
	}
	if *summaryFilename != "" {
		err = writeFile(*summaryFilename, stdout, func(w io.Writer) error {
			return report.WriteGenotypeSummary(w, t.SNPs, genotype.Mask(y, 0))
		})
		if err != nil {
			return 1
		}
	}
	return 0
}
