// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package bioassoc

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/arvados/bioassoc/expr"
	"github.com/arvados/bioassoc/report"
	log "github.com/sirupsen/logrus"
)

type normalizeCmd struct{}

func (cmd *normalizeCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "-", "input `file` (TSV or GEO series matrix, optionally .gz or s3://)")
	outputFilename := flags.String("o", "-", "output TSV `file`")
	npyFilename := flags.String("npy", "", "also write normalized values (features x samples) to .npy `file`")
	missing := flags.String("missing", "propagate", "missing value `policy`: propagate, impute, or error")
	log2 := flags.String("log2", "auto", "apply log2 after normalization: auto, yes, or no")
	offset := flags.Float64("log2-offset", 0, "`offset` added before log2")
	minExpr := flags.Float64("min-expression", 0, "drop features whose mean normalized value is below `x` (0: keep all)")
	tolerance := flags.Float64("tolerance", 0.1, "maximum quartile difference between normalized samples")
	rawPlot := flags.String("density-raw", "", "write per-sample density plot of the input to `file` (.png/.svg)")
	normPlot := flags.String("density", "", "write per-sample density plot of the output to `file` (.png/.svg)")
	summaryFilename := flags.String("summary", "", "write per-sample distribution summary TSV to `file`")
	if code, done := parseFlags(flags, args); done {
		return code
	}
	opts := expr.Options{Log2Offset: *offset}
	opts.Missing, err = expr.ParseMissingPolicy(*missing)
	if err != nil {
		return 2
	}
	ctx := context.Background()
	m, _, err := loadMatrix(ctx, *inputFilename, stdin)
	if err != nil {
		return 1
	}
	switch *log2 {
	case "auto":
		opts.Log2 = expr.NeedsLog2(m)
		log.Infof("log2 transform needed: %v", opts.Log2)
	case "yes":
		opts.Log2 = true
	case "no":
	default:
		err = fmt.Errorf("invalid -log2 value %q", *log2)
		return 2
	}
	if *rawPlot != "" {
		err = densityPlot(m, "input", *rawPlot)
		if err != nil {
			return 1
		}
	}
	norm, err := expr.Normalize(m, opts)
	if err != nil {
		return 1
	}
	// With missing values propagated, per-sample quantiles are
	// computed over different feature sets and need not match
	// exactly.
	if norm.Missing() == 0 {
		err = expr.CheckAligned(norm, *tolerance)
		if err != nil {
			err = fmt.Errorf("normalized distributions are not aligned: %w", err)
			return 1
		}
	}
	if *minExpr > 0 {
		before, _ := norm.Dims()
		norm = norm.FilterLowExpression(*minExpr)
		after, _ := norm.Dims()
		log.Infof("dropped %d of %d features with mean below %g", before-after, before, *minExpr)
	}
	err = writeFile(*outputFilename, stdout, norm.WriteTSV)
	if err != nil {
		return 1
	}
	err = writeNumpyFile(*npyFilename, norm.Data)
	if err != nil {
		return 1
	}
	if *summaryFilename != "" {
		err = writeFile(*summaryFilename, stdout, func(w io.Writer) error {
			return report.WriteSummaries(w, expr.Summarize(norm))
		})
		if err != nil {
			return 1
		}
	}
	if *normPlot != "" {
		err = densityPlot(norm, "normalized", *normPlot)
		if err != nil {
			return 1
		}
	}
	return 0
}

func densityPlot(m *expr.Matrix, title, fnm string) error {
	p, err := report.DensityPlot(m, title)
	if err != nil {
		return err
	}
	return report.Save(p, fnm)
}
