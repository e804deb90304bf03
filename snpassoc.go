// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package bioassoc

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"runtime"

	"github.com/arvados/bioassoc/genotype"
	"github.com/arvados/bioassoc/padjust"
	log "github.com/sirupsen/logrus"
)

type snpassocCmd struct{}

func (cmd *snpassocCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	permutations := flags.Int("permutations", 1000, "outcome permutations for the max-statistic correction")
	randSeed := flags.Uint64("seed", 0, "random seed for permutations (SNP i uses seed+i)")
	threads := flags.Int("threads", runtime.NumCPU(), "SNPs to test concurrently")
	adjust := flags.String("adjust", "BH", "multiple-testing adjustment `method` across SNPs")
	alpha := flags.Float64("alpha", 0.05, "report SNPs with adjusted max-statistic p-value below `alpha`")
	outputFilename := flags.String("o", "-", "output `tsv`")
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	if code, done := parseFlags(flags, args); done {
		return code
	}
	method, err := padjust.ParseMethod(*adjust)
	if err != nil {
		return 2
	}
	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
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
	if len(covNames) > 0 {
		log.Warnf("maxstat correction uses contingency tables and ignores covariates %v; compare maxstat.model with the best covariate-adjusted model", covNames)
	}
	assocs, err := associateAll(t, y, genotype.AssocOptions{
		Covariates:     covs,
		CovariateNames: covNames,
		Permutations:   *permutations,
		Seed:           *randSeed,
	}, *threads)
	if err != nil {
		return 1
	}
	p := make([]float64, len(assocs))
	for i, a := range assocs {
		p[i] = a.MaxStatP
	}
	sig := padjust.Significant(padjust.Adjust(p, method), *alpha)
	for i, ok := range sig {
		if ok {
			a := assocs[i]
			log.WithFields(log.Fields{"model": a.Best, "min.p": a.MinP, "maxstat.model": a.MaxStatModel, "maxstat.p": a.MaxStatP}).Infof("%s significant (%s < %g)", a.SNP, method, *alpha)
		}
	}
	log.Infof("%d of %d SNPs significant after %s adjustment", padjust.Count(sig), len(sig), method)
	err = writeFile(*outputFilename, stdout, func(w io.Writer) error {
		return genotype.WriteAssociations(w, assocs)
	})
	if err != nil {
		return 1
	}
	return 0
}

// associateAll tests every SNP in t, using up to threads goroutines.
// SNP i's permutations use opts.Seed+i, so results do not depend on
// scheduling.
func associateAll(t *genotype.Table, y []float64, opts genotype.AssocOptions, threads int) ([]*genotype.Association, error) {
	out := make([]*genotype.Association, len(t.SNPs))
	th := throttle{Max: threads}
	for i, snp := range t.SNPs {
		i, snp := i, snp
		th.Go(func() error {
			o := opts
			o.Seed = opts.Seed + uint64(i)
			a, err := genotype.Associate(snp, y, o)
			if err != nil {
				return err
			}
			out[i] = a
			return nil
		})
	}
	if err := th.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
