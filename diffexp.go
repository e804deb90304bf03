// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package bioassoc

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/arvados/bioassoc/design"
	"github.com/arvados/bioassoc/limma"
	"github.com/arvados/bioassoc/padjust"
	"github.com/arvados/bioassoc/report"
	"github.com/arvados/bioassoc/sva"
	log "github.com/sirupsen/logrus"
)

type diffexpCmd struct{}

func (cmd *diffexpCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "-", "normalized expression `file`")
	configFilename := flags.String("config", "", "analysis config `file` (TOML)")
	phenotypeFilename := flags.String("phenotype", "", "covariate `file` (overrides config)")
	outputDir := flags.String("output-dir", ".", "output `directory`")
	plots := flags.Bool("plots", true, "write volcano and Venn plots")
	skipSVA := flags.Bool("skip-sva", false, "ignore the configured surrogate variable count")
	if code, done := parseFlags(flags, args); done {
		return code
	}
	if *configFilename == "" {
		err = fmt.Errorf("-config is required")
		return 2
	}
	cfg, err := loadDiffexpConfig(*configFilename)
	if err != nil {
		return 1
	}
	if *phenotypeFilename != "" {
		cfg.Phenotype = *phenotypeFilename
	}
	if *skipSVA {
		cfg.Surrogates = 0
	}
	err = os.MkdirAll(*outputDir, 0777)
	if err != nil {
		return 1
	}
	err = runDiffexp(context.Background(), cfg, *inputFilename, stdin, *outputDir, *plots)
	if err != nil {
		return 1
	}
	return 0
}

var unsafeFilenameRe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func safeFilename(s string) string {
	return unsafeFilenameRe.ReplaceAllString(s, "_")
}

func runDiffexp(ctx context.Context, cfg *diffexpConfig, input string, stdin io.Reader, outdir string, plots bool) error {
	m, meta, err := loadMatrix(ctx, input, stdin)
	if err != nil {
		return err
	}
	covariates, err := loadCovariates(ctx, cfg.Phenotype, cfg.IDColumn, m, meta)
	if err != nil {
		return err
	}
	covariates, err = covariates.Align(m.Samples)
	if err != nil {
		return err
	}
	full, err := design.Build(covariates, cfg.Model)
	if err != nil {
		return fmt.Errorf("model %s: %w", cfg.Model, err)
	}
	log.Infof("design %s: %d samples x %d columns %q", cfg.Model, len(full.Samples), len(full.Columns), full.Columns)

	if cfg.Surrogates > 0 {
		null, err := design.Build(covariates, *cfg.Null)
		if err != nil {
			return fmt.Errorf("null model %s: %w", cfg.Null, err)
		}
		sv, err := sva.Estimate(m.Data, full.X, null.X, cfg.Surrogates, sva.Options{Iterations: cfg.SVAIterations})
		if err != nil {
			return fmt.Errorf("surrogate variables: %w", err)
		}
		log.Infof("estimated %d surrogate variables from %d features", cfg.Surrogates, sv.Features)
		full, err = full.WithColumns(sva.Names(cfg.Surrogates), sv.SV)
		if err != nil {
			return err
		}
		err = writeFile(filepath.Join(outdir, "surrogates.tsv"), nil, func(w io.Writer) error {
			names := sva.Names(cfg.Surrogates)
			fmt.Fprint(w, "sample")
			for _, n := range names {
				fmt.Fprint(w, "\t"+n)
			}
			fmt.Fprint(w, "\n")
			for i, s := range full.Samples {
				fmt.Fprint(w, s)
				for k := range names {
					fmt.Fprintf(w, "\t%g", sv.SV.At(i, k))
				}
				fmt.Fprint(w, "\n")
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	fit, err := limma.LmFit(m, full)
	if err != nil {
		return err
	}
	cm, err := full.ContrastMatrix(cfg.contrasts)
	if err != nil {
		return err
	}
	var names []string
	for _, c := range cfg.contrasts {
		names = append(names, c.Name)
	}
	cfit, err := limma.ContrastsFit(fit, cm, names)
	if err != nil {
		return err
	}
	efit, err := limma.EBayes(cfit, limma.EBayesOptions{Proportion: cfg.Proportion})
	if err != nil {
		return err
	}
	log.Infof("empirical Bayes: prior df %g, prior variance %g", efit.Moderated.DFPrior, efit.Moderated.S2Prior)

	for _, name := range names {
		rows, err := limma.TopTable(efit, name, cfg.adjust, cfg.Top)
		if err != nil {
			return err
		}
		nsig := 0
		for _, r := range rows {
			if r.AdjP < cfg.Alpha {
				nsig++
			}
		}
		log.Infof("contrast %s: %d features with adj.P.Val < %g (%s)", name, nsig, cfg.Alpha, cfg.adjust)
		base := safeFilename(name)
		err = writeFile(filepath.Join(outdir, "toptable_"+base+".tsv"), nil, func(w io.Writer) error {
			if err := limma.WriteTopTable(w, rows); err != nil {
				return err
			}
			if len(rows) < len(efit.Features) {
				_, err := fmt.Fprintf(w, "# features\t%d\n", len(efit.Features))
				return err
			}
			return nil
		})
		if err != nil {
			return err
		}
		if plots {
			p, err := report.Volcano(rows, cfg.Alpha, cfg.LFC, name)
			if err != nil {
				return err
			}
			err = report.Save(p, filepath.Join(outdir, "volcano_"+base+".png"))
			if err != nil {
				return err
			}
		}
	}

	decisions, err := limma.DecideTests(efit, cfg.adjust, cfg.Alpha, cfg.LFC)
	if err != nil {
		return err
	}
	err = writeFile(filepath.Join(outdir, "decide.tsv"), nil, func(w io.Writer) error {
		fmt.Fprint(w, "ID")
		for _, n := range names {
			fmt.Fprint(w, "\t"+n)
		}
		fmt.Fprint(w, "\n")
		for i, row := range decisions {
			fmt.Fprint(w, efit.Features[i])
			for _, d := range row {
				fmt.Fprintf(w, "\t%d", d)
			}
			fmt.Fprint(w, "\n")
		}
		return nil
	})
	if err != nil {
		return err
	}
	if plots && len(names) <= 3 {
		p, err := report.Venn(names, limma.VennCounts(decisions, len(names)), fmt.Sprintf("%s < %g", cfg.adjust, cfg.Alpha))
		if err != nil {
			return err
		}
		err = report.Save(p, filepath.Join(outdir, "venn.png"))
		if err != nil {
			return err
		}
	} else if plots {
		log.Warnf("skipping Venn diagram: %d contrasts (maximum 3)", len(names))
	}
	return nil
}

// adjustedSignificant is used by enrich to select features from a
// complete top table, adjusting its raw p-values with method.
func adjustedSignificant(rows []limma.Row, alpha, lfc float64, method padjust.Method) []string {
	p := make([]float64, len(rows))
	for i, r := range rows {
		p[i] = r.P
	}
	return selectSignificant(rows, padjust.Adjust(p, method), alpha, lfc)
}

// selectSignificant returns the features with adj <= alpha and
// |logFC| >= lfc.
func selectSignificant(rows []limma.Row, adj []float64, alpha, lfc float64) []string {
	var out []string
	for i, ok := range padjust.Significant(adj, alpha) {
		if ok && (lfc <= 0 || rows[i].LogFC >= lfc || rows[i].LogFC <= -lfc) {
			out = append(out, rows[i].Feature)
		}
	}
	return out
}
