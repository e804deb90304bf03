// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package bioassoc

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math"

	"github.com/arvados/bioassoc/expr"
	"github.com/arvados/bioassoc/report"
	"github.com/james-bowman/nlp"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

type pcaCmd struct{}

func (cmd *pcaCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "-", "normalized expression `file`")
	outputFilename := flags.String("o", "-", "output TSV `file` (sample, PC1, PC2, ...)")
	npyFilename := flags.String("npy", "", "also write components (samples x components) to .npy `file`")
	components := flags.Int("components", 4, "number of components")
	phenotypeFilename := flags.String("phenotype", "", "covariate `file` used to color the plot (default: series matrix characteristics)")
	idColumn := flags.String("id-column", "", "sample id `column` in phenotype file (default: first)")
	groupColumn := flags.String("group", "", "color samples by `covariate`")
	plotFilename := flags.String("plot", "", "write scatter plot to `file` (.png/.svg)")
	xComponent := flags.Int("x", 1, "1-based PCA component to plot on x axis")
	yComponent := flags.Int("y", 2, "1-based PCA component to plot on y axis")
	if code, done := parseFlags(flags, args); done {
		return code
	}
	ctx := context.Background()
	m, meta, err := loadMatrix(ctx, *inputFilename, stdin)
	if err != nil {
		return 1
	}
	scores, explained, err := samplePCA(m, *components)
	if err != nil {
		return 1
	}
	for k, v := range explained {
		log.Infof("PC%d explains %.1f%% of variance", k+1, 100*v)
	}
	err = writeFile(*outputFilename, stdout, func(w io.Writer) error {
		fmt.Fprint(w, "sample")
		for k := range explained {
			fmt.Fprintf(w, "\tPC%d", k+1)
		}
		fmt.Fprint(w, "\n")
		for i, s := range m.Samples {
			fmt.Fprint(w, s)
			for k := range explained {
				fmt.Fprintf(w, "\t%g", scores.At(i, k))
			}
			fmt.Fprint(w, "\n")
		}
		return nil
	})
	if err != nil {
		return 1
	}
	err = writeNumpyFile(*npyFilename, scores)
	if err != nil {
		return 1
	}
	if *plotFilename == "" {
		return 0
	}
	if *xComponent < 1 || *xComponent > len(explained) || *yComponent < 1 || *yComponent > len(explained) {
		err = fmt.Errorf("plot components must be between 1 and %d", len(explained))
		return 2
	}
	groups := make([]string, len(m.Samples))
	for i := range groups {
		groups[i] = "sample"
	}
	if *groupColumn != "" {
		groups, err = covariateValues(ctx, *phenotypeFilename, *idColumn, *groupColumn, m, meta)
		if err != nil {
			return 1
		}
	}
	xi, yi := *xComponent-1, *yComponent-1
	p, err := report.PCAPlot(mat.Col(nil, xi, scores), mat.Col(nil, yi, scores), groups,
		fmt.Sprintf("PC%d (%.1f%%)", xi+1, 100*explained[xi]),
		fmt.Sprintf("PC%d (%.1f%%)", yi+1, 100*explained[yi]),
		"sample PCA")
	if err != nil {
		return 1
	}
	err = report.Save(p, *plotFilename)
	if err != nil {
		return 1
	}
	return 0
}

// covariateValues returns the named covariate for each sample of m.
func covariateValues(ctx context.Context, fnm, idColumn, name string, m *expr.Matrix, meta *expr.SeriesMeta) ([]string, error) {
	t, err := loadCovariates(ctx, fnm, idColumn, m, meta)
	if err != nil {
		return nil, err
	}
	t, err = t.Align(m.Samples)
	if err != nil {
		return nil, err
	}
	col, err := t.Column(name)
	if err != nil {
		return nil, err
	}
	return col.Values(), nil
}

// samplePCA projects samples onto the first k principal components
// of the features with no missing values. It returns the scores
// (samples x k) and the fraction of total variance each component
// explains.
func samplePCA(m *expr.Matrix, k int) (*mat.Dense, []float64, error) {
	complete := m.FilterFeatures(func(_ string, row []float64) bool {
		for _, v := range row {
			if math.IsNaN(v) {
				return false
			}
		}
		return true
	})
	nfeat, nsamp := complete.Dims()
	if nfeat == 0 {
		return nil, nil, fmt.Errorf("no features without missing values")
	}
	if k < 1 || k > nsamp || k > nfeat {
		return nil, nil, fmt.Errorf("cannot compute %d components from %d features x %d samples", k, nfeat, nsamp)
	}
	log.Infof("PCA on %d complete features x %d samples", nfeat, nsamp)
	// nlp treats columns as observations.
	transformer := nlp.NewPCA(k)
	transformer.Fit(complete.Data)
	proj, err := transformer.Transform(complete.Data)
	if err != nil {
		return nil, nil, err
	}
	scores := mat.DenseCopyOf(proj.T())

	total := 0.0
	for i := 0; i < nfeat; i++ {
		total += stat.Variance(complete.Row(i), nil)
	}
	explained := make([]float64, k)
	for j := range explained {
		explained[j] = stat.Variance(mat.Col(nil, j, scores), nil) / total
	}
	return scores, explained, nil
}
