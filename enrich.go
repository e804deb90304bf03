// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package bioassoc

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/arvados/bioassoc/annot"
	"github.com/arvados/bioassoc/enrich"
	"github.com/arvados/bioassoc/limma"
	"github.com/arvados/bioassoc/padjust"
	"github.com/arvados/bioassoc/report"
	log "github.com/sirupsen/logrus"
)

type enrichCmd struct{}

func (cmd *enrichCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	annotFilename := flags.String("annot", "", "annotation snapshot `file` (see annot-build)")
	topTableFilename := flags.String("toptable", "", "diffexp top table `file`: select features by adjusted p-value, universe is every feature")
	selectedFilename := flags.String("selected", "", "selected probe ids, one per line (alternative to -toptable)")
	universeFilename := flags.String("universe", "", "universe probe ids, one per line (required with -selected)")
	alpha := flags.Float64("alpha", 0.05, "adjusted p-value threshold for selecting features from -toptable")
	lfc := flags.Float64("lfc", 0, "minimum absolute log fold change for selecting features from -toptable")
	selectAdjust := flags.String("select-adjust", "", "recompute adjusted p-values from -toptable P.Value with this `method` (default: use the table's adj.P.Val, or BH if absent)")
	ontology := flags.String("ontology", "", "ontology to test (empty: all terms in the snapshot)")
	conditional := flags.Bool("conditional", false, "conditional test: remove genes of significant descendant terms")
	cutoff := flags.Float64("cutoff", 0.01, "term p-value `threshold` for the conditional test and for highlighting")
	minSize := flags.Int("min-size", 1, "minimum term size within the universe")
	maxSize := flags.Int("max-size", 0, "maximum term size within the universe (0: unlimited)")
	termAdjust := flags.String("adjust", "BH", "p-value adjustment `method` for term p-values")
	outputFilename := flags.String("o", "-", "output `tsv`")
	htmlFilename := flags.String("html", "", "write HTML report to `file`")
	title := flags.String("title", "Term enrichment", "report title")
	if code, done := parseFlags(flags, args); done {
		return code
	}
	if *annotFilename == "" {
		err = fmt.Errorf("-annot is required")
		return 2
	}
	if (*topTableFilename == "") == (*selectedFilename == "") {
		err = fmt.Errorf("exactly one of -toptable and -selected is required")
		return 2
	}
	if *selectedFilename != "" && *universeFilename == "" {
		err = fmt.Errorf("-universe is required with -selected")
		return 2
	}
	termMethod, err := padjust.ParseMethod(*termAdjust)
	if err != nil {
		return 2
	}
	ctx := context.Background()

	var selected, universe []string
	if *topTableFilename != "" {
		var tt *topTable
		tt, err = readTopTable(ctx, *topTableFilename, stdin)
		if err != nil {
			return 1
		}
		if tt.Features > len(tt.Rows) {
			err = fmt.Errorf("%s lists %d of %d features: enrichment needs the full table (diffexp top = 0)", *topTableFilename, len(tt.Rows), tt.Features)
			return 1
		}
		if *selectAdjust == "" && tt.HasAdjP {
			adj := make([]float64, len(tt.Rows))
			for i, r := range tt.Rows {
				adj[i] = r.AdjP
			}
			selected = selectSignificant(tt.Rows, adj, *alpha, *lfc)
		} else {
			var method padjust.Method
			method, err = padjust.ParseMethod(*selectAdjust)
			if err != nil {
				return 2
			}
			selected = adjustedSignificant(tt.Rows, *alpha, *lfc, method)
		}
		for _, r := range tt.Rows {
			universe = append(universe, r.Feature)
		}
	} else {
		selected, err = readIDs(ctx, *selectedFilename, stdin)
		if err != nil {
			return 1
		}
		universe, err = readIDs(ctx, *universeFilename, stdin)
		if err != nil {
			return 1
		}
	}
	log.Infof("%d selected of %d universe probes", len(selected), len(universe))

	store, err := annot.Open(*annotFilename)
	if err != nil {
		return 1
	}
	defer store.Close()
	selGenes, _, err := store.MapProbes(ctx, selected)
	if err != nil {
		return 1
	}
	univGenes, unmapped, err := store.MapProbes(ctx, universe)
	if err != nil {
		return 1
	}
	if unmapped > 0 {
		log.Warnf("%d of %d universe probes have no gene in annotation snapshot %s", unmapped, len(universe), store.Version())
	}
	terms, err := store.Terms(ctx, *ontology)
	if err != nil {
		return 1
	}
	if len(terms) == 0 {
		err = fmt.Errorf("annotation snapshot %s has no terms for ontology %q", store.Version(), *ontology)
		return 1
	}
	results, err := enrich.Hypergeometric(selGenes, univGenes, terms, enrich.Options{
		Conditional: *conditional,
		Cutoff:      *cutoff,
		MinSize:     *minSize,
		MaxSize:     *maxSize,
	})
	if err != nil {
		return 1
	}
	enrich.SortByPValue(results)
	p := make([]float64, len(results))
	for i, r := range results {
		p[i] = r.PValue
	}
	adj := padjust.Adjust(p, termMethod)
	rows := make([]report.EnrichmentRow, len(results))
	for i, r := range results {
		rows[i] = report.EnrichmentRow{Result: r, AdjP: adj[i]}
	}
	log.Infof("tested %d terms, %d with p < %g", len(rows), countBelow(p, *cutoff), *cutoff)

	err = writeFile(*outputFilename, stdout, func(w io.Writer) error {
		return report.WriteEnrichment(w, rows)
	})
	if err != nil {
		return 1
	}
	if *htmlFilename != "" {
		rpt := report.NewEnrichmentReport(*title)
		rpt.Ontology = *ontology
		rpt.Snapshot = store.Version()
		rpt.SnapshotDigest, err = fileDigest(ctx, *annotFilename)
		if err != nil {
			return 1
		}
		rpt.Conditional = *conditional
		rpt.Cutoff = *cutoff
		rpt.Adjust = termMethod.String()
		rpt.Selected = len(selGenes)
		rpt.Universe = len(univGenes)
		rpt.Unmapped = unmapped
		rpt.Rows = rows
		err = writeFile(*htmlFilename, stdout, func(w io.Writer) error {
			return report.WriteEnrichmentHTML(w, rpt)
		})
		if err != nil {
			return 1
		}
		log.WithField("run", rpt.RunID).Infof("wrote report %s", filepath.Base(*htmlFilename))
	}
	return 0
}

func countBelow(p []float64, cutoff float64) int {
	n := 0
	for _, v := range p {
		if v < cutoff {
			n++
		}
	}
	return n
}

// topTable is a diffexp top table. Features is the number of
// features in the fit when the table was truncated, otherwise 0.
type topTable struct {
	Rows     []limma.Row
	HasAdjP  bool
	Features int
}

// readTopTable reads the ID, logFC, P.Value and (if present)
// adj.P.Val columns of a top table, and the "# features" trailer
// diffexp writes when the table is truncated.
func readTopTable(ctx context.Context, fnm string, stdin io.Reader) (*topTable, error) {
	f, err := zopen(ctx, fnm, stdin)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1<<16), 1<<24)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%s: empty file", fnm)
	}
	col := map[string]int{}
	for i, name := range strings.Split(scanner.Text(), "\t") {
		col[name] = i
	}
	for _, name := range []string{"ID", "logFC", "P.Value"} {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("%s: missing column %q", fnm, name)
		}
	}
	adjCol, hasAdj := col["adj.P.Val"]
	tt := &topTable{HasAdjP: hasAdj}
	for line := 2; scanner.Scan(); line++ {
		text := scanner.Text()
		if strings.HasPrefix(text, "#") {
			fields := strings.Fields(strings.TrimPrefix(text, "#"))
			if len(fields) == 2 && fields[0] == "features" {
				if tt.Features, err = strconv.Atoi(fields[1]); err != nil {
					return nil, fmt.Errorf("%s:%d: %w", fnm, line, err)
				}
			}
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) < len(col) {
			return nil, fmt.Errorf("%s:%d: expected %d fields, found %d", fnm, line, len(col), len(fields))
		}
		r := limma.Row{Feature: fields[col["ID"]]}
		if r.LogFC, err = strconv.ParseFloat(fields[col["logFC"]], 64); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", fnm, line, err)
		}
		if r.P, err = strconv.ParseFloat(fields[col["P.Value"]], 64); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", fnm, line, err)
		}
		if hasAdj {
			if r.AdjP, err = strconv.ParseFloat(fields[adjCol], 64); err != nil {
				return nil, fmt.Errorf("%s:%d: %w", fnm, line, err)
			}
		}
		tt.Rows = append(tt.Rows, r)
	}
	return tt, scanner.Err()
}

// readIDs reads the first field of each non-empty line, skipping
// "#" comments and duplicates.
func readIDs(ctx context.Context, fnm string, stdin io.Reader) ([]string, error) {
	f, err := zopen(ctx, fnm, stdin)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	seen := map[string]bool{}
	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") || seen[fields[0]] {
			continue
		}
		seen[fields[0]] = true
		ids = append(ids, fields[0])
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}
