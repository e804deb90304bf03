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
	"os"
	"strings"

	"github.com/arvados/bioassoc/annot"
	log "github.com/sirupsen/logrus"
)

type annotBuildCmd struct{}

func (cmd *annotBuildCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	outputFilename := flags.String("o", "", "output snapshot `file` (must not exist)")
	version := flags.String("version", "", "snapshot version label")
	probes := flags.String("probes", "", "probe to gene `tsv` (probe, gene[, symbol])")
	terms := flags.String("terms", "", "term `tsv` (id, ontology, name)")
	termGenes := flags.String("term-genes", "", "term membership `tsv` (term, gene)")
	termParents := flags.String("term-parents", "", "term hierarchy `tsv` (term, parent)")
	snps := flags.String("snps", "", "SNP position `tsv` (id, chrom, pos[, gene])")
	if code, done := parseFlags(flags, args); done {
		return code
	}
	if *outputFilename == "" {
		err = fmt.Errorf("-o is required")
		return 2
	}
	if _, err = os.Stat(*outputFilename); err == nil {
		err = fmt.Errorf("%s already exists", *outputFilename)
		return 1
	}
	ctx := context.Background()
	in := annot.BuildInput{Version: *version}
	for _, src := range []struct {
		fnm string
		r   *io.Reader
	}{
		{*probes, &in.Probes},
		{*terms, &in.Terms},
		{*termGenes, &in.TermGenes},
		{*termParents, &in.TermParents},
		{*snps, &in.SNPs},
	} {
		if src.fnm == "" {
			continue
		}
		f, err2 := zopen(ctx, src.fnm, stdin)
		if err2 != nil {
			err = err2
			return 1
		}
		defer f.Close()
		*src.r = f
	}
	err = annot.Build(ctx, *outputFilename, in)
	if err != nil {
		os.Remove(*outputFilename)
		return 1
	}
	store, err := annot.Open(*outputFilename)
	if err != nil {
		return 1
	}
	defer store.Close()
	ontologies, err := store.Ontologies(ctx)
	if err != nil {
		return 1
	}
	log.WithFields(log.Fields{"version": store.Version(), "ontologies": ontologies}).Infof("built %s", *outputFilename)
	return 0
}

type snpAnnotateCmd struct{}

func (cmd *snpAnnotateCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "", "`file` with one SNP id per line, optionally followed by a gene label")
	snpList := flags.String("snps", "", "comma-separated SNP `ids`")
	outputFilename := flags.String("o", "-", "output `tsv` (id, chrom, pos, gene), suitable for annot-build -snps")
	species := flags.String("species", "human", "Ensembl `species`")
	threads := flags.Int("threads", 4, "concurrent requests")
	if code, done := parseFlags(flags, args); done {
		return code
	}
	ctx := context.Background()
	type query struct{ id, gene string }
	var queries []query
	for _, id := range splitList(*snpList) {
		queries = append(queries, query{id: id})
	}
	if *inputFilename != "" {
		f, err2 := zopen(ctx, *inputFilename, stdin)
		if err2 != nil {
			err = err2
			return 1
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			fields := strings.Fields(scanner.Text())
			if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
				continue
			}
			q := query{id: fields[0]}
			if len(fields) > 1 {
				q.gene = fields[1]
			}
			queries = append(queries, q)
		}
		if err = scanner.Err(); err != nil {
			return 1
		}
	}
	if len(queries) == 0 {
		err = fmt.Errorf("no SNP ids given (use -i or -snps)")
		return 2
	}
	client := &annot.EnsemblClient{
		BaseURL: os.Getenv("BIOASSOC_ENSEMBL_URL"),
		Species: *species,
	}
	found := make([]*annot.SNP, len(queries))
	th := throttle{Max: *threads}
	for i, q := range queries {
		i, q := i, q
		th.Go(func() error {
			v, err := client.Variation(ctx, q.id)
			if err != nil {
				log.WithError(err).Warnf("%s: lookup failed", q.id)
				return nil
			}
			snp, err := v.SNP(q.gene)
			if err != nil {
				log.Warn(err)
				return nil
			}
			snp.ID = q.id
			found[i] = &snp
			return nil
		})
	}
	if err = th.Wait(); err != nil {
		return 1
	}
	nfound := 0
	err = writeFile(*outputFilename, stdout, func(w io.Writer) error {
		fmt.Fprint(w, "id\tchrom\tpos\tgene\n")
		for _, snp := range found {
			if snp == nil {
				continue
			}
			nfound++
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", snp.ID, snp.Chrom, snp.Pos, snp.Gene)
		}
		return nil
	})
	if err != nil {
		return 1
	}
	log.Infof("annotated %d of %d SNPs", nfound, len(queries))
	if nfound == 0 {
		err = fmt.Errorf("no SNPs could be annotated")
		return 1
	}
	return 0
}
