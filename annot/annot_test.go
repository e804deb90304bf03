// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package annot

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"gopkg.in/check.v1"
)

func Test(t *testing.T) { check.TestingT(t) }

type annotSuite struct{}

var _ = check.Suite(&annotSuite{})

func buildTestStore(c *check.C) *Store {
	path := c.MkDir() + "/annot.sqlite"
	err := Build(context.Background(), path, BuildInput{
		Version: "test-2024",
		Probes: strings.NewReader("probe\tgene\tsymbol\n" +
			"p1\t100\tAPP\n" +
			"p2\t100\tAPP\n" +
			"p3\t200\tPSEN1\n" +
			"p4\t300\n"),
		Terms: strings.NewReader("id\tontology\tname\n" +
			"GO:1\tBP\troot process\n" +
			"GO:2\tBP\tchild process\n" +
			"GO:3\tMF\tsome function\n"),
		TermGenes: strings.NewReader("term\tgene\n" +
			"GO:1\t100\nGO:1\t200\nGO:1\t300\n" +
			"GO:2\t100\n" +
			"GO:3\t300\n"),
		TermParents: strings.NewReader("term\tparent\nGO:2\tGO:1\n"),
		SNPs:        strings.NewReader("id\tchrom\tpos\tgene\nrs1800925\t5\t132657117\tIL13\nrs20541\t5\t132660272\tIL13\n"),
	})
	c.Assert(err, check.IsNil)
	err = Build(context.Background(), path, BuildInput{})
	c.Check(err, check.ErrorMatches, `.* already exists`)
	store, err := Open(path)
	c.Assert(err, check.IsNil)
	return store
}

func (s *annotSuite) TestStore(c *check.C) {
	ctx := context.Background()
	store := buildTestStore(c)
	defer store.Close()
	c.Check(store.Version(), check.Equals, "test-2024")

	genes, unmapped, err := store.MapProbes(ctx, []string{"p1", "p2", "p9", "p3"})
	c.Assert(err, check.IsNil)
	c.Check(genes, check.DeepEquals, []string{"100", "200"})
	c.Check(unmapped, check.Equals, 1)

	terms, err := store.Terms(ctx, "BP")
	c.Assert(err, check.IsNil)
	c.Assert(terms, check.HasLen, 2)
	c.Check(terms[0].ID, check.Equals, "GO:1")
	c.Check(terms[0].Genes, check.DeepEquals, []string{"100", "200", "300"})
	c.Check(terms[1].Parents, check.DeepEquals, []string{"GO:1"})
	all, err := store.Terms(ctx, "")
	c.Assert(err, check.IsNil)
	c.Check(all, check.HasLen, 3)
	onts, err := store.Ontologies(ctx)
	c.Assert(err, check.IsNil)
	c.Check(onts, check.DeepEquals, []string{"BP", "MF"})

	syms, err := store.Symbols(ctx)
	c.Assert(err, check.IsNil)
	c.Check(syms, check.DeepEquals, map[string]string{"100": "APP", "200": "PSEN1"})

	snps, err := store.SNPs(ctx, []string{"rs20541", "rs0"})
	c.Assert(err, check.IsNil)
	c.Check(snps, check.DeepEquals, []SNP{{ID: "rs20541", Chrom: "5", Pos: 132660272, Gene: "IL13"}})
}

func (s *annotSuite) TestOpenMissing(c *check.C) {
	_, err := Open(c.MkDir() + "/nonexistent.sqlite")
	c.Check(err, check.NotNil)
}

func (s *annotSuite) TestEnsembl(c *check.C) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/variation/human/rs1800925" {
			http.Error(w, `{"error":"not found"}`, http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"name":"rs1800925","MAF":0.2,"minor_allele":"T","var_class":"SNP",
			"mappings":[{"location":"5:132657117-132657117","seq_region_name":"5","start":132657117,"end":132657117,"allele_string":"C/T","strand":1,"assembly_name":"GRCh38"}]}`)
	}))
	defer srv.Close()
	ec := &EnsemblClient{BaseURL: srv.URL + "/"}
	v, err := ec.Variation(context.Background(), "rs1800925")
	c.Assert(err, check.IsNil)
	c.Check(v.MinorAllele, check.Equals, "T")
	c.Check(v.MAF, check.Equals, 0.2)
	snp, err := v.SNP("IL13")
	c.Assert(err, check.IsNil)
	c.Check(snp, check.Equals, SNP{ID: "rs1800925", Chrom: "5", Pos: 132657117, Gene: "IL13"})

	_, err = ec.Variation(context.Background(), "rs0")
	c.Check(err, check.ErrorMatches, `.*400 Bad Request.*`)
}
