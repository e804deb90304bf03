// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package annot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const DefaultEnsemblURL = "https://rest.ensembl.org"

// EnsemblClient queries the Ensembl REST variation endpoint. Calls
// are synchronous and never retried.
type EnsemblClient struct {
	BaseURL string
	Client  *http.Client
	Species string
}

// Mapping is one genomic placement of a variant.
type Mapping struct {
	Location     string `json:"location"`
	Chrom        string `json:"seq_region_name"`
	Start        int64  `json:"start"`
	End          int64  `json:"end"`
	AlleleString string `json:"allele_string"`
	Strand       int    `json:"strand"`
	Assembly     string `json:"assembly_name"`
}

// Variant is the subset of an Ensembl variation record used here.
type Variant struct {
	Name            string    `json:"name"`
	MinorAllele     string    `json:"minor_allele"`
	MAF             float64   `json:"MAF"`
	AncestralAllele string    `json:"ancestral_allele"`
	Class           string    `json:"var_class"`
	Consequence     string    `json:"most_severe_consequence"`
	Synonyms        []string  `json:"synonyms"`
	Mappings        []Mapping `json:"mappings"`
}

// Variation fetches the record for one variant id (e.g. "rs1800925").
func (ec *EnsemblClient) Variation(ctx context.Context, id string) (*Variant, error) {
	base := ec.BaseURL
	if base == "" {
		base = DefaultEnsemblURL
	}
	species := ec.Species
	if species == "" {
		species = "human"
	}
	client := ec.Client
	if client == nil {
		client = http.DefaultClient
	}
	u := strings.TrimRight(base, "/") + "/variation/" + url.PathEscape(species) + "/" + url.PathEscape(id) + "?content-type=application/json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%s: %s: %s", u, resp.Status, strings.TrimSpace(string(body)))
	}
	var v Variant
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return nil, fmt.Errorf("%s: %w", u, err)
	}
	if v.Name == "" {
		v.Name = id
	}
	return &v, nil
}

// SNP returns the variant's first mapping as a SNP record, with the
// given gene label.
func (v *Variant) SNP(gene string) (SNP, error) {
	if len(v.Mappings) == 0 {
		return SNP{}, fmt.Errorf("%s: no genomic mapping", v.Name)
	}
	m := v.Mappings[0]
	return SNP{ID: v.Name, Chrom: m.Chrom, Pos: m.Start, Gene: gene}, nil
}
