// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package bioassoc

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/arvados/bioassoc/design"
	"github.com/arvados/bioassoc/padjust"
)

// diffexpConfig is the differential expression analysis
// declaration read by the diffexp command.
//
//	phenotype = "phenotype.tsv"
//	surrogates = 2
//	adjust = "BH"
//	alpha = 0.05
//
//	[model]
//	intercept = false
//	[[model.terms]]
//	name = "disease_state"
//	levels = ["normal", "AD"]
//
//	[[contrasts]]
//	name = "AD-Control"
//	expr = "disease_stateAD - disease_statenormal"
type diffexpConfig struct {
	// Covariate file; empty means series matrix characteristics.
	Phenotype string `toml:"phenotype"`
	IDColumn  string `toml:"id_column"`
	// Full model, and null model for surrogate variable
	// estimation (default: intercept only).
	Model design.Spec  `toml:"model"`
	Null  *design.Spec `toml:"null"`
	// Number of surrogate variables to add to the model.
	Surrogates    int `toml:"surrogates"`
	SVAIterations int `toml:"sva_iterations"`
	Contrasts     []struct {
		Name string `toml:"name"`
		Expr string `toml:"expr"`
	} `toml:"contrasts"`
	Adjust string  `toml:"adjust"`
	Alpha  float64 `toml:"alpha"`
	// Minimum absolute log fold change for DecideTests and the
	// volcano plot.
	LFC float64 `toml:"lfc"`
	// Rows per top table (0: all features).
	Top int `toml:"top"`
	// EBayes prior proportion of differentially expressed
	// features.
	Proportion float64 `toml:"proportion"`

	adjust    padjust.Method
	contrasts []design.Contrast
}

func loadDiffexpConfig(fnm string) (*diffexpConfig, error) {
	cfg := &diffexpConfig{Adjust: "BH", Alpha: 0.05}
	if _, err := toml.DecodeFile(fnm, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	if err := cfg.check(); err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	return cfg, nil
}

func (cfg *diffexpConfig) check() error {
	var err error
	cfg.adjust, err = padjust.ParseMethod(cfg.Adjust)
	if err != nil {
		return err
	}
	if !(cfg.Alpha > 0 && cfg.Alpha < 1) {
		return fmt.Errorf("alpha %g out of range (0, 1)", cfg.Alpha)
	}
	if len(cfg.Model.Terms) == 0 {
		return fmt.Errorf("model has no terms")
	}
	if cfg.Surrogates < 0 {
		return fmt.Errorf("surrogates must not be negative")
	}
	if cfg.Null == nil {
		cfg.Null = &design.Spec{Intercept: true}
	}
	if len(cfg.Contrasts) == 0 {
		return fmt.Errorf("no contrasts declared")
	}
	for _, c := range cfg.Contrasts {
		parsed, err := design.ParseContrast(c.Name, c.Expr)
		if err != nil {
			return err
		}
		cfg.contrasts = append(cfg.contrasts, parsed)
	}
	return nil
}
