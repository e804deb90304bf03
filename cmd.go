// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package bioassoc

import (
	"os"

	"git.arvados.org/arvados.git/lib/cmd"
	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var (
	handler = cmd.Multi(map[string]cmd.Handler{
		"version":   cmd.Version,
		"-version":  cmd.Version,
		"--version": cmd.Version,

		"fetch":        &fetchCmd{},
		"normalize":    &normalizeCmd{},
		"pca":          &pcaCmd{},
		"diffexp":      &diffexpCmd{},
		"annot-build":  &annotBuildCmd{},
		"snp-annotate": &snpAnnotateCmd{},
		"enrich":       &enrichCmd{},
		"hwe":          &hweCmd{},
		"snpassoc":     &snpassocCmd{},
		"haplo":        &haploCmd{},
		"prs":          &prsCmd{},
	})
)

func Main() {
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		logrus.StandardLogger().Formatter = &logrus.TextFormatter{DisableTimestamp: true}
	}
	// Remote endpoints and credentials may come from ./.env.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.Warnf("loading .env: %s", err)
	}
	if lvl := os.Getenv("BIOASSOC_LOGLEVEL"); lvl != "" {
		level, err := logrus.ParseLevel(lvl)
		if err != nil {
			logrus.Warnf("ignoring BIOASSOC_LOGLEVEL: %s", err)
		} else {
			logrus.SetLevel(level)
		}
	}
	os.Exit(handler.RunCommand(os.Args[0], os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
