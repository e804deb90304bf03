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
	"os"
	"regexp"
	"strings"

	log "github.com/sirupsen/logrus"
)

const defaultGEOURL = "https://ftp.ncbi.nlm.nih.gov/geo/series"

var accessionRe = regexp.MustCompile(`^GSE(\d+)$`)

// seriesMatrixURL returns the download URL of a GEO series matrix,
// e.g. GSE5281 -> base/GSE5nnn/GSE5281/matrix/GSE5281_series_matrix.txt.gz
func seriesMatrixURL(base, accession string) (string, error) {
	m := accessionRe.FindStringSubmatch(accession)
	if m == nil {
		return "", fmt.Errorf("invalid GEO series accession %q", accession)
	}
	stub := "GSEnnn"
	if len(m[1]) > 3 {
		stub = "GSE" + m[1][:len(m[1])-3] + "nnn"
	}
	return fmt.Sprintf("%s/%s/%s/matrix/%s_series_matrix.txt.gz", strings.TrimRight(base, "/"), stub, accession, accession), nil
}

type fetchCmd struct{}

func (cmd *fetchCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	accession := flags.String("accession", "", "GEO series `accession` to download, e.g. GSE5281")
	inputFilename := flags.String("i", "", "copy from `s3://bucket/key` instead of GEO")
	outputFilename := flags.String("o", "", "output `file` (default: accession_series_matrix.txt.gz)")
	if code, done := parseFlags(flags, args); done {
		return code
	}
	if (*accession == "") == (*inputFilename == "") {
		err = fmt.Errorf("exactly one of -accession or -i is required")
		return 2
	}
	ctx := context.Background()
	var body io.ReadCloser
	if *accession != "" {
		base := os.Getenv("BIOASSOC_GEO_URL")
		if base == "" {
			base = defaultGEOURL
		}
		var url string
		url, err = seriesMatrixURL(base, *accession)
		if err != nil {
			return 2
		}
		if *outputFilename == "" {
			*outputFilename = *accession + "_series_matrix.txt.gz"
		}
		body, err = httpGet(ctx, url)
	} else {
		if *outputFilename == "" {
			err = fmt.Errorf("-o is required with -i")
			return 2
		}
		body, err = open(ctx, *inputFilename, stdin)
	}
	if err != nil {
		return 1
	}
	defer body.Close()
	var n int64
	err = writeFile(*outputFilename, stdout, func(w io.Writer) error {
		var err error
		n, err = io.Copy(w, body)
		return err
	})
	if err != nil {
		return 1
	}
	fields := log.Fields{"filename": *outputFilename, "bytes": n}
	if *outputFilename != "-" {
		var digest string
		digest, err = fileDigest(ctx, *outputFilename)
		if err != nil {
			return 1
		}
		fields["blake2b"] = digest
	}
	log.WithFields(fields).Info("fetched")
	return 0
}

func httpGet(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	log.Infof("downloading %s", url)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	return resp.Body, nil
}
