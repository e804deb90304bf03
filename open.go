// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package bioassoc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/pgzip"
	log "github.com/sirupsen/logrus"
)

// zopen returns a reader for the given file or s3://bucket/key URL,
// transparently decompressing the input if fnm ends with ".gz". "-"
// means stdin.
func zopen(ctx context.Context, fnm string, stdin io.Reader) (io.ReadCloser, error) {
	f, err := open(ctx, fnm, stdin)
	if err != nil || !strings.HasSuffix(fnm, ".gz") {
		return f, err
	}
	rdr, err := pgzip.NewReader(bufio.NewReaderSize(f, 4*1024*1024))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	return gzipr{rdr, f}, nil
}

// gzipr wraps a ReadCloser and a Closer, presenting a single Close()
// method that closes both wrapped objects.
type gzipr struct {
	io.ReadCloser
	io.Closer
}

func (gr gzipr) Close() error {
	e1 := gr.ReadCloser.Close()
	e2 := gr.Closer.Close()
	if e1 != nil {
		return e1
	}
	return e2
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

func open(ctx context.Context, fnm string, stdin io.Reader) (io.ReadCloser, error) {
	if fnm == "-" {
		return io.NopCloser(stdin), nil
	}
	bucket, key, ok := parseS3URL(fnm)
	if !ok {
		return os.Open(fnm)
	}
	client, err := s3Client(ctx)
	if err != nil {
		return nil, err
	}
	log.Infof("reading s3://%s/%s", bucket, key)
	out, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	return out.Body, nil
}

// parseS3URL splits "s3://bucket/key".
func parseS3URL(fnm string) (bucket, key string, ok bool) {
	rest := strings.TrimPrefix(fnm, "s3://")
	if rest == fnm {
		return "", "", false
	}
	slash := strings.Index(rest, "/")
	if slash < 1 || slash == len(rest)-1 {
		return "", "", false
	}
	return rest[:slash], rest[slash+1:], true
}

// s3Client uses the default AWS credential chain. BIOASSOC_S3_ENDPOINT
// selects an S3-compatible service (path-style addressing).
func s3Client(ctx context.Context) (*s3.Client, error) {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	endpoint := os.Getenv("BIOASSOC_S3_ENDPOINT")
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// create opens a local output file; "-" means stdout.
func create(fnm string, stdout io.Writer) (io.WriteCloser, error) {
	if fnm == "-" {
		return nopCloser{stdout}, nil
	}
	return os.OpenFile(fnm, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
}

// writeFile writes an output file by calling fn with a buffered
// writer, and logs the result.
func writeFile(fnm string, stdout io.Writer, fn func(io.Writer) error) error {
	f, err := create(fnm, stdout)
	if err != nil {
		return err
	}
	defer f.Close()
	bufw := bufio.NewWriter(f)
	err = fn(bufw)
	if err != nil {
		return fmt.Errorf("%s: %w", fnm, err)
	}
	err = bufw.Flush()
	if err != nil {
		return err
	}
	err = f.Close()
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"filename": fnm}).Info("wrote output")
	return nil
}
