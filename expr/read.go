// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package expr

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// SplitFields splits a tab-delimited line, or a whitespace-delimited
// line if it has no tabs, and strips surrounding double quotes.
func SplitFields(line string) []string {
	var fields []string
	if strings.Contains(line, "\t") {
		fields = strings.Split(line, "\t")
	} else {
		fields = strings.Fields(line)
	}
	for i, f := range fields {
		fields[i] = unquote(strings.TrimSpace(f))
	}
	return fields
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// ParseValue parses an intensity. Empty strings, "NA", "NaN",
// "null" and "." are missing (NaN).
func ParseValue(s string) (float64, error) {
	switch strings.ToLower(s) {
	case "", "na", "nan", "null", ".":
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// ReadTSV reads an expression table: a header row whose first
// field labels the identifier column and whose remaining fields are
// sample ids, then one row per feature.
func ReadTSV(r io.Reader) (*Matrix, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1<<20), 1<<28)
	var (
		samples  []string
		features []string
		data     []float64
		lineNum  int
	)
	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := SplitFields(line)
		if samples == nil {
			if len(fields) < 2 {
				return nil, fmt.Errorf("line %d: header has no sample columns", lineNum)
			}
			samples = fields[1:]
			continue
		}
		row, err := parseRow(fields, len(samples))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		features = append(features, fields[0])
		data = append(data, row...)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(features) == 0 {
		return nil, fmt.Errorf("expression table has no feature rows")
	}
	return New(features, samples, mat.NewDense(len(features), len(samples), data))
}

func parseRow(fields []string, nsamples int) ([]float64, error) {
	if len(fields) != nsamples+1 {
		return nil, fmt.Errorf("%d fields, expected %d", len(fields), nsamples+1)
	}
	row := make([]float64, nsamples)
	for j, s := range fields[1:] {
		v, err := ParseValue(s)
		if err != nil {
			return nil, fmt.Errorf("feature %q sample %d: %w", fields[0], j+1, err)
		}
		row[j] = v
	}
	return row, nil
}

// SeriesMeta is the sample metadata from a GEO series matrix file.
type SeriesMeta struct {
	Accession string
	Title     string
	// Sample titles, in the same order as the matrix columns.
	Titles []string
	// Characteristics maps a characteristic key (e.g. "disease
	// state") to one value per sample. Characteristic lines are
	// "key: value" per sample.
	Characteristics map[string][]string
	// Keys lists Characteristics keys in file order.
	Keys []string
}

// ReadSeriesMatrix reads a GEO series matrix file (the text inside
// GSExxx_series_matrix.txt.gz). Lines starting with "!" carry
// metadata; the expression table lies between
// !series_matrix_table_begin and !series_matrix_table_end.
func ReadSeriesMatrix(r io.Reader) (*Matrix, *SeriesMeta, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1<<20), 1<<28)
	meta := &SeriesMeta{Characteristics: map[string][]string{}}
	var (
		samples  []string
		features []string
		data     []float64
		inTable  bool
		done     bool
		lineNum  int
	)
	for scanner.Scan() && !done {
		lineNum++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "!") {
			fields := SplitFields(line)
			switch fields[0] {
			case "!series_matrix_table_begin":
				inTable = true
			case "!series_matrix_table_end":
				done = true
			case "!Series_geo_accession":
				if len(fields) > 1 {
					meta.Accession = fields[1]
				}
			case "!Series_title":
				if len(fields) > 1 {
					meta.Title = fields[1]
				}
			case "!Sample_title":
				meta.Titles = fields[1:]
			case "!Sample_characteristics_ch1":
				meta.addCharacteristics(fields[1:])
			}
			continue
		}
		if !inTable {
			continue
		}
		fields := SplitFields(line)
		if samples == nil {
			samples = fields[1:]
			continue
		}
		row, err := parseRow(fields, len(samples))
		if err != nil {
			return nil, nil, fmt.Errorf("series matrix line %d: %w", lineNum, err)
		}
		features = append(features, fields[0])
		data = append(data, row...)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	if len(features) == 0 {
		return nil, nil, fmt.Errorf("series matrix has no expression table")
	}
	m, err := New(features, samples, mat.NewDense(len(features), len(samples), data))
	if err != nil {
		return nil, nil, err
	}
	return m, meta, nil
}

// Each characteristics line holds one "key: value" per sample; the
// key is usually the same across the line, but GEO allows it to vary,
// so every value is filed under its own key.
func (meta *SeriesMeta) addCharacteristics(values []string) {
	for j, v := range values {
		key, val := "characteristic", v
		if i := strings.Index(v, ":"); i >= 0 {
			key, val = strings.TrimSpace(v[:i]), strings.TrimSpace(v[i+1:])
		}
		col, ok := meta.Characteristics[key]
		if !ok {
			col = make([]string, len(values))
			meta.Keys = append(meta.Keys, key)
		}
		for len(col) < len(values) {
			col = append(col, "")
		}
		col[j] = val
		meta.Characteristics[key] = col
	}
}
