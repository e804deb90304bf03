// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package design builds typed design matrices and contrasts from a
// per-sample covariate table.
package design

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

type Kind int

const (
	Factor Kind = iota
	Numeric
)

func (k Kind) String() string {
	if k == Numeric {
		return "numeric"
	}
	return "factor"
}

// Column is one covariate. Factor columns keep their raw string
// values; numeric columns keep parsed values (NaN = missing).
type Column struct {
	Name    string
	Kind    Kind
	strings []string
	numbers []float64
}

// Values returns a copy of the column's raw values.
func (col *Column) Values() []string {
	return append([]string(nil), col.strings...)
}

// Floats returns a copy of a numeric column's values.
func (col *Column) Floats() ([]float64, error) {
	if col.Kind != Numeric {
		return nil, fmt.Errorf("covariate %q is a factor, not numeric", col.Name)
	}
	return append([]float64(nil), col.numbers...), nil
}

// Levels returns the distinct non-missing values of the column, in
// sorted order (numeric order if all values parse as numbers).
func (col *Column) Levels() []string {
	seen := map[string]bool{}
	var levels []string
	for _, v := range col.strings {
		if isMissing(v) || seen[v] {
			continue
		}
		seen[v] = true
		levels = append(levels, v)
	}
	sort.Slice(levels, func(i, j int) bool {
		a, erra := strconv.ParseFloat(levels[i], 64)
		b, errb := strconv.ParseFloat(levels[j], 64)
		if erra == nil && errb == nil {
			return a < b
		}
		return levels[i] < levels[j]
	})
	return levels
}

func isMissing(s string) bool {
	switch strings.ToLower(s) {
	case "", "na", "nan", "null", ".":
		return true
	}
	return false
}

// Table is a per-sample covariate table. It is populated at load
// time and read-only afterwards: accessors return copies.
type Table struct {
	samples []string
	index   map[string]int
	columns []*Column
	byName  map[string]*Column
}

// NewTable builds a Table from one []string of values per column.
// A column whose non-missing values all parse as numbers is numeric;
// any other column is a factor.
func NewTable(samples []string, names []string, values [][]string) (*Table, error) {
	if len(names) != len(values) {
		return nil, fmt.Errorf("%d column names, %d value columns", len(names), len(values))
	}
	t := &Table{
		samples: append([]string(nil), samples...),
		index:   make(map[string]int, len(samples)),
		byName:  make(map[string]*Column, len(names)),
	}
	for i, s := range samples {
		if _, dup := t.index[s]; dup {
			return nil, fmt.Errorf("duplicate sample id %q in covariate table", s)
		}
		t.index[s] = i
	}
	for c, name := range names {
		if len(values[c]) != len(samples) {
			return nil, fmt.Errorf("covariate %q has %d values for %d samples", name, len(values[c]), len(samples))
		}
		if _, dup := t.byName[name]; dup {
			return nil, fmt.Errorf("duplicate covariate %q", name)
		}
		col := &Column{Name: name, Kind: Numeric, strings: append([]string(nil), values[c]...)}
		col.numbers = make([]float64, len(samples))
		for i, v := range values[c] {
			if isMissing(v) {
				col.numbers[i] = math.NaN()
				continue
			}
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				col.Kind = Factor
				col.numbers = nil
				break
			}
			col.numbers[i] = f
		}
		t.columns = append(t.columns, col)
		t.byName[name] = col
	}
	return t, nil
}

// ReadTable reads a tab/whitespace-delimited covariate file with a
// header row. idColumn names the sample id column ("" means the first
// column).
func ReadTable(r io.Reader, idColumn string) (*Table, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1<<20), 1<<26)
	var header []string
	idCol := -1
	var samples []string
	var values [][]string
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := splitFields(line)
		if header == nil {
			header = fields
			if idColumn == "" {
				idCol = 0
			}
			for i, h := range header {
				if h == idColumn {
					idCol = i
				}
			}
			if idCol < 0 {
				return nil, fmt.Errorf("no column named %q in header row %q", idColumn, line)
			}
			values = make([][]string, len(header))
			continue
		}
		if len(fields) != len(header) {
			return nil, fmt.Errorf("line %d: %d fields, header has %d", lineNum, len(fields), len(header))
		}
		samples = append(samples, fields[idCol])
		for i, f := range fields {
			values[i] = append(values[i], f)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if header == nil {
		return nil, fmt.Errorf("covariate table is empty")
	}
	var names []string
	var cols [][]string
	for i, h := range header {
		if i == idCol {
			continue
		}
		names = append(names, h)
		cols = append(cols, values[i])
	}
	return NewTable(samples, names, cols)
}

func splitFields(line string) []string {
	var fields []string
	if strings.Contains(line, "\t") {
		fields = strings.Split(line, "\t")
	} else {
		fields = strings.Fields(line)
	}
	for i, f := range fields {
		f = strings.TrimSpace(f)
		if len(f) >= 2 && f[0] == '"' && f[len(f)-1] == '"' {
			f = f[1 : len(f)-1]
		}
		fields[i] = f
	}
	return fields
}

func (t *Table) Samples() []string { return append([]string(nil), t.samples...) }

func (t *Table) Len() int { return len(t.samples) }

// Names returns the covariate names in table order.
func (t *Table) Names() []string {
	names := make([]string, len(t.columns))
	for i, col := range t.columns {
		names[i] = col.Name
	}
	return names
}

func (t *Table) Column(name string) (*Column, error) {
	col, ok := t.byName[name]
	if !ok {
		return nil, fmt.Errorf("no covariate named %q (have %q)", name, t.Names())
	}
	return col, nil
}

// Align returns a new Table whose rows follow the given sample order.
// Every requested sample must be present.
func (t *Table) Align(samples []string) (*Table, error) {
	rows := make([]int, len(samples))
	for i, s := range samples {
		r, ok := t.index[s]
		if !ok {
			return nil, fmt.Errorf("sample %q not in covariate table", s)
		}
		rows[i] = r
	}
	names := t.Names()
	values := make([][]string, len(t.columns))
	for c, col := range t.columns {
		values[c] = make([]string, len(rows))
		for i, r := range rows {
			values[c][i] = col.strings[r]
		}
	}
	return NewTable(samples, names, values)
}

// Outcome returns a binary outcome vector: 1 where the column equals
// caseValue, 0 where it equals controlValue, NaN otherwise. If
// controlValue is empty, every non-missing value other than
// caseValue is a control.
func (t *Table) Outcome(name, caseValue, controlValue string) ([]float64, error) {
	col, err := t.Column(name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(t.samples))
	ncase := 0
	for i, v := range col.strings {
		switch {
		case isMissing(v):
			out[i] = math.NaN()
		case v == caseValue:
			out[i] = 1
			ncase++
		case controlValue == "" || v == controlValue:
			out[i] = 0
		default:
			out[i] = math.NaN()
		}
	}
	if ncase == 0 {
		return nil, fmt.Errorf("outcome %q has no samples with case value %q", name, caseValue)
	}
	return out, nil
}
