// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package bioassoc

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

type span struct {
	start int64
	end   int64
}

type spanTreeNode struct {
	span   span
	maxend int64
}

// spanTree is a balanced binary tree stored in a slice (children of
// node i are 2i+1 and 2i+2), ordered by start, with each node
// holding the maximum end of its subtree.
type spanTree []spanTreeNode

// regionSet is a set of closed chromosome intervals. Call Freeze
// after the last Add and before the first Contains.
type regionSet struct {
	spans  map[string][]span
	trees  map[string]spanTree
	frozen bool
}

func (rs *regionSet) Add(chrom string, start, end int64) {
	chrom = normalizeChrom(chrom)
	if rs.spans == nil {
		rs.spans = map[string][]span{}
	}
	rs.spans[chrom] = append(rs.spans[chrom], span{start, end})
}

func (rs *regionSet) Len() int {
	n := 0
	for _, s := range rs.spans {
		n += len(s)
	}
	return n
}

func (rs *regionSet) Freeze() {
	rs.trees = map[string]spanTree{}
	for chrom, spans := range rs.spans {
		rs.trees[chrom] = buildSpanTree(spans)
	}
	rs.frozen = true
}

// Overlaps reports whether [start,end] overlaps any interval in the
// set.
func (rs *regionSet) Overlaps(chrom string, start, end int64) bool {
	if !rs.frozen {
		panic("bug: (*regionSet)Overlaps() called before Freeze()")
	}
	return rs.trees[normalizeChrom(chrom)].overlaps(0, span{start, end})
}

func (rs *regionSet) Contains(chrom string, pos int64) bool {
	return rs.Overlaps(chrom, pos, pos)
}

func buildSpanTree(in []span) spanTree {
	if len(in) == 0 {
		return nil
	}
	sort.Slice(in, func(i, j int) bool {
		return in[i].start < in[j].start
	})
	size := 1
	for size <= len(in) {
		size *= 2
	}
	tree := make(spanTree, size)
	for i := range tree {
		tree[i] = spanTreeNode{span: span{math.MaxInt64, -1}, maxend: -1}
	}
	tree.fill(0, in)
	return tree
}

func (tree spanTree) fill(root int, in []span) int64 {
	mid := len(in) / 2
	node := spanTreeNode{span: in[mid], maxend: in[mid].end}
	if mid > 0 {
		if end := tree.fill(root*2+1, in[:mid]); end > node.maxend {
			node.maxend = end
		}
	}
	if mid+1 < len(in) {
		if end := tree.fill(root*2+2, in[mid+1:]); end > node.maxend {
			node.maxend = end
		}
	}
	tree[root] = node
	return node.maxend
}

func (tree spanTree) overlaps(root int, q span) bool {
	return root < len(tree) &&
		tree[root].maxend >= q.start &&
		((tree[root].span.start <= q.end && tree[root].span.end >= q.start) ||
			tree.overlaps(root*2+1, q) ||
			tree.overlaps(root*2+2, q))
}

// normalizeChrom strips a leading "chr" so "chr6" and "6" (Ensembl
// naming) match.
func normalizeChrom(chrom string) string {
	return strings.TrimPrefix(chrom, "chr")
}

// parseRegion parses "chr:start-end" (1-based, inclusive) or "chr"
// (the whole chromosome).
func parseRegion(s string) (chrom string, start, end int64, err error) {
	colon := strings.LastIndex(s, ":")
	if colon < 0 {
		if s == "" {
			return "", 0, 0, fmt.Errorf("empty region")
		}
		return normalizeChrom(s), 0, 1<<62 - 1, nil
	}
	chrom = normalizeChrom(s[:colon])
	rng := strings.ReplaceAll(s[colon+1:], ",", "")
	dash := strings.Index(rng, "-")
	if chrom == "" || dash < 0 {
		return "", 0, 0, fmt.Errorf("invalid region %q: expected chr:start-end", s)
	}
	start, err = strconv.ParseInt(rng[:dash], 10, 64)
	if err == nil {
		end, err = strconv.ParseInt(rng[dash+1:], 10, 64)
	}
	if err != nil {
		return "", 0, 0, fmt.Errorf("invalid region %q: %w", s, err)
	}
	if end < start {
		return "", 0, 0, fmt.Errorf("invalid region %q: end < start", s)
	}
	return chrom, start, end, nil
}

// addRegions adds each of the given "chr:start-end" regions.
func (rs *regionSet) addRegions(regions []string) error {
	for _, r := range regions {
		chrom, start, end, err := parseRegion(r)
		if err != nil {
			return err
		}
		rs.Add(chrom, start, end)
	}
	return nil
}

// readBED adds the intervals of a BED file (0-based half-open,
// converted to 1-based closed). Header and comment lines are skipped.
func (rs *regionSet) readBED(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for line := 1; scanner.Scan(); line++ {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || fields[0] == "track" || fields[0] == "browser" || strings.HasPrefix(fields[0], "#") {
			continue
		}
		if len(fields) < 3 {
			return fmt.Errorf("line %d: expected at least 3 fields", line)
		}
		start, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		end, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		rs.Add(normalizeChrom(fields[0]), start+1, end)
	}
	return scanner.Err()
}
