// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package enrich tests gene sets (terms) for over-representation
// among selected genes.
package enrich

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/combin"
)

var (
	ErrNotSubset = errors.New("selected genes are not a subset of the universe")
	ErrCycle     = errors.New("term hierarchy has a cycle")
)

// Term is a named gene set. Parents lists the IDs of the term's
// immediate parents (more general terms) in the hierarchy.
type Term struct {
	ID      string
	Name    string
	Genes   []string
	Parents []string
}

type Options struct {
	// Remove genes of significant descendant terms from each term
	// (and from its universe) before testing it.
	Conditional bool
	// Significance cutoff used by the conditional test (default
	// 0.01).
	Cutoff float64
	// Only test terms with at least MinSize and (if MaxSize > 0)
	// at most MaxSize genes in the universe.
	MinSize int
	MaxSize int
}

type Result struct {
	ID        string
	Name      string
	Size      int
	Count     int
	Expected  float64
	OddsRatio float64
	PValue    float64
}

type geneSet map[string]bool

func toSet(genes []string) geneSet {
	s := make(geneSet, len(genes))
	for _, g := range genes {
		s[g] = true
	}
	return s
}

// Hypergeometric returns one Result per tested term, in term order.
// Terms are restricted to the universe before size filtering. A
// term with no selected genes gets p-value 1.
func Hypergeometric(selected, universe []string, terms []Term, opts Options) ([]Result, error) {
	if opts.Cutoff <= 0 {
		opts.Cutoff = 0.01
	}
	univ := toSet(universe)
	sel := toSet(selected)
	for _, g := range selected {
		if !univ[g] {
			return nil, fmt.Errorf("%w: %q", ErrNotSubset, g)
		}
	}
	members := make(map[string]geneSet, len(terms))
	var tested []int
	for i, t := range terms {
		s := geneSet{}
		for _, g := range t.Genes {
			if univ[g] {
				s[g] = true
			}
		}
		members[t.ID] = s
		if len(s) >= opts.MinSize && (opts.MaxSize <= 0 || len(s) <= opts.MaxSize) && len(s) > 0 {
			tested = append(tested, i)
		}
	}
	if !opts.Conditional {
		results := make([]Result, 0, len(tested))
		for _, i := range tested {
			results = append(results, test(terms[i], members[terms[i].ID], sel, univ, nil))
		}
		return results, nil
	}

	order, err := leavesFirst(terms)
	if err != nil {
		return nil, err
	}
	isTested := make(map[int]bool, len(tested))
	for _, i := range tested {
		isTested[i] = true
	}
	ancestors := ancestorMap(terms)
	removed := make(map[string]geneSet, len(terms))
	byIndex := make(map[int]Result, len(tested))
	for _, i := range order {
		t := terms[i]
		if !isTested[i] {
			continue
		}
		r := test(t, members[t.ID], sel, univ, removed[t.ID])
		byIndex[i] = r
		if r.PValue >= opts.Cutoff {
			continue
		}
		for _, a := range ancestors[t.ID] {
			if removed[a] == nil {
				removed[a] = geneSet{}
			}
			for g := range members[t.ID] {
				if !removed[t.ID][g] {
					removed[a][g] = true
				}
			}
		}
	}
	results := make([]Result, 0, len(tested))
	for _, i := range tested {
		results = append(results, byIndex[i])
	}
	return results, nil
}

func test(t Term, members, sel, univ, removed geneSet) Result {
	N, n := len(univ), len(sel)
	K, k := 0, 0
	for g := range members {
		if removed[g] {
			continue
		}
		K++
		if sel[g] {
			k++
		}
	}
	for g := range removed {
		N--
		if sel[g] {
			n--
		}
	}
	r := Result{ID: t.ID, Name: t.Name, Size: K, Count: k}
	if N > 0 {
		r.Expected = float64(n) * float64(K) / float64(N)
	}
	r.OddsRatio = oddsRatio(k, K, n, N)
	r.PValue = HyperUpperTail(k, K, n, N)
	return r
}

func oddsRatio(k, K, n, N int) float64 {
	num := float64(k) * float64(N-K-n+k)
	den := float64(K-k) * float64(n-k)
	if den == 0 {
		if num == 0 {
			return math.NaN()
		}
		return math.Inf(1)
	}
	return num / den
}

// HyperUpperTail returns P(X >= k) where X is the number of marked
// items in a sample of n drawn without replacement from N items of
// which K are marked.
func HyperUpperTail(k, K, n, N int) float64 {
	if k <= 0 {
		return 1
	}
	hi := K
	if n < hi {
		hi = n
	}
	if k > hi {
		return 0
	}
	lo := n - (N - K)
	if k < lo {
		k = lo
	}
	logDenom := combin.LogGeneralizedBinomial(float64(N), float64(n))
	sum := 0.0
	for i := k; i <= hi; i++ {
		sum += math.Exp(combin.LogGeneralizedBinomial(float64(K), float64(i)) +
			combin.LogGeneralizedBinomial(float64(N-K), float64(n-i)) - logDenom)
	}
	return math.Min(1, sum)
}

// leavesFirst returns term indices ordered so that every term comes
// after all of its children.
func leavesFirst(terms []Term) ([]int, error) {
	index := make(map[string]int, len(terms))
	for i, t := range terms {
		index[t.ID] = i
	}
	pendingChildren := make([]int, len(terms))
	for _, t := range terms {
		for _, p := range t.Parents {
			if pi, ok := index[p]; ok {
				pendingChildren[pi]++
			}
		}
	}
	var queue, order []int
	for i, n := range pendingChildren {
		if n == 0 {
			queue = append(queue, i)
		}
	}
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		order = append(order, i)
		for _, p := range terms[i].Parents {
			pi, ok := index[p]
			if !ok {
				continue
			}
			pendingChildren[pi]--
			if pendingChildren[pi] == 0 {
				queue = append(queue, pi)
			}
		}
	}
	if len(order) < len(terms) {
		var stuck []string
		for i, n := range pendingChildren {
			if n > 0 {
				stuck = append(stuck, terms[i].ID)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("%w among terms %q", ErrCycle, stuck)
	}
	return order, nil
}

// ancestorMap returns all (transitive) ancestors of each term.
func ancestorMap(terms []Term) map[string][]string {
	parents := make(map[string][]string, len(terms))
	for _, t := range terms {
		parents[t.ID] = t.Parents
	}
	out := make(map[string][]string, len(terms))
	for _, t := range terms {
		seen := map[string]bool{}
		stack := append([]string(nil), t.Parents...)
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if seen[p] {
				continue
			}
			seen[p] = true
			out[t.ID] = append(out[t.ID], p)
			stack = append(stack, parents[p]...)
		}
	}
	return out
}

// SortByPValue sorts results by ascending p-value, keeping term
// order for ties.
func SortByPValue(results []Result) {
	sort.SliceStable(results, func(i, j int) bool { return results[i].PValue < results[j].PValue })
}
