// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package haplo estimates haplotype frequencies from unphased
// genotypes by expectation-maximization, and tests haplotypes for
// association with a binary outcome.
package haplo

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/arvados/bioassoc/genotype"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
)

var ErrTooManyDiplotypes = errors.New("too many compatible diplotypes")

// MaxLoci is the largest block EM accepts.
const MaxLoci = 30

// Haplotype is a bitmask: bit l is set if the haplotype carries the
// minor allele at locus l.
type Haplotype uint32

// Diplotype is an unordered pair of haplotypes (H1 <= H2) with its
// posterior probability given the subject's genotypes.
type Diplotype struct {
	H1, H2 Haplotype
	Post   float64
}

// Count returns the number of copies of h in the diplotype.
func (d Diplotype) Count(h Haplotype) float64 {
	n := 0.0
	if d.H1 == h {
		n++
	}
	if d.H2 == h {
		n++
	}
	return n
}

type EMOptions struct {
	MaxIter int
	// Convergence tolerance on the log-likelihood.
	Tol float64
	// Number of starting points; the first is uniform, the rest
	// random. The fit with the highest log-likelihood is kept.
	Starts int
	Seed   uint64
	// Diplotypes with smaller posterior probability are dropped
	// after fitting.
	MinPosterior float64
	// Per-subject limit on compatible diplotypes.
	MaxDiplotypes int
}

func (opts EMOptions) withDefaults() EMOptions {
	if opts.MaxIter <= 0 {
		opts.MaxIter = 500
	}
	if opts.Tol <= 0 {
		opts.Tol = 1e-7
	}
	if opts.Starts <= 0 {
		opts.Starts = 3
	}
	if opts.MinPosterior <= 0 {
		opts.MinPosterior = 1e-7
	}
	if opts.MaxDiplotypes <= 0 {
		opts.MaxDiplotypes = 1 << 16
	}
	return opts
}

// EMResult holds estimated haplotype frequencies and per-subject
// diplotype posteriors. Subjects with no called loci have no
// diplotypes.
type EMResult struct {
	Loci    []string
	Alleles [][2]string
	// Haplotypes with nonzero frequency, most frequent first.
	Haplotypes []Haplotype
	Freqs      []float64
	Subjects   [][]Diplotype
	LogLike    float64
	Iterations int
	Converged  bool
	freq       map[Haplotype]float64
}

// Freq returns the estimated frequency of h.
func (em *EMResult) Freq(h Haplotype) float64 { return em.freq[h] }

// String returns h as a string of alleles, one per locus.
func (em *EMResult) String(h Haplotype) string {
	var b strings.Builder
	for l := range em.Loci {
		if h&(1<<l) != 0 {
			b.WriteString(em.Alleles[l][1])
		} else {
			b.WriteString(em.Alleles[l][0])
		}
	}
	return b.String()
}

// Called returns the number of subjects with at least one called
// locus.
func (em *EMResult) Called() int {
	n := 0
	for _, d := range em.Subjects {
		if len(d) > 0 {
			n++
		}
	}
	return n
}

// ExpectedCount returns each subject's posterior expected number of
// copies of h (NaN for subjects with no called loci).
func (em *EMResult) ExpectedCount(h Haplotype) []float64 {
	out := make([]float64, len(em.Subjects))
	for i, ds := range em.Subjects {
		if len(ds) == 0 {
			out[i] = math.NaN()
			continue
		}
		for _, d := range ds {
			out[i] += d.Post * d.Count(h)
		}
	}
	return out
}

// diplotypes enumerates the unordered haplotype pairs compatible with
// one subject's allele counts.
func diplotypes(counts []int8, limit int) ([]Diplotype, error) {
	var fixed Haplotype
	var het, missing []int
	for l, n := range counts {
		switch n {
		case 2:
			fixed |= 1 << l
		case 1:
			het = append(het, l)
		case genotype.Missing:
			missing = append(missing, l)
		}
	}
	if len(missing) == len(counts) {
		return nil, nil
	}
	total := math.Pow(3, float64(len(missing))) * math.Pow(2, float64(len(het)+len(missing)))
	if total > float64(4*limit) {
		return nil, fmt.Errorf("%w: %d heterozygous and %d missing loci", ErrTooManyDiplotypes, len(het), len(missing))
	}
	seen := map[[2]Haplotype]bool{}
	var out []Diplotype
	nmiss := len(missing)
	assign := make([]int, nmiss)
	for {
		base := fixed
		hets := append([]int(nil), het...)
		for k, l := range missing {
			switch assign[k] {
			case 1:
				hets = append(hets, l)
			case 2:
				base |= 1 << l
			}
		}
		// phase: the first het locus goes on h1, so each unordered
		// pair is generated once
		nphase := 1
		if len(hets) > 1 {
			nphase = 1 << (len(hets) - 1)
		}
		for ph := 0; ph < nphase; ph++ {
			h1, h2 := base, base
			for k, l := range hets {
				onH1 := k == 0 || ph&(1<<(k-1)) != 0
				if onH1 {
					h1 |= 1 << l
				} else {
					h2 |= 1 << l
				}
			}
			if h1 > h2 {
				h1, h2 = h2, h1
			}
			key := [2]Haplotype{h1, h2}
			if !seen[key] {
				seen[key] = true
				out = append(out, Diplotype{H1: h1, H2: h2})
				if len(out) > limit {
					return nil, fmt.Errorf("%w: more than %d", ErrTooManyDiplotypes, limit)
				}
			}
		}
		// next assignment of missing loci
		k := 0
		for ; k < nmiss; k++ {
			assign[k]++
			if assign[k] < 3 {
				break
			}
			assign[k] = 0
		}
		if k == nmiss {
			break
		}
	}
	return out, nil
}

// EM estimates haplotype frequencies for the given block of SNPs
// (all with the same samples).
func EM(snps []*genotype.SNP, opts EMOptions) (*EMResult, error) {
	opts = opts.withDefaults()
	if len(snps) == 0 {
		return nil, fmt.Errorf("no loci")
	}
	if len(snps) > MaxLoci {
		return nil, fmt.Errorf("%d loci exceeds limit %d", len(snps), MaxLoci)
	}
	nsub := len(snps[0].Counts)
	res := &EMResult{Subjects: make([][]Diplotype, nsub)}
	for _, snp := range snps {
		if len(snp.Counts) != nsub {
			return nil, fmt.Errorf("%s has %d samples, %s has %d", snp.ID, len(snp.Counts), snps[0].ID, nsub)
		}
		res.Loci = append(res.Loci, snp.ID)
		res.Alleles = append(res.Alleles, snp.Alleles)
	}
	counts := make([]int8, len(snps))
	universe := map[Haplotype]bool{}
	for i := 0; i < nsub; i++ {
		for l, snp := range snps {
			counts[l] = snp.Counts[i]
		}
		ds, err := diplotypes(counts, opts.MaxDiplotypes)
		if err != nil {
			return nil, fmt.Errorf("subject %d: %w", i, err)
		}
		res.Subjects[i] = ds
		for _, d := range ds {
			universe[d.H1] = true
			universe[d.H2] = true
		}
	}
	if len(universe) == 0 {
		return nil, fmt.Errorf("no subjects with called genotypes")
	}
	haps := make([]Haplotype, 0, len(universe))
	for h := range universe {
		haps = append(haps, h)
	}
	sort.Slice(haps, func(i, j int) bool { return haps[i] < haps[j] })

	rnd := rand.New(rand.NewSource(opts.Seed))
	var best *emState
	for start := 0; start < opts.Starts; start++ {
		init := make(map[Haplotype]float64, len(haps))
		sum := 0.0
		for _, h := range haps {
			v := 1.0
			if start > 0 {
				v = rnd.ExpFloat64()
			}
			init[h] = v
			sum += v
		}
		for h := range init {
			init[h] /= sum
		}
		st := runEM(res.Subjects, init, opts)
		log.Debugf("haplo EM start %d: loglike %f after %d iterations", start, st.loglike, st.iter)
		if best == nil || st.loglike > best.loglike+1e-9 {
			best = st
		}
	}

	res.freq = best.freq
	res.LogLike = best.loglike
	res.Iterations = best.iter
	res.Converged = best.converged
	for i, ds := range res.Subjects {
		res.Subjects[i] = posteriors(ds, best.freq, opts.MinPosterior)
	}
	for _, h := range haps {
		if f := best.freq[h]; f > 0 {
			res.Haplotypes = append(res.Haplotypes, h)
		}
	}
	sort.SliceStable(res.Haplotypes, func(i, j int) bool { return best.freq[res.Haplotypes[i]] > best.freq[res.Haplotypes[j]] })
	for _, h := range res.Haplotypes {
		res.Freqs = append(res.Freqs, best.freq[h])
	}
	return res, nil
}

type emState struct {
	freq      map[Haplotype]float64
	loglike   float64
	iter      int
	converged bool
}

func runEM(subjects [][]Diplotype, freq map[Haplotype]float64, opts EMOptions) *emState {
	st := &emState{freq: freq, loglike: math.Inf(-1)}
	nsub := 0
	for _, ds := range subjects {
		if len(ds) > 0 {
			nsub++
		}
	}
	for st.iter = 1; st.iter <= opts.MaxIter; st.iter++ {
		next := make(map[Haplotype]float64, len(freq))
		ll := 0.0
		for _, ds := range subjects {
			if len(ds) == 0 {
				continue
			}
			total := 0.0
			w := make([]float64, len(ds))
			for k, d := range ds {
				w[k] = pairProb(d, st.freq)
				total += w[k]
			}
			if total <= 0 {
				continue
			}
			ll += math.Log(total)
			for k, d := range ds {
				p := w[k] / total
				next[d.H1] += p
				next[d.H2] += p
			}
		}
		for h := range next {
			next[h] /= float64(2 * nsub)
		}
		delta := ll - st.loglike
		st.freq = next
		st.loglike = ll
		if math.Abs(delta) < opts.Tol {
			st.converged = true
			break
		}
	}
	if st.iter > opts.MaxIter {
		st.iter = opts.MaxIter
	}
	return st
}

func pairProb(d Diplotype, freq map[Haplotype]float64) float64 {
	p := freq[d.H1] * freq[d.H2]
	if d.H1 != d.H2 {
		p *= 2
	}
	return p
}

func posteriors(ds []Diplotype, freq map[Haplotype]float64, min float64) []Diplotype {
	total := 0.0
	for _, d := range ds {
		total += pairProb(d, freq)
	}
	var out []Diplotype
	kept := 0.0
	for _, d := range ds {
		if total <= 0 {
			break
		}
		d.Post = pairProb(d, freq) / total
		if d.Post >= min {
			out = append(out, d)
			kept += d.Post
		}
	}
	for k := range out {
		out[k].Post /= kept
	}
	return out
}
